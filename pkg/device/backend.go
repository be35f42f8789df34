// Package device integrates external hardware backends into the variable
// network: it adapts backend registers to feeding and consuming
// endpoints, watches for runtime exceptions and recovers the backend with
// retries, replaying the last written values.
package device

import (
	"fmt"
	"sync"

	"github.com/dd0wney/cluso-flownet/pkg/accessor"
	"github.com/dd0wney/cluso-flownet/pkg/variant"
)

// RegisterInfo describes one backend register.
type RegisterInfo struct {
	Path      string
	Type      variant.Type
	NElements int
	Mode      accessor.UpdateMode
}

// Backend is the hardware access contract. Implementations must be safe
// for concurrent use; Read and Write may be called from several module
// goroutines at once.
type Backend interface {
	// Name identifies the backend for logging.
	Name() string
	// Open establishes the connection. Called again after a reported
	// exception until it succeeds.
	Open() error
	// Close releases the connection.
	Close() error
	// IsOpen reports whether the backend is currently usable.
	IsOpen() bool
	// Catalogue lists the available registers.
	Catalogue() []RegisterInfo
	// Read fetches the current value of a register.
	Read(register string) (accessor.Transfer, error)
	// Write stores a value into a register.
	Write(register string, t accessor.Transfer) error
	// Subscribe returns a channel delivering updates of a push-mode
	// register, or nil if the register is not push-capable.
	Subscribe(register string) <-chan accessor.Transfer
	// OnPush registers a callback run on the delivering goroutine for
	// every update accepted into a subscription channel. At most one
	// callback; the supervisor uses it for transfer accounting.
	OnPush(fn func(register string))
}

// DemoBackend is an in-memory backend used by the demo binary and the
// test suites. Exceptions can be injected with FailNext.
type DemoBackend struct {
	name string

	mu        sync.Mutex
	open      bool
	registers map[string]RegisterInfo
	values    map[string]accessor.Transfer
	subs      map[string][]chan accessor.Transfer
	onPush    func(register string)
	failNext  error
	openErrs  int
}

// NewDemoBackend creates a closed backend exposing the given registers.
func NewDemoBackend(name string, registers ...RegisterInfo) *DemoBackend {
	b := &DemoBackend{
		name:      name,
		registers: make(map[string]RegisterInfo),
		values:    make(map[string]accessor.Transfer),
		subs:      make(map[string][]chan accessor.Transfer),
	}
	for _, r := range registers {
		b.registers[r.Path] = r
		b.values[r.Path] = accessor.Transfer{
			Value:    variant.Zero(r.Type, r.NElements),
			Validity: accessor.Ok,
		}
	}
	return b
}

func (b *DemoBackend) Name() string { return b.name }

func (b *DemoBackend) Open() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.openErrs > 0 {
		b.openErrs--
		return fmt.Errorf("device %s: open refused", b.name)
	}
	b.open = true
	return nil
}

func (b *DemoBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.open = false
	return nil
}

func (b *DemoBackend) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}

func (b *DemoBackend) Catalogue() []RegisterInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	infos := make([]RegisterInfo, 0, len(b.registers))
	for _, r := range b.registers {
		infos = append(infos, r)
	}
	return infos
}

func (b *DemoBackend) Read(register string) (accessor.Transfer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.takeFailure(); err != nil {
		return accessor.Transfer{}, err
	}
	if !b.open {
		return accessor.Transfer{}, fmt.Errorf("device %s: not open", b.name)
	}
	t, ok := b.values[register]
	if !ok {
		return accessor.Transfer{}, fmt.Errorf("device %s: unknown register %q", b.name, register)
	}
	return t, nil
}

func (b *DemoBackend) Write(register string, t accessor.Transfer) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.takeFailure(); err != nil {
		return err
	}
	if !b.open {
		return fmt.Errorf("device %s: not open", b.name)
	}
	if _, ok := b.registers[register]; !ok {
		return fmt.Errorf("device %s: unknown register %q", b.name, register)
	}
	b.values[register] = t
	for _, sub := range b.subs[register] {
		select {
		case sub <- t:
			if b.onPush != nil {
				b.onPush(register)
			}
		default:
		}
	}
	return nil
}

func (b *DemoBackend) Subscribe(register string) <-chan accessor.Transfer {
	b.mu.Lock()
	defer b.mu.Unlock()
	info, ok := b.registers[register]
	if !ok || info.Mode != accessor.Push {
		return nil
	}
	ch := make(chan accessor.Transfer, 16)
	b.subs[register] = append(b.subs[register], ch)
	return ch
}

func (b *DemoBackend) OnPush(fn func(register string)) {
	b.mu.Lock()
	b.onPush = fn
	b.mu.Unlock()
}

// Inject pushes a value into a register from outside, simulating the
// hardware changing state on its own.
func (b *DemoBackend) Inject(register string, v variant.Value) error {
	return b.Write(register, accessor.Transfer{
		Value:    v,
		Validity: accessor.Ok,
		Version:  accessor.NextVersion(),
	})
}

// FailNext makes the next Read or Write return err once.
func (b *DemoBackend) FailNext(err error) {
	b.mu.Lock()
	b.failNext = err
	b.mu.Unlock()
}

// RefuseOpens makes the next n Open calls fail, exercising the recovery
// backoff.
func (b *DemoBackend) RefuseOpens(n int) {
	b.mu.Lock()
	b.openErrs = n
	b.mu.Unlock()
}

func (b *DemoBackend) takeFailure() error {
	if b.failNext != nil {
		err := b.failNext
		b.failNext = nil
		b.open = false
		return err
	}
	return nil
}
