// Package app wires the pieces together: it owns the module hierarchy,
// the device supervisors and the control system registry, resolves every
// variable network into its distribution primitive, runs the circular
// dependency analysis and drives the application lifecycle. The test
// facility in this package is the only supported way to drive an
// application deterministically.
package app

import (
	"fmt"
	"sync"
	"time"

	"github.com/dd0wney/cluso-flownet/pkg/accessor"
	"github.com/dd0wney/cluso-flownet/pkg/controlsystem"
	"github.com/dd0wney/cluso-flownet/pkg/device"
	"github.com/dd0wney/cluso-flownet/pkg/fanout"
	"github.com/dd0wney/cluso-flownet/pkg/hierarchy"
	"github.com/dd0wney/cluso-flownet/pkg/logging"
	"github.com/dd0wney/cluso-flownet/pkg/metrics"
	"github.com/dd0wney/cluso-flownet/pkg/module"
	"github.com/dd0wney/cluso-flownet/pkg/network"
	"github.com/dd0wney/cluso-flownet/pkg/propagation"
	"github.com/dd0wney/cluso-flownet/pkg/sched"
	"github.com/dd0wney/cluso-flownet/pkg/variant"
)

type lifecycle int

const (
	stateConstructed lifecycle = iota
	stateInitialised
	stateRunning
	stateStopped
)

// Application owns the full variable network graph and its runtime.
type Application struct {
	name    string
	logger  logging.Logger
	metrics *metrics.Registry

	scheduler   *sched.Scheduler
	driverToken *sched.Token

	tree    *hierarchy.Tree
	modules []*module.ApplicationModule
	devices map[string]*device.Module

	registry *controlsystem.Registry
	networks []*network.VariableNetwork

	// Initial values for constant feeders, keyed by endpoint name.
	defaults map[string]variant.Value

	// Runtime artifacts created during finalisation.
	constants    map[*network.Node]*accessor.Constant
	constantList []*accessor.Constant
	queues       []*accessor.Queue
	sources      []*device.PushSource
	threaded     []*fanout.ThreadedFanOut
	triggerFans  []*fanout.TriggerFanOut
	consuming    []*fanout.ConsumingFanOut

	cycles   *cycleRegistry
	det      *detector
	inCycle  map[string]uint64
	startAt  time.Time
	state    lifecycle
	moduleWG sync.WaitGroup

	samplerDone chan struct{}
	samplerWG   sync.WaitGroup
}

// Option configures an Application.
type Option func(*Application)

// WithLogger replaces the default JSON logger.
func WithLogger(l logging.Logger) Option {
	return func(a *Application) { a.logger = l }
}

// WithTestableMode enables the deterministic lock-step scheduler.
func WithTestableMode() Option {
	return func(a *Application) { a.scheduler = sched.New(true) }
}

// WithMetrics attaches a metrics registry.
func WithMetrics(m *metrics.Registry) Option {
	return func(a *Application) { a.metrics = m }
}

// WithDefaults supplies initial values for inputs left unconnected, keyed
// by endpoint name.
func WithDefaults(values map[string]variant.Value) Option {
	return func(a *Application) {
		for k, v := range values {
			a.defaults[k] = v
		}
	}
}

// New creates an application in the constructed state.
func New(name string, opts ...Option) *Application {
	a := &Application{
		name:      name,
		logger:    logging.DefaultLogger(),
		scheduler: sched.New(false),
		tree:      hierarchy.NewTree(),
		devices:   make(map[string]*device.Module),
		registry:  controlsystem.NewRegistry(),
		defaults:  make(map[string]variant.Value),
		constants: make(map[*network.Node]*accessor.Constant),
		inCycle:   make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With(logging.String("app", name))
	a.driverToken = a.scheduler.Register("test-driver")
	a.cycles = newCycleRegistry(a.logger, a.metrics)
	a.det = newDetector(a.logger, a.metrics)
	return a
}

// Name returns the application name.
func (a *Application) Name() string { return a.name }

// Hierarchy returns the module ownership tree.
func (a *Application) Hierarchy() *hierarchy.Tree { return a.tree }

// ControlSystem returns the process variable registry.
func (a *Application) ControlSystem() *controlsystem.Registry { return a.registry }

// Scheduler exposes the testable-mode scheduler.
func (a *Application) Scheduler() *sched.Scheduler { return a.scheduler }

// AddModule attaches a module under the given hierarchy group.
func (a *Application) AddModule(parent int, m *module.ApplicationModule) error {
	if a.state != stateConstructed {
		return logicErr("AddModule", "application already initialised")
	}
	if _, err := a.tree.AddModule(parent, m); err != nil {
		return logicErr("AddModule", "%v", err)
	}
	a.modules = append(a.modules, m)
	return nil
}

// AddGroup creates a hierarchy group and returns its index.
func (a *Application) AddGroup(parent int, name string) (int, error) {
	if a.state != stateConstructed {
		return -1, logicErr("AddGroup", "application already initialised")
	}
	idx, err := a.tree.AddGroup(parent, name)
	if err != nil {
		return -1, logicErr("AddGroup", "%v", err)
	}
	return idx, nil
}

// AddDevice places a backend under supervision and returns its module.
func (a *Application) AddDevice(alias string, backend device.Backend) (*device.Module, error) {
	if a.state != stateConstructed {
		return nil, logicErr("AddDevice", "application already initialised")
	}
	if _, dup := a.devices[alias]; dup {
		return nil, logicErr("AddDevice", "device alias %q already in use", alias)
	}
	dev := device.NewModule(alias, backend, a.logger)
	if a.metrics != nil {
		dev.OnException(func() { a.metrics.RecordDeviceException(alias) })
		dev.OnRecover(func() { a.metrics.RecordDeviceRecovery(alias) })
	}
	a.devices[alias] = dev
	return dev, nil
}

// DeviceNode declares an endpoint backed by a device register. direction
// is taken from the application's point of view: a feeding device node
// supplies values to the application.
func (a *Application) DeviceNode(alias, register string, direction accessor.Direction,
	mode accessor.UpdateMode, typ variant.Type, nElements int, unit string) (*network.Node, error) {
	if _, ok := a.devices[alias]; !ok {
		return nil, logicErr("DeviceNode", "unknown device alias %q", alias)
	}
	n := network.NewNode(alias+"/"+register, network.CategoryDevice, direction, mode, typ, nElements, unit)
	n.DeviceAlias = alias
	n.RegisterPath = register
	return n, nil
}

// ControlSystemNode declares an endpoint published to the control system.
// A feeding node lets the control system write into the application; a
// consuming node publishes application values outward.
func (a *Application) ControlSystemNode(name string, direction accessor.Direction,
	typ variant.Type, nElements int, unit string) *network.Node {
	return network.NewNode(name, network.CategoryControlSystem, direction, accessor.Push, typ, nElements, unit)
}

// Connect joins two endpoints into one variable network, creating or
// extending networks as needed.
func (a *Application) Connect(x, y *network.Node) error {
	if a.state != stateConstructed {
		return logicErr("Connect", "application already initialised")
	}
	var vn *network.VariableNetwork
	switch {
	case x.HasOwner() && y.HasOwner():
		if x.Owner() != y.Owner() {
			return logicErr("Connect", "%s and %s already belong to different networks", x.Name(), y.Name())
		}
		return nil
	case x.HasOwner():
		vn = x.Owner()
	case y.HasOwner():
		vn = y.Owner()
	default:
		vn = network.New()
		a.networks = append(a.networks, vn)
	}
	if err := vn.AddNode(x); err != nil {
		return err
	}
	if err := vn.AddNode(y); err != nil {
		return err
	}
	return nil
}

// TriggerBy attaches an external trigger to the network fed by the given
// poll-mode feeding node. trigger must be a push feeding node; its network
// is created on demand.
func (a *Application) TriggerBy(fed, trigger *network.Node) error {
	if a.state != stateConstructed {
		return logicErr("TriggerBy", "application already initialised")
	}
	if !fed.HasOwner() {
		return logicErr("TriggerBy", "endpoint %s is not connected to any network", fed.Name())
	}
	tn := trigger.Owner()
	if tn == nil {
		tn = network.New()
		a.networks = append(a.networks, tn)
		if err := tn.AddNode(trigger); err != nil {
			return err
		}
	}
	return fed.Owner().AddTrigger(tn)
}

// Networks returns the constructed variable networks.
func (a *Application) Networks() []*network.VariableNetwork { return a.networks }

// Initialise checks every network, runs the circular dependency analysis
// and resolves the graph into live distribution primitives. May be called
// exactly once.
func (a *Application) Initialise() error {
	if a.state != stateConstructed {
		return logicErr("Initialise", "application was already initialised")
	}

	if err := a.tree.Freeze(); err != nil {
		return logicErr("Initialise", "%v", err)
	}

	// Register one scheduling token per module goroutine before any queue
	// is bound to it.
	for _, m := range a.modules {
		m.BindScheduling(a.scheduler, a.scheduler.Register("module:"+m.Name()))
	}
	for _, dev := range a.devices {
		dev.BindScheduling(a.scheduler)
	}

	a.feedUnconnectedInputs()

	for _, vn := range a.networks {
		if err := vn.Check(); err != nil {
			return err
		}
	}

	a.analyseCycles()

	for _, vn := range a.networks {
		if err := a.resolveNetwork(vn); err != nil {
			return err
		}
		vn.Freeze()
	}

	// Outputs left unconnected still need a sender so module code can
	// write unconditionally.
	for _, m := range a.modules {
		for _, out := range m.Outputs() {
			if !out.Node().HasOwner() {
				out.Bind(propagation.NewSender(m, out.Node(), fanout.New()))
			}
		}
	}

	if a.metrics != nil {
		a.metrics.InstallDataLossHook()
		a.metrics.InstallTransferHook()
		a.scheduler.Observer = func(pending, inits int64) {
			a.metrics.PendingTransfers.Set(float64(pending))
			a.metrics.DeviceInitsInFlight.Set(float64(inits))
		}
		a.metrics.ModulesTotal.Set(float64(len(a.modules)))
		a.metrics.NetworksTotal.Set(float64(len(a.networks)))
		a.metrics.ConstantsTotal.Set(float64(len(a.constantList)))
	}

	a.state = stateInitialised
	a.logger.Info("application initialised",
		logging.Count(len(a.networks)),
		logging.Int("modules", len(a.modules)),
		logging.Int("devices", len(a.devices)),
		logging.Int("constants", len(a.constantList)))
	return nil
}

// feedUnconnectedInputs creates a constant feeder network for every module
// input that was never connected, using the configured default or the
// type's zero value.
func (a *Application) feedUnconnectedInputs() {
	for _, m := range a.modules {
		for _, in := range m.Inputs() {
			node := in.Node()
			if node.HasOwner() {
				continue
			}
			value, ok := a.defaults[node.Name()]
			if !ok {
				value = variant.Zero(node.ValueType(), node.NElements())
			}
			feeder := network.NewNode("constant:"+node.Name(), network.CategoryConstant,
				accessor.Feeding, accessor.Push, node.ValueType(), node.NElements(), node.Unit())
			vn := network.New()
			// The nodes are freshly created, AddNode cannot fail here.
			_ = vn.AddNode(feeder)
			_ = vn.AddNode(node)
			a.networks = append(a.networks, vn)
			a.constants[feeder] = accessor.NewConstant(feeder.Name(), value)
		}
	}
}

// analyseCycles finds circular dependency networks between application
// modules, assigns each member its cycle hash and marks cycle-internal
// consumer endpoints.
func (a *Application) analyseCycles() {
	edges := make(map[string][]string)
	for _, vn := range a.networks {
		feeder := vn.Feeder()
		if feeder == nil || feeder.Category() != network.CategoryApplication {
			continue
		}
		for _, c := range vn.Consumers() {
			if c.Category() == network.CategoryApplication {
				edges[feeder.ModuleName] = append(edges[feeder.ModuleName], c.ModuleName)
			}
		}
	}

	cycles := findCycles(edges)
	for _, members := range cycles {
		hash := cycleHash(members)
		a.cycles.register(hash)
		for _, name := range members {
			a.inCycle[name] = hash
		}
		a.logger.Warn("circular dependency network detected",
			logging.String("cycle", cycleKey(hash)),
			logging.Any("modules", members))
	}

	for _, m := range a.modules {
		if hash, ok := a.inCycle[m.Name()]; ok {
			hash := hash
			m.SetCircularNetworkHash(hash)
			m.BindCycleInvalidity(func() int64 { return a.cycles.Invalidity(hash) })
		}
	}

	// An input is cycle-internal when its feeder module belongs to the
	// same cycle as its own module.
	for _, vn := range a.networks {
		feeder := vn.Feeder()
		if feeder == nil || feeder.Category() != network.CategoryApplication {
			continue
		}
		feederCycle, feederIn := a.inCycle[feeder.ModuleName]
		if !feederIn {
			continue
		}
		for _, c := range vn.Consumers() {
			if c.Category() == network.CategoryApplication && a.inCycle[c.ModuleName] == feederCycle {
				c.CycleInternal = true
			}
		}
	}

	a.det.inCycle = func(mod string) bool {
		_, ok := a.inCycle[mod]
		return ok
	}
	if a.metrics != nil {
		a.metrics.CircularNetworksTotal.Set(float64(len(cycles)))
	}
}

// CycleInvalidity returns the external fault count of the cycle the named
// module belongs to, and whether the module is in a cycle at all.
func (a *Application) CycleInvalidity(moduleName string) (int64, bool) {
	hash, ok := a.inCycle[moduleName]
	if !ok {
		return 0, false
	}
	return a.cycles.Invalidity(hash), true
}

// Run starts devices, fan-out goroutines and module main loops. In
// testable mode the caller must hold the scheduling lock through the
// driver token.
func (a *Application) Run() error {
	if a.state != stateInitialised {
		return logicErr("Run", "application must be initialised exactly once before running")
	}
	a.state = stateRunning
	a.startAt = time.Now()

	for _, dev := range a.devices {
		dev.Start()
	}
	for _, tf := range a.threaded {
		tf.Start()
	}
	for _, tf := range a.triggerFans {
		tf.Start()
	}

	version := accessor.NextVersion()
	for _, c := range a.constantList {
		c.Propagate(version)
	}

	for _, m := range a.modules {
		if m.MainLoop == nil {
			continue
		}
		a.moduleWG.Add(1)
		go func(m *module.ApplicationModule) {
			defer a.moduleWG.Done()
			a.scheduler.Lock(m.Token())
			defer a.scheduler.Unlock(m.Token())
			m.MainLoop()
		}(m)
	}

	a.det.start()
	if a.metrics != nil {
		a.samplerDone = make(chan struct{})
		a.samplerWG.Add(1)
		go a.sampleMetrics()
	}
	a.logger.Info("application running")
	return nil
}

// sampleMetrics periodically refreshes the gauges that have no natural
// event to hang off: process stats, per-module fault counters and device
// health.
func (a *Application) sampleMetrics() {
	defer a.samplerWG.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.metrics.UpdateSystemMetrics(a.startAt)
			for _, m := range a.modules {
				a.metrics.RecordModuleValidity(m.Name(), m.FaultCounter())
			}
			for alias, dev := range a.devices {
				if dev.Functional() {
					a.metrics.DeviceFunctional.WithLabelValues(alias).Set(1)
				} else {
					a.metrics.DeviceFunctional.WithLabelValues(alias).Set(0)
				}
			}
		case <-a.samplerDone:
			return
		}
	}
}

// Shutdown closes every endpoint, waits for all goroutines and stops the
// device supervisors. In testable mode use TestFacility.Shutdown instead,
// which releases the driver lock at the right point.
func (a *Application) Shutdown() {
	if a.state != stateRunning {
		return
	}
	a.closeEndpoints()
	a.waitAll()
	a.state = stateStopped
	a.logger.Info("application stopped")
}

func (a *Application) closeEndpoints() {
	for _, src := range a.sources {
		src.Close()
	}
	for _, q := range a.queues {
		q.Close()
	}
	for _, cf := range a.consuming {
		cf.Close()
	}
	a.registry.Close()
}

func (a *Application) waitAll() {
	if a.samplerDone != nil {
		close(a.samplerDone)
		a.samplerWG.Wait()
	}
	a.moduleWG.Wait()
	for _, tf := range a.threaded {
		tf.Wait()
	}
	for _, tf := range a.triggerFans {
		tf.Wait()
	}
	a.det.stop()
	for _, dev := range a.devices {
		dev.Stop()
	}
}

// moduleByName finds the application module owning a node.
func (a *Application) moduleByName(name string) (*module.ApplicationModule, error) {
	for _, m := range a.modules {
		if m.Name() == name {
			return m, nil
		}
	}
	return nil, fmt.Errorf("unknown module %q", name)
}
