package app

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/dd0wney/cluso-flownet/pkg/logging"
	"github.com/dd0wney/cluso-flownet/pkg/metrics"
)

// cycleRegistry holds the shared invalidity counter of each circular
// dependency network, keyed by the cycle's stable hash. The counter is
// the number of faulty inputs currently entering the cycle from outside;
// cycle-internal inputs never touch it.
type cycleRegistry struct {
	logger  logging.Logger
	metrics *metrics.Registry

	mu       sync.Mutex
	counters map[uint64]int64
}

func newCycleRegistry(logger logging.Logger, m *metrics.Registry) *cycleRegistry {
	return &cycleRegistry{
		logger:   logger,
		metrics:  m,
		counters: make(map[uint64]int64),
	}
}

// AdjustInvalidity implements propagation.CycleRegistry.
func (cr *cycleRegistry) AdjustInvalidity(hash uint64, delta int64) {
	cr.mu.Lock()
	cr.counters[hash] += delta
	val := cr.counters[hash]
	cr.mu.Unlock()
	if val < 0 {
		cr.logger.Error("cycle invalidity counter went negative",
			logging.String("cycle", cycleKey(hash)), logging.Int64("value", val))
	}
	if cr.metrics != nil {
		cr.metrics.RecordCycleInvalidity(cycleKey(hash), val)
	}
}

// Invalidity returns the current external fault count of a cycle.
func (cr *cycleRegistry) Invalidity(hash uint64) int64 {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	return cr.counters[hash]
}

// register makes a cycle known so its counter starts published at zero.
func (cr *cycleRegistry) register(hash uint64) {
	cr.mu.Lock()
	if _, ok := cr.counters[hash]; !ok {
		cr.counters[hash] = 0
	}
	cr.mu.Unlock()
	if cr.metrics != nil {
		cr.metrics.RecordCycleInvalidity(cycleKey(hash), 0)
	}
}

func cycleKey(hash uint64) string {
	return fmt.Sprintf("%016x", hash)
}

// cycleHash derives the stable identity of a cycle from its sorted member
// module names, independent of discovery order.
func cycleHash(members []string) uint64 {
	sorted := append([]string(nil), members...)
	sort.Strings(sorted)
	h := xxhash.New()
	for _, name := range sorted {
		_, _ = h.WriteString(name)
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}

// findCycles returns the strongly connected components of the module
// dependency graph that actually form cycles: components with more than
// one member, or single members with a self-edge. Tarjan's algorithm;
// component ordering is irrelevant to callers.
func findCycles(edges map[string][]string) [][]string {
	names := make([]string, 0, len(edges))
	seen := make(map[string]bool)
	addName := func(n string) {
		if !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}
	for from, tos := range edges {
		addName(from)
		for _, to := range tos {
			addName(to)
		}
	}
	sort.Strings(names)

	index := make(map[string]int, len(names))
	lowlink := make(map[string]int, len(names))
	onStack := make(map[string]bool, len(names))
	var stack []string
	next := 0
	var cycles [][]string

	var strongconnect func(v string)
	strongconnect = func(v string) {
		index[v] = next
		lowlink[v] = next
		next++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range edges[v] {
			if _, visited := index[w]; !visited {
				strongconnect(w)
				if lowlink[w] < lowlink[v] {
					lowlink[v] = lowlink[w]
				}
			} else if onStack[w] {
				if index[w] < lowlink[v] {
					lowlink[v] = index[w]
				}
			}
		}

		if lowlink[v] == index[v] {
			var comp []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				comp = append(comp, w)
				if w == v {
					break
				}
			}
			if len(comp) > 1 || hasSelfEdge(edges, comp[0]) {
				cycles = append(cycles, comp)
			}
		}
	}

	for _, v := range names {
		if _, visited := index[v]; !visited {
			strongconnect(v)
		}
	}
	return cycles
}

func hasSelfEdge(edges map[string][]string, v string) bool {
	for _, w := range edges[v] {
		if w == v {
			return true
		}
	}
	return false
}
