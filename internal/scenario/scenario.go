// Package scenario derives the scenario name used to filter dataset rows
// from the running test.
package scenario

import (
	"sort"
	"strings"
	"sync"
)

// TestCase is the part of a running test a resolver may inspect.
// testing.TB satisfies it.
type TestCase interface {
	Name() string
}

// Resolver maps a test case to a scenario name. Higher priorities are
// consulted first.
type Resolver interface {
	CanResolve(tc TestCase) bool
	Resolve(tc TestCase) string
	Priority() int
}

// Registry holds resolvers in priority order. Resolvers registered with the
// same priority keep registration order.
type Registry struct {
	mu        sync.RWMutex
	resolvers []Resolver
}

// NewRegistry returns a registry with the given resolvers.
func NewRegistry(resolvers ...Resolver) *Registry {
	r := &Registry{}
	for _, res := range resolvers {
		r.Register(res)
	}
	return r
}

// DefaultRegistry resolves subtests to their leaf name and everything else to
// the test name.
func DefaultRegistry() *Registry {
	return NewRegistry(SubtestResolver{}, TestNameResolver{})
}

func (r *Registry) Register(res Resolver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolvers = append(r.resolvers, res)
	sort.SliceStable(r.resolvers, func(i, j int) bool {
		return r.resolvers[i].Priority() > r.resolvers[j].Priority()
	})
}

// Resolve returns the scenario from the first resolver that can handle tc,
// or "" when none can.
func (r *Registry) Resolve(tc TestCase) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, res := range r.resolvers {
		if res.CanResolve(tc) {
			return res.Resolve(tc)
		}
	}
	return ""
}

// SubtestResolver names the scenario after the innermost subtest, so
// TestUsers/active resolves to "active".
type SubtestResolver struct{}

func (SubtestResolver) CanResolve(tc TestCase) bool { return strings.Contains(tc.Name(), "/") }

func (SubtestResolver) Resolve(tc TestCase) string {
	name := tc.Name()
	return name[strings.LastIndex(name, "/")+1:]
}

func (SubtestResolver) Priority() int { return 100 }

// TestNameResolver uses the top-level test name.
type TestNameResolver struct{}

func (TestNameResolver) CanResolve(tc TestCase) bool { return tc.Name() != "" }

func (TestNameResolver) Resolve(tc TestCase) string { return TopLevel(tc.Name()) }

func (TestNameResolver) Priority() int { return 0 }

// FixedResolver always yields Scenario.
type FixedResolver struct {
	Scenario string
	Rank     int
}

func (f FixedResolver) CanResolve(TestCase) bool { return f.Scenario != "" }
func (f FixedResolver) Resolve(TestCase) string  { return f.Scenario }
func (f FixedResolver) Priority() int            { return f.Rank }

// TopLevel strips subtest segments from a test name.
func TopLevel(name string) string {
	if i := strings.Index(name, "/"); i >= 0 {
		return name[:i]
	}
	return name
}
