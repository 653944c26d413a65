package scenario

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type named string

func (n named) Name() string { return string(n) }

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry()

	testCases := []struct {
		name     string
		testName string
		want     string
	}{
		{name: "Top-level test", testName: "TestUsers", want: "TestUsers"},
		{name: "Subtest", testName: "TestUsers/active", want: "active"},
		{name: "Nested subtest", testName: "TestUsers/group/deleted_user", want: "deleted_user"},
		{name: "Empty name", testName: "", want: ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, r.Resolve(named(tc.testName)))
		})
	}
}

func TestRegistryPriority(t *testing.T) {
	r := NewRegistry(TestNameResolver{}, FixedResolver{Scenario: "low", Rank: -1})
	assert.Equal(t, "TestX", r.Resolve(named("TestX/sub")))

	r.Register(FixedResolver{Scenario: "high", Rank: 200})
	assert.Equal(t, "high", r.Resolve(named("TestX/sub")))

	r.Register(FixedResolver{Scenario: "tie", Rank: 200})
	assert.Equal(t, "high", r.Resolve(named("TestX")), "equal priority keeps registration order")

	assert.Equal(t, "", NewRegistry().Resolve(named("TestX")))
	assert.Equal(t, "low", NewRegistry(FixedResolver{Scenario: "low"}).Resolve(named("")))
}

func TestResolveRealTest(t *testing.T) {
	r := DefaultRegistry()
	assert.Equal(t, "TestResolveRealTest", r.Resolve(t))

	t.Run("with_subtest", func(t *testing.T) {
		assert.Equal(t, "with_subtest", r.Resolve(t))
		assert.Equal(t, "TestResolveRealTest", TopLevel(t.Name()))
	})
}

func TestRegistryConcurrentUse(t *testing.T) {
	r := DefaultRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.Register(FixedResolver{Rank: -10})
		}()
		go func() {
			defer wg.Done()
			assert.Equal(t, "b", r.Resolve(named("a/b")))
		}()
	}
	wg.Wait()
}
