package ordering

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/arwahdevops/dbtester/internal/dataset"
	"github.com/arwahdevops/dbtester/internal/dberrors"
	"github.com/arwahdevops/dbtester/internal/metrics"
	"github.com/arwahdevops/dbtester/internal/schema"
)

type fakeForeignKeys struct {
	fks   []schema.ForeignKey
	err   error
	calls int
}

func (f *fakeForeignKeys) ForeignKeys(_ context.Context, _ []dataset.TableName) ([]schema.ForeignKey, error) {
	f.calls++
	return f.fks, f.err
}

func edge(parent, child string) schema.ForeignKey {
	return schema.ForeignKey{Name: "fk_" + child + "_" + parent, Parent: parent, Child: child}
}

func tables(ss ...string) []dataset.TableName {
	out := make([]dataset.TableName, len(ss))
	for i, s := range ss {
		out[i] = dataset.MustTableName(s)
	}
	return out
}

func indexOf(order []dataset.TableName, name string) int {
	for i, t := range order {
		if t.Value() == name {
			return i
		}
	}
	return -1
}

func TestResolveForeignKey(t *testing.T) {
	testCases := []struct {
		name   string
		input  []string
		fks    []schema.ForeignKey
		expect []string
	}{
		{
			name:   "child declared before parent",
			input:  []string{"CHILD", "PARENT"},
			fks:    []schema.ForeignKey{edge("PARENT", "CHILD")},
			expect: []string{"PARENT", "CHILD"},
		},
		{
			name:   "independent tables keep declaration order",
			input:  []string{"B", "A", "C"},
			expect: []string{"B", "A", "C"},
		},
		{
			name:   "chain and diamond",
			input:  []string{"ITEMS", "ORDERS", "USERS", "PRODUCTS"},
			fks:    []schema.ForeignKey{edge("USERS", "ORDERS"), edge("ORDERS", "ITEMS"), edge("PRODUCTS", "ITEMS")},
			expect: []string{"USERS", "ORDERS", "PRODUCTS", "ITEMS"},
		},
		{
			name:   "self reference is not a dependency",
			input:  []string{"NODE", "TREE"},
			fks:    []schema.ForeignKey{edge("NODE", "NODE"), edge("TREE", "NODE")},
			expect: []string{"TREE", "NODE"},
		},
		{
			name:  "cycle members follow declaration order",
			input: []string{"Z", "B", "A", "ROOT"},
			// A <-> B cycle, both depend on ROOT, Z depends on A
			fks:    []schema.ForeignKey{edge("A", "B"), edge("B", "A"), edge("ROOT", "A"), edge("ROOT", "B"), edge("A", "Z")},
			expect: []string{"ROOT", "B", "A", "Z"},
		},
		{
			name:   "edges match names case-insensitively",
			input:  []string{"orders", "users"},
			fks:    []schema.ForeignKey{edge("USERS", "ORDERS")},
			expect: []string{"users", "orders"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := NewResolver(&fakeForeignKeys{fks: tc.fks}, zaptest.NewLogger(t), nil)
			order, err := r.Resolve(context.Background(), tables(tc.input...), dataset.OrderingForeignKey)
			require.NoError(t, err)
			assert.Equal(t, tc.expect, dataset.TableNames(order))
		})
	}
}

func TestResolveForeignKeyTopologicalValidity(t *testing.T) {
	input := tables("T9", "T3", "T7", "T1", "T5", "T2", "T8", "T4", "T6", "T0")
	fks := []schema.ForeignKey{
		edge("T0", "T1"), edge("T1", "T2"), edge("T2", "T3"), edge("T0", "T4"),
		edge("T4", "T5"), edge("T3", "T6"), edge("T5", "T6"), edge("T6", "T7"),
		edge("T8", "T9"), edge("T7", "T9"),
	}
	r := NewResolver(&fakeForeignKeys{fks: fks}, zaptest.NewLogger(t), nil)

	first, err := r.Resolve(context.Background(), input, dataset.OrderingForeignKey)
	require.NoError(t, err)
	assert.ElementsMatch(t, input, first, "a permutation of the input")
	for _, fk := range fks {
		assert.Less(t, indexOf(first, fk.Parent), indexOf(first, fk.Child), "%s before %s", fk.Parent, fk.Child)
	}

	for i := 0; i < 20; i++ {
		again, err := r.Resolve(context.Background(), input, dataset.OrderingForeignKey)
		require.NoError(t, err)
		require.Equal(t, first, again, "deterministic across calls")
	}
}

func cycleFallbacks(t *testing.T, store *metrics.Store) float64 {
	t.Helper()
	families, err := store.Registry.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "dbtester_ordering_fallbacks_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "reason" && l.GetValue() == "cycle" {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestResolveForeignKeyCycleFallbacks(t *testing.T) {
	testCases := []struct {
		name      string
		input     []string
		fks       []schema.ForeignKey
		fallbacks float64
	}{
		{"self reference", []string{"EMPLOYEES"}, []schema.ForeignKey{edge("EMPLOYEES", "EMPLOYEES")}, 0},
		{"two-table cycle", []string{"A", "B"}, []schema.ForeignKey{edge("A", "B"), edge("B", "A")}, 1},
		{"two separate cycles", []string{"A", "B", "C", "D"},
			[]schema.ForeignKey{edge("A", "B"), edge("B", "A"), edge("C", "D"), edge("D", "C")}, 2},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			store := metrics.NewMetricsStore()
			r := NewResolver(&fakeForeignKeys{fks: tc.fks}, zaptest.NewLogger(t), store)
			_, err := r.Resolve(context.Background(), tables(tc.input...), dataset.OrderingForeignKey)
			require.NoError(t, err)
			assert.Equal(t, tc.fallbacks, cycleFallbacks(t, store))
		})
	}
}

func TestResolveForeignKeyMetadataFailure(t *testing.T) {
	store := metrics.NewMetricsStore()
	r := NewResolver(&fakeForeignKeys{err: errors.New("permission denied")}, zaptest.NewLogger(t), store)

	order, err := r.Resolve(context.Background(), tables("C", "A", "B"), dataset.OrderingForeignKey)
	require.NoError(t, err)
	assert.Equal(t, []string{"C", "A", "B"}, dataset.TableNames(order))

	order, err = r.Resolve(context.Background(), tables("C", "A", "B"), dataset.OrderingAuto)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, dataset.TableNames(order), "AUTO falls back to alphabetical")
}

func TestResolveAlphabetical(t *testing.T) {
	r := NewResolver(nil, zaptest.NewLogger(t), nil)
	order, err := r.Resolve(context.Background(), tables("orders", "Users", "ADDRESSES", "users"), dataset.OrderingAlphabetical)
	require.NoError(t, err)
	assert.Equal(t, []string{"ADDRESSES", "orders", "Users", "users"}, dataset.TableNames(order))
}

func TestResolveLoadOrderFile(t *testing.T) {
	fsys := fstest.MapFS{
		"ds/load-order.txt": {Data: []byte("# comment\nUSERS\nEXTRA\n\nORDERS\nitems\n")},
		"ds/partial.txt":    {Data: []byte("USERS\n")},
	}
	fks := &fakeForeignKeys{}
	base := NewResolver(fks, zaptest.NewLogger(t), nil)

	t.Run("orders by file and ignores unknown names", func(t *testing.T) {
		r := base.WithLoadOrder(fsys, "ds/load-order.txt")
		order, err := r.Resolve(context.Background(), tables("ITEMS", "ORDERS", "USERS"), dataset.OrderingLoadOrderFile)
		require.NoError(t, err)
		assert.Equal(t, []string{"USERS", "ORDERS", "ITEMS"}, dataset.TableNames(order))
	})

	t.Run("missing table", func(t *testing.T) {
		r := base.WithLoadOrder(fsys, "ds/partial.txt")
		_, err := r.Resolve(context.Background(), tables("USERS", "ORDERS"), dataset.OrderingLoadOrderFile)
		require.Error(t, err)
		assert.ErrorIs(t, err, dberrors.ErrDataSetLoad)
		assert.Contains(t, err.Error(), "ORDERS")
	})

	t.Run("missing file", func(t *testing.T) {
		r := base.WithLoadOrder(fsys, "ds/nope.txt")
		_, err := r.Resolve(context.Background(), tables("USERS"), dataset.OrderingLoadOrderFile)
		assert.ErrorIs(t, err, dberrors.ErrDataSetLoad)

		_, err = base.Resolve(context.Background(), tables("USERS"), dataset.OrderingLoadOrderFile)
		assert.ErrorIs(t, err, dberrors.ErrDataSetLoad)
	})

	t.Run("AUTO prefers the file", func(t *testing.T) {
		calls := fks.calls
		r := base.WithLoadOrder(fsys, "ds/load-order.txt")
		order, err := r.Resolve(context.Background(), tables("ORDERS", "USERS"), dataset.OrderingAuto)
		require.NoError(t, err)
		assert.Equal(t, []string{"USERS", "ORDERS"}, dataset.TableNames(order))
		assert.Equal(t, calls, fks.calls, "no metadata lookup")
	})

	t.Run("AUTO without file uses foreign keys", func(t *testing.T) {
		fks.fks = []schema.ForeignKey{edge("USERS", "ORDERS")}
		r := base.WithLoadOrder(fsys, "ds/nope.txt")
		order, err := r.Resolve(context.Background(), tables("ORDERS", "USERS"), dataset.OrderingAuto)
		require.NoError(t, err)
		assert.Equal(t, []string{"USERS", "ORDERS"}, dataset.TableNames(order))
	})
}

func TestResolveUnknownStrategy(t *testing.T) {
	_, err := NewResolver(nil, nil, nil).Resolve(context.Background(), tables("A"), "RANDOM")
	assert.ErrorIs(t, err, dberrors.ErrConfiguration)
}

func TestReverse(t *testing.T) {
	assert.Equal(t, []string{"C", "B", "A"}, dataset.TableNames(Reverse(tables("A", "B", "C"))))
	assert.Empty(t, Reverse(nil))
}
