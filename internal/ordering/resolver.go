package ordering

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/arwahdevops/dbtester/internal/dataset"
	"github.com/arwahdevops/dbtester/internal/dberrors"
	"github.com/arwahdevops/dbtester/internal/loader"
	"github.com/arwahdevops/dbtester/internal/metrics"
	"github.com/arwahdevops/dbtester/internal/schema"
)

// ForeignKeyReader supplies parent/child pairs among a set of tables.
type ForeignKeyReader interface {
	ForeignKeys(ctx context.Context, tables []dataset.TableName) ([]schema.ForeignKey, error)
}

// Resolver decides the order in which a dataset's tables are processed.
// The result is always a permutation of the input.
type Resolver struct {
	ForeignKeys   ForeignKeyReader
	LoadOrderFS   fs.FS
	LoadOrderPath string
	Logger        *zap.Logger
	Metrics       *metrics.Store
}

func NewResolver(fks ForeignKeyReader, logger *zap.Logger, metricsStore *metrics.Store) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{ForeignKeys: fks, Logger: logger.Named("table-orderer"), Metrics: metricsStore}
}

// WithLoadOrder returns a copy reading the load-order file at p in fsys.
func (r *Resolver) WithLoadOrder(fsys fs.FS, p string) *Resolver {
	c := *r
	c.LoadOrderFS = fsys
	c.LoadOrderPath = p
	return &c
}

// Resolve orders tables according to strategy.
func (r *Resolver) Resolve(ctx context.Context, tables []dataset.TableName, strategy dataset.TableOrderingStrategy) ([]dataset.TableName, error) {
	log := r.Logger.With(zap.String("strategy", string(strategy)), zap.Int("tables", len(tables)))

	var (
		order []dataset.TableName
		err   error
	)
	switch strategy {
	case dataset.OrderingLoadOrderFile:
		order, err = r.fromLoadOrderFile(tables)
	case dataset.OrderingForeignKey:
		var ok bool
		if order, ok = r.byForeignKeys(ctx, tables); !ok {
			r.fallback(strategy, "metadata")
			log.Warn("Foreign key metadata unavailable, keeping declaration order")
			order = append([]dataset.TableName(nil), tables...)
		}
	case dataset.OrderingAlphabetical:
		order = Alphabetical(tables)
	case dataset.OrderingAuto, "":
		order, err = r.auto(ctx, tables)
	default:
		return nil, dberrors.Configuration(fmt.Sprintf("unknown table ordering strategy %q", strategy), nil)
	}
	if err != nil {
		return nil, err
	}

	log.Debug("Resolved table order", zap.Strings("order", dataset.TableNames(order)))
	return order, nil
}

func (r *Resolver) auto(ctx context.Context, tables []dataset.TableName) ([]dataset.TableName, error) {
	if r.hasLoadOrderFile() {
		return r.fromLoadOrderFile(tables)
	}
	if order, ok := r.byForeignKeys(ctx, tables); ok {
		return order, nil
	}
	r.fallback(dataset.OrderingAuto, "metadata")
	r.Logger.Warn("Foreign key metadata unavailable, ordering tables alphabetically")
	return Alphabetical(tables), nil
}

func (r *Resolver) hasLoadOrderFile() bool {
	if r.LoadOrderFS == nil || r.LoadOrderPath == "" {
		return false
	}
	info, err := fs.Stat(r.LoadOrderFS, r.LoadOrderPath)
	return err == nil && !info.IsDir()
}

// fromLoadOrderFile sorts tables by their line in the load-order file.
// Every table must be listed; listed names absent from tables are ignored.
func (r *Resolver) fromLoadOrderFile(tables []dataset.TableName) ([]dataset.TableName, error) {
	if r.LoadOrderFS == nil || r.LoadOrderPath == "" {
		return nil, dberrors.DataSetLoad("", "no load-order file configured", fs.ErrNotExist)
	}
	names, err := loader.LoadOrder(r.LoadOrderFS, r.LoadOrderPath)
	if err != nil {
		return nil, err
	}

	exact := make(map[string]int, len(names))
	folded := make(map[string]int, len(names))
	for i, n := range names {
		if _, ok := exact[n]; !ok {
			exact[n] = i
		}
		if _, ok := folded[strings.ToLower(n)]; !ok {
			folded[strings.ToLower(n)] = i
		}
	}

	pos := make([]int, len(tables))
	var missing []string
	for i, t := range tables {
		p, ok := exact[t.Value()]
		if !ok {
			p, ok = folded[strings.ToLower(t.Value())]
		}
		if !ok {
			missing = append(missing, t.Value())
			continue
		}
		pos[i] = p
	}
	if len(missing) > 0 {
		return nil, dberrors.DataSetLoad(r.LoadOrderPath,
			fmt.Sprintf("load-order file does not list tables: %s", strings.Join(missing, ", ")), nil)
	}

	idx := make([]int, len(tables))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return pos[idx[a]] < pos[idx[b]] })
	out := make([]dataset.TableName, len(tables))
	for i, j := range idx {
		out[i] = tables[j]
	}
	return out, nil
}

// byForeignKeys returns false when metadata could not be read.
func (r *Resolver) byForeignKeys(ctx context.Context, tables []dataset.TableName) ([]dataset.TableName, bool) {
	if r.ForeignKeys == nil {
		return nil, false
	}
	fks, err := r.ForeignKeys.ForeignKeys(ctx, tables)
	if err != nil {
		r.Logger.Warn("Failed to read foreign keys", zap.Error(err))
		return nil, false
	}

	g := newGraph(tables)
	for _, fk := range fks {
		g.addEdge(fk.Parent, fk.Child)
	}

	order, cycles := g.order()
	for _, c := range cycles {
		r.fallback(dataset.OrderingForeignKey, "cycle")
		r.Logger.Warn("Foreign key cycle detected, using declaration order for its tables",
			zap.Strings("tables", dataset.TableNames(c)))
	}
	return order, true
}

func (r *Resolver) fallback(strategy dataset.TableOrderingStrategy, reason string) {
	if r.Metrics == nil {
		return
	}
	r.Metrics.OrderingFallbacksTotal.WithLabelValues(string(strategy), reason).Inc()
}

// Alphabetical sorts case-insensitively; equal names keep their input order.
func Alphabetical(tables []dataset.TableName) []dataset.TableName {
	out := append([]dataset.TableName(nil), tables...)
	sort.SliceStable(out, func(i, j int) bool {
		return strings.ToLower(out[i].Value()) < strings.ToLower(out[j].Value())
	})
	return out
}

// Reverse returns order back to front. Deletion-style phases use it.
func Reverse(order []dataset.TableName) []dataset.TableName {
	out := make([]dataset.TableName, len(order))
	for i, t := range order {
		out[len(order)-1-i] = t
	}
	return out
}
