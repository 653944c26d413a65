// Package dbtesting binds dataset preparation and verification to Go tests.
//
// Datasets live under a base directory, one directory per top-level test:
//
//	testdata/TestCreateOrder/USERS.csv
//	testdata/TestCreateOrder/ORDERS.csv
//	testdata/TestCreateOrder/expected/ORDERS.csv
//
// Rows are filtered by scenario, which defaults to the subtest name.
package dbtesting

import (
	"context"
	"io/fs"
	"path"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/arwahdevops/dbtester/internal/compare"
	"github.com/arwahdevops/dbtester/internal/config"
	"github.com/arwahdevops/dbtester/internal/dataset"
	"github.com/arwahdevops/dbtester/internal/db"
	"github.com/arwahdevops/dbtester/internal/loader"
	"github.com/arwahdevops/dbtester/internal/metrics"
	"github.com/arwahdevops/dbtester/internal/scenario"
	"github.com/arwahdevops/dbtester/internal/tester"
)

// ExpectedDir is the subdirectory holding the expected state.
const ExpectedDir = "expected"

// TB is the subset of testing.TB the fixture reports through.
type TB interface {
	Helper()
	Name() string
	Context() context.Context
	Errorf(format string, args ...any)
	Fatalf(format string, args ...any)
}

type Fixture struct {
	Tester    *tester.Tester
	BaseDir   string
	Scenarios *scenario.Registry
	Operation dataset.Operation
	Ordering  dataset.TableOrderingStrategy
}

type fixtureOptions struct {
	logger     *zap.Logger
	metrics    *metrics.Store
	settings   *config.ComparisonSettings
	quote      bool
	scenarios  *scenario.Registry
	operation  dataset.Operation
	ordering   dataset.TableOrderingStrategy
	dataSource map[string]*db.Connector
}

// Option configures a Fixture.
type Option func(*fixtureOptions)

func WithLogger(l *zap.Logger) Option { return func(o *fixtureOptions) { o.logger = l } }

func WithMetrics(s *metrics.Store) Option { return func(o *fixtureOptions) { o.metrics = s } }

// WithComparisonSettings applies column exclusions and strategy overrides.
func WithComparisonSettings(s *config.ComparisonSettings) Option {
	return func(o *fixtureOptions) { o.settings = s }
}

// WithQuotedIdentifiers quotes table and column names using the database's
// stored spelling.
func WithQuotedIdentifiers() Option { return func(o *fixtureOptions) { o.quote = true } }

func WithScenarioResolvers(r *scenario.Registry) Option {
	return func(o *fixtureOptions) { o.scenarios = r }
}

// WithOperation sets the default operation of Prepare.
func WithOperation(op dataset.Operation) Option { return func(o *fixtureOptions) { o.operation = op } }

func WithOrdering(s dataset.TableOrderingStrategy) Option {
	return func(o *fixtureOptions) { o.ordering = s }
}

// WithDataSource registers an additional named database.
func WithDataSource(name string, gdb *gorm.DB, dialect string) Option {
	return func(o *fixtureOptions) {
		if o.dataSource == nil {
			o.dataSource = make(map[string]*db.Connector)
		}
		o.dataSource[name] = &db.Connector{DB: gdb, Dialect: dialect}
	}
}

// New binds datasets under baseDir in fsys to gdb, the default data source.
func New(fsys fs.FS, baseDir string, gdb *gorm.DB, dialect string, opts ...Option) (*Fixture, error) {
	o := fixtureOptions{
		operation: dataset.OperationCleanInsert,
		ordering:  dataset.OrderingAuto,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.metrics == nil {
		o.metrics = metrics.NewMetricsStore()
	}
	if o.scenarios == nil {
		o.scenarios = scenario.DefaultRegistry()
	}

	registry := db.NewRegistry(o.metrics)
	if err := registry.RegisterDefault(&db.Connector{DB: gdb, Dialect: dialect}); err != nil {
		return nil, err
	}
	for name, conn := range o.dataSource {
		if err := registry.Register(name, conn); err != nil {
			return nil, err
		}
	}

	comparator, err := compare.NewComparatorFromSettings(o.settings, o.logger, o.metrics)
	if err != nil {
		return nil, err
	}
	t := tester.New(registry, loader.New(fsys, "", "", o.logger), comparator, o.logger, o.metrics)
	t.QuoteIdentifiers = o.quote

	return &Fixture{
		Tester:    t,
		BaseDir:   baseDir,
		Scenarios: o.scenarios,
		Operation: o.operation,
		Ordering:  o.ordering,
	}, nil
}

type call struct {
	dir        string
	scenarios  []string
	operation  dataset.Operation
	ordering   dataset.TableOrderingStrategy
	dataSource string
}

// CallOption adjusts one Prepare or Expect call.
type CallOption func(*call)

// Dir replaces the per-test dataset directory, relative to the base directory.
func Dir(d string) CallOption { return func(c *call) { c.dir = d } }

// Scenarios replaces the resolved scenario; no names loads every row.
func Scenarios(names ...string) CallOption { return func(c *call) { c.scenarios = names } }

func Operation(op dataset.Operation) CallOption { return func(c *call) { c.operation = op } }

func Ordering(s dataset.TableOrderingStrategy) CallOption { return func(c *call) { c.ordering = s } }

func DataSource(name string) CallOption { return func(c *call) { c.dataSource = name } }

func (f *Fixture) resolve(t TB, opts []CallOption) call {
	c := call{
		dir:       scenario.TopLevel(t.Name()),
		operation: f.Operation,
		ordering:  f.Ordering,
	}
	if s := f.Scenarios.Resolve(t); s != "" {
		c.scenarios = []string{s}
	}
	for _, opt := range opts {
		opt(&c)
	}
	c.dir = path.Join(f.BaseDir, c.dir)
	return c
}

// Prepare applies the test's dataset and stops the test on failure.
func (f *Fixture) Prepare(t TB, opts ...CallOption) {
	t.Helper()
	c := f.resolve(t, opts)
	err := f.Tester.Prepare(t.Context(), tester.PrepareRequest{
		Dir:        c.dir,
		Scenarios:  c.scenarios,
		Operation:  c.operation,
		Ordering:   c.ordering,
		DataSource: c.dataSource,
	})
	if err != nil {
		t.Fatalf("dbtesting: prepare %s: %v", c.dir, err)
	}
}

// Expect compares the database with the expected dataset and reports every
// difference as one test error.
func (f *Fixture) Expect(t TB, opts ...CallOption) {
	t.Helper()
	c := f.resolve(t, opts)
	dir := path.Join(c.dir, ExpectedDir)
	report, err := f.Tester.Verify(t.Context(), tester.VerifyRequest{
		Dir:        dir,
		Scenarios:  c.scenarios,
		Ordering:   c.ordering,
		DataSource: c.dataSource,
	})
	switch {
	case report != nil && !report.Empty():
		t.Errorf("dbtesting: %s", report.String())
	case err != nil:
		t.Errorf("dbtesting: verify %s: %v", dir, err)
	}
}
