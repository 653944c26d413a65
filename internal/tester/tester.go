// Package tester runs the prepare and verify phases of a database test
// against the data sources in a registry.
package tester

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arwahdevops/dbtester/internal/compare"
	"github.com/arwahdevops/dbtester/internal/dataset"
	"github.com/arwahdevops/dbtester/internal/db"
	"github.com/arwahdevops/dbtester/internal/dberrors"
	"github.com/arwahdevops/dbtester/internal/executor"
	"github.com/arwahdevops/dbtester/internal/loader"
	"github.com/arwahdevops/dbtester/internal/metrics"
	"github.com/arwahdevops/dbtester/internal/ordering"
	"github.com/arwahdevops/dbtester/internal/schema"
)

type Tester struct {
	Registry         *db.Registry
	Loader           *loader.Loader
	Comparator       *compare.Comparator
	Logger           *zap.Logger
	Metrics          *metrics.Store
	QuoteIdentifiers bool
	MergeStrategy    dataset.MergeStrategy // applied when a request names extra sources
}

func New(registry *db.Registry, ldr *loader.Loader, comparator *compare.Comparator, logger *zap.Logger, metricsStore *metrics.Store) *Tester {
	if comparator == nil {
		comparator = compare.NewComparator(logger, metricsStore)
	}
	return &Tester{
		Registry:      registry,
		Loader:        ldr,
		Comparator:    comparator,
		Logger:        logger.Named("tester"),
		Metrics:       metricsStore,
		MergeStrategy: dataset.MergeUnionAll,
	}
}

type PrepareRequest struct {
	Dir        string
	Sources    []string // further directories merged after Dir
	Scenarios  []string
	Operation  dataset.Operation
	Ordering   dataset.TableOrderingStrategy
	DataSource string // "" selects the default data source
}

type VerifyRequest struct {
	Dir        string
	Sources    []string
	Scenarios  []string
	Ordering   dataset.TableOrderingStrategy
	DataSource string
}

// Prepare loads the dataset in req.Dir and applies it with req.Operation.
func (t *Tester) Prepare(ctx context.Context, req PrepareRequest) error {
	if req.Operation == "" {
		req.Operation = dataset.OperationCleanInsert
	}
	runID := uuid.NewString()
	log := t.Logger.With(
		zap.String("run_id", runID),
		zap.String("phase", "prepare"),
		zap.String("dir", req.Dir),
		zap.String("operation", string(req.Operation)))
	start := time.Now()

	ts, err := t.load(req.Dir, req.Sources, req.Scenarios)
	if err != nil {
		log.Error("Failed to load dataset", zap.Error(err))
		return err
	}
	ts = bind(ts, req.DataSource)
	conn, err := t.Registry.Resolve(ts.DataSource())
	if err != nil {
		return err
	}

	introspector := schema.NewIntrospector(conn, log)
	ex := executor.New(conn, introspector, t.resolver(introspector, req.Dir, log), log, t.Metrics)
	ex.QuoteIdentifiers = t.QuoteIdentifiers
	if err := ex.Execute(ctx, req.Operation, ts, req.Ordering); err != nil {
		return err
	}

	log.Info("Dataset prepared",
		zap.Strings("tables", dataset.TableNames(ts.TableNames())),
		zap.Duration("duration", time.Since(start)))
	return nil
}

// Verify loads the expected dataset in req.Dir, reads the matching tables
// and compares them. Differences are returned both as the report and as a
// validation error.
func (t *Tester) Verify(ctx context.Context, req VerifyRequest) (*compare.DiffReport, error) {
	runID := uuid.NewString()
	log := t.Logger.With(
		zap.String("run_id", runID),
		zap.String("phase", "verify"),
		zap.String("dir", req.Dir))
	start := time.Now()

	report, err := t.verify(ctx, req, log)
	switch {
	case err != nil:
		t.recordVerification("error")
		log.Error("Verification could not complete", zap.Error(err))
		return nil, err
	case !report.Empty():
		t.recordVerification("failed")
		log.Warn("Actual state differs from expected",
			zap.Int("differences", report.Count()),
			zap.Strings("tables", report.Tables()))
		return report, report.Err()
	}
	t.recordVerification("passed")
	log.Info("Expected state verified", zap.Duration("duration", time.Since(start)))
	return report, nil
}

func (t *Tester) verify(ctx context.Context, req VerifyRequest, log *zap.Logger) (*compare.DiffReport, error) {
	expected, err := t.load(req.Dir, req.Sources, req.Scenarios)
	if err != nil {
		return nil, err
	}
	expected = bind(expected, req.DataSource)
	conn, err := t.Registry.Resolve(expected.DataSource())
	if err != nil {
		return nil, err
	}

	introspector := schema.NewIntrospector(conn, log)
	order, err := t.resolver(introspector, req.Dir, log).Resolve(ctx, expected.TableNames(), req.Ordering)
	if err != nil {
		return nil, err
	}
	tables, err := expected.Reorder(order)
	if err != nil {
		return nil, fmt.Errorf("failed to order expected tables: %w", err)
	}
	ordered, err := dataset.NewTableSet(tables...)
	if err != nil {
		return nil, fmt.Errorf("failed to order expected tables: %w", err)
	}

	reader := schema.NewReader(introspector, t.QuoteIdentifiers, log)
	var actual []dataset.Table
	for _, exp := range tables {
		got, err := reader.ReadTable(ctx, exp)
		if errors.Is(err, schema.ErrTableNotFound) {
			log.Debug("Expected table does not exist", zap.String("table", exp.Name().Value()))
			continue
		}
		if err != nil {
			return nil, dberrors.DatabaseOperation("verify", exp.Name().Value(), err)
		}
		actual = append(actual, got)
	}
	actualSet, err := dataset.NewTableSet(actual...)
	if err != nil {
		return nil, fmt.Errorf("failed to assemble actual state: %w", err)
	}

	return t.Comparator.CompareTableSets(ordered, actualSet), nil
}

func (t *Tester) load(dir string, sources, scenarios []string) (dataset.TableSet, error) {
	if len(sources) == 0 {
		return t.Loader.LoadDir(dir, scenarios...)
	}
	return t.Loader.LoadSources(t.MergeStrategy, scenarios, append([]string{dir}, sources...)...)
}

// bind points ts at the named data source. An empty name keeps the binding
// the set already carries, which is the default source unless a merge or
// caller set one.
func bind(ts dataset.TableSet, dataSource string) dataset.TableSet {
	if dataSource == "" {
		return ts
	}
	return ts.WithDataSource(dataSource)
}

// resolver reads the load-order file next to the dataset.
func (t *Tester) resolver(fks ordering.ForeignKeyReader, dir string, log *zap.Logger) *ordering.Resolver {
	r := ordering.NewResolver(fks, log, t.Metrics)
	if t.Loader.LoadOrderFile == "" {
		return r
	}
	return r.WithLoadOrder(t.Loader.FS, path.Join(dir, t.Loader.LoadOrderFile))
}

func (t *Tester) recordVerification(status string) {
	if t.Metrics != nil {
		t.Metrics.VerificationsTotal.WithLabelValues(status).Inc()
	}
}
