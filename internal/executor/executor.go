package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/arwahdevops/dbtester/internal/dataset"
	"github.com/arwahdevops/dbtester/internal/db"
	"github.com/arwahdevops/dbtester/internal/dberrors"
	"github.com/arwahdevops/dbtester/internal/metrics"
	"github.com/arwahdevops/dbtester/internal/ordering"
)

// Executor applies a dataset to a database with one of the dataset
// operations. Every call runs in a single transaction.
type Executor struct {
	Conn             *db.Connector
	Schema           SchemaProvider
	Resolver         *ordering.Resolver
	Logger           *zap.Logger
	Metrics          *metrics.Store
	QuoteIdentifiers bool
}

func New(conn *db.Connector, schemaProvider SchemaProvider, resolver *ordering.Resolver, logger *zap.Logger, metricsStore *metrics.Store) *Executor {
	return &Executor{
		Conn:     conn,
		Schema:   schemaProvider,
		Resolver: resolver,
		Logger:   logger.Named("executor"),
		Metrics:  metricsStore,
	}
}

// Execute applies ts with op. Tables are ordered with strategy; deletion
// phases walk that order backwards. Any failure rolls back every statement
// issued by this call.
func (e *Executor) Execute(ctx context.Context, op dataset.Operation, ts dataset.TableSet, strategy dataset.TableOrderingStrategy) (err error) {
	start := time.Now()
	log := e.Logger.With(
		zap.String("operation", string(op)),
		zap.String("dialect", e.Conn.Dialect),
		zap.Int("tables", ts.Len()))

	defer func() {
		if e.Metrics == nil {
			return
		}
		status := "success"
		if err != nil {
			status = "failure"
		}
		e.Metrics.OperationsTotal.WithLabelValues(string(op), status).Inc()
		e.Metrics.OperationDuration.WithLabelValues(string(op)).Observe(time.Since(start).Seconds())
	}()

	if op == dataset.OperationNone {
		log.Debug("Operation NONE, nothing to apply")
		return nil
	}
	if _, perr := dataset.ParseOperation(string(op)); perr != nil {
		return dberrors.Configuration("cannot execute dataset", perr)
	}

	resolver := e.Resolver
	if resolver == nil {
		resolver = ordering.NewResolver(nil, e.Logger, e.Metrics)
	}
	order, err := resolver.Resolve(ctx, ts.TableNames(), strategy)
	if err != nil {
		return err
	}
	tables, err := ts.Reorder(order)
	if err != nil {
		return dberrors.DatabaseOperation(string(op), "", err)
	}

	// identifiers and metadata are settled before the transaction opens
	plans := make([]*tablePlan, 0, len(tables))
	for _, t := range tables {
		p, err := e.plan(ctx, op, t)
		if err != nil {
			return err
		}
		plans = append(plans, p)
	}

	tx := e.Conn.DB.WithContext(ctx).Begin()
	if tx.Error != nil {
		return dberrors.DatabaseOperation(string(op), "", fmt.Errorf("begin transaction: %w", tx.Error))
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := e.run(tx, op, plans); err != nil {
		if rbErr := tx.Rollback().Error; rbErr != nil {
			err = multierr.Append(err, fmt.Errorf("rollback failed: %w", rbErr))
		}
		log.Error("Dataset operation failed, transaction rolled back",
			zap.Error(err),
			zap.String("sqlstate", dberrors.SQLState(err)))
		return err
	}
	if err := tx.Commit().Error; err != nil {
		return dberrors.DatabaseOperation(string(op), "", fmt.Errorf("commit: %w", err))
	}

	log.Info("Dataset applied",
		zap.Strings("order", dataset.TableNames(order)),
		zap.Duration("duration", time.Since(start)))
	return nil
}

func (e *Executor) run(tx *gorm.DB, op dataset.Operation, plans []*tablePlan) error {
	reversed := make([]*tablePlan, len(plans))
	for i, p := range plans {
		reversed[len(plans)-1-i] = p
	}

	switch op {
	case dataset.OperationInsert:
		return e.each(tx, op, plans, e.insertRows)
	case dataset.OperationUpdate:
		return e.each(tx, op, plans, e.updateRows)
	case dataset.OperationRefresh:
		return e.each(tx, op, plans, e.refreshRows)
	case dataset.OperationDelete:
		return e.each(tx, op, reversed, e.deleteRows)
	case dataset.OperationDeleteAll:
		return e.each(tx, op, reversed, e.deleteAll)
	case dataset.OperationTruncateTable:
		return e.each(tx, op, reversed, e.truncate)
	case dataset.OperationCleanInsert:
		if err := e.each(tx, op, reversed, e.deleteAll); err != nil {
			return err
		}
		return e.each(tx, op, plans, e.insertRows)
	case dataset.OperationTruncateInsert:
		if err := e.each(tx, op, reversed, e.truncate); err != nil {
			return err
		}
		return e.each(tx, op, plans, e.insertRows)
	}
	return dberrors.Configuration(fmt.Sprintf("unsupported operation %q", op), nil)
}

type tableStep func(tx *gorm.DB, p *tablePlan) error

func (e *Executor) each(tx *gorm.DB, op dataset.Operation, plans []*tablePlan, step tableStep) error {
	for _, p := range plans {
		if err := step(tx, p); err != nil {
			return dberrors.DatabaseOperation(string(op), p.name, err)
		}
	}
	return nil
}

func (e *Executor) exec(tx *gorm.DB, p *tablePlan, statement, query string, args ...any) (int64, error) {
	res := tx.Exec(query, args...)
	if e.Metrics != nil {
		e.Metrics.StatementsTotal.WithLabelValues(p.name, statement).Inc()
	}
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (e *Executor) insertRows(tx *gorm.DB, p *tablePlan) error {
	for i, row := range p.table.Rows() {
		cols, args, err := p.bind(row, p.table.ColumnNames())
		if err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
		if _, err := e.exec(tx, p, "insert", insertSQL(p.ident, cols), args...); err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
	}
	return nil
}

// updateRows skips rows whose key matches nothing.
func (e *Executor) updateRows(tx *gorm.DB, p *tablePlan) error {
	for i, row := range p.table.Rows() {
		if _, err := e.update(tx, p, row); err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
	}
	return nil
}

func (e *Executor) refreshRows(tx *gorm.DB, p *tablePlan) error {
	for i, row := range p.table.Rows() {
		n, err := e.update(tx, p, row)
		if err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
		if n > 0 {
			continue
		}
		cols, args, err := p.bind(row, p.table.ColumnNames())
		if err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
		if _, err := e.exec(tx, p, "insert", insertSQL(p.ident, cols), args...); err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
	}
	return nil
}

func (e *Executor) update(tx *gorm.DB, p *tablePlan, row dataset.Row) (int64, error) {
	setCols := p.nonKeyColumns(row)
	if len(setCols) == 0 {
		// key-only rows still need a statement that reports a match
		setCols = p.pks
	}
	sets, setArgs, err := p.bind(row, setCols)
	if err != nil {
		return 0, err
	}
	where, whereArgs, err := p.bind(row, p.pks)
	if err != nil {
		return 0, err
	}
	if len(where) != len(p.pks) {
		return 0, fmt.Errorf("row lacks primary key values")
	}
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s", p.ident, assignments(sets, ", "), assignments(where, " AND "))
	return e.exec(tx, p, "update", query, append(setArgs, whereArgs...)...)
}

func (e *Executor) deleteRows(tx *gorm.DB, p *tablePlan) error {
	for i, row := range p.table.Rows() {
		where, args, err := p.bind(row, p.pks)
		if err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
		if len(where) != len(p.pks) {
			return fmt.Errorf("row %d: row lacks primary key values", i)
		}
		query := fmt.Sprintf("DELETE FROM %s WHERE %s", p.ident, assignments(where, " AND "))
		if _, err := e.exec(tx, p, "delete", query, args...); err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
	}
	return nil
}

func (e *Executor) deleteAll(tx *gorm.DB, p *tablePlan) error {
	_, err := e.exec(tx, p, "delete_all", "DELETE FROM "+p.ident)
	return err
}

// truncate falls back to DELETE on SQLite, which has no TRUNCATE.
func (e *Executor) truncate(tx *gorm.DB, p *tablePlan) error {
	if e.Conn.Dialect == "sqlite" {
		_, err := e.exec(tx, p, "truncate", "DELETE FROM "+p.ident)
		return err
	}
	_, err := e.exec(tx, p, "truncate", "TRUNCATE TABLE "+p.ident)
	return err
}

// bind returns the identifiers and coerced values of the given columns that
// row actually holds.
func (p *tablePlan) bind(row dataset.Row, columns []dataset.ColumnName) ([]string, []any, error) {
	idents := make([]string, 0, len(columns))
	args := make([]any, 0, len(columns))
	for _, c := range columns {
		v, ok := row.Get(c)
		if !ok {
			continue
		}
		cp := p.columns[c]
		arg, err := coerce(v, cp.category)
		if err != nil {
			return nil, nil, fmt.Errorf("column %s: %w", c, err)
		}
		idents = append(idents, cp.ident)
		args = append(args, arg)
	}
	return idents, args, nil
}

func (p *tablePlan) nonKeyColumns(row dataset.Row) []dataset.ColumnName {
	isKey := make(map[dataset.ColumnName]bool, len(p.pks))
	for _, k := range p.pks {
		isKey[k] = true
	}
	var out []dataset.ColumnName
	for _, c := range p.table.ColumnNames() {
		if _, ok := row.Get(c); ok && !isKey[c] {
			out = append(out, c)
		}
	}
	return out
}

func insertSQL(table string, columns []string) string {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(columns, ", "), placeholders)
}

func assignments(columns []string, sep string) string {
	parts := make([]string, len(columns))
	for i, c := range columns {
		parts[i] = c + " = ?"
	}
	return strings.Join(parts, sep)
}
