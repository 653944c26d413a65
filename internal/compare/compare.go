package compare

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/arwahdevops/dbtester/internal/config"
	"github.com/arwahdevops/dbtester/internal/dataset"
	"github.com/arwahdevops/dbtester/internal/metrics"
)

// Comparator diffs expected tables against actual ones. Table and column
// names in exclusions and overrides match case-insensitively.
type Comparator struct {
	ExcludeColumns  []string
	TableExclusions map[string][]string
	Overrides       map[string]map[string]dataset.ComparisonStrategy
	Logger          *zap.Logger
	Metrics         *metrics.Store
}

func NewComparator(logger *zap.Logger, metricsStore *metrics.Store) *Comparator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Comparator{Logger: logger.Named("comparator"), Metrics: metricsStore}
}

// NewComparatorFromSettings applies the exclusions and per-column strategy
// overrides of a comparison settings file.
func NewComparatorFromSettings(settings *config.ComparisonSettings, logger *zap.Logger, metricsStore *metrics.Store) (*Comparator, error) {
	c := NewComparator(logger, metricsStore)
	if settings == nil {
		return c, nil
	}
	overrides, err := settings.Strategies()
	if err != nil {
		return nil, err
	}
	c.ExcludeColumns = settings.ExcludeColumns
	c.TableExclusions = settings.TableExclusions()
	c.Overrides = overrides
	return c, nil
}

// CompareTableSets compares every expected table with the actual table of
// the same name. Tables only present in actual are not inspected.
func (c *Comparator) CompareTableSets(expected, actual dataset.TableSet) *DiffReport {
	report := &DiffReport{}
	if expected.Len() != actual.Len() {
		report.add(Difference{Kind: KindTableCount, Path: "table_count", Expected: expected.Len(), Actual: actual.Len()})
	}
	for _, exp := range expected.Tables() {
		act, ok := findTable(actual, exp.Name())
		if !ok {
			report.add(Difference{
				Kind: KindTable, Table: exp.Name().Value(), Path: "table",
				Expected: "exists", Actual: "not found",
			})
			c.record(exp.Name().Value(), 1)
			continue
		}
		report.merge(c.CompareTables(exp, act))
	}
	return report
}

// CompareTables compares rows positionally over the expected columns.
func (c *Comparator) CompareTables(expected, actual dataset.Table) *DiffReport {
	table := expected.Name().Value()
	log := c.Logger.With(zap.String("table", table))
	report := &DiffReport{}

	if expected.RowCount() != actual.RowCount() {
		report.add(Difference{
			Kind: KindRowCount, Table: table, Path: "row_count",
			Expected: expected.RowCount(), Actual: actual.RowCount(),
		})
	}

	type compared struct {
		column   dataset.Column
		actual   dataset.ColumnName
		strategy dataset.ComparisonStrategy
	}
	var columns []compared
	for _, col := range expected.Columns() {
		if c.excluded(table, col.Name().Value()) {
			log.Debug("Column excluded from comparison", zap.String("column", col.Name().Value()))
			continue
		}
		columns = append(columns, compared{
			column:   col,
			actual:   actualColumn(actual, col.Name()),
			strategy: c.strategyFor(table, col),
		})
	}

	rows := min(expected.RowCount(), actual.RowCount())
	for i := 0; i < rows; i++ {
		expRow, actRow := expected.Row(i), actual.Row(i)
		for _, cc := range columns {
			ev := expRow.Value(cc.column.Name())
			av := actRow.Value(cc.actual)
			if cc.strategy.Matches(ev, av) {
				continue
			}
			d := Difference{
				Kind:     KindCell,
				Table:    table,
				Path:     fmt.Sprintf("row[%d].%s", i, cc.column.Name().Value()),
				Expected: render(ev),
				Actual:   render(av),
				Strategy: cc.strategy.String(),
			}
			if md, ok := columnMetadata(actual, cc.actual, cc.column); ok {
				d.SQLType = md.SQLType
				nullable := md.Nullable
				d.Nullable = &nullable
			}
			report.add(d)
		}
	}

	if !report.Empty() {
		log.Debug("Table differs from expectation", zap.Int("differences", report.Count()))
		c.record(table, report.Count())
	}
	return report
}

func (c *Comparator) record(table string, n int) {
	if c.Metrics != nil {
		c.Metrics.DifferencesTotal.WithLabelValues(table).Add(float64(n))
	}
}

func (c *Comparator) excluded(table, column string) bool {
	for _, ex := range c.ExcludeColumns {
		if strings.EqualFold(ex, column) {
			return true
		}
	}
	for t, cols := range c.TableExclusions {
		if !strings.EqualFold(t, table) {
			continue
		}
		for _, ex := range cols {
			if strings.EqualFold(ex, column) {
				return true
			}
		}
	}
	return false
}

// strategyFor prefers a settings override over the column's own strategy.
func (c *Comparator) strategyFor(table string, col dataset.Column) dataset.ComparisonStrategy {
	for t, cols := range c.Overrides {
		if !strings.EqualFold(t, table) {
			continue
		}
		for name, s := range cols {
			if strings.EqualFold(name, col.Name().Value()) {
				return s
			}
		}
	}
	return col.Strategy()
}

func findTable(ts dataset.TableSet, name dataset.TableName) (dataset.Table, bool) {
	if t, ok := ts.Table(name); ok {
		return t, true
	}
	for _, t := range ts.Tables() {
		if t.Name().EqualFold(name) {
			return t, true
		}
	}
	return dataset.Table{}, false
}

// actualColumn maps an expected column onto actual's spelling of it.
func actualColumn(actual dataset.Table, name dataset.ColumnName) dataset.ColumnName {
	if _, ok := actual.Column(name); ok {
		return name
	}
	for _, n := range actual.ColumnNames() {
		if n.EqualFold(name) {
			return n
		}
	}
	return name
}

func columnMetadata(actual dataset.Table, name dataset.ColumnName, expected dataset.Column) (dataset.ColumnMetadata, bool) {
	if col, ok := actual.Column(name); ok {
		if md, ok := col.Metadata(); ok {
			return md, true
		}
	}
	return expected.Metadata()
}

// render turns a cell into a YAML scalar; NULL becomes null.
func render(v dataset.CellValue) any {
	if v.IsNull() {
		return nil
	}
	switch x := v.Raw().(type) {
	case bool, int, int32, int64, float64, string:
		return x
	}
	return v.String()
}
