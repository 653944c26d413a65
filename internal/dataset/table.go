package dataset

import (
	"fmt"
)

// Row is an ordered mapping from column to value.
type Row struct {
	columns []ColumnName
	values  map[ColumnName]CellValue
}

// NewRow builds a row from cells. A repeated column keeps its first
// position and its last value.
func NewRow(cells ...Cell) Row {
	r := Row{values: make(map[ColumnName]CellValue, len(cells))}
	for _, c := range cells {
		if _, ok := r.values[c.Column]; !ok {
			r.columns = append(r.columns, c.Column)
		}
		r.values[c.Column] = c.Value
	}
	return r
}

// Columns returns the row's keys in insertion order.
func (r Row) Columns() []ColumnName {
	return append([]ColumnName(nil), r.columns...)
}

// Get returns the value for column and whether the row has that key.
func (r Row) Get(column ColumnName) (CellValue, bool) {
	v, ok := r.values[column]
	return v, ok
}

// Value returns the value for column, Null when absent.
func (r Row) Value(column ColumnName) CellValue {
	return r.values[column]
}

func (r Row) Len() int { return len(r.columns) }

func (r Row) Cells() []Cell {
	out := make([]Cell, len(r.columns))
	for i, c := range r.columns {
		out[i] = Cell{Column: c, Value: r.values[c]}
	}
	return out
}

// WithValue returns a copy of r with column set to v.
func (r Row) WithValue(column ColumnName, v CellValue) Row {
	return NewRow(append(r.Cells(), Cell{Column: column, Value: v})...)
}

// Equal reports whether both rows hold the same keys with equal values.
func (r Row) Equal(other Row) bool {
	if len(r.values) != len(other.values) {
		return false
	}
	for k, v := range r.values {
		ov, ok := other.values[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// Table is a named list of rows over a declared column list.
type Table struct {
	name    TableName
	columns []Column
	index   map[ColumnName]int
	rows    []Row
}

// NewTable validates that columns are unique and every row key is declared.
func NewTable(name TableName, columns []Column, rows []Row) (Table, error) {
	if name.IsZero() {
		return Table{}, fmt.Errorf("table name: %w", ErrBlankName)
	}
	index := make(map[ColumnName]int, len(columns))
	for i, c := range columns {
		if c.name.IsZero() {
			return Table{}, fmt.Errorf("table %s: column %d: %w", name, i+1, ErrBlankName)
		}
		if _, dup := index[c.name]; dup {
			return Table{}, fmt.Errorf("table %s: duplicate column %s", name, c.name)
		}
		index[c.name] = i
	}
	for i, r := range rows {
		for _, k := range r.columns {
			if _, ok := index[k]; !ok {
				return Table{}, fmt.Errorf("table %s: row %d: column %s is not declared", name, i, k)
			}
		}
	}
	return Table{
		name:    name,
		columns: append([]Column(nil), columns...),
		index:   index,
		rows:    append([]Row(nil), rows...),
	}, nil
}

// MustTable panics on invalid input. Intended for literals and tests.
func MustTable(name TableName, columns []Column, rows []Row) Table {
	t, err := NewTable(name, columns, rows)
	if err != nil {
		panic(err)
	}
	return t
}

func (t Table) Name() TableName { return t.name }

func (t Table) Columns() []Column { return append([]Column(nil), t.columns...) }

func (t Table) ColumnNames() []ColumnName {
	out := make([]ColumnName, len(t.columns))
	for i, c := range t.columns {
		out[i] = c.name
	}
	return out
}

// Column looks up a declared column by name.
func (t Table) Column(name ColumnName) (Column, bool) {
	i, ok := t.index[name]
	if !ok {
		return Column{}, false
	}
	return t.columns[i], true
}

func (t Table) Rows() []Row { return append([]Row(nil), t.rows...) }

func (t Table) Row(i int) Row { return t.rows[i] }

func (t Table) RowCount() int { return len(t.rows) }

// PrimaryKeyColumns returns the columns whose metadata marks them as PK,
// in declaration order.
func (t Table) PrimaryKeyColumns() []ColumnName {
	var out []ColumnName
	for _, c := range t.columns {
		if m, ok := c.Metadata(); ok && m.PrimaryKey {
			out = append(out, c.name)
		}
	}
	return out
}

func (t Table) WithColumns(columns []Column) (Table, error) {
	return NewTable(t.name, columns, t.rows)
}

func (t Table) WithRows(rows []Row) (Table, error) {
	return NewTable(t.name, t.columns, rows)
}

// WithColumnStrategy returns a copy with the named column's strategy
// replaced. Unknown columns leave the table unchanged.
func (t Table) WithColumnStrategy(name ColumnName, s ComparisonStrategy) Table {
	i, ok := t.index[name]
	if !ok {
		return t
	}
	cols := t.Columns()
	cols[i] = cols[i].WithStrategy(s)
	t.columns = cols
	return t
}

// TableSet is an ordered collection of uniquely named tables, optionally
// bound to a named data source.
type TableSet struct {
	tables     []Table
	index      map[TableName]int
	dataSource string
}

func NewTableSet(tables ...Table) (TableSet, error) {
	index := make(map[TableName]int, len(tables))
	for i, t := range tables {
		if _, dup := index[t.name]; dup {
			return TableSet{}, fmt.Errorf("duplicate table %s in dataset", t.name)
		}
		index[t.name] = i
	}
	return TableSet{tables: append([]Table(nil), tables...), index: index}, nil
}

func MustTableSet(tables ...Table) TableSet {
	ts, err := NewTableSet(tables...)
	if err != nil {
		panic(err)
	}
	return ts
}

func (s TableSet) Tables() []Table { return append([]Table(nil), s.tables...) }

func (s TableSet) Table(name TableName) (Table, bool) {
	i, ok := s.index[name]
	if !ok {
		return Table{}, false
	}
	return s.tables[i], true
}

func (s TableSet) TableNames() []TableName {
	out := make([]TableName, len(s.tables))
	for i, t := range s.tables {
		out[i] = t.name
	}
	return out
}

func (s TableSet) Len() int { return len(s.tables) }

// DataSource is the registry name the set is bound to, "" for the default.
func (s TableSet) DataSource() string { return s.dataSource }

func (s TableSet) WithDataSource(name string) TableSet {
	s.dataSource = name
	return s
}

// Reorder returns the tables in the given order. Every name must belong
// to the set.
func (s TableSet) Reorder(order []TableName) ([]Table, error) {
	out := make([]Table, 0, len(order))
	for _, n := range order {
		t, ok := s.Table(n)
		if !ok {
			return nil, fmt.Errorf("table %s is not part of the dataset", n)
		}
		out = append(out, t)
	}
	return out, nil
}
