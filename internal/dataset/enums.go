package dataset

import (
	"fmt"
	"strings"
)

// Operation selects how a dataset is applied to the database.
type Operation string

const (
	OperationNone           Operation = "NONE"
	OperationInsert         Operation = "INSERT"
	OperationUpdate         Operation = "UPDATE"
	OperationDelete         Operation = "DELETE"
	OperationDeleteAll      Operation = "DELETE_ALL"
	OperationRefresh        Operation = "REFRESH"
	OperationTruncateTable  Operation = "TRUNCATE_TABLE"
	OperationCleanInsert    Operation = "CLEAN_INSERT"
	OperationTruncateInsert Operation = "TRUNCATE_INSERT"
)

// Operations lists every operation in declaration order.
var Operations = []Operation{
	OperationNone, OperationInsert, OperationUpdate, OperationDelete, OperationDeleteAll,
	OperationRefresh, OperationTruncateTable, OperationCleanInsert, OperationTruncateInsert,
}

// ParseOperation is case-insensitive and accepts TRUNCATE for TRUNCATE_TABLE.
func ParseOperation(s string) (Operation, error) {
	v := strings.ToUpper(strings.TrimSpace(s))
	if v == "TRUNCATE" {
		return OperationTruncateTable, nil
	}
	for _, op := range Operations {
		if string(op) == v {
			return op, nil
		}
	}
	return "", fmt.Errorf("unknown operation %q", s)
}

// TableOrderingStrategy selects how tables are sequenced.
type TableOrderingStrategy string

const (
	OrderingAuto          TableOrderingStrategy = "AUTO"
	OrderingLoadOrderFile TableOrderingStrategy = "LOAD_ORDER_FILE"
	OrderingForeignKey    TableOrderingStrategy = "FOREIGN_KEY"
	OrderingAlphabetical  TableOrderingStrategy = "ALPHABETICAL"
)

func ParseTableOrderingStrategy(s string) (TableOrderingStrategy, error) {
	switch v := TableOrderingStrategy(strings.ToUpper(strings.TrimSpace(s))); v {
	case OrderingAuto, OrderingLoadOrderFile, OrderingForeignKey, OrderingAlphabetical:
		return v, nil
	}
	return "", fmt.Errorf("unknown table ordering strategy %q", s)
}

// MergeStrategy resolves a table declared by more than one dataset source.
type MergeStrategy string

const (
	MergeFirst    MergeStrategy = "FIRST"
	MergeLast     MergeStrategy = "LAST"
	MergeUnion    MergeStrategy = "UNION"
	MergeUnionAll MergeStrategy = "UNION_ALL"
)

func ParseMergeStrategy(s string) (MergeStrategy, error) {
	switch v := MergeStrategy(strings.ToUpper(strings.TrimSpace(s))); v {
	case MergeFirst, MergeLast, MergeUnion, MergeUnionAll:
		return v, nil
	}
	return "", fmt.Errorf("unknown merge strategy %q", s)
}

// Merge combines table sets. Tables keep first-seen order. When several
// sets declare the same table, FIRST keeps the earliest declaration, LAST
// the latest, UNION concatenates rows dropping exact duplicates and
// UNION_ALL concatenates everything. Column lists are unioned in
// first-seen order for the UNION variants. The result is bound to the
// first non-empty data source.
func Merge(strategy MergeStrategy, sets ...TableSet) (TableSet, error) {
	var order []TableName
	merged := make(map[TableName]Table)
	dataSource := ""

	for _, set := range sets {
		if dataSource == "" {
			dataSource = set.dataSource
		}
		for _, t := range set.tables {
			prev, seen := merged[t.name]
			if !seen {
				order = append(order, t.name)
				merged[t.name] = t
				continue
			}
			switch strategy {
			case MergeFirst:
			case MergeLast:
				merged[t.name] = t
			case MergeUnion, MergeUnionAll:
				combined, err := unionTables(prev, t, strategy == MergeUnion)
				if err != nil {
					return TableSet{}, err
				}
				merged[t.name] = combined
			default:
				return TableSet{}, fmt.Errorf("unknown merge strategy %q", strategy)
			}
		}
	}

	tables := make([]Table, len(order))
	for i, n := range order {
		tables[i] = merged[n]
	}
	out, err := NewTableSet(tables...)
	if err != nil {
		return TableSet{}, err
	}
	return out.WithDataSource(dataSource), nil
}

func unionTables(a, b Table, distinct bool) (Table, error) {
	cols := a.Columns()
	for _, c := range b.columns {
		if _, ok := a.index[c.name]; !ok {
			cols = append(cols, c)
		}
	}
	rows := a.Rows()
	for _, r := range b.rows {
		if distinct && containsRow(rows, r) {
			continue
		}
		rows = append(rows, r)
	}
	return NewTable(a.name, cols, rows)
}

func containsRow(rows []Row, r Row) bool {
	for _, x := range rows {
		if x.Equal(r) {
			return true
		}
	}
	return false
}
