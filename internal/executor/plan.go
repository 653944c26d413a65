package executor

import (
	"context"
	"fmt"

	"github.com/arwahdevops/dbtester/internal/dataset"
	"github.com/arwahdevops/dbtester/internal/dberrors"
	"github.com/arwahdevops/dbtester/internal/schema"
	"github.com/arwahdevops/dbtester/internal/utils"
)

// SchemaProvider supplies column types and primary keys.
type SchemaProvider interface {
	TableMetadata(ctx context.Context, table string) (*schema.TableMetadata, error)
}

// tablePlan is a table whose identifiers have been validated and whose
// columns are resolved against the database.
type tablePlan struct {
	table   dataset.Table
	name    string // table name for logs and errors
	ident   string // text spliced into SQL
	columns map[dataset.ColumnName]columnPlan
	pks     []dataset.ColumnName
}

type columnPlan struct {
	ident    string
	category dataset.TypeCategory
}

func (e *Executor) plan(ctx context.Context, op dataset.Operation, t dataset.Table) (*tablePlan, error) {
	name := t.Name().Value()
	dialect := e.Conn.Dialect
	if err := utils.ValidateIdentifier(name); err != nil {
		return nil, dberrors.DatabaseOperation(string(op), name, err)
	}

	var meta *schema.TableMetadata
	if e.Schema != nil {
		m, err := e.Schema.TableMetadata(ctx, name)
		if err != nil {
			return nil, dberrors.DatabaseOperation(string(op), name, err)
		}
		meta = m
	}

	tableName := name
	if meta != nil && e.QuoteIdentifiers {
		tableName = meta.Name
	}
	ident, err := utils.SQLIdentifier(tableName, dialect, e.QuoteIdentifiers)
	if err != nil {
		return nil, dberrors.DatabaseOperation(string(op), name, err)
	}

	p := &tablePlan{table: t, name: name, ident: ident, columns: make(map[dataset.ColumnName]columnPlan)}
	for _, c := range t.Columns() {
		colName := c.Name().Value()
		category := dataset.CategoryUnknown
		if md, ok := c.Metadata(); ok {
			category = md.TypeCategory()
		}
		if meta != nil {
			if dbCol, ok := meta.Column(colName); ok {
				md, _ := dbCol.Metadata()
				category = md.TypeCategory()
				if e.QuoteIdentifiers {
					colName = dbCol.Name().Value()
				}
			}
		}
		colIdent, err := utils.SQLIdentifier(colName, dialect, e.QuoteIdentifiers)
		if err != nil {
			return nil, dberrors.DatabaseOperation(string(op), name, err)
		}
		p.columns[c.Name()] = columnPlan{ident: colIdent, category: category}
	}

	p.pks = primaryKeys(t, meta)
	if needsPrimaryKey(op) && len(p.pks) == 0 {
		return nil, dberrors.DatabaseOperation(string(op), name,
			fmt.Errorf("primary key unknown or not covered by the dataset columns"))
	}
	return p, nil
}

// primaryKeys maps the database key onto dataset columns. Without metadata
// the dataset's own column metadata decides.
func primaryKeys(t dataset.Table, meta *schema.TableMetadata) []dataset.ColumnName {
	if meta == nil {
		return t.PrimaryKeyColumns()
	}
	var out []dataset.ColumnName
	for _, pk := range meta.PrimaryKeys {
		for _, c := range t.ColumnNames() {
			if c.EqualFold(dataset.MustColumnName(pk)) {
				out = append(out, c)
				break
			}
		}
	}
	if len(out) != len(meta.PrimaryKeys) {
		return nil
	}
	return out
}

func needsPrimaryKey(op dataset.Operation) bool {
	switch op {
	case dataset.OperationUpdate, dataset.OperationDelete, dataset.OperationRefresh:
		return true
	}
	return false
}
