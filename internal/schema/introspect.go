package schema

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/arwahdevops/dbtester/internal/dataset"
	"github.com/arwahdevops/dbtester/internal/db"
)

// ErrTableNotFound is returned when a table does not exist in the database.
var ErrTableNotFound = errors.New("table not found")

// ForeignKey is one parent->child dependency between two tables.
type ForeignKey struct {
	Name   string
	Child  string // table holding the foreign key
	Parent string // referenced table
}

// TableMetadata describes a table as the database stores it.
type TableMetadata struct {
	Name        string // stored name, schema-qualified when requested that way
	Columns     []dataset.Column
	PrimaryKeys []string
	byName      map[string]int
}

// columnRow is the dialect-neutral shape the fetchers return.
type columnRow struct {
	Name      string
	Type      string
	Nullable  bool
	Ordinal   int
	Precision sql.NullInt64
	Scale     sql.NullInt64
	Default   sql.NullString
}

func newTableMetadata(name string, rows []columnRow, pks []string) *TableMetadata {
	isPK := make(map[string]bool, len(pks))
	for _, pk := range pks {
		isPK[strings.ToLower(pk)] = true
	}
	columns := make([]dataset.Column, 0, len(rows))
	for _, r := range rows {
		columns = append(columns, dataset.NewColumn(dataset.MustColumnName(r.Name)).WithMetadata(dataset.ColumnMetadata{
			SQLType:      r.Type,
			Nullable:     r.Nullable,
			PrimaryKey:   isPK[strings.ToLower(r.Name)],
			Ordinal:      r.Ordinal,
			Precision:    r.Precision,
			Scale:        r.Scale,
			DefaultValue: r.Default,
		}))
	}
	return NewTableMetadata(name, columns, pks)
}

// NewTableMetadata indexes columns for case-insensitive lookup.
func NewTableMetadata(name string, columns []dataset.Column, pks []string) *TableMetadata {
	m := &TableMetadata{Name: name, Columns: columns, PrimaryKeys: pks, byName: make(map[string]int, len(columns))}
	for i, c := range columns {
		m.byName[strings.ToLower(c.Name().Value())] = i
	}
	return m
}

// Column finds a column ignoring case.
func (m *TableMetadata) Column(name string) (dataset.Column, bool) {
	i, ok := m.byName[strings.ToLower(name)]
	if !ok {
		return dataset.Column{}, false
	}
	return m.Columns[i], true
}

// Introspector reads catalog metadata. Table and column names are matched
// case-insensitively, the way unquoted identifiers resolve.
type Introspector struct {
	conn   *db.Connector
	logger *zap.Logger
}

func NewIntrospector(conn *db.Connector, logger *zap.Logger) *Introspector {
	return &Introspector{conn: conn, logger: logger.Named("schema")}
}

func (i *Introspector) Dialect() string { return i.conn.Dialect }

// TableExists reports whether table exists in the current schema (or the
// schema named by a qualified name).
func (i *Introspector) TableExists(ctx context.Context, table string) (bool, error) {
	_, ok, err := i.resolveTableName(ctx, table)
	return ok, err
}

// TableMetadata returns columns in ordinal order with their metadata.
func (i *Introspector) TableMetadata(ctx context.Context, table string) (*TableMetadata, error) {
	log := i.logger.With(zap.String("table", table), zap.String("dialect", i.conn.Dialect), zap.String("action", "TableMetadata"))

	stored, ok, err := i.resolveTableName(ctx, table)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}

	schemaName, name := splitQualified(stored)
	tx := i.conn.DB.WithContext(ctx)
	var rows []columnRow
	var pks []string
	switch i.conn.Dialect {
	case "sqlite":
		rows, pks, err = fetchSQLiteColumns(tx, name)
	case "mysql":
		rows, pks, err = fetchMySQLColumns(tx, schemaName, name)
	case "postgres":
		rows, pks, err = fetchPostgresColumns(tx, schemaName, name)
	default:
		return nil, fmt.Errorf("unsupported dialect for metadata: %s", i.conn.Dialect)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read columns of %s: %w", table, err)
	}

	meta := newTableMetadata(stored, rows, pks)
	if len(meta.PrimaryKeys) == 0 {
		log.Debug("No primary key columns identified")
	}
	return meta, nil
}

// PrimaryKeys lists the primary key columns of table in key order.
func (i *Introspector) PrimaryKeys(ctx context.Context, table string) ([]string, error) {
	meta, err := i.TableMetadata(ctx, table)
	if err != nil {
		return nil, err
	}
	return meta.PrimaryKeys, nil
}

// ForeignKeys returns the dependencies among tables. Both ends of every
// returned key belong to tables, spelled as given there.
func (i *Introspector) ForeignKeys(ctx context.Context, tables []dataset.TableName) ([]ForeignKey, error) {
	log := i.logger.With(zap.String("dialect", i.conn.Dialect), zap.String("action", "ForeignKeys"))

	byLower := make(map[string]string, len(tables))
	for _, t := range tables {
		byLower[strings.ToLower(unqualified(t.Value()))] = t.Value()
	}

	tx := i.conn.DB.WithContext(ctx)
	var raw []ForeignKey
	var err error
	switch i.conn.Dialect {
	case "sqlite":
		for _, t := range tables {
			fks, ferr := fetchSQLiteForeignKeys(tx, unqualified(t.Value()))
			if ferr != nil {
				err = ferr
				break
			}
			raw = append(raw, fks...)
		}
	case "mysql":
		raw, err = fetchMySQLForeignKeys(tx)
	case "postgres":
		raw, err = fetchPostgresForeignKeys(tx)
	default:
		return nil, fmt.Errorf("unsupported dialect for foreign keys: %s", i.conn.Dialect)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read foreign keys: %w", err)
	}

	out := make([]ForeignKey, 0, len(raw))
	for _, fk := range raw {
		child, okC := byLower[strings.ToLower(fk.Child)]
		parent, okP := byLower[strings.ToLower(fk.Parent)]
		if !okC || !okP {
			log.Debug("Ignoring foreign key outside the table set",
				zap.String("child", fk.Child), zap.String("parent", fk.Parent))
			continue
		}
		out = append(out, ForeignKey{Name: fk.Name, Child: child, Parent: parent})
	}
	return out, nil
}

func (i *Introspector) resolveTableName(ctx context.Context, table string) (string, bool, error) {
	schemaName, name := splitQualified(table)
	tx := i.conn.DB.WithContext(ctx)

	var candidates []string
	var err error
	switch i.conn.Dialect {
	case "sqlite":
		err = tx.Raw(`SELECT name FROM sqlite_master WHERE type = 'table' AND lower(name) = lower(?)`, name).
			Scan(&candidates).Error
	case "mysql":
		err = tx.Raw(`SELECT TABLE_NAME FROM information_schema.TABLES
			WHERE TABLE_SCHEMA = COALESCE(NULLIF(?, ''), DATABASE()) AND LOWER(TABLE_NAME) = LOWER(?)`, schemaName, name).
			Scan(&candidates).Error
	case "postgres":
		err = tx.Raw(`SELECT table_name FROM information_schema.tables
			WHERE table_schema = COALESCE(NULLIF(?, ''), current_schema()) AND lower(table_name) = lower(?)`, schemaName, name).
			Scan(&candidates).Error
	default:
		return "", false, fmt.Errorf("unsupported dialect: %s", i.conn.Dialect)
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to look up table %s: %w", table, err)
	}
	if len(candidates) == 0 {
		return "", false, nil
	}

	stored := candidates[0]
	for _, c := range candidates {
		if c == name {
			stored = c
			break
		}
	}
	if schemaName != "" && i.conn.Dialect != "sqlite" {
		stored = schemaName + "." + stored
	}
	return stored, true, nil
}

func splitQualified(name string) (schemaName, table string) {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[:i], name[i+1:]
	}
	return "", name
}

func unqualified(name string) string {
	_, t := splitQualified(name)
	return t
}
