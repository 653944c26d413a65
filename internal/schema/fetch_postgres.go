package schema

import (
	"database/sql"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// --- PostgreSQL ---

func fetchPostgresColumns(db *gorm.DB, schemaName, table string) ([]columnRow, []string, error) {
	var columnsData []struct {
		ColumnName string         `gorm:"column:column_name"`
		DataType   string         `gorm:"column:data_type"`
		UDTName    string         `gorm:"column:udt_name"`
		IsNullable string         `gorm:"column:is_nullable"`
		Ordinal    int            `gorm:"column:ordinal_position"`
		Precision  sql.NullInt64  `gorm:"column:numeric_precision"`
		Scale      sql.NullInt64  `gorm:"column:numeric_scale"`
		Default    sql.NullString `gorm:"column:column_default"`
	}
	err := db.Raw(`
		SELECT column_name, data_type, udt_name, is_nullable, ordinal_position,
			numeric_precision, numeric_scale, column_default
		FROM information_schema.columns
		WHERE table_schema = COALESCE(NULLIF(?, ''), current_schema()) AND table_name = ?
		ORDER BY ordinal_position`, schemaName, table).Scan(&columnsData).Error
	if err != nil {
		return nil, nil, fmt.Errorf("postgres columns query failed: %w", err)
	}

	var pks []string
	err = db.Raw(`
		SELECT kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
			AND tc.table_name = kcu.table_name
		WHERE tc.constraint_type = 'PRIMARY KEY'
			AND tc.table_schema = COALESCE(NULLIF(?, ''), current_schema()) AND tc.table_name = ?
		ORDER BY kcu.ordinal_position`, schemaName, table).Scan(&pks).Error
	if err != nil {
		return nil, nil, fmt.Errorf("postgres primary key query failed: %w", err)
	}

	rows := make([]columnRow, 0, len(columnsData))
	for _, c := range columnsData {
		typ := c.DataType
		if typ == "USER-DEFINED" || typ == "ARRAY" {
			typ = c.UDTName
		}
		rows = append(rows, columnRow{
			Name:      c.ColumnName,
			Type:      typ,
			Nullable:  strings.EqualFold(c.IsNullable, "YES"),
			Ordinal:   c.Ordinal,
			Precision: c.Precision,
			Scale:     c.Scale,
			Default:   c.Default,
		})
	}
	return rows, pks, nil
}

func fetchPostgresForeignKeys(db *gorm.DB) ([]ForeignKey, error) {
	var results []struct {
		ConstraintName string `gorm:"column:constraint_name"`
		ChildTable     string `gorm:"column:child_table"`
		ParentTable    string `gorm:"column:parent_table"`
	}
	err := db.Raw(`
		SELECT con.conname AS constraint_name, rel.relname AS child_table, confrel.relname AS parent_table
		FROM pg_catalog.pg_constraint con
		JOIN pg_catalog.pg_class rel ON rel.oid = con.conrelid
		JOIN pg_catalog.pg_class confrel ON confrel.oid = con.confrelid
		JOIN pg_catalog.pg_namespace nsp ON nsp.oid = rel.relnamespace
		WHERE con.contype = 'f' AND nsp.nspname = current_schema()
		ORDER BY rel.relname, con.conname`).Scan(&results).Error
	if err != nil {
		return nil, fmt.Errorf("postgres foreign key query failed: %w", err)
	}

	out := make([]ForeignKey, 0, len(results))
	for _, r := range results {
		out = append(out, ForeignKey{Name: r.ConstraintName, Child: r.ChildTable, Parent: r.ParentTable})
	}
	return out, nil
}
