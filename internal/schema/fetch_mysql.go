package schema

import (
	"database/sql"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// --- MySQL ---

func fetchMySQLColumns(db *gorm.DB, schemaName, table string) ([]columnRow, []string, error) {
	var columnsData []struct {
		Field           string         `gorm:"column:COLUMN_NAME"`
		OrdinalPosition int            `gorm:"column:ORDINAL_POSITION"`
		Default         sql.NullString `gorm:"column:COLUMN_DEFAULT"`
		IsNullable      string         `gorm:"column:IS_NULLABLE"`
		FullType        string         `gorm:"column:COLUMN_TYPE"` // varchar(255), tinyint(1), int unsigned
		Precision       sql.NullInt64  `gorm:"column:NUMERIC_PRECISION"`
		Scale           sql.NullInt64  `gorm:"column:NUMERIC_SCALE"`
	}
	err := db.Raw(`
		SELECT COLUMN_NAME, ORDINAL_POSITION, COLUMN_DEFAULT, IS_NULLABLE, COLUMN_TYPE,
			NUMERIC_PRECISION, NUMERIC_SCALE
		FROM information_schema.COLUMNS
		WHERE TABLE_SCHEMA = COALESCE(NULLIF(?, ''), DATABASE()) AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION`, schemaName, table).Scan(&columnsData).Error
	if err != nil {
		return nil, nil, fmt.Errorf("mysql columns query failed: %w", err)
	}

	var pks []string
	err = db.Raw(`
		SELECT COLUMN_NAME
		FROM information_schema.KEY_COLUMN_USAGE
		WHERE TABLE_SCHEMA = COALESCE(NULLIF(?, ''), DATABASE()) AND TABLE_NAME = ? AND CONSTRAINT_NAME = 'PRIMARY'
		ORDER BY ORDINAL_POSITION`, schemaName, table).Scan(&pks).Error
	if err != nil {
		return nil, nil, fmt.Errorf("mysql primary key query failed: %w", err)
	}

	rows := make([]columnRow, 0, len(columnsData))
	for _, c := range columnsData {
		rows = append(rows, columnRow{
			Name:      c.Field,
			Type:      c.FullType,
			Nullable:  strings.EqualFold(c.IsNullable, "YES"),
			Ordinal:   c.OrdinalPosition,
			Precision: c.Precision,
			Scale:     c.Scale,
			Default:   c.Default,
		})
	}
	return rows, pks, nil
}

func fetchMySQLForeignKeys(db *gorm.DB) ([]ForeignKey, error) {
	var results []struct {
		ConstraintName string `gorm:"column:CONSTRAINT_NAME"`
		TableName      string `gorm:"column:TABLE_NAME"`
		Referenced     string `gorm:"column:REFERENCED_TABLE_NAME"`
	}
	err := db.Raw(`
		SELECT DISTINCT CONSTRAINT_NAME, TABLE_NAME, REFERENCED_TABLE_NAME
		FROM information_schema.KEY_COLUMN_USAGE
		WHERE TABLE_SCHEMA = DATABASE() AND REFERENCED_TABLE_NAME IS NOT NULL
		ORDER BY TABLE_NAME, CONSTRAINT_NAME`).Scan(&results).Error
	if err != nil {
		return nil, fmt.Errorf("mysql foreign key query failed: %w", err)
	}

	out := make([]ForeignKey, 0, len(results))
	for _, r := range results {
		out = append(out, ForeignKey{Name: r.ConstraintName, Child: r.TableName, Parent: r.Referenced})
	}
	return out, nil
}
