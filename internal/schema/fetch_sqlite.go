package schema

import (
	"database/sql"
	"fmt"
	"sort"

	"gorm.io/gorm"

	"github.com/arwahdevops/dbtester/internal/utils"
)

// --- SQLite ---

func fetchSQLiteColumns(db *gorm.DB, table string) ([]columnRow, []string, error) {
	var info []struct {
		Cid       int            `gorm:"column:cid"`
		Name      string         `gorm:"column:name"`
		Type      string         `gorm:"column:type"`
		NotNull   int            `gorm:"column:notnull"`
		DfltValue sql.NullString `gorm:"column:dflt_value"`
		Pk        int            `gorm:"column:pk"` // 1-based position within the primary key
	}
	q := fmt.Sprintf("PRAGMA table_info(%s)", utils.QuoteIdentifier(table, "sqlite"))
	if err := db.Raw(q).Scan(&info).Error; err != nil {
		return nil, nil, fmt.Errorf("sqlite PRAGMA table_info failed: %w", err)
	}

	rows := make([]columnRow, 0, len(info))
	type pkCol struct {
		seq  int
		name string
	}
	var pkCols []pkCol
	for _, c := range info {
		rows = append(rows, columnRow{
			Name:     c.Name,
			Type:     c.Type,
			Nullable: c.NotNull == 0,
			Ordinal:  c.Cid + 1,
			Default:  c.DfltValue,
		})
		if c.Pk > 0 {
			pkCols = append(pkCols, pkCol{seq: c.Pk, name: c.Name})
		}
	}
	sort.Slice(pkCols, func(i, j int) bool { return pkCols[i].seq < pkCols[j].seq })
	pks := make([]string, len(pkCols))
	for i, p := range pkCols {
		pks[i] = p.name
	}
	return rows, pks, nil
}

func fetchSQLiteForeignKeys(db *gorm.DB, table string) ([]ForeignKey, error) {
	var fkList []struct {
		ID    int    `gorm:"column:id"`
		Seq   int    `gorm:"column:seq"`
		Table string `gorm:"column:table"`
		From  string `gorm:"column:from"`
		To    string `gorm:"column:to"`
	}
	q := fmt.Sprintf("PRAGMA foreign_key_list(%s)", utils.QuoteIdentifier(table, "sqlite"))
	if err := db.Raw(q).Scan(&fkList).Error; err != nil {
		return nil, fmt.Errorf("sqlite PRAGMA foreign_key_list failed for %s: %w", table, err)
	}

	// composite keys repeat the id once per column
	seen := make(map[int]bool)
	var out []ForeignKey
	for _, fk := range fkList {
		if seen[fk.ID] {
			continue
		}
		seen[fk.ID] = true
		out = append(out, ForeignKey{
			Name:   fmt.Sprintf("fk_%s_%d", table, fk.ID),
			Child:  table,
			Parent: fk.Table,
		})
	}
	return out, nil
}
