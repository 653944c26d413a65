package schema

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/arwahdevops/dbtester/internal/dataset"
	"github.com/arwahdevops/dbtester/internal/utils"
)

// Reader loads the current contents of a table, shaped like an expected
// table so the two can be compared row by row.
type Reader struct {
	introspector *Introspector
	quote        bool
	logger       *zap.Logger
}

func NewReader(introspector *Introspector, quoteIdentifiers bool, logger *zap.Logger) *Reader {
	return &Reader{introspector: introspector, quote: quoteIdentifiers, logger: logger.Named("reader")}
}

// ReadTable selects the expected table's columns ordered by primary key,
// or by the selected columns when the table has none. Expected columns the
// table lacks read as NULL. A missing table yields ErrTableNotFound.
func (r *Reader) ReadTable(ctx context.Context, expected dataset.Table) (dataset.Table, error) {
	table := expected.Name().Value()
	dialect := r.introspector.Dialect()
	log := r.logger.With(zap.String("table", table), zap.String("dialect", dialect))

	meta, err := r.introspector.TableMetadata(ctx, table)
	if err != nil {
		return dataset.Table{}, err
	}

	expectedCols := expected.Columns()
	outCols := make([]dataset.Column, len(expectedCols))
	var selectList []string
	var selectedIdx []int
	var categories []dataset.TypeCategory
	for i, c := range expectedCols {
		dbCol, ok := meta.Column(c.Name().Value())
		if !ok {
			log.Warn("Expected column not present in table", zap.String("column", c.Name().Value()))
			outCols[i] = c
			continue
		}
		md, _ := dbCol.Metadata()
		outCols[i] = c.WithMetadata(md)

		ident, err := utils.SQLIdentifier(dbCol.Name().Value(), dialect, r.quote)
		if err != nil {
			return dataset.Table{}, err
		}
		selectList = append(selectList, ident)
		selectedIdx = append(selectedIdx, i)
		categories = append(categories, md.TypeCategory())
	}

	tableIdent, err := utils.SQLIdentifier(meta.Name, dialect, r.quote)
	if err != nil {
		return dataset.Table{}, err
	}

	orderBy := make([]string, 0, len(meta.PrimaryKeys))
	for _, pk := range meta.PrimaryKeys {
		ident, err := utils.SQLIdentifier(pk, dialect, r.quote)
		if err != nil {
			return dataset.Table{}, err
		}
		orderBy = append(orderBy, ident)
	}
	if len(orderBy) == 0 {
		orderBy = selectList
	}

	projection := strings.Join(selectList, ", ")
	if projection == "" {
		projection = "1"
	}
	query := fmt.Sprintf("SELECT %s FROM %s", projection, tableIdent)
	if len(orderBy) > 0 {
		query += " ORDER BY " + strings.Join(orderBy, ", ")
	}

	rows, err := r.introspector.conn.DB.WithContext(ctx).Raw(query).Rows()
	if err != nil {
		return dataset.Table{}, fmt.Errorf("failed to read table %s: %w", table, err)
	}
	defer rows.Close()

	var out []dataset.Row
	for rows.Next() {
		values := make([]any, len(selectList))
		dest := make([]any, len(selectList))
		for i := range values {
			dest[i] = &values[i]
		}
		if len(selectList) == 0 {
			var one any
			dest = []any{&one}
		}
		if err := rows.Scan(dest...); err != nil {
			return dataset.Table{}, fmt.Errorf("failed to scan row of %s: %w", table, err)
		}

		cells := make([]dataset.Cell, len(outCols))
		for i, c := range outCols {
			cells[i] = dataset.NewCell(c.Name(), dataset.Null)
		}
		for j, i := range selectedIdx {
			cells[i] = dataset.NewCell(outCols[i].Name(), dataset.NewCellValue(normalize(values[j], categories[j])))
		}
		out = append(out, dataset.NewRow(cells...))
	}
	if err := rows.Err(); err != nil {
		return dataset.Table{}, fmt.Errorf("failed to iterate rows of %s: %w", table, err)
	}

	log.Debug("Read actual table state", zap.Int("rows", len(out)))
	return dataset.NewTable(expected.Name(), outCols, out)
}

// normalize maps driver representations onto the column's category so that
// text datasets compare cleanly: MySQL returns text as []byte, SQLite
// returns DATE columns as time.Time and booleans as integers.
func normalize(v any, category dataset.TypeCategory) any {
	switch x := v.(type) {
	case nil:
		return nil
	case []byte:
		if category == dataset.CategoryBinary {
			return x
		}
		v = string(x)
	case time.Time:
		switch category {
		case dataset.CategoryDate:
			return x.Format("2006-01-02")
		case dataset.CategoryTime:
			return x.Format("15:04:05")
		}
		return x
	}
	if category == dataset.CategoryBoolean {
		if b, ok := dataset.ParseBool(dataset.Text(v)); ok {
			return b
		}
	}
	return v
}
