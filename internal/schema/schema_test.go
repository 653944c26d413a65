package schema

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/arwahdevops/dbtester/internal/dataset"
	"github.com/arwahdevops/dbtester/internal/db"
	"github.com/arwahdevops/dbtester/internal/logger"
)

func sqliteConnector(t *testing.T, ddl ...string) *db.Connector {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=1", name)
	conn, err := db.New("sqlite", dsn, logger.NewGormLogger(zap.NewNop(), false))
	require.NoError(t, err)
	require.NoError(t, conn.Optimize(1, 0))
	t.Cleanup(func() { _ = conn.Close() })
	for _, stmt := range ddl {
		require.NoError(t, conn.DB.Exec(stmt).Error, stmt)
	}
	return conn
}

func names(ss ...string) []dataset.TableName {
	out := make([]dataset.TableName, len(ss))
	for i, s := range ss {
		out[i] = dataset.MustTableName(s)
	}
	return out
}

func TestTableMetadata(t *testing.T) {
	conn := sqliteConnector(t,
		`CREATE TABLE users (id INTEGER PRIMARY KEY, name VARCHAR(50) NOT NULL, score DECIMAL(10,2), active BOOLEAN)`,
		`CREATE TABLE pairs (a TEXT, b TEXT, PRIMARY KEY (b, a))`,
	)
	in := NewIntrospector(conn, zaptest.NewLogger(t))
	ctx := context.Background()

	meta, err := in.TableMetadata(ctx, "USERS")
	require.NoError(t, err)
	assert.Equal(t, "users", meta.Name)
	assert.Equal(t, []string{"id"}, meta.PrimaryKeys)
	require.Len(t, meta.Columns, 4)

	testCases := []struct {
		column   string
		category dataset.TypeCategory
		nullable bool
		pk       bool
	}{
		{"ID", dataset.CategoryInteger, true, true},
		{"name", dataset.CategoryString, false, false},
		{"Score", dataset.CategoryDecimal, true, false},
		{"active", dataset.CategoryBoolean, true, false},
	}
	for _, tc := range testCases {
		t.Run(tc.column, func(t *testing.T) {
			col, ok := meta.Column(tc.column)
			require.True(t, ok)
			md, ok := col.Metadata()
			require.True(t, ok)
			assert.Equal(t, tc.category, md.TypeCategory())
			assert.Equal(t, tc.nullable, md.Nullable)
			assert.Equal(t, tc.pk, md.PrimaryKey)
		})
	}

	pks, err := in.PrimaryKeys(ctx, "pairs")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, pks, "key order, not column order")

	exists, err := in.TableExists(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, exists)
	_, err = in.TableMetadata(ctx, "nope")
	assert.ErrorIs(t, err, ErrTableNotFound)
}

func TestForeignKeys(t *testing.T) {
	conn := sqliteConnector(t,
		`CREATE TABLE parent (id INTEGER PRIMARY KEY)`,
		`CREATE TABLE child (id INTEGER PRIMARY KEY, parent_id INTEGER REFERENCES parent(id))`,
		`CREATE TABLE audit (id INTEGER PRIMARY KEY, child_id INTEGER REFERENCES child(id))`,
		`CREATE TABLE node (id INTEGER PRIMARY KEY, up INTEGER REFERENCES node(id))`,
	)
	in := NewIntrospector(conn, zaptest.NewLogger(t))

	fks, err := in.ForeignKeys(context.Background(), names("CHILD", "PARENT", "node"))
	require.NoError(t, err)

	var pairs []string
	for _, fk := range fks {
		pairs = append(pairs, fk.Parent+"->"+fk.Child)
	}
	assert.ElementsMatch(t, []string{"PARENT->CHILD", "node->node"}, pairs,
		"edges to tables outside the set are dropped; spelling follows the input")
}

func TestReadTable(t *testing.T) {
	conn := sqliteConnector(t,
		`CREATE TABLE users (id INTEGER PRIMARY KEY, name VARCHAR(50), note TEXT)`,
		`INSERT INTO users (id, name, note) VALUES (2, 'Bob', NULL), (1, 'Alice', 'x')`,
		`CREATE TABLE tags (label TEXT)`,
		`INSERT INTO tags (label) VALUES ('b'), ('a')`,
	)
	reader := NewReader(NewIntrospector(conn, zaptest.NewLogger(t)), false, zaptest.NewLogger(t))
	ctx := context.Background()

	expected := dataset.MustTable(dataset.MustTableName("USERS"), []dataset.Column{
		dataset.NewColumn(dataset.MustColumnName("NAME")),
		dataset.NewColumn(dataset.MustColumnName("ID")).WithStrategy(dataset.Numeric),
		dataset.NewColumn(dataset.MustColumnName("MISSING")),
	}, nil)

	actual, err := reader.ReadTable(ctx, expected)
	require.NoError(t, err)
	assert.Equal(t, "USERS", actual.Name().Value())
	require.Equal(t, 2, actual.RowCount())

	nameCol, idCol, missing := dataset.MustColumnName("NAME"), dataset.MustColumnName("ID"), dataset.MustColumnName("MISSING")
	assert.Equal(t, "Alice", actual.Row(0).Value(nameCol).String())
	assert.Equal(t, "1", actual.Row(0).Value(idCol).String())
	assert.Equal(t, "Bob", actual.Row(1).Value(nameCol).String())
	assert.True(t, actual.Row(1).Value(missing).IsNull())

	col, ok := actual.Column(idCol)
	require.True(t, ok)
	md, ok := col.Metadata()
	require.True(t, ok)
	assert.True(t, md.PrimaryKey)
	assert.Equal(t, dataset.Numeric, col.Strategy(), "expected strategies are kept")

	tags, err := reader.ReadTable(ctx, dataset.MustTable(dataset.MustTableName("tags"),
		[]dataset.Column{dataset.NewColumn(dataset.MustColumnName("label"))}, nil))
	require.NoError(t, err)
	require.Equal(t, 2, tags.RowCount())
	assert.Equal(t, "a", tags.Row(0).Value(dataset.MustColumnName("label")).String(), "no PK: ordered by selected columns")

	_, err = reader.ReadTable(ctx, dataset.MustTable(dataset.MustTableName("ghost"), nil, nil))
	assert.ErrorIs(t, err, ErrTableNotFound)
}

func TestReadTableRejectsInvalidIdentifier(t *testing.T) {
	conn := sqliteConnector(t, "CREATE TABLE \"odd-name\" (id INTEGER PRIMARY KEY)")
	reader := NewReader(NewIntrospector(conn, zap.NewNop()), false, zap.NewNop())

	_, err := reader.ReadTable(context.Background(), dataset.MustTable(dataset.MustTableName("odd-name"), nil, nil))
	assert.ErrorContains(t, err, "invalid SQL identifier")
}

func TestNormalize(t *testing.T) {
	day := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	testCases := []struct {
		name     string
		in       any
		category dataset.TypeCategory
		want     any
	}{
		{"nil", nil, dataset.CategoryString, nil},
		{"bytes to text", []byte("abc"), dataset.CategoryString, "abc"},
		{"binary kept", []byte{0x01}, dataset.CategoryBinary, []byte{0x01}},
		{"date", day, dataset.CategoryDate, "2024-01-15"},
		{"timestamp kept", day, dataset.CategoryTimestamp, day},
		{"sqlite boolean", int64(1), dataset.CategoryBoolean, true},
		{"mysql boolean", []byte("0"), dataset.CategoryBoolean, false},
		{"integer kept", int64(7), dataset.CategoryInteger, int64(7)},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, normalize(tc.in, tc.category))
		})
	}
}
