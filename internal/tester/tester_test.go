package tester

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/arwahdevops/dbtester/internal/compare"
	"github.com/arwahdevops/dbtester/internal/dataset"
	"github.com/arwahdevops/dbtester/internal/db"
	"github.com/arwahdevops/dbtester/internal/dberrors"
	"github.com/arwahdevops/dbtester/internal/loader"
	"github.com/arwahdevops/dbtester/internal/logger"
	"github.com/arwahdevops/dbtester/internal/metrics"
)

var datasets = fstest.MapFS{
	"shop/ORDERS.csv": {Data: []byte("ID,USER_ID,ITEM,[Scenario]\n" +
		"10,1,book,a\n" +
		"11,2,pen,b\n")},
	"shop/USERS.csv": {Data: []byte("ID,NAME,[Scenario]\n" +
		"1,Alice,\n" +
		"2,Bob,b\n")},
	"shop/expected/USERS.csv": {Data: []byte("ID,NAME\n" +
		"1,Alice\n")},
	"shop/expected/ORDERS.csv": {Data: []byte("ID,USER_ID,ITEM\n" +
		"10,1,book\n")},
	"missing/expected/AUDIT.csv": {Data: []byte("ID\n1\n")},
	"bad/user-accounts.csv":      {Data: []byte("ID\n1\n")},
}

func openShop(t *testing.T, suffix string) *db.Connector {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name()) + suffix
	conn, err := db.New("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=1", name), logger.NewGormLogger(zap.NewNop(), false))
	require.NoError(t, err)
	require.NoError(t, conn.Optimize(1, 0))
	t.Cleanup(func() { _ = conn.Close() })

	for _, ddl := range []string{
		`CREATE TABLE USERS (ID INTEGER PRIMARY KEY, NAME VARCHAR(50) NOT NULL)`,
		`CREATE TABLE ORDERS (ID INTEGER PRIMARY KEY, USER_ID INTEGER NOT NULL REFERENCES USERS(ID), ITEM TEXT)`,
	} {
		require.NoError(t, conn.DB.Exec(ddl).Error)
	}
	return conn
}

func newTester(t *testing.T) (*Tester, *db.Connector, *metrics.Store) {
	t.Helper()
	conn := openShop(t, "")

	store := metrics.NewMetricsStore()
	registry := db.NewRegistry(store)
	require.NoError(t, registry.RegisterDefault(conn))

	log := zaptest.NewLogger(t)
	ldr := loader.New(datasets, "", "", log)
	return New(registry, ldr, compare.NewComparator(log, store), log, store), conn, store
}

func verifications(t *testing.T, store *metrics.Store) map[string]float64 {
	t.Helper()
	families, err := store.Registry.Gather()
	require.NoError(t, err)
	out := map[string]float64{}
	for _, mf := range families {
		if mf.GetName() != "dbtester_verifications_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				out[l.GetValue()] = m.GetCounter().GetValue()
			}
		}
	}
	return out
}

func TestPrepareThenVerify(t *testing.T) {
	tr, conn, store := newTester(t)
	ctx := context.Background()

	require.NoError(t, tr.Prepare(ctx, PrepareRequest{Dir: "shop", Scenarios: []string{"a"}}))

	var count int64
	require.NoError(t, conn.DB.Raw("SELECT COUNT(*) FROM ORDERS").Scan(&count).Error)
	assert.EqualValues(t, 1, count, "scenario filter keeps only rows for a")

	report, err := tr.Verify(ctx, VerifyRequest{Dir: "shop/expected"})
	require.NoError(t, err)
	assert.True(t, report.Empty())

	require.NoError(t, conn.DB.Exec("UPDATE USERS SET NAME = 'Alicia' WHERE ID = 1").Error)
	report, err = tr.Verify(ctx, VerifyRequest{Dir: "shop/expected", Ordering: dataset.OrderingAlphabetical})
	require.Error(t, err)
	assert.ErrorIs(t, err, dberrors.ErrValidation)
	require.NotNil(t, report)
	require.Equal(t, 1, report.Count())
	assert.Equal(t, "row[0].NAME", report.Differences[0].Path)
	assert.Contains(t, err.Error(), "Assertion failed: 1 differences in USERS")

	assert.Equal(t, map[string]float64{"passed": 1, "failed": 1}, verifications(t, store))
}

func TestPrepareAllScenarios(t *testing.T) {
	tr, conn, _ := newTester(t)
	ctx := context.Background()

	require.NoError(t, tr.Prepare(ctx, PrepareRequest{Dir: "shop", Operation: dataset.OperationInsert, Ordering: dataset.OrderingForeignKey}))

	var names []string
	require.NoError(t, conn.DB.Raw("SELECT NAME FROM USERS ORDER BY ID").Scan(&names).Error)
	assert.Equal(t, []string{"Alice", "Bob"}, names)
}

func TestVerifyMissingTable(t *testing.T) {
	tr, _, store := newTester(t)

	report, err := tr.Verify(context.Background(), VerifyRequest{Dir: "missing/expected"})
	require.Error(t, err)
	assert.ErrorIs(t, err, dberrors.ErrValidation)
	require.NotNil(t, report)

	var kinds []compare.Kind
	for _, d := range report.Differences {
		kinds = append(kinds, d.Kind)
	}
	assert.Equal(t, []compare.Kind{compare.KindTableCount, compare.KindTable}, kinds)
	assert.Equal(t, map[string]float64{"failed": 1}, verifications(t, store))
}

func TestErrors(t *testing.T) {
	tr, _, store := newTester(t)
	ctx := context.Background()

	err := tr.Prepare(ctx, PrepareRequest{Dir: "shop", DataSource: "replica"})
	assert.ErrorIs(t, err, dberrors.ErrDataSourceNotFound)

	err = tr.Prepare(ctx, PrepareRequest{Dir: "nowhere"})
	assert.ErrorIs(t, err, dberrors.ErrDataSetLoad)

	err = tr.Prepare(ctx, PrepareRequest{Dir: "shop", Ordering: dataset.OrderingLoadOrderFile})
	assert.ErrorIs(t, err, dberrors.ErrDataSetLoad, "no load-order file in shop")

	_, err = tr.Verify(ctx, VerifyRequest{Dir: "nowhere"})
	assert.ErrorIs(t, err, dberrors.ErrDataSetLoad)
	assert.Equal(t, map[string]float64{"error": 1}, verifications(t, store))
}

func TestPrepareRejectsInvalidTableName(t *testing.T) {
	tr, conn, _ := newTester(t)

	err := tr.Prepare(context.Background(), PrepareRequest{
		Dir:       "bad",
		Operation: dataset.OperationInsert,
		Ordering:  dataset.OrderingAlphabetical,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, dberrors.ErrDatabaseOperation)
	assert.Contains(t, err.Error(), "invalid SQL identifier: `user-accounts`")
	assert.NotContains(t, err.Error(), "table not found")

	var count int64
	require.NoError(t, conn.DB.Raw(`SELECT COUNT(*) FROM USERS`).Scan(&count).Error)
	assert.Zero(t, count)
}

func TestNamedDataSource(t *testing.T) {
	tr, primary, _ := newTester(t)
	replica := openShop(t, "_replica")
	require.NoError(t, tr.Registry.Register("replica", replica))
	ctx := context.Background()

	require.NoError(t, tr.Prepare(ctx, PrepareRequest{Dir: "shop", DataSource: "replica"}))

	count := func(conn *db.Connector) int64 {
		var n int64
		require.NoError(t, conn.DB.Raw(`SELECT COUNT(*) FROM USERS`).Scan(&n).Error)
		return n
	}
	assert.Equal(t, int64(2), count(replica))
	assert.Zero(t, count(primary))

	report, err := tr.Verify(ctx, VerifyRequest{Dir: "shop/expected", DataSource: "replica"})
	require.Error(t, err, "replica also holds Bob and order 11")
	require.NotNil(t, report)
	assert.ElementsMatch(t, []string{"ORDERS", "USERS"}, report.Tables())

	report, err = tr.Verify(ctx, VerifyRequest{Dir: "shop/expected"})
	require.Error(t, err, "primary is empty")
	assert.ElementsMatch(t, []string{"ORDERS", "USERS"}, report.Tables())
}
