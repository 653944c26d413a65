//go:build integration

package integration

import (
	"context"
	"os"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/arwahdevops/dbtester/dbtesting"
	"github.com/arwahdevops/dbtester/internal/config"
	"github.com/arwahdevops/dbtester/internal/dataset"
	"github.com/arwahdevops/dbtester/internal/dberrors"
	"github.com/arwahdevops/dbtester/internal/tester"
)

// ORDERS is listed before CUSTOMERS so that ordering must come from the
// foreign key.
var shopData = fstest.MapFS{
	"testdata/TestRoundTrip/ORDERS.csv": {Data: []byte("ID,CUSTOMER_ID,TOTAL,CREATED_AT,[Scenario]\n" +
		"1,1,10.50,2024-01-02 10:00:00,\n" +
		"2,2,99.99,2024-01-03 11:30:00,\n")},
	"testdata/TestRoundTrip/CUSTOMERS.csv": {Data: []byte("ID,NAME,EMAIL,[Scenario]\n" +
		"1,alice,alice@example.com,\n" +
		"2,bob,,\n")},
	"testdata/TestRoundTrip/expected/ORDERS.csv": {Data: []byte("ID,CUSTOMER_ID,TOTAL,CREATED_AT,[Scenario]\n" +
		"1,1,15.5,2024-01-02T10:00:00Z,\n" +
		"2,2,99.99,2024-01-03T11:30:00Z,\n")},
	"testdata/TestRoundTrip/expected/CUSTOMERS.csv": {Data: []byte("ID,NAME,EMAIL,[Scenario]\n" +
		"1,alice,ALICE@example.com,\n" +
		"2,bob,,\n")},
	"testdata/TestBrokenReference/ORDERS.csv": {Data: []byte("ID,CUSTOMER_ID,TOTAL,CREATED_AT\n" +
		"7,42,1.00,2024-01-02 10:00:00\n")},
}

const comparisonSettings = `
tables:
  ORDERS:
    columns:
      TOTAL: NUMERIC
      CREATED_AT: TIMESTAMP_FLEXIBLE
  CUSTOMERS:
    columns:
      EMAIL: CASE_INSENSITIVE
`

var schemas = map[string][]string{
	"postgres": {
		`DROP TABLE IF EXISTS orders CASCADE`,
		`DROP TABLE IF EXISTS customers CASCADE`,
		`CREATE TABLE customers (id INTEGER PRIMARY KEY, name VARCHAR(50) NOT NULL, email VARCHAR(100))`,
		`CREATE TABLE orders (id INTEGER PRIMARY KEY, customer_id INTEGER NOT NULL REFERENCES customers(id),
			total NUMERIC(10,2) NOT NULL, created_at TIMESTAMP NOT NULL)`,
	},
	"mysql": {
		`DROP TABLE IF EXISTS orders`,
		`DROP TABLE IF EXISTS customers`,
		`CREATE TABLE customers (id INT PRIMARY KEY, name VARCHAR(50) NOT NULL, email VARCHAR(100))`,
		`CREATE TABLE orders (id INT PRIMARY KEY, customer_id INT NOT NULL, total DECIMAL(10,2) NOT NULL,
			created_at DATETIME NOT NULL, CONSTRAINT fk_orders_customer FOREIGN KEY (customer_id) REFERENCES customers(id))`,
	},
}

func skipUnlessIntegration(t *testing.T) {
	t.Helper()
	if os.Getenv("SKIP_INTEGRATION_TESTS") != "" || testing.Short() {
		t.Skip("Skipping integration test.")
	}
}

func TestRoundTrip(t *testing.T) {
	skipUnlessIntegration(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	testCases := []struct {
		name  string
		start func(context.Context, *testing.T) *TestDBInstance
	}{
		{"postgres", startPostgresContainer},
		{"mysql", startMySQLContainer},
	}

	for _, tc := range testCases {
		instance := tc.start(ctx, t)
		defer stopContainer(ctx, t, instance)
		execAll(t, instance, schemas[tc.name]...)

		settings, err := config.ParseComparisonSettings([]byte(comparisonSettings))
		require.NoError(t, err)
		fixture, err := dbtesting.New(shopData, "testdata", instance.Conn.DB, instance.Conn.Dialect,
			dbtesting.WithLogger(zaptest.NewLogger(t)),
			dbtesting.WithComparisonSettings(settings),
			dbtesting.WithOrdering(dataset.OrderingForeignKey))
		require.NoError(t, err)

		fixture.Prepare(t)
		require.NoError(t, instance.Conn.DB.Exec(`UPDATE orders SET total = total + 5 WHERE id = 1`).Error)
		fixture.Expect(t)

		// a second CLEAN_INSERT replaces rather than appends
		fixture.Prepare(t)
		var count int64
		require.NoError(t, instance.Conn.DB.Raw(`SELECT COUNT(*) FROM orders`).Scan(&count).Error)
		assert.Equal(t, int64(2), count, tc.name)
	}
}

func TestBrokenReference(t *testing.T) {
	skipUnlessIntegration(t)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	instance := startPostgresContainer(ctx, t)
	defer stopContainer(ctx, t, instance)
	execAll(t, instance, schemas["postgres"]...)
	execAll(t, instance,
		`INSERT INTO customers (id, name) VALUES (1, 'alice')`,
		`INSERT INTO orders (id, customer_id, total, created_at) VALUES (1, 1, 3.00, '2024-01-01 00:00:00')`)

	fixture, err := dbtesting.New(shopData, "testdata", instance.Conn.DB, instance.Conn.Dialect,
		dbtesting.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	err = fixture.Tester.Prepare(ctx, tester.PrepareRequest{
		Dir:       "testdata/TestBrokenReference",
		Operation: dataset.OperationCleanInsert,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, dberrors.ErrDatabaseOperation)
	assert.Equal(t, "23503", dberrors.SQLState(err))

	// the failed run rolled back its delete too
	var count int64
	require.NoError(t, instance.Conn.DB.Raw(`SELECT COUNT(*) FROM orders WHERE id = 1`).Scan(&count).Error)
	assert.Equal(t, int64(1), count)
}
