//go:build integration

package integration

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/arwahdevops/dbtester/internal/config"
	"github.com/arwahdevops/dbtester/internal/db"
	"github.com/arwahdevops/dbtester/internal/metrics"
)

const (
	postgresImage = "postgres:13-alpine"
	mysqlImage    = "mysql:8.0"
)

// TestDBInstance holds a started container and a connector to it.
type TestDBInstance struct {
	Container testcontainers.Container
	Conn      *db.Connector
	Config    config.DatabaseConfig
	Username  string
	Password  string
}

func mustPortInt(t *testing.T, port nat.Port) int {
	t.Helper()
	p, err := strconv.Atoi(port.Port())
	if err != nil {
		t.Fatalf("Failed to convert port %s to int: %v", port.Port(), err)
	}
	return p
}

type containerSpec struct {
	dialect  string
	image    string
	port     nat.Port
	env      map[string]string
	wait     wait.Strategy
	user     string
	password string
	dbName   string
}

func startPostgresContainer(ctx context.Context, t *testing.T) *TestDBInstance {
	t.Helper()
	return startContainer(ctx, t, containerSpec{
		dialect: "postgres",
		image:   postgresImage,
		port:    "5432/tcp",
		env: map[string]string{
			"POSTGRES_DB":       "testpgdb",
			"POSTGRES_USER":     "testpguser",
			"POSTGRES_PASSWORD": "testpgpass",
		},
		wait: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
		user:     "testpguser",
		password: "testpgpass",
		dbName:   "testpgdb",
	})
}

func startMySQLContainer(ctx context.Context, t *testing.T) *TestDBInstance {
	t.Helper()
	return startContainer(ctx, t, containerSpec{
		dialect: "mysql",
		image:   mysqlImage,
		port:    "3306/tcp",
		env: map[string]string{
			"MYSQL_DATABASE":      "testmysqldb",
			"MYSQL_USER":          "testmysqluser",
			"MYSQL_PASSWORD":      "testmysqlpass",
			"MYSQL_ROOT_PASSWORD": "r00t-secret",
		},
		wait:     wait.ForListeningPort("3306/tcp").WithStartupTimeout(120 * time.Second),
		user:     "testmysqluser",
		password: "testmysqlpass",
		dbName:   "testmysqldb",
	})
}

func startContainer(ctx context.Context, t *testing.T, spec containerSpec) *TestDBInstance {
	t.Helper()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        spec.image,
			ExposedPorts: []string{string(spec.port)},
			Env:          spec.env,
			WaitingFor:   spec.wait,
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("Failed to start %s container: %s", spec.dialect, err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("Failed to get %s container host: %s", spec.dialect, err)
	}
	mappedPort, err := container.MappedPort(ctx, spec.port)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("Failed to get mapped port for %s: %s", spec.dialect, err)
	}

	dbCfg := config.DatabaseConfig{
		Dialect: spec.dialect,
		Host:    host,
		Port:    mustPortInt(t, mappedPort),
		DBName:  spec.dbName,
		SSLMode: "disable",
	}
	// MySQL accepts TCP before it accepts logins.
	conn, err := db.ConnectWithRetry(ctx, dbCfg, spec.user, spec.password, db.RetryOptions{
		MaxRetries: 10,
		Interval:   2 * time.Second,
		Label:      spec.dialect,
	}, metrics.NewMetricsStore(), zap.NewNop())
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("Failed to connect to test %s instance: %s", spec.dialect, err)
	}

	t.Logf("%s container started. Host: %s, Port: %s", spec.dialect, host, mappedPort.Port())
	return &TestDBInstance{
		Container: container,
		Conn:      conn,
		Config:    dbCfg,
		Username:  spec.user,
		Password:  spec.password,
	}
}

func stopContainer(ctx context.Context, t *testing.T, instance *TestDBInstance) {
	t.Helper()
	if instance == nil {
		return
	}
	if instance.Conn != nil {
		if err := instance.Conn.Close(); err != nil {
			t.Logf("Warning: error closing connection for %s: %v", instance.Conn.Dialect, err)
		}
	}
	if instance.Container != nil {
		if err := instance.Container.Terminate(ctx); err != nil {
			t.Logf("Warning: failed to terminate container for %s: %s", instance.Config.Dialect, err)
		}
	}
}

// execAll runs schema statements in order and stops the test on failure.
func execAll(t *testing.T, instance *TestDBInstance, statements ...string) {
	t.Helper()
	for i, stmt := range statements {
		if err := instance.Conn.DB.Exec(stmt).Error; err != nil {
			t.Fatalf("Failed to execute statement #%d on %s: %v\n%s", i+1, instance.Config.Dialect, err, stmt)
		}
	}
}
