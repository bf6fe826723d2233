package clickhouse_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"onchain-sip/internal/storage/clickhouse"
	"onchain-sip/internal/storage/migrations"
)

// setupTestDB starts a ClickHouse container, lets the migration runner create
// the database and returns a connection to it.
func setupTestDB(t *testing.T) *clickhouse.Conn {
	t.Helper()
	conn, _ := setupTestDBWithDSN(t, migrations.ClickhouseOptions{})
	return conn
}

// setupTestDBWithDSN is setupTestDB that also returns the DSN, for tests that
// rerun the migrations.
func setupTestDBWithDSN(t *testing.T, opts migrations.ClickhouseOptions) (*clickhouse.Conn, string) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "clickhouse/clickhouse-server:24.1-alpine",
		ExposedPorts: []string{"9000/tcp", "8123/tcp"},
		WaitingFor: wait.ForAll(
			wait.ForLog("Application: Ready for connections").
				WithStartupTimeout(60*time.Second),
			wait.ForListeningPort("9000/tcp"),
		),
		Env: map[string]string{
			"CLICKHOUSE_USER":     "default",
			"CLICKHOUSE_PASSWORD": "",
		},
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "9000")
	require.NoError(t, err)

	dsn := fmt.Sprintf("clickhouse://%s:%s/sip_test", host, port.Port())

	conn, err := migrations.RunClickhouseMigrations(ctx, dsn, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return conn, dsn
}
