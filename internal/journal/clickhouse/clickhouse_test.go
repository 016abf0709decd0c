package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcclickhouse "github.com/testcontainers/testcontainers-go/modules/clickhouse"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/loykin/warden/internal/journal"
)

// startClickHouseContainer starts a ClickHouse container for tests and
// returns a native-protocol address. It skips the test when Docker is
// unavailable.
func startClickHouseContainer(t *testing.T) (addr string, terminate func()) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)

	container, err := tcclickhouse.Run(ctx,
		"clickhouse/clickhouse-server:24.3.2.23",
		tcclickhouse.WithUsername("default"),
		tcclickhouse.WithPassword(""),
		tcclickhouse.WithDatabase("default"),
		testcontainers.WithWaitStrategy(
			wait.ForHTTP("/ping").
				WithPort("8123/tcp").
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		cancel()
		t.Skipf("Failed to start ClickHouse container: %v", err)
		return "", nil
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		cancel()
		t.Skipf("Failed to get container host: %v", err)
		return "", nil
	}

	port, err := container.MappedPort(ctx, "9000")
	if err != nil {
		_ = container.Terminate(ctx)
		cancel()
		t.Skipf("Failed to get mapped port: %v", err)
		return "", nil
	}

	terminate = func() {
		_ = container.Terminate(ctx)
		cancel()
	}

	return host + ":" + port.Port(), terminate
}

// ensureTable creates the journal table; the sink only inserts.
func ensureTable(ctx context.Context, t *testing.T, sink *Sink, table string) {
	t.Helper()

	err := sink.conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+table+` (
			kind String,
			occurred_at DateTime64(6),
			service String,
			pid Int32,
			port Int32,
			health String,
			failures Int32,
			error String
		) ENGINE = MergeTree()
		ORDER BY (occurred_at, service)
	`)
	if err != nil {
		t.Fatalf("Failed to create table: %v", err)
	}
}

func TestClickHouseSinkIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	addr, terminate := startClickHouseContainer(t)
	defer terminate()

	ctx := context.Background()

	sink, err := New(addr, "service_events")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	}()

	ensureTable(ctx, t, sink, "service_events")

	entries := []journal.Entry{
		{Kind: "started", Service: "agent-runtime", PID: 4242, Port: 8100, OccurredAt: time.Now().UTC()},
		{Kind: "failed", Service: "tool-server", Port: 8200, Err: "spawn failed", OccurredAt: time.Now().UTC()},
	}
	for _, e := range entries {
		if err := sink.Send(ctx, e); err != nil {
			t.Fatalf("Send %s: %v", e.Kind, err)
		}
	}

	row := sink.conn.QueryRow(ctx, `SELECT COUNT(*) FROM service_events`)
	var n uint64
	if err := row.Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != uint64(len(entries)) {
		t.Fatalf("expected %d rows, got %d", len(entries), n)
	}
}

func TestClickHouseSinkUnreachable(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping connection test in short mode")
	}

	// Ping against a closed port must fail fast enough for tests.
	if _, err := New("127.0.0.1:1", "service_events"); err == nil {
		t.Fatal("expected error for unreachable ClickHouse")
	}
}
