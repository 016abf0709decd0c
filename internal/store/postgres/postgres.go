package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/loykin/warden/internal/store"
)

// DB implements store.Store for PostgreSQL via the pgx stdlib driver.

type DB struct {
	db *sql.DB
}

// New opens a PostgreSQL pool for dsn. No connection is made until first use.
func New(dsn string) (*DB, error) {
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, &store.Error{Op: "open", Err: err}
	}
	return &DB{db: d}, nil
}

func (p *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS service_state(
			name TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			pid INTEGER NULL,
			port INTEGER NOT NULL,
			health_failures INTEGER NOT NULL DEFAULT 0,
			last_health_check TIMESTAMPTZ NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_service_state_status ON service_state(status);`,
	}
	for _, q := range stmts {
		if _, err := p.db.ExecContext(ctx, q); err != nil {
			return &store.Error{Op: "ensure schema", Err: err}
		}
	}
	return nil
}

func (p *DB) Close() error { return p.db.Close() }

func (p *DB) Upsert(ctx context.Context, rec store.Record) error {
	rec.UpdatedAt = time.Now().UTC()
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO service_state(name, status, pid, port, health_failures, last_health_check, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT(name) DO UPDATE SET
			status=EXCLUDED.status,
			pid=EXCLUDED.pid,
			port=EXCLUDED.port,
			health_failures=EXCLUDED.health_failures,
			last_health_check=EXCLUDED.last_health_check,
			updated_at=EXCLUDED.updated_at;`,
		rec.Name, rec.Status, nullPID(rec.PID), rec.Port, rec.HealthFailures, nullTime(rec.LastHealthCheck), rec.UpdatedAt)
	if err != nil {
		return &store.Error{Op: "upsert", Err: err}
	}
	return nil
}

func (p *DB) RecordHealth(ctx context.Context, name string, failures int, checkedAt time.Time) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE service_state
		SET health_failures=$1, last_health_check=$2, updated_at=$3
		WHERE name=$4;`,
		failures, checkedAt.UTC(), time.Now().UTC(), name)
	if err != nil {
		return &store.Error{Op: "record health", Err: err}
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (p *DB) Get(ctx context.Context, name string) (store.Record, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT name, status, pid, port, health_failures, last_health_check, updated_at
		FROM service_state WHERE name=$1;`, name)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Record{}, store.ErrNotFound
	}
	if err != nil {
		return store.Record{}, &store.Error{Op: "get", Err: err}
	}
	return rec, nil
}

func (p *DB) List(ctx context.Context) ([]store.Record, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT name, status, pid, port, health_failures, last_health_check, updated_at
		FROM service_state ORDER BY name;`)
	if err != nil {
		return nil, &store.Error{Op: "list", Err: err}
	}
	defer func() { _ = rows.Close() }()
	out := make([]store.Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, &store.Error{Op: "list", Err: err}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &store.Error{Op: "list", Err: err}
	}
	return out, nil
}

func (p *DB) Delete(ctx context.Context, name string) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM service_state WHERE name=$1;`, name); err != nil {
		return &store.Error{Op: "delete", Err: err}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (store.Record, error) {
	var r store.Record
	var pid sql.NullInt64
	var lhc sql.NullTime
	if err := row.Scan(&r.Name, &r.Status, &pid, &r.Port, &r.HealthFailures, &lhc, &r.UpdatedAt); err != nil {
		return store.Record{}, err
	}
	if pid.Valid {
		r.PID = int(pid.Int64)
	}
	if lhc.Valid {
		r.LastHealthCheck = lhc.Time
	}
	return r, nil
}

func nullPID(pid int) any {
	if pid > 0 {
		return pid
	}
	return nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
