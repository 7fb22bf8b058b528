package experiment

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// PostgresConfig configures the optional Postgres result sink,
// grounded on the teacher's database Config shape (connection pool
// tuning, a hard query timeout, disabled-unless-explicit-opt-in).
type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	QueryTimeout    time.Duration `yaml:"query_timeout"`
	Enabled         bool          `yaml:"enabled"`
}

// DefaultPostgresConfig mirrors the teacher's connection defaults.
// Enabled defaults to false: experiment sweeps run identically without
// a database, the JSONL sink is the only required output.
func DefaultPostgresConfig() PostgresConfig {
	return PostgresConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		QueryTimeout:    10 * time.Second,
		Enabled:         false,
	}
}

// PostgresStore persists each TaskResult as a row, for teams that want
// queryable experiment history beyond the append-only JSONL file.
// Expects a pre-migrated `experiment_runs` table:
//
//	CREATE TABLE experiment_runs (
//	    id SERIAL PRIMARY KEY,
//	    experiment_name TEXT NOT NULL,
//	    symbol TEXT NOT NULL,
//	    combo_id TEXT NOT NULL,
//	    params JSONB NOT NULL,
//	    metrics JSONB,
//	    status TEXT NOT NULL,
//	    error TEXT,
//	    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
type PostgresStore struct {
	db      *sqlx.DB
	expName string
	timeout time.Duration
}

// NewPostgresStore opens a connection pool per cfg and verifies
// connectivity with a bounded ping, matching the teacher's
// open-then-ping-then-configure-pool sequence. Returns a true nil
// ResultStore (not a typed nil *PostgresStore) when cfg is disabled,
// so callers can pass the result straight into newMultiStore without
// the typed-nil-in-an-interface pitfall.
func NewPostgresStore(cfg PostgresConfig, experimentName string) (ResultStore, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("experiment: postgres store enabled but dsn is empty")
	}

	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("experiment: open postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.QueryTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("experiment: ping postgres: %w", err)
	}

	return &PostgresStore{db: db, expName: experimentName, timeout: cfg.QueryTimeout}, nil
}

func (s *PostgresStore) Write(r TaskResult) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	paramsJSON, err := json.Marshal(r.Params)
	if err != nil {
		return fmt.Errorf("experiment: marshal params: %w", err)
	}
	var metricsJSON []byte
	if r.Metrics != nil {
		metricsJSON, err = json.Marshal(r.Metrics)
		if err != nil {
			return fmt.Errorf("experiment: marshal metrics: %w", err)
		}
	}

	query := `
		INSERT INTO experiment_runs (experiment_name, symbol, combo_id, params, metrics, status, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err = s.db.ExecContext(ctx, query, s.expName, r.Symbol, r.ComboID, paramsJSON, metricsJSON, r.Status, nullIfEmpty(r.Error))
	if err != nil {
		return fmt.Errorf("experiment: insert run: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return sql.NullString{}
	}
	return s
}
