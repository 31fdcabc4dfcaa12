package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/zen-systems/modelgate/pkg/adapter"
)

const (
	defaultDBMaxOpenConns    = 10
	defaultDBMaxIdleConns    = 5
	defaultDBConnMaxLifetime = 30 * time.Minute
	defaultDBPingTimeout     = 5 * time.Second
)

// SQLSink stores records in a usage_records table. It backs both the SQLite
// and the Postgres ledgers; only placeholders and column types differ.
type SQLSink struct {
	db      *sql.DB
	dialect dialect
}

type dialect struct {
	name        string
	placeholder func(i int) string
	schema      string
}

var sqliteDialect = dialect{
	name:        "sqlite",
	placeholder: func(int) string { return "?" },
	schema: `CREATE TABLE IF NOT EXISTS usage_records (
		execution_id TEXT PRIMARY KEY,
		subject TEXT NOT NULL DEFAULT '',
		tier TEXT NOT NULL,
		mode TEXT NOT NULL,
		models TEXT NOT NULL,
		success INTEGER NOT NULL,
		prompt_tokens INTEGER NOT NULL,
		completion_tokens INTEGER NOT NULL,
		total_tokens INTEGER NOT NULL,
		cost_usd REAL NOT NULL,
		calls TEXT NOT NULL,
		created_at_ms INTEGER NOT NULL
	)`,
}

var postgresDialect = dialect{
	name:        "postgres",
	placeholder: func(i int) string { return fmt.Sprintf("$%d", i) },
	schema: `CREATE TABLE IF NOT EXISTS usage_records (
		execution_id TEXT PRIMARY KEY,
		subject TEXT NOT NULL DEFAULT '',
		tier TEXT NOT NULL,
		mode TEXT NOT NULL,
		models TEXT NOT NULL,
		success INTEGER NOT NULL,
		prompt_tokens BIGINT NOT NULL,
		completion_tokens BIGINT NOT NULL,
		total_tokens BIGINT NOT NULL,
		cost_usd DOUBLE PRECISION NOT NULL,
		calls TEXT NOT NULL,
		created_at_ms BIGINT NOT NULL
	)`,
}

// OpenSQLite opens (or creates) a SQLite ledger at path.
func OpenSQLite(path string) (*SQLSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	return newSQLSink(db, sqliteDialect)
}

// OpenPostgres connects to a Postgres ledger through the pgx stdlib driver.
func OpenPostgres(dsn string) (*SQLSink, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	db.SetMaxOpenConns(defaultDBMaxOpenConns)
	db.SetMaxIdleConns(defaultDBMaxIdleConns)
	db.SetConnMaxLifetime(defaultDBConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(context.Background(), defaultDBPingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	return newSQLSink(db, postgresDialect)
}

func newSQLSink(db *sql.DB, d dialect) (*SQLSink, error) {
	if _, err := db.Exec(d.schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create %s ledger schema: %w", d.name, err)
	}
	return &SQLSink{db: db, dialect: d}, nil
}

// Close closes the underlying database.
func (s *SQLSink) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLSink) placeholders(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = s.dialect.placeholder(i + 1)
	}
	return strings.Join(parts, ", ")
}

// Record implements Sink.
func (s *SQLSink) Record(ctx context.Context, rec Record) error {
	models, err := json.Marshal(rec.Models)
	if err != nil {
		return err
	}
	calls, err := json.Marshal(rec.Calls)
	if err != nil {
		return err
	}
	success := 0
	if rec.Success {
		success = 1
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := fmt.Sprintf(`INSERT INTO usage_records (
		execution_id, subject, tier, mode, models, success,
		prompt_tokens, completion_tokens, total_tokens, cost_usd, calls, created_at_ms
	) VALUES (%s)`, s.placeholders(12))

	_, err = s.db.ExecContext(ctx, query,
		rec.ExecutionID, rec.Subject, rec.Tier, rec.Mode, string(models), success,
		rec.Usage.PromptTokens, rec.Usage.CompletionTokens, rec.Usage.TotalTokens,
		rec.Cost.Amount, string(calls), createdAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

// Usage implements Querier. It sums successful executions only.
func (s *SQLSink) Usage(ctx context.Context, subject string, since time.Time) (adapter.Usage, error) {
	query := fmt.Sprintf(`SELECT
		CAST(COALESCE(SUM(prompt_tokens), 0) AS BIGINT),
		CAST(COALESCE(SUM(completion_tokens), 0) AS BIGINT),
		CAST(COALESCE(SUM(total_tokens), 0) AS BIGINT)
	FROM usage_records
	WHERE subject = %s AND created_at_ms >= %s AND success = 1`,
		s.dialect.placeholder(1), s.dialect.placeholder(2))

	var prompt, completion, total int64
	if err := s.db.QueryRowContext(ctx, query, subject, since.UnixMilli()).Scan(&prompt, &completion, &total); err != nil {
		return adapter.Usage{}, fmt.Errorf("query usage: %w", err)
	}
	return adapter.Usage{
		PromptTokens:     int(prompt),
		CompletionTokens: int(completion),
		TotalTokens:      int(total),
	}, nil
}

// Get loads a single record by execution id.
func (s *SQLSink) Get(ctx context.Context, executionID string) (Record, error) {
	query := fmt.Sprintf(`SELECT execution_id, subject, tier, mode, models, success,
		prompt_tokens, completion_tokens, total_tokens, cost_usd, calls, created_at_ms
	FROM usage_records WHERE execution_id = %s`, s.dialect.placeholder(1))

	var (
		rec                       Record
		models, calls             string
		success                   int
		prompt, completion, total int64
		createdAt                 int64
	)
	err := s.db.QueryRowContext(ctx, query, executionID).Scan(
		&rec.ExecutionID, &rec.Subject, &rec.Tier, &rec.Mode, &models, &success,
		&prompt, &completion, &total, &rec.Cost.Amount, &calls, &createdAt,
	)
	if err != nil {
		return Record{}, fmt.Errorf("get usage record: %w", err)
	}
	if err := json.Unmarshal([]byte(models), &rec.Models); err != nil {
		return Record{}, fmt.Errorf("decode models: %w", err)
	}
	if err := json.Unmarshal([]byte(calls), &rec.Calls); err != nil {
		return Record{}, fmt.Errorf("decode calls: %w", err)
	}
	rec.Success = success == 1
	rec.Usage = adapter.Usage{PromptTokens: int(prompt), CompletionTokens: int(completion), TotalTokens: int(total)}
	rec.Cost.Currency = "USD"
	rec.CreatedAt = time.UnixMilli(createdAt).UTC()
	return rec, nil
}
