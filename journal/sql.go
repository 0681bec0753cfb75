package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shaharia-lab/mcpclient/observability"
)

// Dialect names the SQL flavour of the journal database. Its value is also
// the database/sql driver name.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "postgres"
)

// Valid reports whether d is a supported dialect.
func (d Dialect) Valid() bool {
	return d == DialectSQLite || d == DialectPostgres
}

// bind rewrites ? placeholders into the numbered form Postgres expects.
func (d Dialect) bind(query string) string {
	if d != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d Dialect) createTableSQL() string {
	successType, timeType, durationType := "INTEGER", "DATETIME", "INTEGER"
	if d == DialectPostgres {
		successType, timeType, durationType = "BOOLEAN", "TIMESTAMPTZ", "BIGINT"
	}
	return fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS tool_calls (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL DEFAULT '',
		tool TEXT NOT NULL,
		source TEXT NOT NULL,
		arguments TEXT NOT NULL DEFAULT '{}',
		success %s NOT NULL,
		error_kind TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT '',
		output TEXT NOT NULL DEFAULT '',
		started_at %s NOT NULL,
		duration_ms %s NOT NULL DEFAULT 0
	);`, successType, timeType, durationType)
}

// SQLRecorder stores entries in a SQLite or Postgres database.
type SQLRecorder struct {
	db      *sql.DB
	dialect Dialect
	logger  observability.Logger
}

// NewSQLiteRecorder opens (or creates) the SQLite database at path.
func NewSQLiteRecorder(path string, logger observability.Logger) (*SQLRecorder, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to journal database: %w", err)
	}
	return NewSQLRecorder(db, DialectSQLite, logger)
}

// NewPostgresRecorder connects to the Postgres database described by dsn.
func NewPostgresRecorder(dsn string, logger observability.Logger) (*SQLRecorder, error) {
	db, err := sql.Open(string(DialectPostgres), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to journal database: %w", err)
	}
	return NewSQLRecorder(db, DialectPostgres, logger)
}

// NewSQLRecorder wraps db and makes sure the journal table exists. The
// recorder owns db and closes it on Close, or right away when schema setup fails.
func NewSQLRecorder(db *sql.DB, dialect Dialect, logger observability.Logger) (*SQLRecorder, error) {
	if !dialect.Valid() {
		db.Close()
		return nil, fmt.Errorf("unsupported journal dialect %q", dialect)
	}
	if logger == nil {
		logger = observability.NewNullLogger()
	}
	r := &SQLRecorder{db: db, dialect: dialect, logger: logger}

	if err := r.initSchema(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize journal schema: %w", err)
	}
	return r, nil
}

func (r *SQLRecorder) initSchema(ctx context.Context) error {
	createTableSQL := r.dialect.createTableSQL()
	createIndexSQL := `CREATE INDEX IF NOT EXISTS idx_tool_calls_started_at ON tool_calls (started_at);`

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for schema init: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, createTableSQL); err != nil {
		return fmt.Errorf("failed to create tool_calls table: %w", err)
	}
	if _, err := tx.ExecContext(ctx, createIndexSQL); err != nil {
		return fmt.Errorf("failed to create tool_calls index: %w", err)
	}
	return tx.Commit()
}

func (r *SQLRecorder) Record(ctx context.Context, entry Entry) error {
	if entry.Tool == "" {
		return fmt.Errorf("journal entry has no tool name")
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.StartedAt.IsZero() {
		entry.StartedAt = time.Now().UTC()
	}
	args := string(entry.Arguments)
	if args == "" {
		args = "{}"
	}

	_, err := r.db.ExecContext(ctx,
		r.dialect.bind(`INSERT INTO tool_calls (id, session_id, tool, source, arguments, success, error_kind, error_message, output, started_at, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		entry.ID, entry.SessionID, entry.Tool, string(entry.Source), args, entry.Success,
		entry.ErrorKind, entry.ErrorMessage, entry.Output, entry.StartedAt.UTC(), entry.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert journal entry: %w", err)
	}

	r.logger.WithFields(map[string]interface{}{"id": entry.ID, "tool": entry.Tool}).Debug("Recorded tool call")
	return nil
}

const selectColumns = `id, session_id, tool, source, arguments, success, error_kind, error_message, output, started_at, duration_ms`

func (r *SQLRecorder) Get(ctx context.Context, id string) (*Entry, error) {
	row := r.db.QueryRowContext(ctx, r.dialect.bind(`SELECT `+selectColumns+` FROM tool_calls WHERE id = ?`), id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load journal entry: %w", err)
	}
	return e, nil
}

// List returns matching entries, newest first.
func (r *SQLRecorder) List(ctx context.Context, filter Filter) ([]Entry, error) {
	var where []string
	var args []interface{}
	if filter.Tool != "" {
		where = append(where, "tool = ?")
		args = append(args, filter.Tool)
	}
	if filter.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, filter.SessionID)
	}
	if !filter.Since.IsZero() {
		where = append(where, "started_at >= ?")
		args = append(args, filter.Since.UTC())
	}

	query := `SELECT ` + selectColumns + ` FROM tool_calls`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY started_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, r.dialect.bind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan journal entry: %w", err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read journal rows: %w", err)
	}
	return out, nil
}

func (r *SQLRecorder) Close() error {
	return r.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(s scanner) (*Entry, error) {
	var (
		e          Entry
		source     string
		arguments  string
		durationMs int64
	)
	if err := s.Scan(&e.ID, &e.SessionID, &e.Tool, &source, &arguments, &e.Success,
		&e.ErrorKind, &e.ErrorMessage, &e.Output, &e.StartedAt, &durationMs); err != nil {
		return nil, err
	}
	e.Source = Source(source)
	e.Arguments = []byte(arguments)
	e.Duration = time.Duration(durationMs) * time.Millisecond
	return &e, nil
}
