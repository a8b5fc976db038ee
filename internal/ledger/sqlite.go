package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "vigil/pkg/logx"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS activity (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	component   TEXT    NOT NULL,
	at          TEXT    NOT NULL,
	description TEXT    NOT NULL,
	context     TEXT
);
CREATE INDEX IF NOT EXISTS idx_activity_component_id ON activity(component, id);
`

type sqliteStore struct {
	db  *sql.DB
	max int
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("ledger.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one connection serializes writers
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ledger migrate: %w", err)
	}
	return &sqliteStore{db: db, max: cfg.MaxRecords, log: log}, nil
}

func (s *sqliteStore) Append(ctx context.Context, component string, r Record) error {
	if err := validComponent(component); err != nil {
		return err
	}
	if r.Time.IsZero() {
		r.Time = time.Now()
	}
	var meta any
	if len(r.Context) > 0 {
		b, err := json.Marshal(r.Context)
		if err != nil {
			return err
		}
		meta = string(b)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO activity(component, at, description, context) VALUES(?,?,?,?)`,
		component, r.Time.UTC().Format(time.RFC3339Nano), r.Description, meta,
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM activity WHERE component = ? AND id NOT IN (
			SELECT id FROM activity WHERE component = ? ORDER BY id DESC LIMIT ?
		)`,
		component, component, s.max,
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) Records(ctx context.Context, component string, limit int) ([]Record, error) {
	if err := validComponent(component); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > s.max {
		limit = s.max
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, description, context FROM activity WHERE component = ? ORDER BY id DESC LIMIT ?`,
		component, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			at, desc string
			meta     sql.NullString
		)
		if err := rows.Scan(&at, &desc, &meta); err != nil {
			return nil, err
		}
		r := Record{Description: desc}
		r.Time, _ = time.Parse(time.RFC3339Nano, at)
		if meta.Valid && meta.String != "" {
			_ = json.Unmarshal([]byte(meta.String), &r.Context)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// newest-first from the query; callers get append order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *sqliteStore) Components(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT component FROM activity ORDER BY component`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
