package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const txRetries = 5

// SQLite is the durable Store backed by a single SQLite file. Documents are
// JSON blobs keyed by (table, id); equality queries go through
// json_extract.
type SQLite struct {
	conn *sqlx.DB
}

// OpenSQLite opens or creates the database at the given path.
func OpenSQLite(path string) (*SQLite, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// A single writer keeps transaction semantics simple; readers share it.
	conn.SetMaxOpenConns(1)

	s := &SQLite{conn: conn}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.conn.Close()
}

func (s *SQLite) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		tbl TEXT NOT NULL,
		id TEXT NOT NULL,
		data TEXT NOT NULL,
		PRIMARY KEY (tbl, id)
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		fn TEXT NOT NULL,
		args TEXT NOT NULL,
		run_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_run_at ON tasks(run_at);
	`
	_, err := s.conn.Exec(schema)
	return err
}

// RunTransaction runs fn inside a write transaction, retrying on lock
// contention.
func (s *SQLite) RunTransaction(ctx context.Context, fn func(tx Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < txRetries; attempt++ {
		err := s.runOnce(ctx, fn)
		if err == nil {
			return nil
		}
		if !isBusy(err) {
			return err
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 20 * time.Millisecond):
		}
	}
	return fmt.Errorf("%w: %v", ErrConflict, lastErr)
}

func (s *SQLite) runOnce(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.conn.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(&sqliteTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

func isBusy(err error) bool {
	return err != nil && strings.Contains(err.Error(), "database is locked")
}

// ClaimDue removes and returns tasks that have come due.
func (s *SQLite) ClaimDue(ctx context.Context, now int64, limit int) ([]Task, error) {
	var claimed []Task
	err := s.RunTransaction(ctx, func(txi Tx) error {
		tx := txi.(*sqliteTx).tx
		claimed = claimed[:0]
		rows := []Task{}
		if err := tx.Select(&rows,
			"SELECT id, fn, CAST(args AS BLOB) AS args, run_at FROM tasks WHERE run_at <= ? ORDER BY run_at LIMIT ?",
			now, limit,
		); err != nil {
			return err
		}
		for _, t := range rows {
			if _, err := tx.Exec("DELETE FROM tasks WHERE id = ?", t.ID); err != nil {
				return err
			}
		}
		claimed = rows
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

type sqliteTx struct {
	tx *sqlx.Tx
}

func (t *sqliteTx) Get(table, id string, out any) error {
	var data string
	err := t.tx.Get(&data, "SELECT data FROM documents WHERE tbl = ? AND id = ?", table, id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, table, id)
	}
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(data), out)
}

func (t *sqliteTx) Insert(table, id string, doc any) error {
	data, err := marshalDoc(doc)
	if err != nil {
		return fmt.Errorf("marshal %s/%s: %w", table, id, err)
	}
	_, err = t.tx.Exec("INSERT INTO documents (tbl, id, data) VALUES (?, ?, ?)", table, id, string(data))
	return err
}

func (t *sqliteTx) Replace(table, id string, doc any) error {
	data, err := marshalDoc(doc)
	if err != nil {
		return fmt.Errorf("marshal %s/%s: %w", table, id, err)
	}
	res, err := t.tx.Exec("UPDATE documents SET data = ? WHERE tbl = ? AND id = ?", string(data), table, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, table, id)
	}
	return nil
}

func (t *sqliteTx) Delete(table, id string) error {
	_, err := t.tx.Exec("DELETE FROM documents WHERE tbl = ? AND id = ?", table, id)
	return err
}

func (t *sqliteTx) Query(table string, eqs ...Eq) ([]json.RawMessage, error) {
	query := "SELECT data FROM documents WHERE tbl = ?"
	args := []any{table}
	for _, eq := range eqs {
		query += " AND json_extract(data, ?) = ?"
		args = append(args, "$."+eq.Field, eq.Value)
	}
	var rows []string
	if err := t.tx.Select(&rows, query, args...); err != nil {
		return nil, err
	}
	docs := make([]json.RawMessage, len(rows))
	for i, r := range rows {
		docs[i] = json.RawMessage(r)
	}
	return docs, nil
}

func (t *sqliteTx) MaxInt(table, field string, eqs ...Eq) (int64, bool, error) {
	query := "SELECT MAX(json_extract(data, ?)) FROM documents WHERE tbl = ?"
	args := []any{"$." + field, table}
	for _, eq := range eqs {
		query += " AND json_extract(data, ?) = ?"
		args = append(args, "$."+eq.Field, eq.Value)
	}
	var max sql.NullInt64
	if err := t.tx.Get(&max, query, args...); err != nil {
		return 0, false, err
	}
	if !max.Valid {
		return 0, false, nil
	}
	return max.Int64, true, nil
}

func (t *sqliteTx) Schedule(runAt int64, fn string, args any) error {
	data, err := marshalDoc(args)
	if err != nil {
		return fmt.Errorf("marshal task args: %w", err)
	}
	_, err = t.tx.Exec(
		"INSERT INTO tasks (id, fn, args, run_at) VALUES (?, ?, ?, ?)",
		uuid.NewString(), fn, string(data), runAt,
	)
	return err
}
