//go:build sqlite
// +build sqlite

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"streambot/pkg/logx"
)

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS subscribers (
			plugin    TEXT    NOT NULL,
			chat_id   INTEGER NOT NULL,
			thread_id INTEGER NOT NULL DEFAULT 0,
			added_by  INTEGER NOT NULL DEFAULT 0,
			at        TEXT    NOT NULL,
			PRIMARY KEY (plugin, chat_id, thread_id)
		)`)
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AddSubscriber(ctx context.Context, plugin string, sub Subscriber) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if sub.At.IsZero() {
		sub.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscribers(plugin, chat_id, thread_id, added_by, at) VALUES(?,?,?,?,?)
		 ON CONFLICT(plugin, chat_id, thread_id) DO NOTHING`,
		plugin, sub.ChatID, sub.ThreadID, sub.AddedBy, sub.At.Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) RemoveSubscriber(ctx context.Context, plugin string, chatID int64, threadID int) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrDisabled
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM subscribers WHERE plugin = ? AND chat_id = ? AND thread_id = ?`,
		plugin, chatID, threadID,
	)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *sqliteStore) Subscribers(ctx context.Context, plugin string) ([]Subscriber, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id, thread_id, added_by, at FROM subscribers WHERE plugin = ? ORDER BY at`,
		plugin,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Subscriber
	for rows.Next() {
		var sub Subscriber
		var at string
		if err := rows.Scan(&sub.ChatID, &sub.ThreadID, &sub.AddedBy, &at); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339Nano, at); err == nil {
			sub.At = t
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}
