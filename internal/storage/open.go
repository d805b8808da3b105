package storage

import (
	"context"
	"errors"
	"strings"

	"streambot/pkg/logx"
)

// Store is the minimal persistence API used by plugins.
type Store interface {
	AddSubscriber(ctx context.Context, plugin string, sub Subscriber) error
	RemoveSubscriber(ctx context.Context, plugin string, chatID int64, threadID int) (bool, error)
	Subscribers(ctx context.Context, plugin string) ([]Subscriber, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
