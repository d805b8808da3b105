//go:build !sqlite
// +build !sqlite

package storage

import (
	"errors"

	"streambot/pkg/logx"
)

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	return nil, errors.New("sqlite storage not compiled in (build with -tags sqlite)")
}
