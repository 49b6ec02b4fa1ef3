// Package store opens the game.Store backend named by a database URL.
package store

import (
	"context"
	"fmt"
	"strings"

	"azeuqer/internal/game"
	"azeuqer/internal/store/postgres"
	"azeuqer/internal/store/sqlite"
)

// Backend is a game.Store that owns its connections.
type Backend interface {
	game.Store
	Close() error
}

type Options struct {
	MaxConns    int32
	AutoMigrate bool
}

// Open dispatches on the URL scheme: sqlite:<path> or file:<path> opens the
// embedded store, anything else is handed to pgx.
func Open(ctx context.Context, databaseURL string, opts Options) (Backend, error) {
	url := strings.TrimSpace(databaseURL)
	if path, ok := sqlitePath(url); ok {
		return sqlite.Open(path)
	}
	pool, err := postgres.Connect(ctx, url, opts.MaxConns)
	if err != nil {
		return nil, err
	}
	s := postgres.New(pool)
	if opts.AutoMigrate {
		if err := s.Migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return s, nil
}

func sqlitePath(url string) (string, bool) {
	for _, prefix := range []string{"sqlite://", "sqlite:", "file:"} {
		if strings.HasPrefix(url, prefix) {
			return strings.TrimPrefix(url, prefix), true
		}
	}
	return "", false
}
