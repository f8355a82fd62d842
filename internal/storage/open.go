package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "beacon/pkg/logx"
)

// Store is the minimal persistence API used by the readiness tracker,
// the display dedup cache, and the housekeeping sweep.
type Store interface {
	PutResource(ctx context.Context, r ResourceRecord) error
	ListResources(ctx context.Context) ([]ResourceRecord, error)
	PruneResources(ctx context.Context, status string, olderThan time.Time) (int, error)

	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)
	PruneDedup(ctx context.Context, now time.Time) (int, error)

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
