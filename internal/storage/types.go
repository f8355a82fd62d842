package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (snapshot + jsonl journal)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// ResourceRecord is one persisted per-resource readiness entry.
type ResourceRecord struct {
	Resource  string    `json:"resource"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}
