package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file
//   - "file":   dependency-free file backend (jsonl + snapshot)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// AuditEntry records one harness action (console command or session step).
// Keep it compact and schema-stable.
type AuditEntry struct {
	At     time.Time
	Action string
	Target string
	OK     bool
	Error  string
	TookMS int64
	Detail string
}
