package storage

import (
	"context"
	"errors"
	"strings"

	"alarmdiag/internal/alarm"
	logx "alarmdiag/pkg/logx"
)

// Store is the persisted alarm registry plus the harness audit trail.
//
// The registry is the "stored" source of truth a diagnostic pass counts
// against the scheduler's tracked set and the live system store.
type Store interface {
	PutAlarm(ctx context.Context, a alarm.Alarm) error
	DeleteAlarm(ctx context.Context, id string) error
	ListAlarms(ctx context.Context) ([]alarm.Alarm, error)
	CountAlarms(ctx context.Context) (int, error)

	AppendAudit(ctx context.Context, e AuditEntry) error
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
