package alarm

import (
	"context"
	"time"
)

// Alarm is an application-level scheduled reminder intended to produce one
// system notification trigger. This is the registry record the scheduler
// persists; the harness only ever reads it through diagnostic accessors.
type Alarm struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	TriggerAt time.Time `json:"trigger_at"`
	// Repeat is an optional cron spec. Empty means one-shot.
	Repeat  string            `json:"repeat,omitempty"`
	Payload map[string]string `json:"payload,omitempty"`
}

// ScheduledEntry is a point-in-time view of one live trigger in the system
// notification store. Entries are created and destroyed entirely by the
// scheduler and the OS; the harness never caches them across calls.
type ScheduledEntry struct {
	ID        string
	Title     string
	TriggerAt *time.Time // nil when the store reports no trigger time
	Payload   map[string]string
}

// DiagnosticReport carries three independently sourced counts taken within a
// single diagnostic pass. Disagreement between them is the signal a human
// diagnoses; nothing in this module reconciles them.
type DiagnosticReport struct {
	PermissionStatus     string
	SystemScheduledCount int
	TrackedAlarmsCount   int
	StoredAlarmsCount    int
	Detail               string
}

// TestRequestResult reports the outcome of one test dispatch. A non-empty
// NotificationID means the scheduler accepted the request; absence means
// failure. Faults never escape past the dispatch boundary.
type TestRequestResult struct {
	NotificationID string
}

// OK reports whether the dispatch produced an identifier.
func (r TestRequestResult) OK() bool { return r.NotificationID != "" }

// Collaborator is the scheduler contract the harness consumes. The scheduler's
// persistence and OS-level delivery live behind this interface; the harness
// only sequences calls and reports outcomes.
type Collaborator interface {
	ListAllScheduledEntries(ctx context.Context) ([]ScheduledEntry, error)
	GetDiagnosticInfo(ctx context.Context) (DiagnosticReport, error)
	TestImmediateNotification(ctx context.Context) (string, error)
	TestScheduledNotification(ctx context.Context, delaySeconds int) (string, error)
	ForceRefreshScheduling(ctx context.Context) error
	CleanupOrphanedNotifications(ctx context.Context) error
}
