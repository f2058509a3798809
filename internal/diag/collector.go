// Package diag implements the diagnostic collector: point-in-time snapshots
// of live scheduled work and the three-count drift report.
package diag

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"alarmdiag/internal/alarm"
	"alarmdiag/internal/eventbus"
	logx "alarmdiag/pkg/logx"
)

// ErrUnavailable wraps any store/collaborator query failure. Callers see a
// failure, never an empty report passed off as success.
var ErrUnavailable = errors.New("diagnostics unavailable")

// EntryStatus is one live trigger annotated with its time-to-fire.
type EntryStatus struct {
	Entry alarm.ScheduledEntry

	// MinutesUntilTrigger is round((trigger-now)/1min). Only meaningful
	// when Known is true; entries without a trigger time report Known=false.
	MinutesUntilTrigger int
	Known               bool
}

type Collector struct {
	collab alarm.Collaborator
	log    logx.Logger
	bus    eventbus.Bus

	// now is a test seam; defaults to time.Now.
	now func() time.Time
}

func NewCollector(collab alarm.Collaborator, log logx.Logger, bus eventbus.Bus) *Collector {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Collector{collab: collab, log: log, bus: bus, now: time.Now}
}

// CollectScheduledSnapshot queries the system store once and returns entries
// in the store's native order. The store is never mutated. A query failure
// propagates as a single diagnostics-unavailable error.
func (c *Collector) CollectScheduledSnapshot(ctx context.Context) ([]EntryStatus, error) {
	entries, err := c.collab.ListAllScheduledEntries(ctx)
	if err != nil {
		c.log.Error("scheduled snapshot failed", logx.Err(err))
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if len(entries) == 0 {
		c.log.Info("no notifications scheduled")
		return []EntryStatus{}, nil
	}

	now := c.now()
	out := make([]EntryStatus, 0, len(entries))
	for _, e := range entries {
		st := EntryStatus{Entry: e}
		if e.TriggerAt != nil {
			st.MinutesUntilTrigger = int(math.Round(e.TriggerAt.Sub(now).Minutes()))
			st.Known = true
		}
		out = append(out, st)
	}

	c.log.Debug("scheduled snapshot collected", logx.Int("entries", len(out)))
	return out, nil
}

// CollectDiagnosticReport surfaces the collaborator's three counts verbatim.
// Drift between them is the signal a human diagnoses; collapsing or
// "fixing" the numbers here would destroy that signal.
func (c *Collector) CollectDiagnosticReport(ctx context.Context) (alarm.DiagnosticReport, error) {
	rep, err := c.collab.GetDiagnosticInfo(ctx)
	if err != nil {
		c.log.Error("diagnostic report failed", logx.Err(err))
		return alarm.DiagnosticReport{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	c.log.Info("diagnostic report",
		logx.String("permission", rep.PermissionStatus),
		logx.Int("system_scheduled", rep.SystemScheduledCount),
		logx.Int("tracked", rep.TrackedAlarmsCount),
		logx.Int("stored", rep.StoredAlarmsCount))
	if c.bus != nil {
		c.bus.Publish(eventbus.Event{Type: eventbus.TypeDiagReport, Data: rep})
	}
	return rep, nil
}
