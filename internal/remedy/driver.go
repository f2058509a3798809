// Package remedy sequences the collaborator's maintenance operations. The
// policy inside them (what counts as an orphan, how refresh recomputes
// triggers) belongs to the collaborator; this driver only triggers a call and
// reports a distinguishable success or failure.
package remedy

import (
	"context"
	"time"

	"alarmdiag/internal/alarm"
	"alarmdiag/internal/eventbus"
	logx "alarmdiag/pkg/logx"
)

// Outcome reports one remediation attempt. Failure is never silently
// absorbed: Err carries the collaborator's error when OK is false.
type Outcome struct {
	Op   string
	OK   bool
	Err  error
	Took time.Duration
}

type Driver struct {
	collab alarm.Collaborator
	log    logx.Logger
	bus    eventbus.Bus
}

func New(collab alarm.Collaborator, log logx.Logger, bus eventbus.Bus) *Driver {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Driver{collab: collab, log: log, bus: bus}
}

// ForceRefresh re-registers every tracked alarm's OS-level trigger.
// Duplicate avoidance is the collaborator's responsibility; two consecutive
// refreshes must be safe.
func (d *Driver) ForceRefresh(ctx context.Context) Outcome {
	return d.run(ctx, "force_refresh", d.collab.ForceRefreshScheduling)
}

// CleanupOrphans removes triggers and records the collaborator considers
// drifted. No compensating action is attempted on failure; the registry and
// store stay in whatever state the collaborator left them.
func (d *Driver) CleanupOrphans(ctx context.Context) Outcome {
	return d.run(ctx, "cleanup_orphans", d.collab.CleanupOrphanedNotifications)
}

func (d *Driver) run(ctx context.Context, op string, call func(context.Context) error) Outcome {
	start := time.Now()
	err := call(ctx)
	out := Outcome{Op: op, OK: err == nil, Err: err, Took: time.Since(start)}

	if out.OK {
		d.log.Info("remediation succeeded", logx.String("op", op), logx.Duration("took", out.Took))
		if d.bus != nil {
			d.bus.Publish(eventbus.Event{Type: eventbus.TypeRemedyOK, Data: op})
		}
	} else {
		d.log.Error("remediation failed", logx.String("op", op), logx.Err(err), logx.Duration("took", out.Took))
		if d.bus != nil {
			d.bus.Publish(eventbus.Event{Type: eventbus.TypeRemedyFailed, Data: map[string]string{"op": op, "err": err.Error()}})
		}
	}
	return out
}
