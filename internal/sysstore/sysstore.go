// Package sysstore models the platform registry of pending notification
// triggers. The harness only ever observes it through the scheduler; the
// in-process implementation here exists so the whole pipeline can be
// exercised end-to-end without a real OS notification center.
package sysstore

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"alarmdiag/internal/alarm"
	"alarmdiag/internal/eventbus"
	logx "alarmdiag/pkg/logx"
)

var ErrClosed = errors.New("system store closed")

// Store is the system notification store boundary.
//
// Schedule upserts by ID: re-scheduling an existing trigger replaces it
// instead of duplicating it. Pending returns a point-in-time snapshot in the
// store's native order (insertion order, not sorted by time).
type Store interface {
	Schedule(ctx context.Context, e alarm.ScheduledEntry) error
	Pending(ctx context.Context) ([]alarm.ScheduledEntry, error)
	Cancel(ctx context.Context, id string) error
	CancelAll(ctx context.Context) error
	// PermissionStatus reports the platform notification permission as an
	// enum-like string ("granted", "denied", "unknown", ...).
	PermissionStatus(ctx context.Context) string
	Close()
}

type trigger struct {
	entry alarm.ScheduledEntry
	timer *time.Timer
	ver   uint64
	seq   uint64
}

// Local is a timer-backed Store. "Delivery" means logging the notification
// and publishing an alarm.delivered event; display is outside this process.
type Local struct {
	log logx.Logger
	bus eventbus.Bus

	mu       sync.Mutex
	closed   bool
	triggers map[string]*trigger
	seq      uint64
	ver      uint64
}

func NewLocal(log logx.Logger, bus eventbus.Bus) *Local {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Local{log: log, bus: bus, triggers: map[string]*trigger{}}
}

func (s *Local) Schedule(ctx context.Context, e alarm.ScheduledEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.ID == "" {
		return errors.New("entry id required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	// Upsert: stop any existing timer for this ID, keep its insertion slot.
	seq := s.seq
	if old, ok := s.triggers[e.ID]; ok {
		if old.timer != nil {
			old.timer.Stop()
		}
		seq = old.seq
	} else {
		s.seq++
		seq++
	}

	s.ver++
	ver := s.ver
	tr := &trigger{entry: e, ver: ver, seq: seq}

	if e.TriggerAt != nil {
		delay := time.Until(*e.TriggerAt)
		if delay < 0 {
			delay = 0
		}
		id := e.ID
		tr.timer = time.AfterFunc(delay, func() { s.fire(id, ver) })
	}
	s.triggers[e.ID] = tr
	return nil
}

// fire delivers a trigger unless it was replaced or canceled in the meantime.
func (s *Local) fire(id string, ver uint64) {
	s.mu.Lock()
	tr, ok := s.triggers[id]
	if !ok || tr.ver != ver {
		s.mu.Unlock()
		return
	}
	delete(s.triggers, id)
	entry := tr.entry
	bus := s.bus
	s.mu.Unlock()

	s.log.Info("notification delivered", logx.String("id", entry.ID), logx.String("title", entry.Title))
	if bus != nil {
		bus.Publish(eventbus.Event{Type: eventbus.TypeAlarmDelivered, Data: entry})
	}
}

func (s *Local) Pending(ctx context.Context) ([]alarm.ScheduledEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	type slot struct {
		seq uint64
		e   alarm.ScheduledEntry
	}
	slots := make([]slot, 0, len(s.triggers))
	for _, tr := range s.triggers {
		slots = append(slots, slot{seq: tr.seq, e: tr.entry})
	}
	// Native order is insertion order.
	sort.Slice(slots, func(i, j int) bool { return slots[i].seq < slots[j].seq })

	out := make([]alarm.ScheduledEntry, 0, len(slots))
	for _, sl := range slots {
		out = append(out, sl.e)
	}
	return out, nil
}

func (s *Local) Cancel(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if tr, ok := s.triggers[id]; ok {
		if tr.timer != nil {
			tr.timer.Stop()
		}
		delete(s.triggers, id)
	}
	return nil
}

func (s *Local) CancelAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	for id, tr := range s.triggers {
		if tr.timer != nil {
			tr.timer.Stop()
		}
		delete(s.triggers, id)
	}
	return nil
}

// PermissionStatus is always "granted" for the in-process store; there is no
// platform permission to ask for.
func (s *Local) PermissionStatus(ctx context.Context) string {
	_ = ctx
	return "granted"
}

func (s *Local) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, tr := range s.triggers {
		if tr.timer != nil {
			tr.timer.Stop()
		}
		delete(s.triggers, id)
	}
}
