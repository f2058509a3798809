package scheduler

import (
	"context"
	"fmt"

	"alarmdiag/internal/alarm"
	logx "alarmdiag/pkg/logx"
)

// ForceRefreshScheduling recomputes every tracked alarm's trigger time and
// re-registers it with the system store. Registration is an upsert by ID, so
// running a refresh twice in a row cannot produce duplicate triggers.
func (s *Service) ForceRefreshScheduling(ctx context.Context) error {
	tracked := s.trackedSnapshot()

	var firstErr error
	refreshed := 0
	for _, a := range tracked {
		at, err := s.nextTrigger(a)
		if err != nil {
			s.log.Warn("refresh skipped alarm", logx.String("id", a.ID), logx.Err(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		entry := alarm.ScheduledEntry{ID: a.ID, Title: a.Title, TriggerAt: &at, Payload: a.Payload}
		if err := s.sys.Schedule(ctx, entry); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("re-register %s: %w", a.ID, err)
			}
			continue
		}
		refreshed++
	}

	s.log.Info("scheduling refreshed", logx.Int("refreshed", refreshed), logx.Int("tracked", len(tracked)))
	return firstErr
}

// CleanupOrphanedNotifications removes both kinds of drift:
//
//   - live triggers with no tracked and no stored record (orphans; this
//     includes leftover diagnostic test entries)
//   - stored records with no tracked alarm and no live trigger (stale)
func (s *Service) CleanupOrphanedNotifications(ctx context.Context) error {
	pending, err := s.sys.Pending(ctx)
	if err != nil {
		return fmt.Errorf("system store query: %w", err)
	}

	tracked := s.trackedSnapshot()

	stored := map[string]bool{}
	if s.store != nil {
		alarms, err := s.store.ListAlarms(ctx)
		if err != nil {
			return fmt.Errorf("stored registry query: %w", err)
		}
		for _, a := range alarms {
			stored[a.ID] = true
		}
	}

	live := map[string]bool{}
	orphans := 0
	for _, e := range pending {
		live[e.ID] = true
		if _, ok := tracked[e.ID]; ok {
			continue
		}
		if stored[e.ID] {
			continue
		}
		if err := s.sys.Cancel(ctx, e.ID); err != nil {
			return fmt.Errorf("cancel orphan %s: %w", e.ID, err)
		}
		orphans++
	}

	stale := 0
	if s.store != nil {
		for id := range stored {
			if _, ok := tracked[id]; ok {
				continue
			}
			if live[id] {
				continue
			}
			if err := s.store.DeleteAlarm(ctx, id); err != nil {
				return fmt.Errorf("delete stale record %s: %w", id, err)
			}
			stale++
		}
	}

	s.log.Info("cleanup complete", logx.Int("orphans_canceled", orphans), logx.Int("stale_deleted", stale))
	return nil
}
