package scheduler

import (
	"context"
	"fmt"
	"time"

	"alarmdiag/internal/alarm"
	"alarmdiag/internal/eventbus"
	logx "alarmdiag/pkg/logx"
)

// ListAllScheduledEntries returns the live triggers as the system store
// reports them, in the store's native order.
func (s *Service) ListAllScheduledEntries(ctx context.Context) ([]alarm.ScheduledEntry, error) {
	return s.sys.Pending(ctx)
}

// GetDiagnosticInfo snapshots the three counts within one pass. Each count is
// sourced independently; no reconciliation happens here.
func (s *Service) GetDiagnosticInfo(ctx context.Context) (alarm.DiagnosticReport, error) {
	pending, err := s.sys.Pending(ctx)
	if err != nil {
		return alarm.DiagnosticReport{}, fmt.Errorf("system store query: %w", err)
	}

	s.mu.Lock()
	tracked := len(s.tracked)
	s.mu.Unlock()

	stored := 0
	if s.store != nil {
		stored, err = s.store.CountAlarms(ctx)
		if err != nil {
			return alarm.DiagnosticReport{}, fmt.Errorf("stored registry count: %w", err)
		}
	}

	return alarm.DiagnosticReport{
		PermissionStatus:     s.sys.PermissionStatus(ctx),
		SystemScheduledCount: len(pending),
		TrackedAlarmsCount:   tracked,
		StoredAlarmsCount:    stored,
	}, nil
}

// TestImmediateNotification schedules a zero-delay diagnostic trigger.
// Test entries carry a diagnostic payload marker and never touch the
// persisted registry.
func (s *Service) TestImmediateNotification(ctx context.Context) (string, error) {
	return s.dispatchTest(ctx, 0)
}

// TestScheduledNotification schedules a diagnostic trigger delaySeconds in
// the future. Negative delays are rejected; zero means immediate.
func (s *Service) TestScheduledNotification(ctx context.Context, delaySeconds int) (string, error) {
	if delaySeconds < 0 {
		return "", fmt.Errorf("invalid test delay: %d", delaySeconds)
	}
	return s.dispatchTest(ctx, delaySeconds)
}

func (s *Service) dispatchTest(ctx context.Context, delaySeconds int) (string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return "", err
	}

	id := fmt.Sprintf("diag-test:%d", s.testSeq.Add(1))
	at := time.Now().Add(time.Duration(delaySeconds) * time.Second)
	entry := alarm.ScheduledEntry{
		ID:        id,
		Title:     "diagnostic test notification",
		TriggerAt: &at,
		Payload:   map[string]string{PayloadDiagnostic: "true"},
	}
	if err := s.sys.Schedule(ctx, entry); err != nil {
		return "", err
	}

	s.log.Debug("test notification scheduled", logx.String("id", id), logx.Int("delay_s", delaySeconds))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeTestDispatched, Data: entry})
	}
	return id, nil
}
