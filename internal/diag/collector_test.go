package diag

import (
	"context"
	"errors"
	"testing"
	"time"

	"alarmdiag/internal/alarm"
	logx "alarmdiag/pkg/logx"
)

// mockCollab implements alarm.Collaborator for collector tests.
type mockCollab struct {
	entries []alarm.ScheduledEntry
	listErr error

	report  alarm.DiagnosticReport
	repErr  error
	repCall int
}

func (m *mockCollab) ListAllScheduledEntries(ctx context.Context) ([]alarm.ScheduledEntry, error) {
	return m.entries, m.listErr
}

func (m *mockCollab) GetDiagnosticInfo(ctx context.Context) (alarm.DiagnosticReport, error) {
	m.repCall++
	return m.report, m.repErr
}

func (m *mockCollab) TestImmediateNotification(ctx context.Context) (string, error) {
	return "", errors.New("not used")
}

func (m *mockCollab) TestScheduledNotification(ctx context.Context, delaySeconds int) (string, error) {
	return "", errors.New("not used")
}

func (m *mockCollab) ForceRefreshScheduling(ctx context.Context) error { return nil }
func (m *mockCollab) CleanupOrphanedNotifications(ctx context.Context) error { return nil }

func TestSnapshotMinutesUntilTrigger(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	in90s := now.Add(90 * time.Second) // rounds to 2
	in29m := now.Add(29*time.Minute + 20*time.Second) // rounds to 29
	past := now.Add(-5 * time.Minute)

	m := &mockCollab{entries: []alarm.ScheduledEntry{
		{ID: "a", TriggerAt: &in90s},
		{ID: "b", TriggerAt: &in29m},
		{ID: "c"}, // no trigger time
		{ID: "d", TriggerAt: &past},
	}}
	c := NewCollector(m, logx.Nop(), nil)
	c.now = func() time.Time { return now }

	got, err := c.CollectScheduledSnapshot(context.Background())
	if err != nil {
		t.Fatalf("CollectScheduledSnapshot error: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("len = %d, want 4", len(got))
	}
	// Native order preserved.
	for i, id := range []string{"a", "b", "c", "d"} {
		if got[i].Entry.ID != id {
			t.Fatalf("order broken at %d: got %s want %s", i, got[i].Entry.ID, id)
		}
	}
	if !got[0].Known || got[0].MinutesUntilTrigger != 2 {
		t.Fatalf("entry a = %+v, want known 2min", got[0])
	}
	if !got[1].Known || got[1].MinutesUntilTrigger != 29 {
		t.Fatalf("entry b = %+v, want known 29min", got[1])
	}
	if got[2].Known {
		t.Fatalf("entry c should be unknown: %+v", got[2])
	}
	if !got[3].Known || got[3].MinutesUntilTrigger != -5 {
		t.Fatalf("entry d = %+v, want known -5min", got[3])
	}
}

func TestSnapshotEmptyStore(t *testing.T) {
	t.Parallel()
	c := NewCollector(&mockCollab{}, logx.Nop(), nil)
	got, err := c.CollectScheduledSnapshot(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("want empty non-nil slice, got %#v", got)
	}
}

func TestSnapshotQueryFailure(t *testing.T) {
	t.Parallel()
	c := NewCollector(&mockCollab{listErr: errors.New("store down")}, logx.Nop(), nil)
	_, err := c.CollectScheduledSnapshot(context.Background())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestReportSurfacesCountsVerbatim(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		report alarm.DiagnosticReport
	}{
		{name: "no drift", report: alarm.DiagnosticReport{PermissionStatus: "granted", SystemScheduledCount: 5, TrackedAlarmsCount: 5, StoredAlarmsCount: 5}},
		{name: "drift", report: alarm.DiagnosticReport{PermissionStatus: "granted", SystemScheduledCount: 7, TrackedAlarmsCount: 5, StoredAlarmsCount: 5}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := NewCollector(&mockCollab{report: tt.report}, logx.Nop(), nil)
			got, err := c.CollectDiagnosticReport(context.Background())
			if err != nil {
				t.Fatalf("CollectDiagnosticReport error: %v", err)
			}
			if got != tt.report {
				t.Fatalf("report mutated: got %+v want %+v", got, tt.report)
			}
			if got.SystemScheduledCount < 0 || got.TrackedAlarmsCount < 0 || got.StoredAlarmsCount < 0 {
				t.Fatalf("negative count in %+v", got)
			}
		})
	}
}

func TestReportQueryFailure(t *testing.T) {
	t.Parallel()
	c := NewCollector(&mockCollab{repErr: errors.New("collaborator down")}, logx.Nop(), nil)
	_, err := c.CollectDiagnosticReport(context.Background())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}
