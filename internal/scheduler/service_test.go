package scheduler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"alarmdiag/internal/alarm"
	"alarmdiag/internal/storage"
	"alarmdiag/internal/sysstore"
	logx "alarmdiag/pkg/logx"
)

func newTestService(t *testing.T, withStore bool) (*Service, storage.Store) {
	t.Helper()
	sys := sysstore.NewLocal(logx.Nop(), nil)
	t.Cleanup(sys.Close)

	var st storage.Store
	if withStore {
		var err error
		st, err = storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "reg.db")}, logx.Nop())
		if err != nil {
			t.Fatalf("storage.Open error: %v", err)
		}
		t.Cleanup(func() { _ = st.Close() })
	}

	svc := New(Config{TestRatePerSec: 100}, sys, st, logx.Nop(), nil)
	return svc, st
}

func addAlarm(t *testing.T, svc *Service, id string) {
	t.Helper()
	err := svc.AddAlarm(context.Background(), alarm.Alarm{
		ID:        id,
		Title:     "wake up",
		TriggerAt: time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("AddAlarm(%s) error: %v", id, err)
	}
}

func TestGetDiagnosticInfoCounts(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t, true)
	ctx := context.Background()

	addAlarm(t, svc, "a1")
	addAlarm(t, svc, "a2")

	rep, err := svc.GetDiagnosticInfo(ctx)
	if err != nil {
		t.Fatalf("GetDiagnosticInfo error: %v", err)
	}
	if rep.SystemScheduledCount != 2 || rep.TrackedAlarmsCount != 2 || rep.StoredAlarmsCount != 2 {
		t.Fatalf("counts = (%d,%d,%d), want (2,2,2)",
			rep.SystemScheduledCount, rep.TrackedAlarmsCount, rep.StoredAlarmsCount)
	}
	if rep.PermissionStatus != "granted" {
		t.Fatalf("PermissionStatus = %q, want granted", rep.PermissionStatus)
	}
}

func TestTestDispatchesDoNotTouchRegistry(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t, true)
	ctx := context.Background()

	addAlarm(t, svc, "keep")

	id, err := svc.TestScheduledNotification(ctx, 3600)
	if err != nil {
		t.Fatalf("TestScheduledNotification error: %v", err)
	}
	if id == "" {
		t.Fatal("expected a notification id")
	}

	rep, err := svc.GetDiagnosticInfo(ctx)
	if err != nil {
		t.Fatalf("GetDiagnosticInfo error: %v", err)
	}
	// Test entry is live but neither tracked nor stored.
	if rep.SystemScheduledCount != 2 {
		t.Fatalf("SystemScheduledCount = %d, want 2", rep.SystemScheduledCount)
	}
	if rep.TrackedAlarmsCount != 1 || rep.StoredAlarmsCount != 1 {
		t.Fatalf("registry counts = (%d,%d), want (1,1)", rep.TrackedAlarmsCount, rep.StoredAlarmsCount)
	}
}

func TestScheduledNotificationRejectsNegativeDelay(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t, false)
	if _, err := svc.TestScheduledNotification(context.Background(), -5); err == nil {
		t.Fatal("expected error for negative delay")
	}
}

func TestForceRefreshIsIdempotent(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t, true)
	ctx := context.Background()

	addAlarm(t, svc, "r1")
	addAlarm(t, svc, "r2")

	if err := svc.ForceRefreshScheduling(ctx); err != nil {
		t.Fatalf("first refresh error: %v", err)
	}
	if err := svc.ForceRefreshScheduling(ctx); err != nil {
		t.Fatalf("second refresh error: %v", err)
	}

	entries, err := svc.ListAllScheduledEntries(ctx)
	if err != nil {
		t.Fatalf("ListAllScheduledEntries error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("pending after double refresh = %d, want 2", len(entries))
	}
}

func TestCleanupRemovesOrphansAndStaleRecords(t *testing.T) {
	t.Parallel()
	svc, st := newTestService(t, true)
	ctx := context.Background()

	addAlarm(t, svc, "healthy")

	// Orphan: live trigger with no registry record (a leftover test entry).
	if _, err := svc.TestScheduledNotification(ctx, 3600); err != nil {
		t.Fatalf("TestScheduledNotification error: %v", err)
	}

	// Stale: stored record with no tracked alarm and no live trigger.
	stale := alarm.Alarm{ID: "stale", Title: "old", TriggerAt: time.Now().Add(time.Hour)}
	if err := st.PutAlarm(ctx, stale); err != nil {
		t.Fatalf("PutAlarm error: %v", err)
	}

	if err := svc.CleanupOrphanedNotifications(ctx); err != nil {
		t.Fatalf("CleanupOrphanedNotifications error: %v", err)
	}

	rep, err := svc.GetDiagnosticInfo(ctx)
	if err != nil {
		t.Fatalf("GetDiagnosticInfo error: %v", err)
	}
	if rep.SystemScheduledCount != 1 || rep.TrackedAlarmsCount != 1 || rep.StoredAlarmsCount != 1 {
		t.Fatalf("counts after cleanup = (%d,%d,%d), want (1,1,1)",
			rep.SystemScheduledCount, rep.TrackedAlarmsCount, rep.StoredAlarmsCount)
	}
}

func TestAddAlarmValidatesRepeatSpec(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t, false)
	err := svc.AddAlarm(context.Background(), alarm.Alarm{ID: "bad", Repeat: "not-a-spec"})
	if err == nil {
		t.Fatal("expected error for invalid repeat spec")
	}
}

func TestStartLoadsPersistedAlarms(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ctx := context.Background()

	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(dir, "reg.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open error: %v", err)
	}
	defer st.Close()
	seed := alarm.Alarm{ID: "seed", Title: "persisted", TriggerAt: time.Now().Add(time.Hour)}
	if err := st.PutAlarm(ctx, seed); err != nil {
		t.Fatalf("PutAlarm error: %v", err)
	}

	sys := sysstore.NewLocal(logx.Nop(), nil)
	defer sys.Close()
	svc := New(Config{TestRatePerSec: 100}, sys, st, logx.Nop(), nil)
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	rep, err := svc.GetDiagnosticInfo(ctx)
	if err != nil {
		t.Fatalf("GetDiagnosticInfo error: %v", err)
	}
	if rep.SystemScheduledCount != 1 || rep.TrackedAlarmsCount != 1 || rep.StoredAlarmsCount != 1 {
		t.Fatalf("counts after Start = (%d,%d,%d), want (1,1,1)",
			rep.SystemScheduledCount, rep.TrackedAlarmsCount, rep.StoredAlarmsCount)
	}
}
