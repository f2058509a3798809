package remedy

import (
	"context"
	"errors"
	"testing"

	"alarmdiag/internal/alarm"
	logx "alarmdiag/pkg/logx"
)

type mockCollab struct {
	refreshErr   error
	refreshCalls int

	cleanupErr   error
	cleanupCalls int
}

func (m *mockCollab) ListAllScheduledEntries(ctx context.Context) ([]alarm.ScheduledEntry, error) {
	return nil, nil
}

func (m *mockCollab) GetDiagnosticInfo(ctx context.Context) (alarm.DiagnosticReport, error) {
	return alarm.DiagnosticReport{}, nil
}

func (m *mockCollab) TestImmediateNotification(ctx context.Context) (string, error) {
	return "", nil
}

func (m *mockCollab) TestScheduledNotification(ctx context.Context, delaySeconds int) (string, error) {
	return "", nil
}

func (m *mockCollab) ForceRefreshScheduling(ctx context.Context) error {
	m.refreshCalls++
	return m.refreshErr
}

func (m *mockCollab) CleanupOrphanedNotifications(ctx context.Context) error {
	m.cleanupCalls++
	return m.cleanupErr
}

func TestForceRefreshOutcomes(t *testing.T) {
	t.Parallel()

	ok := New(&mockCollab{}, logx.Nop(), nil).ForceRefresh(context.Background())
	if !ok.OK || ok.Err != nil {
		t.Fatalf("success outcome = %+v", ok)
	}

	boom := errors.New("registry locked")
	bad := New(&mockCollab{refreshErr: boom}, logx.Nop(), nil).ForceRefresh(context.Background())
	if bad.OK || !errors.Is(bad.Err, boom) {
		t.Fatalf("failure outcome = %+v", bad)
	}
}

func TestForceRefreshTwiceIsStateless(t *testing.T) {
	t.Parallel()
	m := &mockCollab{}
	d := New(m, logx.Nop(), nil)
	ctx := context.Background()

	first := d.ForceRefresh(ctx)
	second := d.ForceRefresh(ctx)
	if !first.OK || !second.OK {
		t.Fatalf("outcomes = %+v, %+v", first, second)
	}
	// The driver holds no mutable counters: both calls reach the
	// collaborator independently.
	if m.refreshCalls != 2 {
		t.Fatalf("refreshCalls = %d, want 2", m.refreshCalls)
	}
}

func TestCleanupOrphansOutcomes(t *testing.T) {
	t.Parallel()
	m := &mockCollab{cleanupErr: errors.New("store busy")}
	d := New(m, logx.Nop(), nil)

	out := d.CleanupOrphans(context.Background())
	if out.OK {
		t.Fatalf("want failure outcome, got %+v", out)
	}
	if m.cleanupCalls != 1 {
		t.Fatalf("cleanupCalls = %d, want 1", m.cleanupCalls)
	}

	m.cleanupErr = nil
	if out := d.CleanupOrphans(context.Background()); !out.OK {
		t.Fatalf("want success outcome, got %+v", out)
	}
}
