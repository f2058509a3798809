package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"alarmdiag/internal/alarm"
	"alarmdiag/internal/diag"
	"alarmdiag/internal/dispatch"
	logx "alarmdiag/pkg/logx"
)

// mockCollab counts every collaborator call so the gate tests can assert a
// canceled session touched nothing.
type mockCollab struct {
	calls int

	immediateID string
	delayedErr  error
	delayedID   string

	entries []alarm.ScheduledEntry
	report  alarm.DiagnosticReport
}

func (m *mockCollab) ListAllScheduledEntries(ctx context.Context) ([]alarm.ScheduledEntry, error) {
	m.calls++
	return m.entries, nil
}

func (m *mockCollab) GetDiagnosticInfo(ctx context.Context) (alarm.DiagnosticReport, error) {
	m.calls++
	return m.report, nil
}

func (m *mockCollab) TestImmediateNotification(ctx context.Context) (string, error) {
	m.calls++
	return m.immediateID, nil
}

func (m *mockCollab) TestScheduledNotification(ctx context.Context, delaySeconds int) (string, error) {
	m.calls++
	if m.delayedErr != nil {
		return "", m.delayedErr
	}
	return m.delayedID, nil
}

func (m *mockCollab) ForceRefreshScheduling(ctx context.Context) error {
	m.calls++
	return nil
}

func (m *mockCollab) CleanupOrphanedNotifications(ctx context.Context) error {
	m.calls++
	return nil
}

func newOrchestrator(m *mockCollab) *Orchestrator {
	disp := dispatch.New(m, logx.Nop(), nil)
	coll := diag.NewCollector(m, logx.Nop(), nil)
	// Settle is a scheduling point, not a timing guarantee; keep it tiny.
	cfg := Config{SettleDelay: time.Millisecond, DelayedTestSeconds: 5}
	return NewOrchestrator(cfg, disp, coll, logx.Nop(), nil)
}

func wait(t *testing.T, s *Session) Result {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not finish")
	}
	return s.Result()
}

func TestSessionCanceledAtGateTouchesNothing(t *testing.T) {
	t.Parallel()
	m := &mockCollab{}
	s := newOrchestrator(m).Begin(context.Background())
	if st := s.State(); st != StateConfirming {
		t.Fatalf("state before decision = %v, want confirming", st)
	}

	s.Cancel()
	res := wait(t, s)
	if res.State != StateAborted {
		t.Fatalf("state = %v, want aborted", res.State)
	}
	if m.calls != 0 {
		t.Fatalf("canceled session made %d collaborator calls, want 0", m.calls)
	}
}

func TestSessionRunsToDone(t *testing.T) {
	t.Parallel()
	at := time.Now().Add(time.Minute)
	m := &mockCollab{
		immediateID: "imm-1",
		delayedID:   "del-1",
		entries:     []alarm.ScheduledEntry{{ID: "del-1", TriggerAt: &at}},
		report:      alarm.DiagnosticReport{PermissionStatus: "granted", SystemScheduledCount: 1, TrackedAlarmsCount: 0, StoredAlarmsCount: 0},
	}
	s := newOrchestrator(m).Begin(context.Background())
	s.Confirm()

	res := wait(t, s)
	if res.State != StateDone {
		t.Fatalf("state = %v (err %v), want done", res.State, res.Err)
	}
	if res.ImmediateID != "imm-1" || res.DelayedID != "del-1" {
		t.Fatalf("ids = %q/%q", res.ImmediateID, res.DelayedID)
	}
	if res.Report == nil || res.Report.SystemScheduledCount != 1 {
		t.Fatalf("report = %+v", res.Report)
	}
	if len(res.Entries) != 1 {
		t.Fatalf("entries = %+v", res.Entries)
	}
}

// The fault policy is short-circuit: a failed step ends the session and the
// report step never runs.
func TestSessionFaultShortCircuits(t *testing.T) {
	t.Parallel()
	m := &mockCollab{
		immediateID: "imm-1",
		delayedErr:  errors.New("scheduler rejected test"),
	}
	s := newOrchestrator(m).Begin(context.Background())
	s.Confirm()

	res := wait(t, s)
	if res.State != StateFaulted {
		t.Fatalf("state = %v, want faulted", res.State)
	}
	if res.FaultedStep != StepDelayedTest {
		t.Fatalf("faulted step = %v, want delayed_test", res.FaultedStep)
	}
	if !errors.Is(res.Err, ErrTestFailed) {
		t.Fatalf("err = %v, want ErrTestFailed", res.Err)
	}
	// Calls: immediate + delayed only; the report step never ran.
	if m.calls != 2 {
		t.Fatalf("collaborator calls = %d, want 2", m.calls)
	}
	if res.Report != nil {
		t.Fatalf("faulted session produced a report: %+v", res.Report)
	}
}

func TestSessionDoubleDecisionIsIgnored(t *testing.T) {
	t.Parallel()
	m := &mockCollab{immediateID: "i", delayedID: "d"}
	s := newOrchestrator(m).Begin(context.Background())
	s.Confirm()
	s.Cancel() // late; first decision wins

	res := wait(t, s)
	if res.State != StateDone {
		t.Fatalf("state = %v, want done", res.State)
	}
}

func TestSessionContextCanceledAtGate(t *testing.T) {
	t.Parallel()
	m := &mockCollab{}
	ctx, cancel := context.WithCancel(context.Background())
	s := newOrchestrator(m).Begin(ctx)
	cancel()

	res := wait(t, s)
	if res.State != StateAborted {
		t.Fatalf("state = %v, want aborted", res.State)
	}
	if m.calls != 0 {
		t.Fatalf("collaborator calls = %d, want 0", m.calls)
	}
}
