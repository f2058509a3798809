// Package session sequences one confirmable diagnostic run: immediate test,
// settle pause, delayed test, then a diagnostics report. The confirmation
// gate is an explicit state machine driven over a channel between the prompt
// side and the orchestrator, not a callback nested in the prompt.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"alarmdiag/internal/alarm"
	"alarmdiag/internal/diag"
	"alarmdiag/internal/dispatch"
	"alarmdiag/internal/eventbus"
	logx "alarmdiag/pkg/logx"
)

type State int

const (
	StateIdle State = iota
	StateConfirming
	StateRunning
	StateDone
	StateAborted
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConfirming:
		return "confirming"
	case StateRunning:
		return "running"
	case StateDone:
		return "done"
	case StateAborted:
		return "aborted"
	case StateFaulted:
		return "faulted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type Step int

const (
	StepImmediateTest Step = iota + 1
	StepSettle
	StepDelayedTest
	StepReport
)

func (s Step) String() string {
	switch s {
	case StepImmediateTest:
		return "immediate_test"
	case StepSettle:
		return "settle"
	case StepDelayedTest:
		return "delayed_test"
	case StepReport:
		return "report"
	default:
		return fmt.Sprintf("step(%d)", int(s))
	}
}

var ErrTestFailed = errors.New("test dispatch failed")

// Config controls one orchestrated run.
//
// SettleDelay is a scheduling point, not a timing guarantee: it only gives
// asynchronous delivery a chance to surface in logs before the next probe.
type Config struct {
	SettleDelay        time.Duration // default 2s
	DelayedTestSeconds int           // default 5
}

func (c Config) withDefaults() Config {
	if c.SettleDelay <= 0 {
		c.SettleDelay = 2 * time.Second
	}
	if c.DelayedTestSeconds <= 0 {
		c.DelayedTestSeconds = 5
	}
	return c
}

// Result is the final outcome of one session.
type Result struct {
	State       State
	FaultedStep Step // set when State is StateFaulted
	Err         error

	ImmediateID string
	DelayedID   string
	Entries     []diag.EntryStatus
	Report      *alarm.DiagnosticReport
}

type Orchestrator struct {
	cfg  Config
	disp *dispatch.Dispatcher
	coll *diag.Collector
	log  logx.Logger
	bus  eventbus.Bus
}

func NewOrchestrator(cfg Config, disp *dispatch.Dispatcher, coll *diag.Collector, log logx.Logger, bus eventbus.Bus) *Orchestrator {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Orchestrator{cfg: cfg.withDefaults(), disp: disp, coll: coll, log: log, bus: bus}
}

// Session is one run of the fixed step sequence. It is cancelable only at
// the confirmation gate; once the steps begin it runs to completion or the
// first unrecovered fault. Re-invocation means a fresh Begin().
type Session struct {
	o *Orchestrator

	mu    sync.Mutex
	state State
	res   Result

	gate chan bool
	once sync.Once
	done chan struct{}
}

// Begin creates a session in the Confirming state and starts the state
// machine. No collaborator call is made until the gate is confirmed.
func (o *Orchestrator) Begin(ctx context.Context) *Session {
	s := &Session{
		o:     o,
		state: StateConfirming,
		gate:  make(chan bool, 1),
		done:  make(chan struct{}),
	}
	go s.loop(ctx)
	return s
}

// Confirm releases the gate and starts the step sequence.
// Only the first Confirm/Cancel decision counts.
func (s *Session) Confirm() { s.decide(true) }

// Cancel aborts the session at the gate. After cancellation the session has
// performed zero collaborator calls.
func (s *Session) Cancel() { s.decide(false) }

func (s *Session) decide(run bool) {
	s.once.Do(func() { s.gate <- run })
}

// Done is closed when the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Result is valid once Done() is closed.
func (s *Session) Result() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.res
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) loop(ctx context.Context) {
	defer close(s.done)

	// Confirmation gate. The context only matters here: once running, each
	// step resolves or fails on the collaborator's own error signal.
	select {
	case <-ctx.Done():
		s.finish(Result{State: StateAborted, Err: ctx.Err()})
		return
	case run := <-s.gate:
		if !run {
			s.o.log.Info("diagnostic session canceled at confirmation gate")
			s.finish(Result{State: StateAborted})
			return
		}
	}

	s.setState(StateRunning)
	s.o.log.Info("diagnostic session started")
	res := Result{}

	// Step 1: immediate test.
	s.announce(StepImmediateTest)
	imm := s.o.disp.DispatchImmediateTest(ctx)
	if !imm.OK() {
		s.fault(&res, StepImmediateTest, ErrTestFailed)
		return
	}
	res.ImmediateID = imm.NotificationID

	// Step 2: settle. Gives asynchronous delivery a chance to show up in
	// logs before the next probe; never a fault source.
	s.announce(StepSettle)
	time.Sleep(s.o.cfg.SettleDelay)

	// Step 3: delayed test.
	s.announce(StepDelayedTest)
	del := s.o.disp.DispatchDelayedTest(ctx, s.o.cfg.DelayedTestSeconds)
	if !del.OK() {
		s.fault(&res, StepDelayedTest, ErrTestFailed)
		return
	}
	res.DelayedID = del.NotificationID

	// Step 4: collect and report diagnostics.
	s.announce(StepReport)
	entries, err := s.o.coll.CollectScheduledSnapshot(ctx)
	if err != nil {
		s.fault(&res, StepReport, err)
		return
	}
	res.Entries = entries
	rep, err := s.o.coll.CollectDiagnosticReport(ctx)
	if err != nil {
		s.fault(&res, StepReport, err)
		return
	}
	res.Report = &rep

	res.State = StateDone
	s.o.log.Info("diagnostic session complete",
		logx.Int("entries", len(entries)),
		logx.Int("system_scheduled", rep.SystemScheduledCount),
		logx.Int("tracked", rep.TrackedAlarmsCount),
		logx.Int("stored", rep.StoredAlarmsCount))
	s.finish(res)
}

func (s *Session) announce(step Step) {
	s.o.log.Debug("session step", logx.String("step", step.String()))
	if s.o.bus != nil {
		s.o.bus.Publish(eventbus.Event{Type: eventbus.TypeSessionStep, Data: step.String()})
	}
}

// fault ends the session at the failed step. No rollback: each step is
// independently observable and idempotent at the collaborator level.
func (s *Session) fault(res *Result, step Step, err error) {
	res.State = StateFaulted
	res.FaultedStep = step
	res.Err = err
	s.o.log.Error("diagnostic session faulted", logx.String("step", step.String()), logx.Err(err))
	s.finish(*res)
}

func (s *Session) finish(res Result) {
	s.mu.Lock()
	s.state = res.State
	s.res = res
	s.mu.Unlock()
	if s.o.bus != nil {
		s.o.bus.Publish(eventbus.Event{Type: eventbus.TypeSessionDone, Data: res.State.String()})
	}
}
