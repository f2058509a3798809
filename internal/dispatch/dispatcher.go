// Package dispatch exercises the delivery pipeline with controlled test
// notifications. Success or failure is judged solely by whether the
// collaborator returned an identifier; whether the OS actually displays the
// notification is outside this process's reach.
package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"

	"alarmdiag/internal/alarm"
	"alarmdiag/internal/eventbus"
	logx "alarmdiag/pkg/logx"
)

// DefaultDelaySeconds is used when the operator omits the delay argument.
const DefaultDelaySeconds = 10

type Dispatcher struct {
	collab alarm.Collaborator
	log    logx.Logger
	bus    eventbus.Bus
}

func New(collab alarm.Collaborator, log logx.Logger, bus eventbus.Bus) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{collab: collab, log: log, bus: bus}
}

// DispatchImmediateTest requests a notification with effectively zero delay.
func (d *Dispatcher) DispatchImmediateTest(ctx context.Context) alarm.TestRequestResult {
	return d.dispatch(ctx, "immediate", func() (string, error) {
		return d.collab.TestImmediateNotification(ctx)
	})
}

// DispatchDelayedTest requests a notification delaySeconds in the future.
// The value is passed through unmodified; zero or negative delays are the
// collaborator's concern to reject, not validated here.
func (d *Dispatcher) DispatchDelayedTest(ctx context.Context, delaySeconds int) alarm.TestRequestResult {
	kind := fmt.Sprintf("delayed(%ds)", delaySeconds)
	return d.dispatch(ctx, kind, func() (string, error) {
		return d.collab.TestScheduledNotification(ctx, delaySeconds)
	})
}

// dispatch is the single fault boundary: collaborator errors and panics are
// logged and become an absent-ID result. The harness must stay usable
// interactively, so nothing propagates past here.
func (d *Dispatcher) dispatch(ctx context.Context, kind string, call func() (string, error)) (res alarm.TestRequestResult) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("panic in test dispatch",
				logx.String("kind", kind), logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
			res = alarm.TestRequestResult{}
			d.publishFailure(kind, fmt.Errorf("panic: %v", r))
		}
	}()

	id, err := call()
	if err != nil {
		d.log.Warn("test dispatch failed", logx.String("kind", kind), logx.Err(err))
		d.publishFailure(kind, err)
		return alarm.TestRequestResult{}
	}
	if id == "" {
		d.log.Warn("test dispatch returned no identifier", logx.String("kind", kind))
		d.publishFailure(kind, nil)
		return alarm.TestRequestResult{}
	}

	d.log.Info("test dispatched", logx.String("kind", kind), logx.String("id", id))
	return alarm.TestRequestResult{NotificationID: id}
}

func (d *Dispatcher) publishFailure(kind string, err error) {
	if d.bus == nil {
		return
	}
	data := map[string]string{"kind": kind}
	if err != nil {
		data["err"] = err.Error()
	}
	d.bus.Publish(eventbus.Event{Type: eventbus.TypeTestFailed, Data: data})
}
