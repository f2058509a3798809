package console

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"alarmdiag/internal/diag"
	"alarmdiag/internal/dispatch"
	"alarmdiag/internal/remedy"
	"alarmdiag/internal/session"
)

// Deps are the harness operations the command table drives.
type Deps struct {
	Collector    *diag.Collector
	Dispatcher   *dispatch.Dispatcher
	Remedy       *remedy.Driver
	Orchestrator *session.Orchestrator
}

// HarnessCommands builds the operator command table: the seven diagnostic
// operations plus help/quit glue.
func HarnessCommands(reg *Registry, d Deps) []Command {
	return []Command{
		{
			Name:        "snapshot",
			Aliases:     []string{"ls"},
			Description: "list live scheduled notifications",
			Handle: func(ctx context.Context, sh *Shell, args []string) error {
				entries, err := d.Collector.CollectScheduledSnapshot(ctx)
				if err != nil {
					return err
				}
				if len(entries) == 0 {
					sh.Printf("no notifications scheduled\n")
					return nil
				}
				for _, e := range entries {
					when := "unknown trigger time"
					if e.Known {
						when = fmt.Sprintf("in %d min", e.MinutesUntilTrigger)
					}
					sh.Printf("  %-20s %-24s %s\n", e.Entry.ID, e.Entry.Title, when)
				}
				return nil
			},
		},
		{
			Name:        "report",
			Description: "show the three-count drift report",
			Handle: func(ctx context.Context, sh *Shell, args []string) error {
				rep, err := d.Collector.CollectDiagnosticReport(ctx)
				if err != nil {
					return err
				}
				sh.Printf("permission: %s\n", rep.PermissionStatus)
				sh.Printf("system scheduled: %d\n", rep.SystemScheduledCount)
				sh.Printf("tracked alarms:   %d\n", rep.TrackedAlarmsCount)
				sh.Printf("stored alarms:    %d\n", rep.StoredAlarmsCount)
				return nil
			},
		},
		{
			Name:        "test-now",
			Description: "dispatch an immediate test notification",
			Handle: func(ctx context.Context, sh *Shell, args []string) error {
				res := d.Dispatcher.DispatchImmediateTest(ctx)
				if !res.OK() {
					return fmt.Errorf("immediate test failed")
				}
				sh.Printf("test dispatched: %s\n", res.NotificationID)
				return nil
			},
		},
		{
			Name:        "test-delay",
			Usage:       "test-delay [seconds]",
			Description: "dispatch a delayed test notification (default 10s)",
			Handle: func(ctx context.Context, sh *Shell, args []string) error {
				delay := dispatch.DefaultDelaySeconds
				if len(args) > 0 {
					n, err := strconv.Atoi(args[0])
					if err != nil {
						return fmt.Errorf("bad delay %q: %w", args[0], err)
					}
					delay = n
				}
				res := d.Dispatcher.DispatchDelayedTest(ctx, delay)
				if !res.OK() {
					return fmt.Errorf("delayed test failed")
				}
				sh.Printf("test dispatched: %s (fires in %ds)\n", res.NotificationID, delay)
				return nil
			},
		},
		{
			Name:        "refresh",
			Description: "force a full re-scheduling pass",
			Handle: func(ctx context.Context, sh *Shell, args []string) error {
				out := d.Remedy.ForceRefresh(ctx)
				if !out.OK {
					return fmt.Errorf("remediation failed: %w", out.Err)
				}
				sh.Printf("refresh ok (%s)\n", out.Took.Round(time.Millisecond))
				return nil
			},
		},
		{
			Name:        "cleanup",
			Description: "remove orphaned triggers and stale records",
			Handle: func(ctx context.Context, sh *Shell, args []string) error {
				out := d.Remedy.CleanupOrphans(ctx)
				if !out.OK {
					return fmt.Errorf("remediation failed: %w", out.Err)
				}
				sh.Printf("cleanup ok (%s)\n", out.Took.Round(time.Millisecond))
				return nil
			},
		},
		{
			Name:        "session",
			Description: "run the confirmable diagnostic session",
			Handle: func(ctx context.Context, sh *Shell, args []string) error {
				sess := d.Orchestrator.Begin(ctx)
				if !sh.Confirm("run full diagnostic session?") {
					sess.Cancel()
					<-sess.Done()
					sh.Printf("session aborted\n")
					return nil
				}
				sess.Confirm()
				<-sess.Done()
				res := sess.Result()
				switch res.State {
				case session.StateDone:
					sh.Printf("session done: immediate=%s delayed=%s\n", res.ImmediateID, res.DelayedID)
					if res.Report != nil {
						sh.Printf("counts: system=%d tracked=%d stored=%d\n",
							res.Report.SystemScheduledCount, res.Report.TrackedAlarmsCount, res.Report.StoredAlarmsCount)
					}
					return nil
				default:
					return fmt.Errorf("session %s at step %s: %w", res.State, res.FaultedStep, res.Err)
				}
			},
		},
		{
			Name:        "help",
			Description: "show this help",
			Handle: func(ctx context.Context, sh *Shell, args []string) error {
				sh.Printf("%s", helpText(reg))
				return nil
			},
		},
		{
			Name:        "quit",
			Aliases:     []string{"exit"},
			Description: "leave the console",
			Handle: func(ctx context.Context, sh *Shell, args []string) error {
				return ErrQuit
			},
		},
	}
}
