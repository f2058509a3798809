// Package app wires the harness together: config, logging, storage, the
// reference scheduler collaborator, the diagnostic components, and the
// optional operator console.
package app

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"alarmdiag/internal/config"
	"alarmdiag/internal/console"
	"alarmdiag/internal/diag"
	"alarmdiag/internal/dispatch"
	"alarmdiag/internal/eventbus"
	"alarmdiag/internal/remedy"
	"alarmdiag/internal/scheduler"
	"alarmdiag/internal/session"
	"alarmdiag/internal/storage"
	"alarmdiag/internal/sysstore"
	logx "alarmdiag/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	logs *logx.Service
	log  logx.Logger
	bus  eventbus.Bus

	store storage.Store
	sys   *sysstore.Local
	sched *scheduler.Service

	collector  *diag.Collector
	dispatcher *dispatch.Dispatcher
	remedy     *remedy.Driver
	orch       *session.Orchestrator

	repl *console.REPL

	cancel context.CancelFunc
	wg     sync.WaitGroup

	doneOnce sync.Once
	done     chan struct{}
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	bus := eventbus.New()

	busyTimeout, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	sys := sysstore.NewLocal(log.With(logx.String("comp", "sysstore")), bus)
	sched := scheduler.New(scheduler.Config{
		Timezone:       cfg.Scheduler.Timezone,
		TestRatePerSec: cfg.Scheduler.TestRatePerSec,
	}, sys, store, log.With(logx.String("comp", "scheduler")), bus)

	settle, err := config.ParseDurationOrDefault("session.settle_delay", cfg.Session.SettleDelay, 2*time.Second)
	if err != nil {
		return nil, err
	}

	collector := diag.NewCollector(sched, log.With(logx.String("comp", "diag")), bus)
	dispatcher := dispatch.New(sched, log.With(logx.String("comp", "dispatch")), bus)
	remedyDrv := remedy.New(sched, log.With(logx.String("comp", "remedy")), bus)
	orch := session.NewOrchestrator(session.Config{
		SettleDelay:        settle,
		DelayedTestSeconds: cfg.Session.DelayedTestSeconds,
	}, dispatcher, collector, log.With(logx.String("comp", "session")), bus)

	a := &App{
		cfgPath:    cfgPath,
		cfgm:       cfgm,
		logs:       logs,
		log:        log,
		bus:        bus,
		store:      store,
		sys:        sys,
		sched:      sched,
		collector:  collector,
		dispatcher: dispatcher,
		remedy:     remedyDrv,
		orch:       orch,
		done:       make(chan struct{}),
	}

	if cfg.Console.Enabled {
		reg := console.NewRegistry(log.With(logx.String("comp", "console")))
		cmds := console.HarnessCommands(reg, console.Deps{
			Collector:    collector,
			Dispatcher:   dispatcher,
			Remedy:       remedyDrv,
			Orchestrator: orch,
		})
		if err := reg.Register(cmds...); err != nil {
			return nil, fmt.Errorf("register console commands: %w", err)
		}
		if store != nil {
			reg.SetAudit(func(e storage.AuditEntry) {
				actx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				if err := store.AppendAudit(actx, e); err != nil {
					log.Warn("audit append failed", logx.Err(err))
				}
			})
		}
		a.repl = console.NewREPL(reg, os.Stdin, os.Stdout, log.With(logx.String("comp", "console")))
	}

	return a, nil
}

// Done is closed when the app decides to exit on its own (console quit/EOF).
func (a *App) Done() <-chan struct{} { return a.done }

func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.sched.Start(runCtx); err != nil {
		cancel()
		return err
	}

	// Hot-reloadable config: only logging settings apply at runtime; the
	// scheduler and session settings are wired at construction.
	a.cfgm.SetValidator(func(c context.Context, cfg *config.Config) error {
		if _, err := config.ParseDurationField("session.settle_delay", cfg.Session.SettleDelay); err != nil {
			return err
		}
		if _, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
			return err
		}
		return nil
	})
	sub := a.cfgm.Subscribe(4)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for {
			select {
			case <-runCtx.Done():
				return
			case cfg, ok := <-sub:
				if !ok {
					return
				}
				a.logs.Apply(logx.Config{
					Level:   cfg.Logging.Level,
					Console: cfg.Logging.Console,
					File: logx.FileConfig{
						Enabled: cfg.Logging.File.Enabled,
						Path:    cfg.Logging.File.Path,
					},
				})
				a.log.Info("logging config applied")
			}
		}
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		_ = a.cfgm.Watch(runCtx)
	}()

	if a.repl != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			if err := a.repl.Run(runCtx); err != nil {
				a.log.Warn("console exited with error", logx.Err(err))
			}
			a.signalDone()
		}()
	}

	// Readiness for systemd-managed deployments; harmless elsewhere.
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	a.log.Info("alarmdiag started", logx.String("config", a.cfgPath))
	return nil
}

func (a *App) signalDone() {
	a.doneOnce.Do(func() { close(a.done) })
}

func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	if a.cancel != nil {
		a.cancel()
	}

	waited := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
	}

	a.sys.Close()
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("store close failed", logx.Err(err))
		}
	}
	a.log.Info("alarmdiag stopped")
	return a.logs.Close()
}
