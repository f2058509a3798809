package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"alarmdiag/internal/alarm"
	"alarmdiag/internal/eventbus"
	"alarmdiag/internal/storage"
	"alarmdiag/internal/sysstore"
	logx "alarmdiag/pkg/logx"
)

// Config controls the scheduler service.
type Config struct {
	Timezone string // IANA TZ, e.g. "Asia/Jakarta"

	// TestRatePerSec bounds test notification dispatches (default 2).
	TestRatePerSec int
}

// Service is the reference scheduler collaborator. It owns three views of
// scheduled work:
//
//   - tracked: the in-memory registry of alarms this process manages
//   - stored:  the persisted registry (storage.Store; optional)
//   - live:    the system notification store (sysstore.Store)
//
// Diagnostic accessors report the three counts independently; drift between
// them is the harness's signal, never something this service hides.
type Service struct {
	mu sync.Mutex

	log logx.Logger
	bus eventbus.Bus
	cfg Config
	loc *time.Location

	parser  cron.Parser
	store   storage.Store // may be nil (persistence disabled)
	sys     sysstore.Store
	tracked map[string]alarm.Alarm

	limiter *rate.Limiter
	testSeq atomic.Uint64
}

// PayloadDiagnostic marks entries produced by test dispatches. Such entries
// are never persisted into the registry, so diagnostics cannot corrupt
// production scheduling state.
const PayloadDiagnostic = "diagnostic"

func New(cfg Config, sys sysstore.Store, store storage.Store, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.TestRatePerSec <= 0 {
		cfg.TestRatePerSec = 2
	}
	loc := time.Local
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		} else {
			log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		}
	}
	return &Service{
		log:     log,
		bus:     bus,
		cfg:     cfg,
		loc:     loc,
		parser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		store:   store,
		sys:     sys,
		tracked: map[string]alarm.Alarm{},
		limiter: rate.NewLimiter(rate.Limit(cfg.TestRatePerSec), cfg.TestRatePerSec),
	}
}

// Start loads persisted alarms into the tracked set and registers their
// triggers. Safe to call with persistence disabled.
func (s *Service) Start(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	alarms, err := s.store.ListAlarms(ctx)
	if err != nil {
		return fmt.Errorf("load persisted alarms: %w", err)
	}

	s.mu.Lock()
	for _, a := range alarms {
		s.tracked[a.ID] = a
	}
	s.mu.Unlock()

	if err := s.ForceRefreshScheduling(ctx); err != nil {
		return err
	}
	s.log.Info("scheduler started", logx.Int("alarms", len(alarms)), logx.String("tz", s.loc.String()))
	return nil
}

// AddAlarm validates, tracks, persists, and registers one alarm. Upsert by ID.
func (s *Service) AddAlarm(ctx context.Context, a alarm.Alarm) error {
	if strings.TrimSpace(a.ID) == "" {
		return errors.New("alarm id required")
	}
	if a.Repeat != "" {
		if _, err := s.parser.Parse(a.Repeat); err != nil {
			return fmt.Errorf("alarm %s: invalid repeat spec %q: %w", a.ID, a.Repeat, err)
		}
	} else if a.TriggerAt.IsZero() {
		return fmt.Errorf("alarm %s: trigger time required for one-shot alarm", a.ID)
	}

	s.mu.Lock()
	s.tracked[a.ID] = a
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.PutAlarm(ctx, a); err != nil {
			return fmt.Errorf("persist alarm %s: %w", a.ID, err)
		}
	}

	at, err := s.nextTrigger(a)
	if err != nil {
		return err
	}
	entry := alarm.ScheduledEntry{ID: a.ID, Title: a.Title, TriggerAt: &at, Payload: a.Payload}
	if err := s.sys.Schedule(ctx, entry); err != nil {
		return fmt.Errorf("register trigger %s: %w", a.ID, err)
	}
	s.log.Debug("alarm registered", logx.String("id", a.ID), logx.Time("at", at))
	return nil
}

// RemoveAlarm drops an alarm from all three views.
func (s *Service) RemoveAlarm(ctx context.Context, id string) error {
	s.mu.Lock()
	delete(s.tracked, id)
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.DeleteAlarm(ctx, id); err != nil {
			return err
		}
	}
	return s.sys.Cancel(ctx, id)
}

// nextTrigger computes the upcoming trigger time for an alarm.
func (s *Service) nextTrigger(a alarm.Alarm) (time.Time, error) {
	if a.Repeat == "" {
		return a.TriggerAt, nil
	}
	sched, err := s.parser.Parse(a.Repeat)
	if err != nil {
		return time.Time{}, fmt.Errorf("alarm %s: invalid repeat spec %q: %w", a.ID, a.Repeat, err)
	}
	next := sched.Next(time.Now().In(s.loc))
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("alarm %s: repeat spec %q yields no next run", a.ID, a.Repeat)
	}
	return next, nil
}

func (s *Service) trackedSnapshot() map[string]alarm.Alarm {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]alarm.Alarm, len(s.tracked))
	for k, v := range s.tracked {
		out[k] = v
	}
	return out
}
