package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"alarmdiag/internal/alarm"
	logx "alarmdiag/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.audit.jsonl          (append-only JSON Lines)
//   - <prefix>.alarms.snapshot.json (periodic snapshot)
//   - <prefix>.alarms.journal.jsonl (append-only journal)
//
// The journal is periodically compacted into the snapshot.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	auditFile *os.File

	snapshotPath string
	journalFile  *os.File
	alarms       map[string]alarm.Alarm

	writes int
}

type journalRecord struct {
	Op    string       `json:"op"` // "put" or "del"
	Alarm *alarm.Alarm `json:"alarm,omitempty"`
	ID    string       `json:"id,omitempty"`
}

const compactEvery = 64

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	auditPath := prefix + ".audit.jsonl"
	snapPath := prefix + ".alarms.snapshot.json"
	journalPath := prefix + ".alarms.journal.jsonl"

	af, err := os.OpenFile(auditPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	// Load alarms from snapshot + journal replay.
	alarms := map[string]alarm.Alarm{}
	_ = loadSnapshot(snapPath, alarms)
	_ = replayJournal(journalPath, alarms)

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = af.Close()
		return nil, err
	}

	return &fileStore{
		log:          log,
		auditFile:    af,
		snapshotPath: snapPath,
		journalFile:  jf,
		alarms:       alarms,
	}, nil
}

func loadSnapshot(path string, into map[string]alarm.Alarm) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var list []alarm.Alarm
	if err := json.Unmarshal(b, &list); err != nil {
		return err
	}
	for _, a := range list {
		into[a.ID] = a
	}
	return nil
}

func replayJournal(path string, into map[string]alarm.Alarm) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var rec journalRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			// Torn tail write; stop replaying here.
			break
		}
		switch rec.Op {
		case "put":
			if rec.Alarm != nil {
				into[rec.Alarm.ID] = *rec.Alarm
			}
		case "del":
			delete(into, rec.ID)
		}
	}
	return sc.Err()
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.auditFile != nil {
		err1 = s.auditFile.Close()
		s.auditFile = nil
	}
	if s.journalFile != nil {
		err2 = s.journalFile.Close()
		s.journalFile = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *fileStore) PutAlarm(ctx context.Context, a alarm.Alarm) error {
	_ = ctx
	if strings.TrimSpace(a.ID) == "" {
		return errors.New("alarm id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return errors.New("store closed")
	}
	if err := s.appendJournalLocked(journalRecord{Op: "put", Alarm: &a}); err != nil {
		return err
	}
	s.alarms[a.ID] = a
	s.maybeCompactLocked()
	return nil
}

func (s *fileStore) DeleteAlarm(ctx context.Context, id string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return errors.New("store closed")
	}
	if _, ok := s.alarms[id]; !ok {
		return nil
	}
	if err := s.appendJournalLocked(journalRecord{Op: "del", ID: id}); err != nil {
		return err
	}
	delete(s.alarms, id)
	s.maybeCompactLocked()
	return nil
}

func (s *fileStore) ListAlarms(ctx context.Context) ([]alarm.Alarm, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]alarm.Alarm, 0, len(s.alarms))
	for _, a := range s.alarms {
		out = append(out, a)
	}
	return out, nil
}

func (s *fileStore) CountAlarms(ctx context.Context) (int, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.alarms), nil
}

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return errors.New("audit file closed")
	}
	enc := json.NewEncoder(s.auditFile)
	return enc.Encode(e)
}

func (s *fileStore) appendJournalLocked(rec journalRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	_, err = s.journalFile.Write(b)
	if err == nil {
		s.writes++
	}
	return err
}

// maybeCompactLocked rewrites the snapshot and truncates the journal once
// enough journal entries have accumulated. Best-effort: a failed compaction
// leaves the journal intact and is retried on the next threshold.
func (s *fileStore) maybeCompactLocked() {
	if s.writes < compactEvery {
		return
	}

	list := make([]alarm.Alarm, 0, len(s.alarms))
	for _, a := range s.alarms {
		list = append(list, a)
	}
	b, err := json.Marshal(list)
	if err != nil {
		return
	}

	tmp := s.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		s.log.Warn("alarm snapshot write failed", logx.Err(err))
		return
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		s.log.Warn("alarm snapshot rename failed", logx.Err(err))
		return
	}

	if err := s.journalFile.Truncate(0); err != nil {
		s.log.Warn("journal truncate failed", logx.Err(err))
		return
	}
	if _, err := s.journalFile.Seek(0, 0); err != nil {
		s.log.Warn("journal seek failed", logx.Err(err))
		return
	}
	s.writes = 0
}
