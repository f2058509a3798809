package storage

// Package storage persists the alarm registry and the harness audit trail.
//
// The registry is the "stored" leg of a diagnostic pass: the scheduler's
// in-memory tracked set and the live system store are counted against it.
