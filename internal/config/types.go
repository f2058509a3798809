package config

// Config is the root configuration for the alarmdiag harness.
//
// The file may be JSON or YAML (by extension). Unknown fields are rejected so
// typos surface at load time instead of silently disabling features.
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage,omitempty"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Session   SessionConfig   `json:"session,omitempty"`
	Console   ConsoleConfig   `json:"console,omitempty"`
}

type LoggingConfig struct {
	Level   string     `json:"level,omitempty"`
	Console bool       `json:"console"`
	File    FileConfig `json:"file,omitempty"`
}

type FileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// StorageConfig controls the persisted alarm registry.
//
// Driver values:
//   - "sqlite": SQLite database file
//   - "file":   dependency-free file backend (jsonl journal + snapshot)
//
// If Driver is empty or "none", persistence is disabled and the stored-alarms
// count in diagnostic reports is always zero.
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// SchedulerConfig controls the reference scheduler collaborator.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type SchedulerConfig struct {
	Timezone string `json:"timezone,omitempty"` // IANA TZ, e.g. "Asia/Jakarta"

	// TestRatePerSec bounds how fast test notifications may be dispatched.
	// Defaults to 2. Diagnostic dispatches should never flood the OS store.
	TestRatePerSec int `json:"test_rate_per_sec,omitempty"`
}

// SessionConfig controls the orchestrated diagnostic session.
//
// Defaults (when fields are omitted/zero):
//   - settle_delay: "2s"
//   - delayed_test_seconds: 5
type SessionConfig struct {
	// SettleDelay is the pause between the immediate test and the delayed
	// test. It exists to let asynchronous delivery surface in logs, not as a
	// timing guarantee.
	SettleDelay string `json:"settle_delay,omitempty"`

	DelayedTestSeconds int `json:"delayed_test_seconds,omitempty"`
}

// ConsoleConfig controls the interactive operator console.
//
// The command table is only registered when Enabled is true; production
// deployments should leave it off.
type ConsoleConfig struct {
	Enabled bool `json:"enabled"`
}
