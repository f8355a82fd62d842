package config

type Config struct {
	Logging LoggingConfig `json:"logging"`
	Surface SurfaceConfig `json:"surface"`
	Display DisplayConfig `json:"display"`
	Reaper  ReaperConfig  `json:"reaper"`
	Ingest  IngestConfig  `json:"ingest"`
	Storage *StorageConfig `json:"storage,omitempty"`
	Sweep   *SweepConfig   `json:"sweep,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SurfaceConfig selects the surface that renders the aggregate.
// Kind is "console" (default) or "telegram".
type SurfaceConfig struct {
	Kind     string                 `json:"kind"`
	Console  *SurfaceConsoleConfig  `json:"console,omitempty"`
	Telegram *SurfaceTelegramConfig `json:"telegram,omitempty"`
}

type SurfaceConsoleConfig struct {
	// ForceAppend disables in-place rewriting even on a tty.
	ForceAppend bool `json:"force_append,omitempty"`
}

type SurfaceTelegramConfig struct {
	Token    string `json:"token"`
	ChatID   int64  `json:"chat_id"`
	ThreadID int    `json:"thread_id,omitempty"`
	// Timeout is a Go duration string (e.g. "10s").
	Timeout string `json:"timeout,omitempty"`
}

// DisplayConfig controls how the aggregate is presented.
//
// All durations are Go duration strings (e.g. "125ms", "3s").
type DisplayConfig struct {
	// Mode is "auto" (probe the surface), "replace" or "append".
	Mode string `json:"mode,omitempty"`

	Spinner  *bool `json:"spinner,omitempty"`
	DoneIcon *bool `json:"done_icon,omitempty"`

	SpinnerInterval string `json:"spinner_interval,omitempty"`
	FinalTimeout    string `json:"final_timeout,omitempty"`

	// Width truncates rendered lines. 0 disables truncation.
	Width int `json:"width,omitempty"`

	// AppendRatePerSec throttles append-mode line output.
	AppendRatePerSec int `json:"append_rate_per_sec,omitempty"`

	// One-shot message dedup. Window "0s" disables.
	DedupWindow     string `json:"dedup_window,omitempty"`
	DedupMaxEntries int    `json:"dedup_max_entries,omitempty"`
}

// ReaperConfig controls the removal grace periods.
//
// Defaults: task_grace "3s", client_grace "3s".
type ReaperConfig struct {
	TaskGrace   string `json:"task_grace,omitempty"`
	ClientGrace string `json:"client_grace,omitempty"`
}

// IngestConfig controls event intake.
type IngestConfig struct {
	// Exclude lists backend names whose events are dropped.
	Exclude []string `json:"exclude,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./beacon_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// SweepConfig controls periodic housekeeping. Spec takes a cron
// expression or an "@every <duration>" shorthand.
type SweepConfig struct {
	Enabled bool   `json:"enabled"`
	Spec    string `json:"spec,omitempty"`
	// StaleAfter prunes unattached resource records older than this.
	StaleAfter string `json:"stale_after,omitempty"`
	Timezone   string `json:"timezone,omitempty"`
}
