package config

import (
	"fmt"
	"strings"
)

// Validate checks structural invariants and duration syntax. It does not
// touch the network; surface credentials are only checked for presence.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	switch strings.TrimSpace(strings.ToLower(cfg.Surface.Kind)) {
	case "", "console":
	case "telegram":
		tg := cfg.Surface.Telegram
		if tg == nil || strings.TrimSpace(tg.Token) == "" {
			return fmt.Errorf("surface.telegram.token: required when surface.kind is telegram")
		}
		if tg.ChatID == 0 {
			return fmt.Errorf("surface.telegram.chat_id: required when surface.kind is telegram")
		}
		if _, err := ParseDurationField("surface.telegram.timeout", tg.Timeout); err != nil {
			return err
		}
	default:
		return fmt.Errorf("surface.kind: unknown kind %q", cfg.Surface.Kind)
	}

	switch strings.TrimSpace(strings.ToLower(cfg.Display.Mode)) {
	case "", "auto", "replace", "append":
	default:
		return fmt.Errorf("display.mode: unknown mode %q", cfg.Display.Mode)
	}
	for _, f := range []struct{ path, raw string }{
		{"display.spinner_interval", cfg.Display.SpinnerInterval},
		{"display.final_timeout", cfg.Display.FinalTimeout},
		{"display.dedup_window", cfg.Display.DedupWindow},
		{"reaper.task_grace", cfg.Reaper.TaskGrace},
		{"reaper.client_grace", cfg.Reaper.ClientGrace},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	if cfg.Display.Width < 0 {
		return fmt.Errorf("display.width: must be >= 0")
	}
	if cfg.Display.AppendRatePerSec < 0 {
		return fmt.Errorf("display.append_rate_per_sec: must be >= 0")
	}

	if s := cfg.Storage; s != nil {
		switch strings.TrimSpace(strings.ToLower(s.Driver)) {
		case "", "none", "file", "sqlite":
		default:
			return fmt.Errorf("storage.driver: unknown driver %q", s.Driver)
		}
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			return err
		}
	}

	if sw := cfg.Sweep; sw != nil && sw.Enabled {
		if strings.TrimSpace(sw.Spec) == "" {
			return fmt.Errorf("sweep.spec: required when sweep is enabled")
		}
		if _, err := ParseDurationField("sweep.stale_after", sw.StaleAfter); err != nil {
			return err
		}
	}

	return nil
}
