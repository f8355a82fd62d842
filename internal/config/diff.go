package config

import (
	"reflect"
	"sort"
	"strings"

	logx "beacon/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections and
// (2) safe structured attrs for logging (never includes secrets like tokens).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	// Logging
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Surface (never log token)
	oSurf, nSurf := oldCfg.Surface, newCfg.Surface
	surfChanged := strings.TrimSpace(oSurf.Kind) != strings.TrimSpace(nSurf.Kind) ||
		!reflect.DeepEqual(oSurf.Console, nSurf.Console)
	oTG, nTG := derefTelegram(oSurf.Telegram), derefTelegram(nSurf.Telegram)
	oTG.Token, nTG.Token = "", ""
	surfChanged = surfChanged || !reflect.DeepEqual(oTG, nTG) ||
		tokenSet(oSurf.Telegram) != tokenSet(nSurf.Telegram)
	if surfChanged {
		changed = append(changed, "surface")
		attrs = append(attrs,
			logx.String("surface.kind", strings.TrimSpace(nSurf.Kind)),
			logx.Bool("surface.telegram_token_set", tokenSet(nSurf.Telegram)),
		)
	}

	// Display
	if !reflect.DeepEqual(oldCfg.Display, newCfg.Display) {
		changed = append(changed, "display")
		attrs = append(attrs,
			logx.String("display.mode", strings.TrimSpace(newCfg.Display.Mode)),
			logx.Int("display.width", newCfg.Display.Width),
			logx.String("display.dedup_window", strings.TrimSpace(newCfg.Display.DedupWindow)),
		)
	}

	// Reaper graces
	if !reflect.DeepEqual(oldCfg.Reaper, newCfg.Reaper) {
		changed = append(changed, "reaper")
		attrs = append(attrs,
			logx.String("reaper.task_grace", strings.TrimSpace(newCfg.Reaper.TaskGrace)),
			logx.String("reaper.client_grace", strings.TrimSpace(newCfg.Reaper.ClientGrace)),
		)
	}

	// Ingest exclusions
	if !equalStringSets(oldCfg.Ingest.Exclude, newCfg.Ingest.Exclude) {
		changed = append(changed, "ingest")
		attrs = append(attrs,
			logx.Int("ingest.exclude_count", len(newCfg.Ingest.Exclude)),
		)
	}

	// Storage. Nil means disabled.
	oldS, newS := oldCfg.Storage, newCfg.Storage
	var oDriver, nDriver, oBusy, nBusy string
	var oPathSet, nPathSet bool
	if oldS != nil {
		oDriver = strings.TrimSpace(oldS.Driver)
		oBusy = strings.TrimSpace(oldS.BusyTimeout)
		oPathSet = strings.TrimSpace(oldS.Path) != ""
	}
	if newS != nil {
		nDriver = strings.TrimSpace(newS.Driver)
		nBusy = strings.TrimSpace(newS.BusyTimeout)
		nPathSet = strings.TrimSpace(newS.Path) != ""
	}
	if oDriver != nDriver || oBusy != nBusy || oPathSet != nPathSet {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nDriver),
			logx.Bool("storage.path_set", nPathSet),
			logx.String("storage.busy_timeout", nBusy),
		)
	}

	// Sweep
	oSw, nSw := derefSweep(oldCfg.Sweep), derefSweep(newCfg.Sweep)
	if !reflect.DeepEqual(oSw, nSw) {
		changed = append(changed, "sweep")
		attrs = append(attrs,
			logx.Bool("sweep.enabled", nSw.Enabled),
			logx.String("sweep.spec", strings.TrimSpace(nSw.Spec)),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func derefTelegram(c *SurfaceTelegramConfig) SurfaceTelegramConfig {
	if c == nil {
		return SurfaceTelegramConfig{}
	}
	return *c
}

func derefSweep(c *SweepConfig) SweepConfig {
	if c == nil {
		return SweepConfig{}
	}
	return *c
}

func tokenSet(c *SurfaceTelegramConfig) bool {
	return c != nil && strings.TrimSpace(c.Token) != ""
}

func equalStringSets(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}
