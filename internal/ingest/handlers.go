package ingest

import (
	"path"
	"sync"

	"beacon/internal/display"
	"beacon/internal/progress"
	"beacon/internal/readiness"
	"beacon/pkg/logx"
)

// Handlers applies backend events to the registry, readiness tracker
// and display. Every handler first consults the exclusion set and
// no-ops for excluded backends.
type Handlers struct {
	reg     *progress.Registry
	reaper  *progress.Reaper
	tracker *readiness.Tracker
	disp    *display.Adapter
	log     logx.Logger

	mu      sync.RWMutex
	exclude map[string]struct{}
}

func NewHandlers(reg *progress.Registry, reaper *progress.Reaper, tracker *readiness.Tracker, disp *display.Adapter, exclusions []string, log logx.Logger) *Handlers {
	if log.IsZero() {
		log = logx.Nop()
	}
	h := &Handlers{
		reg:     reg,
		reaper:  reaper,
		tracker: tracker,
		disp:    disp,
		log:     log,
	}
	h.SetExclusions(exclusions)
	return h
}

// SetExclusions replaces the excluded-backend name set. Safe to call
// while handlers are running (config reload).
func (h *Handlers) SetExclusions(names []string) {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	h.mu.Lock()
	h.exclude = set
	h.mu.Unlock()
}

func (h *Handlers) excluded(name string) bool {
	h.mu.RLock()
	_, ok := h.exclude[name]
	h.mu.RUnlock()
	return ok
}

// HandleProgress ingests a named-work progress payload.
func (h *Handlers) HandleProgress(ev ProgressEvent) {
	if h.excluded(ev.Source.Name) {
		return
	}
	switch ev.Kind {
	case ProgressReport:
		for _, res := range ev.Resources {
			h.tracker.MarkPending(res)
		}
		h.reg.UpsertTask(ev.Source.ClientID, ev.Source.Name, ev.Token,
			ev.Title, ev.Message, progress.StatusPending, progress.SeverityInfo, ev.Percentage)
	case ProgressEnd:
		for _, res := range ev.Resources {
			h.tracker.MarkReady(res)
		}
		h.reg.UpsertTask(ev.Source.ClientID, ev.Source.Name, ev.Token,
			ev.Title, ev.Message, progress.StatusReady, progress.SeverityInfo, nil)
		h.reaper.ScheduleTaskRemoval(ev.Source.ClientID, ev.Token)
	default:
		h.log.Debug("progress event with unknown kind dropped",
			logx.String("backend", ev.Source.Name), logx.String("kind", string(ev.Kind)))
		return
	}
	h.reg.RequestUpdate()
}

// HandleFileStatus reconciles the client's owned resources against a
// per-resource status sweep. Owned resources absent from the payload
// drop back to unattached.
func (h *Handlers) HandleFileStatus(ev FileStatusEvent) {
	if h.excluded(ev.Source.Name) {
		return
	}
	for _, res := range ev.Resources {
		fs, ok := ev.Statuses[res]
		if !ok {
			h.tracker.MarkUnattached(res)
			continue
		}
		status, sev := mapKind(fs.Kind)
		h.reg.UpsertTask(ev.Source.ClientID, ev.Source.Name, res,
			path.Base(res), fs.Message, status, sev, nil)
		if status == progress.StatusReady {
			h.tracker.MarkReady(res)
			h.reaper.ScheduleTaskRemoval(ev.Source.ClientID, res)
		} else {
			h.tracker.MarkPending(res)
		}
	}
	h.reg.RequestUpdate()
}

// mapKind translates a wire status kind into (readiness, severity).
func mapKind(kind int) (progress.Status, progress.Severity) {
	switch kind {
	case 1:
		return progress.StatusReady, progress.SeverityInfo
	case 3:
		return progress.StatusPending, progress.SeverityWarn
	case 4:
		return progress.StatusPending, progress.SeverityError
	default:
		return progress.StatusPending, progress.SeverityInfo
	}
}

// HandleMessage forwards free-text backend output to the surface as a
// one-shot line, outside the aggregate.
func (h *Handlers) HandleMessage(ev MessageEvent) {
	if h.excluded(ev.Source.Name) {
		return
	}
	if ev.Text == "" {
		return
	}
	h.disp.PostOneShot(messageSeverity(ev.Level), ev.Text)
}

func messageSeverity(level int) progress.Severity {
	switch level {
	case 0:
		return progress.SeverityError
	case 1:
		return progress.SeverityWarn
	default:
		return progress.SeverityInfo
	}
}
