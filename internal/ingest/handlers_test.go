package ingest

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"beacon/internal/display"
	"beacon/internal/progress"
	"beacon/internal/readiness"
	"beacon/internal/surface"
	logx "beacon/pkg/logx"
)

type stubSurface struct {
	mu    sync.Mutex
	sends []string
	edits []string
}

func (s *stubSurface) SendText(_ context.Context, text string, _ *surface.SendOptions) (surface.MessageRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sends = append(s.sends, text)
	return surface.MessageRef{ChatID: 1, MessageID: len(s.sends)}, nil
}

func (s *stubSurface) EditText(_ context.Context, _ surface.MessageRef, text string, _ *surface.SendOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.edits = append(s.edits, text)
	return nil
}

func (s *stubSurface) SupportsEdit(context.Context) (bool, error) { return true, nil }

func (s *stubSurface) lastRender() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.edits) > 0 {
		return s.edits[len(s.edits)-1]
	}
	if len(s.sends) > 0 {
		return s.sends[len(s.sends)-1]
	}
	return ""
}

// manualClock queues reaper callbacks for explicit firing.
type manualClock struct {
	mu      sync.Mutex
	pending []func()
}

func (m *manualClock) After(_ time.Duration, fn func()) {
	m.mu.Lock()
	m.pending = append(m.pending, fn)
	m.mu.Unlock()
}

func (m *manualClock) fireAll() {
	for {
		m.mu.Lock()
		if len(m.pending) == 0 {
			m.mu.Unlock()
			return
		}
		fn := m.pending[0]
		m.pending = m.pending[1:]
		m.mu.Unlock()
		fn()
	}
}

type fixture struct {
	h       *Handlers
	reg     *progress.Registry
	tracker *readiness.Tracker
	surf    *stubSurface
	clock   *manualClock
}

func newFixture(t *testing.T, exclusions ...string) *fixture {
	t.Helper()
	surf := &stubSurface{}
	disp := display.New(display.Config{SpinnerEnabled: false}, surf, logx.Nop(), nil, nil)
	reg := progress.NewRegistry(disp, logx.Nop())
	clock := &manualClock{}
	reaper := progress.NewReaper(progress.ReaperConfig{}, reg, clock, logx.Nop(), nil)
	tracker := readiness.NewTracker(logx.Nop(), nil, nil)
	h := NewHandlers(reg, reaper, tracker, disp, exclusions, logx.Nop())
	return &fixture{h: h, reg: reg, tracker: tracker, surf: surf, clock: clock}
}

func TestProgressReportCreatesTaskAndPendingResources(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.h.HandleProgress(ProgressEvent{
		Source:     Source{ClientID: "c1", Name: "gopls"},
		Kind:       ProgressReport,
		Token:      "index",
		Title:      "indexing",
		Message:    "2/10",
		Percentage: intp(20),
		Resources:  []string{"a.go", "b.go"},
	})

	if got := f.tracker.Status("a.go"); got != progress.StatusPending {
		t.Fatalf("Status(a.go) = %v, want pending", got)
	}
	render := f.surf.lastRender()
	if !strings.Contains(render, "gopls") || !strings.Contains(render, " 20% indexing - 2/10") {
		t.Fatalf("render = %q", render)
	}
}

func TestProgressEndMarksReadyAndArmsRemoval(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	var ready []string
	f.tracker.OnReady(func(res string) { ready = append(ready, res) })

	src := Source{ClientID: "c1", Name: "gopls"}
	f.h.HandleProgress(ProgressEvent{Source: src, Kind: ProgressReport, Token: "index", Title: "indexing", Resources: []string{"a.go"}})
	f.h.HandleProgress(ProgressEvent{Source: src, Kind: ProgressEnd, Token: "index", Message: "done", Resources: []string{"a.go"}})

	if len(ready) != 1 || ready[0] != "a.go" {
		t.Fatalf("ready = %v, want [a.go]", ready)
	}
	if !strings.Contains(f.surf.lastRender(), "indexing - done") {
		t.Fatalf("render = %q", f.surf.lastRender())
	}

	// Both grace stages elapse: task, then client, then terminal render.
	f.clock.fireAll()
	if got := f.reg.ClientCount(); got != 0 {
		t.Fatalf("ClientCount = %d, want 0", got)
	}
	if !strings.Contains(f.surf.lastRender(), "Complete") {
		t.Fatalf("render = %q, want terminal Complete", f.surf.lastRender())
	}
}

func TestFileStatusKindMapping(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		kind       int
		wantStatus progress.Status
		wantSev    progress.Severity
	}{
		{name: "kind 1 ready info", kind: 1, wantStatus: progress.StatusReady, wantSev: progress.SeverityInfo},
		{name: "kind 3 pending warn", kind: 3, wantStatus: progress.StatusPending, wantSev: progress.SeverityWarn},
		{name: "kind 4 pending error", kind: 4, wantStatus: progress.StatusPending, wantSev: progress.SeverityError},
		{name: "unknown kind pending info", kind: 99, wantStatus: progress.StatusPending, wantSev: progress.SeverityInfo},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			status, sev := mapKind(tt.kind)
			if status != tt.wantStatus || sev != tt.wantSev {
				t.Fatalf("mapKind(%d) = (%v, %v), want (%v, %v)", tt.kind, status, sev, tt.wantStatus, tt.wantSev)
			}
		})
	}
}

func TestFileStatusErrorKeepsResourcePending(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.h.HandleFileStatus(FileStatusEvent{
		Source:    Source{ClientID: "c1", Name: "sorbet"},
		Statuses:  map[string]FileStatus{"f.rb": {Kind: 4, Message: "type error"}},
		Resources: []string{"f.rb"},
	})

	if got := f.tracker.Status("f.rb"); got != progress.StatusPending {
		t.Fatalf("Status(f.rb) = %v, want pending (errors never imply ready)", got)
	}
	if got := f.reg.AggregateSeverity(); got != progress.SeverityError {
		t.Fatalf("AggregateSeverity = %v, want error", got)
	}
}

func TestFileStatusReadyAndAbsentResources(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.tracker.MarkPending("gone.rb")
	f.h.HandleFileStatus(FileStatusEvent{
		Source:    Source{ClientID: "c1", Name: "sorbet"},
		Statuses:  map[string]FileStatus{"ok.rb": {Kind: 1, Message: "checked"}},
		Resources: []string{"ok.rb", "gone.rb"},
	})

	if got := f.tracker.Status("ok.rb"); got != progress.StatusReady {
		t.Fatalf("Status(ok.rb) = %v, want ready", got)
	}
	if got := f.tracker.Status("gone.rb"); got != progress.StatusUnattached {
		t.Fatalf("Status(gone.rb) = %v, want unattached (absent from payload)", got)
	}

	// Ready resources get their display line reaped after the graces.
	f.clock.fireAll()
	if got := f.reg.ClientCount(); got != 0 {
		t.Fatalf("ClientCount = %d, want 0", got)
	}
}

func TestMessageSeverityMapping(t *testing.T) {
	t.Parallel()
	tests := []struct {
		level int
		want  progress.Severity
	}{
		{level: 0, want: progress.SeverityError},
		{level: 1, want: progress.SeverityWarn},
		{level: 2, want: progress.SeverityInfo},
		{level: 3, want: progress.SeverityInfo},
	}
	for _, tt := range tests {
		if got := messageSeverity(tt.level); got != tt.want {
			t.Fatalf("messageSeverity(%d) = %v, want %v", tt.level, got, tt.want)
		}
	}
}

func TestMessageBypassesAggregate(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.h.HandleMessage(MessageEvent{Source: Source{ClientID: "c1", Name: "gopls"}, Level: 0, Text: "build failed"})

	if got := f.reg.ClientCount(); got != 0 {
		t.Fatalf("ClientCount = %d, want 0 (messages must not create clients)", got)
	}
	if got := f.surf.lastRender(); got != "🚨 build failed" {
		t.Fatalf("render = %q", got)
	}
}

func TestExcludedBackendIsIgnored(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "noisy-ls")

	src := Source{ClientID: "c1", Name: "noisy-ls"}
	f.h.HandleProgress(ProgressEvent{Source: src, Kind: ProgressReport, Token: "t", Title: "work", Resources: []string{"a.go"}})
	f.h.HandleFileStatus(FileStatusEvent{Source: src, Statuses: map[string]FileStatus{"a.go": {Kind: 1}}, Resources: []string{"a.go"}})
	f.h.HandleMessage(MessageEvent{Source: src, Level: 0, Text: "ignored"})

	if got := f.reg.ClientCount(); got != 0 {
		t.Fatalf("ClientCount = %d, want 0", got)
	}
	if got := f.tracker.Status("a.go"); got != progress.StatusUnattached {
		t.Fatalf("Status = %v, want unattached", got)
	}
	if got := f.surf.lastRender(); got != "" {
		t.Fatalf("render = %q, want no output", got)
	}
}

func TestSetExclusionsHotSwap(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.h.SetExclusions([]string{"gopls"})
	f.h.HandleProgress(ProgressEvent{Source: Source{ClientID: "c1", Name: "gopls"}, Kind: ProgressReport, Token: "t", Title: "work"})
	if got := f.reg.ClientCount(); got != 0 {
		t.Fatalf("ClientCount = %d, want 0 after exclusion", got)
	}

	f.h.SetExclusions(nil)
	f.h.HandleProgress(ProgressEvent{Source: Source{ClientID: "c1", Name: "gopls"}, Kind: ProgressReport, Token: "t", Title: "work"})
	if got := f.reg.ClientCount(); got != 1 {
		t.Fatalf("ClientCount = %d, want 1 after clearing exclusions", got)
	}
}

func intp(v int) *int { return &v }
