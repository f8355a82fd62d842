package display

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"beacon/internal/progress"
	"beacon/internal/surface"
	logx "beacon/pkg/logx"
)

// fakeSurface records sends and edits. Behavior knobs cover the probe
// result and per-call failures.
type fakeSurface struct {
	mu sync.Mutex

	canEdit  bool
	probeErr error
	sendErr  error
	editErr  error

	sends []string
	edits []string
	opts  []*surface.SendOptions

	nextID int
}

func (f *fakeSurface) SendText(_ context.Context, text string, opt *surface.SendOptions) (surface.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return surface.MessageRef{}, f.sendErr
	}
	f.nextID++
	f.sends = append(f.sends, text)
	f.opts = append(f.opts, opt)
	return surface.MessageRef{ChatID: 1, MessageID: f.nextID}, nil
}

func (f *fakeSurface) EditText(_ context.Context, _ surface.MessageRef, text string, _ *surface.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.editErr != nil {
		return f.editErr
	}
	f.edits = append(f.edits, text)
	return nil
}

func (f *fakeSurface) SupportsEdit(context.Context) (bool, error) {
	return f.canEdit, f.probeErr
}

func (f *fakeSurface) snapshot() (sends, edits []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sends...), append([]string(nil), f.edits...)
}

func newTestAdapter(cfg Config, surf surface.Surface) *Adapter {
	return New(cfg, surf, logx.Nop(), nil, nil)
}

func TestProbeDecidesStrategyOnce(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		mode Mode
		surf *fakeSurface
		want bool
	}{
		{name: "auto probes capable surface", mode: ModeAuto, surf: &fakeSurface{canEdit: true}, want: true},
		{name: "auto probes incapable surface", mode: ModeAuto, surf: &fakeSurface{canEdit: false}, want: false},
		{name: "probe error means append", mode: ModeAuto, surf: &fakeSurface{canEdit: true, probeErr: errors.New("probe broke")}, want: false},
		{name: "replace override skips probe", mode: ModeReplace, surf: &fakeSurface{canEdit: false}, want: true},
		{name: "append override skips probe", mode: ModeAppend, surf: &fakeSurface{canEdit: true}, want: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAdapter(Config{Mode: tt.mode, SpinnerEnabled: false}, tt.surf)
			if got := a.CanReplace(); got != tt.want {
				t.Fatalf("CanReplace() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestReplacePushSendsThenEdits(t *testing.T) {
	t.Parallel()
	surf := &fakeSurface{canEdit: true}
	a := newTestAdapter(Config{SpinnerEnabled: false}, surf)

	a.EnsureOpen()
	a.Push("gopls\n  indexing", progress.SeverityInfo)
	a.Push("gopls\n  indexing more", progress.SeverityInfo)

	sends, edits := surf.snapshot()
	if len(sends) != 1 {
		t.Fatalf("sends = %d, want 1 (first push only)", len(sends))
	}
	if len(edits) != 1 {
		t.Fatalf("edits = %d, want 1 (second push edits in place)", len(edits))
	}
	if !strings.Contains(edits[0], "indexing more") {
		t.Fatalf("edit body = %q", edits[0])
	}
}

func TestSeverityIconOverridesSpinner(t *testing.T) {
	t.Parallel()
	surf := &fakeSurface{canEdit: true}
	a := newTestAdapter(Config{SpinnerEnabled: true}, surf)

	a.EnsureOpen()
	a.Push("body", progress.SeverityError)

	sends, _ := surf.snapshot()
	if len(sends) != 1 || !strings.HasPrefix(sends[0], "✖ ") {
		t.Fatalf("sends = %v, want error icon prefix", sends)
	}
}

func TestAppendModeSendsOnePerLine(t *testing.T) {
	t.Parallel()
	surf := &fakeSurface{canEdit: false}
	a := newTestAdapter(Config{Mode: ModeAppend, AppendRatePerSec: 100}, surf)

	a.EnsureOpen()
	a.Push("gopls\n  indexing\n\nrust-analyzer\n  loading", progress.SeverityInfo)

	sends, edits := surf.snapshot()
	if len(edits) != 0 {
		t.Fatalf("edits = %d, want 0 in append mode", len(edits))
	}
	want := []string{"gopls", "  indexing", "rust-analyzer", "  loading"}
	if len(sends) != len(want) {
		t.Fatalf("sends = %v, want %v", sends, want)
	}
	for i := range want {
		if sends[i] != want[i] {
			t.Fatalf("sends[%d] = %q, want %q", i, sends[i], want[i])
		}
	}
}

func TestAppendModeRateLimitDropsExcess(t *testing.T) {
	t.Parallel()
	surf := &fakeSurface{canEdit: false}
	a := newTestAdapter(Config{Mode: ModeAppend, AppendRatePerSec: 10}, surf)

	a.EnsureOpen()
	lines := make([]string, 15)
	for i := range lines {
		lines[i] = fmt.Sprintf("job %02d", i)
	}
	a.Push(strings.Join(lines, "\n"), progress.SeverityInfo)

	sends, _ := surf.snapshot()
	if len(sends) != 10 {
		t.Fatalf("sends = %d, want 10 (burst spent, excess dropped)", len(sends))
	}

	// The bucket refills over time, so a later push gets through.
	time.Sleep(300 * time.Millisecond)
	a.Push("after refill", progress.SeverityInfo)
	sends, _ = surf.snapshot()
	if len(sends) != 11 || sends[10] != "after refill" {
		t.Fatalf("sends = %v, want the post-refill line appended", sends)
	}
}

func TestFinalizeEmitsDoneAndCloses(t *testing.T) {
	t.Parallel()
	surf := &fakeSurface{canEdit: true}
	a := newTestAdapter(Config{SpinnerEnabled: false, DoneIconEnabled: true, FinalTimeout: 5 * time.Second}, surf)

	a.EnsureOpen()
	a.Push("body", progress.SeverityInfo)
	a.Finalize("Complete")

	_, edits := surf.snapshot()
	if len(edits) != 1 {
		t.Fatalf("edits = %d, want final render as edit", len(edits))
	}
	if edits[0] != "✔ Complete" {
		t.Fatalf("final text = %q, want %q", edits[0], "✔ Complete")
	}

	// Closed adapter ignores further pushes and repeated finalize.
	a.Push("late", progress.SeverityInfo)
	a.Finalize("again")
	sends, edits := surf.snapshot()
	if len(sends) != 1 || len(edits) != 1 {
		t.Fatalf("post-close traffic leaked: sends=%d edits=%d", len(sends), len(edits))
	}
}

func TestFinalizeUsesLongerTimeout(t *testing.T) {
	t.Parallel()
	surf := &fakeSurface{canEdit: false}
	a := newTestAdapter(Config{Mode: ModeAppend, FinalTimeout: 7 * time.Second}, surf)

	a.EnsureOpen()
	a.Finalize("Complete")

	surf.mu.Lock()
	defer surf.mu.Unlock()
	if len(surf.opts) != 1 || surf.opts[0] == nil || surf.opts[0].Timeout != 7*time.Second {
		t.Fatalf("final send options = %+v, want 7s timeout", surf.opts)
	}
}

func TestSurfaceFailuresAreSwallowed(t *testing.T) {
	t.Parallel()
	surf := &fakeSurface{canEdit: true, sendErr: errors.New("surface down")}
	a := newTestAdapter(Config{SpinnerEnabled: false}, surf)

	a.EnsureOpen()
	a.Push("body", progress.SeverityInfo) // must not panic
	a.Finalize("Complete")
}

func TestPostOneShotDedup(t *testing.T) {
	t.Parallel()
	surf := &fakeSurface{canEdit: false}
	a := newTestAdapter(Config{Mode: ModeAppend, DedupWindow: time.Minute}, surf)

	a.PostOneShot(progress.SeverityError, "build failed")
	a.PostOneShot(progress.SeverityError, "build failed") // suppressed
	a.PostOneShot(progress.SeverityWarn, "build failed")  // different severity passes

	sends, _ := surf.snapshot()
	if len(sends) != 2 {
		t.Fatalf("sends = %v, want 2", sends)
	}
	if !strings.HasPrefix(sends[0], "🚨 ") {
		t.Fatalf("sends[0] = %q, want error prefix", sends[0])
	}
	if !strings.HasPrefix(sends[1], "⚠️ ") {
		t.Fatalf("sends[1] = %q, want warn prefix", sends[1])
	}
}

func TestFitWidth(t *testing.T) {
	t.Parallel()
	got := fitWidth("abcdefgh\nshort", 5)
	want := "abcd…\nshort"
	if got != want {
		t.Fatalf("fitWidth = %q, want %q", got, want)
	}
	if fitWidth("abc", 0) != "abc" {
		t.Fatal("width 0 must disable truncation")
	}
}
