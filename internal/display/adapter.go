// Package display owns the notification surface: a small state machine
// (closed/open) that either keeps replacing one notification in place
// or, when the surface can't edit, emits standalone lines.
package display

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"beacon/internal/eventbus"
	"beacon/internal/progress"
	"beacon/internal/runtime/supervisor"
	"beacon/internal/storage"
	"beacon/internal/surface"
	logx "beacon/pkg/logx"
)

// Mode overrides the edit-capability probe.
type Mode string

const (
	ModeAuto    Mode = "auto"
	ModeReplace Mode = "replace"
	ModeAppend  Mode = "append"
)

type Config struct {
	Mode Mode

	// Explicit flags, not an overloaded "icons = false" value.
	SpinnerEnabled  bool
	DoneIconEnabled bool

	SpinnerFrames   []string
	SpinnerInterval time.Duration

	// FinalTimeout is the longer display timeout hinted for the
	// terminal "done" render.
	FinalTimeout time.Duration

	// Width caps each body line in runes. 0 disables the cap.
	Width int

	// AppendRatePerSec bounds standalone line emission in append-only
	// mode so a chatty backend can't flood the surface.
	AppendRatePerSec int

	// DedupWindow suppresses identical one-shot messages for a while.
	// 0 disables dedup.
	DedupWindow     time.Duration
	DedupMaxEntries int
}

var defaultFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

const doneIcon = "✔"

func (c Config) withDefaults() Config {
	if c.Mode == "" {
		c.Mode = ModeAuto
	}
	if len(c.SpinnerFrames) == 0 {
		c.SpinnerFrames = defaultFrames
	}
	if c.SpinnerInterval <= 0 {
		c.SpinnerInterval = 125 * time.Millisecond
	}
	if c.FinalTimeout <= 0 {
		c.FinalTimeout = 3 * time.Second
	}
	if c.AppendRatePerSec <= 0 {
		c.AppendRatePerSec = 5
	}
	if c.DedupMaxEntries <= 0 {
		c.DedupMaxEntries = 2000
	}
	return c
}

// Adapter drives one Surface. The replace/append strategy is decided
// once at construction (config override or a single capability probe)
// and never re-probed.
//
// Surface call failures are logged and swallowed: the surface is an
// external collaborator and its errors must not corrupt registry state.
type Adapter struct {
	mu  sync.Mutex
	cfg Config

	surf  surface.Surface
	log   logx.Logger
	bus   eventbus.Bus
	sup   *supervisor.Supervisor
	store storage.Store // optional: cross-restart dedup

	canReplace bool

	open     bool
	ref      surface.MessageRef
	frame    int
	lastBody string
	lastSev  progress.Severity
	spinStop chan struct{}

	limiter *rate.Limiter

	dmu   sync.Mutex
	dedup map[string]time.Time
}

func New(cfg Config, surf surface.Surface, log logx.Logger, bus eventbus.Bus, store storage.Store) *Adapter {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{
		cfg:     cfg,
		surf:    surf,
		log:     log,
		bus:     bus,
		store:   store,
		limiter: rate.NewLimiter(rate.Limit(cfg.AppendRatePerSec), cfg.AppendRatePerSec),
		dedup:   map[string]time.Time{},
	}
	a.canReplace = a.probeOnce(cfg.Mode)
	return a
}

// probeOnce resolves the rendering strategy. A probe error means the
// capability is absent, never a failure.
func (a *Adapter) probeOnce(mode Mode) bool {
	switch mode {
	case ModeReplace:
		return true
	case ModeAppend:
		return false
	}
	if a.surf == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ok, err := a.surf.SupportsEdit(ctx)
	if err != nil {
		a.log.Warn("edit capability probe failed; using append-only rendering", logx.Err(err))
		return false
	}
	return ok
}

// Start attaches the supervisor that will own spinner goroutines.
func (a *Adapter) Start(sup *supervisor.Supervisor) {
	a.mu.Lock()
	a.sup = sup
	a.mu.Unlock()
}

// Apply updates the runtime-tunable knobs. The replace/append decision
// is intentionally not revisited.
func (a *Adapter) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	a.mu.Lock()
	cfg.Mode = a.cfg.Mode
	a.cfg = cfg
	a.limiter = rate.NewLimiter(rate.Limit(cfg.AppendRatePerSec), cfg.AppendRatePerSec)
	a.mu.Unlock()
}

// CanReplace reports the strategy chosen at construction.
func (a *Adapter) CanReplace() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.canReplace
}

// EnsureOpen transitions closed -> open, starting the spinner loop when
// the surface can be replaced in place. Idempotent.
func (a *Adapter) EnsureOpen() {
	a.mu.Lock()
	if a.open {
		a.mu.Unlock()
		return
	}
	a.open = true
	a.frame = 0
	var stop chan struct{}
	if a.canReplace && a.cfg.SpinnerEnabled {
		stop = make(chan struct{})
		a.spinStop = stop
		interval := a.cfg.SpinnerInterval
		sup := a.sup
		a.mu.Unlock()
		if sup != nil {
			sup.Go0("display.spinner", func(ctx context.Context) { a.spinLoop(ctx, stop, interval) })
		} else {
			go a.spinLoop(context.Background(), stop, interval)
		}
	} else {
		a.mu.Unlock()
	}
	a.publish(eventbus.TypeDisplayOpened, nil)
}

// Push renders the aggregate body at the given severity.
func (a *Adapter) Push(body string, sev progress.Severity) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.open {
		return
	}
	body = fitWidth(body, a.cfg.Width)
	a.lastBody = body
	a.lastSev = sev

	if a.canReplace {
		a.pushReplaceLocked(a.composeLocked(body, sev), nil)
		return
	}
	// Append-only: one standalone info message per line, rate-limited.
	// Chosen over a single big message to avoid blocking-prompt behavior
	// on surfaces that accumulate scrollback.
	for _, line := range strings.Split(body, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if !a.limiter.Allow() {
			a.log.Debug("append-only update dropped (rate limited)")
			return
		}
		if _, err := a.surf.SendText(context.Background(), line, nil); err != nil {
			a.log.Debug("surface send failed", logx.Err(err))
			return
		}
	}
}

// pushReplaceLocked sends the first notification or edits it in place.
func (a *Adapter) pushReplaceLocked(text string, opt *surface.SendOptions) {
	if a.ref.IsZero() {
		ref, err := a.surf.SendText(context.Background(), text, opt)
		if err != nil {
			a.log.Debug("surface send failed", logx.Err(err))
			return
		}
		a.ref = ref
		return
	}
	if err := a.surf.EditText(context.Background(), a.ref, text, opt); err != nil {
		a.log.Debug("surface edit failed", logx.Err(err))
	}
}

// Finalize emits the terminal render (info severity, done icon, longer
// timeout), stops the spinner, releases the surface handle, and
// transitions open -> closed. No-op when already closed.
func (a *Adapter) Finalize(body string) {
	a.mu.Lock()
	if !a.open {
		a.mu.Unlock()
		return
	}
	a.open = false
	if a.spinStop != nil {
		close(a.spinStop)
		a.spinStop = nil
	}
	body = fitWidth(body, a.cfg.Width)
	icon := ""
	if a.cfg.DoneIconEnabled {
		icon = doneIcon
	}
	text := joinIcon(icon, body)
	opt := &surface.SendOptions{Timeout: a.cfg.FinalTimeout}
	if a.canReplace {
		a.pushReplaceLocked(text, opt)
	} else if _, err := a.surf.SendText(context.Background(), text, opt); err != nil {
		a.log.Debug("surface send failed", logx.Err(err))
	}
	a.ref = surface.MessageRef{}
	a.lastBody = ""
	a.mu.Unlock()
	a.publish(eventbus.TypeDisplayClosed, nil)
}

// PostOneShot forwards a backend message straight to the surface,
// bypassing the aggregate. Identical messages inside the dedup window
// are suppressed.
func (a *Adapter) PostOneShot(sev progress.Severity, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	a.mu.Lock()
	window := a.cfg.DedupWindow
	maxEntries := a.cfg.DedupMaxEntries
	a.mu.Unlock()

	if window > 0 && !a.dedupAllow(sev.String()+"|"+text, window, maxEntries) {
		a.publish(eventbus.TypeMessageDeduped, MessageEvent{Severity: sev.String(), Text: text})
		return
	}
	if _, err := a.surf.SendText(context.Background(), severityPrefix(sev)+text, nil); err != nil {
		a.log.Debug("surface send failed", logx.Err(err))
		return
	}
	a.publish(eventbus.TypeMessagePosted, MessageEvent{Severity: sev.String(), Text: text})
}

// MessageEvent is published for one-shot message traffic.
type MessageEvent struct {
	Severity string
	Text     string
}

func (a *Adapter) spinLoop(ctx context.Context, stop <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			a.tick()
		}
	}
}

// tick advances the spinner frame. Only the icon changes; the body is
// whatever the last push rendered.
func (a *Adapter) tick() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.open || !a.canReplace || a.ref.IsZero() {
		return
	}
	a.frame = (a.frame + 1) % len(a.cfg.SpinnerFrames)
	a.pushReplaceLocked(a.composeLocked(a.lastBody, a.lastSev), nil)
}

func (a *Adapter) composeLocked(body string, sev progress.Severity) string {
	icon := ""
	if a.cfg.SpinnerEnabled {
		icon = a.cfg.SpinnerFrames[a.frame%len(a.cfg.SpinnerFrames)]
	}
	if sev > progress.SeverityInfo {
		icon = severityIcon(sev)
	}
	return joinIcon(icon, body)
}

func (a *Adapter) dedupAllow(raw string, window time.Duration, maxEntries int) bool {
	now := time.Now()
	key := dedupKey(raw)

	a.dmu.Lock()
	if until, ok := a.dedup[key]; ok && now.Before(until) {
		a.dmu.Unlock()
		return false
	}
	a.dmu.Unlock()

	// Persistent check (best-effort) for cross-restart dedup.
	if a.store != nil {
		cctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
		until, ok, err := a.store.GetDedup(cctx, key)
		cancel()
		if err == nil && ok && now.Before(until) {
			a.dmu.Lock()
			a.dedup[key] = until
			a.dmu.Unlock()
			return false
		}
	}

	until := now.Add(window)
	a.dmu.Lock()
	a.dedup[key] = until

	// Prune expired, then cap by evicting earliest expiries.
	for k, u := range a.dedup {
		if !now.Before(u) {
			delete(a.dedup, k)
		}
	}
	for maxEntries > 0 && len(a.dedup) > maxEntries {
		var minKey string
		var minT time.Time
		for k, t := range a.dedup {
			if minKey == "" || t.Before(minT) {
				minKey, minT = k, t
			}
		}
		delete(a.dedup, minKey)
	}
	a.dmu.Unlock()

	if a.store != nil {
		cctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		_ = a.store.PutDedup(cctx, key, until)
		cancel()
	}
	return true
}

func dedupKey(raw string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(raw))
	return fmt.Sprintf("%x", h.Sum64())
}

func (a *Adapter) publish(typ string, data any) {
	if a.bus == nil {
		return
	}
	a.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: data})
}

func severityIcon(sev progress.Severity) string {
	switch sev {
	case progress.SeverityError:
		return "✖"
	case progress.SeverityWarn:
		return "⚠"
	default:
		return ""
	}
}

func severityPrefix(sev progress.Severity) string {
	switch sev {
	case progress.SeverityError:
		return "🚨 "
	case progress.SeverityWarn:
		return "⚠️ "
	default:
		return ""
	}
}

func joinIcon(icon, body string) string {
	if icon == "" {
		return body
	}
	return icon + " " + body
}

func fitWidth(body string, width int) string {
	if width <= 0 {
		return body
	}
	lines := strings.Split(body, "\n")
	for i, line := range lines {
		rs := []rune(line)
		if len(rs) > width {
			lines[i] = string(rs[:width-1]) + "…"
		}
	}
	return strings.Join(lines, "\n")
}
