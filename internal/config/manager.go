package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "beacon/pkg/logx"
)

// reloadDebounce lets editors finish multi-step saves (temp file plus
// rename) before the config is re-read.
const reloadDebounce = 250 * time.Millisecond

// ConfigManager owns the config file: strict parsing, the committed
// snapshot, change fanout to subscribers, and the watch session behind
// hot reload. One instance per daemon.
type ConfigManager struct {
	path string

	mu       sync.RWMutex
	cfg      *Config
	lastHash uint64 // content hash of the committed config, to suppress no-op reloads

	// subsMu guards the subscriber list so publish never sends on a
	// channel that Unsubscribe is concurrently closing.
	subsMu sync.Mutex
	subs   []chan *Config

	log       logx.Logger
	validator func(ctx context.Context, cfg *Config) error
}

func NewConfigManager(path string) *ConfigManager {
	return &ConfigManager{path: path}
}

func (m *ConfigManager) SetLogger(log logx.Logger) { m.log = log }

// SetValidator installs the semantic check run on every reload before
// the new config is committed and published.
func (m *ConfigManager) SetValidator(fn func(ctx context.Context, cfg *Config) error) {
	m.validator = fn
}

// Parse reads and strictly decodes the config file without committing
// it. YAML is coerced to JSON first so both formats share one decoder
// and unknown keys are rejected either way.
func (m *ConfigManager) Parse() (*Config, error) {
	raw, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	body, err := jsonBody(m.path, raw)
	if err != nil {
		return nil, err
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, errors.New("invalid config: trailing data")
		}
		return nil, err
	}
	return &cfg, nil
}

// Load parses and commits the startup config.
func (m *ConfigManager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	m.Commit(cfg)
	return cfg, nil
}

func (m *ConfigManager) Commit(cfg *Config) {
	m.mu.Lock()
	m.cfg = cfg
	m.lastHash = hashConfig(cfg)
	m.mu.Unlock()
}

func (m *ConfigManager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func hashConfig(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	return hashBytes(b)
}

func (m *ConfigManager) Subscribe(buffer int) chan *Config {
	ch := make(chan *Config, buffer)
	m.subsMu.Lock()
	m.subs = append(m.subs, ch)
	m.subsMu.Unlock()
	return ch
}

func (m *ConfigManager) Unsubscribe(ch chan *Config) {
	if ch == nil {
		return
	}
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for i, s := range m.subs {
		if s == ch {
			last := len(m.subs) - 1
			m.subs[i] = m.subs[last]
			m.subs[last] = nil
			m.subs = m.subs[:last]
			close(ch)
			return
		}
	}
}

func (m *ConfigManager) publish(cfg *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		if ch == nil || offer(ch, cfg) {
			continue
		}
		// Slow subscriber with a full buffer: drop its oldest pending
		// config so the newest one wins.
		select {
		case <-ch:
		default:
		}
		if !offer(ch, cfg) {
			m.log.Debug("config update dropped (subscriber slow)", logx.Int("queue_cap", cap(ch)))
		}
	}
}

func offer(ch chan *Config, cfg *Config) bool {
	select {
	case ch <- cfg:
		return true
	default:
		return false
	}
}

// Sections pinned for the lifetime of the process. They shape the
// object graph built at startup (which surface is dialed, which store
// is opened), so a reload that changes one is rejected and the daemon
// keeps running on the committed config.
func pinnedSectionChange(oldCfg, newCfg *Config) error {
	if oldCfg == nil || newCfg == nil {
		return nil
	}
	if o, n := surfaceKind(oldCfg), surfaceKind(newCfg); o != n {
		return fmt.Errorf("surface.kind changed (%q to %q); restart required", o, n)
	}
	if o, n := storageDriver(oldCfg), storageDriver(newCfg); o != n {
		return fmt.Errorf("storage.driver changed (%q to %q); restart required", o, n)
	}
	return nil
}

func surfaceKind(cfg *Config) string {
	k := strings.TrimSpace(strings.ToLower(cfg.Surface.Kind))
	if k == "" {
		return "console"
	}
	return k
}

func storageDriver(cfg *Config) string {
	if cfg.Storage == nil {
		return "none"
	}
	d := strings.TrimSpace(strings.ToLower(cfg.Storage.Driver))
	if d == "" {
		return "none"
	}
	return d
}

// reload re-reads the file and, when it passes every gate, commits and
// publishes the new config. Any failure leaves the committed config
// untouched.
func (m *ConfigManager) reload(ctx context.Context) {
	cfg, err := m.Parse()
	if err != nil {
		m.log.Warn("config parse failed", logx.String("path", m.path), logx.Err(err))
		return
	}

	h := hashConfig(cfg)
	m.mu.RLock()
	unchanged := h != 0 && h == m.lastHash
	m.mu.RUnlock()
	if unchanged {
		m.log.Debug("config unchanged; skipping publish", logx.String("path", m.path))
		return
	}

	if err := pinnedSectionChange(m.Get(), cfg); err != nil {
		m.log.Warn("config rejected", logx.String("path", m.path), logx.Err(err))
		return
	}

	if m.validator != nil {
		vctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := m.validator(vctx, cfg)
		cancel()
		if err != nil {
			m.log.Warn("config rejected", logx.String("path", m.path), logx.Err(err))
			return
		}
	}

	m.Commit(cfg)
	m.publish(cfg)
	m.log.Debug("config published", logx.String("path", m.path), logx.String("hash", fmt.Sprintf("%x", h)))
}

// Watch runs one watcher session over the config file's directory and
// reloads on changes. It returns nil when ctx ends and an error when
// the watcher breaks; run it under a restarting supervisor slot so a
// broken session is recreated with backoff.
func (m *ConfigManager) Watch(ctx context.Context) error {
	dir := filepath.Dir(m.path)
	file := filepath.Base(m.path)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watch: %w", err)
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("config watch %s: %w", dir, err)
	}
	m.log.Debug("config watcher started", logx.String("dir", dir), logx.String("file", file))

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	reloadSoon := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		m.log.Debug("config change detected; scheduling reload", logx.String("path", m.path))
		timer = time.AfterFunc(reloadDebounce, func() { m.reload(ctx) })
	}
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("config watch: event channel closed")
			}
			// Editors save via temp file plus rename, so match by
			// basename rather than the exact path.
			if strings.EqualFold(filepath.Base(ev.Name), file) {
				reloadSoon()
			}
		case werr, ok := <-w.Errors:
			if !ok {
				return errors.New("config watch: error channel closed")
			}
			if werr == nil {
				continue
			}
			// Overflow means events were missed; reload once instead of
			// giving up the session.
			if strings.Contains(strings.ToLower(werr.Error()), "overflow") {
				m.log.Warn("config watch overflow; forcing reload", logx.Err(werr))
				reloadSoon()
				continue
			}
			return fmt.Errorf("config watch: %w", werr)
		}
	}
}
