// Package readiness tracks per-resource attachment state, independent
// of whether the resource currently has a visible task.
package readiness

import (
	"context"
	"sync"
	"time"

	"beacon/internal/eventbus"
	"beacon/internal/progress"
	"beacon/internal/storage"
	logx "beacon/pkg/logx"
)

// ReadyFunc observes a resource's transition into ready.
type ReadyFunc func(resource string)

// Tracker maps resource identifiers to their tri-state status and
// notifies an explicit, ordered subscriber list on every transition
// into ready. Subscribers run synchronously in registration order.
//
// Never-observed resources report unattached.
type Tracker struct {
	mu       sync.Mutex
	statuses map[string]progress.Status
	subs     []ReadyFunc

	log   logx.Logger
	bus   eventbus.Bus
	store storage.Store // optional
}

func NewTracker(log logx.Logger, bus eventbus.Bus, store storage.Store) *Tracker {
	if log.IsZero() {
		log = logx.Nop()
	}
	t := &Tracker{
		statuses: map[string]progress.Status{},
		log:      log,
		bus:      bus,
		store:    store,
	}
	t.restore()
	return t
}

// restore reloads persisted statuses so a restarted daemon keeps its
// tracked-resource view. Best-effort.
func (t *Tracker) restore() {
	if t.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	recs, err := t.store.ListResources(ctx)
	if err != nil {
		t.log.Debug("readiness restore failed", logx.Err(err))
		return
	}
	for _, r := range recs {
		t.statuses[r.Resource] = parseStatus(r.Status)
	}
	if len(recs) > 0 {
		t.log.Debug("readiness restored", logx.Int("resources", len(recs)))
	}
}

// OnReady appends fn to the ordered subscriber list.
func (t *Tracker) OnReady(fn ReadyFunc) {
	if fn == nil {
		return
	}
	t.mu.Lock()
	t.subs = append(t.subs, fn)
	t.mu.Unlock()
}

// Status reports the resource's state, unattached when never observed.
func (t *Tracker) Status(resource string) progress.Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.statuses[resource]
}

// Track registers a resource as pending from session start. Resources
// already observed keep their state.
func (t *Tracker) Track(resource string) {
	if resource == "" {
		return
	}
	t.mu.Lock()
	if _, ok := t.statuses[resource]; ok {
		t.mu.Unlock()
		return
	}
	t.statuses[resource] = progress.StatusPending
	t.mu.Unlock()
	t.persist(resource, progress.StatusPending)
}

// MarkReady sets the resource ready; on the transition (and only then)
// the subscriber list fires in registration order.
func (t *Tracker) MarkReady(resource string) {
	if resource == "" {
		return
	}
	t.mu.Lock()
	prev := t.statuses[resource]
	if prev == progress.StatusReady {
		t.mu.Unlock()
		return
	}
	t.statuses[resource] = progress.StatusReady
	subs := append([]ReadyFunc(nil), t.subs...)
	t.mu.Unlock()

	t.persist(resource, progress.StatusReady)
	if t.bus != nil {
		t.bus.Publish(eventbus.Event{Type: eventbus.TypeResourceReady, Time: time.Now(), Data: resource})
	}
	for _, fn := range subs {
		fn(resource)
	}
}

// MarkPending unconditionally sets pending, even for a ready resource.
// Readiness may regress; a later ready event fires subscribers again.
func (t *Tracker) MarkPending(resource string) { t.set(resource, progress.StatusPending) }

// MarkUnattached records that the backend no longer reports the resource.
func (t *Tracker) MarkUnattached(resource string) { t.set(resource, progress.StatusUnattached) }

func (t *Tracker) set(resource string, st progress.Status) {
	if resource == "" {
		return
	}
	t.mu.Lock()
	if t.statuses[resource] == st {
		t.mu.Unlock()
		return
	}
	t.statuses[resource] = st
	t.mu.Unlock()
	t.persist(resource, st)
}

func (t *Tracker) persist(resource string, st progress.Status) {
	if t.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	if err := t.store.PutResource(ctx, storage.ResourceRecord{
		Resource:  resource,
		Status:    st.String(),
		UpdatedAt: time.Now(),
	}); err != nil {
		t.log.Debug("readiness persist failed", logx.String("resource", resource), logx.Err(err))
	}
}

func parseStatus(s string) progress.Status {
	switch s {
	case progress.StatusPending.String():
		return progress.StatusPending
	case progress.StatusReady.String():
		return progress.StatusReady
	default:
		return progress.StatusUnattached
	}
}
