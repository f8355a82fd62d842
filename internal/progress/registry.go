package progress

import (
	"strings"
	"sync"

	logx "beacon/pkg/logx"
)

// Display is the narrow slice of the display adapter the registry
// drives. EnsureOpen is idempotent; Finalize on an already-closed
// adapter is a no-op.
type Display interface {
	EnsureOpen()
	Push(body string, sev Severity)
	Finalize(body string)
}

// Registry aggregates every active client into one composed view and
// decides, after each mutation, what the display adapter should do.
//
// Exactly one registry exists per display surface, but it is plain
// injected state, not a global.
type Registry struct {
	mu      sync.Mutex
	clients map[string]*Client
	order   []string

	display Display
	log     logx.Logger
}

func NewRegistry(display Display, log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{
		clients: map[string]*Client{},
		display: display,
		log:     log,
	}
}

// GetOrCreateClient returns the client for clientID, registering it
// under name on first sight. Existing clients are returned unchanged.
func (r *Registry) GetOrCreateClient(clientID, name string) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getOrCreateClientLocked(clientID, name)
}

func (r *Registry) getOrCreateClientLocked(clientID, name string) *Client {
	if c, ok := r.clients[clientID]; ok {
		return c
	}
	c := newClient(clientID, name)
	r.clients[clientID] = c
	r.order = append(r.order, clientID)
	r.log.Debug("client registered", logx.String("client", c.Name), logx.String("id", clientID))
	return c
}

// UpsertTask resolves or creates the (clientID, taskID) task and applies
// the update in one registry transaction.
func (r *Registry) UpsertTask(clientID, clientName, taskID, title, message string, status Status, sev Severity, percentage *int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.getOrCreateClientLocked(clientID, clientName)
	t := c.GetOrCreateTask(taskID, title, message)
	t.Update(status, sev, message, percentage)
}

// RemoveTask removes the task if its client still exists. It reports
// whether the client exists and how many tasks it has left, so the
// reaper can decide about the client timer within one lock hold.
func (r *Registry) RemoveTask(clientID, taskID string) (clientExists bool, remaining int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[clientID]
	if !ok {
		return false, 0
	}
	c.RemoveTask(taskID)
	return true, c.TaskCount()
}

// RemoveClientIfEmpty drops the client only when its task registry is
// still empty. The re-check is what keeps a client alive when new work
// arrived during the grace window.
func (r *Registry) RemoveClientIfEmpty(clientID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[clientID]
	if !ok {
		return false
	}
	if c.TaskCount() > 0 {
		return false
	}
	delete(r.clients, clientID)
	for i, id := range r.order {
		if id == clientID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.log.Debug("client retired", logx.String("id", clientID))
	return true
}

func (r *Registry) ClientCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

// AggregateSeverity is the max severity over all clients.
func (r *Registry) AggregateSeverity() Severity {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.aggregateSeverityLocked()
}

func (r *Registry) aggregateSeverityLocked() Severity {
	sev := SeverityInfo
	for _, c := range r.clients {
		sev = sev.Max(c.AggregateSeverity())
	}
	return sev
}

// Render composes the multi-line body: each client's block separated by
// a blank line, or the placeholder when everything is gone.
func (r *Registry) Render() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.renderLocked()
}

func (r *Registry) renderLocked() string {
	if len(r.order) == 0 {
		return completeLine
	}
	blocks := make([]string, 0, len(r.order))
	for _, id := range r.order {
		blocks = append(blocks, r.clients[id].Render())
	}
	return strings.Join(blocks, "\n\n")
}

// RequestUpdate is the central redraw entry point, called after every
// mutation. Policy, evaluated in order on every call:
//
//  1. open the surface if none is displayed (may combine with 2 or 3)
//  2. non-empty registry: push the current body at the aggregate severity
//  3. empty registry: terminal render, stop animation, release surface
func (r *Registry) RequestUpdate() {
	r.mu.Lock()
	n := len(r.order)
	body := r.renderLocked()
	sev := r.aggregateSeverityLocked()
	r.mu.Unlock()

	if r.display == nil {
		return
	}
	r.display.EnsureOpen()
	if n > 0 {
		r.display.Push(body, sev)
		return
	}
	r.display.Finalize(body)
}
