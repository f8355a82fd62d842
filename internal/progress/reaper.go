package progress

import (
	"sync"
	"time"

	"beacon/internal/eventbus"
	logx "beacon/pkg/logx"
)

// Scheduler abstracts delayed callbacks so tests can drive a virtual
// clock instead of sleeping through grace intervals.
type Scheduler interface {
	After(d time.Duration, fn func())
}

// WallClock schedules on real timers.
type WallClock struct{}

func (WallClock) After(d time.Duration, fn func()) { time.AfterFunc(d, fn) }

// ReaperConfig carries the two grace intervals. Zero values fall back
// to defaults.
type ReaperConfig struct {
	TaskGrace   time.Duration
	ClientGrace time.Duration
}

const (
	defaultTaskGrace   = 3 * time.Second
	defaultClientGrace = 3 * time.Second
)

func (c ReaperConfig) withDefaults() ReaperConfig {
	if c.TaskGrace <= 0 {
		c.TaskGrace = defaultTaskGrace
	}
	if c.ClientGrace <= 0 {
		c.ClientGrace = defaultClientGrace
	}
	return c
}

// Reaper retires finished tasks and then their empty clients after
// grace intervals, so completion stays visible for a moment.
//
// Timers are fire-and-forget: nothing is cancelled, and every fire
// re-validates the state it is about to delete. A task that received
// fresh updates during the grace window is still removed at fire time
// (the disappearance is debounced, not the update); a client that
// gained a new task during its window survives.
type Reaper struct {
	mu  sync.Mutex
	cfg ReaperConfig

	reg   *Registry
	sched Scheduler
	bus   eventbus.Bus
	log   logx.Logger
}

func NewReaper(cfg ReaperConfig, reg *Registry, sched Scheduler, log logx.Logger, bus eventbus.Bus) *Reaper {
	if sched == nil {
		sched = WallClock{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Reaper{
		cfg:   cfg.withDefaults(),
		reg:   reg,
		sched: sched,
		bus:   bus,
		log:   log,
	}
}

// Apply swaps the grace intervals at runtime. Already-armed timers keep
// their original delay.
func (r *Reaper) Apply(cfg ReaperConfig) {
	r.mu.Lock()
	r.cfg = cfg.withDefaults()
	r.mu.Unlock()
}

func (r *Reaper) graces() (task, client time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg.TaskGrace, r.cfg.ClientGrace
}

// ScheduleTaskRemoval arms the two-stage removal for (clientID, taskID).
func (r *Reaper) ScheduleTaskRemoval(clientID, taskID string) {
	taskGrace, _ := r.graces()
	r.sched.After(taskGrace, func() { r.reapTask(clientID, taskID) })
}

func (r *Reaper) reapTask(clientID, taskID string) {
	clientExists, remaining := r.reg.RemoveTask(clientID, taskID)
	if !clientExists {
		return
	}
	r.publish(eventbus.TypeTaskReaped, ReapEvent{ClientID: clientID, TaskID: taskID})
	r.reg.RequestUpdate()
	if remaining > 0 {
		return
	}
	_, clientGrace := r.graces()
	r.sched.After(clientGrace, func() { r.reapClient(clientID) })
}

func (r *Reaper) reapClient(clientID string) {
	// Fire-time re-check: a task created during the grace window keeps
	// the client alive.
	if !r.reg.RemoveClientIfEmpty(clientID) {
		return
	}
	r.publish(eventbus.TypeClientReaped, ReapEvent{ClientID: clientID})
	r.reg.RequestUpdate()
}

// ReapEvent is published on the bus for each removal.
type ReapEvent struct {
	ClientID string
	TaskID   string
}

func (r *Reaper) publish(typ string, ev ReapEvent) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: ev})
}
