package progress

import "strings"

// completeLine is rendered for a client (or the whole registry) that has
// no remaining tasks but hasn't been reaped yet. Absence only happens
// after the grace periods elapse.
const completeLine = "Complete"

// Client is one backend's view: a named registry of tasks keyed by task
// identifier. Task iteration order is insertion order so a render pass
// is stable.
type Client struct {
	ID   string
	Name string

	tasks map[string]*Task
	order []string
}

func newClient(id, name string) *Client {
	if strings.TrimSpace(name) == "" {
		name = id
	}
	return &Client{ID: id, Name: name, tasks: map[string]*Task{}}
}

// GetOrCreateTask returns the existing task for taskID unchanged, or
// registers a fresh one. It never overwrites fields of a live task.
func (c *Client) GetOrCreateTask(taskID, title, message string) *Task {
	if t, ok := c.tasks[taskID]; ok {
		return t
	}
	t := newTask(c.ID, taskID, title, message)
	c.tasks[taskID] = t
	c.order = append(c.order, taskID)
	return t
}

// RemoveTask drops taskID; absent ids are a no-op.
func (c *Client) RemoveTask(taskID string) {
	if _, ok := c.tasks[taskID]; !ok {
		return
	}
	delete(c.tasks, taskID)
	for i, id := range c.order {
		if id == taskID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

func (c *Client) Task(taskID string) (*Task, bool) {
	t, ok := c.tasks[taskID]
	return t, ok
}

func (c *Client) TaskCount() int { return len(c.tasks) }

// AggregateSeverity is the max severity over contained tasks; an empty
// client reports info.
func (c *Client) AggregateSeverity() Severity {
	sev := SeverityInfo
	for _, t := range c.tasks {
		sev = sev.Max(t.Severity)
	}
	return sev
}

// Render emits the client name header followed by one line per task, or
// a single placeholder line when no tasks remain.
func (c *Client) Render() string {
	var b strings.Builder
	b.WriteString(c.Name)
	if len(c.order) == 0 {
		b.WriteString("\n  ")
		b.WriteString(completeLine)
		return b.String()
	}
	for _, id := range c.order {
		t := c.tasks[id]
		b.WriteString("\n  ")
		b.WriteString(t.Format())
	}
	return b.String()
}
