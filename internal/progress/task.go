package progress

import (
	"fmt"
	"strings"
)

// Severity orders notification levels. Unknown values collapse to info.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarn
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityWarn:
		return "warn"
	case SeverityError:
		return "error"
	default:
		return "info"
	}
}

// Max returns the higher of two severities.
func (s Severity) Max(o Severity) Severity {
	if o > s {
		return o
	}
	return s
}

// Status is the tri-state attachment/readiness of a task or resource.
type Status int

const (
	StatusUnattached Status = iota
	StatusPending
	StatusReady
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusReady:
		return "ready"
	default:
		return "unattached"
	}
}

// Task is one unit of reported work (a progress token) or one tracked
// resource's status line, scoped to a single backend client.
//
// Identity is (clientID, taskID); everything else is last-write-wins.
// Percentage stays nil for sync-style tasks.
type Task struct {
	ClientID string
	ID       string

	Title      string
	Message    string
	Percentage *int
	Severity   Severity
	Status     Status
}

func newTask(clientID, taskID, title, message string) *Task {
	return &Task{
		ClientID: clientID,
		ID:       taskID,
		Title:    title,
		Message:  message,
		Status:   StatusPending,
	}
}

// Update overwrites the mutable fields. Nil percentage leaves the
// existing value untouched so a terminal "end" event doesn't blank a
// previously reported column.
func (t *Task) Update(status Status, sev Severity, message string, percentage *int) {
	t.Status = status
	t.Severity = sev
	if message != "" {
		t.Message = message
	}
	if percentage != nil {
		p := clampPercent(*percentage)
		t.Percentage = &p
	}
}

// Format renders the task as a single display line. Blank segments are
// omitted; a percentage, when present, is left-padded into a fixed
// column so stacked lines align.
func (t *Task) Format() string {
	var b strings.Builder
	if t.Percentage != nil {
		fmt.Fprintf(&b, "%3d%% ", *t.Percentage)
	}
	title := strings.TrimSpace(t.Title)
	msg := strings.TrimSpace(t.Message)
	switch {
	case title != "" && msg != "":
		b.WriteString(title)
		b.WriteString(" - ")
		b.WriteString(msg)
	case title != "":
		b.WriteString(title)
	default:
		b.WriteString(msg)
	}
	return b.String()
}

func clampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
