package progress

import "testing"

func intp(v int) *int { return &v }

func TestTaskFormat(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		task Task
		want string
	}{
		{name: "title only", task: Task{Title: "indexing"}, want: "indexing"},
		{name: "message only", task: Task{Message: "3/10 files"}, want: "3/10 files"},
		{name: "title and message", task: Task{Title: "indexing", Message: "3/10 files"}, want: "indexing - 3/10 files"},
		{name: "percentage pads to column", task: Task{Title: "indexing", Percentage: intp(7)}, want: "  7% indexing"},
		{name: "full percentage", task: Task{Title: "indexing", Message: "done", Percentage: intp(100)}, want: "100% indexing - done"},
		{name: "blank segments trimmed", task: Task{Title: "  ", Message: " msg "}, want: "msg"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.task.Format(); got != tt.want {
				t.Fatalf("Format() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTaskUpdatePartialFields(t *testing.T) {
	t.Parallel()
	task := newTask("c1", "t1", "compile", "starting")
	task.Update(StatusPending, SeverityInfo, "halfway", intp(50))

	// Terminal update without message or percentage keeps both.
	task.Update(StatusReady, SeverityInfo, "", nil)
	if task.Message != "halfway" {
		t.Fatalf("Message = %q, want %q", task.Message, "halfway")
	}
	if task.Percentage == nil || *task.Percentage != 50 {
		t.Fatalf("Percentage = %v, want 50", task.Percentage)
	}
	if task.Status != StatusReady {
		t.Fatalf("Status = %v, want %v", task.Status, StatusReady)
	}
}

func TestTaskUpdateClampsPercentage(t *testing.T) {
	t.Parallel()
	task := newTask("c1", "t1", "compile", "")
	task.Update(StatusPending, SeverityInfo, "", intp(140))
	if *task.Percentage != 100 {
		t.Fatalf("Percentage = %d, want 100", *task.Percentage)
	}
	task.Update(StatusPending, SeverityInfo, "", intp(-3))
	if *task.Percentage != 0 {
		t.Fatalf("Percentage = %d, want 0", *task.Percentage)
	}
}

func TestSeverityOrdering(t *testing.T) {
	t.Parallel()
	if got := SeverityInfo.Max(SeverityError); got != SeverityError {
		t.Fatalf("Max = %v, want %v", got, SeverityError)
	}
	if got := SeverityError.Max(SeverityWarn); got != SeverityError {
		t.Fatalf("Max = %v, want %v", got, SeverityError)
	}
	if SeverityWarn.String() != "warn" || SeverityError.String() != "error" || SeverityInfo.String() != "info" {
		t.Fatal("unexpected severity names")
	}
}
