package task

import (
	stderrors "errors"
	"testing"
	"time"

	oerr "github.com/rcalvert/orchard/internal/errors"
	"github.com/rcalvert/orchard/internal/taskid"
)

func newTask(t *testing.T, id string) *Task {
	t.Helper()
	tk, err := New(taskid.ID(id), "Test task", "Test description")
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return tk
}

func TestNewDefaults(t *testing.T) {
	tk := newTask(t, "20250128001")

	if tk.Status != StatusTodo {
		t.Errorf("Status = %s, want %s", tk.Status, StatusTodo)
	}
	if tk.Priority != PriorityMedium {
		t.Errorf("Priority = %s, want %s", tk.Priority, PriorityMedium)
	}
	if tk.CreatedAt.IsZero() || tk.UpdatedAt.IsZero() {
		t.Error("expected timestamps to be set")
	}
	if tk.CreatedAt.Location() != time.UTC {
		t.Error("expected UTC timestamps")
	}

	events := tk.DrainEvents()
	if len(events) != 1 || events[0].Field != FieldCreated {
		t.Errorf("expected single created event, got %v", events)
	}
}

func TestNewValidation(t *testing.T) {
	long := make([]byte, 0, 1200)
	for i := 0; i < 1200; i++ {
		long = append(long, 'x')
	}

	tests := []struct {
		name        string
		title       string
		description string
	}{
		{"empty title", "", "desc"},
		{"empty description", "title", ""},
		{"title too long", string(long[:201]), "desc"},
		{"description too long", "title", string(long[:1001])},
	}

	for _, tt := range tests {
		if _, err := New(taskid.ID("20250128001"), tt.title, tt.description); err == nil {
			t.Errorf("%s: New() should fail", tt.name)
		}
	}
}

func TestTransitions(t *testing.T) {
	tests := []struct {
		from, to Status
		ok       bool
	}{
		{StatusTodo, StatusInProgress, true},
		{StatusTodo, StatusCancelled, true},
		{StatusTodo, StatusDone, false},
		{StatusTodo, StatusReview, false},
		{StatusInProgress, StatusDone, true},
		{StatusInProgress, StatusBlocked, true},
		{StatusInProgress, StatusReview, true},
		{StatusInProgress, StatusTesting, true},
		{StatusInProgress, StatusCancelled, true},
		{StatusInProgress, StatusTodo, false},
		{StatusBlocked, StatusInProgress, true},
		{StatusBlocked, StatusDone, true},
		{StatusBlocked, StatusCancelled, true},
		{StatusBlocked, StatusReview, false},
		{StatusReview, StatusDone, true},
		{StatusTesting, StatusInProgress, true},
		{StatusDone, StatusInProgress, false},
		{StatusDone, StatusCancelled, false},
		{StatusCancelled, StatusTodo, false},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.ok {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.ok)
		}
	}
}

func TestUpdateStatusInvalidTransitionNamesBothStates(t *testing.T) {
	tk := newTask(t, "20250128001")

	err := tk.UpdateStatus(StatusDone)
	if err == nil {
		t.Fatal("todo → done should fail")
	}
	oe := oerr.AsError(err)
	if oe == nil || oe.Code != oerr.CodeInvalidTransition {
		t.Fatalf("error = %v, want INVALID_TRANSITION", err)
	}
}

func TestCompleteRequiresContext(t *testing.T) {
	tk := newTask(t, "20250128001")
	tk.AddSubtask("step one", "")
	tk.AddSubtask("step two", "")

	err := tk.Complete()
	if !stderrors.Is(err, oerr.ErrContextNotReady("20250128001")) {
		t.Fatalf("Complete() without context = %v, want CONTEXT_NOT_READY", err)
	}

	tk.SetContextID("ctx-1")
	if err := tk.Complete(); err != nil {
		t.Fatalf("Complete() with context failed: %v", err)
	}
	if tk.Status != StatusDone {
		t.Errorf("Status = %s, want done", tk.Status)
	}
	for _, st := range tk.Subtasks {
		if !st.Completed {
			t.Errorf("subtask %s should be forced complete", st.ID)
		}
	}
}

func TestCompleteFromTerminalFails(t *testing.T) {
	tk := newTask(t, "20250128001")
	if err := tk.UpdateStatus(StatusCancelled); err != nil {
		t.Fatal(err)
	}
	tk.SetContextID("ctx-1")
	if err := tk.Complete(); err == nil {
		t.Error("Complete() on cancelled task should fail")
	}
}

func TestMutationsClearContext(t *testing.T) {
	due := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		mutate func(*Task)
	}{
		{"status", func(tk *Task) { tk.UpdateStatus(StatusInProgress) }},
		{"priority", func(tk *Task) { tk.UpdatePriority(PriorityHigh) }},
		{"title", func(tk *Task) { tk.UpdateTitle("new title") }},
		{"description", func(tk *Task) { tk.UpdateDescription("new description") }},
		{"details", func(tk *Task) { tk.UpdateDetails("notes") }},
		{"effort", func(tk *Task) { tk.UpdateEstimatedEffort("2h") }},
		{"due date", func(tk *Task) { tk.UpdateDueDate(&due) }},
		{"assignees", func(tk *Task) { tk.SetAssignees([]string{"agent-1"}) }},
		{"labels", func(tk *Task) { tk.SetLabels([]string{"backend"}) }},
	}

	for _, tt := range tests {
		tk := newTask(t, "20250128001")
		tk.SetContextID("ctx-1")
		tt.mutate(tk)
		if tk.ContextID != "" {
			t.Errorf("%s: mutation should clear the context marker", tt.name)
		}
	}
}

func TestShortcutsKeepContext(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Task)
	}{
		{"add assignee", func(tk *Task) { tk.AddAssignee("agent-2") }},
		{"remove assignee", func(tk *Task) { tk.RemoveAssignee("agent-1") }},
		{"add label", func(tk *Task) { tk.AddLabel("infra") }},
		{"remove label", func(tk *Task) { tk.RemoveLabel("backend") }},
	}

	for _, tt := range tests {
		tk := newTask(t, "20250128001")
		tk.AddAssignee("agent-1")
		tk.AddLabel("backend")
		tk.SetContextID("ctx-1")
		tt.mutate(tk)
		if tk.ContextID != "ctx-1" {
			t.Errorf("%s: shortcut should keep the context marker", tt.name)
		}
	}
}

func TestDrainEventsDeliversOncePerDrain(t *testing.T) {
	tk := newTask(t, "20250128001")
	tk.DrainEvents() // drop created event

	tk.UpdatePriority(PriorityUrgent)
	tk.UpdateTitle("renamed")

	events := tk.DrainEvents()
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Field != "priority" || events[1].Field != "title" {
		t.Errorf("events out of mutation order: %v", events)
	}
	if events[0].Old != string(PriorityMedium) || events[0].New != string(PriorityUrgent) {
		t.Errorf("priority event = %+v", events[0])
	}

	if again := tk.DrainEvents(); len(again) != 0 {
		t.Errorf("second drain should be empty, got %v", again)
	}
}

func TestNoOpMutationEmitsNothing(t *testing.T) {
	tk := newTask(t, "20250128001")
	tk.DrainEvents()

	tk.UpdatePriority(PriorityMedium) // already medium
	tk.UpdateDetails("")              // already empty

	if n := tk.PendingEvents(); n != 0 {
		t.Errorf("no-op mutations emitted %d events", n)
	}
}

func TestSelfDependencyRejected(t *testing.T) {
	tk := newTask(t, "20250128001")

	if err := tk.AddDependency("20250128001"); err == nil {
		t.Error("AddDependency(self) should fail")
	}
	if !tk.HasCircularDependency("20250128001") {
		t.Error("HasCircularDependency(own id) should be true")
	}
	if tk.HasCircularDependency("20250128002") {
		t.Error("HasCircularDependency(other id) should be false")
	}
}

func TestAddDependencyDuplicateRejected(t *testing.T) {
	tk := newTask(t, "20250128001")
	if err := tk.AddDependency("20250128002"); err != nil {
		t.Fatal(err)
	}
	if err := tk.AddDependency("20250128002"); err == nil {
		t.Error("duplicate dependency should fail")
	}
}

func TestDetectCircularDependency(t *testing.T) {
	a := newTask(t, "20250128001")
	b := newTask(t, "20250128002")
	c := newTask(t, "20250128003")
	b.AddDependency("20250128001")
	c.AddDependency("20250128002")
	tasks := map[string]*Task{
		"20250128001": a,
		"20250128002": b,
		"20250128003": c,
	}

	// a → c would close the loop a → c → b → a
	if cycle := DetectCircularDependency("20250128001", "20250128003", tasks); cycle == nil {
		t.Error("expected cycle to be detected")
	}
	// a → nothing new, no cycle from an independent task
	if cycle := DetectCircularDependency("20250128003", "20250128001", tasks); cycle != nil {
		t.Errorf("unexpected cycle: %v", cycle)
	}
}

func TestComputeDependents(t *testing.T) {
	a := newTask(t, "20250128001")
	b := newTask(t, "20250128002")
	c := newTask(t, "20250128003")
	b.AddDependency("20250128001")
	c.AddDependency("20250128001")

	dependents := ComputeDependents("20250128001", []*Task{a, b, c})
	if len(dependents) != 2 || dependents[0] != "20250128002" || dependents[1] != "20250128003" {
		t.Errorf("dependents = %v", dependents)
	}
	if got := ComputeDependents("20250128003", []*Task{a, b, c}); len(got) != 0 {
		t.Errorf("dependents of leaf = %v", got)
	}
}

func TestUnmetDependencies(t *testing.T) {
	a := newTask(t, "20250128001")
	b := newTask(t, "20250128002")
	b.AddDependency("20250128001")
	b.AddDependency("20250128099") // missing
	tasks := map[string]*Task{"20250128001": a, "20250128002": b}

	unmet := b.UnmetDependencies(tasks)
	if len(unmet) != 2 {
		t.Fatalf("unmet = %v, want both prerequisites", unmet)
	}

	a.SetContextID("ctx")
	if err := a.Complete(); err != nil {
		t.Fatal(err)
	}
	unmet = b.UnmetDependencies(tasks)
	if len(unmet) != 1 || unmet[0] != "20250128099" {
		t.Errorf("unmet = %v, want only the missing task", unmet)
	}
}

func TestParseDueDate(t *testing.T) {
	if _, err := ParseDueDate("2025-02-01"); err != nil {
		t.Errorf("date-only due date rejected: %v", err)
	}
	if _, err := ParseDueDate("2025-02-01T10:00:00Z"); err != nil {
		t.Errorf("RFC 3339 due date rejected: %v", err)
	}
	if _, err := ParseDueDate("next tuesday"); err == nil {
		t.Error("malformed due date accepted")
	}
}

func TestValidate(t *testing.T) {
	tk := newTask(t, "20250128001")
	if err := tk.Validate(); err != nil {
		t.Errorf("Validate() on fresh task failed: %v", err)
	}

	bad := *tk
	bad.ID = taskid.ID("not-an-id")
	if err := bad.Validate(); err == nil {
		t.Error("Validate() should reject malformed id")
	}

	selfDep := *tk
	selfDep.Dependencies = []string{"20250128001"}
	if err := selfDep.Validate(); err == nil {
		t.Error("Validate() should reject self-dependency")
	}
}
