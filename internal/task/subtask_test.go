package task

import (
	"testing"
)

func taskWithSubtasks(t *testing.T) *Task {
	t.Helper()
	tk := newTask(t, "20250128001")
	for _, title := range []string{"first", "second", "third"} {
		if _, err := tk.AddSubtask(title, ""); err != nil {
			t.Fatalf("AddSubtask(%s) failed: %v", title, err)
		}
	}
	return tk
}

func TestAddSubtaskAllocatesHierarchicalIDs(t *testing.T) {
	tk := taskWithSubtasks(t)

	want := []string{"20250128001.001", "20250128001.002", "20250128001.003"}
	for i, st := range tk.Subtasks {
		if st.ID != want[i] {
			t.Errorf("subtask %d id = %s, want %s", i, st.ID, want[i])
		}
	}
}

func TestMatcherByIDAndByIndex(t *testing.T) {
	tk := taskWithSubtasks(t)

	byID, err := tk.GetSubtask(ByID("20250128001.002"))
	if err != nil {
		t.Fatalf("GetSubtask(by id) failed: %v", err)
	}
	byIndex, err := tk.GetSubtask(ByIndex(2))
	if err != nil {
		t.Fatalf("GetSubtask(by index) failed: %v", err)
	}
	if byID.ID != byIndex.ID {
		t.Errorf("id and index lookups disagree: %s vs %s", byID.ID, byIndex.ID)
	}

	if _, err := tk.GetSubtask(ByID("20250128001.099")); err == nil {
		t.Error("unknown subtask id should fail")
	}
	if _, err := tk.GetSubtask(ByIndex(9)); err == nil {
		t.Error("out-of-range index should fail")
	}
}

func TestMatcherFallsBackToSequenceAfterRemoval(t *testing.T) {
	tk := taskWithSubtasks(t)

	// Remove the first subtask; index 3 no longer exists positionally but
	// still resolves via the stable id sequence.
	if err := tk.RemoveSubtask(ByIndex(1)); err != nil {
		t.Fatal(err)
	}
	st, err := tk.GetSubtask(ByIndex(3))
	if err != nil {
		t.Fatalf("GetSubtask(3) after removal failed: %v", err)
	}
	if st.ID != "20250128001.003" {
		t.Errorf("resolved %s, want 20250128001.003", st.ID)
	}
}

func TestCompleteSubtaskAndProgress(t *testing.T) {
	tk := taskWithSubtasks(t)

	if p := tk.Progress(); p != 0 {
		t.Errorf("Progress() = %v, want 0", p)
	}

	if err := tk.CompleteSubtask(ByID("20250128001.001")); err != nil {
		t.Fatal(err)
	}
	if p := tk.Progress(); p != 33.3 {
		t.Errorf("Progress() = %v, want 33.3", p)
	}
	if err := tk.CompleteSubtask(ByIndex(2)); err != nil {
		t.Fatal(err)
	}
	if p := tk.Progress(); p != 66.7 {
		t.Errorf("Progress() = %v, want 66.7", p)
	}

	st := tk.FirstIncompleteSubtask()
	if st == nil || st.ID != "20250128001.003" {
		t.Errorf("FirstIncompleteSubtask() = %v", st)
	}
}

func TestProgressNoSubtasks(t *testing.T) {
	tk := newTask(t, "20250128001")
	if p := tk.Progress(); p != 0 {
		t.Errorf("Progress() = %v, want 0", p)
	}
}

func TestUpdateSubtask(t *testing.T) {
	tk := taskWithSubtasks(t)
	tk.SetContextID("ctx-1")

	if err := tk.UpdateSubtask(ByIndex(1), "renamed", "with details"); err != nil {
		t.Fatal(err)
	}
	st, _ := tk.GetSubtask(ByIndex(1))
	if st.Title != "renamed" || st.Description != "with details" {
		t.Errorf("subtask = %+v", st)
	}
	if tk.ContextID != "" {
		t.Error("subtask update should clear the context marker")
	}
}

func TestCompleteSubtaskKeepsContext(t *testing.T) {
	tk := taskWithSubtasks(t)
	tk.SetContextID("ctx-1")

	if err := tk.CompleteSubtask(ByIndex(1)); err != nil {
		t.Fatal(err)
	}
	if tk.ContextID != "ctx-1" {
		t.Error("completing a subtask should keep the context marker")
	}
}
