package jobs

import (
	"errors"
	"testing"
)

func TestJobLifecycle(t *testing.T) {
	r := NewRegistry()

	id := r.Create("Scanning...")
	j, ok := r.Get(id)
	if !ok {
		t.Fatal("job not found after create")
	}
	if j.Status != StatusQueued || j.Message != "Scanning..." {
		t.Errorf("created job = %+v", j)
	}

	r.Start(id, "Scan started")
	j, _ = r.Get(id)
	if j.Status != StatusRunning || j.StartedAt == 0 {
		t.Errorf("running job = %+v", j)
	}

	result := map[string]int{"files": 42}
	r.Done(id, "Scan complete", result)
	j, _ = r.Get(id)
	if j.Status != StatusDone || j.FinishedAt == 0 {
		t.Errorf("done job = %+v", j)
	}
	if got, ok := j.Result.(map[string]int); !ok || got["files"] != 42 {
		t.Errorf("result = %v", j.Result)
	}
}

func TestJobFail(t *testing.T) {
	r := NewRegistry()
	id := r.Create("Parsing...")
	r.Start(id, "Parsing...")
	r.Fail(id, errors.New("workbook missing"))
	j, _ := r.Get(id)
	if j.Status != StatusError || j.Error != "workbook missing" {
		t.Errorf("failed job = %+v", j)
	}
}

func TestUnknownJob(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Get("nope"); ok {
		t.Error("unknown id found")
	}
	// Updates to unknown ids are silently dropped.
	r.Start("nope", "x")
	r.Done("nope", "x", nil)
	r.Fail("nope", errors.New("x"))
}

func TestGetReturnsSnapshot(t *testing.T) {
	r := NewRegistry()
	id := r.Create("work")
	j, _ := r.Get(id)
	j.Status = "mutated"
	if again, _ := r.Get(id); again.Status != StatusQueued {
		t.Error("Get exposed internal job state")
	}
}

func TestClear(t *testing.T) {
	r := NewRegistry()
	id := r.Create("work")
	r.Clear()
	if _, ok := r.Get(id); ok {
		t.Error("job survived Clear")
	}
	// The registry stays usable after a clear.
	if id2 := r.Create("more work"); id2 == "" {
		t.Error("create after clear failed")
	}
}

func TestIDsAreUnique(t *testing.T) {
	r := NewRegistry()
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := r.Create("n")
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}
