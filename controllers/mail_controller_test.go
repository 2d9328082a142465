package controller

import (
	"encoding/json"
	"testing"

	"mailburst/queue"
)

func failedJob(id string, payload string) queue.FailedJob {
	return queue.FailedJob{
		Job: queue.Job{
			ID:      id,
			Kind:    "single",
			Payload: json.RawMessage(payload),
		},
		Error: "smtp send failed",
	}
}

func TestOwnedFailedJobsFiltersOtherUsers(t *testing.T) {
	jobs := []queue.FailedJob{
		failedJob("a", `{"user_id":1,"recipients":["a@example.com"],"subject":"mine"}`),
		failedJob("b", `{"user_id":2,"recipients":["b@example.com"],"subject":"not mine"}`),
		failedJob("c", `{"user_id":1,"recipients":["c@example.com"],"subject":"also mine"}`),
		failedJob("d", `{"recipients":["d@example.com"]}`),
		failedJob("e", `not json`),
	}

	owned := ownedFailedJobs(jobs, 1)

	if len(owned) != 2 {
		t.Fatalf("len = %d, want 2", len(owned))
	}
	if owned[0].ID != "a" || owned[1].ID != "c" {
		t.Errorf("kept ids = %q, %q, want a, c", owned[0].ID, owned[1].ID)
	}
}

func TestOwnedFailedJobsEmptyInput(t *testing.T) {
	owned := ownedFailedJobs(nil, 1)
	if owned == nil || len(owned) != 0 {
		t.Errorf("owned = %#v, want empty non-nil slice", owned)
	}
}
