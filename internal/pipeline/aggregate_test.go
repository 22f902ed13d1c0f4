package pipeline

import (
	"testing"

	"mailcheck/internal"
)

func jobs(statuses ...internal.JobStatus) []internal.Job {
	out := make([]internal.Job, 0, len(statuses))
	for i, s := range statuses {
		out = append(out, internal.Job{Email: string(rune('a'+i)) + "@x.com", Status: s})
	}
	return out
}

func TestAggregateJobs(t *testing.T) {
	cases := []struct {
		name string
		jobs []internal.Job
		want internal.JobCounts
	}{
		{"empty", nil, internal.JobCounts{}},
		{"mixed", jobs(internal.JobExists, internal.JobCatchAll, internal.JobNotExists), internal.JobCounts{Total: 3, Valid: 1, Invalid: 1, CatchAll: 1}},
		{"unknown statuses are invalid", jobs("greylisted", internal.JobUnknown, internal.JobInvalidSyntax, "EXISTS"), internal.JobCounts{Total: 4, Invalid: 4}},
		{"pending counts as invalid", jobs(internal.JobPending, internal.JobExists), internal.JobCounts{Total: 2, Valid: 1, Invalid: 1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := AggregateJobs(tc.jobs)
			if got != tc.want {
				t.Fatalf("got %+v want %+v", got, tc.want)
			}
			if got.Valid+got.Invalid+got.CatchAll != got.Total {
				t.Fatalf("buckets do not sum to total: %+v", got)
			}
		})
	}
}

func TestDeriveStatus(t *testing.T) {
	if got := DeriveStatus(nil); got != internal.FilePending {
		t.Fatalf("nil detail: %s", got)
	}
	for _, s := range []internal.JobStatus{internal.JobPending, internal.JobProcessing, internal.JobStarted, internal.JobQueued} {
		detail := &internal.TaskDetail{Jobs: jobs(internal.JobExists, s)}
		if got := DeriveStatus(detail); got != internal.FilePending {
			t.Fatalf("%s: got %s", s, got)
		}
	}
	done := &internal.TaskDetail{Jobs: jobs(internal.JobExists, internal.JobNotExists)}
	if got := DeriveStatus(done); got != internal.FileDownload {
		t.Fatalf("settled: got %s", got)
	}
	if got := DeriveStatus(&internal.TaskDetail{}); got != internal.FileDownload {
		t.Fatalf("no jobs: got %s", got)
	}
}

func TestBucketString(t *testing.T) {
	if Classify(internal.JobCatchAll).String() != "catch_all" || Classify(internal.JobExists).String() != "valid" || Classify("x").String() != "invalid" {
		t.Fatal("unexpected bucket names")
	}
}
