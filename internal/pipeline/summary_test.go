package pipeline

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"mailcheck/internal"
)

func TestBuildSummaryPartialDetails(t *testing.T) {
	files := []string{"a.csv", "b.csv"}
	links := []internal.UploadLink{
		{FileName: "a.csv", TaskID: strp("t-a")},
		{FileName: "b.csv", TaskID: strp("t-b")},
	}
	details := map[string]*internal.TaskDetail{
		"t-a": {ID: "t-a", Jobs: jobs(internal.JobExists, internal.JobCatchAll, internal.JobNotExists)},
	}

	got := BuildSummary(files, links, details)
	want := internal.UploadSummary{
		Files: []internal.FileSummary{
			{FileName: "a.csv", TotalEmails: intPtr(3), Valid: intPtr(1), Invalid: intPtr(1), CatchAll: intPtr(1), Status: internal.FileDownload, TaskID: strp("t-a")},
			{FileName: "b.csv", Status: internal.FilePending, TaskID: strp("t-b")},
		},
		TotalEmails: intPtr(3),
		Valid:       intPtr(1),
		Invalid:     intPtr(1),
		CatchAll:    intPtr(1),
		HasTotals:   true,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("summary mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildSummaryWithoutDetailsHasNoTotals(t *testing.T) {
	files := []string{"a.csv", "b.csv"}
	links := []internal.UploadLink{{FileName: "a.csv"}, {FileName: "b.csv", TaskID: strp("t-b")}}

	got := BuildSummary(files, links, nil)
	if got.HasTotals || got.TotalEmails != nil || got.Valid != nil {
		t.Fatalf("expected nil totals, got %+v", got)
	}
	for _, row := range got.Files {
		if row.Status != internal.FilePending || row.TotalEmails != nil {
			t.Fatalf("row=%+v", row)
		}
	}
	if got.Files[0].TaskID != nil {
		t.Fatalf("unlinked file has task id")
	}
}

func TestBuildSummarySumsQualifyingRows(t *testing.T) {
	files := []string{"a.csv", "b.csv", "c.csv"}
	links := []internal.UploadLink{
		{FileName: "a.csv", TaskID: strp("t-a")},
		{FileName: "b.csv", TaskID: strp("t-b")},
		{FileName: "c.csv", TaskID: strp("t-c")},
	}
	details := map[string]*internal.TaskDetail{
		"t-a": {Jobs: jobs(internal.JobExists, internal.JobExists)},
		"t-b": {Jobs: jobs(internal.JobCatchAll, internal.JobQueued)},
	}

	got := BuildSummary(files, links, details)
	if *got.TotalEmails != 4 || *got.Valid != 2 || *got.CatchAll != 1 || *got.Invalid != 1 {
		t.Fatalf("totals=%d/%d/%d/%d", *got.TotalEmails, *got.Valid, *got.Invalid, *got.CatchAll)
	}
	if got.Files[1].Status != internal.FilePending {
		t.Fatalf("queued job should keep b.csv pending")
	}
	if got.Files[2].TotalEmails != nil {
		t.Fatalf("c.csv has no detail yet")
	}
}

func TestBuildSummaryFallsBackToLinkByName(t *testing.T) {
	links := []internal.UploadLink{{FileName: "b.csv", TaskID: strp("t-b")}}
	details := map[string]*internal.TaskDetail{"t-b": {Jobs: jobs(internal.JobExists)}}

	got := BuildSummary([]string{"a.csv", "b.csv"}, links, details)
	if got.Files[1].TaskID == nil || *got.Files[1].TaskID != "t-b" || got.Files[1].Status != internal.FileDownload {
		t.Fatalf("row=%+v", got.Files[1])
	}
}
