package pipeline

import "mailcheck/internal"

type Bucket int

const (
	BucketInvalid Bucket = iota
	BucketValid
	BucketCatchAll
)

func (b Bucket) String() string {
	switch b {
	case BucketValid:
		return "valid"
	case BucketCatchAll:
		return "catch_all"
	default:
		return "invalid"
	}
}

var pendingStatuses = map[internal.JobStatus]struct{}{
	internal.JobPending:    {},
	internal.JobProcessing: {},
	internal.JobStarted:    {},
	internal.JobQueued:     {},
}

// Classify puts a job status into exactly one bucket. Anything that is not
// "exists" or "catchall", including statuses the backend adds later, is invalid.
func Classify(status internal.JobStatus) Bucket {
	switch status {
	case internal.JobExists:
		return BucketValid
	case internal.JobCatchAll:
		return BucketCatchAll
	default:
		return BucketInvalid
	}
}

func IsPendingStatus(status internal.JobStatus) bool {
	_, ok := pendingStatuses[status]
	return ok
}

func AggregateJobs(jobs []internal.Job) internal.JobCounts {
	counts := internal.JobCounts{Total: len(jobs)}
	for _, job := range jobs {
		switch Classify(job.Status) {
		case BucketValid:
			counts.Valid++
		case BucketCatchAll:
			counts.CatchAll++
		default:
			counts.Invalid++
		}
	}
	return counts
}

func HasPendingJobs(jobs []internal.Job) bool {
	for _, job := range jobs {
		if IsPendingStatus(job.Status) {
			return true
		}
	}
	return false
}

// DeriveStatus is "pending" until the detail is known and every job has settled.
func DeriveStatus(detail *internal.TaskDetail) internal.FileStatus {
	if detail == nil || HasPendingJobs(detail.Jobs) {
		return internal.FilePending
	}
	return internal.FileDownload
}
