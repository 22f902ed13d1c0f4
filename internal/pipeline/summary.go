package pipeline

import "mailcheck/internal"

// BuildSummary derives per-file rows and batch totals from whatever task
// details have been fetched so far. A file without detail stays pending with
// nil counts and is left out of the totals instead of counting as zero.
func BuildSummary(fileNames []string, links []internal.UploadLink, details map[string]*internal.TaskDetail) internal.UploadSummary {
	summary := internal.UploadSummary{Files: make([]internal.FileSummary, 0, len(fileNames))}

	var total, valid, invalid, catchAll int
	for i, name := range fileNames {
		row := internal.FileSummary{FileName: name, Status: internal.FilePending}

		link, ok := linkFor(i, name, links)
		if ok && link.TaskID != nil {
			id := *link.TaskID
			row.TaskID = &id
			if detail := details[id]; detail != nil {
				counts := AggregateJobs(detail.Jobs)
				row.TotalEmails = intPtr(counts.Total)
				row.Valid = intPtr(counts.Valid)
				row.Invalid = intPtr(counts.Invalid)
				row.CatchAll = intPtr(counts.CatchAll)
				row.Status = DeriveStatus(detail)
			}
		}

		if row.TotalEmails != nil && row.Valid != nil && row.Invalid != nil && row.CatchAll != nil {
			total += *row.TotalEmails
			valid += *row.Valid
			invalid += *row.Invalid
			catchAll += *row.CatchAll
			summary.HasTotals = true
		}
		summary.Files = append(summary.Files, row)
	}

	if summary.HasTotals {
		summary.TotalEmails = intPtr(total)
		summary.Valid = intPtr(valid)
		summary.Invalid = intPtr(invalid)
		summary.CatchAll = intPtr(catchAll)
	}
	return summary
}

// linkFor prefers the positional link and falls back to the first link with
// the same file name when the slices are out of step.
func linkFor(i int, name string, links []internal.UploadLink) (internal.UploadLink, bool) {
	if i < len(links) && links[i].FileName == name {
		return links[i], true
	}
	for _, l := range links {
		if l.FileName == name {
			return l, true
		}
	}
	return internal.UploadLink{}, false
}

func intPtr(v int) *int { return &v }
