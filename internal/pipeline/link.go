package pipeline

import "mailcheck/internal"

type LinkResult struct {
	Links     []internal.UploadLink `json:"links"`
	Unmatched int                   `json:"unmatched"`
	Orphaned  []internal.UploadAck  `json:"orphaned,omitempty"`
}

// LinkUploads pairs each submitted file with the earliest unconsumed ack of
// the same name. Each ack is consumed at most once, so duplicate filenames
// in one batch take acks in order. Acks nobody claimed are orphaned.
func LinkUploads(fileNames []string, acks []internal.UploadAck) LinkResult {
	byName := make(map[string][]int, len(acks))
	for i, ack := range acks {
		byName[ack.Filename] = append(byName[ack.Filename], i)
	}
	consumed := make([]bool, len(acks))

	res := LinkResult{Links: make([]internal.UploadLink, 0, len(fileNames))}
	for _, name := range fileNames {
		link := internal.UploadLink{FileName: name}

		if queue := byName[name]; len(queue) > 0 {
			idx := queue[0]
			byName[name] = queue[1:]
			consumed[idx] = true
			if acks[idx].HasTaskID() {
				id := *acks[idx].TaskID
				link.TaskID = &id
			}
		}

		if link.TaskID == nil {
			res.Unmatched++
		}
		res.Links = append(res.Links, link)
	}

	for i, ack := range acks {
		if !consumed[i] {
			res.Orphaned = append(res.Orphaned, ack)
		}
	}
	return res
}
