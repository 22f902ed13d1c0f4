package pipeline

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"mailcheck/internal"
)

type DetailFetcher interface {
	GetTaskDetail(ctx context.Context, taskID string) (*internal.TaskDetail, error)
}

// FetchDetails loads task details concurrently. Every fetch settles on its
// own: a failure is recorded in the error map and leaves that detail absent
// without cancelling the others.
func FetchDetails(ctx context.Context, fetcher DetailFetcher, taskIDs []string, limit int) (map[string]*internal.TaskDetail, map[string]error) {
	details := make(map[string]*internal.TaskDetail, len(taskIDs))
	failures := map[string]error{}

	var mu sync.Mutex
	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}

	for _, id := range uniqueIDs(taskIDs) {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				mu.Lock()
				failures[id] = err
				mu.Unlock()
				return nil
			}
			detail, err := fetcher.GetTaskDetail(ctx, id)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures[id] = err
				return nil
			}
			if detail != nil {
				details[id] = detail
			}
			return nil
		})
	}
	// The group only bounds concurrency; no callback returns an error.
	_ = g.Wait()

	return details, failures
}

// TaskIDs returns the non-nil task ids of the links in order.
func TaskIDs(links []internal.UploadLink) []string {
	out := make([]string, 0, len(links))
	for _, l := range links {
		if l.TaskID != nil {
			out = append(out, *l.TaskID)
		}
	}
	return out
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
