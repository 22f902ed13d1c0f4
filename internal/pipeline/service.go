package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"mailcheck/internal"
	"mailcheck/internal/storage"
)

var ErrNoEmails = errors.New("no email addresses in input")

// Backend is the slice of the verification backend the pipeline talks to.
type Backend interface {
	DetailFetcher
	UploadFiles(ctx context.Context, files []internal.UploadedFile, meta []internal.FileMeta) ([]internal.UploadAck, error)
	CreateTask(ctx context.Context, emails []string) (internal.TaskRef, error)
}

type VerificationService struct {
	backend     Backend
	db          *storage.DB
	log         *slog.Logger
	concurrency int
	now         func() time.Time
}

func NewVerificationService(backend Backend, db *storage.DB, log *slog.Logger, concurrency int) *VerificationService {
	if concurrency < 1 {
		concurrency = 1
	}
	return &VerificationService{
		backend:     backend,
		db:          db,
		log:         log,
		concurrency: concurrency,
		now:         time.Now,
	}
}

type Inspection struct {
	internal.ColumnInfo
	Options []internal.ColumnOption `json:"options"`
}

func (s *VerificationService) InspectFile(file internal.UploadedFile, firstRowHasLabels bool) (Inspection, error) {
	info, err := ReadColumns(file)
	if err != nil {
		return Inspection{}, err
	}
	return Inspection{ColumnInfo: info, Options: ColumnOptions(info, firstRowHasLabels)}, nil
}

type UploadResult struct {
	Batch internal.UploadBatch `json:"batch"`
	LinkResult
}

// SubmitUpload validates every file before anything is sent, so a bad file
// rejects the whole batch without creating tasks.
func (s *VerificationService) SubmitUpload(ctx context.Context, userID string, files []internal.UploadedFile, meta []internal.FileMeta) (UploadResult, error) {
	if len(files) == 0 {
		return UploadResult{}, errors.New("no files to upload")
	}
	if len(files) != len(meta) {
		return UploadResult{}, fmt.Errorf("%d files but %d column mappings", len(files), len(meta))
	}
	for _, f := range files {
		if _, err := ReadColumns(f); err != nil {
			return UploadResult{}, err
		}
	}

	acks, err := s.backend.UploadFiles(ctx, files, meta)
	if err != nil {
		return UploadResult{}, fmt.Errorf("upload files: %w", err)
	}

	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, f.Name)
	}
	linked := LinkUploads(names, acks)

	batch := internal.UploadBatch{
		ID:        uuid.NewString(),
		UserID:    userID,
		CreatedAt: s.now().UTC().Format(time.RFC3339),
		Unmatched: linked.Unmatched,
		Orphaned:  linked.Orphaned,
	}
	for i, f := range files {
		size := f.Size
		if size == 0 {
			size = int64(len(f.Content))
		}
		batch.Files = append(batch.Files, internal.BatchFile{
			Position:    i,
			FileName:    f.Name,
			Size:        size,
			TaskID:      linked.Links[i].TaskID,
			EmailColumn: meta[i].EmailColumn,
			HasHeader:   meta[i].HasHeader,
		})
	}

	if err := s.db.SaveUpload(ctx, batch); err != nil {
		return UploadResult{}, fmt.Errorf("save upload %s: %w", batch.ID, err)
	}

	s.log.Info("upload submitted",
		slog.String("batch", batch.ID),
		slog.Int("files", len(files)),
		slog.Int("unmatched", linked.Unmatched),
		slog.Int("orphaned", len(linked.Orphaned)),
	)
	for _, ack := range linked.Orphaned {
		s.log.Warn("orphaned upload ack",
			slog.String("batch", batch.ID),
			slog.String("filename", ack.Filename),
			slog.String("task_id", derefString(ack.TaskID)),
		)
	}

	return UploadResult{Batch: batch, LinkResult: linked}, nil
}

type ManualResult struct {
	TaskID string   `json:"taskId"`
	Emails []string `json:"emails"`
}

func (s *VerificationService) SubmitManual(ctx context.Context, userID, raw string) (ManualResult, error) {
	emails := NormalizeEmails(raw)
	if len(emails) == 0 {
		return ManualResult{}, ErrNoEmails
	}
	ref, err := s.backend.CreateTask(ctx, emails)
	if err != nil {
		return ManualResult{}, fmt.Errorf("create task: %w", err)
	}
	s.log.Info("manual task created",
		slog.String("user", userID),
		slog.String("task_id", ref.TaskID),
		slog.Int("emails", len(emails)),
	)
	return ManualResult{TaskID: ref.TaskID, Emails: emails}, nil
}

// Summary rebuilds a batch summary from fresh task details. A failed fetch
// leaves that file pending rather than failing the request. Batches owned by
// another user are reported as not found.
func (s *VerificationService) Summary(ctx context.Context, userID, batchID string) (internal.UploadSummary, error) {
	batch, err := s.db.GetUpload(ctx, batchID)
	if err != nil {
		return internal.UploadSummary{}, err
	}
	if batch.UserID != userID {
		return internal.UploadSummary{}, fmt.Errorf("upload %s: %w", batchID, storage.ErrNotFound)
	}

	links := batch.Links()
	details, failures := FetchDetails(ctx, s.backend, TaskIDs(links), s.concurrency)
	for id, ferr := range failures {
		s.log.Warn("task detail fetch failed", slog.String("batch", batchID), slog.String("task_id", id), slog.String("err", ferr.Error()))
	}

	s.saveSnapshots(ctx, details)
	return BuildSummary(batch.FileNames(), links, details), nil
}

func (s *VerificationService) ListUploads(ctx context.Context, userID string, limit int) ([]internal.UploadBatch, error) {
	return s.db.ListUploads(ctx, userID, limit)
}

func (s *VerificationService) TaskDetail(ctx context.Context, taskID string) (*internal.TaskDetail, error) {
	detail, err := s.backend.GetTaskDetail(ctx, taskID)
	if err != nil {
		return nil, err
	}
	s.saveSnapshots(ctx, map[string]*internal.TaskDetail{taskID: detail})
	return detail, nil
}

type RefreshResult struct {
	Checked  int
	Failed   int
	Finished []*internal.TaskDetail
}

// RefreshPending re-fetches tasks that have not been seen finished yet.
func (s *VerificationService) RefreshPending(ctx context.Context, limit int) (RefreshResult, error) {
	ids, err := s.db.ListPendingTaskIDs(ctx, limit)
	if err != nil {
		return RefreshResult{}, err
	}
	if len(ids) == 0 {
		return RefreshResult{}, nil
	}

	details, failures := FetchDetails(ctx, s.backend, ids, s.concurrency)
	for id, ferr := range failures {
		s.log.Warn("task refresh failed", slog.String("task_id", id), slog.String("err", ferr.Error()))
	}
	s.saveSnapshots(ctx, details)

	res := RefreshResult{Checked: len(ids), Failed: len(failures)}
	for _, id := range ids {
		if d := details[id]; d != nil && DeriveStatus(d) == internal.FileDownload {
			if d.ID == "" {
				d.ID = id
			}
			res.Finished = append(res.Finished, d)
		}
	}
	return res, ctx.Err()
}

func (s *VerificationService) saveSnapshots(ctx context.Context, details map[string]*internal.TaskDetail) {
	fetchedAt := s.now().UTC().Format(time.RFC3339)
	for id, d := range details {
		counts := AggregateJobs(d.Jobs)
		snap := internal.TaskSnapshot{
			TaskID:    id,
			Status:    DeriveStatus(d),
			Total:     counts.Total,
			Valid:     counts.Valid,
			Invalid:   counts.Invalid,
			CatchAll:  counts.CatchAll,
			FetchedAt: fetchedAt,
		}
		if err := s.db.UpsertTaskSnapshot(ctx, snap); err != nil {
			s.log.Warn("save task snapshot", slog.String("task_id", id), slog.String("err", err.Error()))
		}
	}
}
