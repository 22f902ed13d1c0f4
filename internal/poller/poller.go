// Package poller keeps task snapshots fresh by re-fetching tasks that have
// not finished yet.
package poller

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"mailcheck/internal/config"
	"mailcheck/internal/pipeline"
	"mailcheck/internal/storage"
)

type Refresher interface {
	RefreshPending(ctx context.Context, limit int) (pipeline.RefreshResult, error)
}

type MetadataStore interface {
	SetMetadata(ctx context.Context, key, value string) error
}

type Service struct {
	refresher Refresher
	meta      MetadataStore
	cfg       config.Poller
	outputDir string
	log       *slog.Logger
}

func NewService(refresher Refresher, meta MetadataStore, cfg config.Poller, outputDir string, log *slog.Logger) *Service {
	return &Service{refresher: refresher, meta: meta, cfg: cfg, outputDir: outputDir, log: log}
}

// Run polls until ctx is cancelled. A failed cycle is logged and retried on
// the next tick.
func (s *Service) Run(ctx context.Context) error {
	interval := s.cfg.Interval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := s.RunCycle(ctx); err != nil && ctx.Err() == nil {
			s.log.Error("poller cycle failed", slog.String("err", err.Error()))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Service) RunCycle(ctx context.Context) error {
	start := time.Now()
	res, err := s.refresher.RefreshPending(ctx, s.cfg.Batch)
	if err != nil {
		return err
	}

	exported := 0
	if s.cfg.AutoExport {
		exported, err = s.exportFinished(res)
		if err != nil {
			return err
		}
	}

	if err := s.meta.SetMetadata(ctx, storage.KeyPollerLastCycle, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("record poller cycle: %w", err)
	}

	s.log.Info("poller cycle done",
		slog.Int("checked", res.Checked),
		slog.Int("finished", len(res.Finished)),
		slog.Int("failed", res.Failed),
		slog.Int("exported", exported),
		slog.Duration("took", time.Since(start)),
	)
	return nil
}

func (s *Service) exportFinished(res pipeline.RefreshResult) (int, error) {
	exported := 0
	for _, detail := range res.Finished {
		outputPath := filepath.Join(s.outputDir, "poller", sanitizeTaskID(detail.ID)+".xlsx")
		err := pipeline.WriteExportFile(outputPath, func(w io.Writer) error {
			return pipeline.ExportTaskXLSX(detail, w)
		})
		if err != nil {
			return exported, fmt.Errorf("export task %s: %w", detail.ID, err)
		}
		exported++
	}
	return exported, nil
}

func sanitizeTaskID(input string) string {
	repl := strings.NewReplacer("<", "_", ">", "_", ":", "_", "/", "_", "\\", "_", "|", "_", "?", "_", "*", "_", " ", "_", "..", "_")
	out := repl.Replace(input)
	if len(out) > 120 {
		out = out[:120]
	}
	if out == "" {
		out = "task"
	}
	return out
}
