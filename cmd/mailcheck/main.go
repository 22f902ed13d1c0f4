package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"mailcheck/internal"
	"mailcheck/internal/account"
	"mailcheck/internal/backend"
	"mailcheck/internal/config"
	"mailcheck/internal/format"
	"mailcheck/internal/logger"
	"mailcheck/internal/pipeline"
	"mailcheck/internal/poller"
	"mailcheck/internal/server"
	"mailcheck/internal/storage"
)

func main() {
	cfg, err := config.Load()
	must(err)

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	cmd := os.Args[1]
	switch cmd {
	case "files:columns":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		path := fs.String("file", "", "csv/xlsx/xls path")
		labels := fs.Bool("labels", true, "first row holds column labels")
		_ = fs.Parse(os.Args[2:])
		file, err := readFile(*path)
		must(err)
		info, err := pipeline.ReadColumns(file)
		must(err)
		for _, opt := range pipeline.ColumnOptions(info, *labels) {
			fmt.Println(opt.Label)
		}
	case "emails:normalize":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		input := fs.String("input", "", "raw text, @path, or - for stdin")
		_ = fs.Parse(os.Args[2:])
		raw, err := readInput(*input)
		must(err)
		for _, email := range pipeline.NormalizeEmails(raw) {
			fmt.Println(email)
		}
	case "verify:manual":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		user := fs.String("user", "cli", "user id")
		input := fs.String("input", "", "raw text, @path, or - for stdin")
		_ = fs.Parse(os.Args[2:])
		raw, err := readInput(*input)
		must(err)
		db := openDB(cfg)
		defer db.Close()
		res, err := newVerifier(cfg, db, log).SubmitManual(context.Background(), *user, raw)
		must(err)
		fmt.Printf("task created id=%s emails=%s\n", res.TaskID, format.Number(int64(len(res.Emails))))
	case "upload:submit":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		user := fs.String("user", "cli", "user id")
		files := fs.String("files", "", "comma-separated file paths")
		columns := fs.String("columns", "", "comma-separated email column letters, one per file (default A)")
		header := fs.Bool("header", true, "files have a header row")
		_ = fs.Parse(os.Args[2:])
		if strings.TrimSpace(*files) == "" {
			must(fmt.Errorf("--files is required"))
		}
		uploads, meta, err := collectFiles(*files, *columns, *header)
		must(err)
		db := openDB(cfg)
		defer db.Close()
		res, err := newVerifier(cfg, db, log).SubmitUpload(context.Background(), *user, uploads, meta)
		must(err)
		fmt.Printf("upload submitted batch=%s files=%d unmatched=%d orphaned=%d\n", res.Batch.ID, len(res.Links), res.Unmatched, len(res.Orphaned))
	case "upload:list":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		user := fs.String("user", "cli", "user id")
		limit := fs.Int("limit", 20, "max batches")
		_ = fs.Parse(os.Args[2:])
		db := openDB(cfg)
		defer db.Close()
		batches, err := db.ListUploads(context.Background(), *user, *limit)
		must(err)
		for _, b := range batches {
			var size int64
			for _, f := range b.Files {
				size += f.Size
			}
			fmt.Printf("%s  %s  files=%d size=%s unmatched=%d\n", b.ID, format.DateString(b.CreatedAt), len(b.Files), format.Bytes(size), b.Unmatched)
		}
	case "upload:summary":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		user := fs.String("user", "cli", "user id that owns the batch")
		batch := fs.String("batch", "", "upload batch id")
		out := fs.String("out", "", "optional xlsx output path")
		_ = fs.Parse(os.Args[2:])
		if strings.TrimSpace(*batch) == "" {
			must(fmt.Errorf("--batch is required"))
		}
		db := openDB(cfg)
		defer db.Close()
		summary, err := newVerifier(cfg, db, log).Summary(context.Background(), *user, *batch)
		must(err)
		printSummary(summary)
		if strings.TrimSpace(*out) != "" {
			must(pipeline.WriteExportFile(*out, func(w io.Writer) error { return pipeline.ExportSummaryXLSX(summary, w) }))
			fmt.Printf("summary exported to %s\n", *out)
		}
	case "task:export":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		task := fs.String("task", "", "task id")
		kind := fs.String("format", "xlsx", "xlsx|csv")
		out := fs.String("out", "", "output path (default OUTPUT_DIR/task-<id>.<format>)")
		_ = fs.Parse(os.Args[2:])
		if strings.TrimSpace(*task) == "" {
			must(fmt.Errorf("--task is required"))
		}
		render := pipeline.ExportTaskXLSX
		switch *kind {
		case "xlsx":
		case "csv":
			render = pipeline.ExportTaskCSV
		default:
			must(fmt.Errorf("unsupported format: %s", *kind))
		}
		path := *out
		if strings.TrimSpace(path) == "" {
			path = filepath.Join(cfg.OutputDir, fmt.Sprintf("task-%s.%s", *task, *kind))
		}
		db := openDB(cfg)
		defer db.Close()
		detail, err := newVerifier(cfg, db, log).TaskDetail(context.Background(), *task)
		must(err)
		must(pipeline.WriteExportFile(path, func(w io.Writer) error { return render(detail, w) }))
		fmt.Printf("exported %s rows to %s\n", format.Number(int64(len(detail.Jobs))), path)
	case "account:credits":
		must(cfg.RequireBackendAuth())
		client := backend.NewClient(cfg.Backend)
		credits, err := client.GetCredits(context.Background())
		must(err)
		fmt.Printf("credits balance=%s used=%s\n", format.Number(credits.Balance), format.Number(credits.Used))
	case "poll":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		loop := fs.Bool("loop", false, "keep polling until interrupted")
		_ = fs.Parse(os.Args[2:])
		must(cfg.RequireBackendAuth())
		db := openDB(cfg)
		defer db.Close()
		svc := poller.NewService(newVerifier(cfg, db, log), db, cfg.Poller, cfg.OutputDir, log)
		if !*loop {
			must(svc.RunCycle(context.Background()))
			return
		}
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		must(svc.Run(ctx))
	case "poll:status":
		db := openDB(cfg)
		defer db.Close()
		ctx := context.Background()
		last, err := db.GetMetadata(ctx, storage.KeyPollerLastCycle)
		must(err)
		pending, err := db.ListPendingTaskIDs(ctx, cfg.Poller.Batch)
		must(err)
		if last == nil {
			fmt.Println("poller has not completed a cycle")
		} else if t, err := time.Parse(time.RFC3339, *last); err == nil {
			fmt.Printf("last cycle %s (%s)\n", format.Date(t), format.Relative(t, time.Now()))
		} else {
			fmt.Printf("last cycle %s\n", *last)
		}
		fmt.Printf("next cycle tasks=%s\n", format.Number(int64(len(pending))))
	case "serve":
		must(cfg.Require("BACKEND_BASE_URL", cfg.Backend.BaseURL))
		db := openDB(cfg)
		defer db.Close()
		must(serve(cfg, db, log))
	default:
		usage()
		os.Exit(1)
	}
}

func serve(cfg config.Config, db *storage.DB, log *slog.Logger) error {
	client := backend.NewClient(cfg.Backend)
	verifier := pipeline.NewVerificationService(client, db, log, cfg.Poller.Concurrency)
	accounts := account.NewService(client, cfg.Cache.Size, cfg.Cache.TTL, log)

	h := server.NewHandler(verifier, accounts, db, server.Limits{MaxFiles: cfg.Upload.MaxFiles, MaxBytes: cfg.Upload.MaxBytes}, log)
	srv := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      server.NewRouter(h),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		log.Info("start server", slog.String("host", cfg.Server.Host), slog.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		log.Info("shutting down server")
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("stop server: %w", err)
	}
	return nil
}

func newVerifier(cfg config.Config, db *storage.DB, log *slog.Logger) *pipeline.VerificationService {
	return pipeline.NewVerificationService(backend.NewClient(cfg.Backend), db, log, cfg.Poller.Concurrency)
}

func openDB(cfg config.Config) *storage.DB {
	db, err := storage.Open(cfg.DBPath)
	must(err)
	return db
}

func readFile(path string) (internal.UploadedFile, error) {
	if strings.TrimSpace(path) == "" {
		return internal.UploadedFile{}, fmt.Errorf("--file is required")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return internal.UploadedFile{}, err
	}
	return internal.UploadedFile{Name: filepath.Base(path), Size: int64(len(content)), Content: content}, nil
}

func readInput(input string) (string, error) {
	switch {
	case input == "-":
		blob, err := io.ReadAll(os.Stdin)
		return string(blob), err
	case strings.HasPrefix(input, "@"):
		blob, err := os.ReadFile(strings.TrimPrefix(input, "@"))
		return string(blob), err
	default:
		return input, nil
	}
}

func collectFiles(paths, columns string, header bool) ([]internal.UploadedFile, []internal.FileMeta, error) {
	cols := strings.Split(columns, ",")
	var files []internal.UploadedFile
	var meta []internal.FileMeta
	for i, p := range strings.Split(paths, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		file, err := readFile(p)
		if err != nil {
			return nil, nil, err
		}
		col := "A"
		if i < len(cols) && strings.TrimSpace(cols[i]) != "" {
			col = strings.ToUpper(strings.TrimSpace(cols[i]))
		}
		files = append(files, file)
		meta = append(meta, internal.FileMeta{EmailColumn: col, HasHeader: header})
	}
	return files, meta, nil
}

func printSummary(s internal.UploadSummary) {
	for _, row := range s.Files {
		valid := format.Missing
		if row.Valid != nil && row.TotalEmails != nil {
			valid = format.Percent(*row.Valid, *row.TotalEmails)
		}
		fmt.Printf("%-32s %-8s total=%s valid=%s invalid=%s catch_all=%s (%s valid)\n",
			row.FileName, row.Status, format.Count(row.TotalEmails), format.Count(row.Valid),
			format.Count(row.Invalid), format.Count(row.CatchAll), valid)
	}
	if s.HasTotals {
		fmt.Printf("%-32s %-8s total=%s valid=%s invalid=%s catch_all=%s\n",
			"TOTAL", "", format.Count(s.TotalEmails), format.Count(s.Valid), format.Count(s.Invalid), format.Count(s.CatchAll))
	}
}

func usage() {
	fmt.Println("usage: mailcheck <command>")
	fmt.Println("commands:")
	fmt.Println("  serve")
	fmt.Println("  files:columns --file=list.xlsx [--labels=true]")
	fmt.Println("  emails:normalize --input=\"a@x.com, b@x.com\"|@path|-")
	fmt.Println("  verify:manual --input=... [--user=cli]")
	fmt.Println("  upload:submit --files=a.csv,b.xlsx [--columns=A,C] [--header=true] [--user=cli]")
	fmt.Println("  upload:list [--user=cli] [--limit=20]")
	fmt.Println("  upload:summary --batch=<id> [--user=cli] [--out=summary.xlsx]")
	fmt.Println("  task:export --task=<id> [--format=xlsx|csv] [--out=...]")
	fmt.Println("  account:credits")
	fmt.Println("  poll [--loop]")
	fmt.Println("  poll:status")
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
