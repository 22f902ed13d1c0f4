package pipeline

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"mailcheck/internal"
)

var ErrTaskPending = errors.New("task is still being verified")

var taskHeaders = []string{"email", "status", "result"}

func taskRows(detail *internal.TaskDetail) ([][]string, error) {
	if detail == nil || DeriveStatus(detail) == internal.FilePending {
		return nil, ErrTaskPending
	}
	rows := make([][]string, 0, len(detail.Jobs))
	for _, job := range detail.Jobs {
		rows = append(rows, []string{job.Email, string(job.Status), Classify(job.Status).String()})
	}
	return rows, nil
}

// ExportTaskXLSX writes one row per job of a finished task.
func ExportTaskXLSX(detail *internal.TaskDetail, w io.Writer) error {
	rows, err := taskRows(detail)
	if err != nil {
		return err
	}

	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)

	for i, h := range taskHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	for i, row := range rows {
		r := i + 2
		for c, v := range row {
			cell, _ := excelize.CoordinatesToCellName(c+1, r)
			_ = f.SetCellValue(sheet, cell, v)
		}
	}

	_, err = f.WriteTo(w)
	return err
}

// ExportTaskCSV writes the same rows as ExportTaskXLSX, prefixed with a BOM so
// spreadsheet apps pick UTF-8.
func ExportTaskCSV(detail *internal.TaskDetail, w io.Writer) error {
	rows, err := taskRows(detail)
	if err != nil {
		return err
	}
	if _, err := w.Write(utf8BOM); err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(taskHeaders); err != nil {
		return err
	}
	if err := cw.WriteAll(rows); err != nil {
		return err
	}
	return cw.Error()
}

// ExportSummaryXLSX writes per-file rows and, when any file has counts, a
// totals row. Missing counts are left blank.
func ExportSummaryXLSX(summary internal.UploadSummary, w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)

	headers := []string{"file_name", "task_id", "status", "total_emails", "valid", "invalid", "catch_all"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	r := 2
	for _, row := range summary.Files {
		set := func(col int, value any) {
			cell, _ := excelize.CoordinatesToCellName(col, r)
			_ = f.SetCellValue(sheet, cell, value)
		}
		set(1, row.FileName)
		set(2, derefString(row.TaskID))
		set(3, string(row.Status))
		set(4, derefInt(row.TotalEmails))
		set(5, derefInt(row.Valid))
		set(6, derefInt(row.Invalid))
		set(7, derefInt(row.CatchAll))
		r++
	}

	if summary.HasTotals {
		set := func(col int, value any) {
			cell, _ := excelize.CoordinatesToCellName(col, r)
			_ = f.SetCellValue(sheet, cell, value)
		}
		set(1, "TOTAL")
		set(4, derefInt(summary.TotalEmails))
		set(5, derefInt(summary.Valid))
		set(6, derefInt(summary.Invalid))
		set(7, derefInt(summary.CatchAll))
	}

	_, err := f.WriteTo(w)
	return err
}

// WriteExportFile renders into memory first so a failed export never leaves a
// truncated file behind.
func WriteExportFile(path string, render func(io.Writer) error) error {
	var buf bytes.Buffer
	if err := render(&buf); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func derefInt(v *int) any {
	if v == nil {
		return ""
	}
	return *v
}
