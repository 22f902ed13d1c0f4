package pipeline

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"mailcheck/internal"
)

var (
	ErrUnsupportedFile      = errors.New("unsupported file type")
	ErrEmptyFile            = errors.New("file has no header row")
	ErrAmbiguousSpreadsheet = errors.New("spreadsheet has more than one sheet")
	ErrUnreadableFile       = errors.New("file could not be parsed")
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

var supportedExtensions = map[string]struct{}{
	".csv":  {},
	".xlsx": {},
	".xls":  {},
}

// FileError is a column-reader failure with a payload for support diagnosis.
type FileError struct {
	Kind     error
	FileName string
	Details  map[string]any
	Err      error
}

func (e *FileError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.FileName, e.Kind.Error())
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FileError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

func fileError(kind error, name string, details map[string]any, cause error) *FileError {
	if details == nil {
		details = map[string]any{}
	}
	return &FileError{Kind: kind, FileName: name, Details: details, Err: cause}
}

// ReadColumns returns the header row of an uploaded CSV or single-sheet workbook.
func ReadColumns(file internal.UploadedFile) (internal.ColumnInfo, error) {
	ext := strings.ToLower(filepath.Ext(file.Name))
	if _, ok := supportedExtensions[ext]; !ok {
		return internal.ColumnInfo{}, fileError(ErrUnsupportedFile, file.Name, map[string]any{"extension": ext}, nil)
	}
	if len(file.Content) == 0 {
		return internal.ColumnInfo{}, fileError(ErrEmptyFile, file.Name, map[string]any{"size": 0}, nil)
	}

	var headers []string
	var err error
	if ext == ".csv" {
		headers, err = readCSVHeaders(file)
	} else {
		headers, err = readSheetHeaders(file, ext)
	}
	if err != nil {
		return internal.ColumnInfo{}, err
	}

	return internal.ColumnInfo{
		FileName:    file.Name,
		Headers:     headers,
		ColumnCount: len(headers),
	}, nil
}

func readCSVHeaders(file internal.UploadedFile) ([]string, error) {
	content := bytes.TrimPrefix(file.Content, utf8BOM)
	r := csv.NewReader(bytes.NewReader(content))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	record, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, fileError(ErrEmptyFile, file.Name, map[string]any{"extension": ".csv"}, nil)
	}
	if err != nil {
		return nil, fileError(ErrUnreadableFile, file.Name, map[string]any{"extension": ".csv"}, err)
	}

	headers := normalizeCells(record)
	if allBlank(headers) {
		return nil, fileError(ErrEmptyFile, file.Name, map[string]any{"extension": ".csv"}, nil)
	}
	return headers, nil
}

func readSheetHeaders(file internal.UploadedFile, ext string) ([]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(file.Content))
	if err != nil {
		return nil, fileError(ErrUnreadableFile, file.Name, map[string]any{"extension": ext}, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	switch {
	case len(sheets) == 0:
		return nil, fileError(ErrEmptyFile, file.Name, map[string]any{"extension": ext, "sheetCount": 0}, nil)
	case len(sheets) > 1:
		return nil, fileError(ErrAmbiguousSpreadsheet, file.Name, map[string]any{
			"extension":  ext,
			"sheetCount": len(sheets),
			"sheets":     sheets,
		}, nil)
	}

	rows, err := f.Rows(sheets[0])
	if err != nil {
		return nil, fileError(ErrUnreadableFile, file.Name, map[string]any{"extension": ext, "sheet": sheets[0]}, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, fileError(ErrEmptyFile, file.Name, map[string]any{"extension": ext, "sheet": sheets[0]}, rows.Error())
	}
	cells, err := rows.Columns()
	if err != nil {
		return nil, fileError(ErrUnreadableFile, file.Name, map[string]any{"extension": ext, "sheet": sheets[0]}, err)
	}

	headers := normalizeCells(cells)
	if allBlank(headers) {
		return nil, fileError(ErrEmptyFile, file.Name, map[string]any{"extension": ext, "sheet": sheets[0]}, nil)
	}
	return headers, nil
}

// ColumnLetter maps a zero-based column index to its spreadsheet letter:
// 0 -> A, 25 -> Z, 26 -> AA.
func ColumnLetter(index int) string {
	if index < 0 {
		return ""
	}
	var buf []byte
	for n := index + 1; n > 0; n = (n - 1) / 26 {
		buf = append([]byte{byte('A' + (n-1)%26)}, buf...)
	}
	return string(buf)
}

// ColumnOptions builds the email-column choices shown next to an upload.
func ColumnOptions(info internal.ColumnInfo, firstRowHasLabels bool) []internal.ColumnOption {
	out := make([]internal.ColumnOption, 0, info.ColumnCount)
	for i := 0; i < info.ColumnCount; i++ {
		letter := ColumnLetter(i)
		label := letter
		if firstRowHasLabels && i < len(info.Headers) && strings.TrimSpace(info.Headers[i]) != "" {
			label = letter + " - " + info.Headers[i]
		}
		out = append(out, internal.ColumnOption{Value: letter, Label: label})
	}
	return out
}

func normalizeCells(row []string) []string {
	out := make([]string, 0, len(row))
	for _, c := range row {
		out = append(out, strings.TrimSpace(c))
	}
	return out
}

func allBlank(cells []string) bool {
	for _, c := range cells {
		if c != "" {
			return false
		}
	}
	return true
}
