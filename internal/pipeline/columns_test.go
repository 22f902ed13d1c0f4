package pipeline

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/xuri/excelize/v2"

	"mailcheck/internal"
)

func mkXLSX(rows [][]any, extraSheets ...string) []byte {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	for r, row := range rows {
		for c, v := range row {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+1)
			_ = f.SetCellValue(sheet, cell, v)
		}
	}
	for _, name := range extraSheets {
		_, _ = f.NewSheet(name)
	}
	buf := bytes.NewBuffer(nil)
	_, _ = f.WriteTo(buf)
	return buf.Bytes()
}

func TestReadColumnsCSVStripsBOM(t *testing.T) {
	content := append([]byte{0xEF, 0xBB, 0xBF}, []byte("Email, Name ,\xEF\xBB\xBFCompany\na@x.com,A,X\n")...)
	info, err := ReadColumns(internal.UploadedFile{Name: "list.CSV", Content: content})
	if err != nil {
		t.Fatal(err)
	}
	want := internal.ColumnInfo{
		FileName:    "list.CSV",
		Headers:     []string{"Email", "Name", "\uFEFFCompany"},
		ColumnCount: 3,
	}
	if diff := cmp.Diff(want, info); diff != "" {
		t.Fatalf("column info mismatch (-want +got):\n%s", diff)
	}
}

func TestReadColumnsXLSX(t *testing.T) {
	blob := mkXLSX([][]any{
		{"email", "first name"},
		{"a@x.com", "A"},
	})
	info, err := ReadColumns(internal.UploadedFile{Name: "list.xlsx", Content: blob})
	if err != nil {
		t.Fatal(err)
	}
	if info.ColumnCount != 2 || info.Headers[1] != "first name" {
		t.Fatalf("info=%+v", info)
	}
}

func TestReadColumnsRejectsMultiSheetWorkbook(t *testing.T) {
	blob := mkXLSX([][]any{{"email"}}, "Other")
	_, err := ReadColumns(internal.UploadedFile{Name: "two.xlsx", Content: blob})
	if !errors.Is(err, ErrAmbiguousSpreadsheet) {
		t.Fatalf("expected ambiguous spreadsheet, got %v", err)
	}
	var fe *FileError
	if !errors.As(err, &fe) || fe.Details["sheetCount"] != 2 {
		t.Fatalf("details=%+v", fe)
	}
}

func TestReadColumnsErrors(t *testing.T) {
	cases := []struct {
		name string
		file internal.UploadedFile
		want error
	}{
		{"unsupported", internal.UploadedFile{Name: "list.txt", Content: []byte("a@x.com")}, ErrUnsupportedFile},
		{"no extension", internal.UploadedFile{Name: "list", Content: []byte("a@x.com")}, ErrUnsupportedFile},
		{"zero bytes", internal.UploadedFile{Name: "empty.csv"}, ErrEmptyFile},
		{"blank header", internal.UploadedFile{Name: "blank.csv", Content: []byte(" , ,\n")}, ErrEmptyFile},
		{"bom only", internal.UploadedFile{Name: "bom.csv", Content: []byte{0xEF, 0xBB, 0xBF}}, ErrEmptyFile},
		{"empty sheet", internal.UploadedFile{Name: "empty.xlsx", Content: mkXLSX(nil)}, ErrEmptyFile},
		{"not a workbook", internal.UploadedFile{Name: "legacy.xls", Content: []byte{0xD0, 0xCF, 0x11, 0xE0}}, ErrUnreadableFile},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ReadColumns(tc.file)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestColumnLetter(t *testing.T) {
	cases := map[int]string{0: "A", 1: "B", 25: "Z", 26: "AA", 27: "AB", 51: "AZ", 52: "BA", 701: "ZZ", 702: "AAA", -1: ""}
	for in, want := range cases {
		if got := ColumnLetter(in); got != want {
			t.Fatalf("ColumnLetter(%d)=%q want %q", in, got, want)
		}
	}
}

func TestColumnOptions(t *testing.T) {
	info := internal.ColumnInfo{Headers: []string{"Email", "", "Name"}, ColumnCount: 3}

	labelled := ColumnOptions(info, true)
	want := []internal.ColumnOption{
		{Value: "A", Label: "A - Email"},
		{Value: "B", Label: "B"},
		{Value: "C", Label: "C - Name"},
	}
	if diff := cmp.Diff(want, labelled); diff != "" {
		t.Fatalf("labelled options (-want +got):\n%s", diff)
	}

	plain := ColumnOptions(info, false)
	if plain[0].Label != "A" || plain[2].Label != "C" {
		t.Fatalf("plain=%+v", plain)
	}
}
