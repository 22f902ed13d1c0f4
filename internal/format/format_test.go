package format

import (
	"testing"
	"time"
)

func TestNumberAndCount(t *testing.T) {
	if got := Number(1234567); got != "1,234,567" {
		t.Fatalf("Number=%q", got)
	}
	if got := Count(nil); got != Missing {
		t.Fatalf("Count(nil)=%q", got)
	}
	n := 1234
	if got := Count(&n); got != "1,234" {
		t.Fatalf("Count=%q", got)
	}
	zero := 0
	if got := Count(&zero); got != "0" {
		t.Fatalf("Count(0)=%q", got)
	}
}

func TestCurrency(t *testing.T) {
	cases := []struct {
		cents int64
		code  string
		want  string
	}{
		{123450, "USD", "$1,234.50"},
		{1200, "eur", "€12.00"},
		{123450, "GBP", "1,234.50 GBP"},
		{-500, "USD", "-$5.00"},
		{5, "", "0.05"},
	}
	for _, tc := range cases {
		if got := Currency(tc.cents, tc.code); got != tc.want {
			t.Fatalf("Currency(%d,%q)=%q want %q", tc.cents, tc.code, got, tc.want)
		}
	}
}

func TestDates(t *testing.T) {
	ts := time.Date(2026, 3, 7, 15, 4, 5, 0, time.UTC)
	if got := Date(ts); got != "Mar 7, 2026" {
		t.Fatalf("Date=%q", got)
	}
	if got := DateString("2026-03-07T15:04:05Z"); got != "Mar 7, 2026" {
		t.Fatalf("DateString=%q", got)
	}
	if got := DateString("yesterday"); got != "yesterday" {
		t.Fatalf("DateString passthrough=%q", got)
	}
	if got := Relative(ts.Add(-3*time.Hour), ts); got != "3 hours ago" {
		t.Fatalf("Relative=%q", got)
	}
}

func TestBytesAndPercent(t *testing.T) {
	if got := Bytes(1_200_000); got != "1.2 MB" {
		t.Fatalf("Bytes=%q", got)
	}
	if got := Percent(1, 3); got != "33.3%" {
		t.Fatalf("Percent=%q", got)
	}
	if got := Percent(1, 2); got != "50%" {
		t.Fatalf("Percent=%q", got)
	}
	if got := Percent(5, 0); got != "0%" {
		t.Fatalf("Percent zero total=%q", got)
	}
}
