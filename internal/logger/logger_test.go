package logger

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestPrettyHandlerRespectsLevelAndAttrs(t *testing.T) {
	buf := &bytes.Buffer{}
	opts := HandlerOptions{SlogOpts: &slog.HandlerOptions{Level: slog.LevelWarn}}
	log := slog.New(opts.NewPrettyHandler(buf)).With(slog.String("component", "poller"))

	log.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info record should be filtered, got %q", buf.String())
	}

	log.WithGroup("task").Warn("still pending", slog.String("id", "t-1"))
	out := buf.String()
	for _, want := range []string{"still pending", `"component": "poller"`, `"task.id": "t-1"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("output %q missing %q", out, want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v; want %v", in, got, want)
		}
	}
}
