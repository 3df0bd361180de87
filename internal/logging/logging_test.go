package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestInitText(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	Init("info", "text", &buf)
	slog.Info("hello text", "k", "v")
	if !strings.Contains(buf.String(), "msg=\"hello text\"") {
		t.Fatalf("text output missing message: %q", buf.String())
	}
}

func TestInitJSON(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	Init("debug", "JSON", &buf)
	slog.Debug("hello json")
	if !strings.Contains(buf.String(), `"msg":"hello json"`) {
		t.Fatalf("json output missing message: %q", buf.String())
	}
	SetLevel(slog.LevelInfo)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"  Error  ", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		parseLevel(tt.input)
		if level.Level() != tt.want {
			t.Errorf("parseLevel(%q): got %v, want %v", tt.input, level.Level(), tt.want)
		}
	}
	SetLevel(slog.LevelInfo)
}

func TestDynamicHandlerEnabled(t *testing.T) {
	SetLevel(slog.LevelWarn)
	defer SetLevel(slog.LevelInfo)

	h := &dynamicHandler{component: "test"}
	if h.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("debug should not be enabled at warn level")
	}
	if !h.Enabled(context.Background(), slog.LevelError) {
		t.Error("error should be enabled at warn level")
	}
}

func TestForTagsComponent(t *testing.T) {
	c := CaptureForTest()
	defer c.Restore()

	For("storage").Info("flushed")

	got, ok := c.Attr(slog.LevelInfo, "flushed", "component")
	if !ok || got != "storage" {
		t.Fatalf("component attr = %q (found=%v), want storage", got, ok)
	}
}

func TestForWithKeepsBoundAttrs(t *testing.T) {
	c := CaptureForTest()
	defer c.Restore()

	logger := For("storage").With("path", "/tmp/a.json")
	logger.Warn("parse failed")

	got, ok := c.Attr(slog.LevelWarn, "parse failed", "path")
	if !ok || got != "/tmp/a.json" {
		t.Fatalf("path attr = %q (found=%v)", got, ok)
	}
	if _, ok := c.Attr(slog.LevelWarn, "parse failed", "component"); !ok {
		t.Fatal("component attr lost after With")
	}
}

func TestDynamicHandlerWithGroup(t *testing.T) {
	h := &dynamicHandler{component: "test"}
	if h.WithGroup("grp") != h {
		t.Error("WithGroup should return same handler")
	}
	if h.WithAttrs(nil) != h {
		t.Error("WithAttrs(nil) should return same handler")
	}
}

func TestCaptureForTest(t *testing.T) {
	c := CaptureForTest()
	defer c.Restore()

	slog.Info("hello")
	slog.Warn("warning message")
	slog.Debug("debug detail")

	if n := len(c.Records()); n != 3 {
		t.Fatalf("expected 3 records, got %d", n)
	}
	if !c.Has(slog.LevelInfo, "hello") {
		t.Error("should have info 'hello'")
	}
	if !c.Has(slog.LevelWarn, "warning") {
		t.Error("should have warn 'warning'")
	}
	if c.Has(slog.LevelError, "hello") {
		t.Error("should not match error level")
	}
	if c.Count(slog.LevelDebug) != 1 {
		t.Errorf("expected 1 debug, got %d", c.Count(slog.LevelDebug))
	}
	if c.Count(slog.LevelError) != 0 {
		t.Errorf("expected 0 error, got %d", c.Count(slog.LevelError))
	}
}

func TestCaptureRestore(t *testing.T) {
	prev := slog.Default()
	c := CaptureForTest()
	c.Restore()

	if slog.Default() != prev {
		t.Error("default logger not restored")
	}
}

func TestCaptureHandlerWithAttrsAndGroup(t *testing.T) {
	h := &captureHandler{capture: &Capture{}}

	ch2, ok := h.WithAttrs([]slog.Attr{slog.String("k", "v")}).(*captureHandler)
	if !ok {
		t.Fatal("WithAttrs should return *captureHandler")
	}
	if len(ch2.attrs) != 1 {
		t.Errorf("expected 1 attr, got %d", len(ch2.attrs))
	}

	ch3, ok := h.WithGroup("mygroup").(*captureHandler)
	if !ok {
		t.Fatal("WithGroup should return *captureHandler")
	}
	if ch3.group != "mygroup" {
		t.Errorf("expected group 'mygroup', got %q", ch3.group)
	}
}
