package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

type cli struct {
	t      *testing.T
	config string
	data   string
}

func newCLI(t *testing.T, audit bool) *cli {
	t.Helper()
	dir := t.TempDir()
	data := filepath.Join(dir, "data.json")
	cfg := fmt.Sprintf(`
[store]
path = %q
flush_interval = "1h"

[audit]
enabled = %t
path = %q

[log]
level = "error"
`, data, audit, filepath.Join(dir, "audit.db"))
	config := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(config, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	return &cli{t: t, config: config, data: data}
}

func (c *cli) run(args ...string) (string, error) {
	c.t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), append([]string{"-config", c.config}, args...), &stdout, &stderr)
	return stdout.String(), err
}

func (c *cli) mustRun(args ...string) string {
	c.t.Helper()
	out, err := c.run(args...)
	if err != nil {
		c.t.Fatalf("jsonkv %s: %v", strings.Join(args, " "), err)
	}
	return out
}

func TestSetGetDel(t *testing.T) {
	c := newCLI(t, false)

	c.mustRun("set", "answer", "42")
	c.mustRun("set", "name", "hello", "world")

	raw, err := os.ReadFile(c.data)
	if err != nil {
		t.Fatalf("data file not written: %v", err)
	}
	if string(raw) != `{"answer":42,"name":"hello world"}` {
		t.Fatalf("file = %s", raw)
	}

	if got := c.mustRun("get", "answer"); got != "42\n" {
		t.Fatalf("get answer = %q", got)
	}
	if got := c.mustRun("get", "name"); got != "hello world\n" {
		t.Fatalf("get name = %q", got)
	}
	if got := c.mustRun("keys"); got != "answer\nname\n" {
		t.Fatalf("keys = %q", got)
	}

	c.mustRun("del", "answer")
	if got := c.mustRun("all"); got != `{"name":"hello world"}`+"\n" {
		t.Fatalf("all = %q", got)
	}
	if _, err := c.run("get", "answer"); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("get deleted key: err = %v", err)
	}
}

func TestTouchAndDestroy(t *testing.T) {
	c := newCLI(t, false)

	c.mustRun("touch")
	raw, err := os.ReadFile(c.data)
	if err != nil {
		t.Fatalf("touch did not create file: %v", err)
	}
	if string(raw) != "{}" {
		t.Fatalf("touched file = %q", raw)
	}

	c.mustRun("destroy")
	if _, err := os.Stat(c.data); !os.IsNotExist(err) {
		t.Fatalf("file still present after destroy: %v", err)
	}
}

func TestAuditCommand(t *testing.T) {
	c := newCLI(t, true)

	c.mustRun("set", "k", "v")
	c.mustRun("destroy")

	out := c.mustRun("audit")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("audit lines = %d, want 2:\n%s", len(lines), out)
	}
	if !strings.Contains(lines[0], "flush") || !strings.Contains(lines[1], "purge") {
		t.Fatalf("audit order wrong:\n%s", out)
	}
	if !strings.Contains(lines[0], c.data) {
		t.Fatalf("audit line missing path:\n%s", out)
	}
}

func TestAuditDisabled(t *testing.T) {
	c := newCLI(t, false)
	if _, err := c.run("audit"); err == nil {
		t.Fatal("expected error with audit disabled")
	}
}

func TestUsageErrors(t *testing.T) {
	c := newCLI(t, false)
	for _, args := range [][]string{
		{},
		{"bogus"},
		{"get"},
		{"set", "only-key"},
		{"-no-such-flag"},
	} {
		if _, err := c.run(args...); !errors.Is(err, errUsage) {
			t.Errorf("jsonkv %v: err = %v, want usage error", args, err)
		}
	}
}

func TestFileFlagOverridesConfig(t *testing.T) {
	c := newCLI(t, false)
	other := filepath.Join(t.TempDir(), "nested", "other.json")

	c.mustRun("-file", other, "set", "k", "v")
	if _, err := os.Stat(other); err != nil {
		t.Fatalf("override file not written: %v", err)
	}
	if _, err := os.Stat(c.data); !os.IsNotExist(err) {
		t.Fatalf("config path should be untouched: %v", err)
	}
}

func TestAuditOpenFailureClosesStore(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "not-a-dir")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := fmt.Sprintf(`
[store]
path = %q
flush_interval = "1h"

[audit]
enabled = true
path = %q

[log]
level = "error"
`, filepath.Join(dir, "data.json"), filepath.Join(blocker, "audit.db"))
	config := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(config, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}

	before := runtime.NumGoroutine()
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"-config", config, "keys"}, &stdout, &stderr)
	if err == nil || !strings.Contains(err.Error(), "creating audit dir") {
		t.Fatalf("run = %v, want audit dir error", err)
	}

	// The flush loop and the queue worker must be gone.
	deadline := time.Now().Add(time.Second)
	for runtime.NumGoroutine() > before {
		if time.Now().After(deadline) {
			t.Fatalf("goroutines = %d after failed run, want <= %d", runtime.NumGoroutine(), before)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
