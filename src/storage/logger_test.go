package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoggerWritesEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "app.log")
	logger, err := NewLogger(path)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	logger.now = func() time.Time { return time.Date(2019, 4, 1, 8, 15, 0, 0, time.UTC) }

	logger.Info("loaded 3 rows")
	logger.Error("parse failed")
	if err := logger.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := "[2019-04-01 08:15:00] INFO: loaded 3 rows\n[2019-04-01 08:15:00] ERROR: parse failed\n"
	if string(data) != want {
		t.Errorf("log content = %q, want %q", data, want)
	}

	// 关闭后再写不应panic
	logger.Warning("after close")
}

func TestLoggerSubscribe(t *testing.T) {
	logger, err := NewLogger(filepath.Join(t.TempDir(), "app.log"))
	if err != nil {
		t.Fatal(err)
	}
	defer logger.Close()

	ch := logger.Subscribe()
	logger.Debug("hello")

	select {
	case msg := <-ch:
		if !strings.Contains(msg, "DEBUG: hello") {
			t.Errorf("subscriber got %q", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
	}

	logger.Unsubscribe(ch)
	logger.Info("after")
	select {
	case msg := <-ch:
		t.Errorf("unsubscribed channel got %q", msg)
	default:
	}
	if n := logger.Subscribers(); n != 0 {
		t.Errorf("subscribers = %d", n)
	}
}

func TestLoggerRotate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	logger, err := NewLogger(path)
	if err != nil {
		t.Fatal(err)
	}
	defer logger.Close()
	logger.now = func() time.Time { return time.Date(2019, 4, 1, 8, 15, 0, 0, time.UTC) }

	for i := 0; i < 10; i++ {
		logger.Info("0123456789")
	}
	if err := logger.CheckRotate("8 * 8"); err != nil {
		t.Fatalf("CheckRotate: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "app.20190401081500.log")); err != nil {
		t.Fatalf("rotated file missing: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != 0 {
		t.Errorf("new log size = %d, want 0", info.Size())
	}
}

func TestLoggerRotateRenameFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	logger, err := NewLogger(path)
	if err != nil {
		t.Fatal(err)
	}
	defer logger.Close()
	logger.now = func() time.Time { return time.Date(2019, 4, 1, 8, 15, 0, 0, time.UTC) }

	// 目标名被非空目录占用，改名失败
	blocker := filepath.Join(dir, "app.20190401081500.log")
	if err := os.MkdirAll(filepath.Join(blocker, "keep"), 0755); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 10; i++ {
		logger.Info("0123456789")
	}
	if err := logger.CheckRotate("8 * 8"); err == nil {
		t.Fatal("expected rename error")
	}

	logger.Warning("still logging")
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(content), "WARNING: still logging") {
		t.Errorf("entry after failed rotation lost: %q", content)
	}
}

func TestEval(t *testing.T) {
	cases := map[string]int64{
		"10 * 1024 * 1024": 10 * 1024 * 1024,
		"4096":             4096,
		"":                 0,
		"ten * 2":          0,
	}
	for expr, want := range cases {
		if got := eval(expr); got != want {
			t.Errorf("eval(%q) = %d, want %d", expr, got, want)
		}
	}
}

func TestLogLevelString(t *testing.T) {
	if FATAL.String() != "FATAL" || LogLevel(42).String() != "UNKNOWN" {
		t.Error("unexpected level names")
	}
}
