package requestlog

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestAppend_WritesOneLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "requests.log")
	l := New(path, testLogger())

	ts := time.Date(2024, 3, 1, 12, 30, 45, int(789*time.Millisecond), time.UTC)
	l.Append(ts, "alice", "outputs/abc.jpeg", "a cat")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	want := "2024-03-01 12:30:45.789 alice outputs/abc.jpeg a cat\n"
	if string(data) != want {
		t.Errorf("log line: got %q, want %q", data, want)
	}
}

func TestAppend_FailureSentinel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "requests.log")
	l := New(path, testLogger())

	l.Append(time.Now(), "bob", FailureSentinel, "draw me")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), " bob <failure> draw me\n") {
		t.Errorf("expected failure sentinel line, got %q", data)
	}
}

func TestAppend_WriteFailureDoesNotPanic(t *testing.T) {
	// Point the log at a path whose parent is a regular file.
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	l := New(filepath.Join(blocker, "requests.log"), testLogger())
	l.Append(time.Now(), "alice", FailureSentinel, "req") // must not panic
}

func TestAppend_ConcurrentWritersKeepLinesIntact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "requests.log")
	l := New(path, testLogger())

	const writers = 16
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			l.Append(time.Now(), fmt.Sprintf("user%02d", n), fmt.Sprintf("outputs/r%02d.txt", n), "req")
		}(i)
	}
	wg.Wait()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	if len(lines) != writers {
		t.Fatalf("expected %d lines, got %d", writers, len(lines))
	}
	for _, line := range lines {
		fields := strings.Fields(line)
		// date, time, requester, result, request text
		if len(fields) != 5 {
			t.Errorf("malformed line %q", line)
		}
	}
}
