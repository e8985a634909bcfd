package tail

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

// --- cursor tests ---

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
}

func appendFile(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		t.Fatal(err)
	}
}

func TestCursorReadsAppendedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.jsonl")
	writeFile(t, path, "one\ntwo\n")

	c := &cursor{}
	lines, err := c.readNew(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 2 || string(lines[0]) != "one" || string(lines[1]) != "two" {
		t.Fatalf("unexpected lines: %q", lines)
	}

	appendFile(t, path, "three\n")
	lines, err = c.readNew(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 1 || string(lines[0]) != "three" {
		t.Fatalf("expected only the new line, got %q", lines)
	}
}

func TestCursorCarriesPartialLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.jsonl")
	writeFile(t, path, `{"type":"us`)

	c := &cursor{}
	lines, err := c.readNew(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 0 {
		t.Fatalf("partial line must be held, got %q", lines)
	}

	appendFile(t, path, "er\"}\n")
	lines, err = c.readNew(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 1 || string(lines[0]) != `{"type":"user"}` {
		t.Fatalf("reassembled line wrong: %q", lines)
	}
}

func TestCursorResetsOnTruncation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.jsonl")
	writeFile(t, path, "aaaa\nbbbb\ncccc\n")

	c := &cursor{}
	if _, err := c.readNew(path); err != nil {
		t.Fatal(err)
	}

	writeFile(t, path, "dd\n")
	lines, err := c.readNew(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 1 || string(lines[0]) != "dd" {
		t.Fatalf("expected read from start after truncation, got %q", lines)
	}
	if c.offset != 3 {
		t.Errorf("expected offset 3, got %d", c.offset)
	}
}

func TestCursorNoNewData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.jsonl")
	writeFile(t, path, "x\n")
	c := &cursor{}
	if _, err := c.readNew(path); err != nil {
		t.Fatal(err)
	}
	lines, err := c.readNew(path)
	if err != nil {
		t.Fatal(err)
	}
	if lines != nil {
		t.Fatalf("expected no lines, got %q", lines)
	}
}

// --- tailer tests ---

func collectLines(out <-chan Line, n int, timeout time.Duration) []Line {
	var lines []Line
	deadline := time.After(timeout)
	for len(lines) < n {
		select {
		case l := <-out:
			lines = append(lines, l)
		case <-deadline:
			return lines
		}
	}
	return lines
}

func TestTailerSkipsBacklogAndStreamsAppends(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "session.jsonl")
	writeFile(t, path, "backlog-1\nbacklog-2\n")

	out := make(chan Line, 64)
	tailer := New(root, out, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = tailer.Run(ctx) }()

	// Give the watcher time to register before appending.
	time.Sleep(200 * time.Millisecond)
	appendFile(t, path, "fresh-1\nfresh-2\n")

	lines := collectLines(out, 2, 3*time.Second)
	if len(lines) != 2 {
		t.Fatalf("expected 2 fresh lines, got %d", len(lines))
	}
	for i, want := range []string{"fresh-1", "fresh-2"} {
		if string(lines[i].Text) != want {
			t.Errorf("line %d: got %q, want %q", i, lines[i].Text, want)
		}
	}
}

func TestTailerPicksUpNewFileFromStart(t *testing.T) {
	root := t.TempDir()
	out := make(chan Line, 64)
	tailer := New(root, out, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = tailer.Run(ctx) }()
	time.Sleep(200 * time.Millisecond)

	path := filepath.Join(root, "new.jsonl")
	writeFile(t, path, "first\n")

	lines := collectLines(out, 1, 3*time.Second)
	if len(lines) != 1 || string(lines[0].Text) != "first" {
		t.Fatalf("expected new file read from start, got %v", lines)
	}
}

func TestTailerIgnoresOtherFiles(t *testing.T) {
	root := t.TempDir()
	out := make(chan Line, 64)
	tailer := New(root, out, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = tailer.Run(ctx) }()
	time.Sleep(200 * time.Millisecond)

	writeFile(t, filepath.Join(root, "notes.txt"), "ignored\n")

	if lines := collectLines(out, 1, 500*time.Millisecond); len(lines) != 0 {
		t.Fatalf("expected no lines from non-log files, got %v", lines)
	}
}

func TestForgetStopsTailing(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "done.jsonl")
	writeFile(t, path, "")

	out := make(chan Line, 64)
	tailer := New(root, out, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = tailer.Run(ctx) }()
	time.Sleep(200 * time.Millisecond)

	tailer.Forget(path)
	appendFile(t, path, "late\n")

	if lines := collectLines(out, 1, 500*time.Millisecond); len(lines) != 0 {
		t.Fatalf("expected no lines after Forget, got %v", lines)
	}
}

func TestRemoveEvictsCursor(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "gone.jsonl")
	writeFile(t, path, "x\n")

	out := make(chan Line, 64)
	tailer := New(root, out, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = tailer.Run(ctx) }()
	time.Sleep(200 * time.Millisecond)

	if tailer.Tracked() != 1 {
		t.Fatalf("expected 1 tracked file, got %d", tailer.Tracked())
	}
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for tailer.Tracked() != 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if tailer.Tracked() != 0 {
		t.Errorf("cursor for removed file was not evicted")
	}
}
