package watcher

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu     sync.Mutex
	events []string
	ch     chan struct{}
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan struct{}, 16)}
}

func (r *recorder) record(path string, ev EventType) {
	r.mu.Lock()
	r.events = append(r.events, filepath.Base(path)+":"+ev.String())
	r.mu.Unlock()
	r.ch <- struct{}{}
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.ch:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for watcher callback")
	}
}

func startWatcher(t *testing.T, dir string) (*FSWatcher, *recorder) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	w := NewFSWatcher(logger, 30*time.Millisecond)
	rec := newRecorder()
	w.OnChange(rec.record)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Watch(ctx, dir) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Watch() error = %v", err)
		}
	})

	// Wait until the fsnotify watch is registered.
	deadline := time.Now().Add(2 * time.Second)
	for {
		w.mu.Lock()
		ready := w.fsw != nil
		w.mu.Unlock()
		if ready || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	return w, rec
}

func TestFSWatcher_ReportsSettledFileOnce(t *testing.T) {
	dir := t.TempDir()
	_, rec := startWatcher(t, dir)

	path := filepath.Join(dir, "report.pdf")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		f.Write([]byte("%PDF-1.4\n"))
	}
	f.Close()

	rec.wait(t)
	time.Sleep(100 * time.Millisecond)

	got := rec.snapshot()
	if len(got) != 1 || got[0] != "report.pdf:create" {
		t.Errorf("events = %v, want [report.pdf:create]", got)
	}
}

func TestFSWatcher_IgnoresHiddenFiles(t *testing.T) {
	dir := t.TempDir()
	_, rec := startWatcher(t, dir)

	os.WriteFile(filepath.Join(dir, ".upload-123"), []byte("x"), 0o644)
	os.WriteFile(filepath.Join(dir, "visible.pdf"), []byte("x"), 0o644)

	rec.wait(t)
	time.Sleep(100 * time.Millisecond)

	got := rec.snapshot()
	if len(got) != 1 || got[0] != "visible.pdf:create" {
		t.Errorf("events = %v, want [visible.pdf:create]", got)
	}
}

func TestFSWatcher_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "inbox")
	startWatcher(t, dir)

	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Errorf("inbox dir not created: %v", err)
	}
}

func TestFSWatcher_StopIsIdempotent(t *testing.T) {
	w := NewFSWatcher(nil, 0)
	if err := w.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}
	if w.settle != DefaultSettle {
		t.Errorf("settle = %v, want %v", w.settle, DefaultSettle)
	}
}

func TestFSWatcher_WatchAfterStopReturns(t *testing.T) {
	w := NewFSWatcher(nil, 0)
	w.Stop()
	if err := w.Watch(context.Background(), t.TempDir()); err != nil {
		t.Errorf("Watch() after Stop error = %v", err)
	}
}
