package watch

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"stackalign/internal/cache"
	"stackalign/internal/frame"
	"stackalign/internal/reduce"
	"stackalign/internal/session"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// seedFolder lays down one packed session with its sidecar.
func seedFolder(t *testing.T) (dir, sbx, sidecar string) {
	t.Helper()
	dir = t.TempDir()
	sbx = filepath.Join(dir, "a.sbx")
	sidecar = filepath.Join(dir, "a.json")
	if err := os.WriteFile(sbx, []byte{0, 1, 2, 3}, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(sidecar, []byte(`{"height": 1, "width": 2}`), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir, sbx, sidecar
}

// seedCache stores a minimal reduction bundle fingerprinting the folder as
// it stands now.
func seedCache(t *testing.T, dir string) {
	t.Helper()
	fp, err := cache.Snapshot(dir, session.FormatSBX)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	red := cache.Reduction{
		Result: reduce.Result{
			MeanFrames:   []frame.Frame{frame.New(1, 2)},
			NSessions:    1,
			NTotalFrames: 2,
			SampleType:   frame.Uint16,
		},
		Fingerprint: fp,
	}
	if err := cache.SaveReduction(dir, red); err != nil {
		t.Fatalf("save reduction: %v", err)
	}
}

func startWatcher(t *testing.T, dir string) *Watcher {
	t.Helper()
	w, err := New(dir, session.FormatSBX, 50*time.Millisecond, discardLogger())
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("start watcher: %v", err)
	}
	t.Cleanup(func() { w.Stop() })
	return w
}

func waitNotice(t *testing.T, w *Watcher) Notice {
	t.Helper()
	select {
	case n := <-w.Notices:
		return n
	case <-time.After(10 * time.Second):
		t.Fatal("no notice arrived")
		return Notice{}
	}
}

func appendTo(t *testing.T, path string, data []byte) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestWatcherFlagsGrownSessionFile(t *testing.T) {
	dir, sbx, _ := seedFolder(t)
	seedCache(t, dir)
	w := startWatcher(t, dir)

	appendTo(t, sbx, []byte{4, 5})

	n := waitNotice(t, w)
	if !n.Stale {
		t.Fatalf("grown session file should read as stale, got reason %q", n.Reason)
	}
	if len(n.Changed) != 1 || n.Changed[0] != sbx {
		t.Fatalf("changed = %v, want [%s]", n.Changed, sbx)
	}
	if n.Folder != dir {
		t.Fatalf("folder = %q, want %q", n.Folder, dir)
	}
}

func TestWatcherFlagsSidecarEdit(t *testing.T) {
	dir, _, sidecar := seedFolder(t)
	seedCache(t, dir)
	w := startWatcher(t, dir)

	if err := os.WriteFile(sidecar, []byte(`{"height": 2, "width": 111}`), 0o644); err != nil {
		t.Fatal(err)
	}

	n := waitNotice(t, w)
	if !n.Stale {
		t.Fatalf("rewritten sidecar should read as stale, got reason %q", n.Reason)
	}
}

func TestWatcherUnrelatedJSONLeavesCacheFresh(t *testing.T) {
	dir, _, _ := seedFolder(t)
	seedCache(t, dir)
	w := startWatcher(t, dir)

	// Matches the sidecar extension but belongs to no session, so the
	// fingerprint is untouched.
	if err := os.WriteFile(filepath.Join(dir, "notes.json"), []byte(`{}`), 0o644); err != nil {
		t.Fatal(err)
	}

	n := waitNotice(t, w)
	if n.Stale {
		t.Fatalf("unrelated json should not read as stale, reason %q", n.Reason)
	}
	if !strings.Contains(n.Reason, "still matches") {
		t.Fatalf("reason = %q, want a still-matches verdict", n.Reason)
	}
}

func TestWatcherReportsMissingCache(t *testing.T) {
	dir, sbx, _ := seedFolder(t)
	w := startWatcher(t, dir)

	appendTo(t, sbx, []byte{9})

	n := waitNotice(t, w)
	if n.Stale {
		t.Fatal("a folder with no cache has nothing to be stale")
	}
	if !strings.Contains(n.Reason, "no cached reduction") {
		t.Fatalf("reason = %q, want no-cached-reduction", n.Reason)
	}
}

func TestWatcherIgnoresPipelineProducts(t *testing.T) {
	dir, sbx, _ := seedFolder(t)
	seedCache(t, dir)
	w := startWatcher(t, dir)

	// Writes the pipeline makes itself must not count as new data.
	if err := os.WriteFile(filepath.Join(dir, session.ExportedStackName), []byte("tiff"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, cache.ParamsName), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	appendTo(t, sbx, []byte{7, 7})

	n := waitNotice(t, w)
	if len(n.Changed) != 1 || n.Changed[0] != sbx {
		t.Fatalf("changed = %v, want only %s", n.Changed, sbx)
	}
	if !n.Stale {
		t.Fatalf("session append should still read as stale, got %q", n.Reason)
	}
}

func TestWatcherSeesNewSubdirectories(t *testing.T) {
	dir, _, _ := seedFolder(t)
	seedCache(t, dir)
	w := startWatcher(t, dir)

	sub := filepath.Join(dir, "day2")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	// Give the watcher a beat to register the new directory before the
	// session lands in it.
	time.Sleep(200 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(sub, "b.sbx"), []byte{1, 2}, 0o644); err != nil {
		t.Fatal(err)
	}

	n := waitNotice(t, w)
	if !n.Stale {
		t.Fatalf("session in fresh subdirectory should read as stale, got %q", n.Reason)
	}
}
