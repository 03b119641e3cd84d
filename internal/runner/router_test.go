package runner

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"stackalign/internal/align"
	"stackalign/internal/cache"
	"stackalign/internal/export"
	"stackalign/internal/frame"
	"stackalign/internal/reduce"
	"stackalign/internal/session"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type eventSink struct {
	progress []float64
	status   []string
}

func (s *eventSink) Progress(pct float64) { s.progress = append(s.progress, pct) }
func (s *eventSink) Status(msg string)    { s.status = append(s.status, msg) }

// writePacked lays down a packed session plus sidecar. Values are given as
// the reader should see them; the raw file stores their inversion.
func writePacked(t *testing.T, dir, stem string, h, w int, frames ...[]uint16) {
	t.Helper()
	raw := make([]byte, 0, len(frames)*h*w*2)
	for _, f := range frames {
		for _, v := range f {
			raw = binary.LittleEndian.AppendUint16(raw, 0xFFFF-v)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, stem+".sbx"), raw, 0o644); err != nil {
		t.Fatal(err)
	}
	meta := fmt.Sprintf(`{"height": %d, "width": %d}`, h, w)
	if err := os.WriteFile(filepath.Join(dir, stem+".json"), []byte(meta), 0o644); err != nil {
		t.Fatal(err)
	}
}

func stubResult() reduce.Result {
	mean := frame.New(1, 1)
	mean.Pix[0] = 7
	return reduce.Result{
		MeanFrames:   []frame.Frame{mean},
		NSessions:    1,
		NTotalFrames: 5,
		SampleType:   frame.Uint16,
	}
}

func TestRouterReduceWritesThenServesCache(t *testing.T) {
	dir := t.TempDir()
	writePacked(t, dir, "a", 1, 2, []uint16{10, 20}, []uint16{30, 40})

	rt := &router{log: discardLogger(), reduceFn: reduce.Run, exportFn: export.Run}

	var sink eventSink
	out := rt.Process(context.Background(), Job{ID: "j1", Kind: KindReduce, Folder: dir, Format: session.FormatSBX}, &sink)
	if out.Err != nil {
		t.Fatalf("reduce: %v", out.Err)
	}
	if out.Reduce == nil || out.Reduce.NSessions != 1 {
		t.Fatalf("outcome = %+v", out)
	}
	if _, err := cache.LoadReduction(dir); err != nil {
		t.Fatalf("reduction was not cached: %v", err)
	}

	// A second run must not touch the reducer.
	calls := 0
	rt.reduceFn = func(ctx context.Context, folder string, format session.Format, limit int, rep reduce.Reporter) (reduce.Result, error) {
		calls++
		return reduce.Result{}, errors.New("recompute should not happen")
	}
	var again eventSink
	out = rt.Process(context.Background(), Job{ID: "j2", Kind: KindReduce, Folder: dir, Format: session.FormatSBX}, &again)
	if out.Err != nil {
		t.Fatalf("cached reduce: %v", out.Err)
	}
	if calls != 0 {
		t.Fatalf("reducer ran %d times, want cache hit", calls)
	}
	if len(again.progress) != 1 || again.progress[0] != 100 {
		t.Fatalf("cache hit progress = %v, want [100]", again.progress)
	}
	foundCached := false
	for _, msg := range again.status {
		if strings.Contains(msg, "cached") {
			foundCached = true
		}
	}
	if !foundCached {
		t.Fatalf("status should mention the cache, got %v", again.status)
	}
}

func TestRouterReduceNoCacheRecomputes(t *testing.T) {
	dir := t.TempDir()
	writePacked(t, dir, "a", 1, 1, []uint16{4})

	calls := 0
	rt := &router{
		log: discardLogger(),
		reduceFn: func(ctx context.Context, folder string, format session.Format, limit int, rep reduce.Reporter) (reduce.Result, error) {
			calls++
			return stubResult(), nil
		},
	}

	if err := cache.SaveReduction(dir, cache.Reduction{Result: stubResult()}); err != nil {
		t.Fatal(err)
	}
	out := rt.Process(context.Background(), Job{ID: "j1", Kind: KindReduce, Folder: dir, Format: session.FormatSBX, NoCache: true}, &eventSink{})
	if out.Err != nil {
		t.Fatalf("reduce: %v", out.Err)
	}
	if calls != 1 {
		t.Fatalf("reducer ran %d times, want 1 despite cached bundle", calls)
	}
}

func TestRouterReduceCorruptCacheRecomputes(t *testing.T) {
	dir := t.TempDir()
	writePacked(t, dir, "a", 1, 1, []uint16{4})
	if err := os.WriteFile(filepath.Join(dir, cache.ReductionName), []byte("scrambled"), 0o644); err != nil {
		t.Fatal(err)
	}

	calls := 0
	rt := &router{
		log: discardLogger(),
		reduceFn: func(ctx context.Context, folder string, format session.Format, limit int, rep reduce.Reporter) (reduce.Result, error) {
			calls++
			return stubResult(), nil
		},
	}
	out := rt.Process(context.Background(), Job{ID: "j1", Kind: KindReduce, Folder: dir, Format: session.FormatSBX}, &eventSink{})
	if out.Err != nil {
		t.Fatalf("reduce: %v", out.Err)
	}
	if calls != 1 {
		t.Fatalf("reducer ran %d times, want recompute on corrupt cache", calls)
	}
	if _, err := cache.LoadReduction(dir); err != nil {
		t.Fatalf("corrupt cache was not replaced: %v", err)
	}
}

func TestRouterExportResolvesParams(t *testing.T) {
	dir := t.TempDir()
	saved := align.NewParamSet()
	saved.SetReference(1)
	saved.Set(0, align.Params{XShift: 9, Scale: 1})
	if err := cache.SaveParams(dir, saved); err != nil {
		t.Fatal(err)
	}

	var gotParams *align.ParamSet
	rt := &router{
		log: discardLogger(),
		exportFn: func(ctx context.Context, job export.Job, rep export.Reporter) (export.Result, error) {
			gotParams = job.Params
			return export.Result{OutputPath: job.OutputPath, Sessions: 2, Frames: 10}, nil
		},
	}

	// Nil params means the saved set is loaded from the folder.
	out := rt.Process(context.Background(), Job{ID: "j1", Kind: KindExport, Folder: dir, Format: session.FormatSBX}, &eventSink{})
	if out.Err != nil {
		t.Fatalf("export: %v", out.Err)
	}
	if gotParams == nil || gotParams.Reference != 1 || gotParams.Get(0).XShift != 9 {
		t.Fatalf("export ran with %+v, want the saved set", gotParams)
	}

	// An explicit snapshot wins over the saved set.
	explicit := align.NewParamSet()
	explicit.Set(0, align.Params{YShift: -2, Scale: 1})
	out = rt.Process(context.Background(), Job{ID: "j2", Kind: KindExport, Folder: dir, Format: session.FormatSBX, Params: explicit}, &eventSink{})
	if out.Err != nil {
		t.Fatalf("export: %v", out.Err)
	}
	if gotParams != explicit {
		t.Fatal("export should run with the snapshot handed in")
	}
}

func TestRouterExportWithoutSavedParams(t *testing.T) {
	var gotParams *align.ParamSet
	rt := &router{
		log: discardLogger(),
		exportFn: func(ctx context.Context, job export.Job, rep export.Reporter) (export.Result, error) {
			gotParams = job.Params
			return export.Result{}, nil
		},
	}
	out := rt.Process(context.Background(), Job{ID: "j1", Kind: KindExport, Folder: t.TempDir(), Format: session.FormatSBX}, &eventSink{})
	if out.Err != nil {
		t.Fatalf("export: %v", out.Err)
	}
	if gotParams == nil || gotParams.Reference != 0 || !gotParams.Get(0).IsIdentity() {
		t.Fatalf("export ran with %+v, want identity defaults", gotParams)
	}
}

func TestRouterUnknownKind(t *testing.T) {
	rt := &router{log: discardLogger()}
	out := rt.Process(context.Background(), Job{ID: "j1", Kind: "transmogrify"}, &eventSink{})
	if out.Err == nil || !strings.Contains(out.Err.Error(), "unknown job kind") {
		t.Fatalf("err = %v, want unknown job kind", out.Err)
	}
}
