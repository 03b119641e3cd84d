// Package export merges every session in a folder into a single multi-page
// stack, applying each session's alignment corrections frame by frame.
package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"

	"stackalign/internal/align"
	"stackalign/internal/frame"
	"stackalign/internal/session"
	"stackalign/internal/tiff"
)

const (
	// chunkFrames bounds how many decoded frames are resident at once, so an
	// export never needs a whole session in memory.
	chunkFrames = 1000
	// progressStride is how many written frames pass between progress
	// reports inside a session.
	progressStride = 50
)

// Reporter receives progress while an export runs.
type Reporter interface {
	// Progress reports completion in percent, non-decreasing up to 100.
	Progress(pct float64)
	// Status reports a human-readable description of the current step.
	Status(msg string)
}

// Job describes one export run.
type Job struct {
	Folder string
	Format session.Format
	// Params supplies per-session corrections and the reference session.
	// Nil means identity corrections with session 0 as reference.
	Params *align.ParamSet
	// OutputPath overrides the default product location inside Folder.
	OutputPath string
}

// Result is a finished export.
type Result struct {
	OutputPath string
	Sessions   int
	Frames     int
	SampleType frame.SampleType
}

// Run streams every session's frames through the alignment chain into one
// multi-page stack. The reference session passes through untouched. Any
// pre-existing product is removed first, so a failed run can leave a partial
// file but never a stale complete one.
func Run(ctx context.Context, job Job, rep Reporter) (Result, error) {
	out := job.OutputPath
	if out == "" {
		out = filepath.Join(job.Folder, session.ExportedStackName)
	}

	rep.Status(fmt.Sprintf("scanning %s for %s sessions", job.Folder, job.Format))
	sessions, err := session.Discover(job.Folder, job.Format)
	if err != nil {
		return Result{}, err
	}

	// The run works on its own snapshot with an explicit entry per session;
	// the caller's set stays untouched.
	params := align.NewParamSet()
	if job.Params != nil {
		params = job.Params.Clone()
	}
	params.Ensure(len(sessions))

	if err := os.Remove(out); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Result{}, fmt.Errorf("removing previous output: %w", err)
	}

	total, stype, err := countFrames(sessions, job.Format)
	if err != nil {
		return Result{}, err
	}
	rep.Status(fmt.Sprintf("exporting %d frames from %d sessions", total, len(sessions)))

	w, err := tiff.NewWriter(out, stype.Bits())
	if err != nil {
		return Result{}, err
	}
	e := &exporter{
		format:  job.Format,
		params:  params,
		w:       w,
		rep:     rep,
		total:   total,
		lastPct: -1,
	}
	if err := e.run(ctx, sessions); err != nil {
		w.Close()
		return Result{}, err
	}
	if err := w.Close(); err != nil {
		return Result{}, err
	}

	rep.Status(fmt.Sprintf("wrote %d frames to %s", e.done, out))
	return Result{
		OutputPath: out,
		Sessions:   len(sessions),
		Frames:     e.done,
		SampleType: stype,
	}, nil
}

// countFrames opens every session for its metadata only, summing true frame
// counts and pinning the element type the whole run must share.
func countFrames(sessions []session.Session, format session.Format) (int, frame.SampleType, error) {
	total := 0
	var stype frame.SampleType
	for i, s := range sessions {
		src, err := session.Open(s.Path, format, session.Options{})
		if err != nil {
			return 0, 0, err
		}
		n := src.Frames()
		st := src.SampleType()
		src.Close()

		if i == 0 {
			stype = st
		} else if st != stype {
			return 0, 0, &session.FormatError{
				Path:   s.Path,
				Reason: fmt.Sprintf("sample type %s disagrees with %s used by earlier sessions", st, stype),
			}
		}
		total += n
	}
	if total == 0 {
		return 0, 0, fmt.Errorf("sessions hold no complete frames")
	}
	return total, stype, nil
}

type exporter struct {
	format  session.Format
	params  *align.ParamSet
	w       *tiff.Writer
	rep     Reporter
	total   int
	done    int
	lastPct float64
}

func (e *exporter) run(ctx context.Context, sessions []session.Session) error {
	for i, s := range sessions {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.rep.Status(fmt.Sprintf("session %d/%d: %s", i+1, len(sessions), filepath.Base(s.Path)))
		if err := e.exportSession(s); err != nil {
			return err
		}
		e.emit()
	}
	e.emit()
	return nil
}

func (e *exporter) exportSession(s session.Session) error {
	src, err := session.Open(s.Path, e.format, session.Options{})
	if err != nil {
		return err
	}
	defer src.Close()

	p := e.params.Get(s.Index)
	passthrough := s.Index == e.params.Reference

	chunk := make([]frame.Frame, 0, chunkFrames)
	for {
		chunk, err = readChunk(src, chunk)
		if err != nil {
			return err
		}
		if len(chunk) == 0 {
			return nil
		}
		for _, f := range chunk {
			out := f
			if !passthrough {
				out, err = align.Apply(f, p)
				if err != nil {
					return &session.FormatError{Path: s.Path, Reason: err.Error()}
				}
			}
			if err := e.w.WritePage(out.Pix, out.Height, out.Width); err != nil {
				return err
			}
			e.done++
			if e.done%progressStride == 0 {
				e.emit()
			}
		}
		if len(chunk) < chunkFrames {
			return nil
		}
	}
}

// emit reports whole-percent completion, skipping values already delivered
// so repeated boundary reports collapse and 100 fires exactly once.
func (e *exporter) emit() {
	pct := math.Floor(float64(e.done) / float64(e.total) * 100)
	if pct > e.lastPct {
		e.rep.Progress(pct)
		e.lastPct = pct
	}
}

func readChunk(src session.Source, chunk []frame.Frame) ([]frame.Frame, error) {
	chunk = chunk[:0]
	for len(chunk) < chunkFrames {
		f, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		chunk = append(chunk, f)
	}
	return chunk, nil
}
