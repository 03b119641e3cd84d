// Package reduce collapses each discovered session into a single mean frame,
// the preview operators inspect while choosing alignment corrections.
package reduce

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"gonum.org/v1/gonum/floats"

	"stackalign/internal/frame"
	"stackalign/internal/session"
)

// DefaultSampleLimit caps how many leading frames of a session feed its mean
// frame. The mean is a preview, not a product; the cap keeps reduction fast
// on multi-gigabyte sessions.
const DefaultSampleLimit = 100

// Reporter receives progress while a reduction runs.
type Reporter interface {
	// Progress reports completion in percent, non-decreasing up to 100.
	Progress(pct float64)
	// Status reports a human-readable description of the current step.
	Status(msg string)
}

// Result is a finished reduction of one folder.
type Result struct {
	// MeanFrames holds one mean frame per session, in session index order.
	// Geometry may differ between sessions.
	MeanFrames []frame.Frame
	// NSessions is the number of sessions reduced.
	NSessions int
	// NTotalFrames sums the true frame counts of every session, not just the
	// sampled frames.
	NTotalFrames int
	// SampleType is the element type shared by every session in the run.
	SampleType frame.SampleType
}

// Run reduces every session in folder to its mean frame. Sessions shorter
// than the sample limit average over whatever frames they have. Any failing
// session fails the whole run; there are no partial results.
func Run(ctx context.Context, folder string, format session.Format, sampleLimit int, rep Reporter) (Result, error) {
	if sampleLimit <= 0 {
		sampleLimit = DefaultSampleLimit
	}

	rep.Status(fmt.Sprintf("scanning %s for %s sessions", folder, format))
	sessions, err := session.Discover(folder, format)
	if err != nil {
		return Result{}, err
	}
	rep.Status(fmt.Sprintf("reducing %d sessions", len(sessions)))

	result := Result{
		MeanFrames: make([]frame.Frame, 0, len(sessions)),
		NSessions:  len(sessions),
	}
	for i, s := range sessions {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		rep.Status(fmt.Sprintf("session %d/%d: %s", i+1, len(sessions), filepath.Base(s.Path)))

		mean, total, stype, err := reduceSession(s.Path, format, sampleLimit)
		if err != nil {
			return Result{}, err
		}
		if i == 0 {
			result.SampleType = stype
		} else if stype != result.SampleType {
			return Result{}, &session.FormatError{
				Path:   s.Path,
				Reason: fmt.Sprintf("sample type %s disagrees with %s used by earlier sessions", stype, result.SampleType),
			}
		}
		result.MeanFrames = append(result.MeanFrames, mean)
		result.NTotalFrames += total

		rep.Progress(float64(i+1) / float64(len(sessions)) * 100)
	}
	return result, nil
}

// reduceSession streams up to sampleLimit frames of one session and averages
// them. The mean accumulates in float64 and is truncated back to the integer
// sample range, matching an unsigned cast.
func reduceSession(path string, format session.Format, sampleLimit int) (frame.Frame, int, frame.SampleType, error) {
	src, err := session.Open(path, format, session.Options{MaxFrames: sampleLimit})
	if err != nil {
		return frame.Frame{}, 0, 0, err
	}
	defer src.Close()

	h, w := src.Geometry()
	sum := make([]float64, h*w)
	buf := make([]float64, h*w)
	sampled := 0
	for {
		f, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return frame.Frame{}, 0, 0, err
		}
		for i, v := range f.Pix {
			buf[i] = float64(v)
		}
		floats.Add(sum, buf)
		sampled++
	}
	if sampled == 0 {
		return frame.Frame{}, 0, 0, &session.FormatError{Path: path, Reason: "session holds no complete frames"}
	}

	floats.Scale(1/float64(sampled), sum)
	mean := frame.New(h, w)
	for i, v := range sum {
		mean.Pix[i] = uint16(v)
	}
	return mean, src.Frames(), src.SampleType(), nil
}
