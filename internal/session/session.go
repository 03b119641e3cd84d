package session

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"stackalign/internal/frame"
)

// ExportedStackName is the deterministic name of the merged output written
// into a source folder. Discovery skips it so a re-export never ingests its
// own previous product.
const ExportedStackName = "aligned_stack.tiff"

// Format selects which on-disk session representation a folder holds.
type Format string

const (
	FormatSBX  Format = "sbx"
	FormatTIFF Format = "tiff"
)

var formatExts = map[Format]map[string]struct{}{
	FormatSBX:  {".sbx": {}},
	FormatTIFF: {".tif": {}, ".tiff": {}},
}

// ParseFormat maps a user-supplied selector string to a Format.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case FormatSBX:
		return FormatSBX, nil
	case FormatTIFF:
		return FormatTIFF, nil
	default:
		return "", fmt.Errorf("unknown session format %q (want sbx or tiff)", s)
	}
}

// Matches reports whether path carries one of the format's extensions,
// case-insensitively.
func (f Format) Matches(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	_, ok := formatExts[f][ext]
	return ok
}

// Session is one discovered acquisition within a folder. Index is assigned by
// sorted path order and never changes for the life of a run.
type Session struct {
	Index int
	Path  string
}

// Discover walks folder for session files of the selected format and returns
// them in sorted path order. The walk is recursive, matching how operators
// keep acquisitions in dated subfolders.
func Discover(folder string, format Format) ([]Session, error) {
	var paths []string
	err := filepath.WalkDir(folder, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if d.Name() == ExportedStackName {
			return nil
		}
		if format.Matches(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, &NotFoundError{Folder: folder, Format: format}
	}
	sort.Strings(paths)

	sessions := make([]Session, len(paths))
	for i, p := range paths {
		sessions[i] = Session{Index: i, Path: p}
	}
	return sessions, nil
}

// Source is a lazy, finite, forward-only sequence of one session's frames.
type Source interface {
	// Frames reports the session's true total frame count, independent of any
	// read limit the source was opened with.
	Frames() int
	// Geometry returns frame height and width.
	Geometry() (height, width int)
	// SampleType returns the element type of the session's samples.
	SampleType() frame.SampleType
	// Next returns the next frame, or io.EOF once the sequence (or the
	// configured limit) is exhausted.
	Next() (frame.Frame, error)
	Close() error
}

// Options tune how a source is opened.
type Options struct {
	// MaxFrames caps how many frames Next will produce. Zero means no cap.
	// The cap never changes the count reported by Frames.
	MaxFrames int
}

// Open opens one session file under the given format selector.
func Open(path string, format Format, opts Options) (Source, error) {
	switch format {
	case FormatSBX:
		return openPacked(path, opts)
	case FormatTIFF:
		return openMultipage(path, opts)
	default:
		return nil, fmt.Errorf("unknown session format %q", format)
	}
}
