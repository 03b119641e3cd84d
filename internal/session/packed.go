package session

import (
	"encoding/binary"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"stackalign/internal/frame"
)

const sidecarExt = ".json"

// packedMeta is the sidecar record describing a packed session's frame
// geometry.
type packedMeta struct {
	Height int `json:"height"`
	Width  int `json:"width"`
}

// packedSource reads a flat stream of little-endian uint16 samples. The
// acquisition hardware stores samples inverted, so every value is flipped
// (0xFFFF - sample) on the way out. Trailing bytes short of a full frame are
// ignored by the floor division in the frame count.
type packedSource struct {
	r      readerAt
	height int
	width  int
	total  int
	limit  int
	next   int
	buf    []byte
}

func openPacked(path string, opts Options) (*packedSource, error) {
	meta, err := readSidecar(path)
	if err != nil {
		return nil, err
	}
	if meta.Height <= 0 || meta.Width <= 0 {
		return nil, formatErrf(SidecarPath(path), "sidecar declares invalid geometry %dx%d", meta.Height, meta.Width)
	}

	r, size, err := openReaderAt(path)
	if err != nil {
		return nil, err
	}

	frameSamples := meta.Height * meta.Width
	total := int(size / 2 / int64(frameSamples))
	limit := total
	if opts.MaxFrames > 0 && opts.MaxFrames < limit {
		limit = opts.MaxFrames
	}

	return &packedSource{
		r:      r,
		height: meta.Height,
		width:  meta.Width,
		total:  total,
		limit:  limit,
	}, nil
}

// SidecarPath returns the JSON metadata path that accompanies a packed
// session file.
func SidecarPath(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + sidecarExt
}

func readSidecar(path string) (packedMeta, error) {
	var meta packedMeta
	raw, err := os.ReadFile(SidecarPath(path))
	if err != nil {
		return meta, formatErrf(SidecarPath(path), "missing sidecar metadata: %v", err)
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return meta, formatErrf(SidecarPath(path), "unparseable sidecar metadata: %v", err)
	}
	return meta, nil
}

func (s *packedSource) Frames() int { return s.total }

func (s *packedSource) Geometry() (int, int) { return s.height, s.width }

func (s *packedSource) SampleType() frame.SampleType { return frame.Uint16 }

func (s *packedSource) Next() (frame.Frame, error) {
	if s.next >= s.limit {
		return frame.Frame{}, io.EOF
	}

	n := s.height * s.width
	if s.buf == nil {
		s.buf = make([]byte, n*2)
	}
	off := int64(s.next) * int64(n) * 2
	if _, err := s.r.ReadAt(s.buf, off); err != nil {
		return frame.Frame{}, err
	}

	f := frame.New(s.height, s.width)
	for i := 0; i < n; i++ {
		f.Pix[i] = 0xFFFF - binary.LittleEndian.Uint16(s.buf[2*i:])
	}
	s.next++
	return f, nil
}

func (s *packedSource) Close() error { return s.r.Close() }
