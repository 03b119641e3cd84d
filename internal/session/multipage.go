package session

import (
	"io"

	"stackalign/internal/frame"
	"stackalign/internal/tiff"
)

// pageSource serves a multi-page image file. The session's declared geometry
// and element type come from the first page; every other page must agree.
type pageSource struct {
	r      readerAt
	dec    *tiff.Decoder
	height int
	width  int
	stype  frame.SampleType
	total  int
	limit  int
	next   int
}

func openMultipage(path string, opts Options) (*pageSource, error) {
	r, _, err := openReaderAt(path)
	if err != nil {
		return nil, err
	}

	dec, err := tiff.NewDecoder(r)
	if err != nil {
		r.Close()
		return nil, formatErrf(path, "%v", err)
	}

	height, width, bits := dec.Page(0)
	for i := 1; i < dec.Pages(); i++ {
		h, w, b := dec.Page(i)
		if h != height || w != width {
			r.Close()
			return nil, formatErrf(path, "page %d geometry %dx%d disagrees with session geometry %dx%d", i, h, w, height, width)
		}
		if b != bits {
			r.Close()
			return nil, formatErrf(path, "page %d bit depth %d disagrees with session bit depth %d", i, b, bits)
		}
	}

	stype := frame.Uint16
	if bits == 8 {
		stype = frame.Uint8
	}

	total := dec.Pages()
	limit := total
	if opts.MaxFrames > 0 && opts.MaxFrames < limit {
		limit = opts.MaxFrames
	}

	return &pageSource{
		r:      r,
		dec:    dec,
		height: height,
		width:  width,
		stype:  stype,
		total:  total,
		limit:  limit,
	}, nil
}

func (s *pageSource) Frames() int { return s.total }

func (s *pageSource) Geometry() (int, int) { return s.height, s.width }

func (s *pageSource) SampleType() frame.SampleType { return s.stype }

func (s *pageSource) Next() (frame.Frame, error) {
	if s.next >= s.limit {
		return frame.Frame{}, io.EOF
	}
	pix, err := s.dec.DecodePage(s.next)
	if err != nil {
		return frame.Frame{}, err
	}
	s.next++
	return frame.Frame{Height: s.height, Width: s.width, Pix: pix}, nil
}

func (s *pageSource) Close() error { return s.r.Close() }
