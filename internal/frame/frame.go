package frame

import "fmt"

// SampleType identifies the element type of a session's samples.
type SampleType uint8

const (
	Uint8 SampleType = iota + 1
	Uint16
)

// Bytes returns the storage width of one sample on disk.
func (t SampleType) Bytes() int {
	if t == Uint8 {
		return 1
	}
	return 2
}

// Bits returns the bit depth of one sample.
func (t SampleType) Bits() int {
	return t.Bytes() * 8
}

func (t SampleType) String() string {
	switch t {
	case Uint8:
		return "uint8"
	case Uint16:
		return "uint16"
	default:
		return fmt.Sprintf("SampleType(%d)", uint8(t))
	}
}

// Frame is one 2-D grayscale frame, row-major. Samples are held in a uint16
// buffer regardless of the source element type; 8-bit sources occupy the low
// byte and are truncated back to a byte when written out.
type Frame struct {
	Height int
	Width  int
	Pix    []uint16
}

// New allocates a zero-filled frame of the given geometry.
func New(height, width int) Frame {
	return Frame{Height: height, Width: width, Pix: make([]uint16, height*width)}
}

// At returns the sample at row y, column x.
func (f Frame) At(y, x int) uint16 {
	return f.Pix[y*f.Width+x]
}

// Set stores v at row y, column x.
func (f Frame) Set(y, x int, v uint16) {
	f.Pix[y*f.Width+x] = v
}

// Clone returns a frame with its own copy of the pixel buffer.
func (f Frame) Clone() Frame {
	out := Frame{Height: f.Height, Width: f.Width, Pix: make([]uint16, len(f.Pix))}
	copy(out.Pix, f.Pix)
	return out
}

// Equal reports whether two frames share geometry and every sample.
func (f Frame) Equal(other Frame) bool {
	if f.Height != other.Height || f.Width != other.Width {
		return false
	}
	for i, v := range f.Pix {
		if other.Pix[i] != v {
			return false
		}
	}
	return true
}
