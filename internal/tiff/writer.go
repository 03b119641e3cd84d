package tiff

import (
	"encoding/binary"
	"fmt"
	"os"
)

var le = binary.LittleEndian

const ifdEntries = 10

// Writer appends grayscale pages to a little-endian BigTIFF file one frame at
// a time. Each page is a single strip; the IFD chain is back-patched as pages
// land, so the file is a structurally complete multi-page TIFF after every
// WritePage. 64-bit offsets let the stack grow past 4 GiB.
type Writer struct {
	f        *os.File
	bits     int
	off      int64
	lastLink int64
	pages    int64
	buf      []byte
}

// NewWriter creates (or truncates) path. bits selects the stored sample
// width, 8 or 16.
func NewWriter(path string, bits int) (*Writer, error) {
	if bits != 8 && bits != 16 {
		return nil, fmt.Errorf("unsupported bit depth %d (want 8 or 16)", bits)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	hdr := make([]byte, 16)
	copy(hdr, "II")
	le.PutUint16(hdr[2:], bigMagic)
	le.PutUint16(hdr[4:], 8)
	// hdr[8:16] is the first-IFD offset, patched by the first WritePage.
	if _, err := f.Write(hdr); err != nil {
		f.Close()
		return nil, err
	}

	return &Writer{f: f, bits: bits, off: 16, lastLink: 8}, nil
}

// Pages returns the number of pages written so far.
func (w *Writer) Pages() int64 { return w.pages }

// WritePage appends one frame. Samples beyond the writer's bit depth are
// truncated, matching an unsigned narrowing cast.
func (w *Writer) WritePage(pix []uint16, height, width int) error {
	if height <= 0 || width <= 0 || height*width != len(pix) {
		return fmt.Errorf("page geometry %dx%d does not match %d samples", height, width, len(pix))
	}

	bytesPer := w.bits / 8
	dataLen := len(pix) * bytesPer
	if cap(w.buf) < dataLen {
		w.buf = make([]byte, dataLen)
	}
	buf := w.buf[:dataLen]
	if bytesPer == 1 {
		for i, v := range pix {
			buf[i] = byte(v)
		}
	} else {
		for i, v := range pix {
			le.PutUint16(buf[2*i:], v)
		}
	}

	if err := w.pad(); err != nil {
		return err
	}
	dataOff := w.off
	if err := w.write(buf); err != nil {
		return err
	}
	if err := w.pad(); err != nil {
		return err
	}

	ifdOff := w.off
	ifd := make([]byte, 8+ifdEntries*20+8)
	le.PutUint64(ifd, ifdEntries)
	ent := func(i int, tag, typ uint16, count, value uint64) {
		e := ifd[8+i*20:]
		le.PutUint16(e[0:], tag)
		le.PutUint16(e[2:], typ)
		le.PutUint64(e[4:], count)
		le.PutUint64(e[12:], value)
	}
	ent(0, tagImageWidth, typeLong, 1, uint64(width))
	ent(1, tagImageLength, typeLong, 1, uint64(height))
	ent(2, tagBitsPerSample, typeShort, 1, uint64(w.bits))
	ent(3, tagCompression, typeShort, 1, 1)
	ent(4, tagPhotometric, typeShort, 1, 1)
	ent(5, tagStripOffsets, typeLong8, 1, uint64(dataOff))
	ent(6, tagSamplesPerPixel, typeShort, 1, 1)
	ent(7, tagRowsPerStrip, typeLong, 1, uint64(height))
	ent(8, tagStripByteCounts, typeLong8, 1, uint64(dataLen))
	ent(9, tagSampleFormat, typeShort, 1, 1)
	// trailing 8 bytes: next-IFD link, zero until the next page patches it
	if err := w.write(ifd); err != nil {
		return err
	}

	var link [8]byte
	le.PutUint64(link[:], uint64(ifdOff))
	if _, err := w.f.WriteAt(link[:], w.lastLink); err != nil {
		return fmt.Errorf("patch IFD chain: %w", err)
	}
	w.lastLink = ifdOff + 8 + ifdEntries*20
	w.pages++
	return nil
}

// Close finishes the file. The IFD chain is already terminated, so there is
// nothing to flush beyond the handle itself.
func (w *Writer) Close() error {
	return w.f.Close()
}

func (w *Writer) write(b []byte) error {
	if _, err := w.f.Write(b); err != nil {
		return err
	}
	w.off += int64(len(b))
	return nil
}

// pad keeps values on the word boundaries the format requires.
func (w *Writer) pad() error {
	if w.off%2 == 0 {
		return nil
	}
	return w.write([]byte{0})
}
