package tiff

import (
	"encoding/binary"
	"fmt"
	"io"
)

// page holds the decoded layout of one IFD.
type page struct {
	height       int
	width        int
	bits         int
	rowsPerStrip int
	stripOffsets []uint64
	stripCounts  []uint64
}

// entry is one raw IFD field. value holds the entry's value-or-offset bytes
// exactly as stored (4 bytes classic, 8 bytes BigTIFF).
type entry struct {
	typ   uint16
	count uint64
	value []byte
}

// Decoder reads multi-page grayscale TIFF and BigTIFF files. Construction
// parses the header and walks the whole IFD chain; pixel data is not touched
// until DecodePage.
type Decoder struct {
	r     io.ReaderAt
	bo    binary.ByteOrder
	big   bool
	pages []page
}

// NewDecoder parses the file served by r.
func NewDecoder(r io.ReaderAt) (*Decoder, error) {
	var hdr [16]byte
	if _, err := r.ReadAt(hdr[:8], 0); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	d := &Decoder{r: r}
	switch string(hdr[:2]) {
	case "II":
		d.bo = binary.LittleEndian
	case "MM":
		d.bo = binary.BigEndian
	default:
		return nil, fmt.Errorf("not a TIFF file")
	}

	var first uint64
	switch d.bo.Uint16(hdr[2:4]) {
	case classicMagic:
		first = uint64(d.bo.Uint32(hdr[4:8]))
	case bigMagic:
		if _, err := r.ReadAt(hdr[:16], 0); err != nil {
			return nil, fmt.Errorf("read header: %w", err)
		}
		if d.bo.Uint16(hdr[4:6]) != 8 || d.bo.Uint16(hdr[6:8]) != 0 {
			return nil, fmt.Errorf("unsupported BigTIFF offset size")
		}
		d.big = true
		first = d.bo.Uint64(hdr[8:16])
	default:
		return nil, fmt.Errorf("bad TIFF version marker")
	}

	seen := make(map[uint64]bool)
	for off := first; off != 0; {
		if seen[off] {
			return nil, fmt.Errorf("IFD chain loops at offset %d", off)
		}
		seen[off] = true
		p, next, err := d.readIFD(off)
		if err != nil {
			return nil, err
		}
		d.pages = append(d.pages, p)
		off = next
	}
	if len(d.pages) == 0 {
		return nil, fmt.Errorf("file contains no pages")
	}
	return d, nil
}

// Pages returns the page count.
func (d *Decoder) Pages() int { return len(d.pages) }

// Page returns the geometry and bit depth of page i.
func (d *Decoder) Page(i int) (height, width, bits int) {
	p := d.pages[i]
	return p.height, p.width, p.bits
}

// DecodePage reads page i's samples into a row-major uint16 slice. 8-bit
// pages are widened.
func (d *Decoder) DecodePage(i int) ([]uint16, error) {
	p := d.pages[i]
	bytesPer := p.bits / 8
	pix := make([]uint16, p.height*p.width)

	maxStrip := p.rowsPerStrip * p.width * bytesPer
	raw := make([]byte, maxStrip)

	row := 0
	for s := range p.stripOffsets {
		rows := p.rowsPerStrip
		if row+rows > p.height {
			rows = p.height - row
		}
		want := rows * p.width * bytesPer
		if p.stripCounts[s] != uint64(want) {
			return nil, fmt.Errorf("page %d strip %d holds %d bytes, want %d", i, s, p.stripCounts[s], want)
		}
		if _, err := d.r.ReadAt(raw[:want], int64(p.stripOffsets[s])); err != nil {
			return nil, fmt.Errorf("page %d strip %d: %w", i, s, err)
		}

		base := row * p.width
		n := rows * p.width
		if bytesPer == 1 {
			for k := 0; k < n; k++ {
				pix[base+k] = uint16(raw[k])
			}
		} else {
			for k := 0; k < n; k++ {
				pix[base+k] = d.bo.Uint16(raw[2*k:])
			}
		}
		row += rows
	}
	return pix, nil
}

func (d *Decoder) readIFD(off uint64) (page, uint64, error) {
	var p page

	var count uint64
	var entSize int
	var base uint64
	if d.big {
		var b [8]byte
		if _, err := d.r.ReadAt(b[:], int64(off)); err != nil {
			return p, 0, fmt.Errorf("read IFD at %d: %w", off, err)
		}
		count = d.bo.Uint64(b[:])
		entSize = 20
		base = off + 8
	} else {
		var b [2]byte
		if _, err := d.r.ReadAt(b[:], int64(off)); err != nil {
			return p, 0, fmt.Errorf("read IFD at %d: %w", off, err)
		}
		count = uint64(d.bo.Uint16(b[:]))
		entSize = 12
		base = off + 2
	}
	if count == 0 || count > 4096 {
		return p, 0, fmt.Errorf("IFD at %d has implausible entry count %d", off, count)
	}

	raw := make([]byte, int(count)*entSize)
	if _, err := d.r.ReadAt(raw, int64(base)); err != nil {
		return p, 0, fmt.Errorf("read IFD entries at %d: %w", base, err)
	}

	entries := make(map[uint16]entry, count)
	for i := uint64(0); i < count; i++ {
		e := raw[int(i)*entSize:]
		tag := d.bo.Uint16(e[0:2])
		if d.big {
			entries[tag] = entry{
				typ:   d.bo.Uint16(e[2:4]),
				count: d.bo.Uint64(e[4:12]),
				value: append([]byte(nil), e[12:20]...),
			}
		} else {
			entries[tag] = entry{
				typ:   d.bo.Uint16(e[2:4]),
				count: uint64(d.bo.Uint32(e[4:8])),
				value: append([]byte(nil), e[8:12]...),
			}
		}
	}

	nextOff := base + count*uint64(entSize)
	var next uint64
	if d.big {
		var b [8]byte
		if _, err := d.r.ReadAt(b[:], int64(nextOff)); err != nil {
			return p, 0, fmt.Errorf("read IFD link at %d: %w", nextOff, err)
		}
		next = d.bo.Uint64(b[:])
	} else {
		var b [4]byte
		if _, err := d.r.ReadAt(b[:], int64(nextOff)); err != nil {
			return p, 0, fmt.Errorf("read IFD link at %d: %w", nextOff, err)
		}
		next = uint64(d.bo.Uint32(b[:]))
	}

	if err := d.fillPage(&p, entries); err != nil {
		return p, 0, err
	}
	return p, next, nil
}

func (d *Decoder) fillPage(p *page, entries map[uint16]entry) error {
	width, err := d.requiredScalar(entries, tagImageWidth, "image width")
	if err != nil {
		return err
	}
	height, err := d.requiredScalar(entries, tagImageLength, "image length")
	if err != nil {
		return err
	}
	if width == 0 || height == 0 || width > 1<<30 || height > 1<<30 {
		return fmt.Errorf("implausible page geometry %dx%d", height, width)
	}
	p.width = int(width)
	p.height = int(height)

	bits, err := d.scalarDefault(entries, tagBitsPerSample, 1)
	if err != nil {
		return err
	}
	if bits != 8 && bits != 16 {
		return fmt.Errorf("unsupported bit depth %d (want 8 or 16)", bits)
	}
	p.bits = int(bits)

	if v, err := d.scalarDefault(entries, tagCompression, 1); err != nil {
		return err
	} else if v != 1 {
		return fmt.Errorf("compressed TIFF not supported (compression %d)", v)
	}
	if v, err := d.scalarDefault(entries, tagPhotometric, 1); err != nil {
		return err
	} else if v > 1 {
		return fmt.Errorf("unsupported photometric interpretation %d", v)
	}
	if v, err := d.scalarDefault(entries, tagSamplesPerPixel, 1); err != nil {
		return err
	} else if v != 1 {
		return fmt.Errorf("only single-sample grayscale supported (%d samples per pixel)", v)
	}
	if v, err := d.scalarDefault(entries, tagSampleFormat, 1); err != nil {
		return err
	} else if v != 1 {
		return fmt.Errorf("unsupported sample format %d (want unsigned integer)", v)
	}
	if v, err := d.scalarDefault(entries, tagPlanarConfig, 1); err != nil {
		return err
	} else if v != 1 {
		return fmt.Errorf("unsupported planar configuration %d", v)
	}
	if _, tiled := entries[tagTileWidth]; tiled {
		return fmt.Errorf("tiled TIFF not supported")
	}
	if _, tiled := entries[tagTileLength]; tiled {
		return fmt.Errorf("tiled TIFF not supported")
	}

	rps, err := d.scalarDefault(entries, tagRowsPerStrip, 0)
	if err != nil {
		return err
	}
	if rps == 0 || rps > uint64(p.height) {
		rps = uint64(p.height)
	}
	p.rowsPerStrip = int(rps)

	offEnt, ok := entries[tagStripOffsets]
	if !ok {
		return fmt.Errorf("page is missing strip offsets")
	}
	p.stripOffsets, err = d.uints(offEnt)
	if err != nil {
		return fmt.Errorf("strip offsets: %w", err)
	}
	cntEnt, ok := entries[tagStripByteCounts]
	if !ok {
		return fmt.Errorf("page is missing strip byte counts")
	}
	p.stripCounts, err = d.uints(cntEnt)
	if err != nil {
		return fmt.Errorf("strip byte counts: %w", err)
	}

	wantStrips := (p.height + p.rowsPerStrip - 1) / p.rowsPerStrip
	if len(p.stripOffsets) != wantStrips || len(p.stripCounts) != wantStrips {
		return fmt.Errorf("strip layout mismatch: %d offsets, %d counts, want %d strips",
			len(p.stripOffsets), len(p.stripCounts), wantStrips)
	}
	return nil
}

func (d *Decoder) requiredScalar(entries map[uint16]entry, tag uint16, name string) (uint64, error) {
	e, ok := entries[tag]
	if !ok {
		return 0, fmt.Errorf("page is missing %s", name)
	}
	vs, err := d.uints(e)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return vs[0], nil
}

func (d *Decoder) scalarDefault(entries map[uint16]entry, tag uint16, def uint64) (uint64, error) {
	e, ok := entries[tag]
	if !ok {
		return def, nil
	}
	vs, err := d.uints(e)
	if err != nil {
		return 0, fmt.Errorf("tag %d: %w", tag, err)
	}
	return vs[0], nil
}

// uints widens an entry's values to uint64, following the offset indirection
// when they do not fit inline.
func (d *Decoder) uints(e entry) ([]uint64, error) {
	if !isUintType(e.typ) {
		return nil, fmt.Errorf("unsupported field type %d", e.typ)
	}
	if e.count == 0 || e.count > 1<<24 {
		return nil, fmt.Errorf("implausible value count %d", e.count)
	}
	sz := typeSize(e.typ)
	total := sz * int(e.count)

	var raw []byte
	if total <= len(e.value) {
		raw = e.value[:total]
	} else {
		var off uint64
		if d.big {
			off = d.bo.Uint64(e.value)
		} else {
			off = uint64(d.bo.Uint32(e.value))
		}
		raw = make([]byte, total)
		if _, err := d.r.ReadAt(raw, int64(off)); err != nil {
			return nil, fmt.Errorf("read values at %d: %w", off, err)
		}
	}

	out := make([]uint64, e.count)
	for i := range out {
		switch sz {
		case 1:
			out[i] = uint64(raw[i])
		case 2:
			out[i] = uint64(d.bo.Uint16(raw[2*i:]))
		case 4:
			out[i] = uint64(d.bo.Uint32(raw[4*i:]))
		case 8:
			out[i] = d.bo.Uint64(raw[8*i:])
		}
	}
	return out, nil
}
