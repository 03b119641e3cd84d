// Package tiff implements the subset of TIFF 6.0 and BigTIFF needed for
// sequential-frame acquisition stacks: multi-page, grayscale, uncompressed,
// strip-based, 8- or 16-bit unsigned samples. Reading accepts classic and
// BigTIFF in either byte order; writing always produces little-endian BigTIFF
// so merged stacks can grow past 4 GiB.
package tiff

const (
	classicMagic = 42
	bigMagic     = 43
)

const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagPhotometric     = 262
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagPlanarConfig    = 284
	tagTileWidth       = 322
	tagTileLength      = 323
	tagSampleFormat    = 339
)

const (
	typeByte     = 1
	typeASCII    = 2
	typeShort    = 3
	typeLong     = 4
	typeRational = 5
	typeLong8    = 16
)

// typeSize returns the byte width of one value of a TIFF field type, or 0 for
// types this package does not handle.
func typeSize(typ uint16) int {
	switch typ {
	case typeByte, typeASCII, 6, 7:
		return 1
	case typeShort, 8:
		return 2
	case typeLong, 9, 11:
		return 4
	case typeRational, 10, 12, typeLong8, 17, 18:
		return 8
	default:
		return 0
	}
}

// isUintType reports whether a field type holds unsigned integers we can
// widen to uint64.
func isUintType(typ uint16) bool {
	switch typ {
	case typeByte, typeShort, typeLong, typeLong8:
		return true
	default:
		return false
	}
}
