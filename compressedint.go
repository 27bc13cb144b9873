// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import "errors"

// ErrCompressedIntOutOfRange is returned when a signed value does not fit
// the largest compressed-integer form (±2^28) or an unsigned value exceeds
// 0x1FFFFFFF (ECMA-335 §II.23.2).
var ErrCompressedIntOutOfRange = errors.New("value out of compressed integer range")

// ErrTruncatedCompressedInt is returned when a blob ends before a
// compressed-integer's declared width.
var ErrTruncatedCompressedInt = errors.New("truncated compressed integer")

// readCompressedUint32 decodes a variable-length unsigned integer from b
// starting at off, per ECMA-335 §II.23.2: the top bits of the first byte
// select a 1, 2, or 4-byte encoding.
//
//	0xxxxxxx                            -> 1 byte,  7-bit value
//	10xxxxxx xxxxxxxx                   -> 2 bytes, 14-bit value
//	110xxxxx xxxxxxxx xxxxxxxx xxxxxxxx  -> 4 bytes, 29-bit value
func readCompressedUint32(b []byte, off int) (value uint32, n int, err error) {
	if off >= len(b) {
		return 0, 0, ErrTruncatedCompressedInt
	}
	first := b[off]
	switch {
	case first&0x80 == 0:
		return uint32(first), 1, nil
	case first&0xC0 == 0x80:
		if off+2 > len(b) {
			return 0, 0, ErrTruncatedCompressedInt
		}
		value = uint32(first&0x3F)<<8 | uint32(b[off+1])
		return value, 2, nil
	case first&0xE0 == 0xC0:
		if off+4 > len(b) {
			return 0, 0, ErrTruncatedCompressedInt
		}
		value = uint32(first&0x1F)<<24 | uint32(b[off+1])<<16 |
			uint32(b[off+2])<<8 | uint32(b[off+3])
		return value, 4, nil
	default:
		return 0, 0, ErrMalformedImage
	}
}

// writeCompressedUint32 appends the compressed-integer encoding of v to buf
// and returns the extended slice. v must be < 2^29.
func writeCompressedUint32(buf []byte, v uint32) ([]byte, error) {
	switch {
	case v <= 0x7F:
		return append(buf, byte(v)), nil
	case v <= 0x3FFF:
		return append(buf, byte(0x80|(v>>8)), byte(v)), nil
	case v <= 0x1FFFFFFF:
		return append(buf,
			byte(0xC0|(v>>24)), byte(v>>16), byte(v>>8), byte(v)), nil
	default:
		return nil, ErrCompressedIntOutOfRange
	}
}

// readCompressedInt32 decodes a signed compressed integer (ECMA-335
// §II.23.2): the unsigned payload's low bit is a sign flag, and the
// remaining bits are the two's complement magnitude biased by half the
// payload's range.
func readCompressedInt32(b []byte, off int) (value int32, n int, err error) {
	raw, n, err := readCompressedUint32(b, off)
	if err != nil {
		return 0, 0, err
	}

	negative := raw&1 != 0
	mag := int32(raw >> 1)
	if !negative {
		return mag, n, nil
	}

	switch n {
	case 1:
		return mag - (1 << 6), n, nil
	case 2:
		return mag - (1 << 13), n, nil
	default:
		return mag - (1 << 28), n, nil
	}
}

// writeCompressedInt32 appends the compressed-integer encoding of a signed
// value to buf.
func writeCompressedInt32(buf []byte, v int32) ([]byte, error) {
	var raw uint32
	var n int
	switch {
	case v >= -(1<<6) && v < (1<<6):
		n = 1
		if v < 0 {
			raw = uint32(v+(1<<6))<<1 | 1
		} else {
			raw = uint32(v) << 1
		}
	case v >= -(1<<13) && v < (1<<13):
		n = 2
		if v < 0 {
			raw = uint32(v+(1<<13))<<1 | 1
		} else {
			raw = uint32(v) << 1
		}
	case v >= -(1<<28) && v < (1<<28):
		n = 4
		if v < 0 {
			raw = uint32(v+(1<<28))<<1 | 1
		} else {
			raw = uint32(v) << 1
		}
	default:
		return nil, ErrCompressedIntOutOfRange
	}
	switch n {
	case 1:
		return append(buf, byte(raw)), nil
	case 2:
		return append(buf, byte(0x80|raw>>8), byte(raw)), nil
	}
	return append(buf, byte(0xC0|raw>>24), byte(raw>>16), byte(raw>>8), byte(raw)), nil
}

// readBlobAt reads a length-prefixed blob (compressed uint length, then that
// many bytes) from the #Blob heap starting at offset off.
func readBlobAt(heap []byte, off uint32) ([]byte, error) {
	length, n, err := readCompressedUint32(heap, int(off))
	if err != nil {
		return nil, err
	}
	start := int(off) + n
	end := start + int(length)
	if end > len(heap) {
		return nil, ErrTruncatedCompressedInt
	}
	return heap[start:end], nil
}
