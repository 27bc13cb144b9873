// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"unicode/utf16"

	"github.com/cespare/xxhash/v2"
)

// heapBuilder accumulates one of the four metadata heaps (#Strings, #US,
// #Blob, #GUID) during the build pipeline (C8). intern is pure and
// idempotent: interning the same content twice returns the same offset.
// Content addressing is done with xxhash rather than comparing byte slices
// directly, so interning stays O(1) regardless of how many strings/blobs a
// large assembly accumulates.
type heapBuilder struct {
	buf      []byte
	index    map[uint64][]uint32 // content hash -> candidate offsets (collision chain)
	isGUID   bool
	guidSize uint32
}

func newHeapBuilder() *heapBuilder {
	h := &heapBuilder{index: make(map[uint64][]uint32)}
	// Offset/ordinal 0 is reserved for the empty/absent entry.
	h.buf = append(h.buf, 0)
	return h
}

func newGUIDHeapBuilder() *heapBuilder {
	return &heapBuilder{index: make(map[uint64][]uint32), isGUID: true}
}

// internBytes interns raw content (already in its on-disk encoding, e.g. a
// length-prefixed blob or a null-terminated string) and returns its offset.
func (h *heapBuilder) internBytes(content []byte) uint32 {
	sum := xxhash.Sum64(content)
	for _, off := range h.index[sum] {
		if h.sameContentAt(off, content) {
			return off
		}
	}

	off := uint32(len(h.buf))
	h.buf = append(h.buf, content...)
	h.index[sum] = append(h.index[sum], off)
	return off
}

func (h *heapBuilder) sameContentAt(off uint32, content []byte) bool {
	end := int(off) + len(content)
	if end > len(h.buf) {
		return false
	}
	for i, b := range content {
		if h.buf[int(off)+i] != b {
			return false
		}
	}
	return true
}

// internString interns a UTF-8 string into #Strings as a null-terminated
// entry and returns its heap offset. The empty string always resolves to
// offset 0 without growing the heap.
func (h *heapBuilder) internString(s string) uint32 {
	if s == "" {
		return 0
	}
	return h.internBytes(append([]byte(s), 0))
}

// internUserString interns s into #US using the UTF-16LE + trailing flag
// byte encoding described in ECMA-335 §II.24.2.4. The flag byte is 0x01 iff
// any UTF-16 code unit has its high byte set or lands in the "marked"
// character set (approximated here, per common practice, by any code unit
// outside printable low ASCII), signalling to the runtime that the string
// may require special handling.
func (h *heapBuilder) internUserString(s string) uint32 {
	units := utf16.Encode([]rune(s))
	content := make([]byte, len(units)*2+1)
	hasSpecial := false
	for i, u := range units {
		content[2*i] = byte(u)
		content[2*i+1] = byte(u >> 8)
		if u > 0x7E || (u < 0x20 && u != 0x09 && u != 0x0A && u != 0x0D) {
			hasSpecial = true
		}
	}
	if hasSpecial {
		content[len(content)-1] = 1
	}

	prefixed, err := writeCompressedUint32(nil, uint32(len(content)))
	if err != nil {
		// Callers only ever build user strings far below the 2^29 cap;
		// this would indicate a corrupted builder invariant.
		panic(err)
	}
	return h.internBytes(append(prefixed, content...))
}

// internBlob interns an opaque, already-encoded signature or custom
// attribute value into #Blob with its compressed-length prefix.
func (h *heapBuilder) internBlob(b []byte) uint32 {
	if len(b) == 0 {
		return h.internBytes([]byte{0})
	}
	prefixed, err := writeCompressedUint32(nil, uint32(len(b)))
	if err != nil {
		panic(err)
	}
	return h.internBytes(append(prefixed, b...))
}

// internGUID interns a 16-byte GUID into #GUID and returns its 1-based
// ordinal (0 means absent, matching the heap-index convention used
// elsewhere). GUIDs are deduplicated by hashing their 16 bytes, like the
// other three heaps, but the index records ordinals rather than offsets,
// since ordinals are the on-disk reference.
func (h *heapBuilder) internGUID(guid [16]byte) uint32 {
	sum := xxhash.Sum64(guid[:])
	for _, ord := range h.index[sum] {
		start := (ord - 1) * 16
		if h.sameContentAt(start, guid[:]) {
			return ord
		}
	}

	ord := uint32(len(h.buf)/16) + 1
	h.buf = append(h.buf, guid[:]...)
	h.index[sum] = append(h.index[sum], ord)
	return ord
}

// size returns the heap's final byte length, which governs whether columns
// referencing it are emitted as 2-byte or 4-byte indexes (§4.2).
func (h *heapBuilder) size() uint32 { return uint32(len(h.buf)) }

// indexWidth returns 2 or 4, the final on-disk width of any index into this
// heap, fixed once the build's enumeration phase completes. The GUID heap
// is addressed by 1-based ordinal rather than byte offset, so its width is
// governed by GUID count, not buffer size.
func (h *heapBuilder) indexWidth() uint32 {
	if h.isGUID {
		if uint32(len(h.buf)/16) >= 1<<16 {
			return 4
		}
		return 2
	}
	if h.size() >= 1<<16 {
		return 4
	}
	return 2
}

// bytes returns the heap's final on-disk contents, padded to a 4-byte
// boundary as ECMA-335 §II.24.2.2 requires of every stream.
func (h *heapBuilder) bytes() []byte {
	padded := len(h.buf)
	if rem := padded % 4; rem != 0 {
		padded += 4 - rem
	}
	out := make([]byte, padded)
	copy(out, h.buf)
	return out
}
