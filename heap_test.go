// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"bytes"
	"testing"
)

func TestHeapBuilderInternStringDedup(t *testing.T) {
	h := newHeapBuilder()

	off1 := h.internString("Foo")
	off2 := h.internString("Foo")
	if off1 != off2 {
		t.Errorf("interning the same string twice gave offsets %d and %d, want equal", off1, off2)
	}

	off3 := h.internString("Bar")
	if off3 == off1 {
		t.Error("interning distinct strings gave the same offset")
	}
}

func TestHeapBuilderInternStringEmpty(t *testing.T) {
	h := newHeapBuilder()
	if off := h.internString(""); off != 0 {
		t.Errorf("internString(\"\") = %d, want 0", off)
	}
}

func TestHeapBuilderStringNullTerminated(t *testing.T) {
	h := newHeapBuilder()
	off := h.internString("Foo")
	b := h.bytes()
	if b[off] != 'F' || b[off+1] != 'o' || b[off+2] != 'o' || b[off+3] != 0 {
		t.Errorf("interned string bytes = %v, want 'Foo\\x00'", b[off:off+4])
	}
}

func TestHeapBuilderInternBlobLengthPrefixed(t *testing.T) {
	h := newHeapBuilder()
	content := []byte{0x01, 0x02, 0x03}
	off := h.internBlob(content)
	b := h.bytes()
	if b[off] != byte(len(content)) {
		t.Errorf("blob length prefix = %d, want %d", b[off], len(content))
	}
	if !bytes.Equal(b[off+1:off+1+uint32(len(content))], content) {
		t.Errorf("blob content = %v, want %v", b[off+1:off+4], content)
	}
}

func TestHeapBuilderInternBlobEmpty(t *testing.T) {
	h := newHeapBuilder()
	off := h.internBlob(nil)
	b := h.bytes()
	if b[off] != 0 {
		t.Errorf("empty blob length prefix = %d, want 0", b[off])
	}
}

func TestHeapBuilderInternUserStringDedupAndFlag(t *testing.T) {
	h := newHeapBuilder()
	off1 := h.internUserString("hi")
	off2 := h.internUserString("hi")
	if off1 != off2 {
		t.Errorf("interning the same user string twice gave offsets %d and %d", off1, off2)
	}

	// "hi" is plain ASCII: trailing flag byte should be 0.
	b := h.bytes()
	n, size, err := readCompressedUint32(b, int(off1))
	if err != nil {
		t.Fatalf("readCompressedUint32 failed: %v", err)
	}
	flag := b[int(off1)+size+int(n)-1]
	if flag != 0 {
		t.Errorf("flag byte for plain ASCII user string = %d, want 0", flag)
	}
}

func TestHeapBuilderInternGUIDDedup(t *testing.T) {
	h := newGUIDHeapBuilder()
	var g1, g2 [16]byte
	for i := range g1 {
		g1[i] = byte(i)
		g2[i] = byte(i)
	}
	var g3 [16]byte
	for i := range g3 {
		g3[i] = byte(i + 1)
	}

	ord1 := h.internGUID(g1)
	ord2 := h.internGUID(g2)
	ord3 := h.internGUID(g3)

	if ord1 != ord2 {
		t.Errorf("interning the same GUID twice gave ordinals %d and %d", ord1, ord2)
	}
	if ord3 == ord1 {
		t.Error("interning distinct GUIDs gave the same ordinal")
	}
	if ord1 != 1 {
		t.Errorf("first interned GUID ordinal = %d, want 1 (1-based)", ord1)
	}
}

func TestHeapBuilderIndexWidth(t *testing.T) {
	h := newHeapBuilder()
	if h.indexWidth() != 2 {
		t.Errorf("indexWidth of a small heap = %d, want 2", h.indexWidth())
	}

	h.buf = make([]byte, 1<<16)
	if h.indexWidth() != 4 {
		t.Errorf("indexWidth of a 64K+ heap = %d, want 4", h.indexWidth())
	}
}

func TestHeapBuilderBytesPadded(t *testing.T) {
	h := newHeapBuilder()
	h.internString("abc")
	b := h.bytes()
	if len(b)%4 != 0 {
		t.Errorf("heap bytes length = %d, want a multiple of 4", len(b))
	}
}
