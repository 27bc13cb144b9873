// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import "testing"

func TestReadCompressedUint32(t *testing.T) {
	tests := []struct {
		in    []byte
		value uint32
		n     int
	}{
		{[]byte{0x03}, 0x03, 1},
		{[]byte{0x7F}, 0x7F, 1},
		{[]byte{0x80, 0x80}, 0x80, 2},
		{[]byte{0xAE, 0x57}, 0x2E57, 2},
		{[]byte{0xBF, 0xFF}, 0x3FFF, 2},
		{[]byte{0xC0, 0x00, 0x40, 0x00}, 0x4000, 4},
		{[]byte{0xDF, 0xFF, 0xFF, 0xFF}, 0x1FFFFFFF, 4},
	}

	for _, tt := range tests {
		value, n, err := readCompressedUint32(tt.in, 0)
		if err != nil {
			t.Fatalf("readCompressedUint32(%x) failed: %v", tt.in, err)
		}
		if value != tt.value || n != tt.n {
			t.Errorf("readCompressedUint32(%x) = (%x, %d), want (%x, %d)",
				tt.in, value, n, tt.value, tt.n)
		}
	}
}

func TestReadCompressedUint32Truncated(t *testing.T) {
	tests := [][]byte{
		{},
		{0x80},
		{0xC0, 0x00, 0x00},
	}
	for _, in := range tests {
		if _, _, err := readCompressedUint32(in, 0); err != ErrTruncatedCompressedInt {
			t.Errorf("readCompressedUint32(%x) = %v, want ErrTruncatedCompressedInt", in, err)
		}
	}
}

func TestWriteCompressedUint32RoundTrip(t *testing.T) {
	values := []uint32{0, 0x03, 0x7F, 0x80, 0x2E57, 0x3FFF, 0x4000, 0x1FFFFFFF}
	for _, v := range values {
		buf, err := writeCompressedUint32(nil, v)
		if err != nil {
			t.Fatalf("writeCompressedUint32(%x) failed: %v", v, err)
		}
		got, n, err := readCompressedUint32(buf, 0)
		if err != nil {
			t.Fatalf("readCompressedUint32(%x) failed: %v", buf, err)
		}
		if got != v || n != len(buf) {
			t.Errorf("round-trip %x -> %x -> (%x, %d), want n=%d", v, buf, got, n, len(buf))
		}
	}
}

func TestWriteCompressedUint32OutOfRange(t *testing.T) {
	if _, err := writeCompressedUint32(nil, 0x20000000); err != ErrCompressedIntOutOfRange {
		t.Errorf("writeCompressedUint32(0x20000000) = %v, want ErrCompressedIntOutOfRange", err)
	}
}

func TestCompressedInt32RoundTrip(t *testing.T) {
	values := []int32{0, 3, -3, 63, -64, 64, -65, 8191, -8192, 8192, -8193,
		268435455, -268435456}
	for _, v := range values {
		buf, err := writeCompressedInt32(nil, v)
		if err != nil {
			t.Fatalf("writeCompressedInt32(%d) failed: %v", v, err)
		}
		got, n, err := readCompressedInt32(buf, 0)
		if err != nil {
			t.Fatalf("readCompressedInt32(%x) failed: %v", buf, err)
		}
		if got != v || n != len(buf) {
			t.Errorf("round-trip %d -> %x -> (%d, %d), want n=%d", v, buf, got, n, len(buf))
		}
	}
}

func TestWriteCompressedInt32OutOfRange(t *testing.T) {
	if _, err := writeCompressedInt32(nil, 1<<28); err != ErrCompressedIntOutOfRange {
		t.Errorf("writeCompressedInt32(2^28) = %v, want ErrCompressedIntOutOfRange", err)
	}
}

func TestReadBlobAt(t *testing.T) {
	heap := []byte{0x00, 0x03, 'f', 'o', 'o', 0x00}
	got, err := readBlobAt(heap, 1)
	if err != nil {
		t.Fatalf("readBlobAt failed: %v", err)
	}
	if string(got) != "foo" {
		t.Errorf("readBlobAt = %q, want %q", got, "foo")
	}
}

func TestReadBlobAtTruncated(t *testing.T) {
	heap := []byte{0x05, 'a', 'b'}
	if _, err := readBlobAt(heap, 0); err != ErrTruncatedCompressedInt {
		t.Errorf("readBlobAt(truncated) = %v, want ErrTruncatedCompressedInt", err)
	}
}
