// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import "testing"

func TestMakeTokenTagRow(t *testing.T) {
	tok := MakeToken(typeDef, 0x123)
	if tok.Tag() != typeDef {
		t.Errorf("Tag() = %#x, want %#x", tok.Tag(), typeDef)
	}
	if tok.Row() != 0x123 {
		t.Errorf("Row() = %#x, want %#x", tok.Row(), 0x123)
	}
	if tok.IsNil() {
		t.Error("IsNil() = true, want false")
	}
}

func TestTokenIsNil(t *testing.T) {
	tok := MakeToken(typeDef, 0)
	if !tok.IsNil() {
		t.Error("IsNil() = false, want true for row 0")
	}
}

func TestDecodeCodedIndexSimple(t *testing.T) {
	tableID, row, err := decodeCodedIndex(idxField, 7)
	if err != nil {
		t.Fatalf("decodeCodedIndex failed: %v", err)
	}
	if tableID != field || row != 7 {
		t.Errorf("decodeCodedIndex = (%d, %d), want (%d, 7)", tableID, row, field)
	}
}

func TestCodedIndexRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		schema codedidx
	}{
		{"TypeDefOrRef", idxTypeDefOrRef},
		{"ResolutionScope", idxResolutionScope},
		{"HasConstant", idxHasConstant},
		{"HasCustomAttribute", idxHasCustomAttributes},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, targetTable := range tt.schema.idx {
				const row = 42
				encoded, err := encodeCodedIndex(tt.schema, targetTable, row)
				if err != nil {
					t.Fatalf("encodeCodedIndex(%d) failed: %v", targetTable, err)
				}
				gotTable, gotRow, err := decodeCodedIndex(tt.schema, encoded)
				if err != nil {
					t.Fatalf("decodeCodedIndex(%#x) failed: %v", encoded, err)
				}
				if gotTable != targetTable || gotRow != row {
					t.Errorf("round-trip table %d: got (%d, %d), want (%d, %d)",
						targetTable, gotTable, gotRow, targetTable, row)
				}
			}
		})
	}
}

func TestEncodeCodedIndexNullRow(t *testing.T) {
	encoded, err := encodeCodedIndex(idxResolutionScope, moduleRef, 0)
	if err != nil {
		t.Fatalf("encodeCodedIndex failed: %v", err)
	}
	if encoded != 0 {
		t.Errorf("encodeCodedIndex(row=0) = %#x, want 0", encoded)
	}
}

func TestEncodeCodedIndexUnknownTable(t *testing.T) {
	if _, err := encodeCodedIndex(idxHasConstant, typeDef, 1); err == nil {
		t.Error("encodeCodedIndex with an illegal target table should fail")
	}
}

func TestDecodeCodedIndexTagOutOfRange(t *testing.T) {
	// idxHasConstant has 2 tag bits (4 slots) but only 3 targets; tag 3 is
	// out of range.
	if _, _, err := decodeCodedIndex(idxHasConstant, 3); err == nil {
		t.Error("decodeCodedIndex with an out-of-range tag should fail")
	}
}

func TestCodedIndexWidthForRowCounts(t *testing.T) {
	small := map[int]uint32{typeDef: 10, typeRef: 5, typeSpec: 1}
	if w := codedIndexWidthForRowCounts(idxTypeDefOrRef, small); w != 2 {
		t.Errorf("width for small row counts = %d, want 2", w)
	}

	large := map[int]uint32{typeDef: 1 << 20, typeRef: 5, typeSpec: 1}
	if w := codedIndexWidthForRowCounts(idxTypeDefOrRef, large); w != 4 {
		t.Errorf("width for large row counts = %d, want 4", w)
	}
}

func TestCodedIndexWidthForHeapBacked(t *testing.T) {
	if w := codedIndexWidthForRowCounts(idxString, nil); w != 4 {
		t.Errorf("width for idxString = %d, want 4", w)
	}
}

func TestCustomAttributeTypeRoundTrip(t *testing.T) {
	// CustomAttributeType (ECMA-335 §II.24.2.6): tag 2 is MethodDef, tag 3
	// is MemberRef; tags 0, 1 and 4 are reserved.
	for _, targetTable := range []int{MethodDef, memberRef} {
		const row = 9
		encoded, err := encodeCodedIndex(idxCustomAttributeType, targetTable, row)
		if err != nil {
			t.Fatalf("encodeCodedIndex(%d) failed: %v", targetTable, err)
		}
		gotTable, gotRow, err := decodeCodedIndex(idxCustomAttributeType, encoded)
		if err != nil {
			t.Fatalf("decodeCodedIndex(%#x) failed: %v", encoded, err)
		}
		if gotTable != targetTable || gotRow != row {
			t.Errorf("round-trip table %d: got (%d, %d), want (%d, %d)",
				targetTable, gotTable, gotRow, targetTable, row)
		}
	}

	// Tag 2 is MethodDef, not tag 0: this is exactly the off-by-two a
	// {MethodDef, MemberRef} (no reserved slots) schema would get wrong.
	encoded, err := encodeCodedIndex(idxCustomAttributeType, MethodDef, 1)
	if err != nil {
		t.Fatalf("encodeCodedIndex failed: %v", err)
	}
	if encoded&0x7 != 2 {
		t.Errorf("MethodDef tag = %d, want 2", encoded&0x7)
	}
}

func TestCustomAttributeTypeReservedTagRejected(t *testing.T) {
	for _, tag := range []uint32{0, 1, 4} {
		if _, _, err := decodeCodedIndex(idxCustomAttributeType, 1<<3|tag); err == nil {
			t.Errorf("decodeCodedIndex with reserved tag %d should fail", tag)
		}
	}
}

func TestHasCustomAttributeStartsAtMethodDef(t *testing.T) {
	// A common off-by-one: starting the table at Field (tag 0) instead of
	// MethodDef silently shifts every subsequent tag.
	encoded, err := encodeCodedIndex(idxHasCustomAttributes, MethodDef, 5)
	if err != nil {
		t.Fatalf("encodeCodedIndex failed: %v", err)
	}
	if encoded&0x1F != 0 {
		t.Errorf("MethodDef tag = %d, want 0", encoded&0x1F)
	}
	gotTable, gotRow, err := decodeCodedIndex(idxHasCustomAttributes, encoded)
	if err != nil {
		t.Fatalf("decodeCodedIndex failed: %v", err)
	}
	if gotTable != MethodDef || gotRow != 5 {
		t.Errorf("decodeCodedIndex = (%d, %d), want (%d, 5)", gotTable, gotRow, MethodDef)
	}
}
