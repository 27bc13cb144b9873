// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"reflect"
	"testing"
)

func i4Type() TypeSig { return TypeSig{Elem: ElementTypeI4} }

func TestEncodeDecodeFieldSigPrimitive(t *testing.T) {
	sig := FieldSig{Type: i4Type()}
	blob, err := EncodeFieldSig(sig)
	if err != nil {
		t.Fatalf("EncodeFieldSig failed: %v", err)
	}
	got, err := DecodeFieldSig(blob)
	if err != nil {
		t.Fatalf("DecodeFieldSig failed: %v", err)
	}
	if !reflect.DeepEqual(sig, got) {
		t.Errorf("round-trip mismatch: got %+v, want %+v", got, sig)
	}
}

func TestEncodeDecodeFieldSigWithValueType(t *testing.T) {
	sig := FieldSig{Type: TypeSig{
		Elem:      ElementTypeValueType,
		TypeToken: MakeToken(typeDef, 5),
	}}
	blob, err := EncodeFieldSig(sig)
	if err != nil {
		t.Fatalf("EncodeFieldSig failed: %v", err)
	}
	got, err := DecodeFieldSig(blob)
	if err != nil {
		t.Fatalf("DecodeFieldSig failed: %v", err)
	}
	if !reflect.DeepEqual(sig, got) {
		t.Errorf("round-trip mismatch: got %+v, want %+v", got, sig)
	}
}

func TestDecodeFieldSigBadTag(t *testing.T) {
	if _, err := DecodeFieldSig([]byte{0x07, byte(ElementTypeI4)}); err == nil {
		t.Error("DecodeFieldSig with a non-0x06 leading byte should fail")
	}
}

func TestEncodeDecodeMethodSigNoArgsVoid(t *testing.T) {
	sig := MethodSig{
		HasThis: true,
		RetType: ParamSig{Type: TypeSig{Elem: ElementTypeVoid}},
	}
	blob, err := EncodeMethodSig(sig)
	if err != nil {
		t.Fatalf("EncodeMethodSig failed: %v", err)
	}
	got, err := DecodeMethodSig(blob)
	if err != nil {
		t.Fatalf("DecodeMethodSig failed: %v", err)
	}
	if !got.HasThis || got.RetType.Type.Elem != ElementTypeVoid {
		t.Errorf("round-trip mismatch: got %+v", got)
	}
	if len(got.Params) != 0 {
		t.Errorf("Params = %v, want empty", got.Params)
	}
}

func TestEncodeDecodeMethodSigWithParams(t *testing.T) {
	sig := MethodSig{
		HasThis: true,
		RetType: ParamSig{Type: i4Type()},
		Params: []ParamSig{
			{Type: TypeSig{Elem: ElementTypeString}},
			{ByRef: true, Type: i4Type()},
		},
	}
	blob, err := EncodeMethodSig(sig)
	if err != nil {
		t.Fatalf("EncodeMethodSig failed: %v", err)
	}
	got, err := DecodeMethodSig(blob)
	if err != nil {
		t.Fatalf("DecodeMethodSig failed: %v", err)
	}
	if !reflect.DeepEqual(sig, got) {
		t.Errorf("round-trip mismatch:\ngot  %+v\nwant %+v", got, sig)
	}
}

func TestEncodeDecodeMethodSigVarArgs(t *testing.T) {
	sig := MethodSig{
		CallConv: CallConvVarArg,
		RetType:  ParamSig{Type: TypeSig{Elem: ElementTypeVoid}},
		Params:   []ParamSig{{Type: i4Type()}},
		VarArgParams: []ParamSig{
			{Type: TypeSig{Elem: ElementTypeString}},
		},
	}
	blob, err := EncodeMethodSig(sig)
	if err != nil {
		t.Fatalf("EncodeMethodSig failed: %v", err)
	}
	got, err := DecodeMethodSig(blob)
	if err != nil {
		t.Fatalf("DecodeMethodSig failed: %v", err)
	}
	if !reflect.DeepEqual(sig, got) {
		t.Errorf("round-trip mismatch:\ngot  %+v\nwant %+v", got, sig)
	}
}

func TestEncodeDecodeMethodSigGeneric(t *testing.T) {
	sig := MethodSig{
		Generic:           true,
		GenericParamCount: 2,
		RetType:           ParamSig{Type: TypeSig{Elem: ElementTypeVar, GenericIndex: 0}},
		Params:            []ParamSig{{Type: TypeSig{Elem: ElementTypeMVar, GenericIndex: 1}}},
	}
	blob, err := EncodeMethodSig(sig)
	if err != nil {
		t.Fatalf("EncodeMethodSig failed: %v", err)
	}
	got, err := DecodeMethodSig(blob)
	if err != nil {
		t.Fatalf("DecodeMethodSig failed: %v", err)
	}
	if !reflect.DeepEqual(sig, got) {
		t.Errorf("round-trip mismatch:\ngot  %+v\nwant %+v", got, sig)
	}
}

func TestEncodeDecodeTypeSigArray(t *testing.T) {
	elem := i4Type()
	typ := TypeSig{
		Elem:     ElementTypeArray,
		Next:     &elem,
		Rank:     2,
		Sizes:    []uint32{3, 4},
		LoBounds: []int32{0, -1},
	}
	blob, err := EncodeTypeSpec(typ)
	if err != nil {
		t.Fatalf("EncodeTypeSpec failed: %v", err)
	}
	got, err := DecodeTypeSpec(blob)
	if err != nil {
		t.Fatalf("DecodeTypeSpec failed: %v", err)
	}
	if !reflect.DeepEqual(typ, got) {
		t.Errorf("round-trip mismatch:\ngot  %+v\nwant %+v", got, typ)
	}
}

func TestEncodeDecodeTypeSigSZArray(t *testing.T) {
	elem := TypeSig{Elem: ElementTypeString}
	typ := TypeSig{Elem: ElementTypeSZArray, Next: &elem}
	blob, err := EncodeTypeSpec(typ)
	if err != nil {
		t.Fatalf("EncodeTypeSpec failed: %v", err)
	}
	got, err := DecodeTypeSpec(blob)
	if err != nil {
		t.Fatalf("DecodeTypeSpec failed: %v", err)
	}
	if !reflect.DeepEqual(typ, got) {
		t.Errorf("round-trip mismatch:\ngot  %+v\nwant %+v", got, typ)
	}
}

func TestEncodeDecodeTypeSigGenericInst(t *testing.T) {
	typ := TypeSig{
		Elem: ElementTypeGenericInst,
		Next: &TypeSig{Elem: ElementTypeClass, TypeToken: MakeToken(typeDef, 9)},
		GenericArgs: []TypeSig{
			i4Type(),
			{Elem: ElementTypeString},
		},
	}
	blob, err := EncodeTypeSpec(typ)
	if err != nil {
		t.Fatalf("EncodeTypeSpec failed: %v", err)
	}
	got, err := DecodeTypeSpec(blob)
	if err != nil {
		t.Fatalf("DecodeTypeSpec failed: %v", err)
	}
	if !reflect.DeepEqual(typ, got) {
		t.Errorf("round-trip mismatch:\ngot  %+v\nwant %+v", got, typ)
	}
}

func TestEncodeDecodeTypeSigCustomMods(t *testing.T) {
	typ := TypeSig{
		Mods: []CustomMod{{Required: true, Type: MakeToken(typeRef, 2)}},
		Elem: ElementTypeI4,
	}
	blob, err := EncodeTypeSpec(typ)
	if err != nil {
		t.Fatalf("EncodeTypeSpec failed: %v", err)
	}
	got, err := DecodeTypeSpec(blob)
	if err != nil {
		t.Fatalf("DecodeTypeSpec failed: %v", err)
	}
	if !reflect.DeepEqual(typ, got) {
		t.Errorf("round-trip mismatch:\ngot  %+v\nwant %+v", got, typ)
	}
}

func TestEncodeDecodeLocalVarSig(t *testing.T) {
	sig := LocalVarSig{Locals: []LocalVar{
		{Type: i4Type()},
		{Pinned: true, Type: TypeSig{Elem: ElementTypeObject}},
		{ByRef: true, Type: TypeSig{Elem: ElementTypeString}},
	}}
	blob, err := EncodeLocalVarSig(sig)
	if err != nil {
		t.Fatalf("EncodeLocalVarSig failed: %v", err)
	}
	got, err := DecodeLocalVarSig(blob)
	if err != nil {
		t.Fatalf("DecodeLocalVarSig failed: %v", err)
	}
	if !reflect.DeepEqual(sig, got) {
		t.Errorf("round-trip mismatch:\ngot  %+v\nwant %+v", got, sig)
	}
}

func TestEncodeDecodePropertySig(t *testing.T) {
	sig := PropertySig{
		HasThis: true,
		Type:    i4Type(),
		Params:  []ParamSig{{Type: TypeSig{Elem: ElementTypeString}}},
	}
	blob, err := EncodePropertySig(sig)
	if err != nil {
		t.Fatalf("EncodePropertySig failed: %v", err)
	}
	got, err := DecodePropertySig(blob)
	if err != nil {
		t.Fatalf("DecodePropertySig failed: %v", err)
	}
	if !reflect.DeepEqual(sig, got) {
		t.Errorf("round-trip mismatch:\ngot  %+v\nwant %+v", got, sig)
	}
}

func TestEncodeDecodeMethodSpecSig(t *testing.T) {
	sig := MethodSpecSig{GenericArgs: []TypeSig{i4Type(), {Elem: ElementTypeString}}}
	blob, err := EncodeMethodSpecSig(sig)
	if err != nil {
		t.Fatalf("EncodeMethodSpecSig failed: %v", err)
	}
	got, err := DecodeMethodSpecSig(blob)
	if err != nil {
		t.Fatalf("DecodeMethodSpecSig failed: %v", err)
	}
	if !reflect.DeepEqual(sig, got) {
		t.Errorf("round-trip mismatch:\ngot  %+v\nwant %+v", got, sig)
	}
}

func TestDecodeMethodSpecSigBadTag(t *testing.T) {
	if _, err := DecodeMethodSpecSig([]byte{0x00, 0x00}); err == nil {
		t.Error("DecodeMethodSpecSig with a bad leading byte should fail")
	}
}

func TestEncodeDecodeFnPtrType(t *testing.T) {
	inner := MethodSig{
		RetType: ParamSig{Type: TypeSig{Elem: ElementTypeVoid}},
		Params:  []ParamSig{{Type: i4Type()}},
	}
	typ := TypeSig{Elem: ElementTypeFnPtr, Next: &TypeSig{RetTypeSig: &inner}}
	blob, err := EncodeTypeSpec(typ)
	if err != nil {
		t.Fatalf("EncodeTypeSpec failed: %v", err)
	}
	got, err := DecodeTypeSpec(blob)
	if err != nil {
		t.Fatalf("DecodeTypeSpec failed: %v", err)
	}
	if got.Elem != ElementTypeFnPtr || !reflect.DeepEqual(*got.Next.RetTypeSig, inner) {
		t.Errorf("round-trip mismatch: got %+v", got)
	}
}
