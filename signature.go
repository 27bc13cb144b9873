// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

// ElementType is an ECMA-335 §II.23.1.16 ELEMENT_TYPE tag: the leading byte
// of every type embedded in a signature blob.
type ElementType byte

// ELEMENT_TYPE_* constants, ECMA-335 §II.23.1.16.
const (
	ElementTypeEnd         ElementType = 0x00
	ElementTypeVoid        ElementType = 0x01
	ElementTypeBoolean     ElementType = 0x02
	ElementTypeChar        ElementType = 0x03
	ElementTypeI1          ElementType = 0x04
	ElementTypeU1          ElementType = 0x05
	ElementTypeI2          ElementType = 0x06
	ElementTypeU2          ElementType = 0x07
	ElementTypeI4          ElementType = 0x08
	ElementTypeU4          ElementType = 0x09
	ElementTypeI8          ElementType = 0x0a
	ElementTypeU8          ElementType = 0x0b
	ElementTypeR4          ElementType = 0x0c
	ElementTypeR8          ElementType = 0x0d
	ElementTypeString      ElementType = 0x0e
	ElementTypePtr         ElementType = 0x0f
	ElementTypeByRef       ElementType = 0x10
	ElementTypeValueType   ElementType = 0x11
	ElementTypeClass       ElementType = 0x12
	ElementTypeVar         ElementType = 0x13
	ElementTypeArray       ElementType = 0x14
	ElementTypeGenericInst ElementType = 0x15
	ElementTypeTypedByRef  ElementType = 0x16
	ElementTypeI           ElementType = 0x18
	ElementTypeU           ElementType = 0x19
	ElementTypeFnPtr       ElementType = 0x1b
	ElementTypeObject      ElementType = 0x1c
	ElementTypeSZArray     ElementType = 0x1d
	ElementTypeMVar        ElementType = 0x1e
	ElementTypeCModReqd    ElementType = 0x1f
	ElementTypeCModOpt     ElementType = 0x20
	ElementTypeInternal    ElementType = 0x21
	ElementTypeModifier    ElementType = 0x40
	ElementTypeSentinel    ElementType = 0x41
	ElementTypePinned      ElementType = 0x45
)

// Calling-convention bits occupying the low nibble (and HASTHIS/EXPLICITTHIS
// high bits) of the leading byte of a MethodDefSig / MethodRefSig /
// PropertySig, ECMA-335 §II.23.2.1-3.
const (
	CallConvDefault  byte = 0x0
	CallConvC        byte = 0x1
	CallConvStdCall  byte = 0x2
	CallConvThisCall byte = 0x3
	CallConvFastCall byte = 0x4
	CallConvVarArg   byte = 0x5
	CallConvMask     byte = 0x0f

	CallConvGeneric      byte = 0x10
	CallConvHasThis      byte = 0x20
	CallConvExplicitThis byte = 0x40

	// sigField / sigLocalVar / sigProperty / sigGeneric are not calling
	// conventions; they tag the other blob kinds that share this byte's
	// position.
	sigField    byte = 0x06
	sigLocalVar byte = 0x07
	sigProperty byte = 0x08
	sigGeneric  byte = 0x0a // MethodSpec's GENERICINST tag
)

// CustomMod is a `cmod_reqd` / `cmod_opt` custom modifier, ECMA-335
// §II.23.2.7. Modifiers precede the type they annotate and are preserved
// verbatim: they affect binary compatibility even though they carry no
// runtime semantics the engine itself interprets.
type CustomMod struct {
	Required bool
	Type     Token
}

// TypeSig is a decoded type embedded in a signature blob. It is a tagged
// union over ElementType: only the fields relevant to Elem are populated.
type TypeSig struct {
	Mods []CustomMod
	Elem ElementType

	// ValueType / Class: the TypeDefOrRef token (TypeDef, TypeRef or
	// TypeSpec).
	TypeToken Token

	// Ptr / SZArray / Pinned / ByRef / GenericInst's generic-type element:
	// the type this one is built from.
	Next *TypeSig

	// Array (general form).
	Rank     uint32
	Sizes    []uint32
	LoBounds []int32

	// Var / MVar: the generic parameter's 0-based index.
	GenericIndex uint32

	// GenericInst: the arguments instantiating Next.
	GenericArgs []TypeSig

	// FnPtr: the pointed-to method signature, stashed on Next since FNPTR
	// has no other use for it.
	RetTypeSig *MethodSig
}

// ParamSig is one parameter (or the return type) of a method or property
// signature: optional custom modifiers, an optional BYREF marker, and a
// type.
type ParamSig struct {
	Mods  []CustomMod
	ByRef bool
	Type  TypeSig
}

// MethodSig is a decoded MethodDefSig / MethodRefSig / StandAloneMethodSig
// (ECMA-335 §II.23.2.1-2).
type MethodSig struct {
	HasThis           bool
	ExplicitThis       bool
	CallConv          byte // low nibble only; VARARG/C/STDCALL/...
	Generic           bool
	GenericParamCount uint32
	RetType           ParamSig
	Params            []ParamSig
	// VarArgParams holds the parameters that follow the ELEMENT_TYPE_SENTINEL
	// marker in a VARARG call-site signature; empty otherwise.
	VarArgParams []ParamSig
}

// FieldSig is a decoded FieldSig (ECMA-335 §II.23.2.4).
type FieldSig struct {
	Mods []CustomMod
	Type TypeSig
}

// LocalVar is one entry of a LocalVarSig.
type LocalVar struct {
	Mods   []CustomMod
	Pinned bool
	ByRef  bool
	Type   TypeSig
}

// LocalVarSig is a decoded StandAloneSig used as a method body's local
// variable signature (ECMA-335 §II.23.2.6).
type LocalVarSig struct {
	Locals []LocalVar
}

// PropertySig is a decoded PropertySig (ECMA-335 §II.23.2.5).
type PropertySig struct {
	HasThis bool
	Params  []ParamSig
	Type    TypeSig
}

// MethodSpecSig is a decoded MethodSpec blob: the generic arguments a
// generic method is instantiated with (ECMA-335 §II.23.2.15).
type MethodSpecSig struct {
	GenericArgs []TypeSig
}

// sigReader walks a signature blob left to right. It is intentionally
// separate from the file-backed Reader (helper.go): signature blobs are
// already-extracted byte slices from the #Blob heap, not positions within
// the mapped PE image.
type sigReader struct {
	b   []byte
	pos int
}

func (r *sigReader) byte() (byte, error) {
	if r.pos >= len(r.b) {
		return 0, newError(KindSignatureError, "signature blob truncated")
	}
	b := r.b[r.pos]
	r.pos++
	return b, nil
}

func (r *sigReader) peek() (byte, bool) {
	if r.pos >= len(r.b) {
		return 0, false
	}
	return r.b[r.pos], true
}

func (r *sigReader) compressedUint() (uint32, error) {
	v, n, err := readCompressedUint32(r.b, r.pos)
	if err != nil {
		return 0, newError(KindSignatureError, "%v", err)
	}
	r.pos += n
	return v, nil
}

func (r *sigReader) compressedInt() (int32, error) {
	v, n, err := readCompressedInt32(r.b, r.pos)
	if err != nil {
		return 0, newError(KindSignatureError, "%v", err)
	}
	r.pos += n
	return v, nil
}

// typeDefOrRefToken decodes a TypeDefOrRef coded index (tag bits 2: TypeDef,
// TypeRef, TypeSpec) as it appears compressed inside a signature, per
// ECMA-335 §II.23.2.8.
func (r *sigReader) typeDefOrRefToken() (Token, error) {
	coded, err := r.compressedUint()
	if err != nil {
		return 0, err
	}
	tableID, row, err := decodeCodedIndex(idxTypeDefOrRef, coded)
	if err != nil {
		return 0, newError(KindSignatureError, "%v", err)
	}
	return MakeToken(tableTagOf(tableID), row), nil
}

func (r *sigReader) customMods() ([]CustomMod, error) {
	var mods []CustomMod
	for {
		b, ok := r.peek()
		if !ok || (ElementType(b) != ElementTypeCModReqd && ElementType(b) != ElementTypeCModOpt) {
			return mods, nil
		}
		r.pos++
		tok, err := r.typeDefOrRefToken()
		if err != nil {
			return nil, err
		}
		mods = append(mods, CustomMod{Required: ElementType(b) == ElementTypeCModReqd, Type: tok})
	}
}

// decodeType parses one TYPE production (ECMA-335 §II.23.2.12), including
// any leading custom modifiers.
func (r *sigReader) decodeType() (TypeSig, error) {
	mods, err := r.customMods()
	if err != nil {
		return TypeSig{}, err
	}

	b, err := r.byte()
	if err != nil {
		return TypeSig{}, err
	}
	t := TypeSig{Mods: mods, Elem: ElementType(b)}

	switch t.Elem {
	case ElementTypeVoid, ElementTypeBoolean, ElementTypeChar,
		ElementTypeI1, ElementTypeU1, ElementTypeI2, ElementTypeU2,
		ElementTypeI4, ElementTypeU4, ElementTypeI8, ElementTypeU8,
		ElementTypeR4, ElementTypeR8, ElementTypeString, ElementTypeI,
		ElementTypeU, ElementTypeObject, ElementTypeTypedByRef:
		return t, nil

	case ElementTypeValueType, ElementTypeClass:
		t.TypeToken, err = r.typeDefOrRefToken()
		return t, err

	case ElementTypeVar, ElementTypeMVar:
		t.GenericIndex, err = r.compressedUint()
		return t, err

	case ElementTypePtr, ElementTypeByRef, ElementTypePinned:
		next, err := r.decodeType()
		if err != nil {
			return TypeSig{}, err
		}
		t.Next = &next
		return t, nil

	case ElementTypeSZArray:
		next, err := r.decodeType()
		if err != nil {
			return TypeSig{}, err
		}
		t.Next = &next
		return t, nil

	case ElementTypeArray:
		return r.decodeGeneralArray(t)

	case ElementTypeGenericInst:
		return r.decodeGenericInst(t)

	case ElementTypeFnPtr:
		sig, err := r.decodeMethodSig()
		if err != nil {
			return TypeSig{}, err
		}
		// A function-pointer type carries its whole signature; stash it in
		// the RetTypeSig of a TypeSig hung off Next so callers can recover
		// it without a second union field.
		t.Next = &TypeSig{RetTypeSig: &sig}
		return t, nil

	default:
		return TypeSig{}, newError(KindSignatureError, "unknown ELEMENT_TYPE 0x%x", b)
	}
}

func (r *sigReader) decodeGeneralArray(t TypeSig) (TypeSig, error) {
	elem, err := r.decodeType()
	if err != nil {
		return TypeSig{}, err
	}
	t.Next = &elem

	t.Rank, err = r.compressedUint()
	if err != nil {
		return TypeSig{}, err
	}

	numSizes, err := r.compressedUint()
	if err != nil {
		return TypeSig{}, err
	}
	t.Sizes = make([]uint32, numSizes)
	for i := range t.Sizes {
		if t.Sizes[i], err = r.compressedUint(); err != nil {
			return TypeSig{}, err
		}
	}

	numLoBounds, err := r.compressedUint()
	if err != nil {
		return TypeSig{}, err
	}
	t.LoBounds = make([]int32, numLoBounds)
	for i := range t.LoBounds {
		if t.LoBounds[i], err = r.compressedInt(); err != nil {
			return TypeSig{}, err
		}
	}

	return t, nil
}

func (r *sigReader) decodeGenericInst(t TypeSig) (TypeSig, error) {
	kind, err := r.byte()
	if err != nil {
		return TypeSig{}, err
	}
	if ElementType(kind) != ElementTypeClass && ElementType(kind) != ElementTypeValueType {
		return TypeSig{}, newError(KindSignatureError,
			"GENERICINST must be followed by CLASS or VALUETYPE, got 0x%x", kind)
	}
	tok, err := r.typeDefOrRefToken()
	if err != nil {
		return TypeSig{}, err
	}
	t.Next = &TypeSig{Elem: ElementType(kind), TypeToken: tok}

	argCount, err := r.compressedUint()
	if err != nil {
		return TypeSig{}, err
	}
	t.GenericArgs = make([]TypeSig, argCount)
	for i := range t.GenericArgs {
		if t.GenericArgs[i], err = r.decodeType(); err != nil {
			return TypeSig{}, err
		}
	}
	return t, nil
}

func (r *sigReader) decodeParam() (ParamSig, error) {
	mods, err := r.customMods()
	if err != nil {
		return ParamSig{}, err
	}
	b, ok := r.peek()
	byRef := ok && ElementType(b) == ElementTypeByRef
	if byRef {
		r.pos++
	}
	typ, err := r.decodeType()
	if err != nil {
		return ParamSig{}, err
	}
	return ParamSig{Mods: mods, ByRef: byRef, Type: typ}, nil
}

// decodeMethodSig parses a MethodDefSig / MethodRefSig / StandAloneMethodSig
// (ECMA-335 §II.23.2.1-2).
func (r *sigReader) decodeMethodSig() (MethodSig, error) {
	first, err := r.byte()
	if err != nil {
		return MethodSig{}, err
	}

	sig := MethodSig{
		HasThis:      first&CallConvHasThis != 0,
		ExplicitThis: first&CallConvExplicitThis != 0,
		CallConv:     first & CallConvMask,
		Generic:      first&CallConvGeneric != 0,
	}

	if sig.Generic {
		if sig.GenericParamCount, err = r.compressedUint(); err != nil {
			return MethodSig{}, err
		}
	}

	paramCount, err := r.compressedUint()
	if err != nil {
		return MethodSig{}, err
	}

	retMods, err := r.customMods()
	if err != nil {
		return MethodSig{}, err
	}
	if b, ok := r.peek(); ok && ElementType(b) == ElementTypeVoid {
		r.pos++
		sig.RetType = ParamSig{Mods: retMods, Type: TypeSig{Elem: ElementTypeVoid}}
	} else {
		byRef := false
		if b, ok := r.peek(); ok && ElementType(b) == ElementTypeByRef {
			byRef = true
			r.pos++
		}
		typ, err := r.decodeType()
		if err != nil {
			return MethodSig{}, err
		}
		sig.RetType = ParamSig{Mods: retMods, ByRef: byRef, Type: typ}
	}

	seenSentinel := false
	for i := uint32(0); i < paramCount; i++ {
		if b, ok := r.peek(); ok && ElementType(b) == ElementTypeSentinel {
			r.pos++
			seenSentinel = true
		}
		p, err := r.decodeParam()
		if err != nil {
			return MethodSig{}, err
		}
		if seenSentinel {
			sig.VarArgParams = append(sig.VarArgParams, p)
		} else {
			sig.Params = append(sig.Params, p)
		}
	}

	return sig, nil
}

// DecodeMethodSig decodes a MethodDefSig / MethodRefSig from a raw #Blob
// heap entry (length prefix already stripped by readBlobAt).
func DecodeMethodSig(blob []byte) (MethodSig, error) {
	r := &sigReader{b: blob}
	return r.decodeMethodSig()
}

// DecodeFieldSig decodes a FieldSig (ECMA-335 §II.23.2.4).
func DecodeFieldSig(blob []byte) (FieldSig, error) {
	r := &sigReader{b: blob}
	first, err := r.byte()
	if err != nil {
		return FieldSig{}, err
	}
	if first != sigField {
		return FieldSig{}, newError(KindSignatureError, "FieldSig must start with 0x06, got 0x%x", first)
	}
	mods, err := r.customMods()
	if err != nil {
		return FieldSig{}, err
	}
	typ, err := r.decodeType()
	if err != nil {
		return FieldSig{}, err
	}
	return FieldSig{Mods: mods, Type: typ}, nil
}

// DecodeLocalVarSig decodes a StandAloneSig used as a method body's locals
// signature (ECMA-335 §II.23.2.6).
func DecodeLocalVarSig(blob []byte) (LocalVarSig, error) {
	r := &sigReader{b: blob}
	first, err := r.byte()
	if err != nil {
		return LocalVarSig{}, err
	}
	if first != sigLocalVar {
		return LocalVarSig{}, newError(KindSignatureError, "LocalVarSig must start with 0x07, got 0x%x", first)
	}
	count, err := r.compressedUint()
	if err != nil {
		return LocalVarSig{}, err
	}
	locals := make([]LocalVar, count)
	for i := range locals {
		mods, err := r.customMods()
		if err != nil {
			return LocalVarSig{}, err
		}
		lv := LocalVar{Mods: mods}
		for {
			b, ok := r.peek()
			if !ok {
				break
			}
			if ElementType(b) == ElementTypePinned {
				lv.Pinned = true
				r.pos++
				continue
			}
			if ElementType(b) == ElementTypeByRef {
				lv.ByRef = true
				r.pos++
				continue
			}
			break
		}
		if b, ok := r.peek(); ok && ElementType(b) == ElementTypeInternal {
			// TYPEDBYREF-like sentinel for a skipped local; treated as a
			// typed-by-ref slot with no further type payload.
			r.pos++
			lv.Type = TypeSig{Elem: ElementTypeInternal}
		} else {
			lv.Type, err = r.decodeType()
			if err != nil {
				return LocalVarSig{}, err
			}
		}
		locals[i] = lv
	}
	return LocalVarSig{Locals: locals}, nil
}

// DecodePropertySig decodes a PropertySig (ECMA-335 §II.23.2.5).
func DecodePropertySig(blob []byte) (PropertySig, error) {
	r := &sigReader{b: blob}
	first, err := r.byte()
	if err != nil {
		return PropertySig{}, err
	}
	if first&sigProperty == 0 {
		return PropertySig{}, newError(KindSignatureError, "PropertySig missing 0x08 tag, got 0x%x", first)
	}
	sig := PropertySig{HasThis: first&CallConvHasThis != 0}

	paramCount, err := r.compressedUint()
	if err != nil {
		return PropertySig{}, err
	}
	if sig.Type, err = r.decodeType(); err != nil {
		return PropertySig{}, err
	}
	sig.Params = make([]ParamSig, paramCount)
	for i := range sig.Params {
		if sig.Params[i], err = r.decodeParam(); err != nil {
			return PropertySig{}, err
		}
	}
	return sig, nil
}

// DecodeTypeSpec decodes a TypeSpec table row's signature blob: a bare TYPE
// production (ECMA-335 §II.23.2.14).
func DecodeTypeSpec(blob []byte) (TypeSig, error) {
	r := &sigReader{b: blob}
	return r.decodeType()
}

// DecodeMethodSpecSig decodes a MethodSpec blob (ECMA-335 §II.23.2.15).
func DecodeMethodSpecSig(blob []byte) (MethodSpecSig, error) {
	r := &sigReader{b: blob}
	first, err := r.byte()
	if err != nil {
		return MethodSpecSig{}, err
	}
	if first != sigGeneric {
		return MethodSpecSig{}, newError(KindSignatureError, "MethodSpec sig must start with 0x0a, got 0x%x", first)
	}
	count, err := r.compressedUint()
	if err != nil {
		return MethodSpecSig{}, err
	}
	args := make([]TypeSig, count)
	for i := range args {
		if args[i], err = r.decodeType(); err != nil {
			return MethodSpecSig{}, err
		}
	}
	return MethodSpecSig{GenericArgs: args}, nil
}

// --- Emission (build path, C8) ---

// sigWriter appends to a growing blob using the same compressed-integer and
// coded-index rules decodeType relies on for reading.
type sigWriter struct {
	b []byte
}

func (w *sigWriter) byte(b byte) { w.b = append(w.b, b) }

func (w *sigWriter) compressedUint(v uint32) error {
	nb, err := writeCompressedUint32(w.b, v)
	if err != nil {
		return err
	}
	w.b = nb
	return nil
}

func (w *sigWriter) compressedInt(v int32) error {
	nb, err := writeCompressedInt32(w.b, v)
	if err != nil {
		return err
	}
	w.b = nb
	return nil
}

func (w *sigWriter) typeDefOrRefToken(tok Token) error {
	coded, err := encodeCodedIndex(idxTypeDefOrRef, tableTagOf(tok.Tag()), tok.Row())
	if err != nil {
		return err
	}
	return w.compressedUint(coded)
}

func (w *sigWriter) customMods(mods []CustomMod) error {
	for _, m := range mods {
		if m.Required {
			w.byte(byte(ElementTypeCModReqd))
		} else {
			w.byte(byte(ElementTypeCModOpt))
		}
		if err := w.typeDefOrRefToken(m.Type); err != nil {
			return err
		}
	}
	return nil
}

func (w *sigWriter) encodeType(t TypeSig) error {
	if err := w.customMods(t.Mods); err != nil {
		return err
	}
	w.byte(byte(t.Elem))

	switch t.Elem {
	case ElementTypeValueType, ElementTypeClass:
		return w.typeDefOrRefToken(t.TypeToken)

	case ElementTypeVar, ElementTypeMVar:
		return w.compressedUint(t.GenericIndex)

	case ElementTypePtr, ElementTypeByRef, ElementTypePinned, ElementTypeSZArray:
		return w.encodeType(*t.Next)

	case ElementTypeArray:
		if err := w.encodeType(*t.Next); err != nil {
			return err
		}
		if err := w.compressedUint(t.Rank); err != nil {
			return err
		}
		if err := w.compressedUint(uint32(len(t.Sizes))); err != nil {
			return err
		}
		for _, s := range t.Sizes {
			if err := w.compressedUint(s); err != nil {
				return err
			}
		}
		if err := w.compressedUint(uint32(len(t.LoBounds))); err != nil {
			return err
		}
		for _, lo := range t.LoBounds {
			if err := w.compressedInt(lo); err != nil {
				return err
			}
		}
		return nil

	case ElementTypeGenericInst:
		w.byte(byte(t.Next.Elem))
		if err := w.typeDefOrRefToken(t.Next.TypeToken); err != nil {
			return err
		}
		if err := w.compressedUint(uint32(len(t.GenericArgs))); err != nil {
			return err
		}
		for _, a := range t.GenericArgs {
			if err := w.encodeType(a); err != nil {
				return err
			}
		}
		return nil

	case ElementTypeFnPtr:
		return w.encodeMethodSig(*t.Next.RetTypeSig)

	default:
		return nil
	}
}

func (w *sigWriter) encodeParam(p ParamSig) error {
	if err := w.customMods(p.Mods); err != nil {
		return err
	}
	if p.ByRef {
		w.byte(byte(ElementTypeByRef))
	}
	return w.encodeType(p.Type)
}

func (w *sigWriter) encodeMethodSig(sig MethodSig) error {
	first := sig.CallConv & CallConvMask
	if sig.HasThis {
		first |= CallConvHasThis
	}
	if sig.ExplicitThis {
		first |= CallConvExplicitThis
	}
	if sig.Generic {
		first |= CallConvGeneric
	}
	w.byte(first)

	if sig.Generic {
		if err := w.compressedUint(sig.GenericParamCount); err != nil {
			return err
		}
	}

	if err := w.compressedUint(uint32(len(sig.Params) + len(sig.VarArgParams))); err != nil {
		return err
	}

	if err := w.customMods(sig.RetType.Mods); err != nil {
		return err
	}
	if sig.RetType.Type.Elem == ElementTypeVoid {
		w.byte(byte(ElementTypeVoid))
	} else {
		if sig.RetType.ByRef {
			w.byte(byte(ElementTypeByRef))
		}
		if err := w.encodeType(sig.RetType.Type); err != nil {
			return err
		}
	}

	for _, p := range sig.Params {
		if err := w.encodeParam(p); err != nil {
			return err
		}
	}
	if len(sig.VarArgParams) > 0 {
		w.byte(byte(ElementTypeSentinel))
		for _, p := range sig.VarArgParams {
			if err := w.encodeParam(p); err != nil {
				return err
			}
		}
	}
	return nil
}

// EncodeMethodSig emits a MethodDefSig / MethodRefSig blob.
func EncodeMethodSig(sig MethodSig) ([]byte, error) {
	w := &sigWriter{}
	if err := w.encodeMethodSig(sig); err != nil {
		return nil, err
	}
	return w.b, nil
}

// EncodeFieldSig emits a FieldSig blob.
func EncodeFieldSig(sig FieldSig) ([]byte, error) {
	w := &sigWriter{}
	w.byte(sigField)
	if err := w.customMods(sig.Mods); err != nil {
		return nil, err
	}
	if err := w.encodeType(sig.Type); err != nil {
		return nil, err
	}
	return w.b, nil
}

// EncodeLocalVarSig emits a StandAloneSig locals blob.
func EncodeLocalVarSig(sig LocalVarSig) ([]byte, error) {
	w := &sigWriter{}
	w.byte(sigLocalVar)
	if err := w.compressedUint(uint32(len(sig.Locals))); err != nil {
		return nil, err
	}
	for _, lv := range sig.Locals {
		if err := w.customMods(lv.Mods); err != nil {
			return nil, err
		}
		if lv.Pinned {
			w.byte(byte(ElementTypePinned))
		}
		if lv.ByRef {
			w.byte(byte(ElementTypeByRef))
		}
		if err := w.encodeType(lv.Type); err != nil {
			return nil, err
		}
	}
	return w.b, nil
}

// EncodeTypeSpec emits a TypeSpec table row's signature blob.
func EncodeTypeSpec(t TypeSig) ([]byte, error) {
	w := &sigWriter{}
	if err := w.encodeType(t); err != nil {
		return nil, err
	}
	return w.b, nil
}

// EncodePropertySig emits a Property table row's signature blob.
func EncodePropertySig(sig PropertySig) ([]byte, error) {
	w := &sigWriter{}
	first := sigProperty
	if sig.HasThis {
		first |= CallConvHasThis
	}
	w.byte(first)
	if err := w.compressedUint(uint32(len(sig.Params))); err != nil {
		return nil, err
	}
	if err := w.encodeType(sig.Type); err != nil {
		return nil, err
	}
	for _, p := range sig.Params {
		if err := w.encodeParam(p); err != nil {
			return nil, err
		}
	}
	return w.b, nil
}

// EncodeMethodSpecSig emits a MethodSpec blob.
func EncodeMethodSpecSig(sig MethodSpecSig) ([]byte, error) {
	w := &sigWriter{}
	w.byte(sigGeneric)
	if err := w.compressedUint(uint32(len(sig.GenericArgs))); err != nil {
		return nil, err
	}
	for _, a := range sig.GenericArgs {
		if err := w.encodeType(a); err != nil {
			return nil, err
		}
	}
	return w.b, nil
}
