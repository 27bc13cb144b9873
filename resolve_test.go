// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import "testing"

// newSyntheticFile builds a *File whose CLR.MetadataTables/MetadataStreams
// are populated directly (bypassing PE/CLI header parsing entirely), so
// LoadMetadata can be exercised without a real binary fixture.
func newSyntheticFile() *File {
	pe := &File{}
	pe.CLR.MetadataTables = make(map[int]*MetadataTable)
	pe.CLR.MetadataStreams = make(map[string][]byte)
	return pe
}

func (pe *File) setTable(id int, content interface{}) {
	pe.CLR.MetadataTables[id] = &MetadataTable{Content: content}
}

// minimalSyntheticAssembly populates a File with a one-Module,
// one-TypeDef, one-Field, one-Method image: the load-path mirror of
// minimalAssembly in build_test.go.
func minimalSyntheticAssembly(t *testing.T) *File {
	t.Helper()
	strs := newHeapBuilder()
	blobH := newHeapBuilder()
	guidH := newGUIDHeapBuilder()

	moduleName := strs.internString("App.dll")
	typeName := strs.internString("Program")
	nsName := strs.internString("App")
	fieldName := strs.internString("counter")
	methodName := strs.internString("Main")

	fsig, err := EncodeFieldSig(FieldSig{Type: TypeSig{Elem: ElementTypeI4}})
	if err != nil {
		t.Fatalf("EncodeFieldSig failed: %v", err)
	}
	msig, err := EncodeMethodSig(MethodSig{RetType: ParamSig{Type: TypeSig{Elem: ElementTypeVoid}}})
	if err != nil {
		t.Fatalf("EncodeMethodSig failed: %v", err)
	}

	pe := newSyntheticFile()
	pe.setTable(module, []ModuleTableRow{{Name: moduleName, Mvid: guidH.internGUID([16]byte{1})}})
	pe.setTable(typeDef, []TypeDefTableRow{{
		TypeName:      typeName,
		TypeNamespace: nsName,
		FieldList:     1,
		MethodList:    1,
	}})
	pe.setTable(field, []FieldTableRow{{
		Name:      fieldName,
		Signature: blobH.internBlob(fsig),
	}})
	pe.setTable(MethodDef, []MethodDefTableRow{{
		Name:      methodName,
		Signature: blobH.internBlob(msig),
		ParamList: 1,
	}})

	pe.CLR.MetadataStreams["#Strings"] = strs.bytes()
	pe.CLR.MetadataStreams["#Blob"] = blobH.bytes()
	pe.CLR.MetadataStreams["#GUID"] = guidH.bytes()
	return pe
}

func TestLoadMetadataMinimal(t *testing.T) {
	pe := minimalSyntheticAssembly(t)
	if err := pe.LoadMetadata(); err != nil {
		t.Fatalf("LoadMetadata failed: %v", err)
	}
	a := pe.Metadata
	if a.Module == nil || a.Module.Name != "App.dll" {
		t.Fatalf("Module = %+v, want Name App.dll", a.Module)
	}
	if len(a.TypeDefs) != 1 || a.TypeDefs[0].Name != "Program" || a.TypeDefs[0].Namespace != "App" {
		t.Fatalf("TypeDefs = %+v", a.TypeDefs)
	}
	td := a.TypeDefs[0]
	if len(td.Fields) != 1 || td.Fields[0].Name != "counter" {
		t.Fatalf("TypeDef.Fields = %+v", td.Fields)
	}
	if td.Fields[0].Owner != td {
		t.Error("Field.Owner does not point back at its TypeDef")
	}
	if len(td.Methods) != 1 || td.Methods[0].Name != "Main" {
		t.Fatalf("TypeDef.Methods = %+v", td.Methods)
	}
	if td.Methods[0].Owner != td {
		t.Error("Method.Owner does not point back at its TypeDef")
	}
	if td.Fields[0].Signature.Type.Elem != ElementTypeI4 {
		t.Errorf("Field signature = %+v, want I4", td.Fields[0].Signature)
	}
}

func TestEntityByTokenResolvesTypeDef(t *testing.T) {
	pe := minimalSyntheticAssembly(t)
	if err := pe.LoadMetadata(); err != nil {
		t.Fatalf("LoadMetadata failed: %v", err)
	}
	a := pe.Metadata

	got := a.EntityByToken(MakeToken(TokenTagTypeDef, 1))
	td, ok := got.(*TypeDef)
	if !ok || td != a.TypeDefs[0] {
		t.Errorf("EntityByToken(TypeDef, 1) = %v, want %p", got, a.TypeDefs[0])
	}
}

func TestEntityByTokenNilAndOutOfRange(t *testing.T) {
	pe := minimalSyntheticAssembly(t)
	if err := pe.LoadMetadata(); err != nil {
		t.Fatalf("LoadMetadata failed: %v", err)
	}
	a := pe.Metadata

	if e := a.EntityByToken(MakeToken(TokenTagTypeDef, 0)); e != nil {
		t.Errorf("EntityByToken of a null token = %v, want nil", e)
	}
	if e := a.EntityByToken(MakeToken(TokenTagTypeDef, 99)); e != nil {
		t.Errorf("EntityByToken of an out-of-range row = %v, want nil", e)
	}
}

func TestLoadMetadataTypeRefResolvesToModuleRefScope(t *testing.T) {
	strs := newHeapBuilder()
	modRefName := strs.internString("helper.netmodule")
	typeRefName := strs.internString("Helper")
	typeRefNs := strs.internString("App")

	scope, err := encodeCodedIndex(idxResolutionScope, moduleRef, 1)
	if err != nil {
		t.Fatalf("encodeCodedIndex failed: %v", err)
	}

	pe := newSyntheticFile()
	pe.setTable(moduleRef, []ModuleRefTableRow{{Name: modRefName}})
	pe.setTable(typeRef, []TypeRefTableRow{{
		TypeName:        typeRefName,
		TypeNamespace:   typeRefNs,
		ResolutionScope: scope,
	}})
	pe.CLR.MetadataStreams["#Strings"] = strs.bytes()

	if err := pe.LoadMetadata(); err != nil {
		t.Fatalf("LoadMetadata failed: %v", err)
	}
	a := pe.Metadata
	if len(a.TypeRefs) != 1 {
		t.Fatalf("TypeRefs = %+v, want 1 row", a.TypeRefs)
	}
	mr, ok := a.TypeRefs[0].ResolutionScope.(*ModuleRef)
	if !ok || mr != a.ModuleRefs[0] {
		t.Errorf("TypeRef.ResolutionScope = %v, want %p", a.TypeRefs[0].ResolutionScope, a.ModuleRefs[0])
	}
}

func TestLoadMetadataRejectsTypeRefScopedToOwnModule(t *testing.T) {
	strs := newHeapBuilder()
	typeRefName := strs.internString("Bogus")

	scope, err := encodeCodedIndex(idxResolutionScope, module, 1)
	if err != nil {
		t.Fatalf("encodeCodedIndex failed: %v", err)
	}

	pe := newSyntheticFile()
	pe.setTable(module, []ModuleTableRow{{Name: strs.internString("App.dll")}})
	pe.setTable(typeRef, []TypeRefTableRow{{TypeName: typeRefName, ResolutionScope: scope}})
	pe.CLR.MetadataStreams["#Strings"] = strs.bytes()

	err = pe.LoadMetadata()
	kind, ok := ErrorKind(err)
	if !ok || kind != KindMalformedImage {
		t.Errorf("LoadMetadata with a TypeRef scoped to its own Module = (%v, %v), want KindMalformedImage", kind, ok)
	}
}

func TestLoadMetadataEmptyImage(t *testing.T) {
	pe := newSyntheticFile()
	if err := pe.LoadMetadata(); err != nil {
		t.Fatalf("LoadMetadata of an empty image failed: %v", err)
	}
	if pe.Metadata == nil {
		t.Fatal("Metadata is nil after LoadMetadata")
	}
	if len(pe.Metadata.TypeDefs) != 0 {
		t.Errorf("TypeDefs = %+v, want none", pe.Metadata.TypeDefs)
	}
}
