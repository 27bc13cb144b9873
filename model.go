// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

// This file defines the object model (C7) that the resolution pass
// (resolve.go) builds from the raw row arrays dotnet_metadata_tables.go
// parses. Entities replace every coded index / row number with a direct
// pointer to the referenced object; a nil pointer is the resolved form of a
// null token (row 0).
//
// Ownership mirrors ECMA-335: a TypeDef owns its Fields, Methods,
// Properties, Events and GenericParams; a Method owns its Params and Body.
// Cross-references (a signature's type, an Event's add/remove methods) are
// plain, non-owning pointers into the same graph.

// TypeRefOrDef is satisfied by every entity a TypeDefOrRef coded index can
// target: TypeDef, TypeRef, and TypeSpec.
type TypeRefOrDef interface {
	typeRefOrDef()
}

// ResolutionScope is satisfied by every entity a ResolutionScope coded
// index can target: Module, ModuleRef, AssemblyRef, TypeRef.
type ResolutionScope interface {
	resolutionScope()
}

// MemberRefParent is satisfied by every entity a MemberRefParent coded
// index can target: TypeDef, TypeRef, ModuleRef, MethodDef, TypeSpec.
type MemberRefParent interface {
	memberRefParent()
}

// Implementation is satisfied by File and ExportedType and AssemblyRef (for
// ManifestResource) and File/AssemblyRef/ExportedType (for ExportedType and
// ManifestResource's Implementation coded index).
type Implementation interface {
	implementation()
}

// Module is the assembly's single Module row (the "current module
// descriptor").
type Module struct {
	Name      string
	Mvid      [16]byte
	EncID     [16]byte
	EncBaseID [16]byte
}

func (*Module) resolutionScope() {}

// TypeRef is a reference to a type defined in another module or assembly.
type TypeRef struct {
	ResolutionScope ResolutionScope
	Name            string
	Namespace       string
}

func (*TypeRef) typeRefOrDef()    {}
func (*TypeRef) resolutionScope() {}
func (*TypeRef) memberRefParent() {}

// TypeDef is a type defined in this module: a class, interface, or value
// type.
type TypeDef struct {
	Flags     uint32
	Name      string
	Namespace string
	Extends   TypeRefOrDef

	Fields     []*Field
	Methods    []*Method
	Properties []*Property
	Events     []*Event
	GenericParams []*GenericParam
	Interfaces []TypeRefOrDef

	NestedIn    *TypeDef
	NestedTypes []*TypeDef

	Layout            *ClassLayoutInfo
	CustomAttributes  []*CustomAttribute
	DeclSecurity      []*SecurityDecl
	Overrides         []MethodOverride
}

// MethodOverride is a MethodImpl row: Body (a MethodDef owned by this
// TypeDef) implements Declaration (typically an interface method reached
// via MethodDef or MemberRef).
type MethodOverride struct {
	Body        interface{}
	Declaration interface{}
}

func (*TypeDef) typeRefOrDef()    {}
func (*TypeDef) memberRefParent() {}

// ClassLayoutInfo is a TypeDef's optional explicit layout (ClassLayout
// table row).
type ClassLayoutInfo struct {
	PackingSize uint16
	ClassSize   uint32
}

// SecurityDecl is one DeclSecurity row: a permission set attached to a
// TypeDef, MethodDef, or Assembly.
type SecurityDecl struct {
	Action        uint16
	PermissionSet []byte
}

// ConstantValue is a Constant table row's decoded default value: the raw
// blob plus the ELEMENT_TYPE tag describing how to interpret it.
type ConstantValue struct {
	Type ElementType
	Raw  []byte
}

// Field is a field defined on a TypeDef.
type Field struct {
	Flags     uint16
	Name      string
	Signature FieldSig
	Owner     *TypeDef

	Constant         *ConstantValue
	MarshalType      []byte
	RVA              uint32 // 0 if the field has no FieldRVA row
	FieldOffset      uint32
	HasFieldOffset    bool
	CustomAttributes []*CustomAttribute
}

// Param is one parameter slot of a Method (or, at Sequence 0, its return
// value).
type Param struct {
	Flags    uint16
	Sequence uint16
	Name     string

	Constant         *ConstantValue
	MarshalType      []byte
	CustomAttributes []*CustomAttribute
}

// Method is a method defined on a TypeDef.
type Method struct {
	Flags     uint16
	ImplFlags uint16
	Name      string
	Signature MethodSig
	Owner     *TypeDef

	Params        []*Param
	GenericParams []*GenericParam
	RVA           uint32
	Body          *MethodBody // nil until loaded, or for abstract/extern methods

	PInvoke          *PInvokeMap
	DeclSecurity     []*SecurityDecl
	CustomAttributes []*CustomAttribute
}

func (*Method) memberRefParent() {}

// PInvokeMap is a Method's optional ImplMap row describing its unmanaged
// entry point.
type PInvokeMap struct {
	MappingFlags uint16
	ImportName   string
	ImportScope  *ModuleRef
}

// GenericParam is one generic type- or method-parameter slot, owned by
// either a TypeDef or a Method.
type GenericParam struct {
	Number      uint16
	Flags       uint16
	Name        string
	Owner       interface{} // *TypeDef or *Method
	Constraints []TypeRefOrDef
}

// Property is a property defined on a TypeDef.
type Property struct {
	Flags     uint16
	Name      string
	Signature PropertySig
	Owner     *TypeDef

	Getter *Method
	Setter *Method
	Others []*Method

	Constant         *ConstantValue
	CustomAttributes []*CustomAttribute
}

// Event is an event defined on a TypeDef.
type Event struct {
	Flags     uint16
	Name      string
	EventType TypeRefOrDef
	Owner     *TypeDef

	AddMethod    *Method
	RemoveMethod *Method
	FireMethod   *Method
	Others       []*Method

	CustomAttributes []*CustomAttribute
}

// MemberRef is a reference to a field or method defined in another module,
// assembly, or a TypeSpec (e.g. a method on a generic instantiation).
type MemberRef struct {
	Parent    MemberRefParent
	Name      string
	RawSig    []byte // decode on demand via DecodeFieldSig / DecodeMethodSig
}

// IsField returns true if this MemberRef's signature begins with the
// FieldSig tag (0x06) rather than a calling convention.
func (m *MemberRef) IsField() bool {
	return len(m.RawSig) > 0 && m.RawSig[0] == sigField
}

// ModuleRef is a reference to an external module (e.g. a native DLL a
// P/Invoke targets, or a multi-module assembly's other modules).
type ModuleRef struct {
	Name string
}

func (*ModuleRef) resolutionScope() {}
func (*ModuleRef) memberRefParent() {}

// TypeSpec is a constructed type (array, generic instantiation, pointer,
// ...) referenced from a signature or token.
type TypeSpec struct {
	Signature TypeSig
}

func (*TypeSpec) typeRefOrDef()    {}
func (*TypeSpec) memberRefParent() {}

// AssemblyDef is the current module's own Assembly row: present only in
// the prime module of a multi-module assembly.
type AssemblyDef struct {
	HashAlgID      uint32
	MajorVersion   uint16
	MinorVersion   uint16
	BuildNumber    uint16
	RevisionNumber uint16
	Flags          uint32
	PublicKey      []byte
	Name           string
	Culture        string

	DeclSecurity     []*SecurityDecl
	CustomAttributes []*CustomAttribute
}

// AssemblyRef is a reference to an external assembly this module depends
// on.
type AssemblyRef struct {
	MajorVersion     uint16
	MinorVersion     uint16
	BuildNumber      uint16
	RevisionNumber   uint16
	Flags            uint32
	PublicKeyOrToken []byte
	Name             string
	Culture          string
	HashValue        []byte
}

func (*AssemblyRef) resolutionScope() {}
func (*AssemblyRef) implementation()  {}

// FileRef is a File table row: another file belonging to this assembly
// (e.g. a satellite module or a loose resource file).
type FileRef struct {
	Flags     uint32
	Name      string
	HashValue []byte
}

func (*FileRef) implementation() {}

// ExportedType is a public type, declared in another module of this
// assembly, re-exported from the prime module.
type ExportedType struct {
	Flags          uint32
	TypeDefID      uint32
	Name           string
	Namespace      string
	Implementation Implementation
}

func (*ExportedType) implementation() {}

// ManifestResource is an embedded or linked managed resource.
type ManifestResource struct {
	Offset         uint32
	Flags          uint32
	Name           string
	Implementation Implementation // nil means embedded in this module
}

// Assembly is the root of the loaded (or to-be-built) object model: one PE
// module's full CLI metadata, resolved into a pointer graph.
type Assembly struct {
	Definition *AssemblyDef // nil for a non-prime module
	Module     *Module

	TypeDefs          []*TypeDef
	TypeRefs          []*TypeRef
	TypeSpecs         []*TypeSpec
	MemberRefs        []*MemberRef
	ModuleRefs        []*ModuleRef
	AssemblyRefs      []*AssemblyRef
	Files             []*FileRef
	ExportedTypes     []*ExportedType
	ManifestResources []*ManifestResource
	MethodSpecs       []*GenericMethodSpec
	CustomAttributes  []*CustomAttribute

	// Flat, row-ordered views used for token resolution (EntityByToken):
	// IL operands and ldtoken address these tables directly by row number,
	// independent of which TypeDef ends up owning a given Field/Method.
	Fields        []*Field
	Methods       []*Method
	Params        []*Param
	Properties    []*Property
	Events        []*Event
	GenericParams []*GenericParam

	// heap accessors retained for lazy decode of anything resolve.go did
	// not eagerly materialise (e.g. re-decoding a signature for a tool
	// that wants the raw blob).
	strings []byte
	us      []byte
	guid    []byte
	blob    []byte
}

// GenericMethodSpec is a generic method instantiation (a MethodSpec table
// row): Method, generic over its own type parameters, applied to the type
// arguments in Instantiation.
type GenericMethodSpec struct {
	Method        interface{} // *Method or *MemberRef
	Instantiation MethodSpecSig
}

// CustomAttribute is a single custom attribute application.
type CustomAttribute struct {
	Parent interface{} // any entity with a HasCustomAttribute coded index target
	Ctor   interface{} // *Method or *MemberRef
	Value  []byte      // raw CustomAttrib blob (§II.23.3)
}
