// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import "golang.org/x/text/encoding/unicode"

// This file implements the load pipeline's resolution pass (C9 steps 2-5):
// turning the raw row arrays dotnet_metadata_tables.go already parsed into
// the pointer-linked object graph rooted at Assembly. Every coded index and
// simple row-number column is replaced by a direct pointer; a column value
// of 0 (the null reference) resolves to a nil pointer. A row number past the
// end of its target table also resolves to a nil pointer, not an error; only
// an unknown or unused coded-index tag is reported as an error.
//
// Field, MethodDef, TypeSpec, Property and MethodSpec signature blobs are
// decoded eagerly during this pass; a blob that fails to decode leaves the
// signature at its zero value. MemberRef signatures stay raw in RawSig and
// are decoded on demand via DecodeFieldSig/DecodeMethodSig. Method bodies
// are decoded by loadMethodBodies during LoadMetadata. Tokens embedded
// inside a decoded signature (e.g. a ValueType's TypeDefOrRef) are resolved
// through Assembly.EntityByToken rather than during this pass.

// rows returns table t's already-parsed row slice, or nil if the table is
// absent from this image (a legal condition: most tables are optional).
func rows[T any](pe *File, table int) []T {
	mt, ok := pe.CLR.MetadataTables[table]
	if !ok || mt.Content == nil {
		return nil
	}
	typed, ok := mt.Content.([]T)
	if !ok {
		return nil
	}
	return typed
}

// loader holds the in-progress object graph while resolve.go wires up
// pointers; it is discarded once LoadMetadata returns.
type loader struct {
	pe *File
	a  *Assembly

	modules       []*Module
	typeRefs      []*TypeRef
	typeDefs      []*TypeDef
	fields        []*Field
	methods       []*Method
	params        []*Param
	memberRefs    []*MemberRef
	moduleRefs    []*ModuleRef
	typeSpecs     []*TypeSpec
	assemblyRefs  []*AssemblyRef
	files         []*FileRef
	exportedTypes []*ExportedType
	manifestRes   []*ManifestResource
	events        []*Event
	properties    []*Property
	genericParams []*GenericParam
	methodSpecs   []*GenericMethodSpec

	strings []byte
	blob    []byte
	guid    []byte
}

// LoadMetadata runs the resolution pass over the already-parsed CLR
// metadata tables and populates pe.Metadata. Called from (*File).Parse once
// the CLR header and table rows have been read.
func (pe *File) LoadMetadata() error {
	ld := &loader{
		pe:      pe,
		strings: pe.CLR.MetadataStreams["#Strings"],
		blob:    pe.CLR.MetadataStreams["#Blob"],
		guid:    pe.CLR.MetadataStreams["#GUID"],
	}

	ld.materialiseModule()
	ld.materialiseTypeRefs()
	ld.materialiseTypeDefs()
	ld.materialiseFields()
	ld.materialiseMethods()
	ld.materialiseParams()
	ld.materialiseModuleRefs()
	ld.materialiseTypeSpecs()
	ld.materialiseMemberRefs()
	ld.materialiseAssemblyRefs()
	ld.materialiseFiles()
	ld.materialiseExportedTypes()
	ld.materialiseManifestResources()
	ld.materialiseProperties()
	ld.materialiseEvents()
	ld.materialiseGenericParams()
	ld.materialiseMethodSpecs()

	a := &Assembly{
		TypeDefs:          ld.typeDefs,
		TypeRefs:          ld.typeRefs,
		TypeSpecs:         ld.typeSpecs,
		MemberRefs:        ld.memberRefs,
		ModuleRefs:        ld.moduleRefs,
		AssemblyRefs:      ld.assemblyRefs,
		Files:             ld.files,
		ExportedTypes:     ld.exportedTypes,
		ManifestResources: ld.manifestRes,
		Fields:            ld.fields,
		Methods:           ld.methods,
		Params:            ld.params,
		Properties:        ld.properties,
		Events:            ld.events,
		GenericParams:     ld.genericParams,
		MethodSpecs:       ld.methodSpecs,
		strings:           ld.strings,
		us:                pe.CLR.MetadataStreams["#US"],
		guid:              ld.guid,
		blob:              ld.blob,
	}
	if len(ld.modules) > 0 {
		a.Module = ld.modules[0]
	}
	ld.a = a

	if err := ld.resolveOwnershipRanges(); err != nil {
		return err
	}
	if err := ld.resolveTypeDefFields(); err != nil {
		return err
	}
	if err := ld.resolveMemberRefs(); err != nil {
		return err
	}
	if err := ld.resolveInterfaceImpls(); err != nil {
		return err
	}
	if err := ld.resolveAssembly(); err != nil {
		return err
	}
	if err := ld.resolveConstants(); err != nil {
		return err
	}
	if err := ld.resolveFieldMarshal(); err != nil {
		return err
	}
	if err := ld.resolveDeclSecurity(); err != nil {
		return err
	}
	if err := ld.resolveClassLayout(); err != nil {
		return err
	}
	if err := ld.resolveFieldLayout(); err != nil {
		return err
	}
	if err := ld.resolveFieldRVA(); err != nil {
		return err
	}
	if err := ld.resolveEventsAndProperties(); err != nil {
		return err
	}
	if err := ld.resolveMethodSemantics(); err != nil {
		return err
	}
	if err := ld.resolveMethodImpl(); err != nil {
		return err
	}
	if err := ld.resolveImplMap(); err != nil {
		return err
	}
	if err := ld.resolveNestedClass(); err != nil {
		return err
	}
	if err := ld.resolveGenericParamConstraints(); err != nil {
		return err
	}
	if err := ld.resolveImplementationRefs(); err != nil {
		return err
	}
	if err := ld.resolveMethodSpecs(); err != nil {
		return err
	}
	if err := ld.resolveCustomAttributes(); err != nil {
		return err
	}
	if err := ld.loadMethodBodies(); err != nil {
		return err
	}

	pe.Metadata = a
	return nil
}

// --- heap accessors ---

func (ld *loader) stringAt(off uint32) string {
	if off == 0 || int(off) >= len(ld.strings) {
		return ""
	}
	end := off
	for int(end) < len(ld.strings) && ld.strings[end] != 0 {
		end++
	}
	return string(ld.strings[off:end])
}

func (ld *loader) blobAt(off uint32) []byte {
	if off == 0 || int(off) >= len(ld.blob) {
		return nil
	}
	b, err := readBlobAt(ld.blob, off)
	if err != nil {
		return nil
	}
	return b
}

func (ld *loader) guidAt(ordinal uint32) [16]byte {
	var g [16]byte
	if ordinal == 0 {
		return g
	}
	start := int(ordinal-1) * 16
	if start+16 > len(ld.guid) {
		return g
	}
	copy(g[:], ld.guid[start:start+16])
	return g
}

// --- materialisation (row -> bare entity, no cross-references yet) ---

func (ld *loader) materialiseModule() {
	for _, r := range rows[ModuleTableRow](ld.pe, module) {
		ld.modules = append(ld.modules, &Module{
			Name:      ld.stringAt(r.Name),
			Mvid:      ld.guidAt(r.Mvid),
			EncID:     ld.guidAt(r.EncID),
			EncBaseID: ld.guidAt(r.EncBaseID),
		})
	}
}

func (ld *loader) materialiseTypeRefs() {
	for _, r := range rows[TypeRefTableRow](ld.pe, typeRef) {
		ld.typeRefs = append(ld.typeRefs, &TypeRef{
			Name:      ld.stringAt(r.TypeName),
			Namespace: ld.stringAt(r.TypeNamespace),
		})
	}
	// ResolutionScope wired in resolveTypeDefFields (needs TypeRef/ModuleRef/
	// AssemblyRef arrays, which may not all exist yet at this point).
}

func (ld *loader) materialiseTypeDefs() {
	for _, r := range rows[TypeDefTableRow](ld.pe, typeDef) {
		ld.typeDefs = append(ld.typeDefs, &TypeDef{
			Flags:     r.Flags,
			Name:      ld.stringAt(r.TypeName),
			Namespace: ld.stringAt(r.TypeNamespace),
		})
	}
}

func (ld *loader) materialiseFields() {
	for _, r := range rows[FieldTableRow](ld.pe, field) {
		f := &Field{Flags: r.Flags, Name: ld.stringAt(r.Name)}
		if sig, err := DecodeFieldSig(ld.blobAt(r.Signature)); err == nil {
			f.Signature = sig
		}
		ld.fields = append(ld.fields, f)
	}
}

func (ld *loader) materialiseMethods() {
	for _, r := range rows[MethodDefTableRow](ld.pe, MethodDef) {
		m := &Method{
			Flags:     r.Flags,
			ImplFlags: r.ImplFlags,
			Name:      ld.stringAt(r.Name),
			RVA:       r.RVA,
		}
		if sig, err := DecodeMethodSig(ld.blobAt(r.Signature)); err == nil {
			m.Signature = sig
		}
		ld.methods = append(ld.methods, m)
	}
}

func (ld *loader) materialiseParams() {
	for _, r := range rows[ParamTableRow](ld.pe, param) {
		ld.params = append(ld.params, &Param{
			Flags:    r.Flags,
			Sequence: r.Sequence,
			Name:     ld.stringAt(r.Name),
		})
	}
}

func (ld *loader) materialiseModuleRefs() {
	for _, r := range rows[ModuleRefTableRow](ld.pe, moduleRef) {
		ld.moduleRefs = append(ld.moduleRefs, &ModuleRef{Name: ld.stringAt(r.Name)})
	}
}

func (ld *loader) materialiseTypeSpecs() {
	for _, r := range rows[TypeSpecTableRow](ld.pe, typeSpec) {
		ts := &TypeSpec{}
		if sig, err := DecodeTypeSpec(ld.blobAt(r.Signature)); err == nil {
			ts.Signature = sig
		}
		ld.typeSpecs = append(ld.typeSpecs, ts)
	}
}

func (ld *loader) materialiseMemberRefs() {
	for _, r := range rows[MemberRefTableRow](ld.pe, memberRef) {
		ld.memberRefs = append(ld.memberRefs, &MemberRef{
			Name:   ld.stringAt(r.Name),
			RawSig: ld.blobAt(r.Signature),
		})
	}
}

func (ld *loader) materialiseAssemblyRefs() {
	for _, r := range rows[AssemblyRefTableRow](ld.pe, assemblyRef) {
		ld.assemblyRefs = append(ld.assemblyRefs, &AssemblyRef{
			MajorVersion:     r.MajorVersion,
			MinorVersion:     r.MinorVersion,
			BuildNumber:      r.BuildNumber,
			RevisionNumber:   r.RevisionNumber,
			Flags:            r.Flags,
			PublicKeyOrToken: ld.blobAt(r.PublicKeyOrToken),
			Name:             ld.stringAt(r.Name),
			Culture:          ld.stringAt(r.Culture),
			HashValue:        ld.blobAt(r.HashValue),
		})
	}
}

func (ld *loader) materialiseFiles() {
	for _, r := range rows[FileTableRow](ld.pe, FileMD) {
		ld.files = append(ld.files, &FileRef{
			Flags:     r.Flags,
			Name:      ld.stringAt(r.Name),
			HashValue: ld.blobAt(r.HashValue),
		})
	}
}

func (ld *loader) materialiseExportedTypes() {
	for _, r := range rows[ExportedTypeTableRow](ld.pe, exportedType) {
		ld.exportedTypes = append(ld.exportedTypes, &ExportedType{
			Flags:     r.Flags,
			TypeDefID: r.TypeDefId,
			Name:      ld.stringAt(r.TypeName),
			Namespace: ld.stringAt(r.TypeNamespace),
		})
	}
}

func (ld *loader) materialiseManifestResources() {
	for _, r := range rows[ManifestResourceTableRow](ld.pe, manifestResource) {
		ld.manifestRes = append(ld.manifestRes, &ManifestResource{
			Offset: r.Offset,
			Flags:  r.Flags,
			Name:   ld.stringAt(r.Name),
		})
	}
}

func (ld *loader) materialiseProperties() {
	for _, r := range rows[PropertyTableRow](ld.pe, property) {
		p := &Property{Flags: r.Flags, Name: ld.stringAt(r.Name)}
		if sig, err := DecodePropertySig(ld.blobAt(r.Type)); err == nil {
			p.Signature = sig
		}
		ld.properties = append(ld.properties, p)
	}
}

func (ld *loader) materialiseEvents() {
	for _, r := range rows[EventTableRow](ld.pe, event) {
		ld.events = append(ld.events, &Event{Flags: r.EventFlags, Name: ld.stringAt(r.Name)})
	}
}

func (ld *loader) materialiseMethodSpecs() {
	for _, r := range rows[MethodSpecTableRow](ld.pe, MethodSpec) {
		ms := &GenericMethodSpec{}
		if blob := ld.blobAt(r.Instantiation); blob != nil {
			if sig, err := DecodeMethodSpecSig(blob); err == nil {
				ms.Instantiation = sig
			}
		}
		ld.methodSpecs = append(ld.methodSpecs, ms)
	}
}

func (ld *loader) resolveMethodSpecs() error {
	for i, r := range rows[MethodSpecTableRow](ld.pe, MethodSpec) {
		e, err := ld.coded(idxMethodDefOrRef, r.Method)
		if err != nil {
			return err
		}
		ld.methodSpecs[i].Method = e
	}
	return nil
}

func (ld *loader) materialiseGenericParams() {
	for _, r := range rows[GenericParamTableRow](ld.pe, genericParam) {
		ld.genericParams = append(ld.genericParams, &GenericParam{
			Number: r.Number,
			Flags:  r.Flags,
			Name:   ld.stringAt(r.Name),
		})
	}
}

// --- coded-index resolution helpers ---

// rowEntity returns the already-materialised entity at (tableID, row), or
// nil for a null reference. row is the 1-based row number the coded-index
// or simple-index column carries.
func (ld *loader) rowEntity(tableID int, row uint32) interface{} {
	if row == 0 {
		return nil
	}
	idx := int(row - 1)
	switch tableID {
	case module:
		if idx < len(ld.modules) {
			return ld.modules[idx]
		}
	case typeRef:
		if idx < len(ld.typeRefs) {
			return ld.typeRefs[idx]
		}
	case typeDef:
		if idx < len(ld.typeDefs) {
			return ld.typeDefs[idx]
		}
	case typeSpec:
		if idx < len(ld.typeSpecs) {
			return ld.typeSpecs[idx]
		}
	case moduleRef:
		if idx < len(ld.moduleRefs) {
			return ld.moduleRefs[idx]
		}
	case assemblyRef:
		if idx < len(ld.assemblyRefs) {
			return ld.assemblyRefs[idx]
		}
	case MethodDef:
		if idx < len(ld.methods) {
			return ld.methods[idx]
		}
	case memberRef:
		if idx < len(ld.memberRefs) {
			return ld.memberRefs[idx]
		}
	case field:
		if idx < len(ld.fields) {
			return ld.fields[idx]
		}
	case param:
		if idx < len(ld.params) {
			return ld.params[idx]
		}
	case property:
		if idx < len(ld.properties) {
			return ld.properties[idx]
		}
	case event:
		if idx < len(ld.events) {
			return ld.events[idx]
		}
	case assembly:
		if ld.a.Definition != nil {
			return ld.a.Definition
		}
	case FileMD:
		if idx < len(ld.files) {
			return ld.files[idx]
		}
	case exportedType:
		if idx < len(ld.exportedTypes) {
			return ld.exportedTypes[idx]
		}
	case manifestResource:
		if idx < len(ld.manifestRes) {
			return ld.manifestRes[idx]
		}
	case genericParam:
		if idx < len(ld.genericParams) {
			return ld.genericParams[idx]
		}
	}
	return nil
}

func (ld *loader) coded(c codedidx, value uint32) (interface{}, error) {
	tableID, row, err := decodeCodedIndex(c, value)
	if err != nil {
		return nil, err
	}
	return ld.rowEntity(tableID, row), nil
}

func (ld *loader) typeDefOrRef(value uint32) (TypeRefOrDef, error) {
	e, err := ld.coded(idxTypeDefOrRef, value)
	if err != nil || e == nil {
		return nil, err
	}
	t, ok := e.(TypeRefOrDef)
	if !ok {
		return nil, newError(KindIndexOutOfRange, "TypeDefOrRef target is not a type entity")
	}
	return t, nil
}

func (ld *loader) resolutionScope(value uint32) (ResolutionScope, error) {
	e, err := ld.coded(idxResolutionScope, value)
	if err != nil || e == nil {
		return nil, err
	}
	t, ok := e.(ResolutionScope)
	if !ok {
		return nil, newError(KindIndexOutOfRange, "ResolutionScope target is not a scope entity")
	}
	return t, nil
}

func (ld *loader) memberRefParent(value uint32) (MemberRefParent, error) {
	e, err := ld.coded(idxMemberRefParent, value)
	if err != nil || e == nil {
		return nil, err
	}
	t, ok := e.(MemberRefParent)
	if !ok {
		return nil, newError(KindIndexOutOfRange, "MemberRefParent target is not a parent entity")
	}
	return t, nil
}

func (ld *loader) implementation(value uint32) (Implementation, error) {
	e, err := ld.coded(idxImplementation, value)
	if err != nil || e == nil {
		return nil, err
	}
	t, ok := e.(Implementation)
	if !ok {
		return nil, newError(KindIndexOutOfRange, "Implementation target is not an implementation entity")
	}
	return t, nil
}

// --- second pass: wire pointers ---

func (ld *loader) resolveOwnershipRanges() error {
	typeDefRows := rows[TypeDefTableRow](ld.pe, typeDef)
	for i, r := range typeDefRows {
		from := r.FieldList
		var to uint32
		if i+1 < len(typeDefRows) {
			to = typeDefRows[i+1].FieldList
		} else {
			to = uint32(len(ld.fields)) + 1
		}
		for row := from; row < to && row >= 1; row++ {
			idx := int(row - 1)
			if idx < 0 || idx >= len(ld.fields) {
				continue
			}
			ld.fields[idx].Owner = ld.typeDefs[i]
			ld.typeDefs[i].Fields = append(ld.typeDefs[i].Fields, ld.fields[idx])
		}
	}

	methodRows := rows[MethodDefTableRow](ld.pe, MethodDef)
	methodFirstParam := make([]uint32, len(methodRows))
	for i, r := range methodRows {
		methodFirstParam[i] = r.ParamList
	}
	for i, r := range typeDefRows {
		from := r.MethodList
		var to uint32
		if i+1 < len(typeDefRows) {
			to = typeDefRows[i+1].MethodList
		} else {
			to = uint32(len(ld.methods)) + 1
		}
		for row := from; row < to && row >= 1; row++ {
			idx := int(row - 1)
			if idx < 0 || idx >= len(ld.methods) {
				continue
			}
			ld.methods[idx].Owner = ld.typeDefs[i]
			ld.typeDefs[i].Methods = append(ld.typeDefs[i].Methods, ld.methods[idx])
		}
	}

	for i := range methodRows {
		from := methodFirstParam[i]
		var to uint32
		if i+1 < len(methodFirstParam) {
			to = methodFirstParam[i+1]
		} else {
			to = uint32(len(ld.params)) + 1
		}
		for row := from; row < to && row >= 1; row++ {
			idx := int(row - 1)
			if idx < 0 || idx >= len(ld.params) {
				continue
			}
			ld.methods[i].Params = append(ld.methods[i].Params, ld.params[idx])
		}
	}

	eventMapRows := rows[EventMapTableRow](ld.pe, EventMap)
	for i, r := range eventMapRows {
		from := r.EventList
		var to uint32
		if i+1 < len(eventMapRows) {
			to = eventMapRows[i+1].EventList
		} else {
			to = uint32(len(ld.events)) + 1
		}
		parentIdx := int(r.Parent - 1)
		if parentIdx < 0 || parentIdx >= len(ld.typeDefs) {
			continue
		}
		for row := from; row < to && row >= 1; row++ {
			idx := int(row - 1)
			if idx < 0 || idx >= len(ld.events) {
				continue
			}
			ld.events[idx].Owner = ld.typeDefs[parentIdx]
			ld.typeDefs[parentIdx].Events = append(ld.typeDefs[parentIdx].Events, ld.events[idx])
		}
	}

	propMapRows := rows[PropertyMapTableRow](ld.pe, PropertyMap)
	for i, r := range propMapRows {
		from := r.PropertyList
		var to uint32
		if i+1 < len(propMapRows) {
			to = propMapRows[i+1].PropertyList
		} else {
			to = uint32(len(ld.properties)) + 1
		}
		parentIdx := int(r.Parent - 1)
		if parentIdx < 0 || parentIdx >= len(ld.typeDefs) {
			continue
		}
		for row := from; row < to && row >= 1; row++ {
			idx := int(row - 1)
			if idx < 0 || idx >= len(ld.properties) {
				continue
			}
			ld.properties[idx].Owner = ld.typeDefs[parentIdx]
			ld.typeDefs[parentIdx].Properties = append(ld.typeDefs[parentIdx].Properties, ld.properties[idx])
		}
	}

	return nil
}

func (ld *loader) resolveTypeDefFields() error {
	for i, r := range rows[TypeRefTableRow](ld.pe, typeRef) {
		scope, err := ld.resolutionScope(r.ResolutionScope)
		if err != nil {
			return err
		}
		// A TypeRef whose ResolutionScope names this module's own Module
		// row has no legitimate meaning here: this model represents one
		// module at a time, so "defined elsewhere, scoped to Module"
		// can only be the known Everett-era ilasm miscompilation that
		// should have emitted a TypeDef instead of a TypeRef. Rather than
		// silently substituting a synthesized ClassDef (as some legacy
		// tools do for compatibility), treat the image as malformed.
		if _, isModule := scope.(*Module); isModule {
			return newError(KindMalformedImage,
				"TypeRef %d resolves to this module's own Module scope", i+1)
		}
		ld.typeRefs[i].ResolutionScope = scope
	}
	for i, r := range rows[TypeDefTableRow](ld.pe, typeDef) {
		ext, err := ld.typeDefOrRef(r.Extends)
		if err != nil {
			return err
		}
		ld.typeDefs[i].Extends = ext
	}
	return nil
}

func (ld *loader) resolveMemberRefs() error {
	for i, r := range rows[MemberRefTableRow](ld.pe, memberRef) {
		parent, err := ld.memberRefParent(r.Class)
		if err != nil {
			return err
		}
		ld.memberRefs[i].Parent = parent
	}
	return nil
}

func (ld *loader) resolveInterfaceImpls() error {
	for _, r := range rows[InterfaceImplTableRow](ld.pe, InterfaceImpl) {
		idx := int(r.Class - 1)
		if idx < 0 || idx >= len(ld.typeDefs) {
			continue
		}
		iface, err := ld.typeDefOrRef(r.Interface)
		if err != nil {
			return err
		}
		ld.typeDefs[idx].Interfaces = append(ld.typeDefs[idx].Interfaces, iface)
	}
	return nil
}

func (ld *loader) resolveAssembly() error {
	asmRows := rows[AssemblyTableRow](ld.pe, assembly)
	if len(asmRows) == 0 {
		return nil
	}
	r := asmRows[0]
	ld.a.Definition = &AssemblyDef{
		HashAlgID:      r.HashAlgId,
		MajorVersion:   r.MajorVersion,
		MinorVersion:   r.MinorVersion,
		BuildNumber:    r.BuildNumber,
		RevisionNumber: r.RevisionNumber,
		Flags:          r.Flags,
	}
	return nil
}

func (ld *loader) resolveConstants() error {
	for _, r := range rows[ConstantTableRow](ld.pe, Constant) {
		e, err := ld.coded(idxHasConstant, r.Parent)
		if err != nil {
			return err
		}
		cv := &ConstantValue{Type: ElementType(r.Type), Raw: ld.blobAt(r.Value)}
		switch t := e.(type) {
		case *Field:
			t.Constant = cv
		case *Param:
			t.Constant = cv
		case *Property:
			t.Constant = cv
		}
	}
	return nil
}

func (ld *loader) resolveFieldMarshal() error {
	for _, r := range rows[FieldMarshalTableRow](ld.pe, FieldMarshal) {
		e, err := ld.coded(idxHasFieldMarshall, r.Parent)
		if err != nil {
			return err
		}
		nt := ld.blobAt(r.NativeType)
		switch t := e.(type) {
		case *Field:
			t.MarshalType = nt
		case *Param:
			t.MarshalType = nt
		}
	}
	return nil
}

func (ld *loader) resolveDeclSecurity() error {
	for _, r := range rows[DeclSecurityTableRow](ld.pe, DeclSecurity) {
		e, err := ld.coded(idxHasDeclSecurity, r.Parent)
		if err != nil {
			return err
		}
		decl := &SecurityDecl{Action: r.Action, PermissionSet: ld.blobAt(r.PermissionSet)}
		switch t := e.(type) {
		case *TypeDef:
			t.DeclSecurity = append(t.DeclSecurity, decl)
		case *Method:
			t.DeclSecurity = append(t.DeclSecurity, decl)
		case *AssemblyDef:
			t.DeclSecurity = append(t.DeclSecurity, decl)
		}
	}
	return nil
}

func (ld *loader) resolveClassLayout() error {
	for _, r := range rows[ClassLayoutTableRow](ld.pe, ClassLayout) {
		idx := int(r.Parent - 1)
		if idx < 0 || idx >= len(ld.typeDefs) {
			continue
		}
		ld.typeDefs[idx].Layout = &ClassLayoutInfo{PackingSize: r.PackingSize, ClassSize: r.ClassSize}
	}
	return nil
}

func (ld *loader) resolveFieldLayout() error {
	for _, r := range rows[FieldLayoutTableRow](ld.pe, FieldLayout) {
		idx := int(r.Field - 1)
		if idx < 0 || idx >= len(ld.fields) {
			continue
		}
		ld.fields[idx].FieldOffset = r.Offset
		ld.fields[idx].HasFieldOffset = true
	}
	return nil
}

func (ld *loader) resolveFieldRVA() error {
	for _, r := range rows[FieldRVATableRow](ld.pe, FieldRVA) {
		idx := int(r.Field - 1)
		if idx < 0 || idx >= len(ld.fields) {
			continue
		}
		ld.fields[idx].RVA = r.RVA
	}
	return nil
}

func (ld *loader) resolveEventsAndProperties() error {
	// Owner wiring for Event/Property already happened in
	// resolveOwnershipRanges; here we resolve each Event's EventType.
	eventRows := rows[EventTableRow](ld.pe, event)
	for i, r := range eventRows {
		t, err := ld.typeDefOrRef(r.EventType)
		if err != nil {
			return err
		}
		ld.events[i].EventType = t
	}
	return nil
}

func (ld *loader) resolveMethodSemantics() error {
	for _, r := range rows[MethodSemanticsTableRow](ld.pe, MethodSemantics) {
		midx := int(r.Method - 1)
		if midx < 0 || midx >= len(ld.methods) {
			continue
		}
		method := ld.methods[midx]
		e, err := ld.coded(idxHasSemantics, r.Association)
		if err != nil {
			return err
		}
		const (
			semSetter  = 0x0001
			semGetter  = 0x0002
			semOther   = 0x0004
			semAddOn   = 0x0008
			semRemoveOn = 0x0010
			semFire    = 0x0020
		)
		switch t := e.(type) {
		case *Property:
			switch {
			case r.Semantics&semSetter != 0:
				t.Setter = method
			case r.Semantics&semGetter != 0:
				t.Getter = method
			default:
				t.Others = append(t.Others, method)
			}
		case *Event:
			switch {
			case r.Semantics&semAddOn != 0:
				t.AddMethod = method
			case r.Semantics&semRemoveOn != 0:
				t.RemoveMethod = method
			case r.Semantics&semFire != 0:
				t.FireMethod = method
			default:
				t.Others = append(t.Others, method)
			}
		}
	}
	return nil
}

func (ld *loader) resolveMethodImpl() error {
	for _, r := range rows[MethodImplTableRow](ld.pe, MethodImpl) {
		classIdx := int(r.Class - 1)
		if classIdx < 0 || classIdx >= len(ld.typeDefs) {
			continue
		}
		body, err := ld.coded(idxMethodDefOrRef, r.MethodBody)
		if err != nil {
			return err
		}
		decl, err := ld.coded(idxMethodDefOrRef, r.MethodDeclaration)
		if err != nil {
			return err
		}
		ld.typeDefs[classIdx].Overrides = append(ld.typeDefs[classIdx].Overrides,
			MethodOverride{Body: body, Declaration: decl})
	}
	return nil
}

func (ld *loader) resolveImplMap() error {
	for _, r := range rows[ImplMapTableRow](ld.pe, ImplMap) {
		e, err := ld.coded(idxMemberForwarded, r.MemberForwarded)
		if err != nil {
			return err
		}
		method, ok := e.(*Method)
		if !ok {
			continue
		}
		scopeIdx := int(r.ImportScope - 1)
		var scope *ModuleRef
		if scopeIdx >= 0 && scopeIdx < len(ld.moduleRefs) {
			scope = ld.moduleRefs[scopeIdx]
		}
		method.PInvoke = &PInvokeMap{
			MappingFlags: r.MappingFlags,
			ImportName:   ld.stringAt(r.ImportName),
			ImportScope:  scope,
		}
	}
	return nil
}

func (ld *loader) resolveNestedClass() error {
	for _, r := range rows[NestedClassTableRow](ld.pe, NestedClass) {
		nIdx := int(r.NestedClass - 1)
		eIdx := int(r.EnclosingClass - 1)
		if nIdx < 0 || nIdx >= len(ld.typeDefs) || eIdx < 0 || eIdx >= len(ld.typeDefs) {
			continue
		}
		ld.typeDefs[nIdx].NestedIn = ld.typeDefs[eIdx]
		ld.typeDefs[eIdx].NestedTypes = append(ld.typeDefs[eIdx].NestedTypes, ld.typeDefs[nIdx])
	}
	return nil
}

func (ld *loader) resolveGenericParamConstraints() error {
	gpRows := rows[GenericParamTableRow](ld.pe, genericParam)
	for i, r := range gpRows {
		owner, err := ld.coded(idxTypeOrMethodDef, r.Owner)
		if err != nil {
			return err
		}
		ld.genericParams[i].Owner = owner
		switch t := owner.(type) {
		case *TypeDef:
			t.GenericParams = append(t.GenericParams, ld.genericParams[i])
		case *Method:
			t.GenericParams = append(t.GenericParams, ld.genericParams[i])
		}
	}

	for _, r := range rows[GenericParamConstraintTableRow](ld.pe, GenericParamConstraint) {
		idx := int(r.Owner - 1)
		if idx < 0 || idx >= len(ld.genericParams) {
			continue
		}
		c, err := ld.typeDefOrRef(r.Constraint)
		if err != nil {
			return err
		}
		ld.genericParams[idx].Constraints = append(ld.genericParams[idx].Constraints, c)
	}
	return nil
}

func (ld *loader) resolveImplementationRefs() error {
	for i, r := range rows[ExportedTypeTableRow](ld.pe, exportedType) {
		impl, err := ld.implementation(r.Implementation)
		if err != nil {
			return err
		}
		ld.exportedTypes[i].Implementation = impl
	}
	for i, r := range rows[ManifestResourceTableRow](ld.pe, manifestResource) {
		impl, err := ld.implementation(r.Implementation)
		if err != nil {
			return err
		}
		ld.manifestRes[i].Implementation = impl
	}
	return nil
}

func (ld *loader) resolveCustomAttributes() error {
	for _, r := range rows[CustomAttributeTableRow](ld.pe, customAttribute) {
		parent, err := ld.coded(idxHasCustomAttributes, r.Parent)
		if err != nil {
			return err
		}
		ctor, err := ld.coded(idxCustomAttributeType, r.Type)
		if err != nil {
			return err
		}
		ca := &CustomAttribute{Parent: parent, Ctor: ctor, Value: ld.blobAt(r.Value)}
		ld.a.CustomAttributes = append(ld.a.CustomAttributes, ca)

		switch t := parent.(type) {
		case *TypeDef:
			t.CustomAttributes = append(t.CustomAttributes, ca)
		case *Field:
			t.CustomAttributes = append(t.CustomAttributes, ca)
		case *Method:
			t.CustomAttributes = append(t.CustomAttributes, ca)
		case *Param:
			t.CustomAttributes = append(t.CustomAttributes, ca)
		case *Property:
			t.CustomAttributes = append(t.CustomAttributes, ca)
		case *Event:
			t.CustomAttributes = append(t.CustomAttributes, ca)
		case *AssemblyDef:
			t.CustomAttributes = append(t.CustomAttributes, ca)
		}
	}
	return nil
}

// loadMethodBodies implements C9 step 5: for each MethodDef with a non-zero
// RVA, map it into its section and decode tiny/fat header, opcodes and EH
// clauses.
func (ld *loader) loadMethodBodies() error {
	for _, m := range ld.methods {
		if m.RVA == 0 {
			continue
		}
		data, err := ld.pe.GetData(m.RVA, 0)
		if err != nil {
			continue // a method with a dangling RVA is an anomaly, not a load failure
		}
		body, err := DecodeMethodBody(data)
		if err != nil {
			return err
		}
		m.Body = body
	}
	return nil
}

// EntityByToken resolves a raw metadata Token (as embedded in IL operands,
// or inside a decoded signature's TypeToken field) to its object-model
// entity: *TypeDef, *TypeRef, *TypeSpec, *Field, *Method, or *MemberRef, a
// decoded #US string for TokenTagUserString, or nil for a null or
// out-of-range token.
func (a *Assembly) EntityByToken(t Token) interface{} {
	row := t.Row()
	if row == 0 {
		return nil
	}
	idx := int(row - 1)
	at := func(n int) bool { return idx >= 0 && idx < n }

	switch t.Tag() {
	case TokenTagTypeDef:
		if at(len(a.TypeDefs)) {
			return a.TypeDefs[idx]
		}
	case TokenTagTypeRef:
		if at(len(a.TypeRefs)) {
			return a.TypeRefs[idx]
		}
	case TokenTagTypeSpec:
		if at(len(a.TypeSpecs)) {
			return a.TypeSpecs[idx]
		}
	case TokenTagFieldDef:
		if at(len(a.Fields)) {
			return a.Fields[idx]
		}
	case TokenTagMethodDef:
		if at(len(a.Methods)) {
			return a.Methods[idx]
		}
	case TokenTagMemberRef:
		if at(len(a.MemberRefs)) {
			return a.MemberRefs[idx]
		}
	}
	if t.Tag() == TokenTagUserString {
		s, err := readUserString(a.us, row)
		if err == nil {
			return s
		}
	}
	return nil
}

// usDecoder tolerates the unpaired surrogates real-world (often
// hand-assembled or obfuscated) #US entries sometimes carry, which
// ECMA-335 does not forbid but unicode/utf16.Decode silently drops.
var usDecoder = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()

// readUserString decodes a #US heap entry (a compressed-length UTF-16LE
// string plus a trailing flag byte) addressed by the raw heap offset
// carried in a TokenTagUserString token.
func readUserString(heap []byte, off uint32) (string, error) {
	b, err := readBlobAt(heap, off)
	if err != nil {
		return "", err
	}
	if len(b) > 0 {
		b = b[:len(b)-1] // trailing has-special-chars flag byte
	}
	s, err := usDecoder.String(string(b))
	if err != nil {
		return "", newError(KindMalformedImage, "decoding #US entry at offset %d: %v", off, err)
	}
	return s, nil
}
