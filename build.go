// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import "sort"

// This file implements the build pipeline (C8): given an Assembly object
// model (model.go) - the same pointer-linked graph resolve.go produces on
// load - it assigns row numbers, interns heap content, sizes every table
// and coded index, and emits the "#~" stream plus the four heaps. It is
// the write-path mirror of resolve.go.
//
// The three phases the spec describes (enumeration, sizing, sort & emit)
// are implemented as two calls, matching the Assembling/Resolved/Serialised
// split already used by MethodBody in ilbody.go: Enumerate assigns row
// numbers, interns heaps and sorts the sorted association tables; Emit
// performs sizing and the emit walk together, since sizing here is pure
// arithmetic over already-known row counts and needs no separate mutation
// step.

type buildState int

const (
	buildOpen buildState = iota
	buildEnumerated
	buildEmitted
)

// Builder accumulates the row numbering and heap content for one Assembly
// and emits it as metadata-root bytes. A Builder is single-use: call
// Enumerate once, then Emit once.
type Builder struct {
	state buildState
	a     *Assembly

	strings *heapBuilder
	us      *heapBuilder
	blobH   *heapBuilder
	guidH   *heapBuilder

	// rowOf maps an entity pointer (e.g. *TypeDef, *Field, *Method) to its
	// final 1-based row number. Interface equality compares dynamic type
	// and value, so pointers of different concrete types never collide
	// even though they share one map.
	rowOf map[interface{}]uint32

	// Child-list starts, keyed by the owner's row number, used to fill in
	// TypeDef.FieldList/MethodList, Method.ParamList and the EventMap/
	// PropertyMap tables.
	fieldListOf  map[uint32]uint32
	methodListOf map[uint32]uint32
	paramListOf  map[uint32]uint32

	rowCounts map[int]uint32

	// Emitted rows, in final table order, one slice per supported table.
	moduleRows           []ModuleTableRow
	typeRefRows          []TypeRefTableRow
	typeDefRows          []TypeDefTableRow
	fieldRows            []FieldTableRow
	methodRows           []MethodDefTableRow
	paramRows            []ParamTableRow
	interfaceImplRows    []InterfaceImplTableRow
	memberRefRows        []MemberRefTableRow
	constantRows         []ConstantTableRow
	customAttributeRows  []CustomAttributeTableRow
	fieldMarshalRows     []FieldMarshalTableRow
	declSecurityRows     []DeclSecurityTableRow
	classLayoutRows      []ClassLayoutTableRow
	fieldLayoutRows      []FieldLayoutTableRow
	standAloneSigRows    []StandAloneSigTableRow
	eventMapRows         []EventMapTableRow
	eventRows            []EventTableRow
	propertyMapRows      []PropertyMapTableRow
	propertyRows         []PropertyTableRow
	methodSemanticsRows  []MethodSemanticsTableRow
	methodImplRows       []MethodImplTableRow
	moduleRefRows        []ModuleRefTableRow
	typeSpecRows         []TypeSpecTableRow
	implMapRows          []ImplMapTableRow
	fieldRVARows         []FieldRVATableRow
	assemblyRows         []AssemblyTableRow
	assemblyRefRows      []AssemblyRefTableRow
	fileRows             []FileTableRow
	exportedTypeRows     []ExportedTypeTableRow
	manifestResourceRows []ManifestResourceTableRow
	nestedClassRows      []NestedClassTableRow
	genericParamRows     []GenericParamTableRow
	methodSpecRows       []MethodSpecTableRow
	genericParamConstraintRows []GenericParamConstraintTableRow
}

// NewBuilder creates a Builder for assembly a. a is walked, not copied; it
// must not be mutated between Enumerate and Emit (§5's "frozen after
// sizing" rule).
func NewBuilder(a *Assembly) *Builder {
	return &Builder{
		a:            a,
		strings:      newHeapBuilder(),
		us:           newHeapBuilder(),
		blobH:        newHeapBuilder(),
		guidH:        newGUIDHeapBuilder(),
		rowOf:        make(map[interface{}]uint32),
		fieldListOf:  make(map[uint32]uint32),
		methodListOf: make(map[uint32]uint32),
		paramListOf:  make(map[uint32]uint32),
		rowCounts:    make(map[int]uint32),
	}
}

// Enumerate implements C8 phase 1: it walks the model, assigns every
// entity a row number, and interns every string/blob/GUID it touches.
// Calling it twice, or calling Emit before it, is a KindContractViolation.
func (b *Builder) Enumerate() error {
	if b.state != buildOpen {
		return newError(KindContractViolation, "Builder.Enumerate called out of sequence")
	}

	a := b.a
	b.assignRows(a.Module, a.TypeDefs, a.TypeRefs, a.TypeSpecs, a.ModuleRefs,
		a.AssemblyRefs, a.Files, a.ExportedTypes, a.ManifestResources, a.MemberRefs, a.Definition)
	b.assignOwnedChildren()
	b.assignGenericParams()
	b.assignMethodSpecs()

	if err := b.buildSimpleRows(); err != nil {
		return err
	}
	if err := b.buildAssociationRows(); err != nil {
		return err
	}

	b.rowCounts[module] = uint32(len(b.moduleRows))
	b.rowCounts[typeRef] = uint32(len(b.typeRefRows))
	b.rowCounts[typeDef] = uint32(len(b.typeDefRows))
	b.rowCounts[field] = uint32(len(b.fieldRows))
	b.rowCounts[MethodDef] = uint32(len(b.methodRows))
	b.rowCounts[param] = uint32(len(b.paramRows))
	b.rowCounts[InterfaceImpl] = uint32(len(b.interfaceImplRows))
	b.rowCounts[memberRef] = uint32(len(b.memberRefRows))
	b.rowCounts[Constant] = uint32(len(b.constantRows))
	b.rowCounts[customAttribute] = uint32(len(b.customAttributeRows))
	b.rowCounts[FieldMarshal] = uint32(len(b.fieldMarshalRows))
	b.rowCounts[DeclSecurity] = uint32(len(b.declSecurityRows))
	b.rowCounts[ClassLayout] = uint32(len(b.classLayoutRows))
	b.rowCounts[FieldLayout] = uint32(len(b.fieldLayoutRows))
	b.rowCounts[StandAloneSig] = uint32(len(b.standAloneSigRows))
	b.rowCounts[EventMap] = uint32(len(b.eventMapRows))
	b.rowCounts[event] = uint32(len(b.eventRows))
	b.rowCounts[PropertyMap] = uint32(len(b.propertyMapRows))
	b.rowCounts[property] = uint32(len(b.propertyRows))
	b.rowCounts[MethodSemantics] = uint32(len(b.methodSemanticsRows))
	b.rowCounts[MethodImpl] = uint32(len(b.methodImplRows))
	b.rowCounts[moduleRef] = uint32(len(b.moduleRefRows))
	b.rowCounts[typeSpec] = uint32(len(b.typeSpecRows))
	b.rowCounts[ImplMap] = uint32(len(b.implMapRows))
	b.rowCounts[FieldRVA] = uint32(len(b.fieldRVARows))
	b.rowCounts[assembly] = uint32(len(b.assemblyRows))
	b.rowCounts[assemblyRef] = uint32(len(b.assemblyRefRows))
	b.rowCounts[FileMD] = uint32(len(b.fileRows))
	b.rowCounts[exportedType] = uint32(len(b.exportedTypeRows))
	b.rowCounts[manifestResource] = uint32(len(b.manifestResourceRows))
	b.rowCounts[NestedClass] = uint32(len(b.nestedClassRows))
	b.rowCounts[genericParam] = uint32(len(b.genericParamRows))
	b.rowCounts[MethodSpec] = uint32(len(b.methodSpecRows))
	b.rowCounts[GenericParamConstraint] = uint32(len(b.genericParamConstraintRows))

	b.state = buildEnumerated
	return nil
}

// assignRows gives every entity in the given slices (and the lone Module
// and AssemblyDef, passed as single values) a 1-based row number in that
// table, in slice order. Declaration order becomes row order for every
// table ECMA-335 does not mandate be sorted.
func (b *Builder) assignRows(mod *Module, typeDefs []*TypeDef, typeRefs []*TypeRef,
	typeSpecs []*TypeSpec, moduleRefs []*ModuleRef, assemblyRefs []*AssemblyRef,
	files []*FileRef, exportedTypes []*ExportedType, manifestResources []*ManifestResource,
	memberRefs []*MemberRef, def *AssemblyDef) {

	if mod != nil {
		b.rowOf[mod] = 1
	}
	for i, t := range typeDefs {
		b.rowOf[t] = uint32(i + 1)
	}
	for i, t := range typeRefs {
		b.rowOf[t] = uint32(i + 1)
	}
	for i, t := range typeSpecs {
		b.rowOf[t] = uint32(i + 1)
	}
	for i, m := range moduleRefs {
		b.rowOf[m] = uint32(i + 1)
	}
	for i, r := range assemblyRefs {
		b.rowOf[r] = uint32(i + 1)
	}
	for i, f := range files {
		b.rowOf[f] = uint32(i + 1)
	}
	for i, e := range exportedTypes {
		b.rowOf[e] = uint32(i + 1)
	}
	for i, m := range manifestResources {
		b.rowOf[m] = uint32(i + 1)
	}
	for i, m := range memberRefs {
		b.rowOf[m] = uint32(i + 1)
	}
	if def != nil {
		b.rowOf[def] = 1
	}
}

// assignOwnedChildren walks TypeDefs in row order and assigns row numbers
// to their owned Fields, Methods, Events and Properties (then Methods'
// Params), preserving the ECMA-335 contiguous-run invariant: every
// TypeDef's children land in one unbroken range of their table.
func (b *Builder) assignOwnedChildren() {
	var fieldRow, methodRow, eventRow, propertyRow uint32

	for _, td := range b.a.TypeDefs {
		tdRow := b.rowOf[td]
		b.fieldListOf[tdRow] = fieldRow + 1
		for _, f := range td.Fields {
			fieldRow++
			b.rowOf[f] = fieldRow
		}

		b.methodListOf[tdRow] = methodRow + 1
		for _, m := range td.Methods {
			methodRow++
			b.rowOf[m] = methodRow
		}

		if len(td.Events) > 0 {
			b.eventMapRows = append(b.eventMapRows, EventMapTableRow{Parent: tdRow, EventList: eventRow + 1})
		}
		for _, e := range td.Events {
			eventRow++
			b.rowOf[e] = eventRow
		}

		if len(td.Properties) > 0 {
			b.propertyMapRows = append(b.propertyMapRows, PropertyMapTableRow{Parent: tdRow, PropertyList: propertyRow + 1})
		}
		for _, p := range td.Properties {
			propertyRow++
			b.rowOf[p] = propertyRow
		}
	}

	var paramRow uint32
	for _, m := range b.a.Methods {
		mRow := b.rowOf[m]
		b.paramListOf[mRow] = paramRow + 1
		for _, p := range m.Params {
			paramRow++
			b.rowOf[p] = paramRow
		}
	}
}

// assignGenericParams numbers GenericParam rows grouped by owner (TypeDef
// first, in TypeDef row order, then Method, in Method row order), matching
// the table's Sorted-by-Owner invariant.
func (b *Builder) assignGenericParams() {
	var row uint32
	for _, td := range b.a.TypeDefs {
		for _, gp := range td.GenericParams {
			row++
			b.rowOf[gp] = row
		}
	}
	for _, m := range b.a.Methods {
		for _, gp := range m.GenericParams {
			row++
			b.rowOf[gp] = row
		}
	}
}

func (b *Builder) assignMethodSpecs() {
	for i, ms := range b.a.MethodSpecs {
		b.rowOf[ms] = uint32(i + 1)
	}
}

// identify returns the table id and row number that would appear in a
// coded index targeting e. nil (an unresolved/absent reference) maps to
// (0, 0), which every coded-index schema treats as the null reference.
func (b *Builder) identify(e interface{}) (tableID int, row uint32, err error) {
	if e == nil {
		return 0, 0, nil
	}
	switch v := e.(type) {
	case *Module:
		return module, b.rowOf[v], nil
	case *TypeRef:
		return typeRef, b.rowOf[v], nil
	case *TypeDef:
		return typeDef, b.rowOf[v], nil
	case *TypeSpec:
		return typeSpec, b.rowOf[v], nil
	case *ModuleRef:
		return moduleRef, b.rowOf[v], nil
	case *AssemblyRef:
		return assemblyRef, b.rowOf[v], nil
	case *FileRef:
		return FileMD, b.rowOf[v], nil
	case *ExportedType:
		return exportedType, b.rowOf[v], nil
	case *ManifestResource:
		return manifestResource, b.rowOf[v], nil
	case *MemberRef:
		return memberRef, b.rowOf[v], nil
	case *Field:
		return field, b.rowOf[v], nil
	case *Method:
		return MethodDef, b.rowOf[v], nil
	case *Param:
		return param, b.rowOf[v], nil
	case *Event:
		return event, b.rowOf[v], nil
	case *Property:
		return property, b.rowOf[v], nil
	case *GenericParam:
		return genericParam, b.rowOf[v], nil
	case *AssemblyDef:
		return assembly, b.rowOf[v], nil
	default:
		return 0, 0, newError(KindContractViolation, "Builder.identify: unrecognised entity type %T", e)
	}
}

func (b *Builder) coded(c codedidx, e interface{}) (uint32, error) {
	tableID, row, err := b.identify(e)
	if err != nil {
		return 0, err
	}
	if row == 0 {
		return 0, nil
	}
	return encodeCodedIndex(c, tableID, row)
}

// buildSimpleRows fills in every entity table whose row content references
// only already-numbered peers and interned heap content: Module, TypeRef,
// TypeDef, Field, MethodDef, Param, MemberRef, ModuleRef, TypeSpec,
// AssemblyRef, File, ExportedType, ManifestResource, Assembly, Event,
// Property, GenericParam, MethodSpec.
func (b *Builder) buildSimpleRows() error {
	a := b.a

	if a.Module != nil {
		m := a.Module
		b.moduleRows = append(b.moduleRows, ModuleTableRow{
			Name:      b.strings.internString(m.Name),
			Mvid:      b.guidH.internGUID(m.Mvid),
			EncID:     b.guidH.internGUID(m.EncID),
			EncBaseID: b.guidH.internGUID(m.EncBaseID),
		})
	}

	for _, t := range a.TypeRefs {
		scope, err := b.coded(idxResolutionScope, t.ResolutionScope)
		if err != nil {
			return err
		}
		b.typeRefRows = append(b.typeRefRows, TypeRefTableRow{
			ResolutionScope: scope,
			TypeName:        b.strings.internString(t.Name),
			TypeNamespace:   b.strings.internString(t.Namespace),
		})
	}

	for _, t := range a.TypeDefs {
		extends, err := b.coded(idxTypeDefOrRef, t.Extends)
		if err != nil {
			return err
		}
		b.typeDefRows = append(b.typeDefRows, TypeDefTableRow{
			Flags:         t.Flags,
			TypeName:      b.strings.internString(t.Name),
			TypeNamespace: b.strings.internString(t.Namespace),
			Extends:       extends,
			FieldList:     b.fieldListOf[b.rowOf[t]],
			MethodList:    b.methodListOf[b.rowOf[t]],
		})
	}

	for _, f := range a.Fields {
		sig, err := EncodeFieldSig(f.Signature)
		if err != nil {
			return err
		}
		b.fieldRows = append(b.fieldRows, FieldTableRow{
			Flags:     f.Flags,
			Name:      b.strings.internString(f.Name),
			Signature: b.blobH.internBlob(sig),
		})
	}

	for _, m := range a.Methods {
		sig, err := EncodeMethodSig(m.Signature)
		if err != nil {
			return err
		}
		b.methodRows = append(b.methodRows, MethodDefTableRow{
			RVA:        m.RVA,
			ImplFlags:  m.ImplFlags,
			Flags:      m.Flags,
			Name:       b.strings.internString(m.Name),
			Signature:  b.blobH.internBlob(sig),
			ParamList:  b.paramListOf[b.rowOf[m]],
		})
	}

	for _, p := range a.Params {
		b.paramRows = append(b.paramRows, ParamTableRow{
			Flags:    p.Flags,
			Sequence: p.Sequence,
			Name:     b.strings.internString(p.Name),
		})
	}

	for _, m := range a.MemberRefs {
		class, err := b.coded(idxMemberRefParent, m.Parent)
		if err != nil {
			return err
		}
		b.memberRefRows = append(b.memberRefRows, MemberRefTableRow{
			Class:     class,
			Name:      b.strings.internString(m.Name),
			Signature: b.blobH.internBlob(m.RawSig),
		})
	}

	for _, m := range a.ModuleRefs {
		b.moduleRefRows = append(b.moduleRefRows, ModuleRefTableRow{Name: b.strings.internString(m.Name)})
	}

	for _, t := range a.TypeSpecs {
		sig, err := EncodeTypeSpec(t.Signature)
		if err != nil {
			return err
		}
		b.typeSpecRows = append(b.typeSpecRows, TypeSpecTableRow{Signature: b.blobH.internBlob(sig)})
	}

	if a.Definition != nil {
		d := a.Definition
		b.assemblyRows = append(b.assemblyRows, AssemblyTableRow{
			HashAlgId:      d.HashAlgID,
			MajorVersion:   d.MajorVersion,
			MinorVersion:   d.MinorVersion,
			BuildNumber:    d.BuildNumber,
			RevisionNumber: d.RevisionNumber,
			Flags:          d.Flags,
			PublicKey:      b.blobH.internBlob(d.PublicKey),
			Name:           b.strings.internString(d.Name),
			Culture:        b.strings.internString(d.Culture),
		})
	}

	for _, r := range a.AssemblyRefs {
		b.assemblyRefRows = append(b.assemblyRefRows, AssemblyRefTableRow{
			MajorVersion:     r.MajorVersion,
			MinorVersion:     r.MinorVersion,
			BuildNumber:      r.BuildNumber,
			RevisionNumber:   r.RevisionNumber,
			Flags:            r.Flags,
			PublicKeyOrToken: b.blobH.internBlob(r.PublicKeyOrToken),
			Name:             b.strings.internString(r.Name),
			Culture:          b.strings.internString(r.Culture),
			HashValue:        b.blobH.internBlob(r.HashValue),
		})
	}

	for _, f := range a.Files {
		b.fileRows = append(b.fileRows, FileTableRow{
			Flags:     f.Flags,
			Name:      b.strings.internString(f.Name),
			HashValue: b.blobH.internBlob(f.HashValue),
		})
	}

	for _, e := range a.ExportedTypes {
		impl, err := b.coded(idxImplementation, e.Implementation)
		if err != nil {
			return err
		}
		b.exportedTypeRows = append(b.exportedTypeRows, ExportedTypeTableRow{
			Flags:          e.Flags,
			TypeDefId:      e.TypeDefID,
			TypeName:       b.strings.internString(e.Name),
			TypeNamespace:  b.strings.internString(e.Namespace),
			Implementation: impl,
		})
	}

	for _, m := range a.ManifestResources {
		impl, err := b.coded(idxImplementation, m.Implementation)
		if err != nil {
			return err
		}
		b.manifestResourceRows = append(b.manifestResourceRows, ManifestResourceTableRow{
			Offset:         m.Offset,
			Flags:          m.Flags,
			Name:           b.strings.internString(m.Name),
			Implementation: impl,
		})
	}

	for _, e := range a.Events {
		typ, err := b.coded(idxTypeDefOrRef, e.EventType)
		if err != nil {
			return err
		}
		b.eventRows = append(b.eventRows, EventTableRow{
			EventFlags: e.Flags,
			Name:       b.strings.internString(e.Name),
			EventType:  typ,
		})
	}

	for _, p := range a.Properties {
		sig, err := EncodePropertySig(p.Signature)
		if err != nil {
			return err
		}
		b.propertyRows = append(b.propertyRows, PropertyTableRow{
			Flags: p.Flags,
			Name:  b.strings.internString(p.Name),
			Type:  b.blobH.internBlob(sig),
		})
	}

	for _, gp := range a.GenericParams {
		owner, err := b.coded(idxTypeOrMethodDef, gp.Owner)
		if err != nil {
			return err
		}
		b.genericParamRows = append(b.genericParamRows, GenericParamTableRow{
			Number: gp.Number,
			Flags:  gp.Flags,
			Owner:  owner,
			Name:   b.strings.internString(gp.Name),
		})
	}

	for _, ms := range a.MethodSpecs {
		method, err := b.coded(idxMethodDefOrRef, ms.Method)
		if err != nil {
			return err
		}
		inst, err := EncodeMethodSpecSig(ms.Instantiation)
		if err != nil {
			return err
		}
		b.methodSpecRows = append(b.methodSpecRows, MethodSpecTableRow{
			Method:        method,
			Instantiation: b.blobH.internBlob(inst),
		})
	}

	return nil
}

// buildAssociationRows fills in every table that links a parent row to a
// satellite fact (InterfaceImpl, Constant, FieldMarshal, DeclSecurity,
// ClassLayout, FieldLayout, FieldRVA, MethodSemantics, MethodImpl, ImplMap,
// NestedClass, GenericParamConstraint, CustomAttribute), then sorts each
// one by its mandated key (§4.3/§4.8 step 3).
func (b *Builder) buildAssociationRows() error {
	for _, td := range b.a.TypeDefs {
		class := b.rowOf[td]
		for _, iface := range td.Interfaces {
			ifaceIdx, err := b.coded(idxTypeDefOrRef, iface)
			if err != nil {
				return err
			}
			b.interfaceImplRows = append(b.interfaceImplRows, InterfaceImplTableRow{Class: class, Interface: ifaceIdx})
		}
		for _, sd := range td.DeclSecurity {
			parent, err := b.coded(idxHasDeclSecurity, td)
			if err != nil {
				return err
			}
			b.declSecurityRows = append(b.declSecurityRows, DeclSecurityTableRow{
				Action:        sd.Action,
				Parent:        parent,
				PermissionSet: b.blobH.internBlob(sd.PermissionSet),
			})
		}
		if td.Layout != nil {
			b.classLayoutRows = append(b.classLayoutRows, ClassLayoutTableRow{
				PackingSize: td.Layout.PackingSize,
				ClassSize:   td.Layout.ClassSize,
				Parent:      class,
			})
		}
		if td.NestedIn != nil {
			b.nestedClassRows = append(b.nestedClassRows, NestedClassTableRow{
				NestedClass:    class,
				EnclosingClass: b.rowOf[td.NestedIn],
			})
		}
		for _, ov := range td.Overrides {
			body, err := b.coded(idxMethodDefOrRef, ov.Body)
			if err != nil {
				return err
			}
			decl, err := b.coded(idxMethodDefOrRef, ov.Declaration)
			if err != nil {
				return err
			}
			b.methodImplRows = append(b.methodImplRows, MethodImplTableRow{
				Class:             class,
				MethodBody:        body,
				MethodDeclaration: decl,
			})
		}
	}

	for _, f := range b.a.Fields {
		if f.Constant != nil {
			parent, err := b.coded(idxHasConstant, f)
			if err != nil {
				return err
			}
			b.constantRows = append(b.constantRows, ConstantTableRow{
				Type:   uint8(f.Constant.Type),
				Parent: parent,
				Value:  b.blobH.internBlob(f.Constant.Raw),
			})
		}
		if f.MarshalType != nil {
			parent, err := b.coded(idxHasFieldMarshall, f)
			if err != nil {
				return err
			}
			b.fieldMarshalRows = append(b.fieldMarshalRows, FieldMarshalTableRow{
				Parent:     parent,
				NativeType: b.blobH.internBlob(f.MarshalType),
			})
		}
		if f.HasFieldOffset {
			b.fieldLayoutRows = append(b.fieldLayoutRows, FieldLayoutTableRow{
				Offset: f.FieldOffset,
				Field:  b.rowOf[f],
			})
		}
		if f.RVA != 0 {
			b.fieldRVARows = append(b.fieldRVARows, FieldRVATableRow{RVA: f.RVA, Field: b.rowOf[f]})
		}
	}

	for _, p := range b.a.Params {
		if p.Constant != nil {
			parent, err := b.coded(idxHasConstant, p)
			if err != nil {
				return err
			}
			b.constantRows = append(b.constantRows, ConstantTableRow{
				Type:   uint8(p.Constant.Type),
				Parent: parent,
				Value:  b.blobH.internBlob(p.Constant.Raw),
			})
		}
		if p.MarshalType != nil {
			parent, err := b.coded(idxHasFieldMarshall, p)
			if err != nil {
				return err
			}
			b.fieldMarshalRows = append(b.fieldMarshalRows, FieldMarshalTableRow{
				Parent:     parent,
				NativeType: b.blobH.internBlob(p.MarshalType),
			})
		}
	}

	for _, m := range b.a.Methods {
		if m.PInvoke != nil {
			forwarded, err := b.coded(idxMemberForwarded, m)
			if err != nil {
				return err
			}
			var scope uint32
			if m.PInvoke.ImportScope != nil {
				scope = b.rowOf[m.PInvoke.ImportScope]
			}
			b.implMapRows = append(b.implMapRows, ImplMapTableRow{
				MappingFlags:    m.PInvoke.MappingFlags,
				MemberForwarded: forwarded,
				ImportName:      b.strings.internString(m.PInvoke.ImportName),
				ImportScope:     scope,
			})
		}
		for _, sd := range m.DeclSecurity {
			parent, err := b.coded(idxHasDeclSecurity, m)
			if err != nil {
				return err
			}
			b.declSecurityRows = append(b.declSecurityRows, DeclSecurityTableRow{
				Action:        sd.Action,
				Parent:        parent,
				PermissionSet: b.blobH.internBlob(sd.PermissionSet),
			})
		}
	}

	for _, p := range b.a.Properties {
		if p.Constant != nil {
			parent, err := b.coded(idxHasConstant, p)
			if err != nil {
				return err
			}
			b.constantRows = append(b.constantRows, ConstantTableRow{
				Type:   uint8(p.Constant.Type),
				Parent: parent,
				Value:  b.blobH.internBlob(p.Constant.Raw),
			})
		}
		if err := b.addSemantics(semGetter, p.Getter, p); err != nil {
			return err
		}
		if err := b.addSemantics(semSetter, p.Setter, p); err != nil {
			return err
		}
		for _, other := range p.Others {
			if err := b.addSemantics(semOther, other, p); err != nil {
				return err
			}
		}
	}

	for _, e := range b.a.Events {
		if err := b.addSemantics(semAddOn, e.AddMethod, e); err != nil {
			return err
		}
		if err := b.addSemantics(semRemoveOn, e.RemoveMethod, e); err != nil {
			return err
		}
		if err := b.addSemantics(semFire, e.FireMethod, e); err != nil {
			return err
		}
		for _, other := range e.Others {
			if err := b.addSemantics(semOther, other, e); err != nil {
				return err
			}
		}
	}

	if b.a.Definition != nil {
		for _, sd := range b.a.Definition.DeclSecurity {
			parent, err := b.coded(idxHasDeclSecurity, b.a.Definition)
			if err != nil {
				return err
			}
			b.declSecurityRows = append(b.declSecurityRows, DeclSecurityTableRow{
				Action:        sd.Action,
				Parent:        parent,
				PermissionSet: b.blobH.internBlob(sd.PermissionSet),
			})
		}
	}

	for _, gp := range b.a.GenericParams {
		gpRow := b.rowOf[gp]
		for _, c := range gp.Constraints {
			cIdx, err := b.coded(idxTypeDefOrRef, c)
			if err != nil {
				return err
			}
			b.genericParamConstraintRows = append(b.genericParamConstraintRows,
				GenericParamConstraintTableRow{Owner: gpRow, Constraint: cIdx})
		}
	}

	allAttrs := b.a.CustomAttributes
	for _, ca := range allAttrs {
		parent, err := b.coded(idxHasCustomAttributes, ca.Parent)
		if err != nil {
			return err
		}
		ctor, err := b.coded(idxCustomAttributeType, ca.Ctor)
		if err != nil {
			return err
		}
		b.customAttributeRows = append(b.customAttributeRows, CustomAttributeTableRow{
			Parent: parent,
			Type:   ctor,
			Value:  b.blobH.internBlob(ca.Value),
		})
	}

	b.sortAssociationTables()
	return nil
}

// Method semantics bits (ECMA-335 §II.23.1.12); mirrors resolve.go's
// private copies since the two files build opposite directions through
// the same table.
const (
	semSetter   = 0x0001
	semGetter   = 0x0002
	semOther    = 0x0004
	semAddOn    = 0x0008
	semRemoveOn = 0x0010
	semFire     = 0x0020
)

func (b *Builder) addSemantics(bit uint16, m *Method, association interface{}) error {
	if m == nil {
		return nil
	}
	assoc, err := b.coded(idxHasSemantics, association)
	if err != nil {
		return err
	}
	b.methodSemanticsRows = append(b.methodSemanticsRows, MethodSemanticsTableRow{
		Semantics:   bit,
		Method:      b.rowOf[m],
		Association: assoc,
	})
	return nil
}

// sortAssociationTables orders every ECMA-335 "sorted" table by its
// mandated key (§4.3), breaking ties by original (stable) insertion order.
// It runs at the end of buildAssociationRows, during Enumerate; row numbers in *other* tables
// never reference rows of these tables, so no row renumbering cascades
// from this step.
func (b *Builder) sortAssociationTables() {
	sort.SliceStable(b.interfaceImplRows, func(i, j int) bool {
		r := b.interfaceImplRows
		if r[i].Class != r[j].Class {
			return r[i].Class < r[j].Class
		}
		return r[i].Interface < r[j].Interface
	})
	sort.SliceStable(b.constantRows, func(i, j int) bool {
		return b.constantRows[i].Parent < b.constantRows[j].Parent
	})
	sort.SliceStable(b.customAttributeRows, func(i, j int) bool {
		return b.customAttributeRows[i].Parent < b.customAttributeRows[j].Parent
	})
	sort.SliceStable(b.fieldMarshalRows, func(i, j int) bool {
		return b.fieldMarshalRows[i].Parent < b.fieldMarshalRows[j].Parent
	})
	sort.SliceStable(b.declSecurityRows, func(i, j int) bool {
		return b.declSecurityRows[i].Parent < b.declSecurityRows[j].Parent
	})
	sort.SliceStable(b.classLayoutRows, func(i, j int) bool {
		return b.classLayoutRows[i].Parent < b.classLayoutRows[j].Parent
	})
	sort.SliceStable(b.fieldLayoutRows, func(i, j int) bool {
		return b.fieldLayoutRows[i].Field < b.fieldLayoutRows[j].Field
	})
	sort.SliceStable(b.methodSemanticsRows, func(i, j int) bool {
		return b.methodSemanticsRows[i].Association < b.methodSemanticsRows[j].Association
	})
	sort.SliceStable(b.methodImplRows, func(i, j int) bool {
		return b.methodImplRows[i].Class < b.methodImplRows[j].Class
	})
	sort.SliceStable(b.implMapRows, func(i, j int) bool {
		return b.implMapRows[i].MemberForwarded < b.implMapRows[j].MemberForwarded
	})
	sort.SliceStable(b.fieldRVARows, func(i, j int) bool {
		return b.fieldRVARows[i].Field < b.fieldRVARows[j].Field
	})
	sort.SliceStable(b.nestedClassRows, func(i, j int) bool {
		return b.nestedClassRows[i].NestedClass < b.nestedClassRows[j].NestedClass
	})
	sort.SliceStable(b.genericParamConstraintRows, func(i, j int) bool {
		return b.genericParamConstraintRows[i].Owner < b.genericParamConstraintRows[j].Owner
	})
}

// sortedTableIDs lists every table that carries the "sorted" bit in the
// #~ stream header's Sorted mask (ECMA-335 §II.24.2.6, Table 2).
var sortedTableIDs = []int{
	InterfaceImpl, Constant, customAttribute, FieldMarshal, DeclSecurity,
	ClassLayout, FieldLayout, EventMap, PropertyMap, MethodSemantics,
	MethodImpl, ImplMap, FieldRVA, NestedClass, genericParam, GenericParamConstraint,
}

// Emit implements C8 phases 2 and 3: it sizes every heap/coded-index/row
// width, then writes the "#~" stream header, row counts and row bytes (in
// fixed table-id order) followed by the four heaps, returning the
// complete metadata-root byte stream. Calling it before Enumerate, or
// twice, is a KindContractViolation.
func (b *Builder) Emit() ([]byte, error) {
	if b.state != buildEnumerated {
		return nil, newError(KindContractViolation, "Builder.Emit called out of sequence")
	}

	stringsW := b.strings.indexWidth()
	blobW := b.blobH.indexWidth()
	guidW := b.guidH.indexWidth()

	var maskValid, maskSorted uint64
	order := []int{
		module, typeRef, typeDef, field, MethodDef, param, InterfaceImpl,
		memberRef, Constant, customAttribute, FieldMarshal, DeclSecurity,
		ClassLayout, FieldLayout, StandAloneSig, EventMap, event, PropertyMap,
		property, MethodSemantics, MethodImpl, moduleRef, typeSpec, ImplMap,
		FieldRVA, assembly, assemblyRef, FileMD, exportedType, manifestResource,
		NestedClass, genericParam, MethodSpec, GenericParamConstraint,
	}
	for _, id := range order {
		if b.rowCounts[id] > 0 {
			maskValid |= 1 << uint(id)
		}
	}
	for _, id := range sortedTableIDs {
		maskSorted |= 1 << uint(id)
	}

	var out []byte
	out = appendU32(out, 0) // reserved
	out = append(out, 2, 0) // major, minor
	var heaps uint8
	if stringsW == 4 {
		heaps |= 0x01
	}
	if guidW == 4 {
		heaps |= 0x02
	}
	if blobW == 4 {
		heaps |= 0x04
	}
	out = append(out, heaps, 1) // heaps flags, reserved (ECMA: shall be 1)
	out = appendU64(out, maskValid)
	out = appendU64(out, maskSorted)

	for _, id := range order {
		if n := b.rowCounts[id]; n > 0 {
			out = appendU32(out, n)
		}
	}

	w := &rowWidths{
		str:  stringsW,
		blob: blobW,
		guid: guidW,
		rows: b.rowCounts,
	}

	var err error
	for _, id := range order {
		if b.rowCounts[id] == 0 {
			continue
		}
		switch id {
		case module:
			out, err = emitRows(out, b.moduleRows, w.encodeModule)
		case typeRef:
			out, err = emitRows(out, b.typeRefRows, w.encodeTypeRef)
		case typeDef:
			out, err = emitRows(out, b.typeDefRows, w.encodeTypeDef)
		case field:
			out, err = emitRows(out, b.fieldRows, w.encodeField)
		case MethodDef:
			out, err = emitRows(out, b.methodRows, w.encodeMethodDef)
		case param:
			out, err = emitRows(out, b.paramRows, w.encodeParam)
		case InterfaceImpl:
			out, err = emitRows(out, b.interfaceImplRows, w.encodeInterfaceImpl)
		case memberRef:
			out, err = emitRows(out, b.memberRefRows, w.encodeMemberRef)
		case Constant:
			out, err = emitRows(out, b.constantRows, w.encodeConstant)
		case customAttribute:
			out, err = emitRows(out, b.customAttributeRows, w.encodeCustomAttribute)
		case FieldMarshal:
			out, err = emitRows(out, b.fieldMarshalRows, w.encodeFieldMarshal)
		case DeclSecurity:
			out, err = emitRows(out, b.declSecurityRows, w.encodeDeclSecurity)
		case ClassLayout:
			out, err = emitRows(out, b.classLayoutRows, w.encodeClassLayout)
		case FieldLayout:
			out, err = emitRows(out, b.fieldLayoutRows, w.encodeFieldLayout)
		case StandAloneSig:
			out, err = emitRows(out, b.standAloneSigRows, w.encodeStandAloneSig)
		case EventMap:
			out, err = emitRows(out, b.eventMapRows, w.encodeEventMap)
		case event:
			out, err = emitRows(out, b.eventRows, w.encodeEvent)
		case PropertyMap:
			out, err = emitRows(out, b.propertyMapRows, w.encodePropertyMap)
		case property:
			out, err = emitRows(out, b.propertyRows, w.encodeProperty)
		case MethodSemantics:
			out, err = emitRows(out, b.methodSemanticsRows, w.encodeMethodSemantics)
		case MethodImpl:
			out, err = emitRows(out, b.methodImplRows, w.encodeMethodImpl)
		case moduleRef:
			out, err = emitRows(out, b.moduleRefRows, w.encodeModuleRef)
		case typeSpec:
			out, err = emitRows(out, b.typeSpecRows, w.encodeTypeSpec)
		case ImplMap:
			out, err = emitRows(out, b.implMapRows, w.encodeImplMap)
		case FieldRVA:
			out, err = emitRows(out, b.fieldRVARows, w.encodeFieldRVA)
		case assembly:
			out, err = emitRows(out, b.assemblyRows, w.encodeAssembly)
		case assemblyRef:
			out, err = emitRows(out, b.assemblyRefRows, w.encodeAssemblyRef)
		case FileMD:
			out, err = emitRows(out, b.fileRows, w.encodeFile)
		case exportedType:
			out, err = emitRows(out, b.exportedTypeRows, w.encodeExportedType)
		case manifestResource:
			out, err = emitRows(out, b.manifestResourceRows, w.encodeManifestResource)
		case NestedClass:
			out, err = emitRows(out, b.nestedClassRows, w.encodeNestedClass)
		case genericParam:
			out, err = emitRows(out, b.genericParamRows, w.encodeGenericParam)
		case MethodSpec:
			out, err = emitRows(out, b.methodSpecRows, w.encodeMethodSpec)
		case GenericParamConstraint:
			out, err = emitRows(out, b.genericParamConstraintRows, w.encodeGenericParamConstraint)
		}
		if err != nil {
			return nil, err
		}
	}

	// Pad the table stream to a 4-byte boundary, as every metadata stream
	// must be (ECMA-335 §II.24.2.2).
	if rem := len(out) % 4; rem != 0 {
		out = append(out, make([]byte, 4-rem)...)
	}

	out = append(out, b.strings.bytes()...)
	out = append(out, b.us.bytes()...)
	out = append(out, b.guidH.bytes()...)
	out = append(out, b.blobH.bytes()...)

	b.state = buildEmitted
	return out, nil
}

// emitRows appends every row's encoded bytes (via encode) to out.
func emitRows[T any](out []byte, rows []T, encode func([]byte, T) []byte) ([]byte, error) {
	for _, r := range rows {
		out = encode(out, r)
	}
	return out, nil
}

// rowWidths carries the final heap/coded-index/simple-index widths used by
// the per-table encode* methods below; it is computed once sizing
// completes and is read-only from then on.
type rowWidths struct {
	str, blob, guid uint32
	rows            map[int]uint32
}

func (w *rowWidths) idx(width uint32, v uint32) []byte {
	if width == 2 {
		return []byte{byte(v), byte(v >> 8)}
	}
	return appendU32(nil, v)
}

func (w *rowWidths) simple(table int, v uint32) []byte {
	width := uint32(2)
	if w.rows[table] >= 1<<16 {
		width = 4
	}
	return w.idx(width, v)
}

func (w *rowWidths) coded(c codedidx, v uint32) []byte {
	return w.idx(codedIndexWidthForRowCounts(c, w.rows), v)
}

func (w *rowWidths) encodeModule(out []byte, r ModuleTableRow) []byte {
	out = appendU16(out, r.Generation)
	out = append(out, w.idx(w.str, r.Name)...)
	out = append(out, w.idx(w.guid, r.Mvid)...)
	out = append(out, w.idx(w.guid, r.EncID)...)
	out = append(out, w.idx(w.guid, r.EncBaseID)...)
	return out
}

func (w *rowWidths) encodeTypeRef(out []byte, r TypeRefTableRow) []byte {
	out = append(out, w.coded(idxResolutionScope, r.ResolutionScope)...)
	out = append(out, w.idx(w.str, r.TypeName)...)
	out = append(out, w.idx(w.str, r.TypeNamespace)...)
	return out
}

func (w *rowWidths) encodeTypeDef(out []byte, r TypeDefTableRow) []byte {
	out = appendU32(out, r.Flags)
	out = append(out, w.idx(w.str, r.TypeName)...)
	out = append(out, w.idx(w.str, r.TypeNamespace)...)
	out = append(out, w.coded(idxTypeDefOrRef, r.Extends)...)
	out = append(out, w.simple(field, r.FieldList)...)
	out = append(out, w.simple(MethodDef, r.MethodList)...)
	return out
}

func (w *rowWidths) encodeField(out []byte, r FieldTableRow) []byte {
	out = appendU16(out, r.Flags)
	out = append(out, w.idx(w.str, r.Name)...)
	out = append(out, w.idx(w.blob, r.Signature)...)
	return out
}

func (w *rowWidths) encodeMethodDef(out []byte, r MethodDefTableRow) []byte {
	out = appendU32(out, r.RVA)
	out = appendU16(out, r.ImplFlags)
	out = appendU16(out, r.Flags)
	out = append(out, w.idx(w.str, r.Name)...)
	out = append(out, w.idx(w.blob, r.Signature)...)
	out = append(out, w.simple(param, r.ParamList)...)
	return out
}

func (w *rowWidths) encodeParam(out []byte, r ParamTableRow) []byte {
	out = appendU16(out, r.Flags)
	out = appendU16(out, r.Sequence)
	out = append(out, w.idx(w.str, r.Name)...)
	return out
}

func (w *rowWidths) encodeInterfaceImpl(out []byte, r InterfaceImplTableRow) []byte {
	out = append(out, w.simple(typeDef, r.Class)...)
	out = append(out, w.coded(idxTypeDefOrRef, r.Interface)...)
	return out
}

func (w *rowWidths) encodeMemberRef(out []byte, r MemberRefTableRow) []byte {
	out = append(out, w.coded(idxMemberRefParent, r.Class)...)
	out = append(out, w.idx(w.str, r.Name)...)
	out = append(out, w.idx(w.blob, r.Signature)...)
	return out
}

func (w *rowWidths) encodeConstant(out []byte, r ConstantTableRow) []byte {
	out = append(out, r.Type, 0)
	out = append(out, w.coded(idxHasConstant, r.Parent)...)
	out = append(out, w.idx(w.blob, r.Value)...)
	return out
}

func (w *rowWidths) encodeCustomAttribute(out []byte, r CustomAttributeTableRow) []byte {
	out = append(out, w.coded(idxHasCustomAttributes, r.Parent)...)
	out = append(out, w.coded(idxCustomAttributeType, r.Type)...)
	out = append(out, w.idx(w.blob, r.Value)...)
	return out
}

func (w *rowWidths) encodeFieldMarshal(out []byte, r FieldMarshalTableRow) []byte {
	out = append(out, w.coded(idxHasFieldMarshall, r.Parent)...)
	out = append(out, w.idx(w.blob, r.NativeType)...)
	return out
}

func (w *rowWidths) encodeDeclSecurity(out []byte, r DeclSecurityTableRow) []byte {
	out = appendU16(out, r.Action)
	out = append(out, w.coded(idxHasDeclSecurity, r.Parent)...)
	out = append(out, w.idx(w.blob, r.PermissionSet)...)
	return out
}

func (w *rowWidths) encodeClassLayout(out []byte, r ClassLayoutTableRow) []byte {
	out = appendU16(out, r.PackingSize)
	out = appendU32(out, r.ClassSize)
	out = append(out, w.simple(typeDef, r.Parent)...)
	return out
}

func (w *rowWidths) encodeFieldLayout(out []byte, r FieldLayoutTableRow) []byte {
	out = appendU32(out, r.Offset)
	out = append(out, w.simple(field, r.Field)...)
	return out
}

func (w *rowWidths) encodeStandAloneSig(out []byte, r StandAloneSigTableRow) []byte {
	return append(out, w.idx(w.blob, r.Signature)...)
}

func (w *rowWidths) encodeEventMap(out []byte, r EventMapTableRow) []byte {
	out = append(out, w.simple(typeDef, r.Parent)...)
	out = append(out, w.simple(event, r.EventList)...)
	return out
}

func (w *rowWidths) encodeEvent(out []byte, r EventTableRow) []byte {
	out = appendU16(out, r.EventFlags)
	out = append(out, w.idx(w.str, r.Name)...)
	out = append(out, w.coded(idxTypeDefOrRef, r.EventType)...)
	return out
}

func (w *rowWidths) encodePropertyMap(out []byte, r PropertyMapTableRow) []byte {
	out = append(out, w.simple(typeDef, r.Parent)...)
	out = append(out, w.simple(property, r.PropertyList)...)
	return out
}

func (w *rowWidths) encodeProperty(out []byte, r PropertyTableRow) []byte {
	out = appendU16(out, r.Flags)
	out = append(out, w.idx(w.str, r.Name)...)
	out = append(out, w.idx(w.blob, r.Type)...)
	return out
}

func (w *rowWidths) encodeMethodSemantics(out []byte, r MethodSemanticsTableRow) []byte {
	out = appendU16(out, r.Semantics)
	out = append(out, w.simple(MethodDef, r.Method)...)
	out = append(out, w.coded(idxHasSemantics, r.Association)...)
	return out
}

func (w *rowWidths) encodeMethodImpl(out []byte, r MethodImplTableRow) []byte {
	out = append(out, w.simple(typeDef, r.Class)...)
	out = append(out, w.coded(idxMethodDefOrRef, r.MethodBody)...)
	out = append(out, w.coded(idxMethodDefOrRef, r.MethodDeclaration)...)
	return out
}

func (w *rowWidths) encodeModuleRef(out []byte, r ModuleRefTableRow) []byte {
	return append(out, w.idx(w.str, r.Name)...)
}

func (w *rowWidths) encodeTypeSpec(out []byte, r TypeSpecTableRow) []byte {
	return append(out, w.idx(w.blob, r.Signature)...)
}

func (w *rowWidths) encodeImplMap(out []byte, r ImplMapTableRow) []byte {
	out = appendU16(out, r.MappingFlags)
	out = append(out, w.coded(idxMemberForwarded, r.MemberForwarded)...)
	out = append(out, w.idx(w.str, r.ImportName)...)
	out = append(out, w.simple(moduleRef, r.ImportScope)...)
	return out
}

func (w *rowWidths) encodeFieldRVA(out []byte, r FieldRVATableRow) []byte {
	out = appendU32(out, r.RVA)
	out = append(out, w.simple(field, r.Field)...)
	return out
}

func (w *rowWidths) encodeAssembly(out []byte, r AssemblyTableRow) []byte {
	out = appendU32(out, r.HashAlgId)
	out = appendU16(out, r.MajorVersion)
	out = appendU16(out, r.MinorVersion)
	out = appendU16(out, r.BuildNumber)
	out = appendU16(out, r.RevisionNumber)
	out = appendU32(out, r.Flags)
	out = append(out, w.idx(w.blob, r.PublicKey)...)
	out = append(out, w.idx(w.str, r.Name)...)
	out = append(out, w.idx(w.str, r.Culture)...)
	return out
}

func (w *rowWidths) encodeAssemblyRef(out []byte, r AssemblyRefTableRow) []byte {
	out = appendU16(out, r.MajorVersion)
	out = appendU16(out, r.MinorVersion)
	out = appendU16(out, r.BuildNumber)
	out = appendU16(out, r.RevisionNumber)
	out = appendU32(out, r.Flags)
	out = append(out, w.idx(w.blob, r.PublicKeyOrToken)...)
	out = append(out, w.idx(w.str, r.Name)...)
	out = append(out, w.idx(w.str, r.Culture)...)
	out = append(out, w.idx(w.blob, r.HashValue)...)
	return out
}

func (w *rowWidths) encodeFile(out []byte, r FileTableRow) []byte {
	out = appendU32(out, r.Flags)
	out = append(out, w.idx(w.str, r.Name)...)
	out = append(out, w.idx(w.blob, r.HashValue)...)
	return out
}

func (w *rowWidths) encodeExportedType(out []byte, r ExportedTypeTableRow) []byte {
	out = appendU32(out, r.Flags)
	out = appendU32(out, r.TypeDefId)
	out = append(out, w.idx(w.str, r.TypeName)...)
	out = append(out, w.idx(w.str, r.TypeNamespace)...)
	out = append(out, w.coded(idxImplementation, r.Implementation)...)
	return out
}

func (w *rowWidths) encodeManifestResource(out []byte, r ManifestResourceTableRow) []byte {
	out = appendU32(out, r.Offset)
	out = appendU32(out, r.Flags)
	out = append(out, w.idx(w.str, r.Name)...)
	out = append(out, w.coded(idxImplementation, r.Implementation)...)
	return out
}

func (w *rowWidths) encodeNestedClass(out []byte, r NestedClassTableRow) []byte {
	out = append(out, w.simple(typeDef, r.NestedClass)...)
	out = append(out, w.simple(typeDef, r.EnclosingClass)...)
	return out
}

func (w *rowWidths) encodeGenericParam(out []byte, r GenericParamTableRow) []byte {
	out = appendU16(out, r.Number)
	out = appendU16(out, r.Flags)
	out = append(out, w.coded(idxTypeOrMethodDef, r.Owner)...)
	out = append(out, w.idx(w.str, r.Name)...)
	return out
}

func (w *rowWidths) encodeMethodSpec(out []byte, r MethodSpecTableRow) []byte {
	out = append(out, w.coded(idxMethodDefOrRef, r.Method)...)
	out = append(out, w.idx(w.blob, r.Instantiation)...)
	return out
}

func (w *rowWidths) encodeGenericParamConstraint(out []byte, r GenericParamConstraintTableRow) []byte {
	out = append(out, w.simple(genericParam, r.Owner)...)
	out = append(out, w.coded(idxTypeDefOrRef, r.Constraint)...)
	return out
}
