package pe

const (
	// these are intentionally made so they do not collide with StringStream, GUIDStream, and BlobStream
	// they are used only for the getCodedIndexSize function
	idxStringStream = iota + 100
	idxGUIDStream
	idxBlobStream
)

// notUsed marks a reserved tag slot in a coded-index schema (ECMA-335
// §II.24.2.6 leaves some tag values of CustomAttributeType unassigned).
// No real table id is negative, so it can never collide with one.
const notUsed = -1

type codedidx struct {
	tagbits uint8
	idx     []int
}

var (
	idxTypeDefOrRef        = codedidx{tagbits: 2, idx: []int{typeDef, typeRef, typeSpec}}
	idxResolutionScope     = codedidx{tagbits: 2, idx: []int{module, moduleRef, assemblyRef, typeRef}}
	idxMemberRefParent     = codedidx{tagbits: 3, idx: []int{typeDef, typeRef, moduleRef, MethodDef, typeSpec}}
	idxHasConstant         = codedidx{tagbits: 2, idx: []int{field, param, property}}
	// HasCustomAttribute, ECMA-335 §II.24.2.6: 22 target tables, tag 0 is
	// MethodDef (not Field - a common off-by-one if copied casually).
	idxHasCustomAttributes = codedidx{tagbits: 5, idx: []int{MethodDef, field, typeRef, typeDef, param, InterfaceImpl, memberRef, module, DeclSecurity, property, event, StandAloneSig, moduleRef, typeSpec, assembly, assemblyRef, FileMD, exportedType, manifestResource, genericParam, GenericParamConstraint, MethodSpec}}
	// CustomAttributeType, ECMA-335 §II.24.2.6: tags 0, 1 and 4 are unused.
	idxCustomAttributeType = codedidx{tagbits: 3, idx: []int{notUsed, notUsed, MethodDef, memberRef, notUsed}}
	idxHasFieldMarshall    = codedidx{tagbits: 1, idx: []int{field, param}}
	idxHasDeclSecurity     = codedidx{tagbits: 2, idx: []int{typeDef, MethodDef, assembly}}
	idxHasSemantics        = codedidx{tagbits: 1, idx: []int{event, property}}
	idxMethodDefOrRef      = codedidx{tagbits: 1, idx: []int{MethodDef, memberRef}}
	idxMemberForwarded     = codedidx{tagbits: 1, idx: []int{field, MethodDef}}
	idxImplementation      = codedidx{tagbits: 2, idx: []int{FileMD, assemblyRef, exportedType}}
	idxTypeOrMethodDef     = codedidx{tagbits: 1, idx: []int{typeDef, MethodDef}}

	idxField        = codedidx{tagbits: 0, idx: []int{field}}
	idxMethodDef    = codedidx{tagbits: 0, idx: []int{MethodDef}}
	idxParam        = codedidx{tagbits: 0, idx: []int{param}}
	idxTypeDef      = codedidx{tagbits: 0, idx: []int{typeDef}}
	idxEvent        = codedidx{tagbits: 0, idx: []int{event}}
	idxProperty     = codedidx{tagbits: 0, idx: []int{property}}
	idxModuleRef    = codedidx{tagbits: 0, idx: []int{moduleRef}}
	idxGenericParam = codedidx{tagbits: 0, idx: []int{genericParam}}

	idxString = codedidx{tagbits: 0, idx: []int{idxStringStream}}
	idxBlob   = codedidx{tagbits: 0, idx: []int{idxBlobStream}}
	idxGUID   = codedidx{tagbits: 0, idx: []int{idxGUIDStream}}
)

func (pe *File) getCodedIndexSize(tagbits uint32, idx ...int) uint32 {
	// special case String/GUID/Blob streams
	switch idx[0] {
	case int(idxStringStream):
		return uint32(pe.GetMetadataStreamIndexSize(StringStream))
	case int(idxGUIDStream):
		return uint32(pe.GetMetadataStreamIndexSize(GUIDStream))
	case int(idxBlobStream):
		return uint32(pe.GetMetadataStreamIndexSize(BlobStream))
	}

	// now deal with coded indices or single table
	var maxIndex16 uint32 = 1 << (16 - tagbits)
	var maxColumnCount uint32
	for _, tblidx := range idx {
		tbl, ok := pe.CLR.MetadataTables[tblidx]
		if ok {
			if tbl.CountCols > maxColumnCount {
				maxColumnCount = tbl.CountCols
			}
		}
	}
	if maxColumnCount > maxIndex16 {
		return 4
	}
	return 2
}

func (pe *File) readFromMetadataStream(cidx codedidx, off uint32, out *uint32) (uint32, error) {
	indexSize := pe.getCodedIndexSize(uint32(cidx.tagbits), cidx.idx...)
	var data uint32
	var err error
	switch indexSize {
	case 2:
		d, err := pe.ReadUint16(off)
		if err != nil {
			return 0, err
		}
		data = uint32(d)
	case 4:
		data, err = pe.ReadUint32(off)
		if err != nil {
			return 0, err
		}
	}

	*out = data
	return uint32(indexSize), nil
}
