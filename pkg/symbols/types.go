package symbols

// Type introspection over the DWARF type graph
//
// Variable formatting needs three things from a type: its qualified name
// (the formatter registry is keyed by names like "int32_t" or
// "const char *"), its byte size, and its shape (scalar, pointer, array
// with element type and count, or aggregate with field offsets). TypeInfo
// captures exactly that; typedefs keep their own name and const adds a
// "const " prefix, while volatile and restrict take the underlying name;
// all of them resolve to the underlying shape.

import (
	"debug/dwarf"
	"fmt"

	"github.com/Manu343726/wasm-symbols/pkg/utils"
)

// TypeKind is the shape of a type as the formatter recursion sees it
type TypeKind int

const (
	// KindScalar is a base type (integers, chars, floats)
	KindScalar TypeKind = iota
	// KindPointer is any pointer type
	KindPointer
	// KindArray is an array; Elem and Count describe it
	KindArray
	// KindAggregate is a struct, class or union; Fields describe it
	KindAggregate
	// KindOther is anything the formatter cannot recurse into
	KindOther
)

// Field is one member of an aggregate type
type Field struct {
	Name string
	// BitOffset is the member's offset from the start of the aggregate
	BitOffset uint64
	Type      *TypeInfo
}

// TypeInfo is the resolved view of a variable's type
type TypeInfo struct {
	// Name is the qualified human readable type name, with typedefs
	// keeping their own spelling
	Name string
	// ByteSize of a value of this type
	ByteSize uint32
	// Kind is the underlying shape after stripping typedefs and
	// qualifiers
	Kind TypeKind
	// Elem is the element type of arrays and the pointee of pointers
	Elem *TypeInfo
	// Count is the element count of arrays
	Count uint64
	// Incomplete marks arrays of unknown size
	Incomplete bool
	// Fields of an aggregate, in declaration order
	Fields []Field
}

// ErrBadType is the sentinel for unresolvable type references
var ErrBadType = fmt.Errorf("cannot resolve type")

// typeTable caches resolved types by DIE offset. The placeholder inserted
// before recursing keeps self-referential types (a struct holding a
// pointer to itself) from looping.
type typeTable struct {
	data  *dwarf.Data
	cache map[dwarf.Offset]*TypeInfo
}

func newTypeTable(data *dwarf.Data) *typeTable {
	return &typeTable{data: data, cache: map[dwarf.Offset]*TypeInfo{}}
}

func (tt *typeTable) resolve(offset dwarf.Offset) (*TypeInfo, error) {
	if t, ok := tt.cache[offset]; ok {
		return t, nil
	}

	reader := tt.data.Reader()
	reader.Seek(offset)
	entry, err := reader.Next()
	if err != nil || entry == nil {
		return nil, utils.MakeError(ErrBadType, "no DIE at offset %#x", offset)
	}

	t := &TypeInfo{}
	tt.cache[offset] = t

	if size, ok := entry.Val(dwarf.AttrByteSize).(int64); ok {
		t.ByteSize = uint32(size)
	}

	switch entry.Tag {
	case dwarf.TagBaseType:
		t.Kind = KindScalar
		t.Name, _ = entry.Val(dwarf.AttrName).(string)

	case dwarf.TagPointerType:
		t.Kind = KindPointer
		if t.ByteSize == 0 {
			t.ByteSize = 4 // wasm32 pointers
		}
		elem, err := tt.resolveRef(entry)
		if err != nil {
			t.Name = "void *"
			break
		}
		t.Elem = elem
		t.Name = pointerName(elem.Name)

	case dwarf.TagTypedef:
		name, _ := entry.Val(dwarf.AttrName).(string)
		underlying, err := tt.resolveRef(entry)
		if err != nil {
			return nil, err
		}
		// typedefs keep their own spelling over the underlying shape
		*t = *underlying
		t.Name = name
		tt.cache[offset] = t

	case dwarf.TagConstType, dwarf.TagVolatileType, dwarf.TagRestrictType:
		underlying, err := tt.resolveRef(entry)
		if err != nil {
			return nil, err
		}
		*t = *underlying
		if entry.Tag == dwarf.TagConstType {
			t.Name = "const " + underlying.Name
		}
		tt.cache[offset] = t

	case dwarf.TagArrayType:
		t.Kind = KindArray
		elem, err := tt.resolveRef(entry)
		if err != nil {
			return nil, err
		}
		t.Elem = elem
		t.Incomplete = true
		if entry.Children {
			t.Count, t.Incomplete = tt.arrayCount(reader)
		}
		if t.Incomplete {
			t.Name = elem.Name + " []"
		} else {
			t.Name = fmt.Sprintf("%s [%d]", elem.Name, t.Count)
			t.ByteSize = elem.ByteSize * uint32(t.Count)
		}

	case dwarf.TagStructType, dwarf.TagClassType, dwarf.TagUnionType:
		t.Kind = KindAggregate
		t.Name, _ = entry.Val(dwarf.AttrName).(string)
		if t.Name == "" {
			t.Name = "<anonymous>"
		}
		if entry.Children {
			if err := tt.parseMembers(reader, t); err != nil {
				return nil, err
			}
		}

	case dwarf.TagEnumerationType:
		t.Kind = KindScalar
		t.Name, _ = entry.Val(dwarf.AttrName).(string)

	default:
		t.Kind = KindOther
		t.Name, _ = entry.Val(dwarf.AttrName).(string)
		if t.Name == "" {
			t.Name = fmt.Sprintf("<%s>", entry.Tag)
		}
	}
	return t, nil
}

// resolveRef resolves the DW_AT_type reference of a DIE
func (tt *typeTable) resolveRef(entry *dwarf.Entry) (*TypeInfo, error) {
	offset, ok := entry.Val(dwarf.AttrType).(dwarf.Offset)
	if !ok {
		return nil, utils.MakeError(ErrBadType, "DIE %#x has no type reference", entry.Offset)
	}
	return tt.resolve(offset)
}

// arrayCount reads the subrange child of an array DIE the reader is
// positioned inside
func (tt *typeTable) arrayCount(reader *dwarf.Reader) (uint64, bool) {
	for {
		child, err := reader.Next()
		if err != nil || child == nil || child.Tag == 0 {
			return 0, true
		}
		if child.Tag != dwarf.TagSubrangeType {
			reader.SkipChildren()
			continue
		}
		if count, ok := child.Val(dwarf.AttrCount).(int64); ok {
			return uint64(count), false
		}
		if upper, ok := child.Val(dwarf.AttrUpperBound).(int64); ok {
			return uint64(upper) + 1, false
		}
		return 0, true
	}
}

// parseMembers reads the member children of an aggregate DIE
func (tt *typeTable) parseMembers(reader *dwarf.Reader, t *TypeInfo) error {
	for {
		child, err := reader.Next()
		if err != nil {
			return utils.MakeError(ErrBadType, "%v", err)
		}
		if child == nil || child.Tag == 0 {
			return nil
		}
		if child.Tag != dwarf.TagMember {
			reader.SkipChildren()
			continue
		}

		field := Field{}
		field.Name, _ = child.Val(dwarf.AttrName).(string)
		if off, ok := child.Val(dwarf.AttrDataMemberLoc).(int64); ok {
			field.BitOffset = uint64(off) * 8
		}
		if off, ok := child.Val(dwarf.AttrDataBitOffset).(int64); ok {
			field.BitOffset = uint64(off)
		}
		memberType, err := tt.resolveRef(child)
		if err != nil {
			return err
		}
		field.Type = memberType
		t.Fields = append(t.Fields, field)
	}
}

// pointerName spells the name of a pointer to a named type
func pointerName(pointee string) string {
	if pointee == "" {
		return "void *"
	}
	if pointee[len(pointee)-1] == '*' {
		return pointee + "*"
	}
	return pointee + " *"
}
