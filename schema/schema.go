// Package schema describes the ordered, typed field layout that every
// tuple buffer boundary in the execution core agrees on (spec §3
// "Schema"). A schema never changes shape once an operator handler has
// been built against it — the core has no runtime schema evolution
// (spec §1 non-goals).
package schema

import (
	"encoding/binary"
	"fmt"
	"math"
	"reflect"

	"github.com/spf13/cast"
	"github.com/nebulastream/exec-core/utils/fieldpath"
	"github.com/nebulastream/exec-core/utils/reflectutil"
)

// PhysicalType is a fixed-size (or variable-size marker) wire type.
type PhysicalType int

const (
	Int32 PhysicalType = iota
	Int64
	Float32
	Float64
	Bool
	Timestamp // int64 epoch nanoseconds
	VarSized  // string/blob payload living in a VariableSizedData arena
)

// Size returns the physical row footprint in bytes for fixed-size types.
// VarSized fields only carry a fixed-size descriptor (offset + length) in
// the row; the payload itself lives in the arena, see buffer.VariableSizedData.
func (t PhysicalType) Size() int {
	switch t {
	case Int32, Float32, Bool:
		return 4
	case Int64, Float64, Timestamp:
		return 8
	case VarSized:
		return 16 // arena offset (8) + length (8)
	default:
		return 0
	}
}

// Field is one named, typed column of a Schema.
type Field struct {
	Name string
	Type PhysicalType
}

// Layout selects row-major or column-major physical placement. The core
// enforces a single layout per operator boundary (spec §3).
type Layout int

const (
	RowMajor Layout = iota
	ColumnMajor
)

// Schema is an ordered list of named fields with a fixed physical layout.
type Schema struct {
	Fields []Field
	Layout Layout
}

// New builds a Schema. Nothing is precomputed: RowSize sums the field
// sizes on every call.
func New(layout Layout, fields ...Field) *Schema {
	return &Schema{Fields: fields, Layout: layout}
}

// RowSize is the sum of physical-type sizes, i.e. the stride between two
// consecutive rows in a row-major buffer.
func (s *Schema) RowSize() int {
	size := 0
	for _, f := range s.Fields {
		size += f.Type.Size()
	}
	return size
}

// IndexOf returns the ordinal position of a field, or -1 if absent.
func (s *Schema) IndexOf(name string) int {
	for i, f := range s.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// Offset returns the row-major byte offset of a field.
func (s *Schema) Offset(name string) (int, error) {
	offset := 0
	for _, f := range s.Fields {
		if f.Name == name {
			return offset, nil
		}
		offset += f.Type.Size()
	}
	return 0, fmt.Errorf("schema: unknown field %q", name)
}

// Coerce converts a raw value (as produced by a source parser) into the Go
// representation matching a field's PhysicalType, using the same numeric
// coercion rules the teacher's cast package applies throughout its
// aggregation path.
func Coerce(t PhysicalType, raw interface{}) (interface{}, error) {
	switch t {
	case Int32:
		return int32(cast.ToInt32(raw)), nil
	case Int64, Timestamp:
		return cast.ToInt64(raw), nil
	case Float32:
		return float32(cast.ToFloat64(raw)), nil
	case Float64:
		return cast.ToFloat64(raw), nil
	case Bool:
		return cast.ToBool(raw), nil
	case VarSized:
		return cast.ToString(raw), nil
	default:
		return nil, fmt.Errorf("schema: unsupported physical type %v", t)
	}
}

// DecodeRow reads one row-major row out of row into a field-name-keyed map,
// the environment shape pipeline.CompileFilter/CompileMap hand to expr-lang.
// VarSized fields decode to their raw (offset, length) pair; resolving the
// payload itself requires the producing task's buffer.Arena.
func (s *Schema) DecodeRow(row []byte) map[string]interface{} {
	out := make(map[string]interface{}, len(s.Fields))
	offset := 0
	for _, f := range s.Fields {
		switch f.Type {
		case Int32:
			out[f.Name] = int32(binary.LittleEndian.Uint32(row[offset:]))
		case Int64, Timestamp:
			out[f.Name] = int64(binary.LittleEndian.Uint64(row[offset:]))
		case Float32:
			out[f.Name] = math.Float32frombits(binary.LittleEndian.Uint32(row[offset:]))
		case Float64:
			out[f.Name] = math.Float64frombits(binary.LittleEndian.Uint64(row[offset:]))
		case Bool:
			out[f.Name] = binary.LittleEndian.Uint32(row[offset:]) != 0
		case VarSized:
			varOffset := int64(binary.LittleEndian.Uint64(row[offset:]))
			varLength := int64(binary.LittleEndian.Uint64(row[offset+8:]))
			out[f.Name] = [2]int64{varOffset, varLength}
		}
		offset += f.Type.Size()
	}
	return out
}

// EncodeRow writes values (keyed by field name, typed per Coerce) into row
// at this schema's row-major layout. row must be at least RowSize() bytes.
func (s *Schema) EncodeRow(row []byte, values map[string]interface{}) error {
	offset := 0
	for _, f := range s.Fields {
		v, ok := values[f.Name]
		if !ok {
			offset += f.Type.Size()
			continue
		}
		switch f.Type {
		case Int32:
			binary.LittleEndian.PutUint32(row[offset:], uint32(cast.ToInt32(v)))
		case Int64, Timestamp:
			binary.LittleEndian.PutUint64(row[offset:], uint64(cast.ToInt64(v)))
		case Float32:
			binary.LittleEndian.PutUint32(row[offset:], math.Float32bits(float32(cast.ToFloat64(v))))
		case Float64:
			binary.LittleEndian.PutUint64(row[offset:], math.Float64bits(cast.ToFloat64(v)))
		case Bool:
			b := uint32(0)
			if cast.ToBool(v) {
				b = 1
			}
			binary.LittleEndian.PutUint32(row[offset:], b)
		case VarSized:
			pair, ok := v.([2]int64)
			if !ok {
				return fmt.Errorf("schema: field %q expects an arena (offset, length) pair", f.Name)
			}
			binary.LittleEndian.PutUint64(row[offset:], uint64(pair[0]))
			binary.LittleEndian.PutUint64(row[offset+8:], uint64(pair[1]))
		default:
			return fmt.Errorf("schema: unsupported physical type %v", f.Type)
		}
		offset += f.Type.Size()
	}
	return nil
}

// EncodeStructRow encodes v — a struct (or pointer to one) whose exported
// field names match this schema's field names — into row, the same
// row-major layout EncodeRow produces. Sources that already decode onto
// typed Go structs (rather than map[string]interface{}) use this instead
// of building an intermediate map per record.
func (s *Schema) EncodeStructRow(row []byte, v interface{}) error {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr {
		rv = rv.Elem()
	}
	values := make(map[string]interface{}, len(s.Fields))
	for _, f := range s.Fields {
		field, err := reflectutil.SafeFieldByName(rv, f.Name)
		if err != nil {
			return fmt.Errorf("schema: encoding field %q: %w", f.Name, err)
		}
		values[f.Name] = field.Interface()
	}
	return s.EncodeRow(row, values)
}

// ExtractField reads a (possibly nested, e.g. "device.info.id") field out
// of an arbitrary record (a map or struct, as a source decodes it) before
// it is laid out against a Schema.
func ExtractField(record interface{}, path string) (interface{}, bool) {
	return fieldpath.GetNestedField(record, path)
}
