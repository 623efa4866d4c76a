// Package fieldpath resolves a dotted/bracketed field path against an
// arbitrary Go value — the mechanism behind schema.ExtractField, which a
// source uses to pull a schema column's value out of the record it just
// decoded (a map[string]interface{} or a struct) before laying the
// column out against a Schema's physical row format.
package fieldpath

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// FieldAccessor is a parsed field path: a sequence of field-name, array-
// index, or map-key accesses to apply in order.
type FieldAccessor struct {
	Parts []FieldPart
}

// FieldPart is one step of a FieldAccessor.
type FieldPart struct {
	Type    string // "field", "array_index", "map_key"
	Name    string // field name (Type == "field")
	Index   int    // array index (Type == "array_index")
	Key     string // map key (Type == "map_key")
	KeyType string // "string" or "number"
}

// ParseFieldPath parses fieldPath into a FieldAccessor. Supported shapes:
//   - a.b.c        (nested fields)
//   - a.b[0]        (array index)
//   - a.b[0].c      (field of an array element)
//   - a.b["key"]    (string map key, single or double quoted)
//   - a[0].b[1].c["key"] (mixed access)
func ParseFieldPath(fieldPath string) (*FieldAccessor, error) {
	if fieldPath == "" {
		return nil, nil
	}

	accessor := &FieldAccessor{Parts: make([]FieldPart, 0)}

	for _, part := range strings.Split(fieldPath, ".") {
		if part == "" {
			continue
		}
		if strings.Contains(part, "[") {
			if err := parseComplexPart(part, accessor); err != nil {
				return nil, err
			}
		} else {
			accessor.Parts = append(accessor.Parts, FieldPart{Type: "field", Name: part})
		}
	}

	return accessor, nil
}

// parseComplexPart parses a path segment that mixes a field name with one
// or more bracketed index/key accesses, e.g. "items[0][1]".
func parseComplexPart(part string, accessor *FieldAccessor) error {
	bracketIndex := strings.Index(part, "[")
	if bracketIndex == -1 {
		accessor.Parts = append(accessor.Parts, FieldPart{Type: "field", Name: part})
		return nil
	}

	if bracketIndex > 0 {
		accessor.Parts = append(accessor.Parts, FieldPart{Type: "field", Name: part[:bracketIndex]})
	}

	remaining := part[bracketIndex:]
	for len(remaining) > 0 && strings.HasPrefix(remaining, "[") {
		rightBracket := strings.Index(remaining, "]")
		if rightBracket == -1 {
			return &FieldAccessError{Path: part, Message: "unmatched bracket in field path"}
		}

		fieldPart, err := parseBracketContent(remaining[1:rightBracket])
		if err != nil {
			return err
		}
		accessor.Parts = append(accessor.Parts, fieldPart)
		remaining = remaining[rightBracket+1:]
	}

	return nil
}

func parseBracketContent(content string) (FieldPart, error) {
	content = strings.TrimSpace(content)

	if (strings.HasPrefix(content, "'") && strings.HasSuffix(content, "'")) ||
		(strings.HasPrefix(content, "\"") && strings.HasSuffix(content, "\"")) {
		return FieldPart{Type: "map_key", Key: content[1 : len(content)-1], KeyType: "string"}, nil
	}

	if num, err := strconv.Atoi(content); err == nil {
		// Defaults to array_index; accessFieldPart falls back to a map
		// lookup automatically when the underlying value is a map.
		return FieldPart{Type: "array_index", Index: num, Key: content, KeyType: "number"}, nil
	}

	return FieldPart{}, &FieldAccessError{Path: content, Message: "invalid bracket content, expected number or quoted string"}
}

// GetNestedField reads a (possibly nested) field out of data, an arbitrary
// map[string]interface{} or struct value (or pointer to one). Supported
// path shapes are the same as ParseFieldPath.
func GetNestedField(data interface{}, fieldPath string) (interface{}, bool) {
	if fieldPath == "" {
		return nil, false
	}

	accessor, err := ParseFieldPath(fieldPath)
	if err != nil {
		return getNestedFieldSimple(data, fieldPath)
	}
	if accessor == nil || len(accessor.Parts) == 0 {
		return nil, false
	}

	current := data
	for _, part := range accessor.Parts {
		val, found := accessFieldPart(current, part)
		if !found {
			return nil, false
		}
		current = val
	}
	return current, true
}

func accessFieldPart(data interface{}, part FieldPart) (interface{}, bool) {
	if data == nil {
		return nil, false
	}

	v := reflect.ValueOf(data)
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil, false
		}
		v = v.Elem()
	}

	switch part.Type {
	case "field":
		return getFieldValue(data, part.Name)
	case "array_index":
		return getArrayElement(v, part.Index)
	case "map_key":
		return getMapValue(v, part.Key, part.KeyType)
	default:
		return nil, false
	}
}

func getArrayElement(v reflect.Value, index int) (interface{}, bool) {
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		length := v.Len()
		if index < 0 {
			index = length + index
		}
		if index < 0 || index >= length {
			return nil, false
		}
		return v.Index(index).Interface(), true

	case reflect.Map:
		if mapVal := v.MapIndex(reflect.ValueOf(index)); mapVal.IsValid() {
			return mapVal.Interface(), true
		}
		if mapVal := v.MapIndex(reflect.ValueOf(strconv.Itoa(index))); mapVal.IsValid() {
			return mapVal.Interface(), true
		}
		return nil, false

	default:
		return nil, false
	}
}

func getMapValue(v reflect.Value, key, keyType string) (interface{}, bool) {
	if v.Kind() != reflect.Map {
		return nil, false
	}

	if keyType == "string" || v.Type().Key().Kind() == reflect.String {
		if mapVal := v.MapIndex(reflect.ValueOf(key)); mapVal.IsValid() {
			return mapVal.Interface(), true
		}
	}

	if keyType == "number" {
		if num, err := strconv.Atoi(key); err == nil {
			if mapVal := v.MapIndex(reflect.ValueOf(num)); mapVal.IsValid() {
				return mapVal.Interface(), true
			}
			if mapVal := v.MapIndex(reflect.ValueOf(key)); mapVal.IsValid() {
				return mapVal.Interface(), true
			}
		}
	}

	return nil, false
}

// getNestedFieldSimple is the plain dot-split fallback used when a path
// fails to parse as a complex accessor.
func getNestedFieldSimple(data interface{}, fieldPath string) (interface{}, bool) {
	if fieldPath == "" {
		return nil, false
	}

	current := data
	for _, field := range strings.Split(fieldPath, ".") {
		val, found := getFieldValue(current, field)
		if !found {
			return nil, false
		}
		current = val
	}
	return current, true
}

func getFieldValue(data interface{}, fieldName string) (interface{}, bool) {
	if data == nil {
		return nil, false
	}

	v := reflect.ValueOf(data)
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil, false
		}
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Map:
		if v.Type().Key().Kind() == reflect.String {
			if mapVal := v.MapIndex(reflect.ValueOf(fieldName)); mapVal.IsValid() {
				return mapVal.Interface(), true
			}
		}
		return nil, false

	case reflect.Struct:
		if fieldVal := v.FieldByName(fieldName); fieldVal.IsValid() {
			return fieldVal.Interface(), true
		}
		return nil, false

	default:
		return nil, false
	}
}

// FieldAccessError reports a malformed field path.
type FieldAccessError struct {
	Path    string
	Message string
}

func (e *FieldAccessError) Error() string {
	return fmt.Sprintf("field access error for path '%s': %s", e.Path, e.Message)
}
