// Package reflectutil provides the small, panic-free reflection helper
// schema.Schema.EncodeStructRow uses to pull a named field off an
// arbitrary struct — the path a source takes when it already decodes
// onto a typed Go struct rather than a map[string]interface{}.
package reflectutil

import (
	"fmt"
	"reflect"
)

// SafeFieldByName returns v's field named fieldName, erroring instead of
// panicking when v isn't a struct or carries no such field — the two
// ways reflect.Value.FieldByName panics on its own.
func SafeFieldByName(v reflect.Value, fieldName string) (reflect.Value, error) {
	if !v.IsValid() {
		return reflect.Value{}, fmt.Errorf("reflectutil: invalid value")
	}
	if v.Kind() != reflect.Struct {
		return reflect.Value{}, fmt.Errorf("reflectutil: value is not a struct, got %v", v.Kind())
	}

	field := v.FieldByName(fieldName)
	if !field.IsValid() {
		return reflect.Value{}, fmt.Errorf("reflectutil: field %q not found", fieldName)
	}
	return field, nil
}
