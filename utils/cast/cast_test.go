package cast

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToFloat(t *testing.T) {
	tests := []struct {
		name   string
		input  any
		expect float64
	}{
		{"float32", float32(1.5), 1.5},
		{"float64", 3.14, 3.14},
		{"int", 7, 7.0},
		{"int8", int8(7), 7.0},
		{"int16", int16(7), 7.0},
		{"int32", int32(7), 7.0},
		{"int64", int64(7), 7.0},
		{"uint", uint(7), 7.0},
		{"uint8", uint8(7), 7.0},
		{"uint16", uint16(7), 7.0},
		{"uint32", uint32(7), 7.0},
		{"uint64", uint64(7), 7.0},
		{"numeric string", "2.5", 2.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, ToFloat(tt.input))
		})
	}
}

func TestToFloatPanicsOnUnparseableString(t *testing.T) {
	assert.Panics(t, func() { ToFloat("not-a-number") })
}

func TestToFloatPanicsOnUnsupportedType(t *testing.T) {
	assert.Panics(t, func() { ToFloat([]int{1, 2, 3}) })
}

func TestToString(t *testing.T) {
	tests := []struct {
		name   string
		input  any
		expect string
	}{
		{"string", "hello", "hello"},
		{"int", 42, "42"},
		{"float64", 3.5, "3.5"},
		{"bool", true, "true"},
		{"nil", nil, "<nil>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, ToString(tt.input))
		})
	}
}
