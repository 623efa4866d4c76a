/*
 * Copyright 2024 The RuleGo Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package cast provides the strict numeric/string coercions
// pipeline.CompileWindowIngest uses to pull a window's key, value, and
// timestamp columns out of a decoded row environment (spec §4.4). Unlike
// schema.Coerce's lenient zero-on-failure rule for encoding a row, a
// window input column that holds a value with no sane numeric meaning is
// a pipeline bug rather than something to silently paper over, so these
// functions panic instead of returning an error; the pipeline's worker
// loop recovers the panic at the task boundary.
package cast

import (
	"fmt"
	"strconv"
)

// ToFloat coerces x to float64, panicking if x is a string that doesn't
// parse as a number or is of a type with no numeric meaning.
func ToFloat(x any) float64 {
	switch x := x.(type) {
	case float32:
		return float64(x)
	case float64:
		return x
	case int:
		return float64(x)
	case int8:
		return float64(x)
	case int16:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case uint:
		return float64(x)
	case uint8:
		return float64(x)
	case uint16:
		return float64(x)
	case uint32:
		return float64(x)
	case uint64:
		return float64(x)
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			panic(fmt.Sprintf("invalid operation: float(%s)", x))
		}
		return f
	default:
		panic(fmt.Sprintf("invalid operation: float(%T)", x))
	}
}

// ToString renders arg via its default fmt representation — window keys
// are typically already strings, but a numeric key column coerces here
// too rather than requiring the caller to special-case it.
func ToString(arg any) string {
	return fmt.Sprintf("%v", arg)
}
