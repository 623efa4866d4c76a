/*
 * Copyright 2025 The RuleGo Authors.
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

/*
Package condition provides compiled boolean-expression evaluation used by
pipeline.CompileFilter to turn a Filter stage's predicate text into an
ExecutablePipelineStage (spec §4.2). It wraps github.com/expr-lang/expr
and adds a handful of SQL-flavored functions predicates commonly need:
LIKE pattern matching and NULL checks.

# Condition interface

	type Condition interface {
		Evaluate(env interface{}) bool
	}

env is a schema.DecodeRow result — a field-name-keyed map of one row's
decoded values.

# Custom functions

	like_match(text, pattern) - SQL LIKE matching with % and _ wildcards
	is_null(value)            - true if value is nil
	is_not_null(value)        - true if value is not nil

# Usage

	cond, err := NewExprCondition("age >= 18 and is_not_null(email)")
	if err != nil {
		return err
	}
	row := sc.DecodeRow(rowBytes) // sc is the row's *schema.Schema
	keep := cond.Evaluate(row)

A field referenced by the predicate but absent from env evaluates to nil.
A runtime evaluation error (e.g. `name > 5` where name holds a string)
is treated as false — a row condition has no error
channel of its own, so an unevaluable row is dropped rather than the
pipeline stage failing outright.
*/
package condition
