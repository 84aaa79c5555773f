// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package derived compiles user-authored attribute expressions.
//
// A derived attribute is a numeric expression over one host's attribute
// map, for example:
//
//	(user + sys) / total * 100
//	attrs["disk.read"] + attrs["disk.write"]
//
// Every attribute of the host is bound as a variable of the same name, and
// the whole map is available as attrs for names that are not identifiers.
// Compilation happens once, when a profile is loaded or an attribute is
// defined; evaluation happens per record.
//
// Expressions are user controlled and run with the privileges of the
// viewer. They are not sandboxed beyond what the expression language
// itself restricts.
package derived

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/AleutianAI/AleutianScope/pkg/validation"
)

var (
	// ErrEmptySource is returned when a definition has no expression body.
	ErrEmptySource = errors.New("derived attribute has no definition")

	// ErrNotNumeric is returned when an expression yields a non-number.
	ErrNotNumeric = errors.New("derived attribute did not evaluate to a number")
)

// CompileError reports a definition that could not be compiled.
type CompileError struct {
	Name string
	Err  error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compile derived attribute %q: %v", e.Name, e.Err)
}

func (e *CompileError) Unwrap() error { return e.Err }

// Func evaluates a compiled expression over a host's attributes.
type Func func(attrs map[string]float64) (float64, error)

// Definition is the persisted form of a derived attribute.
type Definition struct {
	Name   string
	Source string
}

// Compile validates name and compiles source into a Func.
func Compile(name, source string) (Func, error) {
	if err := validation.ValidateAttrName(name); err != nil {
		return nil, &CompileError{Name: name, Err: err}
	}
	src := strings.TrimSpace(source)
	if src == "" {
		return nil, &CompileError{Name: name, Err: ErrEmptySource}
	}

	program, err := expr.Compile(src,
		expr.Env(map[string]any{}),
		expr.AllowUndefinedVariables(),
		expr.AsFloat64(),
	)
	if err != nil {
		return nil, &CompileError{Name: name, Err: err}
	}
	return newFunc(program), nil
}

func newFunc(program *vm.Program) Func {
	return func(attrs map[string]float64) (float64, error) {
		env := make(map[string]any, len(attrs)+1)
		all := make(map[string]any, len(attrs))
		for k, v := range attrs {
			env[k] = v
			all[k] = v
		}
		env["attrs"] = all

		out, err := expr.Run(program, env)
		if err != nil {
			return 0, err
		}
		f, ok := out.(float64)
		if !ok {
			return 0, ErrNotNumeric
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, ErrNotNumeric
		}
		return f, nil
	}
}

// CompileAll compiles every definition, returning the ones that succeeded
// and a joined error for the ones that did not.
func CompileAll(defs []Definition) (map[string]Func, error) {
	funcs := make(map[string]Func, len(defs))
	var errs []error
	for _, d := range defs {
		fn, err := Compile(d.Name, d.Source)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		funcs[d.Name] = fn
	}
	return funcs, errors.Join(errs...)
}
