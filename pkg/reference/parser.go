/*
 * Copyright (C) 2025-2026, MiniflowHQ, Inc. All rights reserved.
 * See LICENSE for license information.
 */

// Package reference parses ${type:id.path} parameter templates and resolves
// them against trigger payloads, upstream outputs, workspace variables,
// credentials, database descriptors and files.
package reference

import (
	"fmt"
	"strconv"
	"strings"
)

// Reference types.
const (
	TypeStatic     = "static"
	TypeTrigger    = "trigger"
	TypeNode       = "node"
	TypeValue      = "value"
	TypeCredential = "credential"
	TypeDatabase   = "database"
	TypeFile       = "file"
)

// Step is one element of a dotted path: a field name or an [n] index.
type Step struct {
	Field   string
	Index   int
	IsIndex bool
}

func (s Step) String() string {
	if s.IsIndex {
		return fmt.Sprintf("[%d]", s.Index)
	}
	return s.Field
}

// Ref is a parsed reference template.
type Ref struct {
	Type string
	ID   string
	Path []Step
}

// IsReference reports whether value is a reference template: a string that
// begins with "${", ends with "}" and carries a ":" inside. Anything else is
// a literal.
func IsReference(value any) bool {
	s, ok := value.(string)
	if !ok {
		return false
	}
	if !strings.HasPrefix(s, "${") || !strings.HasSuffix(s, "}") {
		return false
	}
	return strings.Contains(s[2:len(s)-1], ":")
}

// Parse decodes a reference template. Callers are expected to have checked
// IsReference first; Parse re-validates the shape and the type keyword.
func Parse(template string) (Ref, error) {
	if !IsReference(template) {
		return Ref{}, fmt.Errorf("%q is not a reference template", template)
	}
	inner := template[2 : len(template)-1]
	refType, rest, _ := strings.Cut(inner, ":")
	switch refType {
	case TypeStatic:
		// everything after the colon is the literal, dots included
		return Ref{Type: TypeStatic, ID: rest}, nil
	case TypeTrigger:
		// the whole remainder is a dotted path into the trigger payload
		path, err := parsePath(rest)
		if err != nil {
			return Ref{}, fmt.Errorf("reference %q: %w", template, err)
		}
		return Ref{Type: TypeTrigger, Path: path}, nil
	case TypeNode, TypeValue, TypeCredential, TypeDatabase, TypeFile:
		id, pathExpr, _ := strings.Cut(rest, ".")
		if id == "" {
			return Ref{}, fmt.Errorf("reference %q is missing its id", template)
		}
		ref := Ref{Type: refType, ID: id}
		if pathExpr != "" {
			path, err := parsePath(pathExpr)
			if err != nil {
				return Ref{}, fmt.Errorf("reference %q: %w", template, err)
			}
			ref.Path = path
		}
		return ref, nil
	default:
		return Ref{}, fmt.Errorf("reference %q has unknown type %q", template, refType)
	}
}

// parsePath splits a dotted chain into steps, expanding [n] indices. The
// expression "items[0].name" yields field items, index 0, field name.
func parsePath(expr string) ([]Step, error) {
	var steps []Step
	for _, segment := range strings.Split(expr, ".") {
		if segment == "" {
			return nil, fmt.Errorf("path %q has an empty segment", expr)
		}
		field := segment
		var indices []int
		for {
			open := strings.IndexByte(field, '[')
			if open < 0 {
				break
			}
			close := strings.IndexByte(field[open:], ']')
			if close < 0 {
				return nil, fmt.Errorf("path segment %q has an unterminated index", segment)
			}
			idx, err := strconv.Atoi(field[open+1 : open+close])
			if err != nil || idx < 0 {
				return nil, fmt.Errorf("path segment %q has an invalid index", segment)
			}
			indices = append(indices, idx)
			field = field[:open] + field[open+close+1:]
		}
		if field != "" {
			steps = append(steps, Step{Field: field})
		}
		for _, idx := range indices {
			steps = append(steps, Step{Index: idx, IsIndex: true})
		}
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("path %q is empty", expr)
	}
	return steps, nil
}

// WalkPath descends into nested JSON following the steps.
func WalkPath(value any, path []Step) (any, error) {
	current := value
	for _, step := range path {
		if step.IsIndex {
			arr, ok := current.([]any)
			if !ok {
				return nil, fmt.Errorf("step %s: value is not an array", step)
			}
			if step.Index >= len(arr) {
				return nil, fmt.Errorf("step %s: index out of range (len %d)", step, len(arr))
			}
			current = arr[step.Index]
			continue
		}
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("step %s: value is not an object", step)
		}
		next, ok := obj[step.Field]
		if !ok {
			return nil, fmt.Errorf("step %s: field is absent", step)
		}
		current = next
	}
	return current, nil
}
