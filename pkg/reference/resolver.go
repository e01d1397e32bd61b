/*
 * Copyright (C) 2025-2026, MiniflowHQ, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package reference

import (
	"context"
	"fmt"

	apierrors "github.com/miniflowhq/miniflow/pkg/errors"
	"github.com/miniflowhq/miniflow/pkg/types"
)

// Fetcher supplies the live state references resolve against. Batch methods
// are called at most once per reference type per node so resolution never
// degenerates into per-reference lookups.
type Fetcher interface {
	// BatchVariables returns plaintext values keyed by variable id. Secret
	// variables are decrypted before return.
	BatchVariables(ctx context.Context, workspaceID string, ids []string) (map[string]string, error)
	// BatchCredentials returns decrypted credential objects keyed by id.
	BatchCredentials(ctx context.Context, workspaceID string, ids []string) (map[string]map[string]any, error)
	// BatchDatabases returns connection descriptors keyed by id, passwords
	// decrypted.
	BatchDatabases(ctx context.Context, workspaceID string, ids []string) (map[string]map[string]any, error)
	// BatchFiles returns file objects ({content, metadata}) keyed by id.
	BatchFiles(ctx context.Context, workspaceID string, ids []string) (map[string]map[string]any, error)
	// NodeOutput returns the SUCCESS result data of an upstream node, or
	// ok=false when no successful output exists.
	NodeOutput(ctx context.Context, executionID, nodeID string) (any, bool, error)
}

// Input bundles what one node's resolution needs.
type Input struct {
	WorkspaceID string
	ExecutionID string
	TriggerData map[string]any
	Params      types.ParamSet
}

// Resolver turns parameter templates into concrete values.
type Resolver struct {
	fetcher Fetcher
}

// NewResolver builds a resolver over the given state fetcher.
func NewResolver(fetcher Fetcher) *Resolver {
	return &Resolver{fetcher: fetcher}
}

// Resolve produces name -> concrete value for every parameter of one node.
// Resolution is atomic per node: the first failing reference fails the whole
// call. Parameters without a value fall back to their declared default; a
// required parameter with neither fails.
func (r *Resolver) Resolve(ctx context.Context, in Input) (map[string]any, error) {
	parsed := make(map[string]Ref, len(in.Params))
	for name, param := range in.Params {
		value := param.Value
		if value == nil {
			value = param.Default
		}
		if !IsReference(value) {
			continue
		}
		ref, err := Parse(value.(string))
		if err != nil {
			return nil, apierrors.NewReferenceResolution(err.Error()).
				WithDetail("parameter", name)
		}
		parsed[name] = ref
	}

	groups, err := r.fetchGroups(ctx, in, parsed)
	if err != nil {
		return nil, err
	}

	resolved := make(map[string]any, len(in.Params))
	for name, param := range in.Params {
		value := param.Value
		if value == nil {
			value = param.Default
		}
		if value == nil {
			if param.Required {
				return nil, apierrors.NewReferenceResolution(
					fmt.Sprintf("required parameter %s has no value and no default", name)).
					WithDetail("parameter", name)
			}
			continue
		}
		if ref, ok := parsed[name]; ok {
			value, err = r.resolveRef(ctx, in, name, ref, groups)
			if err != nil {
				return nil, err
			}
		}
		coerced, err := Coerce(name, param.Type, value)
		if err != nil {
			return nil, err
		}
		resolved[name] = coerced
	}
	return resolved, nil
}

// groupData carries the per-type batches fetched for one node.
type groupData struct {
	variables   map[string]string
	credentials map[string]map[string]any
	databases   map[string]map[string]any
	files       map[string]map[string]any
}

func (r *Resolver) fetchGroups(ctx context.Context, in Input, parsed map[string]Ref) (*groupData, error) {
	byType := map[string][]string{}
	for _, ref := range parsed {
		switch ref.Type {
		case TypeValue, TypeCredential, TypeDatabase, TypeFile:
			byType[ref.Type] = append(byType[ref.Type], ref.ID)
		}
	}
	groups := &groupData{}
	var err error
	if ids := dedupe(byType[TypeValue]); len(ids) > 0 {
		if groups.variables, err = r.fetcher.BatchVariables(ctx, in.WorkspaceID, ids); err != nil {
			return nil, wrapFetchError("variable", err)
		}
	}
	if ids := dedupe(byType[TypeCredential]); len(ids) > 0 {
		if groups.credentials, err = r.fetcher.BatchCredentials(ctx, in.WorkspaceID, ids); err != nil {
			return nil, wrapFetchError("credential", err)
		}
	}
	if ids := dedupe(byType[TypeDatabase]); len(ids) > 0 {
		if groups.databases, err = r.fetcher.BatchDatabases(ctx, in.WorkspaceID, ids); err != nil {
			return nil, wrapFetchError("database", err)
		}
	}
	if ids := dedupe(byType[TypeFile]); len(ids) > 0 {
		if groups.files, err = r.fetcher.BatchFiles(ctx, in.WorkspaceID, ids); err != nil {
			return nil, wrapFetchError("file", err)
		}
	}
	return groups, nil
}

func (r *Resolver) resolveRef(ctx context.Context, in Input, name string, ref Ref, groups *groupData) (any, error) {
	switch ref.Type {
	case TypeStatic:
		return ref.ID, nil

	case TypeTrigger:
		value, err := WalkPath(anyMap(in.TriggerData), ref.Path)
		if err != nil {
			return nil, resolutionError(name, fmt.Sprintf("trigger data: %v", err))
		}
		return value, nil

	case TypeNode:
		result, ok, err := r.fetcher.NodeOutput(ctx, in.ExecutionID, ref.ID)
		if err != nil {
			return nil, wrapFetchError("node output", err)
		}
		if !ok {
			return nil, apierrors.NewNodeOutputMissing(ref.ID).WithDetail("parameter", name)
		}
		if len(ref.Path) == 0 {
			return result, nil
		}
		value, err := WalkPath(result, ref.Path)
		if err != nil {
			return nil, resolutionError(name, fmt.Sprintf("output of node %s: %v", ref.ID, err))
		}
		return value, nil

	case TypeValue:
		plain, ok := groups.variables[ref.ID]
		if !ok {
			return nil, resolutionError(name, fmt.Sprintf("variable %s not found", ref.ID))
		}
		return plain, nil

	case TypeCredential:
		obj, ok := groups.credentials[ref.ID]
		if !ok {
			return nil, resolutionError(name, fmt.Sprintf("credential %s not found", ref.ID))
		}
		return walkInto(name, "credential "+ref.ID, obj, ref.Path)

	case TypeDatabase:
		obj, ok := groups.databases[ref.ID]
		if !ok {
			return nil, resolutionError(name, fmt.Sprintf("database %s not found", ref.ID))
		}
		return walkInto(name, "database "+ref.ID, obj, ref.Path)

	case TypeFile:
		obj, ok := groups.files[ref.ID]
		if !ok {
			return nil, resolutionError(name, fmt.Sprintf("file %s not found", ref.ID))
		}
		return walkInto(name, "file "+ref.ID, obj, ref.Path)

	default:
		return nil, resolutionError(name, fmt.Sprintf("unknown reference type %q", ref.Type))
	}
}

func walkInto(param, source string, obj map[string]any, path []Step) (any, error) {
	if len(path) == 0 {
		return obj, nil
	}
	value, err := WalkPath(anyMap(obj), path)
	if err != nil {
		return nil, resolutionError(param, fmt.Sprintf("%s: %v", source, err))
	}
	return value, nil
}

// wrapFetchError keeps node-level codes (SECRET_INTEGRITY above all) visible
// to the scheduler, wrapping only uncoded failures.
func wrapFetchError(source string, err error) error {
	if apierrors.GetErrorCode(err) != "" {
		return err
	}
	return apierrors.NewReferenceResolution(fmt.Sprintf("fetching %s state: %v", source, err))
}

func resolutionError(param, message string) error {
	return apierrors.NewReferenceResolution(message).WithDetail("parameter", param)
}

func anyMap(m map[string]any) any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
