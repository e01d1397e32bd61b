/*
 * Copyright (C) 2025-2026, MiniflowHQ, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package reference

import (
	"encoding/json"
	"math"
	"strconv"

	apierrors "github.com/miniflowhq/miniflow/pkg/errors"
	"github.com/miniflowhq/miniflow/pkg/types"
)

// Coerce converts value into the declared parameter type. Email, url and
// password coerce as strings. A value that cannot be converted yields a
// TYPE_MISMATCH error naming the parameter.
func Coerce(param string, declared string, value any) (any, error) {
	switch declared {
	case types.TypeString, types.TypeEmail, types.TypeURL, types.TypePassword:
		return coerceString(param, declared, value)
	case types.TypeInteger:
		return coerceInteger(param, value)
	case types.TypeFloat:
		return coerceFloat(param, value)
	case types.TypeBoolean:
		return coerceBoolean(param, value)
	case types.TypeArray:
		return coerceArray(param, value)
	case types.TypeObject:
		return coerceObject(param, value)
	default:
		return nil, apierrors.NewTypeMismatch(param, declared, value)
	}
}

func coerceString(param, declared string, value any) (any, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case bool:
		return strconv.FormatBool(v), nil
	default:
		return nil, apierrors.NewTypeMismatch(param, declared, value)
	}
}

func coerceInteger(param string, value any) (any, error) {
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		if v != math.Trunc(v) {
			return nil, apierrors.NewTypeMismatch(param, types.TypeInteger, value)
		}
		return int64(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return nil, apierrors.NewTypeMismatch(param, types.TypeInteger, value)
		}
		return n, nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, apierrors.NewTypeMismatch(param, types.TypeInteger, value)
		}
		return n, nil
	default:
		return nil, apierrors.NewTypeMismatch(param, types.TypeInteger, value)
	}
}

func coerceFloat(param string, value any) (any, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return nil, apierrors.NewTypeMismatch(param, types.TypeFloat, value)
		}
		return f, nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, apierrors.NewTypeMismatch(param, types.TypeFloat, value)
		}
		return f, nil
	default:
		return nil, apierrors.NewTypeMismatch(param, types.TypeFloat, value)
	}
}

func coerceBoolean(param string, value any) (any, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, apierrors.NewTypeMismatch(param, types.TypeBoolean, value)
		}
		return b, nil
	default:
		return nil, apierrors.NewTypeMismatch(param, types.TypeBoolean, value)
	}
}

func coerceArray(param string, value any) (any, error) {
	switch v := value.(type) {
	case []any:
		return v, nil
	case string:
		var arr []any
		if err := json.Unmarshal([]byte(v), &arr); err != nil {
			return nil, apierrors.NewTypeMismatch(param, types.TypeArray, value)
		}
		return arr, nil
	default:
		return nil, apierrors.NewTypeMismatch(param, types.TypeArray, value)
	}
}

func coerceObject(param string, value any) (any, error) {
	switch v := value.(type) {
	case map[string]any:
		return v, nil
	case string:
		var obj map[string]any
		if err := json.Unmarshal([]byte(v), &obj); err != nil {
			return nil, apierrors.NewTypeMismatch(param, types.TypeObject, value)
		}
		return obj, nil
	default:
		return nil, apierrors.NewTypeMismatch(param, types.TypeObject, value)
	}
}
