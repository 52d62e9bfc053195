// Package properties administers schema-less properties set or removed in
// bulk across every node or every edge.
package properties

import (
	"context"
	"math"
	"strconv"
	"strings"

	"songmap/internal/apperr"
	"songmap/internal/database"
	"songmap/internal/ident"
)

// Store applies bulk property mutations
type Store interface {
	SetProperty(ctx context.Context, target database.PropertyTarget, key string, value any) (int64, error)
	RemoveProperty(ctx context.Context, target database.PropertyTarget, key string) (int64, error)
}

// Administrator validates keys and values before handing them to the store
type Administrator struct {
	store Store
}

// NewAdministrator creates an Administrator
func NewAdministrator(store Store) *Administrator {
	return &Administrator{store: store}
}

// Add parses valueText as typ and sets key to it on every member of target.
func (a *Administrator) Add(ctx context.Context, target database.PropertyTarget, key, typ, valueText string) (int64, error) {
	if err := ident.Validate("property key", key); err != nil {
		return 0, err
	}
	value, err := ParseValue(typ, valueText)
	if err != nil {
		return 0, err
	}
	return a.store.SetProperty(ctx, target, key, value)
}

// Remove deletes key from every member of target
func (a *Administrator) Remove(ctx context.Context, target database.PropertyTarget, key string) (int64, error) {
	if err := ident.Validate("property key", key); err != nil {
		return 0, err
	}
	return a.store.RemoveProperty(ctx, target, key)
}

// ParseValue converts text to the named type. Supported types are int,
// long, double, boolean and string, plus the aliases integer, float and
// bool. Booleans must be exactly "true" or "false" in any case. Text that
// does not parse fails with InvalidArgument instead of being coerced.
func ParseValue(typ, text string) (any, error) {
	switch strings.ToLower(strings.TrimSpace(typ)) {
	case "int", "integer":
		v, err := strconv.ParseInt(strings.TrimSpace(text), 10, 32)
		if err != nil {
			return nil, invalidValue(text, typ)
		}
		return int32(v), nil
	case "long":
		v, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
		if err != nil {
			return nil, invalidValue(text, typ)
		}
		return v, nil
	case "double", "float":
		v, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, invalidValue(text, typ)
		}
		return v, nil
	case "boolean", "bool":
		switch strings.ToLower(strings.TrimSpace(text)) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
		return nil, invalidValue(text, typ)
	case "string":
		return text, nil
	default:
		return nil, apperr.InvalidArgument("unsupported property type %q (must be int, long, double, boolean or string)", typ)
	}
}

func invalidValue(text, typ string) error {
	return apperr.InvalidArgument("cannot convert value %q to type %s", text, typ)
}
