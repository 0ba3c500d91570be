package vuser

import (
	"context"
	"fmt"

	"github.com/surrealdb/vuser.go/internal/codec"
)

// GetAs is Get with the result converted to T. Values decoded by a generic
// codec arrive as maps, slices and float64s; they are converted to T through
// a JSON round trip when a plain type assertion is not enough.
func GetAs[T any](ctx context.Context, u *User, key string, opts ...GetOption) (T, error) {
	var zero T
	v, err := u.Get(ctx, key, opts...)
	if err != nil {
		return zero, err
	}
	return As[T](v)
}

// As converts a cached value to T. A nil value yields T's zero value.
func As[T any](v any) (T, error) {
	var out T
	if v == nil {
		return out, nil
	}
	if t, ok := v.(T); ok {
		return t, nil
	}
	var c codec.JSON
	b, err := c.Marshal(v)
	if err != nil {
		return out, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if err := c.Unmarshal(b, &out); err != nil {
		return out, fmt.Errorf("%w: %T into %T: %w", ErrDecode, v, out, err)
	}
	return out, nil
}
