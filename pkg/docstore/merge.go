package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
)

type deleteField struct{}

// DeleteField removes a key when used as a patch value
var DeleteField interface{} = deleteField{}

type arrayUnion struct {
	items []interface{}
}

// ArrayUnion appends each item to the stored array unless an equal element
// is already present. A missing or non-array field becomes a new array.
func ArrayUnion(items ...interface{}) interface{} {
	return arrayUnion{items: items}
}

// SetOption configures Set
type SetOption func(*setOptions)

type setOptions struct {
	merge bool
}

// Merge makes Set deep-merge into the existing document instead of
// replacing it. Nested maps are merged key by key.
func Merge() SetOption {
	return func(o *setOptions) { o.merge = true }
}

// Normalize converts a value to its stored JSON shape: maps become
// map[string]interface{}, numbers float64, times RFC3339 strings.
func Normalize(v interface{}) (interface{}, error) {
	switch v.(type) {
	case nil, string, bool, float64:
		return v, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize value: %w", err)
	}
	var out interface{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("failed to normalize value: %w", err)
	}
	return out, nil
}

// ApplyPatch applies a top-level merge patch to dst in place. Keys present
// in the patch replace stored keys; DeleteField and ArrayUnion values are
// interpreted instead of stored.
func ApplyPatch(dst, patch map[string]interface{}) error {
	for k, v := range patch {
		if err := applyValue(dst, k, v, false); err != nil {
			return err
		}
	}
	return nil
}

// DeepMerge merges src into dst in place, recursing into nested maps.
func DeepMerge(dst, src map[string]interface{}) error {
	for k, v := range src {
		if err := applyValue(dst, k, v, true); err != nil {
			return err
		}
	}
	return nil
}

func applyValue(dst map[string]interface{}, key string, v interface{}, deep bool) error {
	switch sv := v.(type) {
	case deleteField:
		delete(dst, key)
		return nil
	case arrayUnion:
		merged, err := union(dst[key], sv.items)
		if err != nil {
			return fmt.Errorf("field %s: %w", key, err)
		}
		dst[key] = merged
		return nil
	case map[string]interface{}:
		if deep {
			existing, ok := dst[key].(map[string]interface{})
			if !ok {
				existing = map[string]interface{}{}
			}
			if err := DeepMerge(existing, sv); err != nil {
				return err
			}
			dst[key] = existing
			return nil
		}
	}

	nv, err := Normalize(v)
	if err != nil {
		return fmt.Errorf("field %s: %w", key, err)
	}
	if deep {
		if nm, ok := nv.(map[string]interface{}); ok {
			if existing, ok := dst[key].(map[string]interface{}); ok {
				return DeepMerge(existing, nm)
			}
		}
	}
	dst[key] = nv
	return nil
}

func union(current interface{}, items []interface{}) ([]interface{}, error) {
	arr, _ := current.([]interface{})
	out := make([]interface{}, len(arr), len(arr)+len(items))
	copy(out, arr)
	for _, item := range items {
		ni, err := Normalize(item)
		if err != nil {
			return nil, err
		}
		if !containsEqual(out, ni) {
			out = append(out, ni)
		}
	}
	return out, nil
}

func containsEqual(arr []interface{}, v interface{}) bool {
	for _, e := range arr {
		if reflect.DeepEqual(e, v) {
			return true
		}
	}
	return false
}

// Set writes data to ref, replacing the document unless Merge is given
func Set(ctx context.Context, s Store, ref Ref, data map[string]interface{}, opts ...SetOption) (*Document, error) {
	var o setOptions
	for _, opt := range opts {
		opt(&o)
	}
	return s.Mutate(ctx, ref, func(current map[string]interface{}, exists bool) (map[string]interface{}, error) {
		next := current
		if !o.merge || !exists {
			next = map[string]interface{}{}
		}
		if err := DeepMerge(next, data); err != nil {
			return nil, err
		}
		return next, nil
	})
}

// Update applies a top-level merge patch to an existing document
func Update(ctx context.Context, s Store, ref Ref, patch map[string]interface{}) (*Document, error) {
	return s.Mutate(ctx, ref, func(current map[string]interface{}, exists bool) (map[string]interface{}, error) {
		if !exists {
			return nil, ErrNotFound
		}
		if err := ApplyPatch(current, patch); err != nil {
			return nil, err
		}
		return current, nil
	})
}

// Create writes a new document and fails with ErrAlreadyExists if one is present
func Create(ctx context.Context, s Store, ref Ref, data map[string]interface{}) (*Document, error) {
	return s.Mutate(ctx, ref, func(current map[string]interface{}, exists bool) (map[string]interface{}, error) {
		if exists {
			return nil, ErrAlreadyExists
		}
		next := map[string]interface{}{}
		if err := DeepMerge(next, data); err != nil {
			return nil, err
		}
		return next, nil
	})
}

// AppendToArray unions items into an array field of an existing document.
// extra is applied as a patch in the same write.
func AppendToArray(ctx context.Context, s Store, ref Ref, field string, items []interface{}, extra map[string]interface{}) (*Document, error) {
	patch := make(map[string]interface{}, len(extra)+1)
	for k, v := range extra {
		patch[k] = v
	}
	patch[field] = ArrayUnion(items...)
	return Update(ctx, s, ref, patch)
}

// IsNotFound reports whether err is ErrNotFound
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
