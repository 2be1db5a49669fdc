package store

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// ApplyUpdates mutates a document body in place. Both store implementations
// funnel writes through here so dotted-path and array semantics stay
// identical regardless of backend.
func ApplyUpdates(data map[string]interface{}, updates []FieldUpdate) error {
	for _, u := range updates {
		if err := applyUpdate(data, u); err != nil {
			return err
		}
	}
	return nil
}

func applyUpdate(data map[string]interface{}, u FieldUpdate) error {
	if u.Path == "" {
		return fmt.Errorf("store: empty field path")
	}
	parts := strings.Split(u.Path, ".")
	parent, err := walkTo(data, parts[:len(parts)-1], u.Op != OpDelete)
	if err != nil {
		return err
	}
	if parent == nil {
		// Delete of a path whose parent never existed is a no-op.
		return nil
	}
	leaf := parts[len(parts)-1]

	switch u.Op {
	case OpSet:
		value, err := normalize(u.Value)
		if err != nil {
			return fmt.Errorf("store: normalize %s: %w", u.Path, err)
		}
		parent[leaf] = value
	case OpDelete:
		delete(parent, leaf)
	case OpArrayUnion, OpArrayRemove:
		elems, err := normalizeElems(u.Value)
		if err != nil {
			return fmt.Errorf("store: normalize %s: %w", u.Path, err)
		}
		current, ok := parent[leaf].([]interface{})
		if !ok && parent[leaf] != nil {
			return fmt.Errorf("store: %s is not an array", u.Path)
		}
		if u.Op == OpArrayUnion {
			parent[leaf] = arrayUnion(current, elems)
		} else {
			parent[leaf] = arrayRemove(current, elems)
		}
	default:
		return fmt.Errorf("store: unknown op %q", u.Op)
	}
	return nil
}

// walkTo descends the nested maps for all but the last path segment,
// creating intermediate maps when the write requires them.
func walkTo(data map[string]interface{}, parts []string, create bool) (map[string]interface{}, error) {
	current := data
	for _, part := range parts {
		next, exists := current[part]
		if !exists {
			if !create {
				return nil, nil
			}
			child := map[string]interface{}{}
			current[part] = child
			current = child
			continue
		}
		child, ok := next.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("store: %s is not a map", part)
		}
		current = child
	}
	return current, nil
}

func arrayUnion(current, elems []interface{}) []interface{} {
	result := current
	for _, elem := range elems {
		if !containsElem(result, elem) {
			result = append(result, elem)
		}
	}
	if result == nil {
		result = []interface{}{}
	}
	return result
}

func arrayRemove(current, elems []interface{}) []interface{} {
	result := make([]interface{}, 0, len(current))
	for _, existing := range current {
		if !containsElem(elems, existing) {
			result = append(result, existing)
		}
	}
	return result
}

func containsElem(arr []interface{}, elem interface{}) bool {
	for _, existing := range arr {
		if reflect.DeepEqual(existing, elem) {
			return true
		}
	}
	return false
}

// normalize round-trips a value through JSON so stored bodies contain only
// JSON types. Times become RFC 3339 strings, which also keeps lexical and
// chronological ordering aligned for timestamp-sorted queries.
func normalize(v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func normalizeElems(v interface{}) ([]interface{}, error) {
	value, err := normalize(v)
	if err != nil {
		return nil, err
	}
	elems, ok := value.([]interface{})
	if !ok {
		return []interface{}{value}, nil
	}
	return elems, nil
}

// FieldAt reads a dotted path out of a document body, returning nil when any
// segment is missing.
func FieldAt(data map[string]interface{}, path string) interface{} {
	parts := strings.Split(path, ".")
	var current interface{} = data
	for _, part := range parts {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil
		}
		current = m[part]
	}
	return current
}
