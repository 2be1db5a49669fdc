package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a document key does not exist.
var ErrNotFound = errors.New("store: document not found")

// Collection names used by the live session core.
const (
	CollectionUsers         = "users"
	CollectionClasses       = "classes"
	CollectionCourses       = "courses"
	CollectionSessions      = "sessions"
	CollectionProgress      = "student_progress"
	CollectionDrawings      = "drawings"
	CollectionRefreshTokens = "refresh_tokens"
	CollectionIntents       = "termination_intents"
)

// Op enumerates partial-update operations.
type Op string

const (
	OpSet         Op = "set"
	OpDelete      Op = "delete"
	OpArrayUnion  Op = "arrayUnion"
	OpArrayRemove Op = "arrayRemove"
)

// FieldUpdate mutates a single dotted field path. ArrayUnion carries set
// semantics: elements already present are not duplicated.
type FieldUpdate struct {
	Path  string
	Op    Op
	Value interface{}
}

// Set builds a set-field update.
func Set(path string, value interface{}) FieldUpdate {
	return FieldUpdate{Path: path, Op: OpSet, Value: value}
}

// Delete builds a delete-field update.
func Delete(path string) FieldUpdate {
	return FieldUpdate{Path: path, Op: OpDelete}
}

// ArrayUnion builds an idempotent array-append update.
func ArrayUnion(path string, elems ...interface{}) FieldUpdate {
	return FieldUpdate{Path: path, Op: OpArrayUnion, Value: elems}
}

// ArrayRemove builds an array-remove update.
func ArrayRemove(path string, elems ...interface{}) FieldUpdate {
	return FieldUpdate{Path: path, Op: OpArrayRemove, Value: elems}
}

// Document is a full snapshot of a stored document. Version increments on
// every write and exists so concurrent same-path writes can be detected and
// logged; resolution stays last-writer-wins.
type Document struct {
	Collection string                 `json:"collection"`
	Key        string                 `json:"key"`
	Data       map[string]interface{} `json:"data"`
	Version    int64                  `json:"version"`
	UpdatedAt  time.Time              `json:"updatedAt"`
}

// Decode unmarshals the document body into a typed value.
func (d *Document) Decode(out interface{}) error {
	raw, err := json.Marshal(d.Data)
	if err != nil {
		return fmt.Errorf("encode document %s/%s: %w", d.Collection, d.Key, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode document %s/%s: %w", d.Collection, d.Key, err)
	}
	return nil
}

// Encode converts a typed value into a document body.
func Encode(v interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	data := map[string]interface{}{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("normalize value: %w", err)
	}
	return data, nil
}

// Filter is an equality condition on a top-level field.
type Filter struct {
	Field string
	Value interface{}
}

// Query selects documents within a collection.
type Query struct {
	Filters []Filter
	OrderBy string
	Desc    bool
	Limit   int
}

// Snapshot is the callback invoked with the full current state of a watched
// document on every change, including changes made by the subscriber itself.
type Snapshot func(*Document)

// Store is the persistent document store contract: point reads and writes by
// key, atomic per-document partial updates, and change subscriptions that
// deliver snapshots (never diffs) to every subscriber.
type Store interface {
	Get(ctx context.Context, collection, key string) (*Document, error)
	Create(ctx context.Context, collection string, data map[string]interface{}) (string, error)
	Put(ctx context.Context, collection, key string, data map[string]interface{}) error

	// Update atomically applies the field updates to one document. When
	// baseVersion is non-zero and differs from the stored version the write
	// still applies (last-writer-wins) but the race is logged for audit.
	Update(ctx context.Context, collection, key string, baseVersion int64, updates ...FieldUpdate) error

	Find(ctx context.Context, collection string, q Query) ([]*Document, error)
	Delete(ctx context.Context, collection, key string) error

	// Subscribe registers fn for snapshots of collection/key. The returned
	// cancel tears the registration down; it is the only cancellation
	// primitive, in-flight writes are not cancelable.
	Subscribe(collection, key string, fn Snapshot) (cancel func())
}
