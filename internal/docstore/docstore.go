// Package docstore is a small document database abstraction: collections of
// JSON documents addressed by id, equality queries, partial updates and atomic
// conditional increments.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"
)

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrAlreadyExists is returned when a write violates a unique field.
	ErrAlreadyExists = errors.New("document already exists")
	// ErrConditionFailed is returned by Apply when a precondition does not hold.
	ErrConditionFailed = errors.New("precondition failed")
)

// StorageError wraps a failure of the underlying database.
type StorageError struct {
	Op         string
	Collection string
	Err        error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("docstore %s %s: %v", e.Op, e.Collection, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Fields is the data of a write. Values must be JSON-encodable.
type Fields map[string]any

type serverTimestamp struct{}

// ServerTimestamp is replaced by the write time when used as a top-level field value.
var ServerTimestamp = serverTimestamp{}

// Document is a stored document.
type Document struct {
	ID         string
	Collection string
	Data       json.RawMessage
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// DataTo decodes the document body into v.
func (d Document) DataTo(v any) error {
	if err := json.Unmarshal(d.Data, v); err != nil {
		return fmt.Errorf("decode %s/%s: %w", d.Collection, d.ID, err)
	}
	return nil
}

// Filter is an equality predicate on a top-level field. A nil value matches
// documents where the field is absent or null.
type Filter struct {
	Field string
	Value any
}

// Where builds an equality filter.
func Where(field string, value any) Filter {
	return Filter{Field: field, Value: value}
}

type condOp int

const (
	condEquals condOp = iota
	condLess
	condUnsetOr
)

// Condition guards a Mutation. All conditions must hold on the stored document.
type Condition struct {
	op    condOp
	field string
	other string
	value any
}

// FieldEquals requires field == value.
func FieldEquals(field string, value any) Condition {
	return Condition{op: condEquals, field: field, value: value}
}

// FieldLess requires field < other, both numeric fields of the same document.
// A missing field counts as zero.
func FieldLess(field, other string) Condition {
	return Condition{op: condLess, field: field, other: other}
}

// FieldUnsetOr requires field to be absent, null, empty, or equal to value.
func FieldUnsetOr(field string, value any) Condition {
	return Condition{op: condUnsetOr, field: field, value: value}
}

// Mutation is applied to one document as a single atomic write.
type Mutation struct {
	Increment  map[string]int64
	Set        Fields
	Conditions []Condition
}

// Store is implemented by document store backends.
type Store interface {
	// Get returns the document or ErrNotFound.
	Get(ctx context.Context, collection, id string) (Document, error)
	// Query returns the documents matching all filters in insertion order.
	Query(ctx context.Context, collection string, filters ...Filter) ([]Document, error)
	// Add inserts a document under a generated id.
	Add(ctx context.Context, collection string, data Fields) (string, error)
	// Set creates or replaces the document with the given id.
	Set(ctx context.Context, collection, id string, data Fields) error
	// Update merges top-level fields into an existing document.
	Update(ctx context.Context, collection, id string, data Fields) error
	// Increment atomically adds delta to a numeric field.
	Increment(ctx context.Context, collection, id, field string, delta int64) error
	// Apply performs a conditional atomic mutation.
	Apply(ctx context.Context, collection, id string, m Mutation) error
	// Delete removes a document. Deleting a missing document is not an error.
	Delete(ctx context.Context, collection, id string) error
	// EnsureUnique makes field unique across the collection.
	EnsureUnique(ctx context.Context, collection, field string) error
}

var (
	fieldRe      = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)
	collectionRe = regexp.MustCompile(`^[A-Za-z0-9_]+$`)
)

func checkField(name string) error {
	if !fieldRe.MatchString(name) {
		return fmt.Errorf("invalid field name %q", name)
	}
	return nil
}

func checkCollection(name string) error {
	if !collectionRe.MatchString(name) {
		return fmt.Errorf("invalid collection name %q", name)
	}
	return nil
}

// resolve validates field names and substitutes server timestamps.
func resolve(data Fields, now time.Time) (Fields, error) {
	out := make(Fields, len(data))
	for k, v := range data {
		if err := checkField(k); err != nil {
			return nil, err
		}
		if _, ok := v.(serverTimestamp); ok {
			v = now
		}
		out[k] = v
	}
	return out, nil
}
