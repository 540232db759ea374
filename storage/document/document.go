// Package document defines the document-store contract the core services are
// written against: named collections of schemaless documents with merge
// updates, filtered queries, snapshot transactions and bounded atomic batches.
package document

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// MaxBatchSize is the maximum number of write operations accepted by a single
// BatchWrite call.
const MaxBatchSize = 500

var (
	ErrNotFound      = errors.New("document not found")
	ErrExists        = errors.New("document already exists")
	ErrConflict      = errors.New("transaction conflict")
	ErrBatchTooLarge = errors.New("batch exceeds maximum write-set size")

	// DeleteField marks a field for removal in an Update's merge set.
	DeleteField = deleteField{}
	// ServerTimestamp is replaced by the store's current time at write time.
	ServerTimestamp = serverTimestamp{}
)

type (
	deleteField     struct{}
	serverTimestamp struct{}
)

// Fields holds a document's field values. Values are scalars (string, bool,
// numbers), time.Time, nil, nested Fields or the DeleteField/ServerTimestamp
// sentinels.
type Fields map[string]interface{}

type Document struct {
	ID     string
	Fields Fields
}

// String returns the string value of a field, or "" if absent or not a string.
func (f Fields) String(key string) string {
	s, _ := f[key].(string)
	return s
}

// Bool returns the bool value of a field, or false if absent or not a bool.
func (f Fields) Bool(key string) bool {
	b, _ := f[key].(bool)
	return b
}

// Time returns the time value of a field. It accepts both time.Time values
// (in-memory store) and RFC 3339 strings (JSON-backed stores).
func (f Fields) Time(key string) (time.Time, bool) {
	switch v := f[key].(type) {
	case time.Time:
		return v, true
	case string:
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Map returns a nested document field, or nil.
func (f Fields) Map(key string) Fields {
	switch v := f[key].(type) {
	case Fields:
		return v
	case map[string]interface{}:
		return Fields(v)
	}
	return nil
}

// Has reports whether the field is present and non-nil.
func (f Fields) Has(key string) bool {
	v, ok := f[key]
	return ok && v != nil
}

// Clone deep-copies the fields so callers can mutate the result freely.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch val := v.(type) {
	case Fields:
		return val.Clone()
	case map[string]interface{}:
		return Fields(val).Clone()
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

// Filter matches a document field against a string value.
type Filter struct {
	Field  string
	Prefix bool // prefix match instead of equality
	Value  string
}

func Where(field, value string) Filter {
	return Filter{Field: field, Value: value}
}

func WherePrefix(field, prefix string) Filter {
	return Filter{Field: field, Prefix: true, Value: prefix}
}

type Query struct {
	Filters    []Filter
	OrderBy    string
	Descending bool
	Limit      int
}

// WriteOp is one operation in an atomic batch.
type WriteOp struct {
	Kind       OpKind
	Collection string
	ID         string
	Fields     Fields
}

type OpKind int

const (
	OpCreate OpKind = iota
	OpUpdate
	OpDelete
)

func CreateOp(collection, id string, fields Fields) WriteOp {
	return WriteOp{Kind: OpCreate, Collection: collection, ID: id, Fields: fields}
}

func UpdateOp(collection, id string, fields Fields) WriteOp {
	return WriteOp{Kind: OpUpdate, Collection: collection, ID: id, Fields: fields}
}

func DeleteOp(collection, id string) WriteOp {
	return WriteOp{Kind: OpDelete, Collection: collection, ID: id}
}

type (
	// Tx exposes read/write handles scoped to a transaction. All reads observe
	// a consistent snapshot; the transaction function is retried on write
	// conflict.
	Tx interface {
		Get(collection, id string) (Document, error)
		Query(collection string, q Query) ([]Document, error)
		// Create inserts a new document. An empty id requests a store-assigned one;
		// the assigned id is returned.
		Create(collection, id string, fields Fields) (string, error)
		// Update merges fields into an existing document. A DeleteField value
		// removes the field; a ServerTimestamp value is replaced by the store's
		// current time.
		Update(collection, id string, fields Fields) error
		Delete(collection, id string) error
	}

	Store interface {
		Get(ctx context.Context, collection, id string) (Document, error)
		Query(ctx context.Context, collection string, q Query) ([]Document, error)
		Create(ctx context.Context, collection, id string, fields Fields) (string, error)
		Update(ctx context.Context, collection, id string, fields Fields) error
		Delete(ctx context.Context, collection, id string) error
		// RunTransaction runs fn against a consistent snapshot and commits its
		// writes atomically, retrying fn on conflict. fn must be side-effect free
		// apart from its use of the Tx.
		RunTransaction(ctx context.Context, fn func(tx Tx) error) error
		// BatchWrite applies up to MaxBatchSize operations atomically.
		BatchWrite(ctx context.Context, ops []WriteOp) error
	}
)
