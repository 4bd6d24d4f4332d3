// Package docstore implements the table facade for document backends.
//
// Network drivers live behind the Driver interface; the facade owns
// translation, codec conversion and schema reconciliation, the driver owns
// the wire. MemoryDriver in this package is an in-process implementation
// suitable for tests and embedded use.
package docstore

import "context"

// IndexSpec names one single-field index.
type IndexSpec struct {
	Name   string
	Field  string
	Unique bool
}

// SortField is one sort term for Find.
type SortField struct {
	Field string
	Desc  bool
}

// FindOptions carries pagination and ordering. Zero values mean "not set";
// a Limit of zero or less returns the full match set.
type FindOptions struct {
	Skip  int64
	Limit int64
	Sort  []SortField
}

// Driver is the narrow boundary a document backend must satisfy. Filters
// and update documents arrive in the nested key/operator map form emitted
// by the translator. Drivers report uniqueness violations with errors that
// match runtime.ErrDuplicateKey.
type Driver interface {
	EnsureCollection(ctx context.Context, name string) error
	Collections(ctx context.Context) ([]string, error)
	EnsureIndex(ctx context.Context, collection string, idx IndexSpec) error
	Indexes(ctx context.Context, collection string) ([]IndexSpec, error)

	Insert(ctx context.Context, collection string, doc map[string]interface{}) error
	Find(ctx context.Context, collection string, filter map[string]interface{}, opts FindOptions) ([]map[string]interface{}, error)
	Count(ctx context.Context, collection string, filter map[string]interface{}) (int64, error)
	Update(ctx context.Context, collection string, filter, update map[string]interface{}, one bool) (int64, error)
	Delete(ctx context.Context, collection string, filter map[string]interface{}, one bool) (int64, error)
}
