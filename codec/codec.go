// Package codec converts native values to and from backend-storable forms.
package codec

import (
	"reflect"
	"time"

	"github.com/google/uuid"
)

// timeWire is the storage form of time.Time. RFC 3339 with the fraction
// padded to full width; RFC3339Nano parsing accepts it unchanged.
const timeWire = "2006-01-02T15:04:05.000000000Z07:00"

// RecordID is an opaque record identifier. It is stored as its string form.
type RecordID string

// NewRecordID generates a fresh random identifier.
func NewRecordID() RecordID {
	return RecordID(uuid.NewString())
}

// String returns the string representation.
func (id RecordID) String() string { return string(id) }

// Converter is a typed encode/decode pair. Encode produces the storable form,
// Decode reverses it. Both are total: they return their input unchanged when
// it is not in the shape they handle.
type Converter struct {
	Encode func(v interface{}) interface{}
	Decode func(stored interface{}) interface{}
}

// Registry maps native types to converters. A registry is constructed once per
// database handle and treated as immutable afterwards; unregistered types pass
// through unchanged in both directions.
type Registry struct {
	byType map[reflect.Type]Converter
}

// NewRegistry creates a registry with converters for the built-in semantic
// types: record identifiers, UUIDs, timestamps.
func NewRegistry() *Registry {
	r := &Registry{byType: make(map[reflect.Type]Converter)}

	r.Register(reflect.TypeOf(RecordID("")), Converter{
		Encode: func(v interface{}) interface{} {
			return string(v.(RecordID))
		},
		Decode: func(stored interface{}) interface{} {
			switch s := stored.(type) {
			case string:
				return RecordID(s)
			case []byte:
				return RecordID(s)
			case RecordID:
				return s
			}
			return stored
		},
	})

	r.Register(reflect.TypeOf(uuid.UUID{}), Converter{
		Encode: func(v interface{}) interface{} {
			return v.(uuid.UUID).String()
		},
		Decode: func(stored interface{}) interface{} {
			switch s := stored.(type) {
			case string:
				if u, err := uuid.Parse(s); err == nil {
					return u
				}
			case []byte:
				if u, err := uuid.ParseBytes(s); err == nil {
					return u
				}
			case uuid.UUID:
				return s
			}
			return stored
		},
	})

	// Fixed-width UTC form: the fractional seconds are zero-padded to nine
	// digits so the stored strings order lexically the way the instants
	// order temporally. Range predicates depend on this against backends
	// that store and compare timestamps as text.
	r.Register(reflect.TypeOf(time.Time{}), Converter{
		Encode: func(v interface{}) interface{} {
			return v.(time.Time).UTC().Format(timeWire)
		},
		Decode: func(stored interface{}) interface{} {
			switch s := stored.(type) {
			case string:
				if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
					return t
				}
			case []byte:
				if t, err := time.Parse(time.RFC3339Nano, string(s)); err == nil {
					return t
				}
			case time.Time:
				return s.UTC()
			}
			return stored
		},
	})

	return r
}

// Register installs a converter for a native type, replacing any existing one.
func (r *Registry) Register(t reflect.Type, c Converter) {
	r.byType[t] = c
}

// Encode converts a native value into its storable form. Encoding an
// already-encoded value is the identity, and unregistered types pass through.
func (r *Registry) Encode(v interface{}) interface{} {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil
		}
		return r.Encode(rv.Elem().Interface())
	}
	if c, ok := r.byType[rv.Type()]; ok {
		return c.Encode(v)
	}
	return v
}

// Decode converts a stored value back into the target native type. It is the
// left inverse of Encode for every registered type; for unregistered types it
// coerces between representations the drivers commonly hand back (int64 for
// any integer column, []byte for text) and otherwise passes through.
func (r *Registry) Decode(stored interface{}, target reflect.Type) interface{} {
	if stored == nil {
		return nil
	}
	if target.Kind() == reflect.Ptr {
		inner := r.Decode(stored, target.Elem())
		if inner == nil {
			return nil
		}
		p := reflect.New(target.Elem())
		p.Elem().Set(reflect.ValueOf(inner))
		return p.Interface()
	}
	if c, ok := r.byType[target]; ok {
		return c.Decode(stored)
	}
	sv := reflect.ValueOf(stored)
	if sv.Type() == target {
		return stored
	}
	switch target.Kind() {
	case reflect.Bool:
		switch b := stored.(type) {
		case bool:
			return b
		case int64:
			return b != 0
		}
	case reflect.String:
		switch s := stored.(type) {
		case string:
			return s
		case []byte:
			return string(s)
		}
	case reflect.Slice:
		if target.Elem().Kind() == reflect.Uint8 {
			switch s := stored.(type) {
			case []byte:
				return s
			case string:
				return []byte(s)
			}
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		if isNumeric(sv.Kind()) {
			return sv.Convert(target).Interface()
		}
	}
	return stored
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
