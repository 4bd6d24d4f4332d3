// Package model introspects record types into column descriptors.
//
// Descriptors are computed once per record type on first access and cached for
// the life of the process; callers must treat the returned slice as immutable.
package model

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stratumdb/stratum/codec"
)

// TypeTag is the semantic type of a persisted field.
type TypeTag string

const (
	ID     TypeTag = "id"
	UUID   TypeTag = "uuid"
	String TypeTag = "string"
	Int    TypeTag = "int"
	Int64  TypeTag = "int64"
	Float  TypeTag = "float"
	Bool   TypeTag = "bool"
	Bytes  TypeTag = "bytes"
	Time   TypeTag = "time"
	Opaque TypeTag = "opaque"
)

// Descriptor describes one persisted field of a record type.
type Descriptor struct {
	Name      string // Go field name
	Column    string // storage name (tag override or snake_case of Name)
	Type      TypeTag
	GoType    reflect.Type // pointer fields report their element type here
	Nullable  bool
	Unique    bool
	Indexed   bool
	MaxLength int   // 0 when unset; only meaningful for textual fields
	Index     []int // struct field index for reflect access
}

// Introspector enumerates the persisted fields of a record type in a stable,
// deterministic order. The struct-tag implementation below satisfies it; code
// generation or manual registration can substitute their own.
type Introspector interface {
	Describe(t reflect.Type) ([]Descriptor, error)
}

var cache sync.Map // reflect.Type -> []Descriptor

// Describe returns the column descriptors for a record struct type, following
// field declaration order. Tag form: `db:"column,unique,index,maxlen=N"`,
// `db:"-"` marks a field transient, pointer fields are nullable.
func Describe(t reflect.Type) ([]Descriptor, error) {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if cached, ok := cache.Load(t); ok {
		return cached.([]Descriptor), nil
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("model: %s is not a struct type", t)
	}

	var descs []Descriptor
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.PkgPath != "" { // unexported
			continue
		}
		tag := f.Tag.Get("db")
		if tag == "-" {
			continue
		}
		d, err := describeField(f, tag)
		if err != nil {
			return nil, err
		}
		descs = append(descs, d)
	}
	if len(descs) == 0 {
		return nil, fmt.Errorf("model: %s has no persisted fields", t)
	}

	actual, _ := cache.LoadOrStore(t, descs)
	return actual.([]Descriptor), nil
}

// Reflect is the struct-tag backed Introspector.
type Reflect struct{}

// Describe implements Introspector.
func (Reflect) Describe(t reflect.Type) ([]Descriptor, error) { return Describe(t) }

func describeField(f reflect.StructField, tag string) (Descriptor, error) {
	d := Descriptor{
		Name:   f.Name,
		Column: toSnakeCase(f.Name),
		GoType: f.Type,
		Index:  f.Index,
	}
	if f.Type.Kind() == reflect.Ptr {
		d.Nullable = true
		d.GoType = f.Type.Elem()
	}

	parts := strings.Split(tag, ",")
	if len(parts) > 0 && parts[0] != "" {
		d.Column = parts[0]
	}
	for _, opt := range parts[1:] {
		switch {
		case opt == "unique":
			d.Unique = true
		case opt == "index":
			d.Indexed = true
		case strings.HasPrefix(opt, "maxlen="):
			n, err := strconv.Atoi(strings.TrimPrefix(opt, "maxlen="))
			if err != nil || n <= 0 {
				return d, fmt.Errorf("model: field %s: bad maxlen option %q", f.Name, opt)
			}
			d.MaxLength = n
		case opt == "":
		default:
			return d, fmt.Errorf("model: field %s: unknown db tag option %q", f.Name, opt)
		}
	}

	d.Type = tagFor(d.GoType)
	if d.MaxLength > 0 && d.Type != String {
		return d, fmt.Errorf("model: field %s: maxlen on non-textual field", f.Name)
	}
	return d, nil
}

func tagFor(t reflect.Type) TypeTag {
	switch t {
	case reflect.TypeOf(codec.RecordID("")):
		return ID
	case reflect.TypeOf(uuid.UUID{}):
		return UUID
	case reflect.TypeOf(time.Time{}):
		return Time
	}
	switch t.Kind() {
	case reflect.String:
		return String
	case reflect.Bool:
		return Bool
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32:
		return Int
	case reflect.Int64, reflect.Uint64:
		return Int64
	case reflect.Float32, reflect.Float64:
		return Float
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return Bytes
		}
	}
	return Opaque
}

func toSnakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if i > 0 && r >= 'A' && r <= 'Z' {
			b.WriteRune('_')
		}
		b.WriteRune(r)
	}
	return strings.ToLower(b.String())
}
