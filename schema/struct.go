package schema

import (
	"reflect"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// FromStruct derives a descriptor from a struct's bson tags. Declared
// names are the Go field names; storage names come from the tags,
// defaulting to the lower-cased field name the way the driver does.
// Nested structs, slices of structs, and string-keyed maps of structs
// become embedded document fields; fields tagged "-" are skipped and
// ",inline" structs are flattened into the parent. The derived
// descriptor carries a factory so polymorphic reads can decode
// directly into the struct type.
func FromStruct(name string, v any) (*DocumentSchema, error) {
	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return nil, errors.Errorf("deriving schema requires a struct, got %T", v)
	}
	return fromStructType(name, t, map[reflect.Type]*DocumentSchema{}), nil
}

func fromStructType(name string, t reflect.Type, seen map[reflect.Type]*DocumentSchema) *DocumentSchema {
	if s, ok := seen[t]; ok {
		return s
	}
	s := NewDocument(name)
	s.WithFactory(func() any { return reflect.New(t).Interface() })
	seen[t] = s
	addStructFields(s, t, seen)
	return s
}

func addStructFields(s *DocumentSchema, t reflect.Type, seen map[reflect.Type]*DocumentSchema) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.PkgPath != "" {
			continue
		}

		storage, opts := parseTag(f.Tag.Get("bson"))
		if storage == "-" {
			continue
		}
		if storage == "" {
			storage = strings.ToLower(f.Name)
		}

		ft := f.Type
		for ft.Kind() == reflect.Ptr {
			ft = ft.Elem()
		}

		if hasOption(opts, "inline") && ft.Kind() == reflect.Struct {
			addStructFields(s, ft, seen)
			continue
		}

		switch {
		case isEmbeddedStruct(ft):
			s.AddEmbedded(f.Name, storage, fromStructType(ft.Name(), ft, seen))
		case ft.Kind() == reflect.Slice || ft.Kind() == reflect.Array:
			elem := deref(ft.Elem())
			if isEmbeddedStruct(elem) {
				s.AddEmbeddedList(f.Name, storage, fromStructType(elem.Name(), elem, seen))
			} else {
				s.AddList(f.Name, storage)
			}
		case ft.Kind() == reflect.Map && ft.Key().Kind() == reflect.String:
			elem := deref(ft.Elem())
			if isEmbeddedStruct(elem) {
				s.AddEmbeddedMap(f.Name, storage, fromStructType(elem.Name(), elem, seen))
			} else {
				s.AddMap(f.Name, storage)
			}
		default:
			s.AddField(f.Name, storage)
		}
	}
}

// Struct types the driver persists as single values rather than
// subdocuments.
var scalarStructs = map[reflect.Type]struct{}{
	reflect.TypeOf(time.Time{}):            {},
	reflect.TypeOf(primitive.ObjectID{}):   {},
	reflect.TypeOf(primitive.Decimal128{}): {},
	reflect.TypeOf(primitive.Timestamp{}):  {},
}

func isEmbeddedStruct(t reflect.Type) bool {
	if t.Kind() != reflect.Struct {
		return false
	}
	_, scalar := scalarStructs[t]
	return !scalar
}

func deref(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}

func parseTag(tag string) (string, []string) {
	parts := strings.Split(tag, ",")
	return strings.TrimSpace(parts[0]), parts[1:]
}

func hasOption(opts []string, name string) bool {
	for _, o := range opts {
		if strings.TrimSpace(o) == name {
			return true
		}
	}
	return false
}
