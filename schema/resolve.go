package schema

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// FieldLookupError reports a dotted path that could not be resolved
// against a descriptor. It is always produced before any network
// traffic happens.
type FieldLookupError struct {
	Path     string
	Segment  string
	Document string
}

func (e *FieldLookupError) Error() string {
	return fmt.Sprintf("cannot resolve field %q in path %q for document type %q", e.Segment, e.Path, e.Document)
}

// IsFieldLookup reports whether err is (or wraps) a FieldLookupError.
func IsFieldLookup(err error) bool {
	target := &FieldLookupError{}
	return errors.As(err, &target)
}

// Resolve translates a dotted path of declared field names into the
// dotted path of storage names. Each segment must name a field
// declared on the current level or on one of its registered
// subclasses. Embedded document fields descend into their nested
// descriptor; the segment after a map field is an arbitrary key copied
// verbatim, and an all-digits segment after a list field is an index
// copied verbatim.
func Resolve(d Descriptor, path string) (string, error) {
	parts := strings.Split(path, ".")
	out := make([]string, 0, len(parts))

	level := d
	mapKey := false
	listIndex := false

	for _, seg := range parts {
		if mapKey {
			out = append(out, seg)
			mapKey = false
			continue
		}
		if listIndex && isDigits(seg) {
			out = append(out, seg)
			listIndex = false
			continue
		}
		listIndex = false

		if level == nil {
			return "", &FieldLookupError{Path: path, Segment: seg, Document: d.Name()}
		}
		f, ok := level.Field(seg)
		if !ok {
			f, ok = subclassField(level, seg)
		}
		if !ok {
			return "", &FieldLookupError{Path: path, Segment: seg, Document: level.Name()}
		}

		out = append(out, f.StorageName())
		switch f.Container() {
		case ContainerMap:
			mapKey = true
		case ContainerList:
			listIndex = true
		}
		if f.Schema() != nil {
			level = f.Schema()
		} else {
			level = nil
		}
	}

	return strings.Join(out, "."), nil
}

func subclassField(d Descriptor, name string) (Field, bool) {
	for _, sub := range d.Subclasses() {
		if f, ok := sub.Field(name); ok {
			return f, true
		}
		if f, ok := subclassField(sub, name); ok {
			return f, true
		}
	}
	return nil, false
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
