package db

import (
	"go.mongodb.org/mongo-driver/bson"
)

// projectionMode is the state of a field selection: never restricted,
// restricted to an include set, or restricted by an exclude set.
type projectionMode int

const (
	modeUnset projectionMode = iota
	modeOnly
	modeExclude
)

type directiveKind int

const (
	directiveInclude directiveKind = iota
	directiveExclude
	directiveSlice
)

type sliceSpec struct {
	limit  int
	skip   int
	ranged bool
}

func (s sliceSpec) value() any {
	if s.ranged {
		return bson.A{s.skip, s.limit}
	}
	return s.limit
}

// FieldDirective is a single field-selection instruction applied
// through Select or a Q's field helpers.
type FieldDirective struct {
	path  string
	kind  directiveKind
	slice sliceSpec
}

// IncludeField selects a field for inclusion.
func IncludeField(path string) FieldDirective {
	return FieldDirective{path: path, kind: directiveInclude}
}

// ExcludeField removes a field from the result set.
func ExcludeField(path string) FieldDirective {
	return FieldDirective{path: path, kind: directiveExclude}
}

// SliceField limits an array field to its first limit elements, or its
// last -limit elements when limit is negative.
func SliceField(path string, limit int) FieldDirective {
	return FieldDirective{path: path, kind: directiveSlice, slice: sliceSpec{limit: limit}}
}

// SliceRangeField skips skip elements of an array field and returns
// the next limit.
func SliceRangeField(path string, skip, limit int) FieldDirective {
	return FieldDirective{path: path, kind: directiveSlice, slice: sliceSpec{skip: skip, limit: limit, ranged: true}}
}

// fieldBatch is one homogeneous group of directives applied in a
// single merge step.
type fieldBatch struct {
	kind       directiveKind
	directives []FieldDirective
	onlyCalled bool
}

// FieldList accumulates field-selection directives into the projection
// eventually sent to the server. It is an immutable value: every
// directive application returns a new list. The zero value selects
// everything.
type FieldList struct {
	mode          projectionMode
	fields        map[string]struct{}
	slices        map[string]sliceSpec
	alwaysInclude []string
	onlyCalled    bool
	idProjection  *bool
}

// NewFieldList builds a field list whose include-mode projections will
// always carry the given fields, and which will never let them be
// excluded.
func NewFieldList(alwaysInclude ...string) FieldList {
	fl := FieldList{
		fields: map[string]struct{}{},
		slices: map[string]sliceSpec{},
	}
	if len(alwaysInclude) > 0 {
		fl.alwaysInclude = append([]string{}, alwaysInclude...)
	}
	return fl
}

func (f FieldList) alwaysIncluded(path string) bool {
	for _, a := range f.alwaysInclude {
		if a == path {
			return true
		}
	}
	return false
}

func (f FieldList) clone() FieldList {
	out := f
	out.fields = make(map[string]struct{}, len(f.fields))
	for k := range f.fields {
		out.fields[k] = struct{}{}
	}
	out.slices = make(map[string]sliceSpec, len(f.slices))
	for k, v := range f.slices {
		out.slices[k] = v
	}
	return out
}

// Only restricts results to the given fields. Repeated calls union
// their field sets; calling Only after plain includes replaces the
// accumulated set instead.
func (f FieldList) Only(paths ...string) FieldList {
	return f.apply(fieldBatch{kind: directiveInclude, directives: includeDirectives(paths), onlyCalled: true})
}

// Exclude removes the given fields from results.
func (f FieldList) Exclude(paths ...string) FieldList {
	return f.apply(fieldBatch{kind: directiveExclude, directives: excludeDirectives(paths)})
}

// Slice limits an array field without changing which fields are
// selected.
func (f FieldList) Slice(path string, limit int) FieldList {
	return f.apply(fieldBatch{kind: directiveSlice, directives: []FieldDirective{SliceField(path, limit)}})
}

// SliceRange limits an array field to limit elements starting at skip.
func (f FieldList) SliceRange(path string, skip, limit int) FieldList {
	return f.apply(fieldBatch{kind: directiveSlice, directives: []FieldDirective{SliceRangeField(path, skip, limit)}})
}

// Select applies a mixed group of directives. Excludes are merged
// first, then includes, then slices, so one Select call behaves the
// same regardless of argument order.
func (f FieldList) Select(directives ...FieldDirective) FieldList {
	var excludes, includes, slices []FieldDirective
	for _, d := range directives {
		switch d.kind {
		case directiveExclude:
			excludes = append(excludes, d)
		case directiveInclude:
			includes = append(includes, d)
		case directiveSlice:
			slices = append(slices, d)
		}
	}

	out := f
	if len(excludes) > 0 {
		out = out.apply(fieldBatch{kind: directiveExclude, directives: excludes})
	}
	if len(includes) > 0 {
		out = out.apply(fieldBatch{kind: directiveInclude, directives: includes})
	}
	if len(slices) > 0 {
		out = out.apply(fieldBatch{kind: directiveSlice, directives: slices})
	}
	return out
}

// Reset drops every accumulated directive but keeps the
// always-include set.
func (f FieldList) Reset() FieldList {
	return NewFieldList(f.alwaysInclude...)
}

// Empty reports whether the list places no restriction at all on the
// result set.
func (f FieldList) Empty() bool {
	return f.mode == modeUnset && len(f.fields) == 0 && len(f.slices) == 0
}

// mergeRules gives the outcome of merging one directive batch into a
// list, keyed by the list's current mode and the incoming kind. Slice
// batches never reach the table.
var mergeRules = map[mergeKey]func(f *FieldList, incoming map[string]struct{}){
	{modeUnset, directiveInclude}: func(f *FieldList, incoming map[string]struct{}) {
		f.mode = modeOnly
		f.fields = incoming
	},
	{modeUnset, directiveExclude}: func(f *FieldList, incoming map[string]struct{}) {
		f.mode = modeExclude
		f.fields = incoming
	},
	{modeOnly, directiveInclude}: func(f *FieldList, incoming map[string]struct{}) {
		if f.onlyCalled {
			for k := range incoming {
				f.fields[k] = struct{}{}
			}
		} else {
			f.fields = incoming
		}
	},
	{modeOnly, directiveExclude}: func(f *FieldList, incoming map[string]struct{}) {
		for k := range incoming {
			delete(f.fields, k)
		}
	},
	{modeExclude, directiveInclude}: func(f *FieldList, incoming map[string]struct{}) {
		for k := range f.fields {
			delete(incoming, k)
		}
		f.mode = modeOnly
		f.fields = incoming
	},
	{modeExclude, directiveExclude}: func(f *FieldList, incoming map[string]struct{}) {
		for k := range incoming {
			f.fields[k] = struct{}{}
		}
	},
}

type mergeKey struct {
	mode projectionMode
	kind directiveKind
}

func (f FieldList) apply(b fieldBatch) FieldList {
	out := f.clone()

	if b.kind == directiveSlice {
		for _, d := range b.directives {
			out.slices[d.path] = d.slice
		}
		return out
	}

	incoming := make(map[string]struct{}, len(b.directives))
	for _, d := range b.directives {
		incoming[d.path] = struct{}{}
	}

	// An _id directive is remembered separately so that it survives
	// later mode changes.
	if _, ok := incoming["_id"]; ok {
		include := b.kind == directiveInclude
		out.idProjection = &include
	}

	mergeRules[mergeKey{out.mode, b.kind}](&out, incoming)
	if b.onlyCalled {
		out.onlyCalled = true
	}

	if len(out.alwaysInclude) > 0 {
		switch {
		case out.mode == modeOnly && len(out.fields) > 0:
			for _, a := range out.alwaysInclude {
				out.fields[a] = struct{}{}
			}
		case out.mode == modeUnset:
		default:
			for _, a := range out.alwaysInclude {
				delete(out.fields, a)
			}
		}
	}

	// Slices ride on top of whichever field set is active and are
	// dropped only when their own path is excluded outright.
	if b.kind == directiveExclude {
		for _, d := range b.directives {
			if out.alwaysIncluded(d.path) {
				continue
			}
			delete(out.slices, d.path)
		}
	}

	return out
}

// Projection renders the list as the projection document to send on
// the wire, or nil when there is nothing to send.
func (f FieldList) Projection() bson.M {
	proj := bson.M{}
	switch f.mode {
	case modeOnly:
		for k := range f.fields {
			proj[k] = 1
		}
	case modeExclude:
		for k := range f.fields {
			proj[k] = 0
		}
	}
	for p, s := range f.slices {
		proj[p] = bson.M{"$slice": s.value()}
	}
	if f.idProjection != nil {
		if *f.idProjection {
			proj["_id"] = 1
		} else {
			proj["_id"] = 0
		}
	}
	if len(proj) == 0 {
		return nil
	}
	return proj
}

func includeDirectives(paths []string) []FieldDirective {
	return directivesOf(paths, directiveInclude)
}

func excludeDirectives(paths []string) []FieldDirective {
	return directivesOf(paths, directiveExclude)
}

func directivesOf(paths []string, kind directiveKind) []FieldDirective {
	out := make([]FieldDirective, 0, len(paths))
	for _, p := range paths {
		out = append(out, FieldDirective{path: p, kind: kind})
	}
	return out
}
