package db

import (
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/alderdb/alder/schema"
)

// Q holds the terms of a query: filter, ordering, paging, and field
// selection. It is an immutable value; builder methods return a
// modified copy, so a base query can be specialized without care.
//
// Field-selection calls are recorded in order and resolved against the
// bound schema (if any) when an operation assembles the wire query, so
// an unresolvable path surfaces as an error from the operation before
// anything is sent to the server.
type Q struct {
	filter        any
	sort          []string
	skip          int
	limit         int
	limitSet      bool
	hint          any
	maxTime       time.Duration
	schema        schema.Descriptor
	steps         []fieldStep
	rawProjection any
}

// fieldStep is one recorded field-selection call, kept unresolved
// until the query is assembled.
type fieldStep struct {
	directives []FieldDirective
	only       bool
	reset      bool
}

// Query returns a Q matching the given filter.
func Query(filter any) Q {
	return Q{filter: filter}
}

// Filter replaces the query's filter document.
func (q Q) Filter(filter any) Q {
	q.filter = filter
	return q
}

// Sort orders results by the given keys, mgo-style: a "-" prefix
// sorts the key descending.
func (q Q) Sort(sort ...string) Q {
	q.sort = append([]string{}, sort...)
	return q
}

// Skip drops the first n matching documents.
func (q Q) Skip(n int) Q {
	q.skip = n
	return q
}

// Limit caps the number of results. An explicit limit of zero makes
// counting operations answer zero without contacting the server.
func (q Q) Limit(n int) Q {
	q.limit = n
	q.limitSet = true
	return q
}

// Hint names the index the server should use.
func (q Q) Hint(hint any) Q {
	q.hint = hint
	return q
}

// MaxTime bounds server-side execution time.
func (q Q) MaxTime(d time.Duration) Q {
	q.maxTime = d
	return q
}

// Project sets a raw projection document, bypassing the
// field-selection algebra entirely.
func (q Q) Project(projection any) Q {
	q.rawProjection = projection
	return q
}

// WithSchema binds a document schema. Field-selection paths are then
// declared names resolved to storage names, results can be decoded
// polymorphically, and for types participating in inheritance the
// filter is constrained to the type's registered names with the
// discriminator carried by every include projection.
func (q Q) WithSchema(d schema.Descriptor) Q {
	q.schema = d
	return q
}

// Only restricts results to the given fields. Repeated calls union.
func (q Q) Only(paths ...string) Q {
	return q.step(fieldStep{directives: includeDirectives(paths), only: true})
}

// Exclude removes the given fields from results.
func (q Q) Exclude(paths ...string) Q {
	return q.step(fieldStep{directives: excludeDirectives(paths)})
}

// WithFields selects the given fields for inclusion.
func (q Q) WithFields(paths ...string) Q {
	return q.step(fieldStep{directives: includeDirectives(paths)})
}

// Fields applies a mixed group of include, exclude, and slice
// directives as one selection.
func (q Q) Fields(directives ...FieldDirective) Q {
	return q.step(fieldStep{directives: append([]FieldDirective{}, directives...)})
}

// AllFields drops every accumulated field-selection directive.
func (q Q) AllFields() Q {
	return q.step(fieldStep{reset: true})
}

func (q Q) step(s fieldStep) Q {
	steps := make([]fieldStep, 0, len(q.steps)+1)
	steps = append(steps, q.steps...)
	q.steps = append(steps, s)
	return q
}

// loadedFields folds the recorded selection steps into a FieldList,
// resolving paths through the bound schema.
func (q Q) loadedFields() (FieldList, error) {
	var always []string
	if q.schema != nil && q.schema.Discriminator() != "" {
		always = []string{q.schema.Discriminator()}
	}

	fl := NewFieldList(always...)
	for _, s := range q.steps {
		if s.reset {
			fl = fl.Reset()
			continue
		}

		if len(s.directives) == 0 {
			continue
		}

		resolved := make([]FieldDirective, 0, len(s.directives))
		for _, d := range s.directives {
			if q.schema != nil {
				path, err := schema.Resolve(q.schema, d.path)
				if err != nil {
					return FieldList{}, errors.Wrap(err, "building field projection")
				}
				d.path = path
			}
			resolved = append(resolved, d)
		}

		if s.only {
			fl = fl.apply(fieldBatch{kind: directiveInclude, directives: resolved, onlyCalled: true})
		} else {
			fl = fl.Select(resolved...)
		}
	}
	return fl, nil
}

// projection produces the projection document for the wire, or nil
// when results should come back whole.
func (q Q) projection() (any, error) {
	if q.rawProjection != nil {
		return q.rawProjection, nil
	}
	fl, err := q.loadedFields()
	if err != nil {
		return nil, err
	}
	if proj := fl.Projection(); proj != nil {
		return proj, nil
	}
	return nil, nil
}

// assembledFilter merges the caller's filter with the discriminator
// constraint of a bound polymorphic schema. A filter that already
// names the discriminator is passed through untouched.
func (q Q) assembledFilter() any {
	if q.schema == nil || q.schema.Discriminator() == "" {
		return q.filter
	}

	disc := q.schema.Discriminator()
	names := schema.TypeNames(q.schema)
	var constraint any = names[0]
	if len(names) > 1 {
		constraint = bson.M{"$in": names}
	}

	switch f := q.filter.(type) {
	case nil:
		return bson.M{disc: constraint}
	case bson.M:
		if _, ok := f[disc]; ok {
			return f
		}
		merged := bson.M{disc: constraint}
		for k, v := range f {
			merged[k] = v
		}
		return merged
	default:
		return bson.M{"$and": bson.A{bson.M{disc: constraint}, q.filter}}
	}
}

// countOptions projects the query's paging terms onto counting
// options.
func (q Q) countOptions() CountOptions {
	opts := CountOptions{
		Skip:    q.skip,
		Hint:    q.hint,
		MaxTime: q.maxTime,
	}
	if q.limitSet {
		limit := q.limit
		opts.Limit = &limit
	}
	return opts
}

// sortSpec converts mgo-style sort keys into the ordered document the
// driver wants.
func sortSpec(keys []string) bson.D {
	spec := make(bson.D, 0, len(keys))
	for _, key := range keys {
		if key == "" {
			continue
		}
		order := 1
		switch key[0] {
		case '-':
			order = -1
			key = key[1:]
		case '+':
			key = key[1:]
		}
		spec = append(spec, bson.E{Key: key, Value: order})
	}
	return spec
}
