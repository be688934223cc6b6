package schema

import (
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
)

// DescriptorFor picks the concrete descriptor for a raw document. When
// the base type declares a discriminator and the document carries one,
// the registered type with that name wins; documents without a
// discriminator decode as the base type. An unregistered name is an
// error rather than a silent fallback.
func DescriptorFor(d Descriptor, raw bson.Raw) (Descriptor, error) {
	disc := d.Discriminator()
	if disc == "" {
		return d, nil
	}
	name, ok := raw.Lookup(disc).StringValueOK()
	if !ok {
		return d, nil
	}
	if match := findNamed(d, name); match != nil {
		return match, nil
	}
	return nil, errors.Errorf("document declares unregistered type %q in field %q", name, disc)
}

// Decode unmarshals a raw document into an instance of the concrete
// type named by its discriminator. Descriptors without a factory
// produce generic bson.M documents.
func Decode(d Descriptor, raw bson.Raw) (any, error) {
	match, err := DescriptorFor(d, raw)
	if err != nil {
		return nil, err
	}

	var target any
	if factory, ok := match.(Factory); ok {
		target = factory.New()
	} else {
		target = &map[string]any{}
	}

	if err := bson.Unmarshal(raw, target); err != nil {
		return nil, errors.Wrapf(err, "decoding document as type %q", match.Name())
	}
	if m, ok := target.(*map[string]any); ok {
		return *m, nil
	}
	return target, nil
}

func findNamed(d Descriptor, name string) Descriptor {
	if d.Name() == name {
		return d
	}
	for _, sub := range d.Subclasses() {
		if match := findNamed(sub, name); match != nil {
			return match
		}
	}
	return nil
}
