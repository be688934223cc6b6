// Package schema describes document types to the query layer: which
// fields a document declares, how declared names map to the names
// actually stored in MongoDB, and how subtypes of a common base are
// discriminated. The query layer resolves dotted field paths against
// these descriptors before anything is sent to the server.
package schema

// Container describes how a field holds its values.
type Container int

const (
	// ContainerNone is a plain single-valued field.
	ContainerNone Container = iota
	// ContainerList is an array field. Paths may traverse it
	// transparently or address one element by numeric index.
	ContainerList
	// ContainerMap is a map field keyed by arbitrary strings. The path
	// segment following a map field is a key and is never translated.
	ContainerMap
)

// Descriptor describes one document type. Implementations must be safe
// for concurrent readers once constructed.
type Descriptor interface {
	// Name is the type's registered name. For types participating in
	// inheritance it is also the value stored in the discriminator
	// field.
	Name() string

	// Field looks up a declared (application-facing) field name.
	Field(name string) (Field, bool)

	// Subclasses returns the directly registered subtypes, in
	// registration order.
	Subclasses() []Descriptor

	// Discriminator is the storage name of the field holding the
	// concrete type name, or the empty string when the type does not
	// participate in inheritance.
	Discriminator() string
}

// Field describes a single declared field.
type Field interface {
	// StorageName is the name the field is persisted under.
	StorageName() string

	// Schema is the descriptor for embedded document values, or nil
	// for scalar fields.
	Schema() Descriptor

	// Container reports whether the field holds one value, a list, or
	// a map.
	Container() Container
}

// Factory is implemented by descriptors that can construct a blank
// instance of their document type. New must return a pointer suitable
// for bson unmarshalling.
type Factory interface {
	New() any
}

// TypeNames collects the names of a descriptor and all transitively
// registered subclasses, base type first.
func TypeNames(d Descriptor) []string {
	names := []string{d.Name()}
	for _, sub := range d.Subclasses() {
		names = append(names, TypeNames(sub)...)
	}
	return names
}

// DocumentSchema is the concrete Descriptor used when schemas are
// declared by hand or derived from struct tags. The builder methods
// return the receiver so declarations chain.
type DocumentSchema struct {
	name          string
	discriminator string
	fields        map[string]*SchemaField
	subclasses    []*DocumentSchema
	factory       func() any
}

// SchemaField is the concrete Field implementation used by
// DocumentSchema.
type SchemaField struct {
	storage   string
	container Container
	schema    *DocumentSchema
}

func (f *SchemaField) StorageName() string  { return f.storage }
func (f *SchemaField) Container() Container { return f.container }

func (f *SchemaField) Schema() Descriptor {
	if f.schema == nil {
		return nil
	}
	return f.schema
}

// NewDocument starts a descriptor for the named document type.
func NewDocument(name string) *DocumentSchema {
	return &DocumentSchema{
		name:   name,
		fields: map[string]*SchemaField{},
	}
}

func (s *DocumentSchema) Name() string          { return s.name }
func (s *DocumentSchema) Discriminator() string { return s.discriminator }

func (s *DocumentSchema) Field(name string) (Field, bool) {
	f, ok := s.fields[name]
	if !ok {
		return nil, false
	}
	return f, true
}

func (s *DocumentSchema) Subclasses() []Descriptor {
	out := make([]Descriptor, 0, len(s.subclasses))
	for _, sub := range s.subclasses {
		out = append(out, sub)
	}
	return out
}

// New builds a blank instance for decoding. Without a registered
// factory it falls back to a generic document map.
func (s *DocumentSchema) New() any {
	if s.factory != nil {
		return s.factory()
	}
	return &map[string]any{}
}

// AddField declares a scalar field. The declared name is what callers
// use in query paths; the storage name is what lands in the database.
func (s *DocumentSchema) AddField(name, storage string) *DocumentSchema {
	s.fields[name] = &SchemaField{storage: storage}
	return s
}

// AddList declares an array of scalars.
func (s *DocumentSchema) AddList(name, storage string) *DocumentSchema {
	s.fields[name] = &SchemaField{storage: storage, container: ContainerList}
	return s
}

// AddMap declares a map of scalars keyed by arbitrary strings.
func (s *DocumentSchema) AddMap(name, storage string) *DocumentSchema {
	s.fields[name] = &SchemaField{storage: storage, container: ContainerMap}
	return s
}

// AddEmbedded declares a single embedded document field.
func (s *DocumentSchema) AddEmbedded(name, storage string, nested *DocumentSchema) *DocumentSchema {
	s.fields[name] = &SchemaField{storage: storage, schema: nested}
	return s
}

// AddEmbeddedList declares an array of embedded documents.
func (s *DocumentSchema) AddEmbeddedList(name, storage string, nested *DocumentSchema) *DocumentSchema {
	s.fields[name] = &SchemaField{storage: storage, container: ContainerList, schema: nested}
	return s
}

// AddEmbeddedMap declares a map of embedded documents.
func (s *DocumentSchema) AddEmbeddedMap(name, storage string, nested *DocumentSchema) *DocumentSchema {
	s.fields[name] = &SchemaField{storage: storage, container: ContainerMap, schema: nested}
	return s
}

// WithDiscriminator opts the type into inheritance, storing concrete
// type names under the given field.
func (s *DocumentSchema) WithDiscriminator(storage string) *DocumentSchema {
	s.discriminator = storage
	return s
}

// WithFactory registers a constructor for decoding. The constructor
// must return a pointer.
func (s *DocumentSchema) WithFactory(f func() any) *DocumentSchema {
	s.factory = f
	return s
}

// Subclass registers a subtype and returns its descriptor. The child
// starts with a copy of the parent's declared fields and shares its
// discriminator.
func (s *DocumentSchema) Subclass(name string) *DocumentSchema {
	child := NewDocument(name)
	child.discriminator = s.discriminator
	for declared, f := range s.fields {
		child.fields[declared] = f
	}
	s.subclasses = append(s.subclasses, child)
	return child
}
