package alder

const (
	// PackageName is the import path of this module, used to name
	// tracers and other instrumentation.
	PackageName = "github.com/alderdb/alder"

	// OtelAttributeMaxLength caps the length of span attribute
	// values exported by traced operations.
	OtelAttributeMaxLength = 10000
)
