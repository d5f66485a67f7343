package extraction

import (
	"github.com/fyrsmithlabs/docgraph/internal/document"
)

// MaxFunctions caps the number of function names kept per file.
const MaxFunctions = 20

// Field names a Symbols slot a pattern writes into.
type Field string

const (
	FieldImports    Field = "imports"
	FieldClasses    Field = "classes"
	FieldStructs    Field = "structs"
	FieldEnums      Field = "enums"
	FieldProtocols  Field = "protocols"
	FieldExtensions Field = "extensions"
	FieldFunctions  Field = "functions"
)

// Pattern is a single regex rule. The first capture group is the symbol name.
type Pattern struct {
	Field Field  `json:"field"`
	Regex string `json:"regex"`
}

// Extractor extracts symbols from a single file.
type Extractor interface {
	Extract(path, content string) document.Symbols
}
