package extraction

import (
	"go/ast"
	"go/parser"
	"go/token"
	"strconv"

	"github.com/fyrsmithlabs/docgraph/internal/document"
)

// GoExtractor reads declarations from Go source with go/parser.
// Interfaces are reported as protocols and methods as extensions of their
// receiver type. Files that do not parse yield whatever was recovered.
type GoExtractor struct{}

// Extract implements Extractor.
func (GoExtractor) Extract(path, content string) document.Symbols {
	fset := token.NewFileSet()
	// ParseFile returns a partial AST alongside syntax errors.
	file, _ := parser.ParseFile(fset, path, content, parser.SkipObjectResolution)
	if file == nil {
		return document.Symbols{}
	}

	found := make(map[Field][]string)
	for _, imp := range file.Imports {
		if p, err := strconv.Unquote(imp.Path.Value); err == nil {
			found[FieldImports] = append(found[FieldImports], p)
		}
	}

	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			found[FieldFunctions] = append(found[FieldFunctions], d.Name.Name)
			if recv := receiverName(d); recv != "" {
				found[FieldExtensions] = append(found[FieldExtensions], recv)
			}
		case *ast.GenDecl:
			if d.Tok != token.TYPE {
				continue
			}
			for _, spec := range d.Specs {
				ts, ok := spec.(*ast.TypeSpec)
				if !ok {
					continue
				}
				switch ts.Type.(type) {
				case *ast.StructType:
					found[FieldStructs] = append(found[FieldStructs], ts.Name.Name)
				case *ast.InterfaceType:
					found[FieldProtocols] = append(found[FieldProtocols], ts.Name.Name)
				default:
					found[FieldClasses] = append(found[FieldClasses], ts.Name.Name)
				}
			}
		}
	}
	return buildSymbols(found)
}

func receiverName(fn *ast.FuncDecl) string {
	if fn.Recv == nil || len(fn.Recv.List) == 0 {
		return ""
	}
	expr := fn.Recv.List[0].Type
	for {
		switch t := expr.(type) {
		case *ast.StarExpr:
			expr = t.X
		case *ast.IndexExpr:
			expr = t.X
		case *ast.IndexListExpr:
			expr = t.X
		case *ast.Ident:
			return t.Name
		default:
			return ""
		}
	}
}

var _ Extractor = GoExtractor{}
