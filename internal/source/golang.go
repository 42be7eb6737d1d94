package source

import (
	"errors"
	"go/ast"
	"go/parser"
	"go/scanner"
	"go/token"
	"strconv"
)

// ParseGo parses src as a Go source file and returns its syntax errors.
func ParseGo(src string) []Diagnostic {
	_, _, err := parseGo(src)
	if err == nil {
		return nil
	}

	var list scanner.ErrorList
	if errors.As(err, &list) {
		diags := make([]Diagnostic, 0, len(list))
		for _, e := range list {
			diags = append(diags, Diagnostic{
				Line:    e.Pos.Line,
				Column:  e.Pos.Column,
				Message: e.Msg,
			})
		}
		return diags
	}
	return []Diagnostic{{Message: err.Error()}}
}

func parseGo(src string) (*ast.File, *token.FileSet, error) {
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, "main.go", src, parser.AllErrors|parser.SkipObjectResolution)
	return f, fset, err
}

// GoLiterals returns `var x = lit` and `x := lit` bindings with basic-literal
// values. Multi-value assignments are matched pairwise.
func GoLiterals(src string) ([]Literal, error) {
	f, fset, err := parseGo(src)
	if err != nil {
		return nil, err
	}

	var out []Literal
	add := func(name *ast.Ident, value ast.Expr) {
		if name == nil || name.Name == "_" {
			return
		}
		v, typ, ok := goLiteral(value)
		if !ok {
			return
		}
		out = append(out, Literal{
			Name:  name.Name,
			Value: v,
			Type:  typ,
			Line:  fset.Position(name.Pos()).Line,
		})
	}

	ast.Inspect(f, func(n ast.Node) bool {
		switch n := n.(type) {
		case *ast.ValueSpec:
			if len(n.Names) == len(n.Values) {
				for i := range n.Names {
					add(n.Names[i], n.Values[i])
				}
			}
		case *ast.AssignStmt:
			if n.Tok != token.DEFINE || len(n.Lhs) != len(n.Rhs) {
				return true
			}
			for i := range n.Lhs {
				id, _ := n.Lhs[i].(*ast.Ident)
				add(id, n.Rhs[i])
			}
		}
		return true
	})
	return out, nil
}

func goLiteral(e ast.Expr) (value, typ string, ok bool) {
	switch v := e.(type) {
	case *ast.BasicLit:
		switch v.Kind {
		case token.STRING:
			s, err := strconv.Unquote(v.Value)
			if err != nil {
				return v.Value, "string", true
			}
			return s, "string", true
		case token.INT:
			return v.Value, "int", true
		case token.FLOAT:
			return v.Value, "float64", true
		case token.CHAR:
			return v.Value, "rune", true
		case token.IMAG:
			return v.Value, "complex128", true
		}
	case *ast.Ident:
		switch v.Name {
		case "true", "false":
			return v.Name, "bool", true
		case "nil":
			return "nil", "nil", true
		}
	}
	return "", "", false
}
