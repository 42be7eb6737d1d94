package source

import (
	"errors"
	"reflect"
	"strconv"

	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/file"
	"github.com/dop251/goja/parser"
)

// ParseJavaScript parses src as a script and returns its syntax errors.
func ParseJavaScript(src string) []Diagnostic {
	_, _, err := parseJS(src)
	return jsDiagnostics(err)
}

func parseJS(src string) (*ast.Program, *file.FileSet, error) {
	fset := &file.FileSet{}
	prog, err := parser.ParseFile(fset, "main.js", src, 0)
	return prog, fset, err
}

func jsDiagnostics(err error) []Diagnostic {
	if err == nil {
		return nil
	}

	var list parser.ErrorList
	if errors.As(err, &list) {
		diags := make([]Diagnostic, 0, len(list))
		for _, e := range list {
			diags = append(diags, Diagnostic{
				Line:    e.Position.Line,
				Column:  e.Position.Column,
				Message: e.Message,
			})
		}
		return diags
	}

	var single *parser.Error
	if errors.As(err, &single) {
		return []Diagnostic{{
			Line:    single.Position.Line,
			Column:  single.Position.Column,
			Message: single.Message,
		}}
	}

	return []Diagnostic{{Message: err.Error()}}
}

// JavaScriptLiterals walks the AST of src and returns every declaration
// binding a plain identifier to a literal. It fails only when src does not
// parse.
func JavaScriptLiterals(src string) ([]Literal, error) {
	prog, fset, err := parseJS(src)
	if err != nil {
		return nil, err
	}

	var out []Literal
	walkJS(reflect.ValueOf(prog), map[visitKey]bool{}, func(b *ast.Binding) {
		id, ok := b.Target.(*ast.Identifier)
		if !ok || b.Initializer == nil {
			return
		}
		value, typ, ok := jsLiteral(b.Initializer)
		if !ok {
			return
		}
		out = append(out, Literal{
			Name:  id.Name.String(),
			Value: value,
			Type:  typ,
			Line:  fset.Position(id.Idx).Line,
		})
	})
	return out, nil
}

func jsLiteral(expr ast.Expression) (value, typ string, ok bool) {
	switch lit := expr.(type) {
	case *ast.StringLiteral:
		return lit.Value.String(), "string", true
	case *ast.NumberLiteral:
		switch n := lit.Value.(type) {
		case int64:
			return strconv.FormatInt(n, 10), "number", true
		case float64:
			return strconv.FormatFloat(n, 'g', -1, 64), "number", true
		default:
			return lit.Literal, "number", true
		}
	case *ast.BooleanLiteral:
		return strconv.FormatBool(lit.Value), "boolean", true
	case *ast.NullLiteral:
		return "null", "object", true
	}
	return "", "", false
}

var bindingType = reflect.TypeOf((*ast.Binding)(nil))

type visitKey struct {
	t reflect.Type
	p uintptr
}

// walkJS visits every *ast.Binding reachable from v. The goja AST has no
// visitor, so the tree is traversed reflectively through exported fields.
func walkJS(v reflect.Value, seen map[visitKey]bool, visit func(*ast.Binding)) {
	switch v.Kind() {
	case reflect.Interface:
		if !v.IsNil() {
			walkJS(v.Elem(), seen, visit)
		}
	case reflect.Pointer:
		if v.IsNil() {
			return
		}
		key := visitKey{v.Type(), v.Pointer()}
		if seen[key] {
			return
		}
		seen[key] = true
		if v.Type() == bindingType && v.CanInterface() {
			visit(v.Interface().(*ast.Binding))
		}
		walkJS(v.Elem(), seen, visit)
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < v.NumField(); i++ {
			if !t.Field(i).IsExported() {
				continue
			}
			walkJS(v.Field(i), seen, visit)
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			walkJS(v.Index(i), seen, visit)
		}
	}
}
