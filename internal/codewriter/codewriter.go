// Package codewriter writes formatted Go source with managed imports.
package codewriter

import (
	"fmt"
	"go/format"
	"go/types"
	"path"
	"slices"
	"strconv"
	"strings"

	"github.com/alecthomas/errors"
)

// Writer accumulates the body of a Go source file.
type Writer struct {
	pkgName string
	pkgPath string
	// Import path to local name.
	imports map[string]string
	// Local name to import path.
	names  map[string]string
	body   strings.Builder
	indent int
}

// New creates a Writer for a file in the package pkgPath named pkgName.
func New(pkgName, pkgPath string) *Writer {
	return &Writer{
		pkgName: pkgName,
		pkgPath: pkgPath,
		imports: map[string]string{},
		names:   map[string]string{},
	}
}

// Import a package, returning its local name in the file.
//
// The local name is the last element of the import path, ignoring major version suffixes, with a numeric suffix
// added if another import already uses it.
func (w *Writer) Import(importPath string) string {
	return w.ImportNamed(importPath, defaultName(importPath))
}

// ImportNamed imports a package whose package clause declares name.
func (w *Writer) ImportNamed(importPath, name string) string {
	if importPath == w.pkgPath {
		return ""
	}
	if local, ok := w.imports[importPath]; ok {
		return local
	}
	local := name
	for i := 2; ; i++ {
		if _, taken := w.names[local]; !taken && local != w.pkgName {
			break
		}
		local = name + strconv.Itoa(i)
	}
	w.imports[importPath] = local
	w.names[local] = importPath
	return local
}

// Type returns a reference to t valid in the file, importing packages as required.
func (w *Writer) Type(t types.Type) string {
	return types.TypeString(t, func(pkg *types.Package) string {
		return w.ImportNamed(pkg.Path(), pkg.Name())
	})
}

// Qualify returns a reference to the package-level object obj.
func (w *Writer) Qualify(obj types.Object) string {
	if obj.Pkg() == nil {
		return obj.Name()
	}
	if local := w.ImportNamed(obj.Pkg().Path(), obj.Pkg().Name()); local != "" {
		return local + "." + obj.Name()
	}
	return obj.Name()
}

// L writes an indented, formatted line.
func (w *Writer) L(format string, args ...any) {
	w.Indent()
	w.W(format, args...)
	w.body.WriteByte('\n')
}

// W writes formatted text with no indentation or trailing newline.
func (w *Writer) W(format string, args ...any) {
	if len(args) == 0 {
		w.body.WriteString(format)
		return
	}
	fmt.Fprintf(&w.body, format, args...)
}

// Indent writes the current indentation.
func (w *Writer) Indent() {
	w.body.WriteString(strings.Repeat("\t", w.indent))
}

// In calls fn with the indentation increased by one level.
func (w *Writer) In(fn func(w *Writer)) {
	w.indent++
	defer func() { w.indent-- }()
	fn(w)
}

// Bytes returns the complete, gofmt'd, source file.
func (w *Writer) Bytes() ([]byte, error) {
	out := &strings.Builder{}
	out.WriteString("// Code generated by bindgraph. DO NOT EDIT.\n\n")
	fmt.Fprintf(out, "package %s\n\n", w.pkgName)
	if len(w.imports) > 0 {
		paths := make([]string, 0, len(w.imports))
		for importPath := range w.imports {
			paths = append(paths, importPath)
		}
		slices.Sort(paths)
		out.WriteString("import (\n")
		for _, importPath := range paths {
			if local := w.imports[importPath]; local != defaultName(importPath) {
				fmt.Fprintf(out, "\t%s %q\n", local, importPath)
			} else {
				fmt.Fprintf(out, "\t%q\n", importPath)
			}
		}
		out.WriteString(")\n\n")
	}
	out.WriteString(w.body.String())
	source := out.String()
	formatted, err := format.Source([]byte(source))
	if err != nil {
		return nil, errors.Errorf("failed to format generated code: %w\n%s", err, numbered(source))
	}
	return formatted, nil
}

func defaultName(importPath string) string {
	base := path.Base(importPath)
	if len(base) > 1 && base[0] == 'v' && strings.Trim(base[1:], "0123456789") == "" {
		base = path.Base(path.Dir(importPath))
	}
	base = strings.TrimPrefix(base, "go-")
	return strings.Map(func(r rune) rune {
		if r == '-' || r == '.' {
			return '_'
		}
		return r
	}, base)
}

func numbered(source string) string {
	lines := strings.Split(source, "\n")
	for i, line := range lines {
		lines[i] = fmt.Sprintf("%03d: %s", i+1, line)
	}
	return strings.Join(lines, "\n")
}
