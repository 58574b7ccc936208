package scan

import (
	"go/ast"
	"go/token"
	"go/types"
	"path"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/tools/go/packages"

	"github.com/alecthomas/bindgraph/internal/binding"
	"github.com/alecthomas/bindgraph/internal/component"
	"github.com/alecthomas/bindgraph/internal/diagnostics"
	"github.com/alecthomas/bindgraph/internal/directiveparser"
	"github.com/alecthomas/bindgraph/internal/resolve"
)

var errorType = types.Universe.Lookup("error").Type()

type analyser struct {
	fset   *token.FileSet
	dest   string
	report *diagnostics.Report

	modules      map[string]*component.Module
	components   map[string]*component.Component
	componentRef map[string]componentRefs
	// Constructors by key, in declaration order.
	constructors map[binding.Key][]*binding.Binding
	// Member injections by fully-qualified struct type name.
	members     map[string][]binding.MemberInjection
	memberTypes map[string]*types.Named
	types       map[binding.Key]types.Type
}

// Fully-qualified, but not yet validated, module references of a component.
type componentRefs struct {
	modules []string
}

func newAnalyser(fset *token.FileSet, dest string) *analyser {
	return &analyser{
		fset:         fset,
		dest:         dest,
		report:       &diagnostics.Report{},
		modules:      map[string]*component.Module{},
		components:   map[string]*component.Component{},
		componentRef: map[string]componentRefs{},
		constructors: map[binding.Key][]*binding.Binding{},
		members:      map[string][]binding.MemberInjection{},
		memberTypes:  map[string]*types.Named{},
		types:        map[binding.Key]types.Type{},
	}
}

func (a *analyser) analyse(pkgs []*packages.Package) *Result {
	// Types first, so that methods can find their modules regardless of declaration order.
	for _, pkg := range pkgs {
		for _, file := range pkg.Syntax {
			for _, decl := range file.Decls {
				if decl, ok := decl.(*ast.GenDecl); ok && decl.Tok == token.TYPE {
					a.typeDecl(pkg, file, decl)
				}
			}
		}
	}
	for _, pkg := range pkgs {
		for _, file := range pkg.Syntax {
			for _, decl := range file.Decls {
				if decl, ok := decl.(*ast.FuncDecl); ok {
					a.funcDecl(pkg, decl)
				}
			}
		}
	}
	decls := a.injections()
	return &Result{
		Roots:        a.hierarchies(),
		Modules:      a.modules,
		Declarations: decls,
		Types:        a.types,
	}
}

// Parse a directive from a comment. Will return (nil, nil) if a directive is not found.
func parseDirective(doc *ast.CommentGroup) (directiveparser.Directive, error) {
	if doc == nil {
		return nil, nil
	}
	for _, comment := range doc.List {
		if strings.HasPrefix(comment.Text, "//bind:") {
			return directiveparser.Parse(comment.Text[2:])
		}
	}
	return nil, nil
}

func (a *analyser) directive(doc *ast.CommentGroup, pos token.Pos) directiveparser.Directive {
	directive, err := parseDirective(doc)
	if err != nil {
		a.add(pos, diagnostics.InvalidDirective, err)
		return nil
	}
	return directive
}

func (a *analyser) add(pos token.Pos, id diagnostics.ID, args ...any) {
	a.report.Add(a.fset.Position(pos), id, args...)
}

func (a *analyser) position(pos token.Pos) token.Position { return a.fset.Position(pos) }

// private returns true if an unexported name in pkg is unreachable from the destination package.
func (a *analyser) private(name string, pkg *types.Package) bool {
	return !token.IsExported(name) && pkg != nil && pkg.Path() != a.dest
}

func (a *analyser) key(t types.Type, qualifier string) binding.Key {
	key := binding.KeyFor(t, qualifier)
	a.types[key] = t
	return key
}

// request returns the dependency edge for a parameter, field or result type.
func (a *analyser) request(t types.Type, qualifier string) binding.Request {
	if sig, ok := t.(*types.Signature); ok && sig.Params().Len() == 0 && sig.Results().Len() == 1 {
		return binding.Request{Key: a.key(sig.Results().At(0).Type(), qualifier), Deferred: true}
	}
	return binding.Request{Key: a.key(t, qualifier)}
}

func (a *analyser) requests(params *types.Tuple, qualifier string) []binding.Request {
	out := make([]binding.Request, 0, params.Len())
	for i := range params.Len() {
		out = append(out, a.request(params.At(i).Type(), qualifier))
	}
	return out
}

// result returns the provided type of a (T) or (T, error) signature.
func result(sig *types.Signature) (t types.Type, returnsError bool, ok bool) {
	results := sig.Results()
	switch {
	case results.Len() == 1:
		return results.At(0).Type(), false, true
	case results.Len() == 2 && types.Identical(results.At(1).Type(), errorType):
		return results.At(0).Type(), true, true
	default:
		return nil, false, false
	}
}

func namedOf(t types.Type) *types.Named {
	if ptr, ok := t.(*types.Pointer); ok {
		t = ptr.Elem()
	}
	named, _ := t.(*types.Named)
	return named
}

func fullName(obj types.Object) string {
	if obj.Pkg() == nil {
		return obj.Name()
	}
	return obj.Pkg().Path() + "." + obj.Name()
}

func (a *analyser) checkQualifiers(pos token.Pos, qualifiers []string) {
	if len(qualifiers) > 1 {
		a.add(pos, diagnostics.MultipleQualifiers)
	}
}

func (a *analyser) checkScopes(pos token.Pos, scopes []string) {
	if len(scopes) > 1 {
		a.add(pos, diagnostics.MultipleScopes)
	}
}

func (a *analyser) typeDecl(pkg *packages.Package, file *ast.File, decl *ast.GenDecl) {
	for _, spec := range decl.Specs {
		spec := spec.(*ast.TypeSpec) //nolint:forcetypeassert
		doc := spec.Doc
		if doc == nil && len(decl.Specs) == 1 {
			doc = decl.Doc
		}
		obj, ok := pkg.TypesInfo.Defs[spec.Name].(*types.TypeName)
		if !ok {
			continue
		}
		named, ok := obj.Type().(*types.Named)
		if !ok {
			continue
		}
		switch node := spec.Type.(type) {
		case *ast.StructType:
			a.injectFields(named, node)
		case *ast.InterfaceType:
			for _, method := range node.Methods.List {
				if directive, _ := parseDirective(method.Doc); directive != nil {
					if _, ok := directive.(*directiveparser.DirectiveInject); ok {
						a.add(method.Pos(), diagnostics.AbstractInjectMethod)
					}
				}
			}
		}

		directive := a.directive(doc, spec.Pos())
		switch directive := directive.(type) {
		case nil:
		case *directiveparser.DirectiveModule:
			structType, ok := named.Underlying().(*types.Struct)
			if !ok {
				a.add(spec.Pos(), diagnostics.InvalidDirective, "//bind:module must annotate a struct type")
				continue
			}
			a.modules[fullName(obj)] = &component.Module{
				Name:     fullName(obj),
				Position: a.position(spec.Pos()),
				Type:     named,
				Stateful: structType.NumFields() > 0,
			}
		case *directiveparser.DirectiveComponent:
			a.componentDecl(pkg, file, spec, named, directive)
		default:
			a.add(spec.Pos(), diagnostics.InvalidDirective, directive.String()+" is not valid on a type")
		}
	}
}

func (a *analyser) injectFields(named *types.Named, node *ast.StructType) {
	structType, ok := named.Underlying().(*types.Struct)
	if !ok {
		return
	}
	for _, field := range node.Fields.List {
		directive := a.directive(field.Doc, field.Pos())
		inject, ok := directive.(*directiveparser.DirectiveInject)
		if directive == nil {
			continue
		}
		if !ok {
			a.add(field.Pos(), diagnostics.InvalidDirective, directive.String()+" is not valid on a field")
			continue
		}
		a.checkQualifiers(field.Pos(), inject.Qualifiers)
		if len(inject.Scopes) > 0 {
			a.add(field.Pos(), diagnostics.InvalidDirective, "an injected field cannot be scoped")
		}
		names := field.Names
		if len(names) == 0 {
			names = []*ast.Ident{{Name: embeddedName(field.Type), NamePos: field.Type.Pos()}}
		}
		for _, name := range names {
			switch {
			case name.Name == "_":
				a.add(name.Pos(), diagnostics.FinalInjectField)
				continue
			case a.private(name.Name, named.Obj().Pkg()):
				a.add(name.Pos(), diagnostics.PrivateInjectField)
				continue
			}
			var fieldType types.Type
			for i := range structType.NumFields() {
				if structType.Field(i).Name() == name.Name {
					fieldType = structType.Field(i).Type()
				}
			}
			if fieldType == nil {
				continue
			}
			typeName := fullName(named.Obj())
			a.memberTypes[typeName] = named
			a.members[typeName] = append(a.members[typeName], binding.MemberInjection{
				Position: a.position(name.Pos()),
				Name:     name.Name,
				Field:    true,
				Requests: []binding.Request{a.request(fieldType, inject.Qualifier())},
			})
		}
	}
}

func embeddedName(expr ast.Expr) string {
	switch expr := expr.(type) {
	case *ast.StarExpr:
		return embeddedName(expr.X)
	case *ast.SelectorExpr:
		return expr.Sel.Name
	case *ast.Ident:
		return expr.Name
	case *ast.IndexExpr:
		return embeddedName(expr.X)
	default:
		return ""
	}
}

func (a *analyser) componentDecl(pkg *packages.Package, file *ast.File, spec *ast.TypeSpec, named *types.Named, directive *directiveparser.DirectiveComponent) {
	iface, ok := named.Underlying().(*types.Interface)
	if !ok {
		a.add(spec.Pos(), diagnostics.InvalidDirective, directive.String()+" must annotate an interface type")
		return
	}
	name := fullName(named.Obj())
	c := &component.Component{
		Name:         name,
		Position:     a.position(spec.Pos()),
		Type:         named,
		Subcomponent: directive.Subcomponent,
		Production:   directive.Production,
	}
	for _, scope := range directive.Scopes {
		c.Scopes = append(c.Scopes, binding.Scope(scope))
	}
	for i := range iface.NumMethods() {
		method := iface.Method(i)
		sig := method.Signature()
		t, returnsError, ok := result(sig)
		if !ok || sig.Params().Len() > 0 {
			a.add(method.Pos(), diagnostics.InvalidEntryPoint, c.ShortName()+"."+method.Name())
			continue
		}
		c.EntryPoints = append(c.EntryPoints, component.EntryPoint{
			Name:         method.Name(),
			Position:     a.position(method.Pos()),
			Request:      a.request(t, ""),
			ReturnsError: returnsError,
		})
	}
	refs := componentRefs{}
	for _, ref := range directive.Modules {
		refs.modules = append(refs.modules, resolveRef(pkg, file, ref))
	}
	for _, ref := range directive.Subcomponents {
		c.Subcomponents = append(c.Subcomponents, resolveRef(pkg, file, ref))
	}
	a.components[name] = c
	a.componentRef[name] = refs
	a.types[c.Key()] = named
}

// resolveRef resolves a possibly package-qualified type reference in file to a fully-qualified type name.
func resolveRef(pkg *packages.Package, file *ast.File, ref string) string {
	alias, name, ok := strings.Cut(ref, ".")
	if !ok {
		return pkg.PkgPath + "." + ref
	}
	for _, imp := range file.Imports {
		importPath, err := strconv.Unquote(imp.Path.Value)
		if err != nil {
			continue
		}
		var local string
		switch {
		case imp.Name != nil:
			local = imp.Name.Name
		case pkg.Imports[importPath] != nil:
			local = pkg.Imports[importPath].Name
		default:
			local = path.Base(importPath)
		}
		if local == alias {
			return importPath + "." + name
		}
	}
	return ref
}

func (a *analyser) funcDecl(pkg *packages.Package, decl *ast.FuncDecl) {
	directive := a.directive(decl.Doc, decl.Pos())
	if directive == nil {
		return
	}
	fn, ok := pkg.TypesInfo.Defs[decl.Name].(*types.Func)
	if !ok {
		return
	}
	if inject, ok := directive.(*directiveparser.DirectiveInject); ok {
		if decl.Recv == nil {
			a.constructor(decl, fn, inject)
		} else {
			a.injectMethod(decl, fn, inject)
		}
		return
	}
	module := a.moduleOf(fn)
	if module == nil {
		if _, ok := directive.(*directiveparser.DirectiveModule); ok {
			a.add(decl.Pos(), diagnostics.InvalidDirective, directive.String()+" must annotate a struct type")
			return
		}
		a.add(decl.Pos(), diagnostics.ProvisionOutsideModule, fn.FullName())
		return
	}
	switch directive := directive.(type) {
	case *directiveparser.DirectiveProvides:
		a.checkScopes(decl.Pos(), directive.Scopes)
		a.checkQualifiers(decl.Pos(), directive.Qualifiers)
		if directive.Into != "" && len(directive.Scopes) > 0 {
			a.add(decl.Pos(), diagnostics.InvalidDirective, "a multibinding contribution cannot be scoped")
			return
		}
		a.provision(decl, fn, module, binding.Provision, binding.Scope(directive.Scope()), directive.Qualifier(), directive.Into, directive.Key)
	case *directiveparser.DirectiveProduces:
		a.checkQualifiers(decl.Pos(), directive.Qualifiers)
		a.provision(decl, fn, module, binding.Production, binding.Unscoped, directive.Qualifier(), directive.Into, directive.Key)
	case *directiveparser.DirectiveBinds:
		a.checkQualifiers(decl.Pos(), directive.Qualifiers)
		sig := fn.Signature()
		if sig.Params().Len() != 1 || sig.Results().Len() != 1 {
			a.add(decl.Pos(), diagnostics.InvalidDirective, fn.FullName()+" must take one parameter and return (T)")
			return
		}
		t := sig.Results().At(0).Type()
		module.Bindings = append(module.Bindings, &binding.Binding{
			Key:          a.key(t, directive.Qualifier()),
			Kind:         binding.Delegate,
			Position:     a.position(decl.Pos()),
			Module:       module.Name,
			Dependencies: []binding.Request{{Key: a.key(sig.Params().At(0).Type(), "")}},
			Source:       fn,
			GoType:       t,
		})
	case *directiveparser.DirectiveOptional:
		a.checkQualifiers(decl.Pos(), directive.Qualifiers)
		sig := fn.Signature()
		if sig.Params().Len() != 0 || sig.Results().Len() != 1 {
			a.add(decl.Pos(), diagnostics.InvalidDirective, fn.FullName()+" must take no parameters and return (T)")
			return
		}
		module.Optionals = append(module.Optionals, a.key(sig.Results().At(0).Type(), directive.Qualifier()))
	case *directiveparser.DirectiveMultibinds:
		a.checkQualifiers(decl.Pos(), directive.Qualifiers)
		sig := fn.Signature()
		if sig.Params().Len() != 0 || sig.Results().Len() != 1 {
			a.add(decl.Pos(), diagnostics.InvalidDirective, fn.FullName()+" must take no parameters and return []T or map[string]T")
			return
		}
		key := a.key(sig.Results().At(0).Type(), directive.Qualifier())
		if !key.IsMultibindingShape() {
			a.add(decl.Pos(), diagnostics.InvalidDirective, fn.FullName()+" must return []T or map[string]T")
			return
		}
		module.Multibinds = append(module.Multibinds, key)
	default:
		a.add(decl.Pos(), diagnostics.InvalidDirective, directive.String()+" is not valid on a method")
	}
}

// moduleOf returns the module a method is declared on, or nil.
func (a *analyser) moduleOf(fn *types.Func) *component.Module {
	recv := fn.Signature().Recv()
	if recv == nil {
		return nil
	}
	named := namedOf(recv.Type())
	if named == nil {
		return nil
	}
	return a.modules[fullName(named.Obj())]
}

func (a *analyser) provision(decl *ast.FuncDecl, fn *types.Func, module *component.Module, kind binding.Kind, scope binding.Scope, qualifier, into, mapKey string) {
	t, returnsError, ok := result(fn.Signature())
	if !ok {
		a.add(decl.Pos(), diagnostics.InvalidProviderSignature, fn.FullName())
		return
	}
	deps := a.requests(fn.Signature().Params(), "")
	if into != "" {
		key := binding.Key{}
		switch into {
		case directiveparser.IntoSet:
			key = binding.SetOf(a.key(t, qualifier))
			a.types[key] = types.NewSlice(t)
		case directiveparser.IntoMap:
			key = binding.MapOf(a.key(t, qualifier))
			a.types[key] = types.NewMap(types.Typ[types.String], t)
		}
		module.Contributions = append(module.Contributions, component.Contribution{
			Key: key,
			Contribution: binding.Contribution{
				ID:                     module.Name + "." + fn.Name(),
				Position:               a.position(decl.Pos()),
				Module:                 module.Name,
				MapKey:                 mapKey,
				Dependencies:           deps,
				RequiresModuleInstance: module.Stateful,
				Production:             kind == binding.Production,
				Source:                 fn,
				ReturnsError:           returnsError,
			},
		})
		return
	}
	key := a.key(t, qualifier)
	if _, ok := key.Unwrap(); ok {
		a.add(decl.Pos(), diagnostics.InvalidDirective, fn.FullName()+" must not provide an Optional, declare the wrapped type with //bind:optional")
		return
	}
	module.Bindings = append(module.Bindings, &binding.Binding{
		Key:                    key,
		Kind:                   kind,
		Scope:                  scope,
		Position:               a.position(decl.Pos()),
		Module:                 module.Name,
		RequiresModuleInstance: module.Stateful,
		Dependencies:           deps,
		Source:                 fn,
		GoType:                 t,
		ReturnsError:           returnsError,
	})
}

func (a *analyser) constructor(decl *ast.FuncDecl, fn *types.Func, inject *directiveparser.DirectiveInject) {
	a.checkScopes(decl.Pos(), inject.Scopes)
	if len(inject.Qualifiers) > 0 {
		a.add(decl.Pos(), diagnostics.InvalidDirective, "a constructor cannot be qualified")
	}
	sig := fn.Signature()
	if sig.TypeParams().Len() > 0 {
		a.add(decl.Pos(), diagnostics.InjectConstructorOnGenericClass)
		return
	}
	if a.private(fn.Name(), fn.Pkg()) {
		a.add(decl.Pos(), diagnostics.InjectOnPrivateConstructor)
		return
	}
	t, returnsError, ok := result(sig)
	if !ok {
		a.add(decl.Pos(), diagnostics.InvalidProviderSignature, fn.FullName())
		return
	}
	if types.IsInterface(t) {
		a.add(decl.Pos(), diagnostics.InjectConstructorOnAbstractClass)
		return
	}
	named := namedOf(t)
	switch {
	case named == nil || named.Obj().Parent() != named.Obj().Pkg().Scope():
		a.add(decl.Pos(), diagnostics.InjectConstructorOnInnerClass)
		return
	case named.TypeParams().Len() > 0:
		a.add(decl.Pos(), diagnostics.InjectConstructorOnGenericClass)
		return
	case a.private(named.Obj().Name(), named.Obj().Pkg()):
		a.add(decl.Pos(), diagnostics.InjectIntoPrivateClass)
		return
	}
	key := a.key(t, "")
	if len(a.constructors[key]) > 0 {
		a.add(decl.Pos(), diagnostics.MultipleInjectConstructors)
	}
	a.constructors[key] = append(a.constructors[key], &binding.Binding{
		Key:          key,
		Kind:         binding.Injection,
		Scope:        binding.Scope(inject.Scope()),
		Position:     a.position(decl.Pos()),
		Dependencies: a.requests(sig.Params(), ""),
		Source:       fn,
		GoType:       t,
		ReturnsError: returnsError,
	})
}

func (a *analyser) injectMethod(decl *ast.FuncDecl, fn *types.Func, inject *directiveparser.DirectiveInject) {
	a.checkQualifiers(decl.Pos(), inject.Qualifiers)
	if len(inject.Scopes) > 0 {
		a.add(decl.Pos(), diagnostics.InvalidDirective, "an injected method cannot be scoped")
	}
	named := namedOf(fn.Signature().Recv().Type())
	switch {
	case named == nil:
		return
	case named.TypeParams().Len() > 0:
		a.add(decl.Pos(), diagnostics.GenericInjectMethod)
		return
	case a.private(fn.Name(), fn.Pkg()):
		a.add(decl.Pos(), diagnostics.PrivateInjectMethod)
		return
	case fn.Signature().Results().Len() > 0:
		a.add(decl.Pos(), diagnostics.InvalidDirective, "injected method "+fn.FullName()+" cannot return values")
		return
	}
	typeName := fullName(named.Obj())
	a.memberTypes[typeName] = named
	a.members[typeName] = append(a.members[typeName], binding.MemberInjection{
		Position: a.position(decl.Pos()),
		Name:     fn.Name(),
		Requests: a.requests(fn.Signature().Params(), inject.Qualifier()),
	})
}

// injections builds the injection bindings from constructors and member injections.
//
// A struct with injected members and no constructor is constructed from its zero value.
func (a *analyser) injections() *resolve.Declarations {
	out := &resolve.Declarations{Injections: map[binding.Key]*binding.Binding{}}
	constructed := map[string]bool{}
	for key, constructors := range a.constructors {
		b := *constructors[0]
		if named := namedOf(b.GoType); named != nil {
			name := fullName(named.Obj())
			constructed[name] = true
			b.Members = a.members[name]
		}
		out.Injections[key] = &b
	}
	for name, named := range a.memberTypes {
		if constructed[name] {
			continue
		}
		if _, ok := named.Underlying().(*types.Struct); !ok {
			continue
		}
		if a.private(named.Obj().Name(), named.Obj().Pkg()) {
			a.add(named.Obj().Pos(), diagnostics.InjectIntoPrivateClass)
			continue
		}
		t := types.NewPointer(named)
		key := a.key(t, "")
		out.Injections[key] = &binding.Binding{
			Key:      key,
			Kind:     binding.Injection,
			Position: a.position(named.Obj().Pos()),
			Members:  a.members[name],
			GoType:   t,
		}
	}
	return out
}

// hierarchies links modules and subcomponents into components and instantiates every root component.
func (a *analyser) hierarchies() []*component.Component {
	names := make([]string, 0, len(a.components))
	for name := range a.components {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		c := a.components[name]
		refs := a.componentRef[name]
		for _, ref := range refs.modules {
			module, ok := a.modules[ref]
			if !ok {
				a.report.Add(c.Position, diagnostics.UnknownModule, c.ShortName(), ref)
				continue
			}
			c.Modules = append(c.Modules, module)
		}
		c.Subcomponents = slices.DeleteFunc(c.Subcomponents, func(ref string) bool {
			child, ok := a.components[ref]
			if !ok || !child.Subcomponent {
				a.report.Add(c.Position, diagnostics.UnknownSubcomponent, c.ShortName(), ref)
				return true
			}
			return false
		})
	}
	var roots []*component.Component
	for _, name := range names {
		decl := a.components[name]
		if decl.Subcomponent {
			continue
		}
		root, err := component.Instantiate(decl, func(name string) *component.Component { return a.components[name] })
		if err != nil {
			a.report.Add(decl.Position, diagnostics.InvalidDirective, err)
			continue
		}
		roots = append(roots, root)
	}
	return roots
}
