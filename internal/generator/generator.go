// Package generator emits the Go implementation of planned components.
//
// Every component instance gets an unexported implementation struct whose binding methods are function-valued
// fields. Each stage of the component's chain is a method that runs the previous stage and then assigns the
// fields the stage implements, so a later stage overrides an earlier one by reassigning its field.
package generator

import (
	"fmt"
	"go/token"
	"go/types"
	"io"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/alecthomas/errors"

	"github.com/alecthomas/bindgraph/internal/binding"
	"github.com/alecthomas/bindgraph/internal/codewriter"
	"github.com/alecthomas/bindgraph/internal/component"
	"github.com/alecthomas/bindgraph/internal/plan"
	"github.com/alecthomas/bindgraph/internal/scan"
	"github.com/alecthomas/bindgraph/internal/stage"
	"github.com/alecthomas/bindgraph/internal/strcase"
)

const runtimePath = "github.com/alecthomas/bindgraph"

// Filename of the generated file.
const Filename = "bindgraph_gen.go"

// Generate the implementation of every planned component into out.
func Generate(out io.Writer, result *scan.Result, plans []*plan.Plan) error {
	w := codewriter.New(result.Dest.Name(), result.Dest.Path())
	g := &generator{w: w, result: result, impls: map[*component.Component]*impl{}}
	if err := g.prepare(plans); err != nil {
		return err
	}
	for _, root := range result.Roots {
		var err error
		root.Walk(func(c *component.Component) {
			if err == nil {
				err = g.component(g.impls[c])
			}
		})
		if err != nil {
			return err
		}
	}
	source, err := w.Bytes()
	if err != nil {
		return errors.WithStack(err)
	}
	if _, err := out.Write(source); err != nil {
		return errors.Errorf("failed to write generated code: %w", err)
	}
	return nil
}

type generator struct {
	w      *codewriter.Writer
	result *scan.Result
	impls  map[*component.Component]*impl
}

// impl is the generated implementation of one component instance.
type impl struct {
	component *component.Component
	plan      *plan.Plan
	// Name of the implementation struct.
	name string
	// Name of the function constructing the implementation.
	constructor string
	getters     map[binding.Key]string
	// Field names of stateful modules installed in the component, by module name.
	modules map[string]string
}

func (g *generator) prepare(plans []*plan.Plan) error {
	byComponent := map[*component.Component]*plan.Plan{}
	for _, p := range plans {
		byComponent[p.Component] = p
	}
	taken := map[string]bool{}
	for _, c := range g.result.Components() {
		p, ok := byComponent[c]
		if !ok {
			return errors.Errorf("%s: component has not been planned", c.PathString())
		}
		words := []string{}
		for _, n := range c.Path() {
			words = append(words, typeName(n.Type))
		}
		base := unique(taken, strcase.UpperCamel(strings.Join(words, " ")))
		im := &impl{
			component:   c,
			plan:        p,
			name:        strcase.LowerCamel(base) + "Impl",
			constructor: "new" + base + "Impl",
			getters:     map[binding.Key]string{},
			modules:     map[string]string{},
		}
		if c.Parent == nil {
			im.constructor = "Build" + base
		}
		fields := map[string]bool{"parent": true, "scope": true}
		for _, m := range c.Modules {
			if m.Stateful {
				im.modules[m.Name] = unique(fields, strcase.LowerCamel(typeName(m.Type)))
			}
		}
		for _, key := range g.keys(p) {
			im.getters[key] = unique(fields, "get"+g.keyName(key))
		}
		g.impls[c] = im
	}
	return nil
}

// keys required by any stage of the plan, ordered by key.
func (g *generator) keys(p *plan.Plan) []binding.Key {
	seen := map[binding.Key]bool{}
	var out []binding.Key
	for _, s := range p.Stages {
		for _, b := range s.Graph.Bindings() {
			if !seen[b.Key] {
				seen[b.Key] = true
				out = append(out, b.Key)
			}
		}
	}
	slices.SortFunc(out, func(a, b binding.Key) int {
		if a.Type != b.Type {
			return strings.Compare(a.Type, b.Type)
		}
		return strings.Compare(a.Qualifier, b.Qualifier)
	})
	return out
}

// keyName derives an identifier fragment from a key, eg. "PrimarySliceHandler" for @primary []Handler.
func (g *generator) keyName(key binding.Key) string {
	var name string
	if inner, ok := key.Unwrap(); ok {
		name = "Optional " + g.keyName(binding.Key{Type: inner.Type})
	} else if t, ok := g.result.Types[key]; ok {
		name = types.TypeString(t, func(*types.Package) string { return "" })
	} else {
		name = qualifiers.ReplaceAllString(key.Type, "$2")
	}
	name = strings.NewReplacer("[]", " Slice ", "map[", " Map ", "*", " ").Replace(name)
	name = strcase.UpperCamel(key.Qualifier + " " + name)
	if name == "" {
		return "Binding"
	}
	return name
}

// Matches package-qualified identifiers in a fully-qualified type string.
var qualifiers = regexp.MustCompile(`([\w\-]+[./])+(\w+)`)

func unique(taken map[string]bool, name string) string {
	if token.IsKeyword(name) {
		name += "_"
	}
	candidate := name
	for i := 2; taken[candidate]; i++ {
		candidate = name + strconv.Itoa(i)
	}
	taken[candidate] = true
	return candidate
}

func typeName(t types.Type) string {
	if named, ok := types.Unalias(t).(*types.Named); ok {
		return named.Obj().Name()
	}
	return "Component"
}

// typeOf returns a reference to the Go type of key.
func (g *generator) typeOf(key binding.Key) (string, error) {
	if t, ok := g.result.Types[key]; ok {
		return g.w.Type(t), nil
	}
	if inner, ok := key.Unwrap(); ok {
		ref, err := g.typeOf(inner)
		if err != nil {
			return "", err
		}
		return g.w.Import(runtimePath) + ".Optional[" + ref + "]", nil
	}
	return "", errors.Errorf("no Go type for %s", key)
}

func (g *generator) component(im *impl) error {
	w := g.w
	c := im.component
	iface := w.Type(c.Type)
	rt := w.Import(runtimePath)
	if c.Parent == nil {
		w.L("// %s implements %s.", im.name, c.ShortName())
	} else {
		w.L("// %s implements %s as a subcomponent of %s.", im.name, c.ShortName(), c.Parent.PathString())
	}
	w.L("type %s struct {", im.name)
	var err error
	w.In(func(w *codewriter.Writer) {
		if c.Parent != nil {
			w.L("parent *%s", g.impls[c.Parent].name)
		}
		w.L("scope *%s.Scope", rt)
		for _, m := range c.Modules {
			if field, ok := im.modules[m.Name]; ok {
				w.L("%s *%s", field, w.Type(m.Type))
			}
		}
		for _, key := range g.keys(im.plan) {
			var ref string
			if ref, err = g.typeOf(key); err != nil {
				return
			}
			w.L("%s func() (%s, error)", im.getters[key], ref)
		}
	})
	if err != nil {
		return errors.Errorf("%s: %w", c.PathString(), err)
	}
	w.L("}")
	w.L("")
	w.L("var _ %s = (*%s)(nil)", iface, im.name)
	w.L("")

	g.constructor(im, iface)
	g.scopeFor(im)
	for _, s := range im.plan.Stages {
		if err := g.stage(im, s); err != nil {
			return errors.Errorf("%s: %w", s.Stage, err)
		}
	}
	for _, entry := range c.EntryPoints {
		if err := g.entryPoint(im, entry); err != nil {
			return errors.Errorf("%s.%s: %w", c.ShortName(), entry.Name, err)
		}
	}
	return nil
}

func (g *generator) constructor(im *impl, iface string) {
	w := g.w
	c := im.component
	rt := w.Import(runtimePath)
	last := len(im.plan.Stages) - 1
	if c.Parent == nil {
		params := []string{}
		for _, m := range c.Modules {
			if field, ok := im.modules[m.Name]; ok {
				params = append(params, fmt.Sprintf("%s *%s", field, w.Type(m.Type)))
			}
		}
		w.L("// %s returns a new instance of the %s component.", im.constructor, c.ShortName())
		w.L("func %s(%s) %s {", im.constructor, strings.Join(params, ", "), iface)
		w.In(func(w *codewriter.Writer) {
			w.L("c := &%s{scope: %s.NewScope()}", im.name, rt)
			for _, m := range c.Modules {
				if field, ok := im.modules[m.Name]; ok {
					w.L("c.%s = %s", field, field)
				}
			}
			w.L("c.stage%d()", last)
			w.L("return c")
		})
	} else {
		w.L("func %s(parent *%s) *%s {", im.constructor, g.impls[c.Parent].name, im.name)
		w.In(func(w *codewriter.Writer) {
			w.L("c := &%s{parent: parent, scope: %s.NewScope()}", im.name, rt)
			for _, m := range c.Modules {
				if field, ok := im.modules[m.Name]; ok {
					w.L("c.%s = &%s{}", field, w.Type(m.Type))
				}
			}
			w.L("c.stage%d()", last)
			w.L("return c")
		})
	}
	w.L("}")
	w.L("")
}

// scopeFor returns the instance cache of the component declaring a scope.
func (g *generator) scopeFor(im *impl) {
	w := g.w
	c := im.component
	rt := w.Import(runtimePath)
	w.L("func (c *%s) scopeFor(name string) *%s.Scope {", im.name, rt)
	w.In(func(w *codewriter.Writer) {
		if c.Parent == nil {
			w.L("return c.scope")
			return
		}
		if len(c.Scopes) > 0 {
			w.L("switch name {")
			cases := make([]string, 0, len(c.Scopes))
			for _, scope := range c.Scopes {
				cases = append(cases, strconv.Quote(string(scope)))
			}
			w.L("case %s:", strings.Join(cases, ", "))
			w.In(func(w *codewriter.Writer) { w.L("return c.scope") })
			w.L("}")
		}
		w.L("return c.parent.scopeFor(name)")
	})
	w.L("}")
	w.L("")
}

func (g *generator) stage(im *impl, ps *plan.Stage) error {
	w := g.w
	s := ps.Stage
	switch {
	case s.Base() && s.Complete():
		w.L("// stage%d implements %s.", s.Depth, s.Name())
	case s.Base():
		w.L("// stage%d implements the bindings %s can provide without its ancestors.", s.Depth, s.Name())
	case s.Complete():
		w.L("// stage%d completes %s.", s.Depth, s.Name())
	default:
		w.L("// stage%d refines %s.", s.Depth, s.Name())
	}
	w.L("func (c *%s) stage%d() {", im.name, s.Depth)
	var err error
	w.In(func(w *codewriter.Writer) {
		if s.Depth > 0 {
			w.L("c.stage%d()", s.Depth-1)
		}
		var abstract []string
		for _, method := range ps.Methods {
			switch {
			case method.Shape == plan.Abstract:
				abstract = append(abstract, im.getters[method.Binding.Key])
			case method.Shape.Emitted():
				if err = g.method(im, s, method); err != nil {
					return
				}
			}
		}
		if len(abstract) > 0 {
			w.L("// Left to a later stage: %s.", strings.Join(abstract, ", "))
		}
	})
	w.L("}")
	w.L("")
	return err
}

// method assigns the field implementing a binding.
func (g *generator) method(im *impl, s *stage.Stage, method plan.Method) error {
	w := g.w
	b := method.Binding
	ref, err := g.typeOf(b.Key)
	if err != nil {
		return err
	}
	getter := im.getters[b.Key]
	rt := w.Import(runtimePath)
	body := func(w *codewriter.Writer) {
		err = g.body(w, s, b)
	}
	switch {
	case b.Scope.IsScoped() && !b.Scope.Unowned():
		w.L("c.%s = func() (%s, error) {", getter, ref)
		w.In(func(w *codewriter.Writer) {
			w.L("return %s.Scoped(c.scopeFor(%q), %q, func() (out %s, err error) {", rt, string(b.Scope), b.Key.String(), ref)
			w.In(body)
			w.L("})")
		})
		w.L("}")
	case b.Scope.IsScoped() || b.Kind == binding.Production:
		w.L("c.%s = %s.Memoize(func() (out %s, err error) {", getter, rt, ref)
		w.In(body)
		w.L("})")
	default:
		w.L("c.%s = func() (out %s, err error) {", getter, ref)
		w.In(body)
		w.L("}")
	}
	return err
}

// body of a binding method, with named results (out T, err error).
func (g *generator) body(w *codewriter.Writer, s *stage.Stage, b *binding.Binding) error {
	im := g.impls[s.Component]
	locals := &locals{g: g, im: im}
	switch b.Kind {
	case binding.Injection:
		args, err := locals.args(w, b.Dependencies)
		if err != nil {
			return err
		}
		members := make([][]string, 0, len(b.Members))
		for _, member := range b.Members {
			memberArgs, err := locals.args(w, member.Requests)
			if err != nil {
				return err
			}
			members = append(members, memberArgs)
		}
		switch {
		case b.Source == nil:
			ptr, ok := b.GoType.(*types.Pointer)
			if !ok {
				return errors.Errorf("%s: injected type must be a pointer to a struct", b.Key)
			}
			w.L("out = &%s{}", w.Type(ptr.Elem()))
		case b.ReturnsError:
			g.call(w, "out, err = ", w.Qualify(b.Source), args, b.Source.FullName())
		default:
			w.L("out = %s(%s)", w.Qualify(b.Source), strings.Join(args, ", "))
		}
		for i, member := range b.Members {
			if member.Field {
				w.L("out.%s = %s", member.Name, members[i][0])
			} else {
				w.L("out.%s(%s)", member.Name, strings.Join(members[i], ", "))
			}
		}
		w.L("return out, nil")

	case binding.Provision, binding.Production:
		args, err := locals.args(w, b.Dependencies)
		if err != nil {
			return err
		}
		fn, err := g.moduleMethod(w, s, b.Module, b.RequiresModuleInstance, b.Source)
		if err != nil {
			return err
		}
		if b.ReturnsError {
			g.call(w, "out, err = ", fn, args, b.Source.FullName())
			w.L("return out, nil")
		} else {
			w.L("return %s(%s), nil", fn, strings.Join(args, ", "))
		}

	case binding.Delegate:
		args, err := locals.args(w, b.Dependencies)
		if err != nil {
			return err
		}
		w.L("return %s, nil", args[0])

	case binding.Multibinding:
		t, ok := g.result.Types[b.Key]
		if !ok {
			return errors.Errorf("no Go type for %s", b.Key)
		}
		_, isMap := t.Underlying().(*types.Map)
		if isMap {
			w.L("out = make(%s, %d)", w.Type(t), len(b.Contributions))
		} else {
			w.L("out = make(%s, 0, %d)", w.Type(t), len(b.Contributions))
		}
		for _, contribution := range b.Contributions {
			args, err := locals.args(w, contribution.Dependencies)
			if err != nil {
				return err
			}
			fn, err := g.moduleMethod(w, s, contribution.Module, contribution.RequiresModuleInstance, contribution.Source)
			if err != nil {
				return err
			}
			element := locals.next("e")
			if contribution.ReturnsError {
				w.L("%s, err := %s(%s)", element, fn, strings.Join(args, ", "))
				w.L("if err != nil {")
				w.In(func(w *codewriter.Writer) {
					w.L("return out, %s.Errorf(\"%s: %%w\", err)", w.Import("fmt"), contribution.Source.FullName())
				})
				w.L("}")
			} else {
				w.L("%s := %s(%s)", element, fn, strings.Join(args, ", "))
			}
			if isMap {
				w.L("out[%q] = %s", contribution.MapKey, element)
			} else {
				w.L("out = append(out, %s)", element)
			}
		}
		w.L("return out, nil")

	case binding.Optional:
		rt := w.Import(runtimePath)
		if !b.Present {
			ref, err := g.typeOf(*b.Underlying)
			if err != nil {
				return err
			}
			w.L("return %s.None[%s](), nil", rt, ref)
			break
		}
		args, err := locals.args(w, b.Dependencies)
		if err != nil {
			return err
		}
		w.L("return %s.Some(%s), nil", rt, args[0])

	case binding.SubcomponentCreator:
		n, owner := ancestor(s, b.Owner)
		if owner == nil {
			return errors.Errorf("%s: owner %s is not visible", b.Key, b.Owner)
		}
		i := slices.IndexFunc(owner.Children, func(child *component.Component) bool { return child.Key() == b.Key })
		if i < 0 {
			return errors.Errorf("%s: %s does not declare subcomponent %s", b.Key, owner.ShortName(), b.Key)
		}
		w.L("return %s(%s), nil", g.impls[owner.Children[i]].constructor, self(n))

	case binding.Component:
		n, owner := ancestor(s, b.Owner)
		if owner == nil {
			return errors.Errorf("%s: component %s is not visible", b.Key, b.Owner)
		}
		w.L("return %s, nil", self(n))

	default:
		return errors.Errorf("%s: cannot implement a %s binding", b.Key, b.Kind)
	}
	return nil
}

// call emits a call to a function returning (T, error), wrapping the error with the function name.
func (g *generator) call(w *codewriter.Writer, assign, fn string, args []string, name string) {
	w.L("if %s%s(%s); err != nil {", assign, fn, strings.Join(args, ", "))
	w.In(func(w *codewriter.Writer) {
		w.L("return out, %s.Errorf(\"%s: %%w\", err)", w.Import("fmt"), name)
	})
	w.L("}")
}

// moduleMethod returns an expression referencing a module method, using the module instance of the outermost
// visible component installing the module if the method requires one.
func (g *generator) moduleMethod(w *codewriter.Writer, s *stage.Stage, moduleName string, stateful bool, fn *types.Func) (string, error) {
	module, ok := g.result.Modules[moduleName]
	if !ok || fn == nil {
		return "", errors.Errorf("unknown module %s", moduleName)
	}
	if stateful {
		visible := s.Visible()
		for n := len(visible) - 1; n >= 0; n-- {
			if field, ok := g.impls[visible[n]].modules[moduleName]; ok {
				return self(n) + "." + field + "." + fn.Name(), nil
			}
		}
		return "", errors.Errorf("module %s is not installed in a visible component", moduleName)
	}
	recv := fn.Signature().Recv()
	if recv == nil {
		return "", errors.Errorf("%s is not a method", fn.FullName())
	}
	if _, ok := recv.Type().(*types.Pointer); ok {
		return fmt.Sprintf("(&%s{}).%s", w.Type(module.Type), fn.Name()), nil
	}
	return fmt.Sprintf("(%s{}).%s", w.Type(module.Type), fn.Name()), nil
}

func (g *generator) entryPoint(im *impl, entry component.EntryPoint) error {
	w := g.w
	ref, err := g.typeOf(entry.Request.Key)
	if err != nil {
		return err
	}
	getter := im.getters[entry.Request.Key]
	result := ref
	if entry.Request.Deferred {
		result = "func() " + ref
	}
	if entry.ReturnsError {
		w.L("func (c *%s) %s() (%s, error) {", im.name, entry.Name, result)
	} else {
		w.L("func (c *%s) %s() %s {", im.name, entry.Name, result)
	}
	w.In(func(w *codewriter.Writer) {
		switch {
		case entry.Request.Deferred:
			w.L("out := func() %s {", ref)
			w.In(func(w *codewriter.Writer) { mustGet(w, "v", "c."+getter) })
			w.L("}")
			if entry.ReturnsError {
				w.L("return out, nil")
			} else {
				w.L("return out")
			}
		case entry.ReturnsError:
			w.L("return c.%s()", getter)
		default:
			mustGet(w, "out", "c."+getter)
		}
	})
	w.L("}")
	w.L("")
	return nil
}

// mustGet emits a call to a getter that panics on error and returns the value.
func mustGet(w *codewriter.Writer, name, getter string) {
	w.L("%s, err := %s()", name, getter)
	w.L("if err != nil {")
	w.In(func(w *codewriter.Writer) { w.L("panic(err)") })
	w.L("}")
	w.L("return %s", name)
}

// locals allocates local variables for the dependencies of a binding method.
type locals struct {
	g  *generator
	im *impl
	n  int
}

func (l *locals) next(prefix string) string {
	name := prefix + strconv.Itoa(l.n)
	l.n++
	return name
}

// args emits the statements fetching each request and returns the argument expressions.
func (l *locals) args(w *codewriter.Writer, requests []binding.Request) ([]string, error) {
	out := make([]string, 0, len(requests))
	for _, req := range requests {
		getter, ok := l.im.getters[req.Key]
		if !ok {
			return nil, errors.Errorf("no binding method for %s", req.Key)
		}
		name := l.next("p")
		if req.Deferred {
			ref, err := l.g.typeOf(req.Key)
			if err != nil {
				return nil, err
			}
			w.L("%s := func() %s {", name, ref)
			w.In(func(w *codewriter.Writer) { mustGet(w, "v", "c."+getter) })
			w.L("}")
		} else {
			w.L("%s, err := c.%s()", name, getter)
			w.L("if err != nil {")
			w.In(func(w *codewriter.Writer) { w.L("return out, err") })
			w.L("}")
		}
		out = append(out, name)
	}
	return out, nil
}

// ancestor returns the distance from the stage's component to the visible component named name.
func ancestor(s *stage.Stage, name string) (int, *component.Component) {
	for n, c := range s.Visible() {
		if c.Name == name {
			return n, c
		}
	}
	return 0, nil
}

// self returns the expression for the nth ancestor of the receiver.
func self(n int) string {
	return "c" + strings.Repeat(".parent", n)
}
