// Package resolve resolves the binding graph of a single component stage.
//
// Each requested key is satisfied, in priority order, by:
//
//  1. Multibinding contributions or //bind:multibinds declarations in any visible module.
//  2. An optional wrapper around a key declared with //bind:optional.
//  3. An explicit //bind:provides, //bind:produces or //bind:binds method in a visible module.
//  4. The interface of a visible component, which resolves to the component itself.
//  5. The interface of a subcomponent declared by a visible component.
//  6. A //bind:inject constructor.
//
// An explicit binding of a key that is bound as a multibinding or optional wrapper is a duplicate binding.
//
// Anything else is missing. Missing keys are legal in an incomplete stage, because a component that is not yet
// visible may supply them, but are reported in a complete stage.
package resolve

import (
	"cmp"
	"fmt"
	"go/token"
	"slices"
	"strings"

	"github.com/alecthomas/bindgraph/internal/binding"
	"github.com/alecthomas/bindgraph/internal/component"
	"github.com/alecthomas/bindgraph/internal/diagnostics"
	"github.com/alecthomas/bindgraph/internal/stage"
)

// Declarations that are not installed in any component.
type Declarations struct {
	// Injections are //bind:inject constructors.
	Injections map[binding.Key]*binding.Binding
}

// Graph is the resolved binding graph of a stage.
type Graph struct {
	Stage       *stage.Stage
	EntryPoints []component.EntryPoint
	bindings    map[binding.Key]*binding.Binding
}

// Lookup the binding for key, or nil if the key was not required.
func (g *Graph) Lookup(key binding.Key) *binding.Binding { return g.bindings[key] }

// Len returns the number of resolved bindings.
func (g *Graph) Len() int { return len(g.bindings) }

// Bindings returns all resolved bindings, ordered by key.
func (g *Graph) Bindings() []*binding.Binding {
	out := make([]*binding.Binding, 0, len(g.bindings))
	for _, key := range sortedKeys(g.bindings) {
		out = append(out, g.bindings[key])
	}
	return out
}

// Resolve the graph required by the entry points and subcomponents of the stage's component.
//
// Violations are collected rather than returned at the first failure, so the returned graph is always usable,
// with unresolvable keys represented as missing bindings.
func Resolve(s *stage.Stage, decls *Declarations) (*Graph, *diagnostics.Report) {
	if decls == nil {
		decls = &Declarations{}
	}
	r := &resolver{
		stage:    s,
		decls:    decls,
		report:   &diagnostics.Report{},
		resolved: map[binding.Key]*binding.Binding{},
		lookups:  map[binding.Key]*binding.Binding{},
	}
	c := s.Component
	for _, entry := range c.EntryPoints {
		r.require(entry.Request.Key, c.ShortName()+"."+entry.Name, entry.Position)
	}
	for _, child := range c.Children {
		r.require(child.Key(), c.ShortName(), child.Position)
	}
	r.detectCycles()
	return &Graph{Stage: s, EntryPoints: c.EntryPoints, bindings: r.resolved}, r.report
}

type resolver struct {
	stage    *stage.Stage
	decls    *Declarations
	report   *diagnostics.Report
	resolved map[binding.Key]*binding.Binding
	// Memoised lookups, including keys that were only probed for presence.
	lookups map[binding.Key]*binding.Binding
}

type pending struct {
	key       binding.Key
	requester string
	position  token.Position
}

func (r *resolver) require(key binding.Key, requester string, pos token.Position) {
	queue := []pending{{key, requester, pos}}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if _, ok := r.resolved[next.key]; ok {
			continue
		}
		b := r.lookup(next.key)
		r.resolved[next.key] = b
		if b.Kind == binding.Missing {
			if r.stage.Complete() {
				r.report.Add(next.position, diagnostics.MissingBinding, next.key, next.requester)
			}
			continue
		}
		for _, req := range b.AllRequests() {
			if _, ok := r.resolved[req.Key]; !ok {
				queue = append(queue, pending{req.Key, b.Key.String(), b.Position})
			}
		}
	}
}

func (r *resolver) lookup(key binding.Key) *binding.Binding {
	if b, ok := r.lookups[key]; ok {
		return b
	}
	b := r.find(key)
	r.lookups[key] = b
	return b
}

func (r *resolver) find(key binding.Key) *binding.Binding {
	if b := r.findMultibinding(key); b != nil {
		r.rejectExplicit(b, "multibinding")
		return b
	}
	if b := r.findOptional(key); b != nil {
		r.rejectExplicit(b, "//bind:optional")
		return b
	}
	if b := r.findExplicit(key); b != nil {
		return b
	}
	visible := r.stage.Visible()
	for _, c := range visible {
		if c.Key() == key {
			return &binding.Binding{Key: key, Kind: binding.Component, Position: c.Position, Owner: c.Name, GoType: c.Type}
		}
	}
	for _, c := range visible {
		for _, child := range c.Children {
			if child.Key() == key {
				return &binding.Binding{Key: key, Kind: binding.SubcomponentCreator, Position: child.Position, Owner: c.Name, GoType: child.Type}
			}
		}
	}
	if injection, ok := r.decls.Injections[key]; ok && key.Qualifier == "" {
		b := *injection
		b.Owner = r.owner(&b, r.stage.Component.Name)
		return &b
	}
	return &binding.Binding{Key: key, Kind: binding.Missing}
}

func (r *resolver) findMultibinding(key binding.Key) *binding.Binding {
	var (
		contributions []binding.Contribution
		declared      bool
		seen          = map[string]bool{}
	)
	for _, c := range r.stage.Visible() {
		for _, m := range c.Modules {
			for _, contribution := range m.Contributions {
				if contribution.Key != key || seen[contribution.ID] {
					continue
				}
				seen[contribution.ID] = true
				contributions = append(contributions, contribution.Contribution)
			}
			if slices.Contains(m.Multibinds, key) {
				declared = true
			}
		}
	}
	if len(contributions) == 0 && !declared {
		return nil
	}
	if strings.HasPrefix(key.Type, "map[") {
		r.checkMapKeys(key, contributions)
	}
	return &binding.Binding{
		Key:           key,
		Kind:          binding.Multibinding,
		Contributions: contributions,
		Declared:      declared,
		Owner:         r.stage.Component.Name,
	}
}

func (r *resolver) findOptional(key binding.Key) *binding.Binding {
	inner, ok := key.Unwrap()
	if !ok {
		return nil
	}
	var declarer *component.Component
	for _, c := range r.stage.Visible() {
		for _, m := range c.Modules {
			if slices.Contains(m.Optionals, inner) {
				declarer = c
			}
		}
	}
	if declarer == nil {
		return nil
	}
	b := &binding.Binding{Key: key, Kind: binding.Optional, Underlying: &inner, Owner: declarer.Name}
	if r.lookup(inner).Kind != binding.Missing {
		b.Present = true
		b.Dependencies = []binding.Request{{Key: inner}}
	}
	return b
}

// Map multibinding contributions must have distinct keys.
func (r *resolver) checkMapKeys(key binding.Key, contributions []binding.Contribution) {
	byMapKey := map[string][]binding.Contribution{}
	var mapKeys []string
	for _, contribution := range contributions {
		if _, ok := byMapKey[contribution.MapKey]; !ok {
			mapKeys = append(mapKeys, contribution.MapKey)
		}
		byMapKey[contribution.MapKey] = append(byMapKey[contribution.MapKey], contribution)
	}
	for _, mapKey := range mapKeys {
		duplicates := byMapKey[mapKey]
		if len(duplicates) < 2 {
			continue
		}
		sources := make([]string, 0, len(duplicates))
		for _, contribution := range duplicates {
			sources = append(sources, contribution.ID)
		}
		r.report.Add(duplicates[0].Position, diagnostics.DuplicateBindings, fmt.Sprintf("%s[%q]", key, mapKey), strings.Join(sources, ", "))
	}
}

// rejectExplicit reports explicit bindings of a key that is already bound implicitly, as a multibinding or an
// optional wrapper.
func (r *resolver) rejectExplicit(implicit *binding.Binding, what string) {
	candidates, _ := r.explicitCandidates(implicit.Key)
	if len(candidates) == 0 {
		return
	}
	sources := []string{what}
	for _, candidate := range candidates {
		sources = append(sources, candidate.Position.String()+" "+candidate.Module)
	}
	r.report.Add(candidates[0].Position, diagnostics.DuplicateBindings, implicit.Key, strings.Join(sources, ", "))
}

func (r *resolver) findExplicit(key binding.Key) *binding.Binding {
	candidates, declarers := r.explicitCandidates(key)
	if len(candidates) == 0 {
		return nil
	}
	if len(candidates) > 1 {
		sources := make([]string, 0, len(candidates))
		for _, candidate := range candidates {
			sources = append(sources, candidate.Position.String()+" "+candidate.Module)
		}
		r.report.Add(candidates[0].Position, diagnostics.DuplicateBindings, key, strings.Join(sources, ", "))
	}
	b := *candidates[0]
	b.Owner = r.owner(&b, declarers[0].Name)
	return &b
}

// explicitCandidates returns the distinct explicit bindings of key in visible modules, with the outermost
// component installing each.
func (r *resolver) explicitCandidates(key binding.Key) (candidates []*binding.Binding, declarers []*component.Component) {
	for _, c := range r.stage.Visible() {
		for _, m := range c.Modules {
			for _, b := range m.Bindings {
				if b.Key != key {
					continue
				}
				// A module installed in several components declares the binding once, owned by the outermost.
				if i := slices.Index(candidates, b); i >= 0 {
					declarers[i] = c
					continue
				}
				candidates = append(candidates, b)
				declarers = append(declarers, c)
			}
		}
	}
	return candidates, declarers
}

// owner of a binding declared by declarer, taking scope into account.
func (r *resolver) owner(b *binding.Binding, declarer string) string {
	if !b.Scope.IsScoped() || b.Scope.Unowned() {
		return declarer
	}
	for _, c := range r.stage.Visible() {
		if c.DeclaresScope(b.Scope) {
			return c.Name
		}
	}
	if r.stage.Complete() {
		r.report.Add(b.Position, diagnostics.IncompatibleScope, b.Key, string(b.Scope), r.stage.Component.PathString())
	}
	return ""
}

// Report each cycle of non-deferred requests once.
func (r *resolver) detectCycles() {
	const (
		unvisited = iota
		visiting
		visited
	)
	state := map[binding.Key]int{}
	reported := map[string]bool{}
	var stack []binding.Key
	var visit func(key binding.Key)
	visit = func(key binding.Key) {
		state[key] = visiting
		stack = append(stack, key)
		b := r.resolved[key]
		for _, req := range b.AllRequests() {
			if req.Deferred {
				continue
			}
			switch state[req.Key] {
			case unvisited:
				if _, ok := r.resolved[req.Key]; ok {
					visit(req.Key)
				}
			case visiting:
				start := slices.Index(stack, req.Key)
				cycle := canonicalCycle(stack[start:])
				names := make([]string, 0, len(cycle)+1)
				for _, k := range cycle {
					names = append(names, k.String())
				}
				names = append(names, cycle[0].String())
				path := strings.Join(names, " -> ")
				if !reported[path] {
					reported[path] = true
					r.report.Add(r.resolved[cycle[0]].Position, diagnostics.DependencyCycle, path)
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[key] = visited
	}
	for _, key := range sortedKeys(r.resolved) {
		if state[key] == unvisited {
			visit(key)
		}
	}
}

// Rotate a cycle so that it starts at its smallest key.
func canonicalCycle(cycle []binding.Key) []binding.Key {
	smallest := 0
	for i, key := range cycle {
		if compareKeys(key, cycle[smallest]) < 0 {
			smallest = i
		}
	}
	out := make([]binding.Key, 0, len(cycle))
	out = append(out, cycle[smallest:]...)
	return append(out, cycle[:smallest]...)
}

func compareKeys(a, b binding.Key) int {
	return cmp.Or(cmp.Compare(a.Type, b.Type), cmp.Compare(a.Qualifier, b.Qualifier))
}

func sortedKeys(m map[binding.Key]*binding.Binding) []binding.Key {
	keys := make([]binding.Key, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	slices.SortFunc(keys, compareKeys)
	return keys
}
