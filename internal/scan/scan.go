// Package scan statically loads Go packages and extracts the //bind: declarations in them.
package scan

import (
	"context"
	"go/token"
	"go/types"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/alecthomas/errors"
	"golang.org/x/mod/modfile"
	"golang.org/x/tools/go/packages"

	"github.com/alecthomas/bindgraph/internal/binding"
	"github.com/alecthomas/bindgraph/internal/component"
	"github.com/alecthomas/bindgraph/internal/diagnostics"
	"github.com/alecthomas/bindgraph/internal/logging"
	"github.com/alecthomas/bindgraph/internal/resolve"
)

type scanOptions struct {
	// Additional package patterns to search for declarations.
	patterns []string
	tags     []string
	logger   *slog.Logger
	debug    bool
}

type Option func(*scanOptions) error

// WithPatterns adds additional package patterns to search for declarations.
func WithPatterns(patterns ...string) Option {
	return func(o *scanOptions) error {
		o.patterns = append(o.patterns, patterns...)
		return nil
	}
}

// WithTags sets the build tags used to load packages.
func WithTags(tags ...string) Option {
	return func(o *scanOptions) error {
		for _, tag := range tags {
			if strings.ContainsAny(tag, " ,") {
				return errors.Errorf("invalid build tag %q", tag)
			}
		}
		o.tags = append(o.tags, tags...)
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *scanOptions) error {
		o.logger = logger
		return nil
	}
}

// WithDebug enables debug logging of package loading.
func WithDebug(enable bool) Option {
	return func(o *scanOptions) error {
		o.debug = enable
		return nil
	}
}

func WithOptions(options ...Option) Option {
	return func(o *scanOptions) error {
		for _, opt := range options {
			err := opt(o)
			if err != nil {
				return errors.WithStack(err)
			}
		}
		return nil
	}
}

// Result of scanning a set of packages.
type Result struct {
	// Dest is the package generated code is written to.
	Dest *types.Package
	// Roots are the instantiated hierarchies of root components, ordered by name.
	Roots []*component.Component
	// Modules by fully-qualified type name.
	Modules      map[string]*component.Module
	Declarations *resolve.Declarations
	// Types of every key referenced by a declaration.
	Types map[binding.Key]types.Type
}

// Components returns every instantiated component, parents before children.
func (r *Result) Components() []*component.Component {
	var out []*component.Component
	for _, root := range r.Roots {
		root.Walk(func(c *component.Component) { out = append(out, c) })
	}
	return out
}

// Analyse statically loads Go packages, then analyses them for //bind: directives.
//
// A returned error is a failure to load the packages. Invalid declarations are collected in the returned report.
func Analyse(ctx context.Context, dest string, options ...Option) (*Result, *diagnostics.Report, error) {
	opts := &scanOptions{logger: slog.New(slog.DiscardHandler)}
	if err := WithOptions(options...)(opts); err != nil {
		return nil, nil, err
	}

	destImport, err := importPathForDir(dest)
	if err != nil {
		return nil, nil, errors.Errorf("failed to determine import path for destination directory %s: %w", dest, err)
	}

	fset := token.NewFileSet()
	cfg := &packages.Config{
		Context: ctx,
		Fset:    fset,
		Mode: packages.NeedName | packages.NeedFiles | packages.NeedCompiledGoFiles |
			packages.NeedImports | packages.NeedTypes | packages.NeedSyntax |
			packages.NeedTypesInfo,
	}
	if opts.debug {
		cfg.Logf = logging.Legacy(opts.logger, slog.LevelDebug).Printf
	}
	if len(opts.tags) > 0 {
		cfg.BuildFlags = []string{"-tags=" + strings.Join(opts.tags, ",")}
	}
	pattern := dest
	if modfile.IsDirectoryPath(dest) {
		// Load relative to the destination, so that its module or workspace is used.
		if cfg.Dir, err = filepath.Abs(dest); err != nil {
			return nil, nil, errors.WithStack(err)
		}
		pattern = "."
	}
	pkgs, err := packages.Load(cfg, append(slices.Clone(opts.patterns), pattern)...)
	if err != nil {
		return nil, nil, errors.Errorf("failed to load packages: %w", err)
	}
	opts.logger.Debug("Loaded packages", "count", len(pkgs), "dest", destImport)

	a := newAnalyser(fset, destImport)
	var destPkg *types.Package
	for _, pkg := range pkgs {
		if len(pkg.Errors) > 0 {
			return nil, nil, errors.Errorf("%s: %s", pkg.PkgPath, pkg.Errors[0])
		}
		if pkg.PkgPath == destImport {
			destPkg = pkg.Types
		}
	}
	if destPkg == nil {
		return nil, nil, errors.Errorf("destination package %q not found", destImport)
	}
	result := a.analyse(pkgs)
	result.Dest = destPkg
	for _, c := range result.Components() {
		opts.logger.Debug("Found component", "component", c.PathString(), "modules", len(c.Modules), "entry-points", len(c.EntryPoints))
	}
	return result, a.report, nil
}

func importPathForDir(dir string) (string, error) {
	if !modfile.IsDirectoryPath(dir) {
		return dir, nil
	}
	root, err := filepath.Abs(dir)
	if err != nil {
		return "", errors.Errorf("failed to get absolute path for directory %s: %w", dir, err)
	}
	dir = root
	for {
		if _, err := os.Stat(filepath.Join(root, "go.mod")); err == nil {
			break
		}
		if root == filepath.Dir(root) {
			return "", errors.Errorf("couldn't find a go.mod file above %s", dir)
		}
		root = filepath.Dir(root)
	}
	dir, err = filepath.Rel(root, dir)
	if err != nil {
		return "", errors.Errorf("failed to get relative path for directory %s: %w", dir, err)
	}
	goModPath := filepath.Join(root, "go.mod")
	data, err := os.ReadFile(goModPath) //nolint
	if err != nil {
		return "", errors.Errorf("failed to read go.mod file at %s: %w", goModPath, err)
	}
	mod, err := modfile.Parse(goModPath, data, nil)
	if err != nil {
		return "", errors.Errorf("failed to parse go.mod file at %s: %w", goModPath, err)
	}
	return path.Join(mod.Module.Mod.Path, filepath.ToSlash(dir)), nil
}
