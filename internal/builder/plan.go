package builder

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/sherlockcv/shbuild/internal/builder/gen"
	"github.com/sherlockcv/shbuild/internal/msg"
)

// Layout names the output directories, relative to the project root.
type Layout struct {
	Bin   string `toml:"bin"`
	Lib   string `toml:"lib"`
	Build string `toml:"build"`
}

var defaultLayout = Layout{Bin: "bin", Lib: "lib", Build: "build"}

// Target is a named build output and the configuration it is built with.
type Target struct {
	Name    string
	Kind    gen.Kind
	Sources []string // relative to the project root
	Config  CompileConfig
	Deps    []string
}

// Output is the logical artifact path: lib/<name> or bin/<name>.
func (t Target) Output(l Layout) string {
	dir := l.Bin
	if t.Kind == gen.StaticLibrary {
		dir = l.Lib
	}
	return path.Join(filepath.ToSlash(dir), t.Name)
}

// File is the artifact written on disk for goos, e.g. lib/libsherlock.a.
func (t Target) File(l Layout, goos string) string {
	dir, name := path.Split(t.Output(l))
	switch {
	case t.Kind == gen.StaticLibrary && goos == "windows":
		name += ".lib"
	case t.Kind == gen.StaticLibrary:
		name = "lib" + name + ".a"
	case goos == "windows":
		name += ".exe"
	}
	return dir + name
}

type LibraryGroup struct {
	Name    string
	Sources []string
	Config  CompileConfig
}

type ExecutableGroup struct {
	Sources []string
	Config  CompileConfig
	// LinkLibrary links the local library even when Config does not list it.
	LinkLibrary bool
}

// Request is everything needed to plan one invocation.
type Request struct {
	Root        string
	Layout      Layout
	Library     *LibraryGroup
	Executables ExecutableGroup
	Debug       bool
	GOOS        string
}

// Plan is a validated target graph. Targets are ordered so that the library
// comes before every executable.
type Plan struct {
	Root      string
	Layout    Layout
	Targets   []Target
	Subbuilds []Subbuild
	goos      string
}

// NewPlan derives targets from req and validates them. It fails before any
// work is done if two targets share a name or an output file.
func NewPlan(req Request) (*Plan, error) {
	p := &Plan{Root: req.Root, Layout: req.Layout, goos: req.GOOS}
	declaredBy := make(map[string][]string)
	var names []string

	declare := func(name, source string) error {
		if name == "" {
			return fmt.Errorf("%s: %w", source, errEmptyTargetName)
		}
		if _, ok := declaredBy[name]; !ok {
			names = append(names, name)
		}
		declaredBy[name] = append(declaredBy[name], source)
		return nil
	}

	var library *Target
	if req.Library != nil && len(req.Library.Sources) > 0 {
		lib := req.Library
		if err := declare(lib.Name, "library sources "+strings.Join(lib.Sources, ", ")); err != nil {
			return nil, err
		}
		library = &Target{
			Name:    lib.Name,
			Kind:    gen.StaticLibrary,
			Sources: lib.Sources,
			Config:  ApplyDebugFlag(lib.Config, req.Debug),
		}
	}

	exeCfg := ApplyDebugFlag(req.Executables.Config, req.Debug)
	var deps []string
	switch {
	case library != nil && (req.Executables.LinkLibrary || exeCfg.LinksLibrary(library.Name)):
		if !exeCfg.LinksLibrary(library.Name) {
			exeCfg = exeCfg.WithLibraryFirst(library.Name)
		}
		exeCfg = exeCfg.WithLibraryPaths(filepath.Join(req.Root, req.Layout.Lib))
		deps = []string{library.Name}
	case library == nil && req.Executables.LinkLibrary:
		return nil, errors.New("link-library is set but no library sources are declared")
	case library != nil:
		msg.Debug("executables do not link the local library %q", library.Name)
	}

	var executables []Target
	for _, src := range req.Executables.Sources {
		name := ResolveTargetName(src)
		if err := declare(name, src); err != nil {
			return nil, err
		}
		executables = append(executables, Target{
			Name:    name,
			Kind:    gen.Executable,
			Sources: []string{src},
			Config:  exeCfg,
			Deps:    deps,
		})
	}

	for _, name := range names {
		if sources := declaredBy[name]; len(sources) > 1 {
			return nil, &DuplicateTargetError{Name: name, Sources: sources}
		}
	}

	if library != nil {
		p.Targets = append(p.Targets, *library)
	}
	p.Targets = append(p.Targets, executables...)

	if err := p.checkOutputs(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Plan) checkOutputs() error {
	foldCase := p.goos == "windows" || p.goos == "darwin"
	owners := make(map[string]string)
	for _, t := range p.Targets {
		file := path.Clean(t.File(p.Layout, p.goos))
		key := file
		if foldCase {
			key = strings.ToLower(file)
		}
		if owner, ok := owners[key]; ok {
			return &OutputConflictError{Path: file, Targets: []string{owner, t.Name}}
		}
		owners[key] = t.Name
	}
	return nil
}

// Target looks up a planned target by name.
func (p *Plan) Target(name string) (Target, bool) {
	for _, t := range p.Targets {
		if t.Name == name {
			return t, true
		}
	}
	return Target{}, false
}

// Path resolves a path relative to the project root.
func (p *Plan) Path(rel string) string {
	return filepath.Join(p.Root, filepath.FromSlash(rel))
}

func (p *Plan) genTarget(t Target) gen.Target {
	sources := make([]string, len(t.Sources))
	for i, src := range t.Sources {
		if filepath.IsAbs(src) {
			sources[i] = src
		} else {
			sources[i] = p.Path(src)
		}
	}
	return gen.Target{
		Name:    t.Name,
		Kind:    t.Kind,
		Basedir: p.Root,
		Sources: sources,
		Deps:    t.Deps,
		Out:     p.Path(t.File(p.Layout, p.goos)),
		Cflags:  t.Config.Cflags(),
		Ldflags: t.Config.Ldflags(),
		Libs:    t.Config.Libraries(),
	}
}
