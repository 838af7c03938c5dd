package builder

import (
	"context"
	"fmt"
	"io"
	"maps"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/sherlockcv/shbuild/internal/builder/gen"
	"github.com/sherlockcv/shbuild/internal/msg"
)

const (
	GeneratorNative = "native"
	GeneratorNinja  = "ninja"
)

type BuildOptions struct {
	Generator string
	Jobs      int
}

type Builder struct {
	cfg     *Config
	basedir string
	env     ConfigEnv
	params  Params
	chain   []string // projects that requested this one as a sub-build

	// set by tests
	generator gen.Generator
	toolchain *gen.Toolchain

	Stdout io.Writer
	Stderr io.Writer
}

func NewBuilderInDirectory(path string, params Params) (*Builder, error) {
	var err error
	path, err = filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	env := NewConfigEnv(path, params)
	cfg, err := ParseConfigFromFile(filepath.Join(path, ConfigFilename), env)
	if err != nil {
		return nil, err
	}
	return &Builder{
		cfg:     cfg,
		basedir: path,
		env:     env,
		params:  params,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
	}, nil
}

func (b *Builder) Config() *Config { return b.cfg }
func (b *Builder) Dir() string     { return b.basedir }

// collectFiles expands source patterns into paths relative to the project
// root. Every pattern must match at least one file.
func (b *Builder) collectFiles(patterns []string) ([]string, error) {
	var files []string
	seen := make(map[string]bool)
	add := func(f string) {
		if !seen[f] {
			seen[f] = true
			files = append(files, f)
		}
	}
	fsys := os.DirFS(b.basedir)

	for _, pat := range patterns {
		if filepath.IsAbs(pat) {
			rel, err := filepath.Rel(b.basedir, pat)
			if err != nil || strings.HasPrefix(rel, "..") {
				if !fileExists(pat) {
					return nil, fmt.Errorf("source %s not found", pat)
				}
				add(filepath.Clean(pat))
				continue
			}
			pat = rel
		}

		pat = path.Clean(filepath.ToSlash(pat))
		matches, err := doublestar.Glob(fsys, pat, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("bad source pattern %q: %w", pat, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("source pattern %q matched no files", pat)
		}
		slices.Sort(matches)
		for _, match := range matches {
			add(match)
		}
	}

	return files, nil
}

func (b *Builder) subbuilds() []Subbuild {
	var subs []Subbuild
	for _, name := range slices.Sorted(maps.Keys(b.cfg.Subbuild)) {
		subs = append(subs, newSubbuild(b.basedir, name, b.cfg.Subbuild[name]))
	}
	return subs
}

// GeneratedPaths lists the paths, relative to the project root, that a build
// writes to: the layout directories and the outputs of every sub-build that
// lives under the root.
func (b *Builder) GeneratedPaths() []string {
	var paths []string
	for _, p := range b.outputPaths(make(map[string]bool)) {
		rel, err := filepath.Rel(b.basedir, p)
		if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		paths = append(paths, filepath.ToSlash(rel))
	}
	slices.Sort(paths)
	return slices.Compact(paths)
}

func (b *Builder) outputPaths(seen map[string]bool) []string {
	if seen[b.basedir] {
		return nil
	}
	seen[b.basedir] = true

	layout := b.cfg.Layout
	paths := []string{
		filepath.Join(b.basedir, layout.Bin),
		filepath.Join(b.basedir, layout.Lib),
		filepath.Join(b.basedir, layout.Build),
	}
	for _, s := range b.subbuilds() {
		if s.Lib != "" {
			paths = append(paths, s.Lib)
		}
		// scons keeps its signature database next to the SConstruct
		paths = append(paths, filepath.Join(s.Path, ".sconsign.dblite"))
		if nested, err := NewBuilderInDirectory(s.Path, b.params); err == nil {
			paths = append(paths, nested.outputPaths(seen)...)
			continue
		}
		for _, dir := range []string{defaultLayout.Bin, defaultLayout.Lib, defaultLayout.Build} {
			paths = append(paths, filepath.Join(s.Path, dir))
		}
	}
	return paths
}

// Plan resolves sources, composes one CompileConfig per target group and
// validates the resulting targets. Nothing is built.
func (b *Builder) Plan() (*Plan, error) {
	subs := b.subbuilds()
	exports := make(map[string]CompileConfig, len(subs))
	for _, s := range subs {
		exports[s.Name] = s.Exports()
	}

	// group entries come first so that group libraries precede the shared ones
	base := b.cfg.Env.compileConfig()
	compose := func(group GroupSection) CompileConfig {
		cfg := group.compileConfig().Merge(base).Rooted(b.basedir)
		for _, use := range slices.Concat(group.Uses, b.cfg.Env.Uses) {
			cfg = cfg.Merge(exports[use])
		}
		return cfg
	}

	libSources, err := b.collectFiles(b.cfg.Library.Sources)
	if err != nil {
		return nil, fmt.Errorf("failed to collect library sources: %w", err)
	}
	exeSources, err := b.collectFiles(b.cfg.Executables.Sources)
	if err != nil {
		return nil, fmt.Errorf("failed to collect executable sources: %w", err)
	}

	req := Request{
		Root:   b.basedir,
		Layout: b.cfg.Layout,
		Executables: ExecutableGroup{
			Sources:     exeSources,
			Config:      compose(b.cfg.Executables.GroupSection),
			LinkLibrary: b.cfg.Executables.LinkLibrary,
		},
		Debug: b.params.Debug,
		GOOS:  runtime.GOOS,
	}
	if len(libSources) > 0 {
		req.Library = &LibraryGroup{
			Name:    b.cfg.Library.Name,
			Sources: libSources,
			Config:  compose(b.cfg.Library.GroupSection),
		}
	}

	plan, err := NewPlan(req)
	if err != nil {
		return nil, err
	}
	plan.Subbuilds = subs
	return plan, nil
}

func createGenerator(opts BuildOptions) (gen.Generator, error) {
	switch opts.Generator {
	case GeneratorNative, "":
		return gen.NewNativeBuilder(opts.Jobs), nil
	case GeneratorNinja:
		return gen.NewNinjaGen(), nil
	default:
		return nil, fmt.Errorf("unknown generator %q", opts.Generator)
	}
}

// Build validates the target graph, runs the sub-builds and then invokes the
// generator (or builder). The first failure ends the invocation.
func (b *Builder) Build(ctx context.Context, opts BuildOptions) error {
	plan, err := b.Plan()
	if err != nil {
		return err
	}
	msg.Debug("building %s with %v", b.basedir, b.params.Strings())

	for _, s := range plan.Subbuilds {
		if err := b.fetchSubbuild(ctx, s); err != nil {
			return err
		}
	}
	if err := b.cfg.RunBuildScript(b.env); err != nil {
		return err
	}
	for _, s := range plan.Subbuilds {
		if err := b.invokeSubbuild(ctx, s, opts); err != nil {
			return err
		}
	}

	if len(plan.Targets) == 0 {
		msg.Warn("%s declares no sources, nothing to build", ConfigFilename)
		return nil
	}

	g := b.generator
	if g == nil {
		if g, err = createGenerator(opts); err != nil {
			return err
		}
	}

	var tc gen.Toolchain
	if b.toolchain != nil {
		tc = *b.toolchain
	} else if tc, err = findToolchain(); err != nil {
		return err
	}
	g.SetToolchain(tc)

	for _, t := range plan.Targets {
		g.AddTarget(plan.genTarget(t))
	}

	buildDir := plan.Path(plan.Layout.Build)
	if err := os.MkdirAll(buildDir, 0755); err != nil {
		return err
	}

	// generate the buildfile
	if out := g.Generate(); out != "" {
		buildFile := filepath.Join(buildDir, g.BuildFile())
		if err := os.WriteFile(buildFile, []byte(out), 0644); err != nil {
			return err
		}
	}

	return g.Invoke(ctx, buildDir)
}

// BuildAndRun builds the project and runs the named executable.
func (b *Builder) BuildAndRun(ctx context.Context, name string, args []string, opts BuildOptions) error {
	plan, err := b.Plan()
	if err != nil {
		return err
	}
	target, ok := plan.Target(name)
	if !ok {
		return fmt.Errorf("no target named %q", name)
	}
	if target.Kind != gen.Executable {
		return fmt.Errorf("%w %q", errCantRunLib, name)
	}

	if err := b.Build(ctx, opts); err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, plan.Path(target.File(plan.Layout, runtime.GOOS)), args...)
	cmd.Stdout = b.Stdout
	cmd.Stderr = b.Stderr
	cmd.Stdin = os.Stdin
	return cmd.Run()
}

// Clean removes the output directories of the layout.
func (b *Builder) Clean() error {
	layout := b.cfg.Layout
	for _, dir := range []string{layout.Bin, layout.Lib, layout.Build} {
		full := filepath.Join(b.basedir, dir)
		rel, err := filepath.Rel(b.basedir, full)
		if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
			return fmt.Errorf("refusing to clean %s: not a subdirectory of %s", full, b.basedir)
		}
		msg.Debug("removing %s", full)
		if err := os.RemoveAll(full); err != nil {
			return err
		}
	}
	return nil
}
