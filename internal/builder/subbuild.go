package builder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"

	"github.com/fatih/color"
	"github.com/mitchellh/go-homedir"
	"github.com/sherlockcv/shbuild/internal/msg"
)

// Subbuild is an external build whose outputs the project consumes.
type Subbuild struct {
	Name    string
	Path    string // absolute
	Source  string
	Command []string
	Include string // absolute exported include directory, may be empty
	Lib     string // absolute exported library directory, may be empty
}

// Exports is the configuration a consumer of the sub-build merges in.
func (s Subbuild) Exports() CompileConfig {
	var includes, libpaths []string
	if s.Include != "" {
		includes = append(includes, s.Include)
	}
	if s.Lib != "" {
		libpaths = append(libpaths, s.Lib)
	}
	return NewCompileConfig(includes, libpaths, nil, nil)
}

func newSubbuild(root, name string, sec SubbuildSection) Subbuild {
	abs := func(base, p string) string {
		if expanded, err := homedir.Expand(p); err == nil {
			p = expanded
		}
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	dir := abs(root, sec.Path)
	return Subbuild{
		Name:    name,
		Path:    dir,
		Source:  sec.Source,
		Command: sec.Command,
		Include: abs(dir, sec.Include),
		Lib:     abs(dir, sec.Lib),
	}
}

// fetchSubbuild fetches the sub-build's sources if its directory is missing.
func (b *Builder) fetchSubbuild(ctx context.Context, s Subbuild) error {
	if stat, err := os.Stat(s.Path); err == nil && stat.IsDir() {
		return nil
	}
	if s.Source == "" {
		return &SubbuildError{Name: s.Name, Path: s.Path, Err: errors.New("directory does not exist and no source is set")}
	}

	fmt.Fprintf(b.Stdout, "  %s %s from %s\n", color.HiGreenString("Fetching"), s.Name, s.Source)
	if err := os.MkdirAll(s.Path, 0755); err != nil {
		return &SubbuildError{Name: s.Name, Path: s.Path, Err: err}
	}
	source := s.Source
	if !isURL(source) && !filepath.IsAbs(source) {
		if local := filepath.Join(b.basedir, source); dirExists(local) || fileExists(local) {
			source = local
		}
	}
	if err := fetchSource(ctx, source, s.Path, b.Stdout); err != nil {
		// leave no half-fetched tree behind, the next run would skip the fetch
		os.RemoveAll(s.Path)
		return &SubbuildError{Name: s.Name, Path: s.Path, Err: fmt.Errorf("failed to fetch %s: %w", s.Source, err)}
	}
	return nil
}

// invokeSubbuild runs the external build and waits for it. Any failure is a
// SubbuildError.
func (b *Builder) invokeSubbuild(ctx context.Context, s Subbuild, opts BuildOptions) error {
	fmt.Fprintf(b.Stdout, "  %s %s (%s)\n", color.HiGreenString("Building"), s.Name, s.Path)

	var err error
	switch {
	case len(s.Command) > 0:
		err = b.runSubbuildCommand(ctx, s.Path, s.Command)
	case fileExists(filepath.Join(s.Path, ConfigFilename)):
		err = b.runNestedBuild(ctx, s.Path, opts)
	case fileExists(filepath.Join(s.Path, "SConstruct")):
		err = b.runSubbuildCommand(ctx, s.Path, append([]string{"scons", "-Q"}, b.params.Strings()...))
	default:
		err = fmt.Errorf("no command set and neither %s nor SConstruct found", ConfigFilename)
	}
	if err != nil {
		return &SubbuildError{Name: s.Name, Path: s.Path, Err: err}
	}
	return nil
}

func (b *Builder) runSubbuildCommand(ctx context.Context, dir string, command []string) error {
	msg.Debug("%v in %s", command, dir)
	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	cmd.Dir = dir
	cmd.Stdout = &msg.IndentWriter{Indent: "    ", W: b.Stdout}
	cmd.Stderr = &msg.IndentWriter{Indent: "    ", W: b.Stderr}
	return cmd.Run()
}

func (b *Builder) runNestedBuild(ctx context.Context, dir string, opts BuildOptions) error {
	chain := append(slices.Clone(b.chain), b.basedir)
	if slices.Contains(chain, dir) {
		return fmt.Errorf("sub-build cycle: %v -> %s", chain, dir)
	}

	nested, err := NewBuilderInDirectory(dir, b.params)
	if err != nil {
		return err
	}
	nested.chain = chain
	nested.Stdout = b.Stdout
	nested.Stderr = b.Stderr
	nested.toolchain = b.toolchain
	return nested.Build(ctx, opts)
}

func fileExists(path string) bool {
	stat, err := os.Stat(path)
	return err == nil && !stat.IsDir()
}

func dirExists(path string) bool {
	stat, err := os.Stat(path)
	return err == nil && stat.IsDir()
}
