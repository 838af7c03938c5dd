package builder

import (
	"path/filepath"
	"slices"
)

// DebugFlag is appended to every compile step when debug=1.
const DebugFlag = "-g"

// CompileConfig is the set of include paths, library search paths, linked
// libraries and compiler flags applied to one target group. It is a value:
// every method returns a new CompileConfig and never touches the receiver.
type CompileConfig struct {
	includePaths []string
	libraryPaths []string
	libraries    []string
	flags        []string
}

func NewCompileConfig(includePaths, libraryPaths, libraries, flags []string) CompileConfig {
	return CompileConfig{
		includePaths: union(nil, includePaths),
		libraryPaths: union(nil, libraryPaths),
		libraries:    union(nil, libraries),
		flags:        union(nil, flags),
	}
}

// union appends the elements of b missing from a, keeping first occurrences.
// The result never aliases a.
func union(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	seen := make(map[string]bool, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, s := range list {
			if s == "" || seen[s] {
				continue
			}
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func (c CompileConfig) IncludePaths() []string { return slices.Clone(c.includePaths) }
func (c CompileConfig) LibraryPaths() []string { return slices.Clone(c.libraryPaths) }
func (c CompileConfig) Libraries() []string    { return slices.Clone(c.libraries) }
func (c CompileConfig) Flags() []string        { return slices.Clone(c.flags) }

func (c CompileConfig) HasFlag(flag string) bool    { return slices.Contains(c.flags, flag) }
func (c CompileConfig) LinksLibrary(lib string) bool { return slices.Contains(c.libraries, lib) }

// Merge composes two configs. Entries of c come first; o only contributes
// what c does not already have.
func (c CompileConfig) Merge(o CompileConfig) CompileConfig {
	return CompileConfig{
		includePaths: union(c.includePaths, o.includePaths),
		libraryPaths: union(c.libraryPaths, o.libraryPaths),
		libraries:    union(c.libraries, o.libraries),
		flags:        union(c.flags, o.flags),
	}
}

func (c CompileConfig) WithFlags(flags ...string) CompileConfig {
	c.flags = union(c.flags, flags)
	return c
}

func (c CompileConfig) WithLibraryPaths(paths ...string) CompileConfig {
	c.libraryPaths = union(c.libraryPaths, paths)
	return c
}

// WithLibraryFirst puts lib at the front of the link order. Dependents must
// precede their dependencies for static linking.
func (c CompileConfig) WithLibraryFirst(lib string) CompileConfig {
	c.libraries = union([]string{lib}, c.libraries)
	return c
}

// Rooted resolves relative include and library paths against dir.
func (c CompileConfig) Rooted(dir string) CompileConfig {
	root := func(paths []string) []string {
		out := make([]string, len(paths))
		for i, p := range paths {
			if filepath.IsAbs(p) {
				out[i] = filepath.Clean(p)
			} else {
				out[i] = filepath.Join(dir, p)
			}
		}
		return union(nil, out)
	}
	c.includePaths = root(c.includePaths)
	c.libraryPaths = root(c.libraryPaths)
	return c
}

// Cflags renders compiler arguments: flags, then -I include paths.
func (c CompileConfig) Cflags() []string {
	out := slices.Clone(c.flags)
	for _, inc := range c.includePaths {
		out = append(out, "-I"+inc)
	}
	return out
}

// Ldflags renders linker arguments: -L search paths, then -l libraries in order.
func (c CompileConfig) Ldflags() []string {
	out := make([]string, 0, len(c.libraryPaths)+len(c.libraries))
	for _, dir := range c.libraryPaths {
		out = append(out, "-L"+dir)
	}
	for _, lib := range c.libraries {
		out = append(out, "-l"+lib)
	}
	return out
}

// ApplyDebugFlag appends DebugFlag when debug is set. Applying it twice
// yields the same config.
func ApplyDebugFlag(c CompileConfig, debug bool) CompileConfig {
	if !debug {
		return c
	}
	return c.WithFlags(DebugFlag)
}
