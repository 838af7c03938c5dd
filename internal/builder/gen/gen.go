package gen

import "context"

// Kind is the artifact a target produces.
type Kind int

const (
	StaticLibrary Kind = iota
	Executable
)

func (k Kind) String() string {
	switch k {
	case StaticLibrary:
		return "library"
	case Executable:
		return "executable"
	default:
		return "unknown"
	}
}

// Toolchain names the programs used to compile, link and archive.
type Toolchain struct {
	CC, CXX, AR string
}

// Target is a fully resolved unit of work. All paths are absolute.
type Target struct {
	Name    string
	Kind    Kind
	Basedir string
	Sources []string
	Deps    []string // targets whose artifacts must exist before this one links
	Out     string
	Cflags  []string
	Ldflags []string
	Libs    []string // linked library names in link order, kept for diagnostics
}

type Generator interface {
	SetToolchain(tc Toolchain)
	AddTarget(t Target)
	Generate() string
	BuildFile() string
	Invoke(ctx context.Context, buildDir string) error
}
