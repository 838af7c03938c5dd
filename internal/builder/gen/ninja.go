package gen

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"

	"github.com/sherlockcv/shbuild/internal/msg"
)

type NinjaGen struct {
	tc      Toolchain
	targets map[string]buildUnit
}

func NewNinjaGen() *NinjaGen {
	return &NinjaGen{targets: make(map[string]buildUnit)}
}

func (g *NinjaGen) SetToolchain(tc Toolchain) {
	g.tc = tc
}

func (g *NinjaGen) BuildFile() string { return "build.ninja" }

var (
	ninjaPathEscaper = strings.NewReplacer("$", "$$", ":", "$:", " ", "$ ")
	ninjaVarEscaper  = strings.NewReplacer("$", "$$")
)

func quote(s string) string { return ninjaPathEscaper.Replace(filepath.ToSlash(s)) }

func quoteAll(paths []string) string {
	quoted := make([]string, len(paths))
	for i, p := range paths {
		quoted[i] = quote(p)
	}
	return strings.Join(quoted, " ")
}

func flagsVar(flags []string) string {
	return ninjaVarEscaper.Replace(strings.Join(flags, " "))
}

// AddTarget adds a library or executable to the build graph
func (g *NinjaGen) AddTarget(t Target) {
	g.targets[t.Name] = newBuildUnit(t)
}

func (g *NinjaGen) Generate() string {
	var sb strings.Builder

	writeln(&sb, "ninja_required_version = 1.1")
	writeln(&sb, "cc = ", g.tc.CC)
	writeln(&sb, "cxx = ", g.tc.CXX)
	writeln(&sb, "ar = ", g.tc.AR)
	writeln(&sb)

	// gen rules
	write(&sb,
		`rule cc
  command = $cc $cflags -MMD -MF $out.d -c $in -o $out
  depfile = $out.d
  deps = gcc
  description = CC $out
`)
	write(&sb,
		`rule cxx
  command = $cxx $cflags -MMD -MF $out.d -c $in -o $out
  depfile = $out.d
  deps = gcc
  description = CXX $out
`)
	write(&sb,
		`rule link
  command = $ld -o $out $in $ldflags
  description = LINK $out
`)
	write(&sb,
		`rule ar
  command = rm -f $out && $ar rcs $out $in
  description = AR $out
`)
	writeln(&sb)

	names := make([]string, 0, len(g.targets))
	for name := range g.targets {
		names = append(names, name)
	}
	slices.Sort(names)

	// build object files
	for _, name := range names {
		target := g.targets[name]
		cflags := flagsVar(target.Cflags)
		for _, source := range target.sources {
			rule := "cc"
			if source.isCxx {
				rule = "cxx"
			}
			writeln(&sb, "build ", quote(source.obj), ": ", rule, " ", quote(source.src))
			writeln(&sb, "  cflags = ", cflags)
		}
	}
	writeln(&sb)

	// ar/link
	for _, name := range names {
		target := g.targets[name]
		objs := make([]string, len(target.sources))
		for i, source := range target.sources {
			objs[i] = source.obj
		}

		write(&sb, "build ", quote(target.Out), ": ")
		if target.Kind == StaticLibrary {
			write(&sb, "ar ", quoteAll(objs))
		} else {
			write(&sb, "link ", quoteAll(objs))
		}

		// local libraries must be archived before linking
		if len(target.Deps) > 0 {
			deps := make([]string, len(target.Deps))
			for i, dep := range target.Deps {
				deps[i] = g.targets[dep].Out
			}
			write(&sb, " | ", quoteAll(deps))
		}
		writeln(&sb)

		if target.Kind == Executable {
			ld := "$cc"
			if target.hasCxx() {
				ld = "$cxx"
			}
			writeln(&sb, "  ld = ", ld)
			writeln(&sb, "  ldflags = ", flagsVar(target.Ldflags))
		}
	}

	return sb.String()
}

func (g *NinjaGen) Invoke(ctx context.Context, buildDir string) error {
	msg.Debug("ninja -C %s", buildDir)
	cmd := exec.CommandContext(ctx, "ninja", "-C", buildDir)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	return cmd.Run()
}
