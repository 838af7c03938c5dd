package gen

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/sherlockcv/shbuild/internal/msg"
)

func write(sb *strings.Builder, s ...string) {
	for _, str := range s {
		sb.WriteString(str)
	}
}

func writeln(sb *strings.Builder, s ...string) {
	for _, str := range s {
		sb.WriteString(str)
	}
	sb.WriteByte('\n')
}

var cxxExts = []string{".cpp", ".cc", ".cxx", ".c++"}

func isCxx(path string) bool {
	return slices.Contains(cxxExts, strings.ToLower(filepath.Ext(path)))
}

// sourceFile represents a single source file and its corresponding object file path
type sourceFile struct {
	src   string
	obj   string // relative to the build directory
	isCxx bool
}

// buildUnit is a Target with its object files laid out
type buildUnit struct {
	Target
	sources []sourceFile
}

func newBuildUnit(t Target) buildUnit {
	unit := buildUnit{Target: t, sources: make([]sourceFile, 0, len(t.Sources))}
	for _, srcPath := range t.Sources {
		rel, err := filepath.Rel(t.Basedir, srcPath)
		if err != nil || strings.HasPrefix(rel, "..") {
			rel = filepath.Base(srcPath)
			msg.Warn("source file %s is outside of base directory %s", srcPath, t.Basedir)
		}
		objPath := filepath.Join("objs", t.Name+".dir", rel+".o")
		unit.sources = append(unit.sources, sourceFile{src: srcPath, obj: objPath, isCxx: isCxx(srcPath)})
	}
	return unit
}

func (u buildUnit) hasCxx() bool {
	return slices.ContainsFunc(u.sources, func(s sourceFile) bool { return s.isCxx })
}

// waves groups targets into levels: every target only depends on targets of
// earlier levels. Names inside a level are sorted.
func waves(targets map[string]buildUnit) ([][]string, error) {
	graph := make(map[string][]string) // target -> targets that depend on it
	inDegree := make(map[string]int)   // target -> dependency count

	for name := range targets {
		graph[name] = []string{}
		inDegree[name] = 0
	}

	for name, target := range targets {
		for _, depName := range target.Deps {
			if _, ok := targets[depName]; !ok {
				return nil, fmt.Errorf("target `%s` lists a non-existent dependency: `%s`", name, depName)
			}
			graph[depName] = append(graph[depName], name)
			inDegree[name]++
		}
	}

	var level []string
	for name, degree := range inDegree {
		if degree == 0 {
			level = append(level, name)
		}
	}

	var levels [][]string
	seen := 0
	for len(level) > 0 {
		slices.Sort(level)
		levels = append(levels, level)
		seen += len(level)

		var next []string
		for _, u := range level {
			for _, v := range graph[u] {
				inDegree[v]--
				if inDegree[v] == 0 {
					next = append(next, v)
				}
			}
		}
		level = next
	}

	if seen != len(targets) {
		var cycleNodes []string
		for name, degree := range inDegree {
			if degree > 0 {
				cycleNodes = append(cycleNodes, name)
			}
		}
		slices.Sort(cycleNodes)
		return nil, fmt.Errorf("dependency cycle detected involving targets: %v", cycleNodes)
	}

	return levels, nil
}
