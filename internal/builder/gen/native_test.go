package gen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const fakeCompiler = `#!/bin/sh
echo "cc $*" >> %[1]q
out=""
src=""
dep=""
while [ $# -gt 0 ]; do
	case "$1" in
	-o) out="$2"; shift ;;
	-c) src="$2"; shift ;;
	-MF) dep="$2"; shift ;;
	-lmissing) echo "/usr/bin/ld: cannot find -lmissing: No such file or directory" >&2; exit 1 ;;
	esac
	shift
done
case "$src" in
*broken*) echo "$src:1:1: error: expected ';'" >&2; exit 1 ;;
esac
echo built > "$out"
if [ -n "$dep" ]; then
	printf '%%s: %%s' "$out" "$src" > "$dep"
	for h in %[2]q/*.h; do
		[ -f "$h" ] && printf ' \\\n  %%s' "$h" >> "$dep"
	done
	echo >> "$dep"
fi
`

const fakeArchiver = `#!/bin/sh
echo "ar $*" >> %[1]q
echo archive > "$2"
`

type fakeProject struct {
	root string
	log  string
	tc   Toolchain
}

func newFakeProject(t *testing.T, sources ...string) *fakeProject {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake toolchain needs /bin/sh")
	}

	p := &fakeProject{root: t.TempDir()}
	p.log = filepath.Join(p.root, "toolchain.log")

	toolDir := filepath.Join(p.root, "tools")
	if err := os.MkdirAll(toolDir, 0o755); err != nil {
		t.Fatal(err)
	}
	cc := filepath.Join(toolDir, "cc")
	ar := filepath.Join(toolDir, "ar")
	if err := os.WriteFile(cc, []byte(fmt.Sprintf(fakeCompiler, p.log, p.path("include"))), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(ar, []byte(fmt.Sprintf(fakeArchiver, p.log)), 0o755); err != nil {
		t.Fatal(err)
	}
	p.tc = Toolchain{CC: cc, CXX: cc, AR: ar}

	for _, src := range sources {
		path := p.path(src)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("int x;\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return p
}

func (p *fakeProject) path(rel string) string {
	return filepath.Join(p.root, filepath.FromSlash(rel))
}

func (p *fakeProject) library(name string, sources ...string) Target {
	t := Target{
		Name:    name,
		Kind:    StaticLibrary,
		Basedir: p.root,
		Out:     p.path("lib/lib" + name + ".a"),
		Cflags:  []string{"-std=c++11"},
		Libs:    []string{"opencv_core"},
	}
	for _, src := range sources {
		t.Sources = append(t.Sources, p.path(src))
	}
	return t
}

func (p *fakeProject) executable(name, source string, libs []string, deps ...string) Target {
	ldflags := []string{"-L" + p.path("lib")}
	for _, lib := range libs {
		ldflags = append(ldflags, "-l"+lib)
	}
	return Target{
		Name:    name,
		Kind:    Executable,
		Basedir: p.root,
		Sources: []string{p.path(source)},
		Deps:    deps,
		Out:     p.path("bin/" + name),
		Cflags:  []string{"-std=c++11"},
		Ldflags: ldflags,
		Libs:    libs,
	}
}

func (p *fakeProject) logLines(t *testing.T) []string {
	t.Helper()
	data, err := os.ReadFile(p.log)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		t.Fatal(err)
	}
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func (p *fakeProject) invoke(t *testing.T, targets ...Target) (string, error) {
	t.Helper()
	var out bytes.Buffer
	g := NewNativeBuilder(4)
	g.Stdout = &out
	g.Stderr = io.Discard
	g.SetToolchain(p.tc)
	for _, target := range targets {
		g.AddTarget(target)
	}
	err := g.Invoke(context.Background(), p.path("build"))
	return out.String(), err
}

func lastIndexContaining(lines []string, sub string) int {
	idx := -1
	for i, line := range lines {
		if strings.Contains(line, sub) {
			idx = i
		}
	}
	return idx
}

func firstIndexContaining(lines []string, sub string) int {
	for i, line := range lines {
		if strings.Contains(line, sub) {
			return i
		}
	}
	return -1
}

func TestNativeArchivesLibraryBeforeExecutables(t *testing.T) {
	p := newFakeProject(t, "src/util.cpp", "src/playcv.cpp", "src/diffavg1.cpp")
	libs := []string{"opencv_core", "opencv_highgui", "sherlock"}

	_, err := p.invoke(t,
		p.executable("playcv", "src/playcv.cpp", libs, "sherlock"),
		p.executable("diffavg1", "src/diffavg1.cpp", libs, "sherlock"),
		p.library("sherlock", "src/util.cpp"),
	)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}

	for _, artifact := range []string{"lib/libsherlock.a", "bin/playcv", "bin/diffavg1"} {
		if _, err := os.Stat(p.path(artifact)); err != nil {
			t.Errorf("missing artifact %s: %v", artifact, err)
		}
	}

	lines := p.logLines(t)
	archived := lastIndexContaining(lines, "ar rcs")
	if archived < 0 {
		t.Fatalf("library was never archived:\n%s", strings.Join(lines, "\n"))
	}
	if first := firstIndexContaining(lines, "playcv.cpp"); first < archived {
		t.Errorf("playcv compiled at step %d, before the library was archived at %d", first, archived)
	}
	if first := firstIndexContaining(lines, "diffavg1.cpp"); first < archived {
		t.Errorf("diffavg1 compiled at step %d, before the library was archived at %d", first, archived)
	}

	link := lines[lastIndexContaining(lines, "bin/playcv")]
	if !strings.HasSuffix(link, "-lopencv_core -lopencv_highgui -lsherlock") {
		t.Errorf("link line does not keep library order: %q", link)
	}
}

func TestNativeLibraryCompileFailureStopsDependents(t *testing.T) {
	p := newFakeProject(t, "src/broken_util.cpp", "src/playcv.cpp")

	_, err := p.invoke(t,
		p.library("sherlock", "src/broken_util.cpp"),
		p.executable("playcv", "src/playcv.cpp", []string{"sherlock"}, "sherlock"),
	)

	var compileErr *CompileError
	if !errors.As(err, &compileErr) {
		t.Fatalf("expected CompileError, got %v", err)
	}
	if compileErr.Target != "sherlock" || compileErr.Source != p.path("src/broken_util.cpp") {
		t.Errorf("unexpected error context: %+v", compileErr)
	}
	if !strings.Contains(compileErr.Output, "expected ';'") {
		t.Errorf("compiler diagnostics not captured: %q", compileErr.Output)
	}
	if compileErr.Invocation == "" || !strings.Contains(compileErr.Error(), compileErr.Invocation) {
		t.Errorf("error does not name the failed build: %v", compileErr)
	}

	for _, line := range p.logLines(t) {
		if strings.Contains(line, "playcv") {
			t.Errorf("dependent executable step was attempted: %q", line)
		}
	}
	if _, err := os.Stat(p.path("bin/playcv")); !os.IsNotExist(err) {
		t.Errorf("bin/playcv should not exist")
	}
}

func TestNativeLinkErrorNamesMissingLibrary(t *testing.T) {
	p := newFakeProject(t, "src/playcv.cpp")

	_, err := p.invoke(t, p.executable("playcv", "src/playcv.cpp", []string{"opencv_core", "missing"}))

	var linkErr *LinkError
	if !errors.As(err, &linkErr) {
		t.Fatalf("expected LinkError, got %v", err)
	}
	if diff := cmp.Diff([]string{"missing"}, linkErr.Unresolved); diff != "" {
		t.Errorf("unresolved libraries mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"opencv_core", "missing"}, linkErr.Libraries); diff != "" {
		t.Errorf("libraries mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(linkErr.Error(), "unresolved libraries: missing") {
		t.Errorf("error message lacks the missing library: %v", linkErr)
	}

	data, err := os.ReadFile(p.path("build/" + stateFileName))
	if err != nil {
		t.Fatal(err)
	}
	var state BuildState
	if err := json.Unmarshal(data, &state); err != nil {
		t.Fatal(err)
	}
	if linkErr.Invocation == "" || linkErr.Invocation != state.Invocation {
		t.Errorf("link error invocation %q, state file records %q", linkErr.Invocation, state.Invocation)
	}
}

func TestNativeSkipsUpToDateTargets(t *testing.T) {
	p := newFakeProject(t, "src/util.cpp", "src/playcv.cpp")
	targets := func(cflags ...string) []Target {
		lib := p.library("sherlock", "src/util.cpp")
		exe := p.executable("playcv", "src/playcv.cpp", []string{"sherlock"}, "sherlock")
		lib.Cflags = append(lib.Cflags, cflags...)
		exe.Cflags = append(exe.Cflags, cflags...)
		return []Target{lib, exe}
	}

	if _, err := p.invoke(t, targets()...); err != nil {
		t.Fatalf("first build: %v", err)
	}
	steps := len(p.logLines(t))

	out, err := p.invoke(t, targets()...)
	if err != nil {
		t.Fatalf("second build: %v", err)
	}
	if !strings.Contains(out, "no work to do") {
		t.Errorf("expected an up-to-date build, got:\n%s", out)
	}
	if got := len(p.logLines(t)); got != steps {
		t.Errorf("toolchain ran %d extra step(s) on an up-to-date tree", got-steps)
	}

	// toggling a compiler flag recompiles everything
	if _, err := p.invoke(t, targets("-g")...); err != nil {
		t.Fatalf("debug build: %v", err)
	}
	rebuilt := p.logLines(t)[steps:]
	if len(rebuilt) != 4 {
		t.Fatalf("expected 2 compiles, 1 archive and 1 link, got:\n%s", strings.Join(rebuilt, "\n"))
	}
	for _, line := range rebuilt {
		if strings.Contains(line, " -c ") && !strings.Contains(line, "-g") {
			t.Errorf("compile step without the new flag: %q", line)
		}
	}
}

func TestNativeRecompilesAfterHeaderEdit(t *testing.T) {
	p := newFakeProject(t, "src/util.cpp", "src/playcv.cpp", "include/util.h")
	targets := []Target{
		p.library("sherlock", "src/util.cpp"),
		p.executable("playcv", "src/playcv.cpp", []string{"sherlock"}, "sherlock"),
	}

	if _, err := p.invoke(t, targets...); err != nil {
		t.Fatalf("first build: %v", err)
	}
	if out, err := p.invoke(t, targets...); err != nil || !strings.Contains(out, "no work to do") {
		t.Fatalf("second build was not up to date: %v\n%s", err, out)
	}
	steps := len(p.logLines(t))

	if err := os.WriteFile(p.path("include/util.h"), []byte("int y;\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err := p.invoke(t, targets...)
	if err != nil {
		t.Fatalf("build after header edit: %v", err)
	}
	if strings.Contains(out, "no work to do") {
		t.Fatal("header edit went unnoticed")
	}
	rebuilt := p.logLines(t)[steps:]
	if len(rebuilt) != 4 {
		t.Fatalf("expected 2 compiles, 1 archive and 1 link, got:\n%s", strings.Join(rebuilt, "\n"))
	}
	for _, line := range rebuilt {
		if strings.Contains(line, " -c ") && !strings.Contains(line, "-MF") {
			t.Errorf("compile step without a depfile: %q", line)
		}
	}
}

func TestParseDepfile(t *testing.T) {
	data := "build/util.cpp.o: /p/src/util.cpp /p/include/util.h \\\n" +
		"  /p/include/my\\ dir/cfg.h /p/include/util.h\n" +
		"/p/include/util.h:\n"
	want := []string{"/p/src/util.cpp", "/p/include/util.h", "/p/include/my dir/cfg.h"}
	if diff := cmp.Diff(want, parseDepfile([]byte(data))); diff != "" {
		t.Errorf("prerequisites (-want +got):\n%s", diff)
	}
}

func TestWavesOrderDependencies(t *testing.T) {
	targets := map[string]buildUnit{
		"playcv":   {Target: Target{Name: "playcv", Deps: []string{"sherlock"}}},
		"diffavg1": {Target: Target{Name: "diffavg1", Deps: []string{"sherlock"}}},
		"sherlock": {Target: Target{Name: "sherlock"}},
	}
	got, err := waves(targets)
	if err != nil {
		t.Fatal(err)
	}
	want := [][]string{{"sherlock"}, {"diffavg1", "playcv"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("waves mismatch (-want +got):\n%s", diff)
	}
}

func TestWavesRejectCyclesAndUnknownDeps(t *testing.T) {
	cyclic := map[string]buildUnit{
		"a": {Target: Target{Name: "a", Deps: []string{"b"}}},
		"b": {Target: Target{Name: "b", Deps: []string{"a"}}},
	}
	if _, err := waves(cyclic); err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Errorf("expected a cycle error, got %v", err)
	}

	dangling := map[string]buildUnit{
		"a": {Target: Target{Name: "a", Deps: []string{"nope"}}},
	}
	if _, err := waves(dangling); err == nil || !strings.Contains(err.Error(), "non-existent") {
		t.Errorf("expected a missing dependency error, got %v", err)
	}
}

func TestParseLinkerOutput(t *testing.T) {
	out := strings.Join([]string{
		"/usr/bin/ld: cannot find -lbites: No such file or directory",
		"/usr/bin/ld: cannot find -lbites: No such file or directory",
		"/usr/bin/ld: main.o: in function `main':",
		"main.cpp:(.text+0x2a): undefined reference to `cv::imshow(std::string const&, cv::_InputArray const&)'",
		"ld.lld: error: unable to find library -lopencv_contrib",
		"ld.lld: error: undefined symbol: sherlock::Detector::run()",
		"ld: library not found for -lboost_thread",
		"collect2: error: ld returned 1 exit status",
	}, "\n")

	libs, symbols := parseLinkerOutput(out)
	if diff := cmp.Diff([]string{"bites", "opencv_contrib", "boost_thread"}, libs); diff != "" {
		t.Errorf("libraries mismatch (-want +got):\n%s", diff)
	}
	wantSymbols := []string{
		"cv::imshow(std::string const&, cv::_InputArray const&)",
		"sherlock::Detector::run()",
	}
	if diff := cmp.Diff(wantSymbols, symbols); diff != "" {
		t.Errorf("symbols mismatch (-want +got):\n%s", diff)
	}
}
