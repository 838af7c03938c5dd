package builder

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sergi/go-diff/diffmatchpatch"
)

const conditionalConfig = `
[project]
name = "sherlock"

[env]
cxxflags = ["-std=c++11", "-DOS_{{ upper(target_os) }}"]
include = ["include"]

[env.'debug']
defines = { SHERLOCK_DEBUG = "1" }

[executables]
sources = ["src/*.cpp"]
libs = ["opencv_core"]

[executables.'args.gui == "1"']
libs = ["opencv_highgui"]
`

func parseTestConfig(t *testing.T, text string, params Params) *Config {
	t.Helper()
	cfg, err := ParseConfig(strings.NewReader(text), NewConfigEnv(t.TempDir(), params))
	if err != nil {
		t.Fatal(err)
	}
	return cfg
}

func TestParseConfigConditionalSections(t *testing.T) {
	cfg := parseTestConfig(t, conditionalConfig, Params{Debug: true, Args: map[string]string{"gui": "1"}})

	wantFlags := []string{"-std=c++11", "-DOS_" + strings.ToUpper(runtime.GOOS), "-DSHERLOCK_DEBUG=1"}
	if diff := cmp.Diff(wantFlags, cfg.Env.compileConfig().Flags()); diff != "" {
		t.Errorf("env flags (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"opencv_core", "opencv_highgui"}, cfg.Executables.Libs); diff != "" {
		t.Errorf("executable libs (-want +got):\n%s", diff)
	}
	if cfg.Library.Name != "sherlock" {
		t.Errorf("library name = %q, want the project name", cfg.Library.Name)
	}
	if cfg.Layout != defaultLayout {
		t.Errorf("layout = %+v, want %+v", cfg.Layout, defaultLayout)
	}
}

func TestParseConfigSkipsFalseConditions(t *testing.T) {
	cfg := parseTestConfig(t, conditionalConfig, Params{})

	if flags := cfg.Env.compileConfig().Flags(); len(flags) != 2 {
		t.Errorf("unexpected env flags without debug: %v", flags)
	}
	if diff := cmp.Diff([]string{"opencv_core"}, cfg.Executables.Libs); diff != "" {
		t.Errorf("executable libs (-want +got):\n%s", diff)
	}
}

func TestParseConfigSubbuildDefaults(t *testing.T) {
	cfg := parseTestConfig(t, `
[project]
name = "sherlock"

[layout]
bin = "out/bin"

[subbuild.bites]
command = ["scons", "-Q"]
include = "include"
lib = "lib"

[executables]
sources = ["src/*.cpp"]
uses = ["bites"]
`, Params{})

	if got := cfg.Subbuild["bites"].Path; got != "bites" {
		t.Errorf("sub-build path = %q, want its name", got)
	}
	want := Layout{Bin: "out/bin", Lib: "lib", Build: "build"}
	if cfg.Layout != want {
		t.Errorf("layout = %+v, want %+v", cfg.Layout, want)
	}
}

func TestParseConfigRejectsUnknownSubbuild(t *testing.T) {
	_, err := ParseConfig(strings.NewReader(`
[executables]
sources = ["src/*.cpp"]
uses = ["bites"]
`), NewConfigEnv(t.TempDir(), Params{}))
	if err == nil || !strings.Contains(err.Error(), `unknown sub-build "bites"`) {
		t.Fatalf("expected an unknown sub-build error, got %v", err)
	}
}

func TestParseConfigRequiresLibraryName(t *testing.T) {
	_, err := ParseConfig(strings.NewReader(`
[library]
sources = ["src/util.cpp"]
`), NewConfigEnv(t.TempDir(), Params{}))
	if err == nil {
		t.Fatal("expected an error for an unnamed library")
	}
}

func TestRunBuildScript(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "VERSION"), []byte("1.2\n"), 0644); err != nil {
		t.Fatal(err)
	}
	env := NewConfigEnv(dir, Params{})

	cfg := Config{Project: ProjectSection{Name: "sherlock", Build: `ReadFile("VERSION") startsWith "1."`}}
	if err := cfg.RunBuildScript(env); err != nil {
		t.Errorf("build script failed: %v", err)
	}

	cfg.Project.Build = `ReadFile("VERSION") startsWith "2."`
	if err := cfg.RunBuildScript(env); err == nil {
		t.Errorf("expected a false build script to fail")
	}
}

func TestPatch(t *testing.T) {
	dir := t.TempDir()
	before := "env = Environment(CXXFLAGS='-std=c++0x')\nenv.Library('bites', Glob('src/*.cpp'))\n"
	after := "env = Environment(CXXFLAGS='-std=c++11')\nenv.Library('bites', Glob('src/*.cpp'))\n"

	file := filepath.Join(dir, "bites", "SConstruct")
	if err := os.MkdirAll(filepath.Dir(file), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(file, []byte(before), 0644); err != nil {
		t.Fatal(err)
	}

	dmp := diffmatchpatch.New()
	patch := dmp.PatchToText(dmp.PatchMake(before, after))

	env := NewConfigEnv(dir, Params{})
	applied, err := env.Patch("bites/SConstruct", patch)
	if err != nil {
		t.Fatal(err)
	}
	if !applied {
		t.Fatal("patch was not applied")
	}

	data, err := os.ReadFile(file)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(after, string(data)); diff != "" {
		t.Errorf("patched file (-want +got):\n%s", diff)
	}
}

func TestReadFileOutsideProject(t *testing.T) {
	env := NewConfigEnv(t.TempDir(), Params{})
	if _, err := env.ReadFile("../secret"); err == nil {
		t.Errorf("expected reading outside the project to fail")
	}
}
