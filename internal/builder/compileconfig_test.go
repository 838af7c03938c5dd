package builder

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestApplyDebugFlagIsIdempotent(t *testing.T) {
	cfg := NewCompileConfig(nil, nil, []string{"opencv_core"}, []string{"-std=c++11"})

	once := ApplyDebugFlag(cfg, true)
	twice := ApplyDebugFlag(once, true)

	want := []string{"-std=c++11", "-g"}
	if diff := cmp.Diff(want, once.Flags()); diff != "" {
		t.Errorf("flags after one application (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(once.Flags(), twice.Flags()); diff != "" {
		t.Errorf("second application changed the flags (-once +twice):\n%s", diff)
	}
	if cfg.HasFlag(DebugFlag) {
		t.Errorf("ApplyDebugFlag mutated its input")
	}
}

func TestApplyDebugFlagDisabled(t *testing.T) {
	cfg := NewCompileConfig(nil, nil, nil, []string{"-std=c++11"})
	if got := ApplyDebugFlag(cfg, false); got.HasFlag(DebugFlag) {
		t.Errorf("debug flag present with debug=false: %v", got.Flags())
	}
}

func TestMergeKeepsOrderAndDoesNotMutate(t *testing.T) {
	group := NewCompileConfig([]string{"include"}, nil, []string{"sherlock", "opencv_core"}, []string{"-O2"})
	shared := NewCompileConfig([]string{"include", "bites/include"}, []string{"bites/lib"}, []string{"opencv_core", "boost_thread"}, []string{"-std=c++11"})

	merged := group.Merge(shared)

	if diff := cmp.Diff([]string{"include", "bites/include"}, merged.IncludePaths()); diff != "" {
		t.Errorf("include paths (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"sherlock", "opencv_core", "boost_thread"}, merged.Libraries()); diff != "" {
		t.Errorf("libraries (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"-O2", "-std=c++11"}, merged.Flags()); diff != "" {
		t.Errorf("flags (-want +got):\n%s", diff)
	}

	if len(group.IncludePaths()) != 1 || len(group.Libraries()) != 2 || len(shared.Flags()) != 1 {
		t.Errorf("Merge mutated an operand: %+v %+v", group, shared)
	}
}

func TestAccessorsReturnCopies(t *testing.T) {
	cfg := NewCompileConfig(nil, nil, []string{"opencv_core"}, nil)
	libs := cfg.Libraries()
	libs[0] = "changed"
	if got := cfg.Libraries()[0]; got != "opencv_core" {
		t.Errorf("config changed through an accessor: %q", got)
	}
}

func TestRenderFlags(t *testing.T) {
	root := filepath.FromSlash("/work/sherlock")
	cfg := NewCompileConfig(
		[]string{"include", "bites/include"},
		[]string{"bites/lib"},
		[]string{"opencv_core", "bites"},
		[]string{"-std=c++11"},
	).Rooted(root).WithLibraryFirst("sherlock").WithLibraryPaths(filepath.Join(root, "lib"))

	wantCflags := []string{
		"-std=c++11",
		"-I" + filepath.Join(root, "include"),
		"-I" + filepath.Join(root, "bites", "include"),
	}
	if diff := cmp.Diff(wantCflags, cfg.Cflags()); diff != "" {
		t.Errorf("cflags (-want +got):\n%s", diff)
	}

	wantLdflags := []string{
		"-L" + filepath.Join(root, "bites", "lib"),
		"-L" + filepath.Join(root, "lib"),
		"-lsherlock",
		"-lopencv_core",
		"-lbites",
	}
	if diff := cmp.Diff(wantLdflags, cfg.Ldflags()); diff != "" {
		t.Errorf("ldflags (-want +got):\n%s", diff)
	}
}
