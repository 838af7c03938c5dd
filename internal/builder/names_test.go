package builder

import "testing"

func TestResolveTargetName(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"src/diffavg1.cpp", "diffavg1"},
		{"src/playcv2.cpp", "playcv2"},
		{"playcv.cpp", "playcv"},
		{"deep/nested/dir/detect.cc", "detect"},
		{`src\win\detect2.cpp`, "detect2"},
		{"src/archive.tar.gz", "archive.tar"},
		{"src.v2/playcv", "playcv"},
		{"/abs/src/util.cpp", "util"},
		{"src/.cpp", ""},
	}

	for _, tt := range tests {
		if got := ResolveTargetName(tt.path); got != tt.want {
			t.Errorf("ResolveTargetName(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}
