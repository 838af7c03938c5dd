package builder

import (
	"path/filepath"
	"strings"
)

// ResolveTargetName derives a target name from a source path by dropping the
// directories and the final extension: "src/diffavg1.cpp" -> "diffavg1".
// Both slash styles are treated as separators.
func ResolveTargetName(sourcePath string) string {
	base := sourcePath
	if i := strings.LastIndexAny(base, `/\`); i >= 0 {
		base = base[i+1:]
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}
