package builder

import (
	"errors"
	"os"
	"os/exec"

	"github.com/sherlockcv/shbuild/internal/builder/gen"
)

var (
	commonCCompilers   = []string{"clang", "gcc", "icx", "icc", "tcc"}
	commonCxxCompilers = []string{"clang++", "g++", "clang", "gcc", "icpx", "icx", "icpc", "icc"}
	commonArchivers    = []string{"ar", "llvm-ar", "gcc-ar"}

	errNoCompiler = errors.New("no C++ compiler found, set CXX")
	errNoArchiver = errors.New("no archiver found, set AR")
)

// findCompiler attempts to find a suitable C or C++ compiler on the system
func findCompiler(needCxx bool) string {
	cc := os.Getenv("CC")
	cxx := os.Getenv("CXX")

	if needCxx && cxx != "" {
		return cxx
	}
	if !needCxx && cc != "" {
		return cc
	}

	if cxx != "" {
		return cxx
	}
	if cc != "" {
		return cc
	}

	compilersToTry := commonCCompilers
	if needCxx {
		compilersToTry = commonCxxCompilers
	}
	return lookFirst(compilersToTry)
}

func findArchiver() string {
	if ar := os.Getenv("AR"); ar != "" {
		return ar
	}
	return lookFirst(commonArchivers)
}

func lookFirst(programs []string) string {
	for _, program := range programs {
		if path, err := exec.LookPath(program); err == nil {
			return path
		}
	}
	return ""
}

// findToolchain discovers the compilers and archiver, honouring CC, CXX and AR.
func findToolchain() (gen.Toolchain, error) {
	tc := gen.Toolchain{
		CC:  findCompiler(false),
		CXX: findCompiler(true),
		AR:  findArchiver(),
	}
	if tc.CXX == "" {
		return tc, errNoCompiler
	}
	if tc.CC == "" {
		tc.CC = tc.CXX
	}
	if tc.AR == "" {
		return tc, errNoArchiver
	}
	return tc, nil
}
