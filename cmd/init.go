// shbuild init [name], shbuild new [path]
package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/sherlockcv/shbuild/internal/builder"
	"github.com/sherlockcv/shbuild/internal/msg"
	"github.com/spf13/cobra"
)

func writefile(content string, elem ...string) {
	path := filepath.Join(elem...)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err = os.WriteFile(path, []byte(content), 0o644); err != nil {
			msg.Fatal("create file %s: %v", path, err)
		}
		fmt.Printf("%s file: %s\n", color.HiGreenString("Created"), filepath.ToSlash(path))
	}
}

func mkdir(elem ...string) {
	path := filepath.Join(elem...)
	if err := os.MkdirAll(path, 0o755); err != nil {
		msg.Fatal("mkdir %s: %v", path, err)
	}
}

func getProgramName() string {
	if len(os.Args) == 0 {
		return "shbuild"
	}
	basename := filepath.Base(os.Args[0])
	return strings.TrimSuffix(basename, filepath.Ext(basename))
}

func starterConfig(name string, withBites bool) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, `[project]
name = %q

[env]
include = ["include"]
cxxflags = ["-std=c++11"]
`, name)
	if withBites {
		sb.WriteString(`uses = ["bites"]

[subbuild.bites]
# expects bites/SConstruct, or set source = "<git url or directory>"
include = "include"
lib = "lib"
`)
	}
	sb.WriteString(`
[library]
sources = ["src/lib/*.cpp"]
libs = ["opencv_core", "opencv_imgproc"]

[executables]
sources = ["src/*.cpp"]
libs = ["` + name + `", "opencv_core", "opencv_highgui", "opencv_imgproc", "boost_thread"`)
	if withBites {
		sb.WriteString(`, "bites"`)
	}
	sb.WriteString("]\n")
	return sb.String()
}

// initIn initializes a project in an existing directory
func initIn(dir, name string, withBites bool) {
	writefile(starterConfig(name, withBites), dir, builder.ConfigFilename)

	mkdir(dir, "include")
	mkdir(dir, "src", "lib")

	writefile(`#ifndef `+strings.ToUpper(name)+`_UTIL_H
#define `+strings.ToUpper(name)+`_UTIL_H

#include <opencv2/core/core.hpp>

cv::Mat average(const cv::Mat &a, const cv::Mat &b);

#endif
`, dir, "include", "util.h")

	writefile(`#include "util.h"

cv::Mat average(const cv::Mat &a, const cv::Mat &b) {
    cv::Mat out;
    cv::addWeighted(a, 0.5, b, 0.5, 0.0, out);
    return out;
}
`, dir, "src", "lib", "util.cpp")

	writefile(`#include <iostream>
#include <opencv2/highgui/highgui.hpp>
#include "util.h"

int main(int argc, char **argv) {
    if (argc < 3) {
        std::cerr << "usage: " << argv[0] << " a.png b.png" << std::endl;
        return 1;
    }
    cv::Mat avg = average(cv::imread(argv[1]), cv::imread(argv[2]));
    cv::imshow("diffavg", avg);
    cv::waitKey(0);
    return 0;
}
`, dir, "src", "diffavg.cpp")

	// .gitignore
	writefile(`bin/
lib/
build/
`, dir, ".gitignore")

	programName := getProgramName()
	fmt.Printf("You can now do %s to build, or %s to build and run.\n",
		color.HiCyanString(programName+" "+dir),
		color.HiCyanString(programName+" run -C "+dir+" diffavg"))
}

var withBites bool

var initCmd = &cobra.Command{
	Use:   "init [name]",
	Short: "Create a new project in the current directory",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		initIn(".", args[0], withBites)
	},
}

var newCmd = &cobra.Command{
	Use:   "new [path]",
	Short: "Create a new project in a new directory",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		mkdir(args[0])
		initIn(args[0], filepath.Base(args[0]), withBites)
	},
}

func init() {
	// shbuild init subcommand
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVar(&withBites, "bites", false, "Declare a bites sub-build")

	// shbuild new subcommand
	rootCmd.AddCommand(newCmd)
	newCmd.Flags().BoolVar(&withBites, "bites", false, "Declare a bites sub-build")
}
