// shbuild run <exe> [key=value...] [-- args...]
package cmd

import (
	"errors"
	"os"
	"os/exec"

	"github.com/sherlockcv/shbuild/internal/builder"
	"github.com/sherlockcv/shbuild/internal/msg"
	"github.com/spf13/cobra"
)

func doRun(cmd *cobra.Command, args []string) {
	var programArgs []string
	if dash := cmd.ArgsLenAtDash(); dash >= 0 {
		args, programArgs = args[:dash], args[dash:]
	}

	params, rest, err := builder.ParseParams(args)
	if err != nil {
		msg.Fatal("%v", err)
	}
	if len(rest) != 1 {
		msg.Fatal("expected exactly one executable name, got %v", rest)
	}

	b, err := builder.NewBuilderInDirectory(flagDir, params)
	if err != nil {
		msg.Fatal("%v", err)
	}
	if err := b.BuildAndRun(cmd.Context(), rest[0], programArgs, buildOptions()); err != nil {
		// pass the program's exit status through
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.ExitCode())
		}
		msg.Fatal("%v", err)
	}
}

var runCmd = &cobra.Command{
	Use:   "run <exe> [key=value...] [-- args...]",
	Short: "Build the project and run one of its executables",
	Long:  `Build the project and run bin/<exe>. Arguments after -- are passed to the program.`,
	Args:  cobra.MinimumNArgs(1),
	Run:   doRun,
}

func init() {
	// shbuild run subcommand
	rootCmd.AddCommand(runCmd)
	addBuildFlags(runCmd)
	runCmd.Flags().StringVarP(&flagDir, "dir", "C", ".", "Project directory")
}
