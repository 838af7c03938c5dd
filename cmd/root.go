// shbuild [dir] [key=value...], shbuild build [dir] [key=value...]
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/sherlockcv/shbuild/internal/builder"
	"github.com/sherlockcv/shbuild/internal/msg"
	"github.com/spf13/cobra"
)

var (
	flagJobs      int
	flagDir       string
	flagGenerator EnumValue = NewEnumValue(builder.GeneratorNative, map[string]string{
		builder.GeneratorNative: "Compile and link directly (default)",
		builder.GeneratorNinja:  "Generate build/build.ninja and run ninja",
	})
)

func buildOptions() builder.BuildOptions {
	return builder.BuildOptions{Generator: flagGenerator.Value(), Jobs: flagJobs}
}

// parseInvocation splits key=value parameters from the optional project directory.
func parseInvocation(args []string) (builder.Params, string, error) {
	params, rest, err := builder.ParseParams(args)
	if err != nil {
		return params, "", err
	}
	switch len(rest) {
	case 0:
		return params, ".", nil
	case 1:
		return params, rest[0], nil
	default:
		return params, "", fmt.Errorf("expected at most one project directory, got %v", rest)
	}
}

func doBuild(cmd *cobra.Command, args []string) {
	params, dir, err := parseInvocation(args)
	if err != nil {
		msg.Fatal("%v", err)
	}
	b, err := builder.NewBuilderInDirectory(dir, params)
	if err != nil {
		msg.Fatal("%v", err)
	}
	if err := b.Build(cmd.Context(), buildOptions()); err != nil {
		msg.Fatal("%v", err)
	}
}

var rootCmd = &cobra.Command{
	Use:   "shbuild [dir] [key=value...]",
	Short: "Build the Sherlock tools",
	Long: `Build the Sherlock library and tools described by shbuild.toml.

Parameters are given as key=value pairs. debug=1 compiles every target with -g.`,
	Args: cobra.ArbitraryArgs,
	Run:  doBuild,
}

var buildCmd = &cobra.Command{
	Use:   "build [dir] [key=value...]",
	Short: "Build the project",
	Long:  `Build the project. If no directory is given, uses "."`,
	Args:  cobra.ArbitraryArgs,
	Run:   doBuild,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&msg.Verbose, "verbose", "v", false, "Print debug output")
	addBuildFlags(rootCmd)

	// shbuild build subcommand
	rootCmd.AddCommand(buildCmd)
	addBuildFlags(buildCmd)
}

func addBuildFlags(cmd *cobra.Command) {
	cmd.Flags().VarP(&flagGenerator, "gen", "g", "Generator to build with, one of "+flagGenerator.HelpString())
	cmd.RegisterFlagCompletionFunc("gen", flagGenerator.CompletionFunc())
	cmd.Flags().IntVarP(&flagJobs, "jobs", "j", 0, "Number of parallel jobs (default: number of CPUs)")
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
