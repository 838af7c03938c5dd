// shbuild watch [dir] [key=value...]
package cmd

import (
	"sync"

	"github.com/fatih/color"
	"github.com/sherlockcv/shbuild/internal/builder"
	"github.com/sherlockcv/shbuild/internal/msg"
	"github.com/sherlockcv/shbuild/internal/watch"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch [dir] [key=value...]",
	Short: "Build the project and rebuild it whenever a file changes",
	Args:  cobra.ArbitraryArgs,
	Run: func(cmd *cobra.Command, args []string) {
		params, dir, err := parseInvocation(args)
		if err != nil {
			msg.Fatal("%v", err)
		}
		b, err := builder.NewBuilderInDirectory(dir, params)
		if err != nil {
			msg.Fatal("%v", err)
		}

		var mu sync.Mutex
		rebuild := func() {
			mu.Lock()
			defer mu.Unlock()

			// reload so edits to shbuild.toml take effect
			b, err := builder.NewBuilderInDirectory(dir, params)
			if err == nil {
				err = b.Build(cmd.Context(), buildOptions())
			}
			if err != nil {
				msg.Error("%v", err)
				return
			}
			msg.Info("%s, waiting for changes", color.HiGreenString("build succeeded"))
		}

		w, err := watch.New(b.Dir(), b.GeneratedPaths(), rebuild)
		if err != nil {
			msg.Fatal("%v", err)
		}
		rebuild()
		if err := w.Run(cmd.Context()); err != nil {
			msg.Fatal("%v", err)
		}
	},
}

func init() {
	// shbuild watch subcommand
	rootCmd.AddCommand(watchCmd)
	addBuildFlags(watchCmd)
}
