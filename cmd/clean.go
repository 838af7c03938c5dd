// shbuild clean [dir]
package cmd

import (
	"github.com/sherlockcv/shbuild/internal/builder"
	"github.com/sherlockcv/shbuild/internal/msg"
	"github.com/spf13/cobra"
)

var cleanCmd = &cobra.Command{
	Use:   "clean [dir]",
	Short: "Remove the bin, lib and build directories",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		dir := "."
		if len(args) > 0 {
			dir = args[0]
		}
		b, err := builder.NewBuilderInDirectory(dir, builder.Params{})
		if err != nil {
			msg.Fatal("%v", err)
		}
		if err := b.Clean(); err != nil {
			msg.Fatal("%v", err)
		}
	},
}

func init() {
	// shbuild clean subcommand
	rootCmd.AddCommand(cleanCmd)
}
