// shbuild plan [dir] [key=value...]
package cmd

import (
	"fmt"
	"io"
	"runtime"
	"strings"

	"github.com/fatih/color"
	"github.com/sherlockcv/shbuild/internal/builder"
	"github.com/sherlockcv/shbuild/internal/builder/gen"
	"github.com/sherlockcv/shbuild/internal/msg"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var flagFormat EnumValue = NewEnumValue("text", map[string]string{
	"text": "Human readable listing (default)",
	"yaml": "YAML document for other tools",
})

type targetView struct {
	Name    string   `yaml:"name"`
	Kind    string   `yaml:"kind"`
	Output  string   `yaml:"output"`
	File    string   `yaml:"file"`
	Sources []string `yaml:"sources"`
	Deps    []string `yaml:"deps,omitempty"`
	Cflags  []string `yaml:"cflags"`
	Ldflags []string `yaml:"ldflags,omitempty"`
}

type subbuildView struct {
	Name    string `yaml:"name"`
	Path    string `yaml:"path"`
	Include string `yaml:"include,omitempty"`
	Lib     string `yaml:"lib,omitempty"`
}

type planView struct {
	Root      string         `yaml:"root"`
	Subbuilds []subbuildView `yaml:"subbuilds,omitempty"`
	Targets   []targetView   `yaml:"targets"`
}

func kindName(k gen.Kind) string {
	if k == gen.StaticLibrary {
		return "static library"
	}
	return "executable"
}

func writePlanYAML(w io.Writer, plan *builder.Plan, goos string) error {
	view := planView{Root: plan.Root}
	for _, s := range plan.Subbuilds {
		view.Subbuilds = append(view.Subbuilds, subbuildView{Name: s.Name, Path: s.Path, Include: s.Include, Lib: s.Lib})
	}
	for _, t := range plan.Targets {
		tv := targetView{
			Name:    t.Name,
			Kind:    kindName(t.Kind),
			Output:  t.Output(plan.Layout),
			File:    t.File(plan.Layout, goos),
			Sources: t.Sources,
			Deps:    t.Deps,
			Cflags:  t.Config.Cflags(),
		}
		if t.Kind == gen.Executable {
			tv.Ldflags = t.Config.Ldflags()
		}
		view.Targets = append(view.Targets, tv)
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(view); err != nil {
		return err
	}
	return enc.Close()
}

func printPlan(w io.Writer, plan *builder.Plan) {
	for _, s := range plan.Subbuilds {
		fmt.Fprintf(w, "%s %s (%s)\n", color.HiGreenString("subbuild"), s.Name, s.Path)
		if s.Include != "" {
			fmt.Fprintf(w, "    include: %s\n", s.Include)
		}
		if s.Lib != "" {
			fmt.Fprintf(w, "    lib:     %s\n", s.Lib)
		}
	}

	for _, t := range plan.Targets {
		fmt.Fprintf(w, "%s %s (%s)\n", color.HiCyanString(t.Output(plan.Layout)), kindName(t.Kind), t.Name)
		fmt.Fprintf(w, "    sources: %s\n", strings.Join(t.Sources, " "))
		if len(t.Deps) > 0 {
			fmt.Fprintf(w, "    deps:    %s\n", strings.Join(t.Deps, " "))
		}
		fmt.Fprintf(w, "    cflags:  %s\n", strings.Join(t.Config.Cflags(), " "))
		if t.Kind == gen.Executable {
			fmt.Fprintf(w, "    ldflags: %s\n", strings.Join(t.Config.Ldflags(), " "))
		}
	}
}

var planCmd = &cobra.Command{
	Use:   "plan [dir] [key=value...]",
	Short: "Validate the project and print its targets without building",
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
		plan, err := b.Plan()
		if err != nil {
			msg.Fatal("%v", err)
		}
		if flagFormat.Value() == "yaml" {
			if err := writePlanYAML(cmd.OutOrStdout(), plan, runtime.GOOS); err != nil {
				msg.Fatal("%v", err)
			}
			return
		}
		printPlan(cmd.OutOrStdout(), plan)
	},
}

func init() {
	// shbuild plan subcommand
	rootCmd.AddCommand(planCmd)
	planCmd.Flags().VarP(&flagFormat, "format", "o", "Output format, one of "+flagFormat.HelpString())
	planCmd.RegisterFlagCompletionFunc("format", flagFormat.CompletionFunc())
}
