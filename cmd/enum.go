package cmd

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"
)

// EnumValue is a pflag.Value restricted to a fixed set of names.
type EnumValue struct {
	value string
	help  map[string]string // name -> completion help
}

func NewEnumValue(def string, help map[string]string) EnumValue {
	if _, ok := help[def]; !ok {
		panic(fmt.Sprintf("default value %q not in allowed set", def))
	}
	return EnumValue{value: def, help: help}
}

func (e *EnumValue) String() string { return e.value }
func (e *EnumValue) Type() string   { return "enum" }
func (e *EnumValue) Value() string  { return e.value }

func (e *EnumValue) Set(v string) error {
	if _, ok := e.help[v]; !ok {
		return fmt.Errorf("must be one of: %s", strings.Join(e.AllowedKeys(), ", "))
	}
	e.value = v
	return nil
}

func (e *EnumValue) AllowedKeys() []string { return slices.Sorted(maps.Keys(e.help)) }

func (e *EnumValue) HelpString() string {
	return "[" + strings.Join(e.AllowedKeys(), ", ") + "]"
}

func (e *EnumValue) CompletionFunc() func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
	return func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		var items []string
		for _, name := range e.AllowedKeys() {
			if h := e.help[name]; h != "" {
				name += "\t" + h
			}
			items = append(items, name)
		}
		return items, cobra.ShellCompDirectiveNoFileComp
	}
}
