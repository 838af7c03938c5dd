package builder

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Params are the key=value invocation parameters, e.g. `shbuild . debug=1`.
type Params struct {
	Debug bool
	Args  map[string]string
}

// ParseParams splits command line arguments into key=value parameters and
// the remaining positional arguments.
func ParseParams(args []string) (Params, []string, error) {
	params := Params{Args: make(map[string]string)}
	var positional []string

	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			positional = append(positional, arg)
			continue
		}
		if key == "" {
			return Params{}, nil, fmt.Errorf("invalid parameter %q: missing name", arg)
		}
		params.Args[key] = value
	}

	switch debug := params.Args["debug"]; debug {
	case "", "0":
		params.Debug = false
	case "1":
		params.Debug = true
	default:
		return Params{}, nil, fmt.Errorf("invalid value %q for debug, expected 0 or 1", debug)
	}

	return params, positional, nil
}

// Strings renders the parameters back to key=value form, debug first.
func (p Params) Strings() []string {
	out := []string{"debug=0"}
	if p.Debug {
		out[0] = "debug=1"
	}
	for _, key := range slices.Sorted(maps.Keys(p.Args)) {
		if key != "debug" {
			out = append(out, key+"="+p.Args[key])
		}
	}
	return out
}
