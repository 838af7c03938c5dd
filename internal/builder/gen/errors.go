package gen

import (
	"fmt"
	"regexp"
	"strings"
)

// CompileError reports a source file the compiler rejected.
type CompileError struct {
	Target     string
	Source     string
	Output     string // compiler diagnostics
	Invocation string // id of the build that failed, as recorded in the state file
	Err        error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("failed to compile %s (target %s%s): %v", e.Source, e.Target, invocationSuffix(e.Invocation), e.Err)
}

func (e *CompileError) Unwrap() error { return e.Err }

// LinkError reports a target that could not be linked or archived.
type LinkError struct {
	Target     string
	Libraries  []string // libraries on the link line
	Unresolved []string // libraries the linker could not find
	Symbols    []string // undefined symbols
	Output     string
	Invocation string
	Err        error
}

func (e *LinkError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "failed to link %s: %v", e.Target, e.Err)
	if e.Invocation != "" {
		fmt.Fprintf(&sb, " (build %s)", e.Invocation)
	}
	if len(e.Unresolved) > 0 {
		fmt.Fprintf(&sb, "; unresolved libraries: %s", strings.Join(e.Unresolved, ", "))
	}
	if len(e.Symbols) > 0 {
		fmt.Fprintf(&sb, "; undefined symbols: %s", strings.Join(e.Symbols, ", "))
	}
	return sb.String()
}

func (e *LinkError) Unwrap() error { return e.Err }

func invocationSuffix(id string) string {
	if id == "" {
		return ""
	}
	return ", build " + id
}

var (
	// GNU ld, lld and ld64 spellings
	missingLibRegex = regexp.MustCompile(`(?:cannot find|unable to find library|library not found for) -l([^\s:'"]+)`)
	undefRefRegex   = regexp.MustCompile("undefined reference to [`']([^']+)'")
	undefSymRegex   = regexp.MustCompile(`undefined symbol: (.+)$`)
)

// parseLinkerOutput extracts missing libraries and undefined symbols from
// linker diagnostics, in order of first appearance.
func parseLinkerOutput(out string) (libs, symbols []string) {
	seenLib := make(map[string]bool)
	seenSym := make(map[string]bool)
	for line := range strings.Lines(out) {
		line = strings.TrimRight(line, "\r\n")
		if m := missingLibRegex.FindStringSubmatch(line); m != nil && !seenLib[m[1]] {
			seenLib[m[1]] = true
			libs = append(libs, m[1])
		}
		for _, re := range []*regexp.Regexp{undefRefRegex, undefSymRegex} {
			if m := re.FindStringSubmatch(line); m != nil && !seenSym[m[1]] {
				seenSym[m[1]] = true
				symbols = append(symbols, m[1])
			}
		}
	}
	return libs, symbols
}
