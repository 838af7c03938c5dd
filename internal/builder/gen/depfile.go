package gen

import (
	"os"
	"path/filepath"
	"strings"
)

// includedHeaders reads the depfile the compiler wrote next to an object and
// returns the absolute paths of everything the source pulled in, minus the
// source itself. A missing depfile yields no headers.
func includedHeaders(src, depfile string) ([]string, error) {
	data, err := os.ReadFile(depfile)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var headers []string
	for _, dep := range parseDepfile(data) {
		if !filepath.IsAbs(dep) {
			if dep, err = filepath.Abs(dep); err != nil {
				return nil, err
			}
		}
		dep = filepath.Clean(dep)
		if dep != filepath.Clean(src) {
			headers = append(headers, dep)
		}
	}
	return headers, nil
}

// parseDepfile returns the prerequisites of every rule in a make-style
// dependency file, in order and without duplicates.
func parseDepfile(data []byte) []string {
	text := strings.NewReplacer("\\\r\n", " ", "\\\n", " ").Replace(string(data))

	var deps []string
	seen := make(map[string]bool)
	for line := range strings.Lines(text) {
		prereqs := false
		for _, tok := range depfileTokens(line) {
			if !prereqs {
				prereqs = strings.HasSuffix(tok, ":")
				continue
			}
			if !seen[tok] {
				seen[tok] = true
				deps = append(deps, tok)
			}
		}
	}
	return deps
}

func depfileTokens(line string) []string {
	var tokens []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == '\\' && i+1 < len(line) && (line[i+1] == ' ' || line[i+1] == '#'):
			i++
			cur.WriteByte(line[i])
		case c == '$' && i+1 < len(line) && line[i+1] == '$':
			i++
			cur.WriteByte('$')
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			flush()
		default:
			cur.WriteByte(c)
		}
	}
	flush()
	return tokens
}
