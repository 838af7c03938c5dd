package builder

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"runtime"
	"slices"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/pelletier/go-toml/v2"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// ConfigFilename is the build description looked up in the project root.
const ConfigFilename = "shbuild.toml"

type Config struct {
	Project     ProjectSection             `toml:"project"`
	Env         GroupSection               `toml:"env"`
	Layout      Layout                     `toml:"layout"`
	Subbuild    map[string]SubbuildSection `toml:"subbuild"`
	Library     LibrarySection             `toml:"library"`
	Executables ExecutablesSection         `toml:"executables"`
}

// ProjectSection defines the [project] section
type ProjectSection struct {
	Name        string   `toml:"name"`
	Description string   `toml:"description"`
	Authors     []string `toml:"authors"`
	Build       string   `toml:"build"`
}

// GroupSection holds the compile settings shared by [env], [library] and [executables]
type GroupSection struct {
	Include  []string          `toml:"include"`
	Libpath  []string          `toml:"libpath"`
	Libs     []string          `toml:"libs"`
	Cxxflags []string          `toml:"cxxflags"`
	Defines  map[string]string `toml:"defines"`
	Uses     []string          `toml:"uses"`
}

// LibrarySection defines the [library] section
type LibrarySection struct {
	Name    string   `toml:"name"`
	Sources []string `toml:"sources"`
	GroupSection
}

// ExecutablesSection defines the [executables] section
type ExecutablesSection struct {
	Sources     []string `toml:"sources"`
	LinkLibrary bool     `toml:"link-library"`
	GroupSection
}

// SubbuildSection defines one [subbuild.<name>] section
type SubbuildSection struct {
	Path    string   `toml:"path"`
	Source  string   `toml:"source"`
	Command []string `toml:"command"`
	Include string   `toml:"include"`
	Lib     string   `toml:"lib"`
}

// compileConfig turns the section into a CompileConfig. Defines are rendered
// as -D flags in name order.
func (g GroupSection) compileConfig() CompileConfig {
	flags := slices.Clone(g.Cxxflags)
	for _, define := range slices.Sorted(maps.Keys(g.Defines)) {
		if v := g.Defines[define]; v != "" {
			flags = append(flags, "-D"+define+"="+v)
		} else {
			flags = append(flags, "-D"+define)
		}
	}
	return NewCompileConfig(g.Include, g.Libpath, g.Libs, flags)
}

// mergeStructs merges the fields of the src struct into the dst struct
func mergeStructs(dst, src any) error {
	dstVal := reflect.ValueOf(dst)
	if dstVal.Kind() != reflect.Pointer || dstVal.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("dst must be a pointer to a struct")
	}

	dstElem := dstVal.Elem()
	srcVal := reflect.ValueOf(src)

	if srcVal.Kind() == reflect.Pointer {
		srcVal = srcVal.Elem()
	}

	if srcVal.Kind() != reflect.Struct {
		return fmt.Errorf("src must be a struct or a pointer to a struct")
	}

	if dstElem.Type() != srcVal.Type() {
		return fmt.Errorf("dst and src must be of the same struct type")
	}

	for i := range srcVal.NumField() {
		srcField := srcVal.Field(i)
		dstField := dstElem.Field(i)

		if !dstField.CanSet() {
			continue
		}

		switch dstField.Kind() {
		case reflect.Struct:
			if err := mergeStructs(dstField.Addr().Interface(), srcField.Interface()); err != nil {
				return err
			}
		case reflect.Slice:
			if !srcField.IsNil() {
				dstField.Set(reflect.AppendSlice(dstField, srcField))
			}
		case reflect.Map:
			if !srcField.IsNil() {
				if dstField.IsNil() {
					dstField.Set(reflect.MakeMap(dstField.Type()))
				}
				for _, key := range srcField.MapKeys() {
					dstField.SetMapIndex(key, srcField.MapIndex(key))
				}
			}
		case reflect.Bool:
			dstField.SetBool(dstField.Bool() || srcField.Bool())
		default:
			if !srcField.IsZero() {
				dstField.Set(srcField)
			}
		}
	}

	return nil
}

// remarshal converts a decoded TOML subtree into dst
func remarshal(data any, dst any) error {
	b, err := toml.Marshal(data)
	if err != nil {
		return err
	}
	return toml.Unmarshal(b, dst)
}

// unmarshalSection is a helper to parse sections without conditional logic
func unmarshalSection(rawCfg map[string]any, name string, dst any) error {
	if data, ok := rawCfg[name]; ok {
		if err := remarshal(data, dst); err != nil {
			return fmt.Errorf("failed to parse [%s] section: %w", name, err)
		}
	}
	return nil
}

// unmarshalConditionalSection parses a section and merges every sub-table
// whose key is an expression evaluating to true, e.g. [executables.'debug'].
func unmarshalConditionalSection[T any](rawCfg map[string]any, name string, dst *T, env ConfigEnv) error {
	sectionData, ok := rawCfg[name]
	if !ok {
		return nil
	}

	sectionMap, ok := sectionData.(map[string]any)
	if !ok {
		return fmt.Errorf("invalid [%s] section format: expected a table", name)
	}

	baseFields := make(map[string]any)
	conditionalFields := make(map[string]map[string]any)

	for key, val := range sectionMap {
		if subMap, ok := val.(map[string]any); ok && key != "defines" {
			_, err := expr.Compile(key, expr.Env(env), expr.AsBool())
			if err == nil {
				conditionalFields[key] = subMap
				continue
			}
		}
		baseFields[key] = val
	}

	if len(baseFields) > 0 {
		if err := remarshal(baseFields, dst); err != nil {
			return fmt.Errorf("failed to parse base [%s] section: %w", name, err)
		}
	}

	// merge in a stable order so list fields come out the same every run
	for _, expression := range slices.Sorted(maps.Keys(conditionalFields)) {
		program, err := expr.Compile(expression, expr.Env(env), expr.AsBool())
		if err != nil {
			return fmt.Errorf("failed to compile expression for [%s.%q]: %w", name, expression, err)
		}

		result, err := expr.Run(program, env)
		if err != nil {
			return fmt.Errorf("failed to run expression for [%s.%q]: %w", name, expression, err)
		}

		if matched, ok := result.(bool); !ok || !matched {
			continue
		}

		var condSection T
		if err := remarshal(conditionalFields[expression], &condSection); err != nil {
			return fmt.Errorf("failed to parse conditional section [%s.%q]: %w", name, expression, err)
		}
		if err := mergeStructs(dst, condSection); err != nil {
			return fmt.Errorf("failed to merge conditional section [%s.%q]: %w", name, expression, err)
		}
	}

	return nil
}

var exprRegex = regexp.MustCompile(`\{\{(.+?)\}\}`)

// evaluateString finds and evaluates all {{...}} expressions in a string
func evaluateString(s string, env ConfigEnv) (string, error) {
	matches := exprRegex.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s, nil
	}

	var builder strings.Builder
	lastIndex := 0

	for _, matchIndexes := range matches {
		fullMatchStart := matchIndexes[0]
		fullMatchEnd := matchIndexes[1]
		expressionStart := matchIndexes[2]
		expressionEnd := matchIndexes[3]

		builder.WriteString(s[lastIndex:fullMatchStart])

		expression := strings.TrimSpace(s[expressionStart:expressionEnd])
		program, err := expr.Compile(expression, expr.Env(env))
		if err != nil {
			return "", fmt.Errorf("failed to compile expression %q: %w", expression, err)
		}

		result, err := expr.Run(program, env)
		if err != nil {
			return "", fmt.Errorf("failed to run expression %q: %w", expression, err)
		}

		fmt.Fprintf(&builder, "%v", result)
		lastIndex = fullMatchEnd
	}

	builder.WriteString(s[lastIndex:])

	return builder.String(), nil
}

// processExpressions recursively walks the parsed TOML data and evaluates expressions in strings
func processExpressions(data any, env ConfigEnv) (any, error) {
	switch v := data.(type) {
	case map[string]any:
		for key, val := range v {
			processedVal, err := processExpressions(val, env)
			if err != nil {
				return nil, err
			}
			v[key] = processedVal
		}
		return v, nil
	case []any:
		for i, item := range v {
			processedItem, err := processExpressions(item, env)
			if err != nil {
				return nil, err
			}
			v[i] = processedItem
		}
		return v, nil
	case string:
		return evaluateString(v, env)
	default:
		return data, nil
	}
}

func ParseConfig(rdr io.Reader, env ConfigEnv) (*Config, error) {
	var rawConfig map[string]any
	dec := toml.NewDecoder(rdr)
	if err := dec.Decode(&rawConfig); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			return nil, errors.New(derr.String())
		}
		return nil, err
	}

	// the build script is evaluated later, after sub-build sources are fetched
	var buildScript any
	if project, ok := rawConfig["project"].(map[string]any); ok {
		buildScript = project["build"]
		delete(project, "build")
	}

	processedConfig, err := processExpressions(rawConfig, env)
	if err != nil {
		return nil, fmt.Errorf("error processing expressions in config: %w", err)
	}
	rawConfig = processedConfig.(map[string]any)

	cfg := new(Config)
	cfg.Layout = defaultLayout

	if err := unmarshalSection(rawConfig, "project", &cfg.Project); err != nil {
		return nil, err
	}
	if script, ok := buildScript.(string); ok {
		cfg.Project.Build = script
	}
	if err := unmarshalSection(rawConfig, "layout", &cfg.Layout); err != nil {
		return nil, err
	}
	if err := unmarshalSection(rawConfig, "subbuild", &cfg.Subbuild); err != nil {
		return nil, err
	}
	if err := unmarshalConditionalSection(rawConfig, "env", &cfg.Env, env); err != nil {
		return nil, err
	}
	if err := unmarshalConditionalSection(rawConfig, "library", &cfg.Library, env); err != nil {
		return nil, err
	}
	if err := unmarshalConditionalSection(rawConfig, "executables", &cfg.Executables, env); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) validate() error {
	if cfg.Library.Name == "" {
		cfg.Library.Name = cfg.Project.Name
	}
	if len(cfg.Library.Sources) > 0 && cfg.Library.Name == "" {
		return errors.New("[library] has sources but neither library.name nor project.name is set")
	}
	for name, sb := range cfg.Subbuild {
		if sb.Path == "" {
			sb.Path = name
			cfg.Subbuild[name] = sb
		}
	}
	for section, uses := range map[string][]string{
		"env":         cfg.Env.Uses,
		"library":     cfg.Library.Uses,
		"executables": cfg.Executables.Uses,
	} {
		for _, use := range uses {
			if _, ok := cfg.Subbuild[use]; !ok {
				return fmt.Errorf("[%s] uses unknown sub-build %q", section, use)
			}
		}
	}
	return nil
}

// ParseConfigFromFile parses and validates a config file from a filepath
func ParseConfigFromFile(path string, env ConfigEnv) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg, err := ParseConfig(bufio.NewReader(f), env)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

//
// expr-lang helpers
//

// RunBuildScript evaluates [project] build, which must return true.
func (cfg Config) RunBuildScript(env ConfigEnv) error {
	if cfg.Project.Build == "" {
		return nil
	}

	program, err := expr.Compile(cfg.Project.Build, expr.Env(env))
	if err != nil {
		return fmt.Errorf("failed to compile build script for project %q: %w", cfg.Project.Name, err)
	}
	result, err := expr.Run(program, env)
	if err != nil {
		return fmt.Errorf("failed to run build script for project %q: %w", cfg.Project.Name, err)
	}

	if result, ok := result.(bool); !ok || !result {
		return fmt.Errorf("build script for project %q returned false\n%s", cfg.Project.Name, cfg.Project.Build)
	}

	return nil
}

// ConfigEnv is the environment visible to expressions in the build description.
type ConfigEnv struct {
	TargetOS   string            `expr:"target_os"`
	TargetArch string            `expr:"target_arch"`
	Environ    map[string]string `expr:"environ"`
	Debug      bool              `expr:"debug"`
	Args       map[string]string `expr:"args"`
	basedir    string
}

func NewConfigEnv(basedir string, params Params) ConfigEnv {
	environ := make(map[string]string)
	for _, e := range os.Environ() {
		if i := strings.Index(e, "="); i >= 0 {
			environ[e[:i]] = e[i+1:]
		}
	}

	return ConfigEnv{
		TargetOS:   runtime.GOOS,
		TargetArch: runtime.GOARCH,
		Environ:    environ,
		Debug:      params.Debug,
		Args:       maps.Clone(params.Args),
		basedir:    basedir,
	}
}

func (env ConfigEnv) resolve(path string) (string, error) {
	fullPath := filepath.Join(env.basedir, path)
	rel, err := filepath.Rel(env.basedir, fullPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q is outside of project directory %q", path, env.basedir)
	}
	return fullPath, nil
}

// Patch applies a diff-match-patch text patch to a file in the project,
// typically to fix up fetched sub-build sources. It reports whether any hunk applied.
func (env ConfigEnv) Patch(path, patchText string) (bool, error) {
	fullPath, err := env.resolve(path)
	if err != nil {
		return false, err
	}
	data, err := os.ReadFile(fullPath)
	if err != nil {
		return false, err
	}

	dmp := diffmatchpatch.New()
	patches, err := dmp.PatchFromText(patchText)
	if err != nil {
		return false, err
	}
	patchedText, results := dmp.PatchApply(patches, string(data))
	if !slices.Contains(results, true) {
		return false, nil // nothing was applied, nothing to write
	}

	if err := os.WriteFile(fullPath, []byte(patchedText), 0644); err != nil {
		return false, err
	}
	return true, nil
}

func (env ConfigEnv) ReadFile(path string) (string, error) {
	fullPath, err := env.resolve(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(fullPath)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
