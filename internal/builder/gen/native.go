package gen

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/sherlockcv/shbuild/internal/msg"
	"golang.org/x/sync/errgroup"
)

const stateFileName = "shbuild_state.json"

// BuildState is persisted between invocations for incremental builds
type BuildState struct {
	Invocation string                  `json:"invocation"`
	Targets    map[string]*TargetState `json:"targets"`
}

// TargetState represents the state of a build target after its last successful link
type TargetState struct {
	Sources      map[string]string   `json:"sources,omitempty"`      // source file -> hash
	Includes     map[string][]string `json:"includes,omitempty"`     // source file -> headers from its depfile
	Headers      map[string]string   `json:"headers,omitempty"`      // header -> hash
	Dependencies map[string]string   `json:"dependencies,omitempty"` // dependency target -> artifact hash
	Cflags       []string            `json:"cflags,omitempty"`
	Ldflags      []string            `json:"ldflags,omitempty"`
}

// compileJob represents a single compilation job
type compileJob struct {
	target string
	src    string
	obj    string
	cflags []string
	isCxx  bool
	cc     string
}

// linkJob represents a linking or archiving job
type linkJob struct {
	name    string
	kind    Kind
	objs    []string
	deps    []string // artifact paths of local dependencies
	out     string
	ldflags []string
	libs    []string
	cc      string
}

// targetPlan holds the work needed for one target
type targetPlan struct {
	compile []compileJob
	link    *linkJob
}

// NativeBuilder compiles and links targets itself, wave by wave. The first
// failing job cancels the rest of the invocation.
type NativeBuilder struct {
	tc         Toolchain
	targets    map[string]buildUnit
	basedir    string
	buildDir   string
	stateFile  string
	state      *BuildState
	jobs       int
	hashCache  map[string]string
	invocation string
	progress   *msg.Progress

	Stdout io.Writer
	Stderr io.Writer
}

func NewNativeBuilder(jobs int) *NativeBuilder {
	if jobs <= 0 {
		jobs = runtime.NumCPU()
	}
	return &NativeBuilder{
		targets:    make(map[string]buildUnit),
		state:      &BuildState{Targets: make(map[string]*TargetState)},
		jobs:       jobs,
		hashCache:  make(map[string]string),
		invocation: uuid.NewString(),
		Stdout:     os.Stdout,
		Stderr:     os.Stderr,
	}
}

func (g *NativeBuilder) SetToolchain(tc Toolchain) {
	g.tc = tc
}

func (g *NativeBuilder) BuildFile() string {
	return stateFileName
}

// Invocation returns the id stamped into the build state by this builder
func (g *NativeBuilder) Invocation() string {
	return g.invocation
}

// AddTarget adds a library or executable to the build graph
func (g *NativeBuilder) AddTarget(t Target) {
	if g.basedir == "" {
		g.basedir = t.Basedir
	}
	g.targets[t.Name] = newBuildUnit(t)
}

func (g *NativeBuilder) Generate() string {
	return "" // no build file needed
}

// Invoke performs the actual build
func (g *NativeBuilder) Invoke(ctx context.Context, buildDir string) error {
	g.buildDir = buildDir
	g.stateFile = filepath.Join(buildDir, g.BuildFile())

	if err := g.loadBuildState(); err != nil {
		msg.Warn("failed to load build state: %v", err)
	}
	if g.state.Invocation != "" {
		msg.Debug("previous invocation %s", g.state.Invocation)
	}
	msg.Debug("invocation %s, %d job(s)", g.invocation, g.jobs)

	levels, err := waves(g.targets)
	if err != nil {
		return err
	}

	plans, steps, err := g.planBuild(levels)
	if err != nil {
		return fmt.Errorf("build planning failed: %w", err)
	}

	if steps == 0 {
		fmt.Fprintln(g.Stdout, "shbuild: no work to do.")
		return nil
	}

	g.progress = msg.NewProgress(steps, g.Stdout)
	buildErr := g.executeBuild(ctx, levels, plans)

	g.state.Invocation = g.invocation
	if err := g.saveBuildState(); err != nil {
		msg.Warn("failed to save build state: %v", err)
	}
	if buildErr != nil {
		return buildErr
	}

	g.progress.Finish()
	return nil
}

// planBuild determines which compile and link jobs are necessary
func (g *NativeBuilder) planBuild(levels [][]string) (map[string]targetPlan, int, error) {
	plans := make(map[string]targetPlan)
	rebuiltTargets := make(map[string]bool)
	steps := 0

	for _, level := range levels {
		for _, targetName := range level {
			target := g.targets[targetName]
			oldState := g.state.Targets[targetName]
			needsRelink := false

			// reason 1 for relink: output file is missing
			if _, err := os.Stat(target.Out); os.IsNotExist(err) {
				needsRelink = true
			}

			// reason 2 for relink: flags have changed
			flagsChanged := oldState == nil ||
				!slices.Equal(oldState.Cflags, target.Cflags) ||
				!slices.Equal(oldState.Ldflags, target.Ldflags)
			if flagsChanged {
				needsRelink = true
			}

			// reason 3 for relink: a dependency was rebuilt
			for _, depName := range target.Deps {
				if rebuiltTargets[depName] {
					needsRelink = true
					break
				}
				hash, err := g.fileHash(g.targets[depName].Out)
				if err != nil {
					if os.IsNotExist(err) {
						needsRelink = true
						break
					}
					return nil, 0, fmt.Errorf("failed to hash dependency %s: %w", depName, err)
				}
				if oldState == nil || oldState.Dependencies[depName] != hash {
					needsRelink = true
					break
				}
			}

			var plan targetPlan
			for _, src := range target.sources {
				objPath := filepath.Join(g.buildDir, src.obj)

				dirty := flagsChanged
				if !dirty {
					var err error
					dirty, err = g.isSourceFileDirty(src, objPath, oldState)
					if err != nil {
						return nil, 0, fmt.Errorf("could not check status of %s: %w", src.src, err)
					}
				}
				if dirty {
					plan.compile = append(plan.compile, g.createCompileJob(target, src, objPath))
				}
			}

			// reason 4 for relink: one or more of its source files were recompiled
			if len(plan.compile) > 0 {
				needsRelink = true
			}

			if needsRelink {
				rebuiltTargets[target.Name] = true
				job := g.createLinkJob(target)
				plan.link = &job
				steps++
			}
			steps += len(plan.compile)
			plans[targetName] = plan
		}
	}

	return plans, steps, nil
}

// executeBuild runs one wave at a time: all compile jobs of the wave, then its link jobs
func (g *NativeBuilder) executeBuild(ctx context.Context, levels [][]string, plans map[string]targetPlan) error {
	for _, level := range levels {
		var compileJobs []compileJob
		var linkJobs []linkJob
		for _, name := range level {
			plan := plans[name]
			compileJobs = append(compileJobs, plan.compile...)
			if plan.link != nil {
				linkJobs = append(linkJobs, *plan.link)
			}
		}

		if err := runJobs(ctx, compileJobs, g.runCompileJob, g.jobs); err != nil {
			return err
		}
		if err := runJobs(ctx, linkJobs, g.runLinkJob, g.jobs); err != nil {
			return err
		}

		for _, job := range linkJobs {
			if err := g.updateBuildState(g.targets[job.name]); err != nil {
				msg.Warn("failed to update build state for target %s: %v", job.name, err)
			}
		}
	}
	return nil
}

// isSourceFileDirty checks if a single source file needs to be recompiled
func (g *NativeBuilder) isSourceFileDirty(src sourceFile, objPath string, state *TargetState) (bool, error) {
	if _, err := os.Stat(objPath); os.IsNotExist(err) {
		return true, nil
	}

	if state == nil {
		return true, nil
	}

	hash, err := g.fileHash(src.src)
	if err != nil {
		if os.IsNotExist(err) {
			return true, fmt.Errorf("source file %s not found", src.src)
		}
		return true, err
	}
	if prevHash, exists := state.Sources[src.src]; !exists || prevHash != hash {
		return true, nil
	}

	for _, hdr := range state.Includes[src.src] {
		hash, err := g.fileHash(hdr)
		if err != nil || state.Headers[hdr] != hash {
			return true, nil // edited or removed header
		}
	}

	return false, nil
}

func (g *NativeBuilder) createCompileJob(target buildUnit, src sourceFile, objPath string) compileJob {
	compiler := g.tc.CC
	if src.isCxx {
		compiler = g.tc.CXX
	}
	return compileJob{
		target: target.Name,
		src:    src.src,
		obj:    objPath,
		cflags: target.Cflags,
		isCxx:  src.isCxx,
		cc:     compiler,
	}
}

// createLinkJob constructs a linkJob for a given buildUnit
func (g *NativeBuilder) createLinkJob(target buildUnit) linkJob {
	objects := make([]string, len(target.sources))
	for i, src := range target.sources {
		objects[i] = filepath.Join(g.buildDir, src.obj)
	}

	dependencies := make([]string, len(target.Deps))
	for i, dep := range target.Deps {
		dependencies[i] = g.targets[dep].Out
	}

	linker := g.tc.CC
	if g.hasCxxInTarget(target) {
		linker = g.tc.CXX
	}

	return linkJob{
		name:    target.Name,
		kind:    target.Kind,
		objs:    objects,
		deps:    dependencies,
		out:     target.Out,
		ldflags: target.Ldflags,
		libs:    target.Libs,
		cc:      linker,
	}
}

// hasCxxInTarget checks if target or its dependencies have C++ sources
func (g *NativeBuilder) hasCxxInTarget(target buildUnit) bool {
	if target.hasCxx() {
		return true
	}
	for _, depName := range target.Deps {
		if depTarget, exists := g.targets[depName]; exists && g.hasCxxInTarget(depTarget) {
			return true
		}
	}
	return false
}

// loadBuildState loads the previous build state from disk
func (g *NativeBuilder) loadBuildState() error {
	f, err := os.Open(g.stateFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // no previous state, that's fine
		}
		return err
	}
	defer f.Close()

	var state BuildState
	if err := json.NewDecoder(bufio.NewReader(f)).Decode(&state); err != nil {
		return err
	}
	if state.Targets == nil {
		state.Targets = make(map[string]*TargetState)
	}
	g.state = &state
	return nil
}

// saveBuildState saves the current build state to disk
func (g *NativeBuilder) saveBuildState() error {
	data, err := json.MarshalIndent(g.state, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(g.stateFile), 0755); err != nil {
		return err
	}
	return os.WriteFile(g.stateFile, data, 0644)
}

// fileHash computes the SHA256 hash of a file with an in-memory cache
func (g *NativeBuilder) fileHash(path string) (string, error) {
	if hash, ok := g.hashCache[path]; ok {
		return hash, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}

	hexHash := hex.EncodeToString(hash.Sum(nil))
	g.hashCache[path] = hexHash
	return hexHash, nil
}

// runJobs runs jobs in parallel, stopping at the first failure
func runJobs[T any](ctx context.Context, jobs []T, jobfunc func(ctx context.Context, job T) error, limit int) error {
	if len(jobs) == 0 {
		return nil
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(limit)

	for _, job := range jobs {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return jobfunc(ctx, job)
		})
	}

	return eg.Wait()
}

func (g *NativeBuilder) command(ctx context.Context, diag *bytes.Buffer, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = g.Stdout
	cmd.Stderr = io.MultiWriter(g.Stderr, diag)
	msg.Debug("%s %v", name, args)
	return cmd
}

// runCompileJob runs a single compilation job
func (g *NativeBuilder) runCompileJob(ctx context.Context, job compileJob) error {
	if err := os.MkdirAll(filepath.Dir(job.obj), 0755); err != nil {
		return fmt.Errorf("failed to create object directory: %w", err)
	}

	args := make([]string, 0, len(job.cflags)+7)
	args = append(args, job.cflags...)
	args = append(args, "-MMD", "-MF", job.obj+".d", "-c", job.src, "-o", job.obj)

	verb := "CC"
	if job.isCxx {
		verb = "CXX"
	}
	g.progress.Step(verb, g.rel(job.src))

	var diag bytes.Buffer
	if err := g.command(ctx, &diag, job.cc, args...).Run(); err != nil {
		return &CompileError{Target: job.target, Source: job.src, Output: diag.String(), Invocation: g.invocation, Err: err}
	}
	return nil
}

// runLinkJob runs a single linking or archiving job
func (g *NativeBuilder) runLinkJob(ctx context.Context, job linkJob) error {
	if err := os.MkdirAll(filepath.Dir(job.out), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	var missing []string
	for i, dep := range job.deps {
		if _, err := os.Stat(dep); err != nil {
			missing = append(missing, g.targets[job.name].Deps[i])
		}
	}
	if len(missing) > 0 {
		return &LinkError{
			Target:     job.name,
			Libraries:  job.libs,
			Unresolved: missing,
			Invocation: g.invocation,
			Err:        errors.New("local dependencies were not built"),
		}
	}

	var cmd *exec.Cmd
	var diag bytes.Buffer
	if job.kind == StaticLibrary {
		// ar only replaces members, stale objects would survive
		if err := os.Remove(job.out); err != nil && !os.IsNotExist(err) {
			return err
		}
		args := []string{"rcs", job.out}
		args = append(args, job.objs...)
		cmd = g.command(ctx, &diag, g.tc.AR, args...)
		g.progress.Step("AR", g.rel(job.out))
	} else {
		args := []string{"-o", job.out}
		args = append(args, job.objs...)
		args = append(args, job.ldflags...)
		cmd = g.command(ctx, &diag, job.cc, args...)
		g.progress.Step("LINK", g.rel(job.out))
	}

	if err := cmd.Run(); err != nil {
		libs, symbols := parseLinkerOutput(diag.String())
		return &LinkError{
			Target:     job.name,
			Libraries:  job.libs,
			Unresolved: libs,
			Symbols:    symbols,
			Output:     diag.String(),
			Invocation: g.invocation,
			Err:        err,
		}
	}
	return nil
}

// rel shortens a path for display
func (g *NativeBuilder) rel(path string) string {
	if g.basedir == "" {
		return path
	}
	rel, err := filepath.Rel(g.basedir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return filepath.ToSlash(rel)
}

// updateBuildState updates the build state for a target after a successful build
func (g *NativeBuilder) updateBuildState(target buildUnit) error {
	state := &TargetState{
		Sources:      make(map[string]string),
		Includes:     make(map[string][]string),
		Headers:      make(map[string]string),
		Dependencies: make(map[string]string),
		Cflags:       slices.Clone(target.Cflags),
		Ldflags:      slices.Clone(target.Ldflags),
	}

	// hash source files
	for _, src := range target.sources {
		hash, err := g.fileHash(src.src)
		if err != nil {
			return fmt.Errorf("failed to hash source file %s: %w", src.src, err)
		}
		state.Sources[src.src] = hash

		headers, err := includedHeaders(src.src, filepath.Join(g.buildDir, src.obj)+".d")
		if err != nil {
			msg.Warn("could not read dependency file for %s: %v", g.rel(src.src), err)
			continue
		}
		if len(headers) > 0 {
			state.Includes[src.src] = headers
		}
		for _, hdr := range headers {
			// a header that cannot be hashed stays empty and marks the source dirty next time
			state.Headers[hdr], _ = g.fileHash(hdr)
		}
	}

	// hash dependencies, their artifacts were just rewritten
	for _, dep := range target.Deps {
		depPath := g.targets[dep].Out
		delete(g.hashCache, depPath)
		hash, err := g.fileHash(depPath)
		if err != nil {
			msg.Warn("could not hash dependency %s for state update: %v", dep, err)
			continue
		}
		state.Dependencies[dep] = hash
	}

	g.state.Targets[target.Name] = state
	return nil
}
