package builder

import (
	"errors"
	"fmt"
	"strings"
)

var (
	errCantRunLib      = errors.New("can't run the library target")
	errEmptyTargetName = errors.New("cannot derive a target name")
)

// DuplicateTargetError is returned when two targets resolve to the same name.
type DuplicateTargetError struct {
	Name    string
	Sources []string
}

func (e *DuplicateTargetError) Error() string {
	return fmt.Sprintf("duplicate target %q: declared by %s", e.Name, strings.Join(e.Sources, " and "))
}

// OutputConflictError is returned when two targets would write the same file.
type OutputConflictError struct {
	Path    string
	Targets []string
}

func (e *OutputConflictError) Error() string {
	return fmt.Sprintf("targets %s would all write %s", strings.Join(e.Targets, ", "), e.Path)
}

// SubbuildError wraps the failure of an external build.
type SubbuildError struct {
	Name string
	Path string
	Err  error
}

func (e *SubbuildError) Error() string {
	return fmt.Sprintf("sub-build %q in %s failed: %v", e.Name, e.Path, e.Err)
}

func (e *SubbuildError) Unwrap() error { return e.Err }
