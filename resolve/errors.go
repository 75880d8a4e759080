package resolve

import (
	"errors"
	"fmt"
	"strings"

	"github.com/git-pkgs/semverx/version"
)

// Sentinel errors matched by *Error through errors.Is.
var (
	ErrPackageNotFound  = errors.New("package not found")
	ErrFetchFailed      = errors.New("fetch failed")
	ErrPanic            = errors.New("fault state panic")
	ErrCyclicDependency = errors.New("cyclic dependency")
	ErrConflict         = errors.New("version conflict")
)

// Kind classifies a resolution failure.
type Kind int

const (
	PackageNotFound Kind = iota
	FetchFailed
	Panic
	CyclicDependency
	Conflict
)

func (k Kind) String() string {
	switch k {
	case PackageNotFound:
		return "package not found"
	case FetchFailed:
		return "fetch failed"
	case Panic:
		return "panic"
	case CyclicDependency:
		return "cyclic dependency"
	case Conflict:
		return "conflict"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

func (k Kind) sentinel() error {
	switch k {
	case PackageNotFound:
		return ErrPackageNotFound
	case FetchFailed:
		return ErrFetchFailed
	case Panic:
		return ErrPanic
	case CyclicDependency:
		return ErrCyclicDependency
	default:
		return ErrConflict
	}
}

// Error is returned by Engine when a resolution cannot complete. Only the
// fields relevant to Kind are set.
type Error struct {
	Kind      Kind
	PackageID string
	Detail    string
	Path      []string      // CyclicDependency
	RangeA    version.Range // Conflict
	RangeB    version.Range // Conflict
	Err       error
}

func (e *Error) Error() string {
	switch e.Kind {
	case CyclicDependency:
		return fmt.Sprintf("cyclic dependency: %s", strings.Join(e.Path, " -> "))
	case Conflict:
		return fmt.Sprintf("conflict on %s: %s vs %s", e.PackageID, e.RangeA, e.RangeB)
	case Panic:
		if e.Detail != "" {
			return fmt.Sprintf("%s: fault state panic: %s", e.PackageID, e.Detail)
		}
		return fmt.Sprintf("%s: fault state panic", e.PackageID)
	case PackageNotFound:
		return fmt.Sprintf("%s: package not found", e.PackageID)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s: fetch failed: %v", e.PackageID, e.Err)
		}
		return fmt.Sprintf("%s: fetch failed: %s", e.PackageID, e.Detail)
	}
}

// Is matches the sentinel for e.Kind.
func (e *Error) Is(target error) bool {
	return target == e.Kind.sentinel()
}

func (e *Error) Unwrap() error { return e.Err }
