// Package core provides shared types and the registry system.
package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/git-pkgs/spdx"

	"github.com/git-pkgs/semverx/fault"
	"github.com/git-pkgs/semverx/version"
)

// ErrUnknownValue is wrapped by every enum parse failure. It wraps
// version.ErrParse so malformed wire enums and malformed versions share one
// parse sentinel.
var ErrUnknownValue = fmt.Errorf("unknown value: %w", version.ErrParse)

// Package represents metadata about a package version served by a registry.
type Package struct {
	ID           string          `json:"id"`
	Version      version.Version `json:"version"`
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	Author       string          `json:"author"`
	License      string          `json:"license"`
	TarballURL   string          `json:"tarball_url"`
	Dependencies []string        `json:"dependencies"` // "id@range", in declaration order
	Checksum     string          `json:"checksum"`     // hex SHA-256 of the tarball
	FaultState   int             `json:"fault_state"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

// Dependency is a parsed dependency declaration.
type Dependency struct {
	ID    string
	Range version.Range
}

func (d Dependency) String() string {
	return d.ID + "@" + d.Range.String()
}

// Fault classifies the raw fault state reported by the registry.
func (p *Package) Fault() (fault.State, error) {
	return fault.Classify(p.FaultState)
}

// NormalizedLicense returns the license as a canonical SPDX expression.
// An empty license yields "".
func (p *Package) NormalizedLicense() (string, error) {
	if strings.TrimSpace(p.License) == "" {
		return "", nil
	}
	lic, err := spdx.Normalize(p.License)
	if err != nil {
		return "", fmt.Errorf("%s: license %q: %w", p.ID, p.License, err)
	}
	return lic, nil
}

// ErrBlocked is wrapped by FaultError.
var ErrBlocked = errors.New("package blocked by fault state")

// FaultError reports a package whose fault state forbids handing it out.
type FaultError struct {
	PackageID string
	State     int
	Message   string
}

func (e *FaultError) Error() string {
	msg := fmt.Sprintf("%s: %v (fault state %d)", e.PackageID, ErrBlocked, e.State)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

func (e *FaultError) Unwrap() error { return ErrBlocked }

// Check classifies the fault state and rejects negative or blocking values.
func (p *Package) Check() error {
	f, err := p.Fault()
	if err != nil {
		return fmt.Errorf("%s: %w", p.ID, err)
	}
	if fault.IsBlocking(f) {
		return &FaultError{PackageID: p.ID, State: p.FaultState, Message: p.ErrorMessage}
	}
	return nil
}

// Requirements parses the dependency declarations. The id and range are
// split on the last "@" so scoped ids such as "@obinexus/core" survive.
// A declaration without a range admits any version.
func (p *Package) Requirements() ([]Dependency, error) {
	deps := make([]Dependency, 0, len(p.Dependencies))
	for _, decl := range p.Dependencies {
		dep, err := ParseDependency(decl)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p.ID, err)
		}
		deps = append(deps, dep)
	}
	return deps, nil
}

// ParseDependency parses a single "id@range" declaration.
func ParseDependency(decl string) (Dependency, error) {
	if decl == "" {
		return Dependency{}, fmt.Errorf("empty dependency declaration: %w", ErrUnknownValue)
	}
	idx := strings.LastIndex(decl, "@")
	if idx <= 0 {
		return Dependency{ID: decl, Range: version.Any}, nil
	}
	r, err := version.ParseRange(decl[idx+1:])
	if err != nil {
		return Dependency{}, fmt.Errorf("dependency %q: %w", decl, err)
	}
	return Dependency{ID: decl[:idx], Range: r}, nil
}

// DagResult is the server-side resolution of a package graph.
type DagResult struct {
	Path       []string `json:"path"`
	FaultState int      `json:"fault_state"`
}

// Strategy selects how a resolved graph is ordered.
type Strategy string

const (
	Eulerian    Strategy = "eulerian"
	Hamiltonian Strategy = "hamiltonian"
	AStar       Strategy = "astar"
	Hybrid      Strategy = "hybrid"
)

// DefaultStrategy is used when no strategy is given.
const DefaultStrategy = Hybrid

// Strategies lists every valid strategy.
var Strategies = []Strategy{Eulerian, Hamiltonian, AStar, Hybrid}

// ParseStrategy parses a wire strategy name. The empty string selects
// DefaultStrategy; anything else unknown fails.
func ParseStrategy(raw string) (Strategy, error) {
	switch Strategy(raw) {
	case "":
		return DefaultStrategy, nil
	case Eulerian, Hamiltonian, AStar, Hybrid:
		return Strategy(raw), nil
	default:
		return "", fmt.Errorf("strategy %q: %w", raw, ErrUnknownValue)
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Strategy) UnmarshalText(text []byte) error {
	parsed, err := ParseStrategy(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// AccessTier selects which registry deployment a request targets.
type AccessTier string

const (
	Live   AccessTier = "live"
	Local  AccessTier = "local"
	Remote AccessTier = "remote"
)

// ParseTier parses a wire tier name. Unknown values fail.
func ParseTier(raw string) (AccessTier, error) {
	switch AccessTier(raw) {
	case Live, Local, Remote:
		return AccessTier(raw), nil
	default:
		return "", fmt.Errorf("access tier %q: %w", raw, ErrUnknownValue)
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *AccessTier) UnmarshalText(text []byte) error {
	parsed, err := ParseTier(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// UpdateType classifies an update notification.
type UpdateType string

const (
	OptIn        UpdateType = "opt-in"
	Mandatory    UpdateType = "mandatory"
	StaleRelease UpdateType = "stale-release"
)

// ParseUpdateType parses a wire update type. Unknown values fail.
func ParseUpdateType(raw string) (UpdateType, error) {
	switch UpdateType(raw) {
	case OptIn, Mandatory, StaleRelease:
		return UpdateType(raw), nil
	default:
		return "", fmt.Errorf("update type %q: %w", raw, ErrUnknownValue)
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (u *UpdateType) UnmarshalText(text []byte) error {
	parsed, err := ParseUpdateType(string(text))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

// Update is a notification that a new version of a package is available.
type Update struct {
	PackageID  string           `json:"package_id"`
	OldVersion *version.Version `json:"old_version,omitempty"`
	NewVersion version.Version  `json:"new_version"`
	Type       UpdateType       `json:"update_type"`
}
