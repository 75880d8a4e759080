// Package version implements SemVerX, a six-slot semantic version where the
// major, minor and patch components each carry a maturity state:
//
//	2.stable.1.experimental.0.legacy
//
// Versions are ordered by their numeric components only. States are
// metadata and never make one version greater than another.
package version

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrParse is wrapped by every failure to parse wire text, including
	// enum values parsed outside this package.
	ErrParse = errors.New("parse error")

	// ErrInvalidVersion is the sentinel wrapped by ParseError.
	ErrInvalidVersion = fmt.Errorf("invalid semverx: %w", ErrParse)
)

// Parse failure reasons.
const (
	ReasonTokenCount   = "wrong token count"
	ReasonInvalidState = "invalid state token"
	ReasonNonNumeric   = "non-numeric"
	ReasonLeadingZero  = "leading zero"
)

// slotCount is the number of dot-separated tokens in a version or range.
const slotCount = 6

type (
	// State is the maturity state attached to a version component.
	State uint8

	// Version is an immutable SemVerX version.
	Version struct {
		Major      uint64
		MajorState State
		Minor      uint64
		MinorState State
		Patch      uint64
		PatchState State
	}

	// ParseError is returned when version or range text is malformed.
	ParseError struct {
		Input  string
		Token  string
		Reason string
	}
)

const (
	Stable State = iota
	Legacy
	Experimental
)

var stateNames = [...]string{
	Stable:       "stable",
	Legacy:       "legacy",
	Experimental: "experimental",
}

func (e *ParseError) Error() string {
	if e.Token != "" {
		return fmt.Sprintf("invalid semverx %q: %s %q", e.Input, e.Reason, e.Token)
	}
	return fmt.Sprintf("invalid semverx %q: %s", e.Input, e.Reason)
}

// Unwrap returns ErrInvalidVersion so callers can use errors.Is.
func (e *ParseError) Unwrap() error { return ErrInvalidVersion }

// ParseState parses a wire state value. Unknown values fail closed.
func ParseState(raw string) (State, error) {
	switch raw {
	case "stable":
		return Stable, nil
	case "legacy":
		return Legacy, nil
	case "experimental":
		return Experimental, nil
	default:
		return 0, &ParseError{Input: raw, Token: raw, Reason: ReasonInvalidState}
	}
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// Cost is the maturity penalty used when ranking candidates:
// stable 0, experimental 5, legacy 10.
func (s State) Cost() int {
	switch s {
	case Stable:
		return 0
	case Experimental:
		return 5
	default:
		return 10
	}
}

// Parse parses six dot-separated tokens: numbers at even positions, states at
// odd positions.
func Parse(raw string) (Version, error) {
	parts := strings.Split(raw, ".")
	if len(parts) != slotCount {
		return Version{}, &ParseError{Input: raw, Reason: ReasonTokenCount}
	}

	var nums [3]uint64
	var states [3]State
	for i, part := range parts {
		if i%2 == 0 {
			n, err := parseNumber(raw, part)
			if err != nil {
				return Version{}, err
			}
			nums[i/2] = n
			continue
		}
		s, err := ParseState(part)
		if err != nil {
			return Version{}, &ParseError{Input: raw, Token: part, Reason: ReasonInvalidState}
		}
		states[i/2] = s
	}

	return Version{
		Major:      nums[0],
		MajorState: states[0],
		Minor:      nums[1],
		MinorState: states[1],
		Patch:      nums[2],
		PatchState: states[2],
	}, nil
}

// MustParse is like Parse but panics on error.
func MustParse(raw string) Version {
	v, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return v
}

func parseNumber(input, token string) (uint64, error) {
	// Plain digits only, no sign and no leading zeros, so that every accepted
	// token formats back to itself.
	if token == "" || strings.TrimLeft(token, "0123456789") != "" {
		return 0, &ParseError{Input: input, Token: token, Reason: ReasonNonNumeric}
	}
	if len(token) > 1 && token[0] == '0' {
		return 0, &ParseError{Input: input, Token: token, Reason: ReasonLeadingZero}
	}
	n, err := strconv.ParseUint(token, 10, 64)
	if err != nil {
		return 0, &ParseError{Input: input, Token: token, Reason: ReasonNonNumeric}
	}
	return n, nil
}

// String formats the version as its six dot-joined slots.
func (v Version) String() string {
	return fmt.Sprintf("%d.%s.%d.%s.%d.%s",
		v.Major, v.MajorState, v.Minor, v.MinorState, v.Patch, v.PatchState)
}

// MarshalText implements encoding.TextMarshaler.
func (v Version) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *Version) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Compare compares a and b by (major, minor, patch), returning:
// -1 if a < b
//
//	0 if a == b
//	1 if a > b
//
// States are not part of the ordering.
func Compare(a, b Version) int {
	switch {
	case a.Major != b.Major:
		return cmpUint(a.Major, b.Major)
	case a.Minor != b.Minor:
		return cmpUint(a.Minor, b.Minor)
	default:
		return cmpUint(a.Patch, b.Patch)
	}
}

func cmpUint(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// StateCost sums the maturity cost of all three components.
func (v Version) StateCost() int {
	return v.MajorState.Cost() + v.MinorState.Cost() + v.PatchState.Cost()
}

// Distance is the weighted numeric distance between two versions:
// |Δmajor|*100 + |Δminor|*10 + |Δpatch|.
func (v Version) Distance(other Version) uint64 {
	return absDiff(v.Major, other.Major)*100 + absDiff(v.Minor, other.Minor)*10 + absDiff(v.Patch, other.Patch)
}

func absDiff(a, b uint64) uint64 {
	if a > b {
		return a - b
	}
	return b - a
}

// MaxSatisfying returns the highest version in candidates admitted by r.
//
// If multiple versions are equal, the first encountered wins.
func MaxSatisfying(r Range, candidates []Version) (Version, bool) {
	var best Version
	found := false
	for _, candidate := range candidates {
		if !r.Admits(candidate) {
			continue
		}
		if !found || Compare(candidate, best) > 0 {
			best = candidate
			found = true
		}
	}
	return best, found
}
