package version

import (
	"strconv"
	"strings"
)

// Wildcard is the token that matches any value in a range slot.
const Wildcard = "*"

type (
	// NumberSlot is a numeric range slot: a literal value or a wildcard.
	NumberSlot struct {
		Any   bool
		Value uint64
	}

	// StateSlot is a state range slot: a literal state or a wildcard.
	StateSlot struct {
		Any   bool
		Value State
	}

	// Range is a six-slot pattern over SemVerX versions, e.g.
	// "2.stable.*.stable.*.stable". A range admits a version when every
	// non-wildcard slot matches exactly.
	Range struct {
		Major      NumberSlot
		MajorState StateSlot
		Minor      NumberSlot
		MinorState StateSlot
		Patch      NumberSlot
		PatchState StateSlot
	}
)

// Any admits every version.
var Any = Range{
	Major: NumberSlot{Any: true}, MajorState: StateSlot{Any: true},
	Minor: NumberSlot{Any: true}, MinorState: StateSlot{Any: true},
	Patch: NumberSlot{Any: true}, PatchState: StateSlot{Any: true},
}

// ParseRange parses a six-slot range. Each slot is either a literal or "*".
func ParseRange(raw string) (Range, error) {
	parts := strings.Split(raw, ".")
	if len(parts) != slotCount {
		return Range{}, &ParseError{Input: raw, Reason: ReasonTokenCount}
	}

	var nums [3]NumberSlot
	var states [3]StateSlot
	for i, part := range parts {
		if part == Wildcard {
			if i%2 == 0 {
				nums[i/2] = NumberSlot{Any: true}
			} else {
				states[i/2] = StateSlot{Any: true}
			}
			continue
		}
		if i%2 == 0 {
			n, err := parseNumber(raw, part)
			if err != nil {
				return Range{}, err
			}
			nums[i/2] = NumberSlot{Value: n}
			continue
		}
		s, err := ParseState(part)
		if err != nil {
			return Range{}, &ParseError{Input: raw, Token: part, Reason: ReasonInvalidState}
		}
		states[i/2] = StateSlot{Value: s}
	}

	return Range{
		Major: nums[0], MajorState: states[0],
		Minor: nums[1], MinorState: states[1],
		Patch: nums[2], PatchState: states[2],
	}, nil
}

// MustParseRange is like ParseRange but panics on error.
func MustParseRange(raw string) Range {
	r, err := ParseRange(raw)
	if err != nil {
		panic(err)
	}
	return r
}

// Exact returns the range that admits only v.
func Exact(v Version) Range {
	return Range{
		Major: NumberSlot{Value: v.Major}, MajorState: StateSlot{Value: v.MajorState},
		Minor: NumberSlot{Value: v.Minor}, MinorState: StateSlot{Value: v.MinorState},
		Patch: NumberSlot{Value: v.Patch}, PatchState: StateSlot{Value: v.PatchState},
	}
}

func (s NumberSlot) matches(n uint64) bool { return s.Any || s.Value == n }

func (s StateSlot) matches(st State) bool { return s.Any || s.Value == st }

func (s NumberSlot) String() string {
	if s.Any {
		return Wildcard
	}
	return strconv.FormatUint(s.Value, 10)
}

func (s StateSlot) String() string {
	if s.Any {
		return Wildcard
	}
	return s.Value.String()
}

// Admits reports whether v satisfies every non-wildcard slot of r.
func (r Range) Admits(v Version) bool {
	return r.Major.matches(v.Major) && r.MajorState.matches(v.MajorState) &&
		r.Minor.matches(v.Minor) && r.MinorState.matches(v.MinorState) &&
		r.Patch.matches(v.Patch) && r.PatchState.matches(v.PatchState)
}

// Matches reports whether v satisfies r.
func Matches(v Version, r Range) bool {
	return r.Admits(v)
}

// IsAny reports whether every slot is a wildcard.
func (r Range) IsAny() bool {
	return r == Any
}

func (r Range) String() string {
	return strings.Join([]string{
		r.Major.String(), r.MajorState.String(),
		r.Minor.String(), r.MinorState.String(),
		r.Patch.String(), r.PatchState.String(),
	}, ".")
}

// MarshalText implements encoding.TextMarshaler.
func (r Range) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Range) UnmarshalText(text []byte) error {
	parsed, err := ParseRange(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
