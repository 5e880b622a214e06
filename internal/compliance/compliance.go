package compliance

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"git.home.luguber.info/inful/modbuild/internal/foundation"
)

// Compliance is a platform release constraint: an exact release ("17"),
// an open range ("11+"), a bounded range ("11..17"), or a comma-separated
// union of those ("8,11..17").
type Compliance struct {
	spec  string
	parts []compliancePart
}

type compliancePart struct {
	low  int
	high foundation.Option[int]
}

// ParseCompliance parses a release constraint specification.
func ParseCompliance(spec string) (Compliance, error) {
	trimmed := strings.TrimSpace(spec)
	if trimmed == "" {
		return Compliance{}, fmt.Errorf("empty release constraint")
	}
	var parts []compliancePart
	for _, p := range strings.Split(trimmed, ",") {
		part, err := parseCompliancePart(strings.TrimSpace(p))
		if err != nil {
			return Compliance{}, fmt.Errorf("invalid release constraint %q: %w", spec, err)
		}
		parts = append(parts, part)
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].low < parts[j].low })
	return Compliance{spec: trimmed, parts: parts}, nil
}

// MustParseCompliance is ParseCompliance for known-good literals.
func MustParseCompliance(spec string) Compliance {
	c, err := ParseCompliance(spec)
	if err != nil {
		panic(err)
	}
	return c
}

func parseCompliancePart(p string) (compliancePart, error) {
	switch {
	case strings.HasSuffix(p, "+"):
		low, err := parseRelease(p[:len(p)-1])
		if err != nil {
			return compliancePart{}, err
		}
		return compliancePart{low: low, high: foundation.None[int]()}, nil
	case strings.Contains(p, ".."):
		bounds := strings.SplitN(p, "..", 2)
		low, err := parseRelease(bounds[0])
		if err != nil {
			return compliancePart{}, err
		}
		high, err := parseRelease(bounds[1])
		if err != nil {
			return compliancePart{}, err
		}
		if high < low {
			return compliancePart{}, fmt.Errorf("range %q is descending", p)
		}
		return compliancePart{low: low, high: foundation.Some(high)}, nil
	default:
		exact, err := parseRelease(p)
		if err != nil {
			return compliancePart{}, err
		}
		return compliancePart{low: exact, high: foundation.Some(exact)}, nil
	}
}

func parseRelease(s string) (int, error) {
	// Accept legacy "1.8" style for releases before 9.
	s = strings.TrimPrefix(strings.TrimSpace(s), "1.")
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("release %q is not a positive integer", s)
	}
	return n, nil
}

// Contains reports whether the given platform release satisfies the constraint.
func (c Compliance) Contains(release int) bool {
	for _, p := range c.parts {
		if release >= p.low && release <= p.high.GetOr(release) {
			return true
		}
	}
	return false
}

// Lowest returns the lowest release admitted by the constraint.
func (c Compliance) Lowest() int {
	if len(c.parts) == 0 {
		return 0
	}
	return c.parts[0].low
}

// IsZero reports whether this is the zero (unparsed) constraint.
func (c Compliance) IsZero() bool { return len(c.parts) == 0 }

func (c Compliance) String() string { return c.spec }

// SplitVersionedName splits "java.base@17+" into the bare name and its
// constraint. A name without "@" returns a zero Compliance.
func SplitVersionedName(spec string) (string, Compliance, error) {
	idx := strings.IndexByte(spec, '@')
	if idx < 0 {
		return spec, Compliance{}, nil
	}
	c, err := ParseCompliance(spec[idx+1:])
	if err != nil {
		return "", Compliance{}, err
	}
	return spec[:idx], c, nil
}
