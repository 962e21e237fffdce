package update

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is a release number of the form MAJOR.MINOR.PATCH with an
// optional +BUILD suffix, e.g. "1.0.4+5". Missing release components
// count as zero, so "1.2" and "1.2.0" are the same version.
type Version struct {
	Major, Minor, Patch int
	Build               int
	HasBuild            bool
}

// ParseVersion parses a version string. A leading "v" is accepted so
// release tags can be parsed as-is.
func ParseVersion(s string) (Version, error) {
	raw := s
	s = strings.TrimPrefix(strings.TrimSpace(s), "v")

	var v Version
	release, build, hasBuild := strings.Cut(s, "+")
	if hasBuild {
		n, err := strconv.Atoi(build)
		if err != nil {
			return Version{}, fmt.Errorf("invalid build number in version %q", raw)
		}
		v.Build = n
		v.HasBuild = true
	}

	parts := strings.Split(release, ".")
	if release == "" || len(parts) > 3 {
		return Version{}, fmt.Errorf("invalid version %q", raw)
	}
	numbers := make([]int, 0, 3)
	for _, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil {
			return Version{}, fmt.Errorf("invalid version %q", raw)
		}
		numbers = append(numbers, n)
	}
	for len(numbers) < 3 {
		numbers = append(numbers, 0)
	}
	v.Major, v.Minor, v.Patch = numbers[0], numbers[1], numbers[2]
	return v, nil
}

// String renders the canonical three-part form, with the build suffix
// when one is present.
func (v Version) String() string {
	if v.HasBuild {
		return fmt.Sprintf("%d.%d.%d+%d", v.Major, v.Minor, v.Patch, v.Build)
	}
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Compare orders two versions. It returns -1 when v is older than o,
// 0 when they are equal and 1 when v is newer. Release numbers compare
// first; on a tie the build number decides, and a version carrying a
// build number is newer than the same release without one.
func (v Version) Compare(o Version) int {
	if c := compareInt(v.Major, o.Major); c != 0 {
		return c
	}
	if c := compareInt(v.Minor, o.Minor); c != 0 {
		return c
	}
	if c := compareInt(v.Patch, o.Patch); c != 0 {
		return c
	}
	switch {
	case v.HasBuild && o.HasBuild:
		return compareInt(v.Build, o.Build)
	case o.HasBuild:
		return -1
	case v.HasBuild:
		return 1
	}
	return 0
}

// Older reports whether v precedes o, i.e. whether o is an update over v.
func (v Version) Older(o Version) bool {
	return v.Compare(o) < 0
}

func compareInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
