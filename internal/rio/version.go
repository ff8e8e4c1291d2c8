package rio

import (
	"fmt"
	"regexp"
	"strconv"
)

// DefaultMinVersion is the oldest RIO API version the client talks to.
const DefaultMinVersion = "1.03.00"

var versionPattern = regexp.MustCompile(`^(\d{1,2})\.(\d{2})\.(\d{2})$`)

// Version is a parsed RIO firmware/API version (major.minor.patch).
type Version struct {
	Major int
	Minor int
	Patch int
}

// String formats the version the way the controller reports it.
func (v Version) String() string {
	return fmt.Sprintf("%d.%02d.%02d", v.Major, v.Minor, v.Patch)
}

// Compare returns -1, 0 or 1 as v is older than, equal to or newer than o.
func (v Version) Compare(o Version) int {
	switch {
	case v.Major != o.Major:
		return cmpInt(v.Major, o.Major)
	case v.Minor != o.Minor:
		return cmpInt(v.Minor, o.Minor)
	default:
		return cmpInt(v.Patch, o.Patch)
	}
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// ParseVersion parses a version such as "1.03.00" or "02.00.03".
func ParseVersion(s string) (Version, error) {
	m := versionPattern.FindStringSubmatch(s)
	if m == nil {
		return Version{}, fmt.Errorf("%w: %q", ErrInvalidVersion, s)
	}
	major, _ := strconv.Atoi(m[1])
	minor, _ := strconv.Atoi(m[2])
	patch, _ := strconv.Atoi(m[3])
	return Version{Major: major, Minor: minor, Patch: patch}, nil
}

// IsVersionAtLeast reports whether version is at or above minimum.
// Unparsable input on either side is treated as not satisfying the minimum.
func IsVersionAtLeast(version, minimum string) bool {
	v, err := ParseVersion(version)
	if err != nil {
		return false
	}
	m, err := ParseVersion(minimum)
	if err != nil {
		return false
	}
	return v.Compare(m) >= 0
}
