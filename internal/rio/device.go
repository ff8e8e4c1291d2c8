package rio

import (
	"fmt"
	"regexp"
	"strconv"
)

// Device identifier shapes used on the wire.
var (
	zoneIDPattern   = regexp.MustCompile(`^C\[(\d+)\]\.Z\[(\d+)\]$`)
	sourceIDPattern = regexp.MustCompile(`^S\[(\d+)\]$`)
)

// ControllerID returns the identifier of controller c, e.g. "C[1]".
func ControllerID(c int) string {
	return fmt.Sprintf("C[%d]", c)
}

// ZoneID returns the identifier of zone z on controller c, e.g. "C[1].Z[2]".
func ZoneID(c, z int) string {
	return fmt.Sprintf("C[%d].Z[%d]", c, z)
}

// SourceID returns the identifier of source s, e.g. "S[3]".
func SourceID(s int) string {
	return fmt.Sprintf("S[%d]", s)
}

// ParseZoneID splits a zone identifier into controller and zone numbers.
func ParseZoneID(id string) (controller, zone int, err error) {
	m := zoneIDPattern.FindStringSubmatch(id)
	if m == nil {
		return 0, 0, fmt.Errorf("%w: %q is not a zone", ErrInvalidDeviceID, id)
	}
	controller, _ = strconv.Atoi(m[1])
	zone, _ = strconv.Atoi(m[2])
	return controller, zone, nil
}

// ParseSourceID returns the source number of a source identifier.
func ParseSourceID(id string) (int, error) {
	m := sourceIDPattern.FindStringSubmatch(id)
	if m == nil {
		return 0, fmt.Errorf("%w: %q is not a source", ErrInvalidDeviceID, id)
	}
	n, _ := strconv.Atoi(m[1])
	return n, nil
}

// IsZoneID reports whether id addresses a zone.
func IsZoneID(id string) bool {
	return zoneIDPattern.MatchString(id)
}

// IsSourceID reports whether id addresses a source.
func IsSourceID(id string) bool {
	return sourceIDPattern.MatchString(id)
}
