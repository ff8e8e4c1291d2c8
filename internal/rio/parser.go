package rio

import (
	"regexp"
	"strconv"
	"strings"
)

// ResponseKind classifies a parsed line.
type ResponseKind int

const (
	// KindUnparsed is a line that carries nothing to apply or resolve.
	KindUnparsed ResponseKind = iota

	// KindSuccess is a terminal S reply. It may also carry an addressed variable.
	KindSuccess

	// KindError is a terminal E reply; Value holds the device message.
	KindError

	// KindEvent is a push notification for an addressed variable.
	KindEvent
)

// String returns the kind name for logging.
func (k ResponseKind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindError:
		return "error"
	case KindEvent:
		return "event"
	default:
		return "unparsed"
	}
}

// Line tags defined by the RIO protocol.
const (
	tagSuccess = 'S'
	tagError   = 'E'
)

var (
	// addressedPattern matches S[n].var="v", C[n].var="v" and C[n].Z[m].var="v".
	addressedPattern = regexp.MustCompile(
		`^(?:S\[(?P<source>\d+)\]|C\[(?P<controller>\d+)\](?:\.Z\[(?P<zone>\d+)\])?)\.(?P<variable>[^=\s]+)="(?P<value>.*)"$`)

	// systemPattern matches unaddressed variables such as VERSION="1.10.00".
	systemPattern = regexp.MustCompile(`^(?P<variable>[^=\s\[\]]+)="(?P<value>.*)"$`)

	// bareValuePattern matches a quoted value with no address.
	bareValuePattern = regexp.MustCompile(`^"(?P<value>.*)"$`)

	addrSource     = addressedPattern.SubexpIndex("source")
	addrController = addressedPattern.SubexpIndex("controller")
	addrZone       = addressedPattern.SubexpIndex("zone")
	addrVariable   = addressedPattern.SubexpIndex("variable")
	addrValue      = addressedPattern.SubexpIndex("value")
)

// Response is the structured form of one protocol line.
type Response struct {
	Kind ResponseKind

	// Tag is the first byte of the line, or 0 for an empty line.
	Tag byte

	// DeviceID, Variable are set when the payload addressed a device variable.
	DeviceID string
	Variable string

	// Value is the reply value, the event value or the error message.
	Value string
}

// Addressed reports whether the response names a device variable that
// belongs in the cache.
func (r Response) Addressed() bool {
	return r.DeviceID != "" && r.Variable != ""
}

// Terminal reports whether the response ends a command's reply window.
func (r Response) Terminal() bool {
	return r.Kind == KindSuccess || r.Kind == KindError
}

// ParseResponse converts a raw line (without terminator) into a Response.
// It never fails: lines it cannot interpret come back as KindUnparsed.
func ParseResponse(line string) Response {
	line = strings.TrimSpace(line)
	if line == "" {
		return Response{Kind: KindUnparsed}
	}

	resp := Response{Tag: line[0]}
	payload := ""
	if len(line) > 2 {
		payload = line[2:]
	}

	if resp.Tag == tagError {
		resp.Kind = KindError
		resp.Value = unquote(strings.TrimSpace(payload))
		return resp
	}

	if m := addressedPattern.FindStringSubmatch(payload); m != nil {
		resp.DeviceID = addressedDeviceID(m)
		resp.Variable = m[addrVariable]
		resp.Value = m[addrValue]
		if resp.Tag == tagSuccess {
			resp.Kind = KindSuccess
		} else {
			resp.Kind = KindEvent
		}
		return resp
	}

	if resp.Tag != tagSuccess {
		resp.Kind = KindUnparsed
		return resp
	}

	resp.Kind = KindSuccess
	if m := systemPattern.FindStringSubmatch(payload); m != nil {
		resp.Variable = m[1]
		resp.Value = m[2]
	} else if m := bareValuePattern.FindStringSubmatch(payload); m != nil {
		resp.Value = m[1]
	}
	return resp
}

// addressedDeviceID rebuilds a canonical identifier from a match.
func addressedDeviceID(m []string) string {
	if m[addrSource] != "" {
		return SourceID(atoi(m[addrSource]))
	}
	if m[addrZone] != "" {
		return ZoneID(atoi(m[addrController]), atoi(m[addrZone]))
	}
	return ControllerID(atoi(m[addrController]))
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
