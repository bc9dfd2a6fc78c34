package tordoc

import (
	"strconv"
	"strings"
)

// SupportedProtocolVersion is the set of versions a relay advertises
// for one sub-protocol, parsed from a "pr" line entry such as "3" or
// "2-5,7".
type SupportedProtocolVersion struct {
	Versions []uint8
}

// Supports reports whether v is among the advertised versions.
func (s SupportedProtocolVersion) Supports(v uint8) bool {
	for _, have := range s.Versions {
		if have == v {
			return true
		}
	}
	return false
}

// ParseSupportedProtocolVersion parses a comma-separated list of
// versions and version ranges, e.g. "3" or "2-5".
func ParseSupportedProtocolVersion(s string) (SupportedProtocolVersion, error) {
	var out SupportedProtocolVersion
	for _, component := range strings.Split(s, ",") {
		if min, max, ok := strings.Cut(component, "-"); ok {
			minV, err := strconv.ParseUint(min, 10, 8)
			if err != nil {
				return out, &InvalidProtocolVersionError{Raw: s, Err: err}
			}
			maxV, err := strconv.ParseUint(max, 10, 8)
			if err != nil {
				return out, &InvalidProtocolVersionError{Raw: s, Err: err}
			}
			for i := minV; i <= maxV; i++ {
				out.Versions = append(out.Versions, uint8(i))
			}
		} else {
			v, err := strconv.ParseUint(component, 10, 8)
			if err != nil {
				return out, &InvalidProtocolVersionError{Raw: s, Err: err}
			}
			out.Versions = append(out.Versions, uint8(v))
		}
	}
	return out, nil
}

// String renders the version set back to its "pr" line argument form,
// condensing consecutive runs into ranges (e.g. "1-3,5").
func (s SupportedProtocolVersion) String() string {
	if len(s.Versions) == 0 {
		return ""
	}
	var parts []string
	start := s.Versions[0]
	prev := s.Versions[0]
	flush := func(end uint8) {
		if start == end {
			parts = append(parts, strconv.FormatUint(uint64(start), 10))
		} else {
			parts = append(parts, strconv.FormatUint(uint64(start), 10)+"-"+strconv.FormatUint(uint64(end), 10))
		}
	}
	for _, v := range s.Versions[1:] {
		if v == prev+1 {
			prev = v
			continue
		}
		flush(prev)
		start, prev = v, v
	}
	flush(prev)
	return strings.Join(parts, ",")
}
