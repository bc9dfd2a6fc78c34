package tordoc

import (
	"crypto/sha1"
	"strconv"
	"strings"
	"time"

	"github.com/cvsouth/torscaler/fingerprint"
)

// FamilyMember is one entry of a descriptor's "family" line: either a
// fingerprint (written "$HEX" in the document) or a bare nickname, to
// be resolved against the consensus later.
type FamilyMember struct {
	Fingerprint *fingerprint.Fingerprint
	Nickname    string
}

// Descriptor is a relay server descriptor: the fields the consensus
// doesn't carry, needed to join a full Relay.
type Descriptor struct {
	Nickname          string
	Fingerprint       fingerprint.Fingerprint
	Digest            fingerprint.Fingerprint
	Published         time.Time
	FamilyMembers     []FamilyMember
	BandwidthAvg      uint64
	BandwidthBurst    uint64
	BandwidthObserved uint64
}

// ParseDescriptors parses a text containing one or more server
// descriptors concatenated back-to-back, each starting with a "router"
// line.
func ParseDescriptors(text string) ([]Descriptor, error) {
	var descriptors []Descriptor
	for _, body := range splitDescriptors(text) {
		d, err := ParseDescriptor(body)
		if err != nil {
			return nil, err
		}
		descriptors = append(descriptors, *d)
	}
	return descriptors, nil
}

// splitDescriptors breaks a concatenated descriptor blob into
// individual descriptor bodies, each starting at a "router " line.
func splitDescriptors(text string) []string {
	var bodies []string
	rest := text
	for {
		idx := strings.Index(rest, "router ")
		if idx < 0 {
			break
		}
		rest = rest[idx:]
		next := strings.Index(rest[len("router "):], "\nrouter ")
		if next < 0 {
			bodies = append(bodies, rest)
			break
		}
		bodies = append(bodies, rest[:len("router ")+next])
		rest = rest[len("router ")+next+1:]
	}
	return bodies
}

// ParseDescriptor parses a single server descriptor body.
func ParseDescriptor(text string) (*Descriptor, error) {
	digestRange, ok := fingerprint.DigestRange(text, "router", "\nrouter-signature\n")
	if !ok {
		return nil, &DigestRangeError{}
	}
	sum := sha1.Sum([]byte(digestRange))
	digest, err := fingerprint.FromBytes(sum[:])
	if err != nil {
		return nil, err
	}

	d := &Descriptor{Digest: digest}
	var hasRouter, hasFingerprint, hasPublished bool

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")

		switch {
		case strings.HasPrefix(line, "router "):
			fields := strings.Fields(line)
			if len(fields) < 5 {
				return nil, &ItemArgumentsMissingError{Keyword: "router"}
			}
			d.Nickname = fields[1]
			hasRouter = true

		case strings.HasPrefix(line, "fingerprint "):
			arg := strings.TrimPrefix(line, "fingerprint ")
			fp, err := fingerprint.FromHex(arg)
			if err != nil {
				return nil, &EncodingError{Keyword: "fingerprint", Value: arg, Err: err}
			}
			d.Fingerprint = fp
			hasFingerprint = true

		case strings.HasPrefix(line, "family "):
			fields := strings.Fields(line)[1:]
			members := make([]FamilyMember, 0, len(fields))
			for _, f := range fields {
				if hex, ok := strings.CutPrefix(f, "$"); ok {
					fp, err := fingerprint.FromHex(hex)
					if err != nil {
						return nil, &EncodingError{Keyword: "family", Value: f, Err: err}
					}
					members = append(members, FamilyMember{Fingerprint: &fp})
				} else {
					members = append(members, FamilyMember{Nickname: f})
				}
			}
			d.FamilyMembers = members

		case strings.HasPrefix(line, "published "):
			arg := strings.TrimPrefix(line, "published ")
			t, err := time.Parse(timeLayout, arg)
			if err != nil {
				return nil, &EncodingError{Keyword: "published", Value: arg, Err: err}
			}
			d.Published = t
			hasPublished = true

		case strings.HasPrefix(line, "bandwidth "):
			fields := strings.Fields(line)[1:]
			if len(fields) < 3 {
				return nil, &ItemArgumentsMissingError{Keyword: "bandwidth"}
			}
			avg, err := strconv.ParseUint(fields[0], 10, 64)
			if err != nil {
				return nil, &EncodingError{Keyword: "bandwidth", Value: fields[0], Err: err}
			}
			burst, err := strconv.ParseUint(fields[1], 10, 64)
			if err != nil {
				return nil, &EncodingError{Keyword: "bandwidth", Value: fields[1], Err: err}
			}
			observed, err := strconv.ParseUint(fields[2], 10, 64)
			if err != nil {
				return nil, &EncodingError{Keyword: "bandwidth", Value: fields[2], Err: err}
			}
			d.BandwidthAvg = avg
			d.BandwidthBurst = burst
			d.BandwidthObserved = observed
		}
	}

	if !hasRouter {
		return nil, &MissingRouterLineError{}
	}
	if !hasFingerprint {
		return nil, &MissingFingerprintLineError{}
	}
	if !hasPublished {
		return nil, &MissingPublishedLineError{}
	}

	return d, nil
}
