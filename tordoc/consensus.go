package tordoc

import (
	"strconv"
	"strings"
	"time"

	"github.com/cvsouth/torscaler/fingerprint"
)

// ShallowRelay is one "r" entry from a consensus, carrying only the
// fields the consensus itself declares — not the additional detail a
// server descriptor adds.
type ShallowRelay struct {
	Nickname        string
	Fingerprint     fingerprint.Fingerprint
	Digest          fingerprint.Fingerprint
	Published       time.Time
	Address         string // IPv4, dotted-quad text
	ORPort          uint16
	DirPort         uint16 // 0 means "none"
	Flags           []Flag
	VersionLine     string
	Protocols       map[Protocol]SupportedProtocolVersion
	ExitPolicy      CondensedExitPolicy
	BandwidthWeight uint64
}

// HasFlag reports whether the relay carries the given flag.
func (r *ShallowRelay) HasFlag(f Flag) bool {
	for _, have := range r.Flags {
		if have == f {
			return true
		}
	}
	return false
}

// ConsensusDocument is the result of parsing a raw consensus text: the
// shallow relay entries plus the directory-authority bandwidth-weights
// line.
type ConsensusDocument struct {
	ValidAfter time.Time
	Relays     []ShallowRelay
	Weights    map[string]uint64
}

const timeLayout = "2006-01-02 15:04:05"

// ParseConsensus parses a network-status-consensus-3 document. It walks
// items starting at the first "r" line; each "r" opens a new shallow
// relay and the subsequent "s", "v", "pr", "p", "w" lines populate it
// until a line with an unrecognised keyword closes the current relay.
func ParseConsensus(text string) (*ConsensusDocument, error) {
	doc := &ConsensusDocument{
		Weights: make(map[string]uint64),
	}

	lines := strings.Split(text, "\n")

	var validAfterSeen bool
	for _, line := range lines {
		line = strings.TrimRight(line, "\r")
		if after, ok := strings.CutPrefix(line, "valid-after "); ok {
			t, err := time.Parse(timeLayout, after)
			if err != nil {
				return nil, &EncodingError{Keyword: "valid-after", Value: after, Err: err}
			}
			doc.ValidAfter = t
			validAfterSeen = true
			break
		}
	}
	if !validAfterSeen {
		return nil, &ValidAfterMissingError{}
	}

	var current *ShallowRelay
	started := false

	closeCurrent := func() {
		if current != nil {
			doc.Relays = append(doc.Relays, *current)
			current = nil
		}
	}

	for _, raw := range lines {
		line := strings.TrimRight(raw, "\r")

		switch {
		case strings.HasPrefix(line, "r "):
			closeCurrent()
			started = true
			relay, err := parseRLine(line)
			if err != nil {
				return nil, err
			}
			current = relay

		case strings.HasPrefix(line, "s "):
			if !started {
				continue
			}
			if current == nil {
				return nil, &UnexpectedKeywordError{Keyword: "s"}
			}
			flags, err := parseSLine(line)
			if err != nil {
				return nil, err
			}
			current.Flags = flags

		case strings.HasPrefix(line, "v "):
			if !started {
				continue
			}
			if current == nil {
				return nil, &UnexpectedKeywordError{Keyword: "v"}
			}
			current.VersionLine = strings.TrimPrefix(line, "v ")

		case strings.HasPrefix(line, "pr "):
			if !started {
				continue
			}
			if current == nil {
				return nil, &UnexpectedKeywordError{Keyword: "pr"}
			}
			protocols, err := parsePrLine(line)
			if err != nil {
				return nil, err
			}
			current.Protocols = protocols

		case strings.HasPrefix(line, "p "):
			if !started {
				continue
			}
			if current == nil {
				return nil, &UnexpectedKeywordError{Keyword: "p"}
			}
			policy, err := ParseCondensedExitPolicy(strings.TrimPrefix(line, "p "))
			if err != nil {
				return nil, err
			}
			current.ExitPolicy = policy

		case strings.HasPrefix(line, "w "):
			if !started {
				continue
			}
			if current == nil {
				return nil, &UnexpectedKeywordError{Keyword: "w"}
			}
			bw, err := parseWLine(line)
			if err != nil {
				return nil, err
			}
			current.BandwidthWeight = bw

		case strings.HasPrefix(line, "a "):
			// IPv6 addresses: tolerated but ignored.
			continue

		default:
			if started {
				closeCurrent()
				started = false
			}
		}
	}
	closeCurrent()

	weightsLine, ok := findPrefixedLine(lines, "bandwidth-weights ")
	if !ok {
		return nil, &ConsensusWeightsMissingError{}
	}
	weights, err := parseBandwidthWeightsLine(weightsLine)
	if err != nil {
		return nil, err
	}
	doc.Weights = weights

	return doc, nil
}

func findPrefixedLine(lines []string, prefix string) (string, bool) {
	for _, line := range lines {
		line = strings.TrimRight(line, "\r")
		if strings.HasPrefix(line, prefix) {
			return line, true
		}
	}
	return "", false
}

// parseRLine parses "r <nickname> <identity-b64> <digest-b64> <date>
// <time> <ip> <orport> <dirport>".
func parseRLine(line string) (*ShallowRelay, error) {
	fields := strings.Fields(line)
	if len(fields) < 9 {
		return nil, &ItemArgumentsMissingError{Keyword: "r"}
	}

	fp, err := fingerprint.FromB64(fields[2])
	if err != nil {
		return nil, &EncodingError{Keyword: "r", Value: fields[2], Err: err}
	}
	digest, err := fingerprint.FromB64(fields[3])
	if err != nil {
		return nil, &EncodingError{Keyword: "r", Value: fields[3], Err: err}
	}

	published, err := time.Parse(timeLayout, fields[4]+" "+fields[5])
	if err != nil {
		return nil, &EncodingError{Keyword: "r", Value: fields[4] + " " + fields[5], Err: err}
	}

	orPort, err := strconv.ParseUint(fields[7], 10, 16)
	if err != nil {
		return nil, &EncodingError{Keyword: "r", Value: fields[7], Err: err}
	}
	dirPort, err := strconv.ParseUint(fields[8], 10, 16)
	if err != nil {
		return nil, &EncodingError{Keyword: "r", Value: fields[8], Err: err}
	}

	return &ShallowRelay{
		Nickname:    fields[1],
		Fingerprint: fp,
		Digest:      digest,
		Published:   published,
		Address:     fields[6],
		ORPort:      uint16(orPort),
		DirPort:     uint16(dirPort),
	}, nil
}

func parseSLine(line string) ([]Flag, error) {
	fields := strings.Fields(line)[1:]
	flags := make([]Flag, 0, len(fields))
	for _, f := range fields {
		flag, err := parseFlag(f)
		if err != nil {
			return nil, err
		}
		flags = append(flags, flag)
	}
	return flags, nil
}

func parsePrLine(line string) (map[Protocol]SupportedProtocolVersion, error) {
	fields := strings.Fields(line)[1:]
	protocols := make(map[Protocol]SupportedProtocolVersion, len(fields))
	for _, f := range fields {
		left, right, ok := strings.Cut(f, "=")
		if !ok {
			return nil, &EncodingError{Keyword: "pr", Value: f, Err: errInvalidArgumentDict}
		}
		proto, err := parseProtocol(left)
		if err != nil {
			return nil, err
		}
		vers, err := ParseSupportedProtocolVersion(right)
		if err != nil {
			return nil, err
		}
		protocols[proto] = vers
	}
	return protocols, nil
}

func parseWLine(line string) (uint64, error) {
	fields := strings.Fields(line)[1:]
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "Bandwidth=") {
		return 0, &InvalidBandwidthWeightError{Raw: line}
	}
	for _, f := range fields {
		k, v, ok := strings.Cut(f, "=")
		if !ok {
			return 0, &InvalidBandwidthWeightError{Raw: line}
		}
		if k == "Bandwidth" {
			bw, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return 0, &InvalidBandwidthWeightError{Raw: line}
			}
			return bw, nil
		}
	}
	return 0, &InvalidBandwidthWeightError{Raw: line}
}

func parseBandwidthWeightsLine(line string) (map[string]uint64, error) {
	fields := strings.Fields(line)[1:]
	weights := make(map[string]uint64, len(fields))
	for _, f := range fields {
		k, v, ok := strings.Cut(f, "=")
		if !ok {
			return nil, &MalformedConsensusWeightsError{Raw: line}
		}
		val, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, &MalformedConsensusWeightsError{Raw: line}
		}
		weights[k] = val
	}
	return weights, nil
}
