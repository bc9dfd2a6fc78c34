package tordoc

import (
	"strconv"
	"strings"
)

// PolicyType is the action of a condensed exit policy: accept or
// reject.
type PolicyType int

const (
	PolicyAccept PolicyType = iota
	PolicyReject
)

// PolicyEntry is one port or port range within a condensed exit
// policy.
type PolicyEntry struct {
	Min, Max uint16
}

// MatchesPort reports whether port falls within the entry.
func (e PolicyEntry) MatchesPort(port uint16) bool {
	return port >= e.Min && port <= e.Max
}

func parsePolicyEntry(s string) (PolicyEntry, error) {
	if min, max, ok := strings.Cut(s, "-"); ok {
		minV, err := strconv.ParseUint(min, 10, 16)
		if err != nil {
			return PolicyEntry{}, &InvalidExitPolicyEntryError{Raw: s}
		}
		maxV, err := strconv.ParseUint(max, 10, 16)
		if err != nil {
			return PolicyEntry{}, &InvalidExitPolicyEntryError{Raw: s}
		}
		return PolicyEntry{Min: uint16(minV), Max: uint16(maxV)}, nil
	}
	v, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return PolicyEntry{}, &InvalidExitPolicyEntryError{Raw: s}
	}
	return PolicyEntry{Min: uint16(v), Max: uint16(v)}, nil
}

// CondensedExitPolicy is a relay's "p" line: either a short accept-list
// or reject-list of ports, applied uniformly to "most" target
// addresses.
type CondensedExitPolicy struct {
	Type    PolicyType
	Entries []PolicyEntry
}

// ParseCondensedExitPolicy parses a "p" line argument such as "accept
// 80,443" or "reject 1-65535".
func ParseCondensedExitPolicy(s string) (CondensedExitPolicy, error) {
	cmd, ports, ok := strings.Cut(s, " ")
	if !ok {
		return CondensedExitPolicy{}, &MalformedExitPolicyError{Raw: s}
	}
	var policyType PolicyType
	switch cmd {
	case "accept":
		policyType = PolicyAccept
	case "reject":
		policyType = PolicyReject
	default:
		return CondensedExitPolicy{}, &MalformedExitPolicyError{Raw: s}
	}

	var entries []PolicyEntry
	for _, p := range strings.Split(ports, ",") {
		entry, err := parsePolicyEntry(p)
		if err != nil {
			return CondensedExitPolicy{}, err
		}
		entries = append(entries, entry)
	}

	return CondensedExitPolicy{Type: policyType, Entries: entries}, nil
}

// String renders the policy back to its "p" line argument form, e.g.
// "accept 80,443" or "reject 1-65535".
func (p CondensedExitPolicy) String() string {
	cmd := "accept"
	if p.Type == PolicyReject {
		cmd = "reject"
	}
	parts := make([]string, len(p.Entries))
	for i, e := range p.Entries {
		if e.Min == e.Max {
			parts[i] = strconv.FormatUint(uint64(e.Min), 10)
		} else {
			parts[i] = strconv.FormatUint(uint64(e.Min), 10) + "-" + strconv.FormatUint(uint64(e.Max), 10)
		}
	}
	return cmd + " " + strings.Join(parts, ",")
}
