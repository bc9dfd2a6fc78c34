// Package family computes Tor relay family groupings: operator-declared
// "family" relations are symmetrised and transitively closed into
// cliques, each represented by a single shared Family value so that two
// relays are in the same family iff they hold the same reference.
package family

import "github.com/cvsouth/torscaler/fingerprint"

// Family is a group of relays that share an operator-declared
// relationship. It is never mutated after construction: adding or
// removing a member means allocating a new Family and repointing every
// member's reference to it (see RecomputeFamilies).
type Family struct {
	Members []fingerprint.Fingerprint
}

// CleanFamilies mutates relations in place so that only symmetric,
// non-self edges survive: u is kept in v's list iff v is also present
// in u's list and u != v.
func CleanFamilies(relations map[fingerprint.Fingerprint][]fingerprint.Fingerprint) {
	snapshot := make(map[fingerprint.Fingerprint][]fingerprint.Fingerprint, len(relations))
	for fp, members := range relations {
		snapshot[fp] = members
	}

	for fp, members := range relations {
		kept := members[:0:0]
		for _, candidate := range members {
			if candidate == fp {
				continue
			}
			remote, ok := snapshot[candidate]
			if !ok {
				continue
			}
			if containsFingerprint(remote, fp) {
				kept = append(kept, candidate)
			}
		}
		relations[fp] = kept
	}
}

func containsFingerprint(list []fingerprint.Fingerprint, target fingerprint.Fingerprint) bool {
	for _, fp := range list {
		if fp == target {
			return true
		}
	}
	return false
}

// MakeCliques computes the connected components of a symmetrised
// family-relation graph via repeated transitive removal. Components of
// size 1 map to nil (no family); components of size ≥ 2 each get one
// shared *Family.
func MakeCliques(relations map[fingerprint.Fingerprint][]fingerprint.Fingerprint) map[fingerprint.Fingerprint]*Family {
	remaining := make(map[fingerprint.Fingerprint][]fingerprint.Fingerprint, len(relations))
	for fp, members := range relations {
		remaining[fp] = members
	}

	result := make(map[fingerprint.Fingerprint]*Family, len(relations))

	for {
		var seed fingerprint.Fingerprint
		found := false
		for fp := range remaining {
			seed = fp
			found = true
			break
		}
		if !found {
			break
		}

		component := removeTransitively(remaining, seed)
		if len(component) == 0 {
			result[seed] = nil
			continue
		}

		members := make([]fingerprint.Fingerprint, 0, len(component))
		for fp := range component {
			members = append(members, fp)
		}
		fam := &Family{Members: members}
		for fp := range component {
			result[fp] = fam
		}
	}

	return result
}

// removeTransitively pops relay and all relays reachable from it via
// the relation map, returning the full reachable set (including relay
// itself) if it had any family members, or an empty set if relay was
// already removed or had none.
func removeTransitively(
	m map[fingerprint.Fingerprint][]fingerprint.Fingerprint,
	relay fingerprint.Fingerprint,
) map[fingerprint.Fingerprint]struct{} {
	members, ok := m[relay]
	if !ok {
		return nil
	}
	delete(m, relay)

	if len(members) == 0 {
		return map[fingerprint.Fingerprint]struct{}{}
	}

	set := make(map[fingerprint.Fingerprint]struct{}, len(members)+1)
	set[relay] = struct{}{}
	for _, member := range members {
		set[member] = struct{}{}
	}

	toVisit := make([]fingerprint.Fingerprint, 0, len(members))
	toVisit = append(toVisit, members...)
	for _, member := range toVisit {
		for fp := range removeTransitively(m, member) {
			set[fp] = struct{}{}
		}
	}

	return set
}

// RecomputeFamilies re-derives family groupings after relay
// insertions/deletions may have changed which relays share a given
// family reference: it groups relays by the identity of their current
// family, drops groups of size < 2 (mapping those relays to nil), and
// allocates a fresh Family for every surviving group.
func RecomputeFamilies(relayFamily map[fingerprint.Fingerprint]*Family) map[fingerprint.Fingerprint]*Family {
	groups := make(map[*Family][]fingerprint.Fingerprint)
	for fp, fam := range relayFamily {
		if fam == nil {
			continue
		}
		groups[fam] = append(groups[fam], fp)
	}

	result := make(map[fingerprint.Fingerprint]*Family, len(relayFamily))
	for _, members := range groups {
		if len(members) < 2 {
			for _, fp := range members {
				result[fp] = nil
			}
			continue
		}
		fresh := &Family{Members: append([]fingerprint.Fingerprint(nil), members...)}
		for _, fp := range members {
			result[fp] = fresh
		}
	}

	for fp, fam := range relayFamily {
		if fam == nil {
			result[fp] = nil
		}
	}

	return result
}
