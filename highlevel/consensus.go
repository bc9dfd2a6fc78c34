// Package highlevel joins a parsed consensus document with its server
// descriptors into one fully-resolved, directly-scalable Relay/Consensus
// model: AS references attached, family cliques computed, derived
// bandwidth ratios and network-wide statistics filled in.
package highlevel

import (
	"time"

	"github.com/cvsouth/torscaler/asndb"
	"github.com/cvsouth/torscaler/family"
	"github.com/cvsouth/torscaler/fingerprint"
	"github.com/cvsouth/torscaler/tordoc"
	"github.com/cvsouth/torscaler/weights"
)

// Relay is the fully joined working entity: everything a ShallowRelay
// carries, plus the descriptor-only fields, an AS reference, a family
// reference, and the derived bandwidth ratios scaling operates on.
type Relay struct {
	Nickname    string
	Fingerprint fingerprint.Fingerprint
	Digest      fingerprint.Fingerprint
	Published   time.Time
	Address     string
	AS          *asndb.AS
	ORPort      uint16
	DirPort     uint16
	Flags       []tordoc.Flag
	VersionLine string
	Protocols   map[tordoc.Protocol]tordoc.SupportedProtocolVersion
	ExitPolicy  tordoc.CondensedExitPolicy
	FamilyMembers []fingerprint.Fingerprint
	Family      *family.Family

	// advertised by descriptor
	BandwidthAvg      uint64
	BandwidthBurst    uint64
	BandwidthObserved uint64

	BandwidthWeight uint64 // consensus-published "w Bandwidth="

	BandwidthAvgRatio      float64
	BandwidthBurstRatio    float64
	BandwidthObservedRatio float64
	BWObservedWasZero      bool
}

// HasFlag reports whether the relay carries the given flag.
func (r *Relay) HasFlag(f tordoc.Flag) bool {
	for _, have := range r.Flags {
		if have == f {
			return true
		}
	}
	return false
}

// IsGuard reports Guard∧¬Exit class membership.
func (r *Relay) IsGuard() bool { return r.HasFlag(tordoc.FlagGuard) && !r.HasFlag(tordoc.FlagExit) }

// IsExit reports Exit∧¬Guard∧¬BadExit class membership.
func (r *Relay) IsExit() bool {
	return r.HasFlag(tordoc.FlagExit) && !r.HasFlag(tordoc.FlagGuard) && !r.HasFlag(tordoc.FlagBadExit)
}

// IsExitGuard reports Exit∧Guard∧¬BadExit class membership ("D").
func (r *Relay) IsExitGuard() bool {
	return r.HasFlag(tordoc.FlagExit) && r.HasFlag(tordoc.FlagGuard) && !r.HasFlag(tordoc.FlagBadExit)
}

// IsMiddle reports membership in none of the above classes.
func (r *Relay) IsMiddle() bool {
	return !r.IsGuard() && !r.IsExit() && !r.IsExitGuard()
}

// SizeCount is one (size, count) pair of the family-size histogram.
type SizeCount struct {
	Size  int
	Count int
}

// Consensus is the fully joined, directly-scalable model: the 19
// bandwidth weights, every relay keyed by fingerprint (with a parallel
// insertion-ordered slice for deterministic iteration), the distinct
// family values, and the three derived statistics.
type Consensus struct {
	ValidAfter time.Time
	Weights    map[string]uint64
	Relays     map[fingerprint.Fingerprint]*Relay
	Order      []fingerprint.Fingerprint
	Families   []*family.Family

	ProbFamily        float64
	ProbFamilySameAS  float64
	FamilySizes       []SizeCount
}

func (c *Consensus) add(fp fingerprint.Fingerprint, r *Relay) {
	if _, exists := c.Relays[fp]; !exists {
		c.Order = append(c.Order, fp)
	}
	c.Relays[fp] = r
}

func (c *Consensus) remove(fp fingerprint.Fingerprint) {
	if _, exists := c.Relays[fp]; !exists {
		return
	}
	delete(c.Relays, fp)
	for i, have := range c.Order {
		if have == fp {
			c.Order = append(c.Order[:i], c.Order[i+1:]...)
			break
		}
	}
}

// CombineDocuments joins a parsed consensus document with its server
// descriptors (indexed by body digest) into a Consensus, attaching AS
// references via asDB, resolving family declarations against the set
// of fingerprints/nicknames actually present, and computing families
// and derived statistics.
func CombineDocuments(doc *tordoc.ConsensusDocument, descriptors []tordoc.Descriptor, asDB *asndb.AsDb) (*Consensus, error) {
	byDigest := make(map[fingerprint.Fingerprint]tordoc.Descriptor, len(descriptors))
	for _, d := range descriptors {
		byDigest[d.Digest] = d
	}

	knownFingerprints := make(map[fingerprint.Fingerprint]bool, len(doc.Relays))
	for _, r := range doc.Relays {
		knownFingerprints[r.Fingerprint] = true
	}

	// unique-nickname resolution: nicknames shared by several relays are
	// recorded in ambiguous and treated as unresolvable.
	nicknameOf := make(map[string]fingerprint.Fingerprint, len(doc.Relays))
	ambiguous := make(map[string]bool, len(doc.Relays))
	for _, r := range doc.Relays {
		if _, seen := nicknameOf[r.Nickname]; seen {
			ambiguous[r.Nickname] = true
			continue
		}
		nicknameOf[r.Nickname] = r.Fingerprint
	}

	resolveFamilyMember := func(m tordoc.FamilyMember) (fingerprint.Fingerprint, bool) {
		if m.Fingerprint != nil {
			if knownFingerprints[*m.Fingerprint] {
				return *m.Fingerprint, true
			}
			return fingerprint.Fingerprint{}, false
		}
		if ambiguous[m.Nickname] {
			return fingerprint.Fingerprint{}, false
		}
		fp, ok := nicknameOf[m.Nickname]
		return fp, ok
	}

	c := &Consensus{
		ValidAfter: doc.ValidAfter,
		Weights:    doc.Weights,
		Relays:     make(map[fingerprint.Fingerprint]*Relay, len(doc.Relays)),
	}

	familyRelations := make(map[fingerprint.Fingerprint][]fingerprint.Fingerprint, len(doc.Relays))

	for _, shallow := range doc.Relays {
		desc, ok := byDigest[shallow.Digest]
		if !ok {
			return nil, &MissingDescriptorError{Digest: shallow.Digest.String()}
		}
		delete(byDigest, shallow.Digest)

		var members []fingerprint.Fingerprint
		for _, fm := range desc.FamilyMembers {
			if fp, ok := resolveFamilyMember(fm); ok {
				members = append(members, fp)
			}
		}

		as, _ := lookupAddress(asDB, shallow.Address)

		r := &Relay{
			Nickname:          shallow.Nickname,
			Fingerprint:       desc.Fingerprint,
			Digest:            shallow.Digest,
			Published:         shallow.Published,
			Address:           shallow.Address,
			AS:                as,
			ORPort:            shallow.ORPort,
			DirPort:           shallow.DirPort,
			Flags:             shallow.Flags,
			VersionLine:       shallow.VersionLine,
			Protocols:         shallow.Protocols,
			ExitPolicy:        shallow.ExitPolicy,
			FamilyMembers:     members,
			BandwidthAvg:      desc.BandwidthAvg,
			BandwidthBurst:    desc.BandwidthBurst,
			BandwidthObserved: desc.BandwidthObserved,
			BandwidthWeight:   shallow.BandwidthWeight,
		}
		applyBandwidthRatios(r)

		c.add(desc.Fingerprint, r)
		familyRelations[desc.Fingerprint] = members
	}

	family.CleanFamilies(familyRelations)
	cliques := family.MakeCliques(familyRelations)
	wireFamilies(c, cliques)

	c.recomputeStats()

	return c, nil
}

func lookupAddress(asDB *asndb.AsDb, address string) (*asndb.AS, bool) {
	if asDB == nil {
		return nil, false
	}
	addr, err := parseIPv4(address)
	if err != nil {
		return nil, false
	}
	return asDB.Lookup(addr)
}

func applyBandwidthRatios(r *Relay) {
	r.BWObservedWasZero = r.BandwidthObserved == 0
	if r.BandwidthWeight == 0 {
		return
	}
	w := float64(r.BandwidthWeight)
	r.BandwidthAvgRatio = float64(r.BandwidthAvg) / w
	r.BandwidthBurstRatio = float64(r.BandwidthBurst) / w
	r.BandwidthObservedRatio = float64(r.BandwidthObserved) / w
}

func wireFamilies(c *Consensus, cliques map[fingerprint.Fingerprint]*family.Family) {
	seen := make(map[*family.Family]bool)
	var families []*family.Family
	for fp, fam := range cliques {
		r, ok := c.Relays[fp]
		if !ok {
			continue
		}
		r.Family = fam
		if fam != nil && !seen[fam] {
			seen[fam] = true
			families = append(families, fam)
		}
	}
	c.Families = families
}

// RemoveRelaysBy retains only the relays for which predicate returns
// false, then re-derives families, weights, and statistics.
func (c *Consensus) RemoveRelaysBy(predicate func(*Relay) bool) error {
	for _, fp := range append([]fingerprint.Fingerprint(nil), c.Order...) {
		if predicate(c.Relays[fp]) {
			c.remove(fp)
		}
	}
	return c.recomputeAll()
}

// recomputeAll re-derives families (folding by shared reference
// identity), the 19 bandwidth weights, and the summary statistics —
// the post-mutation sequence RemoveRelaysBy ends with.
func (c *Consensus) recomputeAll() error {
	c.RecomputeFamilies()
	if err := c.RecomputeWeights(); err != nil {
		return err
	}
	c.recomputeStats()
	return nil
}

// RecomputeFamilies re-derives family groupings by the identity of
// each relay's current Family reference, dropping groups that have
// shrunk below size 2.
func (c *Consensus) RecomputeFamilies() {
	current := make(map[fingerprint.Fingerprint]*family.Family, len(c.Relays))
	for fp, r := range c.Relays {
		current[fp] = r.Family
	}
	fresh := family.RecomputeFamilies(current)

	seen := make(map[*family.Family]bool)
	var families []*family.Family
	for fp, fam := range fresh {
		c.Relays[fp].Family = fam
		if fam != nil && !seen[fam] {
			seen[fam] = true
			families = append(families, fam)
		}
	}
	c.Families = families
}

// RecomputeWeights recomputes the 19 bandwidth-weights entries from the
// current relay set's class sums and overwrites c.Weights.
func (c *Consensus) RecomputeWeights() error {
	var sums weights.ClassSums
	for _, r := range c.Relays {
		bw := float64(r.BandwidthWeight)
		switch {
		case r.IsExitGuard():
			sums.D += bw
		case r.IsGuard():
			sums.G += bw
		case r.IsExit():
			sums.E += bw
		default:
			sums.M += bw
		}
	}
	w, err := weights.Recompute(sums)
	if err != nil {
		return err
	}
	c.Weights = w
	return nil
}

// VerifyWeights snapshots the current weights, recomputes them from
// the current relay set, and reports the old/new pair. A mismatch is
// data, not an error: the caller decides whether it matters.
func (c *Consensus) VerifyWeights() (weights.Mismatch, bool, error) {
	old := make(map[string]uint64, len(c.Weights))
	for k, v := range c.Weights {
		old[k] = v
	}
	if err := c.RecomputeWeights(); err != nil {
		return weights.Mismatch{}, false, err
	}
	match := mapsEqual(old, c.Weights)
	return weights.Mismatch{Old: old, New: c.Weights}, match, nil
}

func mapsEqual(a, b map[string]uint64) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

// RecomputeStats recomputes the family-membership and same-AS
// probability statistics from the current relay set and overwrites
// c.ProbFamily, c.ProbFamilySameAS, and c.FamilySizes. Exported so
// callers outside this package that mutate relay bandwidth or family
// membership (e.g. scaling operations) can keep these derived stats in
// sync without reaching into unexported state.
func (c *Consensus) RecomputeStats() {
	c.recomputeStats()
}

func (c *Consensus) recomputeStats() {
	total := len(c.Relays)
	if total == 0 {
		c.ProbFamily = 0
		c.ProbFamilySameAS = 0
		c.FamilySizes = nil
		return
	}

	withFamily := 0
	for _, r := range c.Relays {
		if r.Family != nil {
			withFamily++
		}
	}
	c.ProbFamily = float64(withFamily) / float64(total)

	sizeCounts := make(map[int]int)
	var sameASSum float64
	var sameASFamilies int
	for _, fam := range c.Families {
		n := len(fam.Members)
		sizeCounts[n]++

		pairs := n * (n - 1) / 2
		if pairs == 0 {
			continue
		}
		sameAS := 0
		for i := 0; i < len(fam.Members); i++ {
			ri, ok := c.Relays[fam.Members[i]]
			if !ok || ri.AS == nil {
				continue
			}
			for j := i + 1; j < len(fam.Members); j++ {
				rj, ok := c.Relays[fam.Members[j]]
				if !ok || rj.AS == nil {
					continue
				}
				if ri.AS.Number == rj.AS.Number {
					sameAS++
				}
			}
		}
		sameASSum += float64(sameAS) / float64(pairs)
		sameASFamilies++
	}
	if sameASFamilies > 0 {
		c.ProbFamilySameAS = sameASSum / float64(sameASFamilies)
	} else {
		c.ProbFamilySameAS = 0
	}

	sizes := make([]SizeCount, 0, len(sizeCounts))
	for size, count := range sizeCounts {
		sizes = append(sizes, SizeCount{Size: size, Count: count})
	}
	sortSizeCounts(sizes)
	c.FamilySizes = sizes
}

func sortSizeCounts(s []SizeCount) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j].Size < s[j-1].Size; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}
