package highlevel

import (
	"testing"
	"time"

	"github.com/cvsouth/torscaler/fingerprint"
	"github.com/cvsouth/torscaler/tordoc"
)

func fp(b byte) fingerprint.Fingerprint {
	var f fingerprint.Fingerprint
	f[0] = b
	return f
}

func shallow(nickname string, id byte, flags []tordoc.Flag, bw uint64) tordoc.ShallowRelay {
	return tordoc.ShallowRelay{
		Nickname:        nickname,
		Fingerprint:     fp(id),
		Digest:          fp(id), // digest == fingerprint for test convenience
		Published:       time.Unix(0, 0),
		Address:         "10.0.0.1",
		ORPort:          9001,
		Flags:           flags,
		BandwidthWeight: bw,
	}
}

func descriptorFor(r tordoc.ShallowRelay, members ...tordoc.FamilyMember) tordoc.Descriptor {
	return tordoc.Descriptor{
		Nickname:          r.Nickname,
		Fingerprint:       r.Fingerprint,
		Digest:            r.Digest,
		Published:         r.Published,
		FamilyMembers:     members,
		BandwidthAvg:      1000,
		BandwidthBurst:    2000,
		BandwidthObserved: 500,
	}
}

func TestCombineDocumentsBasic(t *testing.T) {
	a := shallow("a", 1, []tordoc.Flag{tordoc.FlagGuard}, 100)
	b := shallow("b", 2, []tordoc.Flag{tordoc.FlagExit}, 200)

	doc := &tordoc.ConsensusDocument{
		ValidAfter: time.Unix(0, 0),
		Relays:     []tordoc.ShallowRelay{a, b},
		Weights:    map[string]uint64{"Wgg": 10000},
	}
	descs := []tordoc.Descriptor{descriptorFor(a), descriptorFor(b)}

	c, err := CombineDocuments(doc, descs, nil)
	if err != nil {
		t.Fatalf("CombineDocuments: %v", err)
	}
	if len(c.Relays) != 2 {
		t.Fatalf("got %d relays, want 2", len(c.Relays))
	}
	ra := c.Relays[fp(1)]
	if ra == nil {
		t.Fatal("relay a missing")
	}
	if !ra.IsGuard() {
		t.Error("relay a should be classified Guard")
	}
	if ra.BandwidthAvgRatio != 1000.0/100.0 {
		t.Errorf("BandwidthAvgRatio = %f, want 10", ra.BandwidthAvgRatio)
	}
	if len(c.Order) != 2 || c.Order[0] != fp(1) || c.Order[1] != fp(2) {
		t.Errorf("Order = %v, want insertion order [1,2]", c.Order)
	}
}

func TestCombineDocumentsMissingDescriptor(t *testing.T) {
	a := shallow("a", 1, nil, 100)
	doc := &tordoc.ConsensusDocument{
		ValidAfter: time.Unix(0, 0),
		Relays:     []tordoc.ShallowRelay{a},
	}
	_, err := CombineDocuments(doc, nil, nil)
	if err == nil {
		t.Fatal("expected MissingDescriptorError")
	}
	if _, ok := err.(*MissingDescriptorError); !ok {
		t.Errorf("got %T, want *MissingDescriptorError", err)
	}
}

func TestCombineDocumentsFamilyWiring(t *testing.T) {
	a := shallow("a", 1, nil, 100)
	b := shallow("b", 2, nil, 100)
	cc := shallow("c", 3, nil, 100)

	fpB := fp(2)
	descA := descriptorFor(a, tordoc.FamilyMember{Fingerprint: &fpB})
	fpA := fp(1)
	descB := descriptorFor(b, tordoc.FamilyMember{Fingerprint: &fpA})
	descC := descriptorFor(cc) // no family

	doc := &tordoc.ConsensusDocument{
		ValidAfter: time.Unix(0, 0),
		Relays:     []tordoc.ShallowRelay{a, b, cc},
	}
	consensus, err := CombineDocuments(doc, []tordoc.Descriptor{descA, descB, descC}, nil)
	if err != nil {
		t.Fatalf("CombineDocuments: %v", err)
	}

	ra, rb, rc := consensus.Relays[fp(1)], consensus.Relays[fp(2)], consensus.Relays[fp(3)]
	if ra.Family == nil || rb.Family == nil {
		t.Fatal("a and b should share a family")
	}
	if ra.Family != rb.Family {
		t.Error("a and b should share the same *Family reference")
	}
	if rc.Family != nil {
		t.Error("c declared no family relation and should have none")
	}
	if len(consensus.Families) != 1 {
		t.Errorf("got %d families, want 1", len(consensus.Families))
	}
	if consensus.ProbFamily != 2.0/3.0 {
		t.Errorf("ProbFamily = %f, want 2/3", consensus.ProbFamily)
	}
}

func TestRemoveRelaysByRecomputesFamiliesAndWeights(t *testing.T) {
	a := shallow("a", 1, []tordoc.Flag{tordoc.FlagGuard}, 100)
	b := shallow("b", 2, []tordoc.Flag{tordoc.FlagExit}, 200)
	cc := shallow("c", 3, nil, 300)

	fpC := fp(3)
	fpA := fp(1)
	descA := descriptorFor(a, tordoc.FamilyMember{Fingerprint: &fpC})
	descB := descriptorFor(b)
	descC := descriptorFor(cc, tordoc.FamilyMember{Fingerprint: &fpA})

	doc := &tordoc.ConsensusDocument{
		ValidAfter: time.Unix(0, 0),
		Relays:     []tordoc.ShallowRelay{a, b, cc},
	}
	consensus, err := CombineDocuments(doc, []tordoc.Descriptor{descA, descB, descC}, nil)
	if err != nil {
		t.Fatalf("CombineDocuments: %v", err)
	}
	if consensus.Relays[fp(1)].Family == nil {
		t.Fatal("a and c should start out families")
	}

	if err := consensus.RemoveRelaysBy(func(r *Relay) bool { return r.Nickname == "c" }); err != nil {
		t.Fatalf("RemoveRelaysBy: %v", err)
	}
	if len(consensus.Relays) != 2 {
		t.Fatalf("got %d relays after removal, want 2", len(consensus.Relays))
	}
	if consensus.Relays[fp(1)].Family != nil {
		t.Error("a's family should have dissolved once c (its only member) was removed")
	}
	if consensus.Weights == nil {
		t.Error("weights should have been recomputed")
	}
}

func TestVerifyWeightsDetectsMismatch(t *testing.T) {
	a := shallow("a", 1, []tordoc.Flag{tordoc.FlagGuard}, 100)
	doc := &tordoc.ConsensusDocument{
		ValidAfter: time.Unix(0, 0),
		Relays:     []tordoc.ShallowRelay{a},
		Weights:    map[string]uint64{"Wgg": 1}, // deliberately wrong
	}
	consensus, err := CombineDocuments(doc, []tordoc.Descriptor{descriptorFor(a)}, nil)
	if err != nil {
		t.Fatalf("CombineDocuments: %v", err)
	}
	_, match, err := consensus.VerifyWeights()
	if err != nil {
		t.Fatalf("VerifyWeights: %v", err)
	}
	if match {
		t.Error("expected a mismatch against the deliberately wrong seed weight")
	}
}
