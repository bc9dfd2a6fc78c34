package family

import (
	"testing"

	"github.com/cvsouth/torscaler/fingerprint"
)

func fp(b byte) fingerprint.Fingerprint {
	var f fingerprint.Fingerprint
	f[0] = b
	return f
}

func TestCleanFamiliesDropsAsymmetric(t *testing.T) {
	a, b, c := fp(1), fp(2), fp(3)
	relations := map[fingerprint.Fingerprint][]fingerprint.Fingerprint{
		a: {b, c}, // a claims b and c
		b: {a},    // b claims a back: symmetric, kept
		c: {},     // c does not claim a back: dropped
	}
	CleanFamilies(relations)
	if len(relations[a]) != 1 || relations[a][0] != b {
		t.Errorf("a's family = %v, want [b]", relations[a])
	}
	if len(relations[b]) != 1 || relations[b][0] != a {
		t.Errorf("b's family = %v, want [a]", relations[b])
	}
}

func TestCleanFamiliesDropsSelfLoop(t *testing.T) {
	a := fp(1)
	relations := map[fingerprint.Fingerprint][]fingerprint.Fingerprint{
		a: {a},
	}
	CleanFamilies(relations)
	if len(relations[a]) != 0 {
		t.Errorf("expected self-loop removed, got %v", relations[a])
	}
}

func TestMakeCliquesSingleton(t *testing.T) {
	a := fp(1)
	relations := map[fingerprint.Fingerprint][]fingerprint.Fingerprint{
		a: {},
	}
	result := MakeCliques(relations)
	if result[a] != nil {
		t.Errorf("expected nil family for singleton, got %v", result[a])
	}
}

func TestMakeCliquesTransitiveClosure(t *testing.T) {
	a, b, c, d := fp(1), fp(2), fp(3), fp(4)
	// a-b directly related, b-c directly related, c and a not directly related
	// but should end up in the same clique via transitive closure. d is isolated.
	relations := map[fingerprint.Fingerprint][]fingerprint.Fingerprint{
		a: {b},
		b: {a, c},
		c: {b},
		d: {},
	}
	result := MakeCliques(relations)

	famA, famB, famC := result[a], result[b], result[c]
	if famA == nil || famB == nil || famC == nil {
		t.Fatalf("expected a, b, c to all have families: %v %v %v", famA, famB, famC)
	}
	if famA != famB || famB != famC {
		t.Errorf("expected a, b, c to share one Family value by pointer identity")
	}
	if len(famA.Members) != 3 {
		t.Errorf("expected 3 members, got %d: %v", len(famA.Members), famA.Members)
	}
	if result[d] != nil {
		t.Errorf("expected d to have no family, got %v", result[d])
	}
}

func TestRecomputeFamiliesDropsShrunkGroups(t *testing.T) {
	a, b, c := fp(1), fp(2), fp(3)
	shared := &Family{Members: []fingerprint.Fingerprint{a, b, c}}
	relayFamily := map[fingerprint.Fingerprint]*Family{
		a: shared,
		b: shared,
		// c has since been removed from the consensus entirely, so it's
		// absent from relayFamily even though shared.Members still names it.
	}
	result := RecomputeFamilies(relayFamily)
	if result[a] == nil || result[b] == nil {
		t.Fatalf("expected a, b to retain a family")
	}
	if result[a] != result[b] {
		t.Error("expected a and b to share the recomputed Family")
	}
	if result[a] == shared {
		t.Error("expected RecomputeFamilies to allocate a fresh Family, not reuse the old one")
	}
	if len(result[a].Members) != 2 {
		t.Errorf("expected 2 surviving members, got %d", len(result[a].Members))
	}
}

func TestRecomputeFamiliesSingletonBecomesNil(t *testing.T) {
	a, b := fp(1), fp(2)
	shared := &Family{Members: []fingerprint.Fingerprint{a, b}}
	relayFamily := map[fingerprint.Fingerprint]*Family{
		a: shared,
		// b removed
	}
	result := RecomputeFamilies(relayFamily)
	if result[a] != nil {
		t.Errorf("expected singleton group to collapse to nil, got %v", result[a])
	}
}
