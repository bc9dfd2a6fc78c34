package asndb

import (
	"net/netip"
	"strings"
	"testing"

	"github.com/cvsouth/torscaler/rng"
)

const sampleCSV = `network,autonomous_system_number,autonomous_system_organization
1.0.0.0/24,13335,CLOUDFLARENET
1.0.0.0/16,3215,Orange
203.0.113.0/24,64512,EXAMPLE-AS
`

func TestOpenAndLookup(t *testing.T) {
	rng.SetSeed(1)
	db, err := load(strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if db.Count() != 3 {
		t.Fatalf("got %d ASes, want 3", db.Count())
	}

	as, ok := db.Lookup(netip.MustParseAddr("1.0.0.5"))
	if !ok {
		t.Fatal("expected a match")
	}
	if as.Number != 13335 {
		t.Fatalf("expected longest-prefix-match to prefer /24 over /16, got AS%d", as.Number)
	}

	as, ok = db.Lookup(netip.MustParseAddr("1.0.1.5"))
	if !ok || as.Number != 3215 {
		t.Fatalf("expected fallback to /16 match, got %v ok=%v", as, ok)
	}

	if _, ok := db.Lookup(netip.MustParseAddr("8.8.8.8")); ok {
		t.Fatal("expected no match for unrelated address")
	}
}

func TestAmbiguousName(t *testing.T) {
	const csv = `network,autonomous_system_number,autonomous_system_organization
1.0.0.0/24,13335,CLOUDFLARENET
1.0.1.0/24,13335,SOMETHING-ELSE
`
	_, err := load(strings.NewReader(csv))
	if err == nil {
		t.Fatal("expected an ambiguous-name error")
	}
	var ambigErr *AmbiguousASNameError
	if e, ok := err.(*AmbiguousASNameError); ok {
		ambigErr = e
	}
	if ambigErr == nil {
		t.Fatalf("expected *AmbiguousASNameError, got %T: %v", err, err)
	}
}

func TestIPRangeSize(t *testing.T) {
	cases := []struct {
		masklen int
		want    uint64
	}{
		{32, 1},
		{31, 2},
		{24, 256},
		{16, 65536},
		{0, 1 << 32},
	}
	for _, c := range cases {
		r := IPRange{Addr: netip.MustParseAddr("1.2.3.0"), MaskLen: c.masklen}
		if got := r.Size(); got != c.want {
			t.Errorf("masklen %d: got size %d, want %d", c.masklen, got, c.want)
		}
	}
}

func TestSampleUnknownIPAvoidsKnownRanges(t *testing.T) {
	rng.SetSeed(7)
	db, err := load(strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	for i := 0; i < 100; i++ {
		ip := db.SampleUnknownIP()
		if _, ok := db.Lookup(ip); ok {
			t.Fatalf("sampled IP %v falls inside a known range", ip)
		}
	}
}

func TestASSampleIPStaysInRange(t *testing.T) {
	rng.SetSeed(3)
	db, err := load(strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	as, ok := db.Lookup(netip.MustParseAddr("203.0.113.10"))
	if !ok {
		t.Fatal("expected match")
	}
	prefix := netip.MustParsePrefix("203.0.113.0/24")
	for i := 0; i < 50; i++ {
		ip := as.SampleIP()
		if !prefix.Contains(ip) {
			t.Fatalf("sampled IP %v outside AS range %v", ip, prefix)
		}
	}
}

func TestMissingColumn(t *testing.T) {
	const csv = "network,autonomous_system_number,autonomous_system_organization\n1.0.0.0/24,13335\n"
	_, err := load(strings.NewReader(csv))
	if err == nil {
		t.Fatal("expected missing-column error")
	}
}

func TestInvalidRange(t *testing.T) {
	const csv = "network,autonomous_system_number,autonomous_system_organization\nnot-a-cidr,13335,X\n"
	_, err := load(strings.NewReader(csv))
	if err == nil {
		t.Fatal("expected invalid-range error")
	}
}
