package tordoc

import (
	"strings"
	"testing"
)

const sampleDescriptor = `router test 1.2.3.4 9001 0 0
published 2024-01-01 00:00:00
fingerprint 0102 0304 0506 0708 090A 0B0C 0D0E 0F10 1112 1314
family $0102030405060708090A0B0C0D0E0F1011121314 otherrelay
bandwidth 1000 2000 900
router-signature
-----BEGIN SIGNATURE-----
AAAA
-----END SIGNATURE-----
`

func TestParseDescriptorBasic(t *testing.T) {
	d, err := ParseDescriptor(sampleDescriptor)
	if err != nil {
		t.Fatalf("ParseDescriptor: %v", err)
	}
	if d.Nickname != "test" {
		t.Errorf("nickname = %q", d.Nickname)
	}
	if d.BandwidthAvg != 1000 || d.BandwidthBurst != 2000 || d.BandwidthObserved != 900 {
		t.Errorf("bandwidth = %d/%d/%d", d.BandwidthAvg, d.BandwidthBurst, d.BandwidthObserved)
	}
	if len(d.FamilyMembers) != 2 {
		t.Fatalf("got %d family members, want 2", len(d.FamilyMembers))
	}
	if d.FamilyMembers[0].Fingerprint == nil {
		t.Error("expected first family member to be a fingerprint")
	}
	if d.FamilyMembers[1].Nickname != "otherrelay" {
		t.Errorf("second family member = %+v", d.FamilyMembers[1])
	}
	// digest is over "router" .. "\nrouter-signature\n" inclusive
	if d.Digest == (d.Fingerprint) {
		t.Error("digest should differ from identity fingerprint in this fixture")
	}
}

func TestParseDescriptorMissingFingerprint(t *testing.T) {
	text := strings.Replace(sampleDescriptor, "fingerprint 0102 0304 0506 0708 090A 0B0C 0D0E 0F10 1112 1314\n", "", 1)
	if _, err := ParseDescriptor(text); err == nil {
		t.Fatal("expected MissingFingerprintLineError")
	}
}

func TestParseDescriptors_Multiple(t *testing.T) {
	two := sampleDescriptor + strings.Replace(sampleDescriptor, "router test ", "router test2 ", 1)
	ds, err := ParseDescriptors(two)
	if err != nil {
		t.Fatalf("ParseDescriptors: %v", err)
	}
	if len(ds) != 2 {
		t.Fatalf("got %d descriptors, want 2", len(ds))
	}
	if ds[0].Nickname != "test" || ds[1].Nickname != "test2" {
		t.Errorf("nicknames = %q, %q", ds[0].Nickname, ds[1].Nickname)
	}
}
