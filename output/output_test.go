package output

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cvsouth/torscaler/fingerprint"
	"github.com/cvsouth/torscaler/highlevel"
	"github.com/cvsouth/torscaler/tordoc"
)

func fp(b byte) fingerprint.Fingerprint {
	var f fingerprint.Fingerprint
	f[0] = b
	return f
}

func buildTestConsensus(t *testing.T) *highlevel.Consensus {
	t.Helper()
	shallow := tordoc.ShallowRelay{
		Nickname:        "relayA",
		Fingerprint:     fp(1),
		Digest:          fp(1),
		Published:       time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Address:         "1.2.3.4",
		ORPort:          9001,
		Flags:           []tordoc.Flag{tordoc.FlagExit, tordoc.FlagFast, tordoc.FlagRunning},
		Protocols:       map[tordoc.Protocol]tordoc.SupportedProtocolVersion{},
		BandwidthWeight: 1000,
	}
	policy, err := tordoc.ParseCondensedExitPolicy("accept 80,443")
	if err != nil {
		t.Fatalf("ParseCondensedExitPolicy: %v", err)
	}
	shallow.ExitPolicy = policy

	desc := tordoc.Descriptor{
		Nickname:          shallow.Nickname,
		Fingerprint:       shallow.Fingerprint,
		Digest:            shallow.Digest,
		Published:         shallow.Published,
		BandwidthAvg:      500,
		BandwidthBurst:    800,
		BandwidthObserved: 400,
	}

	doc := &tordoc.ConsensusDocument{
		ValidAfter: time.Date(2024, 3, 5, 4, 0, 0, 0, time.UTC),
		Relays:     []tordoc.ShallowRelay{shallow},
		Weights:    map[string]uint64{"Wgg": 10000, "Wee": 10000},
	}

	c, err := highlevel.CombineDocuments(doc, []tordoc.Descriptor{desc}, nil)
	if err != nil {
		t.Fatalf("CombineDocuments: %v", err)
	}
	return c
}

func TestSaveToDirWritesExpectedTree(t *testing.T) {
	c := buildTestConsensus(t)
	dir := t.TempDir()

	if err := SaveToDir(c, dir); err != nil {
		t.Fatalf("SaveToDir: %v", err)
	}

	consensusText, err := os.ReadFile(filepath.Join(dir, "consensus", "consensus"))
	if err != nil {
		t.Fatalf("read consensus: %v", err)
	}
	text := string(consensusText)

	if !strings.Contains(text, "valid-after 2024-03-04 23:00:00") {
		t.Errorf("expected one-hour-back-shifted valid-after, got:\n%s", text)
	}
	if !strings.Contains(text, "r relayA ") {
		t.Errorf("expected r line for relayA, got:\n%s", text)
	}
	if !strings.Contains(text, "s Exit Fast Running") {
		t.Errorf("expected s line preserving flag order, got:\n%s", text)
	}
	if !strings.Contains(text, "w Bandwidth=1000") {
		t.Errorf("expected w line, got:\n%s", text)
	}
	if !strings.Contains(text, "p accept 80,443") {
		t.Errorf("expected p line, got:\n%s", text)
	}
	if !strings.Contains(text, "directory-footer") {
		t.Errorf("expected directory-footer, got:\n%s", text)
	}
	if !strings.Contains(text, "bandwidth-weights Wee=10000 Wgg=10000") {
		t.Errorf("expected sorted bandwidth-weights line, got:\n%s", text)
	}

	entries, err := os.ReadDir(filepath.Join(dir, "descriptors"))
	if err != nil {
		t.Fatalf("read descriptors dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d descriptor files, want 1", len(entries))
	}

	descBody, err := os.ReadFile(filepath.Join(dir, "descriptors", entries[0].Name()))
	if err != nil {
		t.Fatalf("read descriptor: %v", err)
	}
	descText := string(descBody)
	if !strings.Contains(descText, "router relayA 1.2.3.4 9001 0 0") {
		t.Errorf("expected router line, got:\n%s", descText)
	}
	if !strings.Contains(descText, "accept *:80") || !strings.Contains(descText, "reject *:*") {
		t.Errorf("expected expanded exit-policy lines, got:\n%s", descText)
	}

	reparsed, err := tordoc.ParseDescriptors(descText)
	if err != nil {
		t.Fatalf("re-parse emitted descriptor: %v", err)
	}
	if len(reparsed) != 1 || reparsed[0].Fingerprint != fp(1) {
		t.Errorf("re-parsed descriptor mismatch: %+v", reparsed)
	}

	jsonBytes, err := os.ReadFile(filepath.Join(dir, "consensus", "consensus.json"))
	if err != nil {
		t.Fatalf("read consensus.json: %v", err)
	}
	var summaries []relaySummary
	if err := json.Unmarshal(jsonBytes, &summaries); err != nil {
		t.Fatalf("unmarshal consensus.json: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("got %d summaries, want 1", len(summaries))
	}
	if summaries[0].Nickname != "relayA" || !summaries[0].IsExit || summaries[0].IsGuard {
		t.Errorf("unexpected summary: %+v", summaries[0])
	}
	if summaries[0].ASN != nil {
		t.Errorf("expected nil ASN for relay with no AS, got %v", *summaries[0].ASN)
	}
}

func TestSaveToDirRejectsNonEmptyDestination(t *testing.T) {
	c := buildTestConsensus(t)
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "stray"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write stray file: %v", err)
	}
	if err := SaveToDir(c, dir); err != ErrDirNotEmpty {
		t.Errorf("got %v, want ErrDirNotEmpty", err)
	}
}

func TestSaveToDirRejectsNonDirDestination(t *testing.T) {
	c := buildTestConsensus(t)
	dir := t.TempDir()
	file := filepath.Join(dir, "notadir")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if err := SaveToDir(c, file); err != ErrNotADir {
		t.Errorf("got %v, want ErrNotADir", err)
	}
}
