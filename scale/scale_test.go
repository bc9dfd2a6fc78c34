package scale

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cvsouth/torscaler/asndb"
	"github.com/cvsouth/torscaler/fingerprint"
	"github.com/cvsouth/torscaler/highlevel"
	"github.com/cvsouth/torscaler/rng"
	"github.com/cvsouth/torscaler/tordoc"
)

func testAsDB(t *testing.T) *asndb.AsDb {
	t.Helper()
	path := filepath.Join(t.TempDir(), "asdb.csv")
	content := "network,autonomous_system_number,autonomous_system_organization\n" +
		"1.0.0.0/8,1,Example A\n" +
		"2.0.0.0/8,2,Example B\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write asdb fixture: %v", err)
	}
	db, err := asndb.Open(path)
	if err != nil {
		t.Fatalf("asndb.Open: %v", err)
	}
	return db
}

func TestMain(m *testing.M) {
	rng.SetSeed(42)
	m.Run()
}

func fp(b byte) fingerprint.Fingerprint {
	var f fingerprint.Fingerprint
	f[0] = b
	return f
}

func buildConsensus(t *testing.T, n int) *highlevel.Consensus {
	t.Helper()
	var shallows []tordoc.ShallowRelay
	var descs []tordoc.Descriptor
	for i := 0; i < n; i++ {
		id := byte(i + 1)
		flags := []tordoc.Flag{tordoc.FlagGuard}
		if i%2 == 0 {
			flags = []tordoc.Flag{tordoc.FlagExit}
		}
		s := tordoc.ShallowRelay{
			Nickname:        "relay",
			Fingerprint:     fp(id),
			Digest:          fp(id),
			Published:       time.Unix(0, 0),
			Address:         "10.0.0.1",
			ORPort:          9001,
			Flags:           flags,
			BandwidthWeight: uint64(100 * (i + 1)),
		}
		shallows = append(shallows, s)
		descs = append(descs, tordoc.Descriptor{
			Nickname:          s.Nickname,
			Fingerprint:       s.Fingerprint,
			Digest:            s.Digest,
			Published:         s.Published,
			BandwidthAvg:      1000,
			BandwidthBurst:    2000,
			BandwidthObserved: 500,
		})
	}
	doc := &tordoc.ConsensusDocument{
		ValidAfter: time.Unix(0, 0),
		Relays:     shallows,
		Weights:    map[string]uint64{},
	}
	c, err := highlevel.CombineDocuments(doc, descs, nil)
	if err != nil {
		t.Fatalf("CombineDocuments: %v", err)
	}
	return c
}

func TestScaleHorizontallyGrowsToExactCount(t *testing.T) {
	c := buildConsensus(t, 10)
	err := ScaleHorizontally(c, testAsDB(t), HorizontalOptions{Scale: 2.0, ProbFamilyNew: 0})
	if err != nil {
		t.Fatalf("ScaleHorizontally: %v", err)
	}
	if len(c.Relays) != 20 {
		t.Errorf("got %d relays, want 20", len(c.Relays))
	}
	if len(c.Order) != 20 {
		t.Errorf("got %d in Order, want 20", len(c.Order))
	}
}

func TestScaleHorizontallyRejectsShrink(t *testing.T) {
	c := buildConsensus(t, 5)
	err := ScaleHorizontally(c, testAsDB(t), HorizontalOptions{Scale: 0.5})
	if err != ErrUnsupportedShrink {
		t.Errorf("got %v, want ErrUnsupportedShrink", err)
	}
}

func TestScaleHorizontallyRejectsBadProbability(t *testing.T) {
	c := buildConsensus(t, 5)
	err := ScaleHorizontally(c, testAsDB(t), HorizontalOptions{Scale: 1.5, ProbFamilyNew: 1.5})
	if err != ErrInvalidProbability {
		t.Errorf("got %v, want ErrInvalidProbability", err)
	}
}

func TestScaleVerticallyByBandwidthRank(t *testing.T) {
	c := buildConsensus(t, 9)
	if err := ScaleVerticallyByBandwidthRank(c, []float64{0.5, 1.0, 2.0}); err != nil {
		t.Fatalf("ScaleVerticallyByBandwidthRank: %v", err)
	}
	// lowest-weight relay (originally 100) should have been halved.
	if c.Relays[fp(1)].BandwidthWeight != 50 {
		t.Errorf("lowest relay weight = %d, want 50", c.Relays[fp(1)].BandwidthWeight)
	}
	// highest-weight relay (originally 900) should have been doubled.
	if c.Relays[fp(9)].BandwidthWeight != 1800 {
		t.Errorf("highest relay weight = %d, want 1800", c.Relays[fp(9)].BandwidthWeight)
	}
}

func TestScaleVerticallyByBandwidthRankTooFewRelays(t *testing.T) {
	c := buildConsensus(t, 2)
	err := ScaleVerticallyByBandwidthRank(c, []float64{1.0, 1.0, 1.0})
	if err != ErrTooFewRelaysForGroups {
		t.Errorf("got %v, want ErrTooFewRelaysForGroups", err)
	}
}

func TestCutoffLowerAndRedistributePreservesTotalBandwidth(t *testing.T) {
	c := buildConsensus(t, 10)
	var totalBefore uint64
	for _, r := range c.Relays {
		totalBefore += r.BandwidthWeight
	}

	if err := CutoffLowerAndRedistribute(c, 0.2); err != nil {
		t.Fatalf("CutoffLowerAndRedistribute: %v", err)
	}
	if len(c.Relays) != 8 {
		t.Fatalf("got %d relays, want 8", len(c.Relays))
	}

	var totalAfter uint64
	for _, r := range c.Relays {
		totalAfter += r.BandwidthWeight
	}
	if diff := math.Abs(float64(totalBefore) - float64(totalAfter)); diff > float64(len(c.Relays)) {
		t.Errorf("total bandwidth drifted: before=%d after=%d", totalBefore, totalAfter)
	}
}
