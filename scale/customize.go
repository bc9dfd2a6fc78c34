package scale

import (
	"fmt"

	"github.com/cvsouth/torscaler/asndb"
	"github.com/cvsouth/torscaler/fingerprint"
	"github.com/cvsouth/torscaler/highlevel"
)

// fingerprintGenerator hands out successive fingerprints from a
// monotonically incrementing big-endian counter of the 20-byte
// fingerprint size. That is enough address space that overflow is a
// programming error, not an operating condition, so it panics.
type fingerprintGenerator struct {
	state [fingerprint.Size]byte
}

func newFingerprintGenerator() *fingerprintGenerator {
	return &fingerprintGenerator{}
}

func (g *fingerprintGenerator) next() fingerprint.Fingerprint {
	g.inc()
	return g.state
}

func (g *fingerprintGenerator) inc() {
	for i := len(g.state) - 1; i >= 0; i-- {
		if g.state[i] < 0xFF {
			g.state[i]++
			return
		}
		g.state[i] = 0
	}
	panic("scale: fingerprint generator has overflowed")
}

// nicknameGenerator hands out successive synthetic nicknames.
type nicknameGenerator struct {
	n uint64
}

func newNicknameGenerator() *nicknameGenerator {
	return &nicknameGenerator{n: 1}
}

func (g *nicknameGenerator) next() string {
	g.n++
	return fmt.Sprintf("torscaler-dsi-%d", g.n)
}

// customizer assigns each new relay a fresh fingerprint, nickname, and
// IP address (sampled from its AS if it has one, else from the AS-DB's
// unknown-IP sampler).
type customizer struct {
	fingerprints *fingerprintGenerator
	nicknames    *nicknameGenerator
	asDB         *asndb.AsDb
}

func newCustomizer(asDB *asndb.AsDb) *customizer {
	return &customizer{
		fingerprints: newFingerprintGenerator(),
		nicknames:    newNicknameGenerator(),
		asDB:         asDB,
	}
}

func (c *customizer) customize(r *highlevel.Relay) {
	r.Fingerprint = c.fingerprints.next()
	r.Digest = r.Fingerprint
	r.Nickname = c.nicknames.next()
	if r.AS != nil {
		r.Address = r.AS.SampleIP().String()
	} else {
		r.Address = c.asDB.SampleUnknownIP().String()
	}
}
