package scale

import (
	"errors"

	"github.com/cvsouth/torscaler/asndb"
	"github.com/cvsouth/torscaler/highlevel"
	"github.com/cvsouth/torscaler/rng"
)

// errAllWeightsZero reports that every candidate relay's computed
// weight (after flag weighting and any custom restriction) was zero —
// the restriction (e.g. "same AS as X") has no match. Distinct from
// rng.WeightedSample's own all-zero-falls-back-to-uniform behavior:
// samplers treat a fully-restricted zero sum as "no candidate", not as
// "sample uniformly".
var errAllWeightsZero = errors.New("scale: no relay satisfies the sampling restriction")

// sampler draws relays weighted by flag class, optionally narrowed by
// AS membership or family-presence restrictions — a weighted relay
// sampler narrowed by optional restriction filters.
type sampler struct {
	relays  []*highlevel.Relay
	weights flagWeights
	filters []func(*highlevel.Relay) (weight float64, restricted bool)
}

func newSampler(relays []*highlevel.Relay) *sampler {
	return &sampler{relays: relays, weights: unbiasedFlagWeights()}
}

func (s *sampler) withFlagWeights(w flagWeights) *sampler {
	s.weights = w
	return s
}

func (s *sampler) onlyFromAS(as *asndb.AS) *sampler {
	s.filters = append(s.filters, func(r *highlevel.Relay) (float64, bool) {
		if sameAS(r.AS, as) {
			return 0, false
		}
		return 0, true
	})
	return s
}

func (s *sampler) notFromAS(as *asndb.AS) *sampler {
	s.filters = append(s.filters, func(r *highlevel.Relay) (float64, bool) {
		if !sameAS(r.AS, as) {
			return 0, false
		}
		return 0, true
	})
	return s
}

func (s *sampler) hasFamily(yesno bool) *sampler {
	s.filters = append(s.filters, func(r *highlevel.Relay) (float64, bool) {
		if (r.Family != nil) == yesno {
			return 0, false
		}
		return 0, true
	})
	return s
}

func sameAS(a, b *asndb.AS) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Number == b.Number
}

// sample draws one relay; it returns sampleChecked's result unchanged,
// including its error when no candidate carries weight.
func (s *sampler) sample() (*highlevel.Relay, error) {
	return s.sampleChecked()
}

func (s *sampler) sampleChecked() (*highlevel.Relay, error) {
	weights := make([]float64, len(s.relays))
	var sum float64
	for i, r := range s.relays {
		w := s.weights.relayWeight(r)
		for _, f := range s.filters {
			if zero, restricted := f(r); restricted {
				w = zero
			}
		}
		if w < 0 {
			w = 0
		}
		weights[i] = w
		sum += w
	}
	if sum <= 0 {
		return nil, errAllWeightsZero
	}
	idx, err := rng.WeightedSample(weights)
	if err != nil {
		return nil, err
	}
	return s.relays[idx], nil
}
