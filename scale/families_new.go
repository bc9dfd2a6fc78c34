package scale

import (
	"errors"

	"github.com/cvsouth/torscaler/family"
	"github.com/cvsouth/torscaler/fingerprint"
	"github.com/cvsouth/torscaler/highlevel"
	"github.com/cvsouth/torscaler/rng"
)

// newFamiliesResult groups of relays, each to become one new Family.
type newFamiliesResult struct {
	families [][]*highlevel.Relay
}

// buildNewFamilies partitions needsFamily into groups whose sizes are
// drawn from the observed family-size histogram (weighted by
// frequency), restarting the whole draw sequence whenever a draw would
// overshoot the remaining budget — this avoids discriminating against
// large family sizes that only "fit" early in the budget.
func buildNewFamilies(needsFamily []*highlevel.Relay, familySizes []highlevel.SizeCount, probFamilySameAS float64) (newFamiliesResult, error) {
	if len(needsFamily) == 0 {
		return newFamiliesResult{}, nil
	}
	if len(familySizes) == 0 {
		return newFamiliesResult{}, errors.New("scale: cannot construct new families with an empty family-size histogram")
	}

	sizes := make([]int, len(familySizes))
	weights := make([]float64, len(familySizes))
	for i, sc := range familySizes {
		sizes[i] = sc.Size
		weights[i] = float64(sc.Count)
	}

	var plan []int
	const maxAttempts = 10_000
	attempt := 0
restart:
	attempt++
	if attempt > maxAttempts {
		panic("scale: new-family size sampling failed to converge")
	}
	plan = plan[:0]
	remaining := len(needsFamily)
	for remaining > 0 {
		idx, err := rng.WeightedSample(weights)
		if err != nil {
			return newFamiliesResult{}, err
		}
		size := sizes[idx]
		if size > remaining {
			goto restart
		}
		plan = append(plan, size)
		remaining -= size
	}

	pool := append([]*highlevel.Relay(nil), needsFamily...)
	var result newFamiliesResult
	for _, size := range plan {
		group := make([]*highlevel.Relay, 0, size)
		group = append(group, popRandom(&pool))
		for len(group) < size {
			refIdx := rng.Rand().Intn(len(group))
			ref := group[refIdx]
			sameAS := rng.Bool(probFamilySameAS)

			s := newSampler(pool)
			if sameAS {
				s.onlyFromAS(ref.AS)
			} else {
				s.notFromAS(ref.AS)
			}
			member, err := s.sampleChecked()
			if err != nil {
				if errors.Is(err, errAllWeightsZero) {
					member, err = newSampler(pool).sample()
					if err != nil {
						return newFamiliesResult{}, err
					}
				} else {
					return newFamiliesResult{}, err
				}
			}
			group = append(group, removeRelay(&pool, member))
		}
		result.families = append(result.families, group)
	}
	return result, nil
}

func popRandom(pool *[]*highlevel.Relay) *highlevel.Relay {
	idx := rng.Rand().Intn(len(*pool))
	return removeAt(pool, idx)
}

func removeRelay(pool *[]*highlevel.Relay, target *highlevel.Relay) *highlevel.Relay {
	for i, r := range *pool {
		if r == target {
			return removeAt(pool, i)
		}
	}
	panic("scale: sampled relay not found in its own pool")
}

func removeAt(pool *[]*highlevel.Relay, idx int) *highlevel.Relay {
	r := (*pool)[idx]
	last := len(*pool) - 1
	(*pool)[idx] = (*pool)[last]
	*pool = (*pool)[:last]
	return r
}

func newFamilyValue(group []*highlevel.Relay) *family.Family {
	members := make([]fingerprint.Fingerprint, len(group))
	for i, r := range group {
		members[i] = r.Fingerprint
	}
	return &family.Family{Members: members}
}
