// Package scale implements the horizontal and vertical scaling
// operations on a joined highlevel.Consensus: growing the relay
// population while preserving flag/family/AS statistics, and
// multiplying relay bandwidth by rank- or flag-class-derived factors.
package scale

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/cvsouth/torscaler/asndb"
	"github.com/cvsouth/torscaler/fingerprint"
	"github.com/cvsouth/torscaler/highlevel"
	"github.com/cvsouth/torscaler/rng"
)

// ErrUnsupportedShrink is returned when a horizontal scale factor below
// 1 is requested; this engine can only grow the network.
var ErrUnsupportedShrink = errors.New("scale: horizontal scaling can only scale up (factor must be >= 1)")

// ErrTooFewRelaysForGroups is returned when vertical-by-rank scaling is
// asked for more groups than there are relays, or for zero groups.
var ErrTooFewRelaysForGroups = errors.New("scale: need at least as many relays as scale groups, and at least one group")

// ErrInvalidProbability is returned when a probability argument falls
// outside [0, 1] or the lower-cutoff fraction falls outside [0, 1), and
// is wrapped when a horizontal exit or guard factor is negative.
var ErrInvalidProbability = errors.New("scale: probability must be within [0, 1]")

// discardLogger is used when a caller does not supply one.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// HorizontalOptions configures ScaleHorizontally.
type HorizontalOptions struct {
	Scale         float64
	ExitFactor    float64 // 0 means "use 1.0"
	GuardFactor   float64 // 0 means "use 1.0"
	ProbFamilyNew float64
	Logger        *slog.Logger
}

// ScaleHorizontally grows consensus's relay population by the
// requested factor in place. New relays are cloned from weighted-sampled
// base relays (weighted to hit the requested exit/guard growth factors),
// assigned families per the in-family/new-family/same-AS Bernoulli
// policy, then given fresh fingerprints, nicknames and addresses before
// being merged in. Ends with RecomputeFamilies + RecomputeWeights +
// stats.
func ScaleHorizontally(consensus *highlevel.Consensus, asDB *asndb.AsDb, opts HorizontalOptions) error {
	if opts.Scale < 1.0 {
		return ErrUnsupportedShrink
	}
	exitFactor, guardFactor := opts.ExitFactor, opts.GuardFactor
	if exitFactor == 0 {
		exitFactor = 1.0
	}
	if guardFactor == 0 {
		guardFactor = 1.0
	}
	if exitFactor < 0 || guardFactor < 0 {
		return fmt.Errorf("%w: negative scale factor", ErrInvalidProbability)
	}
	if opts.ProbFamilyNew < 0 || opts.ProbFamilyNew > 1 {
		return ErrInvalidProbability
	}
	logger := opts.Logger
	if logger == nil {
		logger = discardLogger()
	}

	numBefore := len(consensus.Order)
	numAfter := int(roundHalfAwayFromZero(float64(numBefore) * opts.Scale))
	numNew := numAfter - numBefore
	logger.Info("scaling horizontally", "before", numBefore, "scale", opts.Scale, "new", numNew)

	oldRelays := make([]*highlevel.Relay, 0, numBefore)
	for _, fp := range consensus.Order {
		oldRelays = append(oldRelays, consensus.Relays[fp])
	}

	probFamily := consensus.ProbFamily
	probFamilySameAS := consensus.ProbFamilySameAS

	classWeights := flagWeightsFromFactorsByNumber(oldRelays, 1.0, exitFactor, guardFactor)

	var withFamily []*highlevel.Relay
	var needsFamily []*highlevel.Relay

	created := 0
	for created < numNew {
		inFamily := rng.Bool(probFamily)
		newFamily := rng.Bool(opts.ProbFamilyNew)
		sameAS := rng.Bool(probFamilySameAS)

		chosen, err := newSampler(oldRelays).withFlagWeights(classWeights).sample()
		if err != nil {
			return err
		}

		if !inFamily {
			clone := *chosen
			clone.Family = nil
			withFamily = append(withFamily, &clone)
			created++
			continue
		}

		if newFamily {
			clone := *chosen
			needsFamily = append(needsFamily, &clone)
			created++
			continue
		}

		var refRelay *highlevel.Relay
		if chosen.Family != nil && sameAS {
			refRelay = chosen
		} else {
			refSampler := newSampler(oldRelays).hasFamily(true)
			if sameAS {
				refSampler.onlyFromAS(chosen.AS)
				r, err := refSampler.sampleChecked()
				if err != nil {
					if errors.Is(err, errAllWeightsZero) {
						continue // retry the whole iteration without weakening the constraint
					}
					return err
				}
				refRelay = r
			} else {
				refSampler.notFromAS(chosen.AS)
				r, err := refSampler.sample()
				if err != nil {
					return err
				}
				refRelay = r
			}
		}

		clone := *chosen
		clone.Family = refRelay.Family
		withFamily = append(withFamily, &clone)
		created++
	}

	customizer := newCustomizer(asDB)
	for _, r := range withFamily {
		customizer.customize(r)
	}
	for _, r := range needsFamily {
		customizer.customize(r)
	}

	newFamilies, err := buildNewFamilies(needsFamily, consensus.FamilySizes, probFamilySameAS)
	if err != nil {
		return err
	}
	for _, group := range newFamilies.families {
		famValue := newFamilyValue(group)
		for _, r := range group {
			r.Family = famValue
		}
		withFamily = append(withFamily, group...)
	}

	for _, r := range withFamily {
		consensus.Relays[r.Fingerprint] = r
		consensus.Order = append(consensus.Order, r.Fingerprint)
	}

	consensus.RecomputeFamilies()
	if err := consensus.RecomputeWeights(); err != nil {
		return err
	}
	consensus.RecomputeStats()
	return nil
}

func roundHalfAwayFromZero(v float64) float64 {
	if v >= 0 {
		return float64(int64(v + 0.5))
	}
	return float64(int64(v - 0.5))
}

// ScaleVerticallyByBandwidthRank sorts relays ascending by current
// bandwidth weight, splits them into len(scales) consecutive groups (the
// last absorbing any remainder), and multiplies each group's weight by
// its factor.
func ScaleVerticallyByBandwidthRank(consensus *highlevel.Consensus, scales []float64) error {
	numGroups := len(scales)
	numRelays := len(consensus.Order)
	if numGroups < 1 || numRelays < numGroups {
		return ErrTooFewRelaysForGroups
	}

	ordered := make([]fingerprint.Fingerprint, len(consensus.Order))
	copy(ordered, consensus.Order)
	sortByWeightAscending(ordered, consensus)

	groupSize := numRelays / numGroups
	factorOf := make(map[fingerprint.Fingerprint]float64, numRelays)
	idx := 0
	for g := 0; g < numGroups; g++ {
		end := idx + groupSize
		if g == numGroups-1 {
			end = numRelays
		}
		for ; idx < end; idx++ {
			factorOf[ordered[idx]] = scales[g]
		}
	}

	return scaleVerticallyBy(consensus, func(r *highlevel.Relay) float64 {
		return factorOf[r.Fingerprint]
	})
}

func sortByWeightAscending(fps []fingerprint.Fingerprint, c *highlevel.Consensus) {
	for i := 1; i < len(fps); i++ {
		for j := i; j > 0 && c.Relays[fps[j]].BandwidthWeight < c.Relays[fps[j-1]].BandwidthWeight; j-- {
			fps[j], fps[j-1] = fps[j-1], fps[j]
		}
	}
}

// ScaleFlagGroupsVertically scales relay bandwidth per flag class
// (middle/exit/guard/dual), using the same non-negative weight
// derivation ScaleHorizontally uses, but summed over bandwidth rather
// than relay count.
func ScaleFlagGroupsVertically(consensus *highlevel.Consensus, middleScale, exitScale, guardScale float64) error {
	relays := make([]*highlevel.Relay, 0, len(consensus.Order))
	for _, fp := range consensus.Order {
		relays = append(relays, consensus.Relays[fp])
	}
	fw := flagWeightsFromFactorsByBandwidth(relays, middleScale, exitScale, guardScale)
	return scaleVerticallyBy(consensus, fw.relayWeight)
}

func scaleVerticallyBy(consensus *highlevel.Consensus, factorOf func(*highlevel.Relay) float64) error {
	for _, r := range consensus.Relays {
		r.BandwidthWeight = uint64(float64(r.BandwidthWeight) * factorOf(r))
	}
	if err := consensus.RecomputeWeights(); err != nil {
		return err
	}
	consensus.RecomputeStats()
	return nil
}

// CutoffLowerAndRedistribute sorts relays ascending by bandwidth weight,
// drops the bottom cutoff fraction, and distributes their summed weight
// over the survivors proportionally to each survivor's current weight.
func CutoffLowerAndRedistribute(consensus *highlevel.Consensus, cutoff float64) error {
	if cutoff < 0 || cutoff >= 1 {
		return ErrInvalidProbability
	}

	ordered := make([]fingerprint.Fingerprint, len(consensus.Order))
	copy(ordered, consensus.Order)
	sortByWeightAscending(ordered, consensus)

	numDrop := int(float64(len(ordered)) * cutoff)
	dropped := ordered[:numDrop]
	survivors := ordered[numDrop:]

	var droppedSum, survivorSum float64
	for _, fp := range dropped {
		droppedSum += float64(consensus.Relays[fp].BandwidthWeight)
	}
	for _, fp := range survivors {
		survivorSum += float64(consensus.Relays[fp].BandwidthWeight)
	}

	if err := consensus.RemoveRelaysBy(func(r *highlevel.Relay) bool {
		for _, fp := range dropped {
			if r.Fingerprint == fp {
				return true
			}
		}
		return false
	}); err != nil {
		return err
	}

	if survivorSum > 0 {
		for _, fp := range survivors {
			r := consensus.Relays[fp]
			share := float64(r.BandwidthWeight) / survivorSum
			r.BandwidthWeight += uint64(share * droppedSum)
		}
	}

	return consensus.RecomputeWeights()
}
