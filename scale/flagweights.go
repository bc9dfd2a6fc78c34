package scale

import (
	"github.com/cvsouth/torscaler/highlevel"
	"github.com/cvsouth/torscaler/tordoc"
)

// flagWeights holds, per flag class, the multiplicative weight used
// when sampling a base relay (or scaling its bandwidth): exit-only,
// guard-only, exit+guard ("dual"), and everything else ("middle").
type flagWeights struct {
	e, g, d, m float64
}

func unbiasedFlagWeights() flagWeights {
	return flagWeights{e: 1, g: 1, d: 1, m: 1}
}

// flagWeightsFromFactorsByNumber derives per-class weights from relay
// counts so that sampling with these weights grows each class by
// roughly its requested factor. The smaller of guardFactor/exitFactor
// is applied directly to the dual (exit+guard) class so the other
// factor can always be solved for without going negative.
func flagWeightsFromFactorsByNumber(relays []*highlevel.Relay, middleFactor, exitFactor, guardFactor float64) flagWeights {
	var nE, nG, nD float64
	for _, r := range relays {
		switch {
		case r.IsExitGuard():
			nD++
		case r.IsGuard():
			nG++
		case r.IsExit():
			nE++
		}
	}
	return flagWeightsFromFactorsByValue(middleFactor, exitFactor, guardFactor, nE, nG, nD)
}

// flagWeightsFromFactorsByBandwidth is the same derivation, but summing
// each class's current bandwidth weight instead of its relay count —
// used when scaling bandwidth rather than population.
func flagWeightsFromFactorsByBandwidth(relays []*highlevel.Relay, middleFactor, exitFactor, guardFactor float64) flagWeights {
	var nE, nG, nD float64
	for _, r := range relays {
		bw := float64(r.BandwidthWeight)
		switch {
		case r.IsExitGuard():
			nD += bw
		case r.IsGuard():
			nG += bw
		case r.IsExit():
			nE += bw
		}
	}
	return flagWeightsFromFactorsByValue(middleFactor, exitFactor, guardFactor, nE, nG, nD)
}

func flagWeightsFromFactorsByValue(middleFactor, exitFactor, guardFactor, nE, nG, nD float64) flagWeights {
	weightM := middleFactor
	var weightG, weightE, weightD float64
	if guardFactor <= exitFactor {
		weightG = guardFactor
		weightD = guardFactor
		if nE == 0 {
			panic("scale: no exit-only relays to derive the exit weight from")
		}
		weightE = (exitFactor*(nE+nD) - guardFactor*nD) / nE
	} else {
		weightE = exitFactor
		weightD = exitFactor
		if nG == 0 {
			panic("scale: no guard-only relays to derive the guard weight from")
		}
		weightG = (guardFactor*(nG+nD) - exitFactor*nD) / nG
	}
	return flagWeights{e: weightE, g: weightG, d: weightD, m: weightM}
}

func (fw flagWeights) relayWeight(r *highlevel.Relay) float64 {
	switch {
	case r.HasFlag(tordoc.FlagExit) && r.HasFlag(tordoc.FlagGuard):
		return fw.d
	case r.HasFlag(tordoc.FlagExit):
		return fw.e
	case r.HasFlag(tordoc.FlagGuard):
		return fw.g
	default:
		return fw.m
	}
}
