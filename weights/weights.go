// Package weights implements the Tor directory-authority bandwidth-weight
// solver: given the summed consensus weight of each relay class (Guard,
// Middle, Exit, Dual-flagged), it recomputes the 19-entry
// bandwidth-weights mapping that the consensus publishes for client path
// selection.
package weights

import (
	"fmt"
	"math"
)

// Scale is the fixed-point base the 19 weights are expressed in.
const Scale = 10000.0

// ClassSums holds the sum of bandwidth_weight over each relay class:
// G = Guard∧¬Exit, M = none of the below, E = Exit∧¬Guard∧¬BadExit,
// D = Exit∧Guard∧¬BadExit. Recompute floors each sum at 1 itself to
// avoid division by zero.
type ClassSums struct {
	G, M, E, D float64
}

// Mismatch is returned (not raised as an error) by a verify-weights
// check: the weights that were published versus what recomputing them
// from the current relay set would produce.
type Mismatch struct {
	Old, New map[string]uint64
}

// ValidationError reports that a computed weight assignment failed the
// §4.F consistency checks even after any applicable fallback. Some class
// sums have no valid assignment under the recipe (e.g. a Case 2b
// fallback whose Wmd is clamped to 0); those yield this error.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("weights: validation failed: %s", e.Reason)
}

// assignment holds the seven independently-computed weights; the
// remaining twelve are fixed mirrors of these (see mirror).
type assignment struct {
	Wgg, Wgd, Wmg, Wme, Wmd, Wee, Wed float64
}

func (a assignment) mirror() map[string]float64 {
	return map[string]float64{
		"Wgg": a.Wgg,
		"Wgd": a.Wgd,
		"Wmg": a.Wmg,
		"Wme": a.Wme,
		"Wmd": a.Wmd,
		"Wee": a.Wee,
		"Wed": a.Wed,
		"Wgm": a.Wgg,
		"Wem": a.Wee,
		"Weg": a.Wed,
		"Wmm": Scale,
		"Wbm": Scale,
		"Wdb": Scale,
		"Web": Scale,
		"Wgb": Scale,
		"Wmb": Scale,
		"Wbd": a.Wmd,
		"Wbe": a.Wme,
		"Wbg": a.Wmg,
	}
}

// Recompute runs the casework of the classic Tor directory-authority
// bandwidth-weight recipe and returns the 19 named weights.
func Recompute(sums ClassSums) (map[string]uint64, error) {
	G, M, E, D := math.Max(sums.G, 1), math.Max(sums.M, 1), math.Max(sums.E, 1), math.Max(sums.D, 1)
	T := G + M + E + D

	a, err := solve(G, M, E, D, T)
	if err != nil {
		return nil, err
	}

	// Case 3a hands all of D to the scarce side, so the Guard/Exit
	// balance cannot hold there and is not checked.
	case3a := (3*E < T) != (3*G < T) && 3*(math.Min(E, G)+D) < T
	if err := validate(a, G, M, E, D, T, !case3a); err != nil {
		return nil, err
	}

	out := make(map[string]uint64, 19)
	for k, v := range a.mirror() {
		out[k] = roundWeight(v)
	}
	return out, nil
}

func roundWeight(v float64) uint64 {
	if v < 0 {
		v = 0
	}
	if v > Scale {
		v = Scale
	}
	return uint64(math.Round(v))
}

func solve(G, M, E, D, T float64) (assignment, error) {
	switch {
	case 3*E >= T && 3*G >= T:
		return caseBalanced(G, M, E, D), nil

	case 3*E < T && 3*G < T:
		return caseBothScarce(G, M, E, D)

	default:
		return caseOneScarce(G, M, E, D, T), nil
	}
}

// caseBalanced: 3E≥T ∧ 3G≥T. Spread D evenly across Wgd/Wmd/Wed.
func caseBalanced(G, M, E, D float64) assignment {
	third := Scale / 3
	wee := Scale * (E + G + M) / (3 * E)
	wmg := Scale * (2*G - E - M) / (3 * G)
	return assignment{
		Wgg: Scale - wmg,
		Wgd: third,
		Wmg: wmg,
		Wme: Scale - wee,
		Wmd: third,
		Wee: wee,
		Wed: third,
	}
}

// caseBothScarce: 3E<T ∧ 3G<T.
func caseBothScarce(G, M, E, D float64) (assignment, error) {
	R, S := math.Min(E, G), math.Max(E, G)
	eScarcer := E <= G

	if R+D < S {
		// Case 2a: hand all of D to the scarcer side.
		a := assignment{Wgg: Scale, Wee: Scale, Wmg: 0, Wme: 0}
		if eScarcer {
			a.Wed, a.Wgd, a.Wmd = Scale, 0, 0
		} else {
			a.Wed, a.Wgd, a.Wmd = 0, Scale, 0
		}
		return a, nil
	}

	// Case 2b, variant A.
	a := caseBothScarceVariantA(G, M, E, D)
	if err := validate(a, G, M, E, D, G+M+E+D, true); err == nil {
		return a, nil
	}
	// Fallback, variant B.
	return caseBothScarceVariantB(G, M, E, D), nil
}

func caseBothScarceVariantA(G, M, E, D float64) assignment {
	wee := Scale * (E - G + M) / E
	wed := Scale * (D - 2*E + 4*G - 2*M) / (3 * D)
	wme := Scale * (G - M) / E
	wgd := (Scale - wed) / 2
	return assignment{
		Wgg: Scale,
		Wgd: wgd,
		Wmg: 0,
		Wme: wme,
		Wmd: wgd,
		Wee: wee,
		Wed: wed,
	}
}

func caseBothScarceVariantB(G, M, E, D float64) assignment {
	wed := Scale * (D - 2*E + G + M) / (3 * D)
	wmd := Scale * (D - 2*M + G + E) / (3 * D)
	if wmd < 0 {
		wmd = 0
	}
	wgd := Scale - wed - wmd
	return assignment{
		Wgg: Scale,
		Wgd: wgd,
		Wmg: 0,
		Wme: 0,
		Wmd: wmd,
		Wee: Scale,
		Wed: wed,
	}
}

// caseOneScarce: exactly one of E, G is below T/3.
func caseOneScarce(G, M, E, D, T float64) assignment {
	S := math.Min(E, G)
	gScarce := G <= E

	if 3*(S+D) < T {
		// Case 3a: hand all of D to the scarce side, split middle off
		// the other.
		if gScarce {
			wme := Scale * (E - M) / (2 * E)
			if wme < 0 {
				wme = 0
			}
			return assignment{
				Wgg: Scale, Wgd: Scale, Wmg: 0,
				Wme: wme, Wmd: 0,
				Wee: Scale - wme, Wed: 0,
			}
		}
		wmg := Scale * (G - M) / (2 * G)
		if wmg < 0 {
			wmg = 0
		}
		return assignment{
			Wgg: Scale - wmg, Wgd: 0, Wmg: wmg,
			Wme: 0, Wmd: 0,
			Wee: Scale, Wed: Scale,
		}
	}

	// Case 3b: hand most of D to the scarce side, split the rest evenly
	// across the other two positions; derive the non-scarce side's
	// weight from the Guard/Exit balance equation.
	if gScarce {
		wgd := Scale * (D - 2*G + E + M) / (3 * D)
		wed := (Scale - wgd) / 2
		wmd := wed
		wee := (Scale*G + wgd*D - wed*D) / E
		if wee < 0 {
			wee = 0
		}
		if wee > Scale {
			wee = Scale
		}
		return assignment{
			Wgg: Scale, Wgd: wgd, Wmg: 0,
			Wme: Scale - wee, Wmd: wmd,
			Wee: wee, Wed: wed,
		}
	}

	wed := Scale * (D - 2*E + G + M) / (3 * D)
	wgd := (Scale - wed) / 2
	wmd := wgd
	wgg := (Scale*E + wed*D - wgd*D) / G
	if wgg < 0 {
		wgg = 0
	}
	if wgg > Scale {
		wgg = Scale
	}
	return assignment{
		Wgg: wgg, Wgd: wgd, Wmg: Scale - wgg,
		Wme: 0, Wmd: wmd,
		Wee: Scale, Wed: wed,
	}
}

const sumTolerance = 10.0

func validate(a assignment, G, M, E, D, T float64, checkBalance bool) error {
	if math.Abs(a.Wed+a.Wmd+a.Wgd-Scale) > sumTolerance {
		return &ValidationError{Reason: "Wed+Wmd+Wgd != scale"}
	}
	if math.Abs(a.Wmg+a.Wgg-Scale) > sumTolerance {
		return &ValidationError{Reason: "Wmg+Wgg != scale"}
	}
	if math.Abs(a.Wme+a.Wee-Scale) > sumTolerance {
		return &ValidationError{Reason: "Wme+Wee != scale"}
	}
	for name, w := range a.mirror() {
		if w < -sumTolerance || w > Scale+sumTolerance {
			return &ValidationError{Reason: fmt.Sprintf("%s out of range: %f", name, w)}
		}
	}

	if checkBalance {
		margin := T / 3 * 0.05
		guardExit := a.Wgg*G + a.Wgd*D
		exitGuard := a.Wee*E + a.Wed*D
		if math.Abs(guardExit-exitGuard) > margin {
			return &ValidationError{Reason: "guard/exit balance violated"}
		}
	}

	// Middle balance deviation alone is tolerated; not checked here.
	return nil
}
