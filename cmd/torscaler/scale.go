package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/cvsouth/torscaler/asndb"
	"github.com/cvsouth/torscaler/fingerprint"
	"github.com/cvsouth/torscaler/highlevel"
	"github.com/cvsouth/torscaler/output"
	"github.com/cvsouth/torscaler/rng"
	"github.com/cvsouth/torscaler/scale"
	"github.com/cvsouth/torscaler/tordoc"
)

func runScale(args []string, logger *slog.Logger) error {
	fs := flag.NewFlagSet("scale", flag.ContinueOnError)
	seed := fs.Uint64("seed", 0, "seed for the random number generator (0 = generate and print one)")
	consensusPath := fs.String("consensus", "", "input consensus file (required)")
	descriptorsPath := fs.String("descriptors", "", "descriptor bundle file; if omitted, descriptors are looked up relative to --consensus")
	asnDBPath := fs.String("asn-db", "", "AS IP-range CSV database (required)")
	verifyWeights := fs.Bool("verify-weights", false, "verify the consensus bandwidth weights before scaling")
	outputDir := fs.String("output-dir", "", "directory to save the resulting consensus to")
	horz := fs.Float64("horz", 0, "scale the consensus horizontally by this factor")
	horzExitFactor := fs.Float64("horz-exit-factor", 0, "growth factor applied to exits during horizontal scaling")
	horzGuardFactor := fs.Float64("horz-guard-factor", 0, "growth factor applied to guards during horizontal scaling")
	probFamilyNew := fs.Float64("prob-family-new", 0, "probability that a new relay forms a new family rather than joining an existing one")
	scaleVertQuantiles := fs.String("scale-vert-by-bw-quantiles", "", "comma-separated per-quantile vertical scale factors")
	scaleVertCutoffLower := fs.Float64("scale-vert-cutoff-lower", 0, "drop this lower fraction of relays by bandwidth before vertical-by-quantile scaling")
	vertMiddleScale := fs.Float64("vert-middle-scale", 0, "scale factor applied to middle relays' bandwidth")
	vertExitScale := fs.Float64("vert-exit-scale", 0, "scale factor applied to exit relays' bandwidth")
	vertGuardScale := fs.Float64("vert-guard-scale", 0, "scale factor applied to guard relays' bandwidth")
	removeIdleRelays := fs.Bool("remove-idle-relays", false, "remove relays with zero observed bandwidth before scaling")
	if err := fs.Parse(args); err != nil {
		return err
	}

	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if *consensusPath == "" {
		return errors.New("scale: --consensus is required")
	}
	if *asnDBPath == "" {
		return errors.New("scale: --asn-db is required")
	}
	if set["horz"] && !set["prob-family-new"] {
		return errors.New("scale: --horz requires --prob-family-new")
	}
	if (set["horz-exit-factor"] || set["horz-guard-factor"]) && !set["horz"] {
		return errors.New("scale: --horz-exit-factor/--horz-guard-factor require --horz")
	}
	if set["scale-vert-cutoff-lower"] && !set["scale-vert-by-bw-quantiles"] {
		return errors.New("scale: --scale-vert-cutoff-lower requires --scale-vert-by-bw-quantiles")
	}
	vertFlagSet := set["vert-middle-scale"] || set["vert-exit-scale"] || set["vert-guard-scale"]
	if vertFlagSet && set["scale-vert-by-bw-quantiles"] {
		return errors.New("scale: --vert-*-scale flags conflict with --scale-vert-by-bw-quantiles")
	}

	actualSeed := *seed
	if actualSeed == 0 {
		actualSeed = rng.GenerateSeed()
		fmt.Printf("No seed was given. Call with --seed %d to reproduce this run.\n", actualSeed)
	}
	rng.SetSeed(actualSeed)

	asDB, err := asndb.Open(*asnDBPath)
	if err != nil {
		return fmt.Errorf("loading AS database: %w", err)
	}

	consensusText, err := os.ReadFile(*consensusPath)
	if err != nil {
		return fmt.Errorf("reading consensus: %w", err)
	}
	doc, err := tordoc.ParseConsensus(string(consensusText))
	if err != nil {
		return fmt.Errorf("parsing consensus: %w", err)
	}

	descriptors, err := loadDescriptors(doc, *consensusPath, *descriptorsPath)
	if err != nil {
		return fmt.Errorf("loading descriptors: %w", err)
	}

	consensus, err := highlevel.CombineDocuments(doc, descriptors, asDB)
	if err != nil {
		return fmt.Errorf("joining consensus and descriptors: %w", err)
	}

	if *removeIdleRelays {
		before := len(consensus.Order)
		if err := consensus.RemoveRelaysBy(func(r *highlevel.Relay) bool { return r.BWObservedWasZero }); err != nil {
			return fmt.Errorf("removing idle relays: %w", err)
		}
		fmt.Printf("Removed %d relays that have an observed bandwidth of zero...\n", before-len(consensus.Order))
	}

	if *verifyWeights {
		fmt.Println("verifying bw weights...")
		mismatch, ok, err := consensus.VerifyWeights()
		if err != nil {
			return fmt.Errorf("verifying weights: %w", err)
		}
		if ok {
			fmt.Println("bw weights match.")
		} else {
			fmt.Println("bw weights do not match:")
			fmt.Printf("  before: %v\n", mismatch.Old)
			fmt.Printf("  after:  %v\n", mismatch.New)
		}
	}

	if set["horz"] {
		opts := scale.HorizontalOptions{
			Scale:         *horz,
			ExitFactor:    *horzExitFactor,
			GuardFactor:   *horzGuardFactor,
			ProbFamilyNew: *probFamilyNew,
			Logger:        logger,
		}
		if err := scale.ScaleHorizontally(consensus, asDB, opts); err != nil {
			return fmt.Errorf("scaling horizontally: %w", err)
		}
		printStats(consensus)
	}

	switch {
	case set["scale-vert-by-bw-quantiles"]:
		if set["scale-vert-cutoff-lower"] {
			if err := scale.CutoffLowerAndRedistribute(consensus, *scaleVertCutoffLower); err != nil {
				return fmt.Errorf("cutting off low-bandwidth relays: %w", err)
			}
		}
		scales, err := parseFloatList(*scaleVertQuantiles)
		if err != nil {
			return fmt.Errorf("parsing --scale-vert-by-bw-quantiles: %w", err)
		}
		if err := scale.ScaleVerticallyByBandwidthRank(consensus, scales); err != nil {
			return fmt.Errorf("scaling vertically by rank: %w", err)
		}
		printStats(consensus)

	case vertFlagSet:
		middleScale, exitScale, guardScale := 1.0, 1.0, 1.0
		if set["vert-middle-scale"] {
			middleScale = *vertMiddleScale
		}
		if set["vert-exit-scale"] {
			exitScale = *vertExitScale
		}
		if set["vert-guard-scale"] {
			guardScale = *vertGuardScale
		}
		if err := scale.ScaleFlagGroupsVertically(consensus, middleScale, exitScale, guardScale); err != nil {
			return fmt.Errorf("scaling vertically by flag class: %w", err)
		}
		printStats(consensus)
	}

	if *outputDir != "" {
		if err := output.SaveToDir(consensus, *outputDir); err != nil {
			return fmt.Errorf("writing output: %w", err)
		}
	}

	return nil
}

// loadDescriptors reads descriptors either from a single bundle file or,
// if none was given, by locating them on disk relative to the consensus
// file via highlevel.LookupDescriptors.
func loadDescriptors(doc *tordoc.ConsensusDocument, consensusPath, descriptorsPath string) ([]tordoc.Descriptor, error) {
	if descriptorsPath != "" {
		raw, err := os.ReadFile(descriptorsPath)
		if err != nil {
			return nil, err
		}
		return tordoc.ParseDescriptors(string(raw))
	}

	digests := make([]fingerprint.Fingerprint, len(doc.Relays))
	for i, r := range doc.Relays {
		digests[i] = r.Digest
	}

	paths, err := highlevel.LookupDescriptors(consensusPath, digests)
	if err != nil {
		return nil, err
	}

	descriptors := make([]tordoc.Descriptor, 0, len(paths))
	for _, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		d, err := tordoc.ParseDescriptor(string(raw))
		if err != nil {
			return nil, err
		}
		descriptors = append(descriptors, *d)
	}
	return descriptors, nil
}

func parseFloatList(raw string) ([]float64, error) {
	fields := strings.Split(raw, ",")
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func printStats(c *highlevel.Consensus) {
	fmt.Printf("relays: %d, prob_family: %.4f, prob_family_same_as: %.4f\n",
		len(c.Order), c.ProbFamily, c.ProbFamilySameAS)
}
