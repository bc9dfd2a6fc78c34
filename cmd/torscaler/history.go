package main

import (
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/cvsouth/torscaler/tordoc"
)

// historyWindowStart/End bound the consensuses a history run retains,
// a fixed ten-year slice matching the original tool's hard-coded range.
var (
	historyWindowStart = time.Date(2013, 2, 1, 0, 0, 0, 0, time.UTC)
	historyWindowEnd   = time.Date(2023, 2, 1, 0, 0, 0, 0, time.UTC)
)

func runHistory(args []string, logger *slog.Logger) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	csvOut := fs.String("csv-out", "", "output CSV file to store the per-consensus aggregate data (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return errors.New("history: a consensus directory argument is required")
	}
	if *csvOut == "" {
		return errors.New("history: --csv-out is required")
	}
	consensusDir := fs.Arg(0)

	pattern := filepath.Join(consensusDir, "consensuses-*-*", "*", "*-consensus")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return fmt.Errorf("history: globbing consensus files: %w", err)
	}
	if len(matches) == 0 {
		return fmt.Errorf("history: no consensus files found under %s", consensusDir)
	}

	entries := dateFilteredEntries(matches, logger)
	sort.Slice(entries, func(i, j int) bool { return entries[i].validAfter.Before(entries[j].validAfter) })

	out, err := os.Create(*csvOut)
	if err != nil {
		return err
	}
	defer out.Close()

	w := csv.NewWriter(out)
	defer w.Flush()
	if err := w.Write([]string{"valid_after_unix", "num_relays", "avg_bandwidth"}); err != nil {
		return err
	}

	for i, e := range entries {
		if i%24 == 0 {
			fmt.Printf("%7d: %s\n", i, e.path)
		}
		record, err := historyRecordFor(e.path)
		if err != nil {
			return fmt.Errorf("history: %s: %w", e.path, err)
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	return w.Error()
}

type historyEntry struct {
	validAfter time.Time
	path       string
}

// dateFilteredEntries parses each filename's embedded timestamp
// (YYYY-MM-DD-HH-MM-SS-consensus) and keeps only the ones inside the
// retained window, warning about (not failing on) unparseable names.
func dateFilteredEntries(matches []string, logger *slog.Logger) []historyEntry {
	var entries []historyEntry
	for _, m := range matches {
		name := filepath.Base(m)
		if len(name) < 19 {
			logger.Warn("skipping consensus file with unexpected name", "path", m)
			continue
		}
		t, err := time.Parse("2006-01-02-15-04-05", name[:19])
		if err != nil {
			logger.Warn("skipping consensus file with unparseable timestamp", "path", m, "error", err)
			continue
		}
		if t.Before(historyWindowStart) || !t.Before(historyWindowEnd) {
			continue
		}
		entries = append(entries, historyEntry{validAfter: t, path: m})
	}
	return entries
}

func historyRecordFor(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	doc, err := tordoc.ParseConsensus(string(raw))
	if err != nil {
		return nil, err
	}
	var totalBandwidth uint64
	for _, r := range doc.Relays {
		totalBandwidth += r.BandwidthWeight
	}
	avg := float64(totalBandwidth) / float64(len(doc.Relays))
	return []string{
		strconv.FormatInt(doc.ValidAfter.Unix(), 10),
		strconv.Itoa(len(doc.Relays)),
		strconv.FormatFloat(avg, 'f', -1, 64),
	}, nil
}
