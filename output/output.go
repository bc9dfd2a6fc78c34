// Package output serialises a joined highlevel.Consensus back to Tor's
// directory wire format (a consensus document plus one server
// descriptor per relay), and additionally to a flat JSON summary.
package output

import (
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cvsouth/torscaler/fingerprint"
	"github.com/cvsouth/torscaler/highlevel"
	"github.com/cvsouth/torscaler/tordoc"
)

const timeLayout = "2006-01-02 15:04:05"

// maxBandwidthField caps a descriptor's bandwidth fields at the same
// value the directory protocol itself uses (just under 2^31), since
// relay.bandwidth_weight can grow past that after horizontal/vertical
// scaling.
const maxBandwidthField = 2_147_483_500

// SaveToDir writes consensus to dir as a "consensus/consensus" file, a
// "consensus/consensus.json" summary, and one server descriptor per
// relay under "descriptors/". dir must already exist and be empty.
func SaveToDir(consensus *highlevel.Consensus, dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("output: stat destination: %w", err)
	}
	if !info.IsDir() {
		return ErrNotADir
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("output: read destination: %w", err)
	}
	if len(entries) > 0 {
		return ErrDirNotEmpty
	}

	consensusDirPath := filepath.Join(dir, "consensus")
	if err := os.Mkdir(consensusDirPath, 0o755); err != nil {
		return err
	}
	descriptorsDirPath := filepath.Join(dir, "descriptors")
	if err := os.Mkdir(descriptorsDirPath, 0o755); err != nil {
		return err
	}

	// The one-hour backward shift of the consensus date's midnight is
	// preserved bit-exactly from the upstream emitter; its origin is
	// undocumented but compatibility depends on it.
	day := consensus.ValidAfter.Truncate(24 * time.Hour)
	shifted := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, consensus.ValidAfter.Location()).Add(-time.Hour)
	shiftedText := shifted.Format(timeLayout)

	f, err := os.Create(filepath.Join(consensusDirPath, "consensus"))
	if err != nil {
		return err
	}
	defer f.Close()

	fmt.Fprintln(f, "@type network-status-consensus-3 1.0")
	fmt.Fprintln(f, "network-status-version 3")
	fmt.Fprintln(f, "vote-status consensus")
	fmt.Fprintln(f, "consensus-method 31")
	fmt.Fprintf(f, "valid-after %s\n", shiftedText)
	fmt.Fprintf(f, "known-flags %s\n", tordoc.KnownFlagsString())

	jsonRelays := make([]relaySummary, 0, len(consensus.Order))

	for _, fp := range consensus.Order {
		relay := consensus.Relays[fp]

		desc, digest := buildDescriptor(relay, shiftedText)
		if err := os.WriteFile(filepath.Join(descriptorsDirPath, digest.String()), []byte(desc), 0o644); err != nil {
			return err
		}

		fmt.Fprintf(f, "r %s %s %s %s %s %d %d\n",
			relay.Nickname, relay.Fingerprint.Base64(), digest.Base64(), shiftedText, relay.Address, 9001, 0)
		fmt.Fprintf(f, "s %s\n", flagsLine(relay.Flags))
		fmt.Fprintln(f, "v Tor 0.4.6.10")
		fmt.Fprintf(f, "pr %s\n", protocolsLine(relay.Protocols))
		fmt.Fprintf(f, "w Bandwidth=%d\n", relay.BandwidthWeight)
		fmt.Fprintf(f, "p %s\n", relay.ExitPolicy.String())

		jsonRelays = append(jsonRelays, relaySummary{
			Nickname:    relay.Nickname,
			Fingerprint: relay.Fingerprint.String(),
			Weight:      relay.BandwidthWeight,
			IsGuard:     relay.IsGuard(),
			IsExit:      relay.IsExit(),
			ASN:         asNumber(relay),
		})
	}

	fmt.Fprintln(f, "directory-footer")
	fmt.Fprintf(f, "bandwidth-weights %s\n", weightsLine(consensus.Weights))

	jsonBytes, err := json.MarshalIndent(jsonRelays, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(consensusDirPath, "consensus.json"), jsonBytes, 0o644)
}

// relaySummary is one entry of consensus.json.
type relaySummary struct {
	Nickname    string  `json:"nickname"`
	Fingerprint string  `json:"fingerprint"`
	Weight      uint64  `json:"weight"`
	IsGuard     bool    `json:"is_guard"`
	IsExit      bool    `json:"is_exit"`
	ASN         *uint32 `json:"asn"`
}

func asNumber(r *highlevel.Relay) *uint32 {
	if r.AS == nil {
		return nil
	}
	n := r.AS.Number
	return &n
}

// buildDescriptor renders relay's server-descriptor body and returns it
// alongside its digest (SHA-1 over the "router"..."\nrouter-signature\n"
// range, matching how tordoc.ParseDescriptor recomputes it).
func buildDescriptor(relay *highlevel.Relay, publishedText string) (string, fingerprint.Fingerprint) {
	var b strings.Builder

	fmt.Fprintln(&b, "@type server-descriptor 1.0")
	fmt.Fprintf(&b, "router %s %s %d %d %d\n", relay.Nickname, relay.Address, 9001, 0, 0)
	fmt.Fprintf(&b, "published %s\n", publishedText)
	fmt.Fprintf(&b, "fingerprint %s\n", relay.Fingerprint.HexBlocks())
	fmt.Fprintf(&b, "bandwidth %d %d %d\n",
		bandwidthField(relay.BandwidthWeight, relay.BandwidthAvgRatio),
		bandwidthField(relay.BandwidthWeight, relay.BandwidthBurstRatio),
		bandwidthField(relay.BandwidthWeight, relay.BandwidthObservedRatio))
	if relay.Family != nil {
		fmt.Fprintf(&b, "family %s\n", familyLine(relay.Family.Members))
	}
	for _, line := range exitPolicyLines(relay.ExitPolicy) {
		fmt.Fprintln(&b, line)
	}
	fmt.Fprintln(&b, "router-signature")
	fmt.Fprintln(&b, "-----BEGIN SIGNATURE-----")
	fmt.Fprintln(&b, "AAAA")
	fmt.Fprintln(&b, "-----END SIGNATURE-----")

	body := b.String()
	digestRange, ok := fingerprint.DigestRange(body, "router", "\nrouter-signature\n")
	if !ok {
		panic("output: generated descriptor body is missing its own digest range")
	}
	sum := sha1.Sum([]byte(digestRange))
	digest, err := fingerprint.FromBytes(sum[:])
	if err != nil {
		panic(err)
	}
	return body, digest
}

func bandwidthField(weight uint64, ratio float64) uint64 {
	v := float64(weight) * ratio
	if v < 0 {
		return 0
	}
	if v > maxBandwidthField {
		return maxBandwidthField
	}
	return uint64(v)
}

func familyLine(members []fingerprint.Fingerprint) string {
	parts := make([]string, len(members))
	for i, fp := range members {
		parts[i] = "$" + fp.String()
	}
	return strings.Join(parts, " ")
}

// exitPolicyLines expands a condensed exit policy into full descriptor
// lines: one "accept *:<port>" per accept entry followed by a closing
// "reject *:*", or a single "reject *:*" for a reject-type policy.
func exitPolicyLines(policy tordoc.CondensedExitPolicy) []string {
	if policy.Type == tordoc.PolicyReject {
		return []string{"reject *:*"}
	}
	lines := make([]string, 0, len(policy.Entries)+1)
	for _, e := range policy.Entries {
		if e.Min == e.Max {
			lines = append(lines, fmt.Sprintf("accept *:%d", e.Min))
		} else {
			lines = append(lines, fmt.Sprintf("accept *:%d-%d", e.Min, e.Max))
		}
	}
	lines = append(lines, "reject *:*")
	return lines
}

func flagsLine(flags []tordoc.Flag) string {
	parts := make([]string, len(flags))
	for i, f := range flags {
		parts[i] = string(f)
	}
	return strings.Join(parts, " ")
}

// protocolsLine renders a relay's protocol map back to "pr" line form,
// "Protocol=Versions" pairs sorted by protocol name for determinism —
// this matches tordoc.ParseConsensus's own parsePrLine, keeping the
// parse/emit round trip self-consistent.
func protocolsLine(protocols map[tordoc.Protocol]tordoc.SupportedProtocolVersion) string {
	names := make([]string, 0, len(protocols))
	for p := range protocols {
		names = append(names, string(p))
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s=%s", name, protocols[tordoc.Protocol(name)].String())
	}
	return strings.Join(parts, " ")
}

func weightsLine(weights map[string]uint64) string {
	keys := make([]string, 0, len(weights))
	for k := range weights {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%d", k, weights[k])
	}
	return strings.Join(parts, " ")
}
