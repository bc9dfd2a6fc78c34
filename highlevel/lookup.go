package highlevel

import (
	"fmt"
	"net/netip"
	"os"
	"path/filepath"

	"github.com/cvsouth/torscaler/fingerprint"
)

// parseIPv4 parses a dotted-quad address, rejecting IPv6.
func parseIPv4(s string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, err
	}
	if !addr.Is4() {
		return netip.Addr{}, fmt.Errorf("highlevel: %q is not an IPv4 address", s)
	}
	return addr, nil
}

// LookupDescriptors resolves the server-descriptor files for every
// relay named in a consensus found on disk next to it, following the
// CollecTor on-disk layout: a consensus at
// .../consensuses-YYYY-MM/DD/YYYY-MM-DD-HH-MM-SS-consensus has its
// descriptors in the sibling .../server-descriptors-YYYY-MM/<aa>/<bb>/<digest>,
// where aa/bb are the first two hex-byte pairs of the relay's digest.
// Descriptors dated in the previous month are also searched, since a
// relay published just before a month boundary can appear in the
// following month's consensus.
func LookupDescriptors(consensusPath string, digests []fingerprint.Fingerprint) (map[fingerprint.Fingerprint]string, error) {
	consensusesDir := filepath.Dir(filepath.Dir(consensusPath)) // .../consensuses-YYYY-MM/DD -> .../consensuses-YYYY-MM
	parent := filepath.Dir(consensusesDir)                     // the directory holding consensuses-YYYY-MM

	base := filepath.Base(consensusesDir)
	const prefix = "consensuses-"
	if len(base) < len(prefix)+7 || base[:len(prefix)] != prefix {
		return nil, &InvalidFolderStructureError{ConsensusPath: consensusPath}
	}
	yearMonth := base[len(prefix):] // "YYYY-MM"

	candidates := []string{
		filepath.Join(parent, "server-descriptors-"+yearMonth),
		filepath.Join(parent, "server-descriptors-"+previousMonth(yearMonth)),
	}

	var existing []string
	for _, dir := range candidates {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			existing = append(existing, dir)
		}
	}
	if len(existing) == 0 {
		return nil, &InvalidFolderStructureError{ConsensusPath: consensusPath}
	}

	result := make(map[fingerprint.Fingerprint]string, len(digests))
	for _, digest := range digests {
		hexDigest := digest.String()
		if len(hexDigest) < 4 {
			return nil, &MissingDescriptorError{Digest: hexDigest}
		}
		found := false
		for _, dir := range existing {
			path := filepath.Join(dir, hexDigest[0:2], hexDigest[2:4], hexDigest)
			if info, err := os.Stat(path); err == nil && !info.IsDir() {
				result[digest] = path
				found = true
				break
			}
		}
		if !found {
			return nil, &MissingDescriptorError{Digest: hexDigest}
		}
	}
	return result, nil
}

// previousMonth computes the "YYYY-MM" string one month before ym.
func previousMonth(ym string) string {
	var year, month int
	if _, err := fmt.Sscanf(ym, "%04d-%02d", &year, &month); err != nil {
		return ym
	}
	month--
	if month < 1 {
		month = 12
		year--
	}
	return fmt.Sprintf("%04d-%02d", year, month)
}
