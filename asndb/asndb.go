// Package asndb loads an IP-range-to-autonomous-system database from a
// GeoLite2-style CSV file and answers longest-prefix-match lookups
// against it, plus sampling of addresses inside or outside the known
// ranges.
package asndb

import (
	"encoding/csv"
	"fmt"
	"io"
	"net/netip"
	"os"
	"strconv"

	"github.com/gaissmai/bart"

	"github.com/cvsouth/torscaler/rng"
)

// MissingColumnError reports a CSV record with fewer than 3 columns.
type MissingColumnError struct {
	Line   int
	Column int
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("asndb: line %d: missing column %d", e.Line, e.Column)
}

// InvalidRangeError reports a malformed "ip/masklen" first column.
type InvalidRangeError struct {
	Line  int
	Value string
	Err   error
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("asndb: line %d: invalid IP range %q: %v", e.Line, e.Value, e.Err)
}
func (e *InvalidRangeError) Unwrap() error { return e.Err }

// InvalidASNumberError reports a malformed second column.
type InvalidASNumberError struct {
	Line  int
	Value string
	Err   error
}

func (e *InvalidASNumberError) Error() string {
	return fmt.Sprintf("asndb: line %d: invalid AS number %q: %v", e.Line, e.Value, e.Err)
}
func (e *InvalidASNumberError) Unwrap() error { return e.Err }

// AmbiguousASNameError reports two records for the same AS number that
// disagree on the AS name.
type AmbiguousASNameError struct {
	Number   uint32
	Old, New string
}

func (e *AmbiguousASNameError) Error() string {
	return fmt.Sprintf("asndb: AS %d has conflicting names %q and %q", e.Number, e.Old, e.New)
}

// IPRange is one CIDR block attributed to an AS.
type IPRange struct {
	Addr    netip.Addr
	MaskLen int
}

// Size reports how many addresses fall inside the range.
func (r IPRange) Size() uint64 {
	return uint64(1) << (32 - r.MaskLen)
}

// SampleIP draws a uniformly random address from inside the range.
func (r IPRange) SampleIP() netip.Addr {
	size := r.Size()
	var offset uint64
	if size > 1 {
		offset = uint64(rng.Rand().Int63n(int64(size)))
	}
	base := r.Addr.As4()
	baseInt := uint32(base[0])<<24 | uint32(base[1])<<16 | uint32(base[2])<<8 | uint32(base[3])
	sum := baseInt + uint32(offset)
	return netip.AddrFrom4([4]byte{byte(sum >> 24), byte(sum >> 16), byte(sum >> 8), byte(sum)})
}

// AS is one autonomous system: a name, number, and the set of IP ranges
// attributed to it in the loaded database.
type AS struct {
	Number uint32
	Name   string
	Ranges []IPRange
}

// SampleIP draws an address from one of the AS's ranges, chosen with
// probability proportional to range size, then a uniform address inside
// that range. Panics if the AS has no attached ranges, which can only
// happen as a result of a programming error in Open.
func (a *AS) SampleIP() netip.Addr {
	if len(a.Ranges) == 0 {
		panic(fmt.Sprintf("asndb: AS %d (%s) has no IP range attached", a.Number, a.Name))
	}
	weights := make([]float64, len(a.Ranges))
	for i, r := range a.Ranges {
		weights[i] = float64(r.Size())
	}
	idx, err := rng.WeightedSample(weights)
	if err != nil {
		panic(err)
	}
	return a.Ranges[idx].SampleIP()
}

// AsDb is a loaded IP-to-AS database: a longest-prefix-match trie over
// IPv4 ranges, plus the set of distinct AS objects those ranges
// reference.
type AsDb struct {
	trie     *bart.Table[uint32]
	byNumber map[uint32]*AS
}

// Open reads a 3-column CSV file (CIDR, AS number, AS name; header row
// skipped) and builds a database from it.
func Open(path string) (*AsDb, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("asndb: %w", err)
	}
	defer f.Close()
	return load(f)
}

func load(r io.Reader) (*AsDb, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	db := &AsDb{
		trie:     new(bart.Table[uint32]),
		byNumber: make(map[uint32]*AS),
	}

	line := 0
	first := true
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("asndb: %w", err)
		}
		line++
		if first {
			first = false
			continue
		}

		if len(record) < 1 {
			return nil, &MissingColumnError{Line: line, Column: 0}
		}
		prefix, err := netip.ParsePrefix(record[0])
		if err != nil {
			return nil, &InvalidRangeError{Line: line, Value: record[0], Err: err}
		}
		addr := prefix.Addr()
		if !addr.Is4() {
			return nil, &InvalidRangeError{Line: line, Value: record[0], Err: fmt.Errorf("only IPv4 is supported")}
		}

		if len(record) < 2 {
			return nil, &MissingColumnError{Line: line, Column: 1}
		}
		asNum64, err := strconv.ParseUint(record[1], 10, 32)
		if err != nil {
			return nil, &InvalidASNumberError{Line: line, Value: record[1], Err: err}
		}
		asNum := uint32(asNum64)

		if len(record) < 3 {
			return nil, &MissingColumnError{Line: line, Column: 2}
		}
		asName := record[2]

		ipRange := IPRange{Addr: addr, MaskLen: prefix.Bits()}

		db.trie.Insert(prefix, asNum)

		if existing, ok := db.byNumber[asNum]; ok {
			if existing.Name != asName {
				return nil, &AmbiguousASNameError{Number: asNum, Old: existing.Name, New: asName}
			}
			existing.Ranges = append(existing.Ranges, ipRange)
		} else {
			db.byNumber[asNum] = &AS{
				Number: asNum,
				Name:   asName,
				Ranges: []IPRange{ipRange},
			}
		}
	}

	return db, nil
}

// Lookup finds the AS owning the longest matching prefix for ip, if
// any.
func (db *AsDb) Lookup(ip netip.Addr) (*AS, bool) {
	asNum, ok := db.trie.Lookup(ip)
	if !ok {
		return nil, false
	}
	as, ok := db.byNumber[asNum]
	return as, ok
}

// SampleUnknownIP draws a uniformly random IPv4 address that does not
// fall inside any known AS range, by rejection sampling.
func (db *AsDb) SampleUnknownIP() netip.Addr {
	const maxAttempts = 1_000_000
	for i := 0; i < maxAttempts; i++ {
		var b [4]byte
		v := uint32(rng.Rand().Int63n(1 << 32))
		b[0], b[1], b[2], b[3] = byte(v>>24), byte(v>>16), byte(v>>8), byte(v)
		addr := netip.AddrFrom4(b)
		if _, ok := db.trie.Lookup(addr); !ok {
			return addr
		}
	}
	panic("asndb: SampleUnknownIP: could not find an unassigned address")
}

// Count reports the number of distinct AS objects loaded.
func (db *AsDb) Count() int {
	return len(db.byNumber)
}
