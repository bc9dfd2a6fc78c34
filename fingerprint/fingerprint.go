// Package fingerprint implements the fixed-length relay identity blob
// used throughout a Tor directory document: a 20-byte SHA-1 digest,
// renderable and parseable as hex, space-separated hex blocks, or
// unpadded base64.
package fingerprint

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// Size is the length in bytes of a fingerprint (SHA-1 digest size).
const Size = 20

// Fingerprint is an opaque, fixed-length relay identity. Equality and
// hashing are over the raw bytes, which makes it usable directly as a
// map key.
type Fingerprint [Size]byte

// EncodingError reports that a string could not be parsed in the
// requested encoding.
type EncodingError struct {
	Encoding string // "raw", "hex" or "base64"
	Input    string
	Err      error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("fingerprint: invalid %s %q: %v", e.Encoding, e.Input, e.Err)
}

func (e *EncodingError) Unwrap() error { return e.Err }

// FromBytes builds a Fingerprint from a raw digest. It fails if the
// slice isn't exactly Size bytes long.
func FromBytes(b []byte) (Fingerprint, error) {
	var fp Fingerprint
	if len(b) != Size {
		return fp, &EncodingError{
			Encoding: "raw",
			Input:    fmt.Sprintf("%d bytes", len(b)),
			Err:      fmt.Errorf("want %d bytes", Size),
		}
	}
	copy(fp[:], b)
	return fp, nil
}

// FromHex parses a fingerprint from lower- or upper-case hex, with or
// without the space-separated 4-hex-digit blocking that Tor's
// "fingerprint" descriptor line uses.
func FromHex(s string) (Fingerprint, error) {
	stripped := strings.ReplaceAll(s, " ", "")
	b, err := hex.DecodeString(stripped)
	if err != nil {
		var fp Fingerprint
		return fp, &EncodingError{Encoding: "hex", Input: s, Err: err}
	}
	fp, err := FromBytes(b)
	if err != nil {
		return fp, &EncodingError{Encoding: "hex", Input: s, Err: err}
	}
	return fp, nil
}

// FromB64 parses a fingerprint from unpadded base64, as used in
// consensus "r" lines.
func FromB64(s string) (Fingerprint, error) {
	b, err := base64.RawStdEncoding.DecodeString(s)
	if err != nil {
		var fp Fingerprint
		return fp, &EncodingError{Encoding: "base64", Input: s, Err: err}
	}
	fp, err := FromBytes(b)
	if err != nil {
		return fp, &EncodingError{Encoding: "base64", Input: s, Err: err}
	}
	return fp, nil
}

// String renders the fingerprint as lower-case hex.
func (fp Fingerprint) String() string {
	return hex.EncodeToString(fp[:])
}

// HexBlocks renders the fingerprint as upper-case hex in
// space-separated 2-byte (4-hex-digit) groups, as used in server
// descriptor "fingerprint" lines.
func (fp Fingerprint) HexBlocks() string {
	full := strings.ToUpper(hex.EncodeToString(fp[:]))
	var b strings.Builder
	for i := 0; i < len(full); i += 4 {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(full[i : i+4])
	}
	return b.String()
}

// Base64 renders the fingerprint as unpadded base64.
func (fp Fingerprint) Base64() string {
	return base64.RawStdEncoding.EncodeToString(fp[:])
}

// DigestRange extracts the raw byte range of text starting at the first
// occurrence of from and ending at (and including) the end of the first
// occurrence of to found after that point. It reports ok=false if
// either delimiter is missing.
func DigestRange(text, from, to string) (string, bool) {
	fromIdx := strings.Index(text, from)
	if fromIdx < 0 {
		return "", false
	}
	rest := text[fromIdx:]
	toIdx := strings.Index(rest, to)
	if toIdx < 0 {
		return "", false
	}
	end := toIdx + len(to)
	return rest[:end], true
}
