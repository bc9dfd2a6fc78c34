package tordoc

import (
	"errors"
	"fmt"
)

var errInvalidArgumentDict = errors.New("expected a KEY=VALUE pair")

// UnexpectedKeywordError reports a line whose keyword cannot appear
// where it was found.
type UnexpectedKeywordError struct {
	Keyword string
}

func (e *UnexpectedKeywordError) Error() string {
	return fmt.Sprintf("tordoc: unexpected keyword %q", e.Keyword)
}

// ItemArgumentsMissingError reports a line that had fewer arguments
// than its keyword requires.
type ItemArgumentsMissingError struct {
	Keyword string
}

func (e *ItemArgumentsMissingError) Error() string {
	return fmt.Sprintf("tordoc: %q line is missing its arguments", e.Keyword)
}

// EncodingError wraps a failure to decode a base64/hex/int/date token
// embedded in a document line.
type EncodingError struct {
	Keyword string
	Value   string
	Err     error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("tordoc: %q: invalid value %q: %v", e.Keyword, e.Value, e.Err)
}
func (e *EncodingError) Unwrap() error { return e.Err }

// UnknownFlagError reports a relay flag not in the known set.
type UnknownFlagError struct {
	Flag string
}

func (e *UnknownFlagError) Error() string {
	return fmt.Sprintf("tordoc: unknown flag %q", e.Flag)
}

// UnknownProtocolError reports a sub-protocol name not in the known
// set.
type UnknownProtocolError struct {
	Protocol string
}

func (e *UnknownProtocolError) Error() string {
	return fmt.Sprintf("tordoc: unknown protocol %q", e.Protocol)
}

// InvalidProtocolVersionError reports a malformed version-range token
// on a "pr" line.
type InvalidProtocolVersionError struct {
	Raw string
	Err error
}

func (e *InvalidProtocolVersionError) Error() string {
	return fmt.Sprintf("tordoc: invalid protocol version range %q: %v", e.Raw, e.Err)
}
func (e *InvalidProtocolVersionError) Unwrap() error { return e.Err }

// MalformedExitPolicyError reports a "p" line that isn't "accept
// <ports>" or "reject <ports>".
type MalformedExitPolicyError struct {
	Raw string
}

func (e *MalformedExitPolicyError) Error() string {
	return fmt.Sprintf("tordoc: malformed exit policy %q", e.Raw)
}

// InvalidExitPolicyEntryError reports an unparseable port or port
// range within an exit policy.
type InvalidExitPolicyEntryError struct {
	Raw string
}

func (e *InvalidExitPolicyEntryError) Error() string {
	return fmt.Sprintf("tordoc: invalid exit policy entry %q", e.Raw)
}

// InvalidBandwidthWeightError reports a malformed "w" line.
type InvalidBandwidthWeightError struct {
	Raw string
}

func (e *InvalidBandwidthWeightError) Error() string {
	return fmt.Sprintf("tordoc: invalid bandwidth weight line %q", e.Raw)
}

// ValidAfterMissingError reports a consensus with no "valid-after"
// line.
type ValidAfterMissingError struct{}

func (e *ValidAfterMissingError) Error() string {
	return "tordoc: consensus is missing its valid-after line"
}

// ConsensusWeightsMissingError reports a consensus with no trailing
// "bandwidth-weights" line.
type ConsensusWeightsMissingError struct{}

func (e *ConsensusWeightsMissingError) Error() string {
	return "tordoc: consensus is missing its bandwidth-weights line"
}

// MalformedConsensusWeightsError reports a "bandwidth-weights" line
// whose entries don't parse as "KEY=VALUE" pairs.
type MalformedConsensusWeightsError struct {
	Raw string
}

func (e *MalformedConsensusWeightsError) Error() string {
	return fmt.Sprintf("tordoc: malformed bandwidth-weights line %q", e.Raw)
}

// MissingRouterLineError reports a descriptor with no "router" line.
type MissingRouterLineError struct{}

func (e *MissingRouterLineError) Error() string {
	return "tordoc: descriptor is missing its router line"
}

// MissingFingerprintLineError reports a descriptor with no
// "fingerprint" line.
type MissingFingerprintLineError struct{}

func (e *MissingFingerprintLineError) Error() string {
	return "tordoc: descriptor is missing its fingerprint line"
}

// MissingPublishedLineError reports a descriptor with no "published"
// line.
type MissingPublishedLineError struct{}

func (e *MissingPublishedLineError) Error() string {
	return "tordoc: descriptor is missing its published line"
}

// DigestRangeError reports that the SHA-1 digest range ("router" ...
// "\nrouter-signature\n") could not be located in a descriptor body.
type DigestRangeError struct{}

func (e *DigestRangeError) Error() string {
	return "tordoc: could not locate the router...router-signature digest range"
}
