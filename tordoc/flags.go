package tordoc

import "strings"

// Flag is a relay flag as assigned by the directory authorities in an
// "s" line.
type Flag string

const (
	FlagAuthority     Flag = "Authority"
	FlagBadExit       Flag = "BadExit"
	FlagExit          Flag = "Exit"
	FlagFast          Flag = "Fast"
	FlagGuard         Flag = "Guard"
	FlagHSDir         Flag = "HSDir"
	FlagNoEdConsensus Flag = "NoEdConsensus"
	FlagRunning       Flag = "Running"
	FlagStable        Flag = "Stable"
	FlagStaleDesc     Flag = "StaleDesc"
	FlagSybil         Flag = "Sybil"
	FlagV2Dir         Flag = "V2Dir"
	FlagValid         Flag = "Valid"
)

var knownFlags = map[string]Flag{
	string(FlagAuthority):     FlagAuthority,
	string(FlagBadExit):       FlagBadExit,
	string(FlagExit):          FlagExit,
	string(FlagFast):          FlagFast,
	string(FlagGuard):         FlagGuard,
	string(FlagHSDir):         FlagHSDir,
	string(FlagNoEdConsensus): FlagNoEdConsensus,
	string(FlagRunning):       FlagRunning,
	string(FlagStable):        FlagStable,
	string(FlagStaleDesc):     FlagStaleDesc,
	string(FlagSybil):         FlagSybil,
	string(FlagV2Dir):         FlagV2Dir,
	string(FlagValid):         FlagValid,
}

func parseFlag(s string) (Flag, error) {
	f, ok := knownFlags[s]
	if !ok {
		return "", &UnknownFlagError{Flag: s}
	}
	return f, nil
}

// knownFlagOrder lists every flag in the fixed order a consensus's
// "known-flags" line declares them.
var knownFlagOrder = []Flag{
	FlagAuthority, FlagBadExit, FlagExit, FlagFast, FlagGuard, FlagHSDir,
	FlagNoEdConsensus, FlagRunning, FlagStable, FlagStaleDesc, FlagSybil,
	FlagV2Dir, FlagValid,
}

// KnownFlagsString renders the full set of known flags as they appear
// in a consensus header's "known-flags" line.
func KnownFlagsString() string {
	names := make([]string, len(knownFlagOrder))
	for i, f := range knownFlagOrder {
		names[i] = string(f)
	}
	return strings.Join(names, " ")
}

// Protocol is a Tor sub-protocol name as listed in a "pr" line.
type Protocol string

const (
	ProtocolCons      Protocol = "Cons"
	ProtocolDesc      Protocol = "Desc"
	ProtocolDirCache  Protocol = "DirCache"
	ProtocolFlowCtrl  Protocol = "FlowCtrl"
	ProtocolHSDir     Protocol = "HSDir"
	ProtocolHSIntro   Protocol = "HSIntro"
	ProtocolHSRend    Protocol = "HSRend"
	ProtocolLink      Protocol = "Link"
	ProtocolLinkAuth  Protocol = "LinkAuth"
	ProtocolMicrodesc Protocol = "Microdesc"
	ProtocolPadding   Protocol = "Padding"
	ProtocolRelay     Protocol = "Relay"
)

var knownProtocols = map[string]Protocol{
	string(ProtocolCons):      ProtocolCons,
	string(ProtocolDesc):      ProtocolDesc,
	string(ProtocolDirCache):  ProtocolDirCache,
	string(ProtocolFlowCtrl):  ProtocolFlowCtrl,
	string(ProtocolHSDir):     ProtocolHSDir,
	string(ProtocolHSIntro):   ProtocolHSIntro,
	string(ProtocolHSRend):    ProtocolHSRend,
	string(ProtocolLink):      ProtocolLink,
	string(ProtocolLinkAuth):  ProtocolLinkAuth,
	string(ProtocolMicrodesc): ProtocolMicrodesc,
	string(ProtocolPadding):   ProtocolPadding,
	string(ProtocolRelay):     ProtocolRelay,
}

func parseProtocol(s string) (Protocol, error) {
	p, ok := knownProtocols[s]
	if !ok {
		return "", &UnknownProtocolError{Protocol: s}
	}
	return p, nil
}
