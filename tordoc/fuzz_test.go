package tordoc

import "testing"

func FuzzParseConsensus(f *testing.F) {
	f.Add(sampleConsensus)
	f.Add("")
	f.Add("valid-after 2024-01-01 00:00:00\n")
	f.Fuzz(func(t *testing.T, s string) {
		_, _ = ParseConsensus(s)
	})
}

func FuzzParseDescriptor(f *testing.F) {
	f.Add(sampleDescriptor)
	f.Add("")
	f.Add("router x\n")
	f.Fuzz(func(t *testing.T, s string) {
		_, _ = ParseDescriptor(s)
	})
}
