package domain

import "strings"

// hashPrefixes are the decorations Casper tooling puts in front of hex
// hashes. Longest first so "account-hash-" never loses to "hash-".
var hashPrefixes = []string{"account-hash-", "deploy-", "hash-", "0x"}

// NormalizeHash canonicalizes a Casper hash for comparison and storage:
// whitespace trimmed, lower-cased, with at most one known prefix stripped.
// The streaming API, the node RPC and user input all decorate the same hash
// differently; every comparison in the system goes through this.
func NormalizeHash(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, prefix := range hashPrefixes {
		if strings.HasPrefix(s, prefix) {
			return strings.TrimPrefix(s, prefix)
		}
	}
	return s
}
