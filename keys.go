package darkpool

import (
	"encoding/hex"
	"fmt"

	"github.com/google/orderedcode"
	"golang.org/x/crypto/blake2b"
)

// Ledger key prefixes. Record ids are derived from stable inputs so that replaying a
// command addresses the same record.
const (
	prefixPool       = "pool"
	prefixOrder      = "order"
	prefixMatching   = "matching"
	prefixExecution  = "execution"
	prefixOwnerSeq   = "owner_seq"
	prefixAuthSeq    = "authority_seq"
	prefixCorrelator = "correlator"
)

// OrderID derives the id of the seq-th order submitted by owner.
func OrderID(owner string, seq uint64) string {
	return deriveID(prefixOrder, owner, seq)
}

// MatchingRequestID derives the id of the seq-th matching request made by authority.
func MatchingRequestID(authority string, seq uint64) string {
	return deriveID(prefixMatching, authority, seq)
}

// TradeExecutionID derives the id of the execution recorded for a matching request.
// A request can therefore produce at most one execution.
func TradeExecutionID(matchingRequestID string) string {
	return deriveID(prefixExecution, matchingRequestID)
}

func deriveID(parts ...any) string {
	seed, err := orderedcode.Append(nil, parts...)
	if err != nil {
		// parts are always strings and uint64s
		panic(fmt.Sprintf("darkpool: derive id: %v", err))
	}
	sum := blake2b.Sum256(seed)
	return hex.EncodeToString(sum[:])
}

func recordKey(prefix string, id string) []byte {
	key, err := orderedcode.Append(nil, prefix, id)
	if err != nil {
		panic(fmt.Sprintf("darkpool: record key: %v", err))
	}
	return key
}

// prefixKey encodes prefix alone; it is a byte prefix of every recordKey(prefix, id).
func prefixKey(prefix string) []byte {
	key, err := orderedcode.Append(nil, prefix)
	if err != nil {
		panic(fmt.Sprintf("darkpool: prefix key: %v", err))
	}
	return key
}

func poolKey() []byte {
	return prefixKey(prefixPool)
}
