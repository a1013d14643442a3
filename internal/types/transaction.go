package types

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// ConfidenceSource tells where a transaction came from.
type ConfidenceSource int

const (
	SourceUnknown ConfidenceSource = iota
	SourceNetwork
	SourceSelf
)

func (s ConfidenceSource) String() string {
	switch s {
	case SourceNetwork:
		return "NETWORK"
	case SourceSelf:
		return "SELF"
	default:
		return "UNKNOWN"
	}
}

// ParseConfidenceSource maps the wire name of a source to its value.
// Unrecognised names map to SourceUnknown.
func ParseConfidenceSource(s string) ConfidenceSource {
	switch s {
	case "NETWORK", "network":
		return SourceNetwork
	case "SELF", "self":
		return SourceSelf
	default:
		return SourceUnknown
	}
}

// Relevance is the outcome of testing a transaction against a wallet.
type Relevance int

const (
	NotRelevant Relevance = iota
	Relevant
	// Unparseable means one of the scripts could not be interpreted.
	Unparseable
)

func (r Relevance) String() string {
	switch r {
	case Relevant:
		return "RELEVANT"
	case Unparseable:
		return "UNPARSEABLE"
	default:
		return "NOT_RELEVANT"
	}
}

// ObservedTransaction is a transaction as relayed by a single peer. The same
// logical transaction arrives once per relaying peer, each time as a distinct
// value.
type ObservedTransaction struct {
	Tx            *wire.MsgTx
	Source        ConfidenceSource
	Confirmations int32

	hash chainhash.Hash
}

func NewObservedTransaction(tx *wire.MsgTx, source ConfidenceSource, confirmations int32) *ObservedTransaction {
	return &ObservedTransaction{
		Tx:            tx,
		Source:        source,
		Confirmations: confirmations,
		hash:          tx.TxHash(),
	}
}

// Hash returns the transaction identity.
func (t *ObservedTransaction) Hash() chainhash.Hash {
	return t.hash
}

// IsPending reports whether the transaction is not yet in a block.
func (t *ObservedTransaction) IsPending() bool {
	return t.Confirmations == 0
}

// IsTimeLocked reports whether the lock time is set and enforced, i.e. at
// least one input has a non-final sequence number.
func (t *ObservedTransaction) IsTimeLocked() bool {
	if t.Tx.LockTime == 0 {
		return false
	}
	for _, in := range t.Tx.TxIn {
		if in.Sequence != wire.MaxTxInSequenceNum {
			return true
		}
	}
	return false
}
