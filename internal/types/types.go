package types

import (
	"time"

	"github.com/btcsuite/btcd/btcutil"
)

// Event represents a message to be published
type Event struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
	Source    string      `json:"source"`
}

// EventType constants
const (
	EventTypePeerCount              = "network.peers"
	EventTypeChainDownloadStarted   = "chain.download.started"
	EventTypeChainDownloadProgress  = "chain.download.progress"
	EventTypeChainDownloadCompleted = "chain.download.completed"
	EventTypeTransactionSeen        = "transaction.seen"
)

// PeerCountChanged carries the number of currently connected peers.
type PeerCountChanged struct {
	Count int `json:"count"`
}

// ChainDownloadStarted marks the start of a download episode, or a
// hand-off to another peer in the middle of one.
type ChainDownloadStarted struct{}

// ChainDownloadProgress carries the truncated download percentage.
type ChainDownloadProgress struct {
	Percent         int `json:"percent"`
	BlocksRemaining int `json:"blocks_remaining"`
}

// ChainDownloadCompleted marks the end of a download episode.
type ChainDownloadCompleted struct{}

// TransactionSeen reports a relevant pending transaction admitted into a wallet.
type TransactionSeen struct {
	TransactionID   string         `json:"transaction_id"`
	WalletID        string         `json:"wallet_id"`
	ValueToWallet   btcutil.Amount `json:"value_to_wallet"`
	FirstAppearance bool           `json:"first_appearance"`
}

func newEvent(eventType, source string, payload interface{}) *Event {
	return &Event{
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now(),
		Source:    source,
	}
}

func NewPeerCountEvent(source string, count int) *Event {
	return newEvent(EventTypePeerCount, source, PeerCountChanged{Count: count})
}

func NewChainDownloadStartedEvent(source string) *Event {
	return newEvent(EventTypeChainDownloadStarted, source, ChainDownloadStarted{})
}

func NewChainDownloadProgressEvent(source string, percent, blocksRemaining int) *Event {
	return newEvent(EventTypeChainDownloadProgress, source, ChainDownloadProgress{
		Percent:         percent,
		BlocksRemaining: blocksRemaining,
	})
}

func NewChainDownloadCompletedEvent(source string) *Event {
	return newEvent(EventTypeChainDownloadCompleted, source, ChainDownloadCompleted{})
}

func NewTransactionSeenEvent(source string, seen TransactionSeen) *Event {
	return newEvent(EventTypeTransactionSeen, source, seen)
}
