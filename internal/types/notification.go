package types

import "time"

// NotificationType names a callback of the peer-to-peer network layer
type NotificationType string

const (
	NotificationPeersDiscovered      NotificationType = "peers_discovered"
	NotificationPeerConnected        NotificationType = "peer_connected"
	NotificationPeerDisconnected     NotificationType = "peer_disconnected"
	NotificationChainDownloadStarted NotificationType = "chain_download_started"
	NotificationBlocksDownloaded     NotificationType = "blocks_downloaded"
	NotificationTransaction          NotificationType = "transaction"
)

// Notification is a single callback of the network layer as carried by a feed
type Notification struct {
	Type          NotificationType `json:"type"`
	Peer          string           `json:"peer,omitempty"`
	PeerCount     int              `json:"peer_count,omitempty"`
	Addresses     []string         `json:"addresses,omitempty"`
	BlocksLeft    int              `json:"blocks_left,omitempty"`
	BlockTime     int64            `json:"block_time,omitempty"`
	RawTx         string           `json:"raw_tx,omitempty"`
	Source        string           `json:"source,omitempty"`
	Confirmations int32            `json:"confirmations,omitempty"`
}

// BlockTimestamp returns the block time as a time.Time, zero when unset.
func (n *Notification) BlockTimestamp() time.Time {
	if n.BlockTime == 0 {
		return time.Time{}
	}
	return time.Unix(n.BlockTime, 0)
}
