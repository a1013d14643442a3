package types

// ListenerStats is a snapshot of the network listener state
type ListenerStats struct {
	Network              string `json:"network"`
	ConnectedPeers       int    `json:"connected_peers"`
	IsDownloading        bool   `json:"is_downloading"`
	LastPercent          int    `json:"last_percent"`
	OriginalBlocksLeft   int    `json:"original_blocks_left"`
	ObservedTransactions uint64 `json:"observed_transactions"`
	AdmittedTransactions uint64 `json:"admitted_transactions"`
	DiscardedRelays      uint64 `json:"discarded_relays"`
}

// FeedStats contains performance and health statistics of a notification feed
type FeedStats struct {
	Network       string        `json:"network"`
	IsRunning     bool          `json:"is_running"`
	Connected     bool          `json:"connected"`
	Notifications uint64        `json:"notifications"`
	ErrorCount    uint64        `json:"error_count"`
	Uptime        string        `json:"uptime"`
	Listener      ListenerStats `json:"listener"`
}
