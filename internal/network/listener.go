package network

import (
	"context"
	"time"

	"github.com/igwedaniel/walletsync/internal/messaging"
	"github.com/igwedaniel/walletsync/internal/types"
	"github.com/igwedaniel/walletsync/internal/wallet"
	"github.com/sirupsen/logrus"
)

// Callbacks is what a peer network feed drives. Implementations must be safe
// for concurrent use; every peer connection may call in from its own
// goroutine.
type Callbacks interface {
	PeerConnected(ctx context.Context, peer string, peerCount int)
	PeerDisconnected(ctx context.Context, peer string, peerCount int)
	ChainDownloadStarted(ctx context.Context, peer string, blocksLeft int)
	BlocksDownloaded(ctx context.Context, blocksLeft int, blockTime time.Time)
	TransactionObserved(ctx context.Context, tx *types.ObservedTransaction, peer string)
}

// Listener fans network callbacks out to the three trackers. The trackers
// share nothing but the wallet registry and the publisher.
type Listener struct {
	network   string
	peers     *PeerCountTracker
	sync      *SyncProgressTracker
	admission *AdmissionController
}

var _ Callbacks = (*Listener)(nil)

// NewListener creates a listener publishing events tagged with network
func NewListener(network string, registry wallet.Registry, publisher messaging.Publisher, logger *logrus.Logger) *Listener {
	peers := NewPeerCountTracker(network, publisher, logger)
	return &Listener{
		network:   network,
		peers:     peers,
		sync:      NewSyncProgressTracker(network, peers, publisher, logger),
		admission: NewAdmissionController(network, registry, publisher, logger),
	}
}

func (l *Listener) PeerConnected(ctx context.Context, peer string, peerCount int) {
	l.peers.OnPeerConnected(ctx, peer, peerCount)
}

func (l *Listener) PeerDisconnected(ctx context.Context, peer string, peerCount int) {
	l.peers.OnPeerDisconnected(ctx, peer, peerCount)
}

func (l *Listener) ChainDownloadStarted(ctx context.Context, peer string, blocksLeft int) {
	l.sync.OnChainDownloadStarted(ctx, peer, blocksLeft)
}

func (l *Listener) BlocksDownloaded(ctx context.Context, blocksLeft int, blockTime time.Time) {
	l.sync.OnBlocksDownloaded(ctx, blocksLeft, blockTime)
}

func (l *Listener) TransactionObserved(ctx context.Context, tx *types.ObservedTransaction, peer string) {
	l.admission.OnTransactionObserved(ctx, tx, peer)
}

// IsDownloading reports whether the chain download is in progress
func (l *Listener) IsDownloading() bool {
	return l.sync.IsDownloading()
}

func (l *Listener) Stats() types.ListenerStats {
	state := l.sync.State()
	observed, admitted, discarded := l.admission.Counts()
	return types.ListenerStats{
		Network:              l.network,
		ConnectedPeers:       l.peers.Count(),
		IsDownloading:        state.IsDownloading,
		LastPercent:          state.LastPercent,
		OriginalBlocksLeft:   state.OriginalBlocksLeft,
		ObservedTransactions: observed,
		AdmittedTransactions: admitted,
		DiscardedRelays:      discarded,
	}
}
