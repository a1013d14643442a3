package network

import (
	"context"
	"sync"
	"time"

	"github.com/igwedaniel/walletsync/internal/messaging"
	"github.com/igwedaniel/walletsync/internal/types"
	"github.com/sirupsen/logrus"
)

// unsetBlocksLeft marks that no download episode is in progress
const unsetBlocksLeft = -1

// PeerCounter supplies the peer count published when a download completes
type PeerCounter interface {
	Count() int
}

// SyncState is a snapshot of the download progress
type SyncState struct {
	OriginalBlocksLeft int
	LastPercent        int
	IsDownloading      bool
}

// SyncProgressTracker folds chain download callbacks into a download
// percentage and publishes it only when the truncated value changes, which
// caps progress events at 101 per episode.
type SyncProgressTracker struct {
	source    string
	peers     PeerCounter
	publisher messaging.Publisher
	logger    *logrus.Logger

	// mu guards state and is held while publishing, so subscribers see
	// events in the order the state changed.
	mu    sync.Mutex
	state SyncState
}

func NewSyncProgressTracker(source string, peers PeerCounter, publisher messaging.Publisher, logger *logrus.Logger) *SyncProgressTracker {
	return &SyncProgressTracker{
		source:    source,
		peers:     peers,
		publisher: publisher,
		logger:    logger,
		state: SyncState{
			OriginalBlocksLeft: unsetBlocksLeft,
		},
	}
}

// OnChainDownloadStarted is called when a peer starts serving the chain. It
// fires more than once per episode when the download switches peers; only
// the first call of an episode sets the denominator.
func (t *SyncProgressTracker) OnChainDownloadStarted(ctx context.Context, peer string, blocksLeft int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.logger.WithField("blocks_left", blocksLeft).Info("Started download")
	publish(ctx, t.publisher, t.logger, types.NewChainDownloadStartedEvent(t.source))

	if t.state.OriginalBlocksLeft == unsetBlocksLeft {
		t.state.OriginalBlocksLeft = blocksLeft
		if blocksLeft > 0 {
			t.state.LastPercent = 0
		}
	} else {
		t.logger.WithField("peer", peer).Info("Chain download switched peer")
	}
	t.state.IsDownloading = blocksLeft > 0

	publish(ctx, t.publisher, t.logger, types.NewChainDownloadProgressEvent(t.source, t.state.LastPercent, blocksLeft))

	if blocksLeft == 0 {
		t.doneDownload(ctx)
	}
}

// OnBlocksDownloaded is called for every downloaded block
func (t *SyncProgressTracker) OnBlocksDownloaded(ctx context.Context, blocksLeft int, blockTime time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	// The first estimate may have been low, or a peer switch reported a
	// larger backlog
	if blocksLeft > t.state.OriginalBlocksLeft {
		t.state.OriginalBlocksLeft = blocksLeft
	}

	if blocksLeft < 0 || t.state.OriginalBlocksLeft <= 0 {
		t.state.IsDownloading = false
		return
	}
	t.state.IsDownloading = blocksLeft > 0

	pct := 100.0 - 100.0*(float64(blocksLeft)/float64(t.state.OriginalBlocksLeft))
	// blocksLeft > 0 keeps 100 out of this path: doneDownload emits it once,
	// so no percent value is published twice in an episode
	if percent := int(pct); percent != t.state.LastPercent && blocksLeft > 0 {
		fields := logrus.Fields{
			"percent":     percent,
			"blocks_left": blocksLeft,
		}
		if !blockTime.IsZero() {
			fields["block_time"] = blockTime.UTC().Format(time.RFC3339)
		}
		t.logger.WithFields(fields).Debug("Chain download progress")

		t.state.LastPercent = percent
		publish(ctx, t.publisher, t.logger, types.NewChainDownloadProgressEvent(t.source, percent, blocksLeft))
	}

	if blocksLeft == 0 {
		t.doneDownload(ctx)
	}
}

// doneDownload ends the episode. Must be called with t.mu held.
func (t *SyncProgressTracker) doneDownload(ctx context.Context) {
	t.logger.Info("Download of block chain complete")

	t.state.IsDownloading = false
	t.state.LastPercent = 100
	t.state.OriginalBlocksLeft = unsetBlocksLeft

	// Observers request a wallet rescan on completion and rely on the peer
	// count that follows it
	publish(ctx, t.publisher, t.logger, types.NewChainDownloadProgressEvent(t.source, 100, 0))
	publish(ctx, t.publisher, t.logger, types.NewChainDownloadCompletedEvent(t.source))
	publish(ctx, t.publisher, t.logger, types.NewPeerCountEvent(t.source, t.peers.Count()))
}

// IsDownloading reports whether blocks are believed to be outstanding
func (t *SyncProgressTracker) IsDownloading() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.IsDownloading
}

// State returns a snapshot of the download state
func (t *SyncProgressTracker) State() SyncState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}
