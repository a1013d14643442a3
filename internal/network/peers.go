package network

import (
	"context"
	"sync"

	"github.com/igwedaniel/walletsync/internal/messaging"
	"github.com/igwedaniel/walletsync/internal/types"
	"github.com/sirupsen/logrus"
)

// PeerCountTracker folds connect and disconnect callbacks into the number of
// connected peers. The network layer reports the new total, not a delta.
type PeerCountTracker struct {
	source    string
	publisher messaging.Publisher
	logger    *logrus.Logger

	mu    sync.Mutex
	count int
}

func NewPeerCountTracker(source string, publisher messaging.Publisher, logger *logrus.Logger) *PeerCountTracker {
	return &PeerCountTracker{
		source:    source,
		publisher: publisher,
		logger:    logger,
	}
}

// OnPeerConnected adopts peerCount and always publishes it
func (t *PeerCountTracker) OnPeerConnected(ctx context.Context, peer string, peerCount int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.logger.WithFields(logrus.Fields{
		"peer":       peer,
		"peer_count": peerCount,
	}).Trace("Peer connected")

	t.count = peerCount
	publish(ctx, t.publisher, t.logger, types.NewPeerCountEvent(t.source, t.count))
}

// OnPeerDisconnected adopts peerCount and publishes it only when it differs
// from the stored count
func (t *PeerCountTracker) OnPeerDisconnected(ctx context.Context, peer string, peerCount int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.logger.WithFields(logrus.Fields{
		"peer":       peer,
		"peer_count": peerCount,
	}).Trace("Peer disconnected")

	if peerCount == t.count {
		return
	}
	t.count = peerCount
	publish(ctx, t.publisher, t.logger, types.NewPeerCountEvent(t.source, t.count))
}

// Count returns the number of connected peers
func (t *PeerCountTracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// publish hands event to the bus. Failures are logged, never returned: the
// bus is fire-and-forget for the listener.
func publish(ctx context.Context, publisher messaging.Publisher, logger *logrus.Logger, event *types.Event) {
	if err := publisher.Publish(ctx, event); err != nil {
		logger.WithField("event_type", event.Type).Errorf("Failed to publish event: %v", err)
	}
}
