package bitcoin

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/wire"
	"github.com/igwedaniel/walletsync/internal/config"
	"github.com/igwedaniel/walletsync/internal/network"
	"github.com/igwedaniel/walletsync/internal/types"
	"github.com/sirupsen/logrus"
)

type BitcoinProcessor struct {
	config    *config.FeedConfig
	network   string
	callbacks network.Callbacks
	logger    *logrus.Logger
	client    Client
}

func NewBitcoinProcessor(
	cfg *config.FeedConfig,
	networkName string,
	callbacks network.Callbacks,
	logger *logrus.Logger,
) (*BitcoinProcessor, error) {
	if callbacks == nil {
		return nil, fmt.Errorf("callbacks not set")
	}
	return &BitcoinProcessor{
		config:    cfg,
		network:   networkName,
		callbacks: callbacks,
		logger:    logger,
	}, nil
}

// SetClient replaces the feed client, used before InitializeProviders
func (bp *BitcoinProcessor) SetClient(client Client) {
	bp.client = client
}

func (bp *BitcoinProcessor) GetNetwork() string { return bp.network }

func (bp *BitcoinProcessor) InitializeProviders(ctx context.Context) error {
	if bp.client != nil {
		return nil
	}
	client, err := NewWSClient(bp.config.WSURL, bp.logger)
	if err != nil {
		return err
	}
	bp.client = client
	bp.logger.Info("Bitcoin notification feed initialized")
	return nil
}

func (bp *BitcoinProcessor) CleanupProviders() error { return nil }

func (bp *BitcoinProcessor) SubscribeToNotifications(ctx context.Context, ch chan<- *types.Notification) error {
	if bp.client == nil {
		return fmt.Errorf("feed client not initialized")
	}
	return bp.client.Stream(ctx, ch)
}

// ProcessNotification routes n to the listener. Undecodable transactions are
// dropped; only an unknown notification type is reported as an error.
func (bp *BitcoinProcessor) ProcessNotification(ctx context.Context, n *types.Notification) error {
	switch n.Type {
	case types.NotificationPeersDiscovered:
		bp.logger.WithField("addresses", len(n.Addresses)).Trace("Peers discovered")
	case types.NotificationPeerConnected:
		bp.callbacks.PeerConnected(ctx, n.Peer, n.PeerCount)
	case types.NotificationPeerDisconnected:
		bp.callbacks.PeerDisconnected(ctx, n.Peer, n.PeerCount)
	case types.NotificationChainDownloadStarted:
		bp.callbacks.ChainDownloadStarted(ctx, n.Peer, n.BlocksLeft)
	case types.NotificationBlocksDownloaded:
		bp.callbacks.BlocksDownloaded(ctx, n.BlocksLeft, n.BlockTimestamp())
	case types.NotificationTransaction:
		tx, err := decodeTransaction(n.RawTx)
		if err != nil {
			bp.logger.WithField("peer", n.Peer).Debugf("Discarding undecodable transaction: %v", err)
			return nil
		}
		observed := types.NewObservedTransaction(tx, types.ParseConfidenceSource(n.Source), n.Confirmations)
		bp.callbacks.TransactionObserved(ctx, observed, n.Peer)
	default:
		return fmt.Errorf("unknown notification type %q", n.Type)
	}
	return nil
}

func decodeTransaction(rawHex string) (*wire.MsgTx, error) {
	raw, err := hex.DecodeString(rawHex)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty transaction")
	}
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("failed to deserialize transaction: %w", err)
	}
	return tx, nil
}
