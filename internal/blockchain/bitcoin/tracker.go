package bitcoin

import (
	"fmt"

	"github.com/igwedaniel/walletsync/internal/blockchain/base"
	"github.com/igwedaniel/walletsync/internal/config"
	"github.com/igwedaniel/walletsync/internal/network"
	"github.com/sirupsen/logrus"
)

// BitcoinTracker wraps the base tracker with the bitcoin notification feed
type BitcoinTracker struct {
	*base.BaseTracker
	processor *BitcoinProcessor
}

// NewBitcoinTracker creates a new Bitcoin tracker using composition
func NewBitcoinTracker(
	cfg *config.FeedConfig,
	networkName string,
	listener *network.Listener,
	logger *logrus.Logger,
) (*BitcoinTracker, error) {
	processor, err := NewBitcoinProcessor(cfg, networkName, listener, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create Bitcoin processor: %w", err)
	}

	baseConfig := base.BaseTrackerConfig{
		MaxConcurrentTxs:    cfg.MaxConcurrentTxs,
		ReconnectInterval:   cfg.ReconnectInterval,
		HealthCheckInterval: cfg.HealthCheckInterval,
		BufferSize:          512,
	}

	baseTracker := base.NewBaseTracker(
		processor,
		listener,
		logger,
		baseConfig,
	)

	return &BitcoinTracker{
		BaseTracker: baseTracker,
		processor:   processor,
	}, nil
}

// Processor returns the notification processor driving the listener
func (t *BitcoinTracker) Processor() *BitcoinProcessor {
	return t.processor
}
