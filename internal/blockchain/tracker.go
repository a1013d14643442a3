package blockchain

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/igwedaniel/walletsync/internal/blockchain/bitcoin"
	"github.com/igwedaniel/walletsync/internal/config"
	"github.com/igwedaniel/walletsync/internal/network"
	"github.com/igwedaniel/walletsync/internal/types"
	"github.com/sirupsen/logrus"
)

// Tracker interface defines the contract for network feed trackers
type Tracker interface {
	// Start connects to the feed and begins dispatching notifications
	Start(ctx context.Context) error

	// Stop gracefully shuts down the tracker
	Stop() error

	// GetNetwork returns the chain this tracker follows
	GetNetwork() string

	// IsRunning returns whether the tracker is currently running
	IsRunning() bool

	// GetStats returns feed and listener statistics
	GetStats() types.FeedStats
}

// TrackerManager owns the feed trackers of the process, one per chain
type TrackerManager struct {
	cfg    *config.Config
	logger *logrus.Logger

	mu       sync.RWMutex
	trackers map[string]Tracker
}

func NewTrackerManager(cfg *config.Config, logger *logrus.Logger) *TrackerManager {
	return &TrackerManager{
		trackers: make(map[string]Tracker),
		cfg:      cfg,
		logger:   logger,
	}
}

// StartTracker starts the feed for networkName, driving listener
func (tm *TrackerManager) StartTracker(ctx context.Context, networkName string, listener *network.Listener) error {
	if !tm.IsSupported(networkName) {
		return fmt.Errorf("unsupported network: %s", networkName)
	}

	tm.mu.Lock()
	defer tm.mu.Unlock()

	if tracker, exists := tm.trackers[networkName]; exists && tracker.IsRunning() {
		return fmt.Errorf("tracker for %s is already running", networkName)
	}

	tracker, err := bitcoin.NewBitcoinTracker(&tm.cfg.Feed, networkName, listener, tm.logger)
	if err != nil {
		return fmt.Errorf("failed to create tracker for %s: %w", networkName, err)
	}
	if err := tm.startLocked(ctx, tracker); err != nil {
		return err
	}
	return nil
}

// AddTracker registers and starts an already built tracker
func (tm *TrackerManager) AddTracker(ctx context.Context, tracker Tracker) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if existing, exists := tm.trackers[tracker.GetNetwork()]; exists && existing.IsRunning() {
		return fmt.Errorf("tracker for %s is already running", tracker.GetNetwork())
	}
	return tm.startLocked(ctx, tracker)
}

func (tm *TrackerManager) startLocked(ctx context.Context, tracker Tracker) error {
	if err := tracker.Start(ctx); err != nil {
		return fmt.Errorf("failed to start tracker for %s: %w", tracker.GetNetwork(), err)
	}
	tm.trackers[tracker.GetNetwork()] = tracker
	return nil
}

// StopTracker stops the feed for networkName
func (tm *TrackerManager) StopTracker(networkName string) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	tracker, exists := tm.trackers[networkName]
	if !exists {
		return fmt.Errorf("no tracker found for %s", networkName)
	}
	if err := tracker.Stop(); err != nil {
		return fmt.Errorf("failed to stop tracker for %s: %w", networkName, err)
	}
	delete(tm.trackers, networkName)
	return nil
}

// StopAll stops all running trackers
func (tm *TrackerManager) StopAll() error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	var errs []error
	for networkName, tracker := range tm.trackers {
		if err := tracker.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop %s tracker: %w", networkName, err))
		}
	}
	tm.trackers = make(map[string]Tracker)
	return errors.Join(errs...)
}

// GetTracker returns the tracker for a specific network
func (tm *TrackerManager) GetTracker(networkName string) (Tracker, bool) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	tracker, exists := tm.trackers[networkName]
	return tracker, exists
}

// GetStats returns statistics for all trackers
func (tm *TrackerManager) GetStats() map[string]types.FeedStats {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	stats := make(map[string]types.FeedStats, len(tm.trackers))
	for networkName, tracker := range tm.trackers {
		stats[networkName] = tracker.GetStats()
	}
	return stats
}

// IsSupported checks if a chain is supported
func (tm *TrackerManager) IsSupported(networkName string) bool {
	for _, supported := range tm.GetSupportedNetworks() {
		if supported == networkName {
			return true
		}
	}
	return false
}

// GetSupportedNetworks returns all supported chains
func (tm *TrackerManager) GetSupportedNetworks() []string {
	return []string{"mainnet", "testnet3", "regtest", "signet", "simnet"}
}
