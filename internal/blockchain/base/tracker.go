package base

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/igwedaniel/walletsync/internal/types"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// NotificationProcessor defines the interface that specific network feeds must provide
type NotificationProcessor interface {
	// GetNetwork returns the chain the feed reports on
	GetNetwork() string

	// InitializeProviders sets up connections and providers
	InitializeProviders(ctx context.Context) error

	// CleanupProviders closes connections and cleans up resources
	CleanupProviders() error

	// SubscribeToNotifications streams notifications into ch until the
	// connection drops or ctx is done
	SubscribeToNotifications(ctx context.Context, ch chan<- *types.Notification) error

	// ProcessNotification hands a single notification to the listener
	ProcessNotification(ctx context.Context, n *types.Notification) error
}

// StatsSource reports the listener state included in health reports
type StatsSource interface {
	Stats() types.ListenerStats
}

// BaseTrackerConfig contains common configuration for all feed trackers
type BaseTrackerConfig struct {
	MaxConcurrentTxs    int           `json:"max_concurrent_txs"`
	ReconnectInterval   time.Duration `json:"reconnect_interval"`
	HealthCheckInterval time.Duration `json:"health_check_interval"`
	BufferSize          int           `json:"buffer_size"`
}

// BaseTracker keeps a network feed connected and dispatches its
// notifications. Peer and chain notifications are handled one at a time in
// arrival order; transaction relays run concurrently, bounded by
// MaxConcurrentTxs.
type BaseTracker struct {
	processor NotificationProcessor
	stats     StatsSource
	logger    *logrus.Logger
	config    BaseTrackerConfig

	txSemaphore      *semaphore.Weighted
	reconnectLimiter *rate.Limiter

	isRunning bool
	stopCh    chan struct{}
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	inflight  sync.WaitGroup
	mu        sync.RWMutex

	connected     atomic.Bool
	notifications atomic.Uint64
	errorCount    atomic.Uint64
	startTime     time.Time

	notificationCh chan *types.Notification
}

// NewBaseTracker creates a new base tracker
func NewBaseTracker(
	processor NotificationProcessor,
	stats StatsSource,
	logger *logrus.Logger,
	config BaseTrackerConfig,
) *BaseTracker {
	if config.BufferSize <= 0 {
		config.BufferSize = 256
	}
	if config.MaxConcurrentTxs <= 0 {
		config.MaxConcurrentTxs = 1
	}
	if config.HealthCheckInterval <= 0 {
		config.HealthCheckInterval = time.Minute
	}
	return &BaseTracker{
		processor:        processor,
		stats:            stats,
		logger:           logger,
		config:           config,
		txSemaphore:      semaphore.NewWeighted(int64(config.MaxConcurrentTxs)),
		reconnectLimiter: rate.NewLimiter(rate.Every(config.ReconnectInterval), 1),
		stopCh:           make(chan struct{}),
		notificationCh:   make(chan *types.Notification, config.BufferSize),
		startTime:        time.Now(),
	}
}

// Start connects to the feed and begins dispatching notifications
func (bt *BaseTracker) Start(ctx context.Context) error {
	bt.mu.Lock()
	if bt.isRunning {
		bt.mu.Unlock()
		return fmt.Errorf("tracker for %s is already running", bt.processor.GetNetwork())
	}
	bt.isRunning = true
	bt.mu.Unlock()

	network := bt.processor.GetNetwork()
	bt.logger.Infof("Starting %s feed tracker...", network)

	if err := bt.processor.InitializeProviders(ctx); err != nil {
		bt.mu.Lock()
		bt.isRunning = false
		bt.mu.Unlock()
		return fmt.Errorf("failed to initialize providers: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	bt.mu.Lock()
	bt.cancel = cancel
	bt.startTime = time.Now()
	bt.mu.Unlock()

	bt.wg.Add(1)
	go bt.notificationLoop(runCtx)

	bt.wg.Add(1)
	go bt.subscriptionLoop(runCtx)

	bt.wg.Add(1)
	go bt.healthMonitorLoop(runCtx)

	bt.logger.Infof("%s feed tracker started successfully", network)
	return nil
}

// Stop gracefully shuts down the tracker and waits for in-flight
// transaction relays
func (bt *BaseTracker) Stop() error {
	bt.mu.Lock()
	if !bt.isRunning {
		bt.mu.Unlock()
		return nil
	}
	bt.isRunning = false
	cancel := bt.cancel
	bt.mu.Unlock()

	network := bt.processor.GetNetwork()
	bt.logger.Infof("Stopping %s feed tracker...", network)

	close(bt.stopCh)
	if cancel != nil {
		cancel()
	}
	bt.wg.Wait()
	bt.inflight.Wait()

	if err := bt.processor.CleanupProviders(); err != nil {
		bt.logger.Errorf("Error cleaning up providers: %v", err)
	}

	bt.logger.Infof("%s feed tracker stopped", network)
	return nil
}

func (bt *BaseTracker) IsRunning() bool {
	bt.mu.RLock()
	defer bt.mu.RUnlock()
	return bt.isRunning
}

func (bt *BaseTracker) GetNetwork() string {
	return bt.processor.GetNetwork()
}

func (bt *BaseTracker) GetStats() types.FeedStats {
	bt.mu.RLock()
	running := bt.isRunning
	started := bt.startTime
	bt.mu.RUnlock()

	stats := types.FeedStats{
		Network:       bt.processor.GetNetwork(),
		IsRunning:     running,
		Connected:     bt.connected.Load(),
		Notifications: bt.notifications.Load(),
		ErrorCount:    bt.errorCount.Load(),
		Uptime:        time.Since(started).String(),
	}
	if bt.stats != nil {
		stats.Listener = bt.stats.Stats()
	}
	return stats
}

// Dispatch hands n to the processor, on the caller's goroutine for peer and
// chain notifications and on a new goroutine for transaction relays
func (bt *BaseTracker) Dispatch(ctx context.Context, n *types.Notification) {
	bt.notifications.Inc()

	if n.Type != types.NotificationTransaction {
		bt.processSafely(ctx, n)
		return
	}

	if err := bt.txSemaphore.Acquire(ctx, 1); err != nil {
		bt.logger.Errorf("Failed to acquire transaction semaphore: %v", err)
		return
	}
	bt.inflight.Add(1)
	go func() {
		defer bt.inflight.Done()
		defer bt.txSemaphore.Release(1)
		bt.processSafely(ctx, n)
	}()
}

// Wait blocks until every dispatched transaction relay has been processed
func (bt *BaseTracker) Wait() {
	bt.inflight.Wait()
}

func (bt *BaseTracker) notificationLoop(ctx context.Context) {
	defer bt.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-bt.stopCh:
			return
		case n := <-bt.notificationCh:
			bt.Dispatch(ctx, n)
		}
	}
}

// subscriptionLoop keeps the feed connected, redialing at most once per
// ReconnectInterval
func (bt *BaseTracker) subscriptionLoop(ctx context.Context) {
	defer bt.wg.Done()

	network := bt.processor.GetNetwork()
	for {
		if err := bt.reconnectLimiter.Wait(ctx); err != nil {
			return
		}

		select {
		case <-bt.stopCh:
			return
		default:
		}

		bt.connected.Store(true)
		err := bt.processor.SubscribeToNotifications(ctx, bt.notificationCh)
		bt.connected.Store(false)

		if ctx.Err() != nil {
			return
		}
		if err != nil {
			bt.errorCount.Inc()
			bt.logger.Warnf("%s feed subscription failed, reconnecting: %v", network, err)
			continue
		}
		bt.logger.Infof("%s feed closed, reconnecting", network)
	}
}

func (bt *BaseTracker) healthMonitorLoop(ctx context.Context) {
	defer bt.wg.Done()

	ticker := time.NewTicker(bt.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-bt.stopCh:
			return
		case <-ticker.C:
			bt.reportHealth()
		}
	}
}

func (bt *BaseTracker) processSafely(ctx context.Context, n *types.Notification) {
	if err := bt.processor.ProcessNotification(ctx, n); err != nil {
		bt.errorCount.Inc()
		bt.logger.WithFields(logrus.Fields{
			"network": bt.processor.GetNetwork(),
			"type":    n.Type,
			"peer":    n.Peer,
		}).Errorf("Failed to process notification: %v", err)
	}
}

// reportHealth logs feed and listener metrics
func (bt *BaseTracker) reportHealth() {
	stats := bt.GetStats()

	bt.logger.WithFields(logrus.Fields{
		"network":          stats.Network,
		"uptime":           stats.Uptime,
		"connected":        stats.Connected,
		"notifications":    stats.Notifications,
		"error_count":      stats.ErrorCount,
		"peers":            stats.Listener.ConnectedPeers,
		"downloading":      stats.Listener.IsDownloading,
		"percent":          stats.Listener.LastPercent,
		"admitted_txs":     stats.Listener.AdmittedTransactions,
		"discarded_relays": stats.Listener.DiscardedRelays,
	}).Info("Tracker health report")
}
