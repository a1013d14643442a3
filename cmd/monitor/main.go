package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/igwedaniel/walletsync/internal/api"
	"github.com/igwedaniel/walletsync/internal/blockchain"
	"github.com/igwedaniel/walletsync/internal/config"
	"github.com/igwedaniel/walletsync/internal/messaging"
	"github.com/igwedaniel/walletsync/internal/network"
	"github.com/igwedaniel/walletsync/internal/storage"
	"github.com/igwedaniel/walletsync/internal/wallet"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.Logging)
	logger.WithField("network", cfg.Wallet.Network).Info("Starting wallet network listener")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.NewRedisStorage(&cfg.Redis, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize storage: %v", err)
	}
	defer store.Close()
	logger.Info("Storage connection established")

	params, err := wallet.ParamsForNetwork(cfg.Wallet.Network)
	if err != nil {
		logger.Fatalf("Failed to resolve chain parameters: %v", err)
	}

	wallets := wallet.NewManager(store, params, logger)
	if err := wallets.Load(ctx); err != nil {
		logger.Fatalf("Failed to load wallet state: %v", err)
	}
	if err := seedWallet(ctx, wallets, cfg.Wallet, logger); err != nil {
		logger.Fatalf("Failed to set up configured wallet: %v", err)
	}

	// UI subscribers read from the feed; RabbitMQ is optional
	feed := messaging.NewFeedPublisher()
	publishers := []messaging.Publisher{feed}
	if cfg.RabbitMQ.URL != "" {
		rabbit, err := messaging.NewRabbitMQPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, logger)
		if err != nil {
			logger.Fatalf("Failed to initialize messaging: %v", err)
		}
		publishers = append(publishers, rabbit)
		logger.Info("Messaging system initialized")
	}
	publisher := messaging.NewMultiPublisher(publishers...)
	defer publisher.Close()

	listener := network.NewListener(cfg.Wallet.Network, wallets, publisher, logger)

	trackerManager := blockchain.NewTrackerManager(cfg, logger)
	if err := trackerManager.StartTracker(ctx, cfg.Wallet.Network, listener); err != nil {
		logger.Fatalf("Failed to start feed tracker: %v", err)
	}
	logger.Info("Feed tracker started")

	apiServer := api.NewServer(&cfg.Server, trackerManager, wallets, listener, feed, store, logger)
	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Errorf("HTTP server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	logger.Info("Shutdown signal received, starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Trackers first so nothing publishes into a closed bus
	if err := trackerManager.StopAll(); err != nil {
		logger.Errorf("Error stopping trackers: %v", err)
	}

	if err := apiServer.Stop(shutdownCtx); err != nil {
		logger.Errorf("Error stopping API server: %v", err)
	}

	logger.Info("Wallet network listener stopped")
}

// seedWallet watches the configured addresses and makes the configured
// wallet current
func seedWallet(ctx context.Context, wallets *wallet.Manager, cfg config.WalletConfig, logger *logrus.Logger) error {
	if cfg.ID == "" {
		return nil
	}
	for _, address := range cfg.Addresses {
		if err := wallets.WatchAddress(ctx, cfg.ID, address); err != nil {
			return err
		}
	}
	err := wallets.SelectWallet(ctx, cfg.ID)
	if errors.Is(err, wallet.ErrUnknownWallet) {
		// relays are discarded until a wallet is selected through the API
		logger.WithField("wallet_id", cfg.ID).Warn("Configured wallet watches no addresses")
		return nil
	}
	return err
}

func setupLogger(cfg config.LoggingConfig) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	}

	return logger
}
