package config_test

import (
	"os"
	"path/filepath"
	"time"

	"github.com/igwedaniel/walletsync/internal/config"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/spf13/viper"
)

var envKeys = []string{"REDIS_URL", "RABBITMQ_URL", "FEED_WS_URL", "WALLET_ID", "WALLET_NETWORK", "WALLET_ADDRESSES", "LOG_LEVEL"}

var _ = Describe("Load", func() {
	var (
		workDir string
		prevDir string
	)

	BeforeEach(func() {
		viper.Reset()
		for _, key := range envKeys {
			Expect(os.Unsetenv(key)).To(Succeed())
		}

		var err error
		prevDir, err = os.Getwd()
		Expect(err).To(BeNil())
		workDir, err = os.MkdirTemp("", "walletsync-config")
		Expect(err).To(BeNil())
		Expect(os.Chdir(workDir)).To(Succeed())
	})

	AfterEach(func() {
		for _, key := range envKeys {
			os.Unsetenv(key)
		}
		Expect(os.Chdir(prevDir)).To(Succeed())
		Expect(os.RemoveAll(workDir)).To(Succeed())
	})

	Context("without a config file", func() {
		It("should apply the defaults", func() {
			cfg, err := config.Load()
			Expect(err).To(BeNil())
			Expect(cfg.Server.Port).To(Equal(8080))
			Expect(cfg.RabbitMQ.Exchange).To(Equal("wallet.events"))
			Expect(cfg.Feed.ReconnectInterval).To(Equal(5 * time.Second))
			Expect(cfg.Feed.MaxConcurrentTxs).To(Equal(16))
			Expect(cfg.Wallet.Network).To(Equal("mainnet"))
			Expect(cfg.Logging.Format).To(Equal("json"))
		})

		It("should take overrides from the environment", func() {
			os.Setenv("WALLET_NETWORK", "regtest")
			os.Setenv("WALLET_ID", "main")
			os.Setenv("WALLET_ADDRESSES", "addr-a,addr-b")
			os.Setenv("FEED_WS_URL", "ws://node:9000/feed")

			cfg, err := config.Load()
			Expect(err).To(BeNil())
			Expect(cfg.Wallet.Network).To(Equal("regtest"))
			Expect(cfg.Wallet.ID).To(Equal("main"))
			Expect(cfg.Wallet.Addresses).To(Equal([]string{"addr-a", "addr-b"}))
			Expect(cfg.Feed.WSURL).To(Equal("ws://node:9000/feed"))
		})
	})

	Context("with a config file", func() {
		It("should read it", func() {
			yaml := []byte("wallet:\n  network: testnet3\nfeed:\n  max_concurrent_txs: 4\n  reconnect_interval: 1s\n")
			Expect(os.WriteFile(filepath.Join(workDir, "config.yaml"), yaml, 0o644)).To(Succeed())

			cfg, err := config.Load()
			Expect(err).To(BeNil())
			Expect(cfg.Wallet.Network).To(Equal("testnet3"))
			Expect(cfg.Feed.MaxConcurrentTxs).To(Equal(4))
			Expect(cfg.Feed.ReconnectInterval).To(Equal(time.Second))
		})

		It("should reject an unsupported network", func() {
			yaml := []byte("wallet:\n  network: litecoin\n")
			Expect(os.WriteFile(filepath.Join(workDir, "config.yaml"), yaml, 0o644)).To(Succeed())

			_, err := config.Load()
			Expect(err).ToNot(BeNil())
		})
	})
})

var _ = Describe("Validate", func() {
	It("should require a positive transaction concurrency", func() {
		cfg := config.Config{
			Wallet: config.WalletConfig{Network: "regtest"},
			Feed:   config.FeedConfig{ReconnectInterval: time.Second},
		}
		Expect(cfg.Validate()).ToNot(Succeed())

		cfg.Feed.MaxConcurrentTxs = 1
		Expect(cfg.Validate()).To(Succeed())
	})
})
