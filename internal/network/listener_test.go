package network_test

import (
	"context"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/igwedaniel/walletsync/internal/network"
	"github.com/igwedaniel/walletsync/internal/storage"
	"github.com/igwedaniel/walletsync/internal/types"
	"github.com/igwedaniel/walletsync/internal/wallet"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Listener", func() {
	var (
		ctx       context.Context
		publisher *recordingPublisher
		listener  *network.Listener
		manager   *wallet.Manager
	)

	BeforeEach(func() {
		ctx = context.Background()
		publisher = &recordingPublisher{}
		manager = wallet.NewManager(storage.NewInMemoryStorage(), params, testLogger())
		listener = network.NewListener(source, manager, publisher, testLogger())
	})

	It("should publish the peer count it tracks when the download completes", func() {
		listener.PeerConnected(ctx, "10.0.0.1:18444", 1)
		listener.PeerConnected(ctx, "10.0.0.2:18444", 2)
		listener.ChainDownloadStarted(ctx, "10.0.0.1:18444", 4)
		listener.BlocksDownloaded(ctx, 2, time.Now())
		Expect(listener.IsDownloading()).To(BeTrue())

		listener.BlocksDownloaded(ctx, 0, time.Now())
		Expect(listener.IsDownloading()).To(BeFalse())

		events := publisher.Events()
		last := events[len(events)-1]
		Expect(last.Type).To(Equal(types.EventTypePeerCount))
		Expect(last.Payload).To(Equal(types.PeerCountChanged{Count: 2}))
	})

	It("should report the state of every tracker", func() {
		address := testAddress(1)
		Expect(manager.WatchAddress(ctx, walletID, address.EncodeAddress())).To(Succeed())
		Expect(manager.SelectWallet(ctx, walletID)).To(Succeed())

		listener.PeerConnected(ctx, "10.0.0.1:18444", 3)
		listener.PeerDisconnected(ctx, "10.0.0.1:18444", 2)
		listener.ChainDownloadStarted(ctx, "10.0.0.2:18444", 100)
		listener.BlocksDownloaded(ctx, 25, time.Now())

		tx := paymentTx(address, 1000, chainhash.Hash{3})
		listener.TransactionObserved(ctx, types.NewObservedTransaction(tx, types.SourceNetwork, 0), "10.0.0.2:18444")
		listener.TransactionObserved(ctx, types.NewObservedTransaction(tx.Copy(), types.SourceNetwork, 0), "10.0.0.1:18444")

		Expect(listener.Stats()).To(Equal(types.ListenerStats{
			Network:              source,
			ConnectedPeers:       2,
			IsDownloading:        true,
			LastPercent:          75,
			OriginalBlocksLeft:   100,
			ObservedTransactions: 2,
			AdmittedTransactions: 1,
			DiscardedRelays:      1,
		}))
	})
})
