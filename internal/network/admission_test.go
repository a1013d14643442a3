package network_test

import (
	"context"
	"errors"
	"sync"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/igwedaniel/walletsync/internal/network"
	"github.com/igwedaniel/walletsync/internal/storage"
	"github.com/igwedaniel/walletsync/internal/types"
	"github.com/igwedaniel/walletsync/internal/wallet"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

const walletID = "main"

// brokenWallet fails every relevance check
type brokenWallet struct{}

func (brokenWallet) ID() string { return "broken" }

func (brokenWallet) IsRelevant(ctx context.Context, tx *types.ObservedTransaction) (types.Relevance, error) {
	return types.NotRelevant, errors.New("wallet offline")
}

func (brokenWallet) HasTransaction(ctx context.Context, hash chainhash.Hash) (bool, error) {
	return false, nil
}

func (brokenWallet) AdmitPending(ctx context.Context, tx *types.ObservedTransaction) (bool, error) {
	Fail("admission reached after a failed relevance check")
	return false, nil
}

func (brokenWallet) ValueToWallet(ctx context.Context, tx *types.ObservedTransaction) (btcutil.Amount, error) {
	return 0, nil
}

type staticRegistry struct {
	wallet wallet.Wallet
}

func (r staticRegistry) CurrentWallet(ctx context.Context) (wallet.Wallet, bool) {
	return r.wallet, r.wallet != nil
}

var _ = Describe("AdmissionController", func() {
	var (
		ctx        context.Context
		store      *storage.InMemoryStorage
		manager    *wallet.Manager
		publisher  *recordingPublisher
		controller *network.AdmissionController
		mine       btcutil.Address
		other      btcutil.Address
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = storage.NewInMemoryStorage()
		manager = wallet.NewManager(store, params, testLogger())
		publisher = &recordingPublisher{}
		controller = network.NewAdmissionController(source, manager, publisher, testLogger())

		mine = testAddress(1)
		other = testAddress(2)
		Expect(manager.WatchAddress(ctx, walletID, mine.EncodeAddress())).To(Succeed())
		Expect(manager.SelectWallet(ctx, walletID)).To(Succeed())
	})

	seenEvents := func() []types.TransactionSeen {
		var seen []types.TransactionSeen
		for _, ev := range publisher.OfType(types.EventTypeTransactionSeen) {
			seen = append(seen, ev.Payload.(types.TransactionSeen))
		}
		return seen
	}

	relay := func(tx *wire.MsgTx, source types.ConfidenceSource, confirmations int32) {
		controller.OnTransactionObserved(ctx, types.NewObservedTransaction(tx.Copy(), source, confirmations), "10.0.0.1:18444")
	}

	isPending := func(tx *wire.MsgTx) bool {
		_, err := store.GetPendingTransaction(ctx, walletID, tx.TxHash().String())
		return err == nil
	}

	Context("when no wallet is current", func() {
		It("should discard the relay", func() {
			controller = network.NewAdmissionController(source, staticRegistry{}, publisher, testLogger())
			relay(paymentTx(mine, 5000, chainhash.Hash{1}), types.SourceNetwork, 0)

			Expect(publisher.Events()).To(BeEmpty())
			observed, admitted, discarded := controller.Counts()
			Expect(observed).To(BeEquivalentTo(1))
			Expect(admitted).To(BeEquivalentTo(0))
			Expect(discarded).To(BeEquivalentTo(1))
		})
	})

	Context("when the transaction pays the wallet", func() {
		It("should admit it and report the first appearance", func() {
			tx := paymentTx(mine, 5000, chainhash.Hash{1})
			relay(tx, types.SourceNetwork, 0)

			seen := seenEvents()
			Expect(seen).To(HaveLen(1))
			Expect(seen[0]).To(Equal(types.TransactionSeen{
				TransactionID:   tx.TxHash().String(),
				WalletID:        walletID,
				ValueToWallet:   btcutil.Amount(5000),
				FirstAppearance: true,
			}))
			Expect(isPending(tx)).To(BeTrue())
		})

		It("should ignore later relays of the same transaction", func() {
			tx := paymentTx(mine, 5000, chainhash.Hash{1})
			relay(tx, types.SourceNetwork, 0)
			relay(tx, types.SourceNetwork, 0)
			relay(tx, types.SourceNetwork, 0)

			Expect(seenEvents()).To(HaveLen(1))
			_, admitted, discarded := controller.Counts()
			Expect(admitted).To(BeEquivalentTo(1))
			Expect(discarded).To(BeEquivalentTo(2))
		})

		It("should not admit a confirmed transaction", func() {
			tx := paymentTx(mine, 5000, chainhash.Hash{1})
			relay(tx, types.SourceNetwork, 3)

			Expect(seenEvents()).To(BeEmpty())
			Expect(isPending(tx)).To(BeFalse())
		})
	})

	Context("when the transaction is not relevant", func() {
		It("should never report it", func() {
			for i := byte(0); i < 10; i++ {
				relay(paymentTx(other, 5000, chainhash.Hash{i}), types.SourceNetwork, 0)
			}
			Expect(seenEvents()).To(BeEmpty())
		})
	})

	Context("when an output script cannot be parsed", func() {
		It("should discard the relay", func() {
			tx := paymentTx(mine, 5000, chainhash.Hash{1})
			// push of five bytes with only one present
			tx.AddTxOut(wire.NewTxOut(1, []byte{txscript.OP_DATA_5, 0x01}))
			relay(tx, types.SourceNetwork, 0)

			Expect(seenEvents()).To(BeEmpty())
			Expect(isPending(tx)).To(BeFalse())
		})
	})

	Context("when the transaction is time-locked", func() {
		It("should discard it when relayed by the network", func() {
			tx := timeLocked(paymentTx(mine, 5000, chainhash.Hash{1}))
			relay(tx, types.SourceNetwork, 0)

			Expect(seenEvents()).To(BeEmpty())
			Expect(isPending(tx)).To(BeFalse())
		})

		It("should discard it when the source is unknown", func() {
			tx := timeLocked(paymentTx(mine, 5000, chainhash.Hash{1}))
			relay(tx, types.SourceUnknown, 0)

			Expect(isPending(tx)).To(BeFalse())
		})

		It("should admit it when the wallet created it", func() {
			tx := timeLocked(paymentTx(mine, 5000, chainhash.Hash{1}))
			relay(tx, types.SourceSelf, 0)

			Expect(seenEvents()).To(HaveLen(1))
			Expect(isPending(tx)).To(BeTrue())
		})
	})

	Context("when two transactions spend the same wallet output", func() {
		It("should admit the first and drop the conflicting one", func() {
			funding := paymentTx(mine, 5000, chainhash.Hash{1})
			relay(funding, types.SourceNetwork, 0)
			fundingHash := funding.TxHash()

			spend := paymentTx(other, 4000, fundingHash)
			relay(spend, types.SourceNetwork, 0)

			doubleSpend := paymentTx(other, 4500, fundingHash)
			relay(doubleSpend, types.SourceNetwork, 0)

			seen := seenEvents()
			Expect(seen).To(HaveLen(2))
			By("reporting the spend as value leaving the wallet")
			Expect(seen[1].TransactionID).To(Equal(spend.TxHash().String()))
			Expect(seen[1].ValueToWallet).To(Equal(btcutil.Amount(-5000)))
			Expect(isPending(doubleSpend)).To(BeFalse())
		})

		It("should leave no claims behind for the rejected one", func() {
			script, err := txscript.PayToAddrScript(mine)
			Expect(err).To(BeNil())
			funding := paymentTx(mine, 5000, chainhash.Hash{1})
			funding.AddTxOut(wire.NewTxOut(3000, script))
			relay(funding, types.SourceNetwork, 0)
			fundingHash := funding.TxHash()

			spendSecond := paymentTx(other, 2500, chainhash.Hash{})
			spendSecond.TxIn[0].PreviousOutPoint = *wire.NewOutPoint(&fundingHash, 1)
			relay(spendSecond, types.SourceNetwork, 0)

			By("rejecting a spend of both outputs on the second one")
			spendBoth := paymentTx(other, 7000, fundingHash)
			spendBoth.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&fundingHash, 1), nil, nil))
			relay(spendBoth, types.SourceNetwork, 0)
			Expect(isPending(spendBoth)).To(BeFalse())

			By("still admitting a spend of the first output alone")
			spendFirst := paymentTx(other, 4500, fundingHash)
			relay(spendFirst, types.SourceNetwork, 0)

			Expect(seenEvents()).To(HaveLen(3))
			Expect(isPending(spendFirst)).To(BeTrue())
		})
	})

	Context("when the relevance check fails", func() {
		It("should log and discard without admitting", func() {
			controller = network.NewAdmissionController(source, staticRegistry{wallet: brokenWallet{}}, publisher, testLogger())
			Expect(func() {
				relay(paymentTx(mine, 5000, chainhash.Hash{1}), types.SourceNetwork, 0)
			}).NotTo(Panic())
			Expect(publisher.Events()).To(BeEmpty())
		})
	})

	Context("when many peers relay the same transaction at once", func() {
		It("should report exactly one first appearance", func() {
			const peers = 200
			tx := paymentTx(mine, 5000, chainhash.Hash{7})

			start := make(chan struct{})
			var wg sync.WaitGroup
			for i := 0; i < peers; i++ {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					observed := types.NewObservedTransaction(tx.Copy(), types.SourceNetwork, 0)
					<-start
					controller.OnTransactionObserved(ctx, observed, "peer")
				}()
			}
			close(start)
			wg.Wait()

			first := 0
			for _, seen := range seenEvents() {
				if seen.FirstAppearance {
					first++
				}
			}
			Expect(first).To(Equal(1))

			observed, admitted, discarded := controller.Counts()
			Expect(observed).To(BeEquivalentTo(peers))
			Expect(admitted).To(BeEquivalentTo(1))
			Expect(discarded).To(BeEquivalentTo(peers - 1))
		})
	})
})
