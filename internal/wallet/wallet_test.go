package wallet_test

import (
	"bytes"
	"context"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/igwedaniel/walletsync/internal/storage"
	"github.com/igwedaniel/walletsync/internal/types"
	"github.com/igwedaniel/walletsync/internal/wallet"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"
)

const walletID = "main"

var params = &chaincfg.RegressionNetParams

func address(seed byte, net *chaincfg.Params) btcutil.Address {
	addr, err := btcutil.NewAddressPubKeyHash(bytes.Repeat([]byte{seed}, 20), net)
	Expect(err).To(BeNil())
	return addr
}

func payTo(addr btcutil.Address, value int64, prev chainhash.Hash, index uint32) *types.ObservedTransaction {
	script, err := txscript.PayToAddrScript(addr)
	Expect(err).To(BeNil())
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&prev, index), nil, nil))
	tx.AddTxOut(wire.NewTxOut(value, script))
	return types.NewObservedTransaction(tx, types.SourceNetwork, 0)
}

var _ = Describe("Manager", func() {
	var (
		ctx     context.Context
		store   *storage.InMemoryStorage
		manager *wallet.Manager
		mine    btcutil.Address
		other   btcutil.Address
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = storage.NewInMemoryStorage()
		logger := logrus.New()
		logger.SetOutput(GinkgoWriter)
		manager = wallet.NewManager(store, params, logger)
		mine = address(1, params)
		other = address(2, params)
	})

	Describe("ParamsForNetwork", func() {
		It("should resolve every supported network", func() {
			for name, expected := range map[string]*chaincfg.Params{
				"mainnet":  &chaincfg.MainNetParams,
				"testnet3": &chaincfg.TestNet3Params,
				"regtest":  &chaincfg.RegressionNetParams,
				"signet":   &chaincfg.SigNetParams,
				"simnet":   &chaincfg.SimNetParams,
			} {
				resolved, err := wallet.ParamsForNetwork(name)
				Expect(err).To(BeNil())
				Expect(resolved).To(BeIdenticalTo(expected))
			}
		})

		It("should reject unknown networks", func() {
			_, err := wallet.ParamsForNetwork("dogecoin")
			Expect(err).ToNot(BeNil())
		})
	})

	Describe("WatchAddress", func() {
		It("should reject addresses of another network", func() {
			err := manager.WatchAddress(ctx, walletID, address(1, &chaincfg.MainNetParams).EncodeAddress())
			Expect(err).To(MatchError(wallet.ErrInvalidAddress))
		})

		It("should reject garbage", func() {
			err := manager.WatchAddress(ctx, walletID, "not-an-address")
			Expect(err).To(MatchError(wallet.ErrInvalidAddress))
		})
	})

	Describe("SelectWallet", func() {
		It("should refuse a wallet without addresses", func() {
			Expect(manager.SelectWallet(ctx, walletID)).To(MatchError(wallet.ErrUnknownWallet))
			_, ok := manager.CurrentWallet(ctx)
			Expect(ok).To(BeFalse())
		})

		It("should persist the selection for the next Load", func() {
			Expect(manager.WatchAddress(ctx, walletID, mine.EncodeAddress())).To(Succeed())
			Expect(manager.SelectWallet(ctx, walletID)).To(Succeed())

			restored := wallet.NewManager(store, params, logrus.New())
			Expect(restored.Load(ctx)).To(Succeed())
			current, ok := restored.CurrentWallet(ctx)
			Expect(ok).To(BeTrue())
			Expect(current.ID()).To(Equal(walletID))
		})
	})

	Describe("Handle", func() {
		var current wallet.Wallet

		BeforeEach(func() {
			Expect(manager.WatchAddress(ctx, walletID, mine.EncodeAddress())).To(Succeed())
			Expect(manager.SelectWallet(ctx, walletID)).To(Succeed())
			var ok bool
			current, ok = manager.CurrentWallet(ctx)
			Expect(ok).To(BeTrue())
		})

		Describe("IsRelevant", func() {
			It("should accept payments to a watched address", func() {
				relevance, err := current.IsRelevant(ctx, payTo(mine, 1000, chainhash.Hash{1}, 0))
				Expect(err).To(BeNil())
				Expect(relevance).To(Equal(types.Relevant))
			})

			It("should reject payments elsewhere", func() {
				relevance, err := current.IsRelevant(ctx, payTo(other, 1000, chainhash.Hash{1}, 0))
				Expect(err).To(BeNil())
				Expect(relevance).To(Equal(types.NotRelevant))
			})

			It("should accept spends of a wallet output", func() {
				Expect(store.AddWalletOutput(ctx, walletID, wire.NewOutPoint(&chainhash.Hash{9}, 1).String(), 700)).To(Succeed())
				relevance, err := current.IsRelevant(ctx, payTo(other, 600, chainhash.Hash{9}, 1))
				Expect(err).To(BeNil())
				Expect(relevance).To(Equal(types.Relevant))
			})

			It("should flag a truncated script as unparseable", func() {
				tx := payTo(other, 1000, chainhash.Hash{1}, 0)
				tx.Tx.TxOut[0].PkScript = []byte{txscript.OP_PUSHDATA1, 0x10, 0x01}
				relevance, err := current.IsRelevant(ctx, tx)
				Expect(err).To(BeNil())
				Expect(relevance).To(Equal(types.Unparseable))
			})
		})

		Describe("AdmitPending", func() {
			It("should insert once and record outputs paying the wallet", func() {
				tx := payTo(mine, 1000, chainhash.Hash{1}, 0)

				inserted, err := current.AdmitPending(ctx, tx)
				Expect(err).To(BeNil())
				Expect(inserted).To(BeTrue())

				held, err := current.HasTransaction(ctx, tx.Hash())
				Expect(err).To(BeNil())
				Expect(held).To(BeTrue())

				value, found, err := store.GetWalletOutput(ctx, walletID, tx.Hash().String()+":0")
				Expect(err).To(BeNil())
				Expect(found).To(BeTrue())
				Expect(value).To(BeEquivalentTo(1000))

				inserted, err = current.AdmitPending(ctx, types.NewObservedTransaction(tx.Tx.Copy(), types.SourceNetwork, 0))
				Expect(err).To(BeNil())
				Expect(inserted).To(BeFalse())
			})

			It("should fail with ErrIllegalState on a double spend", func() {
				funding := payTo(mine, 1000, chainhash.Hash{1}, 0)
				_, err := current.AdmitPending(ctx, funding)
				Expect(err).To(BeNil())

				_, err = current.AdmitPending(ctx, payTo(other, 900, funding.Hash(), 0))
				Expect(err).To(BeNil())

				inserted, err := current.AdmitPending(ctx, payTo(other, 800, funding.Hash(), 0))
				Expect(err).To(MatchError(wallet.ErrIllegalState))
				Expect(inserted).To(BeFalse())
			})
		})

		Describe("ValueToWallet", func() {
			It("should net received against spent outputs", func() {
				funding := payTo(mine, 1000, chainhash.Hash{1}, 0)
				_, err := current.AdmitPending(ctx, funding)
				Expect(err).To(BeNil())

				value, err := current.ValueToWallet(ctx, funding)
				Expect(err).To(BeNil())
				Expect(value).To(Equal(btcutil.Amount(1000)))

				change := payTo(other, 600, funding.Hash(), 0)
				script, err := txscript.PayToAddrScript(mine)
				Expect(err).To(BeNil())
				change.Tx.AddTxOut(wire.NewTxOut(300, script))

				value, err = current.ValueToWallet(ctx, change)
				Expect(err).To(BeNil())
				Expect(value).To(Equal(btcutil.Amount(-700)))
			})
		})
	})
})
