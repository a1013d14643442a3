package network

import (
	"context"
	"errors"

	"github.com/igwedaniel/walletsync/internal/messaging"
	"github.com/igwedaniel/walletsync/internal/types"
	"github.com/igwedaniel/walletsync/internal/wallet"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

// AdmissionController decides for each relayed transaction whether it
// belongs in the current wallet's pending set, and reports the first relay
// of every admitted transaction. The same transaction usually arrives from
// several peers at once.
type AdmissionController struct {
	source    string
	registry  wallet.Registry
	publisher messaging.Publisher
	logger    *logrus.Logger

	observed  atomic.Uint64
	admitted  atomic.Uint64
	discarded atomic.Uint64
}

func NewAdmissionController(source string, registry wallet.Registry, publisher messaging.Publisher, logger *logrus.Logger) *AdmissionController {
	return &AdmissionController{
		source:    source,
		registry:  registry,
		publisher: publisher,
		logger:    logger,
	}
}

// OnTransactionObserved is called once per peer relaying tx. Nothing it
// encounters is returned to the caller: bad relay data and wallet conflicts
// are logged and the relay is dropped.
func (c *AdmissionController) OnTransactionObserved(ctx context.Context, tx *types.ObservedTransaction, peer string) {
	c.observed.Inc()
	if !c.admit(ctx, tx, peer) {
		c.discarded.Inc()
	}
}

func (c *AdmissionController) admit(ctx context.Context, tx *types.ObservedTransaction, peer string) bool {
	w, ok := c.registry.CurrentWallet(ctx)
	if !ok {
		return false
	}

	logger := c.logger.WithFields(logrus.Fields{
		"tx_hash":   tx.Hash().String(),
		"peer":      peer,
		"wallet_id": w.ID(),
	})

	relevance, err := w.IsRelevant(ctx, tx)
	if err != nil {
		logger.Errorf("Failed to check transaction relevance: %v", err)
		return false
	}
	switch relevance {
	case types.Unparseable:
		logger.Debug("Discarding transaction with unparseable script")
		return false
	case types.NotRelevant:
		return false
	}

	if tx.IsTimeLocked() && tx.Source != types.SourceSelf {
		logger.WithField("source", tx.Source.String()).Debug("Discarding time-locked transaction")
		return false
	}

	held, err := w.HasTransaction(ctx, tx.Hash())
	if err != nil {
		logger.Errorf("Failed to look up transaction: %v", err)
		return false
	}
	if held || !tx.IsPending() {
		return false
	}

	inserted, err := w.AdmitPending(ctx, tx)
	if errors.Is(err, wallet.ErrIllegalState) {
		logger.Warnf("Rejected pending transaction: %v", err)
		return false
	}
	if err != nil {
		logger.Errorf("Failed to admit pending transaction: %v", err)
		// inserted may still be true when only bookkeeping failed
		if !inserted {
			return false
		}
	}
	if !inserted {
		// another peer's relay was admitted first
		return false
	}
	c.admitted.Inc()

	value, err := w.ValueToWallet(ctx, tx)
	if err != nil {
		logger.Errorf("Failed to compute value to wallet: %v", err)
	}

	logger.WithField("value", value.String()).Info("Received pending transaction")
	publish(ctx, c.publisher, c.logger, types.NewTransactionSeenEvent(c.source, types.TransactionSeen{
		TransactionID:   tx.Hash().String(),
		WalletID:        w.ID(),
		ValueToWallet:   value,
		FirstAppearance: true,
	}))
	return true
}

// Counts returns the number of observed, admitted and discarded relays
func (c *AdmissionController) Counts() (observed, admitted, discarded uint64) {
	return c.observed.Load(), c.admitted.Load(), c.discarded.Load()
}
