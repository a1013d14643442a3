package wallet

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/igwedaniel/walletsync/internal/storage"
	"github.com/igwedaniel/walletsync/internal/types"
	"github.com/sirupsen/logrus"
)

var (
	// ErrIllegalState is returned when admitting a transaction would
	// conflict with what the wallet already holds, e.g. a second spend of
	// the same wallet output.
	ErrIllegalState = errors.New("wallet: illegal state")

	// ErrUnknownWallet is returned when selecting a wallet with no watched
	// addresses.
	ErrUnknownWallet = errors.New("wallet: unknown wallet")

	ErrInvalidAddress = errors.New("wallet: invalid address")
)

// Wallet is the capability the network listener needs from a wallet
type Wallet interface {
	ID() string

	// IsRelevant reports whether tx touches an address or output the wallet
	// controls. Scripts that cannot be interpreted yield types.Unparseable.
	IsRelevant(ctx context.Context, tx *types.ObservedTransaction) (types.Relevance, error)

	// HasTransaction reports whether the wallet already holds hash.
	HasTransaction(ctx context.Context, hash chainhash.Hash) (bool, error)

	// AdmitPending inserts tx into the pending set unless a transaction with
	// the same hash is already there. It reports true only for the call that
	// performed the insert.
	AdmitPending(ctx context.Context, tx *types.ObservedTransaction) (bool, error)

	// ValueToWallet returns what tx sends to the wallet minus what it spends
	// from it.
	ValueToWallet(ctx context.Context, tx *types.ObservedTransaction) (btcutil.Amount, error)
}

// Registry hands out the current wallet
type Registry interface {
	CurrentWallet(ctx context.Context) (Wallet, bool)
}

// ParamsForNetwork maps a network name to its chain parameters
func ParamsForNetwork(network string) (*chaincfg.Params, error) {
	switch network {
	case "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	case "simnet":
		return &chaincfg.SimNetParams, nil
	}
	return nil, fmt.Errorf("unknown network ID %v", network)
}

// Manager keeps track of the current wallet and builds Handles over storage
type Manager struct {
	storage storage.Storage
	params  *chaincfg.Params
	logger  *logrus.Logger

	mu      sync.RWMutex
	current *Handle
}

func NewManager(store storage.Storage, params *chaincfg.Params, logger *logrus.Logger) *Manager {
	return &Manager{
		storage: store,
		params:  params,
		logger:  logger,
	}
}

// Load restores the current wallet recorded in storage, if any
func (m *Manager) Load(ctx context.Context) error {
	walletID, err := m.storage.GetCurrentWallet(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read current wallet: %w", err)
	}

	m.mu.Lock()
	m.current = m.handle(walletID)
	m.mu.Unlock()

	m.logger.WithField("wallet_id", walletID).Info("Restored current wallet")
	return nil
}

// Params returns the chain parameters addresses are decoded with
func (m *Manager) Params() *chaincfg.Params {
	return m.params
}

// CurrentWallet implements Registry
func (m *Manager) CurrentWallet(ctx context.Context) (Wallet, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return nil, false
	}
	return m.current, true
}

// SelectWallet makes walletID the current wallet. The wallet must watch at
// least one address.
func (m *Manager) SelectWallet(ctx context.Context, walletID string) error {
	addresses, err := m.storage.GetWatchedAddresses(ctx, walletID)
	if err != nil {
		return fmt.Errorf("failed to read watched addresses: %w", err)
	}
	if len(addresses) == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownWallet, walletID)
	}
	if err := m.storage.SetCurrentWallet(ctx, walletID); err != nil {
		return fmt.Errorf("failed to persist current wallet: %w", err)
	}

	m.mu.Lock()
	m.current = m.handle(walletID)
	m.mu.Unlock()

	m.logger.WithFields(logrus.Fields{
		"wallet_id": walletID,
		"addresses": len(addresses),
	}).Info("Current wallet selected")
	return nil
}

// WatchAddress adds address to the wallet after checking it belongs to the
// configured network
func (m *Manager) WatchAddress(ctx context.Context, walletID, address string) error {
	decoded, err := btcutil.DecodeAddress(address, m.params)
	if err != nil {
		return fmt.Errorf("%w %q: %v", ErrInvalidAddress, address, err)
	}
	if !decoded.IsForNet(m.params) {
		return fmt.Errorf("%w %q: not for %s", ErrInvalidAddress, address, m.params.Name)
	}
	return m.storage.AddWatchedAddress(ctx, walletID, decoded.EncodeAddress())
}

func (m *Manager) UnwatchAddress(ctx context.Context, walletID, address string) error {
	return m.storage.RemoveWatchedAddress(ctx, walletID, address)
}

func (m *Manager) WatchedAddresses(ctx context.Context, walletID string) ([]string, error) {
	return m.storage.GetWatchedAddresses(ctx, walletID)
}

func (m *Manager) PendingTransactions(ctx context.Context, walletID string) ([]string, error) {
	return m.storage.GetPendingTransactions(ctx, walletID)
}

func (m *Manager) handle(walletID string) *Handle {
	return &Handle{
		id:      walletID,
		storage: m.storage,
		params:  m.params,
		logger:  m.logger,
	}
}

// Handle is a Wallet backed by storage
type Handle struct {
	id      string
	storage storage.Storage
	params  *chaincfg.Params
	logger  *logrus.Logger
}

func (h *Handle) ID() string {
	return h.id
}

func (h *Handle) HasTransaction(ctx context.Context, hash chainhash.Hash) (bool, error) {
	_, err := h.storage.GetPendingTransaction(ctx, h.id, hash.String())
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (h *Handle) AdmitPending(ctx context.Context, tx *types.ObservedTransaction) (bool, error) {
	txHash := tx.Hash().String()

	// Claims taken here are given back unless the transaction makes it into
	// the pending set
	var claimed []string
	defer func() {
		for _, outpoint := range claimed {
			if releaseErr := h.storage.ReleaseOutputSpent(ctx, h.id, outpoint, txHash); releaseErr != nil {
				h.logger.WithFields(logrus.Fields{
					"wallet_id": h.id,
					"outpoint":  outpoint,
					"tx_hash":   txHash,
				}).Errorf("Failed to release output claim: %v", releaseErr)
			}
		}
	}()

	// Claim every wallet output the transaction spends. A claim held by
	// another transaction is a double spend.
	for _, in := range tx.Tx.TxIn {
		outpoint := in.PreviousOutPoint.String()
		_, owned, err := h.storage.GetWalletOutput(ctx, h.id, outpoint)
		if err != nil {
			return false, fmt.Errorf("failed to read wallet output %s: %w", outpoint, err)
		}
		if !owned {
			continue
		}
		spender, fresh, err := h.storage.MarkOutputSpent(ctx, h.id, outpoint, txHash)
		if err != nil {
			return false, fmt.Errorf("failed to mark %s spent: %w", outpoint, err)
		}
		if fresh {
			claimed = append(claimed, outpoint)
		}
		if spender != txHash {
			return false, fmt.Errorf("%w: output %s already spent by %s", ErrIllegalState, outpoint, spender)
		}
	}

	var raw bytes.Buffer
	if err := tx.Tx.Serialize(&raw); err != nil {
		return false, fmt.Errorf("failed to serialize transaction: %w", err)
	}

	inserted, err := h.storage.AddPendingTransaction(ctx, h.id, txHash, raw.Bytes())
	if err != nil {
		return false, fmt.Errorf("failed to add pending transaction: %w", err)
	}
	// The claims now belong to the pending entry, or to the earlier relay
	// that created it
	claimed = nil
	if !inserted {
		return false, nil
	}

	// Remember outputs paying the wallet so later spends are recognised
	for index, out := range tx.Tx.TxOut {
		mine, err := h.paysWallet(ctx, out.PkScript)
		if err != nil {
			return true, fmt.Errorf("failed to classify output %d: %w", index, err)
		}
		if !mine {
			continue
		}
		outpoint := fmt.Sprintf("%s:%d", txHash, index)
		if err := h.storage.AddWalletOutput(ctx, h.id, outpoint, out.Value); err != nil {
			return true, fmt.Errorf("failed to record wallet output %s: %w", outpoint, err)
		}
	}

	return true, nil
}

func (h *Handle) ValueToWallet(ctx context.Context, tx *types.ObservedTransaction) (btcutil.Amount, error) {
	var value int64
	for index, out := range tx.Tx.TxOut {
		mine, err := h.paysWallet(ctx, out.PkScript)
		if err != nil {
			return 0, fmt.Errorf("failed to classify output %d: %w", index, err)
		}
		if mine {
			value += out.Value
		}
	}
	for _, in := range tx.Tx.TxIn {
		spent, owned, err := h.storage.GetWalletOutput(ctx, h.id, in.PreviousOutPoint.String())
		if err != nil {
			return 0, fmt.Errorf("failed to read wallet output: %w", err)
		}
		if owned {
			value -= spent
		}
	}
	return btcutil.Amount(value), nil
}
