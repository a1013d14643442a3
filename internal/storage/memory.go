package storage

import (
	"context"
	"sort"
	"sync"
)

// InMemoryStorage is a simple in-memory implementation for testing and for
// running without Redis
type InMemoryStorage struct {
	mu             sync.Mutex
	currentWallet  string
	watchedWallets map[string]map[string]struct{} // walletID -> address
	outputs        map[string]map[string]int64    // walletID -> outpoint -> value
	spent          map[string]map[string]string   // walletID -> outpoint -> spender
	pending        map[string]map[string][]byte   // walletID -> txHash -> raw
}

func NewInMemoryStorage() *InMemoryStorage {
	return &InMemoryStorage{
		watchedWallets: make(map[string]map[string]struct{}),
		outputs:        make(map[string]map[string]int64),
		spent:          make(map[string]map[string]string),
		pending:        make(map[string]map[string][]byte),
	}
}

func (m *InMemoryStorage) SetCurrentWallet(ctx context.Context, walletID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentWallet = walletID
	return nil
}

func (m *InMemoryStorage) GetCurrentWallet(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.currentWallet == "" {
		return "", ErrNotFound
	}
	return m.currentWallet, nil
}

func (m *InMemoryStorage) AddWatchedAddress(ctx context.Context, walletID, address string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.watchedWallets[walletID] == nil {
		m.watchedWallets[walletID] = make(map[string]struct{})
	}
	m.watchedWallets[walletID][address] = struct{}{}
	return nil
}

func (m *InMemoryStorage) RemoveWatchedAddress(ctx context.Context, walletID, address string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if addresses, exists := m.watchedWallets[walletID]; exists {
		delete(addresses, address)
	}
	return nil
}

func (m *InMemoryStorage) IsWatchedAddress(ctx context.Context, walletID, address string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, found := m.watchedWallets[walletID][address]
	return found, nil
}

func (m *InMemoryStorage) GetWatchedAddresses(ctx context.Context, walletID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	addresses := make([]string, 0, len(m.watchedWallets[walletID]))
	for address := range m.watchedWallets[walletID] {
		addresses = append(addresses, address)
	}
	sort.Strings(addresses)
	return addresses, nil
}

func (m *InMemoryStorage) AddWalletOutput(ctx context.Context, walletID, outpoint string, value int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.outputs[walletID] == nil {
		m.outputs[walletID] = make(map[string]int64)
	}
	m.outputs[walletID][outpoint] = value
	return nil
}

func (m *InMemoryStorage) GetWalletOutput(ctx context.Context, walletID, outpoint string) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, found := m.outputs[walletID][outpoint]
	return value, found, nil
}

func (m *InMemoryStorage) MarkOutputSpent(ctx context.Context, walletID, outpoint, txHash string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.spent[walletID] == nil {
		m.spent[walletID] = make(map[string]string)
	}
	if spender, found := m.spent[walletID][outpoint]; found {
		return spender, false, nil
	}
	m.spent[walletID][outpoint] = txHash
	return txHash, true, nil
}

func (m *InMemoryStorage) ReleaseOutputSpent(ctx context.Context, walletID, outpoint, txHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.spent[walletID][outpoint] == txHash {
		delete(m.spent[walletID], outpoint)
	}
	return nil
}

func (m *InMemoryStorage) AddPendingTransaction(ctx context.Context, walletID, txHash string, raw []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending[walletID] == nil {
		m.pending[walletID] = make(map[string][]byte)
	}
	if _, exists := m.pending[walletID][txHash]; exists {
		return false, nil
	}
	m.pending[walletID][txHash] = append([]byte(nil), raw...)
	return true, nil
}

func (m *InMemoryStorage) GetPendingTransaction(ctx context.Context, walletID, txHash string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, found := m.pending[walletID][txHash]
	if !found {
		return nil, ErrNotFound
	}
	return raw, nil
}

func (m *InMemoryStorage) GetPendingTransactions(ctx context.Context, walletID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	hashes := make([]string, 0, len(m.pending[walletID]))
	for txHash := range m.pending[walletID] {
		hashes = append(hashes, txHash)
	}
	sort.Strings(hashes)
	return hashes, nil
}

func (m *InMemoryStorage) Ping(ctx context.Context) error {
	return nil
}

func (m *InMemoryStorage) Close() error {
	return nil
}
