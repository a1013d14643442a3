package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/igwedaniel/walletsync/internal/config"
	"github.com/sirupsen/logrus"
)

// ErrNotFound is returned when a requested key does not exist
var ErrNotFound = errors.New("storage: not found")

// Storage interface for loose coupling
type Storage interface {
	// Wallet registry
	SetCurrentWallet(ctx context.Context, walletID string) error
	GetCurrentWallet(ctx context.Context) (string, error)
	AddWatchedAddress(ctx context.Context, walletID, address string) error
	RemoveWatchedAddress(ctx context.Context, walletID, address string) error
	IsWatchedAddress(ctx context.Context, walletID, address string) (bool, error)
	GetWatchedAddresses(ctx context.Context, walletID string) ([]string, error)

	// Wallet outputs, keyed by outpoint ("<txid>:<index>")
	AddWalletOutput(ctx context.Context, walletID, outpoint string, value int64) error
	GetWalletOutput(ctx context.Context, walletID, outpoint string) (int64, bool, error)
	// MarkOutputSpent records txHash as the spender of outpoint unless a
	// spender is already recorded. It returns the recorded spender and
	// whether this call recorded it.
	MarkOutputSpent(ctx context.Context, walletID, outpoint, txHash string) (string, bool, error)
	// ReleaseOutputSpent removes the spender of outpoint if it is txHash
	ReleaseOutputSpent(ctx context.Context, walletID, outpoint, txHash string) error

	// Pending set
	// AddPendingTransaction stores raw under txHash only if txHash was never
	// stored before and reports whether this call inserted it. An expired
	// entry still counts as stored.
	AddPendingTransaction(ctx context.Context, walletID, txHash string, raw []byte) (bool, error)
	GetPendingTransaction(ctx context.Context, walletID, txHash string) ([]byte, error)
	GetPendingTransactions(ctx context.Context, walletID string) ([]string, error)

	// Health check
	Ping(ctx context.Context) error
	Close() error
}

// RedisStorage implements Storage interface using Redis
type RedisStorage struct {
	client     *redis.Client
	pendingTTL time.Duration
	logger     *logrus.Logger
}

// NewRedisStorage creates a new Redis storage instance
func NewRedisStorage(cfg *config.RedisConfig, logger *logrus.Logger) (*RedisStorage, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opt.PoolSize = cfg.PoolSize
	opt.MinIdleConns = cfg.MinIdleConns
	opt.DialTimeout = cfg.DialTimeout
	opt.ReadTimeout = cfg.ReadTimeout
	opt.WriteTimeout = cfg.WriteTimeout

	client := redis.NewClient(opt)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisStorageWithClient(client, cfg.PendingTTL, logger), nil
}

// NewRedisStorageWithClient wraps an existing client. A zero pendingTTL keeps
// pending transactions until they are removed by hand. The set of hashes ever
// admitted never expires.
func NewRedisStorageWithClient(client *redis.Client, pendingTTL time.Duration, logger *logrus.Logger) *RedisStorage {
	return &RedisStorage{
		client:     client,
		pendingTTL: pendingTTL,
		logger:     logger,
	}
}

const currentWalletKey = "wallet:current"

func watchedKey(walletID string) string { return fmt.Sprintf("watch:addresses:%s", walletID) }
func outputsKey(walletID string) string { return fmt.Sprintf("wallet:outputs:%s", walletID) }
func spentKey(walletID string) string { return fmt.Sprintf("wallet:spent:%s", walletID) }
func pendingIndexKey(walletID string) string { return fmt.Sprintf("pending:index:%s", walletID) }
func pendingSeenKey(walletID string) string { return fmt.Sprintf("pending:seen:%s", walletID) }
func pendingKey(walletID, txHash string) string {
	return fmt.Sprintf("pending:%s:%s", walletID, txHash)
}

// Wallet registry methods
func (r *RedisStorage) SetCurrentWallet(ctx context.Context, walletID string) error {
	return r.client.Set(ctx, currentWalletKey, walletID, 0).Err()
}

func (r *RedisStorage) GetCurrentWallet(ctx context.Context) (string, error) {
	walletID, err := r.client.Get(ctx, currentWalletKey).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	return walletID, err
}

func (r *RedisStorage) AddWatchedAddress(ctx context.Context, walletID, address string) error {
	return r.client.SAdd(ctx, watchedKey(walletID), address).Err()
}

func (r *RedisStorage) RemoveWatchedAddress(ctx context.Context, walletID, address string) error {
	return r.client.SRem(ctx, watchedKey(walletID), address).Err()
}

func (r *RedisStorage) IsWatchedAddress(ctx context.Context, walletID, address string) (bool, error) {
	return r.client.SIsMember(ctx, watchedKey(walletID), address).Result()
}

func (r *RedisStorage) GetWatchedAddresses(ctx context.Context, walletID string) ([]string, error) {
	addresses, err := r.client.SMembers(ctx, watchedKey(walletID)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(addresses)
	return addresses, nil
}

// Wallet output methods
func (r *RedisStorage) AddWalletOutput(ctx context.Context, walletID, outpoint string, value int64) error {
	return r.client.HSet(ctx, outputsKey(walletID), outpoint, value).Err()
}

func (r *RedisStorage) GetWalletOutput(ctx context.Context, walletID, outpoint string) (int64, bool, error) {
	result, err := r.client.HGet(ctx, outputsKey(walletID), outpoint).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	value, err := strconv.ParseInt(result, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt output value for %s: %w", outpoint, err)
	}
	return value, true, nil
}

func (r *RedisStorage) MarkOutputSpent(ctx context.Context, walletID, outpoint, txHash string) (string, bool, error) {
	key := spentKey(walletID)
	claimed, err := r.client.HSetNX(ctx, key, outpoint, txHash).Result()
	if err != nil {
		return "", false, err
	}
	if claimed {
		return txHash, true, nil
	}
	spender, err := r.client.HGet(ctx, key, outpoint).Result()
	return spender, false, err
}

// releaseSpent deletes the field only while it still names the caller
var releaseSpent = redis.NewScript(`
if redis.call("HGET", KEYS[1], ARGV[1]) == ARGV[2] then
	return redis.call("HDEL", KEYS[1], ARGV[1])
end
return 0
`)

func (r *RedisStorage) ReleaseOutputSpent(ctx context.Context, walletID, outpoint, txHash string) error {
	return releaseSpent.Run(ctx, r.client, []string{spentKey(walletID)}, outpoint, txHash).Err()
}

// Pending set methods
func (r *RedisStorage) AddPendingTransaction(ctx context.Context, walletID, txHash string, raw []byte) (bool, error) {
	// The seen set decides first appearance; the payload may expire
	added, err := r.client.SAdd(ctx, pendingSeenKey(walletID), txHash).Result()
	if err != nil {
		return false, err
	}
	if added == 0 {
		return false, nil
	}
	if err := r.client.Set(ctx, pendingKey(walletID, txHash), raw, r.pendingTTL).Err(); err != nil {
		_ = r.client.SRem(ctx, pendingSeenKey(walletID), txHash).Err()
		return false, err
	}
	if err := r.client.SAdd(ctx, pendingIndexKey(walletID), txHash).Err(); err != nil {
		r.logger.WithFields(logrus.Fields{
			"wallet_id": walletID,
			"tx_hash":   txHash,
		}).Errorf("Failed to index pending transaction: %v", err)
	}
	return true, nil
}

func (r *RedisStorage) GetPendingTransaction(ctx context.Context, walletID, txHash string) ([]byte, error) {
	raw, err := r.client.Get(ctx, pendingKey(walletID, txHash)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	return raw, err
}

func (r *RedisStorage) GetPendingTransactions(ctx context.Context, walletID string) ([]string, error) {
	hashes, err := r.client.SMembers(ctx, pendingIndexKey(walletID)).Result()
	if err != nil {
		return nil, err
	}

	// Drop index entries whose transaction expired
	live := hashes[:0]
	for _, txHash := range hashes {
		n, err := r.client.Exists(ctx, pendingKey(walletID, txHash)).Result()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			_ = r.client.SRem(ctx, pendingIndexKey(walletID), txHash).Err()
			continue
		}
		live = append(live, txHash)
	}
	sort.Strings(live)
	return live, nil
}

// Health check methods
func (r *RedisStorage) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStorage) Close() error {
	return r.client.Close()
}
