package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	supplierKeyPrefix = "be:fornecedores:"
	emissionKeyPrefix = "be:emissao:lock:"

	// DefaultEmissionLockTTL outlives the Datasul emission timeout.
	DefaultEmissionLockTTL = 2 * time.Minute
)

// ErrLockHeld another emission for the same invoice request is running.
var ErrLockHeld = errors.New("cache: emission lock held")

// releaseScript deletes the lock only when it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Store redis backed supplier search cache and emission lock.
// A nil Store or a Store without client behaves as an always-miss cache and a no-op lock.
type Store struct {
	rdb         *redis.Client
	supplierTTL time.Duration
	lockTTL     time.Duration
}

func New(rdb *redis.Client, supplierTTL time.Duration) *Store {
	if supplierTTL <= 0 {
		supplierTTL = 10 * time.Minute
	}
	return &Store{rdb: rdb, supplierTTL: supplierTTL, lockTTL: DefaultEmissionLockTTL}
}

func (s *Store) enabled() bool {
	return s != nil && s.rdb != nil
}

// SupplierKey normalizes the search term so "Acme " and "acme" share an entry.
func SupplierKey(term string) string {
	return supplierKeyPrefix + strings.ToLower(strings.TrimSpace(term))
}

// GetSuppliers returns the cached search result for term.
func (s *Store) GetSuppliers(ctx context.Context, term string) ([]json.RawMessage, bool) {
	if !s.enabled() {
		return nil, false
	}
	data, err := s.rdb.Get(ctx, SupplierKey(term)).Bytes()
	if err != nil {
		return nil, false
	}
	var list []json.RawMessage
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, false
	}
	return list, true
}

// SetSuppliers caches a search result.
func (s *Store) SetSuppliers(ctx context.Context, term string, list []json.RawMessage) error {
	if !s.enabled() {
		return nil
	}
	data, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("marshal suppliers: %w", err)
	}
	return s.rdb.Set(ctx, SupplierKey(term), data, s.supplierTTL).Err()
}

// AcquireEmissionLock takes the per-request emission lock.
// The returned func releases it and is safe to call once the lock expired.
func (s *Store) AcquireEmissionLock(ctx context.Context, codSolicitacao int) (func(), error) {
	if !s.enabled() {
		return func() {}, nil
	}
	key := fmt.Sprintf("%s%d", emissionKeyPrefix, codSolicitacao)
	token := uuid.NewString()

	ok, err := s.rdb.SetNX(ctx, key, token, s.lockTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire emission lock: %w", err)
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return func() {
		// own context: the request context may already be cancelled
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		releaseScript.Run(releaseCtx, s.rdb, []string{key}, token)
	}, nil
}
