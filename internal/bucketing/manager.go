package bucketing

import (
	"hash"
	"sync"
	"time"

	"attendance-service/internal/config"

	"github.com/spaolacci/murmur3"
)

// Manager assigns stable partition buckets so hot keys spread across
// ScyllaDB partitions and audit streams.
type Manager struct {
	accountBuckets int
	eventBuckets   int
	hasherPool     sync.Pool
}

func NewManager(accountBuckets, eventBuckets int) *Manager {
	if accountBuckets <= 0 {
		accountBuckets = 1
	}
	if eventBuckets <= 0 {
		eventBuckets = 1
	}
	m := &Manager{
		accountBuckets: accountBuckets,
		eventBuckets:   eventBuckets,
	}
	m.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}
	return m
}

func NewManagerFromConfig(cfg *config.Config) *Manager {
	return NewManager(cfg.Bucketing.UserBuckets, cfg.Bucketing.EventBuckets)
}

// AccountBucket is in [0, accountBuckets).
func (m *Manager) AccountBucket(accountID string) int {
	return m.bucket(accountID, m.accountBuckets)
}

// EventBucket is in [0, eventBuckets).
func (m *Manager) EventBucket(identifier string) int {
	return m.bucket(identifier, m.eventBuckets)
}

// DateBucket is the UTC calendar day of t.
func (m *Manager) DateBucket(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// PartitionKey picks a Kafka message key that keeps one account's events ordered.
func (m *Manager) PartitionKey(accountID string) []byte {
	if accountID == "" {
		return nil
	}
	return []byte(accountID)
}

func (m *Manager) AccountBuckets() int {
	return m.accountBuckets
}

func (m *Manager) EventBuckets() int {
	return m.eventBuckets
}

func (m *Manager) bucket(key string, n int) int {
	return int(m.hash(key) % uint64(n))
}

func (m *Manager) hash(key string) uint64 {
	h := m.hasherPool.Get().(hash.Hash64)
	defer m.hasherPool.Put(h)

	h.Reset()
	_, _ = h.Write([]byte(key))
	return h.Sum64()
}
