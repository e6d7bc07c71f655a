package dedup

import (
	"sync"
	"time"

	"github.com/ValentinKolb/dMsg/rpc/common"
	"github.com/benbjohnson/clock"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("dedup")

// key identifies a processed message
type key struct {
	messageType uint8
	clientID    uint64
	hash        common.Hash
}

// Store remembers the fingerprints of processed messages for a time window.
//
// Contains and Add are two separate operations. Two identical requests racing
// past Contains before either calls Add are both dispatched; the store does
// not serialize them.
type Store struct {
	entries *xsync.MapOf[key, time.Time]
	ttl     time.Duration
	clock   clock.Clock

	// mu guards queue and keeps it in step with entries
	mu    sync.Mutex
	queue *expiryQueue
}

// NewStore creates a new dedup store.
// Entries older than ttl are treated as absent (ttl <= 0 keeps entries until evicted).
// A nil clock defaults to the wall clock.
func NewStore(ttl time.Duration, clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.New()
	}
	return &Store{
		entries: xsync.NewMapOf[key, time.Time](),
		ttl:     ttl,
		clock:   clk,
		queue:   newExpiryQueue(),
	}
}

// Contains reports whether the message was seen within the ttl
func (s *Store) Contains(messageType uint8, clientID uint64, hash common.Hash) bool {
	lastSeen, ok := s.entries.Load(key{messageType, clientID, hash})
	if !ok {
		return false
	}
	return !s.expired(lastSeen, s.ttl, s.clock.Now())
}

// Add records the message as seen now (refreshing an existing entry)
func (s *Store) Add(messageType uint8, clientID uint64, hash common.Hash) {
	k := key{messageType, clientID, hash}
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries.Store(k, now)
	s.queue.touch(k, now.UnixNano())
}

// EvictOlderThan removes all entries older than ttl and returns the number of removed entries.
// The ttl may change between calls, entries are evicted oldest first.
func (s *Store) EvictOlderThan(ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}

	now := s.clock.Now()
	evicted := 0

	s.mu.Lock()
	for {
		oldest, ok := s.queue.peek()
		if !ok || !s.expired(time.Unix(0, oldest.lastSeen), ttl, now) {
			break
		}
		s.queue.popOldest()
		s.entries.Delete(oldest.key)
		evicted++
	}
	s.mu.Unlock()

	if evicted > 0 {
		Logger.Debugf("evicted %d hashes older than %s", evicted, ttl)
	}
	return evicted
}

// Size returns the number of entries, including expired ones not evicted yet
func (s *Store) Size() int {
	return s.entries.Size()
}

func (s *Store) expired(lastSeen time.Time, ttl time.Duration, now time.Time) bool {
	return ttl > 0 && now.Sub(lastSeen) > ttl
}
