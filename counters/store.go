package counters

import (
	"errors"
	"fmt"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

// DefaultMinInterval bounds how often unforced saves reach the medium.
const DefaultMinInterval = 5 * time.Minute

var (
	bucket = []byte("counters")
	key    = []byte("state")
)

// Store persists Counters in a bbolt database.
type Store struct {
	db          *bolt.DB
	minInterval time.Duration
	now         func() time.Time

	mu       sync.Mutex
	lastSave time.Time
	saved    Counters
	hasSaved bool
}

// Open opens or creates the database at path.
func Open(path string, minInterval time.Duration) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening counter store %q: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating bucket: %w", err)
	}
	if minInterval <= 0 {
		minInterval = DefaultMinInterval
	}
	return &Store{db: db, minInterval: minInterval, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Load returns the stored counters, or zero counters if nothing valid was
// ever written.
func (s *Store) Load() (Counters, error) {
	var c Counters
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucket).Get(key)
		return c.UnmarshalBinary(v)
	})
	if errors.Is(err, ErrNoRecord) {
		return Counters{}, nil
	}
	if err != nil {
		return Counters{}, fmt.Errorf("loading counters: %w", err)
	}
	s.mu.Lock()
	s.saved, s.hasSaved = c, true
	s.mu.Unlock()
	return c, nil
}

// Save writes c unless it equals the last written value or the previous
// write was less than the minimum interval ago. force skips both checks.
// A failed write counts as an attempt, so it is not retried before the
// interval passes. Save reports whether a write was attempted.
func (s *Store) Save(c Counters, force bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if !force {
		if s.hasSaved && c == s.saved {
			return false, nil
		}
		if !s.lastSave.IsZero() && now.Sub(s.lastSave) < s.minInterval {
			return false, nil
		}
	}
	s.lastSave = now
	b, _ := c.MarshalBinary()
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put(key, b)
	})
	if err != nil {
		return true, fmt.Errorf("saving counters: %w", err)
	}
	s.saved, s.hasSaved = c, true
	return true, nil
}
