package permission

import (
	"strconv"
	"sync"

	"github.com/boltdb/bolt"
	"github.com/goccy/go-json"
	"github.com/samber/oops"
)

type Store interface {
	Players() (map[uint64]Player, error)
	PutPlayer(id uint64, p Player) error
	Tiers() (map[string]Entry, error)
	PutTier(name string, e Entry) error
	Close() error
}

var (
	playerBucket = []byte("players")
	tierBucket   = []byte("tiers")
)

// BoltStore keeps players keyed by decimal identifier and tiers keyed by name,
// both as JSON values.
type BoltStore struct {
	db *bolt.DB
}

func OpenBoltStore(p string) (*BoltStore, error) {
	db, err := bolt.Open(p, 0666, nil)
	if err != nil {
		return nil, oops.In("permission").With("path", p).Wrapf(err, "open permission db")
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(playerBucket)
		if err != nil {
			return err
		}
		_, err = tx.CreateBucketIfNotExists(tierBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, oops.In("permission").With("path", p).Wrapf(err, "create buckets")
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Players() (map[uint64]Player, error) {
	players := make(map[uint64]Player)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(playerBucket).ForEach(func(k, v []byte) error {
			id, err := strconv.ParseUint(string(k), 10, 64)
			if err != nil {
				return oops.With("key", string(k)).Wrapf(err, "bad player key")
			}
			var p Player
			if err := json.Unmarshal(v, &p); err != nil {
				return oops.With("player", id).Wrapf(err, "bad player record")
			}
			players[id] = p
			return nil
		})
	})
	return players, err
}

func (s *BoltStore) PutPlayer(id uint64, p Player) error {
	value, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(playerBucket).Put([]byte(strconv.FormatUint(id, 10)), value)
	})
}

func (s *BoltStore) Tiers() (map[string]Entry, error) {
	tiers := make(map[string]Entry)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(tierBucket).ForEach(func(k, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return oops.With("tier", string(k)).Wrapf(err, "bad tier record")
			}
			tiers[string(k)] = e
			return nil
		})
	})
	return tiers, err
}

func (s *BoltStore) PutTier(name string, e Entry) error {
	value, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(tierBucket).Put([]byte(name), value)
	})
}

func (s *BoltStore) Close() error {
	s.db.Sync()
	return s.db.Close()
}

// MemStore keeps everything in memory. Used when no database path is
// configured.
type MemStore struct {
	mu      sync.Mutex
	players map[uint64]Player
	tiers   map[string]Entry
}

func NewMemStore() *MemStore {
	return &MemStore{
		players: make(map[uint64]Player),
		tiers:   make(map[string]Entry),
	}
}

func (s *MemStore) Players() (map[uint64]Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[uint64]Player, len(s.players))
	for id, p := range s.players {
		out[id] = p
	}
	return out, nil
}

func (s *MemStore) PutPlayer(id uint64, p Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.players[id] = p
	return nil
}

func (s *MemStore) Tiers() (map[string]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Entry, len(s.tiers))
	for name, e := range s.tiers {
		out[name] = e
	}
	return out, nil
}

func (s *MemStore) PutTier(name string, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tiers[name] = e
	return nil
}

func (s *MemStore) Close() error { return nil }
