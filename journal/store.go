package journal

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	bbolt "go.etcd.io/bbolt"
)

// ErrNotFound is returned when no entry exists for a fulfillment.
var ErrNotFound = errors.New("journal: entry not found")

var (
	bucketDecisions  = []byte("decisions")
	bucketArbitrated = []byte("arbitrated")
	bucketMeta       = []byte("meta")
	keyCheckpoint    = []byte("checkpoint_block")
)

// Entry is one decision as the daemon recorded it.
type Entry struct {
	FulfillmentUID common.Hash    `json:"fulfillment_uid"`
	Oracle         common.Address `json:"oracle"`
	Decision       bool           `json:"decision"`
	TxHash         common.Hash    `json:"tx_hash"`
	Submitted      bool           `json:"submitted"`
	Error          string         `json:"error,omitempty"`
	BlockNumber    uint64         `json:"block_number"`
	Phase          string         `json:"phase"`
	RunID          string         `json:"run_id"`
	RecordedAt     time.Time      `json:"recorded_at"`
}

// Store persists decisions, the arbitrated set and the scan checkpoint.
type Store struct {
	db *bbolt.DB
}

// Open opens (or creates) the journal database.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketDecisions, bucketArbitrated, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func entryKey(uid common.Hash, oracle common.Address) []byte {
	key := make([]byte, 0, common.HashLength+common.AddressLength)
	key = append(key, uid.Bytes()...)
	return append(key, oracle.Bytes()...)
}

// Record stores entry, replacing an earlier entry for the same fulfillment
// and oracle. Submitted entries also join the arbitrated set.
func (s *Store) Record(entry Entry) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("journal not initialised")
	}
	if entry.FulfillmentUID == (common.Hash{}) {
		return fmt.Errorf("fulfillment uid required")
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	key := entryKey(entry.FulfillmentUID, entry.Oracle)
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketDecisions).Put(key, payload); err != nil {
			return err
		}
		if entry.Submitted {
			return tx.Bucket(bucketArbitrated).Put(key, []byte{1})
		}
		return nil
	})
}

// Get returns the entry for uid decided by oracle.
func (s *Store) Get(uid common.Hash, oracle common.Address) (Entry, error) {
	if s == nil || s.db == nil {
		return Entry{}, fmt.Errorf("journal not initialised")
	}
	var entry Entry
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketDecisions).Get(entryKey(uid, oracle))
		if raw == nil {
			return ErrNotFound
		}
		return json.Unmarshal(raw, &entry)
	})
	return entry, err
}

// List returns up to limit entries, newest first by block. A non-positive
// limit returns everything.
func (s *Store) List(limit int) ([]Entry, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("journal not initialised")
	}
	var entries []Entry
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketDecisions).ForEach(func(_, v []byte) error {
			var entry Entry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			entries = append(entries, entry)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortNewestFirst(entries)
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func sortNewestFirst(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].BlockNumber != entries[j].BlockNumber {
			return entries[i].BlockNumber > entries[j].BlockNumber
		}
		return bytes.Compare(entries[i].FulfillmentUID.Bytes(), entries[j].FulfillmentUID.Bytes()) > 0
	})
}

// MarkArbitrated adds (uid, oracle) to the arbitrated set.
func (s *Store) MarkArbitrated(uid common.Hash, oracle common.Address) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("journal not initialised")
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketArbitrated).Put(entryKey(uid, oracle), []byte{1})
	})
}

// Arbitrated reports whether (uid, oracle) is in the arbitrated set.
func (s *Store) Arbitrated(uid common.Hash, oracle common.Address) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("journal not initialised")
	}
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		found = tx.Bucket(bucketArbitrated).Get(entryKey(uid, oracle)) != nil
		return nil
	})
	return found, err
}

// Checkpoint returns the last persisted block and whether one exists.
func (s *Store) Checkpoint() (uint64, bool, error) {
	if s == nil || s.db == nil {
		return 0, false, fmt.Errorf("journal not initialised")
	}
	var (
		block uint64
		ok    bool
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketMeta).Get(keyCheckpoint)
		if len(raw) == 8 {
			block = binary.BigEndian.Uint64(raw)
			ok = true
		}
		return nil
	})
	return block, ok, err
}

// SetCheckpoint persists block. Lower values than the stored one are ignored.
func (s *Store) SetCheckpoint(block uint64) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("journal not initialised")
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketMeta)
		if raw := bucket.Get(keyCheckpoint); len(raw) == 8 && binary.BigEndian.Uint64(raw) >= block {
			return nil
		}
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, block)
		return bucket.Put(keyCheckpoint, buf)
	})
}

// ArbitrationIndex is the on-chain lookup CachedIndex falls back to.
type ArbitrationIndex interface {
	IsArbitrated(ctx context.Context, obligation common.Hash, oracle common.Address) (bool, error)
}

// CachedIndex answers arbitrated checks from the journal and only queries the
// chain for pairs it has not seen decided. Positive chain answers are cached.
type CachedIndex struct {
	store *Store
	chain ArbitrationIndex
}

// NewCachedIndex layers store over chain. chain may be nil to answer from the
// journal alone.
func NewCachedIndex(store *Store, chain ArbitrationIndex) *CachedIndex {
	return &CachedIndex{store: store, chain: chain}
}

// IsArbitrated implements the oracle arbitration index.
func (c *CachedIndex) IsArbitrated(ctx context.Context, obligation common.Hash, oracle common.Address) (bool, error) {
	done, err := c.store.Arbitrated(obligation, oracle)
	if err != nil {
		return false, err
	}
	if done || c.chain == nil {
		return done, nil
	}
	done, err = c.chain.IsArbitrated(ctx, obligation, oracle)
	if err != nil {
		return false, err
	}
	if done {
		if err := c.store.MarkArbitrated(obligation, oracle); err != nil {
			return true, err
		}
	}
	return done, nil
}
