package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
)

var badgerKeyPrefix = []byte("sub/")

// BadgerStore persists subscriber records in an embedded badger KV.
// An alternative to sqlite for nodes that want a pure-Go LSM store.
type BadgerStore struct {
	db *badger.DB
}

var _ Store = (*BadgerStore)(nil)

type badgerRecord struct {
	RouterType   string         `json:"router_type"`
	RouterData   map[string]any `json:"router_data,omitempty"`
	CurrentMonth string         `json:"current_month,omitempty"`
}

func NewBadgerStore(dir string) (*BadgerStore, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("empty badger dir")
	}
	opts := badger.DefaultOptions(dir)
	opts = opts.WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open %s: %w", dir, err)
	}
	return &BadgerStore{db: db}, nil
}

func badgerKey(uaid string) []byte {
	return append(append([]byte(nil), badgerKeyPrefix...), uaid...)
}

func (s *BadgerStore) Get(uaid string) (Record, error) {
	var stored badgerRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(uaid))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &stored)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return Record{
		UAID:         uaid,
		RouterType:   stored.RouterType,
		RouterData:   stored.RouterData,
		CurrentMonth: stored.CurrentMonth,
	}, nil
}

func (s *BadgerStore) Register(rec Record) error {
	if err := validate(rec); err != nil {
		return err
	}
	val, err := json.Marshal(badgerRecord{
		RouterType:   rec.RouterType,
		RouterData:   rec.RouterData,
		CurrentMonth: rec.CurrentMonth,
	})
	if err != nil {
		return fmt.Errorf("%w: router_data not serializable: %v", ErrInvalidRecord, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(rec.UAID), val)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *BadgerStore) Drop(uaid string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(badgerKey(uaid))
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
