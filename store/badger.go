package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v2"

	"github.com/synqronlabs/smtpd"
)

// ErrNotFound is returned by Badger.Get for an unknown ID.
var ErrNotFound = errors.New("store: message not found")

const keyPrefix = "msg:"

// Badger stores records in a Badger database under msg:<id>. IDs are ULIDs,
// so keys iterate in arrival order.
type Badger struct {
	db *badger.DB
}

var _ smtpd.MailStore = (*Badger)(nil)

// BadgerOptions configures OpenBadger.
type BadgerOptions struct {
	// Dir is the database directory. Ignored when InMemory is set.
	Dir      string
	InMemory bool
	// Logger receives Badger's own logging. Nil silences it.
	Logger badger.Logger
}

// OpenBadger opens (or creates) a Badger-backed store.
func OpenBadger(opts BadgerOptions) (*Badger, error) {
	options := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		options = badger.DefaultOptions("").WithInMemory(true)
	}
	options = options.WithLogger(opts.Logger)

	db, err := badger.Open(options)
	if err != nil {
		return nil, fmt.Errorf("store: open badger: %w", err)
	}
	return &Badger{db: db}, nil
}

// Deliver implements smtpd.MailStore.
func (b *Badger) Deliver(_ context.Context, body []byte, recipients []string) error {
	_, err := b.Put(NewRecord(body, recipients))
	return err
}

// Put stores rec and returns its ID.
func (b *Badger) Put(rec *Record) (string, error) {
	data, err := rec.MarshalMsg(nil)
	if err != nil {
		return "", fmt.Errorf("store: encode record: %w", err)
	}

	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyPrefix+rec.ID), data)
	})
	if err != nil {
		return "", fmt.Errorf("store: write record: %w", err)
	}
	return rec.ID, nil
}

// Get returns the record stored under id.
func (b *Badger) Get(id string) (*Record, error) {
	var rec *Record
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			rec, err = FromMessagePack(val)
			return err
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: read record: %w", err)
	}
	return rec, nil
}

// List returns every stored record in arrival order.
func (b *Badger) List() ([]Record, error) {
	var records []Record
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				rec, err := FromMessagePack(val)
				if err != nil {
					return err
				}
				records = append(records, *rec)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: list records: %w", err)
	}
	return records, nil
}

// Delete removes the record stored under id.
func (b *Badger) Delete(id string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(keyPrefix + id))
	})
}

// Close closes the database.
func (b *Badger) Close() error {
	return b.db.Close()
}
