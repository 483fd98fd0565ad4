package invoice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/vitwit/chainpay/types"
)

var _ Store = (*BadgerStore)(nil)

const (
	invoicePrefix = "invoice/"
	hashPrefix    = "txhash/"
)

// BadgerStore persists invoices in an embedded Badger database. Badger's
// optimistic transactions turn racing updates into ErrConflict.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadgerStore opens (or creates) a store at dir. An empty dir keeps the
// database in memory.
func OpenBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func invoiceKey(id string) []byte {
	return []byte(invoicePrefix + id)
}

func readInvoice(txn *badger.Txn, id string) (*types.Invoice, error) {
	item, err := txn.Get(invoiceKey(id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var inv types.Invoice
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &inv)
	}); err != nil {
		return nil, err
	}
	return &inv, nil
}

func writeInvoice(txn *badger.Txn, inv *types.Invoice) error {
	val, err := json.Marshal(inv)
	if err != nil {
		return err
	}
	return txn.Set(invoiceKey(inv.ID), val)
}

// bindHash records hash as paying inv. The key is read inside the same
// transaction, so two invoices racing for one hash conflict.
func bindHash(txn *badger.Txn, inv *types.Invoice, hash string) error {
	key := []byte(hashPrefix + hashKey(inv.Network, hash))
	item, err := txn.Get(key)
	switch {
	case err == nil:
		var owner string
		if err := item.Value(func(val []byte) error {
			owner = string(val)
			return nil
		}); err != nil {
			return err
		}
		if owner != inv.ID {
			return ErrHashInUse
		}
		return nil
	case !errors.Is(err, badger.ErrKeyNotFound):
		return err
	}
	return txn.Set(key, []byte(inv.ID))
}

// update runs fn in a read-write transaction, mapping Badger's transaction
// conflict to ErrConflict.
func (s *BadgerStore) update(fn func(txn *badger.Txn) error) error {
	err := s.db.Update(fn)
	if errors.Is(err, badger.ErrConflict) {
		return ErrConflict
	}
	return err
}

func (s *BadgerStore) Create(_ context.Context, inv *types.Invoice) error {
	return s.update(func(txn *badger.Txn) error {
		if _, err := txn.Get(invoiceKey(inv.ID)); err == nil {
			return ErrConflict
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return writeInvoice(txn, inv)
	})
}

func (s *BadgerStore) Get(_ context.Context, id string) (*types.Invoice, error) {
	var inv *types.Invoice
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		inv, err = readInvoice(txn, id)
		return err
	})
	return inv, err
}

func (s *BadgerStore) CompareAndSwap(_ context.Context, expected types.InvoiceStatus, next *types.Invoice) error {
	return s.update(func(txn *badger.Txn) error {
		current, err := readInvoice(txn, next.ID)
		if err != nil {
			return err
		}
		if err := checkWrite(current, expected, next); err != nil {
			return err
		}
		if bindsHash(current, next) {
			if err := bindHash(txn, current, *next.TransactionHash); err != nil {
				return err
			}
		}
		return writeInvoice(txn, prepareWrite(current, next))
	})
}

func (s *BadgerStore) ClaimActivation(_ context.Context, id string, at time.Time) (bool, error) {
	claimed := false
	err := s.update(func(txn *badger.Txn) error {
		inv, err := readInvoice(txn, id)
		if err != nil {
			return err
		}
		free, err := claimable(inv)
		if err != nil || !free {
			return err
		}
		t := at
		inv.ActivatedAt = &t
		claimed = true
		return writeInvoice(txn, inv)
	})
	if err != nil {
		return false, err
	}
	return claimed, nil
}

func (s *BadgerStore) ReleaseActivation(_ context.Context, id string) error {
	return s.update(func(txn *badger.Txn) error {
		inv, err := readInvoice(txn, id)
		if err != nil {
			return err
		}
		inv.ActivatedAt = nil
		return writeInvoice(txn, inv)
	})
}

func (s *BadgerStore) ListByStatus(_ context.Context, status types.InvoiceStatus, limit int) ([]*types.Invoice, error) {
	var out []*types.Invoice
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(invoicePrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var inv types.Invoice
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &inv)
			}); err != nil {
				return err
			}
			if inv.Status == status {
				out = append(out, &inv)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
