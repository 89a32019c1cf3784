package badger

import (
	"bytes"
	"errors"

	"github.com/dgraph-io/badger/v2"

	"github.com/akhenakh/loragw/rxpk"
	"github.com/akhenakh/loragw/storage"
)

// Store keeps frames in badger, values are the rxpk JSON encoding.
type Store struct {
	*badger.DB
}

// StoreTx is storing the frame and registering its gateway
func (s *Store) StoreTx(txi storage.Tx, f storage.Frame) error {
	tx, ok := txi.(*badger.Txn)
	if !ok {
		return errors.New("invalid tx passed")
	}

	v, err := f.Record.MarshalJSON()
	if err != nil {
		return err
	}

	// the datakey D
	dk := storage.DataKey(f.GatewayID, f.ReceivedAt, f.ID)

	// the listing key L
	lk := storage.ListKey(f.GatewayID)

	_, err = tx.Get(lk)
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		if err := tx.SetEntry(badger.NewEntry(lk, nil)); err != nil {
			return err
		}
	case err != nil:
		return err
	}

	return tx.SetEntry(badger.NewEntry(dk, v))
}

// Store is storing a frame in its own transaction
func (s *Store) Store(f storage.Frame) error {
	txn := s.NewTransaction(true)
	defer txn.Discard()

	if err := s.StoreTx(txn, f); err != nil {
		return err
	}

	return txn.Commit()
}

// GetAll return all frames for gatewayID up to count, most recent first
// count <= 0 means no limit
func (s *Store) GetAll(gatewayID string, count int) ([]storage.Frame, error) {
	var res []storage.Frame
	err := s.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchSize = count
		if opts.PrefetchSize <= 0 {
			opts.PrefetchSize = 10
		}
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := storage.DataPrefix(gatewayID)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if count > 0 && len(res) >= count {
				break
			}

			item := it.Item()
			k := item.KeyCopy(nil)
			gw, t, id, err := storage.ReadDataKey(k)
			if err != nil {
				return err
			}

			valc, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			r, err := rxpk.DecodeJSON(valc)
			if err != nil {
				return err
			}

			res = append(res, storage.Frame{
				ID:         id,
				GatewayID:  gw,
				ReceivedAt: t,
				Record:     r,
			})
		}
		return nil
	})

	return res, err
}

// Get the most recent frame for gatewayID, nil if none
func (s *Store) Get(gatewayID string) (*storage.Frame, error) {
	res, err := s.GetAll(gatewayID, 1)
	if err != nil {
		return nil, err
	}
	if len(res) != 1 {
		return nil, nil
	}
	return &res[0], nil
}

// Keys list all gateways
func (s *Store) Keys() ([]string, error) {
	var res []string
	err := s.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte(storage.Prefix + "L")

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			k := it.Item().KeyCopy(nil)
			res = append(res, string(bytes.TrimPrefix(k, prefix)))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return res, nil
}

func (s *Store) Begin() storage.Tx {
	return s.NewTransaction(true)
}
