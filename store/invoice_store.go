package store

import (
	"context"
	"encoding/json"

	dbm "github.com/cometbft/cometbft-db"
	"github.com/pkg/errors"

	cmtsync "github.com/celestiaorg/mppay/libs/sync"
	"github.com/celestiaorg/mppay/types"
)

// ErrInvoiceExists is returned when saving an invoice for a payment hash that
// is already registered.
var ErrInvoiceExists = errors.New("invoice already exists")

/*
InvoiceStore is a simple low level store for the invoices the plugin settles
on its own.

Each invoice is stored as JSON under its payment hash, together with the
preimage that settles it. The store never changes an invoice once written;
invoices are only added and deleted.
*/
type InvoiceStore struct {
	db dbm.DB

	// mtx serializes the read-check-write in Save so two concurrent saves of
	// the same hash cannot both succeed.
	mtx cmtsync.Mutex
}

// NewInvoiceStore returns a new InvoiceStore with the given DB.
func NewInvoiceStore(db dbm.DB) *InvoiceStore {
	return &InvoiceStore{db: db}
}

// Save validates and stores inv. Invoices without a status are stored unpaid.
func (s *InvoiceStore) Save(inv types.Invoice) error {
	if err := inv.ValidateBasic(); err != nil {
		return err
	}
	if inv.Status == "" {
		inv.Status = types.InvoiceUnpaid
	}

	bz, err := json.Marshal(inv)
	if err != nil {
		return errors.Wrap(err, "marshal invoice")
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()

	key := calcInvoiceKey(inv.PaymentHash)
	has, err := s.db.Has(key)
	if err != nil {
		return errors.Wrap(err, "check invoice")
	}
	if has {
		return errors.Wrapf(ErrInvoiceExists, "payment hash %v", inv.PaymentHash)
	}
	return errors.Wrap(s.db.SetSync(key, bz), "save invoice")
}

// Lookup returns the invoice for hash. The boolean is false when no invoice is
// known for that hash.
func (s *InvoiceStore) Lookup(_ context.Context, hash types.PaymentHash) (types.Invoice, bool, error) {
	bz, err := s.db.Get(calcInvoiceKey(hash))
	if err != nil {
		return types.Invoice{}, false, errors.Wrap(err, "load invoice")
	}
	if len(bz) == 0 {
		return types.Invoice{}, false, nil
	}

	var inv types.Invoice
	if err := json.Unmarshal(bz, &inv); err != nil {
		return types.Invoice{}, false, errors.Wrapf(err, "corrupted invoice %v", hash)
	}
	return inv, true, nil
}

// Delete removes the invoice for hash. Deleting an unknown hash is a no-op.
func (s *InvoiceStore) Delete(hash types.PaymentHash) error {
	return errors.Wrap(s.db.DeleteSync(calcInvoiceKey(hash)), "delete invoice")
}

// List returns every stored invoice ordered by payment hash.
func (s *InvoiceStore) List() ([]types.Invoice, error) {
	itr, err := s.db.Iterator(invoicePrefix, prefixEnd(invoicePrefix))
	if err != nil {
		return nil, errors.Wrap(err, "iterate invoices")
	}
	defer itr.Close()

	var invoices []types.Invoice
	for ; itr.Valid(); itr.Next() {
		var inv types.Invoice
		if err := json.Unmarshal(itr.Value(), &inv); err != nil {
			return nil, errors.Wrapf(err, "corrupted invoice at key %X", itr.Key())
		}
		invoices = append(invoices, inv)
	}
	return invoices, itr.Error()
}

// Close closes the underlying database.
func (s *InvoiceStore) Close() error {
	return s.db.Close()
}

//-----------------------------------------------------------------------------

var invoicePrefix = []byte("inv:")

func calcInvoiceKey(hash types.PaymentHash) []byte {
	return append(append([]byte{}, invoicePrefix...), hash[:]...)
}

// prefixEnd returns the smallest key greater than every key starting with
// prefix.
func prefixEnd(prefix []byte) []byte {
	end := append([]byte{}, prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
