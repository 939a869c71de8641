package repository

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrNotFound = errors.New("record not found")
)

// Repositories repository set bound to one *gorm.DB (pool or transaction).
type Repositories struct {
	db             *gorm.DB
	Item           *ItemRepository
	Reservation    *ReservationRepository
	InvoiceRequest *InvoiceRequestRepository
}

func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		db:             db,
		Item:           NewItemRepository(db),
		Reservation:    NewReservationRepository(db),
		InvoiceRequest: NewInvoiceRequestRepository(db),
	}
}

// Transaction runs fn with repositories bound to one transaction.
// Returning an error from fn rolls everything back.
func (r *Repositories) Transaction(ctx context.Context, fn func(tx *Repositories) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewRepositories(tx))
	})
}

// OrderFilter optional filters shared by item and reservation listings. Nil/empty = unconstrained.
type OrderFilter struct {
	Encomenda string
	OP        *int // nr_ord_prod
	OC        *int // numero_ordem
}

// IsEmpty reports whether no filter is set.
func (f OrderFilter) IsEmpty() bool {
	return strings.TrimSpace(f.Encomenda) == "" && f.OP == nil && f.OC == nil
}

func (f OrderFilter) apply(q *gorm.DB, table string) *gorm.DB {
	col := func(name string) string {
		if table == "" {
			return name
		}
		return table + "." + name
	}
	if e := strings.TrimSpace(f.Encomenda); e != "" {
		q = q.Where(col("encomenda")+" = ?", e)
	}
	if f.OP != nil {
		q = q.Where(col("nr_ord_prod")+" = ?", *f.OP)
	}
	if f.OC != nil {
		q = q.Where(col("numero_ordem")+" = ?", *f.OC)
	}
	return q
}

// forUpdate adds SELECT ... FOR UPDATE where the dialect supports it.
// SQLite serializes writers on its own and rejects the clause.
func forUpdate(q *gorm.DB) *gorm.DB {
	if q.Dialector.Name() == "sqlite" {
		return q
	}
	return q.Clauses(clause.Locking{Strength: "UPDATE"})
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
