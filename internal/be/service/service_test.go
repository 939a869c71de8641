package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DBS-Comviver/API-BeneficiamentoExterno/internal/be/entity"
	"github.com/DBS-Comviver/API-BeneficiamentoExterno/internal/be/repository"
	"github.com/DBS-Comviver/API-BeneficiamentoExterno/internal/be/service"
	"github.com/DBS-Comviver/API-BeneficiamentoExterno/internal/be/testutil"
	"github.com/DBS-Comviver/API-BeneficiamentoExterno/internal/shared/datasul"
	"github.com/DBS-Comviver/API-BeneficiamentoExterno/internal/shared/storage"
	"gorm.io/gorm"
)

var fixedNow = time.Date(2026, 3, 10, 14, 30, 0, 0, time.Local)

type serviceEnv struct {
	*testutil.TestEnv
	svc      *service.Services
	cache    *memorySupplierCache
	locker   *stubLocker
	archiver *memoryArchiver
}

func setupServices(t *testing.T) *serviceEnv {
	t.Helper()
	db := testutil.SetupTestDB(t)
	fake := testutil.NewDatasulFake(t)

	env := &serviceEnv{
		TestEnv:  &testutil.TestEnv{DB: db, Datasul: fake, T: t},
		cache:    &memorySupplierCache{entries: map[string][]json.RawMessage{}},
		locker:   &stubLocker{},
		archiver: &memoryArchiver{},
	}
	env.svc = service.NewServices(repository.NewRepositories(db), fake.Client(), service.Options{
		Cache:    env.cache,
		Locker:   env.locker,
		Archiver: env.archiver,
		Now:      func() time.Time { return fixedNow },
	})
	return env
}

// record decodes a Datasul line the way it arrives from the API.
func record(t *testing.T, raw string) *datasul.ItemRecord {
	t.Helper()
	var rec datasul.ItemRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		t.Fatalf("Failed to decode record: %v", err)
	}
	return &rec
}

func reloadReservation(t *testing.T, db *gorm.DB, id int) *entity.Reservation {
	t.Helper()
	var res entity.Reservation
	if err := db.First(&res, "cod_item_reserva = ?", id).Error; err != nil {
		t.Fatalf("Failed to reload reservation %d: %v", id, err)
	}
	return &res
}

func reloadItem(t *testing.T, db *gorm.DB, id int) *entity.Item {
	t.Helper()
	var item entity.Item
	if err := db.First(&item, "cod_item_be = ?", id).Error; err != nil {
		t.Fatalf("Failed to reload item %d: %v", id, err)
	}
	return &item
}

func expectKind(t *testing.T, err error, target error) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %v, got nil", target)
	}
	if !errors.Is(err, target) {
		t.Fatalf("expected %v, got %v (kind %s)", target, err, service.KindOf(err))
	}
}

type memorySupplierCache struct {
	mu      sync.Mutex
	entries map[string][]json.RawMessage
}

func (c *memorySupplierCache) GetSuppliers(_ context.Context, term string) ([]json.RawMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	list, ok := c.entries[term]
	return list, ok
}

func (c *memorySupplierCache) SetSuppliers(_ context.Context, term string, list []json.RawMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[term] = list
	return nil
}

type stubLocker struct {
	err      error
	acquired []int
	released int
}

func (l *stubLocker) AcquireEmissionLock(_ context.Context, id int) (func(), error) {
	if l.err != nil {
		return nil, l.err
	}
	l.acquired = append(l.acquired, id)
	return func() { l.released++ }, nil
}

type memoryArchiver struct {
	receipts []storage.EmissionReceipt
	err      error
}

func (a *memoryArchiver) ArchiveEmission(_ context.Context, r storage.EmissionReceipt) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	a.receipts = append(a.receipts, r)
	return storage.ReceiptObjectName(r), nil
}
