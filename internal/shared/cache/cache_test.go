package cache

import (
	"context"
	"encoding/json"
	"testing"
)

func TestSupplierKeyNormalizesTerm(t *testing.T) {
	if SupplierKey("  ACME Ltda ") != SupplierKey("acme ltda") {
		t.Fatalf("expected normalized keys to match: %q vs %q", SupplierKey("  ACME Ltda "), SupplierKey("acme ltda"))
	}
}

func TestStoreWithoutRedisIsNoop(t *testing.T) {
	ctx := context.Background()
	for _, s := range []*Store{nil, New(nil, 0)} {
		if err := s.SetSuppliers(ctx, "acme", []json.RawMessage{json.RawMessage(`{"cod":1}`)}); err != nil {
			t.Fatalf("SetSuppliers: %v", err)
		}
		if _, ok := s.GetSuppliers(ctx, "acme"); ok {
			t.Fatal("expected a miss without redis")
		}
		release, err := s.AcquireEmissionLock(ctx, 1)
		if err != nil {
			t.Fatalf("AcquireEmissionLock: %v", err)
		}
		release()
	}
}
