package store_test

import (
	"context"
	"testing"

	"promptctl/internal/domain"
	"promptctl/internal/store"
)

func newSQLStorage(t *testing.T) *store.SQLStorage {
	t.Helper()
	st, err := store.OpenSQLStorage(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestSQLStorage_Upsert(t *testing.T) {
	ctx := context.Background()
	var st domain.Storage = newSQLStorage(t)

	if _, ok, err := st.GetItem(ctx, domain.KeysSlot); err != nil || ok {
		t.Fatalf("empty slot: ok=%v err=%v", ok, err)
	}
	if err := st.SetItem(ctx, domain.KeysSlot, []byte("v1")); err != nil {
		t.Fatalf("set v1: %v", err)
	}
	if err := st.SetItem(ctx, domain.KeysSlot, []byte("v2")); err != nil {
		t.Fatalf("set v2: %v", err)
	}
	got, ok, err := st.GetItem(ctx, domain.KeysSlot)
	if err != nil || !ok || string(got) != "v2" {
		t.Fatalf("get: %q ok=%v err=%v", got, ok, err)
	}
}

func TestSQLStorage_Remove(t *testing.T) {
	ctx := context.Background()
	st := newSQLStorage(t)

	if err := st.RemoveItem(ctx, "missing"); err != nil {
		t.Fatalf("remove missing: %v", err)
	}
	if err := st.SetItem(ctx, "slot", []byte("v")); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := st.RemoveItem(ctx, "slot"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok, _ := st.GetItem(ctx, "slot"); ok {
		t.Fatal("slot still present after remove")
	}
}
