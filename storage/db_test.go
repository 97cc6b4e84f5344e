package storage

import (
	"bytes"
	"testing"
)

func TestMemDBPutGet(t *testing.T) {
	db := NewMemDB()
	t.Cleanup(db.Close)

	if _, err := db.Get([]byte("missing")); err != ErrKeyNotFound {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
	if err := db.Put([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := db.Get([]byte("a"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(got, []byte("1")) {
		t.Fatalf("unexpected value %q", got)
	}
	ok, err := db.Has([]byte("a"))
	if err != nil || !ok {
		t.Fatalf("has: %v %v", ok, err)
	}
	if err := db.Delete([]byte("a")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ok, _ := db.Has([]byte("a")); ok {
		t.Fatal("expected key removed")
	}
}

func TestMemDBIteratePrefix(t *testing.T) {
	db := NewMemDB()
	t.Cleanup(db.Close)

	entries := map[string]string{
		"offer/1": "a",
		"offer/2": "b",
		"offer/3": "c",
		"order/1": "x",
	}
	for k, v := range entries {
		if err := db.Put([]byte(k), []byte(v)); err != nil {
			t.Fatalf("put %s: %v", k, err)
		}
	}

	var keys []string
	if err := db.IteratePrefix([]byte("offer/"), func(k, v []byte) bool {
		keys = append(keys, string(k))
		return true
	}); err != nil {
		t.Fatalf("iterate: %v", err)
	}
	if len(keys) != 3 {
		t.Fatalf("expected 3 offer keys, got %d (%v)", len(keys), keys)
	}
	for i := 1; i < len(keys); i++ {
		if keys[i-1] >= keys[i] {
			t.Fatalf("keys not sorted: %v", keys)
		}
	}

	count := 0
	if err := db.IteratePrefix([]byte("offer/"), func(k, v []byte) bool {
		count++
		return false
	}); err != nil {
		t.Fatalf("iterate: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected early stop after 1 entry, got %d", count)
	}
}
