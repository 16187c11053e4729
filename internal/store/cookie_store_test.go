package store_test

import (
	"testing"
	"time"

	"promptctl/internal/clock"
	"promptctl/internal/domain"
	"promptctl/internal/store"
)

func TestCookieFileStore_SetGetClear(t *testing.T) {
	home := t.TempDir()
	var jar domain.Cookies = store.NewCookieFileStore(home, nil)

	if _, ok, err := jar.GetCookie(domain.CookiePublicKey); err != nil || ok {
		t.Fatalf("empty jar: ok=%v err=%v", ok, err)
	}
	if err := jar.SetCookie(domain.Cookie{Name: domain.CookiePublicKey, Value: "pk1", Path: "/"}); err != nil {
		t.Fatalf("set: %v", err)
	}

	// A fresh store over the same dir sees the persisted cookie.
	v, ok, err := store.NewCookieFileStore(home, nil).GetCookie(domain.CookiePublicKey)
	if err != nil || !ok || v != "pk1" {
		t.Fatalf("get: %q ok=%v err=%v", v, ok, err)
	}

	if err := jar.ClearCookie(domain.CookiePublicKey); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if err := jar.ClearCookie(domain.CookiePublicKey); err != nil {
		t.Fatalf("second clear: %v", err)
	}
	if _, ok, _ := jar.GetCookie(domain.CookiePublicKey); ok {
		t.Fatal("cookie still present after clear")
	}
}

func TestCookieFileStore_MaxAgeExpires(t *testing.T) {
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	jar := store.NewCookieFileStore(t.TempDir(), fake)

	err := jar.SetCookie(domain.Cookie{Name: domain.CookieProof, Value: "sig", MaxAge: 5 * time.Minute})
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	fake.Advance(4 * time.Minute)
	if _, ok, _ := jar.GetCookie(domain.CookieProof); !ok {
		t.Fatal("cookie expired early")
	}
	fake.Advance(time.Minute)
	if _, ok, _ := jar.GetCookie(domain.CookieProof); ok {
		t.Fatal("cookie readable after max-age")
	}
}

func TestCookieFileStore_NegativeMaxAgeDeletes(t *testing.T) {
	jar := store.NewCookieFileStore(t.TempDir(), nil)
	if err := jar.SetCookie(domain.Cookie{Name: "a", Value: "1"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := jar.SetCookie(domain.Cookie{Name: "a", MaxAge: -1}); err != nil {
		t.Fatalf("delete via max-age: %v", err)
	}
	if _, ok, _ := jar.GetCookie("a"); ok {
		t.Fatal("cookie still present")
	}
}
