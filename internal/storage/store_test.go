package storage

import (
	"bytes"
	"testing"
)

func testStore(t *testing.T, s Store) {
	t.Helper()

	got, err := s.Get("missing")
	if err != nil {
		t.Fatalf("Get missing: %v", err)
	}
	if got != nil {
		t.Errorf("Get missing = %v, want nil", got)
	}

	if err := s.Set("k", []byte("v1")); err != nil {
		t.Fatal(err)
	}
	got, err = s.Get("k")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte("v1")) {
		t.Errorf("Get = %q, want v1", got)
	}

	if err := s.Set("k", []byte("v2")); err != nil {
		t.Fatal(err)
	}
	got, _ = s.Get("k")
	if !bytes.Equal(got, []byte("v2")) {
		t.Errorf("Get after overwrite = %q, want v2", got)
	}

	if err := s.Remove("k"); err != nil {
		t.Fatal(err)
	}
	got, err = s.Get("k")
	if err != nil || got != nil {
		t.Errorf("Get after remove = %v, %v; want nil, nil", got, err)
	}

	// Removing an absent key is not an error.
	if err := s.Remove("k"); err != nil {
		t.Errorf("Remove absent: %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	testStore(t, NewMemoryStore())
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	s := NewMemoryStore()
	value := []byte("secret")
	if err := s.Set("k", value); err != nil {
		t.Fatal(err)
	}
	value[0] = 'X'

	got, _ := s.Get("k")
	if !bytes.Equal(got, []byte("secret")) {
		t.Error("store aliased the caller's slice")
	}
	got[0] = 'Y'
	again, _ := s.Get("k")
	if !bytes.Equal(again, []byte("secret")) {
		t.Error("store returned an aliased slice")
	}
}

func TestSessionStoreClear(t *testing.T) {
	s := NewSessionStore()
	testStore(t, s)

	if err := s.Set("a", []byte("1")); err != nil {
		t.Fatal(err)
	}
	if err := s.Set("b", []byte("2")); err != nil {
		t.Fatal(err)
	}
	s.Clear()

	for _, key := range []string{"a", "b"} {
		got, err := s.Get(key)
		if err != nil || got != nil {
			t.Errorf("Get(%q) after clear = %v, %v", key, got, err)
		}
	}
}

func TestBadgerStore(t *testing.T) {
	s, err := OpenBadger(t.TempDir())
	if err != nil {
		t.Fatalf("OpenBadger: %v", err)
	}
	defer s.Close()

	testStore(t, s)
}

func TestBadgerStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	s, err := OpenBadger(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Set("k", []byte("durable")); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err = OpenBadger(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	got, err := s.Get("k")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte("durable")) {
		t.Errorf("Get after reopen = %q", got)
	}
}
