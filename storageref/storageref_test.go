package storageref

import (
	"errors"
	"testing"

	"github.com/absolute8511/aerospike-server/errutil"
	"github.com/absolute8511/aerospike-server/record"
)

func TestFakeCapacityRejectsOverQuota(t *testing.T) {
	f := NewFake(100)
	if err := f.Reserve(60); err != nil {
		t.Fatal(err)
	}
	if err := f.Reserve(60); !errors.Is(err, errutil.ErrOutOfSpace) {
		t.Fatalf("err = %v, want ErrOutOfSpace", err)
	}
	f.Release(60)
	if err := f.Reserve(60); err != nil {
		t.Fatalf("expected reserve to succeed after release, got %v", err)
	}
}

func TestStorePutGetDelete(t *testing.T) {
	s, err := Open(t.TempDir(), 1<<20)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	var d record.Digest
	d[0] = 7
	if err := s.Put("ns", d, []byte("hello")); err != nil {
		t.Fatal(err)
	}
	if got, ok := s.Get("ns", d); !ok || string(got) != "hello" {
		t.Fatalf("got %q, %v", got, ok)
	}
	if s.Used() != 5 {
		t.Fatalf("used = %d, want 5", s.Used())
	}

	s.Delete("ns", d)
	if _, ok := s.Get("ns", d); ok {
		t.Fatal("expected miss after delete")
	}
	if s.Used() != 0 {
		t.Fatalf("used = %d, want 0 after delete", s.Used())
	}
}

func TestStoreRejectsOverQuota(t *testing.T) {
	s, err := Open(t.TempDir(), 4)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	var d record.Digest
	if err := s.Put("ns", d, []byte("hello")); !errors.Is(err, errutil.ErrOutOfSpace) {
		t.Fatalf("err = %v, want ErrOutOfSpace", err)
	}
	if _, ok := s.Get("ns", d); ok {
		t.Fatal("expected no write to have landed")
	}
}
