package partition

import (
	"errors"
	"testing"

	"github.com/absolute8511/aerospike-server/errutil"
	"github.com/absolute8511/aerospike-server/record"
)

func TestStateGraph(t *testing.T) {
	if !CanTransition(Undef, Absent) {
		t.Fatal("Undef -> Absent should be permitted")
	}
	if CanTransition(Undef, Sync) {
		t.Fatal("Undef -> Sync should not be permitted")
	}
	if !CanTransition(Sync, Zombie) {
		t.Fatal("Sync -> Zombie should be permitted")
	}
	if !CanTransition(Zombie, Sync) {
		t.Fatal("Zombie -> Sync should be permitted")
	}
}

func TestSetStateRejectsBadTransition(t *testing.T) {
	p := New("test", 7)
	if err := p.SetState(Sync); !errors.Is(err, errutil.ErrInvalidState) {
		t.Fatalf("err = %v, want ErrInvalidState", err)
	}
	if err := p.SetState(Absent); err != nil {
		t.Fatal(err)
	}
	if err := p.SetState(Desync); err != nil {
		t.Fatal(err)
	}
	if err := p.SetState(Sync); err != nil {
		t.Fatal(err)
	}
	if p.State() != Sync {
		t.Fatalf("state = %s, want Sync", p.State())
	}
}

func TestReserveReleaseBalance(t *testing.T) {
	p := New("test", 1)
	r := p.Reserve()
	if p.RefCount() != 1 {
		t.Fatalf("refcount = %d, want 1", p.RefCount())
	}
	r.Release()
	if p.RefCount() != 0 {
		t.Fatalf("refcount = %d, want 0", p.RefCount())
	}
}

func TestDoubleReleasePanics(t *testing.T) {
	p := New("test", 1)
	r := p.Reserve()
	r.Release()

	defer func() {
		if recover() == nil {
			t.Fatal("expected second Release to panic")
		}
	}()
	r.Release()
}

func TestReservationReadable(t *testing.T) {
	p := New("test", 1)
	p.SetState(Absent)
	p.SetState(Desync)
	p.SetState(Sync)

	r := p.Reserve()
	defer r.Release()
	if !r.Readable() {
		t.Fatal("expected Sync reservation to be readable")
	}
}

func TestTreeBasic(t *testing.T) {
	tr := NewTree()
	var d record.Digest
	d[0] = 1
	if _, ok := tr.Get(d); ok {
		t.Fatal("expected miss on empty tree")
	}
	tr.Put(d, &record.Entry{Generation: 1})
	e, ok := tr.Get(d)
	if !ok || e.Generation != 1 {
		t.Fatalf("got %+v, %v", e, ok)
	}
	if tr.Len() != 1 {
		t.Fatalf("len = %d, want 1", tr.Len())
	}
	tr.Delete(d)
	if _, ok := tr.Get(d); ok {
		t.Fatal("expected miss after delete")
	}
}
