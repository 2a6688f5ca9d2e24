package pickle

import (
	"errors"
	"testing"

	"github.com/absolute8511/aerospike-server/errutil"
	"github.com/absolute8511/aerospike-server/record"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	bins := []record.Bin{
		{Name: "x", Type: record.ParticleInteger, Value: []byte{0, 0, 0, 1}},
		{Name: "name", Type: record.ParticleString, Value: []byte("alice")},
	}
	buf := Encode(bins)

	n, err := PeekBinCount(buf)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("bin count = %d, want 2", n)
	}

	got, err := Decode(buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("decoded %d bins, want 2", len(got))
	}
	if got[0].Name != "x" || got[1].Name != "name" {
		t.Fatalf("unexpected bin order: %+v", got)
	}
	if string(got[1].Value) != "alice" {
		t.Fatalf("value = %q, want alice", got[1].Value)
	}
}

func TestDropPickle(t *testing.T) {
	buf := DropPickle()
	drop, err := IsDrop(buf)
	if err != nil {
		t.Fatal(err)
	}
	if !drop {
		t.Fatal("expected drop pickle to report IsDrop == true")
	}

	bins, err := Decode(buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(bins) != 0 {
		t.Fatalf("expected 0 bins, got %d", len(bins))
	}
}

func TestTruncatedBufferRejected(t *testing.T) {
	buf := Encode([]record.Bin{{Name: "x", Value: []byte("12345678")}})
	truncated := buf[:len(buf)-3]

	if _, err := Decode(truncated); !errors.Is(err, errutil.ErrPickleMalformed) {
		t.Fatalf("err = %v, want ErrPickleMalformed", err)
	}
	if _, err := StorageFootprint(truncated); !errors.Is(err, errutil.ErrPickleMalformed) {
		t.Fatalf("err = %v, want ErrPickleMalformed", err)
	}
}

func TestStorageFootprintMatchesLength(t *testing.T) {
	buf := Encode([]record.Bin{
		{Name: "a", Value: []byte("1")},
		{Name: "b", Value: []byte("22")},
	})
	n, err := StorageFootprint(buf)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(buf) {
		t.Fatalf("footprint = %d, want %d", n, len(buf))
	}
}

func TestChecksumStable(t *testing.T) {
	buf := Encode([]record.Bin{{Name: "x", Value: []byte("v")}})
	c1 := Checksum(buf)
	c2 := Checksum(buf)
	if c1 != c2 {
		t.Fatalf("checksum not stable: %d != %d", c1, c2)
	}
}

func TestPeekBinCountShortBuffer(t *testing.T) {
	if _, err := PeekBinCount([]byte{0}); !errors.Is(err, errutil.ErrPickleMalformed) {
		t.Fatalf("err = %v, want ErrPickleMalformed", err)
	}
}
