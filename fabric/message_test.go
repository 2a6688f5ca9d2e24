package fabric

import "testing"

func TestMessageRoundTrip(t *testing.T) {
	m := NewMessage(KindMigrate)
	m.SetUint32(FieldOp, 7)
	m.SetUint32(FieldEmigID, 42)
	m.SetString(FieldNamespace, "test")
	m.SetUint64(FieldClusterKey, 1234567890123)

	buf := m.Marshal()
	got, err := Unmarshal(buf)
	if err != nil {
		t.Fatal(err)
	}

	if got.Kind != KindMigrate {
		t.Fatalf("kind = %v, want KindMigrate", got.Kind)
	}
	if op, ok := got.GetUint32(FieldOp); !ok || op != 7 {
		t.Fatalf("op = %v, %v", op, ok)
	}
	if eid, ok := got.GetUint32(FieldEmigID); !ok || eid != 42 {
		t.Fatalf("emig id = %v, %v", eid, ok)
	}
	if ns, ok := got.GetString(FieldNamespace); !ok || ns != "test" {
		t.Fatalf("namespace = %q, %v", ns, ok)
	}
	if ck, ok := got.GetUint64(FieldClusterKey); !ok || ck != 1234567890123 {
		t.Fatalf("cluster key = %v, %v", ck, ok)
	}
}

func TestUnmarshalRejectsTruncated(t *testing.T) {
	m := NewMessage(KindRW)
	m.SetUint32(FieldOp, 1)
	buf := m.Marshal()

	if _, err := Unmarshal(buf[:len(buf)-2]); err == nil {
		t.Fatal("expected truncated buffer to fail to unmarshal")
	}
}

func TestPathForKind(t *testing.T) {
	if pathForKind(KindMigrate) != PathMigrate {
		t.Fatalf("expected migrate path for KindMigrate")
	}
	if pathForKind(KindRW) != PathRW {
		t.Fatalf("expected rw path for KindRW")
	}
}
