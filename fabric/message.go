package fabric

import (
	"encoding/binary"

	"github.com/absolute8511/aerospike-server/errutil"
)

// Kind is the top-level framing tag distinguishing a migration message
// from a replicated-write message. It is separate from a message's FieldOp,
// which carries the protocol-specific operation (START, INSERT, WRITE, ...).
type Kind uint8

const (
	KindMigrate Kind = 1
	KindRW      Kind = 2
)

// FieldID tags one field in a Message's field table. The same namespace is
// shared by migration and replicated-write messages, mirroring the wire
// fields table this package is grounded on.
type FieldID uint8

const (
	FieldOp FieldID = iota + 1
	FieldEmigID
	FieldEmigInsertID
	FieldNamespace
	FieldPartition
	FieldDigest
	FieldGeneration
	FieldVoidTime
	FieldRecord
	FieldRecProps
	FieldClusterKey
	FieldInfo
	FieldVersion
	FieldNSID
	FieldTID
	FieldLastUpdateTime
	FieldSetName
	FieldKey
	FieldResult
)

// Message is a self-describing, field-tagged byte buffer: a 1-byte kind, a
// 4-byte field count, then repeated (1-byte field id, 4-byte length, value)
// tuples. Big-endian throughout, the same convention the pickle codec uses.
type Message struct {
	Kind   Kind
	Fields map[FieldID][]byte
}

// NewMessage returns an empty Message of the given kind.
func NewMessage(kind Kind) *Message {
	return &Message{Kind: kind, Fields: make(map[FieldID][]byte)}
}

func (m *Message) SetBytes(id FieldID, v []byte) { m.Fields[id] = v }

func (m *Message) GetBytes(id FieldID) ([]byte, bool) {
	v, ok := m.Fields[id]
	return v, ok
}

func (m *Message) SetString(id FieldID, v string) { m.Fields[id] = []byte(v) }

func (m *Message) GetString(id FieldID) (string, bool) {
	v, ok := m.Fields[id]
	if !ok {
		return "", false
	}
	return string(v), true
}

func (m *Message) SetUint32(id FieldID, v uint32) {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, v)
	m.Fields[id] = buf
}

func (m *Message) GetUint32(id FieldID) (uint32, bool) {
	v, ok := m.Fields[id]
	if !ok || len(v) != 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(v), true
}

func (m *Message) SetUint64(id FieldID, v uint64) {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	m.Fields[id] = buf
}

func (m *Message) GetUint64(id FieldID) (uint64, bool) {
	v, ok := m.Fields[id]
	if !ok || len(v) != 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(v), true
}

// Marshal serializes the message to its wire form.
func (m *Message) Marshal() []byte {
	size := 1 + 4
	for _, v := range m.Fields {
		size += 1 + 4 + len(v)
	}

	buf := make([]byte, size)
	buf[0] = byte(m.Kind)
	binary.BigEndian.PutUint32(buf[1:5], uint32(len(m.Fields)))

	off := 5
	for id, v := range m.Fields {
		buf[off] = byte(id)
		off++
		binary.BigEndian.PutUint32(buf[off:off+4], uint32(len(v)))
		off += 4
		copy(buf[off:], v)
		off += len(v)
	}
	return buf
}

// Unmarshal parses buf into a Message.
func Unmarshal(buf []byte) (*Message, error) {
	if len(buf) < 5 {
		return nil, errutil.ErrPickleMalformed
	}
	m := &Message{Kind: Kind(buf[0]), Fields: make(map[FieldID][]byte)}
	n := binary.BigEndian.Uint32(buf[1:5])

	off := 5
	for i := uint32(0); i < n; i++ {
		if off+1+4 > len(buf) {
			return nil, errutil.ErrPickleMalformed
		}
		id := FieldID(buf[off])
		off++
		length := int(binary.BigEndian.Uint32(buf[off : off+4]))
		off += 4
		if off+length > len(buf) {
			return nil, errutil.ErrPickleMalformed
		}
		m.Fields[id] = buf[off : off+length : off+length]
		off += length
	}
	return m, nil
}
