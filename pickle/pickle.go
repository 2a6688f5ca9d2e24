// Package pickle implements the self-describing record buffer format used
// to ship a record's bins and metadata over the wire and into storage. The
// layout is fixed and peekable: a reader must be able to recover the bin
// count without running the full decode pass, so the codec is written as
// explicit big-endian field framing rather than a general serializer.
package pickle

import (
	"encoding/binary"

	"github.com/absolute8511/aerospike-server/errutil"
	"github.com/absolute8511/aerospike-server/pkg/crcutil"
	"github.com/absolute8511/aerospike-server/record"
)

// headerSize is the width, in bytes, of the leading bin-count field.
const headerSize = 2

// perBinFixedSize is the width of every fixed-size field preceding a bin's
// variable-length name and value: name length (1) + particle type (1) +
// flags (1) + value length (4).
const perBinFixedSize = 1 + 1 + 1 + 4

// Flag bits carried per-bin in the wire layout's flags byte.
const (
	FlagNone   uint8 = 0
	FlagHidden uint8 = 1 << 0
)

// Encode serializes bins into the wire format described in this package's
// doc comment. Bin order on the wire matches the order of bins.
func Encode(bins []record.Bin) []byte {
	size := headerSize
	for _, b := range bins {
		size += perBinFixedSize + len(b.Name) + len(b.Value)
	}

	buf := make([]byte, size)
	binary.BigEndian.PutUint16(buf[0:2], uint16(len(bins)))

	off := headerSize
	for _, b := range bins {
		buf[off] = byte(len(b.Name))
		off++
		copy(buf[off:], b.Name)
		off += len(b.Name)
		buf[off] = byte(b.Type)
		off++
		buf[off] = b.Flags
		off++
		binary.BigEndian.PutUint32(buf[off:off+4], uint32(len(b.Value)))
		off += 4
		copy(buf[off:], b.Value)
		off += len(b.Value)
	}
	return buf
}

// DropPickle returns the delete-on-replica form: a zero-bin buffer. Callers
// pair this with the fabric DROP info bit; the pickle itself carries no
// flag of its own, since bin_count==0 is only a drop when the carrying
// message says so.
func DropPickle() []byte {
	return Encode(nil)
}

// IsDrop reports whether buf, decoded, is the delete-on-replica form: a
// pickle with zero bins. Callers combine this with the message's DROP info
// bit to distinguish an explicit delete from a malformed, binless pickle.
func IsDrop(buf []byte) (bool, error) {
	n, err := PeekBinCount(buf)
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

// PeekBinCount reads the bin count directly from the first two bytes of
// buf without parsing the rest of the buffer.
func PeekBinCount(buf []byte) (uint16, error) {
	if len(buf) < headerSize {
		return 0, errutil.ErrPickleMalformed
	}
	return binary.BigEndian.Uint16(buf[0:2]), nil
}

// Decode parses buf into an ordered bin slice.
func Decode(buf []byte) ([]record.Bin, error) {
	n, err := PeekBinCount(buf)
	if err != nil {
		return nil, err
	}

	bins := make([]record.Bin, 0, n)
	off := headerSize
	for i := uint16(0); i < n; i++ {
		b, next, err := decodeOneBin(buf, off)
		if err != nil {
			return nil, err
		}
		bins = append(bins, b)
		off = next
	}
	return bins, nil
}

func decodeOneBin(buf []byte, off int) (record.Bin, int, error) {
	if off+1 > len(buf) {
		return record.Bin{}, 0, errutil.ErrPickleMalformed
	}
	nameLen := int(buf[off])
	off++

	if off+nameLen+1+1+4 > len(buf) {
		return record.Bin{}, 0, errutil.ErrPickleMalformed
	}
	name := string(buf[off : off+nameLen])
	off += nameLen

	typ := record.ParticleType(buf[off])
	off++
	flags := buf[off]
	off++

	valLen := int(binary.BigEndian.Uint32(buf[off : off+4]))
	off += 4

	if off+valLen > len(buf) {
		return record.Bin{}, 0, errutil.ErrPickleMalformed
	}
	val := buf[off : off+valLen : off+valLen]
	off += valLen

	return record.Bin{Name: name, Type: typ, Flags: flags, Value: val}, off, nil
}

// StorageFootprint computes the on-device footprint a pickle would occupy
// without fully decoding it: it walks the length fields only, validating
// structural soundness along the way so a truncated buffer is caught here
// rather than surfacing as a corrupt record once persisted.
func StorageFootprint(buf []byte) (int, error) {
	n, err := PeekBinCount(buf)
	if err != nil {
		return 0, err
	}

	off := headerSize
	for i := uint16(0); i < n; i++ {
		if off+1 > len(buf) {
			return 0, errutil.ErrPickleMalformed
		}
		nameLen := int(buf[off])
		off++
		if off+nameLen+1+1+4 > len(buf) {
			return 0, errutil.ErrPickleMalformed
		}
		off += nameLen + 1 + 1
		valLen := int(binary.BigEndian.Uint32(buf[off : off+4]))
		off += 4
		if off+valLen > len(buf) {
			return 0, errutil.ErrPickleMalformed
		}
		off += valLen
	}
	return off, nil
}

// Checksum returns the CRC32-Castagnoli checksum of a validated pickle
// buffer.
func Checksum(buf []byte) uint32 {
	return crcutil.Checksum(0, buf)
}
