package crcutil

import "hash/crc32"

// digest represents the partial evaluation of a checksum, seeded with an
// initial crc rather than always starting from zero. This lets a caller
// resume a running CRC across chunks without buffering them all first.
type digest struct {
	crc uint32
	tab *crc32.Table
}

// New creates a new hash.Hash32 computing the CRC32 checksum using the
// polynomial represented by tab, seeded with crc as the starting value
// rather than 0.
func New(crc uint32, tab *crc32.Table) *digest {
	return &digest{crc, tab}
}

func (d *digest) Write(p []byte) (n int, err error) {
	d.crc = crc32.Update(d.crc, d.tab, p)
	return len(p), nil
}

func (d *digest) Sum32() uint32 { return d.crc }

func (d *digest) Reset() { d.crc = 0 }

func (d *digest) Size() int { return 4 }

func (d *digest) BlockSize() int { return 1 }

func (d *digest) Sum(in []byte) []byte {
	s := d.Sum32()
	return append(in, byte(s>>24), byte(s>>16), byte(s>>8), byte(s))
}

// Checksum returns the CRC-32C (Castagnoli) checksum of b, seeded with
// crc. Used by pickle.Checksum.
func Checksum(crc uint32, b []byte) uint32 {
	return crc32.Update(crc, crc32.MakeTable(crc32.Castagnoli), b)
}
