// Package digestcodec writes values into a state hash in a fixed,
// platform-independent encoding.
package digestcodec

import (
	"encoding/binary"
	"hash"
	"sort"
)

type Writer struct {
	h   hash.Hash
	tmp [8]byte
}

func NewWriter(h hash.Hash) *Writer { return &Writer{h: h} }

func (w *Writer) U64(v uint64) {
	binary.LittleEndian.PutUint64(w.tmp[:], v)
	w.h.Write(w.tmp[:])
}

func (w *Writer) I64(v int64) { w.U64(uint64(v)) }

func (w *Writer) Bool(v bool) {
	w.h.Write([]byte{BoolByte(v)})
}

// String is length-prefixed so adjacent strings cannot run together.
func (w *Writer) String(s string) {
	w.U64(uint64(len(s)))
	w.h.Write([]byte(s))
}

// SortedNonZeroInt64Map emits a key-sorted encoding, skipping zero values so
// an absent key and a zero entry hash the same.
func (w *Writer) SortedNonZeroInt64Map(m map[string]int64) {
	keys := make([]string, 0, len(m))
	for k, v := range m {
		if v != 0 {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	w.U64(uint64(len(keys)))
	for _, k := range keys {
		w.String(k)
		w.I64(m[k])
	}
}

func (w *Writer) Sum() []byte { return w.h.Sum(nil) }

func BoolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}
