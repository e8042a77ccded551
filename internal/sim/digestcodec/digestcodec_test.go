package digestcodec

import (
	"crypto/sha256"
	"testing"
)

func TestMapEncodingIgnoresOrderAndZeros(t *testing.T) {
	a := NewWriter(sha256.New())
	a.SortedNonZeroInt64Map(map[string]int64{"p1": 5, "p2": 9, "p3": 0})
	b := NewWriter(sha256.New())
	b.SortedNonZeroInt64Map(map[string]int64{"p2": 9, "p1": 5})
	if string(a.Sum()) != string(b.Sum()) {
		t.Fatalf("map digests differ")
	}
}

func TestStringsAreLengthPrefixed(t *testing.T) {
	a := NewWriter(sha256.New())
	a.String("ab")
	a.String("c")
	b := NewWriter(sha256.New())
	b.String("a")
	b.String("bc")
	if string(a.Sum()) == string(b.Sum()) {
		t.Fatalf("expected different digests")
	}
}
