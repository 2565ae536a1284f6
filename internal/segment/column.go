// Package segment implements the immutable columnar segment format:
// the Flusher that serializes a frozen memtable into a segment
// directory (spec §4.C), and the zone indices read back by the query
// path (spec §4.D).
package segment

import (
	"encoding/binary"
	"fmt"
	"math"
)

// encodeColumnZone packs one zone's worth of values for a single field
// into a column block: a null bitmap followed by fixed-width or
// length-prefixed values, per spec §4.C.b. Every null row occupies an
// 8-byte zero placeholder, whatever the field's kind, and
// decodeColumnZone skips exactly 8 bytes for it; values are decoded
// sequentially.
func encodeColumnZone(values []Value) []byte {
	buf := make([]byte, bitmapBytes(len(values)))
	for i, v := range values {
		if v.Kind == KindNull {
			setBit(buf, i)
		}
	}

	for _, v := range values {
		switch v.Kind {
		case KindI64:
			var b [8]byte
			binary.LittleEndian.PutUint64(b[:], uint64(v.I64))
			buf = append(buf, b[:]...)
		case KindU64:
			var b [8]byte
			binary.LittleEndian.PutUint64(b[:], v.U64)
			buf = append(buf, b[:]...)
		case KindF64:
			var b [8]byte
			binary.LittleEndian.PutUint64(b[:], math.Float64bits(v.F64))
			buf = append(buf, b[:]...)
		case KindBool:
			if v.Bool {
				buf = append(buf, 1)
			} else {
				buf = append(buf, 0)
			}
		case KindString:
			var lb [4]byte
			binary.LittleEndian.PutUint32(lb[:], uint32(len(v.Str)))
			buf = append(buf, lb[:]...)
			buf = append(buf, v.Str...)
		case KindNull:
			var b [8]byte
			buf = append(buf, b[:]...)
		}
	}
	return buf
}

// decodeColumnZone is the inverse of encodeColumnZone: it needs to know
// how many rows the zone held and the field's value kind (null rows
// decode to KindNull regardless of the placeholder bytes).
func decodeColumnZone(b []byte, n int, kind ValueKind) ([]Value, error) {
	bmLen := bitmapBytes(n)
	if len(b) < bmLen {
		return nil, fmt.Errorf("segment: column zone truncated bitmap")
	}
	bitmap := b[:bmLen]
	rest := b[bmLen:]

	out := make([]Value, n)
	off := 0
	for i := 0; i < n; i++ {
		if getBit(bitmap, i) {
			out[i] = Value{Kind: KindNull}
			off += 8
			continue
		}
		switch kind {
		case KindI64:
			out[i] = Value{Kind: KindI64, I64: int64(binary.LittleEndian.Uint64(rest[off : off+8]))}
			off += 8
		case KindU64:
			out[i] = Value{Kind: KindU64, U64: binary.LittleEndian.Uint64(rest[off : off+8])}
			off += 8
		case KindF64:
			out[i] = Value{Kind: KindF64, F64: math.Float64frombits(binary.LittleEndian.Uint64(rest[off : off+8]))}
			off += 8
		case KindBool:
			out[i] = Value{Kind: KindBool, Bool: rest[off] == 1}
			off++
		case KindString:
			l := int(binary.LittleEndian.Uint32(rest[off : off+4]))
			off += 4
			out[i] = Value{Kind: KindString, Str: string(rest[off : off+l])}
			off += l
		}
	}
	return out, nil
}

func bitmapBytes(n int) int { return (n + 7) / 8 }

func setBit(bitmap []byte, i int) { bitmap[i/8] |= 1 << uint(i%8) }

func getBit(bitmap []byte, i int) bool { return bitmap[i/8]&(1<<uint(i%8)) != 0 }
