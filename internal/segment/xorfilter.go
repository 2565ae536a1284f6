package segment

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math"

	"github.com/FastFilter/xorfilter"
)

// XORFilter wraps github.com/FastFilter/xorfilter's binary fuse filter
// for membership testing with a false-positive rate of roughly 1/256
// ((.5%), spec §4.C.d/e: "membership test with false-positive rate
// ≤ ~0.5%"). One is built per-(uid, field) over the segment's distinct
// values (.xf) and one per-zone over the zone's distinct values (.zxf).
type XORFilter struct {
	filter *xorfilter.BinaryFuse8
}

// BuildXORFilter hashes every distinct non-null value and builds a
// filter over the resulting fingerprints.
func BuildXORFilter(values []Value) (*XORFilter, error) {
	seen := make(map[uint64]struct{}, len(values))
	keys := make([]uint64, 0, len(values))
	for _, v := range values {
		if v.Kind == KindNull {
			continue
		}
		h := hashValue(v)
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		keys = append(keys, h)
	}
	if len(keys) == 0 {
		return &XORFilter{}, nil
	}
	f, err := xorfilter.PopulateBinaryFuse8(keys)
	if err != nil {
		return nil, fmt.Errorf("segment: build xor filter: %w", err)
	}
	return &XORFilter{filter: f}, nil
}

// MayContain reports whether v might be present. False means
// definitely absent; true means present or a false positive.
func (f *XORFilter) MayContain(v Value) bool {
	if f == nil || f.filter == nil {
		return false
	}
	return f.filter.Contains(hashValue(v))
}

// Marshal serializes the filter for the .xf/.zxf files.
func (f *XORFilter) Marshal() []byte {
	if f == nil || f.filter == nil {
		return []byte{0}
	}
	out := []byte{1}
	var seedBuf [8]byte
	binary.LittleEndian.PutUint64(seedBuf[:], f.filter.Seed)
	out = append(out, seedBuf[:]...)

	var szBuf [4]byte
	binary.LittleEndian.PutUint32(szBuf[:], f.filter.SegmentLength)
	out = append(out, szBuf[:]...)
	binary.LittleEndian.PutUint32(szBuf[:], f.filter.SegmentLengthMask)
	out = append(out, szBuf[:]...)
	binary.LittleEndian.PutUint32(szBuf[:], f.filter.SegmentCount)
	out = append(out, szBuf[:]...)
	binary.LittleEndian.PutUint32(szBuf[:], f.filter.SegmentCountLength)

	out = append(out, szBuf[:]...)
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(f.filter.Fingerprints)))
	out = append(out, lenBuf[:]...)
	out = append(out, f.filter.Fingerprints...)
	return out
}

// UnmarshalXORFilter is the inverse of Marshal.
func UnmarshalXORFilter(b []byte) (*XORFilter, error) {
	if len(b) == 0 || b[0] == 0 {
		return &XORFilter{}, nil
	}
	b = b[1:]
	if len(b) < 8+4*5 {
		return nil, fmt.Errorf("segment: xor filter truncated")
	}
	f := &xorfilter.BinaryFuse8{}
	f.Seed = binary.LittleEndian.Uint64(b[0:8])
	f.SegmentLength = binary.LittleEndian.Uint32(b[8:12])
	f.SegmentLengthMask = binary.LittleEndian.Uint32(b[12:16])
	f.SegmentCount = binary.LittleEndian.Uint32(b[16:20])
	f.SegmentCountLength = binary.LittleEndian.Uint32(b[20:24])
	n := binary.LittleEndian.Uint32(b[24:28])
	rest := b[28:]
	if uint32(len(rest)) < n {
		return nil, fmt.Errorf("segment: xor filter fingerprints truncated")
	}
	f.Fingerprints = append([]byte(nil), rest[:n]...)
	return &XORFilter{filter: f}, nil
}

// hashValue produces a stable 64-bit fingerprint for a column value,
// used as the xorfilter key.
func hashValue(v Value) uint64 {
	h := fnv.New64a()
	switch v.Kind {
	case KindI64:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], uint64(v.I64))
		h.Write([]byte{byte(KindI64)})
		h.Write(b[:])
	case KindU64:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], v.U64)
		h.Write([]byte{byte(KindU64)})
		h.Write(b[:])
	case KindF64:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], math.Float64bits(v.F64))
		h.Write([]byte{byte(KindF64)})
		h.Write(b[:])
	case KindBool:
		h.Write([]byte{byte(KindBool)})
		if v.Bool {
			h.Write([]byte{1})
		} else {
			h.Write([]byte{0})
		}
	case KindString:
		h.Write([]byte{byte(KindString)})
		h.Write([]byte(v.Str))
	}
	return h.Sum64()
}
