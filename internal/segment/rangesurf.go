package segment

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// RangeSurf answers "does this zone contain any value in [lo, hi]?" for
// an id-like numeric field (spec §4.C.f). No pack example carries a
// prefix-trie range filter (DESIGN.md: closest peers, roaring/xorfilter,
// answer membership/equality rather than range containment), so this is
// a standard-library structure: per zone, a sorted run of uint64 keys,
// one per I64/U64 value, mapped so that key order matches value order,
// which lets ContainsRange reject a zone in O(log n) by binary search
// instead of scanning every value.
//
// There is no trie node graph: spec only requires a containment
// predicate, not prefix enumeration, and a sorted key run per zone
// answers that.
type RangeSurf struct {
	// zoneKeys[zoneID] holds the order-preserving keys of every I64/U64
	// value observed in that zone (duplicates kept), sorted ascending.
	zoneKeys [][]uint64
}

// BuildRangeSurf builds one sorted key run per zone from raw values.
// Only I64/U64 values are supported; other kinds are skipped (id-like
// fields are numeric by construction).
func BuildRangeSurf(zoneValues [][]Value) *RangeSurf {
	rs := &RangeSurf{zoneKeys: make([][]uint64, len(zoneValues))}
	for zoneID, values := range zoneValues {
		keys := make([]uint64, 0, len(values))
		for _, v := range values {
			k, ok := surfKey(v)
			if !ok {
				continue
			}
			keys = append(keys, k)
		}
		sortUint64s(keys)
		rs.zoneKeys[zoneID] = keys
	}
	return rs
}

// ContainsRange reports whether zoneID might hold a value in [lo, hi].
func (rs *RangeSurf) ContainsRange(zoneID int, lo, hi Value) bool {
	if zoneID < 0 || zoneID >= len(rs.zoneKeys) {
		return false
	}
	loKey, ok1 := surfKey(lo)
	hiKey, ok2 := surfKey(hi)
	if !ok1 || !ok2 {
		return true // non-numeric bound: correctness-preserving fallback
	}
	keys := rs.zoneKeys[zoneID]
	i := lowerBound(keys, loKey)
	return i < len(keys) && keys[i] <= hiKey
}

func surfKey(v Value) (uint64, bool) {
	switch v.Kind {
	case KindI64:
		// Flip the sign bit so signed comparison order matches unsigned
		// byte order, the standard trick for big-endian-comparable keys.
		return uint64(v.I64) ^ (1 << 63), true
	case KindU64:
		return v.U64, true
	default:
		return 0, false
	}
}

func sortUint64s(s []uint64) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

func lowerBound(keys []uint64, target uint64) int {
	lo, hi := 0, len(keys)
	for lo < hi {
		mid := (lo + hi) / 2
		if keys[mid] < target {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// Marshal serializes the per-zone key runs as
// [zone count][per zone: key count][keys...].
func (rs *RangeSurf) Marshal() []byte {
	var buf bytes.Buffer
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(rs.zoneKeys)))
	buf.Write(hdr[:])
	for _, keys := range rs.zoneKeys {
		binary.LittleEndian.PutUint32(hdr[:], uint32(len(keys)))
		buf.Write(hdr[:])
		for _, k := range keys {
			var kb [8]byte
			binary.LittleEndian.PutUint64(kb[:], k)
			buf.Write(kb[:])
		}
	}
	return buf.Bytes()
}

// UnmarshalRangeSurf is the inverse of Marshal.
func UnmarshalRangeSurf(b []byte) (*RangeSurf, error) {
	if len(b) < 4 {
		return nil, fmt.Errorf("segment: range surf truncated")
	}
	nZones := int(binary.LittleEndian.Uint32(b[0:4]))
	off := 4
	rs := &RangeSurf{zoneKeys: make([][]uint64, nZones)}
	for z := 0; z < nZones; z++ {
		if off+4 > len(b) {
			return nil, fmt.Errorf("segment: range surf zone header truncated")
		}
		n := int(binary.LittleEndian.Uint32(b[off : off+4]))
		off += 4
		keys := make([]uint64, n)
		for i := 0; i < n; i++ {
			if off+8 > len(b) {
				return nil, fmt.Errorf("segment: range surf key truncated")
			}
			keys[i] = binary.LittleEndian.Uint64(b[off : off+8])
			off += 8
		}
		rs.zoneKeys[z] = keys
	}
	return rs, nil
}
