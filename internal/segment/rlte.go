package segment

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
)

// LadderRung is one entry of an RLTE ladder: the best value seen in a
// zone for the ladder's field, plus that zone's id.
type LadderRung struct {
	ZoneID int
	Value  Value
}

// Ladder is the .rlte top-E zones-by-field-extreme index (spec §4.F
// step 3). Its exact byte layout is an open question per spec §9 ("Exact
// byte layout of .rlte ladders is inferred from usage"); this is the
// simplest encoding satisfying the k-way ladder-merge contract: rungs
// sorted by Value descending (for DESC) or ascending (for ASC), capped
// at E entries.
type Ladder struct {
	Asc   bool
	Rungs []LadderRung
}

// BuildLadder picks each zone's best value for the ladder direction and
// keeps the top e zones by that value.
func BuildLadder(zoneBest []LadderRung, asc bool, e int) *Ladder {
	rungs := append([]LadderRung(nil), zoneBest...)
	sort.Slice(rungs, func(i, j int) bool {
		c := compareValues(rungs[i].Value, rungs[j].Value)
		if asc {
			return c < 0
		}
		return c > 0
	})
	if len(rungs) > e {
		rungs = rungs[:e]
	}
	return &Ladder{Asc: asc, Rungs: rungs}
}

// Marshal serializes the ladder as
// [asc byte][count][per rung: zone id, value kind, value bytes].
func (l *Ladder) Marshal() []byte {
	var buf bytes.Buffer
	if l.Asc {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(l.Rungs)))
	buf.Write(hdr[:])
	for _, r := range l.Rungs {
		var zb [4]byte
		binary.LittleEndian.PutUint32(zb[:], uint32(r.ZoneID))
		buf.Write(zb[:])
		buf.WriteByte(byte(r.Value.Kind))
		buf.Write(encodeColumnZone([]Value{r.Value})[bitmapBytes(1):])
	}
	return buf.Bytes()
}

// UnmarshalLadder is the inverse of Marshal.
func UnmarshalLadder(b []byte) (*Ladder, error) {
	if len(b) < 5 {
		return nil, fmt.Errorf("segment: ladder truncated header")
	}
	l := &Ladder{Asc: b[0] == 1}
	n := int(binary.LittleEndian.Uint32(b[1:5]))
	off := 5
	for i := 0; i < n; i++ {
		if off+4+1 > len(b) {
			return nil, fmt.Errorf("segment: ladder rung truncated")
		}
		zoneID := int(binary.LittleEndian.Uint32(b[off : off+4]))
		off += 4
		kind := ValueKind(b[off])
		off++
		v, consumed, err := decodeSingleValue(b[off:], kind)
		if err != nil {
			return nil, err
		}
		off += consumed
		l.Rungs = append(l.Rungs, LadderRung{ZoneID: zoneID, Value: v})
	}
	return l, nil
}

// decodeSingleValue decodes one fixed/variable width value of kind from
// b, returning how many bytes it consumed.
func decodeSingleValue(b []byte, kind ValueKind) (Value, int, error) {
	switch kind {
	case KindI64:
		if len(b) < 8 {
			return Value{}, 0, fmt.Errorf("segment: truncated i64 value")
		}
		return Value{Kind: KindI64, I64: int64(binary.LittleEndian.Uint64(b[:8]))}, 8, nil
	case KindU64:
		if len(b) < 8 {
			return Value{}, 0, fmt.Errorf("segment: truncated u64 value")
		}
		return Value{Kind: KindU64, U64: binary.LittleEndian.Uint64(b[:8])}, 8, nil
	case KindF64:
		if len(b) < 8 {
			return Value{}, 0, fmt.Errorf("segment: truncated f64 value")
		}
		return Value{Kind: KindF64, F64: math.Float64frombits(binary.LittleEndian.Uint64(b[:8]))}, 8, nil
	case KindString:
		if len(b) < 4 {
			return Value{}, 0, fmt.Errorf("segment: truncated string length")
		}
		l := int(binary.LittleEndian.Uint32(b[:4]))
		if len(b) < 4+l {
			return Value{}, 0, fmt.Errorf("segment: truncated string value")
		}
		return Value{Kind: KindString, Str: string(b[4 : 4+l])}, 4 + l, nil
	default:
		return Value{}, 0, fmt.Errorf("segment: unsupported ladder value kind %d", kind)
	}
}
