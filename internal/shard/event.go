package shard

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/relaysix/zonedb/internal/schema"
	"github.com/relaysix/zonedb/internal/segment"
)

// Event is the shard-level view of an ingested record: the root
// package's zonedb.Event converted to segment.Value payloads at the
// package boundary, so this package never imports the root (which
// imports shard).
type Event struct {
	EventType string
	ContextID string
	Timestamp uint64
	Payload   map[string]segment.Value
}

// toSchemaValue narrows a segment.Value down to the minimal view
// schema.ValidatePayload needs.
func toSchemaValue(v segment.Value) schema.Value {
	switch v.Kind {
	case segment.KindNull:
		return schema.Value{Kind: schema.ScalarNull}
	case segment.KindI64:
		return schema.Value{Kind: schema.ScalarI64}
	case segment.KindU64:
		return schema.Value{Kind: schema.ScalarU64}
	case segment.KindF64:
		return schema.Value{Kind: schema.ScalarF64}
	case segment.KindBool:
		return schema.Value{Kind: schema.ScalarBool}
	case segment.KindString:
		return schema.Value{Kind: schema.ScalarString, Enum: v.Str}
	default:
		return schema.Value{Kind: schema.ScalarNull}
	}
}

// schemaFieldSpec converts one schema field declaration into the
// segment.FieldSpec the Flusher needs, unwrapping Optional and flagging
// an I64/U64 field id-like when its name ends in "_id" (spec §3/§4.C
// never define an explicit id-like flag on the schema; this repo
// infers it from naming, the same signal spec §8's example fields
// follow — order_id, context_id).
func schemaFieldSpec(name string, ft schema.FieldType) segment.FieldSpec {
	for ft.Kind == schema.KindOptional {
		ft = *ft.Inner
	}
	switch ft.Kind {
	case schema.KindI64:
		return segment.FieldSpec{Name: name, Kind: segment.KindI64, IDLike: isIDLike(name)}
	case schema.KindU64:
		return segment.FieldSpec{Name: name, Kind: segment.KindU64, IDLike: isIDLike(name)}
	case schema.KindF64:
		return segment.FieldSpec{Name: name, Kind: segment.KindF64}
	case schema.KindBool:
		return segment.FieldSpec{Name: name, Kind: segment.KindBool}
	case schema.KindString:
		return segment.FieldSpec{Name: name, Kind: segment.KindString}
	case schema.KindEnum:
		return segment.FieldSpec{Name: name, Kind: segment.KindString, Enum: ft.Variants}
	default:
		return segment.FieldSpec{Name: name, Kind: segment.KindString}
	}
}

func isIDLike(name string) bool {
	return strings.HasSuffix(name, "_id")
}

// encodeEvent serializes e for WAL storage:
// [event_type][context_id][timestamp][field count]{name, kind, value}*
func encodeEvent(e Event) []byte {
	var buf []byte
	buf = appendString(buf, e.EventType)
	buf = appendString(buf, e.ContextID)
	buf = appendUint64(buf, e.Timestamp)
	buf = appendUint32(buf, uint32(len(e.Payload)))
	for name, v := range e.Payload {
		buf = appendString(buf, name)
		buf = append(buf, byte(v.Kind))
		buf = appendValue(buf, v)
	}
	return buf
}

func decodeEvent(b []byte) (Event, error) {
	var e Event
	var n int
	var err error

	e.EventType, n, err = readString(b)
	if err != nil {
		return Event{}, err
	}
	b = b[n:]

	e.ContextID, n, err = readString(b)
	if err != nil {
		return Event{}, err
	}
	b = b[n:]

	if len(b) < 8 {
		return Event{}, fmt.Errorf("shard: truncated event timestamp")
	}
	e.Timestamp = binary.LittleEndian.Uint64(b[:8])
	b = b[8:]

	if len(b) < 4 {
		return Event{}, fmt.Errorf("shard: truncated event field count")
	}
	count := int(binary.LittleEndian.Uint32(b[:4]))
	b = b[4:]

	e.Payload = make(map[string]segment.Value, count)
	for i := 0; i < count; i++ {
		name, n, err := readString(b)
		if err != nil {
			return Event{}, err
		}
		b = b[n:]
		if len(b) < 1 {
			return Event{}, fmt.Errorf("shard: truncated event field kind")
		}
		kind := segment.ValueKind(b[0])
		b = b[1:]
		v, n, err := readValue(b, kind)
		if err != nil {
			return Event{}, err
		}
		b = b[n:]
		e.Payload[name] = v
	}
	return e, nil
}

func appendString(b []byte, s string) []byte {
	b = appendUint32(b, uint32(len(s)))
	return append(b, s...)
}

func appendUint32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendUint64(b []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendValue(b []byte, v segment.Value) []byte {
	switch v.Kind {
	case segment.KindI64:
		return appendUint64(b, uint64(v.I64))
	case segment.KindU64:
		return appendUint64(b, v.U64)
	case segment.KindF64:
		return appendUint64(b, math.Float64bits(v.F64))
	case segment.KindBool:
		if v.Bool {
			return append(b, 1)
		}
		return append(b, 0)
	case segment.KindString:
		return appendString(b, v.Str)
	default:
		return b
	}
}

func readString(b []byte) (string, int, error) {
	if len(b) < 4 {
		return "", 0, fmt.Errorf("shard: truncated string length")
	}
	l := int(binary.LittleEndian.Uint32(b[:4]))
	if len(b) < 4+l {
		return "", 0, fmt.Errorf("shard: truncated string value")
	}
	return string(b[4 : 4+l]), 4 + l, nil
}

func readValue(b []byte, kind segment.ValueKind) (segment.Value, int, error) {
	switch kind {
	case segment.KindNull:
		return segment.Value{Kind: segment.KindNull}, 0, nil
	case segment.KindI64:
		if len(b) < 8 {
			return segment.Value{}, 0, fmt.Errorf("shard: truncated i64 value")
		}
		return segment.Value{Kind: segment.KindI64, I64: int64(binary.LittleEndian.Uint64(b[:8]))}, 8, nil
	case segment.KindU64:
		if len(b) < 8 {
			return segment.Value{}, 0, fmt.Errorf("shard: truncated u64 value")
		}
		return segment.Value{Kind: segment.KindU64, U64: binary.LittleEndian.Uint64(b[:8])}, 8, nil
	case segment.KindF64:
		if len(b) < 8 {
			return segment.Value{}, 0, fmt.Errorf("shard: truncated f64 value")
		}
		return segment.Value{Kind: segment.KindF64, F64: math.Float64frombits(binary.LittleEndian.Uint64(b[:8]))}, 8, nil
	case segment.KindBool:
		if len(b) < 1 {
			return segment.Value{}, 0, fmt.Errorf("shard: truncated bool value")
		}
		return segment.Value{Kind: segment.KindBool, Bool: b[0] == 1}, 1, nil
	case segment.KindString:
		s, n, err := readString(b)
		if err != nil {
			return segment.Value{}, 0, err
		}
		return segment.Value{Kind: segment.KindString, Str: s}, n, nil
	default:
		return segment.Value{}, 0, fmt.Errorf("shard: unknown value kind %d", kind)
	}
}

// eventRow converts an Event into the segment.Row shape the query
// package and Flusher operate on, materializing context_id, timestamp
// and event_type as ordinary fields alongside the payload (spec §4.C
// step 2b: "one per schema field + context_id + timestamp + event_type").
func eventRow(e Event) segment.Row {
	fields := make(map[string]segment.Value, len(e.Payload)+3)
	for k, v := range e.Payload {
		fields[k] = v
	}
	fields["context_id"] = segment.Value{Kind: segment.KindString, Str: e.ContextID}
	fields["timestamp"] = segment.Value{Kind: segment.KindU64, U64: e.Timestamp}
	fields["event_type"] = segment.Value{Kind: segment.KindString, Str: e.EventType}
	return segment.Row{ContextID: e.ContextID, Timestamp: e.Timestamp, Fields: fields}
}
