package zonedb

import (
	"github.com/relaysix/zonedb/internal/segment"
	"github.com/relaysix/zonedb/internal/shard"
)

// toSegmentValue converts a public Scalar into the internal segment
// package's column Value at the package boundary (shard, schema, and
// segment never import the root package, which imports them).
func toSegmentValue(s Scalar) segment.Value {
	switch s.Kind {
	case KindI64:
		return segment.Value{Kind: segment.KindI64, I64: s.I64}
	case KindU64:
		return segment.Value{Kind: segment.KindU64, U64: s.U64}
	case KindF64:
		return segment.Value{Kind: segment.KindF64, F64: s.F64}
	case KindBool:
		return segment.Value{Kind: segment.KindBool, Bool: s.Bool}
	case KindString:
		return segment.Value{Kind: segment.KindString, Str: s.Str}
	default:
		return segment.Value{Kind: segment.KindNull}
	}
}

func fromSegmentValue(v segment.Value) Scalar {
	switch v.Kind {
	case segment.KindI64:
		return Scalar{Kind: KindI64, I64: v.I64}
	case segment.KindU64:
		return Scalar{Kind: KindU64, U64: v.U64}
	case segment.KindF64:
		return Scalar{Kind: KindF64, F64: v.F64}
	case segment.KindBool:
		return Scalar{Kind: KindBool, Bool: v.Bool}
	case segment.KindString:
		return Scalar{Kind: KindString, Str: v.Str}
	default:
		return Null
	}
}

// toShardEvent converts a public Event into the shard package's Event,
// translating every payload Scalar to a segment.Value.
func toShardEvent(e Event) shard.Event {
	payload := make(map[string]segment.Value, len(e.Payload))
	for name, v := range e.Payload {
		payload[name] = toSegmentValue(v)
	}
	return shard.Event{
		EventType: e.EventType,
		ContextID: e.ContextID,
		Timestamp: e.Timestamp,
		Payload:   payload,
	}
}
