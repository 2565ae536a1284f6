package zonedb

import "github.com/relaysix/zonedb/internal/schema"

// ScalarKind tags the variant held by a Scalar.
type ScalarKind uint8

// Scalar variants, closed per design note "avoid dynamic trait objects
// in hot loops": a tagged struct instead of interface{}.
const (
	KindNull ScalarKind = iota
	KindI64
	KindU64
	KindF64
	KindBool
	KindString
)

// Scalar is a payload field value. Exactly one of the typed fields is
// meaningful, selected by Kind.
type Scalar struct {
	Kind ScalarKind
	I64  int64
	U64  uint64
	F64  float64
	Bool bool
	Str  string
}

// Null is the sentinel scalar stored for an absent optional field.
var Null = Scalar{Kind: KindNull}

// I64 builds a Scalar holding a signed integer.
func I64(v int64) Scalar { return Scalar{Kind: KindI64, I64: v} }

// U64 builds a Scalar holding an unsigned integer.
func U64(v uint64) Scalar { return Scalar{Kind: KindU64, U64: v} }

// F64 builds a Scalar holding a float.
func F64(v float64) Scalar { return Scalar{Kind: KindF64, F64: v} }

// Bool builds a Scalar holding a boolean.
func Bool(v bool) Scalar { return Scalar{Kind: KindBool, Bool: v} }

// Str builds a Scalar holding a string.
func Str(v string) Scalar { return Scalar{Kind: KindString, Str: v} }

// IsNull reports whether the scalar is the null sentinel.
func (s Scalar) IsNull() bool { return s.Kind == KindNull }

// Event is the logical record ingested by the store. Events are
// immutable once acknowledged.
type Event struct {
	ContextID string
	EventType string
	Timestamp uint64
	Payload   map[string]Scalar

	// UID is resolved by the schema registry at Store time; zero value
	// means "not yet resolved".
	UID schema.UID
}

