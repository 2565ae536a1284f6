package zonedb

import "github.com/relaysix/zonedb/internal/schema"

// FieldKind enumerates the field types a schema can declare.
type FieldKind uint8

const (
	FieldI64 FieldKind = iota
	FieldU64
	FieldF64
	FieldBool
	FieldString
	FieldEnum
	FieldOptional
)

// FieldType describes one schema field. Enum carries its ordered
// variant set; Optional wraps an inner FieldType, stored as null when
// absent from a payload (spec §3).
type FieldType struct {
	Kind     FieldKind
	Variants []string
	Inner    *FieldType
}

// Enum builds a FieldType restricting a string field to variants, in
// the order given (order matters for the enum zone bitmap layout).
func Enum(variants ...string) FieldType {
	return FieldType{Kind: FieldEnum, Variants: variants}
}

// Optional wraps ft so a payload may omit the field, stored as null.
func Optional(ft FieldType) FieldType {
	return FieldType{Kind: FieldOptional, Inner: &ft}
}

func toInternalFieldType(ft FieldType) schema.FieldType {
	switch ft.Kind {
	case FieldU64:
		return schema.FieldType{Kind: schema.KindU64}
	case FieldF64:
		return schema.FieldType{Kind: schema.KindF64}
	case FieldBool:
		return schema.FieldType{Kind: schema.KindBool}
	case FieldString:
		return schema.FieldType{Kind: schema.KindString}
	case FieldEnum:
		return schema.FieldType{Kind: schema.KindEnum, Variants: ft.Variants}
	case FieldOptional:
		inner := toInternalFieldType(*ft.Inner)
		return schema.FieldType{Kind: schema.KindOptional, Inner: &inner}
	default:
		return schema.FieldType{Kind: schema.KindI64}
	}
}

// DefineSchema registers (or replaces) the field set for eventType,
// assigning it a stable UID on first definition (spec §3). Every shard
// shares the same registry instance, so a schema defined once is
// visible to every shard's Store and Query calls immediately.
func (s *Store) DefineSchema(eventType string, fields map[string]FieldType) error {
	internalFields := make(map[string]schema.FieldType, len(fields))
	for name, ft := range fields {
		internalFields[name] = toInternalFieldType(ft)
	}
	_, err := s.schema.Define(eventType, internalFields)
	return err
}
