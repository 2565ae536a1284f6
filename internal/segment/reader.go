package segment

import (
	"fmt"
	"os"
	"path/filepath"
)

// Reader opens one UID partition inside a committed segment directory
// for querying. It loads index files lazily (spec §4.D: "read lazily by
// the query path") and decompresses column blocks only for the zones
// and fields a query actually needs (projection pushdown, spec §4.F
// step 4.2).
type Reader struct {
	dir   string
	uid   string
	codec Codec

	idx   *IdxFile
	zones []ZoneMeta
}

// OpenPartition opens the UID partition rooted at dir/<segID>/<uid>.*.
func OpenPartition(dir, uid string, codec Codec) (*Reader, error) {
	idxBytes, err := os.ReadFile(filepath.Join(dir, uid+".idx"))
	if err != nil {
		return nil, fmt.Errorf("segment: open %s.idx: %w", uid, err)
	}
	idx, err := UnmarshalIdx(idxBytes)
	if err != nil {
		return nil, err
	}

	zonesBytes, err := os.ReadFile(filepath.Join(dir, uid+".zones"))
	if err != nil {
		return nil, fmt.Errorf("segment: open %s.zones: %w", uid, err)
	}
	zones, err := UnmarshalZoneMeta(zonesBytes)
	if err != nil {
		return nil, err
	}

	return &Reader{dir: dir, uid: uid, codec: codec, idx: idx, zones: zones}, nil
}

// Zones returns the partition's zone metadata.
func (r *Reader) Zones() []ZoneMeta { return r.zones }

// Fields returns every field the partition stores a column for.
func (r *Reader) Fields() []FieldSpec { return r.idx.Fields }

// FieldSpec returns the stored spec for field, or ok=false if the
// partition has no such field.
func (r *Reader) FieldSpec(field string) (FieldSpec, bool) {
	for _, fs := range r.idx.Fields {
		if fs.Name == field {
			return fs, true
		}
	}
	return FieldSpec{}, false
}

// XORFilter loads the segment-wide equality filter for field.
func (r *Reader) XORFilter(field string) (*XORFilter, error) {
	b, err := os.ReadFile(filepath.Join(r.dir, r.uid+"_"+field+".xf"))
	if err != nil {
		return nil, fmt.Errorf("segment: open %s_%s.xf: %w", r.uid, field, err)
	}
	return UnmarshalXORFilter(b)
}

// ZoneXORFilters loads the per-zone equality filters for field.
func (r *Reader) ZoneXORFilters(field string) ([]*XORFilter, error) {
	b, err := os.ReadFile(filepath.Join(r.dir, r.uid+"_"+field+".zxf"))
	if err != nil {
		return nil, fmt.Errorf("segment: open %s_%s.zxf: %w", r.uid, field, err)
	}
	return UnmarshalZoneXF(b)
}

// RangeSurf loads the .zsf range filter for field.
func (r *Reader) RangeSurf(field string) (*RangeSurf, error) {
	b, err := os.ReadFile(filepath.Join(r.dir, r.uid+"_"+field+".zsf"))
	if err != nil {
		return nil, fmt.Errorf("segment: open %s_%s.zsf: %w", r.uid, field, err)
	}
	return UnmarshalRangeSurf(b)
}

// EnumBitmap loads the .ebm enum zone bitmap for field.
func (r *Reader) EnumBitmap(field string) (*EnumBitmap, error) {
	b, err := os.ReadFile(filepath.Join(r.dir, r.uid+"_"+field+".ebm"))
	if err != nil {
		return nil, fmt.Errorf("segment: open %s_%s.ebm: %w", r.uid, field, err)
	}
	return UnmarshalEnumBitmap(b)
}

// Ladders loads the .rlte top-E ladders for every orderable field.
func (r *Reader) Ladders() (FieldLadders, error) {
	b, err := os.ReadFile(filepath.Join(r.dir, r.uid+".rlte"))
	if err != nil {
		return nil, fmt.Errorf("segment: open %s.rlte: %w", r.uid, err)
	}
	return UnmarshalLadders(b)
}

// ReadZoneColumn decompresses and decodes one zone's values for field.
func (r *Reader) ReadZoneColumn(field string, zoneID int) ([]Value, error) {
	fs, ok := r.FieldSpec(field)
	if !ok {
		return nil, fmt.Errorf("segment: field %q not in partition %s", field, r.uid)
	}
	if zoneID < 0 || zoneID >= len(r.zones) {
		return nil, fmt.Errorf("segment: zone %d out of range", zoneID)
	}
	zfcBytes, err := os.ReadFile(filepath.Join(r.dir, r.uid+"_"+field+".zfc"))
	if err != nil {
		return nil, fmt.Errorf("segment: open %s_%s.zfc: %w", r.uid, field, err)
	}
	entries, err := UnmarshalZFC(zfcBytes)
	if err != nil {
		return nil, err
	}
	var entry *ZFCEntry
	for i := range entries {
		if entries[i].ZoneID == zoneID {
			entry = &entries[i]
			break
		}
	}
	if entry == nil {
		return nil, fmt.Errorf("segment: zone %d missing from %s_%s.zfc", zoneID, r.uid, field)
	}

	colBytes, err := os.ReadFile(filepath.Join(r.dir, r.uid+"_"+field+".col"))
	if err != nil {
		return nil, fmt.Errorf("segment: open %s_%s.col: %w", r.uid, field, err)
	}
	if entry.Offset+entry.Length > len(colBytes) {
		return nil, fmt.Errorf("segment: zone %d range out of bounds in %s_%s.col", zoneID, r.uid, field)
	}
	raw, err := r.codec.Decompress(colBytes[entry.Offset : entry.Offset+entry.Length])
	if err != nil {
		return nil, fmt.Errorf("segment: decompress zone %d: %w", zoneID, err)
	}

	zm := r.zones[zoneID]
	n := zm.RowEnd - zm.RowStart
	return decodeColumnZone(raw, n, fs.Kind)
}
