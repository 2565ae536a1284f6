package segment

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// ZFCEntry is one row of a .zfc file: zone_id -> (offset, length) into
// the paired .col file, per spec §4.C.h.
type ZFCEntry struct {
	ZoneID int
	Offset int
	Length int
}

func encodeZFCEntry(zoneID, offset, length int) []byte {
	var b [12]byte
	binary.LittleEndian.PutUint32(b[0:4], uint32(zoneID))
	binary.LittleEndian.PutUint32(b[4:8], uint32(offset))
	binary.LittleEndian.PutUint32(b[8:12], uint32(length))
	return b[:]
}

// UnmarshalZFC decodes a .zfc file into its entries.
func UnmarshalZFC(b []byte) ([]ZFCEntry, error) {
	if len(b)%12 != 0 {
		return nil, fmt.Errorf("segment: zfc file length %d not a multiple of 12", len(b))
	}
	out := make([]ZFCEntry, len(b)/12)
	for i := range out {
		off := i * 12
		out[i] = ZFCEntry{
			ZoneID: int(binary.LittleEndian.Uint32(b[off : off+4])),
			Offset: int(binary.LittleEndian.Uint32(b[off+4 : off+8])),
			Length: int(binary.LittleEndian.Uint32(b[off+8 : off+12])),
		}
	}
	return out, nil
}

// marshalZoneXF packs one XOR filter per zone (spec §4.C.e) as a
// sequence of length-prefixed filter blobs in zone order.
func marshalZoneXF(zoneValues [][]Value) []byte {
	var buf bytes.Buffer
	for _, values := range zoneValues {
		xf, err := BuildXORFilter(values)
		if err != nil {
			// A zone too small/degenerate for a binary fuse filter still
			// must produce a deterministic, parseable entry: fall back to
			// an always-present empty filter (correctness-preserving).
			xf = &XORFilter{}
		}
		writeLPBytes(&buf, xf.Marshal())
	}
	return buf.Bytes()
}

// UnmarshalZoneXF is the inverse of marshalZoneXF.
func UnmarshalZoneXF(b []byte) ([]*XORFilter, error) {
	r := bytes.NewReader(b)
	var out []*XORFilter
	for r.Len() > 0 {
		blob, err := readLPBytes(r)
		if err != nil {
			return nil, fmt.Errorf("segment: unmarshal zone xor filter: %w", err)
		}
		xf, err := UnmarshalXORFilter(blob)
		if err != nil {
			return nil, err
		}
		out = append(out, xf)
	}
	return out, nil
}

// marshalZoneMeta serializes the .zones file: a length-prefixed list of
// per-zone row ranges and, when present, min/max (spec §4.C.c).
func marshalZoneMeta(zones []ZoneMeta) []byte {
	var buf bytes.Buffer
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(zones)))
	buf.Write(hdr[:])
	for _, z := range zones {
		var ib [12]byte
		binary.LittleEndian.PutUint32(ib[0:4], uint32(z.ZoneID))
		binary.LittleEndian.PutUint32(ib[4:8], uint32(z.RowStart))
		binary.LittleEndian.PutUint32(ib[8:12], uint32(z.RowEnd))
		buf.Write(ib[:])
		if !z.HasMinMax {
			buf.WriteByte(0)
			continue
		}
		buf.WriteByte(1)
		buf.WriteByte(byte(z.Min.Kind))
		buf.Write(encodeColumnZone([]Value{z.Min})[bitmapBytes(1):])
		buf.Write(encodeColumnZone([]Value{z.Max})[bitmapBytes(1):])
	}
	return buf.Bytes()
}

// UnmarshalZoneMeta is the inverse of marshalZoneMeta.
func UnmarshalZoneMeta(b []byte) ([]ZoneMeta, error) {
	if len(b) < 4 {
		return nil, fmt.Errorf("segment: zones file truncated")
	}
	n := int(binary.LittleEndian.Uint32(b[0:4]))
	off := 4
	out := make([]ZoneMeta, n)
	for i := 0; i < n; i++ {
		if off+13 > len(b) {
			return nil, fmt.Errorf("segment: zone meta entry truncated")
		}
		z := ZoneMeta{
			ZoneID:   int(binary.LittleEndian.Uint32(b[off : off+4])),
			RowStart: int(binary.LittleEndian.Uint32(b[off+4 : off+8])),
			RowEnd:   int(binary.LittleEndian.Uint32(b[off+8 : off+12])),
		}
		has := b[off+12]
		off += 13
		if has == 1 {
			kind := ValueKind(b[off])
			off++
			minV, n1, err := decodeSingleValue(b[off:], kind)
			if err != nil {
				return nil, err
			}
			off += n1
			maxV, n2, err := decodeSingleValue(b[off:], kind)
			if err != nil {
				return nil, err
			}
			off += n2
			z.HasMinMax = true
			z.Min, z.Max = minV, maxV
		}
		out[i] = z
	}
	return out, nil
}

// marshalLadders packs every field's asc/desc ladders into one .rlte
// file: [field count][per field: name, asc blob, desc blob].
func marshalLadders(fields []string, ladders map[string][2]*Ladder) []byte {
	var buf bytes.Buffer
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(fields)))
	buf.Write(hdr[:])
	for _, name := range fields {
		writeLPString(&buf, name)
		pair := ladders[name]
		writeLPBytes(&buf, pair[0].Marshal())
		writeLPBytes(&buf, pair[1].Marshal())
	}
	return buf.Bytes()
}

// FieldLadders is the decoded view of a .rlte file: field name to its
// (ascending, descending) ladders.
type FieldLadders map[string][2]*Ladder

// UnmarshalLadders is the inverse of marshalLadders.
func UnmarshalLadders(b []byte) (FieldLadders, error) {
	if len(b) < 4 {
		return nil, fmt.Errorf("segment: rlte file truncated")
	}
	n := int(binary.LittleEndian.Uint32(b[0:4]))
	r := bytes.NewReader(b[4:])
	out := make(FieldLadders, n)
	for i := 0; i < n; i++ {
		name, err := readLPString(r)
		if err != nil {
			return nil, err
		}
		ascBlob, err := readLPBytes(r)
		if err != nil {
			return nil, err
		}
		descBlob, err := readLPBytes(r)
		if err != nil {
			return nil, err
		}
		asc, err := UnmarshalLadder(ascBlob)
		if err != nil {
			return nil, err
		}
		desc, err := UnmarshalLadder(descBlob)
		if err != nil {
			return nil, err
		}
		out[name] = [2]*Ladder{asc, desc}
	}
	return out, nil
}

// IdxFile is the decoded view of a .idx file: the per-UID pointer to
// every file that partition owns (spec §4.C.i).
type IdxFile struct {
	UID       string
	Fields    []FieldSpec
	ZoneCount int
}

func marshalIdx(uid string, fields []FieldSpec, zoneCount int) []byte {
	var buf bytes.Buffer
	writeLPString(&buf, uid)
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(zoneCount))
	buf.Write(hdr[:])
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(fields)))
	buf.Write(hdr[:])
	for _, fs := range fields {
		writeLPString(&buf, fs.Name)
		buf.WriteByte(byte(fs.Kind))
		var eb [4]byte
		binary.LittleEndian.PutUint32(eb[:], uint32(len(fs.Enum)))
		buf.Write(eb[:])
		for _, variant := range fs.Enum {
			writeLPString(&buf, variant)
		}
		if fs.IDLike {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	}
	return buf.Bytes()
}

// UnmarshalIdx is the inverse of marshalIdx.
func UnmarshalIdx(b []byte) (*IdxFile, error) {
	r := bytes.NewReader(b)
	uid, err := readLPString(r)
	if err != nil {
		return nil, err
	}
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("segment: idx zone count: %w", err)
	}
	zoneCount := int(binary.LittleEndian.Uint32(hdr[:]))
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("segment: idx field count: %w", err)
	}
	nFields := int(binary.LittleEndian.Uint32(hdr[:]))

	fields := make([]FieldSpec, nFields)
	for i := 0; i < nFields; i++ {
		name, err := readLPString(r)
		if err != nil {
			return nil, err
		}
		kindByte, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		var eb [4]byte
		if _, err := io.ReadFull(r, eb[:]); err != nil {
			return nil, fmt.Errorf("segment: idx enum count: %w", err)
		}
		nEnum := int(binary.LittleEndian.Uint32(eb[:]))
		variants := make([]string, nEnum)
		for j := 0; j < nEnum; j++ {
			v, err := readLPString(r)
			if err != nil {
				return nil, err
			}
			variants[j] = v
		}
		idLikeByte, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		fields[i] = FieldSpec{
			Name:   name,
			Kind:   ValueKind(kindByte),
			Enum:   variants,
			IDLike: idLikeByte == 1,
		}
	}
	return &IdxFile{UID: uid, Fields: fields, ZoneCount: zoneCount}, nil
}
