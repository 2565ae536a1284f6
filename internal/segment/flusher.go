package segment

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"
)

// FieldSpec describes one field the Flusher must materialize a column
// for: its storage kind, its enum variants (if any), and whether it is
// flagged id-like (triggers a .zsf range surf, spec §4.C.f).
type FieldSpec struct {
	Name   string
	Kind   ValueKind
	Enum   []string
	IDLike bool
}

// Partition is one UID's worth of rows to flush, already sorted by the
// merge key (spec §4.C step 1: "(context_id, timestamp)") by the
// caller.
type Partition struct {
	UID    string
	Rows   []Row
	Fields []FieldSpec
}

// CatalogEntry is what the Flusher reports back so the caller can
// append it to the SegmentIndex (spec §4.D).
type CatalogEntry struct {
	SegmentID uint32
	UIDs      []string
	Level     int
}

// Flusher serializes frozen partitions into an immutable segment
// directory, per spec §4.C. Grounded on hasty.sstableWriter:
// deterministic output given the same input, fsync-then-commit
// ordering. It holds no mutable state and takes no lock; the shard runs
// one WriteSegment call per frozen passive slot, so several may be in
// flight at once, each writing its own segment directory.
type Flusher struct {
	ZoneSize int
	Codec    Codec
	Logger   *zap.Logger
}

// NewFlusher returns a Flusher using the given zone size and codec.
func NewFlusher(zoneSize int, codec Codec, logger *zap.Logger) *Flusher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Flusher{ZoneSize: zoneSize, Codec: codec, Logger: logger}
}

// WriteSegment writes dir/<segID> containing every file spec §6 names
// for each partition, fsyncs them, then fsyncs the directory. On any
// error the partial directory is removed and the error is returned —
// the caller must not add segID to the catalog.
func (f *Flusher) WriteSegment(root string, segID uint32, level int, partitions []Partition) (CatalogEntry, error) {
	dir := filepath.Join(root, fmt.Sprintf("%05d", segID))
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return CatalogEntry{}, fmt.Errorf("segment: mkdir %s: %w", dir, err)
	}

	entry := CatalogEntry{SegmentID: segID, Level: level}
	if err := f.writeAll(dir, partitions, &entry); err != nil {
		f.Logger.Warn("segment: flush failed, removing partial directory",
			zap.String("dir", dir), zap.Error(err))
		os.RemoveAll(dir)
		return CatalogEntry{}, fmt.Errorf("segment: write %s: %w", dir, err)
	}

	if err := fsyncDir(dir); err != nil {
		os.RemoveAll(dir)
		return CatalogEntry{}, fmt.Errorf("segment: fsync dir %s: %w", dir, err)
	}
	return entry, nil
}

func (f *Flusher) writeAll(dir string, partitions []Partition, entry *CatalogEntry) error {
	for _, p := range partitions {
		if err := f.writePartition(dir, p); err != nil {
			return fmt.Errorf("uid %s: %w", p.UID, err)
		}
		entry.UIDs = append(entry.UIDs, p.UID)
	}
	sort.Strings(entry.UIDs)
	return nil
}

// writePartition writes every file named in spec §6 for one UID
// partition: .zones, <field>.col/.zfc/.xf/.zxf/.zsf/.ebm, .rlte, .idx.
func (f *Flusher) writePartition(dir string, p Partition) error {
	zones := cutZones(len(p.Rows), f.ZoneSize)

	var zoneMetaAll []ZoneMeta
	var ladderFields []string
	ladders := make(map[string][2]*Ladder) // field -> [asc, desc]

	for _, fs := range p.Fields {
		values := fieldValues(p.Rows, fs.Name)
		zoneValues := splitByZone(values, zones)

		colBytes, zfc, zoneMeta, err := f.encodeField(zones, zoneValues, fs)
		if err != nil {
			return fmt.Errorf("field %s: %w", fs.Name, err)
		}
		if err := writeFile(filepath.Join(dir, p.UID+"_"+fs.Name+".col"), colBytes); err != nil {
			return err
		}
		if err := writeFile(filepath.Join(dir, p.UID+"_"+fs.Name+".zfc"), zfc); err != nil {
			return err
		}

		xf, err := BuildXORFilter(values)
		if err != nil {
			return fmt.Errorf("field %s xor filter: %w", fs.Name, err)
		}
		if err := writeFile(filepath.Join(dir, p.UID+"_"+fs.Name+".xf"), xf.Marshal()); err != nil {
			return err
		}
		if err := writeFile(filepath.Join(dir, p.UID+"_"+fs.Name+".zxf"), marshalZoneXF(zoneValues)); err != nil {
			return err
		}

		if fs.IDLike {
			rs := BuildRangeSurf(zoneValues)
			if err := writeFile(filepath.Join(dir, p.UID+"_"+fs.Name+".zsf"), rs.Marshal()); err != nil {
				return err
			}
		}
		if len(fs.Enum) > 0 {
			eb := BuildEnumBitmap(fs.Enum, stringZones(zoneValues))
			ebBytes, err := eb.Marshal()
			if err != nil {
				return fmt.Errorf("field %s enum bitmap: %w", fs.Name, err)
			}
			if err := writeFile(filepath.Join(dir, p.UID+"_"+fs.Name+".ebm"), ebBytes); err != nil {
				return err
			}
		}

		if orderable(fs.Kind) {
			ladderFields = append(ladderFields, fs.Name)
			ladders[fs.Name] = [2]*Ladder{
				BuildLadder(zoneBestValues(zoneValues, true), true, defaultLadderDepth),
				BuildLadder(zoneBestValues(zoneValues, false), false, defaultLadderDepth),
			}
		}

		if zoneMetaAll == nil {
			zoneMetaAll = zoneMeta
		}
	}

	if err := writeFile(filepath.Join(dir, p.UID+".zones"), marshalZoneMeta(zoneMetaAll)); err != nil {
		return err
	}
	if err := writeFile(filepath.Join(dir, p.UID+".rlte"), marshalLadders(ladderFields, ladders)); err != nil {
		return err
	}
	if err := writeFile(filepath.Join(dir, p.UID+".idx"), marshalIdx(p.UID, p.Fields, len(zones))); err != nil {
		return err
	}
	return nil
}

// defaultLadderDepth is E, the number of zones kept per RLTE ladder.
const defaultLadderDepth = 64

func (f *Flusher) encodeField(zones []ZoneMeta, zoneValues [][]Value, fs FieldSpec) (col, zfc []byte, metas []ZoneMeta, err error) {
	metas = make([]ZoneMeta, len(zones))
	for i, z := range zones {
		raw := encodeColumnZone(zoneValues[i])
		compressed, cerr := f.Codec.Compress(raw)
		if cerr != nil {
			return nil, nil, nil, cerr
		}
		offset := len(col)
		col = append(col, compressed...)
		zfc = append(zfc, encodeZFCEntry(i, offset, len(compressed))...)

		z.HasMinMax = orderable(fs.Kind)
		if z.HasMinMax {
			z.Min, z.Max, z.HasMinMax = minMax(zoneValues[i])
		}
		metas[i] = z
	}
	return col, zfc, metas, nil
}

func fieldValues(rows []Row, field string) []Value {
	out := make([]Value, len(rows))
	for i, r := range rows {
		v, ok := r.Fields[field]
		if !ok {
			v = Value{Kind: KindNull}
		}
		out[i] = v
	}
	return out
}

func splitByZone(values []Value, zones []ZoneMeta) [][]Value {
	out := make([][]Value, len(zones))
	for i, z := range zones {
		out[i] = values[z.RowStart:z.RowEnd]
	}
	return out
}

func stringZones(zoneValues [][]Value) [][]string {
	out := make([][]string, len(zoneValues))
	for i, values := range zoneValues {
		for _, v := range values {
			if v.Kind == KindString {
				out[i] = append(out[i], v.Str)
			}
		}
	}
	return out
}

func zoneBestValues(zoneValues [][]Value, asc bool) []LadderRung {
	var out []LadderRung
	for zoneID, values := range zoneValues {
		min, max, ok := minMax(values)
		if !ok {
			continue
		}
		if asc {
			out = append(out, LadderRung{ZoneID: zoneID, Value: min})
		} else {
			out = append(out, LadderRung{ZoneID: zoneID, Value: max})
		}
	}
	return out
}

func writeFile(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("fsync %s: %w", path, err)
	}
	return f.Close()
}

func fsyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
