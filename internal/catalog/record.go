package catalog

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
)

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// errChecksum reports a frame whose payload does not match its stored
// CRC32C, mirroring internal/wal's frame guard: the catalog tail is an
// append-only log too and can be torn by the same kind of crash.
type errChecksum struct{ want, got uint32 }

func (e errChecksum) Error() string {
	return fmt.Sprintf("catalog: checksum mismatch: want %08x got %08x", e.want, e.got)
}

// writeFrame appends one length+CRC32C-framed record to w.
func writeFrame(w io.Writer, payload []byte) error {
	var hdr [8]byte
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(hdr[4:8], crc32.Checksum(payload, crcTable))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// readFrame reads one frame from r. ok is false with a nil error at a
// clean EOF between frames.
func readFrame(r io.Reader) (payload []byte, ok bool, err error) {
	var hdr [8]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if err == io.EOF {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("catalog: partial frame header: %w", err)
	}
	length := binary.LittleEndian.Uint32(hdr[0:4])
	wantCRC := binary.LittleEndian.Uint32(hdr[4:8])

	payload = make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, false, fmt.Errorf("catalog: partial frame payload: %w", err)
	}
	if gotCRC := crc32.Checksum(payload, crcTable); gotCRC != wantCRC {
		return nil, false, errChecksum{want: wantCRC, got: gotCRC}
	}
	return payload, true, nil
}

// opKind distinguishes the two mutations the catalog tail records.
type opKind byte

const (
	opAppend opKind = iota
	opCommit
)

// encodeAppend serializes an opAppend record: the new entry alone.
func encodeAppend(e Entry) []byte {
	var b []byte
	b = append(b, byte(opAppend))
	b = appendEntry(b, e)
	return b
}

// encodeCommit serializes a compaction commit: the segment ids fully
// retired, the entries whose UID set shrank but kept their segment id
// (partial retirement, spec §4.D), and the newly written segment, if
// any. All three apply together on replay, so a crash mid-commit never
// leaves the catalog in a state where a UID-partition is either
// missing or duplicated (spec §8).
func encodeCommit(retired []uint32, updated []Entry, created *Entry) []byte {
	var b []byte
	b = append(b, byte(opCommit))

	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(retired)))
	b = append(b, hdr[:]...)
	for _, id := range retired {
		var ib [4]byte
		binary.LittleEndian.PutUint32(ib[:], id)
		b = append(b, ib[:]...)
	}

	binary.LittleEndian.PutUint32(hdr[:], uint32(len(updated)))
	b = append(b, hdr[:]...)
	for _, e := range updated {
		b = appendEntry(b, e)
	}

	if created == nil {
		b = append(b, 0)
	} else {
		b = append(b, 1)
		b = appendEntry(b, *created)
	}
	return b
}

func appendEntry(b []byte, e Entry) []byte {
	var hdr [8]byte
	binary.LittleEndian.PutUint32(hdr[0:4], e.SegmentID)
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(e.Level))
	b = append(b, hdr[:]...)
	var nb [4]byte
	binary.LittleEndian.PutUint32(nb[:], uint32(len(e.UIDs)))
	b = append(b, nb[:]...)
	for _, uid := range e.UIDs {
		var lb [4]byte
		binary.LittleEndian.PutUint32(lb[:], uint32(len(uid)))
		b = append(b, lb[:]...)
		b = append(b, uid...)
	}
	return b
}

func decodeEntry(b []byte) (Entry, int, error) {
	if len(b) < 12 {
		return Entry{}, 0, fmt.Errorf("catalog: truncated entry header")
	}
	e := Entry{
		SegmentID: binary.LittleEndian.Uint32(b[0:4]),
		Level:     int(binary.LittleEndian.Uint32(b[4:8])),
	}
	n := int(binary.LittleEndian.Uint32(b[8:12]))
	off := 12
	e.UIDs = make([]string, n)
	for i := 0; i < n; i++ {
		if off+4 > len(b) {
			return Entry{}, 0, fmt.Errorf("catalog: truncated uid length")
		}
		l := int(binary.LittleEndian.Uint32(b[off : off+4]))
		off += 4
		if off+l > len(b) {
			return Entry{}, 0, fmt.Errorf("catalog: truncated uid")
		}
		e.UIDs[i] = string(b[off : off+l])
		off += l
	}
	return e, off, nil
}

// decodeAppendRecord parses an opAppend record's entry.
func decodeAppendRecord(b []byte) (Entry, error) {
	e, _, err := decodeEntry(b[1:])
	return e, err
}

// decodeCommitRecord parses an opCommit record into its three parts.
func decodeCommitRecord(b []byte) (retired []uint32, updated []Entry, created *Entry, err error) {
	if len(b) < 5 {
		return nil, nil, nil, fmt.Errorf("catalog: truncated commit record")
	}
	off := 1
	n := int(binary.LittleEndian.Uint32(b[off : off+4]))
	off += 4
	retired = make([]uint32, n)
	for i := 0; i < n; i++ {
		if off+4 > len(b) {
			return nil, nil, nil, fmt.Errorf("catalog: truncated retired id")
		}
		retired[i] = binary.LittleEndian.Uint32(b[off : off+4])
		off += 4
	}

	if off+4 > len(b) {
		return nil, nil, nil, fmt.Errorf("catalog: truncated updated count")
	}
	m := int(binary.LittleEndian.Uint32(b[off : off+4]))
	off += 4
	updated = make([]Entry, m)
	for i := 0; i < m; i++ {
		e, consumed, derr := decodeEntry(b[off:])
		if derr != nil {
			return nil, nil, nil, derr
		}
		updated[i] = e
		off += consumed
	}

	if off >= len(b) {
		return nil, nil, nil, fmt.Errorf("catalog: truncated created flag")
	}
	hasNew := b[off]
	off++
	if hasNew == 1 {
		e, _, derr := decodeEntry(b[off:])
		if derr != nil {
			return nil, nil, nil, derr
		}
		created = &e
	}
	return retired, updated, created, nil
}

// recordOp reports which mutation b encodes, without fully decoding it.
func recordOp(b []byte) (opKind, error) {
	if len(b) < 1 {
		return 0, fmt.Errorf("catalog: empty record")
	}
	return opKind(b[0]), nil
}
