package wal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
)

// crcTable matches the Castagnoli polynomial used throughout the pack's
// WAL implementations (grounded on ulysseses-wal).
var crcTable = crc32.MakeTable(crc32.Castagnoli)

// errChecksum reports a CRC mismatch while reading a frame.
type errChecksum struct {
	want, got uint32
}

func (e errChecksum) Error() string {
	return fmt.Sprintf("wal: checksum mismatch: want %d got %d", e.want, e.got)
}

// errPartialFrame reports a frame that ended before its declared length,
// the signature of a torn tail record left by a crash mid-append.
type errPartialFrame struct {
	n int
}

func (e errPartialFrame) Error() string {
	return fmt.Sprintf("wal: partial frame after %d bytes", e.n)
}

// writeFrame appends one length-prefixed, checksummed record to w:
//
//	[4 bytes little-endian length][4 bytes CRC32C of payload][payload]
//
// This generalizes the teacher's flat record encoding (hasty's
// recordLengthSize-prefixed record) with the checksum ulysseses-wal adds,
// so a truncated tail is detected by CRC rather than merely by a short
// read.
func writeFrame(w io.Writer, payload []byte) error {
	var hdr [8]byte
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(hdr[4:8], crc32.Checksum(payload, crcTable))

	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("wal: write frame header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("wal: write frame payload: %w", err)
	}
	return nil
}

// readFrame reads one frame from r. ok is false (with a nil error) at a
// clean EOF between frames. A truncated or checksum-failing tail frame
// returns errPartialFrame/errChecksum so the caller can distinguish a
// recoverable truncated tail from a corrupt middle record (spec §4.A).
func readFrame(r io.Reader) (payload []byte, ok bool, err error) {
	var hdr [8]byte
	n, err := io.ReadFull(r, hdr[:])
	if err == io.EOF && n == 0 {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errPartialFrame{n: n}
	}

	length := binary.LittleEndian.Uint32(hdr[0:4])
	wantCRC := binary.LittleEndian.Uint32(hdr[4:8])

	payload = make([]byte, length)
	n, err = io.ReadFull(r, payload)
	if err != nil {
		return nil, false, errPartialFrame{n: n}
	}

	if got := crc32.Checksum(payload, crcTable); got != wantCRC {
		return nil, false, errChecksum{want: wantCRC, got: got}
	}
	return payload, true, nil
}
