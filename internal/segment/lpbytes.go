package segment

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// writeLPString/writeLPBytes/readLPString/readLPBytes implement the
// length-prefixed string/byte encoding used throughout the on-disk
// format (spec §6: "Strings: u32 length + UTF-8").

func writeLPString(buf *bytes.Buffer, s string) {
	writeLPBytes(buf, []byte(s))
}

func writeLPBytes(buf *bytes.Buffer, b []byte) {
	var lb [4]byte
	binary.LittleEndian.PutUint32(lb[:], uint32(len(b)))
	buf.Write(lb[:])
	buf.Write(b)
}

func readLPString(r io.Reader) (string, error) {
	b, err := readLPBytes(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func readLPBytes(r io.Reader) ([]byte, error) {
	var lb [4]byte
	if _, err := io.ReadFull(r, lb[:]); err != nil {
		return nil, fmt.Errorf("segment: read length prefix: %w", err)
	}
	n := binary.LittleEndian.Uint32(lb[:])
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("segment: read %d bytes: %w", n, err)
	}
	return b, nil
}
