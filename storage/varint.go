package storage

import (
	"encoding/binary"
	"io"
)

// writeVarUint and readVarUint give the block-encoding helpers in
// chainstore.go their own little-endian/discriminant-byte varint
// (grounded on wire/common.go's varint family): values below 0xfd are
// one byte, 0xfd selects a 2-byte payload and 0xfe an 8-byte payload.
// Unlike chainmodel's varint there is no 4-byte form, and non-minimal
// encodings are not rejected on read.
func writeVarUint(w io.Writer, v uint64) error {
	switch {
	case v < 0xfd:
		_, err := w.Write([]byte{byte(v)})
		return err
	case v <= 0xffff:
		if _, err := w.Write([]byte{0xfd}); err != nil {
			return err
		}
		var buf [2]byte
		binary.LittleEndian.PutUint16(buf[:], uint16(v))
		_, err := w.Write(buf[:])
		return err
	default:
		if _, err := w.Write([]byte{0xfe}); err != nil {
			return err
		}
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], v)
		_, err := w.Write(buf[:])
		return err
	}
}

func readVarUint(r io.Reader) (uint64, error) {
	var discriminant [1]byte
	if _, err := io.ReadFull(r, discriminant[:]); err != nil {
		return 0, err
	}
	switch discriminant[0] {
	case 0xfe:
		var buf [8]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, err
		}
		return binary.LittleEndian.Uint64(buf[:]), nil
	case 0xfd:
		var buf [2]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, err
		}
		return uint64(binary.LittleEndian.Uint16(buf[:])), nil
	default:
		return uint64(discriminant[0]), nil
	}
}
