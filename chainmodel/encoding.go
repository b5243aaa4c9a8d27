// Package chainmodel defines the canonical block/transaction data model
// and its wire/signing encoding (spec.md §3, §6 "Canonical
// serialization"). The encoding style — explicit little-endian
// field-by-field reads/writes over an io.Writer/io.Reader, with a
// bitcoin-style varint for length-prefixed fields — is grounded on the
// teacher's wire/common.go ReadElement/WriteElement helpers.
package chainmodel

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// MaxDataBytes and MaxTxBytes mirror spec.md §6 chain parameters; they
// live here too (duplicated from chaincfg as hard ceilings) because the
// wire encoder must refuse to allocate for an oversized length prefix
// before the chaincfg-configured limit is even consulted.
const (
	MaxDataBytes  = 8192
	MaxTxBytes    = 100 * 1024
	MaxBlockBytes = 1024 * 1024
	MaxBlockTxs   = 10000
)

func writeUint32(w io.Writer, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func readUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func writeUint64(w io.Writer, v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func readUint64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func writeHash(w io.Writer, h [32]byte) error {
	_, err := w.Write(h[:])
	return err
}

func readHash(r io.Reader) ([32]byte, error) {
	var h [32]byte
	_, err := io.ReadFull(r, h[:])
	return h, err
}

// writeVarInt and readVarInt implement the same canonically-minimal
// varint scheme the teacher's wire package uses: values below 0xfd are
// a single byte; otherwise a discriminant byte (0xfd/0xfe/0xff) selects
// a 2/4/8-byte little-endian payload. Non-minimal encodings are
// rejected on read to avoid malleability, mirroring
// wire.errNonCanonicalVarInt.
func writeVarInt(w io.Writer, v uint64) error {
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
	case v <= 0xffffffff:
		if _, err := w.Write([]byte{0xfe}); err != nil {
			return err
		}
		return writeUint32(w, uint32(v))
	default:
		if _, err := w.Write([]byte{0xff}); err != nil {
			return err
		}
		return writeUint64(w, v)
	}
}

func readVarInt(r io.Reader) (uint64, error) {
	var discriminant [1]byte
	if _, err := io.ReadFull(r, discriminant[:]); err != nil {
		return 0, err
	}
	switch discriminant[0] {
	case 0xff:
		v, err := readUint64(r)
		if err != nil {
			return 0, err
		}
		if v <= 0xffffffff {
			return 0, errors.Errorf("non-canonical varint %x encodes a value that fits a smaller width", v)
		}
		return v, nil
	case 0xfe:
		v, err := readUint32(r)
		if err != nil {
			return 0, err
		}
		if v <= 0xffff {
			return 0, errors.Errorf("non-canonical varint %x encodes a value that fits a smaller width", v)
		}
		return uint64(v), nil
	case 0xfd:
		var buf [2]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, err
		}
		v := binary.LittleEndian.Uint16(buf[:])
		if v < 0xfd {
			return 0, errors.Errorf("non-canonical varint %x encodes a value that fits a smaller width", v)
		}
		return uint64(v), nil
	default:
		return uint64(discriminant[0]), nil
	}
}

func writeVarBytes(w io.Writer, b []byte) error {
	if err := writeVarInt(w, uint64(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readVarBytes(r io.Reader, maxLen uint64) ([]byte, error) {
	n, err := readVarInt(r)
	if err != nil {
		return nil, err
	}
	if n > maxLen {
		return nil, errors.Errorf("var-length field of %d bytes exceeds max allowed %d", n, maxLen)
	}
	if n == 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
