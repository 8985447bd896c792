// Package rdb is a pure decoder for the subset of the Redis RDB snapshot
// format this server needs: it streams (key, value, optional absolute-ms
// expiry) records out of a byte source via a callback, and otherwise knows
// nothing about the keyspace or the config store that orchestrates
// loading it (that wiring lives in internal/config, per the design note on
// breaking cycles between stores with capability handles).
package rdb

import (
	"encoding/binary"
	"fmt"
	"io"
	"strconv"

	lzf "github.com/zhuyie/golzf"

	"github.com/codecrafters-redis-go/internal/errors"
)

const rdbMagic = "REDIS"

// Op codes for the top-level record stream.
const (
	opEOF          = 0xFF
	opSelectDB     = 0xFE
	opExpireTime   = 0xFD
	opExpireTimeMs = 0xFC
	opResizeDB     = 0xFB
	opAux          = 0xFA
)

// String encoding tags.
const (
	encInt8  = 0xC0
	encInt16 = 0xC1
	encInt32 = 0xC2
	encLZF   = 0xC3
)

// Value type tags; only the plain string type is understood, matching
// spec's "only key/value records with optional absolute-millisecond
// expiries" requirement. Any other value type aborts the decode with a
// classified errors.Unsupported, since its encoding isn't known and can't
// be safely skipped over.
const valueTypeString = 0

// Record is one decoded key/value pair with an optional absolute
// millisecond expiry (0 means no expiry).
type Record struct {
	Key       string
	Value     string
	ExpiresAt uint64 // unix millis, 0 = none
}

// Decode streams records out of r by invoking emit for each one it
// understands. A top-level byte that isn't one of the known op-codes is
// read as the value-type tag of an implicit no-expiry record, per the RDB
// format; if that type isn't the plain string encoding, Decode aborts with
// a classified errors.Unsupported rather than risk misreading the rest of
// the stream, since it has no way to skip an encoding it doesn't know the
// shape of.
func Decode(r io.Reader, emit func(Record)) error {
	d := &decoder{r: r}
	return d.run(emit)
}

type decoder struct {
	r io.Reader
}

func (d *decoder) run(emit func(Record)) error {
	magic := make([]byte, 5)
	if _, err := io.ReadFull(d.r, magic); err != nil {
		return fmt.Errorf("rdb: failed to read magic: %w", err)
	}
	if string(magic) != rdbMagic {
		return fmt.Errorf("rdb: not an RDB file (bad magic %q)", magic)
	}
	version := make([]byte, 4)
	if _, err := io.ReadFull(d.r, version); err != nil {
		return fmt.Errorf("rdb: failed to read version: %w", err)
	}

	for {
		op, err := d.readByte()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("rdb: failed to read opcode: %w", err)
		}

		switch op {
		case opEOF:
			return nil

		case opSelectDB:
			if _, err := d.readLength(); err != nil {
				return err
			}

		case opResizeDB:
			if _, err := d.readLength(); err != nil {
				return err
			}
			if _, err := d.readLength(); err != nil {
				return err
			}

		case opAux:
			if _, err := d.readString(); err != nil {
				return err
			}
			if _, err := d.readString(); err != nil {
				return err
			}

		case opExpireTimeMs:
			expiry, err := d.readUint64LE()
			if err != nil {
				return err
			}
			if err := d.readKeyValue(expiry, emit); err != nil {
				return err
			}

		case opExpireTime:
			seconds, err := d.readUint32LE()
			if err != nil {
				return err
			}
			if err := d.readKeyValue(uint64(seconds)*1000, emit); err != nil {
				return err
			}

		default:
			if err := d.readValue(op, 0, emit); err != nil {
				return err
			}
		}
	}
}

func (d *decoder) readKeyValue(expiresAt uint64, emit func(Record)) error {
	valueType, err := d.readByte()
	if err != nil {
		return err
	}
	return d.readValue(valueType, expiresAt, emit)
}

func (d *decoder) readValue(valueType byte, expiresAt uint64, emit func(Record)) error {
	if valueType != valueTypeString {
		// No structural knowledge of this type's encoding means no safe
		// way to skip past its bytes to the next record; continuing would
		// desync the rest of the stream, so abort instead.
		return errors.Unsupported(fmt.Errorf("rdb: unsupported value type %d", valueType))
	}
	key, err := d.readString()
	if err != nil {
		return fmt.Errorf("rdb: failed to read key: %w", err)
	}
	value, err := d.readString()
	if err != nil {
		return fmt.Errorf("rdb: failed to read value: %w", err)
	}
	emit(Record{Key: key, Value: value, ExpiresAt: expiresAt})
	return nil
}

func (d *decoder) readByte() (byte, error) {
	buf := make([]byte, 1)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func (d *decoder) readUint32LE() (uint32, error) {
	buf := make([]byte, 4)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf), nil
}

func (d *decoder) readUint64LE() (uint64, error) {
	buf := make([]byte, 8)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf), nil
}

// readLength decodes the RDB variable-length integer encoding. It returns
// the raw first byte's "special encoding" tag as the length when the
// top two bits are 11, so readString can recognize INT8/INT16/INT32/LZF.
func (d *decoder) readLength() (uint64, error) {
	first, err := d.readByte()
	if err != nil {
		return 0, err
	}
	switch (first & 0xC0) >> 6 {
	case 0:
		return uint64(first & 0x3F), nil
	case 1:
		next, err := d.readByte()
		if err != nil {
			return 0, err
		}
		return uint64(first&0x3F)<<8 | uint64(next), nil
	case 2:
		buf := make([]byte, 4)
		if _, err := io.ReadFull(d.r, buf); err != nil {
			return 0, err
		}
		return uint64(binary.BigEndian.Uint32(buf)), nil
	case 3:
		return uint64(first), nil
	default:
		return 0, fmt.Errorf("rdb: unreachable length encoding")
	}
}

func (d *decoder) readString() (string, error) {
	length, err := d.readLength()
	if err != nil {
		return "", err
	}

	if length >= 0xC0 {
		return d.readEncodedString(byte(length))
	}

	if length == 0 {
		return "", nil
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return "", fmt.Errorf("rdb: failed to read string data: %w", err)
	}
	return string(buf), nil
}

func (d *decoder) readEncodedString(tag byte) (string, error) {
	switch tag {
	case encInt8:
		b, err := d.readByte()
		if err != nil {
			return "", err
		}
		return strconv.Itoa(int(int8(b))), nil

	case encInt16:
		buf := make([]byte, 2)
		if _, err := io.ReadFull(d.r, buf); err != nil {
			return "", err
		}
		return strconv.Itoa(int(int16(binary.LittleEndian.Uint16(buf)))), nil

	case encInt32:
		buf := make([]byte, 4)
		if _, err := io.ReadFull(d.r, buf); err != nil {
			return "", err
		}
		return strconv.Itoa(int(int32(binary.LittleEndian.Uint32(buf)))), nil

	case encLZF:
		return d.readLZFString()

	default:
		return "", fmt.Errorf("rdb: unsupported string encoding 0x%x", tag)
	}
}

// readLZFString decodes the [compressed_len][original_len][payload] LZF
// framing using the golzf codec.
func (d *decoder) readLZFString() (string, error) {
	compressedLen, err := d.readLength()
	if err != nil {
		return "", fmt.Errorf("rdb: failed to read lzf compressed length: %w", err)
	}
	originalLen, err := d.readLength()
	if err != nil {
		return "", fmt.Errorf("rdb: failed to read lzf original length: %w", err)
	}
	compressed := make([]byte, compressedLen)
	if _, err := io.ReadFull(d.r, compressed); err != nil {
		return "", fmt.Errorf("rdb: failed to read lzf payload: %w", err)
	}
	out := make([]byte, originalLen)
	n, err := lzf.Decompress(compressed, out)
	if err != nil {
		return "", fmt.Errorf("rdb: lzf decompress failed: %w", err)
	}
	if uint64(n) != originalLen {
		return "", fmt.Errorf("rdb: lzf decompressed length mismatch: want %d got %d", originalLen, n)
	}
	return string(out), nil
}
