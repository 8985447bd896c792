package rdb

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codecrafters-redis-go/internal/errors"
)

func header() []byte {
	return []byte("REDIS0011")
}

func lengthEncoded(s string) []byte {
	return append([]byte{byte(len(s))}, []byte(s)...)
}

func TestDecodePlainKeyValueRecordWithoutExpiry(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(header())
	buf.WriteByte(opSelectDB)
	buf.WriteByte(0x00)
	buf.WriteByte(valueTypeString)
	buf.Write(lengthEncoded("foo"))
	buf.Write(lengthEncoded("bar"))
	buf.WriteByte(opEOF)

	var got []Record
	err := Decode(&buf, func(r Record) { got = append(got, r) })
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, Record{Key: "foo", Value: "bar", ExpiresAt: 0}, got[0])
}

func TestDecodeRecordWithMillisecondExpiryAndInt8EncodedValue(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(header())
	buf.WriteByte(opExpireTimeMs)
	ts := make([]byte, 8)
	binary.LittleEndian.PutUint64(ts, 1700000000000)
	buf.Write(ts)
	buf.WriteByte(valueTypeString)
	buf.Write(lengthEncoded("n"))
	buf.WriteByte(encInt8)
	buf.WriteByte(42)
	buf.WriteByte(opEOF)

	var got []Record
	err := Decode(&buf, func(r Record) { got = append(got, r) })
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "n", got[0].Key)
	assert.Equal(t, "42", got[0].Value)
	assert.EqualValues(t, 1700000000000, got[0].ExpiresAt)
}

func TestDecodeAbortsOnUnsupportedValueTypeInsteadOfDesyncing(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(header())
	buf.WriteByte(0x05) // unrecognized top-level op/value type; its encoding is unknown
	buf.Write(lengthEncoded("x"))
	buf.Write(lengthEncoded("y"))
	buf.WriteByte(opEOF)

	var got []Record
	err := Decode(&buf, func(r Record) { got = append(got, r) })
	require.Error(t, err)
	class, ok := errors.ClassOf(err)
	require.True(t, ok)
	assert.Equal(t, errors.ClassUnsupported, class)
	assert.Empty(t, got)
}

func TestDecodeLZFEncodedStringValue(t *testing.T) {
	// LZF's literal-run encoding: a control byte n (0-31) followed by n+1
	// raw bytes, copied verbatim. Hand-built here instead of compressing,
	// so the test only exercises the decompress path rdb.go actually uses.
	original := []byte("hello")
	compressed := append([]byte{byte(len(original) - 1)}, original...)

	var buf bytes.Buffer
	buf.Write(header())
	buf.WriteByte(opSelectDB)
	buf.WriteByte(0x00)
	buf.WriteByte(valueTypeString)
	buf.Write(lengthEncoded("k"))
	buf.WriteByte(encLZF)
	buf.WriteByte(byte(len(compressed)))
	buf.WriteByte(byte(len(original)))
	buf.Write(compressed)
	buf.WriteByte(opEOF)

	var got []Record
	err := Decode(&buf, func(r Record) { got = append(got, r) })
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "k", got[0].Key)
	assert.Equal(t, string(original), got[0].Value)
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	buf := bytes.NewBufferString("NOTREDIS0011")
	err := Decode(buf, func(Record) {})
	assert.Error(t, err)
}
