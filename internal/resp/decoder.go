package resp

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// countingReader counts bytes pulled out of the underlying stream. Combined
// with the bufio.Reader's own Buffered() count, it lets Decoder report the
// exact number of stream bytes a frame consumed even though bufio reads
// ahead of the application's parse position.
type countingReader struct {
	src   io.Reader
	total int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.src.Read(p)
	c.total += int64(n)
	return n, err
}

// Decoder incrementally decodes a stream of RESP values. It is safe for use
// by a single goroutine; a connection owns exactly one Decoder for its
// lifetime.
type Decoder struct {
	cr         *countingReader
	br         *bufio.Reader
	prevOffset int64
	expectRdb  bool
}

// NewDecoder wraps r for incremental RESP decoding.
func NewDecoder(r io.Reader) *Decoder {
	cr := &countingReader{src: r}
	return &Decoder{cr: cr, br: bufio.NewReader(cr)}
}

// ExpectRDB arms a one-shot bit: the very next frame decoded will be parsed
// as the Rdb variant (a bulk-string header immediately followed by that
// many raw bytes, with no trailing CRLF) rather than as a normal
// BulkString. It is set exactly once, by the handshake driver, at the
// transition from "received +FULLRESYNC" to "receiving the RDB payload",
// and is cleared automatically once that frame is consumed.
func (d *Decoder) ExpectRDB() {
	d.expectRdb = true
}

// Decode reads and parses the next RESP value, returning it along with the
// exact number of stream bytes it occupied (used for replication-offset
// accounting). On a short read it blocks (the cooperative-concurrency
// suspension point from the design notes) rather than returning a
// not-enough-data sentinel; on a malformed frame it returns an error and
// the connection should be closed by the caller. Decode errors are plain
// errors: they carry no errors.Class, so ClassOf reports false for them.
func (d *Decoder) Decode() (Value, int, error) {
	val, err := d.decodeOne()
	if err != nil {
		return Value{}, 0, err
	}
	consumed := d.cr.total - int64(d.br.Buffered())
	length := int(consumed - d.prevOffset)
	d.prevOffset = consumed
	return val, length, nil
}

func (d *Decoder) decodeOne() (Value, error) {
	b, err := d.br.ReadByte()
	if err != nil {
		return Value{}, err
	}

	if Kind(b) == BulkString && d.expectRdb {
		d.expectRdb = false
		return d.decodeRdb()
	}

	switch Kind(b) {
	case SimpleString:
		line, err := d.readLine()
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: SimpleString, Str: line}, nil
	case Error:
		line, err := d.readLine()
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: Error, Str: line}, nil
	case Integer:
		line, err := d.readLine()
		if err != nil {
			return Value{}, err
		}
		n, err := strconv.ParseInt(line, 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("resp: invalid integer %q", line)
		}
		return Value{Kind: Integer, Int: n}, nil
	case BulkString:
		return d.decodeBulkString()
	case Array:
		return d.decodeArray()
	default:
		return Value{}, fmt.Errorf("resp: unknown type byte %q", b)
	}
}

func (d *Decoder) readLine() (string, error) {
	line, err := d.br.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r"), nil
}

func (d *Decoder) decodeBulkString() (Value, error) {
	line, err := d.readLine()
	if err != nil {
		return Value{}, err
	}
	length, err := strconv.Atoi(line)
	if err != nil {
		return Value{}, fmt.Errorf("resp: invalid bulk string length %q", line)
	}
	if length == -1 {
		return Value{Kind: Null}, nil
	}
	if length < 0 {
		return Value{}, fmt.Errorf("resp: negative bulk string length %d", length)
	}
	buf := make([]byte, length+2)
	if _, err := io.ReadFull(d.br, buf); err != nil {
		return Value{}, err
	}
	return Value{Kind: BulkString, Bulk: buf[:length]}, nil
}

func (d *Decoder) decodeRdb() (Value, error) {
	line, err := d.readLine()
	if err != nil {
		return Value{}, err
	}
	length, err := strconv.Atoi(line)
	if err != nil {
		return Value{}, fmt.Errorf("resp: invalid rdb payload length %q", line)
	}
	if length < 0 {
		return Value{}, fmt.Errorf("resp: negative rdb payload length %d", length)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(d.br, buf); err != nil {
		return Value{}, err
	}
	return Value{Kind: Rdb, Bulk: buf}, nil
}

func (d *Decoder) decodeArray() (Value, error) {
	line, err := d.readLine()
	if err != nil {
		return Value{}, err
	}
	count, err := strconv.Atoi(line)
	if err != nil {
		return Value{}, fmt.Errorf("resp: invalid array length %q", line)
	}
	if count == -1 {
		return Value{Kind: NullArray}, nil
	}
	if count < 0 {
		return Value{}, fmt.Errorf("resp: negative array length %d", count)
	}
	elems := make([]Value, count)
	for i := 0; i < count; i++ {
		el, err := d.decodeOne()
		if err != nil {
			return Value{}, err
		}
		elems[i] = el
	}
	return Value{Kind: Array, Array: elems}, nil
}
