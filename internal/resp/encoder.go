package resp

import (
	"bufio"
	"fmt"
	"io"
)

// Encoder writes Values to the wire. Encoding is the inverse of decoding
// for the seven base variants (SimpleString, Error, Integer, Null,
// NullArray, BulkString, Array); Rdb is encoded only by a leader replying
// to PSYNC, never by a client.
type Encoder struct {
	w *bufio.Writer
}

// NewEncoder wraps w for RESP encoding.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: bufio.NewWriter(w)}
}

// Encode writes v and flushes the underlying writer.
func (e *Encoder) Encode(v Value) error {
	if err := e.encode(v); err != nil {
		return err
	}
	return e.w.Flush()
}

func (e *Encoder) encode(v Value) error {
	switch v.Kind {
	case SimpleString:
		_, err := fmt.Fprintf(e.w, "+%s\r\n", v.Str)
		return err
	case Error:
		_, err := fmt.Fprintf(e.w, "-%s\r\n", v.Str)
		return err
	case Integer:
		_, err := fmt.Fprintf(e.w, ":%d\r\n", v.Int)
		return err
	case Null:
		_, err := e.w.WriteString("$-1\r\n")
		return err
	case NullArray:
		_, err := e.w.WriteString("*-1\r\n")
		return err
	case BulkString:
		if _, err := fmt.Fprintf(e.w, "$%d\r\n", len(v.Bulk)); err != nil {
			return err
		}
		if _, err := e.w.Write(v.Bulk); err != nil {
			return err
		}
		_, err := e.w.WriteString("\r\n")
		return err
	case Rdb:
		if _, err := fmt.Fprintf(e.w, "$%d\r\n", len(v.Bulk)); err != nil {
			return err
		}
		_, err := e.w.Write(v.Bulk)
		return err
	case Array:
		if _, err := fmt.Fprintf(e.w, "*%d\r\n", len(v.Array)); err != nil {
			return err
		}
		for _, el := range v.Array {
			if err := e.encode(el); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("resp: unknown value kind %d", v.Kind)
	}
}

// Encode is a package-level helper that encodes v into a freshly allocated
// byte slice — used by the fan-out path to turn a re-parsed command back
// into wire bytes for broadcast, and by tests.
func Encode(v Value) []byte {
	buf := &byteSliceWriter{}
	_ = NewEncoder(buf).Encode(v)
	return buf.b
}

type byteSliceWriter struct{ b []byte }

func (w *byteSliceWriter) Write(p []byte) (int, error) {
	w.b = append(w.b, p...)
	return len(p), nil
}
