// Package serialize implements the wire primitives used by the pipes
// protocol: Hadoop WritableUtils variable-length integers and
// length-prefixed byte sequences. Length prefixing means keys and values
// round-trip byte-exact, embedded NUL and tab included.
package serialize

import (
	"fmt"
	"io"
)

// CodecError reports truncated or malformed wire data. Decoding never
// returns a partial record: either the frame is whole or the error is
// fatal to the task.
type CodecError struct {
	Op  string
	Err error
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("serialize: %s: %v", e.Op, e.Err)
}

func (e *CodecError) Unwrap() error { return e.Err }

var errNegativeLength = fmt.Errorf("negative length prefix")

// WriteVLong writes i in the WritableUtils variable-length encoding:
// one byte for -112..127, otherwise a size byte followed by the magnitude
// big-endian. These constants come from the Java side and can not change.
func WriteVLong(w io.Writer, i int64) error {
	var buf [9]byte
	n := putVLong(buf[:], i)
	_, err := w.Write(buf[:n])
	return err
}

func WriteVInt(w io.Writer, i int32) error {
	return WriteVLong(w, int64(i))
}

func putVLong(b []byte, i int64) int {
	if i >= -112 && i <= 127 {
		b[0] = byte(i)
		return 1
	}
	length := -112
	if i < 0 {
		i = ^i
		length = -120
	}
	for tmp := i; tmp != 0; tmp >>= 8 {
		length--
	}
	b[0] = byte(length)
	var size int
	if length < -120 {
		size = -(length + 120)
	} else {
		size = -(length + 112)
	}
	for idx := size; idx != 0; idx-- {
		shift := uint((idx - 1) * 8)
		b[size-idx+1] = byte(i >> shift)
	}
	return size + 1
}

// ReadVLong is the inverse of WriteVLong. io.EOF is returned untouched
// when the stream ends exactly on a value boundary, so callers can tell a
// clean end of stream from a truncated one.
func ReadVLong(r io.Reader) (int64, error) {
	first, err := readByte(r)
	if err != nil {
		if err == io.EOF {
			return 0, io.EOF
		}
		return 0, &CodecError{Op: "read vlong", Err: err}
	}
	fb := int8(first)
	size := vLongSize(fb)
	if size == 1 {
		return int64(fb), nil
	}
	var x int64
	for i := 0; i < size-1; i++ {
		b, err := readByte(r)
		if err != nil {
			return 0, &CodecError{Op: "read vlong", Err: io.ErrUnexpectedEOF}
		}
		x = x<<8 | int64(b)
	}
	if fb < -120 || (fb >= -112 && fb < 0) {
		x = ^x
	}
	return x, nil
}

func ReadVInt(r io.Reader) (int32, error) {
	n, err := ReadVLong(r)
	if err != nil {
		return 0, err
	}
	if n < -1<<31 || n > 1<<31-1 {
		return 0, &CodecError{Op: "read vint", Err: fmt.Errorf("value %d overflows int32", n)}
	}
	return int32(n), nil
}

func vLongSize(first int8) int {
	if first >= -112 {
		return 1
	}
	if first < -120 {
		return int(-119 - first)
	}
	return int(-111 - first)
}

// WriteBytes writes b with a VInt length prefix.
func WriteBytes(w io.Writer, b []byte) error {
	if err := WriteVInt(w, int32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

// ReadBytes is the inverse of WriteBytes. A stream ending inside the
// payload is a CodecError, never a short record.
func ReadBytes(r io.Reader) ([]byte, error) {
	n, err := ReadVInt(r)
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, &CodecError{Op: "read bytes", Err: errNegativeLength}
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, &CodecError{Op: "read bytes", Err: io.ErrUnexpectedEOF}
	}
	return b, nil
}

func WriteString(w io.Writer, s string) error {
	return WriteBytes(w, []byte(s))
}

func ReadString(r io.Reader) (string, error) {
	b, err := ReadBytes(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func readByte(r io.Reader) (byte, error) {
	if br, ok := r.(io.ByteReader); ok {
		return br.ReadByte()
	}
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}
