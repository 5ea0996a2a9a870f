package pipes

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/taskpipe/taskpipe/pkg/serialize"
)

// FileSplit is the common file-based input split: a byte range of one
// file. The wire layout matches the Java FileSplit: VInt-prefixed path,
// then offset and length as 8-byte big-endian longs.
type FileSplit struct {
	Path   string
	Offset int64
	Length int64
}

func ParseFileSplit(raw []byte) (FileSplit, error) {
	r := bytes.NewReader(raw)
	var fs FileSplit
	var err error
	if fs.Path, err = serialize.ReadString(r); err != nil {
		if err == io.EOF {
			err = &serialize.CodecError{Op: "parse file split", Err: io.ErrUnexpectedEOF}
		}
		return fs, err
	}
	var fixed [16]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		return fs, &serialize.CodecError{Op: "parse file split", Err: io.ErrUnexpectedEOF}
	}
	fs.Offset = int64(binary.BigEndian.Uint64(fixed[:8]))
	fs.Length = int64(binary.BigEndian.Uint64(fixed[8:]))
	return fs, nil
}

func (fs FileSplit) Encode() []byte {
	var buf bytes.Buffer
	serialize.WriteString(&buf, fs.Path)
	var fixed [16]byte
	binary.BigEndian.PutUint64(fixed[:8], uint64(fs.Offset))
	binary.BigEndian.PutUint64(fixed[8:], uint64(fs.Length))
	buf.Write(fixed[:])
	return buf.Bytes()
}
