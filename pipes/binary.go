package pipes

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"

	"github.com/taskpipe/taskpipe/pkg/serialize"
)

// Frame is one decoded command off the pipe. Only the fields relevant to
// Cmd are populated:
//
//	CmdStart             Version
//	CmdSetJobConf        Strings (alternating key, value)
//	CmdSetInputTypes     Strings[0] key type, Strings[1] value type
//	CmdRunMap            Split, NumReduces, Piped
//	CmdMapItem           Key, Value
//	CmdRunReduce         Part, Piped
//	CmdReduceKey         Key
//	CmdReduceValue       Value
//	CmdAuthReq           Digest, Challenge
//	CmdOutput            Key, Value
//	CmdPartitionedOutput Part, Key, Value
//	CmdStatus            Strings[0]
//	CmdProgress          Progress
//	CmdRegisterCounter   Part (counter id), Strings[0] group, Strings[1] name
//	CmdIncrementCounter  Part (counter id), Amount
//	CmdAuthResp          Digest
type Frame struct {
	Cmd        Cmd
	Key        []byte
	Value      []byte
	Strings    []string
	Split      []byte
	Part       int32
	NumReduces int32
	Piped      bool
	Version    int32
	Progress   float32
	Amount     int64
	Digest     []byte
	Challenge  []byte
}

// CommandReader decodes Frames from a byte stream. It supports one frame
// of pushback, which the reduce-side driver needs to detect group ends.
type CommandReader struct {
	r      *bufio.Reader
	unread *Frame
}

func NewCommandReader(r io.Reader) *CommandReader {
	return &CommandReader{r: bufio.NewReader(r)}
}

// Unread pushes f back; the next ReadFrame returns it again.
func (cr *CommandReader) Unread(f *Frame) {
	cr.unread = f
}

// ReadFrame decodes the next frame. io.EOF means the stream ended cleanly
// on a frame boundary; a stream ending mid-frame surfaces as CodecError.
func (cr *CommandReader) ReadFrame() (*Frame, error) {
	if cr.unread != nil {
		f := cr.unread
		cr.unread = nil
		return f, nil
	}
	code, err := serialize.ReadVInt(cr.r)
	if err != nil {
		return nil, err
	}
	f := &Frame{Cmd: Cmd(code)}
	switch f.Cmd {
	case CmdStart:
		f.Version, err = serialize.ReadVInt(cr.r)
	case CmdSetJobConf:
		var n int32
		if n, err = serialize.ReadVInt(cr.r); err != nil {
			break
		}
		if n < 0 || n%2 != 0 {
			return nil, protocolErrorf("SET_JOB_CONF with %d entries", n)
		}
		f.Strings = make([]string, 0, n)
		for i := int32(0); i < n; i++ {
			var s string
			if s, err = serialize.ReadString(cr.r); err != nil {
				break
			}
			f.Strings = append(f.Strings, s)
		}
	case CmdSetInputTypes:
		f.Strings = make([]string, 2)
		if f.Strings[0], err = serialize.ReadString(cr.r); err != nil {
			break
		}
		f.Strings[1], err = serialize.ReadString(cr.r)
	case CmdRunMap:
		if f.Split, err = serialize.ReadBytes(cr.r); err != nil {
			break
		}
		if f.NumReduces, err = serialize.ReadVInt(cr.r); err != nil {
			break
		}
		f.Piped, err = cr.readBool()
	case CmdMapItem, CmdOutput:
		if f.Key, err = serialize.ReadBytes(cr.r); err != nil {
			break
		}
		f.Value, err = serialize.ReadBytes(cr.r)
	case CmdRunReduce:
		if f.Part, err = serialize.ReadVInt(cr.r); err != nil {
			break
		}
		f.Piped, err = cr.readBool()
	case CmdReduceKey:
		f.Key, err = serialize.ReadBytes(cr.r)
	case CmdReduceValue:
		f.Value, err = serialize.ReadBytes(cr.r)
	case CmdClose, CmdAbort, CmdDone:
		// no payload
	case CmdAuthReq:
		if f.Digest, err = serialize.ReadBytes(cr.r); err != nil {
			break
		}
		f.Challenge, err = serialize.ReadBytes(cr.r)
	case CmdAuthResp:
		f.Digest, err = serialize.ReadBytes(cr.r)
	case CmdPartitionedOutput:
		if f.Part, err = serialize.ReadVInt(cr.r); err != nil {
			break
		}
		if f.Key, err = serialize.ReadBytes(cr.r); err != nil {
			break
		}
		f.Value, err = serialize.ReadBytes(cr.r)
	case CmdStatus:
		f.Strings = make([]string, 1)
		f.Strings[0], err = serialize.ReadString(cr.r)
	case CmdProgress:
		f.Progress, err = cr.readFloat()
	case CmdRegisterCounter:
		f.Strings = make([]string, 2)
		if f.Part, err = serialize.ReadVInt(cr.r); err != nil {
			break
		}
		if f.Strings[0], err = serialize.ReadString(cr.r); err != nil {
			break
		}
		f.Strings[1], err = serialize.ReadString(cr.r)
	case CmdIncrementCounter:
		if f.Part, err = serialize.ReadVInt(cr.r); err != nil {
			break
		}
		f.Amount, err = serialize.ReadVLong(cr.r)
	default:
		return nil, protocolErrorf("unknown command code %d", code)
	}
	if err != nil {
		if err == io.EOF {
			// the stream died between a command code and its payload
			err = &serialize.CodecError{Op: "read frame", Err: io.ErrUnexpectedEOF}
		}
		return nil, err
	}
	return f, nil
}

func (cr *CommandReader) readBool() (bool, error) {
	n, err := serialize.ReadVInt(cr.r)
	return n != 0, err
}

func (cr *CommandReader) readFloat() (float32, error) {
	var b [4]byte
	if _, err := io.ReadFull(cr.r, b[:]); err != nil {
		return 0, &serialize.CodecError{Op: "read float", Err: io.ErrUnexpectedEOF}
	}
	return math.Float32frombits(binary.BigEndian.Uint32(b[:])), nil
}

// CommandWriter encodes Frames onto a byte stream. Writes are buffered;
// nothing is on the wire until Flush. Both directions of the protocol are
// covered so the simulator can drive a task with the same code.
type CommandWriter struct {
	w *bufio.Writer
}

func NewCommandWriter(w io.Writer) *CommandWriter {
	return &CommandWriter{w: bufio.NewWriter(w)}
}

func (cw *CommandWriter) Flush() error { return cw.w.Flush() }

func (cw *CommandWriter) writeCmd(c Cmd) error {
	return serialize.WriteVInt(cw.w, int32(c))
}

func (cw *CommandWriter) WriteStart(version int32) error {
	if err := cw.writeCmd(CmdStart); err != nil {
		return err
	}
	return serialize.WriteVInt(cw.w, version)
}

func (cw *CommandWriter) WriteJobConf(pairs []string) error {
	if err := cw.writeCmd(CmdSetJobConf); err != nil {
		return err
	}
	if err := serialize.WriteVInt(cw.w, int32(len(pairs))); err != nil {
		return err
	}
	for _, s := range pairs {
		if err := serialize.WriteString(cw.w, s); err != nil {
			return err
		}
	}
	return nil
}

func (cw *CommandWriter) WriteInputTypes(keyType, valueType string) error {
	if err := cw.writeCmd(CmdSetInputTypes); err != nil {
		return err
	}
	if err := serialize.WriteString(cw.w, keyType); err != nil {
		return err
	}
	return serialize.WriteString(cw.w, valueType)
}

func (cw *CommandWriter) WriteRunMap(split []byte, numReduces int32, piped bool) error {
	if err := cw.writeCmd(CmdRunMap); err != nil {
		return err
	}
	if err := serialize.WriteBytes(cw.w, split); err != nil {
		return err
	}
	if err := serialize.WriteVInt(cw.w, numReduces); err != nil {
		return err
	}
	return cw.writeBool(piped)
}

func (cw *CommandWriter) WriteMapItem(key, value []byte) error {
	return cw.writeKV(CmdMapItem, key, value)
}

func (cw *CommandWriter) WriteRunReduce(part int32, piped bool) error {
	if err := cw.writeCmd(CmdRunReduce); err != nil {
		return err
	}
	if err := serialize.WriteVInt(cw.w, part); err != nil {
		return err
	}
	return cw.writeBool(piped)
}

func (cw *CommandWriter) WriteReduceKey(key []byte) error {
	if err := cw.writeCmd(CmdReduceKey); err != nil {
		return err
	}
	return serialize.WriteBytes(cw.w, key)
}

func (cw *CommandWriter) WriteReduceValue(value []byte) error {
	if err := cw.writeCmd(CmdReduceValue); err != nil {
		return err
	}
	return serialize.WriteBytes(cw.w, value)
}

func (cw *CommandWriter) WriteClose() error { return cw.writeCmd(CmdClose) }

func (cw *CommandWriter) WriteAbort() error { return cw.writeCmd(CmdAbort) }

func (cw *CommandWriter) WriteAuthReq(digest, challenge []byte) error {
	if err := cw.writeCmd(CmdAuthReq); err != nil {
		return err
	}
	if err := serialize.WriteBytes(cw.w, digest); err != nil {
		return err
	}
	return serialize.WriteBytes(cw.w, challenge)
}

func (cw *CommandWriter) WriteAuthResp(digest []byte) error {
	if err := cw.writeCmd(CmdAuthResp); err != nil {
		return err
	}
	return serialize.WriteBytes(cw.w, digest)
}

func (cw *CommandWriter) WriteOutput(key, value []byte) error {
	return cw.writeKV(CmdOutput, key, value)
}

func (cw *CommandWriter) WritePartitionedOutput(part int32, key, value []byte) error {
	if err := cw.writeCmd(CmdPartitionedOutput); err != nil {
		return err
	}
	if err := serialize.WriteVInt(cw.w, part); err != nil {
		return err
	}
	if err := serialize.WriteBytes(cw.w, key); err != nil {
		return err
	}
	return serialize.WriteBytes(cw.w, value)
}

func (cw *CommandWriter) WriteStatus(status string) error {
	if err := cw.writeCmd(CmdStatus); err != nil {
		return err
	}
	return serialize.WriteString(cw.w, status)
}

func (cw *CommandWriter) WriteProgress(p float32) error {
	if err := cw.writeCmd(CmdProgress); err != nil {
		return err
	}
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], math.Float32bits(p))
	_, err := cw.w.Write(b[:])
	return err
}

func (cw *CommandWriter) WriteDone() error { return cw.writeCmd(CmdDone) }

func (cw *CommandWriter) WriteRegisterCounter(id int32, group, name string) error {
	if err := cw.writeCmd(CmdRegisterCounter); err != nil {
		return err
	}
	if err := serialize.WriteVInt(cw.w, id); err != nil {
		return err
	}
	if err := serialize.WriteString(cw.w, group); err != nil {
		return err
	}
	return serialize.WriteString(cw.w, name)
}

func (cw *CommandWriter) WriteIncrementCounter(id int32, amount int64) error {
	if err := cw.writeCmd(CmdIncrementCounter); err != nil {
		return err
	}
	if err := serialize.WriteVInt(cw.w, id); err != nil {
		return err
	}
	return serialize.WriteVLong(cw.w, amount)
}

func (cw *CommandWriter) writeKV(c Cmd, key, value []byte) error {
	if err := cw.writeCmd(c); err != nil {
		return err
	}
	if err := serialize.WriteBytes(cw.w, key); err != nil {
		return err
	}
	return serialize.WriteBytes(cw.w, value)
}

func (cw *CommandWriter) writeBool(b bool) error {
	v := int32(0)
	if b {
		v = 1
	}
	return serialize.WriteVInt(cw.w, v)
}
