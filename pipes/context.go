package pipes

import (
	"io"

	"github.com/taskpipe/taskpipe"
	"github.com/taskpipe/taskpipe/pkg/serialize"
)

// emitter is where TaskContext.Emit routes records: upstream frames, a
// user RecordWriter, or a combiner buffer in front of either.
type emitter interface {
	emit(key, value []byte) error
	close() error
}

type upstreamEmitter struct {
	up *CommandWriter
}

func (e *upstreamEmitter) emit(key, value []byte) error { return e.up.WriteOutput(key, value) }
func (e *upstreamEmitter) close() error                 { return nil }

type partitionedEmitter struct {
	up          *CommandWriter
	partitioner taskpipe.Partitioner
	numReduces  int32
}

func (e *partitionedEmitter) emit(key, value []byte) error {
	part := e.partitioner.Partition(key, e.numReduces)
	if part < 0 || part >= e.numReduces {
		return protocolErrorf("partitioner returned %d for %d reduces", part, e.numReduces)
	}
	return e.up.WritePartitionedOutput(part, key, value)
}

func (e *partitionedEmitter) close() error { return nil }

type writerEmitter struct {
	w taskpipe.RecordWriter
}

func (e *writerEmitter) emit(key, value []byte) error { return e.w.Emit(key, value) }
func (e *writerEmitter) close() error                 { return e.w.Close() }

// taskContext backs every context handed to user code. One exists per
// task invocation.
type taskContext struct {
	conf taskpipe.JobConf
	up   *CommandWriter
	out  emitter

	key   []byte
	value []byte

	counters    map[string]*taskpipe.Counter
	nextCounter int32

	// last progress value reported by the record reader, if any
	progress float32
}

func newTaskContext(conf taskpipe.JobConf, up *CommandWriter) taskContext {
	return taskContext{
		conf:     conf,
		up:       up,
		counters: make(map[string]*taskpipe.Counter),
	}
}

func (c *taskContext) JobConf() taskpipe.JobConf { return c.conf }
func (c *taskContext) InputKey() []byte          { return c.key }
func (c *taskContext) InputValue() []byte        { return c.value }

func (c *taskContext) Emit(key, value []byte) error {
	return c.out.emit(key, value)
}

func (c *taskContext) GetCounter(group, name string) (*taskpipe.Counter, error) {
	id := group + "\x00" + name
	if ctr, ok := c.counters[id]; ok {
		return ctr, nil
	}
	ctr := &taskpipe.Counter{ID: c.nextCounter}
	if err := c.up.WriteRegisterCounter(ctr.ID, group, name); err != nil {
		return nil, err
	}
	c.nextCounter++
	c.counters[id] = ctr
	return ctr, nil
}

func (c *taskContext) IncrementCounter(ctr *taskpipe.Counter, amount int64) error {
	return c.up.WriteIncrementCounter(ctr.ID, amount)
}

func (c *taskContext) SetStatus(status string) error {
	return c.up.WriteStatus(status)
}

func (c *taskContext) Progress() error {
	return c.up.WriteProgress(c.progress)
}

type mapContext struct {
	taskContext
	split     []byte
	keyType   string
	valueType string
}

var _ taskpipe.MapContext = (*mapContext)(nil)

func (c *mapContext) InputSplit() []byte     { return c.split }
func (c *mapContext) InputKeyType() string   { return c.keyType }
func (c *mapContext) InputValueType() string { return c.valueType }

type reduceContext struct {
	taskContext
	cr *CommandReader

	groupDone bool
	err       error
}

var _ taskpipe.ReduceContext = (*reduceContext)(nil)

// newGroup arms the context for the next key group.
func (c *reduceContext) newGroup(key []byte) {
	c.key = key
	c.value = nil
	c.groupDone = false
}

// NextValue pulls the next value of the current group off the pipe. A
// frame that doesn't belong to the group (next key, or CLOSE) is pushed
// back for the driver. Stream errors are deferred on the context; the
// driver fails the task once user code returns.
func (c *reduceContext) NextValue() bool {
	if c.groupDone {
		return false
	}
	f, err := c.cr.ReadFrame()
	if err != nil {
		if err == io.EOF {
			err = &serialize.CodecError{Op: "read reduce value", Err: io.ErrUnexpectedEOF}
		}
		c.err = err
		c.groupDone = true
		return false
	}
	switch f.Cmd {
	case CmdReduceValue:
		c.value = f.Value
		return true
	case CmdReduceKey, CmdClose:
		c.cr.Unread(f)
		c.groupDone = true
		return false
	default:
		c.err = protocolErrorf("out of order command %d inside reduce group", f.Cmd)
		c.groupDone = true
		return false
	}
}
