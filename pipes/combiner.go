package pipes

import (
	"sort"

	"github.com/taskpipe/taskpipe"
)

// SpillRecordsKey caps how many map output records the combiner buffers
// before it runs user combine logic and spills downstream.
const SpillRecordsKey = "taskpipe.combiner.spill.records"

const defaultSpillRecords = 10000

// combinerEmitter sits between map emits and the real output sink. It
// groups buffered records by key and runs the user combiner over each
// group on spill, the same reduction the reduce side would do later.
type combinerEmitter struct {
	out      emitter
	combiner taskpipe.Reducer
	parent   *taskContext

	buf   map[string][][]byte
	n     int
	limit int
}

func newCombinerEmitter(out emitter, combiner taskpipe.Reducer, parent *taskContext) *combinerEmitter {
	limit := defaultSpillRecords
	if n, err := parent.conf.GetInt(SpillRecordsKey); err == nil && n > 0 {
		limit = int(n)
	}
	return &combinerEmitter{
		out:      out,
		combiner: combiner,
		parent:   parent,
		buf:      make(map[string][][]byte),
		limit:    limit,
	}
}

func (e *combinerEmitter) emit(key, value []byte) error {
	k := string(key)
	e.buf[k] = append(e.buf[k], append([]byte(nil), value...))
	e.n++
	if e.n >= e.limit {
		return e.spill()
	}
	return nil
}

func (e *combinerEmitter) spill() error {
	keys := make([]string, 0, len(e.buf))
	for k := range e.buf {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		cctx := &sliceReduceContext{
			parent: e.parent,
			out:    e.out,
			key:    []byte(k),
			values: e.buf[k],
		}
		if err := e.combiner.Reduce(cctx); err != nil {
			return err
		}
	}
	e.buf = make(map[string][][]byte)
	e.n = 0
	return nil
}

func (e *combinerEmitter) close() error {
	if err := e.spill(); err != nil {
		return err
	}
	return e.out.close()
}

// sliceReduceContext drives a Reducer over in-memory values. Counters,
// status and configuration are delegated to the owning task context.
type sliceReduceContext struct {
	parent *taskContext
	out    emitter

	key    []byte
	value  []byte
	values [][]byte
	i      int
}

var _ taskpipe.ReduceContext = (*sliceReduceContext)(nil)

func (c *sliceReduceContext) JobConf() taskpipe.JobConf { return c.parent.conf }
func (c *sliceReduceContext) InputKey() []byte          { return c.key }
func (c *sliceReduceContext) InputValue() []byte        { return c.value }

func (c *sliceReduceContext) Emit(key, value []byte) error {
	return c.out.emit(key, value)
}

func (c *sliceReduceContext) GetCounter(group, name string) (*taskpipe.Counter, error) {
	return c.parent.GetCounter(group, name)
}

func (c *sliceReduceContext) IncrementCounter(ctr *taskpipe.Counter, amount int64) error {
	return c.parent.IncrementCounter(ctr, amount)
}

func (c *sliceReduceContext) SetStatus(status string) error { return c.parent.SetStatus(status) }
func (c *sliceReduceContext) Progress() error               { return c.parent.Progress() }

func (c *sliceReduceContext) NextValue() bool {
	if c.i >= len(c.values) {
		return false
	}
	c.value = c.values[c.i]
	c.i++
	return true
}
