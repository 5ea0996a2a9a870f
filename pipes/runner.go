package pipes

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"time"

	"github.com/taskpipe/taskpipe"
)

// CommandPortEnv carries the loopback port of the upstream runtime. When
// unset the protocol runs over stdin/stdout.
const CommandPortEnv = "mapreduce.pipes.command.port"

// progressInterval is how often the driver forwards reader progress
// upstream while it owns the input.
const progressInterval = time.Second

// Runner is the task driver: it reads framed records from the upstream
// pipe, dispatches them to the factory-supplied user logic and writes
// framed output back. One Runner drives exactly one task process.
type Runner struct {
	factory taskpipe.Factory
	cr      *CommandReader
	cw      *CommandWriter
	logger  *log.Logger
	secret  []byte

	state   TaskState
	started bool
	conf    taskpipe.JobConf

	keyType   string
	valueType string
}

func NewRunner(f taskpipe.Factory, conn io.ReadWriter, logger *log.Logger) *Runner {
	if logger == nil {
		logger = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
	}
	return &Runner{
		factory: f,
		cr:      NewCommandReader(conn),
		cw:      NewCommandWriter(conn),
		logger:  logger,
		state:   StateInit,
		conf:    taskpipe.JobConf{},
	}
}

// SetSecret enables the authentication handshake before any record flows.
func (r *Runner) SetSecret(secret []byte) { r.secret = secret }

func (r *Runner) State() TaskState { return r.state }

// RunTask connects to the upstream runtime and drives the task to
// completion. It is the entry point a task main calls; a non-nil return
// must end in a non-zero process exit.
func RunTask(ctx context.Context, f taskpipe.Factory) error {
	// stdout may be the protocol channel, so the logger can't have it
	logger := log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
	var conn io.ReadWriter
	if port := os.Getenv(CommandPortEnv); port != "" {
		c, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", port))
		if err != nil {
			return fmt.Errorf("pipes: connect to command port %s: %v", port, err)
		}
		defer c.Close()
		conn = c
	} else {
		conn = struct {
			io.Reader
			io.Writer
		}{os.Stdin, os.Stdout}
	}
	r := NewRunner(f, conn, logger)
	if s := os.Getenv(SharedSecretEnv); s != "" {
		r.SetSecret([]byte(s))
	}
	return r.Run(ctx)
}

// Run executes the driver state machine: INIT -> RUNNING -> DONE, or
// FAILED on any codec, protocol or user-code error. Whatever output was
// flushed before a failure stays put; nothing is retracted.
func (r *Runner) Run(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			r.state = StateFailed
			r.cw.Flush()
			r.logger.Printf("task failed: %v", err)
		}
	}()

	r.state = StateRunning
	if len(r.secret) > 0 {
		if err := r.authenticate(); err != nil {
			return err
		}
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		f, err := r.cr.ReadFrame()
		if err == io.EOF {
			return protocolErrorf("stream ended before CLOSE")
		}
		if err != nil {
			return err
		}
		if !r.started && f.Cmd != CmdStart && f.Cmd != CmdAbort {
			return protocolErrorf("command %d before START", f.Cmd)
		}
		switch f.Cmd {
		case CmdStart:
			if f.Version != protocolVersion {
				return protocolErrorf("unsupported protocol version %d", f.Version)
			}
			r.started = true
		case CmdSetJobConf:
			for i := 0; i+1 < len(f.Strings); i += 2 {
				r.conf[f.Strings[i]] = f.Strings[i+1]
			}
		case CmdSetInputTypes:
			r.keyType, r.valueType = f.Strings[0], f.Strings[1]
		case CmdRunMap:
			return r.runMap(ctx, f)
		case CmdRunReduce:
			return r.runReduce(ctx, f)
		case CmdClose:
			// a task with no records to process is still a clean run
			return r.finish(nil)
		case CmdAbort:
			return ErrAborted
		default:
			return protocolErrorf("unexpected command %d outside a running task", f.Cmd)
		}
	}
}

func (r *Runner) authenticate() error {
	f, err := r.cr.ReadFrame()
	if err != nil {
		return err
	}
	if f.Cmd != CmdAuthReq {
		return protocolErrorf("expected AUTHENTICATION_REQ, got command %d", f.Cmd)
	}
	if !verifyDigest(r.secret, f.Challenge, f.Digest) {
		return protocolErrorf("authentication failed")
	}
	if err := r.cw.WriteAuthResp(Digest(r.secret, f.Digest)); err != nil {
		return err
	}
	return r.cw.Flush()
}

func (r *Runner) runMap(ctx context.Context, f *Frame) error {
	mctx := &mapContext{
		taskContext: newTaskContext(r.conf, r.cw),
		split:       f.Split,
		keyType:     r.keyType,
		valueType:   r.valueType,
	}

	var out emitter
	switch {
	case f.NumReduces == 0 && r.factory.Writer != nil:
		w, err := r.newWriter(mctx)
		if err != nil {
			return err
		}
		out = &writerEmitter{w: w}
	case f.NumReduces > 0 && r.factory.Partitioner != nil:
		p, err := r.newPartitioner(mctx)
		if err != nil {
			return err
		}
		out = &partitionedEmitter{up: r.cw, partitioner: p, numReduces: f.NumReduces}
	default:
		out = &upstreamEmitter{up: r.cw}
	}
	mctx.out = out
	if f.NumReduces > 0 && r.factory.Combiner != nil {
		c, err := r.newCombiner(mctx)
		if err != nil {
			return err
		}
		mctx.out = newCombinerEmitter(out, c, &mctx.taskContext)
	}

	if r.factory.Mapper == nil {
		return protocolErrorf("RUN_MAP but factory has no mapper")
	}
	mapper, err := r.newMapper(mctx)
	if err != nil {
		return err
	}

	if !f.Piped {
		if r.factory.Reader == nil {
			return protocolErrorf("piped input disabled but factory has no record reader")
		}
		err = r.mapFromReader(ctx, mctx, mapper)
	} else {
		err = r.mapFromPipe(ctx, mctx, mapper)
	}
	if err != nil {
		return err
	}
	return r.finish(mctx.out)
}

func (r *Runner) mapFromPipe(ctx context.Context, mctx *mapContext, mapper taskpipe.Mapper) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		f, err := r.cr.ReadFrame()
		if err == io.EOF {
			return protocolErrorf("map stream ended before CLOSE")
		}
		if err != nil {
			return err
		}
		switch f.Cmd {
		case CmdMapItem:
			mctx.key, mctx.value = f.Key, f.Value
			if err := callMapper(mapper, mctx); err != nil {
				return err
			}
		case CmdClose:
			return nil
		case CmdAbort:
			return ErrAborted
		default:
			return protocolErrorf("out of order command %d during map", f.Cmd)
		}
	}
}

func (r *Runner) mapFromReader(ctx context.Context, mctx *mapContext, mapper taskpipe.Mapper) error {
	reader, err := r.newReader(mctx)
	if err != nil {
		return err
	}
	lastProgress := time.Now()
	for {
		if err := ctx.Err(); err != nil {
			reader.Close()
			return err
		}
		more, key, value, err := reader.Next()
		if err != nil {
			reader.Close()
			return &UserCodeError{Err: err}
		}
		if !more {
			break
		}
		mctx.key, mctx.value = key, value
		if err := callMapper(mapper, mctx); err != nil {
			reader.Close()
			return err
		}
		if time.Since(lastProgress) >= progressInterval {
			mctx.progress = reader.Progress()
			if err := mctx.Progress(); err != nil {
				reader.Close()
				return err
			}
			if err := r.cw.Flush(); err != nil {
				reader.Close()
				return err
			}
			lastProgress = time.Now()
		}
	}
	if err := callClose(reader); err != nil {
		return err
	}
	// the runtime still closes the conversation explicitly
	f, err := r.cr.ReadFrame()
	if err == io.EOF {
		return protocolErrorf("map stream ended before CLOSE")
	}
	if err != nil {
		return err
	}
	switch f.Cmd {
	case CmdClose:
		return nil
	case CmdAbort:
		return ErrAborted
	default:
		return protocolErrorf("out of order command %d after reader input", f.Cmd)
	}
}

func (r *Runner) runReduce(ctx context.Context, f *Frame) error {
	rctx := &reduceContext{
		taskContext: newTaskContext(r.conf, r.cw),
		cr:          r.cr,
	}

	switch {
	case r.factory.Writer != nil:
		w, err := r.newWriter(rctx)
		if err != nil {
			return err
		}
		rctx.out = &writerEmitter{w: w}
	case f.Piped:
		rctx.out = &upstreamEmitter{up: r.cw}
	default:
		return protocolErrorf("piped output disabled but factory has no record writer")
	}

	if r.factory.Reducer == nil {
		return protocolErrorf("RUN_REDUCE but factory has no reducer")
	}
	reducer, err := r.newReducer(rctx)
	if err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		f, err := r.cr.ReadFrame()
		if err == io.EOF {
			return protocolErrorf("reduce stream ended before CLOSE")
		}
		if err != nil {
			return err
		}
		switch f.Cmd {
		case CmdReduceKey:
			rctx.newGroup(f.Key)
			if err := callReducer(reducer, rctx); err != nil {
				return err
			}
			if rctx.err != nil {
				return rctx.err
			}
			// user code may leave values unconsumed
			for rctx.NextValue() {
			}
			if rctx.err != nil {
				return rctx.err
			}
		case CmdClose:
			return r.finish(rctx.out)
		case CmdAbort:
			return ErrAborted
		case CmdReduceValue:
			return protocolErrorf("REDUCE_VALUE before any REDUCE_KEY")
		default:
			return protocolErrorf("out of order command %d during reduce", f.Cmd)
		}
	}
}

// finish flushes remaining output, reports DONE and moves to the terminal
// state. out is nil when the task saw no RUN_MAP/RUN_REDUCE at all.
func (r *Runner) finish(out emitter) error {
	if out != nil {
		if err := closeEmitter(out); err != nil {
			return err
		}
	}
	if err := r.cw.WriteDone(); err != nil {
		return err
	}
	if err := r.cw.Flush(); err != nil {
		return err
	}
	r.state = StateDone
	return nil
}

// Factory constructors and user processing methods run behind these
// wrappers so a panic in user code fails the task instead of crashing
// with a bare stack.

func (r *Runner) newMapper(ctx taskpipe.MapContext) (m taskpipe.Mapper, err error) {
	defer recoverUserCode(&err)
	m, err = r.factory.Mapper(ctx)
	if err != nil {
		err = &UserCodeError{Err: err}
	}
	return m, err
}

func (r *Runner) newReducer(ctx taskpipe.ReduceContext) (rd taskpipe.Reducer, err error) {
	defer recoverUserCode(&err)
	rd, err = r.factory.Reducer(ctx)
	if err != nil {
		err = &UserCodeError{Err: err}
	}
	return rd, err
}

func (r *Runner) newReader(ctx taskpipe.MapContext) (rr taskpipe.RecordReader, err error) {
	defer recoverUserCode(&err)
	rr, err = r.factory.Reader(ctx)
	if err != nil {
		err = &UserCodeError{Err: err}
	}
	return rr, err
}

func (r *Runner) newWriter(ctx taskpipe.TaskContext) (w taskpipe.RecordWriter, err error) {
	defer recoverUserCode(&err)
	w, err = r.factory.Writer(ctx)
	if err != nil {
		err = &UserCodeError{Err: err}
	}
	return w, err
}

func (r *Runner) newPartitioner(ctx taskpipe.MapContext) (p taskpipe.Partitioner, err error) {
	defer recoverUserCode(&err)
	p, err = r.factory.Partitioner(ctx)
	if err != nil {
		err = &UserCodeError{Err: err}
	}
	return p, err
}

func (r *Runner) newCombiner(ctx taskpipe.MapContext) (c taskpipe.Reducer, err error) {
	defer recoverUserCode(&err)
	c, err = r.factory.Combiner(ctx)
	if err != nil {
		err = &UserCodeError{Err: err}
	}
	return c, err
}

func callMapper(m taskpipe.Mapper, ctx taskpipe.MapContext) (err error) {
	defer recoverUserCode(&err)
	if err := m.Map(ctx); err != nil {
		return &UserCodeError{Err: err}
	}
	return nil
}

func callReducer(rd taskpipe.Reducer, ctx taskpipe.ReduceContext) (err error) {
	defer recoverUserCode(&err)
	if err := rd.Reduce(ctx); err != nil {
		return &UserCodeError{Err: err}
	}
	return nil
}

// closeEmitter runs the task-end cleanup, which still executes user code:
// the final combiner spill and RecordWriter.Close.
func closeEmitter(out emitter) (err error) {
	defer recoverUserCode(&err)
	if err := out.close(); err != nil {
		if _, ok := err.(*UserCodeError); ok {
			return err
		}
		return &UserCodeError{Err: err}
	}
	return nil
}

func callClose(rr taskpipe.RecordReader) (err error) {
	defer recoverUserCode(&err)
	if err := rr.Close(); err != nil {
		return &UserCodeError{Err: err}
	}
	return nil
}

func recoverUserCode(err *error) {
	if p := recover(); p != nil {
		*err = &UserCodeError{Err: fmt.Errorf("panic: %v", p)}
	}
}
