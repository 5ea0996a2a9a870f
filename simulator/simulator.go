// Package simulator runs a map/reduce job without a Hadoop cluster. It
// plays the upstream side of the task protocol: it feeds input records
// downstream, shuffles what the map side emits, drives the reduce side and
// writes part files through a filesystem.Client. Tasks run either
// in-process or as external processes over a loopback socket.
package simulator

import (
	"bytes"
	"context"
	"fmt"
	"hash/fnv"
	"io"
	"io/ioutil"
	"log"
	"sort"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/taskpipe/taskpipe"
	"github.com/taskpipe/taskpipe/filesystem"
	"github.com/taskpipe/taskpipe/pipes"
	"github.com/taskpipe/taskpipe/pkg/common"
)

// Counters are the task counters accumulated over a whole job run, keyed
// "group.name".
type Counters map[string]int64

// Job describes one simulated run. Input is a glob understood by the
// filesystem client; each match becomes one map task. Output is the
// directory the part-NNNNN files land in.
type Job struct {
	Conf       taskpipe.JobConf
	Input      string
	Output     string
	NumReduces int32
	KeyType    string
	ValueType  string
}

// record is one key/value pair in flight between map and reduce. part is
// -1 until a partition has been assigned.
type record struct {
	part       int32
	key, value []byte
}

// launchFunc starts one task conversation. wait blocks until the task side
// finished and reports its terminal error.
type launchFunc func(ctx context.Context, attempt string) (conn io.ReadWriteCloser, wait func() error, err error)

type engine struct {
	fs     filesystem.Client
	logger *log.Logger
	launch launchFunc
	secret []byte

	mu       sync.Mutex
	counters Counters
}

func (e *engine) run(ctx context.Context, job Job) (Counters, error) {
	if job.Output == "" {
		return nil, fmt.Errorf("simulator: job needs an output directory")
	}
	inputs, err := e.fs.Glob(job.Input)
	if err != nil {
		return nil, err
	}
	if len(inputs) == 0 {
		return nil, fmt.Errorf("simulator: no input matches %s", job.Input)
	}
	sort.Strings(inputs)
	e.counters = Counters{}
	jobID := uuid.New().String()

	// map tasks run concurrently, one per input file
	mapOut := make([][]record, len(inputs))
	errs := make([]error, len(inputs))
	latch := common.NewCountDownLatch(len(inputs))
	for i, name := range inputs {
		go func(i int, name string) {
			defer latch.CountDown()
			attempt := fmt.Sprintf("attempt_%s_m_%06d_0", jobID, i)
			mapOut[i], errs[i] = e.mapTask(ctx, job, attempt, i, name)
		}(i, name)
	}
	latch.Await()
	for _, err := range errs {
		if err != nil {
			return e.counters, err
		}
	}

	if job.NumReduces <= 0 {
		for i, recs := range mapOut {
			if err := e.writePart(job.Output, int32(i), recs); err != nil {
				return e.counters, err
			}
		}
		return e.counters, nil
	}

	buckets := make([][]record, job.NumReduces)
	for _, recs := range mapOut {
		for _, r := range recs {
			p := r.part
			if p < 0 {
				p = defaultPartition(r.key, job.NumReduces)
			}
			if p < 0 || p >= job.NumReduces {
				return e.counters, fmt.Errorf("simulator: partition %d out of range [0, %d)", p, job.NumReduces)
			}
			buckets[p] = append(buckets[p], r)
		}
	}
	for p := range buckets {
		// stable keeps emit order within equal keys
		sort.SliceStable(buckets[p], func(i, j int) bool {
			return bytes.Compare(buckets[p][i].key, buckets[p][j].key) < 0
		})
		attempt := fmt.Sprintf("attempt_%s_r_%06d_0", jobID, p)
		out, err := e.reduceTask(ctx, job, attempt, p, buckets[p])
		if err != nil {
			return e.counters, err
		}
		if err := e.writePart(job.Output, int32(p), out); err != nil {
			return e.counters, err
		}
	}
	return e.counters, nil
}

func (e *engine) mapTask(ctx context.Context, job Job, attempt string, part int, name string) ([]record, error) {
	input, err := e.readInput(name)
	if err != nil {
		return nil, err
	}
	feed := func(cw *pipes.CommandWriter) error {
		split := pipes.FileSplit{Path: name, Offset: 0, Length: int64(len(input))}
		if err := cw.WriteRunMap(split.Encode(), job.NumReduces, true); err != nil {
			return err
		}
		for _, rec := range splitLines(input) {
			if err := cw.WriteMapItem(rec.key, rec.value); err != nil {
				return err
			}
		}
		return nil
	}
	return e.runTask(ctx, job, attempt, part, feed)
}

func (e *engine) reduceTask(ctx context.Context, job Job, attempt string, part int, bucket []record) ([]record, error) {
	feed := func(cw *pipes.CommandWriter) error {
		if err := cw.WriteRunReduce(int32(part), true); err != nil {
			return err
		}
		var cur []byte
		started := false
		for _, rec := range bucket {
			if !started || !bytes.Equal(rec.key, cur) {
				if err := cw.WriteReduceKey(rec.key); err != nil {
					return err
				}
				cur, started = rec.key, true
			}
			if err := cw.WriteReduceValue(rec.value); err != nil {
				return err
			}
		}
		return nil
	}
	return e.runTask(ctx, job, attempt, part, feed)
}

// runTask drives one task conversation: handshake and preamble, the
// phase-specific frames from feed, then the upstream frames until DONE.
// feed runs in its own goroutine because an unread upstream side would
// otherwise deadlock the downstream writes.
func (e *engine) runTask(ctx context.Context, job Job, attempt string, part int, feed func(*pipes.CommandWriter) error) ([]record, error) {
	conn, wait, err := e.launch(ctx, attempt)
	if err != nil {
		return nil, err
	}
	cr := pipes.NewCommandReader(conn)
	cw := pipes.NewCommandWriter(conn)

	if len(e.secret) > 0 {
		if err := e.authenticate(cr, cw); err != nil {
			conn.Close()
			wait()
			return nil, err
		}
	}

	errc := make(chan error, 1)
	go func() {
		errc <- func() error {
			if err := cw.WriteStart(0); err != nil {
				return err
			}
			if err := cw.WriteJobConf(taskConf(job.Conf, attempt, part)); err != nil {
				return err
			}
			if job.KeyType != "" || job.ValueType != "" {
				if err := cw.WriteInputTypes(job.KeyType, job.ValueType); err != nil {
					return err
				}
			}
			if err := feed(cw); err != nil {
				return err
			}
			if err := cw.WriteClose(); err != nil {
				return err
			}
			return cw.Flush()
		}()
	}()

	recs, cerr := e.collect(attempt, cr)
	conn.Close()
	ferr := <-errc
	werr := wait()
	switch {
	case werr != nil:
		return recs, fmt.Errorf("simulator: task %s: %v", attempt, werr)
	case cerr != nil:
		return recs, cerr
	case ferr != nil:
		return recs, ferr
	}
	return recs, nil
}

// collect consumes the upstream side of a task conversation until DONE.
func (e *engine) collect(attempt string, cr *pipes.CommandReader) ([]record, error) {
	var recs []record
	ids := map[int32]string{}
	for {
		f, err := cr.ReadFrame()
		if err == io.EOF {
			return recs, fmt.Errorf("simulator: task %s exited before DONE", attempt)
		}
		if err != nil {
			return recs, err
		}
		switch f.Cmd {
		case pipes.CmdOutput:
			recs = append(recs, record{part: -1, key: f.Key, value: f.Value})
		case pipes.CmdPartitionedOutput:
			recs = append(recs, record{part: f.Part, key: f.Key, value: f.Value})
		case pipes.CmdStatus:
			e.logger.Printf("%s: %s", attempt, f.Strings[0])
		case pipes.CmdProgress:
			// nothing to reschedule here
		case pipes.CmdRegisterCounter:
			ids[f.Part] = f.Strings[0] + "." + f.Strings[1]
		case pipes.CmdIncrementCounter:
			name, ok := ids[f.Part]
			if !ok {
				return recs, fmt.Errorf("simulator: task %s incremented unregistered counter %d", attempt, f.Part)
			}
			e.mu.Lock()
			e.counters[name] += f.Amount
			e.mu.Unlock()
		case pipes.CmdDone:
			return recs, nil
		default:
			return recs, fmt.Errorf("simulator: unexpected upstream command %d from task %s", f.Cmd, attempt)
		}
	}
}

func (e *engine) authenticate(cr *pipes.CommandReader, cw *pipes.CommandWriter) error {
	challenge := []byte(uuid.New().String())
	digest := pipes.Digest(e.secret, challenge)
	if err := cw.WriteAuthReq(digest, challenge); err != nil {
		return err
	}
	if err := cw.Flush(); err != nil {
		return err
	}
	f, err := cr.ReadFrame()
	if err != nil {
		return err
	}
	if f.Cmd != pipes.CmdAuthResp {
		return fmt.Errorf("simulator: expected AUTHENTICATION_RESP, got command %d", f.Cmd)
	}
	if !bytes.Equal(f.Digest, pipes.Digest(e.secret, digest)) {
		return fmt.Errorf("simulator: task authentication failed")
	}
	return nil
}

func (e *engine) readInput(name string) ([]byte, error) {
	r, err := e.fs.OpenReadCloser(name)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return ioutil.ReadAll(r)
}

func (e *engine) writePart(outdir string, part int32, recs []record) error {
	name := fmt.Sprintf("%s/part-%05d", outdir, part)
	if exist, err := e.fs.Exists(name); err != nil {
		return err
	} else if exist {
		return fmt.Errorf("simulator: output %s already exists", name)
	}
	w, err := e.fs.OpenWriteCloser(name)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	for _, r := range recs {
		buf.Write(r.key)
		buf.WriteByte('\t')
		buf.Write(r.value)
		buf.WriteByte('\n')
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// splitLines turns raw text into map input records the way the default
// text input does: value is the line, key is its byte offset in decimal.
func splitLines(data []byte) []record {
	var recs []record
	off := 0
	for off < len(data) {
		line := data[off:]
		advance := len(line)
		if i := bytes.IndexByte(line, '\n'); i >= 0 {
			line = line[:i]
			advance = i + 1
		}
		recs = append(recs, record{part: -1, key: []byte(strconv.Itoa(off)), value: line})
		off += advance
	}
	return recs
}

// taskConf flattens the job conf plus the per-task entries into the
// alternating key/value list SET_JOB_CONF carries, in sorted key order.
func taskConf(base taskpipe.JobConf, attempt string, part int) []string {
	conf := taskpipe.JobConf{
		"mapreduce.task.attempt.id": attempt,
		"mapreduce.task.partition":  strconv.Itoa(part),
	}
	for k, v := range base {
		conf[k] = v
	}
	keys := make([]string, 0, len(conf))
	for k := range conf {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		pairs = append(pairs, k, conf[k])
	}
	return pairs
}

// defaultPartition stands in for Hadoop's hash partitioner when the task
// didn't partition its output itself.
func defaultPartition(key []byte, numReduces int32) int32 {
	h := fnv.New32a()
	h.Write(key)
	return int32(h.Sum32() % uint32(numReduces))
}
