// wordcount-full owns the whole record path itself: a record reader over
// the task's file split, a record writer for the part file, counters and
// status reporting. Run it with java record reading and writing turned off.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"strconv"
	"strings"

	"github.com/taskpipe/taskpipe"
	"github.com/taskpipe/taskpipe/filesystem"
	"github.com/taskpipe/taskpipe/pipes"
)

// Conf keys the job submitter must set for the reader and writer.
const (
	outputDirKey    = "taskpipe.output.dir"
	hdfsNamenodeKey = "taskpipe.hdfs.namenode"
	hdfsWebKey      = "taskpipe.hdfs.webhdfs"
	hdfsUserKey     = "taskpipe.hdfs.user"
)

// fsFor picks the filesystem the split and the output live on. Without a
// namenode in the conf everything is local, which is what the simulator
// sets up.
func fsFor(conf taskpipe.JobConf) (filesystem.Client, error) {
	if !conf.Has(hdfsNamenodeKey) {
		return filesystem.NewLocalFSClient(), nil
	}
	namenode, err := conf.Get(hdfsNamenodeKey)
	if err != nil {
		return nil, err
	}
	webhdfs, err := conf.Get(hdfsWebKey)
	if err != nil {
		return nil, err
	}
	return filesystem.NewHdfsClient(namenode, webhdfs, conf.GetOrDefault(hdfsUserKey, ""))
}

type mapper struct {
	words *taskpipe.Counter
}

func (m *mapper) Map(ctx taskpipe.MapContext) error {
	words := strings.Fields(string(ctx.InputValue()))
	if err := ctx.IncrementCounter(m.words, int64(len(words))); err != nil {
		return err
	}
	for _, w := range words {
		if err := ctx.Emit([]byte(w), []byte("1")); err != nil {
			return err
		}
	}
	return nil
}

type reducer struct {
	groups *taskpipe.Counter
}

func (r *reducer) Reduce(ctx taskpipe.ReduceContext) error {
	if err := ctx.IncrementCounter(r.groups, 1); err != nil {
		return err
	}
	var sum int64
	for ctx.NextValue() {
		n, err := strconv.ParseInt(string(ctx.InputValue()), 10, 64)
		if err != nil {
			return err
		}
		sum += n
	}
	return ctx.Emit(ctx.InputKey(), []byte(strconv.FormatInt(sum, 10)))
}

// lineReader reads the lines of one file split. A split starting past the
// file head skips its leading partial line and reads one line beyond its
// end, so every line belongs to exactly one split.
type lineReader struct {
	rc       io.ReadCloser
	br       *bufio.Reader
	offset   int64
	length   int64
	consumed int64
}

func newLineReader(ctx taskpipe.MapContext) (taskpipe.RecordReader, error) {
	split, err := pipes.ParseFileSplit(ctx.InputSplit())
	if err != nil {
		return nil, err
	}
	fs, err := fsFor(ctx.JobConf())
	if err != nil {
		return nil, err
	}
	rc, err := fs.OpenReadCloser(split.Path)
	if err != nil {
		return nil, err
	}
	if _, err := io.CopyN(ioutil.Discard, rc, split.Offset); err != nil {
		rc.Close()
		return nil, err
	}
	r := &lineReader{
		rc:     rc,
		br:     bufio.NewReader(rc),
		offset: split.Offset,
		length: split.Length,
	}
	if split.Offset > 0 {
		skipped, err := r.br.ReadString('\n')
		if err != nil && err != io.EOF {
			rc.Close()
			return nil, err
		}
		r.consumed += int64(len(skipped))
	}
	return r, nil
}

func (r *lineReader) Next() (bool, []byte, []byte, error) {
	if r.consumed >= r.length {
		return false, nil, nil, nil
	}
	line, err := r.br.ReadString('\n')
	if err != nil && err != io.EOF {
		return false, nil, nil, err
	}
	if len(line) == 0 {
		return false, nil, nil, nil
	}
	key := []byte(strconv.FormatInt(r.offset+r.consumed, 10))
	r.consumed += int64(len(line))
	return true, key, []byte(strings.TrimRight(line, "\n")), nil
}

func (r *lineReader) Progress() float32 {
	if r.length == 0 {
		return 1
	}
	p := float32(r.consumed) / float32(r.length)
	if p > 1 {
		p = 1
	}
	return p
}

func (r *lineReader) Close() error {
	return r.rc.Close()
}

// partWriter writes "key<TAB>value" lines into the part file named after
// this task's reduce partition.
type partWriter struct {
	wc io.WriteCloser
}

func newPartWriter(ctx taskpipe.TaskContext) (taskpipe.RecordWriter, error) {
	outDir, err := ctx.JobConf().Get(outputDirKey)
	if err != nil {
		return nil, err
	}
	part, err := ctx.JobConf().GetInt("mapreduce.task.partition")
	if err != nil {
		return nil, err
	}
	fs, err := fsFor(ctx.JobConf())
	if err != nil {
		return nil, err
	}
	wc, err := fs.OpenWriteCloser(fmt.Sprintf("%s/part-%05d", outDir, part))
	if err != nil {
		return nil, err
	}
	return &partWriter{wc: wc}, nil
}

func (w *partWriter) Emit(key, value []byte) error {
	_, err := fmt.Fprintf(w.wc, "%s\t%s\n", key, value)
	return err
}

func (w *partWriter) Close() error {
	return w.wc.Close()
}

func main() {
	factory := taskpipe.Factory{
		Mapper: func(ctx taskpipe.MapContext) (taskpipe.Mapper, error) {
			words, err := ctx.GetCounter("WORDCOUNT", "INPUT_WORDS")
			if err != nil {
				return nil, err
			}
			if err := ctx.SetStatus("mapping " + ctx.InputKeyType()); err != nil {
				return nil, err
			}
			return &mapper{words: words}, nil
		},
		Reducer: func(ctx taskpipe.ReduceContext) (taskpipe.Reducer, error) {
			groups, err := ctx.GetCounter("WORDCOUNT", "OUTPUT_GROUPS")
			if err != nil {
				return nil, err
			}
			return &reducer{groups: groups}, nil
		},
		Reader: newLineReader,
		Writer: newPartWriter,
	}
	if err := pipes.RunTask(context.Background(), factory); err != nil {
		log.Fatalf("wordcount-full: %v", err)
	}
}
