package simulator

import (
	"bytes"
	"context"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/golang/protobuf/ptypes/wrappers"
	"github.com/taskpipe/taskpipe"
	"github.com/taskpipe/taskpipe/filesystem"
	"github.com/taskpipe/taskpipe/pkg/serialize"
)

type wordMapper struct{}

func (wordMapper) Map(ctx taskpipe.MapContext) error {
	for _, w := range strings.Fields(string(ctx.InputValue())) {
		if err := ctx.Emit([]byte(w), []byte("1")); err != nil {
			return err
		}
	}
	return nil
}

type sumReducer struct{}

func (sumReducer) Reduce(ctx taskpipe.ReduceContext) error {
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

var wordCountFactory = taskpipe.Factory{
	Mapper: func(taskpipe.MapContext) (taskpipe.Mapper, error) {
		return wordMapper{}, nil
	},
	Reducer: func(taskpipe.ReduceContext) (taskpipe.Reducer, error) {
		return sumReducer{}, nil
	},
}

type identityMapper struct{}

func (identityMapper) Map(ctx taskpipe.MapContext) error {
	return ctx.Emit(ctx.InputKey(), ctx.InputValue())
}

var identityFactory = taskpipe.Factory{
	Mapper: func(taskpipe.MapContext) (taskpipe.Mapper, error) {
		return identityMapper{}, nil
	},
}

func writeInput(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := ioutil.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatalf("write input %s: %v", name, err)
	}
}

func readPart(t *testing.T, dir string, part int) string {
	t.Helper()
	b, err := ioutil.ReadFile(filepath.Join(dir, fmt.Sprintf("part-%05d", part)))
	if err != nil {
		t.Fatalf("read part-%05d: %v", part, err)
	}
	return string(b)
}

func TestLocalRunnerWordCount(t *testing.T) {
	dir := t.TempDir()
	writeInput(t, dir, "in-0.txt", "the quick brown fox\nthe lazy dog\n")
	writeInput(t, dir, "in-1.txt", "the end\n")
	out := filepath.Join(dir, "out")

	r := NewLocalRunner(wordCountFactory, filesystem.NewLocalFSClient(), nil)
	if _, err := r.Run(context.Background(), Job{
		Input:      filepath.Join(dir, "in-*.txt"),
		Output:     out,
		NumReduces: 1,
	}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	counts := map[string]string{}
	for _, line := range strings.Split(strings.TrimRight(readPart(t, out, 0), "\n"), "\n") {
		kv := strings.SplitN(line, "\t", 2)
		if len(kv) != 2 {
			t.Fatalf("malformed output line %q", line)
		}
		counts[kv[0]] = kv[1]
	}
	want := map[string]string{
		"the": "3", "quick": "1", "brown": "1", "fox": "1",
		"lazy": "1", "dog": "1", "end": "1",
	}
	if len(counts) != len(want) {
		t.Fatalf("got %d words, want %d: %v", len(counts), len(want), counts)
	}
	for w, n := range want {
		if counts[w] != n {
			t.Errorf("count[%s] = %s, want %s", w, counts[w], n)
		}
	}
}

func TestLocalRunnerIdentityMapOnly(t *testing.T) {
	dir := t.TempDir()
	writeInput(t, dir, "in.txt", "foo\nbar\n")
	out := filepath.Join(dir, "out")

	r := NewLocalRunner(identityFactory, filesystem.NewLocalFSClient(), nil)
	if _, err := r.Run(context.Background(), Job{
		Input:  filepath.Join(dir, "in.txt"),
		Output: out,
	}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// offsets 0 and 4 are the identity mapper's keys
	if got, want := readPart(t, out, 0), "0\tfoo\n4\tbar\n"; got != want {
		t.Errorf("part-00000 = %q, want %q", got, want)
	}
}

type thirdRecordFails struct {
	n int
}

func (m *thirdRecordFails) Map(ctx taskpipe.MapContext) error {
	m.n++
	if m.n == 3 {
		return fmt.Errorf("record %d is poison", m.n)
	}
	return ctx.Emit(ctx.InputKey(), ctx.InputValue())
}

func TestLocalRunnerMapperFailure(t *testing.T) {
	dir := t.TempDir()
	writeInput(t, dir, "in.txt", "a\nb\nc\nd\n")
	out := filepath.Join(dir, "out")

	factory := taskpipe.Factory{
		Mapper: func(taskpipe.MapContext) (taskpipe.Mapper, error) {
			return &thirdRecordFails{}, nil
		},
	}
	r := NewLocalRunner(factory, filesystem.NewLocalFSClient(), nil)
	_, err := r.Run(context.Background(), Job{
		Input:  filepath.Join(dir, "in.txt"),
		Output: out,
	})
	if err == nil {
		t.Fatalf("Run succeeded, want user code failure")
	}
	if !strings.Contains(err.Error(), "user code") {
		t.Errorf("err = %v, want a user code failure", err)
	}
}

type firstByteParts struct{}

func (firstByteParts) Partition(key []byte, numPartitions int32) int32 {
	if len(key) == 0 {
		return 0
	}
	return int32(key[0]) % numPartitions
}

func TestLocalRunnerPartitioner(t *testing.T) {
	dir := t.TempDir()
	// 'b' is 0x62 (even), 'a' and 'c' are odd
	writeInput(t, dir, "in.txt", "a x\nb y\nc z\n")
	out := filepath.Join(dir, "out")

	factory := wordCountFactory
	factory.Partitioner = func(taskpipe.MapContext) (taskpipe.Partitioner, error) {
		return firstByteParts{}, nil
	}
	r := NewLocalRunner(factory, filesystem.NewLocalFSClient(), nil)
	if _, err := r.Run(context.Background(), Job{
		Input:      filepath.Join(dir, "in.txt"),
		Output:     out,
		NumReduces: 2,
	}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	even, odd := readPart(t, out, 0), readPart(t, out, 1)
	for _, w := range []string{"b\t1", "x\t1", "z\t1"} {
		if !strings.Contains(even, w) {
			t.Errorf("part-00000 = %q, missing %q", even, w)
		}
	}
	for _, w := range []string{"a\t1", "c\t1", "y\t1"} {
		if !strings.Contains(odd, w) {
			t.Errorf("part-00001 = %q, missing %q", odd, w)
		}
	}
}

type countingMapper struct {
	records *taskpipe.Counter
}

func (m *countingMapper) Map(ctx taskpipe.MapContext) error {
	if m.records == nil {
		c, err := ctx.GetCounter("wordcount", "input records")
		if err != nil {
			return err
		}
		m.records = c
	}
	if err := ctx.IncrementCounter(m.records, 1); err != nil {
		return err
	}
	return ctx.Emit(ctx.InputKey(), ctx.InputValue())
}

func TestLocalRunnerCounters(t *testing.T) {
	dir := t.TempDir()
	writeInput(t, dir, "in-0.txt", "a\nb\n")
	writeInput(t, dir, "in-1.txt", "c\n")
	out := filepath.Join(dir, "out")

	factory := taskpipe.Factory{
		Mapper: func(taskpipe.MapContext) (taskpipe.Mapper, error) {
			return &countingMapper{}, nil
		},
	}
	r := NewLocalRunner(factory, filesystem.NewLocalFSClient(), nil)
	counters, err := r.Run(context.Background(), Job{
		Input:  filepath.Join(dir, "in-*.txt"),
		Output: out,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := counters["wordcount.input records"]; got != 3 {
		t.Errorf("input records counter = %d, want 3", got)
	}
}

func TestLocalRunnerOutputExists(t *testing.T) {
	dir := t.TempDir()
	writeInput(t, dir, "in.txt", "a\n")
	out := filepath.Join(dir, "out")
	if err := os.MkdirAll(out, 0755); err != nil {
		t.Fatal(err)
	}
	writeInput(t, out, "part-00000", "stale\n")

	r := NewLocalRunner(identityFactory, filesystem.NewLocalFSClient(), nil)
	_, err := r.Run(context.Background(), Job{
		Input:  filepath.Join(dir, "in.txt"),
		Output: out,
	})
	if err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Errorf("err = %v, want output collision", err)
	}
}

type protoOneMapper struct{}

func (protoOneMapper) Map(ctx taskpipe.MapContext) error {
	one, err := serialize.EncodeProto(&wrappers.Int64Value{Value: 1})
	if err != nil {
		return err
	}
	for _, w := range strings.Fields(string(ctx.InputValue())) {
		if err := ctx.Emit([]byte(w), one); err != nil {
			return err
		}
	}
	return nil
}

type protoSumReducer struct{}

func (protoSumReducer) Reduce(ctx taskpipe.ReduceContext) error {
	var sum int64
	for ctx.NextValue() {
		var n wrappers.Int64Value
		if err := serialize.DecodeProto(ctx.InputValue(), &n); err != nil {
			return err
		}
		sum += n.Value
	}
	return ctx.Emit(ctx.InputKey(), []byte(strconv.FormatInt(sum, 10)))
}

// Intermediate values here are protobuf records riding the pipe as opaque
// bytes; only the task ends look inside.
func TestLocalRunnerProtoValues(t *testing.T) {
	dir := t.TempDir()
	writeInput(t, dir, "in.txt", "a b a\nb a\n")
	out := filepath.Join(dir, "out")

	factory := taskpipe.Factory{
		Mapper: func(taskpipe.MapContext) (taskpipe.Mapper, error) {
			return protoOneMapper{}, nil
		},
		Reducer: func(taskpipe.ReduceContext) (taskpipe.Reducer, error) {
			return protoSumReducer{}, nil
		},
	}
	r := NewLocalRunner(factory, filesystem.NewLocalFSClient(), nil)
	if _, err := r.Run(context.Background(), Job{
		Input:      filepath.Join(dir, "in.txt"),
		Output:     out,
		NumReduces: 1,
	}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	got := readPart(t, out, 0)
	for _, want := range []string{"a\t3", "b\t2"} {
		if !strings.Contains(got, want) {
			t.Errorf("part-00000 = %q, missing %q", got, want)
		}
	}
}

func TestSplitLines(t *testing.T) {
	tests := []struct {
		in   string
		want []record
	}{
		{"", nil},
		{"a\n", []record{{key: []byte("0"), value: []byte("a")}}},
		{"a\nbc", []record{
			{key: []byte("0"), value: []byte("a")},
			{key: []byte("2"), value: []byte("bc")},
		}},
		{"\n\n", []record{
			{key: []byte("0"), value: []byte("")},
			{key: []byte("1"), value: []byte("")},
		}},
	}
	for i, tt := range tests {
		got := splitLines([]byte(tt.in))
		if len(got) != len(tt.want) {
			t.Errorf("#%d: got %d records, want %d", i, len(got), len(tt.want))
			continue
		}
		for j := range got {
			if !bytes.Equal(got[j].key, tt.want[j].key) || !bytes.Equal(got[j].value, tt.want[j].value) {
				t.Errorf("#%d: record %d = (%s, %s), want (%s, %s)",
					i, j, got[j].key, got[j].value, tt.want[j].key, tt.want[j].value)
			}
		}
	}
}

func TestDefaultPartitionInRange(t *testing.T) {
	for i := 0; i < 100; i++ {
		key := []byte(strconv.Itoa(i))
		p := defaultPartition(key, 7)
		if p < 0 || p >= 7 {
			t.Fatalf("#%d: partition %d out of range", i, p)
		}
	}
}

