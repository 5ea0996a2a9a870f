package simulator

import (
	"context"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/taskpipe/taskpipe/filesystem"
)

// Builds the wordcount example and runs it as external task processes,
// covering the exec/accept path and the authentication handshake.
func TestNetworkRunnerWordCount(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping external process run in short mode")
	}
	dir := t.TempDir()
	bin := filepath.Join(dir, "wordcount")
	build := exec.Command("go", "build", "-o", bin, "github.com/taskpipe/taskpipe/example/wordcount")
	if out, err := build.CombinedOutput(); err != nil {
		t.Fatalf("build wordcount: %v\n%s", err, out)
	}

	writeInput(t, dir, "in-0.txt", "the quick brown fox\nthe lazy dog\n")
	writeInput(t, dir, "in-1.txt", "the end\n")
	out := filepath.Join(dir, "out")

	r := NewNetworkRunner(bin, nil, filesystem.NewLocalFSClient(), nil)
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
