package filesystem

import (
	"io/ioutil"
	"path/filepath"
	"testing"
)

func TestLocalFSClient(t *testing.T) {
	dir := t.TempDir()
	client := NewLocalFSClient()
	name := filepath.Join(dir, "out", "part-00000")

	exist, err := client.Exists(name)
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if exist {
		t.Fatalf("Exists = true before create")
	}

	w, err := client.OpenWriteCloser(name)
	if err != nil {
		t.Fatalf("OpenWriteCloser failed: %v", err)
	}
	if _, err := w.Write([]byte("foo\t1\n")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	w.Close()

	// reopening must append, not truncate
	w, err = client.OpenWriteCloser(name)
	if err != nil {
		t.Fatalf("OpenWriteCloser (append) failed: %v", err)
	}
	if _, err := w.Write([]byte("bar\t2\n")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	w.Close()

	r, err := client.OpenReadCloser(name)
	if err != nil {
		t.Fatalf("OpenReadCloser failed: %v", err)
	}
	b, err := ioutil.ReadAll(r)
	r.Close()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if string(b) != "foo\t1\nbar\t2\n" {
		t.Errorf("content = %q", b)
	}

	matches, err := client.Glob(filepath.Join(dir, "out", "part-*"))
	if err != nil {
		t.Fatalf("Glob failed: %v", err)
	}
	if len(matches) != 1 || matches[0] != name {
		t.Errorf("Glob = %v, want [%s]", matches, name)
	}

	renamed := filepath.Join(dir, "out", "part-00000.done")
	if err := client.Rename(name, renamed); err != nil {
		t.Fatalf("Rename failed: %v", err)
	}
	if err := client.Remove(renamed); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	exist, err = client.Exists(renamed)
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if exist {
		t.Errorf("file still exists after Remove")
	}
}
