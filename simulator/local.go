package simulator

import (
	"context"
	"io"
	"log"
	"net"
	"os"

	"github.com/taskpipe/taskpipe"
	"github.com/taskpipe/taskpipe/filesystem"
	"github.com/taskpipe/taskpipe/pipes"
)

// LocalRunner runs every task in-process over a synchronous pipe. The task
// side is the same driver a real task process runs, so everything except
// process isolation is exercised.
type LocalRunner struct {
	factory taskpipe.Factory
	eng     *engine
}

func NewLocalRunner(f taskpipe.Factory, fs filesystem.Client, logger *log.Logger) *LocalRunner {
	if logger == nil {
		logger = log.New(os.Stdout, "", log.Ldate|log.Ltime|log.Lshortfile)
	}
	r := &LocalRunner{factory: f}
	r.eng = &engine{fs: fs, logger: logger, launch: r.launchTask}
	return r
}

func (r *LocalRunner) Run(ctx context.Context, job Job) (Counters, error) {
	return r.eng.run(ctx, job)
}

func (r *LocalRunner) launchTask(ctx context.Context, attempt string) (io.ReadWriteCloser, func() error, error) {
	ours, theirs := net.Pipe()
	task := pipes.NewRunner(r.factory, theirs, r.eng.logger)
	errc := make(chan error, 1)
	go func() {
		err := task.Run(ctx)
		theirs.Close()
		errc <- err
	}()
	return ours, func() error { return <-errc }, nil
}
