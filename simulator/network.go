package simulator

import (
	"context"
	"io"
	"log"
	"net"
	"os"
	"os/exec"
	"time"

	"github.com/google/uuid"
	"github.com/taskpipe/taskpipe/filesystem"
	"github.com/taskpipe/taskpipe/pipes"
)

// acceptTimeout bounds how long a launched task process gets to dial back.
const acceptTimeout = 30 * time.Second

// NetworkRunner execs the task binary once per task and talks to it over a
// loopback socket, the way a real task runtime does. The command port and
// the shared secret travel through the environment; every conversation is
// authenticated.
type NetworkRunner struct {
	program string
	args    []string
	eng     *engine
}

func NewNetworkRunner(program string, args []string, fs filesystem.Client, logger *log.Logger) *NetworkRunner {
	if logger == nil {
		logger = log.New(os.Stdout, "", log.Ldate|log.Ltime|log.Lshortfile)
	}
	r := &NetworkRunner{program: program, args: args}
	r.eng = &engine{
		fs:     fs,
		logger: logger,
		launch: r.launchTask,
		secret: []byte(uuid.New().String()),
	}
	return r
}

func (r *NetworkRunner) Run(ctx context.Context, job Job) (Counters, error) {
	return r.eng.run(ctx, job)
}

func (r *NetworkRunner) launchTask(ctx context.Context, attempt string) (io.ReadWriteCloser, func() error, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, nil, err
	}
	_, port, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		ln.Close()
		return nil, nil, err
	}

	cmd := exec.CommandContext(ctx, r.program, r.args...)
	cmd.Env = append(os.Environ(),
		pipes.CommandPortEnv+"="+port,
		pipes.SharedSecretEnv+"="+string(r.eng.secret),
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		ln.Close()
		return nil, nil, err
	}
	r.eng.logger.Printf("%s: started %s (pid %d) on port %s", attempt, r.program, cmd.Process.Pid, port)

	ln.(*net.TCPListener).SetDeadline(time.Now().Add(acceptTimeout))
	conn, err := ln.Accept()
	ln.Close()
	if err != nil {
		cmd.Process.Kill()
		cmd.Wait()
		return nil, nil, err
	}
	return conn, cmd.Wait, nil
}
