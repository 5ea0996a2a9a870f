// Package pipes implements the external process record-processing
// protocol: the framed byte stream between an upstream MapReduce runtime
// and a task process, and the driver that dispatches decoded records to
// user-supplied map/reduce logic.
package pipes

import (
	"errors"
	"fmt"
)

// Cmd identifies one frame kind on the pipe. The numeric values must stay
// exactly in sync with the Java side (PipesMapRunner / BinaryProtocol).
type Cmd int32

const (
	CmdStart             Cmd = 0
	CmdSetJobConf        Cmd = 1
	CmdSetInputTypes     Cmd = 2
	CmdRunMap            Cmd = 3
	CmdMapItem           Cmd = 4
	CmdRunReduce         Cmd = 5
	CmdReduceKey         Cmd = 6
	CmdReduceValue       Cmd = 7
	CmdClose             Cmd = 8
	CmdAbort             Cmd = 9
	CmdAuthReq           Cmd = 10
	CmdOutput            Cmd = 50
	CmdPartitionedOutput Cmd = 51
	CmdStatus            Cmd = 52
	CmdProgress          Cmd = 53
	CmdDone              Cmd = 54
	CmdRegisterCounter   Cmd = 55
	CmdIncrementCounter  Cmd = 56
	CmdAuthResp          Cmd = 57
)

// protocolVersion is the only version the driver speaks; START carries it.
const protocolVersion = 0

// TaskState tracks the driver through its lifecycle.
type TaskState int32

const (
	StateInit TaskState = iota
	StateRunning
	StateDone
	StateFailed
)

func (s TaskState) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateRunning:
		return "RUNNING"
	case StateDone:
		return "DONE"
	case StateFailed:
		return "FAILED"
	}
	return fmt.Sprintf("TaskState(%d)", int32(s))
}

// ErrAborted is returned by the driver when the upstream runtime sends
// ABORT. The task exits non-zero but it is not a protocol violation.
var ErrAborted = errors.New("pipes: aborted by upstream")

// ProtocolError reports a command arriving when the driver cannot accept
// it. Always fatal to the task process.
type ProtocolError struct {
	msg string
}

func (e *ProtocolError) Error() string { return "pipes: " + e.msg }

func protocolErrorf(format string, args ...interface{}) *ProtocolError {
	return &ProtocolError{msg: fmt.Sprintf(format, args...)}
}

// UserCodeError wraps an error (or recovered panic) coming out of
// user-supplied map/reduce logic. Fatal by default; the upstream runtime
// retries the task per its own policy.
type UserCodeError struct {
	Err error
}

func (e *UserCodeError) Error() string { return "pipes: user code: " + e.Err.Error() }

func (e *UserCodeError) Unwrap() error { return e.Err }
