package taskpipe

// Counter is a handle to an upstream job counter. Handles are obtained
// through TaskContext.GetCounter and are only valid within the task that
// registered them.
type Counter struct {
	ID int32
}

// TaskContext is the per-task handle exposing the current input record and
// the output sink. One context exists per task invocation; it is created by
// the driver before user code runs and torn down at task completion.
type TaskContext interface {
	// JobConf returns the configuration this task was started with.
	JobConf() JobConf

	// InputKey and InputValue return the record currently being
	// processed. The returned slices are only valid until the next
	// record is dispatched.
	InputKey() []byte
	InputValue() []byte

	// Emit appends one output record. Output order equals call order.
	// Records not yet flushed when the task dies are lost, never
	// duplicated.
	Emit(key, value []byte) error

	// GetCounter registers a counter under group/name the first time it
	// is called for that pair and returns its handle.
	GetCounter(group, name string) (*Counter, error)
	IncrementCounter(c *Counter, amount int64) error

	SetStatus(status string) error
	Progress() error
}

// MapContext is the context seen by Mapper, RecordReader and Partitioner.
type MapContext interface {
	TaskContext

	// InputSplit returns the raw serialized split this map task covers.
	// Use pipes.ParseFileSplit for the common file split layout.
	InputSplit() []byte

	// Java class names of the key/value input types, when the upstream
	// runtime announced them.
	InputKeyType() string
	InputValueType() string
}

// ReduceContext is the context seen by Reducer. InputKey holds the key of
// the current group; NextValue advances InputValue through the group's
// values and reports false at group end.
type ReduceContext interface {
	TaskContext

	NextValue() bool
}
