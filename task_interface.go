package taskpipe

// Mapper is the user's map-side record processor. The driver calls Map once
// per input record with a context wrapping that record.
type Mapper interface {
	Map(ctx MapContext) error
}

// Reducer is the user's reduce-side processor. The driver calls Reduce once
// per key group; values are pulled through ReduceContext.NextValue.
type Reducer interface {
	Reduce(ctx ReduceContext) error
}

// RecordReader lets a task read its own input split instead of receiving
// records over the pipe. Next reports whether a record was produced.
type RecordReader interface {
	Next() (more bool, key, value []byte, err error)

	// Progress of the reader in [0, 1]. Forwarded upstream so the
	// runtime doesn't consider the task stuck.
	Progress() float32

	Close() error
}

// RecordWriter lets a task write job output directly, bypassing the
// upstream runtime's output collector.
type RecordWriter interface {
	Emit(key, value []byte) error
	Close() error
}

// Partitioner assigns map output keys to reduce partitions.
// The returned value must be in [0, numPartitions).
type Partitioner interface {
	Partition(key []byte, numPartitions int32) int32
}

// Factory supplies the task components. Only Mapper and Reducer are
// mandatory for the respective task kind; a nil field means the upstream
// runtime's default applies. The factory is handed to the driver at
// start-up, so there is no name-based lookup at run time.
type Factory struct {
	Mapper      func(ctx MapContext) (Mapper, error)
	Reducer     func(ctx ReduceContext) (Reducer, error)
	Reader      func(ctx MapContext) (RecordReader, error)
	Writer      func(ctx TaskContext) (RecordWriter, error)
	Partitioner func(ctx MapContext) (Partitioner, error)
	Combiner    func(ctx MapContext) (Reducer, error)
}
