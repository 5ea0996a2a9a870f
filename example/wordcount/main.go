// wordcount is the smallest useful task binary: the upstream runtime reads
// the input and writes the output, the task only maps and reduces.
package main

import (
	"context"
	"log"
	"strconv"
	"strings"

	"github.com/taskpipe/taskpipe"
	"github.com/taskpipe/taskpipe/pipes"
)

type mapper struct{}

func (mapper) Map(ctx taskpipe.MapContext) error {
	for _, w := range strings.Fields(string(ctx.InputValue())) {
		if err := ctx.Emit([]byte(w), []byte("1")); err != nil {
			return err
		}
	}
	return nil
}

type reducer struct{}

func (reducer) Reduce(ctx taskpipe.ReduceContext) error {
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

func main() {
	factory := taskpipe.Factory{
		Mapper: func(taskpipe.MapContext) (taskpipe.Mapper, error) {
			return mapper{}, nil
		},
		Reducer: func(taskpipe.ReduceContext) (taskpipe.Reducer, error) {
			return reducer{}, nil
		},
		// the reducer aggregates cleanly, so it doubles as the combiner
		Combiner: func(taskpipe.MapContext) (taskpipe.Reducer, error) {
			return reducer{}, nil
		},
	}
	if err := pipes.RunTask(context.Background(), factory); err != nil {
		log.Fatalf("wordcount: %v", err)
	}
}
