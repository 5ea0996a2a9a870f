// wordcount-proto shuttles typed counts between map and reduce instead of
// decimal text: intermediate values are protobuf Int64Value records, so
// the combiner can pre-aggregate without reparsing strings.
package main

import (
	"context"
	"log"
	"strconv"
	"strings"

	"github.com/golang/protobuf/ptypes/wrappers"
	"github.com/taskpipe/taskpipe"
	"github.com/taskpipe/taskpipe/pipes"
	"github.com/taskpipe/taskpipe/pkg/serialize"
)

type mapper struct {
	one []byte
}

func newMapper() (*mapper, error) {
	one, err := serialize.EncodeProto(&wrappers.Int64Value{Value: 1})
	if err != nil {
		return nil, err
	}
	return &mapper{one: one}, nil
}

func (m *mapper) Map(ctx taskpipe.MapContext) error {
	for _, w := range strings.Fields(string(ctx.InputValue())) {
		if err := ctx.Emit([]byte(w), m.one); err != nil {
			return err
		}
	}
	return nil
}

func sumGroup(ctx taskpipe.ReduceContext) (int64, error) {
	var sum int64
	for ctx.NextValue() {
		var n wrappers.Int64Value
		if err := serialize.DecodeProto(ctx.InputValue(), &n); err != nil {
			return 0, err
		}
		sum += n.Value
	}
	return sum, nil
}

// combiner keeps values proto-encoded for the reduce side.
type combiner struct{}

func (combiner) Reduce(ctx taskpipe.ReduceContext) error {
	sum, err := sumGroup(ctx)
	if err != nil {
		return err
	}
	b, err := serialize.EncodeProto(&wrappers.Int64Value{Value: sum})
	if err != nil {
		return err
	}
	return ctx.Emit(ctx.InputKey(), b)
}

// reducer emits the final counts as text, one readable line per word.
type reducer struct{}

func (reducer) Reduce(ctx taskpipe.ReduceContext) error {
	sum, err := sumGroup(ctx)
	if err != nil {
		return err
	}
	return ctx.Emit(ctx.InputKey(), []byte(strconv.FormatInt(sum, 10)))
}

func main() {
	factory := taskpipe.Factory{
		Mapper: func(taskpipe.MapContext) (taskpipe.Mapper, error) {
			return newMapper()
		},
		Reducer: func(taskpipe.ReduceContext) (taskpipe.Reducer, error) {
			return reducer{}, nil
		},
		Combiner: func(taskpipe.MapContext) (taskpipe.Reducer, error) {
			return combiner{}, nil
		},
	}
	if err := pipes.RunTask(context.Background(), factory); err != nil {
		log.Fatalf("wordcount-proto: %v", err)
	}
}
