// simple_pipeline runs an in-process pipeline: a timer produces readings
// for a few sensors, readings are scaled in parallel and averaged per
// sensor in tumbling windows of 5.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/tarungka/wirestream/internal/logger"
	"github.com/tarungka/wirestream/internal/message"
	"github.com/tarungka/wirestream/internal/pipeline"
	"github.com/tarungka/wirestream/internal/storage/memory"
)

var sensors = []string{"s1", "s2", "s3"}

func main() {
	logger.SetDevelopment(true)
	l := logger.GetLogger("simple-pipeline")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	store := memory.New()
	defer store.Disconnect()

	task := pipeline.New(pipeline.WithName("sensors"), pipeline.WithLogger(l)).
		FromTimer(10*time.Millisecond, 30, func(i int) any {
			batch := make([]any, len(sensors))
			for j := range sensors {
				batch[j] = float64(i*10 + j)
			}
			return batch
		}).
		Parallelize(func(_ context.Context, v any) (any, error) {
			return v.(float64) / 10, nil
		}, pipeline.WithMaxChunkSize(2)).
		ControlRaw(func(ctx context.Context, msg *message.Message, emit pipeline.Emit) error {
			for i, v := range msg.Payload.([]any) {
				if err := emit(ctx, message.New(v, map[string]any{message.KeyField: sensors[i]}, msg.GlobalState)); err != nil {
					return err
				}
			}
			return nil
		}).
		TumblingWindowCount(store, 5, pipeline.WithInactivity(time.Second)).
		Fn(func(_ context.Context, p any) (any, error) {
			var sum float64
			for _, v := range p.([]any) {
				sum += v.(float64)
			}
			return sum / float64(len(p.([]any))), nil
		}).
		Sink(func(_ context.Context, msg *message.Message) error {
			fmt.Printf("%s avg=%.2f\n", msg.Key(), msg.Payload)
			return nil
		})
	defer task.Close()

	if err := task.Start(ctx); err != nil {
		l.Error().Err(err).Msg("pipeline failed")
	}
}
