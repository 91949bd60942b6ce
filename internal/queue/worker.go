package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/maheshrc27/postflow/internal/service"
)

type Worker struct {
	dispatch service.DispatchService
}

func NewWorker(dispatch service.DispatchService) *Worker {
	return &Worker{dispatch: dispatch}
}

// HandleDispatchPostTask publishes the post carried by the task. It never
// returns a publish failure, so asynq does not retry the task.
func (w *Worker) HandleDispatchPostTask(ctx context.Context, task *asynq.Task) (err error) {
	var payload DispatchPostPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode task payload: %w: %w", err, asynq.SkipRetry)
	}
	if payload.Post == nil {
		return fmt.Errorf("task without post: %w", asynq.SkipRetry)
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("dispatch panicked", "key", payload.Post.Key(), "panic", r)
			err = nil
		}
	}()

	w.dispatch.Publish(context.WithoutCancel(ctx), payload.Post)
	return nil
}

func (w *Worker) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskTypeDispatchPost, w.HandleDispatchPostTask)
	return mux
}
