package queue

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/service"
)

// AsynqDispatcher keeps timers as scheduled tasks in Redis so near-term
// posts survive a restart. The post key is the task id, which keeps at most
// one live task per post.
type AsynqDispatcher struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	queue     string
}

func NewAsynqDispatcher(redisConn asynq.RedisClientOpt) *AsynqDispatcher {
	return &AsynqDispatcher{
		client:    asynq.NewClient(redisConn),
		inspector: asynq.NewInspector(redisConn),
		queue:     DefaultQueue,
	}
}

func (d *AsynqDispatcher) Schedule(ctx context.Context, post *models.ScheduledPost) error {
	taskPayload, err := json.Marshal(DispatchPostPayload{Post: post})
	if err != nil {
		return err
	}

	task := asynq.NewTask(TaskTypeDispatchPost, taskPayload)

	_, err = d.client.EnqueueContext(ctx, task,
		asynq.ProcessAt(post.ScheduledTime),
		asynq.TaskID(post.Key()),
		asynq.MaxRetry(0),
		asynq.Queue(d.queue),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return service.ErrAlreadyScheduled
	}
	if err != nil {
		slog.Info(err.Error())
		return err
	}

	log.Printf("Task scheduled: %s at %s", post.Key(), post.ScheduledTime.Format(models.PostTimeLayout))
	return nil
}

// Cancel deletes the task if it is still waiting and belongs to userID.
func (d *AsynqDispatcher) Cancel(ctx context.Context, userID int64, key string) bool {
	info, err := d.inspector.GetTaskInfo(d.queue, key)
	if err != nil {
		return false
	}
	if info.State != asynq.TaskStateScheduled && info.State != asynq.TaskStatePending {
		return false
	}

	var payload DispatchPostPayload
	if err := json.Unmarshal(info.Payload, &payload); err != nil || payload.Post == nil || payload.Post.UserID != userID {
		return false
	}

	if err := d.inspector.DeleteTask(d.queue, key); err != nil {
		slog.Info(err.Error())
		return false
	}
	return true
}

func (d *AsynqDispatcher) Close() error {
	if err := d.inspector.Close(); err != nil {
		slog.Info(err.Error())
	}
	return d.client.Close()
}
