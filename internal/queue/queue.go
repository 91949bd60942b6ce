package queue

import (
	"github.com/maheshrc27/postflow/internal/models"
)

const (
	TaskTypeDispatchPost = "dispatch:post"
	DefaultQueue         = "default"
)

// DispatchPostPayload is the asynq task body: the whole post, so the worker
// needs no store lookup to publish it.
type DispatchPostPayload struct {
	Post *models.ScheduledPost `json:"post"`
}
