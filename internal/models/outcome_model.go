package models

import (
	"time"

	"github.com/google/uuid"
)

type ErrorKind string

const (
	ErrorKindNone                ErrorKind = ""
	ErrorKindAuthExpired         ErrorKind = "AUTH_EXPIRED"
	ErrorKindRateLimited         ErrorKind = "RATE_LIMITED"
	ErrorKindTransientNetwork    ErrorKind = "TRANSIENT_NETWORK"
	ErrorKindPermanentRejection  ErrorKind = "PERMANENT_REJECTION"
	ErrorKindUnsupportedProvider ErrorKind = "UNSUPPORTED_PROVIDER"
	ErrorKindInternal            ErrorKind = "INTERNAL"
)

type ProviderResult struct {
	Provider Provider      `json:"provider"`
	Success  bool          `json:"success"`
	Kind     ErrorKind     `json:"kind,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// DispatchOutcome is the aggregate result of one publish attempt of a post.
type DispatchOutcome struct {
	PostID        int64                       `json:"post_id,omitempty"`
	Ref           uuid.UUID                   `json:"ref"`
	UserID        int64                       `json:"user_id"`
	ScheduledTime time.Time                   `json:"scheduled_time"`
	StartedAt     time.Time                   `json:"started_at"`
	CompletedAt   time.Time                   `json:"completed_at"`
	Providers     []Provider                  `json:"providers"`
	Results       map[Provider]ProviderResult `json:"results"`
}

func NewDispatchOutcome(post *ScheduledPost, startedAt time.Time) *DispatchOutcome {
	return &DispatchOutcome{
		PostID:        post.ID,
		Ref:           post.Ref,
		UserID:        post.UserID,
		ScheduledTime: post.ScheduledTime,
		StartedAt:     startedAt,
		Providers:     append([]Provider(nil), post.Providers...),
		Results:       make(map[Provider]ProviderResult, len(post.Providers)),
	}
}

func (o *DispatchOutcome) Succeeded() int {
	n := 0
	for _, r := range o.Results {
		if r.Success {
			n++
		}
	}
	return n
}

func (o *DispatchOutcome) Failed() int {
	return len(o.Results) - o.Succeeded()
}
