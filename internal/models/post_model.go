package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PostTimeLayout is the wire and storage format of a post time, always UTC.
const PostTimeLayout = "2006-01-02 15:04:05"

type Provider string

const (
	ProviderYoutube   Provider = "YOUTUBE"
	ProviderInstagram Provider = "INSTAGRAM"
	ProviderTiktok    Provider = "TIKTOK"
)

func ParseProvider(s string) Provider {
	return Provider(strings.ToUpper(strings.TrimSpace(s)))
}

type MediaType string

const (
	MediaTypeImage MediaType = "IMAGE"
	MediaTypeVideo MediaType = "VIDEO"
)

func (m MediaType) Valid() bool {
	return m == MediaTypeImage || m == MediaTypeVideo
}

// MediaRef points at media previously uploaded to object storage.
type MediaRef struct {
	Location string    `json:"location"`
	Type     MediaType `json:"type"`
}

type ScheduledPost struct {
	ID              int64                        `json:"id,omitempty"`
	Ref             uuid.UUID                    `json:"ref"`
	UserID          int64                        `json:"user_id"`
	ContentLocation string                       `json:"content_location"`
	ScheduledTime   time.Time                    `json:"scheduled_time"`
	MediaType       MediaType                    `json:"media_type"`
	Providers       []Provider                   `json:"providers"`
	Payloads        map[Provider]json.RawMessage `json:"payloads"`
	Posted          bool                         `json:"posted"`
}

// Key identifies the post inside a timer dispatcher. Persisted posts are
// keyed by store id so a record can never hold two live timers.
func (p *ScheduledPost) Key() string {
	if p.ID != 0 {
		return fmt.Sprintf("post:%d", p.ID)
	}
	return "ref:" + p.Ref.String()
}

func (p *ScheduledPost) Media() MediaRef {
	return MediaRef{Location: p.ContentLocation, Type: p.MediaType}
}

func (p *ScheduledPost) Payload(provider Provider) json.RawMessage {
	if p.Payloads == nil {
		return nil
	}
	return p.Payloads[provider]
}

const (
	RecordStatusPending     = "PENDING"
	RecordStatusClaimed     = "CLAIMED"
	RecordStatusDispatching = "DISPATCHING"
)

// ScheduleRecord is the row layout of the durable schedule store.
type ScheduleRecord struct {
	ID              int64      `db:"id" json:"id"`
	UserID          int64      `db:"user_id" json:"user_id"`
	ContentLocation string     `db:"content_location" json:"content_location"`
	PostTime        string     `db:"post_time" json:"post_time"`
	MediaType       string     `db:"media_type" json:"media_type"`
	Providers       string     `db:"providers" json:"providers"` // comma joined
	FullPayload     []byte     `db:"full_payload" json:"full_payload"`
	Status          string     `db:"status" json:"status"`
	ClaimedAt       *time.Time `db:"claimed_at" json:"claimed_at"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
}

type recordPayload struct {
	Ref      uuid.UUID                    `json:"ref"`
	Payloads map[Provider]json.RawMessage `json:"payloads"`
}

func (p *ScheduledPost) ToRecord() (*ScheduleRecord, error) {
	if len(p.Providers) == 0 {
		return nil, errors.New("post has no providers")
	}

	names := make([]string, len(p.Providers))
	for i, provider := range p.Providers {
		names[i] = string(provider)
	}

	payload, err := json.Marshal(recordPayload{Ref: p.Ref, Payloads: p.Payloads})
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	return &ScheduleRecord{
		ID:              p.ID,
		UserID:          p.UserID,
		ContentLocation: p.ContentLocation,
		PostTime:        p.ScheduledTime.UTC().Format(PostTimeLayout),
		MediaType:       string(p.MediaType),
		Providers:       strings.Join(names, ","),
		FullPayload:     payload,
		Status:          RecordStatusPending,
	}, nil
}

func (r *ScheduleRecord) ToPost() (*ScheduledPost, error) {
	scheduledTime, err := time.ParseInLocation(PostTimeLayout, r.PostTime, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("record %d: bad post time %q: %w", r.ID, r.PostTime, err)
	}

	mediaType := MediaType(r.MediaType)
	if !mediaType.Valid() {
		return nil, fmt.Errorf("record %d: bad media type %q", r.ID, r.MediaType)
	}

	var providers []Provider
	for _, name := range strings.Split(r.Providers, ",") {
		if provider := ParseProvider(name); provider != "" {
			providers = append(providers, provider)
		}
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("record %d: no providers", r.ID)
	}

	var payload recordPayload
	if len(r.FullPayload) > 0 {
		if err := json.Unmarshal(r.FullPayload, &payload); err != nil {
			return nil, fmt.Errorf("record %d: bad payload: %w", r.ID, err)
		}
	}

	return &ScheduledPost{
		ID:              r.ID,
		Ref:             payload.Ref,
		UserID:          r.UserID,
		ContentLocation: r.ContentLocation,
		ScheduledTime:   scheduledTime,
		MediaType:       mediaType,
		Providers:       providers,
		Payloads:        payload.Payloads,
	}, nil
}
