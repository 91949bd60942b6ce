package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func samplePost() *ScheduledPost {
	return &ScheduledPost{
		Ref:             uuid.New(),
		UserID:          7,
		ContentLocation: "media/abc123",
		ScheduledTime:   time.Date(2025, 6, 1, 18, 30, 0, 0, time.UTC),
		MediaType:       MediaTypeVideo,
		Providers:       []Provider{ProviderYoutube, ProviderInstagram},
		Payloads: map[Provider]json.RawMessage{
			ProviderYoutube:   json.RawMessage(`{"title":"launch"}`),
			ProviderInstagram: json.RawMessage(`{"caption":"hi"}`),
		},
	}
}

func TestScheduledPost_ToRecord(t *testing.T) {
	post := samplePost()

	rec, err := post.ToRecord()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if rec.PostTime != "2025-06-01 18:30:00" {
		t.Errorf("unexpected post time %q", rec.PostTime)
	}
	if rec.Providers != "YOUTUBE,INSTAGRAM" {
		t.Errorf("unexpected providers %q", rec.Providers)
	}
	if rec.Status != RecordStatusPending {
		t.Errorf("expected pending status, got %q", rec.Status)
	}
	if rec.MediaType != "VIDEO" {
		t.Errorf("unexpected media type %q", rec.MediaType)
	}
}

func TestScheduledPost_ToRecordNormalizesTimezone(t *testing.T) {
	post := samplePost()
	tz := time.FixedZone("UTC+2", 2*60*60)
	post.ScheduledTime = time.Date(2025, 6, 1, 20, 30, 0, 0, tz)

	rec, err := post.ToRecord()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.PostTime != "2025-06-01 18:30:00" {
		t.Errorf("expected UTC post time, got %q", rec.PostTime)
	}
}

func TestScheduledPost_ToRecordRequiresProviders(t *testing.T) {
	post := samplePost()
	post.Providers = nil

	if _, err := post.ToRecord(); err == nil {
		t.Fatal("expected error for post without providers")
	}
}

func TestScheduleRecord_ToPostKeepsPayloadsAndOrder(t *testing.T) {
	post := samplePost()
	rec, _ := post.ToRecord()
	rec.ID = 42

	got, err := rec.ToPost()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got.ID != 42 || got.Ref != post.Ref {
		t.Errorf("identity lost: id=%d ref=%s", got.ID, got.Ref)
	}
	if !got.ScheduledTime.Equal(post.ScheduledTime) {
		t.Errorf("time mismatch: %s vs %s", got.ScheduledTime, post.ScheduledTime)
	}
	if len(got.Providers) != 2 || got.Providers[0] != ProviderYoutube || got.Providers[1] != ProviderInstagram {
		t.Errorf("provider order lost: %v", got.Providers)
	}
	if string(got.Payload(ProviderInstagram)) != `{"caption":"hi"}` {
		t.Errorf("payload mismatch: %s", got.Payload(ProviderInstagram))
	}
	if got.Key() != "post:42" {
		t.Errorf("unexpected key %q", got.Key())
	}
}

func TestScheduleRecord_ToPostRejectsMalformed(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ScheduleRecord)
	}{
		{"bad time", func(r *ScheduleRecord) { r.PostTime = "tomorrow" }},
		{"bad media type", func(r *ScheduleRecord) { r.MediaType = "GIF" }},
		{"no providers", func(r *ScheduleRecord) { r.Providers = " , " }},
		{"bad payload", func(r *ScheduleRecord) { r.FullPayload = []byte("{not json") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _ := samplePost().ToRecord()
			tt.mutate(rec)
			if _, err := rec.ToPost(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestScheduledPost_KeyForInProcessPost(t *testing.T) {
	post := samplePost()
	if !strings.HasPrefix(post.Key(), "ref:") {
		t.Errorf("expected ref key, got %q", post.Key())
	}
}
