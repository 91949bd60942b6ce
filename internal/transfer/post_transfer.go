package transfer

import "encoding/json"

type ScheduleRequest struct {
	ContentLocation string                     `json:"content_location"`
	PostTime        string                     `json:"post_time"` // yyyy-MM-dd HH:mm:ss, UTC
	MediaType       string                     `json:"media_type"`
	Providers       []string                   `json:"providers"`
	Payloads        map[string]json.RawMessage `json:"payloads"`
}

type ScheduleResponse struct {
	Accepted bool   `json:"accepted"`
	Mode     string `json:"mode,omitempty"`
	ID       int64  `json:"id,omitempty"`
	Ref      string `json:"ref,omitempty"`
	Key      string `json:"key,omitempty"`
}

type MediaUploadResponse struct {
	ContentLocation string `json:"content_location"`
	MediaType       string `json:"media_type"`
}

type InstagramPayload struct {
	Caption     string `json:"caption"`
	ShareToFeed *bool  `json:"share_to_feed,omitempty"`
}

type YoutubePayload struct {
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	Tags          []string `json:"tags,omitempty"`
	CategoryID    string   `json:"category_id,omitempty"`
	PrivacyStatus string   `json:"privacy_status,omitempty"`
	MadeForKids   bool     `json:"made_for_kids,omitempty"`
}

type TiktokPayload struct {
	Title          string `json:"title"`
	Description    string `json:"description,omitempty"`
	PrivacyLevel   string `json:"privacy_level,omitempty"`
	DisableComment bool   `json:"disable_comment,omitempty"`
	DisableDuet    bool   `json:"disable_duet,omitempty"`
	DisableStitch  bool   `json:"disable_stitch,omitempty"`
	IsAIGC         bool   `json:"is_aigc,omitempty"`
}
