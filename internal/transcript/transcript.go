// Package transcript holds the conversation model: sessions and their
// ordered message records. The store is the single mutation point for a
// session's transcript; the stream reducer, the turn controller and the
// HTTP handlers all go through it.
package transcript

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a message.
type Role string

// Valid message roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// FinishReason is the provider-reported cause of turn termination.
type FinishReason string

// Finish reasons. FinishNone marks a message whose stream has not
// terminated yet.
const (
	FinishNone    FinishReason = ""
	FinishStop    FinishReason = "stop"
	FinishLength  FinishReason = "length"
	FinishError   FinishReason = "error"
	FinishAborted FinishReason = "aborted"
)

// ImageRef is one image attached to a message. The wire format accepts
// either a bare URL string or an object {"title": ..., "image": ...};
// both decode into this type.
type ImageRef struct {
	Title string `json:"title,omitempty"`
	URL   string `json:"image"`
}

// UnmarshalJSON accepts both wire shapes for an image reference.
func (r *ImageRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var url string
		if err := json.Unmarshal(data, &url); err != nil {
			return fmt.Errorf("decoding image URL: %w", err)
		}
		*r = ImageRef{URL: url}
		return nil
	}

	var obj struct {
		Title *string `json:"title"`
		Image string  `json:"image"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("decoding image reference: %w", err)
	}
	r.URL = obj.Image
	if obj.Title != nil {
		r.Title = *obj.Title
	} else {
		r.Title = ""
	}
	return nil
}

// Message is one transcript entry. IDs are snowflake values, monotonically
// assigned at creation time and unique within the process.
type Message struct {
	ID   int64 `json:"id"`
	Role Role  `json:"role"`

	// Text accumulates during streaming and is fixed once Complete is true.
	Text string `json:"text"`

	// Images is replaced wholesale by images/final events, never merged.
	Images []ImageRef `json:"images,omitempty"`

	Complete     bool         `json:"complete"`
	FinishReason FinishReason `json:"finish_reason,omitempty"`

	// ProviderMessageID correlates user feedback with the provider-side
	// record. Set only on successful completion.
	ProviderMessageID string `json:"provider_message_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Session is a single logical conversation.
type Session struct {
	ID        uuid.UUID `json:"id"`
	OwnerID   string    `json:"owner_id,omitempty"` // empty for anonymous sessions
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
