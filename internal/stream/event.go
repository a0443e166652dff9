// Package stream consumes a completion provider's event stream and applies
// it to the trailing assistant message of a session transcript.
//
// The wire format is newline-delimited "data: <json>" records. Two payload
// generations are in play: typed records carrying a "type" discriminator
// ({images, chunk, final}) and the legacy bare-key shape ({"chunk": ...},
// {"final": ...}). Both are normalized into the Event union here before the
// reducer sees them, so protocol compatibility never leaks into reducer
// logic.
package stream

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/uchat-ai/uchat/internal/transcript"
)

// Kind discriminates the canonical event variants.
type Kind int

// Canonical event kinds.
const (
	KindImages Kind = iota
	KindChunk
	KindFinal
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindImages:
		return "images"
	case KindChunk:
		return "chunk"
	case KindFinal:
		return "final"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Sentinel errors for event normalization.
var (
	// ErrUnknownEvent indicates a record that parsed as JSON but matches
	// no accepted shape. Such records are skipped, never fatal.
	ErrUnknownEvent = errors.New("unknown event shape")
)

// Event is the canonical, normalized form of one stream record.
type Event struct {
	Kind Kind

	// Text is the incremental fragment for chunk events, or the
	// authoritative complete text of the turn for final events.
	Text string

	// Images carries the image list for images events and for final
	// events that include one. HasImages distinguishes "empty list" from
	// "omitted": a final event without an image list leaves any earlier
	// images event's value standing.
	Images    []transcript.ImageRef
	HasImages bool

	// FinishReason and ProviderMessageID are set on final events only.
	FinishReason      transcript.FinishReason
	ProviderMessageID string
}

// wireEvent is the superset of all accepted payload shapes.
type wireEvent struct {
	// Typed shape
	Type         string          `json:"type"`
	Data         json.RawMessage `json:"data"`
	Images       json.RawMessage `json:"images"`
	FinishReason string          `json:"finish_reason"`
	MessageID    string          `json:"message_id"`

	// Legacy shape (no discriminator)
	Chunk    *string         `json:"chunk"`
	Final    *string         `json:"final"`
	ImageURL json.RawMessage `json:"image_url"`
}

// Normalize decodes one data: payload into the canonical Event union.
// It accepts both the typed and the legacy shape indefinitely; multiple
// producer versions stay in play.
func Normalize(payload []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(payload, &w); err != nil {
		return Event{}, fmt.Errorf("decoding event: %w", err)
	}

	switch w.Type {
	case "images":
		images, ok, err := decodeImages(w.Data)
		if err != nil {
			return Event{}, err
		}
		if !ok {
			images = nil
		}
		return Event{Kind: KindImages, Images: images, HasImages: true}, nil

	case "chunk":
		var text string
		if err := json.Unmarshal(w.Data, &text); err != nil {
			return Event{}, fmt.Errorf("decoding chunk text: %w", err)
		}
		return Event{Kind: KindChunk, Text: text}, nil

	case "final":
		var text string
		if len(w.Data) > 0 {
			if err := json.Unmarshal(w.Data, &text); err != nil {
				return Event{}, fmt.Errorf("decoding final text: %w", err)
			}
		}
		images, hasImages, err := decodeImages(w.Images)
		if err != nil {
			return Event{}, err
		}
		return Event{
			Kind:              KindFinal,
			Text:              text,
			Images:            images,
			HasImages:         hasImages,
			FinishReason:      finishReason(w.FinishReason),
			ProviderMessageID: w.MessageID,
		}, nil

	case "":
		// Legacy records carry no discriminator.
		if w.Chunk != nil {
			return Event{Kind: KindChunk, Text: *w.Chunk}, nil
		}
		if w.Final != nil {
			images, hasImages, err := decodeImages(w.ImageURL)
			if err != nil {
				return Event{}, err
			}
			return Event{
				Kind:              KindFinal,
				Text:              *w.Final,
				Images:            images,
				HasImages:         hasImages,
				FinishReason:      finishReason(w.FinishReason),
				ProviderMessageID: w.MessageID,
			}, nil
		}
		return Event{}, ErrUnknownEvent

	default:
		return Event{}, fmt.Errorf("%w: type %q", ErrUnknownEvent, w.Type)
	}
}

// decodeImages decodes an image list, reporting whether the field was
// present at all. A JSON null counts as absent.
func decodeImages(raw json.RawMessage) ([]transcript.ImageRef, bool, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, false, nil
	}
	var images []transcript.ImageRef
	if err := json.Unmarshal(raw, &images); err != nil {
		return nil, false, fmt.Errorf("decoding image list: %w", err)
	}
	return images, true, nil
}

// finishReason maps the wire value onto the transcript enum. An absent
// finish_reason on a final event means a normal stop: the oldest producer
// version only ever terminated streams that ran to completion.
func finishReason(s string) transcript.FinishReason {
	if s == "" {
		return transcript.FinishStop
	}
	return transcript.FinishReason(s)
}
