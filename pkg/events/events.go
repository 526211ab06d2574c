package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/music-room-server/pkg/models"
)

type EventType string

const (
	EventTypeSongAdded   EventType = "song_added"
	EventTypeVoteUpdated EventType = "vote_updated"
)

// Event is the envelope for room announcements that originate from the
// store side (HTTP handlers) and must reach every socket in the room,
// whichever server instance holds it.
type Event struct {
	Type          EventType       `json:"type"`
	RoomCode      string          `json:"room_code"`
	ParticipantID string          `json:"participant_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Payload       json.RawMessage `json:"payload"`
}

type SongAddedPayload struct {
	Track models.Track `json:"track"`
}

type VoteUpdatedPayload struct {
	TrackID       string `json:"track_id"`
	Upvotes       int    `json:"upvotes"`
	ParticipantID string `json:"participant_id"`
	Active        bool   `json:"active"`
}

func NewEvent(eventType EventType, roomCode, participantID string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, errors.Wrap(err, "failed to marshal payload")
	}
	return Event{
		Type:          eventType,
		RoomCode:      roomCode,
		ParticipantID: participantID,
		Timestamp:     time.Now(),
		Payload:       data,
	}, nil
}

func (e Event) DecodePayload(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return errors.Wrapf(err, "failed to decode %s payload", e.Type)
	}
	return nil
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

type Handler func(ctx context.Context, event Event) error

// Loopback delivers events to a handler in-process. It is used when no
// Kafka brokers are configured and there is a single server instance.
type Loopback struct {
	handler Handler
}

func NewLoopback(handler Handler) *Loopback {
	return &Loopback{handler: handler}
}

func (l *Loopback) Publish(ctx context.Context, event Event) error {
	return l.handler(ctx, event)
}
