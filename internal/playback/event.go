package playback

import "github.com/music-room-server/internal/queue"

type EventType int

const (
	EventTrackStarted EventType = iota
	EventTrackEnded
	EventTrackSkipped
	EventStateChanged
	EventQueueEmpty
)

func (e EventType) String() string {
	switch e {
	case EventTrackStarted:
		return "track_started"
	case EventTrackEnded:
		return "track_ended"
	case EventTrackSkipped:
		return "track_skipped"
	case EventStateChanged:
		return "state_changed"
	case EventQueueEmpty:
		return "queue_empty"
	default:
		return "unknown"
	}
}

type Event struct {
	Type  EventType
	Entry *queue.Entry // nil for EventQueueEmpty
	State State
}
