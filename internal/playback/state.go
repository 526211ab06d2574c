// Package playback drives a single client's current track through the
// room queue. Time only enters through position ticks from the media player.
package playback

// State represents the playback state.
type State int

const (
	StateIdle    State = iota // Nothing current
	StatePlaying              // Current track advancing
	StatePaused               // Current track frozen
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}
