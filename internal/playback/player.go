package playback

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/music-room-server/internal/queue"
	"github.com/music-room-server/pkg/models"
)

var (
	ErrNoTrack    = errors.New("no track playing")
	ErrQueueEmpty = errors.New("queue is empty")
	ErrNotIdle    = errors.New("playback already started")
	ErrNotPlaying = errors.New("not playing")
	ErrNotPaused  = errors.New("not paused")
	ErrNoHistory  = errors.New("no previous track")
)

// Snapshot is a copy of the player's state at one instant.
type Snapshot struct {
	State   State
	Current *queue.Entry
	Elapsed time.Duration
	Queue   []queue.Entry // ranked
	History []queue.Entry // most recent first
}

// Player owns the queue, the current entry and the play history of one
// listening client.
type Player struct {
	mu sync.RWMutex

	queue   *queue.Queue
	history []queue.Entry // most recent last
	current *queue.Entry
	state   State
	elapsed time.Duration

	eventCh chan Event
}

func NewPlayer() *Player {
	return &Player{
		queue:   queue.New(),
		state:   StateIdle,
		eventCh: make(chan Event, 16),
	}
}

// Events returns the event channel. Events are dropped when nobody reads.
func (p *Player) Events() <-chan Event {
	return p.eventCh
}

func (p *Player) Enqueue(track models.Track, upvotes int, hasUpvoted bool) queue.Entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queue.Push(track, upvotes, hasUpvoted)
}

func (p *Player) Remove(trackID uuid.UUID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.queue.Remove(trackID)
	return ok
}

// ApplyTally sets an authoritative upvote count on a queued or current
// track. History entries are never updated.
func (p *Player) ApplyTally(trackID uuid.UUID, upvotes int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current != nil && p.current.Track.ID == trackID {
		p.current.Upvotes = max(upvotes, 0)
		return true
	}
	return p.queue.SetTally(trackID, upvotes)
}

func (p *Player) SetHasUpvoted(trackID uuid.UUID, voted bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current != nil && p.current.Track.ID == trackID {
		p.current.HasUpvoted = voted
		return true
	}
	return p.queue.SetHasUpvoted(trackID, voted)
}

// Advance starts the top ranked entry from Idle.
func (p *Player) Advance() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateIdle {
		return ErrNotIdle
	}
	return p.advanceLocked()
}

// Tick reports the media position of the current track. It returns true
// when the position completed the track and playback moved on.
func (p *Player) Tick(position time.Duration) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StatePlaying {
		return false
	}

	p.elapsed = position
	duration := p.current.Track.Duration()
	if duration <= 0 || p.elapsed < duration {
		return false
	}

	ended := *p.current
	p.emit(EventTrackEnded, &ended)
	p.pushHistoryLocked()
	if err := p.advanceLocked(); err != nil {
		zlog.Debug().Str("track", ended.Track.Title).Msg("queue drained after track ended")
	}
	return true
}

func (p *Player) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current == nil {
		return ErrNoTrack
	}
	if p.state != StatePlaying {
		return ErrNotPlaying
	}
	p.state = StatePaused
	p.emit(EventStateChanged, p.currentCopy())
	return nil
}

func (p *Player) Resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current == nil {
		return ErrNoTrack
	}
	if p.state != StatePaused {
		return ErrNotPaused
	}
	p.state = StatePlaying
	p.emit(EventStateChanged, p.currentCopy())
	return nil
}

func (p *Player) TogglePause() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case StatePlaying:
		p.state = StatePaused
	case StatePaused:
		p.state = StatePlaying
	default:
		return ErrNoTrack
	}
	p.emit(EventStateChanged, p.currentCopy())
	return nil
}

// SkipForward ends the current track early. The skipped track goes to
// history like a completed one.
func (p *Player) SkipForward() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current == nil {
		return ErrNoTrack
	}

	skipped := *p.current
	p.emit(EventTrackSkipped, &skipped)
	p.pushHistoryLocked()
	if err := p.advanceLocked(); err != nil {
		zlog.Debug().Msg("queue drained after skip")
	}
	return nil
}

// SkipBackward returns to the most recent history entry and puts the
// current track back in the queue. With empty history nothing changes.
func (p *Player) SkipBackward() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current == nil {
		return ErrNoTrack
	}
	if len(p.history) == 0 {
		return ErrNoHistory
	}

	p.queue.Reinsert(*p.current)

	last := len(p.history) - 1
	prev := p.history[last]
	p.history = p.history[:last]

	p.current = &prev
	p.elapsed = 0
	p.state = StatePlaying
	p.emit(EventTrackStarted, p.currentCopy())
	return nil
}

func (p *Player) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

func (p *Player) Current() *queue.Entry {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.currentCopy()
}

func (p *Player) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	history := make([]queue.Entry, len(p.history))
	for i, e := range p.history {
		history[len(p.history)-1-i] = e
	}

	return Snapshot{
		State:   p.state,
		Current: p.currentCopy(),
		Elapsed: p.elapsed,
		Queue:   p.queue.Ranked(),
		History: history,
	}
}

func (p *Player) advanceLocked() error {
	next, ok := p.queue.Top()
	if !ok {
		p.current = nil
		p.elapsed = 0
		p.state = StateIdle
		p.emit(EventQueueEmpty, nil)
		return ErrQueueEmpty
	}

	p.current = &next
	p.elapsed = 0
	p.state = StatePlaying
	p.emit(EventTrackStarted, p.currentCopy())
	return nil
}

func (p *Player) pushHistoryLocked() {
	p.history = append(p.history, *p.current)
	p.current = nil
}

func (p *Player) currentCopy() *queue.Entry {
	if p.current == nil {
		return nil
	}
	e := *p.current
	return &e
}

func (p *Player) emit(t EventType, entry *queue.Entry) {
	select {
	case p.eventCh <- Event{Type: t, Entry: entry, State: p.state}:
	default:
		zlog.Debug().Str("event", t.String()).Msg("playback event dropped")
	}
}
