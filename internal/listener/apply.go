package listener

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/music-room-server/internal/playback"
	"github.com/music-room-server/internal/queue"
	"github.com/music-room-server/internal/ws"
)

// syncQueue merges a fetched queue into the player. Tracks already played
// or playing are not queued again.
func (s *Session) syncQueue(entries []queue.Entry) {
	played := s.playedIDs()
	for _, e := range entries {
		if played[e.Track.ID] {
			continue
		}
		s.player.Enqueue(e.Track, e.Upvotes, e.HasUpvoted)
		s.player.ApplyTally(e.Track.ID, e.Upvotes)
		s.player.SetHasUpvoted(e.Track.ID, e.HasUpvoted)
	}
	s.startIfIdle()
}

func (s *Session) playedIDs() map[uuid.UUID]bool {
	snap := s.player.Snapshot()
	played := make(map[uuid.UUID]bool, len(snap.History)+1)
	for _, e := range snap.History {
		played[e.Track.ID] = true
	}
	if snap.Current != nil {
		played[snap.Current.Track.ID] = true
	}
	return played
}

func (s *Session) apply(msg ws.Message) {
	switch m := msg.(type) {
	case ws.SongAdded:
		if s.playedIDs()[m.Track.ID] {
			return
		}
		s.player.Enqueue(m.Track, 0, false)
		s.startIfIdle()

	case ws.VoteUpdated:
		id, err := uuid.Parse(m.TrackID)
		if err != nil {
			zlog.Warn().Str("track", m.TrackID).Msg("vote for malformed track id")
			return
		}
		s.player.ApplyTally(id, m.Upvotes)
		s.mu.Lock()
		mine := m.ParticipantID == s.self
		s.mu.Unlock()
		if mine {
			s.player.SetHasUpvoted(id, m.Active)
		}

	case ws.UserJoined:
		s.mu.Lock()
		s.roster[m.Participant.ID] = m.Participant
		s.mu.Unlock()
		zlog.Info().Str("participant", m.Participant.DisplayName).Bool("host", m.IsHost).Msg("joined")

	case ws.UserLeft:
		s.mu.Lock()
		delete(s.roster, m.ParticipantID)
		s.mu.Unlock()
		zlog.Info().Str("participant", m.ParticipantID).Msg("left")

	case ws.RoomUpdated:
		ev := zlog.Info()
		if m.Room.Name != nil {
			ev = ev.Str("name", *m.Room.Name)
		}
		if m.Room.Active != nil {
			ev = ev.Bool("active", *m.Room.Active)
		}
		ev.Msg("room updated")

	case ws.ErrorReply:
		zlog.Warn().Str("error", m.Error).Msg("server rejected message")

	case ws.Pong:
	}
}

// tick advances the simulated media clock by step.
func (s *Session) tick(step time.Duration) {
	if s.player.State() != playback.StatePlaying {
		s.startIfIdle()
		return
	}

	current := s.player.Current()
	if current == nil {
		return
	}

	s.mu.Lock()
	if current.Track.ID != s.playing {
		s.playing = current.Track.ID
		s.position = 0
	}
	s.position += step
	position := s.position
	s.mu.Unlock()

	if s.player.Tick(position) {
		s.mu.Lock()
		s.playing = uuid.Nil
		s.position = 0
		s.mu.Unlock()
	}
}

func (s *Session) startIfIdle() {
	if s.player.State() != playback.StateIdle || len(s.player.Snapshot().Queue) == 0 {
		return
	}
	if err := s.player.Advance(); err != nil && !errors.Is(err, playback.ErrQueueEmpty) && !errors.Is(err, playback.ErrNotIdle) {
		zlog.Warn().Err(err).Msg("failed to start playback")
	}
}

func (s *Session) logPlayerEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.player.Events():
			log := zlog.Info().Str("event", ev.Type.String()).Str("state", ev.State.String())
			if ev.Entry != nil {
				log = log.Str("title", ev.Entry.Track.Title).Str("artist", ev.Entry.Track.Artist)
			}
			log.Msg("playback")
		}
	}
}
