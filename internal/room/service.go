package room

import (
	"context"
	"math/rand"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/music-room-server/internal/queue"
	"github.com/music-room-server/internal/resolver"
	"github.com/music-room-server/internal/vote"
	"github.com/music-room-server/pkg/database"
	"github.com/music-room-server/pkg/events"
	"github.com/music-room-server/pkg/models"
)

const (
	codeLength   = 6
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeAttempts = 5
)

var (
	ErrRoomNotFound       = errors.New("room not found")
	ErrRoomCodeTaken      = errors.New("room code already in use")
	ErrInvalidRoomCode    = errors.New("invalid room code")
	ErrInvalidParticipant = errors.New("invalid participant")
	ErrTrackNotFound      = errors.New("track not found")
	ErrQueueEmpty         = errors.New("no tracks in queue")
)

type Store interface {
	CreateRoom(ctx context.Context, room *models.Room) error
	GetRoomByCode(ctx context.Context, code string) (*models.Room, error)
	CreateTrack(ctx context.Context, track *models.Track) error
	GetTrack(ctx context.Context, id uuid.UUID) (*models.Track, error)
	ListActiveTracks(ctx context.Context, roomID uuid.UUID) ([]models.Track, error)
	DeactivateTrack(ctx context.Context, id uuid.UUID) error
	CountVotesFor(ctx context.Context, trackIDs []uuid.UUID) (map[uuid.UUID]int, error)
	VotedTracks(ctx context.Context, participantID uuid.UUID, trackIDs []uuid.UUID) (map[uuid.UUID]bool, error)
}

type Cache interface {
	GetRoom(ctx context.Context, code string) (*models.Room, error)
	SetRoom(ctx context.Context, room *models.Room) error
	ListenerCount(ctx context.Context, code string) (int64, error)
}

type Resolver interface {
	Resolve(ctx context.Context, rawURL string) (*resolver.Metadata, error)
}

type Voter interface {
	ApplyVote(ctx context.Context, participantID, trackID string, dir vote.Direction) (*vote.Result, error)
}

type Service struct {
	store    Store
	cache    Cache
	resolver Resolver
	votes    Voter
	events   events.Publisher
}

// NewService wires the room operations. cache may be nil.
func NewService(store Store, cache Cache, resolver Resolver, votes Voter, publisher events.Publisher) *Service {
	return &Service{
		store:    store,
		cache:    cache,
		resolver: resolver,
		votes:    votes,
		events:   publisher,
	}
}

// NormalizeCode upper-cases a room code and checks it against the alphabet.
func NormalizeCode(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != codeLength {
		return "", errors.Wrapf(ErrInvalidRoomCode, "%q", code)
	}
	for _, r := range code {
		if !strings.ContainsRune(codeAlphabet, r) {
			return "", errors.Wrapf(ErrInvalidRoomCode, "%q", code)
		}
	}
	return code, nil
}

func generateRoomCode() string {
	code := make([]byte, codeLength)
	for i := range code {
		code[i] = codeAlphabet[rand.Intn(len(codeAlphabet))]
	}
	return string(code)
}

// CreateRoom registers a room hosted by hostID. An empty code asks for a
// generated one.
func (s *Service) CreateRoom(ctx context.Context, hostID, name, code string) (*models.Room, error) {
	host, err := uuid.Parse(hostID)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "host %q", hostID), ErrInvalidParticipant)
	}

	generated := code == ""
	if !generated {
		if code, err = NormalizeCode(code); err != nil {
			return nil, err
		}
	}

	now := time.Now()
	room := &models.Room{
		ID:        uuid.New(),
		HostID:    host,
		Name:      name,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	for attempt := 0; attempt < codeAttempts; attempt++ {
		room.Code = code
		if generated {
			room.Code = generateRoomCode()
		}

		err = s.store.CreateRoom(ctx, room)
		if err == nil {
			break
		}
		if !errors.Is(err, database.ErrDuplicate) {
			return nil, errors.Wrap(err, "failed to create room")
		}
		if !generated {
			return nil, errors.Wrapf(ErrRoomCodeTaken, "%s", code)
		}
	}
	if err != nil {
		return nil, ErrRoomCodeTaken
	}

	s.cacheRoom(ctx, room)
	zlog.Info().Str("room", room.Code).Str("host", hostID).Msg("room created")
	return room, nil
}

// FindRoom looks a room up by code, cache first.
func (s *Service) FindRoom(ctx context.Context, code string) (*models.Room, error) {
	code, err := NormalizeCode(code)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		room, err := s.cache.GetRoom(ctx, code)
		if err == nil {
			return room, nil
		}
	}

	room, err := s.store.GetRoomByCode(ctx, code)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, errors.Wrapf(ErrRoomNotFound, "%s", code)
		}
		return nil, errors.Wrap(err, "failed to get room")
	}

	s.cacheRoom(ctx, room)
	return room, nil
}

func (s *Service) Listeners(ctx context.Context, code string) int64 {
	if s.cache == nil {
		return 0
	}
	n, err := s.cache.ListenerCount(ctx, code)
	if err != nil {
		zlog.Warn().Err(err).Str("room", code).Msg("failed to count listeners")
		return 0
	}
	return n
}

// AddTrack resolves a link, stores the track and announces it to the room.
func (s *Service) AddTrack(ctx context.Context, code, participantID, rawURL string) (*models.Track, error) {
	submitter, err := uuid.Parse(participantID)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "participant %q", participantID), ErrInvalidParticipant)
	}

	room, err := s.FindRoom(ctx, code)
	if err != nil {
		return nil, err
	}

	meta, err := s.resolver.Resolve(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	track := &models.Track{
		ID:           uuid.New(),
		RoomID:       room.ID,
		SubmittedBy:  submitter,
		Platform:     meta.Platform,
		ExternalID:   meta.ExternalID,
		URL:          meta.URL,
		Title:        meta.Title,
		Artist:       meta.Artist,
		Album:        meta.Album,
		ThumbnailURL: meta.ThumbnailURL,
		DurationMs:   meta.Duration.Milliseconds(),
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateTrack(ctx, track); err != nil {
		return nil, errors.Wrap(err, "failed to store track")
	}

	s.announce(ctx, events.EventTypeSongAdded, room.Code, participantID, events.SongAddedPayload{Track: *track})
	return track, nil
}

// Queue returns the room's pending tracks ranked, with the viewer's own
// votes marked.
func (s *Service) Queue(ctx context.Context, code, viewerID string) ([]queue.Entry, error) {
	room, err := s.FindRoom(ctx, code)
	if err != nil {
		return nil, err
	}

	tracks, err := s.store.ListActiveTracks(ctx, room.ID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list tracks")
	}

	ids := make([]uuid.UUID, len(tracks))
	for i, t := range tracks {
		ids[i] = t.ID
	}

	counts, err := s.store.CountVotesFor(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count votes")
	}

	voted := map[uuid.UUID]bool{}
	if viewer, err := uuid.Parse(viewerID); err == nil {
		if voted, err = s.store.VotedTracks(ctx, viewer, ids); err != nil {
			return nil, errors.Wrap(err, "failed to read viewer votes")
		}
	}

	entries := make([]queue.Entry, len(tracks))
	for i, t := range tracks {
		entries[i] = queue.Entry{
			Seq:        t.Seq,
			Track:      t,
			Upvotes:    counts[t.ID],
			HasUpvoted: voted[t.ID],
		}
	}
	return queue.Rank(entries), nil
}

// TrackFilter narrows Tracks. Empty fields match everything.
type TrackFilter struct {
	SubmittedBy string
	Platform    models.Platform
	ExternalID  string
}

func (f TrackFilter) match(t models.Track) bool {
	if f.SubmittedBy != "" && t.SubmittedBy.String() != f.SubmittedBy {
		return false
	}
	if f.Platform != "" && t.Platform != f.Platform {
		return false
	}
	if f.ExternalID != "" && t.ExternalID != f.ExternalID {
		return false
	}
	return true
}

// Tracks returns the room's pending tracks matching filter, ranked, with
// tallies and the viewer's vote flags.
func (s *Service) Tracks(ctx context.Context, code, viewerID string, filter TrackFilter) ([]queue.Entry, error) {
	entries, err := s.Queue(ctx, code, viewerID)
	if err != nil {
		return nil, err
	}
	out := entries[:0]
	for _, e := range entries {
		if filter.match(e.Track) {
			out = append(out, e)
		}
	}
	return out, nil
}

// MarkPlayed removes a track from the room's pending queue once it has
// been played.
func (s *Service) MarkPlayed(ctx context.Context, code, trackID string) error {
	room, err := s.FindRoom(ctx, code)
	if err != nil {
		return err
	}
	track, err := s.roomTrack(ctx, room, trackID)
	if err != nil {
		return err
	}
	if err := s.store.DeactivateTrack(ctx, track.ID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return errors.Wrapf(ErrTrackNotFound, "%s already played", trackID)
		}
		return errors.Wrap(err, "failed to mark track played")
	}
	zlog.Info().Str("room", room.Code).Str("track", track.Title).Msg("track played")
	return nil
}

// Next returns the entry that would play next.
func (s *Service) Next(ctx context.Context, code, viewerID string) (*queue.Entry, error) {
	entries, err := s.Queue(ctx, code, viewerID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrQueueEmpty
	}
	return &entries[0], nil
}

// Vote applies an upvote or retraction on a track of this room and
// announces the resulting tally.
func (s *Service) Vote(ctx context.Context, code, participantID, trackID string, dir vote.Direction) (*vote.Result, error) {
	room, err := s.FindRoom(ctx, code)
	if err != nil {
		return nil, err
	}

	if _, err := s.roomTrack(ctx, room, trackID); err != nil {
		return nil, err
	}

	result, err := s.votes.ApplyVote(ctx, participantID, trackID, dir)
	if err != nil {
		return nil, err
	}

	s.announce(ctx, events.EventTypeVoteUpdated, room.Code, participantID, events.VoteUpdatedPayload{
		TrackID:       result.TrackID.String(),
		Upvotes:       result.Tally,
		ParticipantID: participantID,
		Active:        result.HasVoted,
	})
	return result, nil
}

func (s *Service) roomTrack(ctx context.Context, room *models.Room, trackID string) (*models.Track, error) {
	tid, err := uuid.Parse(trackID)
	if err != nil {
		return nil, errors.Wrapf(ErrTrackNotFound, "%q", trackID)
	}
	track, err := s.store.GetTrack(ctx, tid)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, errors.Wrapf(ErrTrackNotFound, "%s", trackID)
		}
		return nil, errors.Wrap(err, "failed to get track")
	}
	if track.RoomID != room.ID {
		return nil, errors.Wrapf(ErrTrackNotFound, "%s not in room %s", trackID, room.Code)
	}
	return track, nil
}

// announce publishes after the store write succeeded. A failed publish is
// logged; clients catch up on their next queue fetch.
func (s *Service) announce(ctx context.Context, t events.EventType, code, participantID string, payload any) {
	event, err := events.NewEvent(t, code, participantID, payload)
	if err != nil {
		zlog.Error().Err(err).Str("type", string(t)).Msg("failed to build event")
		return
	}
	if err := s.events.Publish(ctx, event); err != nil {
		zlog.Warn().Err(err).Str("type", string(t)).Str("room", code).Msg("failed to publish event")
	}
}

func (s *Service) cacheRoom(ctx context.Context, room *models.Room) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetRoom(ctx, room); err != nil {
		zlog.Warn().Err(err).Str("room", room.Code).Msg("failed to cache room")
	}
}
