package ws

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/music-room-server/pkg/events"
	"github.com/music-room-server/pkg/models"
)

var (
	ErrUnknownConnection = errors.New("unknown connection")
	ErrNotInRoom         = errors.New("connection is not in that room")
)

type ParticipantLookup interface {
	GetParticipant(ctx context.Context, id string) (*models.Participant, error)
}

// PresenceRecorder mirrors room membership somewhere shared, such as Redis.
type PresenceRecorder interface {
	AddPresence(ctx context.Context, roomCode, participantID string) error
	RemovePresence(ctx context.Context, roomCode, participantID string) error
}

const joinLockStripes = 64

// Broadcaster turns joins, leaves and room edits into presence events for
// the other members of a room.
type Broadcaster struct {
	registry     *Registry
	participants ParticipantLookup
	presence     PresenceRecorder

	// Joins and leaves in one room are serialised so a joiner always
	// receives the roster before any later arrival.
	roomLocks [joinLockStripes]sync.Mutex
}

// NewBroadcaster builds a broadcaster. presence may be nil.
func NewBroadcaster(registry *Registry, participants ParticipantLookup, presence PresenceRecorder) *Broadcaster {
	return &Broadcaster{
		registry:     registry,
		participants: participants,
		presence:     presence,
	}
}

func (b *Broadcaster) roomLock(roomCode string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(roomCode))
	return &b.roomLocks[h.Sum32()%joinLockStripes]
}

// OnJoin attaches the connection to the room, greets the joiner with its
// own identity and the current roster, then tells everyone else. If the
// participant cannot be resolved nothing is attached or sent.
func (b *Broadcaster) OnJoin(ctx context.Context, connID, roomCode, participantID string, isHost bool) error {
	self, err := b.participants.GetParticipant(ctx, participantID)
	if err != nil {
		return errors.Wrapf(err, "failed to resolve participant %s", participantID)
	}

	prev, ok := b.registry.Get(connID)
	if !ok {
		return ErrUnknownConnection
	}
	// Presence is counted per connection, so a repeated join of the same
	// room on the same socket must not count twice.
	rejoin := prev.RoomCode == roomCode && prev.ParticipantID == participantID
	if prev.RoomCode != "" && !rejoin {
		b.OnLeave(ctx, connID)
	}

	lock := b.roomLock(roomCode)
	lock.Lock()
	defer lock.Unlock()

	if !b.registry.Attach(connID, participantID, roomCode, isHost) {
		return ErrUnknownConnection
	}

	b.send(prev.Sender, UserJoined{Participant: *self, IsHost: isHost})

	peers := b.registry.ConnectionsInRoom(roomCode)
	seen := map[string]bool{participantID: true}
	for _, peer := range peers {
		if peer.ID == connID || peer.ParticipantID == "" || seen[peer.ParticipantID] {
			continue
		}
		seen[peer.ParticipantID] = true

		p, err := b.participants.GetParticipant(ctx, peer.ParticipantID)
		if err != nil {
			zlog.Warn().Err(err).Str("room", roomCode).Str("participant", peer.ParticipantID).Msg("skipping roster entry")
			continue
		}
		b.send(prev.Sender, UserJoined{Participant: *p, IsHost: peer.IsHost})
	}

	b.fanOut(peers, UserJoined{Participant: *self, IsHost: isHost}, connID)

	if b.presence != nil && !rejoin {
		if err := b.presence.AddPresence(ctx, roomCode, participantID); err != nil {
			zlog.Warn().Err(err).Str("room", roomCode).Msg("failed to record presence")
		}
	}

	zlog.Info().Str("room", roomCode).Str("participant", participantID).Int("peers", len(peers)-1).Msg("participant joined")
	return nil
}

// OnRoomUpdate relays the changed room fields to every other member. Only
// a connection attached to roomCode may update it.
func (b *Broadcaster) OnRoomUpdate(connID, roomCode string, patch RoomPatch) error {
	conn, ok := b.registry.Get(connID)
	if !ok {
		return ErrUnknownConnection
	}
	if conn.RoomCode == "" || conn.RoomCode != roomCode {
		return errors.Wrapf(ErrNotInRoom, "%s", roomCode)
	}
	b.Broadcast(conn.RoomCode, RoomUpdated{Room: patch}, connID)
	return nil
}

// OnLeave detaches the connection from its room but keeps the socket.
func (b *Broadcaster) OnLeave(ctx context.Context, connID string) {
	conn, ok := b.registry.Get(connID)
	if !ok || conn.RoomCode == "" {
		return
	}
	b.registry.Attach(connID, "", "", false)
	b.announceLeft(ctx, conn.RoomCode, conn.ParticipantID)
}

// OnDisconnect removes the connection and tells the room the participant
// left, unless another of their connections is still attached there.
func (b *Broadcaster) OnDisconnect(ctx context.Context, connID string) {
	participantID, roomCode, ok := b.registry.Detach(connID)
	if !ok || participantID == "" || roomCode == "" {
		return
	}
	b.announceLeft(ctx, roomCode, participantID)
}

func (b *Broadcaster) announceLeft(ctx context.Context, roomCode, participantID string) {
	lock := b.roomLock(roomCode)
	lock.Lock()
	defer lock.Unlock()

	if b.presence != nil {
		if err := b.presence.RemovePresence(ctx, roomCode, participantID); err != nil {
			zlog.Warn().Err(err).Str("room", roomCode).Msg("failed to release presence")
		}
	}

	remaining := b.registry.ConnectionsInRoom(roomCode)
	for _, c := range remaining {
		if c.ParticipantID == participantID {
			return
		}
	}

	b.fanOut(remaining, UserLeft{ParticipantID: participantID}, "")
	zlog.Info().Str("room", roomCode).Str("participant", participantID).Msg("participant left")
}

// Broadcast sends msg to every connection in the room except excludeConnID.
func (b *Broadcaster) Broadcast(roomCode string, msg Message, excludeConnID string) {
	b.fanOut(b.registry.ConnectionsInRoom(roomCode), msg, excludeConnID)
}

// SendTo delivers msg to a single connection.
func (b *Broadcaster) SendTo(connID string, msg Message) error {
	conn, ok := b.registry.Get(connID)
	if !ok {
		return ErrUnknownConnection
	}
	data, err := Encode(msg)
	if err != nil {
		return err
	}
	return conn.Sender.Send(data)
}

// HandleEvent relays a store-side announcement to the room's sockets.
func (b *Broadcaster) HandleEvent(_ context.Context, event events.Event) error {
	var msg Message
	switch event.Type {
	case events.EventTypeSongAdded:
		var p events.SongAddedPayload
		if err := event.DecodePayload(&p); err != nil {
			return err
		}
		msg = SongAdded{Track: p.Track}
	case events.EventTypeVoteUpdated:
		var p events.VoteUpdatedPayload
		if err := event.DecodePayload(&p); err != nil {
			return err
		}
		msg = VoteUpdated{
			TrackID:       p.TrackID,
			Upvotes:       p.Upvotes,
			ParticipantID: p.ParticipantID,
			Active:        p.Active,
		}
	default:
		zlog.Debug().Str("type", string(event.Type)).Msg("ignoring event")
		return nil
	}

	b.Broadcast(event.RoomCode, msg, "")
	return nil
}

func (b *Broadcaster) send(s Sender, msg Message) {
	data, err := Encode(msg)
	if err != nil {
		zlog.Error().Err(err).Msg("failed to encode message")
		return
	}
	if err := s.Send(data); err != nil {
		zlog.Warn().Err(err).Str("type", string(msg.Kind())).Msg("send failed")
	}
}

func (b *Broadcaster) fanOut(conns []Connection, msg Message, excludeConnID string) {
	data, err := Encode(msg)
	if err != nil {
		zlog.Error().Err(err).Msg("failed to encode message")
		return
	}
	for _, c := range conns {
		if c.ID == excludeConnID {
			continue
		}
		if err := c.Sender.Send(data); err != nil {
			zlog.Warn().Err(err).Str("conn", c.ID).Str("type", string(msg.Kind())).Msg("send failed")
		}
	}
}
