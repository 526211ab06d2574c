package ws

import (
	"context"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/music-room-server/pkg/events"
	"github.com/music-room-server/pkg/models"
)

type fakeSender struct {
	mu     sync.Mutex
	frames []Message
	fail   bool
	closed bool
}

func (s *fakeSender) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return ErrBackpressure
	}
	msg, err := Decode(data)
	if err != nil {
		return err
	}
	s.frames = append(s.frames, msg)
	return nil
}

func (s *fakeSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSender) messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.frames...)
}

type fakeParticipants struct {
	mu     sync.Mutex
	people map[string]*models.Participant
}

func newFakeParticipants(ids ...string) *fakeParticipants {
	f := &fakeParticipants{people: map[string]*models.Participant{}}
	for _, id := range ids {
		f.people[id] = &models.Participant{ID: id, DisplayName: "name-" + id}
	}
	return f
}

func (f *fakeParticipants) GetParticipant(_ context.Context, id string) (*models.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.people[id]; ok {
		return p, nil
	}
	return nil, errors.Newf("participant %s not found", id)
}

type fakePresence struct {
	mu     sync.Mutex
	counts map[string]int
}

func (p *fakePresence) AddPresence(_ context.Context, room, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counts[room+"/"+id]++
	return nil
}

func (p *fakePresence) RemovePresence(_ context.Context, room, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counts[room+"/"+id]--
	return nil
}

type harness struct {
	registry    *Registry
	broadcaster *Broadcaster
	presence    *fakePresence
}

func newHarness(ids ...string) *harness {
	registry := NewRegistry()
	presence := &fakePresence{counts: map[string]int{}}
	return &harness{
		registry:    registry,
		broadcaster: NewBroadcaster(registry, newFakeParticipants(ids...), presence),
		presence:    presence,
	}
}

func (h *harness) join(t *testing.T, participantID, room string, isHost bool) (string, *fakeSender) {
	t.Helper()
	s := &fakeSender{}
	id := h.registry.Register(s)
	require.NoError(t, h.broadcaster.OnJoin(context.Background(), id, room, participantID, isHost))
	return id, s
}

func joinedIDs(msgs []Message) []string {
	var ids []string
	for _, m := range msgs {
		if j, ok := m.(UserJoined); ok {
			ids = append(ids, j.Participant.ID)
		}
	}
	return ids
}

func TestOnJoin_EmptyRoom(t *testing.T) {
	h := newHarness("p")
	_, s := h.join(t, "p", "ROOM01", true)

	msgs := s.messages()
	require.Len(t, msgs, 1)
	self := msgs[0].(UserJoined)
	assert.Equal(t, "p", self.Participant.ID)
	assert.Equal(t, "name-p", self.Participant.DisplayName)
	assert.True(t, self.IsHost)
	assert.Equal(t, 1, h.presence.counts["ROOM01/p"])
}

func TestOnJoin_RosterThenBroadcast(t *testing.T) {
	h := newHarness("a", "b", "c", "d")
	_, sa := h.join(t, "a", "ROOM01", true)
	_, sb := h.join(t, "b", "ROOM01", false)
	_, sc := h.join(t, "c", "ROOM01", false)

	msgs := sc.messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "c", msgs[0].(UserJoined).Participant.ID)
	assert.ElementsMatch(t, []string{"a", "b"}, joinedIDs(msgs[1:]))
	for _, m := range msgs[1:] {
		j := m.(UserJoined)
		assert.Equal(t, j.Participant.ID == "a", j.IsHost)
	}

	// Existing members saw c arrive; c never receives its own broadcast.
	assert.Equal(t, []string{"a", "b", "c"}, joinedIDs(sa.messages()))
	assert.Equal(t, []string{"b", "a", "c"}, joinedIDs(sb.messages()))

	_, _ = h.join(t, "d", "ROOM01", false)
	msgs = sc.messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, "d", msgs[3].(UserJoined).Participant.ID)
}

func TestOnJoin_RoomsAreIsolated(t *testing.T) {
	h := newHarness("a", "b")
	_, sa := h.join(t, "a", "ROOM01", false)
	_, sb := h.join(t, "b", "ROOM02", false)

	assert.Len(t, sa.messages(), 1)
	assert.Len(t, sb.messages(), 1)
}

func TestOnJoin_UnknownParticipantAborts(t *testing.T) {
	h := newHarness("a")
	_, sa := h.join(t, "a", "ROOM01", false)

	s := &fakeSender{}
	id := h.registry.Register(s)
	err := h.broadcaster.OnJoin(context.Background(), id, "ROOM01", "ghost", false)
	require.Error(t, err)

	assert.Empty(t, s.messages())
	assert.Len(t, sa.messages(), 1)
	conn, ok := h.registry.Get(id)
	require.True(t, ok)
	assert.Empty(t, conn.RoomCode)
	assert.Len(t, h.registry.ConnectionsInRoom("ROOM01"), 1)
}

func TestOnJoin_UnknownConnection(t *testing.T) {
	h := newHarness("a")
	err := h.broadcaster.OnJoin(context.Background(), "missing", "ROOM01", "a", false)
	assert.True(t, errors.Is(err, ErrUnknownConnection))
}

func TestOnJoin_RosterSkipsDuplicateConnections(t *testing.T) {
	h := newHarness("a", "b")
	h.join(t, "a", "ROOM01", false)
	h.join(t, "a", "ROOM01", false)

	_, sb := h.join(t, "b", "ROOM01", false)
	msgs := sb.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, []string{"b", "a"}, joinedIDs(msgs))
}

func TestOnJoin_FailingPeerDoesNotStopOthers(t *testing.T) {
	h := newHarness("a", "b", "c")
	_, sa := h.join(t, "a", "ROOM01", false)
	_, sb := h.join(t, "b", "ROOM01", false)
	sa.mu.Lock()
	sa.fail = true
	sa.mu.Unlock()

	_, sc := h.join(t, "c", "ROOM01", false)
	assert.Contains(t, joinedIDs(sb.messages()), "c")
	assert.Len(t, sc.messages(), 3)
}

func TestOnJoin_SwitchRoomLeavesPrevious(t *testing.T) {
	h := newHarness("a", "b")
	idA, _ := h.join(t, "a", "ROOM01", false)
	_, sb := h.join(t, "b", "ROOM01", false)

	require.NoError(t, h.broadcaster.OnJoin(context.Background(), idA, "ROOM02", "a", false))

	msgs := sb.messages()
	require.NotEmpty(t, msgs)
	left, ok := msgs[len(msgs)-1].(UserLeft)
	require.True(t, ok)
	assert.Equal(t, "a", left.ParticipantID)
	assert.Len(t, h.registry.ConnectionsInRoom("ROOM02"), 1)
}

func TestOnDisconnect(t *testing.T) {
	h := newHarness("a", "b")
	idA, _ := h.join(t, "a", "ROOM01", false)
	_, sb := h.join(t, "b", "ROOM01", false)

	h.broadcaster.OnDisconnect(context.Background(), idA)

	msgs := sb.messages()
	left, ok := msgs[len(msgs)-1].(UserLeft)
	require.True(t, ok)
	assert.Equal(t, "a", left.ParticipantID)
	assert.Equal(t, 0, h.presence.counts["ROOM01/a"])

	// Second disconnect of the same id is a no-op.
	before := len(sb.messages())
	h.broadcaster.OnDisconnect(context.Background(), idA)
	assert.Len(t, sb.messages(), before)
}

func TestOnDisconnect_UnattachedIsSilent(t *testing.T) {
	h := newHarness("a")
	_, sa := h.join(t, "a", "ROOM01", false)

	id := h.registry.Register(&fakeSender{})
	h.broadcaster.OnDisconnect(context.Background(), id)
	assert.Len(t, sa.messages(), 1)
	_, ok := h.registry.Get(id)
	assert.False(t, ok)
}

func TestOnDisconnect_OtherConnectionKeepsPresence(t *testing.T) {
	h := newHarness("a", "b")
	first, _ := h.join(t, "a", "ROOM01", false)
	h.join(t, "a", "ROOM01", false)
	_, sb := h.join(t, "b", "ROOM01", false)

	before := len(sb.messages())
	h.broadcaster.OnDisconnect(context.Background(), first)
	assert.Len(t, sb.messages(), before)
}

func TestOnLeave(t *testing.T) {
	h := newHarness("a", "b")
	idA, sa := h.join(t, "a", "ROOM01", false)
	_, sb := h.join(t, "b", "ROOM01", false)

	h.broadcaster.OnLeave(context.Background(), idA)

	_, ok := sb.messages()[len(sb.messages())-1].(UserLeft)
	assert.True(t, ok)
	conn, ok := h.registry.Get(idA)
	require.True(t, ok)
	assert.Empty(t, conn.RoomCode)

	before := len(sa.messages())
	h.broadcaster.Broadcast("ROOM01", Pong{}, "")
	assert.Len(t, sa.messages(), before)
}

func TestOnRoomUpdate_ExcludesOriginator(t *testing.T) {
	h := newHarness("a", "b", "c")
	idA, sa := h.join(t, "a", "ROOM01", true)
	_, sb := h.join(t, "b", "ROOM01", false)
	_, sc := h.join(t, "c", "ROOM02", false)

	name := "Late night"
	beforeA, beforeC := len(sa.messages()), len(sc.messages())
	require.NoError(t, h.broadcaster.OnRoomUpdate(idA, "ROOM01", RoomPatch{Name: &name}))

	assert.Len(t, sa.messages(), beforeA)
	assert.Len(t, sc.messages(), beforeC)
	update, ok := sb.messages()[len(sb.messages())-1].(RoomUpdated)
	require.True(t, ok)
	assert.Equal(t, "Late night", *update.Room.Name)
	assert.Nil(t, update.Room.Active)
}

func TestOnRoomUpdate_RequiresMembership(t *testing.T) {
	h := newHarness("a", "b")
	idA, _ := h.join(t, "a", "ROOM01", true)
	_, sb := h.join(t, "b", "ROOM02", false)
	loose := h.registry.Register(&fakeSender{})

	name := "Hijack"
	before := len(sb.messages())
	err := h.broadcaster.OnRoomUpdate(idA, "ROOM02", RoomPatch{Name: &name})
	assert.True(t, errors.Is(err, ErrNotInRoom))
	err = h.broadcaster.OnRoomUpdate(loose, "ROOM02", RoomPatch{Name: &name})
	assert.True(t, errors.Is(err, ErrNotInRoom))
	err = h.broadcaster.OnRoomUpdate("missing", "ROOM02", RoomPatch{Name: &name})
	assert.True(t, errors.Is(err, ErrUnknownConnection))
	assert.Len(t, sb.messages(), before)
}

func TestOnJoin_SameRoomRejoinCountsOnce(t *testing.T) {
	h := newHarness("a", "b")
	idA, _ := h.join(t, "a", "ROOM01", false)
	_, sb := h.join(t, "b", "ROOM01", false)

	require.NoError(t, h.broadcaster.OnJoin(context.Background(), idA, "ROOM01", "a", false))
	assert.Equal(t, 1, h.presence.counts["ROOM01/a"])
	for _, m := range sb.messages() {
		_, left := m.(UserLeft)
		assert.False(t, left, "a rejoin is not a leave")
	}

	h.broadcaster.OnDisconnect(context.Background(), idA)
	assert.Equal(t, 0, h.presence.counts["ROOM01/a"])
}

func TestHandleEvent(t *testing.T) {
	h := newHarness("a")
	_, sa := h.join(t, "a", "ROOM01", false)
	ctx := context.Background()

	track := models.Track{ID: uuid.New(), Title: "Song"}
	added, err := events.NewEvent(events.EventTypeSongAdded, "ROOM01", "a", events.SongAddedPayload{Track: track})
	require.NoError(t, err)
	require.NoError(t, h.broadcaster.HandleEvent(ctx, added))

	voted, err := events.NewEvent(events.EventTypeVoteUpdated, "ROOM01", "a", events.VoteUpdatedPayload{TrackID: track.ID.String(), Upvotes: 1, ParticipantID: "a", Active: true})
	require.NoError(t, err)
	require.NoError(t, h.broadcaster.HandleEvent(ctx, voted))

	require.NoError(t, h.broadcaster.HandleEvent(ctx, events.Event{Type: "other", RoomCode: "ROOM01"}))

	msgs := sa.messages()
	require.Len(t, msgs, 3)
	song, ok := msgs[1].(SongAdded)
	require.True(t, ok)
	assert.Equal(t, track.ID, song.Track.ID)
	vote, ok := msgs[2].(VoteUpdated)
	require.True(t, ok)
	assert.Equal(t, 1, vote.Upvotes)
	assert.True(t, vote.Active)

	bad := events.Event{Type: events.EventTypeSongAdded, RoomCode: "ROOM01", Payload: []byte("{")}
	assert.Error(t, h.broadcaster.HandleEvent(ctx, bad))
}

func TestSendTo(t *testing.T) {
	h := newHarness("a")
	idA, sa := h.join(t, "a", "ROOM01", false)

	require.NoError(t, h.broadcaster.SendTo(idA, Pong{}))
	assert.IsType(t, Pong{}, sa.messages()[1])
	assert.True(t, errors.Is(h.broadcaster.SendTo("missing", Pong{}), ErrUnknownConnection))
}

func TestConcurrentJoinsSeeRosterFirst(t *testing.T) {
	ids := make([]string, 20)
	for i := range ids {
		ids[i] = uuid.NewString()
	}
	h := newHarness(ids...)

	senders := make([]*fakeSender, len(ids))
	var wg sync.WaitGroup
	for i, pid := range ids {
		wg.Add(1)
		go func(i int, pid string) {
			defer wg.Done()
			s := &fakeSender{}
			senders[i] = s
			id := h.registry.Register(s)
			assert.NoError(t, h.broadcaster.OnJoin(context.Background(), id, "ROOM01", pid, false))
		}(i, pid)
	}
	wg.Wait()

	for i, s := range senders {
		msgs := s.messages()
		// Everyone ends up knowing every participant exactly once.
		assert.ElementsMatch(t, ids, joinedIDs(msgs))
		assert.Equal(t, ids[i], msgs[0].(UserJoined).Participant.ID)
	}
}
