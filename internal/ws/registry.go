package ws

import (
	"sync"
	"time"

	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"
)

// Sender delivers encoded frames to one socket. Send must not block.
type Sender interface {
	Send(data []byte) error
	Close() error
}

// Connection is a snapshot of one registered socket.
type Connection struct {
	ID            string
	ParticipantID string
	RoomCode      string
	IsHost        bool
	CreatedAt     time.Time
	Sender        Sender
}

// Registry tracks live sockets and the room each one is attached to.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Connection
	rooms map[string]map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]*Connection),
		rooms: make(map[string]map[string]struct{}),
	}
}

func (r *Registry) Register(sender Sender) string {
	id := uuid.NewString()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.conns[id] = &Connection{
		ID:        id,
		CreatedAt: time.Now(),
		Sender:    sender,
	}
	return id
}

// Attach binds a connection to a participant and room, replacing any
// earlier binding. Unknown ids are ignored.
func (r *Registry) Attach(connID, participantID, roomCode string, isHost bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[connID]
	if !ok {
		zlog.Warn().Str("conn", connID).Str("room", roomCode).Msg("attach on unknown connection")
		return false
	}

	r.unindexLocked(conn)
	conn.ParticipantID = participantID
	conn.RoomCode = roomCode
	conn.IsHost = isHost
	if roomCode != "" {
		members, ok := r.rooms[roomCode]
		if !ok {
			members = make(map[string]struct{})
			r.rooms[roomCode] = members
		}
		members[connID] = struct{}{}
	}
	return true
}

// Detach removes the connection for good and reports what it was bound to.
func (r *Registry) Detach(connID string) (participantID, roomCode string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[connID]
	if !ok {
		return "", "", false
	}
	r.unindexLocked(conn)
	delete(r.conns, connID)
	return conn.ParticipantID, conn.RoomCode, true
}

func (r *Registry) Get(connID string) (Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[connID]
	if !ok {
		return Connection{}, false
	}
	return *conn, true
}

// ConnectionsInRoom returns a copy of the room's connections as of the
// call. Later registry changes do not affect the returned slice.
func (r *Registry) ConnectionsInRoom(roomCode string) []Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[roomCode]
	out := make([]Connection, 0, len(members))
	for id := range members {
		out = append(out, *r.conns[id])
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Registry) unindexLocked(conn *Connection) {
	if conn.RoomCode == "" {
		return
	}
	members := r.rooms[conn.RoomCode]
	delete(members, conn.ID)
	if len(members) == 0 {
		delete(r.rooms, conn.RoomCode)
	}
}
