package ws

import (
	"bytes"
	"encoding/json"

	"github.com/cockroachdb/errors"

	"github.com/music-room-server/pkg/models"
)

var (
	ErrUnknownType = errors.New("unknown message type")
	ErrMalformed   = errors.New("malformed message")
)

type Kind string

const (
	KindJoinRoom    Kind = "JOIN_ROOM"
	KindUpdateRoom  Kind = "UPDATE_ROOM"
	KindLeaveRoom   Kind = "LEAVE_ROOM"
	KindPing        Kind = "PING"
	KindPong        Kind = "PONG"
	KindUserJoined  Kind = "USER_JOINED"
	KindUserLeft    Kind = "USER_LEFT"
	KindRoomUpdated Kind = "ROOM_UPDATED"
	KindSongAdded   Kind = "SONG_ADDED"
	KindVoteUpdated Kind = "VOTE_UPDATED"
	KindError       Kind = "ERROR"
)

// Message is one frame of the room protocol. The set of implementations
// is closed to this package.
type Message interface {
	Kind() Kind
	message()
}

// RoomPatch carries only the room fields a host chose to change.
type RoomPatch struct {
	Name   *string `json:"name,omitempty"`
	Active *bool   `json:"active,omitempty"`
	HostID *string `json:"host_id,omitempty"`
}

// Client to server.

type JoinRoom struct {
	RoomCode      string `json:"room_code"`
	ParticipantID string `json:"participant_id,omitempty"`
	IsHost        bool   `json:"is_host"`
}

type UpdateRoom struct {
	RoomCode string    `json:"room_code"`
	Room     RoomPatch `json:"room"`
}

type LeaveRoom struct {
	RoomCode string `json:"room_code,omitempty"`
}

type Ping struct{}

// Server to client.

type UserJoined struct {
	Participant models.Participant `json:"participant"`
	IsHost      bool               `json:"is_host"`
}

type UserLeft struct {
	ParticipantID string `json:"participant_id"`
}

type RoomUpdated struct {
	Room RoomPatch `json:"room"`
}

type SongAdded struct {
	Track models.Track `json:"track"`
}

type VoteUpdated struct {
	TrackID       string `json:"track_id"`
	Upvotes       int    `json:"upvotes"`
	ParticipantID string `json:"participant_id"`
	Active        bool   `json:"active"`
}

type Pong struct{}

type ErrorReply struct {
	Error string `json:"error"`
}

func (JoinRoom) Kind() Kind    { return KindJoinRoom }
func (UpdateRoom) Kind() Kind  { return KindUpdateRoom }
func (LeaveRoom) Kind() Kind   { return KindLeaveRoom }
func (Ping) Kind() Kind        { return KindPing }
func (Pong) Kind() Kind        { return KindPong }
func (UserJoined) Kind() Kind  { return KindUserJoined }
func (UserLeft) Kind() Kind    { return KindUserLeft }
func (RoomUpdated) Kind() Kind { return KindRoomUpdated }
func (SongAdded) Kind() Kind   { return KindSongAdded }
func (VoteUpdated) Kind() Kind { return KindVoteUpdated }
func (ErrorReply) Kind() Kind  { return KindError }

func (JoinRoom) message()    {}
func (UpdateRoom) message()  {}
func (LeaveRoom) message()   {}
func (Ping) message()        {}
func (Pong) message()        {}
func (UserJoined) message()  {}
func (UserLeft) message()    {}
func (RoomUpdated) message() {}
func (SongAdded) message()   {}
func (VoteUpdated) message() {}
func (ErrorReply) message()  {}

// Encode renders m as a JSON object with a leading "type" field.
func Encode(m Message) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to encode %s", m.Kind())
	}

	kind, _ := json.Marshal(m.Kind())
	var buf bytes.Buffer
	buf.WriteString(`{"type":`)
	buf.Write(kind)
	if inner := bytes.TrimSpace(body[1 : len(body)-1]); len(inner) > 0 {
		buf.WriteByte(',')
		buf.Write(inner)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Decode parses one frame. Unknown kinds yield ErrUnknownType; bad JSON or
// missing required fields yield ErrMalformed.
func Decode(data []byte) (Message, error) {
	var envelope struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "invalid frame"), ErrMalformed)
	}

	var (
		msg   Message
		valid = true
		err   error
	)
	switch envelope.Type {
	case KindJoinRoom:
		var m JoinRoom
		err = json.Unmarshal(data, &m)
		msg, valid = m, m.RoomCode != ""
	case KindUpdateRoom:
		var m UpdateRoom
		err = json.Unmarshal(data, &m)
		msg, valid = m, m.RoomCode != ""
	case KindLeaveRoom:
		var m LeaveRoom
		err = json.Unmarshal(data, &m)
		msg = m
	case KindPing:
		msg = Ping{}
	case KindPong:
		msg = Pong{}
	case KindUserJoined:
		var m UserJoined
		err = json.Unmarshal(data, &m)
		msg, valid = m, m.Participant.ID != ""
	case KindUserLeft:
		var m UserLeft
		err = json.Unmarshal(data, &m)
		msg, valid = m, m.ParticipantID != ""
	case KindRoomUpdated:
		var m RoomUpdated
		err = json.Unmarshal(data, &m)
		msg = m
	case KindSongAdded:
		var m SongAdded
		err = json.Unmarshal(data, &m)
		msg, valid = m, m.Track.Title != ""
	case KindVoteUpdated:
		var m VoteUpdated
		err = json.Unmarshal(data, &m)
		msg, valid = m, m.TrackID != ""
	case KindError:
		var m ErrorReply
		err = json.Unmarshal(data, &m)
		msg, valid = m, m.Error != ""
	default:
		return nil, errors.Wrapf(ErrUnknownType, "%q", envelope.Type)
	}

	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "invalid %s", envelope.Type), ErrMalformed)
	}
	if !valid {
		return nil, errors.Wrapf(ErrMalformed, "%s missing required field", envelope.Type)
	}
	return msg, nil
}
