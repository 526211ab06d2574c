package ws

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	zlog "github.com/rs/zerolog/log"

	"github.com/music-room-server/internal/auth"
	"github.com/music-room-server/pkg/models"
)

// RoomFinder confirms a room exists before a socket joins it.
type RoomFinder interface {
	FindRoom(ctx context.Context, code string) (*models.Room, error)
}

type Handler struct {
	registry    *Registry
	broadcaster *Broadcaster
	rooms       RoomFinder
	opts        Options
	upgrader    websocket.Upgrader
}

// NewHandler builds the socket endpoint. An empty allowedOrigins accepts
// any origin.
func NewHandler(registry *Registry, broadcaster *Broadcaster, rooms RoomFinder, opts Options, allowedOrigins []string) *Handler {
	return &Handler{
		registry:    registry,
		broadcaster: broadcaster,
		rooms:       rooms,
		opts:        opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowedOrigins) == 0 {
					return true
				}
				return slices.Contains(allowedOrigins, r.Header.Get("Origin"))
			},
		},
	}
}

func (h *Handler) HandleWebSocket(c *gin.Context) {
	participantID := c.GetString(auth.ContextParticipantID)

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		zlog.Warn().Err(err).Msg("failed to upgrade connection")
		return
	}

	cn := newConn(ws, h.opts)
	connID := h.registry.Register(cn)
	go cn.writePump()

	zlog.Debug().Str("conn", connID).Str("participant", participantID).Msg("socket connected")
	h.serve(context.WithoutCancel(c.Request.Context()), connID, participantID, cn)
}

func (h *Handler) serve(ctx context.Context, connID, participantID string, cn *conn) {
	defer func() {
		h.broadcaster.OnDisconnect(ctx, connID)
		cn.Close()
		zlog.Debug().Str("conn", connID).Msg("socket closed")
	}()

	cn.prepareRead()
	for {
		_, data, err := cn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				zlog.Warn().Err(err).Str("conn", connID).Msg("websocket read error")
			}
			return
		}
		cn.ws.SetReadDeadline(time.Now().Add(h.opts.PongWait))

		msg, err := Decode(data)
		if err != nil {
			zlog.Warn().Err(err).Str("conn", connID).Msg("discarding message")
			h.reply(connID, ErrorReply{Error: err.Error()})
			continue
		}
		h.dispatch(ctx, connID, participantID, msg)
	}
}

func (h *Handler) dispatch(ctx context.Context, connID, participantID string, msg Message) {
	switch m := msg.(type) {
	case JoinRoom:
		if m.ParticipantID != "" && m.ParticipantID != participantID {
			h.reply(connID, ErrorReply{Error: "participant does not match credentials"})
			return
		}
		code := strings.ToUpper(m.RoomCode)
		isHost := m.IsHost
		if h.rooms != nil {
			room, err := h.rooms.FindRoom(ctx, code)
			if err != nil {
				zlog.Warn().Err(err).Str("room", code).Msg("join rejected")
				h.reply(connID, ErrorReply{Error: "room not found"})
				return
			}
			isHost = room.HostID.String() == participantID
		}
		if err := h.broadcaster.OnJoin(ctx, connID, code, participantID, isHost); err != nil {
			zlog.Warn().Err(err).Str("room", code).Str("conn", connID).Msg("join aborted")
		}

	case UpdateRoom:
		if err := h.broadcaster.OnRoomUpdate(connID, strings.ToUpper(m.RoomCode), m.Room); err != nil {
			zlog.Debug().Err(err).Str("conn", connID).Msg("room update dropped")
			h.reply(connID, ErrorReply{Error: "not a member of that room"})
		}

	case LeaveRoom:
		h.broadcaster.OnLeave(ctx, connID)

	case Ping:
		h.reply(connID, Pong{})

	default:
		zlog.Warn().Str("type", string(msg.Kind())).Str("conn", connID).Msg("client sent server-only message")
		h.reply(connID, ErrorReply{Error: "unexpected message type " + string(msg.Kind())})
	}
}

func (h *Handler) reply(connID string, msg Message) {
	if err := h.broadcaster.SendTo(connID, msg); err != nil {
		zlog.Debug().Err(err).Str("conn", connID).Msg("reply dropped")
	}
}
