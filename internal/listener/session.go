// Package listener is a headless room client. It joins a room over the
// socket, mirrors the room queue into a local player and plays through it
// on a simulated clock.
package listener

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	zlog "github.com/rs/zerolog/log"

	"github.com/music-room-server/internal/playback"
	"github.com/music-room-server/internal/ws"
	"github.com/music-room-server/pkg/models"
)

var ErrGaveUp = errors.New("reconnect attempts exhausted")

type Config struct {
	ServerURL string
	RoomCode  string
	Token     string

	TickInterval time.Duration
	PingInterval time.Duration
	MinBackoff   time.Duration
	MaxBackoff   time.Duration
	// MaxAttempts bounds consecutive connections that fail before joining;
	// zero retries forever.
	MaxAttempts int

	HTTPClient *http.Client
}

func (c *Config) setDefaults() {
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 25 * time.Second
	}
	if c.MinBackoff <= 0 {
		c.MinBackoff = 250 * time.Millisecond
	}
	if c.MaxBackoff < c.MinBackoff {
		c.MaxBackoff = 30 * time.Second
	}
}

type Session struct {
	cfg    Config
	api    *api
	dialer *websocket.Dialer
	player *playback.Player

	mu       sync.Mutex
	self     string
	roster   map[string]models.Participant
	position time.Duration
	playing  uuid.UUID
}

func NewSession(cfg Config) (*Session, error) {
	cfg.setDefaults()
	if cfg.RoomCode == "" {
		return nil, errors.New("room code is required")
	}
	a, err := newAPI(cfg.ServerURL, cfg.Token, cfg.HTTPClient)
	if err != nil {
		return nil, err
	}
	return &Session{
		cfg:    cfg,
		api:    a,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		player: playback.NewPlayer(),
		roster: make(map[string]models.Participant),
	}, nil
}

func (s *Session) Player() *playback.Player {
	return s.player
}

// Roster returns the participants currently in the room.
func (s *Session) Roster() []models.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Participant, 0, len(s.roster))
	for _, p := range s.roster {
		out = append(out, p)
	}
	return out
}

// Run keeps the session connected until ctx is cancelled or MaxAttempts
// consecutive connections fail.
func (s *Session) Run(ctx context.Context) error {
	go s.logPlayerEvents(ctx)

	backoff := s.cfg.MinBackoff
	failures := 0
	for {
		joined, err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if joined {
			// A session that got in counts as a success.
			backoff = s.cfg.MinBackoff
			failures = 0
		} else {
			failures++
			if s.cfg.MaxAttempts > 0 && failures >= s.cfg.MaxAttempts {
				return errors.Mark(errors.Wrapf(err, "after %d attempts", failures), ErrGaveUp)
			}
		}

		zlog.Warn().Err(err).Dur("retry_in", backoff).Str("room", s.cfg.RoomCode).Msg("connection lost")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, s.cfg.MaxBackoff)
	}
}

// runOnce reports whether the room was joined before the connection ended.
func (s *Session) runOnce(ctx context.Context) (bool, error) {
	if s.self == "" {
		me, err := s.api.me(ctx)
		if err != nil {
			return false, err
		}
		s.mu.Lock()
		s.self = me.ID
		s.mu.Unlock()
	}

	entries, err := s.api.queue(ctx, s.cfg.RoomCode)
	if err != nil {
		return false, err
	}
	s.syncQueue(entries)

	conn, _, err := s.dialer.DialContext(ctx, s.api.socketURL(), s.api.authHeader())
	if err != nil {
		return false, errors.Wrap(err, "failed to dial")
	}
	defer conn.Close()

	if err := writeMessage(conn, ws.JoinRoom{RoomCode: s.cfg.RoomCode}); err != nil {
		return false, err
	}
	zlog.Info().Str("room", s.cfg.RoomCode).Int("queued", len(entries)).Msg("joined room")

	readErr := make(chan error, 1)
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			msg, err := ws.Decode(data)
			if err != nil {
				zlog.Warn().Err(err).Msg("dropping frame")
				continue
			}
			s.apply(msg)
		}
	}()

	tick := time.NewTicker(s.cfg.TickInterval)
	defer tick.Stop()
	ping := time.NewTicker(s.cfg.PingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = writeMessage(conn, ws.LeaveRoom{RoomCode: s.cfg.RoomCode})
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return true, nil
		case err := <-readErr:
			return true, errors.Wrap(err, "read failed")
		case <-ping.C:
			if err := writeMessage(conn, ws.Ping{}); err != nil {
				return true, err
			}
		case <-tick.C:
			s.tick(s.cfg.TickInterval)
		}
	}
}

func writeMessage(conn *websocket.Conn, msg ws.Message) error {
	data, err := ws.Encode(msg)
	if err != nil {
		return err
	}
	if err := conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
		return errors.Wrap(err, "failed to set write deadline")
	}
	return errors.Wrapf(conn.WriteMessage(websocket.TextMessage, data), "failed to write %s", msg.Kind())
}
