package room

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/music-room-server/internal/auth"
	"github.com/music-room-server/internal/resolver"
	"github.com/music-room-server/internal/vote"
)

func newRouter(t *testing.T, f *fixture) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	v1 := r.Group("/api/v1", func(c *gin.Context) {
		c.Set(auth.ContextParticipantID, f.host)
		c.Next()
	})
	NewHandler(f.svc).RegisterRoutes(v1)
	return r
}

func do(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandler_RoomLifecycle(t *testing.T) {
	f := newFixture(t)
	r := newRouter(t, f)

	w := do(r, http.MethodPost, "/api/v1/rooms", gin.H{"name": "Friday", "code": "abc234"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(r, http.MethodPost, "/api/v1/rooms", gin.H{"name": "Again", "code": "ABC234"})
	assert.Equal(t, http.StatusConflict, w.Code)

	f.cache.listeners["ABC234"] = 3
	w = do(r, http.MethodGet, "/api/v1/rooms/abc234", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var info struct {
		Room struct {
			Code string `json:"code"`
		} `json:"room"`
		Listeners int64 `json:"listeners"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.Equal(t, "ABC234", info.Room.Code)
	assert.Equal(t, int64(3), info.Listeners)

	w = do(r, http.MethodGet, "/api/v1/rooms/ZZZ999", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, http.MethodGet, "/api/v1/rooms/nope", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_TracksAndVotes(t *testing.T) {
	f := newFixture(t)
	r := newRouter(t, f)
	_, err := f.svc.CreateRoom(context.Background(), f.host, "Friday", "ABC234")
	require.NoError(t, err)

	w := do(r, http.MethodGet, "/api/v1/rooms/ABC234/next", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, http.MethodPost, "/api/v1/rooms/ABC234/tracks", gin.H{"url": "https://youtu.be/dQw4w9WgXcQ"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var track struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &track))

	votePath := "/api/v1/rooms/ABC234/tracks/" + track.ID + "/vote"
	w = do(r, http.MethodPost, votePath, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var result vote.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, 1, result.Tally)
	assert.True(t, result.HasVoted)

	w = do(r, http.MethodPost, votePath, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(r, http.MethodGet, "/api/v1/rooms/ABC234/queue", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var q struct {
		Queue []struct {
			Upvotes    int  `json:"upvotes"`
			HasUpvoted bool `json:"has_upvoted"`
		} `json:"queue"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &q))
	require.Len(t, q.Queue, 1)
	assert.Equal(t, 1, q.Queue[0].Upvotes)
	assert.True(t, q.Queue[0].HasUpvoted)

	w = do(r, http.MethodDelete, votePath, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = do(r, http.MethodDelete, votePath, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(r, http.MethodGet, "/api/v1/rooms/ABC234/next", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandler_AddTrackRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	r := newRouter(t, f)
	_, err := f.svc.CreateRoom(context.Background(), f.host, "Friday", "ABC234")
	require.NoError(t, err)

	w := do(r, http.MethodPost, "/api/v1/rooms/ABC234/tracks", gin.H{"url": "not a url"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	f.svc.resolver = fakeResolver{err: errors.Wrap(resolver.ErrUnsupportedURL, "soundcloud")}
	w = do(r, http.MethodPost, "/api/v1/rooms/ABC234/tracks", gin.H{"url": "https://soundcloud.com/a/b"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	f.svc.resolver = fakeResolver{err: resolver.ErrPlatformUnavailable}
	w = do(r, http.MethodPost, "/api/v1/rooms/ABC234/tracks", gin.H{"url": "https://open.spotify.com/track/x"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
	assert.Equal(t, http.StatusNotFound, statusFor(errors.Wrap(vote.ErrTrackNotFound, "x")))
	assert.Equal(t, http.StatusBadRequest, statusFor(vote.ErrInvalidID))
}

func TestHandler_ListTracksAndMarkPlayed(t *testing.T) {
	f := newFixture(t)
	r := newRouter(t, f)
	_, err := f.svc.CreateRoom(context.Background(), f.host, "Friday", "ABC234")
	require.NoError(t, err)
	track, err := f.svc.AddTrack(context.Background(), "ABC234", f.host, "https://youtu.be/dQw4w9WgXcQ")
	require.NoError(t, err)

	var body struct {
		Tracks []struct {
			Seq   uint64 `json:"seq"`
			Track struct {
				ID string `json:"id"`
			} `json:"track"`
		} `json:"tracks"`
	}
	w := do(r, http.MethodGet, "/api/v1/rooms/ABC234/tracks?mine=true", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Tracks, 1)
	assert.Equal(t, track.ID.String(), body.Tracks[0].Track.ID)
	assert.Equal(t, track.Seq, body.Tracks[0].Seq)

	w = do(r, http.MethodGet, "/api/v1/rooms/ABC234/tracks?platform=youtube&external_id=dQw4w9WgXcQ", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Tracks, 1)

	w = do(r, http.MethodGet, "/api/v1/rooms/ABC234/tracks?platform=soundcloud", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	played := "/api/v1/rooms/ABC234/tracks/" + track.ID.String() + "/played"
	w = do(r, http.MethodPost, played, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = do(r, http.MethodPost, played, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, http.MethodGet, "/api/v1/rooms/ABC234/next", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
