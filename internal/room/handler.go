package room

import (
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	zlog "github.com/rs/zerolog/log"

	"github.com/music-room-server/internal/auth"
	"github.com/music-room-server/internal/resolver"
	"github.com/music-room-server/internal/vote"
	"github.com/music-room-server/pkg/models"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	rooms := r.Group("/rooms")
	{
		rooms.POST("", h.createRoom)
		rooms.GET("/:code", h.getRoom)
		rooms.POST("/:code/tracks", h.addTrack)
		rooms.GET("/:code/tracks", h.listTracks)
		rooms.POST("/:code/tracks/:trackID/played", h.markPlayed)
		rooms.GET("/:code/queue", h.getQueue)
		rooms.GET("/:code/next", h.getNext)
		rooms.POST("/:code/tracks/:trackID/vote", h.vote(vote.Upvote))
		rooms.DELETE("/:code/tracks/:trackID/vote", h.vote(vote.Retract))
	}
}

type CreateRoomRequest struct {
	Name string `json:"name" binding:"required,max=100"`
	Code string `json:"code"`
}

func (h *Handler) createRoom(c *gin.Context) {
	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	room, err := h.service.CreateRoom(c.Request.Context(), c.GetString(auth.ContextParticipantID), req.Name, req.Code)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, room)
}

func (h *Handler) getRoom(c *gin.Context) {
	room, err := h.service.FindRoom(c.Request.Context(), c.Param("code"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"room":      room,
		"listeners": h.service.Listeners(c.Request.Context(), room.Code),
	})
}

type AddTrackRequest struct {
	URL string `json:"url" binding:"required,url"`
}

func (h *Handler) addTrack(c *gin.Context) {
	var req AddTrackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	track, err := h.service.AddTrack(c.Request.Context(), c.Param("code"), c.GetString(auth.ContextParticipantID), req.URL)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, track)
}

type ListTracksQuery struct {
	Mine       bool   `form:"mine"`
	Platform   string `form:"platform" binding:"omitempty,oneof=youtube spotify"`
	ExternalID string `form:"external_id"`
}

func (h *Handler) listTracks(c *gin.Context) {
	var q ListTracksQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	viewer := c.GetString(auth.ContextParticipantID)
	filter := TrackFilter{Platform: models.Platform(q.Platform), ExternalID: q.ExternalID}
	if q.Mine {
		filter.SubmittedBy = viewer
	}

	entries, err := h.service.Tracks(c.Request.Context(), c.Param("code"), viewer, filter)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"tracks": entries})
}

func (h *Handler) markPlayed(c *gin.Context) {
	if err := h.service.MarkPlayed(c.Request.Context(), c.Param("code"), c.Param("trackID")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) getQueue(c *gin.Context) {
	entries, err := h.service.Queue(c.Request.Context(), c.Param("code"), c.GetString(auth.ContextParticipantID))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"queue": entries})
}

func (h *Handler) getNext(c *gin.Context) {
	entry, err := h.service.Next(c.Request.Context(), c.Param("code"), c.GetString(auth.ContextParticipantID))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, entry)
}

func (h *Handler) vote(dir vote.Direction) gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := h.service.Vote(
			c.Request.Context(),
			c.Param("code"),
			c.GetString(auth.ContextParticipantID),
			c.Param("trackID"),
			dir,
		)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, result)
	}
}

func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		zlog.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		c.JSON(status, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidRoomCode),
		errors.Is(err, ErrInvalidParticipant),
		errors.Is(err, vote.ErrInvalidID):
		return http.StatusBadRequest
	case errors.Is(err, ErrRoomNotFound),
		errors.Is(err, ErrTrackNotFound),
		errors.Is(err, ErrQueueEmpty),
		errors.Is(err, vote.ErrTrackNotFound),
		errors.Is(err, resolver.ErrTrackNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrRoomCodeTaken),
		errors.Is(err, vote.ErrAlreadyVoted),
		errors.Is(err, vote.ErrNoActiveVote):
		return http.StatusConflict
	case errors.Is(err, resolver.ErrUnsupportedURL):
		return http.StatusUnprocessableEntity
	case errors.Is(err, resolver.ErrPlatformUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
