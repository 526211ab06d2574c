package auth

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	zlog "github.com/rs/zerolog/log"

	"github.com/music-room-server/pkg/models"
)

type ParticipantLookup interface {
	GetParticipant(ctx context.Context, id string) (*models.Participant, error)
}

type TokenIssuer interface {
	TokenValidator
	GenerateToken(userID string) (string, error)
}

// Handler serves session maintenance for already identified participants.
// Sign-in itself happens at the identity provider.
type Handler struct {
	tokens       TokenIssuer
	participants ParticipantLookup
	cookieName   string
	secure       bool
}

func NewHandler(tokens TokenIssuer, participants ParticipantLookup, cookieName string, secure bool) *Handler {
	return &Handler{
		tokens:       tokens,
		participants: participants,
		cookieName:   cookieName,
		secure:       secure,
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	auth := r.Group("/auth", Middleware(h.tokens, h.cookieName))
	{
		auth.GET("/me", h.me)
		auth.POST("/refresh", h.refresh)
		auth.POST("/logout", h.logout)
	}
}

func (h *Handler) me(c *gin.Context) {
	p, err := h.participants.GetParticipant(c.Request.Context(), c.GetString(ContextParticipantID))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "participant not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"participant": p})
}

func (h *Handler) refresh(c *gin.Context) {
	participantID := c.GetString(ContextParticipantID)
	token, err := h.tokens.GenerateToken(participantID)
	if err != nil {
		zlog.Error().Err(err).Str("participant", participantID).Msg("failed to reissue token")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}

	h.setCookie(c, token, 0)
	c.JSON(http.StatusOK, gin.H{"token": token})
}

func (h *Handler) logout(c *gin.Context) {
	h.setCookie(c, "", -1)
	c.Status(http.StatusNoContent)
}

func (h *Handler) setCookie(c *gin.Context, value string, maxAge int) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     h.cookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
