package models

import (
	"time"

	"github.com/google/uuid"
)

type Platform string

const (
	PlatformYouTube Platform = "youtube"
	PlatformSpotify Platform = "spotify"
)

type User struct {
	ID        uuid.UUID `json:"id" gorm:"type:char(36);primaryKey"`
	Email     string    `json:"email" gorm:"size:255;uniqueIndex"`
	Name      string    `json:"name"`
	Image     string    `json:"image"`
	Provider  string    `json:"provider"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Participant is the public view of a User shown to other room members.
type Participant struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Avatar      string `json:"avatar,omitempty"`
}

func (u *User) Participant() *Participant {
	return &Participant{
		ID:          u.ID.String(),
		DisplayName: u.Name,
		Avatar:      u.Image,
	}
}

type Room struct {
	ID        uuid.UUID `json:"id" gorm:"type:char(36);primaryKey"`
	Code      string    `json:"code" gorm:"size:6;uniqueIndex"`
	HostID    uuid.UUID `json:"host_id" gorm:"type:char(36)"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Track struct {
	ID           uuid.UUID `json:"id" gorm:"type:char(36);primaryKey"`
	RoomID       uuid.UUID `json:"room_id" gorm:"type:char(36);index"`
	Seq          uint64    `json:"seq" gorm:"autoIncrement;uniqueIndex;not null"` // set by the database, orders ties
	SubmittedBy  uuid.UUID `json:"submitted_by" gorm:"type:char(36)"`
	Platform     Platform  `json:"platform" gorm:"size:16"`
	ExternalID   string    `json:"external_id"`
	URL          string    `json:"url"`
	Title        string    `json:"title"`
	Artist       string    `json:"artist"`
	Album        string    `json:"album,omitempty"`
	ThumbnailURL string    `json:"thumbnail_url,omitempty"`
	DurationMs   int64     `json:"duration_ms"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Duration is zero when the platform did not report a length.
func (t Track) Duration() time.Duration {
	return time.Duration(t.DurationMs) * time.Millisecond
}

type Vote struct {
	ID        uuid.UUID `json:"id" gorm:"type:char(36);primaryKey"`
	TrackID   uuid.UUID `json:"track_id" gorm:"type:char(36);uniqueIndex:idx_vote_track_user"`
	UserID    uuid.UUID `json:"user_id" gorm:"type:char(36);uniqueIndex:idx_vote_track_user"`
	CreatedAt time.Time `json:"created_at"`
}
