// Package resolver turns a pasted track link into platform metadata.
package resolver

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/music-room-server/internal/spotify"
	"github.com/music-room-server/internal/youtube"
	"github.com/music-room-server/pkg/models"
)

var (
	ErrUnsupportedURL      = errors.New("unsupported track url")
	ErrTrackNotFound       = errors.New("track not found on platform")
	ErrPlatformUnavailable = errors.New("platform lookups are not configured")
)

var (
	youtubeWatch = regexp.MustCompile(`^https://(?:www\.|m\.)?youtube\.com/watch\?v=([\w-]{11})(?:&.*)?$`)
	youtubeShort = regexp.MustCompile(`^https://youtu\.be/([\w-]{11})(?:\?.*)?$`)
	spotifyTrack = regexp.MustCompile(`^https://open\.spotify\.com/(?:intl-[a-z]{2}/)?track/([A-Za-z0-9]+)`)
)

type SpotifyLookup interface {
	GetTrack(ctx context.Context, id string) (*spotify.Track, error)
}

type VideoLookup interface {
	GetVideo(ctx context.Context, id string) (*youtube.Video, error)
}

type Metadata struct {
	Platform     models.Platform
	ExternalID   string
	URL          string
	Title        string
	Artist       string
	Album        string
	ThumbnailURL string
	Duration     time.Duration
}

// Detect reports which platform a link belongs to and its platform id.
func Detect(rawURL string) (models.Platform, string, error) {
	u := strings.TrimSpace(rawURL)
	if m := youtubeWatch.FindStringSubmatch(u); m != nil {
		return models.PlatformYouTube, m[1], nil
	}
	if m := youtubeShort.FindStringSubmatch(u); m != nil {
		return models.PlatformYouTube, m[1], nil
	}
	if m := spotifyTrack.FindStringSubmatch(u); m != nil {
		return models.PlatformSpotify, m[1], nil
	}
	return "", "", errors.Wrapf(ErrUnsupportedURL, "%q", rawURL)
}

// Resolver looks links up on their platform. Either lookup may be nil when
// that platform has no credentials.
type Resolver struct {
	spotify SpotifyLookup
	youtube VideoLookup
}

func New(spotify SpotifyLookup, youtube VideoLookup) *Resolver {
	return &Resolver{spotify: spotify, youtube: youtube}
}

func (r *Resolver) Resolve(ctx context.Context, rawURL string) (*Metadata, error) {
	platform, id, err := Detect(rawURL)
	if err != nil {
		return nil, err
	}

	switch platform {
	case models.PlatformSpotify:
		return r.resolveSpotify(ctx, id)
	case models.PlatformYouTube:
		return r.resolveYouTube(ctx, id)
	default:
		return nil, errors.Wrapf(ErrUnsupportedURL, "%q", rawURL)
	}
}

func (r *Resolver) resolveSpotify(ctx context.Context, id string) (*Metadata, error) {
	if r.spotify == nil {
		return nil, errors.Wrap(ErrPlatformUnavailable, "spotify")
	}
	t, err := r.spotify.GetTrack(ctx, id)
	if err != nil {
		if errors.Is(err, spotify.ErrTrackNotFound) {
			return nil, errors.Mark(err, ErrTrackNotFound)
		}
		return nil, err
	}
	return &Metadata{
		Platform:     models.PlatformSpotify,
		ExternalID:   t.ID,
		URL:          "https://open.spotify.com/track/" + t.ID,
		Title:        t.Name,
		Artist:       t.ArtistNames(),
		Album:        t.Album.Name,
		ThumbnailURL: t.LargestImage(),
		Duration:     time.Duration(t.Duration) * time.Millisecond,
	}, nil
}

func (r *Resolver) resolveYouTube(ctx context.Context, id string) (*Metadata, error) {
	if r.youtube == nil {
		return nil, errors.Wrap(ErrPlatformUnavailable, "youtube")
	}
	v, err := r.youtube.GetVideo(ctx, id)
	if err != nil {
		if errors.Is(err, youtube.ErrVideoNotFound) {
			return nil, errors.Mark(err, ErrTrackNotFound)
		}
		return nil, err
	}
	return &Metadata{
		Platform:     models.PlatformYouTube,
		ExternalID:   v.ID,
		URL:          "https://www.youtube.com/watch?v=" + v.ID,
		Title:        v.Title,
		Artist:       v.Channel,
		ThumbnailURL: v.ThumbnailURL,
		Duration:     v.Duration,
	}, nil
}
