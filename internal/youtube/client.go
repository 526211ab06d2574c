// Package youtube looks up video metadata through the YouTube Data API v3.
package youtube

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

const defaultBaseURL = "https://www.googleapis.com"

var (
	ErrVideoNotFound   = errors.New("youtube: video not found")
	ErrInvalidDuration = errors.New("youtube: invalid duration")
)

type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

type Video struct {
	ID           string
	Title        string
	Channel      string
	ThumbnailURL string
	Duration     time.Duration
}

type thumbnail struct {
	URL string `json:"url"`
}

type videosResponse struct {
	Items []struct {
		ID      string `json:"id"`
		Snippet struct {
			Title        string               `json:"title"`
			ChannelTitle string               `json:"channelTitle"`
			Thumbnails   map[string]thumbnail `json:"thumbnails"`
		} `json:"snippet"`
		ContentDetails struct {
			Duration string `json:"duration"`
		} `json:"contentDetails"`
	} `json:"items"`
}

func NewClient(apiKey, baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) GetVideo(ctx context.Context, id string) (*Video, error) {
	params := url.Values{}
	params.Set("part", "snippet,contentDetails")
	params.Set("id", id)
	params.Set("key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/youtube/v3/videos?"+params.Encode(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "youtube: failed to build request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "youtube: request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf("youtube: videos request failed with status %d", resp.StatusCode)
	}

	var body videosResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errors.Wrap(err, "youtube: failed to decode response")
	}
	if len(body.Items) == 0 {
		return nil, errors.Wrapf(ErrVideoNotFound, "id %s", id)
	}

	item := body.Items[0]
	duration, err := ParseDuration(item.ContentDetails.Duration)
	if err != nil {
		// Live streams report P0D or nothing; treat the length as unknown.
		duration = 0
	}

	return &Video{
		ID:           item.ID,
		Title:        item.Snippet.Title,
		Channel:      item.Snippet.ChannelTitle,
		ThumbnailURL: bestThumbnail(item.Snippet.Thumbnails),
		Duration:     duration,
	}, nil
}

func bestThumbnail(thumbs map[string]thumbnail) string {
	for _, size := range []string{"maxres", "standard", "high", "medium", "default"} {
		if t, ok := thumbs[size]; ok && t.URL != "" {
			return t.URL
		}
	}
	return ""
}

var isoDuration = regexp.MustCompile(`^P(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?)?$`)

// ParseDuration parses the ISO 8601 durations the API returns, such as
// PT4M13S or P1DT2H.
func ParseDuration(s string) (time.Duration, error) {
	m := isoDuration.FindStringSubmatch(s)
	if m == nil || s == "P" || s == "PT" {
		return 0, errors.Wrapf(ErrInvalidDuration, "%q", s)
	}

	units := []time.Duration{24 * time.Hour, time.Hour, time.Minute, time.Second}
	var total time.Duration
	for i, unit := range units {
		if m[i+1] == "" {
			continue
		}
		n, err := strconv.Atoi(m[i+1])
		if err != nil {
			return 0, errors.Wrapf(ErrInvalidDuration, "%q", s)
		}
		total += time.Duration(n) * unit
	}
	return total, nil
}
