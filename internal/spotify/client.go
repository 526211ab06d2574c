package spotify

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
)

const (
	defaultAccountsURL = "https://accounts.spotify.com"
	defaultAPIURL      = "https://api.spotify.com"
)

var ErrTrackNotFound = errors.New("spotify: track not found")

// Client resolves track metadata with an app-only client-credentials token.
type Client struct {
	clientID     string
	clientSecret string
	accountsURL  string
	apiURL       string
	httpClient   *http.Client

	mu    sync.Mutex
	token *TokenResponse
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	ExpiresAt   time.Time
}

func (tr *TokenResponse) addExpiresAt() {
	tr.ExpiresAt = time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
}

func (tr *TokenResponse) valid() bool {
	return tr != nil && tr.AccessToken != "" && time.Until(tr.ExpiresAt) > 30*time.Second
}

type Track struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Artists  []Artist `json:"artists"`
	Duration int      `json:"duration_ms"`
	Album    Album    `json:"album"`
}

type Artist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Album struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Images []Image `json:"images"`
}

type Image struct {
	URL    string `json:"url"`
	Height int    `json:"height"`
	Width  int    `json:"width"`
}

// ArtistNames joins every credited artist.
func (t *Track) ArtistNames() string {
	names := make([]string, len(t.Artists))
	for i, a := range t.Artists {
		names[i] = a.Name
	}
	return strings.Join(names, ", ")
}

// LargestImage returns the album art with the greatest width.
func (t *Track) LargestImage() string {
	best := Image{}
	for _, img := range t.Album.Images {
		if img.Width >= best.Width {
			best = img
		}
	}
	return best.URL
}

type Option func(*Client)

// WithBaseURLs points the client at alternative endpoints.
func WithBaseURLs(accountsURL, apiURL string) Option {
	return func(c *Client) {
		c.accountsURL = strings.TrimRight(accountsURL, "/")
		c.apiURL = strings.TrimRight(apiURL, "/")
	}
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

func NewClient(clientID, clientSecret string, opts ...Option) *Client {
	c := &Client{
		clientID:     clientID,
		clientSecret: clientSecret,
		accountsURL:  defaultAccountsURL,
		apiURL:       defaultAPIURL,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) GetTrack(ctx context.Context, id string) (*Track, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"/v1/tracks/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, errors.Wrap(err, "spotify: failed to build request")
	}
	req.Header.Add("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "spotify: track request failed")
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusBadRequest:
		return nil, errors.Wrapf(ErrTrackNotFound, "id %s", id)
	case http.StatusUnauthorized:
		c.resetToken()
		return nil, errors.New("spotify: access token rejected")
	default:
		return nil, errors.Newf("spotify: track request failed with status %d", resp.StatusCode)
	}

	var track Track
	if err := json.NewDecoder(resp.Body).Decode(&track); err != nil {
		return nil, errors.Wrap(err, "spotify: failed to decode track")
	}
	return &track, nil
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token.valid() {
		return c.token.AccessToken, nil
	}

	data := url.Values{}
	data.Set("grant_type", "client_credentials")
	token, err := c.doTokenRequest(ctx, data)
	if err != nil {
		return "", err
	}
	c.token = token
	zlog.Debug().Time("expires_at", token.ExpiresAt).Msg("spotify token refreshed")
	return token.AccessToken, nil
}

func (c *Client) resetToken() {
	c.mu.Lock()
	c.token = nil
	c.mu.Unlock()
}

func (c *Client) doTokenRequest(ctx context.Context, data url.Values) (*TokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.accountsURL+"/api/token", strings.NewReader(data.Encode()))
	if err != nil {
		return nil, errors.Wrap(err, "spotify: failed to build token request")
	}

	auth := base64.StdEncoding.EncodeToString([]byte(c.clientID + ":" + c.clientSecret))
	req.Header.Add("Authorization", "Basic "+auth)
	req.Header.Add("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "spotify: token request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf("spotify: token request failed with status %d", resp.StatusCode)
	}

	var token TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return nil, errors.Wrap(err, "spotify: failed to decode token")
	}
	token.addExpiresAt()
	return &token, nil
}
