package listener

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/music-room-server/internal/queue"
	"github.com/music-room-server/pkg/models"
)

// api is the REST side of the room server.
type api struct {
	base   *url.URL
	token  string
	client *http.Client
}

func newAPI(serverURL, token string, client *http.Client) (*api, error) {
	base, err := url.Parse(strings.TrimRight(serverURL, "/"))
	if err != nil {
		return nil, errors.Wrapf(err, "invalid server url %q", serverURL)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, errors.Newf("server url %q must be http or https", serverURL)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &api{base: base, token: token, client: client}, nil
}

func (a *api) socketURL() string {
	u := *a.base
	u.Scheme = "ws"
	if a.base.Scheme == "https" {
		u.Scheme = "wss"
	}
	u.Path += "/api/v1/ws"
	return u.String()
}

func (a *api) authHeader() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+a.token)
	return h
}

func (a *api) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.base.String()+"/api/v1"+path, nil)
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}
	req.Header = a.authHeader()

	resp, err := a.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "GET %s", path)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return errors.Newf("GET %s: %s %s", path, resp.Status, body.Error)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "failed to decode %s", path)
	}
	return nil
}

func (a *api) me(ctx context.Context) (*models.Participant, error) {
	var body struct {
		Participant models.Participant `json:"participant"`
	}
	if err := a.get(ctx, "/auth/me", &body); err != nil {
		return nil, err
	}
	return &body.Participant, nil
}

func (a *api) queue(ctx context.Context, code string) ([]queue.Entry, error) {
	var body struct {
		Queue []queue.Entry `json:"queue"`
	}
	if err := a.get(ctx, fmt.Sprintf("/rooms/%s/queue", url.PathEscape(code)), &body); err != nil {
		return nil, err
	}
	return body.Queue, nil
}
