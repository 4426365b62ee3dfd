package authority

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mpreston/gatekeeper/internal/models"
)

// Profile is a confirmed identity returned by the external authority.
type Profile struct {
	ID   uuid.UUID
	Name string
}

// Client queries the external identity authority over HTTP. It distinguishes
// an affirmative "no such identity" answer from transient failures so callers
// can treat the two very differently: the former is permanent, the latter
// must never poison the durable caches.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates an authority client. All lookups are bounded by timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type profileResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Lookup resolves a claimed name to a confirmed profile.
//
// Returns models.ErrNoSuchIdentity when the authority affirms the name does
// not exist, and a wrapped models.ErrAuthorityUnavailable for anything
// transient: network errors, unexpected statuses, unparseable payloads.
func (c *Client) Lookup(ctx context.Context, name string) (*Profile, error) {
	endpoint := fmt.Sprintf("%s/users/profiles/%s", c.baseURL, url.PathEscape(name))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrAuthorityUnavailable, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrAuthorityUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		// fall through to decode
	case http.StatusNoContent, http.StatusNotFound:
		return nil, models.ErrNoSuchIdentity
	default:
		return nil, fmt.Errorf("%w: unexpected status %d", models.ErrAuthorityUnavailable, resp.StatusCode)
	}

	var body profileResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: malformed payload: %v", models.ErrAuthorityUnavailable, err)
	}

	id, err := uuid.Parse(body.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed profile id %q: %v", models.ErrAuthorityUnavailable, body.ID, err)
	}

	return &Profile{ID: id, Name: body.Name}, nil
}
