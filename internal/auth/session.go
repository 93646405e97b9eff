package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/energizer-project/quarry/internal/protocol"
)

// DefaultSessionServerURL is the public session server.
const DefaultSessionServerURL = "https://sessionserver.mojang.com"

const hasJoinedPath = "/session/minecraft/hasJoined"

// Profile is an authenticated player identity.
type Profile struct {
	ID         uuid.UUID         `json:"id"`
	Name       string            `json:"name"`
	Properties []ProfileProperty `json:"properties,omitempty"`
}

// ProfileProperty is a signed profile attribute such as the skin texture.
type ProfileProperty struct {
	Name      string `json:"name"`
	Value     string `json:"value"`
	Signature string `json:"signature,omitempty"`
}

// SessionVerifier confirms that a player authenticated with the session
// server for the given server hash.
type SessionVerifier interface {
	HasJoined(ctx context.Context, username, serverHash, ip string) (*Profile, error)
}

// SessionClient queries the hasJoined endpoint over HTTP.
type SessionClient struct {
	baseURL      string
	preventProxy bool
	client       *http.Client
}

// NewSessionClient creates a client for baseURL. When preventProxy is set
// the player's address is sent along so the session server can reject
// logins relayed through another host.
func NewSessionClient(baseURL string, timeout time.Duration, preventProxy bool) *SessionClient {
	if baseURL == "" {
		baseURL = DefaultSessionServerURL
	}
	return &SessionClient{
		baseURL:      baseURL,
		preventProxy: preventProxy,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 90 * time.Second,
			},
		},
	}
}

// HasJoined implements SessionVerifier. A 204 answer means the player did
// not authenticate and is reported as ErrAuthenticationFailed.
func (c *SessionClient) HasJoined(ctx context.Context, username, serverHash, ip string) (*Profile, error) {
	q := url.Values{}
	q.Set("username", username)
	q.Set("serverId", serverHash)
	if c.preventProxy && ip != "" {
		q.Set("ip", ip)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+hasJoinedPath+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create session request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("session server request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNoContent:
		return nil, fmt.Errorf("%w: session server did not confirm %s", protocol.ErrAuthenticationFailed, username)
	default:
		return nil, fmt.Errorf("session server returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, fmt.Errorf("failed to read session response: %w", err)
	}
	var profile Profile
	if err := json.Unmarshal(body, &profile); err != nil {
		return nil, fmt.Errorf("failed to decode session response: %w", err)
	}
	if !strings.EqualFold(profile.Name, username) {
		return nil, fmt.Errorf("%w: session server returned profile %q for %q", protocol.ErrAuthenticationFailed, profile.Name, username)
	}
	return &profile, nil
}
