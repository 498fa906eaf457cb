package webrtc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"peercord/internal/core/domain"
	"peercord/pkg/retry"
)

// TokenSource returns a broker token bound to id.
type TokenSource func(ctx context.Context, id domain.PeerID) (string, error)

// HTTPTokenSource requests tokens from the broker's identity endpoint, which
// is served next to the websocket on the same host.
func HTTPTokenSource(signalURL string, client *http.Client, cfg retry.Config) (TokenSource, error) {
	endpoint, err := identityEndpoint(signalURL)
	if err != nil {
		return nil, err
	}
	if client == nil {
		client = http.DefaultClient
	}

	return func(ctx context.Context, id domain.PeerID) (string, error) {
		body, err := json.Marshal(map[string]string{"peer_id": string(id)})
		if err != nil {
			return "", err
		}
		return retry.RetryWithResult(ctx, cfg, func() (string, error) {
			return requestToken(ctx, client, endpoint, body)
		})
	}, nil
}

func identityEndpoint(signalURL string) (string, error) {
	u, err := url.Parse(signalURL)
	if err != nil {
		return "", fmt.Errorf("invalid signal url: %w", err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	case "http", "https":
	default:
		return "", fmt.Errorf("unsupported signal url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(strings.TrimSuffix(u.Path, "/"), "/ws") + "/api/v1/identities"
	u.RawQuery = ""
	return u.String(), nil
}

func requestToken(ctx context.Context, client *http.Client, endpoint string, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", retry.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out struct {
		Token   string `json:"token"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode identity response: %w", err)
	}

	switch {
	case resp.StatusCode >= 500:
		return "", fmt.Errorf("identity endpoint: %s", resp.Status)
	case resp.StatusCode != http.StatusCreated:
		return "", retry.Permanent(fmt.Errorf("identity endpoint refused: %s %s", resp.Status, out.Message))
	case out.Token == "":
		return "", retry.Permanent(fmt.Errorf("identity endpoint returned no token"))
	}
	return out.Token, nil
}
