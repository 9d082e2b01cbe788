package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// DefaultRequestTimeout bounds every session API call so a dead backend
// surfaces as an error instead of a hang.
const DefaultRequestTimeout = 15 * time.Second

// APIClient talks to the session API over HTTP/JSON. It creates and ends
// broadcast records and issues room-access tokens.
type APIClient struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
	logger     zerolog.Logger
}

// APIClientConfig configures an APIClient.
type APIClientConfig struct {
	BaseURL   string
	AuthToken string
	Timeout   time.Duration
	Logger    zerolog.Logger
}

// NewAPIClient creates a session API client.
func NewAPIClient(cfg APIClientConfig) *APIClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &APIClient{
		baseURL:    cfg.BaseURL,
		authToken:  cfg.AuthToken,
		httpClient: &http.Client{Timeout: timeout},
		logger:     cfg.Logger.With().Str("component", "session_api").Logger(),
	}
}

// CreateSession creates and immediately activates a broadcast session.
// Category defaults to music, chat and gifts default to enabled.
func (c *APIClient) CreateSession(ctx context.Context, req CreateSessionRequest) (*BroadcastSession, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	req.Normalize()

	var created BroadcastSession
	if err := c.do(ctx, "create", http.MethodPost, "/api/sessions", req, &created); err != nil {
		return nil, err
	}
	c.logger.Info().Str("session_id", created.ID).Str("title", created.Title).Msg("session created")
	return &created, nil
}

// GetRoomToken requests the host credential for the media transport room.
// The token is a JWT; an already-expired token is rejected here so the room
// connect is never attempted with a dead credential.
func (c *APIClient) GetRoomToken(ctx context.Context, sessionID string) (*RoomAccess, error) {
	var access RoomAccess
	path := fmt.Sprintf("/api/sessions/%s/token", sessionID)
	if err := c.do(ctx, "token", http.MethodPost, path, nil, &access); err != nil {
		return nil, err
	}
	if err := checkRoomToken(access.Token); err != nil {
		return nil, &APIError{Op: "token", Message: err.Error()}
	}
	return &access, nil
}

// EndSession ends the session and returns its terminal summary. A session,
// once ended, cannot be resumed.
func (c *APIClient) EndSession(ctx context.Context, sessionID string) (*SessionSummary, error) {
	var summary SessionSummary
	path := fmt.Sprintf("/api/sessions/%s/end", sessionID)
	if err := c.do(ctx, "end", http.MethodPost, path, nil, &summary); err != nil {
		return nil, err
	}
	c.logger.Info().
		Str("session_id", sessionID).
		Int64("duration", summary.Duration).
		Int("peak_viewers", summary.PeakViewers).
		Msg("session ended")
	return &summary, nil
}

func (c *APIClient) do(ctx context.Context, op, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return errors.Wrapf(err, "marshal %s request", op)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errors.Wrapf(err, "build %s request", op)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &APIError{Op: op, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := readErrorMessage(resp.Body)
		return &APIError{Op: op, StatusCode: resp.StatusCode, Message: msg}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &APIError{Op: op, Message: "decode response: " + err.Error()}
		}
	}
	return nil
}

// readErrorMessage pulls a human-readable message out of an error response,
// falling back to the raw body.
func readErrorMessage(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(raw) == 0 {
		return "no response body"
	}
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Error != "" {
			return body.Error
		}
		if body.Message != "" {
			return body.Message
		}
	}
	return string(raw)
}
