// Package agora provides an HTTP client for an agora chat room. Client
// satisfies the agent runtime's Transport and Room interfaces.
package agora

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/eldtechnologies/agora/internal/models"
)

// DefaultURL is used when no server URL is given.
const DefaultURL = "http://localhost:8080"

// Client is an agora API client.
type Client struct {
	BaseURL    string
	ConfigDir  string
	HTTPClient *http.Client

	mu    sync.Mutex
	name  string
	kind  models.SenderKind
	token string
}

// Session holds the credentials saved between CLI invocations.
type Session struct {
	Name  string            `json:"name"`
	Kind  models.SenderKind `json:"kind"`
	Token string            `json:"token"`
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("agora error %d: %s", e.StatusCode, e.Message)
}

// RejectedError is returned by SendMessage when the room's admission
// control refuses the message.
type RejectedError struct {
	Reason       string
	RetryAfterMs int64
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("agora: message rejected (%s), retry after %dms", e.Reason, e.RetryAfterMs)
}

// RetryAfter returns how long the room asked the sender to wait.
func (e *RejectedError) RetryAfter() time.Duration {
	return time.Duration(e.RetryAfterMs) * time.Millisecond
}

// NewClient creates a new client.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}

	configDir := os.Getenv("AGORA_CONFIG")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".agora")
	}

	return &Client{
		BaseURL:    baseURL,
		ConfigDir:  configDir,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Name returns the identity the client joined as.
func (c *Client) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name
}

// LoadSession restores a saved session from disk.
func (c *Client) LoadSession() error {
	data, err := os.ReadFile(filepath.Join(c.ConfigDir, "session.json"))
	if err != nil {
		return err
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	c.mu.Lock()
	c.name, c.kind, c.token = s.Name, s.Kind, s.Token
	c.mu.Unlock()
	return nil
}

// SaveSession writes the current session to disk.
func (c *Client) SaveSession() error {
	if err := os.MkdirAll(c.ConfigDir, 0700); err != nil {
		return err
	}
	c.mu.Lock()
	s := Session{Name: c.name, Kind: c.kind, Token: c.token}
	c.mu.Unlock()

	data, _ := json.MarshalIndent(s, "", "  ")
	return os.WriteFile(filepath.Join(c.ConfigDir, "session.json"), data, 0600)
}

// doRequest performs an HTTP request and returns the body of a 2xx response.
func (c *Client) doRequest(ctx context.Context, method, path string, in any, authed bool) ([]byte, error) {
	respBody, status, header, err := c.send(ctx, method, path, in, authed)
	if err != nil {
		return nil, err
	}

	// The session dies with the identity when the server reaps it; join
	// again under the same name and retry once.
	if status == http.StatusUnauthorized && authed && c.canRejoin() {
		if _, err := c.rejoin(ctx); err != nil {
			return nil, err
		}
		respBody, status, header, err = c.send(ctx, method, path, in, authed)
		if err != nil {
			return nil, err
		}
	}

	if status >= 400 {
		return nil, decodeError(status, header, respBody)
	}
	return respBody, nil
}

func (c *Client) send(ctx context.Context, method, path string, in any, authed bool) ([]byte, int, http.Header, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, 0, nil, err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, 0, nil, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		c.mu.Lock()
		token := c.token
		c.mu.Unlock()
		if token == "" {
			return nil, 0, nil, errors.New("agora: not joined")
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, nil, err
	}
	return respBody, resp.StatusCode, resp.Header, nil
}

func decodeError(status int, header http.Header, body []byte) error {
	var errResp struct {
		Error        string `json:"error"`
		Reason       string `json:"reason"`
		RetryAfterMs int64  `json:"retry_after_ms"`
	}
	json.Unmarshal(body, &errResp)

	if status == http.StatusTooManyRequests && errResp.Reason != "" {
		retry := errResp.RetryAfterMs
		if retry <= 0 {
			if secs, err := strconv.Atoi(header.Get("Retry-After")); err == nil {
				retry = int64(secs) * 1000
			}
		}
		return &RejectedError{Reason: errResp.Reason, RetryAfterMs: retry}
	}
	if errResp.Error == "" {
		errResp.Error = http.StatusText(status)
	}
	return &APIError{StatusCode: status, Message: errResp.Error}
}

func (c *Client) canRejoin() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name != ""
}

func (c *Client) rejoin(ctx context.Context) (*JoinResponse, error) {
	c.mu.Lock()
	name, kind := c.name, c.kind
	c.mu.Unlock()
	return c.Join(ctx, name, kind)
}

// JoinResponse is the response from joining the room.
type JoinResponse struct {
	Token    string           `json:"token"`
	Identity *models.Identity `json:"identity"`
}

// Join registers name in the room and keeps the returned session token.
func (c *Client) Join(ctx context.Context, name string, kind models.SenderKind) (*JoinResponse, error) {
	respBody, err := c.doRequest(ctx, http.MethodPost, "/join", map[string]string{
		"name": name,
		"kind": string(kind),
	}, false)
	if err != nil {
		return nil, err
	}

	var resp JoinResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.name, c.kind, c.token = resp.Identity.Name, resp.Identity.Kind, resp.Token
	c.mu.Unlock()
	return &resp, nil
}

// Leave removes the identity from the room and forgets the session.
func (c *Client) Leave(ctx context.Context) error {
	if _, err := c.doRequest(ctx, http.MethodPost, "/leave", nil, true); err != nil {
		return err
	}
	c.mu.Lock()
	c.name, c.kind, c.token = "", "", ""
	c.mu.Unlock()
	return nil
}

// MessagesResponse is the response from listing messages.
type MessagesResponse struct {
	Messages []models.Message `json:"messages"`
	HasMore  bool             `json:"has_more"`
}

// GetMessages retrieves up to limit of the newest messages after the given
// Unix ms timestamp (0 for all), oldest first.
func (c *Client) GetMessages(ctx context.Context, limit int, after int64) (*MessagesResponse, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if after > 0 {
		q.Set("after", strconv.FormatInt(after, 10))
	}

	respBody, err := c.doRequest(ctx, http.MethodGet, "/messages?"+q.Encode(), nil, false)
	if err != nil {
		return nil, err
	}

	var resp MessagesResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetRecentMessages returns up to limit of the newest messages, oldest first.
func (c *Client) GetRecentMessages(ctx context.Context, limit int) ([]models.Message, error) {
	resp, err := c.GetMessages(ctx, limit, 0)
	if err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// SendMessage posts body, optionally as a reply to parentID. An admission
// rejection is returned as *RejectedError.
func (c *Client) SendMessage(ctx context.Context, body, parentID string) (*models.Message, error) {
	req := map[string]string{"body": body}
	if parentID != "" {
		req["pid"] = parentID
	}

	respBody, err := c.doRequest(ctx, http.MethodPost, "/messages", req, true)
	if err != nil {
		return nil, err
	}

	var msg models.Message
	if err := json.Unmarshal(respBody, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// DeleteMessage soft-deletes one of the caller's messages.
func (c *Client) DeleteMessage(ctx context.Context, id string) error {
	_, err := c.doRequest(ctx, http.MethodDelete, "/messages/"+url.PathEscape(id), nil, true)
	return err
}

// GetMembers lists the room's identities.
func (c *Client) GetMembers(ctx context.Context) ([]models.Identity, error) {
	respBody, err := c.doRequest(ctx, http.MethodGet, "/members", nil, false)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Members []models.Identity `json:"members"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	return resp.Members, nil
}

// Mute silences name for minutes; zero lifts the mute.
func (c *Client) Mute(ctx context.Context, name string, minutes int) (*models.Identity, error) {
	respBody, err := c.doRequest(ctx, http.MethodPost, "/members/"+url.PathEscape(name)+"/mute",
		map[string]int{"minutes": minutes}, true)
	if err != nil {
		return nil, err
	}

	var id models.Identity
	if err := json.Unmarshal(respBody, &id); err != nil {
		return nil, err
	}
	return &id, nil
}

// GetActivity reports whether the room is idle.
func (c *Client) GetActivity(ctx context.Context) (models.Activity, error) {
	var a models.Activity
	respBody, err := c.doRequest(ctx, http.MethodGet, "/activity", nil, false)
	if err != nil {
		return a, err
	}
	err = json.Unmarshal(respBody, &a)
	return a, err
}

// RequestTurn asks for the exclusive speaking turn. The server grants it
// to the session's identity, which must be identity.
func (c *Client) RequestTurn(ctx context.Context, identity string) (models.TurnGrant, error) {
	var g models.TurnGrant
	if name := c.Name(); identity != "" && name != "" && !strings.EqualFold(identity, name) {
		return g, fmt.Errorf("agora: session belongs to %q, not %q", name, identity)
	}
	respBody, err := c.doRequest(ctx, http.MethodPost, "/turn", nil, true)
	if err != nil {
		return g, err
	}
	err = json.Unmarshal(respBody, &g)
	return g, err
}

// Stats returns the server's raw stats document.
func (c *Client) Stats(ctx context.Context) (map[string]any, error) {
	return c.getDocument(ctx, "/stats")
}

// Health returns the server's health document.
func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	return c.getDocument(ctx, "/health")
}

func (c *Client) getDocument(ctx context.Context, path string) (map[string]any, error) {
	respBody, err := c.doRequest(ctx, http.MethodGet, path, nil, false)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(respBody, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}
