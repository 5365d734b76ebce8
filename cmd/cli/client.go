package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, http.StatusText(e.Status), e.Message)
}

type user struct {
	ID        string     `json:"id"`
	Username  string     `json:"username"`
	CreatedAt time.Time  `json:"createdAt"`
	LastSeen  *time.Time `json:"lastSeen,omitempty"`
}

type authResult struct {
	User      user      `json:"user"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type message struct {
	ID          int64     `json:"id"`
	SenderID    string    `json:"senderId"`
	RecipientID *string   `json:"recipientId"`
	Text        string    `json:"text"`
	Timestamp   time.Time `json:"timestamp"`
	Sender      *struct {
		Username string `json:"username"`
	} `json:"sender,omitempty"`
}

type client struct {
	base  string
	token string
	hc    *http.Client
}

func newClient(base, token string) *client {
	return &client{base: strings.TrimRight(base, "/"), token: token, hc: &http.Client{Timeout: 30 * time.Second}}
}

func (c *client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return &apiError{Status: resp.StatusCode, Message: e.Message}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *client) register(ctx context.Context, username, password string) (authResult, error) {
	var out authResult
	err := c.do(ctx, http.MethodPost, "/api/auth/register", map[string]string{"username": username, "password": password}, &out)
	return out, err
}

func (c *client) login(ctx context.Context, username, password string) (authResult, error) {
	var out authResult
	err := c.do(ctx, http.MethodPost, "/api/auth/login", map[string]string{"username": username, "password": password}, &out)
	return out, err
}

func (c *client) me(ctx context.Context) (user, error) {
	var out user
	err := c.do(ctx, http.MethodGet, "/api/me", nil, &out)
	return out, err
}

func (c *client) users(ctx context.Context) ([]user, error) {
	var out []user
	err := c.do(ctx, http.MethodGet, "/api/users", nil, &out)
	return out, err
}

func (c *client) history(ctx context.Context) ([]message, error) {
	var out []message
	err := c.do(ctx, http.MethodGet, "/api/messages", nil, &out)
	return out, err
}

func (c *client) conversation(ctx context.Context, other string) ([]message, error) {
	var out []message
	err := c.do(ctx, http.MethodGet, "/api/conversations/"+url.PathEscape(other), nil, &out)
	return out, err
}

// send posts to everyone when to is empty.
func (c *client) send(ctx context.Context, text, to string) (message, error) {
	req := map[string]any{"text": text}
	if to != "" {
		req["recipientId"] = to
	}
	var out message
	err := c.do(ctx, http.MethodPost, "/api/messages", req, &out)
	return out, err
}
