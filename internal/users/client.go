// Package users talks to the backend user-record endpoint and turns its
// permission documents into normalized permission sets.
package users

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/horsemanagement/stablegate/internal/access"
)

var (
	// ErrNotFound indicates the backend has no such user.
	ErrNotFound = errors.New("users: not found")
	// ErrMalformedRecord indicates a user record that could not be decoded.
	ErrMalformedRecord = errors.New("users: malformed user record")
)

// StatusError carries an unexpected backend status code.
type StatusError struct {
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("users: backend returned status %d", e.Status)
}

// Client wraps calls to the backend /users endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient constructs a Client for the backend at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// GetRecord fetches GET /users/{id}. token, when set, is forwarded as a
// bearer credential.
func (c *Client) GetRecord(ctx context.Context, userID, token string) (Record, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.userURL(userID), nil)
	if err != nil {
		return Record{}, err
	}
	req.Header.Set("Accept", "application/json")
	setBearer(req, token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Record{}, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if err := checkStatus(resp); err != nil {
		return Record{}, err
	}

	var rec Record
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	return rec, nil
}

type permissionsUpdate struct {
	Permissions access.PermissionSet `json:"permissions"`
}

// UpdatePermissions stores perms on the user via PUT /users/{id}.
func (c *Client) UpdatePermissions(ctx context.Context, userID, token string, perms access.PermissionSet) error {
	body, err := json.Marshal(permissionsUpdate{Permissions: perms})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.userURL(userID), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	setBearer(req, token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()
	return checkStatus(resp)
}

func (c *Client) userURL(userID string) string {
	return fmt.Sprintf("%s/users/%s", c.baseURL, url.PathEscape(userID))
}

func setBearer(req *http.Request, token string) {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

func checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return &StatusError{Status: resp.StatusCode}
	}
	return nil
}
