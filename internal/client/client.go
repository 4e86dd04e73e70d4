// Package client is a Go client for the sign-up service HTTP API.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"example.com/signup/internal/domain"
)

// Client calls the sign-up service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New constructs a Client for baseURL.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// APIError is a non-2xx response that does not map to a domain error.
type APIError struct {
	Status int
	Type   string
	Detail string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d (%s): %s", e.Status, e.Type, e.Detail)
}

type activityView struct {
	Description     string   `json:"description"`
	Schedule        string   `json:"schedule"`
	MaxParticipants int      `json:"max_participants"`
	Participants    []string `json:"participants"`
}

// List returns every activity ordered by name.
func (c *Client) List(ctx context.Context) ([]domain.Activity, error) {
	var views map[string]activityView
	if err := c.do(ctx, http.MethodGet, "/activities", &views); err != nil {
		return nil, err
	}

	out := make([]domain.Activity, 0, len(views))
	for name, view := range views {
		out = append(out, view.toActivity(name))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Get returns a single activity.
func (c *Client) Get(ctx context.Context, name string) (domain.Activity, error) {
	var view activityView
	if err := c.do(ctx, http.MethodGet, "/activities/"+url.PathEscape(name), &view); err != nil {
		return domain.Activity{}, err
	}
	return view.toActivity(name), nil
}

func (v activityView) toActivity(name string) domain.Activity {
	return domain.Activity{
		Name:            name,
		Description:     v.Description,
		Schedule:        v.Schedule,
		MaxParticipants: v.MaxParticipants,
		Participants:    v.Participants,
	}
}

// Signup enrolls email in activity and returns the server's confirmation.
func (c *Client) Signup(ctx context.Context, activity, email string) (string, error) {
	return c.message(ctx, http.MethodPost, rosterPath(activity, "signup", email))
}

// Remove unregisters email from activity and returns the server's confirmation.
func (c *Client) Remove(ctx context.Context, activity, email string) (string, error) {
	return c.message(ctx, http.MethodDelete, rosterPath(activity, "participants", email))
}

func rosterPath(activity, action, email string) string {
	return "/activities/" + url.PathEscape(activity) + "/" + action + "?email=" + url.QueryEscape(email)
}

func (c *Client) message(ctx context.Context, method, path string) (string, error) {
	var body struct {
		Message string `json:"message"`
	}
	if err := c.do(ctx, method, path, &body); err != nil {
		return "", err
	}
	return body.Message, nil
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(resp.Body)
	var body struct {
		Type   string `json:"type"`
		Detail string `json:"detail"`
	}
	_ = json.Unmarshal(data, &body)
	if body.Detail == "" {
		body.Detail = strings.TrimSpace(string(data))
	}

	switch body.Type {
	case "activity_not_found":
		return fmt.Errorf("%s: %w", body.Detail, domain.ErrActivityNotFound)
	case "participant_not_found":
		return fmt.Errorf("%s: %w", body.Detail, domain.ErrParticipantNotFound)
	case "already_signed_up":
		return fmt.Errorf("%s: %w", body.Detail, domain.ErrAlreadySignedUp)
	}
	return &APIError{Status: resp.StatusCode, Type: body.Type, Detail: body.Detail}
}
