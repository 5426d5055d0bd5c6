// Package authapi is the HTTP client for the remote gate-management
// authentication service. It is a thin typed wrapper: one request per
// call, no retry or backoff at this layer.
package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"gatepass-agent/internal/domain"

	"github.com/google/uuid"
)

// APIError is a non-2xx response from the auth service.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("auth service returned status %d", e.Status)
	}
	return fmt.Sprintf("auth service returned status %d: %s", e.Status, e.Message)
}

// Temporary reports whether the failure is worth retrying later: server
// errors are, rejections (bad credentials, dead refresh token) are not.
func (e *APIError) Temporary() bool {
	return e.Status >= 500
}

// Client talks to the auth endpoints of the backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the given base URL. Timeouts live in the
// underlying transport; the session layer adds none of its own.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Wire shapes. Token lifetimes are seconds relative to the response; the
// session layer converts them to absolute instants against its own clock.
type tokenLifetimes struct {
	AccessExpiresIn  int64 `json:"access_expires_in"`
	RefreshExpiresIn int64 `json:"refresh_expires_in"`
}

type companyPayload struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	IsDefault bool   `json:"is_default"`
}

type userPayload struct {
	ID        string           `json:"id"`
	Email     string           `json:"email"`
	Name      string           `json:"name"`
	IsStaff   bool             `json:"is_staff"`
	Companies []companyPayload `json:"companies"`
}

type tokenResponse struct {
	User            *userPayload   `json:"user,omitempty"`
	Access          string         `json:"access"`
	Refresh         string         `json:"refresh"`
	TokensExpiresIn tokenLifetimes `json:"tokensExpiresIn"`
}

type meResponse struct {
	userPayload
	Permissions []string `json:"permissions"`
}

type errorResponse struct {
	Detail string `json:"detail"`
	Error  string `json:"error"`
}

// Login exchanges credentials for an identity plus a token pair.
func (c *Client) Login(ctx context.Context, email, password string) (*domain.LoginResult, error) {
	body := map[string]string{"email": email, "password": password}

	var resp tokenResponse
	if err := c.postJSON(ctx, "/auth/login", body, &resp); err != nil {
		return nil, err
	}
	if resp.User == nil || resp.Access == "" || resp.Refresh == "" {
		return nil, fmt.Errorf("login response missing user or tokens")
	}

	return &domain.LoginResult{
		User:  toUser(resp.User),
		Grant: toGrant(&resp),
	}, nil
}

// Refresh exchanges a refresh token for a rotated pair.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*domain.TokenGrant, error) {
	body := map[string]string{"refresh": refreshToken}

	var resp tokenResponse
	if err := c.postJSON(ctx, "/auth/refresh", body, &resp); err != nil {
		return nil, err
	}
	if resp.Access == "" || resp.Refresh == "" {
		return nil, fmt.Errorf("refresh response missing tokens")
	}

	grant := toGrant(&resp)
	return &grant, nil
}

// Me fetches the full profile with flattened permission strings and
// company memberships.
func (c *Client) Me(ctx context.Context, accessToken string) (*domain.Profile, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/auth/me", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	var resp meResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}

	return &domain.Profile{
		User:        toUser(&resp.userPayload),
		Permissions: resp.Permissions,
	}, nil
}

// ChangePassword posts the old/new password pair, form-encoded per the
// backend's contract.
func (c *Client) ChangePassword(ctx context.Context, accessToken, oldPassword, newPassword string) error {
	form := url.Values{}
	form.Set("old_password", oldPassword)
	form.Set("new_password", newPassword)

	req, err := c.newRequest(ctx, http.MethodPost, "/auth/change-password",
		strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	return c.do(req, nil)
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request body: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(encoded))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.New().String())
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Status: resp.StatusCode, Message: readErrorMessage(resp.Body)}
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.URL.Path, err)
	}
	return nil
}

func readErrorMessage(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil {
		return ""
	}
	var parsed errorResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return ""
	}
	if parsed.Detail != "" {
		return parsed.Detail
	}
	return parsed.Error
}

func toUser(p *userPayload) *domain.User {
	user := &domain.User{
		ID:    p.ID,
		Email: p.Email,
		Name:  p.Name,
		Staff: p.IsStaff,
	}
	for _, c := range p.Companies {
		user.Companies = append(user.Companies, domain.Company{
			ID:      c.ID,
			Name:    c.Name,
			Default: c.IsDefault,
		})
	}
	return user
}

func toGrant(resp *tokenResponse) domain.TokenGrant {
	return domain.TokenGrant{
		AccessToken:  resp.Access,
		RefreshToken: resp.Refresh,
		AccessTTL:    time.Duration(resp.TokensExpiresIn.AccessExpiresIn) * time.Second,
		RefreshTTL:   time.Duration(resp.TokensExpiresIn.RefreshExpiresIn) * time.Second,
	}
}
