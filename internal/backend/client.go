// Package backend talks to the dashboard REST backend: session resolution,
// login and impersonation calls, and permission persistence.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/bhunte/atelier/internal/access"
)

const (
	pathLogin           = "/auth/login"
	pathLogout          = "/auth/logout"
	pathVerify          = "/auth/verify-token"
	pathImpersonate     = "/auth/impersonate/"
	pathExitImpersonate = "/auth/exitimpersonate"
	pathUsers           = "/admin/get-all-user"
	pathUserPermissions = "/admin/get-permissions/"
	pathSavePermissions = "/admin/save-permissions"
)

// maxBodyBytes bounds how much of a backend response is decoded.
const maxBodyBytes = 4 << 20

// Client wraps the backend REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	validate   *validator.Validate
	logger     *slog.Logger
}

// NewClient constructs a client for the backend rooted at baseURL.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("backend: parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("backend: base url %q must be absolute", baseURL)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    u,
		httpClient: &http.Client{Timeout: timeout},
		validate:   validator.New(),
		logger:     logger,
	}, nil
}

// BaseURL returns a copy of the backend root URL.
func (c *Client) BaseURL() *url.URL {
	u := *c.baseURL
	return &u
}

// Login exchanges email and password for backend credentials.
func (c *Client) Login(ctx context.Context, email, password string) (Credentials, error) {
	var env envelope
	cookies, err := c.do(ctx, http.MethodPost, pathLogin, nil, loginRequest{Email: email, Password: password}, &env)
	if err != nil {
		var statusErr *StatusError
		if errors.Is(err, ErrUnauthorized) || (errors.As(err, &statusErr) && statusErr.Status == http.StatusBadRequest) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if env.Success != nil && !*env.Success {
		return nil, ErrInvalidCredentials
	}
	creds := Credentials(nil).Merge(cookies)
	if creds.Empty() {
		return nil, errors.New("backend: login returned no credentials")
	}
	return creds, nil
}

// Verify resolves the principal the credentials belong to.
func (c *Client) Verify(ctx context.Context, creds Credentials) (*access.Principal, error) {
	var resp verifyResponse
	if _, err := c.do(ctx, http.MethodGet, pathVerify, creds, nil, &resp); err != nil {
		return nil, err
	}
	if resp.User == nil {
		return nil, ErrUnauthorized
	}
	if err := c.validate.Struct(resp.User); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPrincipal, err)
	}
	rec := resp.User
	return &access.Principal{
		ID:            rec.ID,
		Name:          rec.Name,
		Email:         rec.Email,
		Role:          rec.Role,
		Category:      rec.Category,
		Grants:        toGrants(rec.Access, c.logger),
		Impersonating: rec.IsImpersonating,
	}, nil
}

// Logout ends the backend session.
func (c *Client) Logout(ctx context.Context, creds Credentials) error {
	return c.command(ctx, http.MethodPost, pathLogout, creds, nil)
}

// Impersonate switches the credentials to the target user and returns the
// updated credential set.
func (c *Client) Impersonate(ctx context.Context, creds Credentials, targetID string) (Credentials, error) {
	if strings.TrimSpace(targetID) == "" {
		return nil, errors.New("backend: impersonation target required")
	}
	var env envelope
	cookies, err := c.do(ctx, http.MethodPost, pathImpersonate+url.PathEscape(targetID), creds, nil, &env)
	if err != nil {
		return nil, err
	}
	if err := env.check(); err != nil {
		return nil, err
	}
	return creds.Merge(cookies), nil
}

// ExitImpersonation returns the credentials to the original admin identity.
func (c *Client) ExitImpersonation(ctx context.Context, creds Credentials) (Credentials, error) {
	var env envelope
	cookies, err := c.do(ctx, http.MethodPost, pathExitImpersonate, creds, nil, &env)
	if err != nil {
		return nil, err
	}
	if err := env.check(); err != nil {
		return nil, err
	}
	return creds.Merge(cookies), nil
}

// ListUsers returns every team member.
func (c *Client) ListUsers(ctx context.Context, creds Credentials) ([]User, error) {
	var resp usersResponse
	if _, err := c.do(ctx, http.MethodGet, pathUsers, creds, nil, &resp); err != nil {
		return nil, err
	}
	users := make([]User, 0, len(resp.Users))
	for _, rec := range resp.Users {
		users = append(users, rec.toUser())
	}
	return users, nil
}

// UserGrants fetches the stored grants of a user.
func (c *Client) UserGrants(ctx context.Context, creds Credentials, userID string) ([]access.Grant, error) {
	var resp permissionsResponse
	if _, err := c.do(ctx, http.MethodGet, pathUserPermissions+url.PathEscape(userID), creds, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Permissions == nil {
		return []access.Grant{}, nil
	}
	return toGrants(resp.Permissions.Access, c.logger), nil
}

// SaveGrants replaces the stored grants of a user.
func (c *Client) SaveGrants(ctx context.Context, creds Credentials, userID string, grants []access.Grant) error {
	body := savePermissionsRequest{UserID: userID, Access: fromGrants(grants)}
	return c.command(ctx, http.MethodPut, pathSavePermissions, creds, body)
}

func (c *Client) command(ctx context.Context, method, path string, creds Credentials, body any) error {
	var env envelope
	if _, err := c.do(ctx, method, path, creds, body, &env); err != nil {
		return err
	}
	return env.check()
}

func (e envelope) check() error {
	if e.Success != nil && !*e.Success {
		if e.Message != "" {
			return fmt.Errorf("%w: %s", ErrRejected, e.Message)
		}
		return ErrRejected
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, creds Credentials, body, out any) ([]*http.Cookie, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("backend: encode %s: %w", path, err)
		}
		reader = bytes.NewReader(payload)
	}
	endpoint := c.baseURL.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	creds.Apply(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend: %s %s: %w", method, path, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("backend: read %s: %w", path, err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("%w: %s %s", ErrUnauthorized, method, path)
	}
	if resp.StatusCode >= 400 {
		var env envelope
		_ = json.Unmarshal(raw, &env)
		return nil, &StatusError{Method: method, Path: path, Status: resp.StatusCode, Message: env.Message}
	}
	if out != nil && len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return nil, fmt.Errorf("backend: decode %s: %w", path, err)
		}
	}
	return resp.Cookies(), nil
}
