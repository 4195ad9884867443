// Package api is the HTTP client for the auth endpoints. Every call is bounded by
// a timeout, and failures come back as classified *errs.Error values.
package api

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

	"github.com/and161185/arena-auth/internal/errs"
	"github.com/and161185/arena-auth/internal/model"
	"github.com/and161185/arena-auth/internal/validate"
)

// DefaultTimeout bounds a single request when the caller sets none.
const DefaultTimeout = 10 * time.Second

const maxBody = 1 << 20

// Client talks to an arena-auth server.
type Client struct {
	base    *url.URL
	hc      *http.Client
	timeout time.Duration
}

// New builds a client for baseURL. A nil hc uses a fresh http.Client.
func New(baseURL string, timeout time.Duration, hc *http.Client) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("api: parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return nil, fmt.Errorf("api: base url %q must be absolute http(s)", baseURL)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{base: u, hc: hc, timeout: timeout}, nil
}

type envelope struct {
	Success bool              `json:"success"`
	Data    json.RawMessage   `json:"data"`
	Message string            `json:"message"`
	Error   string            `json:"error"`
	Fields  map[string]string `json:"fields"`
}

type sessionData struct {
	User         model.PublicUser `json:"user"`
	Token        string           `json:"token"`
	RefreshToken string           `json:"refreshToken"`
	ExpiresIn    int64            `json:"expiresIn"`
	ExpiresAt    time.Time        `json:"expiresAt"`
}

func (s sessionData) session() model.Session {
	return model.Session{User: s.User, AccessToken: s.Token, RefreshToken: s.RefreshToken}
}

type userData struct {
	User model.PublicUser `json:"user"`
}

// Register creates an account and returns the first session.
func (c *Client) Register(ctx context.Context, in validate.RegisterInput) (model.Session, error) {
	var out sessionData
	if err := c.do(ctx, "api.Register", http.MethodPost, "/auth/register", "", in, &out); err != nil {
		return model.Session{}, err
	}
	return out.session(), nil
}

// Login exchanges credentials for a session.
func (c *Client) Login(ctx context.Context, in validate.LoginInput) (model.Session, error) {
	var out sessionData
	if err := c.do(ctx, "api.Login", http.MethodPost, "/auth/login", "", in, &out); err != nil {
		return model.Session{}, err
	}
	return out.session(), nil
}

// Me returns the user behind access.
func (c *Client) Me(ctx context.Context, access string) (model.PublicUser, error) {
	var out userData
	if err := c.do(ctx, "api.Me", http.MethodGet, "/auth/me", access, nil, &out); err != nil {
		return model.PublicUser{}, err
	}
	return out.User, nil
}

// Refresh trades a refresh token for a new pair.
func (c *Client) Refresh(ctx context.Context, refresh string) (model.Session, error) {
	var out sessionData
	body := map[string]string{"refreshToken": refresh}
	if err := c.do(ctx, "api.Refresh", http.MethodPost, "/auth/refresh", "", body, &out); err != nil {
		return model.Session{}, err
	}
	return out.session(), nil
}

func (c *Client) do(ctx context.Context, op, method, path, bearer string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return errs.E(errs.KindInternal, op, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return errs.E(errs.KindInternal, op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return errs.E(errs.KindTransport, op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return errs.E(errs.KindTransport, op, err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return errs.E(fallbackKind(resp.StatusCode), op, fmt.Errorf("status %d: undecodable body", resp.StatusCode))
	}
	if resp.StatusCode >= 300 || !env.Success {
		return responseError(op, resp.StatusCode, env)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return errs.E(errs.KindInternal, op, fmt.Errorf("decode data: %w", err))
	}
	return nil
}

func responseError(op string, status int, env envelope) error {
	kind := errs.KindFromCode(env.Error)
	if kind == errs.KindUnknown {
		kind = fallbackKind(status)
	}
	msg := env.Message
	if msg == "" {
		msg = http.StatusText(status)
	}
	e := errs.E(kind, op, errors.New(msg))
	e.Fields = env.Fields
	return e
}

// fallbackKind classifies responses that carry no known error code.
func fallbackKind(status int) errs.Kind {
	switch {
	case status == http.StatusBadRequest:
		return errs.KindValidation
	case status == http.StatusUnauthorized:
		return errs.KindCredential
	case status == http.StatusForbidden:
		return errs.KindForbidden
	case status >= 500:
		return errs.KindTransport
	default:
		return errs.KindUnknown
	}
}
