package provider

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

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/sweetpy/intelXv2-sub001/internal/identity/domain"
)

const defaultHTTPTimeout = 10 * time.Second

// HTTPProvider talks to a Supabase-style identity service: a password grant at /auth/v1/token,
// profile rows at /rest/v1/profiles, and password updates at /auth/v1/user.
type HTTPProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPProvider returns a provider for baseURL. transport may be nil (http.DefaultTransport);
// it is wrapped with otelhttp so every provider call is traced.
func NewHTTPProvider(baseURL, apiKey string, transport http.RoundTripper) *HTTPProvider {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &HTTPProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client: &http.Client{
			Timeout:   defaultHTTPTimeout,
			Transport: otelhttp.NewTransport(transport),
		},
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Msg              string `json:"msg"`
}

type profileRow struct {
	ID          string   `json:"id"`
	Email       string   `json:"email"`
	Name        string   `json:"name"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
	MFAEnabled  bool     `json:"mfa_enabled"`
	Company     string   `json:"company"`
	Region      string   `json:"region"`
	AvatarURL   string   `json:"avatar_url"`
	TOTPSecret  string   `json:"totp_secret"`
}

// SignIn exchanges email/password for an access token, then loads the matching profile.
func (p *HTTPProvider) SignIn(ctx context.Context, email, password string) (*domain.User, error) {
	email = domain.NormalizeEmail(email)
	token, err := p.passwordGrant(ctx, email, password)
	if err != nil {
		return nil, err
	}
	row, err := p.profile(ctx, token, email)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	u := &domain.User{
		ID:          row.ID,
		Email:       row.Email,
		Name:        row.Name,
		Role:        row.Role,
		Permissions: row.Permissions,
		MFAEnabled:  row.MFAEnabled,
		LastLogin:   &now,
		Company:     row.Company,
		Region:      row.Region,
		Avatar:      row.AvatarURL,
		TOTPSecret:  row.TOTPSecret,
	}
	if u.Email == "" {
		u.Email = email
	}
	if err := u.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return u, nil
}

// UpdatePassword re-authenticates with current and then sets next.
func (p *HTTPProvider) UpdatePassword(ctx context.Context, user *domain.User, current, next string) error {
	if user == nil {
		return ErrInvalidCredentials
	}
	token, err := p.passwordGrant(ctx, domain.NormalizeEmail(user.Email), current)
	if err != nil {
		return err
	}
	body, _ := json.Marshal(map[string]string{"password": next})
	req, err := p.newRequest(ctx, http.MethodPut, "/auth/v1/user", token, body)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return p.statusError(resp)
	}
	return nil
}

func (p *HTTPProvider) passwordGrant(ctx context.Context, email, password string) (string, error) {
	body, _ := json.Marshal(map[string]string{"email": email, "password": password})
	req, err := p.newRequest(ctx, http.MethodPost, "/auth/v1/token?grant_type=password", "", body)
	if err != nil {
		return "", err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", p.statusError(resp)
	}
	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil || tr.AccessToken == "" {
		return "", fmt.Errorf("%w: malformed token response", ErrUnavailable)
	}
	return tr.AccessToken, nil
}

func (p *HTTPProvider) profile(ctx context.Context, token, email string) (*profileRow, error) {
	q := url.Values{}
	q.Set("email", "eq."+email)
	q.Set("select", "*")
	req, err := p.newRequest(ctx, http.MethodGet, "/rest/v1/profiles?"+q.Encode(), token, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, p.statusError(resp)
	}
	var rows []profileRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("%w: malformed profile response", ErrUnavailable)
	}
	if len(rows) == 0 {
		return nil, ErrProfileNotFound
	}
	return &rows[0], nil
}

func (p *HTTPProvider) newRequest(ctx context.Context, method, path, bearer string, body []byte) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if p.apiKey != "" {
		req.Header.Set("apikey", p.apiKey)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	return req, nil
}

// statusError maps a non-200 response to ErrInvalidCredentials (400/401/403) or ErrUnavailable,
// carrying the provider's message.
func (p *HTTPProvider) statusError(resp *http.Response) error {
	var er errorResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = json.Unmarshal(raw, &er)
	msg := er.ErrorDescription
	if msg == "" {
		msg = er.Msg
	}
	if msg == "" {
		msg = er.Error
	}
	if msg == "" {
		msg = resp.Status
	}
	switch resp.StatusCode {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
		return &RejectedError{Message: msg}
	default:
		return fmt.Errorf("%w: %s", ErrUnavailable, msg)
	}
}

// RejectedError is a credential rejection carrying the provider's message. It matches ErrInvalidCredentials.
type RejectedError struct {
	Message string
}

func (e *RejectedError) Error() string { return e.Message }

func (e *RejectedError) Is(target error) bool { return target == ErrInvalidCredentials }
