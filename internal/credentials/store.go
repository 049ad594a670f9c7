package credentials

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// AccountAccess mirrors the AccountAccess entity from spec.md §3: one row
// per UserAccount holding encrypted OAuth tokens and their expiry.
type AccountAccess struct {
	UserID          string
	UserEmail       string
	AccessTokenEnc  string
	RefreshTokenEnc string
	ExpiresAt       time.Time
}

// Store is the persistence slice the Credential Store needs. It is defined
// here (not in internal/store) so this package has no dependency on the
// rest of the persistence gateway; internal/store.Store satisfies it
// structurally.
type Store interface {
	GetAccountAccess(ctx context.Context, userID string) (AccountAccess, error)
	UpdateAccessToken(ctx context.Context, userID string, accessTokenEnc string, expiresAt time.Time) error
}

// Refresher exchanges a refresh token for a new access token against the
// mail provider's OAuth token endpoint. Kept as an interface so tests can
// substitute a fake without performing network I/O.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (accessToken string, expiresAt time.Time, err error)
}

var ErrNoAccess = errors.New("credentials: no account access on file")

// HTTPRefresher is the production Refresher, grounded on the plain
// net/http.Client + context pattern used throughout this corpus for
// outbound calls (internal/vector.Qdrant, internal/embed.OpenAI in the
// teacher repo this was adapted from).
type HTTPRefresher struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	HTTPClient   *http.Client
}

func NewHTTPRefresher(tokenURL, clientID, clientSecret string) *HTTPRefresher {
	return &HTTPRefresher{
		TokenURL:     tokenURL,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		HTTPClient:   &http.Client{Timeout: 15 * time.Second},
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (r *HTTPRefresher) Refresh(ctx context.Context, refreshToken string) (string, time.Time, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", r.ClientID)
	form.Set("client_secret", r.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.TokenURL, bytes.NewBufferString(form.Encode()))
	if err != nil {
		return "", time.Time{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.HTTPClient.Do(req)
	if err != nil {
		return "", time.Time{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", time.Time{}, fmt.Errorf("oauth refresh failed: status %d", resp.StatusCode)
	}

	var decoded tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", time.Time{}, err
	}
	if decoded.AccessToken == "" {
		return "", time.Time{}, errors.New("oauth refresh: empty access token")
	}
	expiresIn := decoded.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 3600
	}
	return decoded.AccessToken, time.Now().UTC().Add(time.Duration(expiresIn) * time.Second), nil
}

// Service implements spec.md §4.1: never expose plaintext tokens beyond
// function return values, and serialize refresh externally (one
// Per-User Processor per email) rather than locking inside the store.
type Service struct {
	Store     Store
	Cipher    *Cipher
	Refresher Refresher
	Now       func() time.Time
}

func NewService(store Store, cipher *Cipher, refresher Refresher) *Service {
	return &Service{
		Store:     store,
		Cipher:    cipher,
		Refresher: refresher,
		Now:       func() time.Time { return time.Now().UTC() },
	}
}

// GetFreshAccessToken returns a usable access token for userID, refreshing
// it against the provider and persisting the new encrypted value when the
// stored one has expired.
func (s *Service) GetFreshAccessToken(ctx context.Context, userID string) (string, error) {
	access, err := s.Store.GetAccountAccess(ctx, userID)
	if err != nil {
		return "", err
	}

	if s.Now().Before(access.ExpiresAt) {
		return s.Cipher.Decrypt(access.AccessTokenEnc)
	}

	refreshToken, err := s.Cipher.Decrypt(access.RefreshTokenEnc)
	if err != nil {
		return "", err
	}

	newAccessToken, newExpiresAt, err := s.Refresher.Refresh(ctx, refreshToken)
	if err != nil {
		return "", err
	}

	encrypted, err := s.Cipher.Encrypt(newAccessToken)
	if err != nil {
		return "", err
	}
	if err := s.Store.UpdateAccessToken(ctx, userID, encrypted, newExpiresAt); err != nil {
		return "", err
	}

	return newAccessToken, nil
}
