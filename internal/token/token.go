package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// ErrNoToken reports that no cached platform token exists.
var ErrNoToken = errors.New("no platform token found, please run 'siteclone login' first")

// CachedToken is a platform machine token cached on disk together with the
// platform it was issued for.
type CachedToken struct {
	Token   *oauth2.Token `json:"token"`
	BaseURL string        `json:"base_url"`
}

// Login obtains a new machine token using the client credentials grant.
func Login(ctx context.Context, cfg *clientcredentials.Config, baseURL string) (*CachedToken, error) {
	if cfg == nil {
		return nil, errors.New("nil client credentials config provided")
	}
	tok, err := cfg.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain platform token: %w", err)
	}
	return &CachedToken{Token: tok, BaseURL: baseURL}, nil
}

// Load reads a cached token from a JSON file. A missing file reports
// ErrNoToken.
func Load(path string) (*CachedToken, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoToken
	}
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()

	ct := &CachedToken{}
	if err := json.NewDecoder(f).Decode(ct); err != nil {
		return nil, fmt.Errorf("could not decode token file %s: %w", path, err)
	}
	if ct.Token == nil {
		return nil, ErrNoToken
	}
	return ct, nil
}

// Save writes the token to a JSON file with secure permissions.
func (ct *CachedToken) Save(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("unable to create token directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("unable to cache platform token: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	return json.NewEncoder(f).Encode(ct)
}

// Delete removes the token file from disk. A missing file is not an error.
func Delete(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// IsValid reports whether the token has an access token which does not expire
// within leeway. Machine tokens carry no refresh token so an expiring token
// must be replaced.
func (ct *CachedToken) IsValid(leeway time.Duration) bool {
	if ct == nil || ct.Token == nil || ct.Token.AccessToken == "" {
		return false
	}
	if ct.Token.Expiry.IsZero() {
		return true
	}
	return ct.Token.Expiry.After(time.Now().Add(leeway))
}

// TokenSource returns a source reusing the cached token until it expires and
// then fetching a new one with cfg.
func (ct *CachedToken) TokenSource(ctx context.Context, cfg *clientcredentials.Config) oauth2.TokenSource {
	return oauth2.ReuseTokenSource(ct.Token, cfg.TokenSource(ctx))
}

// ReuseOrRefresh reuses the cached token or replaces it with a new one from
// cfg when it has expired. The function returns whether a new token was
// obtained and any error.
func (ct *CachedToken) ReuseOrRefresh(ctx context.Context, cfg *clientcredentials.Config) (bool, error) {
	var refreshed bool

	possibleNewToken, err := ct.TokenSource(ctx, cfg).Token()
	if err != nil {
		return refreshed, fmt.Errorf("could not reuse or refresh token: %w", err)
	}

	// Check if refreshing occurred. If not, return early.
	if possibleNewToken.AccessToken == ct.Token.AccessToken {
		return refreshed, nil
	}
	refreshed = true
	ct.Token = possibleNewToken
	return refreshed, nil
}
