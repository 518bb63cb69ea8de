// Package credential owns the OAuth credential used for every remote call:
// loading it from its persistence slot, refreshing it, falling back to an
// interactive grant where a human is present, and persisting the result.
package credential

import (
	"context"
	"errors"
	"time"

	"golang.org/x/oauth2"
)

// expiryDelta treats tokens this close to expiry as already expired.
const expiryDelta = 10 * time.Second

const (
	ReasonRefreshFailed          = "refresh failed, manual reauthorization required"
	ReasonInteractiveUnavailable = "interactive auth unavailable"
	ReasonAuthorizationFailed    = "interactive authorization failed"
)

var (
	// ErrEmptySlot is returned by Slot.Load when nothing has been persisted.
	ErrEmptySlot = errors.New("credential slot is empty")
	// ErrCorrupt marks a persisted artifact that cannot be decoded.
	ErrCorrupt = errors.New("corrupt persisted credential")
)

// AuthError means no valid credential could be produced by any path allowed
// in the current execution context.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return "auth: " + e.Reason + ": " + e.Err.Error()
	}
	return "auth: " + e.Reason
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

type Credential struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
	Scopes       []string  `json:"scopes,omitempty"`
}

// Valid reports whether the access token can be used at now. A zero expiry
// never expires.
func (c Credential) Valid(now time.Time) bool {
	if c.AccessToken == "" {
		return false
	}
	return c.Expiry.IsZero() || now.Add(expiryDelta).Before(c.Expiry)
}

func (c Credential) OAuthToken() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		TokenType:    c.TokenType,
		Expiry:       c.Expiry,
	}
}

func FromOAuthToken(tok *oauth2.Token, scopes []string) Credential {
	if tok == nil {
		return Credential{}
	}
	return Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
		Scopes:       append([]string(nil), scopes...),
	}
}

// Slot is the single place a serialized credential is persisted.
type Slot interface {
	Name() string
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
	Delete(ctx context.Context) error
}

// Refresher exchanges a refresh token for a new access token.
type Refresher interface {
	Refresh(ctx context.Context, cred Credential) (Credential, error)
}

// Authorizer runs an interactive grant and blocks until it completes.
type Authorizer interface {
	Authorize(ctx context.Context) (Credential, error)
}
