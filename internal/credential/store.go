package credential

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/oauth2"

	"clicksync/internal/logging"
)

// Store drives the credential lifecycle against a single Slot.
type Store struct {
	Slot       Slot
	Codec      *Codec
	Refresher  Refresher
	Authorizer Authorizer

	// Interactive is false in CI; the store then never starts a browser
	// grant and fails with an AuthError instead.
	Interactive    bool
	RefreshRetries int

	Now     func() time.Time
	Backoff func() backoff.BackOff
}

// Acquire returns a credential that is valid right now, walking
// load, refresh and interactive grant in that order.
func (s *Store) Acquire(ctx context.Context) (Credential, error) {
	cred, loaded := s.load(ctx)
	if loaded && cred.Valid(s.now()) {
		logging.Debug().Str("slot", s.Slot.Name()).Time("expiry", cred.Expiry).Msg("using stored credential")
		return cred, nil
	}

	if loaded && cred.RefreshToken != "" {
		refreshed, err := s.refresh(ctx, cred)
		if err == nil {
			logging.Info().Str("slot", s.Slot.Name()).Time("expiry", refreshed.Expiry).Msg("credential refreshed")
			s.persist(ctx, refreshed)
			return refreshed, nil
		}
		logging.Warn().Err(err).Str("slot", s.Slot.Name()).Msg("credential refresh failed")
		s.discard(ctx)
		if !s.Interactive {
			return Credential{}, &AuthError{Reason: ReasonRefreshFailed, Err: err}
		}
		return s.Reauthorize(ctx)
	}

	if !s.Interactive {
		return Credential{}, &AuthError{Reason: ReasonInteractiveUnavailable}
	}
	return s.Reauthorize(ctx)
}

// Reauthorize runs the interactive grant unconditionally and persists the
// result.
func (s *Store) Reauthorize(ctx context.Context) (Credential, error) {
	if !s.Interactive || s.Authorizer == nil {
		return Credential{}, &AuthError{Reason: ReasonInteractiveUnavailable}
	}
	cred, err := s.Authorizer.Authorize(ctx)
	if err != nil {
		return Credential{}, &AuthError{Reason: ReasonAuthorizationFailed, Err: err}
	}
	if cred.AccessToken == "" {
		return Credential{}, &AuthError{Reason: ReasonAuthorizationFailed, Err: errors.New("grant returned no access token")}
	}
	logging.Info().Str("slot", s.Slot.Name()).Msg("interactive authorization complete")
	s.persist(ctx, cred)
	return cred, nil
}

// TokenSource hands out cred until it expires, then refreshes and persists
// it in place.
func (s *Store) TokenSource(ctx context.Context, cred Credential) oauth2.TokenSource {
	return &persistingSource{ctx: ctx, store: s, cur: cred}
}

func (s *Store) load(ctx context.Context) (Credential, bool) {
	data, err := s.Slot.Load(ctx)
	if errors.Is(err, ErrEmptySlot) {
		logging.Debug().Str("slot", s.Slot.Name()).Msg("no stored credential")
		return Credential{}, false
	}
	if err != nil {
		logging.Warn().Err(err).Str("slot", s.Slot.Name()).Msg("read credential slot")
		return Credential{}, false
	}
	cred, err := s.Codec.Decode(data)
	if err != nil {
		logging.Warn().Err(err).Str("slot", s.Slot.Name()).Msg("discarding unreadable credential")
		s.discard(ctx)
		return Credential{}, false
	}
	return cred, true
}

func (s *Store) refresh(ctx context.Context, cred Credential) (Credential, error) {
	if s.Refresher == nil {
		return Credential{}, errors.New("no refresher configured")
	}
	retries := s.RefreshRetries
	if retries < 0 {
		retries = 0
	}
	var out Credential
	op := func() error {
		refreshed, err := s.Refresher.Refresh(ctx, cred)
		if err != nil {
			if permanentRefreshError(err) {
				return backoff.Permanent(err)
			}
			logging.Debug().Err(err).Msg("credential refresh attempt failed")
			return err
		}
		if refreshed.RefreshToken == "" {
			refreshed.RefreshToken = cred.RefreshToken
		}
		if len(refreshed.Scopes) == 0 {
			refreshed.Scopes = cred.Scopes
		}
		out = refreshed
		return nil
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(s.backoff(), uint64(retries)), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return Credential{}, err
	}
	if !out.Valid(s.now()) {
		return Credential{}, errors.New("refresh returned an unusable token")
	}
	return out, nil
}

// persist failures are logged only; the in-memory credential stays usable
// for this run.
func (s *Store) persist(ctx context.Context, cred Credential) {
	data, err := s.Codec.Encode(cred)
	if err != nil {
		logging.Error().Err(err).Msg("encode credential")
		return
	}
	if err := s.Slot.Save(ctx, data); err != nil {
		logging.Error().Err(err).Str("slot", s.Slot.Name()).Msg("persist credential")
	}
}

func (s *Store) discard(ctx context.Context) {
	if err := s.Slot.Delete(ctx); err != nil {
		logging.Warn().Err(err).Str("slot", s.Slot.Name()).Msg("delete credential")
	}
}

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Store) backoff() backoff.BackOff {
	if s.Backoff != nil {
		return s.Backoff()
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxElapsedTime = 30 * time.Second
	return b
}

// permanentRefreshError reports rejections that retrying cannot fix.
func permanentRefreshError(err error) bool {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return false
	}
	if re.ErrorCode == "invalid_grant" || re.ErrorCode == "invalid_client" || re.ErrorCode == "unauthorized_client" {
		return true
	}
	if re.Response != nil {
		switch re.Response.StatusCode {
		case 400, 401, 403:
			return true
		}
	}
	return false
}

type persistingSource struct {
	ctx   context.Context
	store *Store

	mu  sync.Mutex
	cur Credential
	// err latches the first failure; the source never retries after it.
	err error
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	if p.cur.Valid(p.store.now()) {
		return p.cur.OAuthToken(), nil
	}
	if p.cur.RefreshToken == "" {
		p.err = &AuthError{Reason: ReasonRefreshFailed, Err: errors.New("credential expired without refresh token")}
		return nil, p.err
	}
	refreshed, err := p.store.refresh(p.ctx, p.cur)
	if err != nil {
		logging.Warn().Err(err).Str("slot", p.store.Slot.Name()).Msg("credential refresh failed mid-run")
		p.store.discard(p.ctx)
		p.err = &AuthError{Reason: ReasonRefreshFailed, Err: err}
		return nil, p.err
	}
	p.store.persist(p.ctx, refreshed)
	p.cur = refreshed
	return refreshed.OAuthToken(), nil
}
