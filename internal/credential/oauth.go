package credential

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"clicksync/internal/logging"
)

// LoadClientConfig reads an installed-app client secret downloaded from the
// Google Cloud console.
func LoadClientConfig(path string, scopes []string) (*oauth2.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read client secret: %w", err)
	}
	conf, err := google.ConfigFromJSON(data, scopes...)
	if err != nil {
		return nil, fmt.Errorf("parse client secret: %w", err)
	}
	return conf, nil
}

type OAuthRefresher struct {
	Config *oauth2.Config
}

func (r OAuthRefresher) Refresh(ctx context.Context, cred Credential) (Credential, error) {
	if cred.RefreshToken == "" {
		return Credential{}, errors.New("missing refresh token")
	}
	tok, err := r.Config.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken}).Token()
	if err != nil {
		return Credential{}, err
	}
	return FromOAuthToken(tok, cred.Scopes), nil
}

// LoopbackAuthorizer runs the installed-app flow: it listens on a loopback
// port, shows the consent URL and exchanges the returned code.
type LoopbackAuthorizer struct {
	Config *oauth2.Config
	Addr   string
	// Prompt presents the consent URL to the user.
	Prompt func(authURL string)
}

type callbackResult struct {
	code string
	err  error
}

func (a *LoopbackAuthorizer) Authorize(ctx context.Context) (Credential, error) {
	addr := a.Addr
	if addr == "" {
		addr = "127.0.0.1:0"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return Credential{}, fmt.Errorf("listen for oauth callback: %w", err)
	}

	conf := *a.Config
	conf.RedirectURL = "http://" + ln.Addr().String() + "/"
	state := uuid.NewString()
	results := make(chan callbackResult, 1)

	router := chi.NewRouter()
	router.Get("/", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("state") != state {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			return
		}
		res := callbackResult{code: q.Get("code")}
		if reason := q.Get("error"); reason != "" {
			res.err = fmt.Errorf("consent denied: %s", reason)
			http.Error(w, "Authorization failed: "+reason, http.StatusForbidden)
		} else if res.code == "" {
			res.err = errors.New("callback without code")
			http.Error(w, "missing code", http.StatusBadRequest)
		} else {
			_, _ = w.Write([]byte("Authorization complete. You can close this tab."))
		}
		select {
		case results <- res:
		default:
		}
	})

	srv := &http.Server{Handler: router, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Warn().Err(err).Msg("oauth callback server")
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	authURL := conf.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	a.prompt(authURL)

	var res callbackResult
	select {
	case <-ctx.Done():
		return Credential{}, ctx.Err()
	case res = <-results:
	}
	if res.err != nil {
		return Credential{}, res.err
	}
	tok, err := conf.Exchange(ctx, res.code)
	if err != nil {
		return Credential{}, fmt.Errorf("exchange code: %w", err)
	}
	return FromOAuthToken(tok, conf.Scopes), nil
}

func (a *LoopbackAuthorizer) prompt(authURL string) {
	if a.Prompt != nil {
		a.Prompt(authURL)
		return
	}
	logging.Info().Str("url", authURL).Msg("open this URL in a browser to authorize access")
	fmt.Fprintf(os.Stderr, "\nAuthorize access by visiting:\n\n  %s\n\n", authURL)
}
