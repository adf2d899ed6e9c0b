package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/Septikai/obsidian-google-calendar-sync/internal/config"
	"github.com/Septikai/obsidian-google-calendar-sync/internal/event_bus"
	"github.com/google/uuid"
	"github.com/natefinch/atomic"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
)

const CallbackPath = "/api/integrations/google/auth/callback"

type googleAuthRedirect struct {
	RedirectUrl string `json:"redirectUrl"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// GoogleAuth runs the OAuth2 flow against the credentials of a Google Cloud client and keeps the resulting
// token in a file. Refreshed tokens are written back to the same file.
type GoogleAuth struct {
	oauthConfig *oauth2.Config
	tokenFile   string
	bus         *event_bus.EventBus

	mu     sync.Mutex
	nonces map[string]string
}

func NewGoogleAuth(cfg config.Application, bus *event_bus.EventBus) (*GoogleAuth, error) {
	credentials, err := os.ReadFile(cfg.Google.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read Google credentials file: %w", err)
	}
	oauthConfig, err := google.ConfigFromJSON(credentials, calendar.CalendarEventsScope, calendar.CalendarReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse Google credentials file: %w", err)
	}
	oauthConfig.RedirectURL = strings.TrimRight(cfg.Server.Host, "/") + CallbackPath

	return newGoogleAuth(oauthConfig, cfg.Google.TokenFile, bus), nil
}

func newGoogleAuth(oauthConfig *oauth2.Config, tokenFile string, bus *event_bus.EventBus) *GoogleAuth {
	return &GoogleAuth{
		oauthConfig: oauthConfig,
		tokenFile:   tokenFile,
		bus:         bus,
		nonces:      make(map[string]string),
	}
}

// LoginURL starts a login and returns the consent page url.
func (g *GoogleAuth) LoginURL(finalUrl string) string {
	stateNonce := uuid.New().String()
	g.mu.Lock()
	g.nonces[stateNonce] = finalUrl
	g.mu.Unlock()

	log.Tracef("Redirecting to Google auth URL with nonce: %s", stateNonce)
	return g.oauthConfig.AuthCodeURL(stateNonce, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

func (g *GoogleAuth) OAuthLogin(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	u := g.LoginURL(r.URL.Query().Get("finalUrl"))

	w.WriteHeader(http.StatusOK)
	encodeErr := json.NewEncoder(w).Encode(googleAuthRedirect{
		RedirectUrl: u,
	})
	if encodeErr != nil {
		http.Error(w, encodeErr.Error(), http.StatusInternalServerError)
	}
}

func (g *GoogleAuth) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	code := r.FormValue("code")
	nonce := r.FormValue("state")

	g.mu.Lock()
	finalUrl, ok := g.nonces[nonce]
	delete(g.nonces, nonce)
	g.mu.Unlock()
	if !ok {
		log.Warnf("Google auth callback with unknown state %q", nonce)
		writeError(w, http.StatusBadRequest, "Unknown authentication state")
		return
	}

	token, err := g.oauthConfig.Exchange(r.Context(), code)
	if err != nil {
		log.Errorf("unable to exchange code for token: %v", err)
		g.finish(w, r, finalUrl, false)
		return
	}
	if err := g.saveToken(token); err != nil {
		log.Error(err)
		g.finish(w, r, finalUrl, false)
		return
	}
	log.Info("Stored Google auth token")

	if g.bus != nil {
		err := g.bus.Emit(context.WithoutCancel(r.Context()), event_bus.TopicRefreshRequested,
			event_bus.RefreshRequested{Reason: "google login"})
		if err != nil {
			log.Errorf("failed to request refresh after login: %v", err)
		}
	}
	g.finish(w, r, finalUrl, true)
}

func (g *GoogleAuth) OAuthLogout(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := os.Remove(g.tokenFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Errorf("failed to delete Google auth token: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to handle Google authentication")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (g *GoogleAuth) finish(w http.ResponseWriter, r *http.Request, finalUrl string, success bool) {
	if finalUrl != "" {
		http.Redirect(w, r, fmt.Sprintf("%s?success=%t", finalUrl, success), http.StatusFound)
		return
	}
	if !success {
		writeError(w, http.StatusBadGateway, "Failed to handle Google authentication")
		return
	}
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]bool{"success": true})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(errorResponse{Error: message}); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (g *GoogleAuth) getToken() (*oauth2.Token, error) {
	content, err := os.ReadFile(g.tokenFile)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("unable to read Google auth token: %w", err)
	}
	var token oauth2.Token
	if err := json.Unmarshal(content, &token); err != nil {
		return nil, fmt.Errorf("unable to decode Google auth token: %w", err)
	}
	return &token, nil
}

func (g *GoogleAuth) saveToken(token *oauth2.Token) error {
	content, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return fmt.Errorf("unable to encode Google auth token: %w", err)
	}
	if err := atomic.WriteFile(g.tokenFile, strings.NewReader(string(content))); err != nil {
		return fmt.Errorf("unable to store Google auth token: %w", err)
	}
	return nil
}

// getClient returns nil without error when no token has been stored yet.
func (g *GoogleAuth) getClient(ctx context.Context) (*http.Client, error) {
	token, err := g.getToken()
	if err != nil {
		log.Error(err)
		return nil, err
	}
	if token == nil {
		return nil, nil
	}
	source := &persistingTokenSource{
		base: g.oauthConfig.TokenSource(context.WithoutCancel(ctx), token),
		last: token.AccessToken,
		save: g.saveToken,
	}
	return oauth2.NewClient(ctx, oauth2.ReuseTokenSource(token, source)), nil
}

// persistingTokenSource stores every token that differs from the previous one.
type persistingTokenSource struct {
	base oauth2.TokenSource
	save func(*oauth2.Token) error

	mu   sync.Mutex
	last string
}

func (s *persistingTokenSource) Token() (*oauth2.Token, error) {
	token, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if token.AccessToken != s.last {
		if err := s.save(token); err != nil {
			log.Errorf("failed to persist refreshed Google token: %v", err)
		} else {
			s.last = token.AccessToken
		}
	}
	return token, nil
}
