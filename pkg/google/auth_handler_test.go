package google

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/Septikai/obsidian-google-calendar-sync/internal/event_bus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func setupAuth(t *testing.T, tokenURL string) (*GoogleAuth, *event_bus.EventBus) {
	bus := event_bus.NewEventBus()
	cfg := &oauth2.Config{
		ClientID:     "client",
		ClientSecret: "secret",
		Endpoint:     oauth2.Endpoint{AuthURL: "https://accounts.example.com/auth", TokenURL: tokenURL},
		RedirectURL:  "http://localhost:8181" + CallbackPath,
	}
	return newGoogleAuth(cfg, filepath.Join(t.TempDir(), "token.json"), bus), bus
}

func TestGoogleAuth_OAuthLogin(t *testing.T) {
	auth, _ := setupAuth(t, "")
	rec := httptest.NewRecorder()

	auth.OAuthLogin(rec, httptest.NewRequest(http.MethodGet, "/api/integrations/google/auth/login?finalUrl=http://app", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var redirect googleAuthRedirect
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&redirect))
	u, err := url.Parse(redirect.RedirectUrl)
	require.NoError(t, err)
	state := u.Query().Get("state")
	assert.NotEmpty(t, state)
	assert.Equal(t, "offline", u.Query().Get("access_type"))
	assert.Equal(t, "http://app", auth.nonces[state])
}

func TestGoogleAuth_OAuthCallback(t *testing.T) {
	t.Run("should reject an unknown state", func(t *testing.T) {
		auth, _ := setupAuth(t, "")
		rec := httptest.NewRecorder()

		auth.OAuthCallback(rec, httptest.NewRequest(http.MethodGet, CallbackPath+"?code=c&state=forged", nil))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("should store the token and request a refresh", func(t *testing.T) {
		tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"access_token":"access","refresh_token":"refresh","token_type":"Bearer","expires_in":3600}`))
		}))
		defer tokenServer.Close()
		auth, bus := setupAuth(t, tokenServer.URL)
		var refreshes []event_bus.RefreshRequested
		event_bus.SubscribeTyped(bus, event_bus.TopicRefreshRequested, func(e event_bus.EventT[event_bus.RefreshRequested]) error {
			refreshes = append(refreshes, e.Data)
			return nil
		})
		loginURL, err := url.Parse(auth.LoginURL(""))
		require.NoError(t, err)
		state := loginURL.Query().Get("state")
		rec := httptest.NewRecorder()

		auth.OAuthCallback(rec, httptest.NewRequest(http.MethodGet, CallbackPath+"?code=c&state="+state, nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		token, err := auth.getToken()
		require.NoError(t, err)
		require.NotNil(t, token)
		assert.Equal(t, "access", token.AccessToken)
		assert.Equal(t, "refresh", token.RefreshToken)
		assert.Len(t, refreshes, 1)
		assert.Empty(t, auth.nonces)
	})
}

func TestGoogleAuth_GetClient(t *testing.T) {
	t.Run("should return no client without a token", func(t *testing.T) {
		auth, _ := setupAuth(t, "")

		client, err := auth.getClient(context.Background())

		require.NoError(t, err)
		assert.Nil(t, client)
	})

	t.Run("should return a client for a stored token", func(t *testing.T) {
		auth, _ := setupAuth(t, "")
		require.NoError(t, auth.saveToken(&oauth2.Token{AccessToken: "a", Expiry: time.Now().Add(time.Hour)}))

		client, err := auth.getClient(context.Background())

		require.NoError(t, err)
		assert.NotNil(t, client)
	})
}

type staticSource struct {
	token *oauth2.Token
	err   error
}

func (s staticSource) Token() (*oauth2.Token, error) {
	return s.token, s.err
}

func TestPersistingTokenSource(t *testing.T) {
	var saved []string
	save := func(token *oauth2.Token) error {
		saved = append(saved, token.AccessToken)
		return nil
	}

	t.Run("should persist only new tokens", func(t *testing.T) {
		saved = nil
		src := &persistingTokenSource{base: staticSource{token: &oauth2.Token{AccessToken: "old"}}, save: save, last: "old"}
		_, err := src.Token()
		require.NoError(t, err)

		src.base = staticSource{token: &oauth2.Token{AccessToken: "new"}}
		_, err = src.Token()
		require.NoError(t, err)
		_, err = src.Token()
		require.NoError(t, err)

		assert.Equal(t, []string{"new"}, saved)
	})

	t.Run("should pass errors through", func(t *testing.T) {
		src := &persistingTokenSource{base: staticSource{err: errors.New("revoked")}, save: save}

		_, err := src.Token()

		assert.EqualError(t, err, "revoked")
	})
}

func TestServiceImpl_Unauthenticated(t *testing.T) {
	auth, _ := setupAuth(t, "")
	service := &ServiceImpl{auth: auth, calendarId: "primary"}

	_, err := service.ListEvents(context.Background())

	assert.ErrorIs(t, err, ErrUnauthenticated)
}
