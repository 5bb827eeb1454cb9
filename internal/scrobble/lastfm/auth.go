package lastfm

import (
	"context"
	"fmt"
	"net/url"
	"os/exec"
	"runtime"

	lfm "github.com/shkh/lastfm-go/lastfm"
)

// Authorizer runs the Last.fm desktop authorization flow: request a token,
// let the user approve it in a browser, then exchange it for a session key.
// Requests go to DefaultAPIURL whatever the sink is configured with.
type Authorizer struct {
	api    *lfm.Api
	apiKey string
}

// NewAuthorizer creates an Authorizer for the given API credentials.
func NewAuthorizer(apiKey, apiSecret string) *Authorizer {
	return &Authorizer{
		api:    lfm.New(apiKey, apiSecret),
		apiKey: apiKey,
	}
}

// Token requests an unauthorized request token.
func (a *Authorizer) Token() (string, error) {
	token, err := a.api.GetToken()
	if err != nil {
		return "", fmt.Errorf("get token: %w", err)
	}
	return token, nil
}

// AuthURL returns the page where the user approves token.
func (a *Authorizer) AuthURL(token string) string {
	return "https://www.last.fm/api/auth/?api_key=" + url.QueryEscape(a.apiKey) + "&token=" + url.QueryEscape(token)
}

// Session exchanges an approved token for a session key.
func (a *Authorizer) Session(token string) (string, error) {
	if err := a.api.LoginWithToken(token); err != nil {
		return "", fmt.Errorf("get session: %w", err)
	}
	key := a.api.GetSessionKey()
	if key == "" {
		return "", fmt.Errorf("get session: empty session key")
	}
	return key, nil
}

// OpenBrowser opens the given URL in the default browser.
func OpenBrowser(u string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", u)
	case "linux":
		cmd = exec.Command("xdg-open", u)
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", u)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}

	return cmd.Start()
}

// Flow is the token exchange Login drives. *Authorizer implements it.
type Flow interface {
	Token() (string, error)
	AuthURL(token string) string
	Session(token string) (string, error)
}

// SessionSaver persists the session key once authorization completes.
type SessionSaver interface {
	SaveSession(ctx context.Context, key string) error
}

// Login ties the authorization flow to session storage. Begin and Finish
// are separate because the user approves the token in between.
type Login struct {
	Auth  Flow
	Store SessionSaver
	// Open shows the approval page. Nil leaves it to the caller.
	Open func(u string) error
}

// Begin requests a token and opens the approval page. The URL is returned
// so it can be shown when no browser is available.
func (l *Login) Begin(ctx context.Context) (authURL, token string, err error) {
	token, err = l.Auth.Token()
	if err != nil {
		return "", "", err
	}
	authURL = l.Auth.AuthURL(token)
	if l.Open != nil {
		// Not fatal: the URL is still shown to the user.
		_ = l.Open(authURL)
	}
	return authURL, token, nil
}

// Finish exchanges the approved token and stores the session key.
func (l *Login) Finish(ctx context.Context, token string) error {
	key, err := l.Auth.Session(token)
	if err != nil {
		return err
	}
	if err := l.Store.SaveSession(ctx, key); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}
