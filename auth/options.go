// Package auth implements the OAuth2 token lifecycle: the interactive
// authorization-code flow with a local loopback listener and the system
// browser, the silent refresh-token exchange, and the orchestrator that
// picks between them based on credential state.
package auth

import (
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

// Default provider endpoints.
const (
	GoogleAuthURL     = "https://accounts.google.com/o/oauth2/auth"
	GoogleTokenURL    = "https://accounts.google.com/o/oauth2/token"
	GoogleUserInfoURL = "https://www.googleapis.com/oauth2/v1/userinfo"
)

// DefaultTimeout bounds the wait for the browser redirect. The loopback
// listener never waits forever: an abandoned consent screen fails the job
// instead of hanging it.
const DefaultTimeout = 5 * time.Minute

// Options configures the authentication jobs. The zero value targets the
// Google production endpoints with an ephemeral loopback port.
type Options struct {
	// Endpoint overrides the authorization/token URLs (tests point this at
	// a local server).
	Endpoint oauth2.Endpoint

	// UserInfoURL is the "who am I" endpoint resolving the account email.
	UserInfoURL string

	// ListenPort fixes the loopback port; 0 picks an ephemeral one.
	ListenPort int

	// Timeout bounds the wait for the single browser redirect. Zero means
	// DefaultTimeout.
	Timeout time.Duration

	// Browser launches the authorization URL. Nil uses the system browser.
	Browser func(url string) error

	// SkipStateCheck tolerates redirects without a state parameter. The
	// state sent on the authorization URL is always validated when echoed.
	SkipStateCheck bool

	HTTPClient *http.Client
	Clock      clock.Clock
	Log        *logrus.Entry

	// MaxBackoff is passed through to the underlying jobs' quota backoff.
	MaxBackoff time.Duration
}

func (o Options) withDefaults() Options {
	if o.Endpoint.AuthURL == "" {
		o.Endpoint.AuthURL = GoogleAuthURL
	}
	if o.Endpoint.TokenURL == "" {
		o.Endpoint.TokenURL = GoogleTokenURL
	}
	if o.UserInfoURL == "" {
		o.UserInfoURL = GoogleUserInfoURL
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Browser == nil {
		o.Browser = OpenBrowser
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	return o
}
