package auth

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/calder-labs/gapi"
	"golang.org/x/oauth2"
)

// redirectPage is the fixed reply served to the browser after the single
// accepted redirect, success or not.
const redirectPage = "HTTP/1.1 200 OK\r\n" +
	"Content-Type: text/html\r\n" +
	"\r\n" +
	"<!DOCTYPE html><html>" +
	"<head><meta charset=\"UTF-8\"><title>Authentication finished</title></head>" +
	"<body><h1>You can close this tab and return to the application now.</h1></body>" +
	"</html>\r\n"

// FullAuthenticationJob runs the interactive OAuth2 authorization-code flow:
// it opens a loopback listener, hands the provider's authorization URL to
// the browser, captures the single redirect carrying the code, exchanges the
// code for tokens, and resolves the account's email through the userinfo
// endpoint. The account is only mutated once every step has succeeded.
type FullAuthenticationJob struct {
	account   *gapi.Account
	apiKey    string
	apiSecret string
	username  string
	opts      Options
}

// NewFullAuthenticationJob creates an interactive authorization for the
// given account, which must carry at least one scope.
func NewFullAuthenticationJob(account *gapi.Account, apiKey, apiSecret string, opts Options) *FullAuthenticationJob {
	return &FullAuthenticationJob{account: account, apiKey: apiKey, apiSecret: apiSecret, opts: opts.withDefaults()}
}

// SetUsername pre-fills the provider's login form so the user knows which
// identity they are (re)authenticating.
func (f *FullAuthenticationJob) SetUsername(username string) {
	f.username = username
}

// Account returns the account the job updates in place.
func (f *FullAuthenticationJob) Account() *gapi.Account {
	return f.account
}

// Run performs the full flow. On any failure the account's tokens are left
// exactly as they were.
func (f *FullAuthenticationJob) Run(ctx context.Context) error {
	if f.account == nil {
		return gapi.ErrInvalidAccount("Invalid account")
	}
	if len(f.account.Scopes) == 0 {
		return gapi.ErrInvalidAccount("No scopes to authenticate for")
	}

	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", fmt.Sprintf("127.0.0.1:%d", f.opts.ListenPort))
	if err != nil {
		return &gapi.Error{Code: gapi.CodeBackendNotReady, Message: "Could not start OAuth listener", Cause: err}
	}
	defer ln.Close()

	port := ln.Addr().(*net.TCPAddr).Port
	redirectURI := fmt.Sprintf("http://127.0.0.1:%d", port)

	state := uuid.NewString()
	cfg := oauth2.Config{
		ClientID:     f.apiKey,
		ClientSecret: f.apiSecret,
		Endpoint:     f.opts.Endpoint,
		RedirectURL:  redirectURI,
		Scopes:       f.account.Scopes,
	}
	var extra []oauth2.AuthCodeOption
	if f.username != "" {
		extra = append(extra, oauth2.SetAuthURLParam("login_hint", f.username))
	}
	authURL := cfg.AuthCodeURL(state, extra...)

	// The browser blocks on its own HTTP request to the listener, so it
	// must not run on this goroutine.
	go func() {
		if err := f.opts.Browser(authURL); err != nil && f.opts.Log != nil {
			f.opts.Log.WithError(err).Warn("could not open browser, open the authorization URL manually")
			f.opts.Log.Info(authURL)
		}
	}()

	code, err := f.waitForRedirect(ctx, ln, state)
	if err != nil {
		return err
	}

	tokens, err := f.exchangeCode(ctx, code, redirectURI)
	if err != nil {
		return err
	}

	email, err := f.fetchEmail(ctx, tokens.AccessToken)
	if err != nil {
		return err
	}

	f.account.AccessToken = tokens.AccessToken
	f.account.RefreshToken = tokens.RefreshToken
	f.account.ExpiresAt = f.opts.Clock.Now().Add(time.Duration(tokens.ExpiresIn) * time.Second)
	f.account.Name = email
	f.account.ClearScopesChanged()
	return nil
}

// waitForRedirect accepts exactly one loopback connection and extracts the
// authorization code from its request line. The wait is bounded by the
// configured timeout and by ctx.
func (f *FullAuthenticationJob) waitForRedirect(ctx context.Context, ln net.Listener, state string) (string, error) {
	type tcpListener interface {
		SetDeadline(time.Time) error
	}
	if tl, ok := ln.(tcpListener); ok {
		_ = tl.SetDeadline(time.Now().Add(f.opts.Timeout))
	}
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	conn, err := ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return "", &gapi.Error{Code: gapi.CodeCancelled, Message: "Authentication cancelled", Cause: ctx.Err()}
		}
		return "", &gapi.Error{Code: gapi.CodeAuthCancelled, Message: "Timed out waiting for the browser redirect", Cause: err}
	}
	defer conn.Close()
	// Only one redirect is ever accepted.
	ln.Close()

	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return "", gapi.ErrInvalidResponse(fmt.Sprintf("Error receiving redirect: %v", err))
	}

	// Answer the browser before judging the request; the tab closes either
	// way.
	_, _ = conn.Write([]byte(redirectPage))

	parts := strings.Fields(strings.TrimSpace(line))
	if len(parts) != 3 || parts[0] != http.MethodGet || !strings.HasPrefix(parts[2], "HTTP/1.") {
		return "", gapi.ErrInvalidResponse("Redirect request invalid")
	}
	target, err := url.Parse(parts[1])
	if err != nil {
		return "", gapi.ErrInvalidResponse("Redirect request invalid")
	}

	query := target.Query()
	if got := query.Get("state"); got != "" || !f.opts.SkipStateCheck {
		if got != state {
			return "", gapi.ErrInvalidResponse("Redirect state mismatch")
		}
	}
	code := query.Get("code")
	if code == "" {
		if errParam := query.Get("error"); errParam != "" {
			return "", &gapi.Error{Code: gapi.CodeUnknown, Message: errParam}
		}
		return "", gapi.ErrInvalidResponse("Could not extract authorization code from the redirect")
	}
	return code, nil
}

// exchangeCode trades the authorization code for tokens through the job
// engine, so quota backoff and status classification apply to the token
// endpoint too.
func (f *FullAuthenticationJob) exchangeCode(ctx context.Context, code, redirectURI string) (*tokenResponse, error) {
	tokenURL, err := url.Parse(f.opts.Endpoint.TokenURL)
	if err != nil {
		return nil, gapi.ErrInvalidAccount("invalid token endpoint URL")
	}

	form := url.Values{}
	form.Set("client_id", f.apiKey)
	form.Set("client_secret", f.apiSecret)
	form.Set("code", code)
	form.Set("redirect_uri", redirectURI)
	form.Set("grant_type", "authorization_code")

	var tokens *tokenResponse
	job := &gapi.Job{
		HTTPClient: f.opts.HTTPClient,
		Clock:      f.opts.Clock,
		Log:        f.opts.Log,
		MaxBackoff: f.opts.MaxBackoff,
		StartFunc: func(j *gapi.Job) error {
			j.Enqueue("POST", tokenURL, []byte(form.Encode()), formContentType)
			return nil
		},
		HandleReplyFunc: func(j *gapi.Job, reply *gapi.Reply) error {
			tr, err := parseTokenResponse(reply.Body)
			if err != nil {
				return err
			}
			tokens = tr
			return nil
		},
	}
	if err := job.Run(ctx); err != nil {
		return nil, err
	}
	if tokens == nil || tokens.RefreshToken == "" {
		return nil, gapi.ErrInvalidResponse("Token endpoint returned no refresh token")
	}
	return tokens, nil
}

// fetchEmail resolves the authenticated identity through the userinfo
// endpoint. This is how a previously-unnamed account acquires its name.
func (f *FullAuthenticationJob) fetchEmail(ctx context.Context, accessToken string) (string, error) {
	infoURL, err := url.Parse(f.opts.UserInfoURL)
	if err != nil {
		return "", gapi.ErrInvalidAccount("invalid userinfo endpoint URL")
	}

	var email string
	job := &gapi.Job{
		Account:    &gapi.Account{AccessToken: accessToken},
		HTTPClient: f.opts.HTTPClient,
		Clock:      f.opts.Clock,
		Log:        f.opts.Log,
		MaxBackoff: f.opts.MaxBackoff,
		StartFunc: func(j *gapi.Job) error {
			j.Enqueue("GET", infoURL, nil, "")
			return nil
		},
		HandleReplyFunc: func(j *gapi.Job, reply *gapi.Reply) error {
			var info struct {
				Email string `json:"email"`
			}
			if err := json.Unmarshal(reply.Body, &info); err != nil || info.Email == "" {
				return gapi.ErrInvalidResponse("Failed to parse account info")
			}
			email = info.Email
			return nil
		},
	}
	if err := job.Run(ctx); err != nil {
		return "", err
	}
	return email, nil
}
