package auth

import (
	"net/url"
	"time"

	"github.com/calder-labs/gapi"
)

const formContentType = "application/x-www-form-urlencoded"

// RefreshTokensJob silently exchanges the account's refresh token for a new
// access token. Only the access token and expiry change; the refresh token
// is not rotated.
type RefreshTokensJob struct {
	gapi.Job

	account   *gapi.Account
	apiKey    string
	apiSecret string
	opts      Options
}

// NewRefreshTokensJob creates a refresh exchange for the given account. The
// account is not bound to the engine: the token endpoint must not see the
// stale bearer token.
func NewRefreshTokensJob(account *gapi.Account, apiKey, apiSecret string, opts Options) *RefreshTokensJob {
	r := &RefreshTokensJob{account: account, apiKey: apiKey, apiSecret: apiSecret, opts: opts.withDefaults()}
	r.Job.StartFunc = r.start
	r.Job.HandleReplyFunc = r.handleReply
	r.Job.HTTPClient = r.opts.HTTPClient
	r.Job.Clock = r.opts.Clock
	r.Job.Log = r.opts.Log
	r.Job.MaxBackoff = r.opts.MaxBackoff
	return r
}

// Account returns the account the job updates in place.
func (r *RefreshTokensJob) Account() *gapi.Account {
	return r.account
}

func (r *RefreshTokensJob) start(j *gapi.Job) error {
	tokenURL, err := url.Parse(r.opts.Endpoint.TokenURL)
	if err != nil {
		return gapi.ErrInvalidAccount("invalid token endpoint URL")
	}

	form := url.Values{}
	form.Set("client_id", r.apiKey)
	form.Set("client_secret", r.apiSecret)
	form.Set("refresh_token", r.account.RefreshToken)
	form.Set("grant_type", "refresh_token")

	j.Enqueue("POST", tokenURL, []byte(form.Encode()), formContentType)
	return nil
}

func (r *RefreshTokensJob) handleReply(j *gapi.Job, reply *gapi.Reply) error {
	tr, err := parseTokenResponse(reply.Body)
	if err != nil {
		return err
	}
	r.account.AccessToken = tr.AccessToken
	r.account.ExpiresAt = r.opts.Clock.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	return nil
}
