package gapi

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/calder-labs/gapi/internal/wirelog"
)

// Standard query parameters appended to every dispatched request.
const (
	StandardParamPrettyPrint = "prettyPrint"
	StandardParamFields      = "fields"
)

// DefaultMaxBackoff caps the quota-backoff dispatch interval unless a job
// sets its own MaxBackoff.
const DefaultMaxBackoff = 8 * time.Second

var defaultHTTPClient = &http.Client{
	Timeout: 30 * time.Second,
	// Redirects are classified and re-enqueued by the engine itself.
	CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	},
	Transport: &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	},
}

// QueuedRequest is one pending HTTP request owned by a job's queue.
type QueuedRequest struct {
	Method      string
	URL         *url.URL
	Body        []byte
	ContentType string
	Header      http.Header
}

// Reply carries a classified 2xx (or soft-error) response into a job's
// reply hook.
type Reply struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Request    *QueuedRequest
}

// Job is the engine every verb and auth job is built on. It owns a FIFO
// request queue and dispatches exactly one request at a time, classifying
// each reply by HTTP status: success bodies go to the reply hook, redirects
// re-enqueue the same request at the Location URL, quota errors grow the
// dispatch interval and retry, everything else fails the job.
//
// Behavior is specialized through the hook fields rather than embedding
// virtual methods; the verb jobs in this package show the pattern.
type Job struct {
	// Account, when set, supplies the Authorization bearer token.
	Account *Account

	// StartFunc builds and enqueues the job's initial request(s). Run
	// invokes it exactly once per run. Required.
	StartFunc func(j *Job) error

	// HandleReplyFunc receives each successful reply. Returning an error
	// fails the job.
	HandleReplyFunc func(j *Job, reply *Reply) error

	// HandleErrorFunc, when set, gets a chance to recover a classified
	// error reply before the job fails. Returning true means recovered:
	// the engine carries on with whatever the hook enqueued.
	HandleErrorFunc func(j *Job, reply *Reply) bool

	// HTTPClient defaults to a shared client that does not follow
	// redirects on its own.
	HTTPClient *http.Client

	// Clock drives the dispatch interval; swap in a mock for tests.
	Clock clock.Clock

	// Limiter, when set, is waited on before every dispatch.
	Limiter *rate.Limiter

	// Log receives request/reply debug lines. Nil discards.
	Log *logrus.Entry

	// PrettyPrint toggles the prettyPrint standard query parameter.
	PrettyPrint bool

	// Fields is the optional field selector appended to every request,
	// comma-joined. See BuildSubfields for nested selectors.
	Fields []string

	// MaxBackoff caps the quota-backoff interval. Zero means
	// DefaultMaxBackoff.
	MaxBackoff time.Duration

	id       string
	queue    []*QueuedRequest
	current  *QueuedRequest
	interval time.Duration
	running  bool
	err      error
}

// BuildSubfields formats a nested field selector, e.g.
// BuildSubfields("items", "id", "etag") yields "items(id,etag)".
func BuildSubfields(field string, subfields ...string) string {
	return field + "(" + strings.Join(subfields, ",") + ")"
}

// Run drives the job to completion: it calls the start hook once, then
// dispatches queued requests serially until the queue drains, a hook
// finishes the job, or an unrecovered error occurs. Restarting a finished
// job discards all previously accumulated engine state.
func (j *Job) Run(ctx context.Context) error {
	j.id = uuid.NewString()[:8]
	j.queue = nil
	j.current = nil
	j.interval = 0
	j.err = nil
	j.running = true
	defer func() { j.running = false }()

	if j.StartFunc == nil {
		j.fail(&Error{Code: CodeUnknown, Message: "job has no start hook"})
		return j.err
	}
	if err := j.StartFunc(j); err != nil {
		j.failWith(err)
		return j.err
	}

	for j.running && len(j.queue) > 0 {
		if err := j.waitInterval(ctx); err != nil {
			j.failWith(err)
			break
		}
		if j.Limiter != nil {
			if err := j.Limiter.Wait(ctx); err != nil {
				j.failWith(&Error{Code: CodeCancelled, Message: "request cancelled", Cause: err})
				break
			}
		}

		req := j.queue[0]
		j.queue = j.queue[1:]
		j.current = req

		reply, err := j.dispatch(ctx, req)
		if err != nil {
			j.failWith(err)
			break
		}
		j.classify(reply)
	}
	return j.err
}

// Finish terminates the job from inside a hook. The queue is discarded.
func (j *Job) Finish() {
	j.running = false
	j.queue = nil
}

// Running reports whether the job is inside Run.
func (j *Job) Running() bool {
	return j.running
}

// Enqueue appends a request to the queue. Enqueueing while the job is not
// running is a no-op, not an error.
func (j *Job) Enqueue(method string, u *url.URL, body []byte, contentType string) {
	j.EnqueueRequest(&QueuedRequest{Method: method, URL: u, Body: body, ContentType: contentType})
}

// EnqueueRequest appends a prepared request to the queue.
func (j *Job) EnqueueRequest(req *QueuedRequest) {
	if !j.running {
		j.log().WithField("url", req.URL).Debug("not enqueueing, job is not running")
		return
	}
	j.log().WithField("url", req.URL).Debug("queued request")
	j.queue = append(j.queue, req)
}

// requeueFront puts a retried request back at the head of the queue. It is
// the same request being retried, not a new one appended.
func (j *Job) requeueFront(req *QueuedRequest) {
	j.queue = append([]*QueuedRequest{req}, j.queue...)
}

func (j *Job) fail(e *Error) {
	j.err = e
	j.running = false
	j.queue = nil
}

func (j *Job) failWith(err error) {
	if e, ok := err.(*Error); ok {
		j.fail(e)
		return
	}
	j.fail(&Error{Code: CodeUnknown, Message: err.Error(), Cause: err})
}

func (j *Job) waitInterval(ctx context.Context) error {
	if j.interval <= 0 {
		return nil
	}
	t := j.clock().Timer(j.interval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return &Error{Code: CodeCancelled, Message: "request cancelled", Cause: ctx.Err()}
	case <-t.C:
		return nil
	}
}

// dispatch sends one request: bearer token from the bound account, standard
// query parameters, then the transport round trip.
func (j *Job) dispatch(ctx context.Context, req *QueuedRequest) (*Reply, error) {
	u := *req.URL
	q := u.Query()
	if len(j.Fields) > 0 {
		q.Set(StandardParamFields, strings.Join(j.Fields, ","))
	}
	if !q.Has(StandardParamPrettyPrint) {
		q.Set(StandardParamPrettyPrint, strconv.FormatBool(j.PrettyPrint))
	}
	u.RawQuery = q.Encode()

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u.String(), body)
	if err != nil {
		return nil, &Error{Code: CodeBadRequest, Message: "Bad request.", Cause: err}
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}
	if j.Account != nil && j.Account.AccessToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+j.Account.AccessToken)
	}

	j.log().WithFields(logrus.Fields{"method": req.Method, "url": u.String()}).Debug("dispatching request")
	wirelog.Request(httpReq, req.Body)

	resp, err := j.httpClient().Do(httpReq)
	if err != nil {
		return nil, ErrNetwork(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, ErrNetwork(err)
	}

	j.log().WithField("status", resp.StatusCode).Debug("received reply")
	wirelog.Reply(resp, raw)

	return &Reply{StatusCode: resp.StatusCode, Header: resp.Header, Body: raw, Request: req}, nil
}

// classify implements the status table: 2xx and resume-incomplete succeed,
// temporary redirects re-enqueue against the Location URL, quota errors back
// off and retry, the recoverable set consults the error hook, anything else
// is an unknown error.
func (j *Job) classify(reply *Reply) {
	switch reply.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent, http.StatusPermanentRedirect:
		j.callReply(reply)

	case http.StatusFound, http.StatusTemporaryRedirect:
		loc := reply.Header.Get("Location")
		target, err := url.Parse(loc)
		if loc == "" || err != nil {
			j.fail(ErrInvalidResponse("redirect reply carries no usable Location"))
			return
		}
		j.log().WithField("location", loc).Debug("following redirect")
		redirected := *j.current
		redirected.URL = target
		j.requeueFront(&redirected)

	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden,
		http.StatusNotFound, http.StatusConflict, http.StatusGone,
		http.StatusInternalServerError:
		if j.recovered(reply) {
			return
		}
		j.fail(errFromStatus(reply.StatusCode, reply.Body))

	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		if j.recovered(reply) {
			return
		}
		j.backoff(reply)

	default:
		j.fail(errFromStatus(reply.StatusCode, reply.Body))
	}
}

func (j *Job) recovered(reply *Reply) bool {
	return j.HandleErrorFunc != nil && j.HandleErrorFunc(j, reply)
}

// backoff grows the dispatch interval (0 -> 1s -> 2s -> doubling) and
// retries the same request; once the next interval would exceed the cap the
// job fails with a quota error.
func (j *Job) backoff(reply *Reply) {
	var next time.Duration
	switch j.interval {
	case 0:
		next = time.Second
	default:
		next = j.interval * 2
	}
	if next > j.maxBackoff() {
		j.fail(ErrQuotaExceeded(parseErrorMessage(reply.Body)))
		return
	}
	j.log().WithField("interval", next).Debug("quota exceeded, increasing dispatch interval")
	j.interval = next
	j.requeueFront(j.current)
}

func (j *Job) callReply(reply *Reply) {
	if j.HandleReplyFunc == nil {
		return
	}
	if err := j.HandleReplyFunc(j, reply); err != nil {
		j.failWith(err)
	}
}

func (j *Job) maxBackoff() time.Duration {
	if j.MaxBackoff > 0 {
		return j.MaxBackoff
	}
	return DefaultMaxBackoff
}

func (j *Job) httpClient() *http.Client {
	if j.HTTPClient != nil {
		return j.HTTPClient
	}
	return defaultHTTPClient
}

func (j *Job) clock() clock.Clock {
	if j.Clock != nil {
		return j.Clock
	}
	return clock.New()
}

var discardLog = func() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}()

func (j *Job) log() *logrus.Entry {
	if j.Log != nil {
		return j.Log.WithField("job", j.id)
	}
	return discardLog
}
