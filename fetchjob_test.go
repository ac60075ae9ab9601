package gapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testFeed struct {
	Items     []string `json:"items"`
	Next      string   `json:"next,omitempty"`
	SyncToken string   `json:"syncToken,omitempty"`
}

func parseTestFeed(reply *Reply) ([]Object, *FeedPage, error) {
	var feed testFeed
	if err := json.Unmarshal(reply.Body, &feed); err != nil {
		return nil, nil, ErrInvalidResponse("malformed feed page")
	}
	items := make([]Object, len(feed.Items))
	for i, it := range feed.Items {
		items[i] = it
	}
	page := &FeedPage{SyncToken: feed.SyncToken}
	if feed.Next != "" {
		u, err := url.Parse(feed.Next)
		if err != nil {
			return nil, nil, err
		}
		page.NextURL = u
	}
	return items, page, nil
}

func TestFetchJobAccumulatesAcrossPages(t *testing.T) {
	var srvURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/feed":
			_ = json.NewEncoder(w).Encode(testFeed{Items: []string{"a", "b"}, Next: srvURL + "/feed2"})
		case "/feed2":
			_ = json.NewEncoder(w).Encode(testFeed{Items: []string{"c"}, SyncToken: "sync-1"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	srvURL = srv.URL

	job := NewFetchJob(nil, mustParseURL(t, srv.URL+"/feed"), parseTestFeed)
	require.NoError(t, job.Run(context.Background()))

	assert.Equal(t, []Object{"a", "b", "c"}, job.Items())
	assert.Equal(t, "sync-1", job.Feed().SyncToken)
	assert.Nil(t, job.Feed().NextURL)
}

func TestFetchJobParserErrorFailsJob(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "not json")
	}))
	defer srv.Close()

	job := NewFetchJob(nil, mustParseURL(t, srv.URL), parseTestFeed)
	err := job.Run(context.Background())

	var gerr *Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, CodeInvalidResponse, gerr.Code)
}

func TestFetchJobRerunStartsFresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(testFeed{Items: []string{"x"}})
	}))
	defer srv.Close()

	job := NewFetchJob(nil, mustParseURL(t, srv.URL), parseTestFeed)
	require.NoError(t, job.Run(context.Background()))
	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, []Object{"x"}, job.Items(), "rerun must not double-accumulate")
}
