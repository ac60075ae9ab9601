package gapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeleteJobRunsTargetsSequentially(t *testing.T) {
	handler := &recordingHandler{handle: func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}}
	srv := httptest.NewServer(handler)
	defer srv.Close()

	job := NewDeleteJob(nil,
		mustParseURL(t, srv.URL+"/1"),
		mustParseURL(t, srv.URL+"/2"),
		mustParseURL(t, srv.URL+"/3"),
	)
	require.NoError(t, job.Run(context.Background()))

	assert.Equal(t, 3, job.Processed())
	reqs := handler.recorded()
	require.Len(t, reqs, 3)
	for i, path := range []string{"/1", "/2", "/3"} {
		assert.Equal(t, "DELETE", reqs[i].Method)
		assert.Equal(t, path, reqs[i].Path)
	}
}

func TestDeleteJobHardNotFoundFailsBatch(t *testing.T) {
	handler := &recordingHandler{handle: func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/2" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}}
	srv := httptest.NewServer(handler)
	defer srv.Close()

	job := NewDeleteJob(nil,
		mustParseURL(t, srv.URL+"/1"),
		mustParseURL(t, srv.URL+"/2"),
		mustParseURL(t, srv.URL+"/3"),
	)
	err := job.Run(context.Background())

	var gerr *Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, CodeNotFound, gerr.Code)
	assert.Equal(t, 1, job.Processed())
	assert.Len(t, handler.recorded(), 2, "the batch stops at the failing target")
}

func TestDeleteJobSoftNotFoundSkipsAndContinues(t *testing.T) {
	handler := &recordingHandler{handle: func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/2" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}}
	srv := httptest.NewServer(handler)
	defer srv.Close()

	job := NewDeleteJob(nil,
		mustParseURL(t, srv.URL+"/1"),
		mustParseURL(t, srv.URL+"/2"),
		mustParseURL(t, srv.URL+"/3"),
	)
	job.SoftNotFound = true
	require.NoError(t, job.Run(context.Background()))

	assert.Equal(t, 2, job.Processed())
	require.Len(t, job.Skipped(), 1)
	assert.Equal(t, "/2", job.Skipped()[0].Path)
	assert.Len(t, handler.recorded(), 3)
}
