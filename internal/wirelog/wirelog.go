// Package wirelog mirrors the raw request/reply traffic of every job to a
// session log file. Logging is enabled by setting GAPI_SESSION_LOGFILE; the
// process id is appended so concurrent processes don't clobber each other.
package wirelog

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"sync"
)

var (
	once sync.Once
	mu   sync.Mutex
	file *os.File
)

func logFile() *os.File {
	once.Do(func() {
		base := os.Getenv("GAPI_SESSION_LOGFILE")
		if base == "" {
			return
		}
		name := base + "." + strconv.Itoa(os.Getpid())
		f, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
		if err != nil {
			fmt.Fprintf(os.Stderr, "gapi: failed to open session log file %s: %v\n", name, err)
			return
		}
		file = f
	})
	return file
}

// Request logs an outgoing request.
func Request(req *http.Request, body []byte) {
	f := logFile()
	if f == nil {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	fmt.Fprintf(f, "C: %s %s\n", req.Method, req.URL)
	writeHeader(f, req.Header)
	fmt.Fprintf(f, "   %s\n\n", body)
}

// Reply logs a received response.
func Reply(resp *http.Response, body []byte) {
	f := logFile()
	if f == nil {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	fmt.Fprintf(f, "S: %d %s\n", resp.StatusCode, resp.Request.URL)
	writeHeader(f, resp.Header)
	fmt.Fprintf(f, "   %s\n\n", body)
}

func writeHeader(f *os.File, h http.Header) {
	for k, vs := range h {
		for _, v := range vs {
			if k == "Authorization" {
				v = "<redacted>"
			}
			fmt.Fprintf(f, "   %s: %s\n", k, v)
		}
	}
}
