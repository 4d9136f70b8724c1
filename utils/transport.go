package utils

import (
	"net/http"
	"sync"
)

// ResponseRecorder is an http.RoundTripper that remembers the status and headers of the last
// response. SDK clients hide both behind their own error types; adapters read them back here.
type ResponseRecorder struct {
	base http.RoundTripper

	mu     sync.Mutex
	status int
	header http.Header
	calls  int
}

func NewResponseRecorder(base http.RoundTripper) *ResponseRecorder {
	if base == nil {
		base = http.DefaultTransport
	}
	return &ResponseRecorder{base: base}
}

func (r *ResponseRecorder) RoundTrip(req *http.Request) (*http.Response, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()

	resp, err := r.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.status = resp.StatusCode
	r.header = resp.Header.Clone()
	r.mu.Unlock()
	return resp, nil
}

// Last returns the status and headers of the most recent response, or 0 if none arrived.
func (r *ResponseRecorder) Last() (int, http.Header) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status, r.header
}

// Calls counts the round trips attempted through the recorder.
func (r *ResponseRecorder) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}
