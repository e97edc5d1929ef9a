package couchkit

import "net/http"

// Transport is the external collaborator that delivers a lazy sequence
// of byte chunks with a status code and headers for one HTTP request.
// The core never depends on net/http directly beyond this seam, so a
// caller can substitute a pooling/TLS-terminating transport of its own.
type Transport interface {
	Do(req *http.Request) (*http.Response, error)
}

// httpTransport is the default Transport, a thin adapter over
// *http.Client. It is thread-safe per net/http's own contract, matching
// the "HTTP transport handle" ownership rule in the concurrency model.
type httpTransport struct {
	client *http.Client
}

func (t httpTransport) Do(req *http.Request) (*http.Response, error) {
	return t.client.Do(req)
}

// NewHTTPTransport wraps an *http.Client as a Transport. A nil client
// falls back to http.DefaultClient.
func NewHTTPTransport(client *http.Client) Transport {
	if client == nil {
		client = http.DefaultClient
	}
	return httpTransport{client: client}
}
