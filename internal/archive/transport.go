package archive

import (
	"net/http"

	"golang.org/x/oauth2"
)

// hostScopedTransport adds the bearer token only to requests for host.
type hostScopedTransport struct {
	host   string
	authed http.RoundTripper
	base   http.RoundTripper
}

func newHostScopedTransport(host string, src oauth2.TokenSource, base http.RoundTripper) *hostScopedTransport {
	if base == nil {
		base = http.DefaultTransport
	}

	return &hostScopedTransport{
		host:   host,
		authed: &oauth2.Transport{Source: src, Base: base},
		base:   base,
	}
}

func (t *hostScopedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Host == t.host {
		return t.authed.RoundTrip(req)
	}

	return t.base.RoundTrip(req)
}
