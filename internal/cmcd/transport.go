package cmcd

import (
	"context"
	"net/http"
	"net/url"
)

type requestInfoKey struct{}

type requestInfo struct {
	typ RequestType
	ctx *RequestContext
}

// WithRequestInfo returns a context telling Transport how to classify the
// request it is attached to.
func WithRequestInfo(ctx context.Context, t RequestType, rc *RequestContext) context.Context {
	return context.WithValue(ctx, requestInfoKey{}, requestInfo{typ: t, ctx: rc})
}

// Transport is an http.RoundTripper that decorates requests carrying
// WithRequestInfo with CMCD data before handing them to Base. Requests
// without it pass through untouched.
type Transport struct {
	Manager *Manager
	// Base defaults to http.DefaultTransport.
	Base http.RoundTripper
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(r *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	info, ok := r.Context().Value(requestInfoKey{}).(requestInfo)
	if !ok || t.Manager == nil {
		return base.RoundTrip(r)
	}

	original := r.URL.String()
	req := &Request{Method: r.Method, URIs: []string{original}}
	t.Manager.ApplyData(info.typ, req, info.ctx)

	uriChanged := len(req.URIs) == 1 && req.URIs[0] != original
	if len(req.Headers) == 0 && !uriChanged {
		return base.RoundTrip(r)
	}

	out := r.Clone(r.Context())
	for name, value := range req.Headers {
		out.Header.Set(name, value)
	}
	if uriChanged {
		u, err := url.Parse(req.URIs[0])
		if err == nil {
			out.URL = u
		}
	}
	return base.RoundTrip(out)
}
