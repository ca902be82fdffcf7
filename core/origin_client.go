package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// hop-by-hop headers are connection-scoped and never forwarded.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// OriginClient performs live fetches against an upstream base URL. Requests
// carry no client-side timeout: they resolve or fail on the network stack's
// own terms, and callers layer their fallback behavior on top.
type OriginClient struct {
	client *http.Client
	base   *url.URL
}

func NewOriginClient(baseURL string) (*OriginClient, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, errors.New("empty origin url")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse origin url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("origin url %q must be absolute", baseURL)
	}
	return &OriginClient{client: &http.Client{}, base: u}, nil
}

// Forward replays an incoming request against the upstream and returns the
// complete response. The incoming request's body is consumed.
func (o *OriginClient) Forward(ctx context.Context, r *http.Request) (*CachedResponse, error) {
	target := *o.base
	target.Path = r.URL.Path
	target.RawQuery = r.URL.RawQuery

	out, err := http.NewRequestWithContext(ctx, r.Method, target.String(), r.Body)
	if err != nil {
		return nil, err
	}
	copyHeader(out.Header, r.Header)
	return o.do(out)
}

// Get fetches a single upstream path (used by pre-caching and health checks).
func (o *OriginClient) Get(ctx context.Context, path string) (*CachedResponse, error) {
	target := *o.base
	if i := strings.IndexByte(path, '?'); i >= 0 {
		target.Path = path[:i]
		target.RawQuery = path[i+1:]
	} else {
		target.Path = path
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, err
	}
	return o.do(req)
}

func (o *OriginClient) do(req *http.Request) (*CachedResponse, error) {
	resp, err := o.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read upstream body: %w", err)
	}

	header := http.Header{}
	copyHeader(header, resp.Header)
	return &CachedResponse{Status: resp.StatusCode, Header: header, Body: body}, nil
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
	for _, h := range hopByHopHeaders {
		dst.Del(h)
	}
}

// WriteTo renders the response onto an http.ResponseWriter.
func (r *CachedResponse) WriteTo(w http.ResponseWriter) {
	copyHeader(w.Header(), r.Header)
	w.WriteHeader(r.Status)
	_, _ = w.Write(r.Body)
}
