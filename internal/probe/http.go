package probe

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/nerrad567/gray-logic-presence/internal/presence"
)

// maxDrainBytes caps how much of a probe response body is read.
const maxDrainBytes = 64 << 10

// HTTPOptions configures an HTTPResource.
type HTTPOptions struct {
	// Client is used for requests. Defaults to a client without its own timeout.
	Client *http.Client

	// RequestTimeout bounds each probe. Defaults to DefaultRequestTimeout.
	RequestTimeout time.Duration
}

// HTTPResource is a presence.Resource probed with HTTP GET.
type HTTPResource struct {
	client  *http.Client
	timeout time.Duration
	host    string
	uri     string
	url     string
}

// NewHTTPResource creates a resource for uri on host, probed at url.
func NewHTTPResource(host, uri, url string, opts HTTPOptions) *HTTPResource {
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	return &HTTPResource{
		client:  opts.Client,
		timeout: opts.RequestTimeout,
		host:    host,
		uri:     uri,
		url:     url,
	}
}

// RequestGet implements presence.Resource. The probe runs in its own goroutine.
func (r *HTTPResource) RequestGet(cb func(presence.ResultCode)) {
	go func() {
		cb(r.probe())
	}()
}

// HostAddress implements presence.Resource.
func (r *HTTPResource) HostAddress() string { return r.host }

// URI implements presence.Resource.
func (r *HTTPResource) URI() string { return r.uri }

// URL returns the probed URL.
func (r *HTTPResource) URL() string { return r.url }

func (r *HTTPResource) probe() presence.ResultCode {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return presence.ResultCommError
	}

	resp, err := r.client.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return presence.ResultTimeout
		}
		return presence.ResultCommError
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes)) //nolint:errcheck // Drain for connection reuse

	return ResultForStatus(resp.StatusCode)
}

// ResultForStatus maps an HTTP status code to a probe result.
func ResultForStatus(status int) presence.ResultCode {
	switch {
	case status >= 200 && status < 300:
		return presence.ResultOK
	case status == http.StatusNotFound, status == http.StatusGone:
		return presence.ResultResourceDeleted
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		return presence.ResultTimeout
	default:
		return presence.ResultUnknown
	}
}
