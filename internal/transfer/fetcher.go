package transfer

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Response is an open response body positioned at byte Start of the remote content.
type Response struct {
	Body       io.ReadCloser
	StatusCode int
	Start      int64
	Total      int64 // -1 when the server did not announce a length
}

// Fetcher opens the content at url, asking for it from offset onwards.
type Fetcher interface {
	Fetch(ctx context.Context, url string, offset int64) (*Response, error)
}

// ClientOptions configures the HTTP client used for transfers.
type ClientOptions struct {
	// Timeout bounds connecting and waiting for response headers. The body itself has
	// no deadline; transfers are cancelled through their context.
	Timeout             time.Duration
	MaxIdleConnsPerHost int
}

// NewHTTPClient builds the instrumented client shared by every transfer.
func NewHTTPClient(opts ClientOptions) *http.Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	if opts.MaxIdleConnsPerHost <= 0 {
		opts.MaxIdleConnsPerHost = 16
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   opts.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConnsPerHost:   opts.MaxIdleConnsPerHost,
		MaxIdleConns:          opts.MaxIdleConnsPerHost * 2,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   opts.Timeout,
		ResponseHeaderTimeout: opts.Timeout,
		DisableCompression:    true, // byte offsets must refer to the stored representation
	}

	return &http.Client{Transport: otelhttp.NewTransport(transport)}
}

// HTTPFetcher implements Fetcher with plain GET and Range requests.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
}

// NewHTTPFetcher wraps an explicitly constructed client.
func NewHTTPFetcher(client *http.Client, userAgent string) *HTTPFetcher {
	return &HTTPFetcher{client: client, userAgent: userAgent}
}

// Fetch issues a GET for url. With offset > 0 it asks for "bytes=offset-". A 200 answer
// means the server ignored the range and the body starts at zero; a 206 answer starts
// where its Content-Range says. A 416 answer yields ErrRangeNotSatisfiable.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string, offset int64) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	if offset > 0 {
		req.Header.Set("Range", "bytes="+strconv.FormatInt(offset, 10)+"-")
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &NetworkError{Operation: "fetch", Message: err.Error(), Err: err}
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return &Response{
			Body:       resp.Body,
			StatusCode: resp.StatusCode,
			Start:      0,
			Total:      resp.ContentLength,
		}, nil
	case http.StatusPartialContent:
		header := resp.Header.Get("Content-Range")

		start, _, total, err := ParseContentRange(header)
		if err != nil {
			resp.Body.Close()

			return nil, &RangeError{Header: header, Reason: "unparsable Content-Range", Err: err}
		}

		return &Response{
			Body:       resp.Body,
			StatusCode: resp.StatusCode,
			Start:      start,
			Total:      total,
		}, nil
	case http.StatusRequestedRangeNotSatisfiable:
		drain(resp.Body)

		return nil, ErrRangeNotSatisfiable
	default:
		drain(resp.Body)

		return nil, &NetworkError{Operation: "fetch", StatusCode: resp.StatusCode, Message: resp.Status}
	}
}

func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 4096))
	body.Close()
}
