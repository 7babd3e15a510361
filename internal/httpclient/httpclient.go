// Package httpclient builds the per-invocation HTTP client: optional proxy
// routing (http, https or socks5) and transparent decompression of gzip,
// brotli and zstd response bodies.
package httpclient

import (
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"
)

// New returns a client honoring the given proxy URL. Streaming connections
// must not carry a client-level timeout; cancellation and idle detection are
// handled by the caller's context and watchdog.
func New(proxyURL string) *http.Client {
	transport := &http.Transport{}
	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil {
			log.Warnf("httpclient: invalid proxy url %q, using direct connection: %v", proxyURL, err)
			return &http.Client{Transport: transport}
		}
		switch u.Scheme {
		case "socks5", "socks5h":
			dialer, err := proxy.FromURL(u, proxy.Direct)
			if err != nil {
				log.Warnf("httpclient: socks5 proxy setup failed, using direct connection: %v", err)
				break
			}
			if ctxDialer, ok := dialer.(proxy.ContextDialer); ok {
				transport.DialContext = ctxDialer.DialContext
			}
		default:
			transport.Proxy = http.ProxyURL(u)
		}
	}
	return &http.Client{Transport: transport}
}

// AcceptEncoding is advertised on provider requests; DecodeBody reverses
// whichever coding the server picked.
const AcceptEncoding = "gzip, br, zstd"

// DecodeBody wraps a response body according to its Content-Encoding.
// The returned reader owns the underlying body and must be closed by the
// caller.
func DecodeBody(resp *http.Response) (io.ReadCloser, error) {
	encoding := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))
	switch encoding {
	case "", "identity":
		return resp.Body, nil
	case "gzip":
		r, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("httpclient: gzip reader: %w", err)
		}
		return &wrappedBody{Reader: r, closers: []io.Closer{r, resp.Body}}, nil
	case "br":
		return &wrappedBody{Reader: brotli.NewReader(resp.Body), closers: []io.Closer{resp.Body}}, nil
	case "zstd":
		r, err := zstd.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("httpclient: zstd reader: %w", err)
		}
		return &wrappedBody{Reader: r.IOReadCloser(), closers: []io.Closer{resp.Body}}, nil
	default:
		log.Warnf("httpclient: unknown content-encoding %q, passing body through", encoding)
		return resp.Body, nil
	}
}

type wrappedBody struct {
	io.Reader
	closers []io.Closer
}

func (w *wrappedBody) Close() error {
	var first error
	for _, c := range w.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
