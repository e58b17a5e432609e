// Package executor performs the blocking GET requests against OGC services.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/mohammed-shakir/geodata-retrieval/internal/core/observability"
	"github.com/mohammed-shakir/geodata-retrieval/internal/core/ogc"
)

// Interface is the transport the retrieval pipeline depends on.
type Interface interface {
	Get(ctx context.Context, endpoint string, params url.Values, upstream string) ([]byte, error)
	FetchPage(ctx context.Context, endpoint string, params url.Values) ([]byte, error)
}

// StatusError reports a non-2xx upstream answer.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.Code, e.Body)
}

var gzipMagic = []byte{0x1f, 0x8b}

// DefaultMaxBodyBytes bounds one response body after decompression.
const DefaultMaxBodyBytes int64 = 256 << 20

var ErrBodyTooLarge = errors.New("response body too large")

type Executor struct {
	logger    *slog.Logger
	client    *http.Client
	userAgent string
	maxBody   int64
	startNow  func() time.Time // for tests
}

var _ Interface = (*Executor)(nil)

func New(logger *slog.Logger, client *http.Client, userAgent string) *Executor {
	if client == nil {
		client = http.DefaultClient
	}
	return &Executor{
		logger:    logger,
		client:    client,
		userAgent: userAgent,
		maxBody:   DefaultMaxBodyBytes,
		startNow:  time.Now,
	}
}

// SetMaxBodyBytes caps every decoded response body; n <= 0 restores DefaultMaxBodyBytes.
func (e *Executor) SetMaxBodyBytes(n int64) {
	if n <= 0 {
		n = DefaultMaxBodyBytes
	}
	e.maxBody = n
}

// FetchPage requests one GetFeature page
func (e *Executor) FetchPage(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	return e.Get(ctx, endpoint, params, "wfs")
}

// Get issues a GET with params merged into endpoint's query and returns the decoded body.
// The body is gunzipped only when the header says gzip and the bytes agree.
func (e *Executor) Get(ctx context.Context, endpoint string, params url.Values, upstream string) ([]byte, error) {
	target := endpoint
	if len(params) > 0 {
		u, err := ogc.MergeQuery(endpoint, params)
		if err != nil {
			return nil, fmt.Errorf("parse endpoint %q: %w", endpoint, err)
		}
		target = u
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if e.userAgent != "" {
		req.Header.Set("User-Agent", e.userAgent)
	}
	// explicit so net/http leaves the body untouched
	req.Header.Set("Accept-Encoding", "gzip")

	e.logger.DebugContext(ctx, "ogc request", "upstream", upstream, "url", target)

	start := e.startNow()
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := readLimited(resp.Body, e.maxBody)
	observability.ObserveUpstreamLatency(upstream, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode, Body: truncate(string(body), 512)}
	}

	if strings.EqualFold(strings.TrimSpace(resp.Header.Get("Content-Encoding")), "gzip") && bytes.HasPrefix(body, gzipMagic) {
		plain, err := gunzip(body, e.maxBody)
		if err != nil {
			return nil, fmt.Errorf("gunzip body: %w", err)
		}
		return plain, nil
	}
	return body, nil
}

func gunzip(b []byte, limit int64) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	defer func() { _ = zr.Close() }()
	return readLimited(zr, limit)
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrBodyTooLarge, limit)
	}
	return b, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
