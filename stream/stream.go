// Package stream opens a gzip-compressed remote shard as a synchronous,
// line-buffered reader: HTTP GET with a connect deadline, a read-timeout
// wrapper, a shared byte counter for progress reporting, and gunzip
// decompression, all presented as one bufio.Reader so worker threads need no
// async runtime of their own.
package stream

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/papeline/papeline/cmn/cos"
)

const (
	// ConnectTimeout bounds establishing the connection and headers.
	ConnectTimeout = 30 * time.Second
	// ReadStallTimeout bounds time between successive successful reads.
	ReadStallTimeout = 10 * time.Second
	// BufferSize is the minimum buffered-reader size layered over gunzip.
	BufferSize = 256 * 1024
)

// HTTPError represents a non-2xx response from the origin.
type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string { return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message) }

// ByteCounter is a shared atomic counter updated on every successful
// underlying read; used by progress reporting, safe for concurrent reads.
type ByteCounter struct{ n atomic.Int64 }

func (c *ByteCounter) Add(n int)  { c.n.Add(int64(n)) }
func (c *ByteCounter) Load() int64 { return c.n.Load() }

// Opened is the return value of OpenGzipReader.
type Opened struct {
	Lines       *bufio.Reader
	Counter     *ByteCounter
	TotalBytes  int64 // 0 if unknown
	closeAll    func() error
}

// Close releases the underlying HTTP response body.
func (o *Opened) Close() error { return o.closeAll() }

var sharedClient = &http.Client{
	Transport: &http.Transport{
		MaxIdleConnsPerHost: 8,
		DialContext: (&net.Dialer{
			Timeout: ConnectTimeout,
		}).DialContext,
	},
}

// OpenGzipReader issues an HTTP GET for url, wraps the body with a read-stall
// timeout and byte counter, and layers a gzip reader + buffered reader on
// top. 4xx/5xx responses fail immediately with an *HTTPError (not retried
// here — classification happens in Retryable).
func OpenGzipReader(ctx context.Context, url string) (*Opened, error) {
	ctx, cancel := context.WithCancel(ctx)
	// ConnectTimeout covers the request up to the response headers; the body
	// is bounded by ReadStallTimeout instead.
	headerTimer := time.AfterFunc(ConnectTimeout, cancel)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		return nil, err
	}

	resp, err := sharedClient.Do(req)
	if !headerTimer.Stop() {
		if err == nil {
			resp.Body.Close()
		}
		err = context.DeadlineExceeded
	}
	if err != nil {
		cancel()
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := resp.Status
		resp.Body.Close()
		cancel()
		return nil, &HTTPError{Status: resp.StatusCode, Message: msg}
	}

	counter := &ByteCounter{}
	timeoutBody := &stallTimeoutReader{r: resp.Body, timeout: ReadStallTimeout}
	countingBody := &countingReader{r: timeoutBody, counter: counter}

	gz, err := gzip.NewReader(countingBody)
	if err != nil {
		resp.Body.Close()
		cancel()
		return nil, err
	}

	var total int64
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		fmt.Sscanf(cl, "%d", &total)
	}

	return &Opened{
		Lines:      bufio.NewReaderSize(gz, BufferSize),
		Counter:    counter,
		TotalBytes: total,
		closeAll: func() error {
			cancel()
			return resp.Body.Close()
		},
	}, nil
}

// countingReader increments a ByteCounter on every successful Read.
type countingReader struct {
	r       io.Reader
	counter *ByteCounter
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.counter.Add(n)
	}
	return n, err
}

// stallTimeoutReader fails a Read with context.DeadlineExceeded-flavored
// io.ErrUnexpectedEOF-style timeout if no bytes arrive within `timeout`.
type stallTimeoutReader struct {
	r       io.Reader
	timeout time.Duration
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "read timed out" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func (s *stallTimeoutReader) Read(p []byte) (int, error) {
	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := s.r.Read(p)
		done <- result{n, err}
	}()
	select {
	case res := <-done:
		return res.n, res.err
	case <-time.After(s.timeout):
		return 0, timeoutError{}
	}
}

// Retryable classifies an error or HTTP status as retryable (true),
// non-retryable/URL-expired (false), or, when neither applies, defers to
// connection-level heuristics.
//
// Per-origin note: HTTP 400 is treated uniformly as URL-expired here (a
// documented open-question decision, see SPEC_FULL.md FULL-4 item 2) — a
// legitimate bad request on an origin that also uses 400 for other purposes
// would be misclassified as expired, triggering an unnecessary URL refresh
// rather than a hard failure.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var httpErr *HTTPError
	if e, ok := err.(*HTTPError); ok {
		httpErr = e
	}
	if httpErr != nil {
		switch httpErr.Status {
		case http.StatusBadRequest, http.StatusForbidden, http.StatusGone:
			return false // presigned URL expired
		}
		return true // other HTTP statuses are retryable
	}
	if cos.IsErrOOS(err) {
		return false // storage full: fatal, not retryable
	}
	if te, ok := err.(interface{ Timeout() bool }); ok && te.Timeout() {
		return true
	}
	if cos.IsRetriableConnErr(err) {
		return true
	}
	return true // default: unclassified I/O errors are retryable
}
