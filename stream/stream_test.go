package stream_test

import (
	"net/http"
	"testing"

	"github.com/papeline/papeline/stream"
)

func TestRetryableHTTPExpired(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusForbidden, http.StatusGone} {
		err := &stream.HTTPError{Status: status}
		if stream.Retryable(err) {
			t.Fatalf("status %d must be classified non-retryable (URL expired)", status)
		}
	}
}

func TestRetryableHTTPTransient(t *testing.T) {
	for _, status := range []int{http.StatusInternalServerError, http.StatusTooManyRequests, http.StatusBadGateway} {
		err := &stream.HTTPError{Status: status}
		if !stream.Retryable(err) {
			t.Fatalf("status %d must be classified retryable", status)
		}
	}
}

func TestRetryableNil(t *testing.T) {
	if stream.Retryable(nil) {
		t.Fatal("nil error must not be retryable")
	}
}

func TestByteCounter(t *testing.T) {
	var c stream.ByteCounter
	c.Add(10)
	c.Add(5)
	if c.Load() != 15 {
		t.Fatalf("counter = %d, want 15", c.Load())
	}
}
