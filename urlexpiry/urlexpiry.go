// Package urlexpiry detects and refreshes expiring pre-signed URLs used by
// the bulk-dataset source: SigV4 (X-Amz-Date + X-Amz-Expires) and SigV2
// (Expires unix timestamp) query parameters, plus a cheap Range probe that
// catches temporary-credential expiry the signature format doesn't encode.
package urlexpiry

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// ExpiryMargin is how far ahead of actual expiry a URL is considered
// "expiring soon" — long enough to cover a multi-phase bulk-dataset run.
const ExpiryMargin = 30 * time.Minute

const amzDateLayout = "20060102T150405Z"

// GetExpiry extracts the absolute expiration time from a pre-signed URL's
// query string. Returns (zero, false) if neither SigV4 nor SigV2 expiry
// parameters are present or parseable.
func GetExpiry(rawURL string) (time.Time, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return time.Time{}, false
	}
	q := u.Query()

	if dateStr, expiresStr := q.Get("X-Amz-Date"), q.Get("X-Amz-Expires"); dateStr != "" && expiresStr != "" {
		if start, ok := ParseAmzDate(dateStr); ok {
			if secs, err := strconv.ParseUint(expiresStr, 10, 64); err == nil {
				return start.Add(time.Duration(secs) * time.Second), true
			}
		}
	}

	if expiresStr := q.Get("Expires"); expiresStr != "" {
		if ts, err := strconv.ParseInt(expiresStr, 10, 64); err == nil {
			return time.Unix(ts, 0).UTC(), true
		}
	}

	return time.Time{}, false
}

// ParseAmzDate parses the AWS SigV4 date format, e.g. "20250220T120000Z".
func ParseAmzDate(s string) (time.Time, bool) {
	t, err := time.Parse(amzDateLayout, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// IsExpiringSoon reports whether rawURL's signature falls within margin of
// now. A URL with no recognizable expiry parameters is assumed valid (false).
func IsExpiringSoon(rawURL string, margin time.Duration) bool {
	expiry, ok := GetExpiry(rawURL)
	if !ok {
		return false
	}
	return !time.Now().Add(margin).Before(expiry)
}

// TimeUntilExpiry returns the remaining time before rawURL's signature
// expires. ok is false if expiry cannot be determined.
func TimeUntilExpiry(rawURL string) (remaining time.Duration, ok bool) {
	expiry, ok := GetExpiry(rawURL)
	if !ok {
		return 0, false
	}
	return time.Until(expiry), true
}

var probeClient = &http.Client{Timeout: 15 * time.Second}

// ProbeValid makes a minimal Range(bytes=0-0) request to confirm a pre-signed
// URL is still usable — catching temporary-credential (STS) expiry that the
// signature's own expiry parameters don't encode. A network error is treated
// as inconclusive (true — don't force a refresh on transient connectivity).
func ProbeValid(ctx context.Context, rawURL string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Range", "bytes=0-0")

	resp, err := probeClient.Do(req)
	if err != nil {
		return true, nil
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusPartialContent, nil
}
