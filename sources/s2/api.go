// Package s2 fetches a bulk-dataset provider's pre-signed, expiring
// HTTPS shard URLs, in two phases: Phase 1 (papers) filters by domain and
// emits matched corpus IDs; Phase 2 (abstracts, citations, embeddings, ...)
// filters against the Phase-1 corpus-ID set before full parsing.
package s2

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const apiMaxRetries = 5

// DefaultAPIBase is the bulk-dataset provider's release API root.
const DefaultAPIBase = "https://api.semanticscholar.org/datasets/v1"

var apiClient = &http.Client{Timeout: 30 * time.Second}

// ResolveRelease passes releaseID through unchanged unless it is "latest", in
// which case it fetches the release list and returns the last entry.
func ResolveRelease(ctx context.Context, apiBase, releaseID, apiKey string) (string, error) {
	if releaseID != "latest" {
		return releaseID, nil
	}
	url := strings.TrimRight(apiBase, "/") + "/release/"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("x-api-key", apiKey)
	resp, err := apiClient.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "fetch release list")
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", errors.Errorf("fetch release list: HTTP %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	var releases []string
	if err := json.Unmarshal(body, &releases); err != nil {
		return "", errors.Wrap(err, "invalid release list JSON")
	}
	if len(releases) == 0 {
		return "", errors.New("empty release list from bulk-dataset API")
	}
	return releases[len(releases)-1], nil
}

// FetchDatasetURLs resolves the shard URL list for one dataset of a release,
// retrying on 429/5xx with exponential backoff (base delay 2s).
func FetchDatasetURLs(ctx context.Context, apiBase, releaseID, apiKey, dataset string) ([]string, error) {
	url := strings.TrimRight(apiBase, "/") + "/release/" + releaseID + "/dataset/" + dataset
	var lastErr error
	for attempt := 0; attempt < apiMaxRetries; attempt++ {
		urls, retryable, err := fetchDatasetURLsOnce(ctx, url, apiKey)
		if err == nil {
			return urls, nil
		}
		lastErr = err
		if !retryable || attempt == apiMaxRetries-1 {
			break
		}
		delay := time.Duration(2) * time.Second * time.Duration(1<<attempt)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, errors.Wrapf(lastErr, "fetch dataset urls for %s", dataset)
}

func fetchDatasetURLsOnce(ctx context.Context, url, apiKey string) ([]string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("x-api-key", apiKey)
	resp, err := apiClient.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, true, errors.Errorf("HTTP %d", resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, false, errors.Errorf("HTTP %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, err
	}
	var parsed struct {
		Files []string `json:"files"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, false, errors.Wrap(err, "invalid dataset response")
	}
	if len(parsed.Files) == 0 {
		return nil, false, errors.New("no URLs in dataset response")
	}
	return parsed.Files, false, nil
}
