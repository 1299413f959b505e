// Package pubmed fetches and parses the biomedical citation archive's
// sequentially numbered gzipped XML baseline dumps.
package pubmed

import (
	"context"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Entry is one baseline file listed in the archive's directory index.
type Entry struct {
	Filename  string
	URL       string
	SizeBytes int64 // 0 if unknown
}

var manifestClient = &http.Client{Timeout: 60 * time.Second}

// FetchManifest retrieves and parses the HTML directory listing at baseURL,
// making up to 3 attempts with exponential backoff on any failure (transport
// error or non-2xx status).
func FetchManifest(ctx context.Context, baseURL string) ([]Entry, error) {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			delay := time.Duration(1<<attempt) * time.Second
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		entries, err := fetchManifestOnce(ctx, baseURL)
		if err == nil {
			return entries, nil
		}
		lastErr = err
	}
	return nil, errors.Wrap(lastErr, "fetch pubmed manifest")
}

func fetchManifestOnce(ctx context.Context, baseURL string) ([]Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := manifestClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.Errorf("manifest fetch: HTTP %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return parseHTMLListing(string(body), baseURL), nil
}

// parseHTMLListing extracts .xml.gz links from an Apache/nginx-style
// directory listing page, sorted by filename for a deterministic shard order.
func parseHTMLListing(html, baseURL string) []Entry {
	var entries []Entry
	for _, line := range strings.Split(html, "\n") {
		start := strings.Index(line, `href="`)
		if start < 0 {
			continue
		}
		rest := line[start+len(`href="`):]
		end := strings.IndexByte(rest, '"')
		if end < 0 {
			continue
		}
		filename := rest[:end]
		if !strings.HasSuffix(filename, ".xml.gz") {
			continue
		}
		entries = append(entries, Entry{
			Filename:  filename,
			URL:       strings.TrimRight(baseURL, "/") + "/" + filename,
			SizeBytes: parseSizeFromLine(line),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Filename < entries[j].Filename })
	return entries
}

func parseSizeFromLine(line string) int64 {
	fields := strings.Fields(line)
	for i := len(fields) - 1; i >= 0; i-- {
		if size, ok := parseSizeString(fields[i]); ok {
			return size
		}
	}
	return 0
}

func parseSizeString(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	var mult float64 = 1
	switch {
	case strings.HasSuffix(s, "K"):
		mult, s = 1024, s[:len(s)-1]
	case strings.HasSuffix(s, "M"):
		mult, s = 1024*1024, s[:len(s)-1]
	case strings.HasSuffix(s, "G"):
		mult, s = 1024*1024*1024, s[:len(s)-1]
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return int64(n * mult), true
}

// ExtractBaselineYear parses the 2-digit year out of filenames like
// "pubmed26n0001.xml.gz" -> 26. Returns (0, false) if unrecognized.
func ExtractBaselineYear(entries []Entry) (int, bool) {
	if len(entries) == 0 {
		return 0, false
	}
	name := entries[0].Filename
	if !strings.HasPrefix(name, "pubmed") {
		return 0, false
	}
	name = name[len("pubmed"):]
	nPos := strings.IndexByte(name, 'n')
	if nPos < 0 {
		return 0, false
	}
	year, err := strconv.Atoi(name[:nPos])
	if err != nil {
		return 0, false
	}
	return year, true
}
