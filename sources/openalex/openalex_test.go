package openalex_test

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/papeline/papeline/sink"
	"github.com/papeline/papeline/sources/openalex"
)

func gzipLines(lines ...string) []byte {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	gw.Write([]byte(strings.Join(lines, "\n") + "\n"))
	gw.Close()
	return buf.Bytes()
}

const workLine = `{"id":"W1","doi":"10.1/a","title":"Gene editing","publication_year":2020,"primary_topic":{"domain":{"display_name":"biology"}},"cited_by_count":5}`
const offTopicLine = `{"id":"W2","doi":"10.1/b","title":"Tax policy","publication_year":2020,"primary_topic":{"domain":{"display_name":"economics"}},"cited_by_count":1}`

func TestFetchManifestParsesJSONArray(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]openalex.ManifestShard{
			{URL: "http://example.org/a.jsonl.gz", UpdateDate: "2024-01-01", ContentSize: 100},
			{URL: "http://example.org/b.jsonl.gz", UpdateDate: "2024-01-02", ContentSize: 200},
		})
	}))
	defer srv.Close()

	shards, err := openalex.FetchManifest(context.Background(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if len(shards) != 2 {
		t.Fatalf("got %d shards, want 2", len(shards))
	}
}

func TestMakeParseFilterMatchesDomain(t *testing.T) {
	pf := openalex.MakeParseFilter([]string{"biology"})
	row, ok := pf(workLine)
	if !ok {
		t.Fatal("expected biology line to match")
	}
	if row.WorkID != "W1" || row.Domain != "biology" {
		t.Fatalf("unexpected row: %+v", row)
	}

	if _, ok := pf(offTopicLine); ok {
		t.Fatal("expected economics line to be filtered out")
	}
}

func TestMakeParseFilterEmptyDomainsMatchesEverything(t *testing.T) {
	pf := openalex.MakeParseFilter(nil)
	if _, ok := pf(workLine); !ok {
		t.Fatal("expected match with no domain filter configured")
	}
	if _, ok := pf(offTopicLine); !ok {
		t.Fatal("expected match with no domain filter configured")
	}
}

func TestFetchAllProcessesShards(t *testing.T) {
	body := gzipLines(workLine, offTopicLine)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/manifest" {
			json.NewEncoder(w).Encode([]openalex.ManifestShard{
				{URL: srv2URL(r), UpdateDate: "2024-01-01"},
			})
			return
		}
		w.Write(body)
	}))
	defer srv.Close()

	dir := t.TempDir()
	stats, err := openalex.FetchAll(context.Background(), srv.URL+"/manifest", []string{"biology"}, 2, dir, 3, 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	completed, failed, rows := stats.Snapshot()
	if failed != 0 {
		t.Fatalf("failed = %d, want 0", failed)
	}
	if completed != 1 {
		t.Fatalf("completed = %d, want 1", completed)
	}
	if rows != 1 {
		t.Fatalf("rows = %d, want 1 (only the biology line matches)", rows)
	}
	if !sink.IsValid(dir + "/openalex_0000.parquet") {
		t.Fatal("expected a valid parquet output")
	}
}

func srv2URL(r *http.Request) string {
	return "http://" + r.Host + "/shard.jsonl.gz"
}
