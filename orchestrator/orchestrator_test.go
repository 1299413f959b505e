package orchestrator_test

import (
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/papeline/papeline/orchestrator"
	"github.com/papeline/papeline/runconfig"
	"github.com/papeline/papeline/store"
)

const pubmedListing = `<html><body>
<a href="pubmed26n0001.xml.gz">pubmed26n0001.xml.gz</a> 1K
</body></html>`

const pubmedArticle = `<?xml version="1.0"?>
<PubmedArticleSet>
<PubmedArticle>
  <MedlineCitation>
    <PMID>1</PMID>
    <Article>
      <ArticleTitle>A title</ArticleTitle>
      <Abstract><AbstractText>An abstract.</AbstractText></Abstract>
      <Journal><Title>A Journal</Title><JournalIssue><PubDate><Year>2020</Year></PubDate></JournalIssue></Journal>
    </Article>
  </MedlineCitation>
  <PubmedData><ArticleIdList></ArticleIdList></PubmedData>
</PubmedArticle>
</PubmedArticleSet>`

func gzipBody(s string) []byte {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	gw.Write([]byte(s))
	gw.Close()
	return buf.Bytes()
}

func newPubmedServer() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			w.Write([]byte(pubmedListing))
			return
		}
		w.Write(gzipBody(pubmedArticle))
	}))
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// commitFakeStage commits a single-file stage output directly, bypassing a
// real fetch, so join-composition tests don't need three live sources. cfgVal
// must match the content-affecting config the orchestrator will later resolve
// for this stage, or the committed directory won't be found on Lookup.
func commitFakeStage(t *testing.T, s *store.Store, name store.StageName, cfgVal any, content string) store.StageManifest {
	t.Helper()
	input, err := store.MakeStageInput(name, cfgVal)
	if err != nil {
		t.Fatal(err)
	}
	tmpDir := s.StageTmpDir(input)
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(tmpDir, "data.txt"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	m, err := s.CommitStage(input, tmpDir, false)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestRunExecutesNeedsRunStageAndCommits(t *testing.T) {
	srv := newPubmedServer()
	defer srv.Close()

	s := openStore(t)
	cfg := runconfig.Config{
		Pubmed: &runconfig.PubmedStage{BaseURL: srv.URL, CompressionLevel: 3, MaxAttempts: 1, Workers: 1},
	}

	result, err := orchestrator.Run(context.Background(), s, cfg, orchestrator.Options{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Plans) != 1 || result.Plans[0].Status != orchestrator.Cached {
		t.Fatalf("expected one stage, committed: %+v", result.Plans)
	}
	if result.Plans[0].Manifest == nil || result.Plans[0].Manifest.ContentHash == "" {
		t.Fatal("expected a committed manifest with a content hash")
	}
}

func TestRunAllStagesCachedSkipsExecution(t *testing.T) {
	s := openStore(t)
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := runconfig.Config{
		Pubmed: &runconfig.PubmedStage{BaseURL: srv.URL, CompressionLevel: 3, MaxAttempts: 1, Workers: 1},
	}
	commitFakeStage(t, s, store.Pubmed, cfg.Pubmed.ContentConfig(), "pubmed-data")

	result, err := orchestrator.Run(context.Background(), s, cfg, orchestrator.Options{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Plans[0].Status != orchestrator.Cached {
		t.Fatalf("expected cached plan, got %v", result.Plans[0].Status)
	}
	if hits != 0 {
		t.Fatalf("expected no network activity for a cached stage, got %d hits", hits)
	}
}

func TestRunDryRunDoesNotExecute(t *testing.T) {
	s := openStore(t)
	cfg := runconfig.Config{
		Pubmed: &runconfig.PubmedStage{BaseURL: "https://example.org/pubmed", CompressionLevel: 3, MaxAttempts: 1, Workers: 1},
	}
	result, err := orchestrator.Run(context.Background(), s, cfg, orchestrator.Options{DryRun: true}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result != nil {
		t.Fatalf("expected a nil result for a dry run, got %+v", result)
	}

	input, _ := store.MakeStageInput(store.Pubmed, cfg.Pubmed.ContentConfig())
	if s.Lookup(input).Cached {
		t.Fatal("dry run must not commit any stage")
	}
}

func TestRunJoinInvalidatesWhenUpstreamContentChanges(t *testing.T) {
	s := openStore(t)
	cfg := runconfig.Config{
		Pubmed:   &runconfig.PubmedStage{BaseURL: "https://example.org/pubmed", CompressionLevel: 3, MaxAttempts: 1, Workers: 1},
		OpenAlex: &runconfig.OpenAlexStage{ManifestURL: "https://example.org/openalex", CompressionLevel: 3, MaxAttempts: 1, Workers: 1},
		S2:       &runconfig.S2Stage{Datasets: []string{"papers"}, CompressionLevel: 3, MaxAttempts: 1, Workers: 1},
		Join:     &runconfig.JoinStage{Enabled: true},
	}
	commitFakeStage(t, s, store.Pubmed, cfg.Pubmed.ContentConfig(), "pubmed-v1")
	commitFakeStage(t, s, store.OpenAlex, cfg.OpenAlex.ContentConfig(), "openalex-v1")
	commitFakeStage(t, s, store.S2, cfg.S2.ContentConfig(), "s2-v1")

	result, err := orchestrator.Run(context.Background(), s, cfg, orchestrator.Options{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Plans) != 4 {
		t.Fatalf("expected 4 participating stages (3 fetch + join), got %d", len(result.Plans))
	}
	firstJoinHash := result.Plans[3].Manifest.ContentHash

	result2, err := orchestrator.Run(context.Background(), s, cfg, orchestrator.Options{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range result2.Plans {
		if p.Status != orchestrator.Cached {
			t.Fatalf("expected second identical run to be fully cached, stage %s was %v", p.Name, p.Status)
		}
	}
	if result2.Plans[3].Manifest.ContentHash != firstJoinHash {
		t.Fatal("join content hash should be stable across identical re-runs")
	}

	// Recommit pubmed with different content: the join's cache key (built from
	// upstream content hashes) must change even though no config field changed.
	// CommitStage refuses to overwrite an existing committed dir, so remove it first.
	pubmedInput, _ := store.MakeStageInput(store.Pubmed, cfg.Pubmed.ContentConfig())
	if err := os.RemoveAll(s.StageDir(pubmedInput)); err != nil {
		t.Fatal(err)
	}
	commitFakeStage(t, s, store.Pubmed, cfg.Pubmed.ContentConfig(), "pubmed-v2-different-content")
	result3, err := orchestrator.Run(context.Background(), s, cfg, orchestrator.Options{Force: false}, nil)
	if err != nil {
		t.Fatal(err)
	}
	var joinPlan *orchestrator.StagePlan
	for i := range result3.Plans {
		if result3.Plans[i].Name == store.Join {
			joinPlan = &result3.Plans[i]
		}
	}
	if joinPlan == nil {
		t.Fatal("expected a join plan in the result")
	}
	if joinPlan.Input.InputHash() == result.Plans[3].Input.InputHash() {
		t.Fatal("expected changed pubmed content to change the join input hash")
	}
}
