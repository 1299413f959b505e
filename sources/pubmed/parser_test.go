package pubmed_test

import (
	"strings"
	"testing"

	"github.com/papeline/papeline/sources/pubmed"
)

const sampleXML = `<?xml version="1.0"?>
<PubmedArticleSet>
  <PubmedArticle>
    <MedlineCitation>
      <PMID>12345678</PMID>
      <Article>
        <ArticleTitle>A study of things</ArticleTitle>
        <Abstract>
          <AbstractText>Background text.</AbstractText>
          <AbstractText>Results text.</AbstractText>
        </Abstract>
        <Journal>
          <Title>Journal of Examples</Title>
          <JournalIssue>
            <PubDate><Year>2021</Year></PubDate>
          </JournalIssue>
        </Journal>
        <AuthorList>
          <Author><LastName>Smith</LastName><ForeName>Jane</ForeName></Author>
          <Author><LastName>Doe</LastName><ForeName>John</ForeName></Author>
        </AuthorList>
      </Article>
      <MeshHeadingList>
        <MeshHeading><DescriptorName>Genetics</DescriptorName></MeshHeading>
      </MeshHeadingList>
    </MedlineCitation>
    <PubmedData>
      <ArticleIdList>
        <ArticleId IdType="pubmed">12345678</ArticleId>
        <ArticleId IdType="doi">10.1234/example.2021</ArticleId>
      </ArticleIdList>
    </PubmedData>
  </PubmedArticle>
  <DeleteCitation>
    <PMID>99999</PMID>
    <PMID>88888</PMID>
  </DeleteCitation>
</PubmedArticleSet>
`

func TestScanArticlesExtractsFields(t *testing.T) {
	var got []pubmed.Article
	scanned, err := pubmed.ScanArticles(strings.NewReader(sampleXML), func(a pubmed.Article) {
		got = append(got, a)
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if scanned != 1 {
		t.Fatalf("scanned = %d, want 1", scanned)
	}
	if len(got) != 1 {
		t.Fatalf("got %d articles, want 1", len(got))
	}
	a := got[0]
	if a.PMID != 12345678 {
		t.Errorf("PMID = %d, want 12345678", a.PMID)
	}
	if a.DOI != "10.1234/example.2021" {
		t.Errorf("DOI = %q", a.DOI)
	}
	if a.Title != "A study of things" {
		t.Errorf("Title = %q", a.Title)
	}
	if a.Abstract != "Background text. Results text." {
		t.Errorf("Abstract = %q", a.Abstract)
	}
	if a.JournalTitle != "Journal of Examples" {
		t.Errorf("JournalTitle = %q", a.JournalTitle)
	}
	if a.PubYear != 2021 {
		t.Errorf("PubYear = %d, want 2021", a.PubYear)
	}
	if a.AuthorCount != 2 {
		t.Errorf("AuthorCount = %d, want 2", a.AuthorCount)
	}
	if a.MeshTermCount != 1 {
		t.Errorf("MeshTermCount = %d, want 1", a.MeshTermCount)
	}
}

func TestScanArticlesReportsDeletions(t *testing.T) {
	var deleted []string
	_, err := pubmed.ScanArticles(strings.NewReader(sampleXML), func(pubmed.Article) {}, func(pmid string) {
		deleted = append(deleted, pmid)
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(deleted) != 2 || deleted[0] != "99999" || deleted[1] != "88888" {
		t.Fatalf("deleted = %v", deleted)
	}
}

func TestScanArticlesHandlesMultipleArticles(t *testing.T) {
	doc := `<PubmedArticleSet>
  <PubmedArticle><MedlineCitation><PMID>1</PMID></MedlineCitation></PubmedArticle>
  <PubmedArticle><MedlineCitation><PMID>2</PMID></MedlineCitation></PubmedArticle>
</PubmedArticleSet>`
	var got []pubmed.Article
	scanned, err := pubmed.ScanArticles(strings.NewReader(doc), func(a pubmed.Article) {
		got = append(got, a)
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if scanned != 2 || len(got) != 2 {
		t.Fatalf("scanned = %d, got %d articles, want 2 and 2", scanned, len(got))
	}
	if got[0].PMID != 1 || got[1].PMID != 2 {
		t.Fatalf("got PMIDs %d, %d", got[0].PMID, got[1].PMID)
	}
}

func TestScanArticlesEmptyDocument(t *testing.T) {
	scanned, err := pubmed.ScanArticles(strings.NewReader(`<PubmedArticleSet></PubmedArticleSet>`),
		func(pubmed.Article) {}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if scanned != 0 {
		t.Fatalf("scanned = %d, want 0", scanned)
	}
}
