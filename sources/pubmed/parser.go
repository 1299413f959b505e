package pubmed

import (
	"encoding/xml"
	"io"
	"strconv"

	"github.com/papeline/papeline/cmn/nlog"
)

// Article is a flattened projection of a <PubmedArticle> onto the columns the
// pipeline emits; the full nested citation record (grants, chemicals,
// databanks, qualifiers) is a source-specific concern this pipeline does not
// reproduce.
type Article struct {
	PMID          int64
	DOI           string
	Title         string
	Abstract      string
	JournalTitle  string
	PubYear       int32
	AuthorCount   int32
	MeshTermCount int32
}

type xmlArticleID struct {
	IDType string `xml:"IdType,attr"`
	Value  string `xml:",chardata"`
}

type xmlAuthor struct {
	LastName string `xml:"LastName"`
	ForeName string `xml:"ForeName"`
}

type xmlMeshHeading struct {
	DescriptorName string `xml:"DescriptorName"`
}

type xmlAbstractText struct {
	Text string `xml:",chardata"`
}

type xmlPubmedArticle struct {
	MedlineCitation struct {
		PMID    string `xml:"PMID"`
		Article struct {
			ArticleTitle string `xml:"ArticleTitle"`
			Abstract     struct {
				AbstractText []xmlAbstractText `xml:"AbstractText"`
			} `xml:"Abstract"`
			Journal struct {
				Title       string `xml:"Title"`
				JournalIssue struct {
					PubDate struct {
						Year string `xml:"Year"`
					} `xml:"PubDate"`
				} `xml:"JournalIssue"`
			} `xml:"Journal"`
			AuthorList struct {
				Author []xmlAuthor `xml:"Author"`
			} `xml:"AuthorList"`
		} `xml:"Article"`
		MeshHeadingList struct {
			MeshHeading []xmlMeshHeading `xml:"MeshHeading"`
		} `xml:"MeshHeadingList"`
	} `xml:"MedlineCitation"`
	PubmedData struct {
		ArticleIDList struct {
			ArticleID []xmlArticleID `xml:"ArticleId"`
		} `xml:"ArticleIdList"`
	} `xml:"PubmedData"`
}

func (a xmlPubmedArticle) toArticle() Article {
	pmid, _ := strconv.ParseInt(a.MedlineCitation.PMID, 10, 64)
	year, _ := strconv.ParseInt(a.MedlineCitation.Article.Journal.JournalIssue.PubDate.Year, 10, 32)

	var doi string
	for _, id := range a.PubmedData.ArticleIDList.ArticleID {
		if id.IDType == "doi" {
			doi = id.Value
			break
		}
	}

	var abstractText string
	for i, part := range a.MedlineCitation.Article.Abstract.AbstractText {
		if i > 0 {
			abstractText += " "
		}
		abstractText += part.Text
	}

	return Article{
		PMID:          pmid,
		DOI:           doi,
		Title:         a.MedlineCitation.Article.ArticleTitle,
		Abstract:      abstractText,
		JournalTitle:  a.MedlineCitation.Article.Journal.Title,
		PubYear:       int32(year),
		AuthorCount:   int32(len(a.MedlineCitation.Article.AuthorList.Author)),
		MeshTermCount: int32(len(a.MedlineCitation.MeshHeadingList.MeshHeading)),
	}
}

// ScanArticles streams <PubmedArticle> elements out of r, invoking emit for
// each successfully decoded one. A <DeleteCitation> block's PMIDs are passed
// to onDelete. A malformed individual article is logged at info and skipped
// without failing the scan (§4.4's "parse errors are counted, not fatal").
func ScanArticles(r io.Reader, emit func(Article), onDelete func(pmid string)) (scanned int64, err error) {
	dec := xml.NewDecoder(r)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return scanned, nil
		}
		if err != nil {
			return scanned, err
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch se.Name.Local {
		case "PubmedArticle":
			scanned++
			var raw xmlPubmedArticle
			if err := dec.DecodeElement(&raw, &se); err != nil {
				nlog.Infof("pubmed: skipping malformed article: %v", err)
				continue
			}
			emit(raw.toArticle())
		case "DeleteCitation":
			var del struct {
				PMID []string `xml:"PMID"`
			}
			if err := dec.DecodeElement(&del, &se); err != nil {
				nlog.Infof("pubmed: skipping malformed DeleteCitation: %v", err)
				continue
			}
			if onDelete != nil {
				for _, pmid := range del.PMID {
					onDelete(pmid)
				}
			}
		}
	}
}
