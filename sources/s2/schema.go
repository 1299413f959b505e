package s2

// EmbeddingDim is the dimensionality of the SPECTER-v2-style embedding vector.
const EmbeddingDim = 768

// PaperRow is the flattened papers.parquet projection.
type PaperRow struct {
	CorpusID       int64  `parquet:"name=corpusid, type=INT64"`
	Title          string `parquet:"name=title, type=BYTE_ARRAY, convertedtype=UTF8"`
	Venue          string `parquet:"name=venue, type=BYTE_ARRAY, convertedtype=UTF8"`
	Year           int32  `parquet:"name=year, type=INT32"`
	ReferenceCount int32  `parquet:"name=referencecount, type=INT32"`
	CitationCount  int32  `parquet:"name=citationcount, type=INT32"`
	DOI            string `parquet:"name=doi, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// AbstractRow is the abstracts.parquet projection.
type AbstractRow struct {
	CorpusID int64  `parquet:"name=corpusid, type=INT64"`
	Abstract string `parquet:"name=abstract, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// EmbeddingRow is the embeddings.parquet projection, the two-phase
// coordinator's separate side-output dataset.
type EmbeddingRow struct {
	CorpusID int64     `parquet:"name=corpusid, type=INT64"`
	Vector   []float32 `parquet:"name=vector, type=FLOAT, repetitiontype=REPEATED"`
}

// rawPaper is the wire shape of one papers-dataset JSONL line (reduced:
// grants/chemicals-equivalent nested fields from the richer schema sections
// are out of scope for this projection).
type rawPaper struct {
	CorpusID       int64   `json:"corpusid"`
	Title          string  `json:"title"`
	Venue          string  `json:"venue"`
	Year           int32   `json:"year"`
	ReferenceCount int32   `json:"referencecount"`
	CitationCount  int32   `json:"citationcount"`
	S2FieldsOfStudy []struct {
		Category string `json:"category"`
	} `json:"s2fieldsofstudy"`
	ExternalIDs struct {
		DOI string `json:"DOI"`
	} `json:"externalids"`
}

type rawAbstract struct {
	CorpusID int64  `json:"corpusid"`
	Abstract string `json:"abstract"`
}

type rawEmbedding struct {
	CorpusID int64     `json:"corpusid"`
	Vector   []float32 `json:"vector"`
}

// corpusIDProbe is the lightweight pre-screen deserializer that reads only
// the corpus-id field, avoiding a full structured parse of lines that will
// be rejected by the Phase-2 corpus-ID filter.
type corpusIDProbe struct {
	CorpusID int64 `json:"corpusid"`
}
