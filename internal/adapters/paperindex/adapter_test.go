package paperindex

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/scholarqa-engine/pkg/types"
)

func TestSemanticScholarSnippetSearchParsesHits(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[{"snippet":{"text":"deep learning improves recall","section":"Results","snippetKind":"body"},"score":0.91,"paper":{"corpusId":42}}]}`)
	}))
	defer ts.Close()
	old := snippetSearchURL
	snippetSearchURL = ts.URL
	defer func() { snippetSearchURL = old }()

	b := &SemanticScholarBackend{Client: ts.Client(), APIKey: "k"}
	out, err := b.SnippetSearch(context.Background(), "deep learning", types.Filters{}, 10)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "42", out[0].CorpusID)
	assert.Equal(t, types.SnippetBody, out[0].Kind)
	assert.Equal(t, 0.91, out[0].Score)
}

func TestSemanticScholarKeywordSearchParsesPapers(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[{"corpusId":7,"title":"Graph Neural Networks","year":2021,"authors":[{"authorId":"1","name":"Ada Lovelace"}],"citationCount":12}]}`)
	}))
	defer ts.Close()
	old := paperSearchURL
	paperSearchURL = ts.URL
	defer func() { paperSearchURL = old }()

	b := &SemanticScholarBackend{Client: ts.Client()}
	out, err := b.KeywordSearch(context.Background(), "graph neural networks", types.Filters{}, 5)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "7", out[0].CorpusID)
	assert.Equal(t, "Lovelace", out[0].FirstAuthorRef())
}

func TestSemanticScholarFetchMetadataPrefixesCorpusIDs(t *testing.T) {
	var gotBody string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, r.ContentLength)
		r.Body.Read(buf)
		gotBody = string(buf)
		fmt.Fprint(w, `[{"corpusId":42,"title":"A Paper"}]`)
	}))
	defer ts.Close()
	old := paperBatchURL
	paperBatchURL = ts.URL
	defer func() { paperBatchURL = old }()

	b := &SemanticScholarBackend{Client: ts.Client()}
	out, err := b.FetchMetadata(context.Background(), []string{"42"})
	require.NoError(t, err)
	require.Contains(t, out, "42")
	assert.Contains(t, gotBody, "CorpusId:42")
}

func TestArxivKeywordSearchExtractsID(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<?xml version="1.0"?><feed><entry><id>http://arxiv.org/abs/2301.07041v2</id><title>Some Paper</title><summary>abstract text</summary><published>2023-01-17T00:00:00Z</published><author><name>Jane Doe</name></author></entry></feed>`)
	}))
	defer ts.Close()
	old := arxivAPIBase
	arxivAPIBase = ts.URL
	defer func() { arxivAPIBase = old }()

	b := &ArxivBackend{Client: ts.Client()}
	out, err := b.KeywordSearch(context.Background(), "some paper", types.Filters{}, 5)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "2301.07041", out[0].CorpusID)
	assert.Equal(t, 2023, out[0].Year)
}

func TestArxivSnippetSearchUnsupported(t *testing.T) {
	b := &ArxivBackend{}
	_, err := b.SnippetSearch(context.Background(), "q", types.Filters{}, 5)
	assert.Error(t, err)
}

type stubBackend struct {
	name     string
	papers   []types.PaperRecord
	searched bool
}

func (s *stubBackend) Name() string { return s.name }
func (s *stubBackend) SnippetSearch(ctx context.Context, query string, filters types.Filters, limit int) ([]types.CandidatePassage, error) {
	return nil, nil
}
func (s *stubBackend) KeywordSearch(ctx context.Context, keywordQuery string, filters types.Filters, limit int) ([]types.PaperRecord, error) {
	s.searched = true
	return s.papers, nil
}
func (s *stubBackend) FetchMetadata(ctx context.Context, corpusIDs []string) (map[string]types.PaperRecord, error) {
	return nil, nil
}

func TestAdapterKeywordSearchFallsBackToSecondaryWhenPrimaryEmpty(t *testing.T) {
	primary := &stubBackend{name: "primary"}
	secondary := &stubBackend{name: "secondary", papers: []types.PaperRecord{{CorpusID: "99"}}}
	a := &Adapter{Primary: primary, Secondary: secondary}

	out, err := a.KeywordSearch(context.Background(), "q", types.Filters{}, 10)
	require.NoError(t, err)
	assert.True(t, secondary.searched)
	require.Len(t, out, 1)
	assert.Equal(t, "99", out[0].CorpusID)
}

func TestAdapterKeywordSearchSkipsSecondaryWhenPrimaryNonEmpty(t *testing.T) {
	primary := &stubBackend{name: "primary", papers: []types.PaperRecord{{CorpusID: "1"}}}
	secondary := &stubBackend{name: "secondary", papers: []types.PaperRecord{{CorpusID: "99"}}}
	a := &Adapter{Primary: primary, Secondary: secondary}

	out, err := a.KeywordSearch(context.Background(), "q", types.Filters{}, 10)
	require.NoError(t, err)
	assert.False(t, secondary.searched)
	require.Len(t, out, 1)
	assert.Equal(t, "1", out[0].CorpusID)
}
