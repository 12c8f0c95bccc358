package search

import (
	"context"
	"strings"
	"sync"

	"github.com/blevesearch/bleve"

	"github.com/mohammad-safakhou/counsel/internal/store"
)

// TemplateIndex holds the curated answer templates in an in-memory bleve
// index so keyword lookups stay off Postgres.
type TemplateIndex struct {
	index bleve.Index
	meta  map[string]store.Template
	mu    sync.RWMutex
}

// NewTemplateIndex builds a mem-only index over the given templates.
func NewTemplateIndex(templates []store.Template) (*TemplateIndex, error) {
	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, err
	}
	ti := &TemplateIndex{index: index, meta: make(map[string]store.Template, len(templates))}
	for _, t := range templates {
		if err := ti.Add(t); err != nil {
			return nil, err
		}
	}
	return ti, nil
}

// Add indexes one template. Safe for concurrent use.
func (ti *TemplateIndex) Add(t store.Template) error {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	ti.meta[t.ID] = t
	return ti.index.Index(t.ID, map[string]string{
		"category": t.Category,
		"title":    t.Title,
		"body":     t.Body,
	})
}

func (ti *TemplateIndex) Name() string { return "templates" }

// Search runs a BM25 query over the template corpus.
func (ti *TemplateIndex) Search(ctx context.Context, keywords []string, limit int) ([]Source, error) {
	q := strings.TrimSpace(strings.Join(keywords, " "))
	if q == "" || limit <= 0 {
		return nil, nil
	}
	query := bleve.NewQueryStringQuery(q)
	req := bleve.NewSearchRequestOptions(query, limit, 0, false)
	res, err := ti.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, err
	}

	ti.mu.RLock()
	defer ti.mu.RUnlock()
	var out []Source
	maxScore := res.MaxScore
	if maxScore <= 0 {
		maxScore = 1
	}
	for _, hit := range res.Hits {
		t, ok := ti.meta[hit.ID]
		if !ok {
			continue
		}
		out = append(out, Source{
			Name:      t.Title,
			Excerpt:   snippet(t.Body),
			Link:      "",
			Type:      SourceTemplate,
			Relevance: hit.Score / maxScore,
		})
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}
