package search

import (
	"context"
	"fmt"

	"github.com/mohammad-safakhou/counsel/internal/store"
)

// StatuteBackend searches the statute corpus in Postgres.
type StatuteBackend struct {
	Store *store.Store
}

func (b *StatuteBackend) Name() string { return "statutes" }

func (b *StatuteBackend) Search(ctx context.Context, keywords []string, limit int) ([]Source, error) {
	rows, err := b.Store.SearchStatutes(ctx, keywords, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Source, 0, len(rows))
	for i, st := range rows {
		name := st.LawName
		if st.Article != "" {
			name = fmt.Sprintf("%s %s", st.LawName, st.Article)
		}
		out = append(out, Source{
			Name:      name,
			Excerpt:   snippet(st.Content),
			Link:      st.SourceURL,
			Type:      SourceStatute,
			Relevance: rankRelevance(i, len(rows)),
		})
	}
	return out, nil
}

// PrecedentBackend searches the court decision corpus in Postgres.
type PrecedentBackend struct {
	Store *store.Store
}

func (b *PrecedentBackend) Name() string { return "precedents" }

func (b *PrecedentBackend) Search(ctx context.Context, keywords []string, limit int) ([]Source, error) {
	rows, err := b.Store.SearchPrecedents(ctx, keywords, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Source, 0, len(rows))
	for i, p := range rows {
		name := p.CaseNumber
		if p.CourtName != "" {
			name = fmt.Sprintf("%s %s", p.CourtName, p.CaseNumber)
		}
		out = append(out, Source{
			Name:      name,
			Excerpt:   snippet(p.Summary),
			Link:      p.SourceURL,
			Type:      SourcePrecedent,
			Relevance: rankRelevance(i, len(rows)),
		})
	}
	return out, nil
}

// rankRelevance maps a result's position to a score in (0, 1]. The store
// already orders by keyword hit count, so position is the signal we have.
func rankRelevance(i, n int) float64 {
	if n <= 0 {
		return 0
	}
	return float64(n-i) / float64(n)
}

func snippet(s string) string {
	r := []rune(s)
	if len(r) <= 300 {
		return s
	}
	return string(r[:300]) + "…"
}
