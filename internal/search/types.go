package search

import "context"

// SourceType distinguishes where a source came from.
type SourceType string

const (
	SourceStatute   SourceType = "statute"
	SourcePrecedent SourceType = "precedent"
	SourceTemplate  SourceType = "template"
	SourceWeb       SourceType = "web"
)

// Source is one retrieved document, normalized across backends.
type Source struct {
	Name      string     `json:"name"`
	Excerpt   string     `json:"excerpt"`
	Link      string     `json:"link"`
	Type      SourceType `json:"type"`
	Relevance float64    `json:"relevance"`
}

// Backend is one searchable corpus the coordinator fans out to.
type Backend interface {
	Name() string
	Search(ctx context.Context, keywords []string, limit int) ([]Source, error)
}
