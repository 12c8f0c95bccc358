package core

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/mohammad-safakhou/counsel/config"
	"github.com/mohammad-safakhou/counsel/internal/search"
	"github.com/mohammad-safakhou/counsel/provider"
)

const maxCitations = 10

// CitationStage maps the draft back to structured citations. Candidate
// sources come strictly from the search result set; the model only writes
// the per-citation descriptions, and a failed model call falls back to the
// source excerpts.
type CitationStage struct {
	Config   config.StageConfig
	Provider provider.Provider
	Logger   *log.Logger
}

func (c *CitationStage) Name() StageName { return StageCitation }

func (c *CitationStage) Execute(ctx context.Context, turn TurnInput, prior map[StageName]StageResult) (StageResult, error) {
	var sources []search.Source
	if sr := prior[StageSearch].Search; sr != nil {
		sources = sr.Sources
	}
	draft := ""
	if resp := prior[StageResponse].Response; resp != nil {
		draft = resp.Draft
	}
	if len(sources) == 0 {
		return StageResult{
			Stage:      StageCitation,
			Success:    true,
			Confidence: 0.9,
			Citation:   &CitationOutput{Citations: []Citation{}},
		}, nil
	}

	referenced := selectReferenced(draft, sources)
	descriptions, rawOut, tokens := c.describe(ctx, draft, referenced)

	citations := make([]Citation, 0, len(referenced))
	for _, src := range referenced {
		desc := descriptions[src.Name]
		if desc == "" {
			desc = src.Excerpt
		}
		citations = append(citations, Citation{
			SourceName:  src.Name,
			Description: desc,
			Link:        src.Link,
			Confidence:  src.Relevance,
		})
	}

	return StageResult{
		Stage:      StageCitation,
		Success:    true,
		Confidence: 0.9,
		RawOutput:  rawOut,
		Model:      c.Config.Model,
		TokensUsed: tokens,
		Citation:   &CitationOutput{Citations: citations},
	}, nil
}

// selectReferenced picks the sources the draft actually mentions, ordered by
// first point of reference. When the draft names none explicitly, the top
// ranked sources are kept so the answer still carries its evidence.
func selectReferenced(draft string, sources []search.Source) []search.Source {
	type ref struct {
		src search.Source
		pos int
	}
	var refs []ref
	for _, src := range sources {
		if idx := strings.Index(draft, src.Name); idx >= 0 {
			refs = append(refs, ref{src: src, pos: idx})
		}
	}
	if len(refs) == 0 {
		n := min(len(sources), maxCitations)
		return sources[:n]
	}
	sort.SliceStable(refs, func(i, j int) bool { return refs[i].pos < refs[j].pos })
	out := make([]search.Source, 0, min(len(refs), maxCitations))
	for _, r := range refs {
		out = append(out, r.src)
		if len(out) >= maxCitations {
			break
		}
	}
	return out
}

// describe asks the model for one-line descriptions per source name. A
// model failure is absorbed; callers fall back to excerpts.
func (c *CitationStage) describe(ctx context.Context, draft string, sources []search.Source) (map[string]string, string, int64) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "답변 초안:\n%s\n\n다음 자료 각각이 답변에서 어떤 역할을 하는지 한 줄로 설명해 주세요.\n", draft)
	for i, src := range sources {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, src.Name)
	}
	sb.WriteString("형식: 번호. = {설명}\n")

	msgs := []provider.Message{
		{Role: "system", Content: c.Config.SystemPrompt},
		{Role: "user", Content: sb.String()},
	}
	raw, tokens, err := complete(ctx, c.Provider, c.Config, msgs)
	if err != nil {
		if c.Logger != nil {
			c.Logger.Printf("citation descriptions unavailable: %v", err)
		}
		return nil, "", tokens
	}
	items := parseNumbered(raw)
	out := make(map[string]string, len(sources))
	for i, src := range sources {
		if desc := strings.TrimSpace(items[i+1]); desc != "" {
			out[src.Name] = desc
		}
	}
	return out, raw, tokens
}
