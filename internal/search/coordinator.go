package search

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"
)

// Coordinator fans one keyword set out to every registered backend and
// merges the results. A failing backend costs its results, not the round.
type Coordinator struct {
	backends []Backend
	timeout  time.Duration
	logger   *log.Logger
}

func NewCoordinator(backends []Backend, timeout time.Duration, logger *log.Logger) *Coordinator {
	if logger == nil {
		logger = log.New(log.Writer(), "[SEARCH] ", log.LstdFlags)
	}
	return &Coordinator{backends: backends, timeout: timeout, logger: logger}
}

// Search queries all backends concurrently and returns deduplicated sources
// sorted by relevance. It errors only when every backend failed.
func (c *Coordinator) Search(ctx context.Context, keywords []string, limit int) ([]Source, error) {
	if limit <= 0 {
		limit = 10
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	type result struct {
		sources []Source
		err     error
	}
	// Indexed by backend registration order, so relevance ties across
	// backends always resolve the same way.
	results := make([]result, len(c.backends))
	var wg sync.WaitGroup
	for i, b := range c.backends {
		wg.Add(1)
		go func(i int, b Backend) {
			defer wg.Done()
			srcs, err := b.Search(ctx, keywords, limit)
			results[i] = result{sources: srcs, err: err}
		}(i, b)
	}
	wg.Wait()

	var merged []Source
	var firstErr error
	failures := 0
	for i, r := range results {
		if r.err != nil {
			failures++
			if firstErr == nil {
				firstErr = r.err
			}
			c.logger.Printf("backend %s failed: %v", c.backends[i].Name(), r.err)
			continue
		}
		merged = append(merged, r.sources...)
	}
	if failures == len(c.backends) && failures > 0 {
		return nil, firstErr
	}
	return dedupeAndRank(merged, limit), nil
}

// dedupeAndRank removes duplicate sources (same name and link, keeping the
// higher relevance) and returns the top results in descending relevance.
func dedupeAndRank(sources []Source, limit int) []Source {
	type key struct{ name, link string }
	best := make(map[key]Source, len(sources))
	order := make([]key, 0, len(sources))
	for _, s := range sources {
		k := key{s.Name, s.Link}
		if cur, ok := best[k]; !ok {
			best[k] = s
			order = append(order, k)
		} else if s.Relevance > cur.Relevance {
			best[k] = s
		}
	}
	out := make([]Source, 0, len(order))
	for _, k := range order {
		out = append(out, best[k])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Relevance > out[j].Relevance })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
