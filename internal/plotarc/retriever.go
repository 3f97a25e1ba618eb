// Package plotarc implements foreshadowing retrieval: an embedding-backed
// similarity search over a project's plot arcs, with a keyword-count
// fallback when the embedding backend is unavailable.
package plotarc

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/antigravity-dev/narrativeengine/internal/embedding"
	"github.com/antigravity-dev/narrativeengine/internal/model"
	"github.com/antigravity-dev/narrativeengine/internal/store"
)

// Retriever answers retrieve(project, query_text, top_k, ...) against the
// plot-arc store, lazily indexing missing embeddings along the way.
type Retriever struct {
	store  *store.Store
	engine embedding.Engine
}

// New builds a Retriever over st using engine for query/arc embedding.
func New(st *store.Store, engine embedding.Engine) *Retriever {
	return &Retriever{store: st, engine: engine}
}

// Options configures one Retrieve call.
type Options struct {
	TopK          int
	OnlyActive    bool
	MinSimilarity float64
}

// Retrieve returns the arcs most relevant to queryText, each with a
// similarity score. If the embedding backend fails, it falls back to
// keyword-count ranking instead of failing the whole call.
func (r *Retriever) Retrieve(ctx context.Context, projectID int64, queryText string, opts Options) ([]model.ArcCard, error) {
	var candidates []model.PlotArc
	var err error
	if opts.OnlyActive {
		candidates, err = r.store.GetActivePlotArcs(projectID)
	} else {
		candidates, err = r.store.ListPlotArcs(projectID)
	}
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	queryVec, embedErr := r.engine.Embed(ctx, queryText)
	if embedErr != nil {
		return r.keywordFallback(candidates, queryText, opts), nil
	}

	if _, err := r.ensureEmbeddings(ctx, candidates, false); err != nil {
		return r.keywordFallback(candidates, queryText, opts), nil
	}

	type scored struct {
		arc   model.PlotArc
		score float64
	}
	var results []scored
	for _, arc := range candidates {
		sim, err := embedding.CosineSimilarity(queryVec, arc.Embedding)
		if err != nil {
			continue
		}
		if sim < opts.MinSimilarity {
			continue
		}
		results = append(results, scored{arc: arc, score: sim})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].score > results[j].score })

	topK := opts.TopK
	if topK <= 0 || topK > len(results) {
		topK = len(results)
	}
	cards := make([]model.ArcCard, 0, topK)
	for i := 0; i < topK; i++ {
		cards = append(cards, results[i].arc.Card(round4(results[i].score)))
	}
	return cards, nil
}

// ensureEmbeddings computes and persists an embedding for every candidate
// missing one (lazy index), or for every candidate unconditionally when
// force is true, per spec §4.5 step 3. It returns the count of embeddings
// actually written.
func (r *Retriever) ensureEmbeddings(ctx context.Context, candidates []model.PlotArc, force bool) (int, error) {
	written := 0
	for i, arc := range candidates {
		if !force && len(arc.Embedding) > 0 {
			continue
		}
		text := arc.Name
		if arc.Description != "" {
			text = arc.Name + ": " + arc.Description
		}
		vec, err := r.engine.Embed(ctx, text)
		if err != nil {
			return written, err
		}
		if err := r.store.UpdatePlotArcEmbedding(arc.ID, vec); err != nil {
			return written, err
		}
		candidates[i].Embedding = vec
		written++
	}
	return written, nil
}

// Index embeds every plot arc in a project that is missing an embedding,
// or every arc unconditionally when force is true, and returns the count
// of embeddings written. This is the standalone index(project, force)
// operation: Retrieve already calls the same machinery lazily, but index
// is the explicit, callable-on-its-own form of it.
func (r *Retriever) Index(ctx context.Context, projectID int64, force bool) (int, error) {
	arcs, err := r.store.ListPlotArcs(projectID)
	if err != nil {
		return 0, err
	}
	return r.ensureEmbeddings(ctx, arcs, force)
}

// keywordFallback counts how many of an arc's related keywords (or its
// name, absent keywords) appear in queryText. Score is hits normalized by
// keyword count.
func (r *Retriever) keywordFallback(candidates []model.PlotArc, queryText string, opts Options) []model.ArcCard {
	probe := strings.ToLower(queryText)

	type scored struct {
		arc   model.PlotArc
		score float64
	}
	var results []scored
	for _, arc := range candidates {
		keywords := arc.RelatedKeywords
		if len(keywords) == 0 {
			keywords = []string{arc.Name}
		}
		hits := 0
		for _, kw := range keywords {
			if kw != "" && strings.Contains(probe, strings.ToLower(kw)) {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		score := float64(hits) / math.Max(1, float64(len(keywords)))
		if score < opts.MinSimilarity {
			continue
		}
		results = append(results, scored{arc: arc, score: score})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].score > results[j].score })

	topK := opts.TopK
	if topK <= 0 || topK > len(results) {
		topK = len(results)
	}
	cards := make([]model.ArcCard, 0, topK)
	for i := 0; i < topK; i++ {
		cards = append(cards, results[i].arc.Card(round4(results[i].score)))
	}
	return cards
}

func round4(f float64) float64 {
	return math.Round(f*10000) / 10000
}
