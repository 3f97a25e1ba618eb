package storycontext

import (
	"context"
	"log/slog"

	"github.com/antigravity-dev/narrativeengine/internal/lorebook"
	"github.com/antigravity-dev/narrativeengine/internal/model"
	"github.com/antigravity-dev/narrativeengine/internal/plotarc"
	"github.com/antigravity-dev/narrativeengine/internal/store"
)

// Bundle is the grounded-generation context returned by BuildBundle.
type Bundle struct {
	Recap         string
	CharacterCards []lorebook.Hit
	WorldCards     []lorebook.Hit
	PlotArcCards   []model.ArcCard
}

// BundleParams configures one BuildBundle call.
type BundleParams struct {
	VolumeID       int64
	CurrentOrdinal int
	WindowSize     int
	TokenBudget    int
	ScanText       string
	TopK           int
}

const defaultCardLimit = 5

// BuildBundle assembles a Bundle: a tiered recap, lorebook cards (scanned
// if scanText is given, else a default-sized insertion-order slice), and
// plot-arc cards (RAG-retrieved if scanText is given and arcs exist, else
// the top active arcs by importance). Any retrieval failure degrades to
// an empty section rather than a hard failure.
func BuildBundle(ctx context.Context, st *store.Store, retriever *plotarc.Retriever, summarize Summarizer, logger *slog.Logger, projectID int64, params BundleParams) Bundle {
	chapters, err := st.ListChapters(params.VolumeID)
	if err != nil {
		logChapterListFailure(logger, params.VolumeID, err)
		chapters = nil
	}

	bundle := Bundle{Recap: BuildRecap(ctx, chapters, params.CurrentOrdinal, params.WindowSize, params.TokenBudget, summarize)}

	characters, err := st.ListCharacters(projectID)
	if err != nil {
		logListFailure(logger, "characters", err)
	}
	worldItems, err := st.ListWorldItems(projectID)
	if err != nil {
		logListFailure(logger, "world_items", err)
	}

	if params.ScanText != "" {
		result := lorebook.Scan(characters, worldItems, params.ScanText, defaultCardLimit+3, defaultCardLimit)
		bundle.CharacterCards = result.Character
		bundle.WorldCards = result.World
	} else {
		bundle.CharacterCards = defaultCharacterCards(characters, defaultCardLimit)
		bundle.WorldCards = defaultWorldCards(worldItems, defaultCardLimit+3)
	}

	bundle.PlotArcCards = buildPlotArcCards(ctx, st, retriever, logger, projectID, params)

	return bundle
}

func defaultCharacterCards(characters []model.Character, limit int) []lorebook.Hit {
	if len(characters) > limit {
		characters = characters[:limit]
	}
	hits := make([]lorebook.Hit, len(characters))
	for i := range characters {
		hits[i] = lorebook.Hit{Name: characters[i].Name, Character: &characters[i]}
	}
	return hits
}

func defaultWorldCards(worldItems []model.WorldItem, limit int) []lorebook.Hit {
	if len(worldItems) > limit {
		worldItems = worldItems[:limit]
	}
	hits := make([]lorebook.Hit, len(worldItems))
	for i := range worldItems {
		hits[i] = lorebook.Hit{Name: worldItems[i].Name, WorldItem: &worldItems[i]}
	}
	return hits
}

func buildPlotArcCards(ctx context.Context, st *store.Store, retriever *plotarc.Retriever, logger *slog.Logger, projectID int64, params BundleParams) []model.ArcCard {
	arcs, err := st.GetActivePlotArcs(projectID)
	if err != nil {
		logListFailure(logger, "plot_arcs", err)
		return nil
	}
	if len(arcs) == 0 {
		return nil
	}

	if params.ScanText != "" {
		cards, err := retriever.Retrieve(ctx, projectID, params.ScanText, plotarc.Options{TopK: params.TopK, OnlyActive: true})
		if err != nil {
			logListFailure(logger, "plot_arc_retrieval", err)
			return nil
		}
		return cards
	}

	return topActiveArcsByImportance(arcs, params.TopK)
}

func topActiveArcsByImportance(arcs []model.PlotArc, topK int) []model.ArcCard {
	rank := func(imp model.Importance) int { return imp.Rank() }

	sorted := make([]model.PlotArc, len(arcs))
	copy(sorted, arcs)
	stableSortByImportanceDesc(sorted, rank)

	if topK <= 0 || topK > len(sorted) {
		topK = len(sorted)
	}
	cards := make([]model.ArcCard, 0, topK)
	for i := 0; i < topK; i++ {
		cards = append(cards, sorted[i].Card(0))
	}
	return cards
}

func stableSortByImportanceDesc(arcs []model.PlotArc, rank func(model.Importance) int) {
	for i := 1; i < len(arcs); i++ {
		for j := i; j > 0 && rank(arcs[j].Importance) > rank(arcs[j-1].Importance); j-- {
			arcs[j], arcs[j-1] = arcs[j-1], arcs[j]
		}
	}
}

func logListFailure(logger *slog.Logger, what string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("context bundle retrieval degraded to empty section", "section", what, "error", err)
}

func logChapterListFailure(logger *slog.Logger, volumeID int64, err error) {
	if logger == nil {
		return
	}
	logger.Warn("context bundle recap degraded: could not list chapters", "volume_id", volumeID, "error", err)
}
