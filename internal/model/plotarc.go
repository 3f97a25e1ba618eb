package model

// PlotArcStatus is the foreshadowing lifecycle state.
type PlotArcStatus string

const (
	PlotArcPlanted    PlotArcStatus = "planted"
	PlotArcDeveloping PlotArcStatus = "developing"
	PlotArcResolved   PlotArcStatus = "resolved"
	PlotArcAbandoned  PlotArcStatus = "abandoned"
)

// IsTerminal reports whether the status admits no further transitions.
func (s PlotArcStatus) IsTerminal() bool {
	return s == PlotArcResolved || s == PlotArcAbandoned
}

// CanTransitionTo reports whether the state machine permits from->to.
//
//	planted -> developing -> resolved
//	any non-terminal -> abandoned
func (from PlotArcStatus) CanTransitionTo(to PlotArcStatus) bool {
	if from.IsTerminal() {
		return false
	}
	switch to {
	case PlotArcAbandoned:
		return true
	case PlotArcDeveloping:
		return from == PlotArcPlanted
	case PlotArcResolved:
		return from == PlotArcPlanted || from == PlotArcDeveloping
	default:
		return false
	}
}

// PlotArc is a child of Project tracking a foreshadowing promise.
type PlotArc struct {
	ID                int64
	ProjectID         int64
	Name              string
	Description       string
	Status            PlotArcStatus
	PlantedChapter    *int
	ResolvedChapter   *int
	RelatedCharacters []string
	RelatedKeywords   []string
	Importance        Importance
	Embedding         []float32
	Notes             string
}

// ValidResolution enforces invariant 4: a resolved arc has resolved_chapter
// set and resolved_chapter >= planted_chapter when both are present.
func (a PlotArc) ValidResolution() bool {
	if a.Status != PlotArcResolved {
		return true
	}
	if a.ResolvedChapter == nil {
		return false
	}
	if a.PlantedChapter != nil && *a.ResolvedChapter < *a.PlantedChapter {
		return false
	}
	return true
}

// ArcCard is the public projection of a PlotArc returned by retrieval,
// plus a similarity score.
type ArcCard struct {
	ID                int64
	Name              string
	Description       string
	Status            PlotArcStatus
	RelatedCharacters []string
	RelatedKeywords   []string
	Importance        Importance
	Notes             string
	Similarity        float64
}

// Card projects a PlotArc into its public card shape.
func (a PlotArc) Card(similarity float64) ArcCard {
	return ArcCard{
		ID:                a.ID,
		Name:              a.Name,
		Description:       a.Description,
		Status:            a.Status,
		RelatedCharacters: a.RelatedCharacters,
		RelatedKeywords:   a.RelatedKeywords,
		Importance:        a.Importance,
		Notes:             a.Notes,
		Similarity:        similarity,
	}
}
