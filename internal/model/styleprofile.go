package model

// StyleProfile is a child of Project. At most one per project has
// IsActive=true (invariant 3).
type StyleProfile struct {
	ID          int64
	ProjectID   int64
	Name        string
	SourceText  string
	Features    map[string]any
	StyleGuide  string
	IsActive    bool
}
