package memstore

import (
	"time"

	"github.com/starford/memtree/internal/models"
)

// AddResult describes a newly created memory.
type AddResult struct {
	ID          string          `json:"id"`
	Description string          `json:"description"`
	Position    models.Position `json:"position"`
	CreatedAt   time.Time       `json:"created_at"`
}

// ReadResult is the full view of a single memory, without its children.
type ReadResult struct {
	ID           string     `json:"id"`
	Description  string     `json:"description"`
	Content      *string    `json:"content"`
	Tags         []string   `json:"tags"`
	Author       string     `json:"author"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    *time.Time `json:"updated_at"`
	AccessCount  int        `json:"access_count"`
	LastAccessed time.Time  `json:"last_accessed"`
	HasChildren  bool       `json:"has_children"`
}

// ChildSummary is one entry of a ListResult.
type ChildSummary struct {
	Description   string   `json:"description"`
	Content       *string  `json:"content"`
	ChildrenCount int      `json:"children_count"`
	Tags          []string `json:"tags"`
}

// ListResult lists the direct children of a memory in insertion order.
type ListResult struct {
	Position models.Position `json:"position"`
	Children []ChildSummary  `json:"children"`
}

// EditRequest carries the optional fields of an edit. Nil fields are left
// unchanged; a non-nil Tags pointing at an empty slice clears the tags.
type EditRequest struct {
	Description *string
	Content     *string
	Tags        *[]string
}

// EditResult describes an edited memory.
type EditResult struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RemoveResult reports a removed memory and how many descendants went with it.
type RemoveResult struct {
	Removed         string `json:"removed"`
	ChildrenRemoved int    `json:"children_removed"`
}

func clonePosition(p []string) models.Position {
	out := make(models.Position, len(p))
	copy(out, p)
	return out
}
