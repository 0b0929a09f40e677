package api

import "github.com/starford/memtree/internal/memstore"

// AddMemoryRequest is the request body for adding a memory.
type AddMemoryRequest struct {
	Description *string  `json:"description" example:"standup notes" validate:"required"`
	Content     *string  `json:"content,omitempty" example:"Discussed the roadmap"`
	Tags        []string `json:"tags,omitempty" example:"meeting,weekly"`
	Author      *string  `json:"author,omitempty" example:"user"`
}

// EditMemoryRequest is the request body for editing a memory. Absent or null
// fields are left unchanged; "tags": [] clears the tags.
type EditMemoryRequest struct {
	Description *string   `json:"description,omitempty" example:"renamed"`
	Content     *string   `json:"content,omitempty" example:"New body"`
	Tags        *[]string `json:"tags,omitempty" example:"meeting"`
}

// Response types are aliased from the store layer.
type (
	AddMemoryResponse    = memstore.AddResult
	ReadMemoryResponse   = memstore.ReadResult
	ListChildrenResponse = memstore.ListResult
	EditMemoryResponse   = memstore.EditResult
	RemoveMemoryResponse = memstore.RemoveResult
)
