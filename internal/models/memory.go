// Package models defines the memory tree: nodes, their composition and the
// record format the tree is persisted in.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Root node attributes. The root is fixed and never edited.
const (
	RootDescription = "root"
	RootAuthor      = "system"
	RootContent     = "Root of all memories"
)

// DefaultAuthor is used when a caller does not name one.
const DefaultAuthor = "user"

// Position is the ordered list of descriptions leading from the root to a node.
type Position []string

// MemoryNode is a single entry in the memory tree. It owns its children;
// there are no parent pointers.
type MemoryNode struct {
	ID           string
	Description  string
	Content      *string // nil when never set, distinct from ""
	Tags         []string
	Author       string
	CreatedAt    time.Time
	UpdatedAt    *time.Time // nil until the first edit
	AccessCount  int
	LastAccessed time.Time
	Children     []*MemoryNode
}

// NewMemoryNode creates a leaf node with a fresh id. Content and tags are copied.
func NewMemoryNode(description string, content *string, tags []string, author string, now time.Time) *MemoryNode {
	return &MemoryNode{
		ID:           uuid.New().String(),
		Description:  description,
		Content:      CloneString(content),
		Tags:         CloneTags(tags),
		Author:       author,
		CreatedAt:    now,
		LastAccessed: now,
		Children:     []*MemoryNode{},
	}
}

// NewRoot creates the distinguished root node.
func NewRoot(now time.Time) *MemoryNode {
	content := RootContent
	return NewMemoryNode(RootDescription, &content, nil, RootAuthor, now)
}

// FindChild returns the first direct child whose description equals key, or nil.
func (n *MemoryNode) FindChild(key string) *MemoryNode {
	if i := n.ChildIndex(key); i >= 0 {
		return n.Children[i]
	}
	return nil
}

// ChildIndex returns the index of the first direct child named key, or -1.
func (n *MemoryNode) ChildIndex(key string) int {
	for i, c := range n.Children {
		if c.Description == key {
			return i
		}
	}
	return -1
}

// DescendantCount counts every node below n, not including n itself.
func (n *MemoryNode) DescendantCount() int {
	count := len(n.Children)
	for _, c := range n.Children {
		count += c.DescendantCount()
	}
	return count
}

// HasChildren reports whether n has at least one child.
func (n *MemoryNode) HasChildren() bool {
	return len(n.Children) > 0
}

// Touch records one read access at now.
func (n *MemoryNode) Touch(now time.Time) {
	n.AccessCount++
	n.LastAccessed = now
}

// CloneString copies an optional string.
func CloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// CloneTags copies tags, normalising nil to an empty list.
func CloneTags(tags []string) []string {
	out := make([]string, len(tags))
	copy(out, tags)
	return out
}
