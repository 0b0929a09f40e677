package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TimeLayout is the persisted timestamp format: ISO-8601 in UTC with a fixed
// nanosecond fraction, so the text sorts the same way the instants do.
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// legacyTimeLayout accepts offset-less ISO-8601 timestamps, read as local time.
const legacyTimeLayout = "2006-01-02T15:04:05.999999999"

var errMissingField = errors.New("missing required field")

// Record is the persisted shape of a node and its subtree.
type Record struct {
	ID           string    `json:"id"`
	Description  *string   `json:"description"`
	Content      *string   `json:"content"`
	Tags         []string  `json:"tags"`
	Author       *string   `json:"author"`
	CreatedAt    string    `json:"created_at"`
	UpdatedAt    *string   `json:"updated_at,omitempty"`
	AccessCount  int       `json:"access_count"`
	LastAccessed string    `json:"last_accessed"`
	Children     []*Record `json:"children"`
}

// FormatTime renders t in the persisted layout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a persisted timestamp.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err == nil {
		return t.UTC(), nil
	}
	if lt, lerr := time.ParseInLocation(legacyTimeLayout, s, time.Local); lerr == nil {
		return lt.UTC(), nil
	}
	return time.Time{}, err
}

// ToRecord converts n and its whole subtree, depth first, preserving child order.
func (n *MemoryNode) ToRecord() *Record {
	desc, author := n.Description, n.Author
	r := &Record{
		ID:           n.ID,
		Description:  &desc,
		Content:      CloneString(n.Content),
		Tags:         CloneTags(n.Tags),
		Author:       &author,
		CreatedAt:    FormatTime(n.CreatedAt),
		AccessCount:  n.AccessCount,
		LastAccessed: FormatTime(n.LastAccessed),
		Children:     make([]*Record, 0, len(n.Children)),
	}
	if n.UpdatedAt != nil {
		s := FormatTime(*n.UpdatedAt)
		r.UpdatedAt = &s
	}
	for _, c := range n.Children {
		r.Children = append(r.Children, c.ToRecord())
	}
	return r
}

// FromRecord rebuilds a node and its subtree from r.
func FromRecord(r *Record) (*MemoryNode, error) {
	if r == nil {
		return nil, fmt.Errorf("models: nil record")
	}
	if r.Description == nil {
		return nil, fmt.Errorf("models: description: %w", errMissingField)
	}
	if r.Author == nil {
		return nil, fmt.Errorf("models: %q: author: %w", *r.Description, errMissingField)
	}
	created, err := parseRequired(*r.Description, "created_at", r.CreatedAt)
	if err != nil {
		return nil, err
	}
	accessed, err := parseRequired(*r.Description, "last_accessed", r.LastAccessed)
	if err != nil {
		return nil, err
	}

	n := &MemoryNode{
		ID:           r.ID,
		Description:  *r.Description,
		Content:      CloneString(r.Content),
		Tags:         CloneTags(r.Tags),
		Author:       *r.Author,
		CreatedAt:    created,
		AccessCount:  r.AccessCount,
		LastAccessed: accessed,
		Children:     make([]*MemoryNode, 0, len(r.Children)),
	}
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if r.UpdatedAt != nil && *r.UpdatedAt != "" {
		t, err := ParseTime(*r.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("models: %q: updated_at: %w", n.Description, err)
		}
		n.UpdatedAt = &t
	}
	for _, cr := range r.Children {
		c, err := FromRecord(cr)
		if err != nil {
			return nil, err
		}
		n.Children = append(n.Children, c)
	}
	return n, nil
}

func parseRequired(desc, field, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("models: %q: %s: %w", desc, field, errMissingField)
	}
	t, err := ParseTime(value)
	if err != nil {
		return time.Time{}, fmt.Errorf("models: %q: %s: %w", desc, field, err)
	}
	return t, nil
}

// EncodeTree serialises root into the persisted JSON document.
func EncodeTree(root *MemoryNode) ([]byte, error) {
	data, err := json.MarshalIndent(root.ToRecord(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("models: encode tree: %w", err)
	}
	return append(data, '\n'), nil
}

// DecodeTree parses a persisted JSON document back into a tree.
func DecodeTree(data []byte) (*MemoryNode, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("models: decode tree: %w", err)
	}
	return FromRecord(&r)
}
