// Package memstore owns the memory tree: it navigates it by position, applies
// the add/read/list/edit/remove operations under a single lock, and persists
// the whole tree after every mutation.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"
	"time"

	"github.com/starford/memtree/internal/apperr"
	"github.com/starford/memtree/internal/checksum"
	"github.com/starford/memtree/internal/models"
	"github.com/starford/memtree/internal/storage"
)

// Change kinds passed to an EventCallback.
const (
	EventAdded    = "added"
	EventEdited   = "edited"
	EventRemoved  = "removed"
	EventReloaded = "reloaded"
)

// EventCallback is called after a successful tree change, outside the lock.
type EventCallback func(kind string, position models.Position)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithEventCallback registers cb for change notifications.
func WithEventCallback(cb EventCallback) Option {
	return func(s *Store) {
		s.onChange = cb
	}
}

// WithCorruptBackup controls whether an undecodable persisted tree is moved
// aside to "<name>.corrupt-<unix-nanos>" before being replaced.
func WithCorruptBackup(enabled bool) Option {
	return func(s *Store) {
		s.backupCorrupt = enabled
	}
}

// Store is the single owner of the memory tree.
//
// Every operation, including ListChildren, holds mu for its whole duration,
// so callers never observe a tree in the middle of a mutation.
type Store struct {
	mu       sync.Mutex
	root     *models.MemoryNode
	provider storage.Provider
	name     string
	lastSum  string // checksum of the last snapshot written or loaded

	logger        *slog.Logger
	now           func() time.Time
	onChange      EventCallback
	backupCorrupt bool
}

// Open loads the tree stored under name, or starts a fresh one when nothing
// usable is stored. A missing, unreadable or undecodable snapshot is treated
// as absent and replaced by a new root, which is persisted immediately.
// Only a failure to persist that fresh root is returned as an error.
func Open(_ context.Context, provider storage.Provider, name string, opts ...Option) (*Store, error) {
	s := &Store{
		provider: provider,
		name:     name,
		logger:   slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := s.provider.Read(s.name)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		s.logger.Info("memstore: no persisted tree, starting fresh", slog.String("name", s.name))
	case err != nil:
		s.logger.Warn("memstore: persisted tree unreadable, starting fresh",
			slog.String("name", s.name), slog.String("error", err.Error()))
	default:
		root, decErr := models.DecodeTree(data)
		if decErr == nil {
			s.root = root
			s.lastSum = checksum.Sum(data)
			s.logger.Info("memstore: tree loaded",
				slog.String("name", s.name), slog.Int("memories", root.DescendantCount()))
			return nil
		}
		// The previous contents are discarded from the live tree. Say so loudly.
		s.logger.Warn("memstore: persisted tree is corrupt, starting fresh",
			slog.String("name", s.name), slog.String("error", decErr.Error()))
		if s.backupCorrupt {
			backup := fmt.Sprintf("%s.corrupt-%d", s.name, s.now().UnixNano())
			if mvErr := s.provider.Move(s.name, backup); mvErr != nil {
				s.logger.Warn("memstore: could not preserve corrupt tree",
					slog.String("name", s.name), slog.String("error", mvErr.Error()))
			} else {
				s.logger.Warn("memstore: corrupt tree preserved", slog.String("backup", backup))
			}
		}
	}

	s.root = models.NewRoot(s.now())
	return s.persist()
}

// persist writes the whole tree. Callers hold mu.
func (s *Store) persist() error {
	data, err := models.EncodeTree(s.root)
	if err != nil {
		return fmt.Errorf("memstore: %w", err)
	}
	if err := s.provider.Write(s.name, data); err != nil {
		return fmt.Errorf("memstore: persist: %w", err)
	}
	s.lastSum = checksum.Sum(data)
	return nil
}

// resolve walks from the root along position. An empty position is the root.
func (s *Store) resolve(position []string) *models.MemoryNode {
	current := s.root
	for _, key := range position {
		current = current.FindChild(key)
		if current == nil {
			return nil
		}
	}
	return current
}

// stamp returns the current time, never earlier than floor.
func (s *Store) stamp(floor time.Time) time.Time {
	now := s.now()
	if now.Before(floor) {
		return floor
	}
	return now
}

func (s *Store) notify(kind string, position models.Position) {
	if s.onChange != nil {
		s.onChange(kind, position)
	}
}

func formatPosition(position []string) string {
	if len(position) == 0 {
		return "[]"
	}
	return fmt.Sprintf("%q", position)
}

// Add creates a new leaf named description under the memory at position.
func (s *Store) Add(_ context.Context, position []string, description string, content *string, tags []string, author string) (*AddResult, error) {
	s.mu.Lock()
	res, err := s.add(position, description, content, tags, author)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	s.notify(EventAdded, clonePosition(res.Position))
	return res, nil
}

func (s *Store) add(position []string, description string, content *string, tags []string, author string) (*AddResult, error) {
	parent := s.resolve(position)
	if parent == nil {
		return nil, apperr.New(apperr.ErrPositionNotFound, "position %s not found", formatPosition(position))
	}
	if parent.FindChild(description) != nil {
		return nil, apperr.New(apperr.ErrDuplicateKey, "memory %q already exists at this position", description)
	}

	node := models.NewMemoryNode(description, content, tags, author, s.now())
	parent.Children = append(parent.Children, node)
	if err := s.persist(); err != nil {
		parent.Children[len(parent.Children)-1] = nil
		parent.Children = parent.Children[:len(parent.Children)-1]
		return nil, err
	}

	s.logger.Debug("memstore: added",
		slog.Any("position", position), slog.String("description", description))

	return &AddResult{
		ID:          node.ID,
		Description: node.Description,
		Position:    append(clonePosition(position), description),
		CreatedAt:   node.CreatedAt,
	}, nil
}

// Read returns the memory at position and records the access. The access
// metadata is persisted, so a read costs a full write of the tree.
func (s *Store) Read(_ context.Context, position []string) (*ReadResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	node := s.resolve(position)
	if node == nil {
		return nil, apperr.New(apperr.ErrPositionNotFound, "memory at position %s not found", formatPosition(position))
	}

	prevCount, prevAccessed := node.AccessCount, node.LastAccessed
	node.Touch(s.stamp(prevAccessed))
	if err := s.persist(); err != nil {
		node.AccessCount, node.LastAccessed = prevCount, prevAccessed
		return nil, err
	}

	res := &ReadResult{
		ID:           node.ID,
		Description:  node.Description,
		Content:      models.CloneString(node.Content),
		Tags:         models.CloneTags(node.Tags),
		Author:       node.Author,
		CreatedAt:    node.CreatedAt,
		AccessCount:  node.AccessCount,
		LastAccessed: node.LastAccessed,
		HasChildren:  node.HasChildren(),
	}
	if node.UpdatedAt != nil {
		t := *node.UpdatedAt
		res.UpdatedAt = &t
	}
	return res, nil
}

// ListChildren summarises the direct children of the memory at position.
// It does not touch access metadata.
func (s *Store) ListChildren(_ context.Context, position []string) (*ListResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	node := s.resolve(position)
	if node == nil {
		return nil, apperr.New(apperr.ErrPositionNotFound, "memory at position %s not found", formatPosition(position))
	}

	children := make([]ChildSummary, 0, len(node.Children))
	for _, c := range node.Children {
		children = append(children, ChildSummary{
			Description:   c.Description,
			Content:       models.CloneString(c.Content),
			ChildrenCount: len(c.Children),
			Tags:          models.CloneTags(c.Tags),
		})
	}
	return &ListResult{Position: clonePosition(position), Children: children}, nil
}

// Edit applies the non-nil fields of req to the memory at position and
// stamps its updated_at, even when req is empty.
func (s *Store) Edit(_ context.Context, position []string, req EditRequest) (*EditResult, error) {
	s.mu.Lock()
	res, newPos, err := s.edit(position, req)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	s.notify(EventEdited, newPos)
	return res, nil
}

func (s *Store) edit(position []string, req EditRequest) (*EditResult, models.Position, error) {
	node := s.resolve(position)
	if node == nil {
		return nil, nil, apperr.New(apperr.ErrPositionNotFound, "memory at position %s not found", formatPosition(position))
	}
	if node == s.root {
		return nil, nil, apperr.New(apperr.ErrRootProtected, "cannot edit root memory")
	}

	if req.Description != nil {
		if parent := s.resolve(position[:len(position)-1]); parent != nil {
			for _, sibling := range parent.Children {
				if sibling != node && sibling.Description == *req.Description {
					return nil, nil, apperr.New(apperr.ErrDuplicateKey, "memory %q already exists at this level", *req.Description)
				}
			}
		}
	}

	prev := *node
	if req.Description != nil {
		node.Description = *req.Description
	}
	if req.Content != nil {
		node.Content = models.CloneString(req.Content)
	}
	if req.Tags != nil {
		node.Tags = models.CloneTags(*req.Tags)
	}
	floor := node.CreatedAt
	if node.UpdatedAt != nil {
		floor = *node.UpdatedAt
	}
	updated := s.stamp(floor)
	node.UpdatedAt = &updated

	if err := s.persist(); err != nil {
		node.Description, node.Content, node.Tags, node.UpdatedAt = prev.Description, prev.Content, prev.Tags, prev.UpdatedAt
		return nil, nil, err
	}

	newPos := append(clonePosition(position[:len(position)-1]), node.Description)
	s.logger.Debug("memstore: edited", slog.Any("position", newPos))

	return &EditResult{
		ID:          node.ID,
		Description: node.Description,
		UpdatedAt:   updated,
	}, newPos, nil
}

// Remove detaches the memory at position together with its whole subtree.
func (s *Store) Remove(_ context.Context, position []string) (*RemoveResult, error) {
	s.mu.Lock()
	res, err := s.remove(position)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	s.notify(EventRemoved, clonePosition(position))
	return res, nil
}

func (s *Store) remove(position []string) (*RemoveResult, error) {
	if len(position) == 0 {
		return nil, apperr.New(apperr.ErrRootProtected, "cannot remove root memory")
	}

	parentPos := position[:len(position)-1]
	parent := s.resolve(parentPos)
	if parent == nil {
		return nil, apperr.New(apperr.ErrPositionNotFound, "parent position %s not found", formatPosition(parentPos))
	}

	key := position[len(position)-1]
	i := parent.ChildIndex(key)
	if i < 0 {
		return nil, apperr.New(apperr.ErrPositionNotFound, "memory %q not found at position %s", key, formatPosition(parentPos))
	}

	removed := parent.Children[i]
	descendants := removed.DescendantCount()

	prev := parent.Children
	// [:i:i] forces append to copy, leaving prev intact for rollback.
	parent.Children = append(parent.Children[:i:i], parent.Children[i+1:]...)
	if err := s.persist(); err != nil {
		parent.Children = prev
		return nil, err
	}

	s.logger.Debug("memstore: removed",
		slog.Any("position", position), slog.Int("children_removed", descendants))

	return &RemoveResult{
		Removed:         removed.Description,
		ChildrenRemoved: descendants,
	}, nil
}

// Reload re-reads the persisted tree and swaps it in when it differs from the
// last snapshot this store wrote or loaded. It reports whether the tree was
// replaced. Undecodable content is rejected and the in-memory tree is kept.
func (s *Store) Reload(_ context.Context) (bool, error) {
	s.mu.Lock()
	changed, err := s.reload()
	s.mu.Unlock()
	if err != nil || !changed {
		return false, err
	}
	s.notify(EventReloaded, models.Position{})
	return true, nil
}

func (s *Store) reload() (bool, error) {
	data, err := s.provider.Read(s.name)
	if errors.Is(err, fs.ErrNotExist) {
		// Removed externally; the next mutation recreates it.
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("memstore: reload: %w", err)
	}
	if checksum.Equal(data, s.lastSum) {
		return false, nil
	}
	root, err := models.DecodeTree(data)
	if err != nil {
		return false, fmt.Errorf("memstore: reload: %w", err)
	}
	s.root = root
	s.lastSum = checksum.Sum(data)
	s.logger.Info("memstore: tree reloaded",
		slog.String("name", s.name), slog.Int("memories", root.DescendantCount()))
	return true, nil
}

// Count returns the number of memories below the root.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.root.DescendantCount()
}
