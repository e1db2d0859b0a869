package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/classhub/progression-engine/internal/domain/badge"
	"github.com/classhub/progression-engine/internal/domain/group"
	"github.com/classhub/progression-engine/internal/domain/shared"
	"github.com/classhub/progression-engine/internal/domain/xp"
)

// BadgeCatalog is an in-memory badge.Catalog.
type BadgeCatalog struct {
	mu     sync.RWMutex
	badges map[string][]badge.Badge
}

// NewBadgeCatalog creates an empty catalog.
func NewBadgeCatalog() *BadgeCatalog {
	return &BadgeCatalog{badges: make(map[string][]badge.Badge)}
}

// Add validates and stores badges.
func (c *BadgeCatalog) Add(badges ...badge.Badge) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, b := range badges {
		if err := b.Validate(); err != nil {
			return err
		}
		c.badges[b.ClassroomID] = append(c.badges[b.ClassroomID], b)
	}
	return nil
}

// ListByClassroom implements badge.Catalog.
func (c *BadgeCatalog) ListByClassroom(ctx context.Context, classroomID string) ([]badge.Badge, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.badges[classroomID]), nil
}

// GroupRepository is an in-memory group.Repository.
type GroupRepository struct {
	mu     sync.RWMutex
	groups map[string]group.Group
}

// NewGroupRepository creates an empty repository.
func NewGroupRepository() *GroupRepository {
	return &GroupRepository{groups: make(map[string]group.Group)}
}

// Put inserts or replaces a group.
func (r *GroupRepository) Put(g group.Group) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g.Members = slices.Clone(g.Members)
	r.groups[g.ID] = g
}

// SetMultiplier changes a group's multiplier and returns the previous one.
func (r *GroupRepository) SetMultiplier(groupID string, value float64) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.groups[groupID]
	if !ok {
		return 0, shared.ErrGroupNotFound
	}
	prev := g.GroupMultiplier
	g.GroupMultiplier = value
	r.groups[groupID] = g
	return prev, nil
}

// FindByID implements group.Repository.
func (r *GroupRepository) FindByID(ctx context.Context, id string) (*group.Group, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.groups[id]
	if !ok {
		return nil, shared.ErrGroupNotFound
	}
	g.Members = slices.Clone(g.Members)
	return &g, nil
}

// ListForMember implements group.Repository.
func (r *GroupRepository) ListForMember(ctx context.Context, classroomID, userID string) ([]group.Group, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []group.Group
	for _, g := range r.groups {
		if g.ClassroomID == classroomID && g.IsApprovedMember(userID) {
			g.Members = slices.Clone(g.Members)
			out = append(out, g)
		}
	}
	slices.SortFunc(out, func(a, b group.Group) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out, nil
}

// SettingsRepository is an in-memory xp.SettingsRepository.
type SettingsRepository struct {
	mu       sync.RWMutex
	defaults xp.Settings
	settings map[string]xp.Settings
}

// NewSettingsRepository creates a repository returning defaults for
// classrooms without explicit settings.
func NewSettingsRepository(defaults xp.Settings) *SettingsRepository {
	return &SettingsRepository{defaults: defaults, settings: make(map[string]xp.Settings)}
}

// Get implements xp.SettingsRepository.
func (r *SettingsRepository) Get(ctx context.Context, classroomID string) (xp.Settings, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.settings[classroomID]; ok {
		return s, nil
	}
	return r.defaults, nil
}

// Save implements xp.SettingsRepository.
func (r *SettingsRepository) Save(ctx context.Context, classroomID string, s xp.Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s.LevelUpRewards.ShieldAtLevels = slices.Clone(s.LevelUpRewards.ShieldAtLevels)
	r.settings[classroomID] = s
	return nil
}
