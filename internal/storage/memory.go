package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"mediapipe/internal/models"
)

// Memory is an in-process catalog repository for tests and the "memory" driver.
type Memory struct {
	mu     sync.RWMutex
	assets map[uuid.UUID]*models.AssetRecord

	// SaveHook, when set, runs before every save and can fail it.
	SaveHook func(*models.AssetRecord) error
}

func NewMemory() *Memory {
	return &Memory{assets: make(map[uuid.UUID]*models.AssetRecord)}
}

func (m *Memory) Close() error { return nil }

func (m *Memory) SaveAsset(_ context.Context, a *models.AssetRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SaveHook != nil {
		if err := m.SaveHook(a); err != nil {
			return fmt.Errorf("storage.SaveAsset: %w", err)
		}
	}
	stored := cloneAsset(a)
	if prev, ok := m.assets[a.ID]; ok {
		stored.CreatedAt = prev.CreatedAt
		stored.Orientation = prev.Orientation
	}
	m.assets[a.ID] = stored
	return nil
}

func (m *Memory) GetAsset(_ context.Context, id uuid.UUID) (*models.AssetRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.assets[id]
	if !ok {
		return nil, fmt.Errorf("storage.GetAsset: %w", models.ErrNotFound)
	}
	return cloneAsset(a), nil
}

func (m *Memory) ListAssets(_ context.Context, limit, offset int) ([]*models.AssetRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := make([]*models.AssetRecord, 0, len(m.assets))
	for _, a := range m.assets {
		all = append(all, a)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID.String() < all[j].ID.String()
	})

	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	out := make([]*models.AssetRecord, 0, len(all))
	for _, a := range all {
		out = append(out, cloneAsset(a))
	}
	return out, nil
}

func (m *Memory) UpdateAltText(_ context.Context, id uuid.UUID, text string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.assets[id]
	if !ok {
		return fmt.Errorf("storage.UpdateAltText: %w", models.ErrNotFound)
	}
	a.AltText = text
	a.UpdatedAt = at
	return nil
}

func (m *Memory) DeleteAsset(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.assets[id]; !ok {
		return fmt.Errorf("storage.DeleteAsset: %w", models.ErrNotFound)
	}
	delete(m.assets, id)
	return nil
}

// Len reports how many assets are stored.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.assets)
}

func cloneAsset(a *models.AssetRecord) *models.AssetRecord {
	cp := *a
	cp.Variants = append([]models.VariantRecord(nil), a.Variants...)
	return &cp
}
