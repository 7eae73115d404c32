package services

import (
	"context"
	"errors"

	"github.com/goccy/go-json"
	"github.com/google/logger"

	"raffle/internal/models"
	"raffle/internal/storage"
)

const (
	DefaultHistoryKey   = "raffle-history"
	DefaultHistoryLimit = 50
)

// History keeps past draws, newest first.
type History interface {
	Load(ctx context.Context) []models.DrawRecord
	Append(ctx context.Context, record models.DrawRecord) []models.DrawRecord
	Clear(ctx context.Context)
}

// HistoryStore persists the history as one JSON array under a single key.
// Storage errors are logged and never returned: an unreadable history is empty.
type HistoryStore struct {
	kv    storage.KV
	key   string
	limit int
}

// NewHistoryStore creates a store on kv. Empty key or non-positive limit
// fall back to the defaults.
func NewHistoryStore(kv storage.KV, key string, limit int) *HistoryStore {
	if key == "" {
		key = DefaultHistoryKey
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &HistoryStore{kv: kv, key: key, limit: limit}
}

// Load returns the stored records.
func (h *HistoryStore) Load(ctx context.Context) []models.DrawRecord {
	data, err := h.kv.Get(ctx, h.key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			logger.Errorf("Error loading history: %v", err)
		}
		return []models.DrawRecord{}
	}

	var records []models.DrawRecord
	if err := json.Unmarshal(data, &records); err != nil {
		logger.Errorf("Error decoding history: %v", err)
		return []models.DrawRecord{}
	}
	if records == nil {
		records = []models.DrawRecord{}
	}
	return records
}

// Append puts record first, drops entries past the limit and saves the result.
// The updated list is returned even if saving fails.
func (h *HistoryStore) Append(ctx context.Context, record models.DrawRecord) []models.DrawRecord {
	current := h.Load(ctx)

	updated := make([]models.DrawRecord, 0, min(len(current)+1, h.limit))
	updated = append(updated, record)
	updated = append(updated, current...)
	if len(updated) > h.limit {
		updated = updated[:h.limit]
	}

	h.save(ctx, updated)
	return updated
}

func (h *HistoryStore) save(ctx context.Context, records []models.DrawRecord) {
	data, err := json.Marshal(records)
	if err != nil {
		logger.Errorf("Error encoding history: %v", err)
		return
	}
	if err := h.kv.Put(ctx, h.key, data); err != nil {
		logger.Errorf("Error saving history: %v", err)
	}
}

// Clear removes the whole history.
func (h *HistoryStore) Clear(ctx context.Context) {
	if err := h.kv.Delete(ctx, h.key); err != nil {
		logger.Errorf("Error clearing history: %v", err)
		return
	}
	logger.Info("History cleared")
}
