package search

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// Store persists search records.
type Store struct {
	db *gorm.DB
}

// NewStore creates a search store, migrating the schema to the current model.
func NewStore(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&Search{}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Save inserts or updates the row for the search's id.
func (s *Store) Save(ctx context.Context, search *Search) error {
	return s.db.WithContext(ctx).Save(search).Error
}

// Get returns the search with the given id. The response blob is stripped
// unless includeResponses is set.
func (s *Store) Get(ctx context.Context, id string, includeResponses bool) (*Search, error) {
	q := s.db.WithContext(ctx)
	if !includeResponses {
		q = q.Omit("responses")
	}
	var search Search
	if err := q.Where("id = ?", id).First(&search).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSearchNotFound
		}
		return nil, err
	}
	return &search, nil
}

// TokenExists reports whether a search with the given token is persisted.
func (s *Store) TokenExists(ctx context.Context, token int) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&Search{}).
		Where("token = ?", token).
		Count(&count).Error
	return count > 0, err
}

// List returns all searches, newest first, with response blobs stripped.
func (s *Store) List(ctx context.Context) ([]Search, error) {
	var out []Search
	err := s.db.WithContext(ctx).
		Omit("responses").
		Order("started_at DESC").
		Find(&out).Error
	return out, err
}

// UpdateCounters writes only the live counter columns and state for the
// search, leaving the response blob untouched. Rows that already reached a
// terminal state are left alone so a coalesced write racing the terminal
// transition cannot regress it.
func (s *Store) UpdateCounters(ctx context.Context, search *Search) error {
	return s.db.WithContext(ctx).
		Model(&Search{}).
		Where("id = ? AND state & ? = 0", search.ID, int(StateCompleted)).
		Updates(map[string]any{
			"state":             int(search.State),
			"response_count":    search.ResponseCount,
			"file_count":        search.FileCount,
			"locked_file_count": search.LockedFileCount,
		}).Error
}

// Delete removes the search row.
func (s *Store) Delete(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Where("id = ?", id).Delete(&Search{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrSearchNotFound
	}
	return nil
}
