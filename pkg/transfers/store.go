package transfers

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// Store persists transfer records. Writes project tracker snapshots into
// rows keyed by id; the BeforeSave hook on Transfer guarantees the state
// description mirror and UTC timestamps on every insert or update.
type Store struct {
	db *gorm.DB
}

// NewStore creates a transfers store, migrating the schema to the current
// model. The migrator has already transformed legacy schemas by the time
// this runs.
func NewStore(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&Transfer{}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// DB returns the underlying gorm connection, for advanced queries and tests.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Upsert inserts or updates the row for the transfer's id.
func (s *Store) Upsert(ctx context.Context, t *Transfer) error {
	return s.db.WithContext(ctx).Save(t).Error
}

// Get returns the transfer with the given id.
func (s *Store) Get(ctx context.Context, id string) (*Transfer, error) {
	var t Transfer
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&t).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransferNotFound
		}
		return nil, err
	}
	return &t, nil
}

// ListOptions filter List results.
type ListOptions struct {
	Direction      Direction // empty matches both directions
	Username       string
	States         States // matches rows with any of these flags set
	IncludeRemoved bool
}

// List returns transfers matching the options, newest requests first.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]Transfer, error) {
	q := s.db.WithContext(ctx).Model(&Transfer{})
	if opts.Direction != "" {
		q = q.Where("direction = ?", opts.Direction)
	}
	if opts.Username != "" {
		q = q.Where("username = ?", opts.Username)
	}
	if opts.States != StateNone {
		q = q.Where("state & ? != 0", int(opts.States))
	}
	if !opts.IncludeRemoved {
		q = q.Where("removed = ?", false)
	}

	var out []Transfer
	if err := q.Order("requested_at DESC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// MarkRemoved flags a transfer as removed without deleting history.
func (s *Store) MarkRemoved(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).
		Model(&Transfer{}).
		Where("id = ?", id).
		Updates(map[string]any{"removed": true})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrTransferNotFound
	}
	return nil
}

// Prune hard-deletes removed transfers that ended before the cutoff.
func (s *Store) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	result := s.db.WithContext(ctx).
		Where("removed = ? AND ended_at IS NOT NULL AND ended_at < ?", true, cutoff).
		Delete(&Transfer{})
	return result.RowsAffected, result.Error
}
