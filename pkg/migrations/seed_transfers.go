package migrations

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/peerdaemon/peerd/pkg/database"
	"github.com/peerdaemon/peerd/pkg/transfers"
)

// SeedTransfers populates an empty transfers database with sample rows.
// Development utility only; the release registry excludes it.
type SeedTransfers struct {
	db *database.Config
}

// NewSeedTransfers creates the migration.
func NewSeedTransfers(db *database.Config) *SeedTransfers {
	return &SeedTransfers{db: db}
}

func (m *SeedTransfers) Name() string {
	return "SeedTransfers"
}

// NeedsToBeApplied reports true when the transfers table is empty or absent.
func (m *SeedTransfers) NeedsToBeApplied(ctx context.Context) (bool, error) {
	db, err := database.Open(m.db.Path(database.TransfersFile))
	if err != nil {
		return false, err
	}
	defer closeDB(db)

	inspector := NewInspector(db)
	exists, err := inspector.HasTable(ctx, "transfers")
	if err != nil {
		return false, err
	}
	if !exists {
		return true, nil
	}

	var count int64
	if err := db.WithContext(ctx).Table("transfers").Count(&count).Error; err != nil {
		return false, err
	}
	return count == 0, nil
}

// Apply inserts a handful of finished sample transfers.
func (m *SeedTransfers) Apply(ctx context.Context) error {
	db, err := database.Open(m.db.Path(database.TransfersFile))
	if err != nil {
		return err
	}
	defer closeDB(db)

	if err := db.AutoMigrate(&transfers.Transfer{}); err != nil {
		return err
	}

	now := time.Now().UTC()
	samples := []struct {
		direction transfers.Direction
		username  string
		filename  string
		size      int64
	}{
		{transfers.Upload, "sample-peer-1", "Music\\Album\\01 - Intro.flac", 24_117_248},
		{transfers.Upload, "sample-peer-2", "Music\\Album\\02 - Title.flac", 31_457_280},
		{transfers.Download, "sample-peer-3", "Music\\Single\\track.mp3", 8_388_608},
	}
	for i, s := range samples {
		started := now.Add(-time.Duration(i+1) * time.Hour)
		ended := started.Add(5 * time.Minute)
		record := transfers.Transfer{
			ID:               uuid.NewString(),
			Direction:        s.direction,
			Username:         s.username,
			Filename:         s.filename,
			Size:             s.size,
			BytesTransferred: s.size,
			State:            transfers.StateCompleted | transfers.StateSucceeded,
			RequestedAt:      started.Add(-time.Minute),
			StartedAt:        &started,
			EndedAt:          &ended,
		}
		if err := db.WithContext(ctx).Create(&record).Error; err != nil {
			return err
		}
	}
	return nil
}
