package migrations

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/peerdaemon/peerd/pkg/database"
	"github.com/peerdaemon/peerd/pkg/transfers"
)

// TransferStateToFlags converts the legacy transfers table, which stored
// the state as its textual description, to the integer bitflag column with
// the description kept as a mirror. The conversion is rename-copy-drop in
// a single transaction; unknown state names abort the migration.
type TransferStateToFlags struct {
	db *database.Config
}

// NewTransferStateToFlags creates the migration.
func NewTransferStateToFlags(db *database.Config) *TransferStateToFlags {
	return &TransferStateToFlags{db: db}
}

func (m *TransferStateToFlags) Name() string {
	return "TransferStateToFlags"
}

// legacyTransfer is the row shape of the pre-flag transfers table.
type legacyTransfer struct {
	ID               string     `gorm:"column:id"`
	Direction        string     `gorm:"column:direction"`
	Username         string     `gorm:"column:username"`
	Filename         string     `gorm:"column:filename"`
	Size             int64      `gorm:"column:size"`
	BytesTransferred int64      `gorm:"column:bytes_transferred"`
	State            string     `gorm:"column:state"`
	RequestedAt      time.Time  `gorm:"column:requested_at"`
	StartedAt        *time.Time `gorm:"column:started_at"`
	EndedAt          *time.Time `gorm:"column:ended_at"`
}

// NeedsToBeApplied reports true when the transfers table still carries a
// textual state column.
func (m *TransferStateToFlags) NeedsToBeApplied(ctx context.Context) (bool, error) {
	path := m.db.Path(database.TransfersFile)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return false, nil
	}

	db, err := database.Open(path)
	if err != nil {
		return false, err
	}
	defer closeDB(db)

	inspector := NewInspector(db)
	exists, err := inspector.HasTable(ctx, "transfers")
	if err != nil || !exists {
		return false, err
	}
	column, found, err := inspector.Column(ctx, "transfers", "state")
	if err != nil || !found {
		return false, err
	}
	return isTextType(column.Type), nil
}

// Apply performs the rename-copy-drop conversion.
func (m *TransferStateToFlags) Apply(ctx context.Context) error {
	db, err := database.Open(m.db.Path(database.TransfersFile))
	if err != nil {
		return err
	}
	defer closeDB(db)

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("ALTER TABLE transfers RENAME TO transfers_legacy").Error; err != nil {
			return fmt.Errorf("failed to rename legacy table: %w", err)
		}
		if err := tx.AutoMigrate(&transfers.Transfer{}); err != nil {
			return fmt.Errorf("failed to create transfers table: %w", err)
		}

		var legacy []legacyTransfer
		if err := tx.Table("transfers_legacy").Find(&legacy).Error; err != nil {
			return fmt.Errorf("failed to read legacy transfers: %w", err)
		}

		for _, row := range legacy {
			state, err := transfers.ParseStates(row.State)
			if err != nil {
				return fmt.Errorf("transfer %s: %w", row.ID, err)
			}
			direction, err := transfers.ParseDirection(row.Direction)
			if err != nil {
				return fmt.Errorf("transfer %s: %w", row.ID, err)
			}
			record := transfers.Transfer{
				ID:               row.ID,
				Direction:        direction,
				Username:         row.Username,
				Filename:         row.Filename,
				Size:             row.Size,
				BytesTransferred: row.BytesTransferred,
				State:            state,
				RequestedAt:      row.RequestedAt,
				StartedAt:        row.StartedAt,
				EndedAt:          row.EndedAt,
			}
			if err := tx.Create(&record).Error; err != nil {
				return fmt.Errorf("failed to convert transfer %s: %w", row.ID, err)
			}
		}

		if err := tx.Exec("DROP TABLE transfers_legacy").Error; err != nil {
			return fmt.Errorf("failed to drop legacy table: %w", err)
		}
		return nil
	})
}

// isTextType reports whether a SQLite column type stores text.
func isTextType(columnType string) bool {
	t := strings.ToUpper(columnType)
	return strings.Contains(t, "TEXT") || strings.Contains(t, "CHAR") || strings.Contains(t, "CLOB")
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
}
