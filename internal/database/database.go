package database

import (
	"errors"
	"fmt"

	"crypto-manager-go/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// NewDatabase creates a new database connection and performs auto-migration.
func NewDatabase(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// sqlite allows a single writer; one connection also keeps in-memory
	// databases from splitting across the pool.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := AutoMigrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

// legacyPositionIndex is the per-market unique index of journals written
// before positions were keyed by mode.
const legacyPositionIndex = "idx_position_states_market"

// AutoMigrate creates or updates the journal tables. Existing rows are kept
// so that a restarted process can resume a pending order.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.OrderRecord{}, &models.PositionState{}, &models.Trade{}); err != nil {
		return fmt.Errorf("failed to auto-migrate database: %w", err)
	}
	m := db.Migrator()
	if m.HasIndex(&models.PositionState{}, legacyPositionIndex) {
		if err := m.DropIndex(&models.PositionState{}, legacyPositionIndex); err != nil {
			return fmt.Errorf("failed to drop index %s: %w", legacyPositionIndex, err)
		}
	}
	return nil
}

// Journal persists orders, the engine position and completed trades.
type Journal struct {
	db *gorm.DB
}

// NewJournal wraps an open database.
func NewJournal(db *gorm.DB) *Journal {
	return &Journal{db: db}
}

// SaveOrder inserts an order record or updates it when the order id exists.
func (j *Journal) SaveOrder(rec *models.OrderRecord) error {
	err := j.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "order_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "updated_at"}),
	}).Create(rec).Error
	if err != nil {
		return fmt.Errorf("failed to save order %s: %w", rec.OrderID, err)
	}
	return nil
}

// UpdateOrderStatus sets the status of a recorded order.
func (j *Journal) UpdateOrderStatus(orderID, status string) error {
	res := j.db.Model(&models.OrderRecord{}).Where("order_id = ?", orderID).Update("status", status)
	if res.Error != nil {
		return fmt.Errorf("failed to update order %s: %w", orderID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("order %s: %w", orderID, gorm.ErrRecordNotFound)
	}
	return nil
}

// Orders returns every recorded order for market, oldest first.
func (j *Journal) Orders(market string) ([]models.OrderRecord, error) {
	var orders []models.OrderRecord
	if err := j.db.Where("market = ?", market).Order("id asc").Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("failed to load orders: %w", err)
	}
	return orders, nil
}

// LoadPosition returns the stored snapshot for market in the given mode, or
// nil when none exists.
func (j *Journal) LoadPosition(market string, dryRun bool) (*models.PositionState, error) {
	var pos models.PositionState
	err := j.db.Where("market = ? AND dry_run = ?", market, dryRun).First(&pos).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load position: %w", err)
	}
	return &pos, nil
}

// SavePosition stores the snapshot for its market and mode, replacing the
// previous one.
func (j *Journal) SavePosition(pos *models.PositionState) error {
	var existing models.PositionState
	err := j.db.Where("market = ? AND dry_run = ?", pos.Market, pos.DryRun).First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		pos.ID = 0
		err = j.db.Create(pos).Error
	case err == nil:
		pos.ID = existing.ID
		pos.CreatedAt = existing.CreatedAt
		err = j.db.Save(pos).Error
	}
	if err != nil {
		return fmt.Errorf("failed to save position: %w", err)
	}
	return nil
}

// RecordTrade stores a completed round trip.
func (j *Journal) RecordTrade(trade *models.Trade) error {
	if err := j.db.Create(trade).Error; err != nil {
		return fmt.Errorf("failed to save trade: %w", err)
	}
	return nil
}

// Trades returns completed round trips, most recent first.
func (j *Journal) Trades() ([]models.Trade, error) {
	var trades []models.Trade
	if err := j.db.Order("timestamp desc").Find(&trades).Error; err != nil {
		return nil, fmt.Errorf("failed to load trades: %w", err)
	}
	return trades, nil
}
