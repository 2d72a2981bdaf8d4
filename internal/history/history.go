// Package history archives round settlements to Postgres. The archive is
// optional: without a database URL the server simply keeps no history.
package history

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// RoundRecord is one settled round.
type RoundRecord struct {
	ID        uint      `gorm:"primaryKey"`
	RoomID    string    `gorm:"index;size:64"`
	SettledAt time.Time `gorm:"index"`
	Details   []byte    `gorm:"type:jsonb"`
}

// Store wraps the archive database.
type Store struct {
	db  *gorm.DB
	log *zap.SugaredLogger
}

// Open connects and migrates the archive schema.
func Open(dsn string, log *zap.SugaredLogger) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening archive database: %w", err)
	}
	if err := db.AutoMigrate(&RoundRecord{}); err != nil {
		return nil, fmt.Errorf("migrating archive schema: %w", err)
	}
	return &Store{db: db, log: log}, nil
}

// SaveRound stores one settlement payload, already serialized by the room
// actor. Errors are logged, not propagated: archival must never disturb
// gameplay.
func (s *Store) SaveRound(roomID string, details []byte) {
	rec := RoundRecord{RoomID: roomID, SettledAt: time.Now(), Details: details}
	if err := s.db.Create(&rec).Error; err != nil {
		s.log.Errorw("archive settlement", "room", roomID, "err", err)
	}
}

// RecentRounds returns the latest settlements for a room, newest first.
func (s *Store) RecentRounds(roomID string, limit int) ([]RoundRecord, error) {
	var recs []RoundRecord
	err := s.db.Where("room_id = ?", roomID).
		Order("settled_at desc").
		Limit(limit).
		Find(&recs).Error
	return recs, err
}
