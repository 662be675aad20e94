package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// ChunkCheckpoint is one transcribed chunk.
type ChunkCheckpoint struct {
	BaseName   string `gorm:"primaryKey;type:varchar(1024)"`
	ChunkIndex int    `gorm:"primaryKey"`
	Text       string `gorm:"type:text;not null"`
	CreatedAt  time.Time
}

func (ChunkCheckpoint) TableName() string { return "chunk_checkpoints" }

// SQLStore keeps checkpoints in an embedded SQLite database.
type SQLStore struct {
	db *gorm.DB
}

// OpenSQLStore opens (or creates) the database at path and migrates the schema.
func OpenSQLStore(path string) (*SQLStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}

	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=synchronous(FULL)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open checkpoint db %s: %w", path, err)
	}
	if err := db.AutoMigrate(&ChunkCheckpoint{}); err != nil {
		return nil, fmt.Errorf("migrate checkpoint db: %w", err)
	}
	return &SQLStore{db: db}, nil
}

// IsDone reports whether a row exists for the chunk.
func (s *SQLStore) IsDone(ctx context.Context, baseName string, index int) (bool, error) {
	var row ChunkCheckpoint
	err := s.db.WithContext(ctx).
		Where("base_name = ? AND chunk_index = ?", baseName, index).
		Take(&row).Error
	if err == nil {
		return true, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	return false, err
}

// MarkDone inserts the checkpoint; an existing row is left untouched.
func (s *SQLStore) MarkDone(ctx context.Context, baseName string, index int, text string) error {
	row := ChunkCheckpoint{BaseName: baseName, ChunkIndex: index, Text: text}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row).Error
}

// ListDone returns every checkpointed chunk.
func (s *SQLStore) ListDone(ctx context.Context) ([]Key, error) {
	var rows []ChunkCheckpoint
	if err := s.db.WithContext(ctx).Order("base_name, chunk_index").Find(&rows).Error; err != nil {
		return nil, err
	}

	keys := make([]Key, 0, len(rows))
	for _, row := range rows {
		keys = append(keys, Key{BaseName: row.BaseName, Index: row.ChunkIndex})
	}
	sortKeys(keys)
	return keys, nil
}

// Text returns the stored transcription of a chunk.
func (s *SQLStore) Text(ctx context.Context, baseName string, index int) (string, error) {
	var row ChunkCheckpoint
	err := s.db.WithContext(ctx).
		Where("base_name = ? AND chunk_index = ?", baseName, index).
		Take(&row).Error
	return row.Text, err
}

// Close releases the database handle.
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
