package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/abdomilano6222222/tg-secret-santa-bot/internal/models"
	"github.com/abdomilano6222222/tg-secret-santa-bot/internal/santa"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SQL is a Registry backed by a GORM database (SQLite or MySQL). Tables must
// exist; see db.AutoMigrate.
type SQL struct {
	db *gorm.DB
}

// NewSQL returns a registry using db.
func NewSQL(db *gorm.DB) (*SQL, error) {
	if db == nil {
		return nil, fmt.Errorf("registry: db is required")
	}
	return &SQL{db: db}, nil
}

// GetActive implements Registry.
func (r *SQL) GetActive(ctx context.Context, chatID int64) (*santa.Session, error) {
	var row models.ActiveSession
	err := r.db.WithContext(ctx).Where("chat_id = ?", chatID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("registry: get active %d: %w", chatID, err)
	}
	return santa.Unmarshal([]byte(row.Record))
}

func activeRow(s *santa.Session) (*models.ActiveSession, error) {
	data, err := s.Marshal()
	if err != nil {
		return nil, err
	}
	return &models.ActiveSession{
		ChatID:    s.ChatID,
		State:     string(s.State),
		Record:    string(data),
		CreatedAt: s.CreatedAt,
	}, nil
}

func upsertActive(tx *gorm.DB, row *models.ActiveSession) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "chat_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"state", "record", "created_at", "updated_at"}),
	}).Create(row).Error
}

// PutActive implements Registry.
func (r *SQL) PutActive(ctx context.Context, s *santa.Session) error {
	if err := checkActive(s); err != nil {
		return err
	}
	row, err := activeRow(s)
	if err != nil {
		return err
	}
	if err := upsertActive(r.db.WithContext(ctx), row); err != nil {
		return fmt.Errorf("registry: put active %d: %w", s.ChatID, err)
	}
	return nil
}

// RemoveActive implements Registry.
func (r *SQL) RemoveActive(ctx context.Context, chatID int64) error {
	err := r.db.WithContext(ctx).Where("chat_id = ?", chatID).Delete(&models.ActiveSession{}).Error
	if err != nil {
		return fmt.Errorf("registry: remove active %d: %w", chatID, err)
	}
	return nil
}

// Migrate implements Registry inside a single transaction.
func (r *SQL) Migrate(ctx context.Context, oldChatID int64, s *santa.Session) error {
	if err := checkActive(s); err != nil {
		return err
	}
	row, err := activeRow(s)
	if err != nil {
		return err
	}
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("chat_id = ?", oldChatID).Delete(&models.ActiveSession{}).Error; err != nil {
			return fmt.Errorf("delete %d: %w", oldChatID, err)
		}
		if err := upsertActive(tx, row); err != nil {
			return fmt.Errorf("put %d: %w", s.ChatID, err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("registry: migrate: %w", err)
	}
	return nil
}

// ListActive implements Registry.
func (r *SQL) ListActive(ctx context.Context) ([]*santa.Session, error) {
	var rows []models.ActiveSession
	if err := r.db.WithContext(ctx).Order("chat_id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("registry: list active: %w", err)
	}
	sessions := make([]*santa.Session, 0, len(rows))
	for _, row := range rows {
		s, err := santa.Unmarshal([]byte(row.Record))
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}

// Archive implements Registry.
func (r *SQL) Archive(ctx context.Context, s *santa.Session) error {
	if err := checkArchivable(s); err != nil {
		return err
	}
	data, err := s.Marshal()
	if err != nil {
		return err
	}
	row := models.ArchivedSession{
		ChatID:        s.ChatID,
		CorrelationID: s.CorrelationID,
		Participants:  s.Count(),
		StartedAt:     s.StartedAt.UTC(),
		Record:        string(data),
	}
	err = r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "chat_id"}, {Name: "correlation_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"participants", "started_at", "record"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("registry: archive %d: %w", s.ChatID, err)
	}
	return nil
}

// ListArchive implements Registry.
func (r *SQL) ListArchive(ctx context.Context, chatID int64) ([]*santa.Session, error) {
	var rows []models.ArchivedSession
	err := r.db.WithContext(ctx).Where("chat_id = ?", chatID).Order("started_at, id").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("registry: list archive %d: %w", chatID, err)
	}
	sessions := make([]*santa.Session, 0, len(rows))
	for _, row := range rows {
		s, err := santa.Unmarshal([]byte(row.Record))
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}

// ArchiveStats implements Registry.
func (r *SQL) ArchiveStats(ctx context.Context) (ArchiveStats, error) {
	var sessions, chats int64
	q := r.db.WithContext(ctx).Model(&models.ArchivedSession{})
	if err := q.Count(&sessions).Error; err != nil {
		return ArchiveStats{}, fmt.Errorf("registry: archive stats: %w", err)
	}
	if err := r.db.WithContext(ctx).Model(&models.ArchivedSession{}).Distinct("chat_id").Count(&chats).Error; err != nil {
		return ArchiveStats{}, fmt.Errorf("registry: archive stats: %w", err)
	}
	return ArchiveStats{Chats: int(chats), Sessions: int(sessions)}, nil
}

// PurgeArchive implements Registry.
func (r *SQL) PurgeArchive(ctx context.Context, cutoff time.Time) (int, error) {
	result := r.db.WithContext(ctx).Where("started_at < ?", cutoff.UTC()).Delete(&models.ArchivedSession{})
	if result.Error != nil {
		return 0, fmt.Errorf("registry: purge archive: %w", result.Error)
	}
	return int(result.RowsAffected), nil
}

// MarkUnreachable implements Registry.
func (r *SQL) MarkUnreachable(ctx context.Context, chatID int64, at time.Time) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "chat_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"marked_at"}),
	}).Create(&models.UnreachableChat{ChatID: chatID, MarkedAt: at.UTC()}).Error
	if err != nil {
		return fmt.Errorf("registry: mark unreachable %d: %w", chatID, err)
	}
	return nil
}

// ClearUnreachable implements Registry.
func (r *SQL) ClearUnreachable(ctx context.Context, chatID int64) error {
	err := r.db.WithContext(ctx).Where("chat_id = ?", chatID).Delete(&models.UnreachableChat{}).Error
	if err != nil {
		return fmt.Errorf("registry: clear unreachable %d: %w", chatID, err)
	}
	return nil
}

// IsRecentlyUnreachable implements Registry.
func (r *SQL) IsRecentlyUnreachable(ctx context.Context, chatID int64) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.UnreachableChat{}).Where("chat_id = ?", chatID).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("registry: check unreachable %d: %w", chatID, err)
	}
	return count > 0, nil
}

// PurgeUnreachable implements Registry.
func (r *SQL) PurgeUnreachable(ctx context.Context, cutoff time.Time) (int, error) {
	result := r.db.WithContext(ctx).Where("marked_at < ?", cutoff.UTC()).Delete(&models.UnreachableChat{})
	if result.Error != nil {
		return 0, fmt.Errorf("registry: purge unreachable: %w", result.Error)
	}
	return int(result.RowsAffected), nil
}

// Close releases the underlying connection pool.
func (r *SQL) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("registry: close: %w", err)
	}
	return sqlDB.Close()
}
