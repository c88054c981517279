package models

import "time"

// ActiveSession holds the serialized record of the single open session of a
// chat. The chat id is the primary key, so a chat can never have two.
type ActiveSession struct {
	ChatID    int64     `gorm:"primaryKey;autoIncrement:false"`
	State     string    `gorm:"size:16;not null"`
	Record    string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"index"`
	UpdatedAt time.Time
}

// ArchivedSession is an immutable copy of a session that completed matching,
// kept for a bounded retention window.
type ArchivedSession struct {
	ID            uint      `gorm:"primaryKey;autoIncrement"`
	ChatID        int64     `gorm:"not null;uniqueIndex:idx_archive_chat_correlation"`
	CorrelationID string    `gorm:"size:128;not null;uniqueIndex:idx_archive_chat_correlation"`
	Participants  int       `gorm:"not null"`
	StartedAt     time.Time `gorm:"index"`
	Record        string    `gorm:"type:text;not null"`
	CreatedAt     time.Time
}

// UnreachableChat marks a chat the bot was removed from.
type UnreachableChat struct {
	ChatID   int64     `gorm:"primaryKey;autoIncrement:false"`
	MarkedAt time.Time `gorm:"index;not null"`
}

// PlatformIdentity maps a chat platform's string identifier to the integer
// id used by sessions.
type PlatformIdentity struct {
	ID         int64  `gorm:"primaryKey;autoIncrement"`
	Platform   string `gorm:"size:16;not null;uniqueIndex:idx_platform_external"`
	ExternalID string `gorm:"size:128;not null;uniqueIndex:idx_platform_external"`
	CreatedAt  time.Time
}
