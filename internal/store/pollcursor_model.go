package store

import "time"

// PollCursorModel persists dispatcher.PollCursor state per provider.
type PollCursorModel struct {
	ProviderName string `gorm:"primaryKey"`
	LastEventAt  time.Time
	LastEventID  string
}

func (PollCursorModel) TableName() string { return "poll_cursors" }
