package historian

import "time"

// Sync attempt statuses. Terminal statuses permanently exclude an item from
// the pending pool.
const (
	StatusPending         = "pending"
	StatusSynced          = "synced"
	StatusDuplicate       = "duplicate"
	StatusRetryableFailed = "retryable_failed"
	StatusPermanentFailed = "permanent_failed"
)

// TerminalStatuses in reporting order.
var TerminalStatuses = []string{StatusSynced, StatusDuplicate, StatusPermanentFailed}

func IsTerminalStatus(status string) bool {
	for _, s := range TerminalStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// SeenMessage records one ingested source unit (one alert email or one export
// entry). Once a message key is present, re-ingestions of the same message are
// skipped entirely.
type SeenMessage struct {
	MsgKey          string `gorm:"primaryKey;size:64"`
	SourceAccount   string `gorm:"size:256"`
	SourceMessageID string `gorm:"index;size:256"`
	// Source is the checkpoint scope this message belongs to (mailbox folder
	// or export name).
	Source     string `gorm:"index;size:128"`
	ReceivedAt time.Time
	// MaxCursor is the ordinal cursor carried by the message (mailbox UID or
	// export sequence); 0 when the source has no cursor.
	MaxCursor int64 `gorm:"index"`
}

// Item is one deduplicated alert item. ItemKey is a content hash of the
// normalized URL and the topic slug, so the same URL under two topics is two
// rows.
type Item struct {
	ItemKey       string `gorm:"primaryKey;size:64"`
	MessageKey    string `gorm:"index;size:64"`
	Topic         string `gorm:"index;size:256"`
	Day           string `gorm:"index;size:10"`
	URL           string `gorm:"type:text"`
	URLNormalized string `gorm:"type:text"`
	Title         string `gorm:"type:text"`
	Snippet       string `gorm:"type:text"`
	SourceDomain  string `gorm:"index;size:256"`
	PublishedAt   *time.Time
	FirstSeenAt   time.Time `gorm:"index"`
	LastSeenAt    time.Time
	// CurrentStatus mirrors the status of the latest SyncAttempt for this key
	// and is updated in the same transaction as each attempt append, so the
	// pending query is a plain filter instead of a join over attempt history.
	CurrentStatus string `gorm:"index;size:24;default:pending"`
}

// SyncAttempt is append-only delivery history. Attempts is the cumulative
// attempt count for the item across all runs, not per run.
type SyncAttempt struct {
	ID         uint   `gorm:"primaryKey"`
	ItemKey    string `gorm:"index;size:64"`
	RunID      string `gorm:"index;size:64"`
	Status     string `gorm:"index;size:24"`
	Attempts   int
	LastError  string `gorm:"type:text"`
	BookmarkID *int64
	CreatedAt  time.Time `gorm:"index"`
}

// SyncCheckpoint holds the highest cursor per source that is safe to resume
// fetching from. Advanced only when no non-terminal item remains for the
// source.
type SyncCheckpoint struct {
	Source     string `gorm:"primaryKey;size:128"`
	LastCursor int64
	UpdatedAt  time.Time
}
