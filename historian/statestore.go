package historian

import (
	"database/sql"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PendingItem is the read model handed to the sync engine: one item whose
// latest attempt (if any) is not terminal.
type PendingItem struct {
	ItemKey       string
	MessageKey    string
	Topic         string
	Day           string
	URL           string
	URLNormalized string
	Title         string
	Snippet       string
	SourceDomain  string
}

// StateStore is the sole source of truth for dedup and sync progress. Every
// mutating call commits durably before returning; multi-row writes run inside
// one transaction so there are no partially-visible effects. Single writer per
// process; concurrent runs must be serialized externally.
type StateStore struct {
	db *gorm.DB
}

func NewStateStore(db *gorm.DB) *StateStore {
	return &StateStore{db: db}
}

// GetCheckpoint returns the last acknowledged cursor for a source, 0 when none
// was recorded yet.
func (s *StateStore) GetCheckpoint(source string) (int64, error) {
	var cp SyncCheckpoint
	err := s.db.Where("source = ?", source).First(&cp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return cp.LastCursor, nil
}

// SetCheckpoint upserts the cursor for a source. Monotonic advance is the
// caller's responsibility; the store does not enforce it.
func (s *StateStore) SetCheckpoint(source string, cursor int64) error {
	cp := SyncCheckpoint{Source: source, LastCursor: cursor, UpdatedAt: time.Now().UTC()}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "source"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_cursor", "updated_at"}),
	}).Create(&cp).Error
}

func (s *StateStore) IsMessageSeen(msgKey string) (bool, error) {
	var m SeenMessage
	err := s.db.Select("msg_key").Where("msg_key = ?", msgKey).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RecordMessage inserts a seen-message row, no-op when the key already exists.
func (s *StateStore) RecordMessage(msgKey, account, messageID, source string, cursor int64) error {
	m := SeenMessage{
		MsgKey:          msgKey,
		SourceAccount:   account,
		SourceMessageID: messageID,
		Source:          source,
		ReceivedAt:      time.Now().UTC(),
		MaxCursor:       cursor,
	}
	return s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&m).Error
}

// SaveItems persists canonical payloads. A payload whose message key was seen
// before is skipped entirely, so replaying identical payloads is a no-op.
// Items are upserted by item key: new keys insert, re-seen keys only bump
// LastSeenAt. Returns the count of newly inserted items. Each payload commits
// in its own transaction.
func (s *StateStore) SaveItems(payloads []CanonicalPayload) (int, error) {
	created := 0
	for _, p := range payloads {
		msgKey := p.MessageKey()
		seen, err := s.IsMessageSeen(msgKey)
		if err != nil {
			return created, err
		}
		if seen {
			continue
		}
		now := time.Now().UTC()
		recv := p.ReceivedAt
		if recv.IsZero() {
			recv = now
		}
		day := recv.UTC().Format("2006-01-02")

		inserted := 0
		err = s.db.Transaction(func(tx *gorm.DB) error {
			msg := SeenMessage{
				MsgKey:          msgKey,
				SourceAccount:   p.SourceAccount,
				SourceMessageID: p.SourceMessageID,
				Source:          p.Source,
				ReceivedAt:      recv.UTC(),
				MaxCursor:       p.Cursor,
			}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&msg).Error; err != nil {
				return err
			}
			for _, it := range p.Items {
				row := Item{
					ItemKey:       MakeItemKey(it.URLNormalized, p.Topic),
					MessageKey:    msgKey,
					Topic:         p.Topic,
					Day:           day,
					URL:           it.URL,
					URLNormalized: it.URLNormalized,
					Title:         it.Title,
					Snippet:       it.Snippet,
					SourceDomain:  it.SourceDomain,
					PublishedAt:   it.PublishedAt,
					FirstSeenAt:   now,
					LastSeenAt:    now,
					CurrentStatus: StatusPending,
				}
				res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
				if res.Error != nil {
					return res.Error
				}
				if res.RowsAffected > 0 {
					inserted++
					continue
				}
				if err := tx.Model(&Item{}).Where("item_key = ?", row.ItemKey).
					Update("last_seen_at", now).Error; err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return created, err
		}
		created += inserted
	}
	return created, nil
}

// GetPendingItems returns every item whose current status is not terminal,
// oldest first so the longest-waiting items are delivered before newer ones.
func (s *StateStore) GetPendingItems(runID string) ([]PendingItem, error) {
	var rows []Item
	if err := s.db.Where("current_status NOT IN ?", TerminalStatuses).
		Order("first_seen_at asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]PendingItem, 0, len(rows))
	for _, r := range rows {
		out = append(out, PendingItem{
			ItemKey:       r.ItemKey,
			MessageKey:    r.MessageKey,
			Topic:         r.Topic,
			Day:           r.Day,
			URL:           r.URL,
			URLNormalized: r.URLNormalized,
			Title:         r.Title,
			Snippet:       r.Snippet,
			SourceDomain:  r.SourceDomain,
		})
	}
	return out, nil
}

// RecordSyncAttempt appends one attempt row and updates the item's
// materialized current status in the same transaction.
func (s *StateStore) RecordSyncAttempt(itemKey, runID, status string, attempts int, lastError string, bookmarkID *int64) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		att := SyncAttempt{
			ItemKey:    itemKey,
			RunID:      runID,
			Status:     status,
			Attempts:   attempts,
			LastError:  lastError,
			BookmarkID: bookmarkID,
			CreatedAt:  time.Now().UTC(),
		}
		if err := tx.Create(&att).Error; err != nil {
			return err
		}
		return tx.Model(&Item{}).Where("item_key = ?", itemKey).
			Update("current_status", status).Error
	})
}

// GetAttemptCount returns the maximum cumulative attempt count ever recorded
// for an item, 0 when the item was never attempted.
func (s *StateStore) GetAttemptCount(itemKey string) (int, error) {
	var maxAttempts sql.NullInt64
	err := s.db.Model(&SyncAttempt{}).Where("item_key = ?", itemKey).
		Select("MAX(attempts)").Scan(&maxAttempts).Error
	if err != nil {
		return 0, err
	}
	if !maxAttempts.Valid {
		return 0, nil
	}
	return int(maxAttempts.Int64), nil
}

// CheckpointIfTerminal advances the checkpoint for a source iff no
// non-terminal item tied to that source remains, in which case the checkpoint
// becomes the maximum cursor among the source's recorded messages. Returns
// whether the checkpoint was advanced; on false nothing is mutated.
func (s *StateStore) CheckpointIfTerminal(source string) (bool, error) {
	var pending int64
	err := s.db.Model(&Item{}).
		Joins("JOIN seen_messages ON seen_messages.msg_key = items.message_key").
		Where("seen_messages.source = ?", source).
		Where("items.current_status NOT IN ?", TerminalStatuses).
		Count(&pending).Error
	if err != nil {
		return false, err
	}
	if pending > 0 {
		return false, nil
	}
	var maxCursor sql.NullInt64
	err = s.db.Model(&SeenMessage{}).Where("source = ?", source).
		Select("MAX(max_cursor)").Scan(&maxCursor).Error
	if err != nil {
		return false, err
	}
	cursor := int64(0)
	if maxCursor.Valid {
		cursor = maxCursor.Int64
	}
	if err := s.SetCheckpoint(source, cursor); err != nil {
		return false, err
	}
	return true, nil
}

// TopicLinks aggregates item URLs per topic, ordered by first-seen time.
// Read-only; feeds the daily report and has no role in sync correctness.
func (s *StateStore) TopicLinks() (map[string][]string, error) {
	var rows []Item
	if err := s.db.Select("topic", "url").Order("first_seen_at asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string][]string)
	for _, r := range rows {
		out[r.Topic] = append(out[r.Topic], r.URL)
	}
	return out, nil
}

// RunStats aggregates per-status attempt counts for one run.
func (s *StateStore) RunStats(runID string) (Counters, error) {
	var rows []struct {
		Status string
		Cnt    int
	}
	err := s.db.Model(&SyncAttempt{}).Select("status, COUNT(*) as cnt").
		Where("run_id = ?", runID).Group("status").Scan(&rows).Error
	if err != nil {
		return Counters{}, err
	}
	var c Counters
	for _, r := range rows {
		c.add(r.Status, r.Cnt)
	}
	return c, nil
}
