package historian

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *StateStore {
	t.Helper()
	db, err := OpenDB(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatal(err)
	}
	return NewStateStore(db)
}

func testPayload(account, msgID, topic string, cursor int64, urls ...string) CanonicalPayload {
	items := make([]CanonicalItem, 0, len(urls))
	for _, u := range urls {
		items = append(items, NormalizeItem(u, "Title for "+u, "a snippet"))
	}
	return CanonicalPayload{
		Source:          "INBOX",
		SourceAccount:   account,
		SourceMessageID: msgID,
		Cursor:          cursor,
		ReceivedAt:      time.Now().UTC(),
		Topic:           topic,
		Items:           items,
	}
}

func TestSaveItems_MessageLevelIdempotency(t *testing.T) {
	store := newTestStore(t)
	p := testPayload("acct", "msg-1", "Quantum Computing", 10,
		"https://e.com/a", "https://e.com/b")

	created, err := store.SaveItems([]CanonicalPayload{p})
	if err != nil {
		t.Fatal(err)
	}
	if created != 2 {
		t.Fatalf("expected 2 created, got %d", created)
	}

	// Replaying the identical payload is a complete no-op.
	created, err = store.SaveItems([]CanonicalPayload{p})
	if err != nil {
		t.Fatal(err)
	}
	if created != 0 {
		t.Fatalf("expected 0 created on replay, got %d", created)
	}

	seen, err := store.IsMessageSeen(p.MessageKey())
	if err != nil {
		t.Fatal(err)
	}
	if !seen {
		t.Fatalf("expected message recorded")
	}
}

func TestSaveItems_SameURLDifferentTopicsAreDistinct(t *testing.T) {
	store := newTestStore(t)
	created, err := store.SaveItems([]CanonicalPayload{
		testPayload("acct", "msg-1", "Alpha", 1, "https://e.com/x"),
		testPayload("acct", "msg-2", "Beta", 2, "https://e.com/x"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if created != 2 {
		t.Fatalf("expected 2 distinct items, got %d", created)
	}
}

func TestSaveItems_ReseenItemBumpsLastSeenOnly(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.SaveItems([]CanonicalPayload{
		testPayload("acct", "msg-1", "Alpha", 1, "https://e.com/x"),
	}); err != nil {
		t.Fatal(err)
	}
	time.Sleep(2 * time.Millisecond)
	// Same item arrives via a new message: no new row, LastSeenAt advances.
	created, err := store.SaveItems([]CanonicalPayload{
		testPayload("acct", "msg-2", "Alpha", 2, "https://e.com/x"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if created != 0 {
		t.Fatalf("expected 0 created for re-seen item, got %d", created)
	}

	var row Item
	if err := store.db.First(&row).Error; err != nil {
		t.Fatal(err)
	}
	if !row.LastSeenAt.After(row.FirstSeenAt) {
		t.Fatalf("expected LastSeenAt bump: first=%s last=%s", row.FirstSeenAt, row.LastSeenAt)
	}
}

func TestGetPendingItems_ExcludesTerminalStatuses(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.SaveItems([]CanonicalPayload{
		testPayload("acct", "msg-1", "Alpha", 1,
			"https://e.com/a", "https://e.com/b", "https://e.com/c", "https://e.com/d"),
	}); err != nil {
		t.Fatal(err)
	}
	pending, err := store.GetPendingItems("run-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 4 {
		t.Fatalf("expected 4 pending, got %d", len(pending))
	}

	for i, status := range []string{StatusSynced, StatusDuplicate, StatusPermanentFailed} {
		if err := store.RecordSyncAttempt(pending[i].ItemKey, "run-1", status, 1, "", nil); err != nil {
			t.Fatal(err)
		}
	}
	retryKey := pending[3].ItemKey
	if err := store.RecordSyncAttempt(retryKey, "run-1", StatusRetryableFailed, 1, "http-500", nil); err != nil {
		t.Fatal(err)
	}

	pending, err = store.GetPendingItems("run-2")
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected only the retryable item pending, got %d", len(pending))
	}
	if pending[0].ItemKey != retryKey {
		t.Fatalf("unexpected pending item: %+v", pending[0])
	}
}

func TestGetPendingItems_OrderedOldestFirst(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.SaveItems([]CanonicalPayload{
		testPayload("acct", "msg-1", "Alpha", 1, "https://e.com/first"),
	}); err != nil {
		t.Fatal(err)
	}
	time.Sleep(2 * time.Millisecond)
	if _, err := store.SaveItems([]CanonicalPayload{
		testPayload("acct", "msg-2", "Alpha", 2, "https://e.com/second"),
	}); err != nil {
		t.Fatal(err)
	}

	pending, err := store.GetPendingItems("run-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 || pending[0].URL != "https://e.com/first" {
		t.Fatalf("expected oldest-first order, got %+v", pending)
	}
}

func TestGetAttemptCount_MaxAcrossHistory(t *testing.T) {
	store := newTestStore(t)
	n, err := store.GetAttemptCount("missing")
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("expected 0 for unknown key, got %d", n)
	}

	key := MakeItemKey("https://e.com/a", "Alpha")
	for i := 1; i <= 3; i++ {
		if err := store.RecordSyncAttempt(key, "run", StatusRetryableFailed, i, "http-500", nil); err != nil {
			t.Fatal(err)
		}
	}
	n, err = store.GetAttemptCount(key)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("expected max attempts 3, got %d", n)
	}
}

func TestCheckpointIfTerminal_GatesOnGlobalDrain(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.SaveItems([]CanonicalPayload{
		testPayload("acct", "msg-1", "Alpha", 17, "https://e.com/a"),
		testPayload("acct", "msg-2", "Alpha", 42, "https://e.com/b"),
	}); err != nil {
		t.Fatal(err)
	}

	advanced, err := store.CheckpointIfTerminal("INBOX")
	if err != nil {
		t.Fatal(err)
	}
	if advanced {
		t.Fatalf("expected no advance while items pending")
	}
	if cp, _ := store.GetCheckpoint("INBOX"); cp != 0 {
		t.Fatalf("expected untouched checkpoint, got %d", cp)
	}

	pending, err := store.GetPendingItems("run-1")
	if err != nil {
		t.Fatal(err)
	}
	if err := store.RecordSyncAttempt(pending[0].ItemKey, "run-1", StatusSynced, 1, "", nil); err != nil {
		t.Fatal(err)
	}

	// One item still pending: no advance.
	advanced, err = store.CheckpointIfTerminal("INBOX")
	if err != nil {
		t.Fatal(err)
	}
	if advanced {
		t.Fatalf("expected no advance with one item pending")
	}

	if err := store.RecordSyncAttempt(pending[1].ItemKey, "run-1", StatusPermanentFailed, 1, "http-400", nil); err != nil {
		t.Fatal(err)
	}
	advanced, err = store.CheckpointIfTerminal("INBOX")
	if err != nil {
		t.Fatal(err)
	}
	if !advanced {
		t.Fatalf("expected advance once all items terminal")
	}
	cp, err := store.GetCheckpoint("INBOX")
	if err != nil {
		t.Fatal(err)
	}
	if cp != 42 {
		t.Fatalf("expected checkpoint at max cursor 42, got %d", cp)
	}
}

func TestCheckpointIfTerminal_ScopedToSource(t *testing.T) {
	store := newTestStore(t)
	other := testPayload("acct", "msg-other", "Alpha", 9, "https://e.com/other")
	other.Source = "ARCHIVE"
	if _, err := store.SaveItems([]CanonicalPayload{
		testPayload("acct", "msg-1", "Alpha", 5, "https://e.com/a"),
		other,
	}); err != nil {
		t.Fatal(err)
	}

	// ARCHIVE's pending item must not block INBOX once INBOX drains.
	pending, err := store.GetPendingItems("run-1")
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range pending {
		if p.URL == "https://e.com/a" {
			if err := store.RecordSyncAttempt(p.ItemKey, "run-1", StatusSynced, 1, "", nil); err != nil {
				t.Fatal(err)
			}
		}
	}
	advanced, err := store.CheckpointIfTerminal("INBOX")
	if err != nil {
		t.Fatal(err)
	}
	if !advanced {
		t.Fatalf("expected INBOX advance independent of ARCHIVE items")
	}
	if cp, _ := store.GetCheckpoint("INBOX"); cp != 5 {
		t.Fatalf("expected INBOX checkpoint 5, got %d", cp)
	}
	if advanced, _ := store.CheckpointIfTerminal("ARCHIVE"); advanced {
		t.Fatalf("expected ARCHIVE blocked by its pending item")
	}
}

func TestSetCheckpoint_UpsertIdempotent(t *testing.T) {
	store := newTestStore(t)
	if err := store.SetCheckpoint("INBOX", 7); err != nil {
		t.Fatal(err)
	}
	if err := store.SetCheckpoint("INBOX", 11); err != nil {
		t.Fatal(err)
	}
	cp, err := store.GetCheckpoint("INBOX")
	if err != nil {
		t.Fatal(err)
	}
	if cp != 11 {
		t.Fatalf("expected upserted checkpoint 11, got %d", cp)
	}
}

func TestTopicLinks(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.SaveItems([]CanonicalPayload{
		testPayload("acct", "msg-1", "Alpha", 1, "https://e.com/a1", "https://e.com/a2"),
		testPayload("acct", "msg-2", "Beta", 2, "https://e.com/b1"),
	}); err != nil {
		t.Fatal(err)
	}
	links, err := store.TopicLinks()
	if err != nil {
		t.Fatal(err)
	}
	if len(links["Alpha"]) != 2 || len(links["Beta"]) != 1 {
		t.Fatalf("unexpected aggregation: %+v", links)
	}
}

func TestRunStats(t *testing.T) {
	store := newTestStore(t)
	key1 := MakeItemKey("https://e.com/a", "Alpha")
	key2 := MakeItemKey("https://e.com/b", "Alpha")
	if err := store.RecordSyncAttempt(key1, "run-1", StatusSynced, 1, "", nil); err != nil {
		t.Fatal(err)
	}
	if err := store.RecordSyncAttempt(key2, "run-1", StatusRetryableFailed, 1, "http-500", nil); err != nil {
		t.Fatal(err)
	}
	if err := store.RecordSyncAttempt(key2, "run-2", StatusSynced, 2, "", nil); err != nil {
		t.Fatal(err)
	}

	c, err := store.RunStats("run-1")
	if err != nil {
		t.Fatal(err)
	}
	if c.Synced != 1 || c.RetryableFailed != 1 || c.Total != 2 {
		t.Fatalf("unexpected run-1 stats: %+v", c)
	}
}
