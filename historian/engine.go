package historian

import (
	"fmt"
	"log"
	"sort"
	"time"
)

// Counters accumulates per-outcome counts for one sync run.
type Counters struct {
	Synced          int
	Duplicate       int
	RetryableFailed int
	PermanentFailed int
	Total           int
}

func (c *Counters) add(status string, n int) {
	switch status {
	case StatusSynced:
		c.Synced += n
	case StatusDuplicate:
		c.Duplicate += n
	case StatusRetryableFailed:
		c.RetryableFailed += n
	case StatusPermanentFailed:
		c.PermanentFailed += n
	default:
		return
	}
	c.Total += n
}

type EngineConfig struct {
	// Source is the checkpoint scope (mailbox folder or export name).
	Source string
	// SourceName is the value behind the source/<name> tag.
	SourceName string
	// BatchSize per bulk call, clamped to [1, 100].
	BatchSize     int
	UseDomainTags bool
	Debug         bool
}

// SyncEngine delivers every pending item to the bookmark service within one
// run: sign in once, resolve tag ids once, send fixed-size batches, classify
// outcomes, record exactly one attempt per (item, run) and gate checkpoint
// advancement on global drain. Batches run strictly sequentially; the only
// suspension point is the backoff sleep after a retryable whole-batch failure.
type SyncEngine struct {
	cfg    EngineConfig
	store  *StateStore
	client RemoteClient
	sleep  func(time.Duration)
}

func NewSyncEngine(cfg EngineConfig, store *StateStore, client RemoteClient) *SyncEngine {
	if cfg.SourceName == "" {
		cfg.SourceName = "google-alerts"
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	if cfg.BatchSize > 100 {
		cfg.BatchSize = 100
	}
	return &SyncEngine{cfg: cfg, store: store, client: client, sleep: time.Sleep}
}

func (e *SyncEngine) debugf(format string, args ...any) {
	if e == nil || !e.cfg.Debug {
		return
	}
	log.Printf(format, args...)
}

// Run executes one sync run and returns the accumulated counters. Sign-in
// failure aborts the run without recording anything; every other remote
// failure resolves to recorded per-item outcomes.
func (e *SyncEngine) Run(runID string) (Counters, error) {
	var counters Counters
	if err := e.client.SignIn(); err != nil {
		return counters, fmt.Errorf("sign in: %w", err)
	}
	pending, err := e.store.GetPendingItems(runID)
	if err != nil {
		return counters, err
	}
	if len(pending) == 0 {
		e.debugf("sync run=%s: nothing pending", runID)
		return counters, nil
	}
	e.debugf("sync run=%s: %d pending items", runID, len(pending))

	tagMap := e.resolveTags(pending)

	for start := 0; start < len(pending); start += e.cfg.BatchSize {
		end := min(start+e.cfg.BatchSize, len(pending))
		if err := e.processBatch(runID, pending[start:end], tagMap, &counters); err != nil {
			return counters, err
		}
	}

	advanced, err := e.store.CheckpointIfTerminal(e.cfg.Source)
	if err != nil {
		return counters, err
	}
	e.debugf("sync run=%s done: synced=%d duplicate=%d retryable=%d permanent=%d total=%d checkpointAdvanced=%v",
		runID, counters.Synced, counters.Duplicate, counters.RetryableFailed, counters.PermanentFailed, counters.Total, advanced)
	return counters, nil
}

// resolveTags resolves the union of tag titles needed across all pending
// items exactly once per run: list, bulk-create the missing ones, refetch.
// Tagging failures are non-fatal; items then simply carry fewer tags.
func (e *SyncEngine) resolveTags(pending []PendingItem) map[string]int64 {
	titleSet := make(map[string]struct{})
	for _, it := range pending {
		for _, t := range TagTitlesForItem(it, e.cfg.SourceName, e.cfg.UseDomainTags) {
			titleSet[t] = struct{}{}
		}
	}
	titles := make([]string, 0, len(titleSet))
	for t := range titleSet {
		titles = append(titles, t)
	}
	sort.Strings(titles)

	tagMap := e.listTagMap()
	var missing []string
	for _, t := range titles {
		if _, ok := tagMap[t]; !ok {
			missing = append(missing, t)
		}
	}
	if len(missing) > 0 {
		if err := e.client.CreateTags(missing); err != nil {
			e.debugf("create tags failed (continuing with partial tags): %v", err)
		}
		tagMap = e.listTagMap()
	}
	return tagMap
}

func (e *SyncEngine) listTagMap() map[string]int64 {
	out := make(map[string]int64)
	tags, err := e.client.ListTags()
	if err != nil {
		e.debugf("list tags failed (continuing without tags): %v", err)
		return out
	}
	for _, t := range tags {
		out[t.Title] = t.ID
	}
	return out
}

func (e *SyncEngine) processBatch(runID string, batch []PendingItem, tagMap map[string]int64, counters *Counters) error {
	reqs := make([]BookmarkRequest, 0, len(batch))
	for _, it := range batch {
		var tagIDs []int64
		for _, title := range TagTitlesForItem(it, e.cfg.SourceName, e.cfg.UseDomainTags) {
			if id, ok := tagMap[title]; ok {
				tagIDs = append(tagIDs, id)
			}
		}
		reqs = append(reqs, ToBookmarkRequest(it, tagIDs))
	}

	resp, err := e.client.BulkAdd(reqs)
	if err != nil {
		e.debugf("bulk add transport error: %v", err)
		decision := RetryDecision{Status: StatusRetryableFailed, Retryable: true, Reason: "transport: " + err.Error()}
		return e.resolveBatchUniform(runID, batch, decision, counters)
	}
	if resp.PerItem {
		return e.resolveBatchPerItem(runID, batch, resp.Results, counters)
	}
	return e.resolveBatchUniform(runID, batch, Classify(resp.StatusCode, resp.Body), counters)
}

// resolveBatchPerItem handles a successful bulk call whose body is
// index-aligned with the batch: resolved slots synced, null slots fail
// per-item. The call as a whole succeeded, so no backoff sleep applies.
func (e *SyncEngine) resolveBatchPerItem(runID string, batch []PendingItem, results []BulkResult, counters *Counters) error {
	for idx, item := range batch {
		count, err := e.store.GetAttemptCount(item.ItemKey)
		if err != nil {
			return err
		}
		attempt := count + 1
		var result BulkResult
		if idx < len(results) {
			result = results[idx]
		}
		switch {
		case result.Resolved:
			id := result.ID
			if err := e.store.RecordSyncAttempt(item.ItemKey, runID, StatusSynced, attempt, "", &id); err != nil {
				return err
			}
			counters.add(StatusSynced, 1)
		case attempt >= MaxAttempts:
			if err := e.store.RecordSyncAttempt(item.ItemKey, runID, StatusPermanentFailed, attempt, "bulk-item-null-max-attempts", nil); err != nil {
				return err
			}
			counters.add(StatusPermanentFailed, 1)
		default:
			if err := e.store.RecordSyncAttempt(item.ItemKey, runID, StatusRetryableFailed, attempt, "bulk-item-null", nil); err != nil {
				return err
			}
			counters.add(StatusRetryableFailed, 1)
		}
	}
	return nil
}

// resolveBatchUniform applies one classification to every item of the batch.
// A transient failure therefore charges every item's attempt counter; that is
// a deliberate trade-off, not an accident. Items already at the attempt
// ceiling downgrade to permanent_failed. A retryable batch sleeps once before
// the next batch is sent.
func (e *SyncEngine) resolveBatchUniform(runID string, batch []PendingItem, decision RetryDecision, counters *Counters) error {
	sleepAttempt := 0
	for _, item := range batch {
		count, err := e.store.GetAttemptCount(item.ItemKey)
		if err != nil {
			return err
		}
		attempt := count + 1
		status := decision.Status
		if decision.Retryable {
			if attempt >= MaxAttempts {
				status = StatusPermanentFailed
			} else if sleepAttempt == 0 {
				sleepAttempt = attempt
			}
		}
		if err := e.store.RecordSyncAttempt(item.ItemKey, runID, status, attempt, decision.Reason, nil); err != nil {
			return err
		}
		counters.add(status, 1)
	}
	if sleepAttempt > 0 {
		d := Backoff(sleepAttempt)
		e.debugf("retryable batch failure (%s), backing off %s", decision.Reason, d)
		e.sleep(d)
	}
	return nil
}
