package historian

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const reportTopicLinkLimit = 10

// BuildDailyReport writes the markdown daily report for today and returns its
// path. Read-only over the store; no role in sync correctness.
func BuildDailyReport(store *StateStore, dir, runID string, inserted int, counters Counters) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	today := time.Now().UTC().Format("2006-01-02")
	outPath := filepath.Join(dir, today+".md")

	byTopic, err := store.TopicLinks()
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Alert Historian Daily Report (%s)\n\n", today)
	b.WriteString("## Ingest Summary\n")
	fmt.Fprintf(&b, "- Canonical items inserted: %d\n", inserted)
	fmt.Fprintf(&b, "- Run id: %s\n\n", runID)
	b.WriteString("## Sync Summary\n")
	fmt.Fprintf(&b, "- synced: %d\n", counters.Synced)
	fmt.Fprintf(&b, "- duplicate: %d\n", counters.Duplicate)
	fmt.Fprintf(&b, "- retryable_failed: %d\n", counters.RetryableFailed)
	fmt.Fprintf(&b, "- permanent_failed: %d\n", counters.PermanentFailed)
	fmt.Fprintf(&b, "- total: %d\n", counters.Total)

	b.WriteString("\n## Topic Timeline\n")
	if len(byTopic) == 0 {
		b.WriteString("- No items recorded yet.\n")
	} else {
		topics := make([]string, 0, len(byTopic))
		for t := range byTopic {
			topics = append(topics, t)
		}
		sort.Strings(topics)
		for _, t := range topics {
			fmt.Fprintf(&b, "- %s\n", t)
			links := byTopic[t]
			if len(links) > reportTopicLinkLimit {
				links = links[:reportTopicLinkLimit]
			}
			for _, link := range links {
				fmt.Fprintf(&b, "  - %s\n", link)
			}
		}
	}

	if err := os.WriteFile(outPath, []byte(b.String()), 0o644); err != nil {
		return "", err
	}
	return outPath, nil
}
