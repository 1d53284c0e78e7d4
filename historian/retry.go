package historian

import (
	"fmt"
	"math/rand"
	"strings"
	"time"
)

// MaxAttempts is the ceiling on cumulative attempts per item. Once reached,
// any further retryable outcome is forced to permanent_failed.
const MaxAttempts = 5

// backoffSchedule holds base delays indexed by attempt number - 1; attempts
// past the end reuse the last entry.
var backoffSchedule = []time.Duration{
	1 * time.Second,
	4 * time.Second,
	10 * time.Second,
	30 * time.Second,
	120 * time.Second,
}

// RetryDecision classifies one remote outcome.
type RetryDecision struct {
	Status    string
	Retryable bool
	Reason    string
}

// Classify maps an HTTP outcome from the bookmark service to a sync status.
// Unknown codes default to retryable so transient conditions are never
// silently dropped.
func Classify(statusCode int, body string) RetryDecision {
	msg := strings.ToLower(body)
	switch {
	case statusCode == 200 || statusCode == 201:
		return RetryDecision{Status: StatusSynced}
	case statusCode == 409 || strings.Contains(msg, "already exists"):
		return RetryDecision{Status: StatusDuplicate, Reason: "duplicate-url"}
	case statusCode == 401 || statusCode == 429 || (statusCode >= 500 && statusCode <= 599):
		return RetryDecision{Status: StatusRetryableFailed, Retryable: true, Reason: fmt.Sprintf("http-%d", statusCode)}
	case statusCode >= 400 && statusCode <= 499:
		return RetryDecision{Status: StatusPermanentFailed, Reason: fmt.Sprintf("http-%d", statusCode)}
	default:
		return RetryDecision{Status: StatusRetryableFailed, Retryable: true, Reason: fmt.Sprintf("http-%d", statusCode)}
	}
}

// Backoff returns the delay before the next batch after attempt number
// attempt failed: the scheduled base plus uniform jitter up to 25% of it.
func Backoff(attempt int) time.Duration {
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(backoffSchedule) {
		idx = len(backoffSchedule) - 1
	}
	base := backoffSchedule[idx]
	jitter := time.Duration(rand.Int63n(int64(base) / 4))
	return base + jitter
}
