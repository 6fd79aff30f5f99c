package models

import (
	"time"
)

// DispatchResult is the aggregated outcome of one fan-out. Success holds every
// token the gateway accepted; Failed maps recipient IDs to the tokens that did
// not go through. The two sets partition the input token set. Invalid is the
// subset of Failed the gateway rejected permanently; those tokens are purged,
// not retried.
type DispatchResult struct {
	Success []string
	Failed  map[string][]string
	Invalid map[string][]string
}

// HasFailures reports whether any token failed.
func (r *DispatchResult) HasFailures() bool {
	return len(r.Failed) > 0
}

// FailedCount returns the total number of failed tokens across recipients.
func (r *DispatchResult) FailedCount() int {
	n := 0
	for _, tokens := range r.Failed {
		n += len(tokens)
	}
	return n
}

// RetryableFailed returns the failed tokens minus the permanently invalid
// ones, keyed by recipient. Only these are eligible for redelivery.
func (r *DispatchResult) RetryableFailed() map[string][]string {
	retryable := map[string][]string{}
	for userID, tokens := range r.Failed {
		invalid := map[string]bool{}
		for _, token := range r.Invalid[userID] {
			invalid[token] = true
		}
		for _, token := range tokens {
			if invalid[token] {
				continue
			}
			retryable[userID] = append(retryable[userID], token)
		}
	}
	return retryable
}

// RetryItem is one durable unit of pending redelivery work. Created after a
// partially failed fan-out, mutated in place on every sweep, deleted on
// resolution or promotion to a FailureRecord.
type RetryItem struct {
	RetryID      string              `db:"retry_id"`
	MessageID    string              `db:"message_id"`
	ChatID       string              `db:"chat_id"`
	RecipientIDs []string            `db:"recipient_ids"`
	FailedTokens map[string][]string `db:"failed_tokens"`
	AttemptCount int                 `db:"attempt_count"`
	NextRetryAt  time.Time           `db:"next_retry_at"`
	LastError    string              `db:"last_error"`
	CreatedAt    time.Time           `db:"created_at"`
}

// FailureRecord is the terminal archive entry for a retry item that exhausted
// all of its retry attempts. Immutable once written.
type FailureRecord struct {
	FailureID                   string              `db:"failure_id"`
	MessageID                   string              `db:"message_id"`
	ChatID                      string              `db:"chat_id"`
	RecipientIDs                []string            `db:"recipient_ids"`
	FailedTokens                map[string][]string `db:"failed_tokens"`
	TotalAttempts               int                 `db:"total_attempts"`
	FinalError                  string              `db:"final_error"`
	RequiresManualInvestigation bool                `db:"requires_manual_investigation"`
	CreatedAt                   time.Time           `db:"created_at"`
}
