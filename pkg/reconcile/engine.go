// Package reconcile merges durable rows arriving from either delivery path
// (write response, realtime echo) and locally optimistic entries into the
// timeline store. The merge is idempotent under duplicate delivery and
// commutative with respect to the arrival order of the two paths.
package reconcile

import (
	"sync"

	"chatfeed/pkg/logger"
	"chatfeed/pkg/models"
	"chatfeed/pkg/telemetry"
	"chatfeed/pkg/timeline"
)

// Engine is the single point of truth for merging arrivals into a Store.
// Apply never returns an error: every merge step is a total function over
// (current store, incoming row).
type Engine struct {
	// mu serializes merges so each one is atomic relative to the others.
	// Both producers (send confirmation, realtime ingestion) call in here
	// concurrently and assume no ordering between each other.
	mu    sync.Mutex
	store *timeline.Store
}

// New creates an Engine over the given store.
func New(store *timeline.Store) *Engine {
	return &Engine{store: store}
}

// Apply merges one durable row into the store. In order:
//
//  1. Exact match: an entry already carries this durable id. Overwrite its
//     fields in place and clear pending/failed, making duplicate delivery
//     a no-op beyond field refresh.
//  2. Optimistic promotion: a pending entry with no durable id yet, same
//     account and same text, is promoted by attaching the row's durable id
//     and timestamp. This collapses the race between "my own write's
//     response" and "the realtime echo of my own write".
//  3. Fresh append: otherwise the row becomes a new confirmed entry,
//     subject to the capacity policy.
func (e *Engine) Apply(row models.Row) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.store.Mutate(
		func(m *models.Message) bool { return m.DurableID == row.ID && row.ID != "" },
		func(m *models.Message) {
			m.Text = row.Text
			m.Sender = row.Sender
			m.Level = row.Level
			m.Account = row.Account
			m.TS = row.TS
			m.Pending = false
			m.Failed = false
		},
	) {
		telemetry.Merges.WithLabelValues("confirmed").Inc()
		logger.Debug("merge_confirmed", "durable_id", row.ID)
		return
	}

	// Promotion matches the oldest pending entry first. Matching by
	// (account, text) is best-effort correlation: identical text sent twice
	// inside the unconfirmed window can promote the wrong entry.
	if e.store.Mutate(
		func(m *models.Message) bool {
			return m.Pending && m.DurableID == "" && m.Account == row.Account && m.Text == row.Text
		},
		func(m *models.Message) {
			m.DurableID = row.ID
			m.TS = row.TS
			m.Sender = row.Sender
			m.Level = row.Level
			m.Pending = false
			m.Failed = false
		},
	) {
		telemetry.Merges.WithLabelValues("promoted").Inc()
		logger.Debug("merge_promoted", "durable_id", row.ID, "account", row.Account)
		return
	}

	e.store.Append(models.FromRow(row))
	telemetry.Merges.WithLabelValues("appended").Inc()
	logger.Debug("merge_appended", "durable_id", row.ID, "account", row.Account)
}

// MarkFailed flags the optimistic entry with the given local id as failed.
// The entry stays visible and is never automatically retried; a new send
// is required. No-op if the entry was already confirmed or evicted.
func (e *Engine) MarkFailed(localID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.store.Mutate(
		func(m *models.Message) bool { return m.ID == localID && m.DurableID == "" },
		func(m *models.Message) {
			m.Pending = false
			m.Failed = true
		},
	)
}
