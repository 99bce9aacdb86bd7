// Package ledger provides the durable mapping between ERP entities and their
// storefront counterparts. One generic Record shape covers all entity kinds;
// the kind column is the discriminator.
package ledger

import (
	"time"

	"storesync/internal/core/id"
	"storesync/internal/domain/catalog"
)

// Outcome is the transition result of one reconciliation pass.
type Outcome string

const (
	OutcomeCreated Outcome = "created"
	OutcomeUpdated Outcome = "updated"
	OutcomeSkipped Outcome = "skipped"
	OutcomeError   Outcome = "error"
)

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeCreated, OutcomeUpdated, OutcomeSkipped, OutcomeError:
		return true
	}
	return false
}

// Bounded lengths for the diagnostic fields.
const (
	MaxMessageLen     = 500
	MaxErrorDetailLen = 2000
)

// Record is one row of the sync ledger: the durable mapping between one ERP
// entity and its storefront counterpart, plus the outcome of the most recent
// transition. Only the latest transition is retained.
type Record struct {
	ID         id.ID        `db:"id"`
	InstanceID id.ID        `db:"instance_id"`
	Kind       catalog.Kind `db:"kind"`

	// ErpID is the ERP-side identifier, unique per (instance, kind).
	ErpID int64 `db:"erp_id"`

	// StoreID is the storefront-side identifier; nil until the entity has
	// been created on the storefront. For product and category kinds it is
	// additionally unique per (instance, kind) - the constraint doubles as
	// concurrency control for the claim step.
	StoreID *int64 `db:"store_id"`

	// ErpName is a denormalized display name for operator listings.
	ErpName string `db:"erp_name"`

	// Outcome flags describe the last transition, not the full history.
	Created bool `db:"created"`
	Updated bool `db:"updated"`
	Skipped bool `db:"skipped"`
	Error   bool `db:"error"`

	// NeedsSync is the staleness flag, recomputed from timestamp comparison.
	NeedsSync bool `db:"needs_sync"`

	// Published mirrors the storefront visibility state.
	Published bool `db:"published"`

	Message     string `db:"message"`
	ErrorDetail string `db:"error_detail"`

	ErpWriteAt    *time.Time `db:"erp_write_at"`
	StoreCreated  *time.Time `db:"store_created_at"`
	StoreUpdated  *time.Time `db:"store_updated_at"`
	LastAttemptAt *time.Time `db:"last_attempt_at"`
	LastSyncedAt  *time.Time `db:"last_synced_at"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// NewRecord creates a ledger record for an ERP entity with no storefront
// counterpart yet.
func NewRecord(instanceID id.ID, kind catalog.Kind, erpID int64, erpName string) *Record {
	now := time.Now().UTC()
	return &Record{
		ID:         id.New(),
		InstanceID: instanceID,
		Kind:       kind,
		ErpID:      erpID,
		ErpName:    erpName,
		NeedsSync:  true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// ApplyOutcome sets the mutually-describing transition flags for the latest
// pass and the bounded diagnostic fields.
func (r *Record) ApplyOutcome(o Outcome, message, errorDetail string) {
	r.Created = o == OutcomeCreated
	r.Updated = o == OutcomeUpdated
	r.Skipped = o == OutcomeSkipped
	r.Error = o == OutcomeError
	r.Message = Truncate(message, MaxMessageLen)
	r.ErrorDetail = Truncate(errorDetail, MaxErrorDetailLen)
	r.UpdatedAt = time.Now().UTC()
}

// Outcome returns the last transition as a closed value.
func (r *Record) Outcome() Outcome {
	switch {
	case r.Error:
		return OutcomeError
	case r.Created:
		return OutcomeCreated
	case r.Updated:
		return OutcomeUpdated
	default:
		return OutcomeSkipped
	}
}

// Truncate bounds s to max bytes without splitting the limit marker.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	const marker = "..."
	if max <= len(marker) {
		return s[:max]
	}
	return s[:max-len(marker)] + marker
}

// Status is the derived listing status shown to operators.
type Status string

const (
	StatusNeverSynced Status = "never_synced"
	StatusSynced      Status = "synced"
	StatusModified    Status = "modified"
	StatusError       Status = "error"
)

// StaleTolerance absorbs sub-clock-resolution write races between the ERP
// and the ledger clock, so a sync that lands milliseconds after the ERP
// write does not immediately flag the entity as modified again.
const StaleTolerance = 10 * time.Second

// DeriveStatus computes the operator-facing status of a record given the
// current ERP write time. A nil record means the entity was never synced.
func DeriveStatus(rec *Record, erpWriteTime time.Time) Status {
	if rec == nil {
		return StatusNeverSynced
	}
	if rec.Error {
		return StatusError
	}
	if rec.LastSyncedAt == nil {
		return StatusNeverSynced
	}
	if erpWriteTime.IsZero() {
		return StatusSynced
	}
	if erpWriteTime.After(rec.LastSyncedAt.Add(StaleTolerance)) {
		return StatusModified
	}
	return StatusSynced
}

// Stats aggregates per-instance sync counters for one entity kind.
type Stats struct {
	Total   int64 `db:"total" json:"total"`
	Created int64 `db:"created" json:"created"`
	Updated int64 `db:"updated" json:"updated"`
	Skipped int64 `db:"skipped" json:"skipped"`
	Errors  int64 `db:"errors" json:"errors"`
}
