package dto

import (
	"time"

	"storesync/internal/domain/ledger"
)

// ListRecordsQuery filters ledger listings.
type ListRecordsQuery struct {
	Kind   string `form:"kind"`
	Error  *bool  `form:"error"`
	Limit  int    `form:"limit" binding:"omitempty,min=1,max=500"`
	Offset int    `form:"offset" binding:"omitempty,min=0"`
}

// RecordResponse is one sync ledger row for operator browsing.
type RecordResponse struct {
	ID         string `json:"id"`
	InstanceID string `json:"instanceId"`
	Kind       string `json:"kind"`
	ErpID      int64  `json:"erpId"`
	StoreID    *int64 `json:"storeId,omitempty"`
	ErpName    string `json:"erpName"`

	Outcome   string `json:"outcome"`
	NeedsSync bool   `json:"needsSync"`
	Published bool   `json:"published"`

	Message     string `json:"message,omitempty"`
	ErrorDetail string `json:"errorDetail,omitempty"`

	ErpWriteAt    *time.Time `json:"erpWriteAt,omitempty"`
	StoreCreated  *time.Time `json:"storeCreatedAt,omitempty"`
	StoreUpdated  *time.Time `json:"storeUpdatedAt,omitempty"`
	LastAttemptAt *time.Time `json:"lastAttemptAt,omitempty"`
	LastSyncedAt  *time.Time `json:"lastSyncedAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// FromRecord creates RecordResponse from a ledger record.
func FromRecord(rec *ledger.Record) RecordResponse {
	return RecordResponse{
		ID:            rec.ID.String(),
		InstanceID:    rec.InstanceID.String(),
		Kind:          string(rec.Kind),
		ErpID:         rec.ErpID,
		StoreID:       rec.StoreID,
		ErpName:       rec.ErpName,
		Outcome:       string(rec.Outcome()),
		NeedsSync:     rec.NeedsSync,
		Published:     rec.Published,
		Message:       rec.Message,
		ErrorDetail:   rec.ErrorDetail,
		ErpWriteAt:    rec.ErpWriteAt,
		StoreCreated:  rec.StoreCreated,
		StoreUpdated:  rec.StoreUpdated,
		LastAttemptAt: rec.LastAttemptAt,
		LastSyncedAt:  rec.LastSyncedAt,
		CreatedAt:     rec.CreatedAt,
		UpdatedAt:     rec.UpdatedAt,
	}
}

// FromRecords maps a slice of ledger records.
func FromRecords(recs []*ledger.Record) []RecordResponse {
	out := make([]RecordResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, FromRecord(rec))
	}
	return out
}

// MarkForSyncRequest raises the staleness flag on a set of entities.
// Empty ErpIDs marks every record of the kind.
type MarkForSyncRequest struct {
	Kind   string  `json:"kind" binding:"required"`
	ErpIDs []int64 `json:"erpIds"`
}

// MarkForSyncResponse reports how many rows were flagged.
type MarkForSyncResponse struct {
	Marked int64 `json:"marked"`
}
