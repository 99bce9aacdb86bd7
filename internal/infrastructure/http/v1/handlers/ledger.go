package handlers

import (
	"github.com/gin-gonic/gin"

	"storesync/internal/domain/catalog"
	"storesync/internal/domain/ledger"
	"storesync/internal/infrastructure/http/v1/dto"
)

// LedgerHandler exposes the sync ledger for operator browsing.
type LedgerHandler struct {
	*BaseHandler
	records ledger.Repository
}

// NewLedgerHandler creates a ledger handler.
func NewLedgerHandler(records ledger.Repository) *LedgerHandler {
	return &LedgerHandler{
		BaseHandler: NewBaseHandler(),
		records:     records,
	}
}

// List retrieves ledger records for an instance.
// GET /api/v1/instances/:id/records
func (h *LedgerHandler) List(c *gin.Context) {
	instID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}
	var query dto.ListRecordsQuery
	if !h.BindQuery(c, &query) {
		return
	}

	filter := ledger.ListFilter{
		Error:  query.Error,
		Limit:  query.Limit,
		Offset: query.Offset,
	}
	if filter.Limit == 0 {
		filter.Limit = 50
	}
	if query.Kind != "" {
		kind, err := catalog.ParseKind(query.Kind)
		if err != nil {
			h.Error(c, err)
			return
		}
		filter.Kind = &kind
	}

	recs, err := h.records.List(c.Request.Context(), instID, filter)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.ListResponse{
		Items:  dto.FromRecords(recs),
		Count:  len(recs),
		Limit:  filter.Limit,
		Offset: filter.Offset,
	})
}

// Stats aggregates outcome counters per entity kind.
// GET /api/v1/instances/:id/records/stats?kind=product
func (h *LedgerHandler) Stats(c *gin.Context) {
	instID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}
	kind, err := catalog.ParseKind(c.Query("kind"))
	if err != nil {
		h.Error(c, err)
		return
	}

	stats, err := h.records.Stats(c.Request.Context(), instID, kind)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, stats)
}

// MarkForSync raises the staleness flag on a set of entities so the next
// scheduled pass picks them up regardless of timestamps.
// POST /api/v1/instances/:id/records/mark-for-sync
func (h *LedgerHandler) MarkForSync(c *gin.Context) {
	instID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}
	var req dto.MarkForSyncRequest
	if !h.BindJSON(c, &req) {
		return
	}
	kind, err := catalog.ParseKind(req.Kind)
	if err != nil {
		h.Error(c, err)
		return
	}

	marked, err := h.records.MarkForSync(c.Request.Context(), instID, kind, req.ErpIDs)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.MarkForSyncResponse{Marked: marked})
}
