package catalog

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"storesync/internal/core/apperror"
)

// ErpSnapshot is the ERP-side view of one catalog entity at a point in time.
// ERP identifiers are integers local to the ERP database; they are not
// globally unique, which is why the ledger always scopes them by instance.
type ErpSnapshot struct {
	Kind Kind  `json:"kind"`
	ID   int64 `json:"id"`

	Name string  `json:"name"`
	SKU  *string `json:"sku,omitempty"`

	// Price fields apply to product and price_list kinds.
	ListPrice     *decimal.Decimal `json:"listPrice,omitempty"`
	StandardPrice *decimal.Decimal `json:"standardPrice,omitempty"`

	// ParentID is the taxonomy parent for hierarchical kinds (category),
	// or the owning attribute for attribute values.
	ParentID *int64 `json:"parentId,omitempty"`

	Active    bool `json:"active"`
	Published bool `json:"published"`

	// WriteTime is the ERP write timestamp, the authoritative clock for
	// the ERP side of the staleness comparison.
	WriteTime time.Time `json:"writeTime"`
}

// Validate checks snapshot invariants. Failures are terminal: the caller
// records them as errors without retry.
func (s *ErpSnapshot) Validate(ctx context.Context) error {
	if !s.Kind.Valid() {
		return apperror.NewValidation("invalid entity kind").
			WithDetail("field", "kind").
			WithDetail("value", string(s.Kind))
	}
	if s.ID <= 0 {
		return apperror.NewValidation("erp id is required").
			WithDetail("field", "id")
	}
	if s.Name == "" {
		return apperror.NewValidation("name is required").
			WithDetail("field", "name")
	}
	if s.WriteTime.IsZero() {
		return apperror.NewValidation("erp write time is required").
			WithDetail("field", "writeTime")
	}
	if s.ListPrice != nil && s.ListPrice.IsNegative() {
		return apperror.NewValidation("list price cannot be negative").
			WithDetail("field", "listPrice")
	}
	if s.Kind == KindAttributeValue && s.ParentID == nil {
		return apperror.NewValidation("attribute value requires owning attribute").
			WithDetail("field", "parentId")
	}
	return nil
}

// StoreSnapshot is the storefront-side view of one catalog entity.
type StoreSnapshot struct {
	Kind Kind  `json:"kind"`
	ID   int64 `json:"id"`

	Name string  `json:"name"`
	SKU  *string `json:"sku,omitempty"`

	Price *decimal.Decimal `json:"price,omitempty"`

	// ParentID references the storefront-side parent entity.
	ParentID *int64 `json:"parentId,omitempty"`

	// Status is the storefront publication status: publish, draft, pending, private.
	Status string `json:"status"`

	CreatedTime time.Time `json:"createdTime"`
	// UpdatedTime is the storefront update timestamp, the authoritative
	// clock for the storefront side of the staleness comparison.
	UpdatedTime time.Time `json:"updatedTime"`
}

// Published reports whether the entity is publicly visible on the storefront.
func (s *StoreSnapshot) Published() bool {
	return s.Status == "publish" || s.Status == ""
}

// Validate checks snapshot invariants.
func (s *StoreSnapshot) Validate(ctx context.Context) error {
	if !s.Kind.Valid() {
		return apperror.NewValidation("invalid entity kind").
			WithDetail("field", "kind").
			WithDetail("value", string(s.Kind))
	}
	if s.ID <= 0 {
		return apperror.NewValidation("storefront id is required").
			WithDetail("field", "id")
	}
	if s.UpdatedTime.IsZero() {
		return apperror.NewValidation("storefront update time is required").
			WithDetail("field", "updatedTime")
	}
	if s.Price != nil && s.Price.IsNegative() {
		return apperror.NewValidation("price cannot be negative").
			WithDetail("field", "price")
	}
	return nil
}
