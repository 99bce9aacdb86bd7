// Package instance provides the registry of per-tenant storefront connections.
// Every other aggregate (sync records, webhook configs, task logs) is owned by
// an Instance; deleting an instance cascades to all of them.
package instance

import (
	"context"
	"net/url"
	"slices"
	"time"

	"storesync/internal/core/apperror"
	"storesync/internal/core/id"
	"storesync/internal/domain/catalog"
)

// Direction controls which side the engine may write to.
type Direction string

const (
	DirectionErpToStore    Direction = "erp_to_store"
	DirectionStoreToErp    Direction = "store_to_erp"
	DirectionBidirectional Direction = "bidirectional"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	switch d {
	case DirectionErpToStore, DirectionStoreToErp, DirectionBidirectional:
		return true
	}
	return false
}

// AllowsStoreWrite reports whether transitions writing to the storefront are permitted.
func (d Direction) AllowsStoreWrite() bool {
	return d == DirectionErpToStore || d == DirectionBidirectional
}

// AllowsErpWrite reports whether transitions writing to the ERP are permitted.
func (d Direction) AllowsErpWrite() bool {
	return d == DirectionStoreToErp || d == DirectionBidirectional
}

// Instance is one tenant's configured connection to a storefront deployment.
type Instance struct {
	ID id.ID `db:"id" json:"id"`

	Name string `db:"name" json:"name"`

	// StoreURL is the storefront base URL (REST API root is derived from it).
	StoreURL string `db:"store_url" json:"storeUrl"`

	// API credential pair for the storefront REST API.
	ConsumerKey    string `db:"consumer_key" json:"-"`
	ConsumerSecret string `db:"consumer_secret" json:"-"`

	// WebhookSecret is the default shared secret for webhook signature
	// verification when a WebhookConfig has no secret of its own.
	WebhookSecret string `db:"webhook_secret" json:"-"`

	// OwnerEmail references the operator owning this connection.
	OwnerEmail string `db:"owner_email" json:"ownerEmail"`

	// Direction restricts which side the engine may write to.
	Direction Direction `db:"direction" json:"direction"`

	// AutoSyncKinds lists entity kinds included in scheduled passes.
	// Empty means all kinds.
	AutoSyncKinds []string `db:"auto_sync_kinds" json:"autoSyncKinds"`

	// AutoSync gates scheduled passes entirely.
	AutoSync bool `db:"auto_sync" json:"autoSync"`

	// SkipPolicy is an optional CEL expression; entities it evaluates true
	// for are skipped instead of pushed.
	SkipPolicy *string `db:"skip_policy" json:"skipPolicy,omitempty"`

	Active bool `db:"active" json:"active"`

	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// New creates an Instance with generated ID and defaults.
func New(name, storeURL, consumerKey, consumerSecret string) *Instance {
	now := time.Now().UTC()
	return &Instance{
		ID:             id.New(),
		Name:           name,
		StoreURL:       storeURL,
		ConsumerKey:    consumerKey,
		ConsumerSecret: consumerSecret,
		Direction:      DirectionErpToStore,
		AutoSync:       true,
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Validate checks instance invariants.
func (i *Instance) Validate(ctx context.Context) error {
	if i.Name == "" {
		return apperror.NewValidation("name is required").
			WithDetail("field", "name")
	}
	if i.StoreURL == "" {
		return apperror.NewValidation("storefront url is required").
			WithDetail("field", "storeUrl")
	}
	if u, err := url.Parse(i.StoreURL); err != nil || u.Scheme == "" || u.Host == "" {
		return apperror.NewValidation("storefront url must be absolute").
			WithDetail("field", "storeUrl").
			WithDetail("value", i.StoreURL)
	}
	if i.ConsumerKey == "" || i.ConsumerSecret == "" {
		return apperror.NewValidation("storefront credentials are required").
			WithDetail("field", "consumerKey")
	}
	if !i.Direction.Valid() {
		return apperror.NewValidation("invalid sync direction").
			WithDetail("field", "direction").
			WithDetail("value", string(i.Direction))
	}
	for _, k := range i.AutoSyncKinds {
		if !catalog.Kind(k).Valid() {
			return apperror.NewValidation("unknown entity kind in auto sync list").
				WithDetail("field", "autoSyncKinds").
				WithDetail("value", k)
		}
	}
	return nil
}

// SyncsKind reports whether scheduled passes include the given kind.
func (i *Instance) SyncsKind(k catalog.Kind) bool {
	if !i.AutoSync {
		return false
	}
	if len(i.AutoSyncKinds) == 0 {
		return true
	}
	return slices.Contains(i.AutoSyncKinds, string(k))
}

// Touch updates the modification timestamp.
func (i *Instance) Touch() {
	i.UpdatedAt = time.Now().UTC()
}
