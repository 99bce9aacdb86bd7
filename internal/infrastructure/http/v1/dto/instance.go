package dto

import (
	"time"

	"storesync/internal/domain/instance"
)

// CreateInstanceRequest registers a new storefront connection.
type CreateInstanceRequest struct {
	Name           string   `json:"name" binding:"required"`
	StoreURL       string   `json:"storeUrl" binding:"required"`
	ConsumerKey    string   `json:"consumerKey" binding:"required"`
	ConsumerSecret string   `json:"consumerSecret" binding:"required"`
	WebhookSecret  string   `json:"webhookSecret"`
	OwnerEmail     string   `json:"ownerEmail"`
	Direction      *string  `json:"direction"`
	AutoSync       *bool    `json:"autoSync"`
	AutoSyncKinds  []string `json:"autoSyncKinds"`
	SkipPolicy     *string  `json:"skipPolicy"`
}

// UpdateInstanceRequest modifies a connection. Nil fields keep their value;
// credentials are only replaced when all parts of the pair are sent.
type UpdateInstanceRequest struct {
	Name           *string  `json:"name"`
	StoreURL       *string  `json:"storeUrl"`
	ConsumerKey    *string  `json:"consumerKey"`
	ConsumerSecret *string  `json:"consumerSecret"`
	WebhookSecret  *string  `json:"webhookSecret"`
	OwnerEmail     *string  `json:"ownerEmail"`
	Direction      *string  `json:"direction"`
	AutoSync       *bool    `json:"autoSync"`
	AutoSyncKinds  []string `json:"autoSyncKinds"`
	SkipPolicy     *string  `json:"skipPolicy"`
	Active         *bool    `json:"active"`
}

// Apply copies the set fields onto the instance.
func (r *UpdateInstanceRequest) Apply(inst *instance.Instance) {
	if r.Name != nil {
		inst.Name = *r.Name
	}
	if r.StoreURL != nil {
		inst.StoreURL = *r.StoreURL
	}
	if r.ConsumerKey != nil {
		inst.ConsumerKey = *r.ConsumerKey
	}
	if r.ConsumerSecret != nil {
		inst.ConsumerSecret = *r.ConsumerSecret
	}
	if r.WebhookSecret != nil {
		inst.WebhookSecret = *r.WebhookSecret
	}
	if r.OwnerEmail != nil {
		inst.OwnerEmail = *r.OwnerEmail
	}
	if r.Direction != nil {
		inst.Direction = instance.Direction(*r.Direction)
	}
	if r.AutoSync != nil {
		inst.AutoSync = *r.AutoSync
	}
	if r.AutoSyncKinds != nil {
		inst.AutoSyncKinds = r.AutoSyncKinds
	}
	if r.SkipPolicy != nil {
		if *r.SkipPolicy == "" {
			inst.SkipPolicy = nil
		} else {
			inst.SkipPolicy = r.SkipPolicy
		}
	}
	if r.Active != nil {
		inst.Active = *r.Active
	}
}

// InstanceResponse contains instance fields; credentials stay server-side.
type InstanceResponse struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	StoreURL      string    `json:"storeUrl"`
	OwnerEmail    string    `json:"ownerEmail,omitempty"`
	Direction     string    `json:"direction"`
	AutoSync      bool      `json:"autoSync"`
	AutoSyncKinds []string  `json:"autoSyncKinds,omitempty"`
	SkipPolicy    *string   `json:"skipPolicy,omitempty"`
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// FromInstance creates InstanceResponse from an instance.
func FromInstance(inst *instance.Instance) InstanceResponse {
	return InstanceResponse{
		ID:            inst.ID.String(),
		Name:          inst.Name,
		StoreURL:      inst.StoreURL,
		OwnerEmail:    inst.OwnerEmail,
		Direction:     string(inst.Direction),
		AutoSync:      inst.AutoSync,
		AutoSyncKinds: inst.AutoSyncKinds,
		SkipPolicy:    inst.SkipPolicy,
		Active:        inst.Active,
		CreatedAt:     inst.CreatedAt,
		UpdatedAt:     inst.UpdatedAt,
	}
}

// FromInstances maps a slice of instances.
func FromInstances(insts []*instance.Instance) []InstanceResponse {
	out := make([]InstanceResponse, 0, len(insts))
	for _, inst := range insts {
		out = append(out, FromInstance(inst))
	}
	return out
}
