// Package gateway provides the HTTP clients behind the domain gateway
// interfaces: the storefront REST API and the ERP connector service.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"storesync/internal/core/apperror"
	"storesync/internal/domain/catalog"
	domaingw "storesync/internal/domain/gateway"
	"storesync/internal/domain/instance"
)

const storefrontAPIBase = "/wp-json/wc/v3"

// StorefrontClient implements gateway.Storefront against the storefront
// REST API. Credentials come from the instance, so one client serves all
// instances.
type StorefrontClient struct {
	client *resty.Client
}

var _ domaingw.Storefront = (*StorefrontClient)(nil)

// NewStorefrontClient creates a storefront API client.
func NewStorefrontClient(timeout time.Duration) *StorefrontClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &StorefrontClient{
		client: resty.New().
			SetTimeout(timeout).
			SetRetryCount(2).
			SetRetryWaitTime(500 * time.Millisecond).
			SetHeader("Accept", "application/json"),
	}
}

// storeEntity is the storefront wire representation of a catalog entity.
type storeEntity struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	SKU    string `json:"sku,omitempty"`
	Price  string `json:"regular_price,omitempty"`
	Parent int64  `json:"parent,omitempty"`
	Status string `json:"status,omitempty"`

	DateCreatedGMT  string `json:"date_created_gmt,omitempty"`
	DateModifiedGMT string `json:"date_modified_gmt,omitempty"`
}

// storeWebhook is the storefront wire representation of a webhook.
type storeWebhook struct {
	ID          int64  `json:"id,omitempty"`
	Name        string `json:"name,omitempty"`
	Topic       string `json:"topic"`
	DeliveryURL string `json:"delivery_url"`
	Status      string `json:"status,omitempty"`
}

// kindPaths maps entity kinds to their API collection paths. Attribute
// values live under their owning attribute and are resolved per call.
var kindPaths = map[catalog.Kind]string{
	catalog.KindProduct:   "products",
	catalog.KindCategory:  "products/categories",
	catalog.KindTag:       "products/tags",
	catalog.KindAttribute: "products/attributes",
	catalog.KindPriceList: "price_lists",
}

func collectionPath(kind catalog.Kind, parentID *int64) (string, error) {
	if kind == catalog.KindAttributeValue {
		if parentID == nil {
			return "", apperror.NewValidation("attribute value requires owning attribute").
				WithDetail("kind", string(kind))
		}
		return fmt.Sprintf("products/attributes/%d/terms", *parentID), nil
	}
	path, ok := kindPaths[kind]
	if !ok {
		return "", apperror.NewValidation("unsupported entity kind").
			WithDetail("kind", string(kind))
	}
	return path, nil
}

func (c *StorefrontClient) request(ctx context.Context, inst *instance.Instance) *resty.Request {
	return c.client.R().
		SetContext(ctx).
		SetBasicAuth(inst.ConsumerKey, inst.ConsumerSecret)
}

func storeURL(inst *instance.Instance, path string) string {
	return strings.TrimSuffix(inst.StoreURL, "/") + storefrontAPIBase + "/" + path
}

// translateResponse maps failed responses to AppErrors.
func translateResponse(resp *resty.Response, err error, what string) error {
	if err != nil {
		return apperror.NewTransport("storefront", err).
			WithDetail("operation", what)
	}
	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return apperror.NewNotFound(what, resp.Request.URL)
	case resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusForbidden:
		return apperror.NewUnauthorized("storefront rejected credentials").
			WithDetail("operation", what).
			WithDetail("status", resp.StatusCode())
	case resp.IsError():
		return apperror.NewTransport("storefront",
			fmt.Errorf("%s: status %d: %s", what, resp.StatusCode(), resp.String())).
			WithDetail("status", resp.StatusCode())
	}
	return nil
}

// Get retrieves the current storefront state of one entity.
func (c *StorefrontClient) Get(ctx context.Context, inst *instance.Instance, kind catalog.Kind, storeID int64) (*catalog.StoreSnapshot, error) {
	path, err := collectionPath(kind, nil)
	if err != nil {
		return nil, err
	}

	var entity storeEntity
	resp, err := c.request(ctx, inst).
		SetResult(&entity).
		Get(storeURL(inst, fmt.Sprintf("%s/%d", path, storeID)))
	if terr := translateResponse(resp, err, string(kind)); terr != nil {
		return nil, terr
	}
	return toStoreSnapshot(kind, &entity)
}

// Create pushes a new entity.
func (c *StorefrontClient) Create(ctx context.Context, inst *instance.Instance, snap *catalog.ErpSnapshot) (*catalog.StoreSnapshot, error) {
	path, err := collectionPath(snap.Kind, snap.ParentID)
	if err != nil {
		return nil, err
	}

	var entity storeEntity
	resp, err := c.request(ctx, inst).
		SetBody(fromErpSnapshot(snap)).
		SetResult(&entity).
		Post(storeURL(inst, path))
	if terr := translateResponse(resp, err, string(snap.Kind)); terr != nil {
		return nil, terr
	}
	return toStoreSnapshot(snap.Kind, &entity)
}

// Update overwrites an existing entity.
func (c *StorefrontClient) Update(ctx context.Context, inst *instance.Instance, storeID int64, snap *catalog.ErpSnapshot) (*catalog.StoreSnapshot, error) {
	path, err := collectionPath(snap.Kind, snap.ParentID)
	if err != nil {
		return nil, err
	}

	var entity storeEntity
	resp, err := c.request(ctx, inst).
		SetBody(fromErpSnapshot(snap)).
		SetResult(&entity).
		Put(storeURL(inst, fmt.Sprintf("%s/%d", path, storeID)))
	if terr := translateResponse(resp, err, string(snap.Kind)); terr != nil {
		return nil, terr
	}
	return toStoreSnapshot(snap.Kind, &entity)
}

// RegisterWebhook provisions a webhook for a topic.
func (c *StorefrontClient) RegisterWebhook(ctx context.Context, inst *instance.Instance, topic, deliveryURL string) (int64, error) {
	var created storeWebhook
	resp, err := c.request(ctx, inst).
		SetBody(storeWebhook{
			Name:        "storesync " + topic,
			Topic:       topic,
			DeliveryURL: deliveryURL,
		}).
		SetResult(&created).
		Post(storeURL(inst, "webhooks"))
	if terr := translateResponse(resp, err, "webhook"); terr != nil {
		return 0, terr
	}
	return created.ID, nil
}

// DeleteWebhook removes a provisioned webhook.
func (c *StorefrontClient) DeleteWebhook(ctx context.Context, inst *instance.Instance, storeWebhookID int64) error {
	resp, err := c.request(ctx, inst).
		SetQueryParam("force", "true").
		Delete(storeURL(inst, fmt.Sprintf("webhooks/%d", storeWebhookID)))
	return translateResponse(resp, err, "webhook")
}

// fromErpSnapshot builds the outbound payload for a create or update.
func fromErpSnapshot(snap *catalog.ErpSnapshot) *storeEntity {
	entity := &storeEntity{
		Name: snap.Name,
	}
	if snap.SKU != nil {
		entity.SKU = *snap.SKU
	}
	if snap.ListPrice != nil {
		entity.Price = snap.ListPrice.String()
	}
	if snap.ParentID != nil && snap.Kind == catalog.KindCategory {
		entity.Parent = *snap.ParentID
	}
	if snap.Kind == catalog.KindProduct {
		if snap.Published && snap.Active {
			entity.Status = "publish"
		} else {
			entity.Status = "draft"
		}
	}
	return entity
}

// toStoreSnapshot parses the storefront response.
func toStoreSnapshot(kind catalog.Kind, entity *storeEntity) (*catalog.StoreSnapshot, error) {
	snap := &catalog.StoreSnapshot{
		Kind:   kind,
		ID:     entity.ID,
		Name:   entity.Name,
		Status: entity.Status,
	}
	if entity.SKU != "" {
		sku := entity.SKU
		snap.SKU = &sku
	}
	if entity.Price != "" {
		price, err := decimal.NewFromString(entity.Price)
		if err != nil {
			return nil, apperror.NewValidation("storefront returned malformed price").
				WithDetail("price", entity.Price).
				WithCause(err)
		}
		snap.Price = &price
	}
	if entity.Parent != 0 {
		parent := entity.Parent
		snap.ParentID = &parent
	}

	var err error
	if snap.CreatedTime, err = parseStoreTime(entity.DateCreatedGMT); err != nil {
		return nil, err
	}
	if snap.UpdatedTime, err = parseStoreTime(entity.DateModifiedGMT); err != nil {
		return nil, err
	}
	if snap.UpdatedTime.IsZero() {
		snap.UpdatedTime = snap.CreatedTime
	}
	return snap, nil
}

// parseStoreTime parses the storefront's GMT timestamps, which omit the
// timezone suffix.
func parseStoreTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02T15:04:05", s)
	if err != nil {
		return time.Time{}, apperror.NewValidation("storefront returned malformed timestamp").
			WithDetail("value", s).
			WithCause(err)
	}
	return t.UTC(), nil
}
