package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"storesync/internal/core/apperror"
	"storesync/internal/domain/catalog"
	domaingw "storesync/internal/domain/gateway"
	"storesync/internal/domain/instance"
)

// ERPClient implements gateway.ERP against the ERP connector's REST API.
// Unlike the storefront, the ERP is a single deployment shared by all
// instances, so its endpoint and credentials come from service config.
type ERPClient struct {
	client  *resty.Client
	baseURL string
}

var _ domaingw.ERP = (*ERPClient)(nil)

// ERPConfig holds the connector endpoint settings.
type ERPConfig struct {
	BaseURL  string
	APIKey   string
	Database string
	Timeout  time.Duration
}

// NewERPClient creates an ERP connector client.
func NewERPClient(cfg ERPConfig) *ERPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second).
		SetHeader("Accept", "application/json").
		SetHeader("X-Api-Key", cfg.APIKey)
	if cfg.Database != "" {
		client.SetHeader("X-Database", cfg.Database)
	}
	return &ERPClient{
		client:  client,
		baseURL: cfg.BaseURL,
	}
}

// erpEntity is the connector's wire representation of a catalog entity.
type erpEntity struct {
	ID            int64    `json:"id"`
	Name          string   `json:"name"`
	SKU           *string  `json:"default_code,omitempty"`
	ListPrice     *float64 `json:"list_price,omitempty"`
	StandardPrice *float64 `json:"standard_price,omitempty"`
	ParentID      *int64   `json:"parent_id,omitempty"`
	Active        bool     `json:"active"`
	Published     bool     `json:"is_published"`

	// WriteDate is the ERP write timestamp in RFC 3339.
	WriteDate string `json:"write_date"`
}

// applyRequest is the inbound-change payload sent to the connector.
type applyRequest struct {
	Kind     string  `json:"kind"`
	StoreID  int64   `json:"store_id"`
	Name     string  `json:"name"`
	SKU      *string `json:"default_code,omitempty"`
	Price    *string `json:"price,omitempty"`
	ParentID *int64  `json:"parent_id,omitempty"`
	Active   bool    `json:"active"`
}

func (c *ERPClient) url(kind catalog.Kind, suffix string) string {
	u := fmt.Sprintf("%s/api/v1/catalog/%s", c.baseURL, kind)
	if suffix != "" {
		u += "/" + suffix
	}
	return u
}

// translateERPResponse maps failed responses to AppErrors.
func translateERPResponse(resp *resty.Response, err error, what string) error {
	if err != nil {
		return apperror.NewTransport("erp", err).
			WithDetail("operation", what)
	}
	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return apperror.NewNotFound(what, resp.Request.URL)
	case resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusForbidden:
		return apperror.NewUnauthorized("erp rejected credentials").
			WithDetail("operation", what).
			WithDetail("status", resp.StatusCode())
	case resp.IsError():
		return apperror.NewTransport("erp",
			fmt.Errorf("%s: status %d: %s", what, resp.StatusCode(), resp.String())).
			WithDetail("status", resp.StatusCode())
	}
	return nil
}

// FetchSnapshot retrieves the current ERP state of one entity.
func (c *ERPClient) FetchSnapshot(ctx context.Context, inst *instance.Instance, kind catalog.Kind, erpID int64) (*catalog.ErpSnapshot, error) {
	var entity erpEntity
	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(&entity).
		Get(c.url(kind, strconv.FormatInt(erpID, 10)))
	if terr := translateERPResponse(resp, err, string(kind)); terr != nil {
		return nil, terr
	}
	return toErpSnapshot(kind, &entity)
}

// ListChangedSince retrieves entities changed after since.
func (c *ERPClient) ListChangedSince(ctx context.Context, inst *instance.Instance, kind catalog.Kind, since time.Time, limit int) ([]*catalog.ErpSnapshot, error) {
	req := c.client.R().SetContext(ctx)
	if !since.IsZero() {
		req.SetQueryParam("changed_since", since.UTC().Format(time.RFC3339))
	}
	if limit > 0 {
		req.SetQueryParam("limit", strconv.Itoa(limit))
	}

	var entities []erpEntity
	resp, err := req.
		SetResult(&entities).
		Get(c.url(kind, ""))
	if terr := translateERPResponse(resp, err, string(kind)); terr != nil {
		return nil, terr
	}

	snaps := make([]*catalog.ErpSnapshot, 0, len(entities))
	for i := range entities {
		snap, err := toErpSnapshot(kind, &entities[i])
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

// Apply writes a storefront-originated change into the ERP.
func (c *ERPClient) Apply(ctx context.Context, inst *instance.Instance, snap *catalog.StoreSnapshot) (*catalog.ErpSnapshot, error) {
	body := applyRequest{
		Kind:     string(snap.Kind),
		StoreID:  snap.ID,
		Name:     snap.Name,
		SKU:      snap.SKU,
		ParentID: snap.ParentID,
		Active:   snap.Published(),
	}
	if snap.Price != nil {
		price := snap.Price.String()
		body.Price = &price
	}

	var entity erpEntity
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&entity).
		Post(c.url(snap.Kind, "apply"))
	if terr := translateERPResponse(resp, err, string(snap.Kind)); terr != nil {
		return nil, terr
	}
	return toErpSnapshot(snap.Kind, &entity)
}

// toErpSnapshot parses the connector response.
func toErpSnapshot(kind catalog.Kind, entity *erpEntity) (*catalog.ErpSnapshot, error) {
	writeTime, err := time.Parse(time.RFC3339, entity.WriteDate)
	if err != nil {
		return nil, apperror.NewValidation("erp returned malformed write date").
			WithDetail("value", entity.WriteDate).
			WithCause(err)
	}

	snap := &catalog.ErpSnapshot{
		Kind:      kind,
		ID:        entity.ID,
		Name:      entity.Name,
		SKU:       entity.SKU,
		ParentID:  entity.ParentID,
		Active:    entity.Active,
		Published: entity.Published,
		WriteTime: writeTime.UTC(),
	}
	if entity.ListPrice != nil {
		price := decimal.NewFromFloat(*entity.ListPrice)
		snap.ListPrice = &price
	}
	if entity.StandardPrice != nil {
		price := decimal.NewFromFloat(*entity.StandardPrice)
		snap.StandardPrice = &price
	}
	return snap, nil
}
