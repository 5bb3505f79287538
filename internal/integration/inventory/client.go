// Package inventory talks to the inventory system: it registers products and posts stock supplies.
package inventory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/timmy/conveyor/internal/config"
	"github.com/timmy/conveyor/internal/domain"
	"github.com/timmy/conveyor/internal/integration"
	"github.com/timmy/conveyor/internal/logger"
)

const defaultCacheSize = 1024

// Client implements integration.InventoryCreator, integration.StockSupplier and integration.Prober.
type Client struct {
	http           *resty.Client
	organizationID string
	agentID        string
	storeID        string

	// hrefs maps product external codes to their inventory href.
	hrefs *lru.Cache[string, string]
}

type meta struct {
	Href string `json:"href"`
	Type string `json:"type,omitempty"`
}

type ref struct {
	Meta meta `json:"meta"`
}

// supplyNamespace scopes the deterministic supply document codes.
var supplyNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("conveyor/inventory/supply"))

type productRow struct {
	ID           string `json:"id"`
	ExternalCode string `json:"externalCode"`
	Meta         meta   `json:"meta"`
}

type productList struct {
	Rows []productRow `json:"rows"`
}

type salePrice struct {
	Value int64 `json:"value"` // minor units
}

type createProductRequest struct {
	Name         string      `json:"name"`
	ExternalCode string      `json:"externalCode"`
	Article      string      `json:"article"`
	SalePrices   []salePrice `json:"salePrices"`
	Images       []string    `json:"imageUrls,omitempty"`
}

type supplyPosition struct {
	Quantity   int   `json:"quantity"`
	Price      int64 `json:"price"`
	Assortment ref   `json:"assortment"`
}

type createSupplyRequest struct {
	ExternalCode string           `json:"externalCode"`
	Organization ref              `json:"organization"`
	Agent        ref              `json:"agent"`
	Store        ref              `json:"store"`
	Positions    []supplyPosition `json:"positions"`
}

// NewClient creates an inventory client from configuration.
// Parameters:
//   - cfg: inventory section; base URL, token and document references.
//
// Returns:
//   - *Client: ready client.
//   - error: non-nil if the lookup cache cannot be created.
func NewClient(cfg *config.InventoryConfig) (*Client, error) {
	size := cfg.CacheSize
	if size <= 0 {
		size = defaultCacheSize
	}
	cache, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create inventory cache: %w", err)
	}

	client := resty.New().
		SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")).
		SetHeader("Authorization", "Bearer "+cfg.Token).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client.SetTimeout(timeout)

	return &Client{
		http:           client,
		organizationID: cfg.OrganizationID,
		agentID:        cfg.AgentID,
		storeID:        cfg.StoreID,
		hrefs:          cache,
	}, nil
}

// Create registers p in the inventory system keyed by its external code.
// A product that already exists there counts as created.
func (c *Client) Create(ctx context.Context, p *domain.Product) error {
	href, err := c.lookup(ctx, p.ID)
	if err != nil {
		return err
	}
	if href != "" {
		logger.CtxDebug(ctx, "Inventory product already exists: %s", href)
		return nil
	}

	req := createProductRequest{
		Name:         p.Name,
		ExternalCode: p.ID,
		Article:      p.ID,
		SalePrices:   []salePrice{{Value: minorUnits(p)}},
	}
	if p.ImageURL != "" {
		req.Images = []string{p.ImageURL}
	}

	var created productRow
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&created).
		Post("/entity/product")
	if cerr := integration.Classify("inventory create", err, statusOf(resp), bodyOf(resp)); cerr != nil {
		return cerr
	}
	if created.Meta.Href == "" {
		return integration.Rejectf("inventory create: response has no product href")
	}

	c.hrefs.Add(p.ID, created.Meta.Href)
	return nil
}

// Supply posts a supply document adding quantity units of p to the configured store.
// A document already posted for p counts as supplied.
func (c *Client) Supply(ctx context.Context, p *domain.Product, quantity int) error {
	if quantity <= 0 {
		return integration.Rejectf("stock supply: quantity must be positive, got %d", quantity)
	}
	href, err := c.lookup(ctx, p.ID)
	if err != nil {
		return err
	}
	if href == "" {
		return integration.Rejectf("stock supply: product %s is not registered in inventory", p.ID)
	}

	// One supply document per product: a retry finds the earlier one by its code.
	code := SupplyCode(p.ID)
	existing, err := c.find(ctx, "/entity/supply", "stock supply lookup", code)
	if err != nil {
		return err
	}
	if existing != "" {
		logger.CtxDebug(ctx, "Supply document already exists: %s", existing)
		return nil
	}

	req := createSupplyRequest{
		ExternalCode: code,
		Organization: c.entityRef("organization", c.organizationID),
		Agent:        c.entityRef("counterparty", c.agentID),
		Store:        c.entityRef("store", c.storeID),
		Positions: []supplyPosition{{
			Quantity:   quantity,
			Price:      minorUnits(p),
			Assortment: ref{Meta: meta{Href: href, Type: "product"}},
		}},
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		Post("/entity/supply")
	return integration.Classify("stock supply", err, statusOf(resp), bodyOf(resp))
}

// Ping checks connectivity and credentials with a one-row organization listing.
func (c *Client) Ping(ctx context.Context) (int, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("limit", "1").
		Get("/entity/organization")
	if err != nil {
		return 0, err
	}
	return resp.StatusCode(), nil
}

// lookup returns the href of the product with the given external code, or "" when absent.
func (c *Client) lookup(ctx context.Context, externalCode string) (string, error) {
	if href, ok := c.hrefs.Get(externalCode); ok {
		return href, nil
	}

	href, err := c.find(ctx, "/entity/product", "inventory lookup", externalCode)
	if err != nil || href == "" {
		return "", err
	}
	c.hrefs.Add(externalCode, href)
	return href, nil
}

// find returns the href of the first entity at path with the given external code, or "".
func (c *Client) find(ctx context.Context, path, op, externalCode string) (string, error) {
	var list productList
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("filter", "externalCode="+externalCode).
		SetQueryParam("limit", "1").
		SetResult(&list).
		Get(path)
	if cerr := integration.Classify(op, err, statusOf(resp), bodyOf(resp)); cerr != nil {
		return "", cerr
	}
	if len(list.Rows) == 0 {
		return "", nil
	}
	return list.Rows[0].Meta.Href, nil
}

// SupplyCode is the external code of the supply document posted for product id.
func SupplyCode(id string) string {
	return uuid.NewSHA1(supplyNamespace, []byte(id)).String()
}

func (c *Client) entityRef(entity, id string) ref {
	return ref{Meta: meta{
		Href: c.http.BaseURL + "/entity/" + entity + "/" + id,
		Type: entity,
	}}
}

func minorUnits(p *domain.Product) int64 {
	return p.Price.Shift(2).Round(0).IntPart()
}

func statusOf(resp *resty.Response) int {
	if resp == nil {
		return 0
	}
	return resp.StatusCode()
}

func bodyOf(resp *resty.Response) []byte {
	if resp == nil {
		return nil
	}
	return resp.Body()
}
