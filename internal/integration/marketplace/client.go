// Package marketplace publishes product cards on the sales marketplace.
package marketplace

import (
	"context"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/timmy/conveyor/internal/config"
	"github.com/timmy/conveyor/internal/domain"
	"github.com/timmy/conveyor/internal/integration"
	"github.com/timmy/conveyor/internal/logger"
	"github.com/timmy/conveyor/internal/storage"
)

// Client implements integration.ListingCreator and integration.Prober.
type Client struct {
	http      *resty.Client
	subjectID int
	mirror    *ImageMirror // nil when images are linked as-is
}

type card struct {
	VendorCode string   `json:"vendorCode"`
	Title      string   `json:"title"`
	SubjectID  int      `json:"subjectID,omitempty"`
	Price      int64    `json:"price"` // minor units
	MediaURLs  []string `json:"mediaUrls,omitempty"`
}

type cardList struct {
	Cards []card `json:"cards"`
}

// NewClient creates a marketplace client. store is only used when cfg.MirrorImages is set.
func NewClient(cfg *config.MarketplaceConfig, store storage.ObjectStorage) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")).
		SetHeader("Authorization", cfg.Token).
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout)

	c := &Client{
		http:      client,
		subjectID: cfg.SubjectID,
	}
	if cfg.MirrorImages && store != nil {
		c.mirror = NewImageMirror(store, cfg.MinImageSide, timeout)
	}
	return c
}

// CreateListing publishes a card for p unless one with the same vendor code already exists.
func (c *Client) CreateListing(ctx context.Context, p *domain.Product) error {
	exists, err := c.cardExists(ctx, p.ID)
	if err != nil {
		return err
	}
	if exists {
		logger.CtxDebug(ctx, "Marketplace card %s already exists", p.ID)
		return nil
	}

	media, err := c.mediaURLs(ctx, p)
	if err != nil {
		return err
	}

	body := []card{{
		VendorCode: p.ID,
		Title:      p.Name,
		SubjectID:  c.subjectID,
		Price:      p.Price.Shift(2).Round(0).IntPart(),
		MediaURLs:  media,
	}}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		Post("/content/v2/cards/upload")
	return integration.Classify("listing create", err, statusOf(resp), bodyOf(resp))
}

// Ping checks connectivity and credentials.
func (c *Client) Ping(ctx context.Context) (int, error) {
	resp, err := c.http.R().SetContext(ctx).Get("/ping")
	if err != nil {
		return 0, err
	}
	return resp.StatusCode(), nil
}

func (c *Client) cardExists(ctx context.Context, vendorCode string) (bool, error) {
	var list cardList
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("vendorCode", vendorCode).
		SetResult(&list).
		Get("/content/v2/cards")
	if cerr := integration.Classify("listing lookup", err, statusOf(resp), bodyOf(resp)); cerr != nil {
		return false, cerr
	}
	for _, existing := range list.Cards {
		if existing.VendorCode == vendorCode {
			return true, nil
		}
	}
	return false, nil
}

func (c *Client) mediaURLs(ctx context.Context, p *domain.Product) ([]string, error) {
	if p.ImageURL == "" {
		return nil, nil
	}
	if c.mirror == nil {
		return []string{p.ImageURL}, nil
	}
	url, err := c.mirror.Mirror(ctx, p.ID, p.ImageURL)
	if err != nil {
		return nil, err
	}
	return []string{url}, nil
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
