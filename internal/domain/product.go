package domain

import (
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// PipelineStatus represents the conveyor state of a product.
// Values include PipelineStatusIdle, PipelineStatusProcessing, PipelineStatusDone and PipelineStatusError.
type PipelineStatus string

const (
	PipelineStatusIdle       PipelineStatus = "idle"
	PipelineStatusProcessing PipelineStatus = "processing"
	PipelineStatusDone       PipelineStatus = "done"
	PipelineStatusError      PipelineStatus = "error"
)

// AllPipelineStatuses lists every status in display order.
var AllPipelineStatuses = []PipelineStatus{
	PipelineStatusIdle,
	PipelineStatusProcessing,
	PipelineStatusDone,
	PipelineStatusError,
}

// IsValid reports whether s is a known status.
func (s PipelineStatus) IsValid() bool {
	switch s {
	case PipelineStatusIdle, PipelineStatusProcessing, PipelineStatusDone, PipelineStatusError:
		return true
	}
	return false
}

// Stage identifies one of the three ordered integration steps.
type Stage string

const (
	StageInventory Stage = "inventory"
	StageStock     Stage = "stock"
	StageListing   Stage = "listing"
)

// Stages is the fixed execution order.
var Stages = []Stage{StageInventory, StageStock, StageListing}

// MaxPipelineLogLength bounds the stored diagnostic message, in runes.
const MaxPipelineLogLength = 500

// ErrInvariantViolation is returned when a product state breaks the done/flags or error/log rules.
var ErrInvariantViolation = errors.New("product state invariant violated")

// Product is one discovered marketplace product moving through the conveyor.
type Product struct {
	ID               string          `gorm:"type:text;primaryKey" json:"id"`
	Name             string          `gorm:"type:text;not null" json:"name"`
	Price            decimal.Decimal `gorm:"type:numeric(14,2)" json:"price"`
	ImageURL         string          `gorm:"type:text" json:"image_url"`
	InventoryCreated bool            `gorm:"not null;default:false" json:"inventory_created"`
	StockAdded       bool            `gorm:"not null;default:false" json:"stock_added"`
	ListingCreated   bool            `gorm:"not null;default:false" json:"listing_created"`
	PipelineStatus   PipelineStatus  `gorm:"type:text;not null;index:idx_products_status;default:idle" json:"pipeline_status"`
	PipelineLog      *string         `gorm:"type:text" json:"pipeline_log"`
	CreatedAt        time.Time       `gorm:"index:idx_products_created" json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// TableName returns the database table name for Product.
func (Product) TableName() string {
	return "products"
}

// NewProduct builds a freshly discovered product in the idle state.
func NewProduct(id, name string, price decimal.Decimal, imageURL string) *Product {
	return &Product{
		ID:             id,
		Name:           name,
		Price:          price,
		ImageURL:       imageURL,
		PipelineStatus: PipelineStatusIdle,
	}
}

// StageDone reports whether the given stage has already completed.
func (p *Product) StageDone(stage Stage) bool {
	switch stage {
	case StageInventory:
		return p.InventoryCreated
	case StageStock:
		return p.StockAdded
	case StageListing:
		return p.ListingCreated
	}
	return false
}

// AllStagesDone reports whether every stage flag is set.
func (p *Product) AllStagesDone() bool {
	return p.InventoryCreated && p.StockAdded && p.ListingCreated
}

// MarkProcessing moves the product into processing and clears the last diagnostic.
func (p *Product) MarkProcessing() {
	p.PipelineStatus = PipelineStatusProcessing
	p.PipelineLog = nil
}

// CompleteStage sets the flag of a finished stage. Flags are never cleared.
func (p *Product) CompleteStage(stage Stage) {
	switch stage {
	case StageInventory:
		p.InventoryCreated = true
	case StageStock:
		p.StockAdded = true
	case StageListing:
		p.ListingCreated = true
	}
}

// Fail moves the product into error with a truncated reason.
func (p *Product) Fail(reason string) {
	if reason == "" {
		reason = "unknown error"
	}
	msg := TruncateLog(reason)
	p.PipelineStatus = PipelineStatusError
	p.PipelineLog = &msg
}

// Finish marks a fully completed product as done.
func (p *Product) Finish() {
	p.PipelineStatus = PipelineStatusDone
	p.PipelineLog = nil
}

// LogText returns the diagnostic message or an empty string.
func (p *Product) LogText() string {
	if p.PipelineLog == nil {
		return ""
	}
	return *p.PipelineLog
}

// Validate checks the status invariants that must hold on every write.
func (p *Product) Validate() error {
	if !p.PipelineStatus.IsValid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvariantViolation, p.PipelineStatus)
	}
	done := p.PipelineStatus == PipelineStatusDone
	if done != p.AllStagesDone() && p.PipelineStatus != PipelineStatusProcessing {
		return fmt.Errorf("%w: status %s with flags inventory=%t stock=%t listing=%t",
			ErrInvariantViolation, p.PipelineStatus, p.InventoryCreated, p.StockAdded, p.ListingCreated)
	}
	if p.PipelineStatus == PipelineStatusError && p.LogText() == "" {
		return fmt.Errorf("%w: error status without diagnostic", ErrInvariantViolation)
	}
	return nil
}

// TruncateLog shortens msg to MaxPipelineLogLength runes.
func TruncateLog(msg string) string {
	if utf8.RuneCountInString(msg) <= MaxPipelineLogLength {
		return msg
	}
	runes := []rune(msg)
	return string(runes[:MaxPipelineLogLength-3]) + "..."
}
