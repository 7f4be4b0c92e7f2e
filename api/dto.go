/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Ledger types that
  already carry their wire form (Product, Movement, SaleOrder, Summary,
  Row) are returned as-is; the types here cover requests and the few
  responses that combine several values.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Request bodies carry go-playground/validator tags and are checked in
  decodeAndValidate. Draft content is NOT validated here: a draft with a
  bad date or an unknown product is still queued, and its problems show up
  as issues in the validation report.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/json.go: DraftJSON wire form
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/stockflux/draft"
	"github.com/warp/stockflux/factory"
	"github.com/warp/stockflux/ledger"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// ProductRequest creates or updates a product. On update the path id wins.
type ProductRequest struct {
	ID                 string           `json:"id" validate:"required,max=64"`
	Name               string           `json:"name" validate:"required,max=200"`
	UnitsPerLotDefault *decimal.Decimal `json:"unitsPerLotDefault"`
	Descriptions       []string         `json:"descriptions" validate:"omitempty,dive,max=500"`
}

func (r ProductRequest) toProduct() ledger.Product {
	return ledger.Product{
		ID:                 ledger.ProductID(r.ID),
		Name:               r.Name,
		UnitsPerLotDefault: r.UnitsPerLotDefault,
		Descriptions:       r.Descriptions,
	}
}

// CancelRequest is the optional body of a cancellation.
type CancelRequest struct {
	Note string `json:"note" validate:"max=500"`
}

// DraftRequest queues or replaces one draft.
type DraftRequest struct {
	Draft factory.DraftJSON `json:"draft"`
}

// LoadScenarioRequest selects a demo data set.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenarioId" validate:"required"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// ErrorResponse is the body of every error. Details is a string, a field
// map from validation or a draft report.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// ValuationDTO is a product's position on a given day. AverageCost and
// StockValue are null when the product has no priced history.
type ValuationDTO struct {
	ProductID   ledger.ProductID `json:"productId"`
	AsOf        ledger.Date      `json:"asOf"`
	StockLevel  decimal.Decimal  `json:"stockLevel"`
	AverageCost *decimal.Decimal `json:"averageCost"`
	StockValue  *decimal.Decimal `json:"stockValue"`
}

// DraftItemDTO is one queued draft with its last report.
type DraftItemDTO struct {
	ID      string            `json:"id"`
	Status  draft.Status      `json:"status"`
	Draft   factory.DraftJSON `json:"draft"`
	Report  draft.Report      `json:"report"`
	AddedAt string            `json:"addedAt"`
}

func toDraftItemDTO(it draft.Item) DraftItemDTO {
	report := it.Report
	if report.Issues == nil {
		report.Issues = []draft.Issue{}
	}
	return DraftItemDTO{
		ID:      it.ID,
		Status:  it.Status,
		Draft:   factory.ToJSON(it.Draft),
		Report:  report,
		AddedAt: it.AddedAt.Format(time.RFC3339),
	}
}

func toDraftItemDTOs(items []draft.Item) []DraftItemDTO {
	dtos := make([]DraftItemDTO, len(items))
	for i, it := range items {
		dtos[i] = toDraftItemDTO(it)
	}
	return dtos
}

// DraftQueueDTO is the queue plus the batch report.
type DraftQueueDTO struct {
	Items  []DraftItemDTO `json:"items"`
	Report *draft.Report  `json:"report,omitempty"`
}

// InjectDTO is the result of a successful injection.
type InjectDTO struct {
	Movements []ledger.Movement  `json:"movements"`
	Sales     []ledger.SaleOrder `json:"sales"`
	Warnings  []draft.Issue      `json:"warnings"`
}

// ScenarioDTO describes a demo data set.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}
