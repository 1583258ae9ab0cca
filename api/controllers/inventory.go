package controllers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/resale-ledger/api/responses"
	"github.com/angelmondragon/resale-ledger/api/validators"
	"github.com/angelmondragon/resale-ledger/internal/ledger"
	"github.com/angelmondragon/resale-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/resale-ledger/pkg/errors"
	"github.com/angelmondragon/resale-ledger/pkg/logger"
	"github.com/angelmondragon/resale-ledger/pkg/pagination"
)

const maxNotesLen = 1000

type purchaseRequest struct {
	ItemID          string              `json:"item_id" validate:"required,uuid"`
	Condition       string              `json:"condition" validate:"required,condition"`
	Quantity        int                 `json:"quantity" validate:"gt=0"`
	UnitPriceCents  int64               `json:"unit_price_cents" validate:"gte=0"`
	ExpensesCents   int64               `json:"expenses_cents" validate:"gte=0"`
	TransactionDate *string             `json:"transaction_date,omitempty"`
	Lot             *purchaseLotRequest `json:"lot,omitempty"`
	Notes           *string             `json:"notes,omitempty"`
}

type purchaseLotRequest struct {
	Label            string `json:"label"`
	UnitExpenseCents *int64 `json:"unit_expense_cents,omitempty" validate:"omitempty,gte=0"`
}

func (p purchaseRequest) toInput() (ledger.PurchaseInput, error) {
	at, err := validators.ParseOptionalTime(p.TransactionDate, "transaction_date")
	if err != nil {
		return ledger.PurchaseInput{}, err
	}
	input := ledger.PurchaseInput{
		ItemID:          uuid.MustParse(p.ItemID),
		Condition:       strings.TrimSpace(p.Condition),
		Quantity:        p.Quantity,
		UnitPriceCents:  p.UnitPriceCents,
		ExpensesCents:   p.ExpensesCents,
		TransactionDate: at,
		Notes:           validators.SanitizeOptional(p.Notes, maxNotesLen),
	}
	if p.Lot != nil {
		input.Lot = &ledger.LotDetails{
			Label:            validators.SanitizeString(p.Lot.Label, 200),
			UnitExpenseCents: p.Lot.UnitExpenseCents,
		}
	}
	return input, nil
}

type saleRequest struct {
	Quantity        int     `json:"quantity" validate:"gt=0"`
	UnitPriceCents  *int64  `json:"unit_price_cents" validate:"required,gte=0"`
	LotID           *string `json:"lot_id,omitempty" validate:"omitempty,uuid"`
	TransactionDate *string `json:"transaction_date,omitempty"`
	Notes           *string `json:"notes,omitempty"`
}

type marketPriceRequest struct {
	MarketPriceCents *int64 `json:"market_price_cents" validate:"omitempty,gte=0"`
}

// RecordPurchase books a purchase, creating the inventory on first sight.
func RecordPurchase(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger service unavailable"))
			return
		}
		var payload purchaseRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input, err := payload.toInput()
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.RecordPurchase(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteCreated(w, newLedgerResultDTO(result))
	}
}

func RecordSale(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger service unavailable"))
			return
		}
		id, err := validators.ParseUUIDParam(r, "inventoryId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload saleRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		at, err := validators.ParseOptionalTime(payload.TransactionDate, "transaction_date")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input := ledger.SaleInput{
			InventoryID:     id,
			Quantity:        payload.Quantity,
			UnitPriceCents:  *payload.UnitPriceCents,
			TransactionDate: at,
			Notes:           validators.SanitizeOptional(payload.Notes, maxNotesLen),
		}
		if payload.LotID != nil {
			lotID := uuid.MustParse(*payload.LotID)
			input.LotID = &lotID
		}
		result, err := svc.RecordSale(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteCreated(w, newLedgerResultDTO(result))
	}
}

func GetInventory(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParseUUIDParam(r, "inventoryId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view, err := svc.GetInventory(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newInventoryDTO(view.Inventory, view.Lots))
	}
}

// ListLedgerEntries supports ?type=purchase|sale&limit=&offset=.
func ListLedgerEntries(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParseUUIDParam(r, "inventoryId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", 50, 1, 200)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		offset, err := validators.ParseQueryInt(r, "offset", 0, 0, 1_000_000)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		opts := ledger.ListOptions{Limit: limit, Offset: offset}
		if raw := strings.TrimSpace(r.URL.Query().Get("type")); raw != "" {
			entryType, err := enums.ParseLedgerEntryType(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Invalid("invalid ledger entry type", map[string]any{"type": raw}))
				return
			}
			opts.Type = entryType
		}
		entries, err := svc.ListEntries(r.Context(), id, opts)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := make([]ledgerEntryDTO, 0, len(entries))
		for i := range entries {
			out = append(out, newLedgerEntryDTO(&entries[i]))
		}
		responses.WriteList(w, out, pagination.Page{Limit: opts.Limit, Offset: opts.Offset})
	}
}

func ListInventoryHistory(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParseUUIDParam(r, "inventoryId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", 0, 0, 1000)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rows, err := svc.ListHistory(r.Context(), id, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := make([]historyDTO, 0, len(rows))
		for i := range rows {
			out = append(out, newHistoryDTO(&rows[i]))
		}
		responses.WriteList(w, out, pagination.Page{Limit: limit})
	}
}

// ReconcileInventory replays the ledger and overwrites the stored figures.
func ReconcileInventory(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParseUUIDParam(r, "inventoryId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.Reconcile(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"before":         newInventoryDTO(&result.Before, nil),
			"after":          newInventoryDTO(result.After, result.Lots),
			"restated_sales": result.RestatedSales,
		})
	}
}

// CheckInventory reports drift between stored and replayed figures without
// writing anything.
func CheckInventory(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParseUUIDParam(r, "inventoryId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		report, err := svc.Check(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, report)
	}
}

func SetMarketPrice(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParseUUIDParam(r, "inventoryId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload marketPriceRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		inv, err := svc.SetMarketPrice(r.Context(), id, payload.MarketPriceCents)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newInventoryDTO(inv, nil))
	}
}
