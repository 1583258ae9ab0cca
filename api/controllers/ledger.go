package controllers

import (
	"net/http"

	"github.com/angelmondragon/resale-ledger/api/responses"
	"github.com/angelmondragon/resale-ledger/api/validators"
	"github.com/angelmondragon/resale-ledger/internal/ledger"
	"github.com/angelmondragon/resale-ledger/pkg/logger"
)

type editEntryRequest struct {
	Quantity        *int    `json:"quantity,omitempty" validate:"omitempty,gt=0"`
	UnitPriceCents  *int64  `json:"unit_price_cents,omitempty" validate:"omitempty,gte=0"`
	ExpensesCents   *int64  `json:"expenses_cents,omitempty" validate:"omitempty,gte=0"`
	TransactionDate *string `json:"transaction_date,omitempty"`
	Notes           *string `json:"notes,omitempty"`
}

func (p editEntryRequest) toInput() (ledger.EditInput, error) {
	input := ledger.EditInput{
		Quantity:       p.Quantity,
		UnitPriceCents: p.UnitPriceCents,
		ExpensesCents:  p.ExpensesCents,
		Notes:          p.Notes,
	}
	if p.TransactionDate != nil {
		at, err := validators.ParseOptionalTime(p.TransactionDate, "transaction_date")
		if err != nil {
			return ledger.EditInput{}, err
		}
		if !at.IsZero() {
			input.TransactionDate = &at
		}
	}
	return input, nil
}

// EditLedgerEntry rewrites an entry and answers with the replayed inventory.
func EditLedgerEntry(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParseUUIDParam(r, "entryId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload editEntryRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input, err := payload.toInput()
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		inv, err := svc.EditLedgerEntry(r.Context(), id, input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newInventoryDTO(inv, nil))
	}
}

func DeleteLedgerEntry(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParseUUIDParam(r, "entryId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		inv, err := svc.DeleteLedgerEntry(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newInventoryDTO(inv, nil))
	}
}

