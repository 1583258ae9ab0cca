package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/resale-ledger/api/responses"
	"github.com/angelmondragon/resale-ledger/api/validators"
	"github.com/angelmondragon/resale-ledger/internal/checkout"
	"github.com/angelmondragon/resale-ledger/pkg/db/models"
	"github.com/angelmondragon/resale-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/resale-ledger/pkg/errors"
	"github.com/angelmondragon/resale-ledger/pkg/logger"
	"github.com/angelmondragon/resale-ledger/pkg/pagination"
)

type createFolderRequest struct {
	Name  string  `json:"name" validate:"required,max=200"`
	Notes *string `json:"notes,omitempty"`
}

type withdrawRequest struct {
	InventoryID string  `json:"inventory_id" validate:"required,uuid"`
	Quantity    int     `json:"quantity" validate:"gt=0"`
	LotID       *string `json:"lot_id,omitempty" validate:"omitempty,uuid"`
	Notes       *string `json:"notes,omitempty"`
}

type returnRequest struct {
	Quantity *int    `json:"quantity,omitempty" validate:"omitempty,gt=0"`
	Notes    *string `json:"notes,omitempty"`
}

type sellRequest struct {
	Quantity       *int    `json:"quantity,omitempty" validate:"omitempty,gt=0"`
	SalePriceCents *int64  `json:"sale_price_cents" validate:"required,gte=0"`
	SoldAt         *string `json:"sold_at,omitempty"`
	Notes          *string `json:"notes,omitempty"`
}

type convertRequest struct {
	Quantity        *int    `json:"quantity,omitempty" validate:"omitempty,gt=0"`
	TargetCondition string  `json:"target_condition" validate:"required,condition"`
	Notes           *string `json:"notes,omitempty"`
}

func CreateCheckoutFolder(svc checkout.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}
		var payload createFolderRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		folder, err := svc.CreateFolder(r.Context(), checkout.CreateFolderInput{
			Name:  validators.SanitizeString(payload.Name, 200),
			Notes: validators.SanitizeOptional(payload.Notes, maxNotesLen),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteCreated(w, newFolderDTO(folder))
	}
}

// ListCheckoutFolders supports ?status=open|closed&limit=&offset=.
func ListCheckoutFolders(svc checkout.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
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
		filter := checkout.FolderFilter{Limit: limit, Offset: offset}
		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			status, err := enums.ParseCheckoutFolderStatus(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Invalid("invalid folder status", map[string]any{"status": raw}))
				return
			}
			filter.Status = status
		}
		folders, err := svc.ListFolders(r.Context(), filter)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := make([]folderDTO, 0, len(folders))
		for i := range folders {
			out = append(out, newFolderDTO(&folders[i]))
		}
		responses.WriteList(w, out, pagination.Page{Limit: filter.Limit, Offset: filter.Offset})
	}
}

func GetCheckoutFolder(svc checkout.Service, logg *logger.Logger) http.HandlerFunc {
	return folderAction(svc, logg, func(ctx context.Context, id uuid.UUID) (*models.CheckoutFolder, error) {
		return svc.GetFolder(ctx, id)
	})
}

func CloseCheckoutFolder(svc checkout.Service, logg *logger.Logger) http.HandlerFunc {
	return folderAction(svc, logg, func(ctx context.Context, id uuid.UUID) (*models.CheckoutFolder, error) {
		return svc.CloseFolder(ctx, id)
	})
}

func ReopenCheckoutFolder(svc checkout.Service, logg *logger.Logger) http.HandlerFunc {
	return folderAction(svc, logg, func(ctx context.Context, id uuid.UUID) (*models.CheckoutFolder, error) {
		return svc.ReopenFolder(ctx, id)
	})
}

// WithdrawToFolder moves units from an inventory into the folder in the path.
func WithdrawToFolder(svc checkout.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		folderID, err := validators.ParseUUIDParam(r, "folderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload withdrawRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input := checkout.WithdrawInput{
			FolderID:    folderID,
			InventoryID: uuid.MustParse(payload.InventoryID),
			Quantity:    payload.Quantity,
			Notes:       validators.SanitizeOptional(payload.Notes, maxNotesLen),
		}
		if payload.LotID != nil {
			lotID := uuid.MustParse(*payload.LotID)
			input.LotID = &lotID
		}
		item, err := svc.WithdrawToFolder(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteCreated(w, newCheckoutItemDTO(item))
	}
}

func GetCheckoutItem(svc checkout.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParseUUIDParam(r, "itemId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		item, err := svc.GetItem(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newCheckoutItemDTO(item))
	}
}

func ReturnCheckoutItem(svc checkout.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParseUUIDParam(r, "itemId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload returnRequest
		if err := decodeOptionalBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		item, err := svc.ReturnCheckoutItem(r.Context(), id, payload.Quantity, validators.SanitizeOptional(payload.Notes, maxNotesLen))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newCheckoutItemDTO(item))
	}
}

// SellCheckoutItem books the sale and answers with the new ledger entry.
func SellCheckoutItem(svc checkout.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParseUUIDParam(r, "itemId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload sellRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		soldAt, err := validators.ParseOptionalTime(payload.SoldAt, "sold_at")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		entry, err := svc.SellCheckoutItem(r.Context(), id, checkout.SellInput{
			Quantity:       payload.Quantity,
			SalePriceCents: *payload.SalePriceCents,
			SoldAt:         soldAt,
			Notes:          validators.SanitizeOptional(payload.Notes, maxNotesLen),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteCreated(w, newLedgerEntryDTO(entry))
	}
}

func ConvertCheckoutItem(svc checkout.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParseUUIDParam(r, "itemId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload convertRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		item, err := svc.ConvertCheckoutItem(r.Context(), id, checkout.ConvertInput{
			Quantity:        payload.Quantity,
			TargetCondition: payload.TargetCondition,
			Notes:           validators.SanitizeOptional(payload.Notes, maxNotesLen),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newCheckoutItemDTO(item))
	}
}

func UndoCheckoutItem(svc checkout.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParseUUIDParam(r, "itemId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		item, err := svc.UndoCheckoutItem(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newCheckoutItemDTO(item))
	}
}

func folderAction(svc checkout.Service, logg *logger.Logger, fn func(context.Context, uuid.UUID) (*models.CheckoutFolder, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}
		id, err := validators.ParseUUIDParam(r, "folderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		folder, err := fn(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newFolderDTO(folder))
	}
}

// decodeOptionalBody accepts an empty body for actions whose fields all
// have defaults.
func decodeOptionalBody(r *http.Request, dest any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	return validators.DecodeJSONBody(r, dest)
}
