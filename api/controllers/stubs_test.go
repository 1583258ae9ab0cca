package controllers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/resale-ledger/internal/checkout"
	"github.com/angelmondragon/resale-ledger/internal/ledger"
	"github.com/angelmondragon/resale-ledger/internal/reconcile"
	"github.com/angelmondragon/resale-ledger/pkg/db/models"
	"github.com/angelmondragon/resale-ledger/pkg/enums"
	"github.com/angelmondragon/resale-ledger/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Level: logger.ParseLevel("debug"), Output: io.Discard})
}

func newRequest(method, target, body string, params map[string]string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

type stubLedger struct {
	purchaseInput ledger.PurchaseInput
	saleInput     ledger.SaleInput
	editInput     ledger.EditInput
	listOpts      ledger.ListOptions
	result        *ledger.Result
	inventory     *models.Inventory
	err           error
}

func (s *stubLedger) RecordPurchase(_ context.Context, input ledger.PurchaseInput) (*ledger.Result, error) {
	s.purchaseInput = input
	return s.result, s.err
}

func (s *stubLedger) RecordPurchaseTx(_ context.Context, _ *gorm.DB, input ledger.PurchaseInput, _ enums.CostingPolicy) (*ledger.Result, error) {
	s.purchaseInput = input
	return s.result, s.err
}

func (s *stubLedger) RecordSale(_ context.Context, input ledger.SaleInput) (*ledger.Result, error) {
	s.saleInput = input
	return s.result, s.err
}

func (s *stubLedger) EditLedgerEntry(_ context.Context, _ uuid.UUID, input ledger.EditInput) (*models.Inventory, error) {
	s.editInput = input
	return s.inventory, s.err
}

func (s *stubLedger) DeleteLedgerEntry(context.Context, uuid.UUID) (*models.Inventory, error) {
	return s.inventory, s.err
}

func (s *stubLedger) ListEntries(_ context.Context, _ uuid.UUID, opts ledger.ListOptions) ([]models.LedgerEntry, error) {
	s.listOpts = opts
	if s.result != nil && s.result.Entry != nil {
		return []models.LedgerEntry{*s.result.Entry}, s.err
	}
	return nil, s.err
}

func (s *stubLedger) GetInventory(context.Context, uuid.UUID) (*ledger.InventoryView, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &ledger.InventoryView{Inventory: s.inventory}, nil
}

func (s *stubLedger) SetMarketPrice(_ context.Context, _ uuid.UUID, price *int64) (*models.Inventory, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.inventory.MarketPriceCents = price
	return s.inventory, nil
}

func (s *stubLedger) Reconcile(context.Context, uuid.UUID) (*reconcile.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &reconcile.Result{Before: *s.inventory, After: s.inventory}, nil
}

func (s *stubLedger) Check(_ context.Context, id uuid.UUID) (*reconcile.Report, error) {
	return &reconcile.Report{InventoryID: id, InSync: true}, s.err
}

func (s *stubLedger) ListHistory(context.Context, uuid.UUID, int) ([]models.HistoryEntry, error) {
	return nil, s.err
}

type stubCheckout struct {
	withdrawInput checkout.WithdrawInput
	sellInput     checkout.SellInput
	returnQty     *int
	filter        checkout.FolderFilter
	folder        *models.CheckoutFolder
	item          *models.CheckoutItem
	entry         *models.LedgerEntry
	err           error
}

func (s *stubCheckout) CreateFolder(context.Context, checkout.CreateFolderInput) (*models.CheckoutFolder, error) {
	return s.folder, s.err
}

func (s *stubCheckout) GetFolder(context.Context, uuid.UUID) (*models.CheckoutFolder, error) {
	return s.folder, s.err
}

func (s *stubCheckout) ListFolders(_ context.Context, filter checkout.FolderFilter) ([]models.CheckoutFolder, error) {
	s.filter = filter
	return nil, s.err
}

func (s *stubCheckout) CloseFolder(context.Context, uuid.UUID) (*models.CheckoutFolder, error) {
	return s.folder, s.err
}

func (s *stubCheckout) ReopenFolder(context.Context, uuid.UUID) (*models.CheckoutFolder, error) {
	return s.folder, s.err
}

func (s *stubCheckout) GetItem(context.Context, uuid.UUID) (*models.CheckoutItem, error) {
	return s.item, s.err
}

func (s *stubCheckout) WithdrawToFolder(_ context.Context, input checkout.WithdrawInput) (*models.CheckoutItem, error) {
	s.withdrawInput = input
	return s.item, s.err
}

func (s *stubCheckout) ReturnCheckoutItem(_ context.Context, _ uuid.UUID, qty *int, _ *string) (*models.CheckoutItem, error) {
	s.returnQty = qty
	return s.item, s.err
}

func (s *stubCheckout) SellCheckoutItem(_ context.Context, _ uuid.UUID, input checkout.SellInput) (*models.LedgerEntry, error) {
	s.sellInput = input
	return s.entry, s.err
}

func (s *stubCheckout) ConvertCheckoutItem(context.Context, uuid.UUID, checkout.ConvertInput) (*models.CheckoutItem, error) {
	return s.item, s.err
}

func (s *stubCheckout) UndoCheckoutItem(context.Context, uuid.UUID) (*models.CheckoutItem, error) {
	return s.item, s.err
}
