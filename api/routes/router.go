package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/resale-ledger/api/controllers"
	"github.com/angelmondragon/resale-ledger/api/middleware"
	"github.com/angelmondragon/resale-ledger/internal/checkout"
	"github.com/angelmondragon/resale-ledger/internal/ledger"
	"github.com/angelmondragon/resale-ledger/pkg/config"
	"github.com/angelmondragon/resale-ledger/pkg/db"
	"github.com/angelmondragon/resale-ledger/pkg/logger"
	"github.com/angelmondragon/resale-ledger/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	gatherer prometheus.Gatherer,
	ledgerService ledger.Service,
	checkoutService checkout.Service,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)
	if len(cfg.App.CORSOrigins) > 0 {
		r.Use(middleware.CORS(cfg.App.CORSOrigins))
	}

	// A nil *redis.Client must not reach the middleware as a non-nil interface.
	var idempotencyStore redis.IdempotencyStore
	readiness := map[string]redis.Pinger{"db": dbP}
	if redisClient != nil {
		readiness["redis"] = redisClient
		if cfg.FeatureFlags.Idempotency {
			idempotencyStore = redisClient
		}
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, readiness))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		if idempotencyStore != nil {
			r.Use(middleware.Idempotency(idempotencyStore, logg))
		}

		r.Route("/inventory", func(r chi.Router) {
			r.Post("/purchases", controllers.RecordPurchase(ledgerService, logg))
			r.Route("/{inventoryId}", func(r chi.Router) {
				r.Get("/", controllers.GetInventory(ledgerService, logg))
				r.Post("/sales", controllers.RecordSale(ledgerService, logg))
				r.Get("/ledger", controllers.ListLedgerEntries(ledgerService, logg))
				r.Get("/history", controllers.ListInventoryHistory(ledgerService, logg))
				r.Post("/reconcile", controllers.ReconcileInventory(ledgerService, logg))
				r.Get("/check", controllers.CheckInventory(ledgerService, logg))
				r.Put("/market-price", controllers.SetMarketPrice(ledgerService, logg))
			})
		})

		r.Route("/ledger/{entryId}", func(r chi.Router) {
			r.Patch("/", controllers.EditLedgerEntry(ledgerService, logg))
			r.Delete("/", controllers.DeleteLedgerEntry(ledgerService, logg))
		})

		r.Route("/checkout", func(r chi.Router) {
			r.Route("/folders", func(r chi.Router) {
				r.Post("/", controllers.CreateCheckoutFolder(checkoutService, logg))
				r.Get("/", controllers.ListCheckoutFolders(checkoutService, logg))
				r.Route("/{folderId}", func(r chi.Router) {
					r.Get("/", controllers.GetCheckoutFolder(checkoutService, logg))
					r.Post("/close", controllers.CloseCheckoutFolder(checkoutService, logg))
					r.Post("/reopen", controllers.ReopenCheckoutFolder(checkoutService, logg))
					r.Post("/items", controllers.WithdrawToFolder(checkoutService, logg))
				})
			})
			r.Route("/items/{itemId}", func(r chi.Router) {
				r.Get("/", controllers.GetCheckoutItem(checkoutService, logg))
				r.Post("/return", controllers.ReturnCheckoutItem(checkoutService, logg))
				r.Post("/sell", controllers.SellCheckoutItem(checkoutService, logg))
				r.Post("/convert", controllers.ConvertCheckoutItem(checkoutService, logg))
				r.Post("/undo", controllers.UndoCheckoutItem(checkoutService, logg))
			})
		})
	})

	return r
}
