package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/Kodeloom/spacovers-admin/auth"
	"github.com/Kodeloom/spacovers-admin/internal/config"
	"github.com/Kodeloom/spacovers-admin/internal/handlers"
	"github.com/Kodeloom/spacovers-admin/internal/httpx"
	"github.com/Kodeloom/spacovers-admin/internal/isolation"
	"github.com/Kodeloom/spacovers-admin/internal/logging"
	"github.com/Kodeloom/spacovers-admin/internal/models"
	"github.com/Kodeloom/spacovers-admin/internal/orders"
	"github.com/Kodeloom/spacovers-admin/internal/policy"
	"github.com/Kodeloom/spacovers-admin/internal/policy/gate"
	"github.com/Kodeloom/spacovers-admin/internal/printqueue"
	"github.com/Kodeloom/spacovers-admin/internal/production"
	"github.com/Kodeloom/spacovers-admin/internal/quickbooks"
	"gorm.io/gorm"
)

// profileCacheTTL bounds how long a permission change takes to apply.
const profileCacheTTL = 5 * time.Minute

// App is the main application handler that sets up all routes.
type App struct {
	mux      *http.ServeMux
	db       *gorm.DB
	log      *slog.Logger
	sessions *auth.Sessions
	gate     *policy.AuthGate

	production *handlers.ProductionHandler
	isolation  *handlers.IsolationHandler
	orders     *handlers.OrderHandler
	printQueue *handlers.PrintQueueHandler
	quickbooks *handlers.QuickBooksHandler
	admin      *handlers.AdminHandler

	Tokens     *quickbooks.TokenManager
	Dispatcher quickbooks.Dispatcher
}

// AppOption customizes NewApp.
type AppOption func(*appOptions)

type appOptions struct {
	fetcher    quickbooks.Fetcher
	dispatcher func(quickbooks.NotificationHandler) quickbooks.Dispatcher
	tokenOpts  []quickbooks.TokenOption
}

// WithFetcher replaces the QuickBooks API client.
func WithFetcher(f quickbooks.Fetcher) AppOption {
	return func(o *appOptions) { o.fetcher = f }
}

// WithDispatcher replaces the background webhook dispatcher.
func WithDispatcher(build func(quickbooks.NotificationHandler) quickbooks.Dispatcher) AppOption {
	return func(o *appOptions) { o.dispatcher = build }
}

// WithTokenOptions passes options to the token manager.
func WithTokenOptions(opts ...quickbooks.TokenOption) AppOption {
	return func(o *appOptions) { o.tokenOpts = append(o.tokenOpts, opts...) }
}

// NewApp wires services and handlers over db.
func NewApp(cfg *config.Config, db *gorm.DB, log *slog.Logger, ring *logging.Ring, opts ...AppOption) *App {
	var o appOptions
	for _, opt := range opts {
		opt(&o)
	}
	log = logging.OrDiscard(log)

	guard := isolation.NewGuard(db, log)
	queue := printqueue.NewCoordinator(db, cfg.PrintQueue.BatchSize, log)
	machine := production.NewMachine(db, guard, log)
	orderSvc := orders.NewService(db, guard, queue, log)

	tokens := quickbooks.NewTokenManager(db, cfg.QuickBooks, log, o.tokenOpts...)
	fetcher := o.fetcher
	if fetcher == nil {
		fetcher = quickbooks.NewClient(cfg.QuickBooks, tokens, log)
	}
	engine := quickbooks.NewSyncEngine(db, fetcher, tokens, guard, log)
	var dispatcher quickbooks.Dispatcher
	if o.dispatcher != nil {
		dispatcher = o.dispatcher(engine)
	} else {
		dispatcher = quickbooks.NewGoDispatcher(engine, 2*time.Minute, log)
	}

	ag := policy.NewAuthGate(db, profileCacheTTL)
	app := &App{
		mux: http.NewServeMux(),
		db:  db,
		log: log,
		sessions: auth.NewSessions(cfg.Auth.SessionSecret, func(ctx context.Context, uid uint) bool {
			var count int64
			db.WithContext(ctx).Model(&models.User{}).
				Where("id = ? AND status = ?", uid, models.RecordStatusActive).Count(&count)
			return count > 0
		}),
		gate:       ag,
		production: handlers.NewProductionHandler(machine),
		isolation:  handlers.NewIsolationHandler(guard),
		orders:     handlers.NewOrderHandler(orderSvc),
		printQueue: handlers.NewPrintQueueHandler(queue),
		quickbooks: handlers.NewQuickBooksHandler(tokens, engine, dispatcher, cfg.QuickBooks.WebhookSecret, log),
		admin:      handlers.NewAdminHandler(db, ag, ring),
		Tokens:     tokens,
		Dispatcher: dispatcher,
	}
	app.setupRoutes()
	return app
}

// ServeHTTP implements http.Handler.
func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	handler := handlers.RequestID(false)(a.sessions.Middleware(handlers.RequestLogger(a.log)(a.mux)))
	handler.ServeHTTP(w, r)
}

// setupRoutes configures all application routes.
func (a *App) setupRoutes() {
	// ─────────────────────────────────────────────────────────────────────────
	// Public routes
	// ─────────────────────────────────────────────────────────────────────────
	a.mux.HandleFunc("GET /healthz", a.healthz)
	// Authenticated by the intuit-signature header.
	a.mux.HandleFunc("POST /api/qbo/webhook", a.quickbooks.Webhook)

	// ─────────────────────────────────────────────────────────────────────────
	// Production stations
	// ─────────────────────────────────────────────────────────────────────────
	ph := a.production
	a.mux.Handle("POST /api/production/start",
		a.protect(policy.ResourceOrderItem, gate.ActionScan, ph.Start))
	a.mux.Handle("POST /api/production/complete",
		a.protect(policy.ResourceOrderItem, gate.ActionScan, ph.Complete))
	a.mux.Handle("PATCH /api/order-items/{id}/status",
		a.protect(policy.ResourceOrderItem, gate.ActionOverride, ph.SetStatus))
	a.mux.Handle("GET /api/order-items/{id}/logs",
		a.protect(policy.ResourceOrder, gate.ActionView, ph.Logs))

	// ─────────────────────────────────────────────────────────────────────────
	// Orders
	// ─────────────────────────────────────────────────────────────────────────
	oh := a.orders
	a.mux.Handle("GET /api/orders/{id}",
		a.protect(policy.ResourceOrder, gate.ActionView, oh.Get))
	a.mux.Handle("POST /api/orders/{id}/approve",
		a.protect(policy.ResourceOrder, gate.ActionApprove, oh.Approve))
	a.mux.Handle("POST /api/orders/{id}/cancel",
		a.protect(policy.ResourceOrder, gate.ActionUpdate, oh.Cancel))
	a.mux.Handle("POST /api/orders/{id}/items",
		a.protect(policy.ResourceOrder, gate.ActionUpdate, oh.AddItem))
	a.mux.Handle("PATCH /api/orders/{id}/items/{itemId}",
		a.protect(policy.ResourceOrder, gate.ActionUpdate, oh.UpdateItem))
	a.mux.Handle("DELETE /api/orders/{id}/items/{itemId}",
		a.protect(policy.ResourceOrder, gate.ActionUpdate, oh.RemoveItem))

	// ─────────────────────────────────────────────────────────────────────────
	// Isolation diagnostics
	// ─────────────────────────────────────────────────────────────────────────
	a.mux.Handle("GET /api/isolation/orders/{id}",
		a.protect(policy.ResourceIsolation, gate.ActionView, a.isolation.Order))
	a.mux.Handle("GET /api/isolation/contamination",
		a.protect(policy.ResourceIsolation, gate.ActionView, a.isolation.Contamination))

	// ─────────────────────────────────────────────────────────────────────────
	// Print queue
	// ─────────────────────────────────────────────────────────────────────────
	pq := a.printQueue
	a.mux.Handle("GET /api/print-queue",
		a.protect(policy.ResourcePrintQueue, gate.ActionView, pq.List))
	a.mux.Handle("GET /api/print-queue/next-batch",
		a.protect(policy.ResourcePrintQueue, gate.ActionView, pq.NextBatch))
	a.mux.Handle("POST /api/print-queue/add-item",
		a.protect(policy.ResourcePrintQueue, gate.ActionUpdate, pq.AddItem))
	a.mux.Handle("POST /api/print-queue/mark-printed",
		a.protect(policy.ResourcePrintQueue, gate.ActionUpdate, pq.MarkPrinted))
	a.mux.Handle("PATCH /api/print-queue/{id}",
		a.protect(policy.ResourcePrintQueue, gate.ActionUpdate, pq.Update))
	a.mux.Handle("DELETE /api/print-queue/{id}",
		a.protect(policy.ResourcePrintQueue, gate.ActionUpdate, pq.Remove))

	// ─────────────────────────────────────────────────────────────────────────
	// QuickBooks connection
	// ─────────────────────────────────────────────────────────────────────────
	qh := a.quickbooks
	a.mux.Handle("GET /api/qbo/status",
		a.protect(policy.ResourceQuickbooks, gate.ActionView, qh.Status))
	a.mux.Handle("GET /api/qbo/connect",
		a.protect(policy.ResourceQuickbooks, gate.ActionManage, qh.Connect))
	a.mux.Handle("GET /api/qbo/callback",
		a.protect(policy.ResourceQuickbooks, gate.ActionManage, qh.Callback))
	a.mux.Handle("POST /api/qbo/disconnect",
		a.protect(policy.ResourceQuickbooks, gate.ActionManage, qh.Disconnect))
	a.mux.Handle("POST /api/qbo/sync/{entity}/{id}",
		a.protect(policy.ResourceQuickbooks, gate.ActionManage, qh.Pull))

	// ─────────────────────────────────────────────────────────────────────────
	// Admin
	// ─────────────────────────────────────────────────────────────────────────
	ah := a.admin
	a.mux.Handle("GET /api/admin/logs/recent",
		a.protect(policy.ResourceLogs, gate.ActionView, ah.RecentLogs))
	a.mux.Handle("GET /api/admin/profiles", a.requireAdmin(ah.ListProfiles))
	a.mux.Handle("POST /api/admin/profiles", a.requireAdmin(ah.CreateProfile))
	a.mux.Handle("DELETE /api/admin/profiles/{id}", a.requireAdmin(ah.DeleteProfile))
	a.mux.Handle("PUT /api/admin/profiles/{id}/permissions", a.requireAdmin(ah.SetPermissions))
	a.mux.Handle("GET /api/admin/permissions", a.requireAdmin(ah.ListPermissions))
	a.mux.Handle("GET /api/admin/users", a.requireAdmin(ah.ListUsers))
	a.mux.Handle("PUT /api/admin/users/{id}/profile", a.requireAdmin(ah.AssignProfile))
}

// ─────────────────────────────────────────────────────────────────────────────
// Middleware
// ─────────────────────────────────────────────────────────────────────────────

// protect requires a signed-in user holding resourceType:action.
func (a *App) protect(resourceType string, action gate.Action, h http.HandlerFunc) http.Handler {
	return a.sessions.RequireAuth(a.gate.RequirePermission(resourceType, action)(h))
}

// requireAdmin requires a signed-in user holding "*:*".
func (a *App) requireAdmin(h http.HandlerFunc) http.Handler {
	return a.sessions.RequireAuth(a.gate.RequireAdmin()(h))
}

func (a *App) healthz(w http.ResponseWriter, r *http.Request) {
	if err := a.db.WithContext(r.Context()).Exec("SELECT 1").Error; err != nil {
		httpx.JSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "database": err.Error()})
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
