package handlers

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/Kodeloom/spacovers-admin/auth"
	"github.com/Kodeloom/spacovers-admin/internal/apperr"
	"github.com/Kodeloom/spacovers-admin/internal/httpx"
	"github.com/Kodeloom/spacovers-admin/internal/logging"
	"github.com/Kodeloom/spacovers-admin/internal/quickbooks"
	"github.com/google/uuid"
)

const (
	stateCookie = "qbo_oauth_state"
	maxWebhook  = 1 << 20
)

// QuickBooksHandler serves the OAuth connection flow, the connection status
// and the change webhook.
type QuickBooksHandler struct {
	tokens     *quickbooks.TokenManager
	sync       *quickbooks.SyncEngine
	dispatcher quickbooks.Dispatcher
	verifier   string
	log        *slog.Logger
}

func NewQuickBooksHandler(tokens *quickbooks.TokenManager, sync *quickbooks.SyncEngine, d quickbooks.Dispatcher, verifier string, log *slog.Logger) *QuickBooksHandler {
	return &QuickBooksHandler{
		tokens:     tokens,
		sync:       sync,
		dispatcher: d,
		verifier:   verifier,
		log:        logging.OrDiscard(log).With("component", "handlers.quickbooks"),
	}
}

// Status handles GET /api/qbo/status.
func (h *QuickBooksHandler) Status(w http.ResponseWriter, r *http.Request) {
	st, err := h.tokens.GetConnectionStatus(r.Context())
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, st)
}

// Connect handles GET /api/qbo/connect by redirecting to the Intuit consent
// page with a state bound to a short-lived cookie.
func (h *QuickBooksHandler) Connect(w http.ResponseWriter, r *http.Request) {
	state := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/api/qbo",
		MaxAge:   int((10 * time.Minute).Seconds()),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, h.tokens.AuthCodeURL(state), http.StatusFound)
}

// Callback handles GET /api/qbo/callback?code=&state=&realmId=.
func (h *QuickBooksHandler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		httpx.Error(w, apperr.Authentication("QuickBooks authorization was not granted: %s", e))
		return
	}
	c, err := r.Cookie(stateCookie)
	if err != nil || c.Value == "" || c.Value != q.Get("state") {
		httpx.Error(w, apperr.Validation("invalid OAuth state").WithSuggestion("start the connection again"))
		return
	}
	http.SetCookie(w, &http.Cookie{Name: stateCookie, Value: "", Path: "/api/qbo", MaxAge: -1, HttpOnly: true})

	actor, _ := auth.UserIDFromContext(r.Context())
	st, err := h.tokens.Connect(r.Context(), q.Get("code"), q.Get("realmId"), actor)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, st)
}

// Disconnect handles POST /api/qbo/disconnect.
func (h *QuickBooksHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.UserIDFromContext(r.Context())
	if err := h.tokens.Disconnect(r.Context(), actor); err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"connected": false})
}

// Webhook handles POST /api/qbo/webhook. The signature is checked against
// the raw body before anything is parsed; processing happens after the
// response.
func (h *QuickBooksHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhook))
	if err != nil {
		httpx.Error(w, apperr.Validation("unreadable webhook body"))
		return
	}
	if !quickbooks.VerifySignature(body, r.Header.Get(quickbooks.SignatureHeader), h.verifier) {
		h.log.Warn("webhook signature rejected", "remote", r.RemoteAddr)
		httpx.Error(w, apperr.Authentication("invalid webhook signature"))
		return
	}
	n, err := quickbooks.ParseWebhook(body)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	h.log.Info("webhook accepted", "changes", n.Len())
	httpx.JSON(w, http.StatusOK, map[string]any{"accepted": n.Len()})
	h.dispatcher.Dispatch(n)
}

// Pull handles POST /api/qbo/sync/{entity}/{id}, fetching one entity on
// demand.
func (h *QuickBooksHandler) Pull(w http.ResponseWriter, r *http.Request) {
	res, err := h.sync.Pull(r.Context(), r.PathValue("entity"), r.PathValue("id"))
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"status": quickbooks.StatusSynced, "document": res})
}
