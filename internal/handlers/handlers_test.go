package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kodeloom/spacovers-admin/internal/db/dbtest"
	"github.com/Kodeloom/spacovers-admin/internal/logging"
	"github.com/Kodeloom/spacovers-admin/internal/models"
	"github.com/Kodeloom/spacovers-admin/internal/policy"
	"github.com/Kodeloom/spacovers-admin/internal/printqueue"
	"github.com/Kodeloom/spacovers-admin/internal/production"
)

func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", seen)
	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))

	untrusted := RequestID(false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = RequestIDFromContext(r.Context())
	}))
	rec = httptest.NewRecorder()
	untrusted.ServeHTTP(rec, req)
	assert.NotEqual(t, "abc-123", seen)
	assert.Len(t, seen, 36)
}

func TestRequestLogger_RecoversPanic(t *testing.T) {
	ring := logging.NewRing(10)
	log := logging.New(&bytes.Buffer{}, "info", "text", ring)
	h := RequestLogger(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/explode", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	entries := ring.Recent()
	require.Len(t, entries, 2)
	assert.Equal(t, "handler panic", entries[0].Message)
	assert.Equal(t, "request", entries[1].Message)
	assert.EqualValues(t, http.StatusInternalServerError, entries[1].Attrs["status"])
}

func TestProductionHandler_StartValidation(t *testing.T) {
	d := dbtest.Open(t)
	h := NewProductionHandler(production.NewMachine(d, nil, nil))

	rec := httptest.NewRecorder()
	h.Start(rec, jsonRequest(t, http.MethodPost, "/api/production/start", map[string]any{}))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	details := decodeBody(t, rec)["details"].(map[string]any)
	assert.Contains(t, details, "orderItemId")
	assert.Contains(t, details, "stationId")
	assert.Contains(t, details, "userId")

	rec = httptest.NewRecorder()
	h.Complete(rec, jsonRequest(t, http.MethodPost, "/api/production/complete", map[string]any{"orderItemId": 4242}))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPrintQueueHandler_AddItem(t *testing.T) {
	d := dbtest.Open(t)
	f := dbtest.NewOrder(t, d, models.OrderStatusApproved)
	item := dbtest.AddItem(t, d, f.Order.ID, f.Item.ID, "1", true)
	h := NewPrintQueueHandler(printqueue.NewCoordinator(d, 4, nil))

	add := func(id uint) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.AddItem(rec, jsonRequest(t, http.MethodPost, "/api/print-queue/add-item", map[string]any{"orderItemId": id}))
		return rec
	}
	assert.Equal(t, http.StatusCreated, add(item.ID).Code)
	again := add(item.ID)
	assert.Equal(t, http.StatusOK, again.Code)
	assert.Equal(t, string(printqueue.OutcomeUnchanged), decodeBody(t, again)["outcome"])
	assert.Equal(t, http.StatusBadRequest, add(0).Code)
	assert.Equal(t, http.StatusNotFound, add(9999).Code)
}

func TestAdminHandler_Profiles(t *testing.T) {
	d := dbtest.Open(t)
	h := NewAdminHandler(d, policy.NewAuthGate(d, time.Minute), nil)

	rec := httptest.NewRecorder()
	h.CreateProfile(rec, jsonRequest(t, http.MethodPost, "/api/admin/profiles", map[string]any{"name": " packers "}))
	require.Equal(t, http.StatusCreated, rec.Code)
	id := uint(decodeBody(t, rec)["id"].(float64))
	path := "/api/admin/profiles/" + strconv.Itoa(int(id))

	req := jsonRequest(t, http.MethodPut, path+"/permissions", map[string]any{"permissions": []string{"order:view", "nope:never"}})
	req.SetPathValue("id", strconv.Itoa(int(id)))
	rec = httptest.NewRecorder()
	h.SetPermissions(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = jsonRequest(t, http.MethodPut, path+"/permissions", map[string]any{"permissions": []string{"order:view", "order_item:scan"}})
	req.SetPathValue("id", strconv.Itoa(int(id)))
	rec = httptest.NewRecorder()
	h.SetPermissions(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, decodeBody(t, rec)["permissions"], 2)

	var admin models.Profile
	require.NoError(t, d.Where("name = ?", "admin").First(&admin).Error)
	req = httptest.NewRequest(http.MethodDelete, "/api/admin/profiles/x", nil)
	req.SetPathValue("id", strconv.Itoa(int(admin.ID)))
	rec = httptest.NewRecorder()
	h.DeleteProfile(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodDelete, path, nil)
	req.SetPathValue("id", strconv.Itoa(int(id)))
	rec = httptest.NewRecorder()
	h.DeleteProfile(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestAdminHandler_RecentLogsWithoutRing(t *testing.T) {
	h := NewAdminHandler(nil, nil, nil)
	rec := httptest.NewRecorder()
	h.RecentLogs(rec, httptest.NewRequest(http.MethodGet, "/api/admin/logs/recent", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody(t, rec)["entries"])
}
