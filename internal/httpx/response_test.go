package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kodeloom/spacovers-admin/internal/apperr"
)

func TestError_MapsKinds(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{apperr.NotFound("order 1 not found"), http.StatusNotFound},
		{apperr.Conflict("open log"), http.StatusConflict},
		{apperr.IsolationViolation("moved"), http.StatusConflict},
		{apperr.Precondition("order pending"), http.StatusUnprocessableEntity},
		{apperr.Validation("bad"), http.StatusBadRequest},
		{apperr.ReauthorizationRequired("expired"), http.StatusUnauthorized},
		{apperr.Forbidden("no"), http.StatusForbidden},
		{apperr.Connection(errors.New("timeout"), "qbo"), http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		Error(rec, tt.err)
		assert.Equal(t, tt.status, rec.Code, tt.err.Error())
	}
}

func TestError_Body(t *testing.T) {
	rec := httptest.NewRecorder()
	Error(rec, apperr.ReauthorizationRequired("token revoked"))

	var body ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, apperr.KindReauthorizationRequired, body.Kind)
	assert.Equal(t, "token revoked", body.Message)
	assert.Contains(t, body.Suggestions, "reconnect to QuickBooks")
}

func TestError_HidesInternalCause(t *testing.T) {
	rec := httptest.NewRecorder()
	Error(rec, errors.New("pq: password authentication failed"))
	assert.NotContains(t, rec.Body.String(), "password")
}

func TestDecodeJSON(t *testing.T) {
	var dst struct {
		OrderItemID uint `json:"orderItemId"`
	}
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"orderItemId":5}`))
	require.NoError(t, DecodeJSON(r, &dst))
	assert.EqualValues(t, 5, dst.OrderItemID)

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"orderId":5}`))
	assert.True(t, apperr.Is(DecodeJSON(r, &dst), apperr.KindValidation))

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(``))
	assert.True(t, apperr.Is(DecodeJSON(r, &dst), apperr.KindValidation))
}

func TestPathID(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/orders/12", nil)
	r.SetPathValue("id", "12")
	id, err := PathID(r, "id")
	require.NoError(t, err)
	assert.EqualValues(t, 12, id)

	r.SetPathValue("id", "abc")
	_, err = PathID(r, "id")
	assert.Error(t, err)

	r.SetPathValue("id", "0")
	_, err = PathID(r, "id")
	assert.Error(t, err)
}
