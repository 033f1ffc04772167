package quickbooks

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/Kodeloom/spacovers-admin/internal/apperr"
	"github.com/Kodeloom/spacovers-admin/internal/config"
	"github.com/Kodeloom/spacovers-admin/internal/db/dbtest"
	"github.com/Kodeloom/spacovers-admin/internal/models"
	"github.com/Kodeloom/spacovers-admin/internal/retry"
)

type fakeIntuit struct {
	t        *testing.T
	server   *httptest.Server
	hits     atomic.Int32
	revokes  atomic.Int32
	status   int
	expires  int
	release  chan struct{}
	lastForm map[string]string
	mu       sync.Mutex
}

func newFakeIntuit(t *testing.T) *fakeIntuit {
	f := &fakeIntuit{t: t, status: http.StatusOK, expires: 3600}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		f.hits.Add(1)
		if f.release != nil {
			<-f.release
		}
		require.NoError(t, r.ParseForm())
		f.mu.Lock()
		f.lastForm = map[string]string{"grant_type": r.PostForm.Get("grant_type"), "refresh_token": r.PostForm.Get("refresh_token")}
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		if f.status != http.StatusOK {
			w.WriteHeader(f.status)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":               "access-" + r.PostForm.Get("grant_type"),
			"refresh_token":              "refresh-new",
			"token_type":                 "bearer",
			"expires_in":                 f.expires,
			"x_refresh_token_expires_in": 8726400,
		})
	})
	mux.HandleFunc("/revoke", func(w http.ResponseWriter, r *http.Request) {
		f.revokes.Add(1)
		w.WriteHeader(http.StatusOK)
	})
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeIntuit) manager(d *gorm.DB) *TokenManager {
	cfg := config.QuickBooksConfig{ClientID: "cid", ClientSecret: "secret", RedirectURL: "http://localhost/callback"}
	return NewTokenManager(d, cfg, nil,
		WithEndpoints(f.server.URL+"/auth", f.server.URL+"/token", f.server.URL+"/revoke"),
		WithRetry(retry.Default().NoWait()),
	)
}

func storeToken(t *testing.T, d *gorm.DB, accessIn, refreshIn time.Duration) models.QuickbooksToken {
	t.Helper()
	now := time.Now()
	row := models.QuickbooksToken{
		CompanyID:             "realm-1",
		AccessToken:           "access-old",
		RefreshToken:          "refresh-old",
		TokenType:             "bearer",
		AccessTokenExpiresAt:  now.Add(accessIn),
		RefreshTokenExpiresAt: now.Add(refreshIn),
		ConnectedAt:           now.Add(-time.Hour),
	}
	require.NoError(t, d.Create(&row).Error)
	return row
}

func tokenCount(t *testing.T, d *gorm.DB) int64 {
	var n int64
	require.NoError(t, d.Model(&models.QuickbooksToken{}).Count(&n).Error)
	return n
}

func TestConnect_StoresSingleCompanyCredential(t *testing.T) {
	d := dbtest.Open(t)
	f := newFakeIntuit(t)
	m := f.manager(d)
	ctx := context.Background()

	st, err := m.Connect(ctx, "code-1", "realm-old", 0)
	require.NoError(t, err)
	assert.True(t, st.Connected)
	assert.Equal(t, "realm-old", st.CompanyID)

	st, err = m.Connect(ctx, "code-2", "realm-new", 0)
	require.NoError(t, err)
	assert.Equal(t, "realm-new", st.CompanyID)
	assert.EqualValues(t, 1, tokenCount(t, d))

	var row models.QuickbooksToken
	require.NoError(t, d.First(&row).Error)
	assert.Equal(t, "access-authorization_code", row.AccessToken)
	assert.WithinDuration(t, time.Now().Add(8726400*time.Second), row.RefreshTokenExpiresAt, time.Minute)

	var audits int64
	require.NoError(t, d.Model(&models.AuditLog{}).Where("action = ?", ActionConnected).Count(&audits).Error)
	assert.EqualValues(t, 2, audits)
}

func TestConnect_RequiresCodeAndRealm(t *testing.T) {
	d := dbtest.Open(t)
	m := newFakeIntuit(t).manager(d)
	_, err := m.Connect(context.Background(), "", "realm", 0)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestAuthCodeURL_CarriesStateAndScope(t *testing.T) {
	m := newFakeIntuit(t).manager(dbtest.Open(t))
	u := m.AuthCodeURL("xyz")
	assert.Contains(t, u, "state=xyz")
	assert.Contains(t, u, "scope=com.intuit.quickbooks.accounting")
}

func TestGetValidAccessToken_NotConnected(t *testing.T) {
	m := newFakeIntuit(t).manager(dbtest.Open(t))
	_, err := m.GetValidAccessToken(context.Background())
	assert.True(t, apperr.Is(err, apperr.KindReauthorizationRequired))
}

func TestGetValidAccessToken_UsesStoredTokenWhenFresh(t *testing.T) {
	d := dbtest.Open(t)
	f := newFakeIntuit(t)
	storeToken(t, d, 30*time.Minute, 24*time.Hour)

	tok, err := f.manager(d).GetValidAccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-old", tok.Value)
	assert.Equal(t, "realm-1", tok.CompanyID)
	assert.EqualValues(t, 0, f.hits.Load())
}

func TestGetValidAccessToken_RefreshesNearExpiry(t *testing.T) {
	d := dbtest.Open(t)
	f := newFakeIntuit(t)
	storeToken(t, d, 30*time.Second, 24*time.Hour)

	tok, err := f.manager(d).GetValidAccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-refresh_token", tok.Value)
	assert.True(t, time.Until(tok.ExpiresAt) >= RefreshThreshold)
	assert.Equal(t, "refresh-old", f.lastForm["refresh_token"])

	var row models.QuickbooksToken
	require.NoError(t, d.First(&row).Error)
	assert.Equal(t, "refresh-new", row.RefreshToken)
}

func TestGetValidAccessToken_ConcurrentCallersShareOneRefresh(t *testing.T) {
	d := dbtest.Open(t)
	f := newFakeIntuit(t)
	f.release = make(chan struct{})
	storeToken(t, d, 10*time.Second, 24*time.Hour)
	m := f.manager(d)

	const callers = 5
	var wg sync.WaitGroup
	values := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := m.GetValidAccessToken(context.Background())
			values[i], errs[i] = tok.Value, err
		}(i)
	}
	time.Sleep(100 * time.Millisecond)
	close(f.release)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "access-refresh_token", values[i])
	}
	assert.EqualValues(t, 1, f.hits.Load())
}

func TestGetValidAccessToken_CancelledStarterDoesNotFailJoinedCaller(t *testing.T) {
	d := dbtest.Open(t)
	f := newFakeIntuit(t)
	f.release = make(chan struct{})
	storeToken(t, d, 10*time.Second, 24*time.Hour)
	m := f.manager(d)

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := m.GetValidAccessToken(ctx)
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return f.hits.Load() == 1 }, time.Second, 5*time.Millisecond)

	type result struct {
		tok AccessToken
		err error
	}
	second := make(chan result, 1)
	go func() {
		tok, err := m.GetValidAccessToken(context.Background())
		second <- result{tok, err}
	}()
	time.Sleep(100 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)
	close(f.release)

	res := <-second
	require.NoError(t, res.err)
	assert.Equal(t, "access-refresh_token", res.tok.Value)
	assert.EqualValues(t, 1, f.hits.Load())

	var row models.QuickbooksToken
	require.NoError(t, d.First(&row).Error)
	assert.Equal(t, "access-refresh_token", row.AccessToken)
}

func TestGetValidAccessToken_RejectedRefreshRequiresReauthorization(t *testing.T) {
	d := dbtest.Open(t)
	f := newFakeIntuit(t)
	f.status = http.StatusBadRequest
	storeToken(t, d, 10*time.Second, 24*time.Hour)

	_, err := f.manager(d).GetValidAccessToken(context.Background())
	assert.True(t, apperr.Is(err, apperr.KindReauthorizationRequired))
	assert.EqualValues(t, 1, f.hits.Load())
	assert.EqualValues(t, 0, tokenCount(t, d))

	var audits int64
	require.NoError(t, d.Model(&models.AuditLog{}).Where("action = ?", ActionRefreshFailed).Count(&audits).Error)
	assert.EqualValues(t, 1, audits)
}

func TestGetValidAccessToken_ServerErrorKeepsCredential(t *testing.T) {
	d := dbtest.Open(t)
	f := newFakeIntuit(t)
	f.status = http.StatusServiceUnavailable
	storeToken(t, d, 10*time.Second, 24*time.Hour)
	m := f.manager(d)

	_, err := m.GetValidAccessToken(context.Background())
	assert.True(t, apperr.Is(err, apperr.KindConnection))
	assert.True(t, apperr.IsRetryable(err))
	assert.EqualValues(t, retry.Default().MaxAttempts, f.hits.Load())
	assert.EqualValues(t, 1, tokenCount(t, d))
}

func TestGetValidAccessToken_ExpiredRefreshWindow(t *testing.T) {
	d := dbtest.Open(t)
	f := newFakeIntuit(t)
	storeToken(t, d, -time.Hour, -time.Minute)

	_, err := f.manager(d).GetValidAccessToken(context.Background())
	assert.True(t, apperr.Is(err, apperr.KindReauthorizationRequired))
	assert.EqualValues(t, 0, f.hits.Load())
	assert.EqualValues(t, 0, tokenCount(t, d))
}

func TestGetValidAccessToken_ShortLivedRefreshIsRejected(t *testing.T) {
	d := dbtest.Open(t)
	f := newFakeIntuit(t)
	f.expires = 30
	storeToken(t, d, 10*time.Second, 24*time.Hour)

	_, err := f.manager(d).GetValidAccessToken(context.Background())
	assert.True(t, apperr.Is(err, apperr.KindAuthentication))
}

func TestDisconnect_RevokesAndDeletes(t *testing.T) {
	d := dbtest.Open(t)
	f := newFakeIntuit(t)
	storeToken(t, d, time.Hour, 24*time.Hour)
	m := f.manager(d)

	require.NoError(t, m.Disconnect(context.Background(), 0))
	assert.EqualValues(t, 1, f.revokes.Load())
	assert.EqualValues(t, 0, tokenCount(t, d))

	ok, err := m.IsConnected(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Disconnect(context.Background(), 0))
	assert.EqualValues(t, 1, f.revokes.Load())
}
