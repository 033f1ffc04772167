package quickbooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Kodeloom/spacovers-admin/internal/apperr"
	"github.com/Kodeloom/spacovers-admin/internal/audit"
	"github.com/Kodeloom/spacovers-admin/internal/config"
	"github.com/Kodeloom/spacovers-admin/internal/logging"
	"github.com/Kodeloom/spacovers-admin/internal/models"
	"github.com/Kodeloom/spacovers-admin/internal/retry"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Intuit OAuth endpoints.
const (
	AuthURL   = "https://appcenter.intuit.com/connect/oauth2"
	TokenURL  = "https://oauth.platform.intuit.com/oauth2/v1/tokens/bearer"
	RevokeURL = "https://developer.api.intuit.com/v2/oauth2/tokens/revoke"
	Scope     = "com.intuit.quickbooks.accounting"

	// RefreshThreshold is how close to expiry an access token is refreshed.
	RefreshThreshold = 60 * time.Second
	// defaultRefreshLifetime applies when the provider omits the refresh
	// token lifetime.
	defaultRefreshLifetime = 100 * 24 * time.Hour
	// refreshTimeout bounds a shared refresh including its retries.
	refreshTimeout = 30 * time.Second
)

// Audit actions for the credential lifecycle.
const (
	ActionConnected      = "QUICKBOOKS_CONNECTED"
	ActionDisconnected   = "QUICKBOOKS_DISCONNECTED"
	ActionRefreshFailed  = "QUICKBOOKS_REFRESH_FAILED"
	ActionRefreshExpired = "QUICKBOOKS_REFRESH_EXPIRED"
)

// AccessToken is a usable bearer token for one company.
type AccessToken struct {
	Value     string
	CompanyID string
	ExpiresAt time.Time
}

// Status describes the connection without exposing token values.
type Status struct {
	Connected             bool       `json:"connected"`
	CompanyID             string     `json:"companyId,omitempty"`
	ConnectedAt           *time.Time `json:"connectedAt,omitempty"`
	AccessTokenExpiresAt  *time.Time `json:"accessTokenExpiresAt,omitempty"`
	RefreshTokenExpiresAt *time.Time `json:"refreshTokenExpiresAt,omitempty"`
}

// TokenManager owns the company-wide QuickBooks credential.
type TokenManager struct {
	db        *gorm.DB
	oauth     *oauth2.Config
	http      *http.Client
	revokeURL string
	retry     retry.Policy
	log       *slog.Logger
	now       func() time.Time
	refreshes singleflight.Group
}

// TokenOption customizes a TokenManager.
type TokenOption func(*TokenManager)

// WithEndpoints points the manager at other OAuth endpoints.
func WithEndpoints(authURL, tokenURL, revokeURL string) TokenOption {
	return func(m *TokenManager) {
		m.oauth.Endpoint = oauth2.Endpoint{AuthURL: authURL, TokenURL: tokenURL, AuthStyle: oauth2.AuthStyleInHeader}
		m.revokeURL = revokeURL
	}
}

// WithRetry replaces the retry policy used for refresh calls.
func WithRetry(p retry.Policy) TokenOption { return func(m *TokenManager) { m.retry = p } }

// WithClock sets the time source.
func WithClock(now func() time.Time) TokenOption { return func(m *TokenManager) { m.now = now } }

// WithHTTPClient sets the client used for OAuth calls.
func WithHTTPClient(c *http.Client) TokenOption { return func(m *TokenManager) { m.http = c } }

// NewTokenManager builds a manager for the configured Intuit app.
func NewTokenManager(db *gorm.DB, cfg config.QuickBooksConfig, log *slog.Logger, opts ...TokenOption) *TokenManager {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	m := &TokenManager{
		db: db,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{Scope},
			Endpoint:     oauth2.Endpoint{AuthURL: AuthURL, TokenURL: TokenURL, AuthStyle: oauth2.AuthStyleInHeader},
		},
		http:      &http.Client{Timeout: timeout},
		revokeURL: RevokeURL,
		retry:     retry.Default(),
		log:       logging.OrDiscard(log).With("component", "quickbooks.tokens"),
		now:       time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// AuthCodeURL returns the Intuit consent URL carrying state.
func (m *TokenManager) AuthCodeURL(state string) string {
	return m.oauth.AuthCodeURL(state)
}

func (m *TokenManager) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, m.http)
}

// Connect exchanges an authorization code and stores the credential for
// realmID. Credentials of any other company are removed.
func (m *TokenManager) Connect(ctx context.Context, code, realmID string, actorID uint) (*Status, error) {
	if code == "" || realmID == "" {
		return nil, apperr.Validation("authorization code and realm id are required")
	}
	tok, err := m.oauth.Exchange(m.oauthContext(ctx), code)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			return nil, apperr.Authentication("QuickBooks rejected the authorization code: %s", re.ErrorCode).
				WithSuggestion("start the connection again")
		}
		return nil, apperr.Connection(err, "exchange QuickBooks authorization code")
	}

	now := m.now()
	row := models.QuickbooksToken{
		CompanyID:             realmID,
		AccessToken:           tok.AccessToken,
		RefreshToken:          tok.RefreshToken,
		TokenType:             tok.Type(),
		AccessTokenExpiresAt:  accessExpiry(tok, now),
		RefreshTokenExpiresAt: now.Add(refreshLifetime(tok)),
		ConnectedAt:           now,
	}
	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("company_id <> ?", realmID).Delete(&models.QuickbooksToken{}).Error; err != nil {
			return err
		}
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "company_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"access_token", "refresh_token", "token_type",
				"access_token_expires_at", "refresh_token_expires_at", "connected_at", "updated_at",
			}),
		}).Create(&row).Error
		if err != nil {
			return err
		}
		return audit.Record(tx, audit.Actor(actorID), ActionConnected, "QuickbooksToken", row.ID, nil, map[string]any{"companyId": realmID})
	})
	if err != nil {
		return nil, apperr.FromStore(err, "quickbooks token")
	}
	m.log.Info("quickbooks connected", "company_id", realmID)
	return m.GetConnectionStatus(ctx)
}

func (m *TokenManager) current(ctx context.Context) (*models.QuickbooksToken, error) {
	var row models.QuickbooksToken
	err := m.db.WithContext(ctx).Order("connected_at DESC, id DESC").First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.FromStore(err, "quickbooks token")
	}
	return &row, nil
}

// IsConnected reports whether a credential exists whose refresh window has
// not elapsed.
func (m *TokenManager) IsConnected(ctx context.Context) (bool, error) {
	row, err := m.current(ctx)
	if err != nil || row == nil {
		return false, err
	}
	return m.now().Before(row.RefreshTokenExpiresAt), nil
}

// GetConnectionStatus reports the connection without changing anything.
func (m *TokenManager) GetConnectionStatus(ctx context.Context) (*Status, error) {
	row, err := m.current(ctx)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return &Status{}, nil
	}
	return &Status{
		Connected:             m.now().Before(row.RefreshTokenExpiresAt),
		CompanyID:             row.CompanyID,
		ConnectedAt:           &row.ConnectedAt,
		AccessTokenExpiresAt:  &row.AccessTokenExpiresAt,
		RefreshTokenExpiresAt: &row.RefreshTokenExpiresAt,
	}, nil
}

// CompanyID returns the connected company, or "" when disconnected.
func (m *TokenManager) CompanyID(ctx context.Context) (string, error) {
	st, err := m.GetConnectionStatus(ctx)
	if err != nil || !st.Connected {
		return "", err
	}
	return st.CompanyID, nil
}

// GetValidAccessToken returns an access token valid for at least
// RefreshThreshold, refreshing it first when needed. A credential the
// provider rejects is deleted and ReauthorizationRequired is returned;
// network failures are returned as retryable Connection errors and keep the
// credential.
func (m *TokenManager) GetValidAccessToken(ctx context.Context) (AccessToken, error) {
	row, err := m.current(ctx)
	if err != nil {
		return AccessToken{}, err
	}
	if row == nil {
		return AccessToken{}, apperr.ReauthorizationRequired("QuickBooks is not connected")
	}
	now := m.now()
	if !now.Before(row.RefreshTokenExpiresAt) {
		m.invalidate(ctx, row, ActionRefreshExpired, "refresh token expired")
		return AccessToken{}, apperr.ReauthorizationRequired("QuickBooks authorization has expired")
	}
	if row.AccessTokenExpiresAt.Sub(now) >= RefreshThreshold {
		return AccessToken{Value: row.AccessToken, CompanyID: row.CompanyID, ExpiresAt: row.AccessTokenExpiresAt}, nil
	}

	// The refresh is shared by every caller for the company, so it runs on a
	// context that outlives whichever caller happened to start it.
	ch := m.refreshes.DoChan(row.CompanyID, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return m.refresh(rctx, row)
	})
	select {
	case <-ctx.Done():
		return AccessToken{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return AccessToken{}, res.Err
		}
		if res.Shared {
			m.log.Debug("joined in-flight token refresh", "company_id", row.CompanyID)
		}
		return res.Val.(AccessToken), nil
	}
}

func (m *TokenManager) refresh(ctx context.Context, row *models.QuickbooksToken) (AccessToken, error) {
	var tok *oauth2.Token
	err := m.retry.Do(ctx, func(ctx context.Context) error {
		src := m.oauth.TokenSource(m.oauthContext(ctx), &oauth2.Token{
			RefreshToken: row.RefreshToken,
			Expiry:       m.now().Add(-time.Second),
		})
		var err error
		tok, err = src.Token()
		if err == nil {
			return nil
		}
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && (re.Response == nil || re.Response.StatusCode < 500) {
			return apperr.ReauthorizationRequired("QuickBooks rejected the token refresh: %s", refreshReason(re))
		}
		return apperr.Connection(err, "refresh QuickBooks token")
	})
	if err != nil {
		if apperr.Is(err, apperr.KindReauthorizationRequired) {
			m.invalidate(ctx, row, ActionRefreshFailed, err.Error())
		} else {
			m.log.Warn("token refresh failed, keeping credential", "company_id", row.CompanyID, "err", err)
		}
		return AccessToken{}, err
	}

	now := m.now()
	expires := accessExpiry(tok, now)
	if expires.Sub(now) < RefreshThreshold {
		return AccessToken{}, apperr.Authentication("QuickBooks issued an access token that is already expiring")
	}
	updates := map[string]any{
		"access_token":            tok.AccessToken,
		"access_token_expires_at": expires,
		"token_type":              tok.Type(),
	}
	if tok.RefreshToken != "" {
		updates["refresh_token"] = tok.RefreshToken
		updates["refresh_token_expires_at"] = now.Add(refreshLifetime(tok))
	}
	if err := m.db.WithContext(ctx).Model(&models.QuickbooksToken{}).
		Where("company_id = ?", row.CompanyID).Updates(updates).Error; err != nil {
		return AccessToken{}, apperr.FromStore(err, "quickbooks token")
	}
	m.log.Info("quickbooks token refreshed", "company_id", row.CompanyID, "expires_at", expires)
	return AccessToken{Value: tok.AccessToken, CompanyID: row.CompanyID, ExpiresAt: expires}, nil
}

func (m *TokenManager) invalidate(ctx context.Context, row *models.QuickbooksToken, action, reason string) {
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("company_id = ?", row.CompanyID).Delete(&models.QuickbooksToken{}).Error; err != nil {
			return err
		}
		return audit.Record(tx, nil, action, "QuickbooksToken", row.ID, map[string]any{"companyId": row.CompanyID}, map[string]any{"reason": reason})
	})
	if err != nil {
		m.log.Error("could not delete invalid quickbooks token", "company_id", row.CompanyID, "err", err)
		return
	}
	m.log.Warn("quickbooks credential removed, reconnection required", "company_id", row.CompanyID, "reason", reason)
}

// Disconnect revokes the refresh token at Intuit (best effort) and deletes
// the credential.
func (m *TokenManager) Disconnect(ctx context.Context, actorID uint) error {
	row, err := m.current(ctx)
	if err != nil {
		return err
	}
	if row == nil {
		return nil
	}
	if err := m.revoke(ctx, row.RefreshToken); err != nil {
		m.log.Warn("token revocation failed", "company_id", row.CompanyID, "err", err)
	}
	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("company_id = ?", row.CompanyID).Delete(&models.QuickbooksToken{}).Error; err != nil {
			return err
		}
		return audit.Record(tx, audit.Actor(actorID), ActionDisconnected, "QuickbooksToken", row.ID, map[string]any{"companyId": row.CompanyID}, nil)
	})
	if err != nil {
		return apperr.FromStore(err, "quickbooks token")
	}
	m.log.Info("quickbooks disconnected", "company_id", row.CompanyID)
	return nil
}

func (m *TokenManager) revoke(ctx context.Context, token string) error {
	body, _ := json.Marshal(map[string]string{"token": token})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.revokeURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.SetBasicAuth(m.oauth.ClientID, m.oauth.ClientSecret)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	resp, err := m.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("revoke returned %s", resp.Status)
	}
	return nil
}

func accessExpiry(tok *oauth2.Token, now time.Time) time.Time {
	if !tok.Expiry.IsZero() {
		return tok.Expiry
	}
	return now.Add(time.Hour)
}

// refreshLifetime reads Intuit's x_refresh_token_expires_in extra field.
func refreshLifetime(tok *oauth2.Token) time.Duration {
	switch v := tok.Extra("x_refresh_token_expires_in").(type) {
	case float64:
		if v > 0 {
			return time.Duration(v) * time.Second
		}
	case json.Number:
		if n, err := v.Int64(); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return defaultRefreshLifetime
}

func refreshReason(re *oauth2.RetrieveError) string {
	if re.ErrorCode != "" {
		return re.ErrorCode
	}
	if re.Response != nil {
		return re.Response.Status
	}
	return "rejected"
}
