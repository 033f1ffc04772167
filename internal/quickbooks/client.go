package quickbooks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Kodeloom/spacovers-admin/internal/apperr"
	"github.com/Kodeloom/spacovers-admin/internal/config"
	"github.com/Kodeloom/spacovers-admin/internal/logging"
	"github.com/Kodeloom/spacovers-admin/internal/retry"
)

// MinorVersion is the accounting API minor version requested on every call.
const MinorVersion = "65"

// TokenSource yields bearer tokens for the connected company.
type TokenSource interface {
	GetValidAccessToken(ctx context.Context) (AccessToken, error)
}

// Fetcher reads one entity by id.
type Fetcher interface {
	Fetch(ctx context.Context, name, id string) (Entity, error)
}

// Client reads entities from the QuickBooks accounting API.
type Client struct {
	base   string
	tokens TokenSource
	http   *http.Client
	retry  retry.Policy
	log    *slog.Logger
}

// NewClient builds a client against cfg.APIBase().
func NewClient(cfg config.QuickBooksConfig, tokens TokenSource, log *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		base:   cfg.APIBase(),
		tokens: tokens,
		http:   &http.Client{Timeout: timeout},
		retry:  retry.Default(),
		log:    logging.OrDiscard(log).With("component", "quickbooks.client"),
	}
}

// WithRetry returns a copy of c using p.
func (c *Client) WithRetry(p retry.Policy) *Client {
	cp := *c
	cp.retry = p
	return &cp
}

// Fetch reads entity name/id. Authentication failures are not retried;
// timeouts, 429 and 5xx responses are.
func (c *Client) Fetch(ctx context.Context, name, id string) (Entity, error) {
	canonical, ok := CanonicalName(name)
	if !ok {
		return nil, apperr.Validation("unsupported QuickBooks entity %q", name)
	}
	if id == "" {
		return nil, apperr.Validation("%s id is required", canonical)
	}

	var entity Entity
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		tok, err := c.tokens.GetValidAccessToken(ctx)
		if err != nil {
			return err
		}
		body, err := c.get(ctx, tok, canonical, id)
		if err != nil {
			return err
		}
		entity, err = DecodeEntity(canonical, body)
		if err != nil {
			return apperr.Internal(err, "decode QuickBooks %s %s", canonical, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entity, nil
}

func (c *Client) get(ctx context.Context, tok AccessToken, name, id string) ([]byte, error) {
	u := fmt.Sprintf("%s/v3/company/%s/%s/%s?minorversion=%s",
		c.base, url.PathEscape(tok.CompanyID), strings.ToLower(name), url.PathEscape(id), MinorVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, apperr.Internal(err, "build QuickBooks request")
	}
	req.Header.Set("Authorization", "Bearer "+tok.Value)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil, apperr.Connection(err, "QuickBooks %s %s timed out", name, id)
		}
		return nil, apperr.Connection(err, "QuickBooks %s %s", name, id)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, apperr.Connection(err, "read QuickBooks %s %s", name, id)
	}
	c.log.Debug("quickbooks fetch", "entity", name, "id", id, "status", resp.StatusCode, "elapsed", time.Since(start))

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, apperr.Authentication("QuickBooks refused %s %s (%d)", name, id, resp.StatusCode).
			WithSuggestion("reconnect QuickBooks if this persists")
	case resp.StatusCode == http.StatusNotFound:
		return nil, apperr.NotFound("QuickBooks %s %s not found", name, id)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, apperr.Connection(fmt.Errorf("status %d", resp.StatusCode), "QuickBooks %s %s", name, id)
	default:
		return nil, apperr.Validation("QuickBooks rejected %s %s request (%d)", name, id, resp.StatusCode)
	}
}
