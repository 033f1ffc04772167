package quickbooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Kodeloom/spacovers-admin/internal/apperr"
	"github.com/Kodeloom/spacovers-admin/internal/logging"
)

// SignatureHeader carries the base64 HMAC-SHA256 of the raw webhook body.
const SignatureHeader = "intuit-signature"

// Notification is the webhook payload.
type Notification struct {
	EventNotifications []EventNotification `json:"eventNotifications"`
}

// EventNotification groups the changes of one company.
type EventNotification struct {
	RealmID         string          `json:"realmId"`
	DataChangeEvent DataChangeEvent `json:"dataChangeEvent"`
}

type DataChangeEvent struct {
	Entities []EntityChange `json:"entities"`
}

// EntityChange names one changed entity. DeletedID is set on merges and
// names the entity merged away.
type EntityChange struct {
	Name        string    `json:"name"`
	ID          string    `json:"id"`
	Operation   string    `json:"operation"`
	LastUpdated Timestamp `json:"lastUpdated"`
	DeletedID   string    `json:"deletedId,omitempty"`
}

// Intuit sends offsets without a colon ("2015-10-05T14:42:19-0700").
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999-0700",
	"2006-01-02T15:04:05",
}

// Timestamp is a webhook time. Values in an unknown layout decode to the
// zero time rather than rejecting the notification.
type Timestamp struct {
	time.Time
}

func (ts *Timestamp) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil || raw == "" {
		ts.Time = time.Time{}
		return nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			ts.Time = t
			return nil
		}
	}
	ts.Time = time.Time{}
	return nil
}

func (ts Timestamp) MarshalJSON() ([]byte, error) {
	if ts.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(ts.Time.Format(time.RFC3339))
}

// Len returns the number of entity changes in n.
func (n Notification) Len() int {
	total := 0
	for _, ev := range n.EventNotifications {
		total += len(ev.DataChangeEvent.Entities)
	}
	return total
}

// VerifySignature reports whether signature is the base64 HMAC-SHA256 of
// body keyed with verifier. An empty signature or verifier never verifies.
func VerifySignature(body []byte, signature, verifier string) bool {
	signature = strings.TrimSpace(signature)
	if signature == "" || verifier == "" {
		return false
	}
	got, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(verifier))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// Sign returns the signature Intuit would send for body.
func Sign(body []byte, verifier string) string {
	mac := hmac.New(sha256.New, []byte(verifier))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// ParseWebhook decodes a verified webhook body.
func ParseWebhook(body []byte) (Notification, error) {
	var n Notification
	if err := json.Unmarshal(body, &n); err != nil {
		return n, apperr.Validation("malformed webhook payload: %v", err)
	}
	for _, ev := range n.EventNotifications {
		if ev.RealmID == "" {
			return n, apperr.Validation("webhook notification without realmId")
		}
	}
	return n, nil
}

// NotificationHandler processes a parsed notification.
type NotificationHandler interface {
	HandleNotification(ctx context.Context, n Notification) []ChangeResult
}

// Dispatcher runs webhook processing after the response has been written.
type Dispatcher interface {
	Dispatch(n Notification)
}

// GoDispatcher processes each notification on its own goroutine with a
// context detached from the request. Wait blocks until all are done.
type GoDispatcher struct {
	handler NotificationHandler
	timeout time.Duration
	log     *slog.Logger
	wg      sync.WaitGroup
}

// NewGoDispatcher builds a dispatcher giving each notification timeout to
// complete.
func NewGoDispatcher(h NotificationHandler, timeout time.Duration, log *slog.Logger) *GoDispatcher {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &GoDispatcher{handler: h, timeout: timeout, log: logging.OrDiscard(log).With("component", "quickbooks.webhook")}
}

func (d *GoDispatcher) Dispatch(n Notification) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.log.Error("webhook processing panicked", "panic", r)
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		logResults(d.log, d.handler.HandleNotification(ctx, n))
	}()
}

// Wait blocks until dispatched notifications finish or ctx is done.
func (d *GoDispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InlineDispatcher processes notifications synchronously and keeps the
// results.
type InlineDispatcher struct {
	Handler NotificationHandler
	mu      sync.Mutex
	results []ChangeResult
}

func (d *InlineDispatcher) Dispatch(n Notification) {
	res := d.Handler.HandleNotification(context.Background(), n)
	d.mu.Lock()
	d.results = append(d.results, res...)
	d.mu.Unlock()
}

// Results returns everything processed so far.
func (d *InlineDispatcher) Results() []ChangeResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]ChangeResult(nil), d.results...)
}

func logResults(log *slog.Logger, results []ChangeResult) {
	var synced, skipped, failed int
	for _, r := range results {
		switch r.Status {
		case StatusFailed:
			failed++
		case StatusSkipped:
			skipped++
		default:
			synced++
		}
	}
	level := slog.LevelInfo
	if failed > 0 {
		level = slog.LevelWarn
	}
	log.Log(context.Background(), level, "webhook processed", "synced", synced, "skipped", skipped, "failed", failed)
}
