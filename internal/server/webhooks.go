package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"portfolioshare/internal/config"
	"portfolioshare/internal/domain"
	"portfolioshare/internal/engine"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
)

// SignatureHeader carries the hex HMAC-SHA256 of the body under the hook secret.
const SignatureHeader = "X-Folio-Signature"

// hook is one configured endpoint and how far it has been fed.
type hook struct {
	cfg    config.WebhookConfig
	types  map[string]bool
	client *http.Client
	cursor int64
	primed bool
}

func (h *hook) wants(evtType string) bool {
	return len(h.types) == 0 || h.types[evtType]
}

type webhookDispatcher struct {
	engine   engine.Engine
	hooks    []*hook
	log      *zap.Logger
	interval time.Duration
}

func newWebhookDispatcher(e engine.Engine, cfgs []config.WebhookConfig, log *zap.Logger) *webhookDispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	d := &webhookDispatcher{engine: e, log: log.Named("webhook"), interval: defaultWebhookInterval}
	for _, c := range cfgs {
		if (c.Enabled != nil && !*c.Enabled) || strings.TrimSpace(c.URL) == "" {
			continue
		}
		timeout := defaultWebhookTimeout
		if c.TimeoutSeconds > 0 {
			timeout = time.Duration(c.TimeoutSeconds) * time.Second
		}
		h := &hook{cfg: c, types: map[string]bool{}, client: &http.Client{Timeout: timeout}}
		for _, t := range c.Events {
			if t = strings.TrimSpace(t); t != "" {
				h.types[t] = true
			}
		}
		d.hooks = append(d.hooks, h)
	}
	return d
}

// StartWebhooks forwards share activity events to the configured hooks until
// ctx is cancelled. Delivery starts from the newest event at start-up. The
// returned channel is closed once the dispatcher has stopped.
func StartWebhooks(ctx context.Context, e engine.Engine, hooks []config.WebhookConfig, log *zap.Logger) <-chan struct{} {
	done := make(chan struct{})
	d := newWebhookDispatcher(e, hooks, log)
	if len(d.hooks) == 0 {
		close(done)
		return done
	}
	go func() {
		defer close(done)
		d.run(ctx)
	}()
	return done
}

func (d *webhookDispatcher) run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		d.dispatchAll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// dispatchAll gives every hook one batch. Hooks are fed one at a time, so a
// hook's state is only touched from here.
func (d *webhookDispatcher) dispatchAll(ctx context.Context) {
	for _, h := range d.hooks {
		if ctx.Err() != nil {
			return
		}
		d.feed(ctx, h)
	}
}

func (d *webhookDispatcher) feed(ctx context.Context, h *hook) {
	if !h.primed {
		latest, err := d.engine.Repo.LatestEventID(ctx)
		if err != nil {
			d.log.Warn("init cursor failed", zap.String("url", h.cfg.URL), zap.Error(err))
			return
		}
		h.cursor, h.primed = latest, true
	}
	batch, err := d.engine.Repo.EventsAfter(ctx, defaultWebhookBatch, h.cursor)
	if err != nil {
		if ctx.Err() == nil {
			d.log.Warn("fetch events failed", zap.Error(err))
		}
		return
	}
	for _, evt := range batch {
		if h.wants(evt.Type) {
			if err := d.deliver(ctx, h, evt); err != nil {
				// Retried from the same event on the next tick.
				d.log.Warn("deliver failed", zap.String("url", h.cfg.URL), zap.Int64("event_id", evt.ID), zap.Error(err))
				return
			}
		}
		h.cursor = evt.ID
	}
}

type webhookEvent struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	ShareID    string          `json:"share_id,omitempty"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	Actor      string          `json:"actor"`
	TS         string          `json:"ts"`
	Payload    json.RawMessage `json:"payload"`
}

func encodeEvent(evt domain.Event) ([]byte, error) {
	payload := json.RawMessage("{}")
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		payload = json.RawMessage(evt.Payload)
	}
	return json.Marshal(webhookEvent{
		ID:         evt.ID,
		Type:       evt.Type,
		ShareID:    evt.ShareID,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		Actor:      evt.Actor,
		TS:         evt.TS,
		Payload:    payload,
	})
}

// Sign returns the signature a receiver should expect for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func (d *webhookDispatcher) deliver(ctx context.Context, h *hook, evt domain.Event) error {
	body, err := encodeEvent(evt)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Folio-Event", evt.Type)
	req.Header.Set("X-Folio-Delivery", strconv.FormatInt(evt.ID, 10))
	if secret := strings.TrimSpace(h.cfg.Secret); secret != "" {
		req.Header.Set(SignatureHeader, Sign(secret, body))
	}
	res, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}
