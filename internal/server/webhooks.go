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
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"planline/internal/config"
	"planline/internal/domain"
	"planline/internal/repo"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
	maxWebhookBackoff      = time.Minute
)

// hookTarget is the delivery state of one configured webhook.
type hookTarget struct {
	cfg      config.WebhookConfig
	filter   eventFilter
	client   *http.Client
	cursor   int64
	primed   bool
	failures int
	retryAt  time.Time
}

// webhookDispatcher polls the event log and posts new events of one project
// to each enabled hook. A hook starts at the newest event present when it is
// first polled; after a failed delivery it backs off and retries the same
// event.
type webhookDispatcher struct {
	repo     repo.Repo
	project  string
	targets  []*hookTarget
	logger   *log.Logger
	interval time.Duration
	now      func() time.Time
}

func newWebhookDispatcher(r repo.Repo, cfg *config.Config, logger *log.Logger) *webhookDispatcher {
	if cfg == nil || strings.TrimSpace(cfg.Project.ID) == "" {
		return nil
	}
	var targets []*hookTarget
	for _, hook := range cfg.Webhooks {
		if strings.TrimSpace(hook.URL) == "" || (hook.Enabled != nil && !*hook.Enabled) {
			continue
		}
		timeout := defaultWebhookTimeout
		if hook.TimeoutSeconds > 0 {
			timeout = time.Duration(hook.TimeoutSeconds) * time.Second
		}
		targets = append(targets, &hookTarget{
			cfg:    hook,
			filter: newEventFilter(hook.Events),
			client: &http.Client{Timeout: timeout},
		})
	}
	if len(targets) == 0 {
		return nil
	}
	if logger == nil {
		logger = log.Default()
	}
	return &webhookDispatcher{
		repo:     r,
		project:  cfg.Project.ID,
		targets:  targets,
		logger:   logger,
		interval: defaultWebhookInterval,
		now:      time.Now,
	}
}

// run delivers events until ctx is done.
func (d *webhookDispatcher) run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		d.tick(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// prime moves every hook that has not polled yet to the newest event.
func (d *webhookDispatcher) prime(ctx context.Context) {
	for _, t := range d.targets {
		if t.primed {
			continue
		}
		latest, err := d.repo.LatestEventID(ctx, d.project)
		if err != nil {
			d.logger.Printf("webhook %s: read latest event: %v", t.cfg.URL, err)
			continue
		}
		t.cursor, t.primed = latest, true
	}
}

func (d *webhookDispatcher) tick(ctx context.Context) {
	d.prime(ctx)
	now := d.now()
	for _, t := range d.targets {
		if !t.primed || now.Before(t.retryAt) {
			continue
		}
		if err := d.deliver(ctx, t); err != nil {
			t.failures++
			wait := backoff(d.interval, t.failures)
			t.retryAt = now.Add(wait)
			d.logger.Printf("webhook %s: %v (attempt %d, retry in %s)", t.cfg.URL, err, t.failures, wait)
			continue
		}
		t.failures, t.retryAt = 0, time.Time{}
	}
}

func (d *webhookDispatcher) deliver(ctx context.Context, t *hookTarget) error {
	batch, err := d.repo.EventsAfter(ctx, defaultWebhookBatch, t.cursor, d.project)
	if err != nil {
		return fmt.Errorf("fetch events: %w", err)
	}
	for _, evt := range batch {
		if t.filter.match(evt.Type) {
			if err := d.post(ctx, t, evt); err != nil {
				return fmt.Errorf("deliver event %d: %w", evt.ID, err)
			}
		}
		t.cursor = evt.ID
	}
	return nil
}

// backoff doubles the poll interval per consecutive failure up to a minute.
func backoff(interval time.Duration, failures int) time.Duration {
	wait := interval
	for i := 1; i < failures && wait < maxWebhookBackoff; i++ {
		wait *= 2
	}
	return min(wait, maxWebhookBackoff)
}

type webhookEvent struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	ProjectID  string          `json:"project_id"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	TS         string          `json:"ts"`
	Payload    json.RawMessage `json:"payload"`
}

// signPayload returns the hex HMAC-SHA256 of body keyed by secret.
func signPayload(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (d *webhookDispatcher) post(ctx context.Context, t *hookTarget, evt domain.Event) error {
	payload := json.RawMessage("{}")
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		payload = json.RawMessage(evt.Payload)
	}
	body, err := json.Marshal(webhookEvent{
		ID:         evt.ID,
		Type:       evt.Type,
		ProjectID:  evt.ProjectID,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		TS:         evt.TS,
		Payload:    payload,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	h := req.Header
	h.Set("Content-Type", "application/json")
	h.Set("User-Agent", "planline-webhooks")
	h.Set("X-Planline-Event", evt.Type)
	h.Set("X-Planline-Delivery", strconv.FormatInt(evt.ID, 10))
	h.Set("X-Planline-Project", d.project)
	if strings.TrimSpace(t.cfg.Secret) != "" {
		h.Set("X-Planline-Signature", "sha256="+signPayload(t.cfg.Secret, body))
	}
	res, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		if key := strings.TrimSpace(evt); key != "" {
			set[key] = struct{}{}
		}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	if _, ok := f.set[evt]; ok {
		return true
	}
	if _, ok := f.set["*"]; ok {
		return true
	}
	// "task.*" matches every task event
	if i := strings.IndexByte(evt, '.'); i > 0 {
		_, ok := f.set[evt[:i]+".*"]
		return ok
	}
	return false
}
