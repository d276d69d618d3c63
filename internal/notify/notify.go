// Package notify delivers engine events to configured webhooks. Delivery is
// asynchronous and lossy under backpressure: a full queue drops the event
// and counts it, so a dead endpoint can never stall governance.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/warden-project/warden/internal/config"
	"github.com/warden-project/warden/internal/events"
)

const (
	headerEvent     = "X-Warden-Event"
	headerSignature = "X-Warden-Signature"
	userAgent       = "warden-notify/1.0"
)

type delivery struct {
	event   string
	payload []byte
	hook    config.HookConfig
}

// Notifier fans engine events out to webhooks.
type Notifier struct {
	cfg    config.NotifyConfig
	client *http.Client
	logger *zap.Logger

	queue   chan delivery
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	dropped atomic.Uint64
}

// New builds a notifier and starts its delivery worker. client and logger
// may be nil.
func New(cfg config.NotifyConfig, client *http.Client, logger *zap.Logger) *Notifier {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	queue := cfg.Queue
	if queue <= 0 {
		queue = 128
	}
	ctx, cancel := context.WithCancel(context.Background())
	n := &Notifier{
		cfg:    cfg,
		client: client,
		logger: logger,
		queue:  make(chan delivery, queue),
		ctx:    ctx,
		cancel: cancel,
	}
	n.wg.Add(1)
	go n.worker()
	return n
}

// Watch forwards everything from an event channel until it closes. Meant to
// be handed a bus subscription.
func (n *Notifier) Watch(ch <-chan events.Event) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		for ev := range ch {
			n.Publish(ev)
		}
	}()
}

// Publish queues one event for every hook that wants it.
func (n *Notifier) Publish(ev events.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		n.logger.Error("notify marshal failed", zap.Error(err))
		return
	}
	for _, hook := range n.cfg.Hooks {
		if !wants(hook, string(ev.Type)) {
			continue
		}
		select {
		case n.queue <- delivery{event: string(ev.Type), payload: payload, hook: hook}:
		default:
			n.dropped.Add(1)
			n.logger.Warn("notify queue full, dropping event",
				zap.String("event", string(ev.Type)),
				zap.String("url", hook.URL))
		}
	}
}

// Dropped reports how many deliveries were discarded due to backpressure.
func (n *Notifier) Dropped() uint64 {
	return n.dropped.Load()
}

// Stop drains the queue and shuts the worker down.
func (n *Notifier) Stop() {
	n.cancel()
	n.wg.Wait()
}

func (n *Notifier) worker() {
	defer n.wg.Done()
	for {
		select {
		case <-n.ctx.Done():
			// Deliver what is already queued before exiting.
			for {
				select {
				case d := <-n.queue:
					n.deliver(d)
				default:
					return
				}
			}
		case d := <-n.queue:
			n.deliver(d)
		}
	}
}

// deliver posts one payload with retries.
func (n *Notifier) deliver(d delivery) {
	retries := n.cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	delay := n.cfg.RetryDelayDuration()

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			select {
			case <-n.ctx.Done():
				// Shutting down; abandon the retries, not the log line.
				n.logger.Warn("notify delivery abandoned at shutdown",
					zap.String("event", d.event),
					zap.String("url", d.hook.URL),
					zap.Error(lastErr))
				return
			case <-time.After(delay):
			}
		}
		if err := n.post(d); err != nil {
			lastErr = err
			continue
		}
		return
	}
	n.logger.Warn("notify delivery failed",
		zap.String("event", d.event),
		zap.String("url", d.hook.URL),
		zap.Int("attempts", retries+1),
		zap.Error(lastErr))
}

func (n *Notifier) post(d delivery) error {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, d.hook.URL, bytes.NewReader(d.payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(headerEvent, d.event)
	if d.hook.Secret != "" {
		req.Header.Set(headerSignature, Sign(d.payload, d.hook.Secret))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &statusError{code: resp.StatusCode, body: string(body)}
	}
	return nil
}

// Sign computes the hook signature for a payload: HMAC-SHA256, hex, with a
// scheme prefix so receivers can evolve.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// wants reports whether a hook subscribes to an event type. An empty filter
// or "*" matches everything.
func wants(hook config.HookConfig, event string) bool {
	if len(hook.Events) == 0 {
		return true
	}
	for _, e := range hook.Events {
		if e == event || e == "*" {
			return true
		}
	}
	return false
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return http.StatusText(e.code)
	}
	return http.StatusText(e.code) + ": " + e.body
}
