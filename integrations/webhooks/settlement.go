package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"stakevault/native/vault"
)

// EventType represents the logical webhook topic.
type EventType string

const (
	// EventSettlementConfirmed is emitted when a bucket transfer is confirmed
	// by the ledger, including recovered duplicates.
	EventSettlementConfirmed EventType = "vault.settlement.confirmed"
	// EventSettlementFailed is emitted when a transfer attempt fails and the
	// claim stays pending.
	EventSettlementFailed EventType = "vault.settlement.failed"

	defaultMaxAttempts     = 5
	defaultMinBackoff      = 2 * time.Second
	defaultMaxBackoff      = 30 * time.Second
	defaultQueueSize       = 32
	defaultDeliveryTimeout = 15 * time.Second
)

var (
	// ErrQueueFull is returned when an event is dropped because the delivery
	// queue is saturated. Record never waits for the worker.
	ErrQueueFull = errors.New("webhook: delivery queue full")
	ErrClosed    = errors.New("webhook: dispatcher closed")
)

// SettlementPayload describes the webhook body for settlement events.
type SettlementPayload struct {
	Type       EventType `json:"type"`
	User       string    `json:"user"`
	Bucket     string    `json:"bucket"`
	Asset      string    `json:"asset"`
	Recipient  string    `json:"recipient"`
	Amount     string    `json:"amount"`
	Memo       string    `json:"memo"`
	Nonce      uint64    `json:"nonce"`
	Receipt    uint64    `json:"receipt,omitempty"`
	Error      string    `json:"error,omitempty"`
	At         time.Time `json:"at"`
	DeliveryID string    `json:"deliveryId"`
}

// Dispatcher orchestrates webhook deliveries with retry and exponential backoff.
type Dispatcher struct {
	endpoint    string
	secret      []byte
	client      *http.Client
	logger      *slog.Logger
	maxAttempts int
	minBackoff  time.Duration
	maxBackoff  time.Duration
	queueSize   int

	ctx    context.Context
	cancel context.CancelFunc
	queue  chan delivery
	wg     sync.WaitGroup
}

type delivery struct {
	eventType EventType
	id        string
	body      []byte
}

// Option mutates dispatcher configuration.
type Option func(*Dispatcher)

// WithHTTPClient overrides the HTTP client used for deliveries.
func WithHTTPClient(client *http.Client) Option {
	return func(d *Dispatcher) {
		if client != nil {
			d.client = client
		}
	}
}

// WithLogger reports exhausted deliveries.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithRetryPolicy overrides the retry configuration.
func WithRetryPolicy(maxAttempts int, minBackoff, maxBackoff time.Duration) Option {
	return func(d *Dispatcher) {
		if maxAttempts > 0 {
			d.maxAttempts = maxAttempts
		}
		if minBackoff > 0 {
			d.minBackoff = minBackoff
		}
		if maxBackoff >= minBackoff && maxBackoff > 0 {
			d.maxBackoff = maxBackoff
		}
	}
}

// WithQueueSize bounds the number of events waiting for delivery.
func WithQueueSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queueSize = n
		}
	}
}

// NewDispatcher constructs a dispatcher and spawns the worker goroutine.
func NewDispatcher(endpoint string, secret []byte, opts ...Option) (*Dispatcher, error) {
	endpoint = string(bytes.TrimSpace([]byte(endpoint)))
	if endpoint == "" {
		return nil, errors.New("webhook: endpoint required")
	}
	if len(secret) == 0 {
		return nil, errors.New("webhook: secret required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	dispatcher := &Dispatcher{
		endpoint:    endpoint,
		secret:      append([]byte(nil), secret...),
		client:      &http.Client{Timeout: defaultDeliveryTimeout},
		logger:      slog.Default(),
		maxAttempts: defaultMaxAttempts,
		minBackoff:  defaultMinBackoff,
		maxBackoff:  defaultMaxBackoff,
		ctx:         ctx,
		cancel:      cancel,
		queueSize:   defaultQueueSize,
	}
	for _, opt := range opts {
		opt(dispatcher)
	}
	dispatcher.queue = make(chan delivery, dispatcher.queueSize)
	dispatcher.wg.Add(1)
	go dispatcher.worker()
	return dispatcher, nil
}

// Close stops the dispatcher and waits for inflight deliveries to complete.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.cancel()
	d.wg.Wait()
}

// Record implements vault.Journal by queueing a settlement event.
func (d *Dispatcher) Record(ctx context.Context, attempt vault.Attempt) error {
	payload := SettlementPayload{
		Type:      EventSettlementConfirmed,
		User:      attempt.User.String(),
		Bucket:    attempt.Bucket.String(),
		Asset:     attempt.Asset.String(),
		Recipient: attempt.Recipient.String(),
		Amount:    "0",
		Memo:      hex.EncodeToString(attempt.Memo),
		Nonce:     attempt.Nonce,
		Receipt:   uint64(attempt.Receipt),
		Error:     attempt.Error,
		At:        attempt.At.UTC(),
	}
	if attempt.Amount != nil {
		payload.Amount = attempt.Amount.String()
	}
	if attempt.Status == vault.AttemptFailed {
		payload.Type = EventSettlementFailed
	}
	return d.Enqueue(ctx, payload)
}

// Enqueue hands a settlement event to the worker without blocking. Events are
// dropped with ErrQueueFull while the queue is saturated.
func (d *Dispatcher) Enqueue(ctx context.Context, payload SettlementPayload) error {
	if d == nil {
		return errors.New("webhook: dispatcher not initialised")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.ctx.Err() != nil {
		return ErrClosed
	}
	if payload.Type == "" {
		payload.Type = EventSettlementConfirmed
	}
	if payload.At.IsZero() {
		payload.At = time.Now().UTC()
	}
	if payload.DeliveryID == "" {
		payload.DeliveryID = uuid.NewString()
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	select {
	case d.queue <- delivery{eventType: payload.Type, id: payload.DeliveryID, body: data}:
		return nil
	default:
		d.logger.Warn("webhook event dropped",
			slog.String("event", string(payload.Type)),
			slog.String("delivery_id", payload.DeliveryID),
			slog.Int("queue_size", cap(d.queue)))
		return ErrQueueFull
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case job := <-d.queue:
			d.process(job)
		case <-d.ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) process(job delivery) {
	attempt := 0
	backoff := d.minBackoff
	for {
		attempt++
		ctx, cancel := context.WithTimeout(d.ctx, d.deliveryTimeout())
		err := d.send(ctx, job)
		cancel()
		if err == nil {
			return
		}
		if attempt >= d.maxAttempts {
			d.logger.Warn("webhook delivery abandoned",
				slog.String("event", string(job.eventType)),
				slog.String("delivery_id", job.id),
				slog.Int("attempts", attempt),
				slog.Any("error", err))
			return
		}
		select {
		case <-time.After(backoff):
		case <-d.ctx.Done():
			return
		}
		backoff = nextBackoff(backoff, d.maxBackoff)
	}
}

// deliveryTimeout bounds one attempt. A client without its own timeout would
// otherwise yield an already expired context.
func (d *Dispatcher) deliveryTimeout() time.Duration {
	if d.client.Timeout > 0 {
		return d.client.Timeout
	}
	return defaultDeliveryTimeout
}

func (d *Dispatcher) send(ctx context.Context, job delivery) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(job.body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Vault-Event", string(job.eventType))
	req.Header.Set("X-Vault-Delivery", job.id)
	req.Header.Set("X-Vault-Signature", d.sign(job.body))
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("webhook: delivery failed with status %d", resp.StatusCode)
}

func (d *Dispatcher) sign(body []byte) string {
	mac := hmac.New(sha256.New, d.secret)
	_, _ = mac.Write(body)
	sum := mac.Sum(nil)
	return "sha256=" + hex.EncodeToString(sum)
}

// VerifySignature checks a received X-Vault-Signature header against body.
func VerifySignature(secret, body []byte, header string) bool {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(header))
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	if next < current {
		return max
	}
	return next
}
