package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultRequestTimeout bounds a single delivery attempt end to end.
const DefaultRequestTimeout = 30 * time.Second

// System headers attached to every outgoing request. Custom endpoint
// headers can never override them.
const (
	HeaderEvent     = "X-Webhook-Event"
	HeaderDelivery  = "X-Webhook-Delivery"
	HeaderTimestamp = "X-Webhook-Timestamp"
	HeaderSignature = "X-Webhook-Signature-256"
)

// AttemptRecorder receives per-attempt observations for metrics.
type AttemptRecorder interface {
	RecordAttempt(eventType string, status Status, elapsed time.Duration)
}

// NopRecorder discards all observations.
type NopRecorder struct{}

func (NopRecorder) RecordAttempt(string, Status, time.Duration) {}

/* Executor performs a single delivery attempt: claim the record, build
 * the request from the stored payload bytes, send it, and record the
 * outcome on both the delivery and its append-only attempt log.
 * All collaborators are injected so tests can substitute a fake clock
 * and an httptest transport.
 */
type Executor struct {
	repo     Repository
	client   *http.Client
	backoff  Backoff
	recorder AttemptRecorder
	logger   *slog.Logger
	now      func() time.Time
}

// ExecutorOption configures optional Executor collaborators.
type ExecutorOption func(*Executor)

// WithClient replaces the HTTP client used for attempts.
func WithClient(c *http.Client) ExecutorOption {
	return func(e *Executor) { e.client = c }
}

// WithBackoff replaces the retry backoff policy.
func WithBackoff(b Backoff) ExecutorOption {
	return func(e *Executor) { e.backoff = b }
}

// WithRecorder replaces the attempt metrics recorder.
func WithRecorder(r AttemptRecorder) ExecutorOption {
	return func(e *Executor) { e.recorder = r }
}

// WithClock replaces the time source, for tests.
func WithClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) { e.now = now }
}

// NewExecutor creates an executor with dependency injection
func NewExecutor(repo Repository, logger *slog.Logger, opts ...ExecutorOption) *Executor {
	e := &Executor{
		repo:     repo,
		client:   &http.Client{Timeout: DefaultRequestTimeout},
		backoff:  DefaultBackoff,
		recorder: NopRecorder{},
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

/* Execute runs one attempt for the given delivery id. It returns the
 * record as it stands after the attempt. ErrNotDeliverable from the
 * claim is not an error condition for callers that fan ids out from a
 * queue: it just means another worker got there first or the record
 * reached a terminal state.
 */
func (e *Executor) Execute(ctx context.Context, id string) (Delivery, error) {
	d, err := e.repo.Claim(ctx, id, e.now())
	if err != nil {
		return Delivery{}, fmt.Errorf("claiming delivery: %w", err)
	}

	headers := e.buildHeaders(d)

	start := e.now()
	res, sendErr := e.send(ctx, d, headers)
	elapsed := e.now().Sub(start)
	res.Elapsed = elapsed

	attempt := Attempt{
		ID:             uuid.New().String(),
		DeliveryID:     d.ID,
		AttemptNumber:  d.AttemptCount,
		AttemptedAt:    start,
		RequestHeaders: headers,
		RequestPayload: d.Payload,
	}

	var out Delivery
	if sendErr == nil && res.Status >= 200 && res.Status < 300 {
		out, err = e.repo.MarkDelivered(ctx, d.ID, res, e.now())
		if err != nil {
			return Delivery{}, fmt.Errorf("marking delivered: %w", err)
		}
		attempt.ResponseStatus = res.Status
		attempt.ResponseHeaders = res.Headers
		attempt.ResponseBody = Truncate(res.Body, MaxLogBodyBytes)
		attempt.ResponseTimeMs = elapsed.Milliseconds()

		e.logger.Info("webhook delivered",
			slog.String("delivery_id", d.ID),
			slog.String("event_type", d.EventType),
			slog.Int("attempt", d.AttemptCount),
			slog.Int("status", res.Status),
			slog.Duration("elapsed", elapsed))
	} else {
		failure := Failure{}
		if sendErr != nil {
			attempt.ErrorMessage = sendErr.Error()
			attempt.ErrorType = classifyError(sendErr)
			failure.Message = sendErr.Error()
		} else {
			attempt.ResponseStatus = res.Status
			attempt.ResponseHeaders = res.Headers
			attempt.ResponseBody = Truncate(res.Body, MaxLogBodyBytes)
			failure.Message = fmt.Sprintf("HTTP %d: %s", res.Status, Truncate(res.Body, MaxErrorBodyBytes))
			failure.Result = &res
		}
		attempt.ResponseTimeMs = elapsed.Milliseconds()

		if d.AttemptCount < d.MaxAttempts {
			next := e.now().Add(e.backoff.NextDelay(d.AttemptCount))
			failure.NextRetryAt = &next
		}

		out, err = e.repo.MarkFailed(ctx, d.ID, failure, e.now())
		if err != nil {
			return Delivery{}, fmt.Errorf("marking failed: %w", err)
		}

		e.logger.Warn("webhook attempt failed",
			slog.String("delivery_id", d.ID),
			slog.String("event_type", d.EventType),
			slog.Int("attempt", d.AttemptCount),
			slog.String("error", failure.Message),
			slog.String("status", out.Status.String()))
	}

	if logErr := e.repo.AppendLog(ctx, attempt); logErr != nil {
		e.logger.Error("appending attempt log",
			slog.String("delivery_id", d.ID),
			slog.String("error", logErr.Error()))
	}

	e.recorder.RecordAttempt(d.EventType, out.Status, elapsed)

	return out, nil
}

// buildHeaders merges endpoint headers under the system headers. The
// timestamp header carries unix seconds so receivers can reject replays.
func (e *Executor) buildHeaders(d Delivery) map[string]string {
	headers := make(map[string]string, len(d.Headers)+6)
	for k, v := range d.Headers {
		headers[k] = v
	}

	headers["Content-Type"] = "application/json"
	headers["User-Agent"] = "webhook-outbox/1.0"
	headers[HeaderEvent] = d.EventType
	headers[HeaderDelivery] = d.ID
	headers[HeaderTimestamp] = strconv.FormatInt(e.now().Unix(), 10)
	if d.Signature != "" {
		headers[HeaderSignature] = d.Signature
	}

	return headers
}

func (e *Executor) send(ctx context.Context, d Delivery, headers map[string]string) (Result, error) {
	method := d.HTTPMethod
	if method == "" {
		method = http.MethodPost
	}

	req, err := http.NewRequestWithContext(ctx, method, d.URL, bytes.NewReader(d.Payload))
	if err != nil {
		return Result{}, fmt.Errorf("building request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxLogBodyBytes+1))
	if err != nil {
		return Result{}, fmt.Errorf("reading response body: %w", err)
	}

	respHeaders := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		respHeaders[k] = resp.Header.Get(k)
	}

	return Result{
		Status:  resp.StatusCode,
		Body:    string(body),
		Headers: respHeaders,
	}, nil
}

// classifyError buckets transport-level failures for the attempt log.
func classifyError(err error) string {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "dns_error"
	}

	msg := err.Error()
	if strings.Contains(msg, "connection refused") {
		return "connection_refused"
	}

	return "network"
}
