package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/marcelsud/webhook-outbox/delivery"
)

/* PostgreSQL implementation of delivery.Repository
 * Claim relies on a conditional UPDATE ... RETURNING so mutual
 * exclusion between workers comes from row-level locking: only one of
 * two racing claims matches the WHERE clause.
 */

type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(ctx context.Context, databaseURL string) (*Repository, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to PostgreSQL: %w", err)
	}

	return &Repository{pool: pool}, nil
}

// Migrate creates the schema if it does not exist
func (r *Repository) Migrate(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS webhook_deliveries (
			id                    TEXT PRIMARY KEY,
			webhook_id            TEXT NOT NULL,
			event_type            TEXT NOT NULL,
			event_data            JSONB,
			url                   TEXT NOT NULL,
			http_method           TEXT NOT NULL DEFAULT 'POST',
			headers               JSONB,
			payload               BYTEA NOT NULL,
			signature             TEXT NOT NULL DEFAULT '',
			status                TEXT NOT NULL,
			attempt_count         INT NOT NULL DEFAULT 0,
			max_attempts          INT NOT NULL,
			last_response_status  INT NOT NULL DEFAULT 0,
			last_response_body    TEXT NOT NULL DEFAULT '',
			last_response_headers JSONB,
			last_error_message    TEXT NOT NULL DEFAULT '',
			created_at            TIMESTAMPTZ NOT NULL,
			scheduled_at          TIMESTAMPTZ NOT NULL,
			last_attempted_at     TIMESTAMPTZ,
			delivered_at          TIMESTAMPTZ,
			next_retry_at         TIMESTAMPTZ
		);

		CREATE INDEX IF NOT EXISTS idx_deliveries_status
			ON webhook_deliveries (status);
		CREATE INDEX IF NOT EXISTS idx_deliveries_due
			ON webhook_deliveries (next_retry_at)
			WHERE status = 'retrying';
		CREATE INDEX IF NOT EXISTS idx_deliveries_created
			ON webhook_deliveries (created_at DESC);

		CREATE TABLE IF NOT EXISTS webhook_delivery_logs (
			id               TEXT PRIMARY KEY,
			delivery_id      TEXT NOT NULL REFERENCES webhook_deliveries (id) ON DELETE CASCADE,
			attempt_number   INT NOT NULL,
			attempted_at     TIMESTAMPTZ NOT NULL,
			request_headers  JSONB,
			request_payload  BYTEA,
			response_status  INT NOT NULL DEFAULT 0,
			response_headers JSONB,
			response_body    TEXT NOT NULL DEFAULT '',
			response_time_ms BIGINT NOT NULL DEFAULT 0,
			error_message    TEXT NOT NULL DEFAULT '',
			error_type       TEXT NOT NULL DEFAULT ''
		);

		CREATE INDEX IF NOT EXISTS idx_delivery_logs_delivery
			ON webhook_delivery_logs (delivery_id, attempt_number);
	`)
	if err != nil {
		return fmt.Errorf("migrating schema: %w", err)
	}
	return nil
}

const deliveryColumns = `id, webhook_id, event_type, event_data, url, http_method, headers,
	payload, signature, status, attempt_count, max_attempts,
	last_response_status, last_response_body, last_response_headers,
	last_error_message, created_at, scheduled_at, last_attempted_at,
	delivered_at, next_retry_at`

func (r *Repository) Create(ctx context.Context, d delivery.Delivery) error {
	headers, respHeaders, err := marshalHeaders(d)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO webhook_deliveries (`+deliveryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`,
		d.ID, d.WebhookID, d.EventType, nullableJSON(d.EventData), d.URL, d.HTTPMethod, headers,
		d.Payload, d.Signature, d.Status.String(), d.AttemptCount, d.MaxAttempts,
		d.LastResponseStatus, d.LastResponseBody, respHeaders,
		d.LastErrorMessage, d.CreatedAt, d.ScheduledAt, d.LastAttemptedAt,
		d.DeliveredAt, d.NextRetryAt)
	if err != nil {
		return fmt.Errorf("inserting delivery: %w", err)
	}
	return nil
}

func (r *Repository) Update(ctx context.Context, d delivery.Delivery, prev delivery.Snapshot) error {
	headers, respHeaders, err := marshalHeaders(d)
	if err != nil {
		return err
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE webhook_deliveries SET
			status = $2, attempt_count = $3, max_attempts = $4,
			last_response_status = $5, last_response_body = $6,
			last_response_headers = $7, last_error_message = $8,
			last_attempted_at = $9, delivered_at = $10, next_retry_at = $11,
			headers = $12
		WHERE id = $1 AND status = $13 AND attempt_count = $14`,
		d.ID, d.Status.String(), d.AttemptCount, d.MaxAttempts,
		d.LastResponseStatus, d.LastResponseBody,
		respHeaders, d.LastErrorMessage,
		d.LastAttemptedAt, d.DeliveredAt, d.NextRetryAt,
		headers, prev.Status.String(), prev.AttemptCount)
	if err != nil {
		return fmt.Errorf("updating delivery: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a missing row from a lost snapshot race
		if _, err := r.Get(ctx, d.ID); err != nil {
			return err
		}
		return delivery.ErrStale
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, id string) (delivery.Delivery, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+deliveryColumns+`
		FROM webhook_deliveries WHERE id = $1`, id)
	return scanDelivery(row)
}

func (r *Repository) List(ctx context.Context, filter delivery.ListFilter) ([]delivery.Delivery, int, error) {
	where, args := buildFilter(filter)

	var total int
	countQuery := "SELECT count(*) FROM webhook_deliveries" + where
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting deliveries: %w", err)
	}

	query := "SELECT " + deliveryColumns + " FROM webhook_deliveries" + where +
		" ORDER BY created_at DESC, id"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing deliveries: %w", err)
	}
	defer rows.Close()

	items := make([]delivery.Delivery, 0)
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, d)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating deliveries: %w", err)
	}

	return items, total, nil
}

func (r *Repository) ListLogs(ctx context.Context, deliveryID string) ([]delivery.Attempt, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, delivery_id, attempt_number, attempted_at,
			request_headers, request_payload,
			response_status, response_headers, response_body, response_time_ms,
			error_message, error_type
		FROM webhook_delivery_logs
		WHERE delivery_id = $1
		ORDER BY attempt_number`, deliveryID)
	if err != nil {
		return nil, fmt.Errorf("listing delivery logs: %w", err)
	}
	defer rows.Close()

	attempts := make([]delivery.Attempt, 0)
	for rows.Next() {
		var a delivery.Attempt
		var reqHeaders, respHeaders []byte
		err := rows.Scan(&a.ID, &a.DeliveryID, &a.AttemptNumber, &a.AttemptedAt,
			&reqHeaders, &a.RequestPayload,
			&a.ResponseStatus, &respHeaders, &a.ResponseBody, &a.ResponseTimeMs,
			&a.ErrorMessage, &a.ErrorType)
		if err != nil {
			return nil, fmt.Errorf("scanning attempt: %w", err)
		}
		if a.RequestHeaders, err = unmarshalHeaderMap(reqHeaders); err != nil {
			return nil, err
		}
		if a.ResponseHeaders, err = unmarshalHeaderMap(respHeaders); err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating attempts: %w", err)
	}
	return attempts, nil
}

func (r *Repository) AppendLog(ctx context.Context, a delivery.Attempt) error {
	reqHeaders, err := json.Marshal(a.RequestHeaders)
	if err != nil {
		return fmt.Errorf("marshaling request headers: %w", err)
	}
	respHeaders, err := json.Marshal(a.ResponseHeaders)
	if err != nil {
		return fmt.Errorf("marshaling response headers: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO webhook_delivery_logs (
			id, delivery_id, attempt_number, attempted_at,
			request_headers, request_payload,
			response_status, response_headers, response_body, response_time_ms,
			error_message, error_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		a.ID, a.DeliveryID, a.AttemptNumber, a.AttemptedAt,
		reqHeaders, a.RequestPayload,
		a.ResponseStatus, respHeaders, delivery.Truncate(a.ResponseBody, delivery.MaxLogBodyBytes), a.ResponseTimeMs,
		a.ErrorMessage, a.ErrorType)
	if err != nil {
		return fmt.Errorf("inserting attempt log: %w", err)
	}
	return nil
}

func (r *Repository) Stats(ctx context.Context, filter delivery.StatsFilter) (delivery.Stats, error) {
	where := " WHERE 1=1"
	args := []interface{}{}
	if filter.WebhookID != "" {
		args = append(args, filter.WebhookID)
		where += fmt.Sprintf(" AND webhook_id = $%d", len(args))
	}
	if !filter.CreatedSince.IsZero() {
		args = append(args, filter.CreatedSince)
		where += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, `
		SELECT status, count(*) FROM webhook_deliveries`+where+`
		GROUP BY status`, args...)
	if err != nil {
		return delivery.Stats{}, fmt.Errorf("aggregating status counts: %w", err)
	}
	defer rows.Close()

	stats := delivery.Stats{StatusCounts: make(map[string]int)}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return delivery.Stats{}, fmt.Errorf("scanning status count: %w", err)
		}
		stats.StatusCounts[status] = count
		stats.TotalDeliveries += count
	}
	if err := rows.Err(); err != nil {
		return delivery.Stats{}, fmt.Errorf("iterating status counts: %w", err)
	}

	var avg *float64
	err = r.pool.QueryRow(ctx, `
		SELECT avg(l.response_time_ms)
		FROM webhook_delivery_logs l
		JOIN webhook_deliveries d ON d.id = l.delivery_id`+where+`
		AND l.response_status BETWEEN 200 AND 299`, args...).Scan(&avg)
	if err != nil {
		return delivery.Stats{}, fmt.Errorf("aggregating response times: %w", err)
	}
	if avg != nil {
		stats.AvgResponseTimeMs = *avg
	}

	return stats, nil
}

/* Claim moves a deliverable row into delivering atomically. The WHERE
 * clause re-checks deliverability under the row lock, so a concurrent
 * claim for the same id matches zero rows and reports ErrNotDeliverable.
 */
func (r *Repository) Claim(ctx context.Context, id string, now time.Time) (delivery.Delivery, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE webhook_deliveries SET
			status = 'delivering',
			attempt_count = attempt_count + 1,
			last_attempted_at = $2
		WHERE id = $1
			AND status IN ('pending', 'retrying')
			AND attempt_count < max_attempts
		RETURNING `+deliveryColumns, id, now)

	d, err := scanDelivery(row)
	if errors.Is(err, delivery.ErrNotFound) {
		// Distinguish a missing row from a non-deliverable one
		if _, getErr := r.Get(ctx, id); getErr != nil {
			return delivery.Delivery{}, getErr
		}
		return delivery.Delivery{}, delivery.ErrNotDeliverable
	}
	return d, err
}

func (r *Repository) MarkDelivered(ctx context.Context, id string, res delivery.Result, now time.Time) (delivery.Delivery, error) {
	respHeaders, err := json.Marshal(res.Headers)
	if err != nil {
		return delivery.Delivery{}, fmt.Errorf("marshaling response headers: %w", err)
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE webhook_deliveries SET
			status = 'delivered',
			delivered_at = $2,
			last_response_status = $3,
			last_response_body = $4,
			last_response_headers = $5,
			last_error_message = '',
			next_retry_at = NULL
		WHERE id = $1
		RETURNING `+deliveryColumns,
		id, now, res.Status, delivery.Truncate(res.Body, delivery.MaxSnapshotBodyBytes), respHeaders)
	return scanDelivery(row)
}

func (r *Repository) MarkFailed(ctx context.Context, id string, f delivery.Failure, _ time.Time) (delivery.Delivery, error) {
	respStatus := 0
	respBody := ""
	var respHeaders []byte
	if f.Result != nil {
		respStatus = f.Result.Status
		respBody = delivery.Truncate(f.Result.Body, delivery.MaxSnapshotBodyBytes)
		var err error
		respHeaders, err = json.Marshal(f.Result.Headers)
		if err != nil {
			return delivery.Delivery{}, fmt.Errorf("marshaling response headers: %w", err)
		}
	}

	// A row cancelled while the attempt was in flight stays cancelled;
	// otherwise the retry schedule decides between retrying and failed.
	row := r.pool.QueryRow(ctx, `
		UPDATE webhook_deliveries SET
			status = CASE
				WHEN status = 'cancelled' THEN 'cancelled'
				WHEN $2::timestamptz IS NOT NULL THEN 'retrying'
				ELSE 'failed'
			END,
			next_retry_at = CASE WHEN status = 'cancelled' THEN NULL ELSE $2 END,
			last_error_message = $3,
			last_response_status = CASE WHEN $4 = 0 THEN last_response_status ELSE $4 END,
			last_response_body = CASE WHEN $4 = 0 THEN last_response_body ELSE $5 END,
			last_response_headers = CASE WHEN $4 = 0 THEN last_response_headers ELSE $6 END
		WHERE id = $1
		RETURNING `+deliveryColumns,
		id, f.NextRetryAt, f.Message, respStatus, respBody, respHeaders)
	return scanDelivery(row)
}

func (r *Repository) DueRetries(ctx context.Context, now time.Time, limit int) ([]string, error) {
	query := `
		SELECT id FROM webhook_deliveries
		WHERE (status = 'retrying' AND next_retry_at <= $1)
			OR (status = 'pending' AND scheduled_at <= $1)
		ORDER BY coalesce(next_retry_at, scheduled_at)`
	args := []interface{}{now}
	if limit > 0 {
		args = append(args, limit)
		query += " LIMIT $2"
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing due retries: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning delivery id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating due retries: %w", err)
	}
	return ids, nil
}

func (r *Repository) ReleaseStale(ctx context.Context, olderThan time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE webhook_deliveries SET
			status = 'retrying',
			next_retry_at = last_attempted_at
		WHERE status = 'delivering' AND last_attempted_at <= $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("releasing stale claims: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *Repository) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM webhook_deliveries
		WHERE status IN ('delivered', 'failed', 'cancelled')
			AND created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purging deliveries: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Close releases the connection pool
func (r *Repository) Close(_ context.Context) error {
	r.pool.Close()
	return nil
}

// Helper functions

func buildFilter(filter delivery.ListFilter) (string, []interface{}) {
	clauses := make([]string, 0, 4)
	args := make([]interface{}, 0, 4)

	if filter.Status != nil {
		args = append(args, filter.Status.String())
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.EventType != "" {
		args = append(args, filter.EventType)
		clauses = append(clauses, fmt.Sprintf("event_type = $%d", len(args)))
	}
	if filter.WebhookID != "" {
		args = append(args, filter.WebhookID)
		clauses = append(clauses, fmt.Sprintf("webhook_id = $%d", len(args)))
	}
	if !filter.CreatedSince.IsZero() {
		args = append(args, filter.CreatedSince)
		clauses = append(clauses, fmt.Sprintf("created_at >= $%d", len(args)))
	}

	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func marshalHeaders(d delivery.Delivery) ([]byte, []byte, error) {
	headers, err := json.Marshal(d.Headers)
	if err != nil {
		return nil, nil, fmt.Errorf("marshaling headers: %w", err)
	}
	respHeaders, err := json.Marshal(d.LastResponseHeaders)
	if err != nil {
		return nil, nil, fmt.Errorf("marshaling response headers: %w", err)
	}
	return headers, respHeaders, nil
}

func unmarshalHeaderMap(data []byte) (map[string]string, error) {
	if len(data) == 0 {
		return nil, nil
	}
	m := make(map[string]string)
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshaling headers: %w", err)
	}
	return m, nil
}

func nullableJSON(data json.RawMessage) interface{} {
	if len(data) == 0 {
		return nil
	}
	return []byte(data)
}

func scanDelivery(row pgx.Row) (delivery.Delivery, error) {
	var d delivery.Delivery
	var eventData, headers, respHeaders []byte
	var status string

	err := row.Scan(&d.ID, &d.WebhookID, &d.EventType, &eventData, &d.URL, &d.HTTPMethod, &headers,
		&d.Payload, &d.Signature, &status, &d.AttemptCount, &d.MaxAttempts,
		&d.LastResponseStatus, &d.LastResponseBody, &respHeaders,
		&d.LastErrorMessage, &d.CreatedAt, &d.ScheduledAt, &d.LastAttemptedAt,
		&d.DeliveredAt, &d.NextRetryAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return delivery.Delivery{}, delivery.ErrNotFound
	}
	if err != nil {
		return delivery.Delivery{}, fmt.Errorf("scanning delivery: %w", err)
	}

	d.EventData = json.RawMessage(eventData)
	d.Status = delivery.NewStatus(status)
	if d.Headers, err = unmarshalHeaderMap(headers); err != nil {
		return delivery.Delivery{}, err
	}
	if d.LastResponseHeaders, err = unmarshalHeaderMap(respHeaders); err != nil {
		return delivery.Delivery{}, err
	}
	return d, nil
}
