package chi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/marcelsud/webhook-outbox/delivery"
)

/* HTTP layer DTOs for the delivery admin API
 * Separate from domain entities to avoid leaking internal structure
 */

// deliveryResponse represents a delivery in the API
type deliveryResponse struct {
	ID                 string          `json:"id"`
	WebhookID          string          `json:"webhook_id"`
	EventType          string          `json:"event_type"`
	EventData          json.RawMessage `json:"event_data,omitempty"`
	URL                string          `json:"url"`
	HTTPMethod         string          `json:"http_method"`
	Status             string          `json:"status"`
	AttemptCount       int             `json:"attempt_count"`
	MaxAttempts        int             `json:"max_attempts"`
	LastResponseStatus int             `json:"last_response_status,omitempty"`
	LastResponseBody   string          `json:"last_response_body,omitempty"`
	LastErrorMessage   string          `json:"last_error_message,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	ScheduledAt        time.Time       `json:"scheduled_at"`
	LastAttemptedAt    *time.Time      `json:"last_attempted_at,omitempty"`
	DeliveredAt        *time.Time      `json:"delivered_at,omitempty"`
	NextRetryAt        *time.Time      `json:"next_retry_at,omitempty"`
}

// attemptResponse represents one attempt log entry in the API
type attemptResponse struct {
	ID             string    `json:"id"`
	AttemptNumber  int       `json:"attempt_number"`
	AttemptedAt    time.Time `json:"attempted_at"`
	ResponseStatus int       `json:"response_status,omitempty"`
	ResponseBody   string    `json:"response_body,omitempty"`
	ResponseTimeMs int64     `json:"response_time_ms"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	ErrorType      string    `json:"error_type,omitempty"`
}

// listResponse wraps a page of deliveries with the total match count
type listResponse struct {
	Items  []deliveryResponse `json:"items"`
	Total  int                `json:"total"`
	Limit  int                `json:"limit"`
	Offset int                `json:"offset"`
}

// resendRequest tunes a resend operation
type resendRequest struct {
	Force         bool `json:"force"`
	ResetAttempts bool `json:"reset_attempts"`
	MaxAttempts   *int `json:"max_attempts"`
}

// eventRequest represents an event to fan out to subscribed endpoints
type eventRequest struct {
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
}

// EventTrigger fans one event out to subscribed endpoints
type EventTrigger interface {
	TriggerEvent(ctx context.Context, eventType string, data interface{}) ([]delivery.Delivery, error)
}

func toDeliveryResponse(d delivery.Delivery) deliveryResponse {
	return deliveryResponse{
		ID:                 d.ID,
		WebhookID:          d.WebhookID,
		EventType:          d.EventType,
		EventData:          d.EventData,
		URL:                d.URL,
		HTTPMethod:         d.HTTPMethod,
		Status:             d.Status.String(),
		AttemptCount:       d.AttemptCount,
		MaxAttempts:        d.MaxAttempts,
		LastResponseStatus: d.LastResponseStatus,
		LastResponseBody:   d.LastResponseBody,
		LastErrorMessage:   d.LastErrorMessage,
		CreatedAt:          d.CreatedAt,
		ScheduledAt:        d.ScheduledAt,
		LastAttemptedAt:    d.LastAttemptedAt,
		DeliveredAt:        d.DeliveredAt,
		NextRetryAt:        d.NextRetryAt,
	}
}

// writeError maps domain errors onto HTTP status codes
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, delivery.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, delivery.ErrAlreadyDelivered),
		errors.Is(err, delivery.ErrInvalidState),
		errors.Is(err, delivery.ErrNotDeliverable):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// listDeliveries handles GET /v1/deliveries
func listDeliveries(service delivery.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		filter := delivery.ListFilter{
			EventType: r.URL.Query().Get("event_type"),
			WebhookID: r.URL.Query().Get("webhook_id"),
		}

		if s := r.URL.Query().Get("status"); s != "" {
			status := delivery.NewStatus(s)
			if status.String() != s {
				http.Error(w, fmt.Sprintf("invalid status: %s", s), http.StatusBadRequest)
				return
			}
			filter.Status = &status
		}
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
				return
			}
			filter.Limit = n
		}
		if v := r.URL.Query().Get("offset"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				http.Error(w, "offset must be a non-negative integer", http.StatusBadRequest)
				return
			}
			filter.Offset = n
		}

		items, total, err := service.List(r.Context(), filter)
		if err != nil {
			writeError(w, err)
			return
		}

		responses := make([]deliveryResponse, 0, len(items))
		for _, d := range items {
			responses = append(responses, toDeliveryResponse(d))
		}

		writeJSON(w, http.StatusOK, listResponse{
			Items:  responses,
			Total:  total,
			Limit:  filter.Limit,
			Offset: filter.Offset,
		})
	})
}

// getDelivery handles GET /v1/deliveries/:delivery_id
func getDelivery(service delivery.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "delivery_id")

		d, err := service.Get(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toDeliveryResponse(d))
	})
}

// getDeliveryLogs handles GET /v1/deliveries/:delivery_id/logs
func getDeliveryLogs(service delivery.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "delivery_id")

		logs, err := service.Logs(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}

		responses := make([]attemptResponse, 0, len(logs))
		for _, a := range logs {
			responses = append(responses, attemptResponse{
				ID:             a.ID,
				AttemptNumber:  a.AttemptNumber,
				AttemptedAt:    a.AttemptedAt,
				ResponseStatus: a.ResponseStatus,
				ResponseBody:   a.ResponseBody,
				ResponseTimeMs: a.ResponseTimeMs,
				ErrorMessage:   a.ErrorMessage,
				ErrorType:      a.ErrorType,
			})
		}

		writeJSON(w, http.StatusOK, responses)
	})
}

// resendDelivery handles POST /v1/deliveries/:delivery_id/resend
func resendDelivery(service delivery.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "delivery_id")

		var req resendRequest
		if r.Body != nil && r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
				return
			}
		}

		d, err := service.Resend(r.Context(), id, delivery.ResendOptions{
			Force:         req.Force,
			ResetAttempts: req.ResetAttempts,
			MaxAttempts:   req.MaxAttempts,
		})
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusAccepted, toDeliveryResponse(d))
	})
}

// resendFailedDeliveries handles POST /v1/deliveries/resend-failed
func resendFailedDeliveries(service delivery.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		filter := delivery.ResendFailedFilter{
			WebhookID:     r.URL.Query().Get("webhook_id"),
			EventType:     r.URL.Query().Get("event_type"),
			ResetAttempts: true,
		}

		if v := r.URL.Query().Get("reset_attempts"); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				http.Error(w, "reset_attempts must be a boolean", http.StatusBadRequest)
				return
			}
			filter.ResetAttempts = b
		}
		if v := r.URL.Query().Get("max_age_hours"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				http.Error(w, "max_age_hours must be a positive integer", http.StatusBadRequest)
				return
			}
			filter.CreatedSince = time.Now().Add(-time.Duration(n) * time.Hour)
		}
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
				return
			}
			filter.Limit = n
		}

		result, err := service.ResendAllFailed(r.Context(), filter)
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"matched_count": result.Matched,
			"resent_count":  len(result.Scheduled),
			"delivery_ids":  result.Scheduled,
		})
	})
}

// cancelDelivery handles DELETE /v1/deliveries/:delivery_id
func cancelDelivery(service delivery.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "delivery_id")

		d, err := service.Cancel(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toDeliveryResponse(d))
	})
}

// getStats handles GET /v1/stats
func getStats(service delivery.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		filter := delivery.StatsFilter{
			WebhookID: r.URL.Query().Get("webhook_id"),
		}
		if v := r.URL.Query().Get("since_hours"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				http.Error(w, "since_hours must be a positive integer", http.StatusBadRequest)
				return
			}
			filter.CreatedSince = time.Now().Add(-time.Duration(n) * time.Hour)
		}

		stats, err := service.Stats(r.Context(), filter)
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status_counts":        stats.StatusCounts,
			"avg_response_time_ms": stats.AvgResponseTimeMs,
			"total_deliveries":     stats.TotalDeliveries,
		})
	})
}

// postEvent handles POST /v1/events
func postEvent(trigger EventTrigger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req eventRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
			return
		}
		defer r.Body.Close()

		if req.EventType == "" {
			http.Error(w, "event_type is required", http.StatusBadRequest)
			return
		}
		if len(req.Data) == 0 {
			http.Error(w, "data is required", http.StatusBadRequest)
			return
		}

		created, err := trigger.TriggerEvent(r.Context(), req.EventType, req.Data)
		if err != nil && len(created) == 0 {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		ids := make([]string, 0, len(created))
		for _, d := range created {
			ids = append(ids, d.ID)
		}

		// Return 202 Accepted: deliveries run asynchronously
		writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"delivery_count": len(ids),
			"delivery_ids":   ids,
		})
	})
}
