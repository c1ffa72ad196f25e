package chi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httplog"

	"github.com/marcelsud/webhook-outbox/delivery"
)

// DeliveryHandlers sets up the delivery admin API routes. metricsHandler
// may be nil when no exporter is configured.
func DeliveryHandlers(ctx context.Context, service delivery.UseCase, trigger EventTrigger, metricsHandler http.Handler) *chi.Mux {
	logger := httplog.NewLogger("webhook-outbox-api", httplog.Options{
		JSON: true,
	})

	r := chi.NewRouter()
	r.Use(httplog.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	if metricsHandler != nil {
		r.Get("/metrics", metricsHandler.ServeHTTP)
	}

	// Admin API routes
	r.Route("/v1", func(r chi.Router) {
		// Fan an event out to subscribed endpoints
		if trigger != nil {
			r.Post("/events", postEvent(trigger).ServeHTTP)
		}

		r.Get("/deliveries", listDeliveries(service).ServeHTTP)
		r.Post("/deliveries/resend-failed", resendFailedDeliveries(service).ServeHTTP)
		r.Get("/deliveries/{delivery_id}", getDelivery(service).ServeHTTP)
		r.Get("/deliveries/{delivery_id}/logs", getDeliveryLogs(service).ServeHTTP)
		r.Post("/deliveries/{delivery_id}/resend", resendDelivery(service).ServeHTTP)
		r.Delete("/deliveries/{delivery_id}", cancelDelivery(service).ServeHTTP)

		r.Get("/stats", getStats(service).ServeHTTP)
	})

	return r
}
