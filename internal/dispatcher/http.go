package dispatcher

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/sequencehq/engine/internal/types"
)

// inboundEvent is the wire shape of a provider webhook delivery,
// translated into types.ProviderEvent before dispatch.
type inboundEvent struct {
	Event     string            `json:"event"`
	LeadID    string            `json:"lead_id"`
	JobID     string            `json:"email_job_id"`
	Data      map[string]string `json:"data"`
	Timestamp time.Time         `json:"timestamp"`
}

// HTTPHandler exposes the dispatcher over a single inbound webhook
// endpoint. Router construction follows the pack's chi conventions:
// request-scoped middleware, one route group per concern.
type HTTPHandler struct {
	dispatcher *Dispatcher
	log        *logrus.Logger
}

// NewHTTPHandler creates an HTTPHandler.
func NewHTTPHandler(d *Dispatcher, log *logrus.Logger) *HTTPHandler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &HTTPHandler{dispatcher: d, log: log}
}

// Router builds the chi router mounting the webhook endpoint.
func (h *HTTPHandler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))

	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/email-events", h.handleEmailEvent)
	})

	return r
}

func (h *HTTPHandler) handleEmailEvent(w http.ResponseWriter, r *http.Request) {
	var body inboundEvent
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.log.WithError(err).Warn("dispatcher: malformed webhook body")
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if body.LeadID == "" || body.JobID == "" || body.Event == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	event := types.ProviderEvent{
		EventType:  NormalizeProviderEventName(body.Event),
		LeadID:     body.LeadID,
		EmailJobID: body.JobID,
		EventData:  body.Data,
		OccurredAt: body.Timestamp,
	}

	if err := h.dispatcher.Dispatch(r.Context(), event); err != nil {
		h.log.WithError(err).WithField("event_type", event.EventType).Error("dispatcher: dispatch failed")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}
