package handler

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"card-reward-advisor/internal/models"
	"card-reward-advisor/internal/service"
	"card-reward-advisor/internal/validation"
)

// Metrics
var (
	httpReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "advisor_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "endpoint", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "advisor_http_request_duration_seconds",
		Help:    "Request latency",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"method", "endpoint"})
)

// Handler provides HTTP handlers for the API.
type Handler struct {
	service     *service.Service
	maxBodySize int64
}

// NewHandlerOptions holds options for creating a handler.
type NewHandlerOptions struct {
	MaxBodySize int64
}

// DefaultHandlerOptions returns default handler options.
func DefaultHandlerOptions() NewHandlerOptions {
	return NewHandlerOptions{
		MaxBodySize: 10 << 20, // 10MB default
	}
}

// NewHandler creates a new handler instance.
func NewHandler(svc *service.Service) *Handler {
	return NewHandlerWithOptions(svc, DefaultHandlerOptions())
}

// NewHandlerWithOptions creates a new handler instance with custom options.
func NewHandlerWithOptions(svc *service.Service, opts NewHandlerOptions) *Handler {
	return &Handler{
		service:     svc,
		maxBodySize: opts.MaxBodySize,
	}
}

// SyncCards handles POST /cards. The body is either a JSON array of cards or
// a multipart upload under "cards_file" (JSON or CSV, by file extension).
func (h *Handler) SyncCards(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("POST", "/cards"))
	defer timer.ObserveDuration()

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	filename := "cards.json"
	var raw []byte

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if strings.HasPrefix(mediaType, "multipart/") {
		file, header, err := r.FormFile("cards_file")
		if err != nil {
			h.respondError(w, http.StatusBadRequest, "cards_file is required", "POST", "/cards")
			return
		}
		defer file.Close()
		if header.Filename != "" {
			filename = header.Filename
		}
		raw, err = io.ReadAll(file)
		if err != nil {
			h.respondError(w, http.StatusBadRequest, "failed to read cards_file", "POST", "/cards")
			return
		}
	} else {
		var err error
		raw, err = io.ReadAll(r.Body)
		if err != nil || len(raw) == 0 {
			h.respondError(w, http.StatusBadRequest, "request body is required", "POST", "/cards")
			return
		}
	}

	count, err := h.service.SyncCardsFromPayload(r.Context(), filename, raw)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error(), "POST", "/cards")
		return
	}

	h.respondJSON(w, http.StatusCreated, models.SyncCardsResponse{Count: count}, "POST", "/cards")
}

// GetCards handles GET /cards.
func (h *Handler) GetCards(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("GET", "/cards"))
	defer timer.ObserveDuration()

	cards, err := h.service.Cards(r.Context())
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, err.Error(), "GET", "/cards")
		return
	}
	h.respondJSON(w, http.StatusOK, models.CardsResponse{Cards: cards}, "GET", "/cards")
}

// DeleteCard handles DELETE /cards/{card_id}.
func (h *Handler) DeleteCard(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("DELETE", "/cards/{card_id}"))
	defer timer.ObserveDuration()

	cardID := validation.SanitizeString(chi.URLParam(r, "card_id"))

	deleted, err := h.service.DeleteCard(r.Context(), cardID)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error(), "DELETE", "/cards/{card_id}")
		return
	}
	if !deleted {
		h.respondError(w, http.StatusNotFound, "card not found", "DELETE", "/cards/{card_id}")
		return
	}
	w.WriteHeader(http.StatusNoContent)
	httpReqTotal.WithLabelValues("DELETE", "/cards/{card_id}", strconv.Itoa(http.StatusNoContent)).Inc()
}

// RecordExpense handles POST /expenses.
func (h *Handler) RecordExpense(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("POST", "/expenses"))
	defer timer.ObserveDuration()

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	var req models.RecordExpenseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err == io.EOF {
			h.respondError(w, http.StatusBadRequest, "request body is required", "POST", "/expenses")
			return
		}
		h.respondError(w, http.StatusBadRequest, "invalid JSON in request body", "POST", "/expenses")
		return
	}

	req.CardID = validation.SanitizeString(req.CardID)
	req.Merchant = validation.SanitizeString(req.Merchant)
	req.Category = validation.SanitizeString(req.Category)

	if err := h.service.RecordExpense(r.Context(), req); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error(), "POST", "/expenses")
		return
	}

	h.respondJSON(w, http.StatusCreated, map[string]bool{"ok": true}, "POST", "/expenses")
}

// GetOffers handles GET /offers with an optional merchant query filter.
func (h *Handler) GetOffers(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("GET", "/offers"))
	defer timer.ObserveDuration()

	merchant := validation.SanitizeString(r.URL.Query().Get("merchant"))

	offers, err := h.service.ActiveOffers(r.Context(), merchant)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, err.Error(), "GET", "/offers")
		return
	}
	h.respondJSON(w, http.StatusOK, models.OffersResponse{Offers: offers}, "GET", "/offers")
}

// RefreshOffers handles POST /offers/refresh.
func (h *Handler) RefreshOffers(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("POST", "/offers/refresh"))
	defer timer.ObserveDuration()

	results, err := h.service.RefreshOffers(r.Context())
	if err != nil {
		h.respondError(w, http.StatusServiceUnavailable, err.Error(), "POST", "/offers/refresh")
		return
	}
	h.respondJSON(w, http.StatusOK, models.RefreshResponse{Results: results}, "POST", "/offers/refresh")
}

// Recommend handles POST /recommend.
func (h *Handler) Recommend(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("POST", "/recommend"))
	defer timer.ObserveDuration()

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	var req models.RecommendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err == io.EOF {
			h.respondError(w, http.StatusBadRequest, "request body is required", "POST", "/recommend")
			return
		}
		h.respondError(w, http.StatusBadRequest, "invalid JSON in request body", "POST", "/recommend")
		return
	}

	req.Merchant = validation.SanitizeString(req.Merchant)
	req.Channel = validation.SanitizeString(req.Channel)
	req.Category = validation.SanitizeString(req.Category)

	response, err := h.service.Recommend(r.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		var verr *validation.ValidationError
		if errors.As(err, &verr) {
			status = http.StatusBadRequest
		}
		h.respondError(w, status, err.Error(), "POST", "/recommend")
		return
	}

	h.respondJSON(w, http.StatusOK, response, "POST", "/recommend")
}

// respondJSON sends a JSON response with the given status code.
func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}, method, endpoint string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
	httpReqTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
}

// respondError sends an error response with the given status code and message.
func (h *Handler) respondError(w http.ResponseWriter, status int, message string, method, endpoint string) {
	h.respondJSON(w, status, models.ErrorResponse{Error: message}, method, endpoint)
}
