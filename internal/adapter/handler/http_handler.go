package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/rl1809/stock-reservation/internal/core/domain"
	"github.com/rl1809/stock-reservation/internal/core/service"
)

type HTTPHandler struct {
	reservations *service.ReservationService
	ledger       *service.Ledger
	projector    *service.Projector
	logger       logrus.FieldLogger
}

type ReservationHTTPRequest struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
	StoreID  string `json:"storeId"`
}

type AdjustStockHTTPRequest struct {
	Quantity int `json:"quantity"`
}

type StockHTTPResponse struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
	Version  int64  `json:"version"`
}

type ErrorHTTPResponse struct {
	Message string `json:"message"`
}

func NewHTTPHandler(
	reservations *service.ReservationService,
	ledger *service.Ledger,
	projector *service.Projector,
	logger logrus.FieldLogger,
) *HTTPHandler {
	return &HTTPHandler{
		reservations: reservations,
		ledger:       ledger,
		projector:    projector,
		logger:       logger,
	}
}

// Router mounts the API under /api/v1 behind basic auth; /health stays open.
func (h *HTTPHandler) Router(credentials Credentials) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(BasicAuth(credentials))

	api.HandleFunc("/reservations", h.CreateReservation).Methods(http.MethodPost)
	api.HandleFunc("/reservations/{id}", h.GetReservation).Methods(http.MethodGet)
	api.HandleFunc("/reservations/{id}/confirm", h.ConfirmReservation).Methods(http.MethodPost)
	api.HandleFunc("/reservations/{id}/cancel", h.CancelReservation).Methods(http.MethodPost)

	api.HandleFunc("/inventory", h.ListStockViews).Methods(http.MethodGet)
	api.HandleFunc("/inventory/changes", h.ListStockChangesSince).Methods(http.MethodGet)
	// "changes" is never a SKU path segment, whatever the method.
	api.HandleFunc("/inventory/changes", methodNotAllowed)
	api.HandleFunc("/inventory/{sku}", h.GetStockView).Methods(http.MethodGet)
	api.HandleFunc("/inventory/{sku}", h.AdjustStock).Methods(http.MethodPut)

	return h.logRequests(r)
}

func (h *HTTPHandler) CreateReservation(w http.ResponseWriter, r *http.Request) {
	var req ReservationHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorHTTPResponse{Message: "invalid request body"})
		return
	}
	if msg := validateReservation(req.SKU, req.Quantity, req.StoreID); msg != "" {
		writeJSON(w, http.StatusBadRequest, ErrorHTTPResponse{Message: msg})
		return
	}

	reservation, err := h.reservations.Create(r.Context(), req.SKU, req.Quantity, req.StoreID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, reservation)
}

func (h *HTTPHandler) GetReservation(w http.ResponseWriter, r *http.Request) {
	reservation, err := h.reservations.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reservation)
}

func (h *HTTPHandler) ConfirmReservation(w http.ResponseWriter, r *http.Request) {
	reservation, err := h.reservations.Confirm(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reservation)
}

func (h *HTTPHandler) CancelReservation(w http.ResponseWriter, r *http.Request) {
	reservation, err := h.reservations.Cancel(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reservation)
}

func (h *HTTPHandler) GetStockView(w http.ResponseWriter, r *http.Request) {
	view, err := h.projector.GetBySKU(r.Context(), mux.Vars(r)["sku"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	if view == nil {
		writeJSON(w, http.StatusNotFound, ErrorHTTPResponse{Message: "item not found"})
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *HTTPHandler) ListStockViews(w http.ResponseWriter, r *http.Request) {
	views, err := h.projector.GetAll(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(views))
}

func (h *HTTPHandler) ListStockChangesSince(w http.ResponseWriter, r *http.Request) {
	since, err := time.Parse(time.RFC3339Nano, r.URL.Query().Get("since"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorHTTPResponse{Message: "since must be an RFC3339 timestamp"})
		return
	}

	views, err := h.projector.GetChangesSince(r.Context(), since)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(views))
}

func (h *HTTPHandler) AdjustStock(w http.ResponseWriter, r *http.Request) {
	var req AdjustStockHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorHTTPResponse{Message: "invalid request body"})
		return
	}

	item, err := h.ledger.SetQuantity(r.Context(), mux.Vars(r)["sku"], req.Quantity)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StockHTTPResponse{SKU: item.SKU, Quantity: item.Quantity, Version: item.Version})
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusMethodNotAllowed, ErrorHTTPResponse{Message: "method not allowed"})
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	status := httpStatus(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.WithError(err).Error("request failed")
		message = "internal error"
	}
	writeJSON(w, status, ErrorHTTPResponse{Message: message})
}

func (h *HTTPHandler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.logger.WithFields(logrus.Fields{
			"method":     r.Method,
			"url":        r.URL.String(),
			"remoteAddr": r.RemoteAddr,
		}).Debug("got a new request")
		next.ServeHTTP(w, r)
	})
}

func httpStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrItemNotFound), errors.Is(err, domain.ErrReservationNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrWriteConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidQuantity):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func validateReservation(sku string, quantity int, storeID string) string {
	switch {
	case strings.TrimSpace(sku) == "":
		return "sku must not be empty"
	case quantity <= 0:
		return "quantity must be positive"
	case strings.TrimSpace(storeID) == "":
		return "storeId must not be empty"
	}
	return ""
}

func nonNil(views []domain.InventoryView) []domain.InventoryView {
	if views == nil {
		return []domain.InventoryView{}
	}
	return views
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
