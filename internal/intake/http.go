package intake

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/shopflow/shopflow/outbox"
	"github.com/shopflow/shopflow/saga"
)

type createRequestBody struct {
	UserID   int64 `json:"userId"`
	Products []struct {
		ID       int64 `json:"id"`
		Quantity int   `json:"quantity"`
	} `json:"products"`
}

type productBody struct {
	ID    int64           `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

type requestBody struct {
	ID         int64           `json:"id"`
	UserID     int64           `json:"userId"`
	TotalPrice decimal.Decimal `json:"totalPrice"`
	Status     string          `json:"status"`
	ChargeID   string          `json:"chargeId,omitempty"`
	TrackingID string          `json:"trackingId,omitempty"`
}

type errorBody struct {
	Error string `json:"error"`
}

// NewRouter builds the intake HTTP API.
func NewRouter(svc *Service, log outbox.Logger) *mux.Router {
	h := &handler{svc: svc, log: log}
	if h.log == nil {
		h.log = outbox.NopLogger{}
	}

	router := mux.NewRouter()
	router.HandleFunc("/api/requests", h.createRequest).Methods(http.MethodPost)
	router.HandleFunc("/api/requests/{id:[0-9]+}", h.getRequest).Methods(http.MethodGet)
	router.HandleFunc("/api/products", h.listProducts).Methods(http.MethodGet)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)

	return router
}

type handler struct {
	svc *Service
	log outbox.Logger
}

func (h *handler) createRequest(w http.ResponseWriter, r *http.Request) {
	var body createRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})

		return
	}

	lines := make([]Line, len(body.Products))
	for i, p := range body.Products {
		lines[i] = Line{ProductID: p.ID, Quantity: p.Quantity}
	}

	id, err := h.svc.CreateRequest(r.Context(), body.UserID, lines)
	if err != nil {
		h.writeError(w, err)

		return
	}

	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func (h *handler) getRequest(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(mux.Vars(r)["id"])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request id"})

		return
	}

	req, err := h.svc.Request(r.Context(), id)
	if err != nil {
		h.writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, requestBody{
		ID:         req.ID,
		UserID:     req.UserID,
		TotalPrice: req.TotalPrice,
		Status:     req.Status.String(),
		ChargeID:   req.ChargeID,
		TrackingID: req.TrackingID,
	})
}

func (h *handler) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.svc.Products(r.Context())
	if err != nil {
		h.writeError(w, err)

		return
	}

	out := make([]productBody, len(products))
	for i, p := range products {
		out[i] = productBody{ID: p.ID, Name: p.Name, Price: p.Price}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, saga.ErrRequestNotFound),
		errors.Is(err, saga.ErrUserNotFound),
		errors.Is(err, saga.ErrProductNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	case errors.Is(err, saga.ErrNoItems), errors.Is(err, saga.ErrInvalidQuantity):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	default:
		h.log.Error("intake request failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, errors.New("not positive")
	}

	return id, nil
}
