package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/escrow-market/internal/core/domain"
	"github.com/rl1809/escrow-market/internal/core/service"
)

// CallerHeader carries the address of the participant making the request.
const CallerHeader = "X-Caller-Address"

type HTTPHandler struct {
	market *service.MarketplaceService
	logger *zap.Logger
}

type ListItemHTTPRequest struct {
	Name  string `json:"name"`
	Price uint64 `json:"price"`
}

type PurchaseHTTPRequest struct {
	RequestID string `json:"request_id"`
	Value     uint64 `json:"value"`
}

type ItemHTTPResponse struct {
	ID       uint64     `json:"id"`
	Name     string     `json:"name"`
	Price    uint64     `json:"price"`
	Seller   string     `json:"seller"`
	Sold     bool       `json:"sold"`
	Owner    string     `json:"owner,omitempty"`
	ListedAt time.Time  `json:"listed_at"`
	SoldAt   *time.Time `json:"sold_at,omitempty"`
}

type ItemsHTTPResponse struct {
	Total int      `json:"total"`
	IDs   []uint64 `json:"ids"`
}

type PurchaseHTTPResponse struct {
	ItemID uint64 `json:"item_id"`
	Buyer  string `json:"buyer"`
	Seller string `json:"seller"`
	Price  uint64 `json:"price"`
}

type AmountHTTPResponse struct {
	Address string `json:"address"`
	Amount  uint64 `json:"amount"`
}

type ErrorHTTPResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func NewHTTPHandler(market *service.MarketplaceService, logger *zap.Logger) *HTTPHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPHandler{market: market, logger: logger}
}

// Register mounts the marketplace routes on mux.
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.HealthCheck)
	mux.HandleFunc("POST /api/items", h.ListItem)
	mux.HandleFunc("GET /api/items", h.ListItems)
	mux.HandleFunc("GET /api/items/{id}", h.GetItem)
	mux.HandleFunc("POST /api/items/{id}/purchase", h.Purchase)
	mux.HandleFunc("POST /api/withdraw", h.Withdraw)
	mux.HandleFunc("GET /api/proceeds/{address}", h.ProceedsOf)
}

func (h *HTTPHandler) ListItem(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req ListItemHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorHTTPResponse{Error: "invalid request body", Code: "bad_request"})
		return
	}

	item, err := h.market.List(r.Context(), caller, req.Name, req.Price)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toItemResponse(service.ItemView{Item: item}))
}

func (h *HTTPHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	ids, err := h.market.ListIDs(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	total, err := h.market.TotalItems(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := ItemsHTTPResponse{Total: total, IDs: make([]uint64, 0, len(ids))}
	for _, id := range ids {
		resp.IDs = append(resp.IDs, uint64(id))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *HTTPHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	id, ok := itemID(w, r)
	if !ok {
		return
	}

	view, err := h.market.GetItem(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemResponse(view))
}

func (h *HTTPHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := itemID(w, r)
	if !ok {
		return
	}

	var req PurchaseHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorHTTPResponse{Error: "invalid request body", Code: "bad_request"})
		return
	}

	sale, err := h.market.Purchase(r.Context(), req.RequestID, caller, id, req.Value)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, PurchaseHTTPResponse{
		ItemID: uint64(sale.ItemID),
		Buyer:  sale.Buyer.String(),
		Seller: sale.Seller.String(),
		Price:  sale.Price,
	})
}

func (h *HTTPHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	amount, err := h.market.Withdraw(r.Context(), caller)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AmountHTTPResponse{Address: caller.String(), Amount: amount})
}

func (h *HTTPHandler) ProceedsOf(w http.ResponseWriter, r *http.Request) {
	addr, err := domain.NewAddress(r.PathValue("address"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	amount, err := h.market.ProceedsOf(r.Context(), addr)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AmountHTTPResponse{Address: addr.String(), Amount: amount})
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) caller(w http.ResponseWriter, r *http.Request) (domain.Address, bool) {
	addr, err := domain.NewAddress(r.Header.Get(CallerHeader))
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, ErrorHTTPResponse{
			Error: "missing " + CallerHeader + " header",
			Code:  "unauthenticated",
		})
		return "", false
	}
	return addr, true
}

func itemID(w http.ResponseWriter, r *http.Request) (domain.ItemID, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorHTTPResponse{Error: "invalid item id", Code: "bad_request"})
		return 0, false
	}
	return domain.ItemID(id), true
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	m := lookupError(err)
	switch {
	case m.httpStatus == http.StatusInternalServerError:
		h.logger.Error("request failed", zap.Error(err))
	case errors.Is(err, domain.ErrWithdrawFailed):
		h.logger.Warn("withdraw failed", zap.Error(err))
	}
	writeJSON(w, m.httpStatus, ErrorHTTPResponse{Error: m.message, Code: m.code})
}

func toItemResponse(view service.ItemView) ItemHTTPResponse {
	return ItemHTTPResponse{
		ID:       uint64(view.ID),
		Name:     view.Name,
		Price:    view.Price,
		Seller:   view.Seller.String(),
		Sold:     view.Sold,
		Owner:    view.Owner.String(),
		ListedAt: view.ListedAt,
		SoldAt:   view.SoldAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
