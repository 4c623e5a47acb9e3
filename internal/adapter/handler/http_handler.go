package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rl1809/shopsphere/internal/core/domain"
	"github.com/rl1809/shopsphere/internal/core/service"
)

type HTTPHandler struct {
	reservations *service.ReservationManager
	checkout     *service.CheckoutCoordinator
	carts        *service.CartService
	catalog      *service.CatalogService
}

func NewHTTPHandler(reservations *service.ReservationManager, checkout *service.CheckoutCoordinator, carts *service.CartService, catalog *service.CatalogService) *HTTPHandler {
	return &HTTPHandler{
		reservations: reservations,
		checkout:     checkout,
		carts:        carts,
		catalog:      catalog,
	}
}

func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.HealthCheck)

	mux.HandleFunc("POST /api/reservations", h.Reserve)
	mux.HandleFunc("POST /api/reservations/confirm/{orderID}", h.ConfirmReservations)
	mux.HandleFunc("POST /api/reservations/release/{orderID}", h.ReleaseReservations)

	mux.HandleFunc("POST /api/checkout", h.Checkout)
	mux.HandleFunc("GET /api/orders", h.ListOrders)
	mux.HandleFunc("GET /api/orders/{id}", h.GetOrder)
	mux.HandleFunc("POST /api/orders/{id}/confirm", h.ConfirmOrder)
	mux.HandleFunc("POST /api/orders/{id}/cancel", h.CancelOrder)

	mux.HandleFunc("POST /api/products", h.CreateProduct)
	mux.HandleFunc("GET /api/products", h.ListProducts)
	mux.HandleFunc("GET /api/products/{id}", h.GetProduct)
	mux.HandleFunc("GET /api/products/{id}/availability", h.Availability)
	mux.HandleFunc("POST /api/products/{id}/stock", h.AdjustStock)

	mux.HandleFunc("GET /api/cart", h.ViewCart)
	mux.HandleFunc("POST /api/cart/items", h.AddCartItem)
	mux.HandleFunc("PATCH /api/cart/items/{productID}", h.UpdateCartItem)
	mux.HandleFunc("DELETE /api/cart/items/{productID}", h.RemoveCartItem)
}

type reservationResponse struct {
	ID             string    `json:"id"`
	ProductID      string    `json:"product_id"`
	OrderID        string    `json:"order_id"`
	Quantity       int       `json:"quantity"`
	IdempotencyKey string    `json:"idempotency_key"`
	Status         string    `json:"status"`
	ExpiresAt      time.Time `json:"expires_at"`
}

func toReservationResponse(r *domain.Reservation) reservationResponse {
	return reservationResponse{
		ID:             r.ID,
		ProductID:      r.ProductID,
		OrderID:        r.OrderID,
		Quantity:       r.Quantity,
		IdempotencyKey: r.IdempotencyKey,
		Status:         string(r.Status),
		ExpiresAt:      r.ExpiresAt,
	}
}

type orderLineResponse struct {
	ProductID      string `json:"product_id"`
	ProductName    string `json:"product_name"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	Quantity       int    `json:"quantity"`
	LineTotalCents int64  `json:"line_total_cents"`
}

type orderResponse struct {
	ID         string              `json:"id"`
	OwnerID    string              `json:"owner_id"`
	Status     string              `json:"status"`
	TotalCents int64               `json:"total_cents"`
	Items      []orderLineResponse `json:"items"`
	CreatedAt  time.Time           `json:"created_at"`
}

func toOrderResponse(o *domain.Order) orderResponse {
	resp := orderResponse{
		ID:         o.ID,
		OwnerID:    o.OwnerID,
		Status:     string(o.Status),
		TotalCents: o.TotalCents,
		Items:      make([]orderLineResponse, 0, len(o.Items)),
		CreatedAt:  o.CreatedAt,
	}
	for _, line := range o.Items {
		resp.Items = append(resp.Items, orderLineResponse{
			ProductID:      line.ProductID,
			ProductName:    line.ProductName,
			UnitPriceCents: line.UnitPriceCents,
			Quantity:       line.Quantity,
			LineTotalCents: line.LineTotalCents,
		})
	}
	return resp
}

type cartItemResponse struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type cartResponse struct {
	ID      string             `json:"id"`
	OwnerID string             `json:"owner_id"`
	Status  string             `json:"status"`
	Items   []cartItemResponse `json:"items"`
}

func toCartResponse(c *domain.Cart) cartResponse {
	resp := cartResponse{ID: c.ID, OwnerID: c.OwnerID, Status: string(c.Status), Items: make([]cartItemResponse, 0, len(c.Items))}
	for _, item := range c.Items {
		resp.Items = append(resp.Items, cartItemResponse{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return resp
}

type productResponse struct {
	ID                string `json:"id"`
	SKU               string `json:"sku"`
	Name              string `json:"name"`
	PriceCents        int64  `json:"price_cents"`
	AvailableQuantity int    `json:"available_quantity"`
}

func toProductResponse(p *domain.Product) productResponse {
	return productResponse{
		ID:                p.ID,
		SKU:               p.SKU,
		Name:              p.Name,
		PriceCents:        p.PriceCents,
		AvailableQuantity: p.AvailableQuantity,
	}
}

func (h *HTTPHandler) Reserve(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProductID      string `json:"product_id"`
		OrderID        string `json:"order_id"`
		Quantity       int    `json:"quantity"`
		IdempotencyKey string `json:"idempotency_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	reservation, err := h.reservations.Reserve(r.Context(), req.ProductID, req.OrderID, req.Quantity, req.IdempotencyKey)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationResponse(reservation))
}

func (h *HTTPHandler) ConfirmReservations(w http.ResponseWriter, r *http.Request) {
	if err := h.reservations.Confirm(r.Context(), r.PathValue("orderID")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *HTTPHandler) ReleaseReservations(w http.ResponseWriter, r *http.Request) {
	if err := h.reservations.Release(r.Context(), r.PathValue("orderID")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *HTTPHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OwnerID        string `json:"owner_id"`
		IdempotencyKey string `json:"idempotency_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	order, replayed, err := h.checkout.Checkout(r.Context(), req.OwnerID, req.IdempotencyKey)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	status := http.StatusCreated
	if replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, toOrderResponse(order))
}

func (h *HTTPHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.checkout.GetOrder(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *HTTPHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	ownerID := r.URL.Query().Get("owner")
	if ownerID == "" {
		writeError(w, http.StatusBadRequest, "owner query parameter is required")
		return
	}
	orders, err := h.checkout.ListOrders(r.Context(), ownerID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	resp := make([]orderResponse, 0, len(orders))
	for i := range orders {
		resp = append(resp, toOrderResponse(&orders[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *HTTPHandler) ConfirmOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.checkout.ConfirmOrder(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *HTTPHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.checkout.CancelOrder(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *HTTPHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SKU        string `json:"sku"`
		Name       string `json:"name"`
		PriceCents int64  `json:"price_cents"`
		Stock      int    `json:"stock"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	product, err := h.catalog.CreateProduct(r.Context(), req.SKU, req.Name, req.PriceCents, req.Stock)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProductResponse(product))
}

func (h *HTTPHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := h.catalog.GetProduct(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductResponse(product))
}

func (h *HTTPHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.catalog.ListProducts(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	resp := make([]productResponse, 0, len(products))
	for i := range products {
		resp = append(resp, toProductResponse(&products[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *HTTPHandler) AdjustStock(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Delta int `json:"delta"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	product, err := h.catalog.AdjustStock(r.Context(), r.PathValue("id"), req.Delta)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductResponse(product))
}

func (h *HTTPHandler) Availability(w http.ResponseWriter, r *http.Request) {
	qty, err := h.catalog.Availability(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"available_quantity": qty})
}

func (h *HTTPHandler) ViewCart(w http.ResponseWriter, r *http.Request) {
	cart, err := h.carts.ViewCart(r.Context(), r.URL.Query().Get("owner"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(cart))
}

func (h *HTTPHandler) AddCartItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OwnerID   string `json:"owner_id"`
		ProductID string `json:"product_id"`
		Quantity  int    `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cart, err := h.carts.AddItem(r.Context(), req.OwnerID, req.ProductID, req.Quantity)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(cart))
}

func (h *HTTPHandler) UpdateCartItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OwnerID  string `json:"owner_id"`
		Quantity int    `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cart, err := h.carts.UpdateItemQuantity(r.Context(), req.OwnerID, r.PathValue("productID"), req.Quantity)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(cart))
}

func (h *HTTPHandler) RemoveCartItem(w http.ResponseWriter, r *http.Request) {
	ownerID := r.URL.Query().Get("owner")
	cart, err := h.carts.RemoveItem(r.Context(), ownerID, r.PathValue("productID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(cart))
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrEmptyCart):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, domain.ErrOptimisticConflict),
		errors.Is(err, domain.ErrIdempotencyConflict),
		errors.Is(err, domain.ErrInvalidState),
		errors.Is(err, domain.ErrReservationExpired),
		errors.Is(err, domain.ErrDuplicateKey),
		errors.Is(err, domain.ErrVersionConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
