// Package handler содержит HTTP-обработчики API сервиса магазина.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/vkuznetsov/shopledger/internal/middleware"
	"github.com/vkuznetsov/shopledger/internal/model"
	"github.com/vkuznetsov/shopledger/internal/repository"
	"github.com/vkuznetsov/shopledger/internal/service"
	"github.com/vkuznetsov/shopledger/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, login, password string) (int64, error)
	AuthenticateUser(ctx context.Context, login, password string) (*model.User, error)
	GetUser(ctx context.Context, id int64) (*model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	DeleteUser(ctx context.Context, id int64) error
	GetBalance(ctx context.Context, userID int64) (float64, error)
	AdjustBalance(ctx context.Context, userID int64, rawAmount, rawOp string) (float64, error)
	CreateOrder(ctx context.Context, userID int64, in service.CreateOrderInput) (model.Order, float64, error)
	GetOrder(ctx context.Context, id int64) (model.Order, error)
	ListOrders(ctx context.Context, in service.ListOrdersInput) ([]model.Order, int64, error)
	UpdateOrderStatus(ctx context.Context, id int64, rawStatus string) (model.Order, *float64, error)
	UpdateOrder(ctx context.Context, id int64, in service.UpdateOrderInput) (model.Order, *float64, error)
	DeleteOrder(ctx context.Context, id int64) error
	OrderStats(ctx context.Context) (model.OrderStats, error)
}

// Handler реализует HTTP-обработчики API сервиса магазина.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

// amountField принимает денежную сумму и как JSON-число, и как строку.
// Дальнейшая валидация значения выполняется в одном месте —
// validation.ParseAmountCents.
type amountField string

// UnmarshalJSON реализует разбор значения из числа или строки.
func (a *amountField) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if strings.HasPrefix(s, `"`) {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*a = amountField(v)
		return nil
	}
	if s == "null" {
		*a = ""
		return nil
	}
	*a = amountField(s)
	return nil
}

// writeError отображает доменные ошибки на коды состояния HTTP. Внутренние
// ошибки журналируются и наружу отдаются без деталей.
func (h *Handler) writeError(w http.ResponseWriter, err error, logMsg string, fields ...zap.Field) {
	switch {
	case errors.Is(err, validation.ErrInvalidAmount),
		errors.Is(err, model.ErrInvalidStatus),
		errors.Is(err, model.ErrInvalidOperation),
		errors.Is(err, service.ErrMissingFields),
		errors.Is(err, service.ErrAmountImmutable):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, repository.ErrInsufficientBalance):
		http.Error(w, err.Error(), http.StatusPaymentRequired)
	case errors.Is(err, repository.ErrDuplicateOrderID), errors.Is(err, repository.ErrUserExists):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, repository.ErrOrderNotFound), errors.Is(err, repository.ErrUserNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		h.logger.Error(logMsg, append(fields, zap.Error(err))...)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type credentialsRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// Register обрабатывает регистрацию нового пользователя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.RegisterUser(r.Context(), req.Login, req.Password)
	if err != nil {
		h.writeError(w, err, "register user error")
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID, model.RoleUser)
	w.WriteHeader(http.StatusOK)
}

// Login выполняет аутентификацию пользователя и установку cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	u, err := h.service.AuthenticateUser(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) || errors.Is(err, repository.ErrUserNotFound) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.logger.Error("login user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.SetAuthCookie(w, u.ID, u.Role)
	w.WriteHeader(http.StatusOK)
}

type balanceResponse struct {
	Balance float64 `json:"balance"`
}

// GetBalance возвращает баланс текущего пользователя.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	balance, err := h.service.GetBalance(r.Context(), userID)
	if err != nil {
		h.writeError(w, err, "get balance error", zap.Int64("userID", userID))
		return
	}

	writeJSON(w, http.StatusOK, balanceResponse{Balance: balance})
}

// GetUserBalance возвращает баланс указанного пользователя (для администратора).
func (h *Handler) GetUserBalance(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	balance, err := h.service.GetBalance(r.Context(), userID)
	if err != nil {
		h.writeError(w, err, "get user balance error", zap.Int64("userID", userID))
		return
	}

	writeJSON(w, http.StatusOK, balanceResponse{Balance: balance})
}

type adjustBalanceRequest struct {
	Balance   amountField `json:"balance"`
	Operation string      `json:"operation"`
}

// AdjustUserBalance выполняет административную корректировку баланса пользователя.
func (h *Handler) AdjustUserBalance(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req adjustBalanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	balance, err := h.service.AdjustBalance(r.Context(), userID, string(req.Balance), req.Operation)
	if err != nil {
		h.writeError(w, err, "adjust balance error", zap.Int64("userID", userID), zap.String("operation", req.Operation))
		return
	}

	writeJSON(w, http.StatusOK, balanceResponse{Balance: balance})
}

type userResponse struct {
	ID        string  `json:"id"`
	Login     string  `json:"login"`
	Role      string  `json:"role"`
	Balance   float64 `json:"balance"`
	CreatedAt string  `json:"createdAt"`
}

// ListUsers возвращает список всех пользователей (для администратора).
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.ListUsers(r.Context())
	if err != nil {
		h.writeError(w, err, "list users error")
		return
	}

	resp := make([]userResponse, 0, len(users))
	for _, u := range users {
		resp = append(resp, userResponse{
			ID:        strconv.FormatInt(u.ID, 10),
			Login:     u.Login,
			Role:      string(u.Role),
			Balance:   validation.CentsToAmount(u.BalanceCents),
			CreatedAt: u.CreatedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// DeleteUser удаляет пользователя вместе с его заказами (для администратора).
func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.DeleteUser(r.Context(), userID); err != nil {
		h.writeError(w, err, "delete user error", zap.Int64("userID", userID))
		return
	}

	w.WriteHeader(http.StatusOK)
}

type createOrderRequest struct {
	OrderID          string      `json:"orderId"`
	ProductName      string      `json:"productName"`
	Amount           amountField `json:"amount"`
	AmountPerOrder   amountField `json:"amountPerOrder"`
	SelectedProducts []string    `json:"selectedProducts"`
	Notes            string      `json:"notes"`
}

type orderResponse struct {
	ID               string   `json:"id"`
	OrderID          string   `json:"orderId"`
	UserID           string   `json:"userId"`
	Username         string   `json:"username"`
	ProductName      string   `json:"productName"`
	Amount           float64  `json:"amount"`
	AmountPerOrder   float64  `json:"amountPerOrder"`
	SelectedProducts []string `json:"selectedProducts"`
	Notes            string   `json:"notes"`
	Status           string   `json:"status"`
	CreatedAt        string   `json:"createdAt"`
	UpdatedAt        string   `json:"updatedAt"`
	UserBalance      *float64 `json:"userBalance,omitempty"`
}

func toOrderResponse(o model.Order, balance *float64) orderResponse {
	products := o.SelectedProducts
	if products == nil {
		products = []string{}
	}

	return orderResponse{
		ID:               strconv.FormatInt(o.ID, 10),
		OrderID:          o.OrderID,
		UserID:           strconv.FormatInt(o.UserID, 10),
		Username:         o.Username,
		ProductName:      o.ProductName,
		Amount:           validation.CentsToAmount(o.AmountCents),
		AmountPerOrder:   validation.CentsToAmount(o.AmountPerOrderCents),
		SelectedProducts: products,
		Notes:            o.Notes,
		Status:           o.Status.External(),
		CreatedAt:        o.CreatedAt.Format(time.RFC3339),
		UpdatedAt:        o.UpdatedAt.Format(time.RFC3339),
		UserBalance:      balance,
	}
}

// CreateOrder создаёт заказ от имени текущего пользователя и списывает его
// сумму с баланса.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	order, balance, err := h.service.CreateOrder(r.Context(), userID, service.CreateOrderInput{
		OrderID:          req.OrderID,
		ProductName:      req.ProductName,
		Amount:           string(req.Amount),
		AmountPerOrder:   string(req.AmountPerOrder),
		SelectedProducts: req.SelectedProducts,
		Notes:            req.Notes,
	})
	if err != nil {
		h.writeError(w, err, "create order error", zap.Int64("userID", userID), zap.String("orderID", req.OrderID))
		return
	}

	writeJSON(w, http.StatusCreated, toOrderResponse(order, &balance))
}

// GetOrder возвращает заказ. Обычный пользователь видит только свои заказы.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	order, err := h.service.GetOrder(r.Context(), id)
	if err != nil {
		h.writeError(w, err, "get order error", zap.Int64("id", id))
		return
	}

	userID, _ := middleware.GetUserIDFromContext(r.Context())
	role, _ := middleware.GetUserRoleFromContext(r.Context())
	if role != model.RoleAdmin && order.UserID != userID {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, toOrderResponse(order, nil))
}

type paginationResponse struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
	Pages int64 `json:"pages"`
}

type listOrdersResponse struct {
	Orders     []orderResponse    `json:"orders"`
	Pagination paginationResponse `json:"pagination"`
}

// ListOrders возвращает страницу заказов. Обычный пользователь видит только
// свои заказы; администратор может фильтровать по любому пользователю.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	callerID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	role, _ := middleware.GetUserRoleFromContext(r.Context())

	q := r.URL.Query()

	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))

	in := service.ListOrdersInput{
		Status: q.Get("status"),
		Search: q.Get("search"),
		Page:   page,
		Limit:  limit,
	}

	if role == model.RoleAdmin {
		if raw := q.Get("userId"); raw != "" {
			userID, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
				return
			}
			in.UserID = &userID
		}
	} else {
		in.UserID = &callerID
	}

	orders, total, err := h.service.ListOrders(r.Context(), in)
	if err != nil {
		h.writeError(w, err, "list orders error")
		return
	}

	page, limit = service.NormalizePageLimit(page, limit)

	resp := listOrdersResponse{
		Orders: make([]orderResponse, 0, len(orders)),
		Pagination: paginationResponse{
			Page:  page,
			Limit: limit,
			Total: total,
			Pages: (total + int64(limit) - 1) / int64(limit),
		},
	}
	for _, o := range orders {
		resp.Orders = append(resp.Orders, toOrderResponse(o, nil))
	}

	writeJSON(w, http.StatusOK, resp)
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

// UpdateOrderStatus переводит заказ в новый статус (для администратора).
// При отмене заказа в ответе возвращается новый баланс владельца.
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	order, balance, err := h.service.UpdateOrderStatus(r.Context(), id, req.Status)
	if err != nil {
		h.writeError(w, err, "update order status error", zap.Int64("id", id), zap.String("status", req.Status))
		return
	}

	writeJSON(w, http.StatusOK, toOrderResponse(order, balance))
}

type updateOrderRequest struct {
	ProductName      *string      `json:"productName"`
	Amount           *amountField `json:"amount"`
	AmountPerOrder   *amountField `json:"amountPerOrder"`
	SelectedProducts []string     `json:"selectedProducts"`
	Notes            *string      `json:"notes"`
	Status           *string      `json:"status"`
}

// UpdateOrder применяет частичное обновление заказа (для администратора).
// Изменение суммы заказа не допускается.
func (h *Handler) UpdateOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req updateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	in := service.UpdateOrderInput{
		ProductName:      req.ProductName,
		SelectedProducts: req.SelectedProducts,
		Notes:            req.Notes,
		Status:           req.Status,
	}
	if req.Amount != nil {
		v := string(*req.Amount)
		in.Amount = &v
	}
	if req.AmountPerOrder != nil {
		v := string(*req.AmountPerOrder)
		in.AmountPerOrder = &v
	}

	order, balance, err := h.service.UpdateOrder(r.Context(), id, in)
	if err != nil {
		h.writeError(w, err, "update order error", zap.Int64("id", id))
		return
	}

	writeJSON(w, http.StatusOK, toOrderResponse(order, balance))
}

// DeleteOrder удаляет заказ (для администратора). Неотменённый заказ
// возмещается владельцу.
func (h *Handler) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.DeleteOrder(r.Context(), id); err != nil {
		h.writeError(w, err, "delete order error", zap.Int64("id", id))
		return
	}

	w.WriteHeader(http.StatusOK)
}

type recentOrderResponse struct {
	ID        string  `json:"id"`
	OrderID   string  `json:"orderId"`
	Username  string  `json:"username"`
	Amount    float64 `json:"amount"`
	Status    string  `json:"status"`
	CreatedAt string  `json:"createdAt"`
}

type orderStatsResponse struct {
	TotalOrders      int64                 `json:"totalOrders"`
	PendingOrders    int64                 `json:"pendingOrders"`
	ProcessingOrders int64                 `json:"processingOrders"`
	CompletedOrders  int64                 `json:"completedOrders"`
	CancelledOrders  int64                 `json:"cancelledOrders"`
	TotalRevenue     float64               `json:"totalRevenue"`
	RecentOrders     []recentOrderResponse `json:"recentOrders"`
}

// OrderStats возвращает сводную статистику по заказам (для администратора).
func (h *Handler) OrderStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.OrderStats(r.Context())
	if err != nil {
		h.writeError(w, err, "order stats error")
		return
	}

	resp := orderStatsResponse{
		TotalOrders:      stats.TotalOrders,
		PendingOrders:    stats.PendingOrders,
		ProcessingOrders: stats.ProcessingOrders,
		CompletedOrders:  stats.CompletedOrders,
		CancelledOrders:  stats.CancelledOrders,
		TotalRevenue:     validation.CentsToAmount(stats.TotalRevenueCents),
		RecentOrders:     make([]recentOrderResponse, 0, len(stats.RecentOrders)),
	}
	for _, o := range stats.RecentOrders {
		resp.RecentOrders = append(resp.RecentOrders, recentOrderResponse{
			ID:        strconv.FormatInt(o.ID, 10),
			OrderID:   o.OrderID,
			Username:  o.Username,
			Amount:    validation.CentsToAmount(o.AmountCents),
			Status:    o.Status.External(),
			CreatedAt: o.CreatedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}
