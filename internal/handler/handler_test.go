package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/vkuznetsov/shopledger/internal/middleware"
	"github.com/vkuznetsov/shopledger/internal/model"
	"github.com/vkuznetsov/shopledger/internal/repository"
	"github.com/vkuznetsov/shopledger/internal/service"
)

type stubService struct {
	registerUserID int64
	registerErr    error

	authUser *model.User
	authErr  error

	balanceResp float64
	balanceErr  error

	adjustResp      float64
	adjustErr       error
	adjustGotAmount string
	adjustGotOp     string

	createOrderResp    model.Order
	createOrderBalance float64
	createOrderErr     error

	getOrderResp model.Order
	getOrderErr  error

	listOrdersResp  []model.Order
	listOrdersTotal int64

	updateStatusResp    model.Order
	updateStatusBalance *float64
	updateStatusErr     error

	updateOrderResp model.Order
	updateOrderErr  error

	deleteOrderErr error

	statsResp model.OrderStats

	usersResp []model.User
}

func (s *stubService) RegisterUser(ctx context.Context, login, password string) (int64, error) {
	return s.registerUserID, s.registerErr
}

func (s *stubService) AuthenticateUser(ctx context.Context, login, password string) (*model.User, error) {
	return s.authUser, s.authErr
}

func (s *stubService) GetUser(ctx context.Context, id int64) (*model.User, error) {
	return s.authUser, s.authErr
}

func (s *stubService) ListUsers(ctx context.Context) ([]model.User, error) {
	return s.usersResp, nil
}

func (s *stubService) DeleteUser(ctx context.Context, id int64) error {
	return nil
}

func (s *stubService) GetBalance(ctx context.Context, userID int64) (float64, error) {
	return s.balanceResp, s.balanceErr
}

func (s *stubService) AdjustBalance(ctx context.Context, userID int64, rawAmount, rawOp string) (float64, error) {
	s.adjustGotAmount = rawAmount
	s.adjustGotOp = rawOp
	return s.adjustResp, s.adjustErr
}

func (s *stubService) CreateOrder(ctx context.Context, userID int64, in service.CreateOrderInput) (model.Order, float64, error) {
	return s.createOrderResp, s.createOrderBalance, s.createOrderErr
}

func (s *stubService) GetOrder(ctx context.Context, id int64) (model.Order, error) {
	return s.getOrderResp, s.getOrderErr
}

func (s *stubService) ListOrders(ctx context.Context, in service.ListOrdersInput) ([]model.Order, int64, error) {
	return s.listOrdersResp, s.listOrdersTotal, nil
}

func (s *stubService) UpdateOrderStatus(ctx context.Context, id int64, rawStatus string) (model.Order, *float64, error) {
	return s.updateStatusResp, s.updateStatusBalance, s.updateStatusErr
}

func (s *stubService) UpdateOrder(ctx context.Context, id int64, in service.UpdateOrderInput) (model.Order, *float64, error) {
	return s.updateOrderResp, nil, s.updateOrderErr
}

func (s *stubService) DeleteOrder(ctx context.Context, id int64) error {
	return s.deleteOrderErr
}

func (s *stubService) OrderStats(ctx context.Context) (model.OrderStats, error) {
	return s.statsResp, nil
}

func newTestHandler(t *testing.T, svc Service) *Handler {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	auth := middleware.NewAuthMiddleware("test-secret")

	return NewHandler(svc, logger, auth)
}

func authCookie(h *Handler, userID int64, role model.Role) *http.Cookie {
	rec := httptest.NewRecorder()
	h.authMiddleware.SetAuthCookie(rec, userID, role)
	return rec.Result().Cookies()[0]
}

func testOrder() model.Order {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return model.Order{
		ID:                  7,
		OrderID:             "ORD-1001",
		UserID:              1,
		Username:            "user",
		ProductName:         "widget",
		AmountCents:         20000000,
		AmountPerOrderCents: 10000000,
		SelectedProducts:    []string{"p1", "p2"},
		Status:              model.OrderStatusPending,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

func TestRegister_Success(t *testing.T) {
	svc := &stubService{registerUserID: 42}
	h := newTestHandler(t, svc)
	r := h.SetupRouter()

	body, _ := json.Marshal(credentialsRequest{Login: "user", Password: "pass"})
	req := httptest.NewRequest(http.MethodPost, "/api/auth/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	r.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if len(res.Cookies()) == 0 {
		t.Fatalf("auth cookie not set")
	}
}

func TestRegister_Conflict(t *testing.T) {
	svc := &stubService{registerErr: repository.ErrUserExists}
	h := newTestHandler(t, svc)
	r := h.SetupRouter()

	body, _ := json.Marshal(credentialsRequest{Login: "user", Password: "pass"})
	req := httptest.NewRequest(http.MethodPost, "/api/auth/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	r.ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusConflict)
	}
}

func TestGetBalance_Unauthorized(t *testing.T) {
	h := newTestHandler(t, &stubService{})
	r := h.SetupRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/balance", nil)
	rec := httptest.NewRecorder()

	r.ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusUnauthorized)
	}
}

func TestCreateOrder_Success(t *testing.T) {
	svc := &stubService{
		createOrderResp:    testOrder(),
		createOrderBalance: 300000,
	}
	h := newTestHandler(t, svc)
	r := h.SetupRouter()

	body := []byte(`{"orderId":"ORD-1001","productName":"widget","amount":200000,"amountPerOrder":"100000","selectedProducts":["p1","p2"]}`)
	req := httptest.NewRequest(http.MethodPost, "/api/orders", bytes.NewReader(body))
	req.AddCookie(authCookie(h, 1, model.RoleUser))
	rec := httptest.NewRecorder()

	r.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusCreated)
	}

	var resp orderResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Amount != 200000 {
		t.Fatalf("amount = %v, want 200000", resp.Amount)
	}
	if resp.Status != "pending" {
		t.Fatalf("status = %q, want %q", resp.Status, "pending")
	}
	if resp.UserBalance == nil || *resp.UserBalance != 300000 {
		t.Fatalf("userBalance = %v, want 300000", resp.UserBalance)
	}
}

func TestCreateOrder_InsufficientBalance(t *testing.T) {
	svc := &stubService{createOrderErr: repository.ErrInsufficientBalance}
	h := newTestHandler(t, svc)
	r := h.SetupRouter()

	body := []byte(`{"orderId":"ORD-1002","productName":"widget","amount":400000,"amountPerOrder":200000,"selectedProducts":["p1"]}`)
	req := httptest.NewRequest(http.MethodPost, "/api/orders", bytes.NewReader(body))
	req.AddCookie(authCookie(h, 1, model.RoleUser))
	rec := httptest.NewRecorder()

	r.ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusPaymentRequired)
	}
}

func TestCreateOrder_DuplicateOrderID(t *testing.T) {
	svc := &stubService{createOrderErr: repository.ErrDuplicateOrderID}
	h := newTestHandler(t, svc)
	r := h.SetupRouter()

	body := []byte(`{"orderId":"ORD-1001","productName":"widget","amount":1,"amountPerOrder":1,"selectedProducts":["p1"]}`)
	req := httptest.NewRequest(http.MethodPost, "/api/orders", bytes.NewReader(body))
	req.AddCookie(authCookie(h, 1, model.RoleUser))
	rec := httptest.NewRecorder()

	r.ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusConflict)
	}
}

func TestGetOrder_ForeignOrderHidden(t *testing.T) {
	order := testOrder()
	order.UserID = 99
	svc := &stubService{getOrderResp: order}
	h := newTestHandler(t, svc)
	r := h.SetupRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/orders/7", nil)
	req.AddCookie(authCookie(h, 1, model.RoleUser))
	rec := httptest.NewRecorder()

	r.ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusNotFound)
	}
}

func TestGetOrder_AdminSeesAny(t *testing.T) {
	order := testOrder()
	order.UserID = 99
	svc := &stubService{getOrderResp: order}
	h := newTestHandler(t, svc)
	r := h.SetupRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/orders/7", nil)
	req.AddCookie(authCookie(h, 1, model.RoleAdmin))
	rec := httptest.NewRecorder()

	r.ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusOK)
	}
}

func TestUpdateOrderStatus_RequiresAdmin(t *testing.T) {
	h := newTestHandler(t, &stubService{})
	r := h.SetupRouter()

	body := []byte(`{"status":"cancelled"}`)
	req := httptest.NewRequest(http.MethodPatch, "/api/orders/7/status", bytes.NewReader(body))
	req.AddCookie(authCookie(h, 1, model.RoleUser))
	rec := httptest.NewRecorder()

	r.ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusForbidden)
	}
}

func TestUpdateOrderStatus_InvalidStatus(t *testing.T) {
	svc := &stubService{updateStatusErr: model.ErrInvalidStatus}
	h := newTestHandler(t, svc)
	r := h.SetupRouter()

	body := []byte(`{"status":"shipped"}`)
	req := httptest.NewRequest(http.MethodPatch, "/api/orders/7/status", bytes.NewReader(body))
	req.AddCookie(authCookie(h, 2, model.RoleAdmin))
	rec := httptest.NewRecorder()

	r.ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusBadRequest)
	}
}

func TestUpdateOrderStatus_RefundedBalanceInResponse(t *testing.T) {
	order := testOrder()
	order.Status = model.OrderStatusCancelled
	refunded := 500000.0
	svc := &stubService{
		updateStatusResp:    order,
		updateStatusBalance: &refunded,
	}
	h := newTestHandler(t, svc)
	r := h.SetupRouter()

	body := []byte(`{"status":"cancelled"}`)
	req := httptest.NewRequest(http.MethodPatch, "/api/orders/7/status", bytes.NewReader(body))
	req.AddCookie(authCookie(h, 2, model.RoleAdmin))
	rec := httptest.NewRecorder()

	r.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var resp orderResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "cancelled" {
		t.Fatalf("status = %q, want %q", resp.Status, "cancelled")
	}
	if resp.UserBalance == nil || *resp.UserBalance != 500000 {
		t.Fatalf("userBalance = %v, want 500000", resp.UserBalance)
	}
}

func TestUpdateOrder_AmountRejected(t *testing.T) {
	svc := &stubService{updateOrderErr: service.ErrAmountImmutable}
	h := newTestHandler(t, svc)
	r := h.SetupRouter()

	body := []byte(`{"amount":999}`)
	req := httptest.NewRequest(http.MethodPut, "/api/orders/7", bytes.NewReader(body))
	req.AddCookie(authCookie(h, 2, model.RoleAdmin))
	rec := httptest.NewRecorder()

	r.ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusBadRequest)
	}
}

func TestAdjustUserBalance_AcceptsStringAmount(t *testing.T) {
	svc := &stubService{adjustResp: 1000000}
	h := newTestHandler(t, svc)
	r := h.SetupRouter()

	body := []byte(`{"balance":"1000000","operation":"set"}`)
	req := httptest.NewRequest(http.MethodPut, "/api/users/3/balance", bytes.NewReader(body))
	req.AddCookie(authCookie(h, 2, model.RoleAdmin))
	rec := httptest.NewRecorder()

	r.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if svc.adjustGotAmount != "1000000" || svc.adjustGotOp != "set" {
		t.Fatalf("service got amount=%q op=%q", svc.adjustGotAmount, svc.adjustGotOp)
	}

	var resp balanceResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Balance != 1000000 {
		t.Fatalf("balance = %v, want 1000000", resp.Balance)
	}
}

func TestAdjustUserBalance_AcceptsNumberAmount(t *testing.T) {
	svc := &stubService{adjustResp: 42}
	h := newTestHandler(t, svc)
	r := h.SetupRouter()

	body := []byte(`{"balance":42.50,"operation":"add"}`)
	req := httptest.NewRequest(http.MethodPut, "/api/users/3/balance", bytes.NewReader(body))
	req.AddCookie(authCookie(h, 2, model.RoleAdmin))
	rec := httptest.NewRecorder()

	r.ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusOK)
	}
	if svc.adjustGotAmount != "42.50" {
		t.Fatalf("service got amount=%q, want %q", svc.adjustGotAmount, "42.50")
	}
}

func TestOrderStats_JSONResponse(t *testing.T) {
	svc := &stubService{
		statsResp: model.OrderStats{
			TotalOrders:       10,
			PendingOrders:     3,
			CompletedOrders:   5,
			CancelledOrders:   2,
			TotalRevenueCents: 123450,
			RecentOrders:      []model.Order{testOrder()},
		},
	}
	h := newTestHandler(t, svc)
	r := h.SetupRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/orders/stats", nil)
	req.AddCookie(authCookie(h, 2, model.RoleAdmin))
	rec := httptest.NewRecorder()

	r.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if ct := res.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type = %q, want application/json", ct)
	}

	var resp orderStatsResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.TotalOrders != 10 {
		t.Fatalf("totalOrders = %d, want 10", resp.TotalOrders)
	}
	if resp.TotalRevenue != 1234.5 {
		t.Fatalf("totalRevenue = %v, want 1234.5", resp.TotalRevenue)
	}
	if len(resp.RecentOrders) != 1 {
		t.Fatalf("recentOrders length = %d, want 1", len(resp.RecentOrders))
	}
}

func TestListOrders_PaginationEcho(t *testing.T) {
	svc := &stubService{
		listOrdersResp:  []model.Order{testOrder()},
		listOrdersTotal: 25,
	}
	h := newTestHandler(t, svc)
	r := h.SetupRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/orders?page=2&limit=10", nil)
	req.AddCookie(authCookie(h, 1, model.RoleUser))
	rec := httptest.NewRecorder()

	r.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var resp listOrdersResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Pagination.Page != 2 || resp.Pagination.Total != 25 || resp.Pagination.Pages != 3 {
		t.Fatalf("pagination = %+v, want page=2 total=25 pages=3", resp.Pagination)
	}

	// параметры за пределами допустимого отражаются уже нормализованными
	req = httptest.NewRequest(http.MethodGet, "/api/orders?page=0&limit=500", nil)
	req.AddCookie(authCookie(h, 1, model.RoleUser))
	rec = httptest.NewRecorder()

	r.ServeHTTP(rec, req)

	resp = listOrdersResponse{}
	if err := json.NewDecoder(rec.Result().Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Pagination.Page != 1 || resp.Pagination.Limit != 100 {
		t.Fatalf("pagination = %+v, want page=1 limit=100", resp.Pagination)
	}
}
