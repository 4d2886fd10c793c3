// Package service реализует бизнес-логику сервиса магазина.
package service

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/vkuznetsov/shopledger/internal/metrics"
	"github.com/vkuznetsov/shopledger/internal/model"
	"github.com/vkuznetsov/shopledger/internal/repository"
	"github.com/vkuznetsov/shopledger/internal/validation"
)

// ErrMissingFields возвращается, если в запросе на создание заказа не хватает обязательных полей.
var (
	ErrMissingFields = errors.New("missing required fields")
	// ErrAmountImmutable возвращается при попытке изменить сумму существующего заказа.
	// Списание при создании и возврат при отмене выполняются на одну и ту же
	// сумму, поэтому редактирование после создания запрещено.
	ErrAmountImmutable = errors.New("order amount cannot be changed")
	// ErrInvalidCredentials возвращается при неверной паре логин/пароль.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

const (
	defaultPageLimit = 10
	maxPageLimit     = 100
)

// NormalizePageLimit приводит параметры пагинации к допустимым значениям:
// страница не меньше первой, размер страницы в пределах [1, 100]
// (по умолчанию 10). Транспортный слой использует эту же функцию,
// чтобы отдать клиенту фактические параметры страницы.
func NormalizePageLimit(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	return page, limit
}

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateUser(ctx context.Context, login string, passwordHash []byte, role model.Role) (int64, error)
	GetUserByLogin(ctx context.Context, login string) (*model.User, error)
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	DeleteUser(ctx context.Context, id int64) error
	GetBalance(ctx context.Context, userID int64) (int64, error)
	AdjustBalance(ctx context.Context, userID int64, amountCents int64, op model.BalanceOp) (int64, error)
	CreateOrder(ctx context.Context, o model.Order) (model.Order, int64, error)
	GetOrderByID(ctx context.Context, id int64) (model.Order, error)
	ListOrders(ctx context.Context, f repository.OrderFilter) ([]model.Order, int64, error)
	UpdateOrderStatus(ctx context.Context, id int64, next model.OrderStatus) (model.Order, *int64, error)
	UpdateOrder(ctx context.Context, id int64, patch repository.OrderPatch) (model.Order, *int64, error)
	DeleteOrder(ctx context.Context, id int64) (int64, error)
	GetOrderStats(ctx context.Context) (model.OrderStats, error)
}

// Service содержит бизнес-логику сервиса магазина.
type Service struct {
	repo Repository
}

// NewService создаёт новый сервис с указанным репозиторием.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegisterUser регистрирует нового пользователя с нулевым балансом.
func (s *Service) RegisterUser(ctx context.Context, login, password string) (int64, error) {
	if login == "" || password == "" {
		return 0, ErrMissingFields
	}

	hashed := hashPassword(login, password)
	return s.repo.CreateUser(ctx, login, hashed, model.RoleUser)
}

// AuthenticateUser проверяет логин и пароль пользователя.
func (s *Service) AuthenticateUser(ctx context.Context, login, password string) (*model.User, error) {
	u, err := s.repo.GetUserByLogin(ctx, login)
	if err != nil {
		return nil, err
	}

	hashed := hashPassword(login, password)
	if subtle.ConstantTimeCompare(hashed, u.PasswordHash) != 1 {
		return nil, ErrInvalidCredentials
	}

	return u, nil
}

func hashPassword(login, password string) []byte {
	sum := sha256.Sum256([]byte(login + ":" + password))
	return sum[:]
}

// GetUser возвращает пользователя по идентификатору.
func (s *Service) GetUser(ctx context.Context, id int64) (*model.User, error) {
	return s.repo.GetUserByID(ctx, id)
}

// ListUsers возвращает всех пользователей.
func (s *Service) ListUsers(ctx context.Context) ([]model.User, error) {
	return s.repo.ListUsers(ctx)
}

// DeleteUser удаляет пользователя вместе с его заказами и балансом.
func (s *Service) DeleteUser(ctx context.Context, id int64) error {
	return s.repo.DeleteUser(ctx, id)
}

// GetBalance возвращает текущий баланс пользователя во внешних денежных единицах.
func (s *Service) GetBalance(ctx context.Context, userID int64) (float64, error) {
	cents, err := s.repo.GetBalance(ctx, userID)
	if err != nil {
		return 0, err
	}
	return validation.CentsToAmount(cents), nil
}

// AdjustBalance выполняет административную корректировку баланса и возвращает
// новое значение. Для операций add и subtract сумма должна быть строго
// положительной, для set допускается ноль.
func (s *Service) AdjustBalance(ctx context.Context, userID int64, rawAmount, rawOp string) (float64, error) {
	op, err := model.ParseBalanceOp(rawOp)
	if err != nil {
		return 0, err
	}

	var cents int64
	if op == model.BalanceOpSet {
		cents, err = validation.ParseNonNegativeAmountCents(rawAmount)
	} else {
		cents, err = validation.ParseAmountCents(rawAmount)
	}
	if err != nil {
		return 0, err
	}

	newBalance, err := s.repo.AdjustBalance(ctx, userID, cents, op)
	if err != nil {
		return 0, err
	}

	metrics.BalanceAdjustments.WithLabelValues(string(op)).Inc()
	switch op {
	case model.BalanceOpAdd:
		metrics.BalanceCreditedCents.Add(float64(cents))
	case model.BalanceOpSubtract:
		metrics.BalanceDebitedCents.Add(float64(cents))
	}

	return validation.CentsToAmount(newBalance), nil
}

// CreateOrderInput описывает запрос на создание заказа. Денежные поля
// принимаются в сыром строковом виде и проходят единую валидацию.
type CreateOrderInput struct {
	OrderID          string
	ProductName      string
	Amount           string
	AmountPerOrder   string
	SelectedProducts []string
	Notes            string
}

// CreateOrder создаёт заказ и списывает его сумму с баланса владельца.
// Возвращает созданный заказ и новый баланс.
func (s *Service) CreateOrder(ctx context.Context, userID int64, in CreateOrderInput) (model.Order, float64, error) {
	if in.OrderID == "" || in.ProductName == "" || len(in.SelectedProducts) == 0 {
		return model.Order{}, 0, ErrMissingFields
	}

	amountCents, err := validation.ParseAmountCents(in.Amount)
	if err != nil {
		return model.Order{}, 0, fmt.Errorf("amount: %w", err)
	}

	amountPerOrderCents, err := validation.ParseAmountCents(in.AmountPerOrder)
	if err != nil {
		return model.Order{}, 0, fmt.Errorf("amount per order: %w", err)
	}

	order := model.Order{
		OrderID:             in.OrderID,
		UserID:              userID,
		ProductName:         in.ProductName,
		AmountCents:         amountCents,
		AmountPerOrderCents: amountPerOrderCents,
		SelectedProducts:    in.SelectedProducts,
		Notes:               in.Notes,
	}

	created, newBalance, err := s.repo.CreateOrder(ctx, order)
	if err != nil {
		return model.Order{}, 0, err
	}

	metrics.OrdersCreated.Inc()
	metrics.BalanceDebitedCents.Add(float64(amountCents))

	return created, validation.CentsToAmount(newBalance), nil
}

// GetOrder возвращает заказ по внутреннему идентификатору.
func (s *Service) GetOrder(ctx context.Context, id int64) (model.Order, error) {
	return s.repo.GetOrderByID(ctx, id)
}

// ListOrdersInput описывает параметры выборки списка заказов.
type ListOrdersInput struct {
	Status string
	UserID *int64
	Search string
	Page   int
	Limit  int
}

// ListOrders возвращает страницу заказов и общее число подходящих строк.
// Значение статуса "all" или пустая строка означает отсутствие фильтра.
func (s *Service) ListOrders(ctx context.Context, in ListOrdersInput) ([]model.Order, int64, error) {
	filter := repository.OrderFilter{
		UserID: in.UserID,
		Search: in.Search,
	}

	if in.Status != "" && in.Status != "all" {
		status, err := model.ParseOrderStatus(in.Status)
		if err != nil {
			return nil, 0, err
		}
		filter.Status = &status
	}

	page, limit := NormalizePageLimit(in.Page, in.Limit)

	filter.Limit = limit
	filter.Offset = (page - 1) * limit

	return s.repo.ListOrders(ctx, filter)
}

// UpdateOrderStatus переводит заказ в новый статус. Если переход повлёк
// возврат средств, вторым значением возвращается новый баланс владельца.
func (s *Service) UpdateOrderStatus(ctx context.Context, id int64, rawStatus string) (model.Order, *float64, error) {
	status, err := model.ParseOrderStatus(rawStatus)
	if err != nil {
		return model.Order{}, nil, err
	}

	order, newBalanceCents, err := s.repo.UpdateOrderStatus(ctx, id, status)
	if err != nil {
		return model.Order{}, nil, err
	}

	return order, s.noteRefund(order, newBalanceCents), nil
}

// noteRefund фиксирует метрики возврата и конвертирует новый баланс
// во внешние единицы.
func (s *Service) noteRefund(order model.Order, newBalanceCents *int64) *float64 {
	if newBalanceCents == nil {
		return nil
	}

	metrics.RefundsIssued.Inc()
	metrics.BalanceCreditedCents.Add(float64(order.AmountCents))

	balance := validation.CentsToAmount(*newBalanceCents)
	return &balance
}

// UpdateOrderInput описывает частичное обновление заказа. Нулевой указатель
// означает, что поле не меняется.
type UpdateOrderInput struct {
	ProductName      *string
	Amount           *string
	AmountPerOrder   *string
	SelectedProducts []string
	Notes            *string
	Status           *string
}

// UpdateOrder применяет частичное обновление заказа. Попытка изменить сумму
// заказа отклоняется: списание и возврат обязаны совпадать.
func (s *Service) UpdateOrder(ctx context.Context, id int64, in UpdateOrderInput) (model.Order, *float64, error) {
	if in.Amount != nil {
		return model.Order{}, nil, ErrAmountImmutable
	}

	patch := repository.OrderPatch{
		ProductName:      in.ProductName,
		SelectedProducts: in.SelectedProducts,
		Notes:            in.Notes,
	}

	if in.AmountPerOrder != nil {
		cents, err := validation.ParseAmountCents(*in.AmountPerOrder)
		if err != nil {
			return model.Order{}, nil, fmt.Errorf("amount per order: %w", err)
		}
		patch.AmountPerOrderCents = &cents
	}

	if in.Status != nil {
		status, err := model.ParseOrderStatus(*in.Status)
		if err != nil {
			return model.Order{}, nil, err
		}
		patch.Status = &status
	}

	order, newBalanceCents, err := s.repo.UpdateOrder(ctx, id, patch)
	if err != nil {
		return model.Order{}, nil, err
	}

	return order, s.noteRefund(order, newBalanceCents), nil
}

// DeleteOrder удаляет заказ. Если заказ не был отменён ранее, владельцу
// возвращается его сумма.
func (s *Service) DeleteOrder(ctx context.Context, id int64) error {
	refundedCents, err := s.repo.DeleteOrder(ctx, id)
	if err != nil {
		return err
	}

	metrics.OrdersDeleted.Inc()
	if refundedCents > 0 {
		metrics.RefundsIssued.Inc()
		metrics.BalanceCreditedCents.Add(float64(refundedCents))
	}

	return nil
}

// OrderStats возвращает сводную статистику по заказам.
func (s *Service) OrderStats(ctx context.Context) (model.OrderStats, error) {
	return s.repo.GetOrderStats(ctx)
}
