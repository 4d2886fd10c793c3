// Package model содержит доменные сущности сервиса магазина.
package model

import (
	"errors"
	"strings"
	"time"
)

// ErrInvalidStatus возвращается при получении статуса заказа вне допустимого набора значений.
var ErrInvalidStatus = errors.New("invalid order status")

// ErrInvalidOperation возвращается при неизвестной операции изменения баланса.
var ErrInvalidOperation = errors.New("invalid balance operation")

// Role описывает роль пользователя в системе.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// User представляет зарегистрированного пользователя с накопительным балансом.
// Баланс хранится в минорных единицах валюты (копейках).
type User struct {
	ID           int64
	Login        string
	PasswordHash []byte
	Role         Role
	BalanceCents int64
	CreatedAt    time.Time
}

// IsAdmin сообщает, обладает ли пользователь административными правами.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// OrderStatus описывает статус жизненного цикла заказа.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusCompleted  OrderStatus = "COMPLETED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
)

// ParseOrderStatus приводит входную строку к каноническому статусу заказа.
// Регистр входного значения не учитывается.
func ParseOrderStatus(s string) (OrderStatus, error) {
	switch OrderStatus(strings.ToUpper(strings.TrimSpace(s))) {
	case OrderStatusPending:
		return OrderStatusPending, nil
	case OrderStatusProcessing:
		return OrderStatusProcessing, nil
	case OrderStatusCompleted:
		return OrderStatusCompleted, nil
	case OrderStatusCancelled:
		return OrderStatusCancelled, nil
	default:
		return "", ErrInvalidStatus
	}
}

// External возвращает представление статуса для внешнего API (нижний регистр).
func (s OrderStatus) External() string {
	return strings.ToLower(string(s))
}

// RefundOnStatusChange сообщает, положен ли возврат средств при переходе
// заказа из статуса cur в статус next. Возврат выполняется не более одного
// раза: повторная отмена уже отменённого заказа возврата не даёт.
func RefundOnStatusChange(cur, next OrderStatus) bool {
	return next == OrderStatusCancelled && cur != OrderStatusCancelled
}

// RefundOnDelete сообщает, положен ли возврат средств при удалении заказа
// в статусе cur. Отменённый заказ уже был возмещён в момент отмены.
func RefundOnDelete(cur OrderStatus) bool {
	return cur != OrderStatusCancelled
}

// Order описывает заказ пользователя. Денежные поля хранятся в копейках.
// Поле AmountCents после создания заказа не изменяется: списание при создании
// и возврат при отмене или удалении выполняются ровно на эту сумму.
type Order struct {
	ID                  int64
	OrderID             string
	UserID              int64
	Username            string
	ProductName         string
	AmountCents         int64
	AmountPerOrderCents int64
	SelectedProducts    []string
	Notes               string
	Status              OrderStatus
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// BalanceOp описывает операцию административной корректировки баланса.
type BalanceOp string

const (
	BalanceOpAdd      BalanceOp = "add"
	BalanceOpSubtract BalanceOp = "subtract"
	BalanceOpSet      BalanceOp = "set"
)

// ParseBalanceOp приводит входную строку к канонической операции баланса.
// Пустое значение трактуется как пополнение.
func ParseBalanceOp(s string) (BalanceOp, error) {
	switch BalanceOp(strings.ToLower(strings.TrimSpace(s))) {
	case BalanceOpAdd, "":
		return BalanceOpAdd, nil
	case BalanceOpSubtract:
		return BalanceOpSubtract, nil
	case BalanceOpSet:
		return BalanceOpSet, nil
	default:
		return "", ErrInvalidOperation
	}
}

// OrderStats содержит сводную статистику по заказам.
type OrderStats struct {
	TotalOrders       int64
	PendingOrders     int64
	ProcessingOrders  int64
	CompletedOrders   int64
	CancelledOrders   int64
	TotalRevenueCents int64
	RecentOrders      []Order
}
