package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vkuznetsov/shopledger/internal/model"
)

// Транзакции, затрагивающие и заказ, и баланс, всегда блокируют строки
// в одном порядке: сначала заказ, затем пользователь.

const orderColumns = `o.id, o.order_id, o.user_id, u.login, o.product_name, o.amount,
	o.amount_per_order, o.selected_products, o.notes, o.status, o.created_at, o.updated_at`

// OrderFilter описывает параметры выборки списка заказов.
type OrderFilter struct {
	Status *model.OrderStatus
	UserID *int64
	Search string
	Limit  int
	Offset int
}

// OrderPatch описывает частичное обновление заказа. Нулевой указатель
// означает, что поле не меняется. Сумма заказа не редактируется: списание
// при создании и возврат при отмене должны совпадать.
type OrderPatch struct {
	ProductName         *string
	AmountPerOrderCents *int64
	SelectedProducts    []string
	Notes               *string
	Status              *model.OrderStatus
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (model.Order, error) {
	var (
		o        model.Order
		status   string
		products []byte
	)
	err := row.Scan(&o.ID, &o.OrderID, &o.UserID, &o.Username, &o.ProductName,
		&o.AmountCents, &o.AmountPerOrderCents, &products, &o.Notes, &status,
		&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return model.Order{}, err
	}

	o.Status = model.OrderStatus(status)

	if len(products) > 0 {
		if err := json.Unmarshal(products, &o.SelectedProducts); err != nil {
			return model.Order{}, fmt.Errorf("decode selected products: %w", err)
		}
	}

	return o, nil
}

// lockOrderTx блокирует строку заказа до конца транзакции и возвращает её.
// Логин владельца не заполняется: соединение с users здесь не нужно.
func lockOrderTx(ctx context.Context, tx pgx.Tx, id int64) (model.Order, error) {
	var (
		o        model.Order
		status   string
		products []byte
	)
	err := tx.QueryRow(ctx,
		`SELECT id, order_id, user_id, product_name, amount, amount_per_order,
			selected_products, notes, status, created_at, updated_at
		 FROM orders WHERE id = $1 FOR UPDATE`,
		id,
	).Scan(&o.ID, &o.OrderID, &o.UserID, &o.ProductName, &o.AmountCents,
		&o.AmountPerOrderCents, &products, &o.Notes, &status, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Order{}, ErrOrderNotFound
		}
		return model.Order{}, fmt.Errorf("lock order for update: %w", err)
	}

	o.Status = model.OrderStatus(status)

	if len(products) > 0 {
		if err := json.Unmarshal(products, &o.SelectedProducts); err != nil {
			return model.Order{}, fmt.Errorf("decode selected products: %w", err)
		}
	}

	return o, nil
}

// CreateOrder создаёт заказ в статусе PENDING и списывает его сумму с баланса
// владельца в одной транзакции: либо фиксируются обе мутации, либо ни одна.
func (r *PostgresRepository) CreateOrder(ctx context.Context, o model.Order) (model.Order, int64, error) {
	products, err := json.Marshal(o.SelectedProducts)
	if err != nil {
		return model.Order{}, 0, fmt.Errorf("encode selected products: %w", err)
	}

	var (
		created    model.Order
		newBalance int64
	)

	err = r.withRetry(ctx, func(ctx context.Context) error {
		return r.inTx(ctx, func(tx pgx.Tx) error {
			login, balance, err := lockUserTx(ctx, tx, o.UserID)
			if err != nil {
				return err
			}

			if balance < o.AmountCents {
				return ErrInsufficientBalance
			}

			created = o
			created.Username = login
			created.Status = model.OrderStatusPending

			err = tx.QueryRow(ctx,
				`INSERT INTO orders (order_id, user_id, product_name, amount, amount_per_order, selected_products, notes, status)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
				 RETURNING id, created_at, updated_at`,
				o.OrderID, o.UserID, o.ProductName, o.AmountCents, o.AmountPerOrderCents,
				products, o.Notes, string(model.OrderStatusPending),
			).Scan(&created.ID, &created.CreatedAt, &created.UpdatedAt)
			if err != nil {
				var pgErr *pgconn.PgError
				if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
					return fmt.Errorf("%w: %s", ErrDuplicateOrderID, o.OrderID)
				}
				return fmt.Errorf("insert order: %w", err)
			}

			newBalance = balance - o.AmountCents
			return storeBalanceTx(ctx, tx, o.UserID, newBalance)
		})
	})
	if err != nil {
		return model.Order{}, 0, err
	}

	return created, newBalance, nil
}

// GetOrderByID возвращает заказ по внутреннему идентификатору.
func (r *PostgresRepository) GetOrderByID(ctx context.Context, id int64) (model.Order, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+`
		 FROM orders o JOIN users u ON u.id = o.user_id
		 WHERE o.id = $1`,
		id,
	)

	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Order{}, ErrOrderNotFound
		}
		return model.Order{}, fmt.Errorf("get order: %w", err)
	}

	return o, nil
}

// ListOrders возвращает страницу заказов по фильтру и общее число подходящих строк.
func (r *PostgresRepository) ListOrders(ctx context.Context, f OrderFilter) ([]model.Order, int64, error) {
	var (
		conds []string
		args  []any
	)

	if f.Status != nil {
		args = append(args, string(*f.Status))
		conds = append(conds, fmt.Sprintf("o.status = $%d", len(args)))
	}
	if f.UserID != nil {
		args = append(args, *f.UserID)
		conds = append(conds, fmt.Sprintf("o.user_id = $%d", len(args)))
	}
	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		n := len(args)
		conds = append(conds, fmt.Sprintf("(o.order_id ILIKE $%d OR o.product_name ILIKE $%d OR u.login ILIKE $%d)", n, n, n))
	}

	whereSQL := ""
	if len(conds) > 0 {
		whereSQL = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM orders o JOIN users u ON u.id = o.user_id`+whereSQL,
		args...,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}

	args = append(args, f.Limit)
	limitIdx := len(args)
	args = append(args, f.Offset)
	offsetIdx := len(args)

	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+`
		 FROM orders o JOIN users u ON u.id = o.user_id`+whereSQL+`
		 ORDER BY o.created_at DESC
		 LIMIT $`+fmt.Sprint(limitIdx)+` OFFSET $`+fmt.Sprint(offsetIdx),
		args...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows error: %w", err)
	}

	return orders, total, nil
}

// UpdateOrderStatus переводит заказ в новый статус. При переходе в CANCELLED
// из любого другого статуса сумма заказа возвращается владельцу в той же
// транзакции; повторная отмена возврата не даёт. Вторым значением
// возвращается новый баланс, если возврат был выполнен.
func (r *PostgresRepository) UpdateOrderStatus(ctx context.Context, id int64, next model.OrderStatus) (model.Order, *int64, error) {
	var (
		updated    model.Order
		newBalance *int64
	)

	err := r.withRetry(ctx, func(ctx context.Context) error {
		newBalance = nil

		return r.inTx(ctx, func(tx pgx.Tx) error {
			o, err := lockOrderTx(ctx, tx, id)
			if err != nil {
				return err
			}

			if model.RefundOnStatusChange(o.Status, next) {
				balance, err := creditUserTx(ctx, tx, o.UserID, o.AmountCents)
				if err != nil {
					return err
				}
				newBalance = &balance
			}

			updated = o
			updated.Status = next

			err = tx.QueryRow(ctx,
				`UPDATE orders SET status = $2, updated_at = now() WHERE id = $1 RETURNING updated_at`,
				id, string(next),
			).Scan(&updated.UpdatedAt)
			if err != nil {
				return fmt.Errorf("update order status: %w", err)
			}

			return tx.QueryRow(ctx,
				`SELECT login FROM users WHERE id = $1`, o.UserID,
			).Scan(&updated.Username)
		})
	})
	if err != nil {
		return model.Order{}, nil, err
	}

	return updated, newBalance, nil
}

// UpdateOrder применяет частичное обновление заказа. Если патч содержит
// статус, действует то же правило возврата, что и в UpdateOrderStatus.
func (r *PostgresRepository) UpdateOrder(ctx context.Context, id int64, patch OrderPatch) (model.Order, *int64, error) {
	var (
		updated    model.Order
		newBalance *int64
	)

	err := r.withRetry(ctx, func(ctx context.Context) error {
		newBalance = nil

		return r.inTx(ctx, func(tx pgx.Tx) error {
			o, err := lockOrderTx(ctx, tx, id)
			if err != nil {
				return err
			}

			if patch.Status != nil && model.RefundOnStatusChange(o.Status, *patch.Status) {
				balance, err := creditUserTx(ctx, tx, o.UserID, o.AmountCents)
				if err != nil {
					return err
				}
				newBalance = &balance
			}

			sets := []string{"updated_at = now()"}
			args := []any{id}

			if patch.ProductName != nil {
				args = append(args, *patch.ProductName)
				sets = append(sets, fmt.Sprintf("product_name = $%d", len(args)))
			}
			if patch.AmountPerOrderCents != nil {
				args = append(args, *patch.AmountPerOrderCents)
				sets = append(sets, fmt.Sprintf("amount_per_order = $%d", len(args)))
			}
			if patch.SelectedProducts != nil {
				products, err := json.Marshal(patch.SelectedProducts)
				if err != nil {
					return fmt.Errorf("encode selected products: %w", err)
				}
				args = append(args, products)
				sets = append(sets, fmt.Sprintf("selected_products = $%d", len(args)))
			}
			if patch.Notes != nil {
				args = append(args, *patch.Notes)
				sets = append(sets, fmt.Sprintf("notes = $%d", len(args)))
			}
			if patch.Status != nil {
				args = append(args, string(*patch.Status))
				sets = append(sets, fmt.Sprintf("status = $%d", len(args)))
			}

			row := tx.QueryRow(ctx,
				`UPDATE orders SET `+strings.Join(sets, ", ")+` WHERE id = $1
				 RETURNING id, order_id, user_id, product_name, amount, amount_per_order,
					selected_products, notes, status, created_at, updated_at`,
				args...,
			)

			var (
				status   string
				products []byte
			)
			err = row.Scan(&updated.ID, &updated.OrderID, &updated.UserID, &updated.ProductName,
				&updated.AmountCents, &updated.AmountPerOrderCents, &products, &updated.Notes,
				&status, &updated.CreatedAt, &updated.UpdatedAt)
			if err != nil {
				return fmt.Errorf("update order: %w", err)
			}

			updated.Status = model.OrderStatus(status)
			if len(products) > 0 {
				if err := json.Unmarshal(products, &updated.SelectedProducts); err != nil {
					return fmt.Errorf("decode selected products: %w", err)
				}
			}

			return tx.QueryRow(ctx,
				`SELECT login FROM users WHERE id = $1`, updated.UserID,
			).Scan(&updated.Username)
		})
	})
	if err != nil {
		return model.Order{}, nil, err
	}

	return updated, newBalance, nil
}

// DeleteOrder удаляет заказ. Если заказ не был отменён ранее, его сумма
// возвращается владельцу в той же транзакции, что и удаление строки.
// Возвращает сумму выполненного возврата в копейках (0, если возврата не было).
func (r *PostgresRepository) DeleteOrder(ctx context.Context, id int64) (int64, error) {
	var refunded int64

	err := r.withRetry(ctx, func(ctx context.Context) error {
		refunded = 0

		return r.inTx(ctx, func(tx pgx.Tx) error {
			o, err := lockOrderTx(ctx, tx, id)
			if err != nil {
				return err
			}

			if model.RefundOnDelete(o.Status) {
				if _, err := creditUserTx(ctx, tx, o.UserID, o.AmountCents); err != nil {
					return err
				}
				refunded = o.AmountCents
			}

			if _, err := tx.Exec(ctx, `DELETE FROM orders WHERE id = $1`, id); err != nil {
				return fmt.Errorf("delete order: %w", err)
			}

			return nil
		})
	})
	if err != nil {
		return 0, err
	}

	return refunded, nil
}

// GetOrderStats возвращает сводную статистику по заказам. Выручка считается
// по заказам в статусе COMPLETED.
func (r *PostgresRepository) GetOrderStats(ctx context.Context) (model.OrderStats, error) {
	var stats model.OrderStats

	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*),
			COUNT(*) FILTER (WHERE status = $1),
			COUNT(*) FILTER (WHERE status = $2),
			COUNT(*) FILTER (WHERE status = $3),
			COUNT(*) FILTER (WHERE status = $4),
			COALESCE(SUM(amount) FILTER (WHERE status = $3), 0)
		 FROM orders`,
		string(model.OrderStatusPending),
		string(model.OrderStatusProcessing),
		string(model.OrderStatusCompleted),
		string(model.OrderStatusCancelled),
	).Scan(&stats.TotalOrders, &stats.PendingOrders, &stats.ProcessingOrders,
		&stats.CompletedOrders, &stats.CancelledOrders, &stats.TotalRevenueCents)
	if err != nil {
		return model.OrderStats{}, fmt.Errorf("order stats: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+`
		 FROM orders o JOIN users u ON u.id = o.user_id
		 ORDER BY o.created_at DESC
		 LIMIT 5`,
	)
	if err != nil {
		return model.OrderStats{}, fmt.Errorf("recent orders: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return model.OrderStats{}, fmt.Errorf("scan order: %w", err)
		}
		stats.RecentOrders = append(stats.RecentOrders, o)
	}

	if err := rows.Err(); err != nil {
		return model.OrderStats{}, fmt.Errorf("rows error: %w", err)
	}

	return stats, nil
}
