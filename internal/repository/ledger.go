package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/vkuznetsov/shopledger/internal/model"
)

// Баланс пользователя изменяется только функциями этого файла. Каждое
// изменение выполняется под блокировкой строки пользователя (SELECT ... FOR
// UPDATE), чтобы параллельные транзакции не читали устаревшее значение.

// lockUserTx блокирует строку пользователя до конца транзакции и возвращает
// его логин и текущий баланс.
func lockUserTx(ctx context.Context, tx pgx.Tx, userID int64) (login string, balanceCents int64, err error) {
	err = tx.QueryRow(ctx,
		`SELECT login, balance FROM users WHERE id = $1 FOR UPDATE`,
		userID,
	).Scan(&login, &balanceCents)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", 0, ErrUserNotFound
		}
		return "", 0, fmt.Errorf("lock user for update: %w", err)
	}
	return login, balanceCents, nil
}

// storeBalanceTx записывает новое значение баланса внутри транзакции.
// Вызывается только после lockUserTx на том же идентификаторе.
func storeBalanceTx(ctx context.Context, tx pgx.Tx, userID int64, balanceCents int64) error {
	cmdTag, err := tx.Exec(ctx,
		`UPDATE users SET balance = $2 WHERE id = $1`,
		userID, balanceCents,
	)
	if err != nil {
		return fmt.Errorf("update balance: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// creditUserTx увеличивает баланс пользователя на amountCents внутри
// транзакции вызывающей стороны. Используется для возвратов при отмене
// и удалении заказов.
func creditUserTx(ctx context.Context, tx pgx.Tx, userID int64, amountCents int64) (int64, error) {
	_, balance, err := lockUserTx(ctx, tx, userID)
	if err != nil {
		return 0, err
	}

	newBalance := balance + amountCents
	if err := storeBalanceTx(ctx, tx, userID, newBalance); err != nil {
		return 0, err
	}

	return newBalance, nil
}

// GetBalance возвращает текущий баланс пользователя в копейках.
func (r *PostgresRepository) GetBalance(ctx context.Context, userID int64) (int64, error) {
	var balance int64
	err := r.pool.QueryRow(ctx,
		`SELECT balance FROM users WHERE id = $1`,
		userID,
	).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrUserNotFound
		}
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return balance, nil
}

// AdjustBalance выполняет административную корректировку баланса и возвращает
// новое значение. Списание ниже нуля запрещено и завершается
// ErrInsufficientBalance; ограничение balance >= 0 продублировано в схеме БД.
func (r *PostgresRepository) AdjustBalance(ctx context.Context, userID int64, amountCents int64, op model.BalanceOp) (int64, error) {
	var newBalance int64

	err := r.withRetry(ctx, func(ctx context.Context) error {
		return r.inTx(ctx, func(tx pgx.Tx) error {
			_, balance, err := lockUserTx(ctx, tx, userID)
			if err != nil {
				return err
			}

			switch op {
			case model.BalanceOpAdd:
				newBalance = balance + amountCents
			case model.BalanceOpSubtract:
				if amountCents > balance {
					return ErrInsufficientBalance
				}
				newBalance = balance - amountCents
			case model.BalanceOpSet:
				newBalance = amountCents
			default:
				return model.ErrInvalidOperation
			}

			return storeBalanceTx(ctx, tx, userID, newBalance)
		})
	})
	if err != nil {
		return 0, err
	}

	return newBalance, nil
}
