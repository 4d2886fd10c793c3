// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	"github.com/vkuznetsov/shopledger/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUserExists возвращается при попытке создать пользователя с уже существующим логином.
var (
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrOrderNotFound возвращается, если заказ не найден.
	ErrOrderNotFound = errors.New("order not found")
	// ErrDuplicateOrderID возвращается, если внешний идентификатор заказа уже занят.
	ErrDuplicateOrderID = errors.New("order id already exists")
	// ErrInsufficientBalance возвращается при попытке списания суммы, превышающей баланс.
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// inTx выполняет fn в рамках одной транзакции: все мутации внутри fn
// фиксируются вместе или откатываются вместе.
func (r *PostgresRepository) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// withRetry повторяет fn при конфликтах сериализации и дедлоках.
// Не более трёх повторов с экспоненциальной паузой, затем ошибка отдаётся наверх.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(3, retry.NewExponential(100*time.Millisecond))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				return retry.RetryableError(err)
			}
		}

		return err
	})
}

// CreateUser создаёт нового пользователя с нулевым балансом.
func (r *PostgresRepository) CreateUser(ctx context.Context, login string, passwordHash []byte, role model.Role) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (login, password_hash, role) VALUES ($1, $2, $3) RETURNING id`,
		login, passwordHash, string(role),
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrUserExists, login)
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

// GetUserByLogin возвращает пользователя по логину.
func (r *PostgresRepository) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, login, password_hash, role, balance, created_at FROM users WHERE login = $1`,
		login,
	)

	var u model.User
	var role string
	err := row.Scan(&u.ID, &u.Login, &u.PasswordHash, &role, &u.BalanceCents, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.Role = model.Role(role)

	return &u, nil
}

// GetUserByID возвращает пользователя по идентификатору.
func (r *PostgresRepository) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, login, password_hash, role, balance, created_at FROM users WHERE id = $1`,
		id,
	)

	var u model.User
	var role string
	err := row.Scan(&u.ID, &u.Login, &u.PasswordHash, &role, &u.BalanceCents, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.Role = model.Role(role)

	return &u, nil
}

// ListUsers возвращает всех пользователей, отсортированных по дате регистрации.
func (r *PostgresRepository) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, login, role, balance, created_at FROM users ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("select users: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		var u model.User
		var role string
		if err := rows.Scan(&u.ID, &u.Login, &role, &u.BalanceCents, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		u.Role = model.Role(role)
		users = append(users, u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return users, nil
}

// DeleteUser удаляет пользователя. Его заказы и баланс удаляются каскадно.
func (r *PostgresRepository) DeleteUser(ctx context.Context, id int64) error {
	cmdTag, err := r.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}
