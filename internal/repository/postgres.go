// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	"github.com/envopro/envopro-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	// ErrUserExists возвращается при попытке создать профиль с занятым именем пользователя.
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound возвращается, если профиль не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrInvestmentNotFound возвращается, если заявка на инвестицию не найдена или уже обработана.
	ErrInvestmentNotFound = errors.New("investment not found")
	// ErrWithdrawalNotFound возвращается, если заявка на вывод не найдена или уже обработана.
	ErrWithdrawalNotFound = errors.New("withdrawal not found")
	// ErrMethodNotFound возвращается, если у пользователя нет сохранённого платёжного метода.
	ErrMethodNotFound = errors.New("withdrawal method not found")
	// ErrInsufficientBalance возвращается при попытке вывода суммы, превышающей баланс.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrWithdrawalPending возвращается, если у пользователя уже есть необработанная заявка на вывод.
	ErrWithdrawalPending = errors.New("withdrawal request already pending")
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

// withRetry повторяет операцию при сериализационных и сетевых сбоях.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(3, retry.NewConstant(time.Second))

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
			return err
		}

		if isConnectionError(err) {
			return retry.RetryableError(err)
		}

		return err
	})
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

const profileColumns = `id, username, password_hash, status, selected_plan, plan_start_date,
	balance, daily_earnings, referral_earnings, total_investment, referred_by, is_admin, created_at`

func scanProfile(row pgx.Row) (*model.Profile, error) {
	var p model.Profile
	err := row.Scan(
		&p.ID, &p.Username, &p.PasswordHash, &p.Status, &p.SelectedPlan, &p.PlanStartDate,
		&p.Balance, &p.DailyEarnings, &p.ReferralEarnings, &p.TotalInvestment,
		&p.ReferredBy, &p.IsAdmin, &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateProfile создаёт новый профиль инвестора.
func (r *PostgresRepository) CreateProfile(ctx context.Context, username string, passwordHash []byte, selectedPlan string, referredBy *uuid.UUID) (uuid.UUID, error) {
	id := uuid.New()

	_, err := r.pool.Exec(ctx,
		`INSERT INTO profiles (id, username, password_hash, status, selected_plan, referred_by)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		id, username, passwordHash, string(model.ProfileStatusPendingInvestment), selectedPlan, referredBy,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return uuid.Nil, fmt.Errorf("%w: %s", ErrUserExists, username)
		}
		return uuid.Nil, fmt.Errorf("create profile: %w", err)
	}

	return id, nil
}

// GetProfileByUsername возвращает профиль по имени пользователя.
func (r *PostgresRepository) GetProfileByUsername(ctx context.Context, username string) (*model.Profile, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE username = $1`,
		username,
	)

	p, err := scanProfile(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get profile by username: %w", err)
	}

	return p, nil
}

// GetProfile возвращает профиль по идентификатору.
func (r *PostgresRepository) GetProfile(ctx context.Context, id uuid.UUID) (*model.Profile, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE id = $1`,
		id,
	)

	p, err := scanProfile(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get profile: %w", err)
	}

	return p, nil
}

// ListProfiles возвращает все профили, отсортированные по имени пользователя.
func (r *PostgresRepository) ListProfiles(ctx context.Context) ([]model.Profile, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+profileColumns+` FROM profiles ORDER BY username`,
	)
	if err != nil {
		return nil, fmt.Errorf("select profiles: %w", err)
	}
	defer rows.Close()

	var res []model.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		res = append(res, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// UpdateProfileStatus устанавливает статус профиля.
func (r *PostgresRepository) UpdateProfileStatus(ctx context.Context, id uuid.UUID, status model.ProfileStatus) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE profiles SET status = $2 WHERE id = $1`,
		id, string(status),
	)
	if err != nil {
		return fmt.Errorf("update profile status: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// AdjustProfile напрямую устанавливает денежные счётчики профиля (административная правка).
func (r *PostgresRepository) AdjustProfile(ctx context.Context, id uuid.UUID, balance, dailyEarnings, referralEarnings int64) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE profiles SET balance = $2, daily_earnings = $3, referral_earnings = $4 WHERE id = $1`,
		id, balance, dailyEarnings, referralEarnings,
	)
	if err != nil {
		return fmt.Errorf("adjust profile: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// GetActiveProfiles возвращает все профили в статусе active.
func (r *PostgresRepository) GetActiveProfiles(ctx context.Context) ([]model.Profile, error) {
	var res []model.Profile

	err := r.withRetry(ctx, func(ctx context.Context) error {
		rows, err := r.pool.Query(ctx,
			`SELECT `+profileColumns+` FROM profiles WHERE status = $1`,
			string(model.ProfileStatusActive),
		)
		if err != nil {
			return fmt.Errorf("select active profiles: %w", err)
		}
		defer rows.Close()

		res = res[:0]
		for rows.Next() {
			p, err := scanProfile(rows)
			if err != nil {
				return fmt.Errorf("scan profile: %w", err)
			}
			res = append(res, *p)
		}

		if err := rows.Err(); err != nil {
			return fmt.Errorf("rows error: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return res, nil
}

// GetDailyPaidUserIDs возвращает идентификаторы пользователей, уже получивших
// выплату daily_earnings в интервале [from, to).
func (r *PostgresRepository) GetDailyPaidUserIDs(ctx context.Context, from, to time.Time) (map[uuid.UUID]struct{}, error) {
	paid := make(map[uuid.UUID]struct{})

	err := r.withRetry(ctx, func(ctx context.Context) error {
		rows, err := r.pool.Query(ctx,
			`SELECT user_id FROM earnings_history
			 WHERE type = $1 AND created_at >= $2 AND created_at < $3`,
			string(model.EntryTypeDailyEarnings), from, to,
		)
		if err != nil {
			return fmt.Errorf("select paid users: %w", err)
		}
		defer rows.Close()

		clear(paid)
		for rows.Next() {
			var id uuid.UUID
			if err := rows.Scan(&id); err != nil {
				return fmt.Errorf("scan user id: %w", err)
			}
			paid[id] = struct{}{}
		}

		if err := rows.Err(); err != nil {
			return fmt.Errorf("rows error: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return paid, nil
}

// AccrualPayout описывает подготовленную выплату одному пользователю.
type AccrualPayout struct {
	UserID      uuid.UUID
	Amount      int64
	Description string
	CreatedAt   time.Time
}

// ApplyAccrual применяет итоги запуска начисления одной транзакцией: вставляет
// записи журнала, увеличивает балансы и переводит истёкшие профили в inactive.
// Уникальный индекс по (user_id, день) служит защитой от двойной выплаты:
// конфликт при вставке означает, что пользователь уже получил выплату, и его
// баланс не изменяется. Возвращает число фактически выплаченных пользователей.
func (r *PostgresRepository) ApplyAccrual(ctx context.Context, payouts []AccrualPayout, expired []uuid.UUID) (int, error) {
	var paidCount int

	err := r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		// Вставка журнала первой: RETURNING отдаёт только реально вставленные
		// строки, и балансы увеличиваются строго для них.
		var creditable []AccrualPayout
		if len(payouts) > 0 {
			batch := &pgx.Batch{}
			for _, p := range payouts {
				batch.Queue(
					`INSERT INTO earnings_history (user_id, amount, type, description, created_at)
					 VALUES ($1, $2, $3, $4, $5)
					 ON CONFLICT DO NOTHING
					 RETURNING user_id`,
					p.UserID, p.Amount, string(model.EntryTypeDailyEarnings), p.Description, p.CreatedAt,
				)
			}

			results := tx.SendBatch(ctx, batch)
			for _, p := range payouts {
				var id uuid.UUID
				err := results.QueryRow().Scan(&id)
				if err != nil {
					if errors.Is(err, pgx.ErrNoRows) {
						continue
					}
					results.Close()
					return fmt.Errorf("insert earnings entry: %w", err)
				}
				creditable = append(creditable, p)
			}
			if err := results.Close(); err != nil {
				return fmt.Errorf("close batch: %w", err)
			}
		}

		if len(creditable) > 0 {
			batch := &pgx.Batch{}
			for _, p := range creditable {
				batch.Queue(
					`UPDATE profiles
					 SET balance = balance + $2, daily_earnings = daily_earnings + $2
					 WHERE id = $1`,
					p.UserID, p.Amount,
				)
			}

			results := tx.SendBatch(ctx, batch)
			for range creditable {
				if _, err := results.Exec(); err != nil {
					results.Close()
					return fmt.Errorf("credit balance: %w", err)
				}
			}
			if err := results.Close(); err != nil {
				return fmt.Errorf("close batch: %w", err)
			}
		}

		if len(expired) > 0 {
			ids := make([]string, 0, len(expired))
			for _, id := range expired {
				ids = append(ids, id.String())
			}

			_, err := tx.Exec(ctx,
				`UPDATE profiles SET status = $1 WHERE id = ANY($2::uuid[])`,
				string(model.ProfileStatusInactive), ids,
			)
			if err != nil {
				return fmt.Errorf("expire profiles: %w", err)
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		paidCount = len(creditable)
		return nil
	})
	if err != nil {
		return 0, err
	}

	return paidCount, nil
}

// GetEarningsByUser возвращает свежие записи журнала начислений пользователя.
func (r *PostgresRepository) GetEarningsByUser(ctx context.Context, userID uuid.UUID, limit int) ([]model.EarningsEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, amount, type, description, created_at
		 FROM earnings_history
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select earnings: %w", err)
	}
	defer rows.Close()

	var res []model.EarningsEntry
	for rows.Next() {
		var e model.EarningsEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Amount, &e.Type, &e.Description, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan earnings entry: %w", err)
		}
		res = append(res, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// CreateInvestment сохраняет заявку на инвестицию и переводит профиль в pending_approval.
func (r *PostgresRepository) CreateInvestment(ctx context.Context, inv model.Investment) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO investments (user_id, plan_id, amount, status, proof_url, holder_name, account_number)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		inv.UserID, inv.PlanID, inv.Amount, string(model.InvestmentStatusPending),
		inv.ProofURL, inv.HolderName, inv.AccountNumber,
	)
	if err != nil {
		return fmt.Errorf("insert investment: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE profiles SET status = $2, selected_plan = $3 WHERE id = $1`,
		inv.UserID, string(model.ProfileStatusPendingApproval), inv.PlanID,
	)
	if err != nil {
		return fmt.Errorf("update profile status: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// PendingInvestment — заявка на инвестицию вместе с данными профиля для админки.
type PendingInvestment struct {
	Investment model.Investment
	Username   string
	ReferredBy *uuid.UUID
}

// GetPendingInvestments возвращает необработанные заявки на инвестиции, старые первыми.
func (r *PostgresRepository) GetPendingInvestments(ctx context.Context) ([]PendingInvestment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT i.id, i.user_id, i.plan_id, i.amount, i.status, i.proof_url,
		        i.holder_name, i.account_number, i.submitted_at,
		        p.username, p.referred_by
		 FROM investments i
		 JOIN profiles p ON p.id = i.user_id
		 WHERE i.status = $1
		 ORDER BY i.submitted_at`,
		string(model.InvestmentStatusPending),
	)
	if err != nil {
		return nil, fmt.Errorf("select pending investments: %w", err)
	}
	defer rows.Close()

	var res []PendingInvestment
	for rows.Next() {
		var pi PendingInvestment
		err := rows.Scan(
			&pi.Investment.ID, &pi.Investment.UserID, &pi.Investment.PlanID,
			&pi.Investment.Amount, &pi.Investment.Status, &pi.Investment.ProofURL,
			&pi.Investment.HolderName, &pi.Investment.AccountNumber, &pi.Investment.SubmittedAt,
			&pi.Username, &pi.ReferredBy,
		)
		if err != nil {
			return nil, fmt.Errorf("scan pending investment: %w", err)
		}
		res = append(res, pi)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// ApproveInvestment одобряет заявку: инвестиция переходит в approved, профиль
// активируется с установкой plan_start_date и увеличением total_investment.
// Возвращает одобренную инвестицию и идентификатор реферера, если он есть.
func (r *PostgresRepository) ApproveInvestment(ctx context.Context, investmentID int64, approvedAt time.Time) (*model.Investment, *uuid.UUID, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var inv model.Investment
	err = tx.QueryRow(ctx,
		`UPDATE investments SET status = $2
		 WHERE id = $1 AND status = $3
		 RETURNING id, user_id, plan_id, amount, status, proof_url, holder_name, account_number, submitted_at`,
		investmentID, string(model.InvestmentStatusApproved), string(model.InvestmentStatusPending),
	).Scan(
		&inv.ID, &inv.UserID, &inv.PlanID, &inv.Amount, &inv.Status,
		&inv.ProofURL, &inv.HolderName, &inv.AccountNumber, &inv.SubmittedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, ErrInvestmentNotFound
		}
		return nil, nil, fmt.Errorf("approve investment: %w", err)
	}

	var referredBy *uuid.UUID
	err = tx.QueryRow(ctx,
		`UPDATE profiles
		 SET status = $2, selected_plan = $3, plan_start_date = $4,
		     total_investment = total_investment + $5
		 WHERE id = $1
		 RETURNING referred_by`,
		inv.UserID, string(model.ProfileStatusActive), inv.PlanID, approvedAt, inv.Amount,
	).Scan(&referredBy)
	if err != nil {
		return nil, nil, fmt.Errorf("activate profile: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("commit tx: %w", err)
	}

	return &inv, referredBy, nil
}

// RejectInvestment отклоняет необработанную заявку на инвестицию.
func (r *PostgresRepository) RejectInvestment(ctx context.Context, investmentID int64) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE investments SET status = $2 WHERE id = $1 AND status = $3`,
		investmentID, string(model.InvestmentStatusRejected), string(model.InvestmentStatusPending),
	)
	if err != nil {
		return fmt.Errorf("reject investment: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrInvestmentNotFound
	}
	return nil
}

// CreditReferralBonus начисляет бонус рефереру и записывает факт выплаты.
func (r *PostgresRepository) CreditReferralBonus(ctx context.Context, referrerID, referredID uuid.UUID, bonus int64, description string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	cmdTag, err := tx.Exec(ctx,
		`UPDATE profiles
		 SET balance = balance + $2, referral_earnings = referral_earnings + $2
		 WHERE id = $1`,
		referrerID, bonus,
	)
	if err != nil {
		return fmt.Errorf("credit referrer: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrUserNotFound
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO referrals (referrer_id, referred_id, bonus_amount) VALUES ($1, $2, $3)`,
		referrerID, referredID, bonus,
	)
	if err != nil {
		return fmt.Errorf("insert referral: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO earnings_history (user_id, amount, type, description)
		 VALUES ($1, $2, $3, $4)`,
		referrerID, bonus, string(model.EntryTypeReferralBonus), description,
	)
	if err != nil {
		return fmt.Errorf("insert referral entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// SaveWithdrawalMethod сохраняет платёжный метод пользователя (один на пользователя).
func (r *PostgresRepository) SaveWithdrawalMethod(ctx context.Context, m model.WithdrawalMethod) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO withdrawal_methods (user_id, method, account_number, holder_name)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id) DO UPDATE
		 SET method = EXCLUDED.method,
		     account_number = EXCLUDED.account_number,
		     holder_name = EXCLUDED.holder_name
		 RETURNING id`,
		m.UserID, m.Method, m.AccountNumber, m.HolderName,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("save withdrawal method: %w", err)
	}
	return id, nil
}

// GetWithdrawalMethod возвращает платёжный метод пользователя.
func (r *PostgresRepository) GetWithdrawalMethod(ctx context.Context, userID uuid.UUID) (*model.WithdrawalMethod, error) {
	var m model.WithdrawalMethod
	err := r.pool.QueryRow(ctx,
		`SELECT id, user_id, method, account_number, holder_name
		 FROM withdrawal_methods WHERE user_id = $1`,
		userID,
	).Scan(&m.ID, &m.UserID, &m.Method, &m.AccountNumber, &m.HolderName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMethodNotFound
		}
		return nil, fmt.Errorf("get withdrawal method: %w", err)
	}
	return &m, nil
}

// CreateWithdrawal списывает сумму с баланса и создаёт заявку на вывод.
// Использует блокировку строки профиля для сериализации списаний.
func (r *PostgresRepository) CreateWithdrawal(ctx context.Context, userID uuid.UUID, amount int64, methodID int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Блокируем строку профиля для предотвращения параллельных списаний, превышающих баланс.
	var balance int64
	err = tx.QueryRow(ctx,
		`SELECT balance FROM profiles WHERE id = $1 FOR UPDATE`,
		userID,
	).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrUserNotFound
		}
		return fmt.Errorf("lock profile for update: %w", err)
	}

	var pendingCount int
	err = tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM withdrawals WHERE user_id = $1 AND status = $2`,
		userID, string(model.WithdrawalStatusProcessing),
	).Scan(&pendingCount)
	if err != nil {
		return fmt.Errorf("count pending withdrawals: %w", err)
	}
	if pendingCount > 0 {
		return ErrWithdrawalPending
	}

	if amount > balance {
		return ErrInsufficientBalance
	}

	_, err = tx.Exec(ctx,
		`UPDATE profiles SET balance = balance - $2 WHERE id = $1`,
		userID, amount,
	)
	if err != nil {
		return fmt.Errorf("debit balance: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO withdrawals (user_id, amount, status, method_id) VALUES ($1, $2, $3, $4)`,
		userID, amount, string(model.WithdrawalStatusProcessing), methodID,
	)
	if err != nil {
		return fmt.Errorf("insert withdrawal: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// GetWithdrawalsByUser возвращает историю заявок пользователя на вывод.
func (r *PostgresRepository) GetWithdrawalsByUser(ctx context.Context, userID uuid.UUID) ([]model.Withdrawal, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, amount, status, method_id, requested_at
		 FROM withdrawals
		 WHERE user_id = $1
		 ORDER BY requested_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select withdrawals: %w", err)
	}
	defer rows.Close()

	var res []model.Withdrawal
	for rows.Next() {
		var w model.Withdrawal
		if err := rows.Scan(&w.ID, &w.UserID, &w.Amount, &w.Status, &w.MethodID, &w.RequestedAt); err != nil {
			return nil, fmt.Errorf("scan withdrawal: %w", err)
		}
		res = append(res, w)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// CountApprovedWithdrawals возвращает число одобренных выводов пользователя.
func (r *PostgresRepository) CountApprovedWithdrawals(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM withdrawals WHERE user_id = $1 AND status = $2`,
		userID, string(model.WithdrawalStatusApproved),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count approved withdrawals: %w", err)
	}
	return count, nil
}

// CountReferrals возвращает число приглашённых пользователем рефералов.
func (r *PostgresRepository) CountReferrals(ctx context.Context, referrerID uuid.UUID) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM referrals WHERE referrer_id = $1`,
		referrerID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count referrals: %w", err)
	}
	return count, nil
}

// PendingWithdrawal — заявка на вывод вместе с платёжным методом и профилем для админки.
type PendingWithdrawal struct {
	Withdrawal model.Withdrawal
	Method     model.WithdrawalMethod
	Username   string
}

// GetPendingWithdrawals возвращает необработанные заявки на вывод, старые первыми.
func (r *PostgresRepository) GetPendingWithdrawals(ctx context.Context) ([]PendingWithdrawal, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT w.id, w.user_id, w.amount, w.status, w.method_id, w.requested_at,
		        m.id, m.user_id, m.method, m.account_number, m.holder_name,
		        p.username
		 FROM withdrawals w
		 JOIN withdrawal_methods m ON m.id = w.method_id
		 JOIN profiles p ON p.id = w.user_id
		 WHERE w.status = $1
		 ORDER BY w.requested_at`,
		string(model.WithdrawalStatusProcessing),
	)
	if err != nil {
		return nil, fmt.Errorf("select pending withdrawals: %w", err)
	}
	defer rows.Close()

	var res []PendingWithdrawal
	for rows.Next() {
		var pw PendingWithdrawal
		err := rows.Scan(
			&pw.Withdrawal.ID, &pw.Withdrawal.UserID, &pw.Withdrawal.Amount,
			&pw.Withdrawal.Status, &pw.Withdrawal.MethodID, &pw.Withdrawal.RequestedAt,
			&pw.Method.ID, &pw.Method.UserID, &pw.Method.Method,
			&pw.Method.AccountNumber, &pw.Method.HolderName,
			&pw.Username,
		)
		if err != nil {
			return nil, fmt.Errorf("scan pending withdrawal: %w", err)
		}
		res = append(res, pw)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// ApproveWithdrawal одобряет необработанную заявку на вывод.
func (r *PostgresRepository) ApproveWithdrawal(ctx context.Context, withdrawalID int64) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE withdrawals SET status = $2 WHERE id = $1 AND status = $3`,
		withdrawalID, string(model.WithdrawalStatusApproved), string(model.WithdrawalStatusProcessing),
	)
	if err != nil {
		return fmt.Errorf("approve withdrawal: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrWithdrawalNotFound
	}
	return nil
}

// RejectWithdrawal отклоняет заявку и возвращает сумму на баланс одной транзакцией.
func (r *PostgresRepository) RejectWithdrawal(ctx context.Context, withdrawalID int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var userID uuid.UUID
	var amount int64
	err = tx.QueryRow(ctx,
		`UPDATE withdrawals SET status = $2
		 WHERE id = $1 AND status = $3
		 RETURNING user_id, amount`,
		withdrawalID, string(model.WithdrawalStatusRejected), string(model.WithdrawalStatusProcessing),
	).Scan(&userID, &amount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrWithdrawalNotFound
		}
		return fmt.Errorf("reject withdrawal: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE profiles SET balance = balance + $2 WHERE id = $1`,
		userID, amount,
	)
	if err != nil {
		return fmt.Errorf("refund balance: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// ReferralRecord — строка реферального отчёта с именами участников.
type ReferralRecord struct {
	ID               int64
	ReferrerID       uuid.UUID
	ReferrerUsername string
	ReferredUsername string
	BonusAmount      int64
	CreatedAt        time.Time
}

// GetReferralRecords возвращает историю реферальных выплат, свежие первыми.
func (r *PostgresRepository) GetReferralRecords(ctx context.Context) ([]ReferralRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT r.id, r.referrer_id, pr.username, pd.username, r.bonus_amount, r.created_at
		 FROM referrals r
		 JOIN profiles pr ON pr.id = r.referrer_id
		 JOIN profiles pd ON pd.id = r.referred_id
		 ORDER BY r.created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("select referrals: %w", err)
	}
	defer rows.Close()

	var res []ReferralRecord
	for rows.Next() {
		var rec ReferralRecord
		err := rows.Scan(&rec.ID, &rec.ReferrerID, &rec.ReferrerUsername, &rec.ReferredUsername, &rec.BonusAmount, &rec.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan referral: %w", err)
		}
		res = append(res, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
