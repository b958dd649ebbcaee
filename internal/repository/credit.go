package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/archive-transcriber/internal/common"
	"github.com/joseph-ayodele/archive-transcriber/internal/entity"
)

// CreditRepository is the credit ledger. Deduct is the only path that lowers a balance.
type CreditRepository interface {
	GetBalance(ctx context.Context, userID uuid.UUID) (*entity.CreditBalance, error)
	// Upsert sets a user's balance; used at onboarding and by billing webhooks.
	Upsert(ctx context.Context, balance entity.CreditBalance) error
	// Deduct atomically removes amount from the monthly pool first, then the lifetime pool,
	// never going below zero. A key that was already settled makes the call a no-op.
	// A user without a balance row gets a settlement with nothing deducted.
	Deduct(ctx context.Context, userID, taskID uuid.UUID, amount int64, key string) (*entity.Settlement, error)
}

const maxDeductAttempts = 5

var errBalanceChanged = errors.New("balance changed concurrently")

type creditRepo struct {
	db     *DB
	logger *slog.Logger
	now    func() time.Time
}

func NewCreditRepository(db *DB, logger *slog.Logger) CreditRepository {
	return &creditRepo{db: db, logger: logger, now: time.Now}
}

func (r *creditRepo) GetBalance(ctx context.Context, userID uuid.UUID) (*entity.CreditBalance, error) {
	b, err := r.getBalance(ctx, r.db.sql, userID)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (r *creditRepo) getBalance(ctx context.Context, q queryer, userID uuid.UUID) (*entity.CreditBalance, error) {
	query, args := r.db.builder().
		Select("user_id", "monthly_credits", "lifetime_credits", "image_limits", "updated_at").
		From(entsql.Table(TableCreditBalances)).
		Where(entsql.EQ("user_id", userID)).
		Query()
	var b entity.CreditBalance
	err := q.QueryRowContext(ctx, query, args...).
		Scan(&b.UserID, &b.MonthlyCredits, &b.LifetimeCredits, &b.ImageLimits, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: credit balance for user %s", common.ErrNotFound, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get credit balance: %v", common.ErrDatabase, err)
	}
	return &b, nil
}

func (r *creditRepo) Upsert(ctx context.Context, b entity.CreditBalance) error {
	if b.MonthlyCredits < 0 || b.LifetimeCredits < 0 {
		return fmt.Errorf("%w: credits must be non-negative", common.ErrInvalidInput)
	}
	q, args := r.db.builder().
		Insert(TableCreditBalances).
		Columns("user_id", "monthly_credits", "lifetime_credits", "image_limits", "updated_at").
		Values(b.UserID, b.MonthlyCredits, b.LifetimeCredits, b.ImageLimits, r.now().UTC()).
		OnConflict(
			entsql.ConflictColumns("user_id"),
			entsql.ResolveWith(func(s *entsql.UpdateSet) {
				s.SetExcluded("monthly_credits")
				s.SetExcluded("lifetime_credits")
				s.SetExcluded("image_limits")
				s.SetExcluded("updated_at")
			}),
		).
		Query()
	if _, err := r.db.sql.ExecContext(ctx, q, args...); err != nil {
		r.logger.Error("failed to upsert credit balance", "user_id", b.UserID, "error", err)
		return fmt.Errorf("%w: upsert credit balance: %v", common.ErrDatabase, err)
	}
	return nil
}

func (r *creditRepo) Deduct(ctx context.Context, userID, taskID uuid.UUID, amount int64, key string) (*entity.Settlement, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: deduct amount must be positive", common.ErrInvalidInput)
	}
	if key == "" {
		return nil, fmt.Errorf("%w: idempotency key is required", common.ErrInvalidInput)
	}

	var (
		out *entity.Settlement
		err error
	)
	for attempt := 1; attempt <= maxDeductAttempts; attempt++ {
		err = r.db.withTx(ctx, func(tx *sql.Tx) error {
			out, err = r.deductTx(ctx, tx, userID, taskID, amount, key)
			return err
		})
		if !errors.Is(err, errBalanceChanged) {
			break
		}
		r.logger.Debug("credit deduct retry", "user_id", userID, "attempt", attempt)
	}
	if err != nil {
		r.logger.Error("credit deduct failed", "user_id", userID, "task_id", taskID, "amount", amount, "error", err)
		return nil, err
	}
	if out.AlreadyApplied {
		r.logger.Warn("credit settlement already applied; skipping", "user_id", userID, "task_id", taskID, "key", key)
		return out, nil
	}
	if out.MissingBalance {
		r.logger.Warn("no credit balance at settlement; recorded without deduction",
			"user_id", userID, "task_id", taskID, "requested", out.Requested, "key", key,
		)
		return out, nil
	}
	if out.Deducted < out.Requested {
		r.logger.Warn("credit balance exhausted during settlement",
			"user_id", userID, "task_id", taskID,
			"requested", out.Requested, "deducted", out.Deducted,
		)
	}
	r.logger.Info("credits deducted", "user_id", userID, "task_id", taskID, "amount", out.Deducted)
	return out, nil
}

func (r *creditRepo) deductTx(ctx context.Context, tx *sql.Tx, userID, taskID uuid.UUID, amount int64, key string) (*entity.Settlement, error) {
	now := r.now().UTC()

	// Claim the key first; a conflict means this settlement already happened.
	q, args := r.db.builder().
		Insert(TableCreditSettlements).
		Columns("idempotency_key", "user_id", "task_id", "requested", "deducted", "created_at").
		Values(key, userID, taskID, amount, int64(0), now).
		OnConflict(entsql.ConflictColumns("idempotency_key"), entsql.DoNothing()).
		Query()
	res, err := tx.ExecContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: claim settlement key: %v", common.ErrDatabase, err)
	}
	claimed, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("%w: rows affected: %v", common.ErrDatabase, err)
	}
	if claimed == 0 {
		prev, err := r.getSettlement(ctx, tx, key)
		if err != nil {
			return nil, err
		}
		prev.AlreadyApplied = true
		return prev, nil
	}

	bal, err := r.getBalance(ctx, tx, userID)
	if errors.Is(err, common.ErrNotFound) {
		// Keep the zero-deduction claim so redeliveries see the key as settled.
		return &entity.Settlement{
			IdempotencyKey: key,
			UserID:         userID,
			TaskID:         taskID,
			Requested:      amount,
			MissingBalance: true,
			CreatedAt:      now,
		}, nil
	}
	if err != nil {
		return nil, err
	}
	fromMonthly := min(amount, bal.MonthlyCredits)
	fromLifetime := min(amount-fromMonthly, bal.LifetimeCredits)

	q, args = r.db.builder().
		Update(TableCreditBalances).
		Set("monthly_credits", bal.MonthlyCredits-fromMonthly).
		Set("lifetime_credits", bal.LifetimeCredits-fromLifetime).
		Set("updated_at", now).
		Where(entsql.And(
			entsql.EQ("user_id", userID),
			entsql.EQ("monthly_credits", bal.MonthlyCredits),
			entsql.EQ("lifetime_credits", bal.LifetimeCredits),
		)).
		Query()
	res, err = tx.ExecContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: update credit balance: %v", common.ErrDatabase, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, fmt.Errorf("%w: rows affected: %v", common.ErrDatabase, err)
	} else if n == 0 {
		return nil, errBalanceChanged
	}

	deducted := fromMonthly + fromLifetime
	q, args = r.db.builder().
		Update(TableCreditSettlements).
		Set("deducted", deducted).
		Where(entsql.EQ("idempotency_key", key)).
		Query()
	if _, err := tx.ExecContext(ctx, q, args...); err != nil {
		return nil, fmt.Errorf("%w: record settlement: %v", common.ErrDatabase, err)
	}

	return &entity.Settlement{
		IdempotencyKey: key,
		UserID:         userID,
		TaskID:         taskID,
		Requested:      amount,
		Deducted:       deducted,
		CreatedAt:      now,
	}, nil
}

func (r *creditRepo) getSettlement(ctx context.Context, q queryer, key string) (*entity.Settlement, error) {
	query, args := r.db.builder().
		Select("idempotency_key", "user_id", "task_id", "requested", "deducted", "created_at").
		From(entsql.Table(TableCreditSettlements)).
		Where(entsql.EQ("idempotency_key", key)).
		Query()
	var s entity.Settlement
	err := q.QueryRowContext(ctx, query, args...).
		Scan(&s.IdempotencyKey, &s.UserID, &s.TaskID, &s.Requested, &s.Deducted, &s.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: get settlement %s: %v", common.ErrDatabase, key, err)
	}
	return &s, nil
}
