package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/shopspring/decimal"

	"credit-marketplace/internal/domain"
	"credit-marketplace/internal/domain/model"
	"credit-marketplace/internal/domain/ports/repository"
)

var _ repository.LedgerRepository = (*ledgerRepo)(nil)

type ledgerRepo struct {
	pool *pgxpool.Pool
}

func NewLedgerRepo(pool *pgxpool.Pool) *ledgerRepo {
	return &ledgerRepo{pool: pool}
}

const ledgerColumns = `
	id, user_id, entry_type, amount::text, balance_before::text,
	balance_after::text, description, payment_id, metadata, created_at`

func (r *ledgerRepo) Insert(ctx context.Context, tx repository.Tx, e *model.CreditLedgerEntry) error {
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO credit_ledger (
			id, user_id, entry_type, amount, balance_before, balance_after,
			description, payment_id, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, NOW())`
	_, err = execSQL(ctx, r.pool, tx, query,
		e.ID, e.UserID, string(e.Type),
		e.Amount.String(), e.BalanceBefore.String(), e.BalanceAfter.String(),
		e.Description, e.PaymentID, string(meta),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateAllocation
		}
		return err
	}
	return nil
}

func (r *ledgerRepo) FindCreditByPaymentID(ctx context.Context, tx repository.Tx, paymentID string) (*model.CreditLedgerEntry, error) {
	query := `
		SELECT ` + ledgerColumns + `
		FROM credit_ledger
		WHERE payment_id = $1 AND entry_type IN ('deposit', 'bonus')`
	row, err := pickRow(ctx, r.pool, tx, query, paymentID)
	if err != nil {
		return nil, err
	}
	return scanLedgerEntry(row)
}

func (r *ledgerRepo) BalanceByUser(ctx context.Context, tx repository.Tx, userID string) (string, error) {
	query := `SELECT COALESCE(SUM(amount), 0)::text FROM credit_ledger WHERE user_id = $1`
	row, err := pickRow(ctx, r.pool, tx, query, userID)
	if err != nil {
		return "", err
	}
	var balance string
	if err := row.Scan(&balance); err != nil {
		return "", err
	}
	return balance, nil
}

func (r *ledgerRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string, limit int) ([]*model.CreditLedgerEntry, error) {
	query := `
		SELECT ` + ledgerColumns + `
		FROM credit_ledger
		WHERE user_id = $1
		ORDER BY id DESC
		LIMIT $2`
	rows, err := queryRows(ctx, r.pool, tx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.CreditLedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *ledgerRepo) LastEntryTime(ctx context.Context, tx repository.Tx, userID string) (time.Time, error) {
	query := `SELECT created_at FROM credit_ledger WHERE user_id = $1 ORDER BY id DESC LIMIT 1`
	row, err := pickRow(ctx, r.pool, tx, query, userID)
	if err != nil {
		return time.Time{}, err
	}
	var t time.Time
	if err := row.Scan(&t); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, domain.ErrNotFound
		}
		return time.Time{}, err
	}
	return t, nil
}

func scanLedgerEntry(row pgx.Row) (*model.CreditLedgerEntry, error) {
	var (
		e                     model.CreditLedgerEntry
		entryType             string
		amount, before, after string
		metaRaw               []byte
	)
	err := row.Scan(
		&e.ID, &e.UserID, &entryType, &amount, &before,
		&after, &e.Description, &e.PaymentID, &metaRaw, &e.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	e.Type = model.LedgerEntryType(entryType)
	if e.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	if e.BalanceBefore, err = decimal.NewFromString(before); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	if e.BalanceAfter, err = decimal.NewFromString(after); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	if len(metaRaw) > 0 {
		if err := json.Unmarshal(metaRaw, &e.Metadata); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
	}
	return &e, nil
}
