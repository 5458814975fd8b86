package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/shopspring/decimal"

	"credit-marketplace/internal/domain"
	"credit-marketplace/internal/domain/model"
	"credit-marketplace/internal/domain/ports/repository"
)

var _ repository.RefundRepository = (*refundRepo)(nil)

type refundRepo struct {
	pool *pgxpool.Pool
}

func NewRefundRepo(pool *pgxpool.Pool) *refundRepo {
	return &refundRepo{pool: pool}
}

const refundColumns = `
	id, payment_id, user_id, amount::text, reason, note, status,
	approved_by, ledger_id, created_at, updated_at`

func (r *refundRepo) Save(ctx context.Context, tx repository.Tx, req *model.RefundRequest) error {
	query := `
		INSERT INTO refund_requests (
			id, payment_id, user_id, amount, reason, note, status,
			approved_by, ledger_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())`
	_, err := execSQL(ctx, r.pool, tx, query,
		req.ID, req.PaymentID, req.UserID, req.Amount.String(),
		req.Reason, req.Note, string(req.Status), req.ApprovedBy, req.LedgerID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (r *refundRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.RefundRequest, error) {
	query := `SELECT ` + refundColumns + ` FROM refund_requests WHERE id = $1`
	if inTx(tx) {
		query += ` FOR UPDATE`
	}
	row, err := pickRow(ctx, r.pool, tx, query, id)
	if err != nil {
		return nil, err
	}
	return scanRefund(row)
}

func (r *refundRepo) ListByPayment(ctx context.Context, tx repository.Tx, paymentID string) ([]*model.RefundRequest, error) {
	query := `
		SELECT ` + refundColumns + `
		FROM refund_requests
		WHERE payment_id = $1
		ORDER BY created_at ASC`
	rows, err := queryRows(ctx, r.pool, tx, query, paymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.RefundRequest
	for rows.Next() {
		req, err := scanRefund(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *refundRepo) UpdateStatus(ctx context.Context, tx repository.Tx, id string, status model.RefundStatus, approvedBy, ledgerID *string) error {
	query := `
		UPDATE refund_requests SET
			status      = $2,
			approved_by = COALESCE($3, approved_by),
			ledger_id   = COALESCE($4, ledger_id),
			updated_at  = NOW()
		WHERE id = $1`
	tag, err := execSQL(ctx, r.pool, tx, query, id, string(status), approvedBy, ledgerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanRefund(row pgx.Row) (*model.RefundRequest, error) {
	var (
		req    model.RefundRequest
		amount string
		status string
	)
	err := row.Scan(
		&req.ID, &req.PaymentID, &req.UserID, &amount, &req.Reason, &req.Note, &status,
		&req.ApprovedBy, &req.LedgerID, &req.CreatedAt, &req.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	req.Status = model.RefundStatus(status)
	if req.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return &req, nil
}
