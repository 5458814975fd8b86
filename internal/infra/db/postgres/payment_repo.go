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

var _ repository.PaymentRepository = (*paymentRepo)(nil)

type paymentRepo struct {
	pool *pgxpool.Pool
}

func NewPaymentRepo(pool *pgxpool.Pool) *paymentRepo {
	return &paymentRepo{pool: pool}
}

const paymentColumns = `
	id, provider_payment_id, provider, status, purpose, checkout_mode,
	user_id, order_id,
	requested_amount::text, requested_currency, price_amount::text,
	pay_currency, pay_amount::text, actually_paid::text, pay_address,
	metadata, raw_payload, created_at, updated_at`

func (r *paymentRepo) Save(ctx context.Context, tx repository.Tx, p *model.Payment) error {
	meta, err := json.Marshal(p.Metadata)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO payments (
			id, provider_payment_id, provider, status, purpose, checkout_mode,
			user_id, order_id,
			requested_amount, requested_currency, price_amount,
			pay_currency, pay_amount, actually_paid, pay_address,
			metadata, raw_payload, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8,
			$9, $10, $11,
			$12, $13, $14, $15,
			$16::jsonb, $17, NOW(), NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			provider_payment_id = EXCLUDED.provider_payment_id,
			status              = EXCLUDED.status,
			pay_currency        = EXCLUDED.pay_currency,
			pay_amount          = EXCLUDED.pay_amount,
			actually_paid       = EXCLUDED.actually_paid,
			pay_address         = EXCLUDED.pay_address,
			metadata            = EXCLUDED.metadata,
			raw_payload         = EXCLUDED.raw_payload,
			updated_at          = NOW()`
	_, err = execSQL(ctx, r.pool, tx, query,
		p.ID, p.ProviderPaymentID, string(p.Provider), string(p.Status), string(p.Purpose), string(p.CheckoutMode),
		p.UserID, p.OrderID,
		p.RequestedAmount.String(), p.RequestedCurrency, p.PriceAmount.String(),
		p.PayCurrency, p.PayAmount.String(), p.ActuallyPaid.String(), p.PayAddress,
		string(meta), p.RawPayload,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (r *paymentRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`
	if inTx(tx) {
		query += ` FOR UPDATE`
	}
	row, err := pickRow(ctx, r.pool, tx, query, id)
	if err != nil {
		return nil, err
	}
	return scanPayment(row)
}

func (r *paymentRepo) FindByProviderPaymentID(ctx context.Context, tx repository.Tx, provider model.PaymentProvider, providerPaymentID string) (*model.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE provider = $1 AND provider_payment_id = $2`
	if inTx(tx) {
		query += ` FOR UPDATE`
	}
	row, err := pickRow(ctx, r.pool, tx, query, string(provider), providerPaymentID)
	if err != nil {
		return nil, err
	}
	return scanPayment(row)
}

func (r *paymentRepo) UpdateStatus(ctx context.Context, tx repository.Tx, id string, status model.PaymentStatus, actuallyPaid *string, rawPayload *string) error {
	query := `
		UPDATE payments SET
			status        = $2,
			actually_paid = COALESCE($3::numeric, actually_paid),
			raw_payload   = COALESCE($4, raw_payload),
			updated_at    = NOW()
		WHERE id = $1`
	tag, err := execSQL(ctx, r.pool, tx, query, id, string(status), actuallyPaid, rawPayload)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *paymentRepo) ListNonTerminal(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE status NOT IN ('finished', 'failed', 'expired', 'refunded')
		  AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2`
	rows, err := queryRows(ctx, r.pool, tx, query, olderThan, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPayments(rows)
}

func (r *paymentRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string, limit int) ([]*model.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`
	rows, err := queryRows(ctx, r.pool, tx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPayments(rows)
}

func scanPayment(row pgx.Row) (*model.Payment, error) {
	var (
		p                model.Payment
		provider         string
		status           string
		purpose          string
		mode             string
		reqAmt, priceAmt string
		payAmt, paidAmt  string
		metaRaw          []byte
	)
	err := row.Scan(
		&p.ID, &p.ProviderPaymentID, &provider, &status, &purpose, &mode,
		&p.UserID, &p.OrderID,
		&reqAmt, &p.RequestedCurrency, &priceAmt,
		&p.PayCurrency, &payAmt, &paidAmt, &p.PayAddress,
		&metaRaw, &p.RawPayload, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	p.Provider = model.PaymentProvider(provider)
	p.Status = model.PaymentStatus(status)
	p.Purpose = model.PaymentPurpose(purpose)
	p.CheckoutMode = model.CheckoutMode(mode)
	if p.RequestedAmount, err = decimal.NewFromString(reqAmt); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	if p.PriceAmount, err = decimal.NewFromString(priceAmt); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	if p.PayAmount, err = decimal.NewFromString(payAmt); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	if p.ActuallyPaid, err = decimal.NewFromString(paidAmt); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	if len(metaRaw) > 0 {
		if err := json.Unmarshal(metaRaw, &p.Metadata); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
	}
	return &p, nil
}

func scanPayments(rows pgx.Rows) ([]*model.Payment, error) {
	var out []*model.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
