package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stilldew/storefront-api/internal/model"
)

type PaymentRepository interface {
	Create(ctx context.Context, payment *model.Payment) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Payment, error)
	GetByIntentID(ctx context.Context, intentID string) (*model.Payment, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]model.Payment, error)
	// MarkSucceeded settles the payment and advances the order's payment
	// status to paid in one transaction. paid_at is stamped only on first
	// entry; a pending order moves to processing. Safe to call once per
	// payment; callers handle the already-succeeded no-op.
	MarkSucceeded(ctx context.Context, paymentID uuid.UUID, chargeID, method, cardBrand, cardLast4 string) error
	// MarkFailed records the failure on the payment only. The order keeps its
	// prior status and payment_status so the customer can retry.
	MarkFailed(ctx context.Context, paymentID uuid.UUID, errorMessage string) error
	// MarkRefunded flips the payment and the order to refunded in one
	// transaction.
	MarkRefunded(ctx context.Context, paymentID uuid.UUID) error
}

type pgPaymentRepo struct{ pool *pgxpool.Pool }

func NewPaymentRepository(pool *pgxpool.Pool) PaymentRepository {
	return &pgPaymentRepo{pool: pool}
}

// Payments are always read joined to their order so responses can carry the
// customer-facing order number without a second lookup.
const paymentColumns = `p.id, p.order_id, o.order_number, p.intent_id, p.charge_id,
	p.amount, p.currency, p.status,
	p.payment_method, p.card_brand, p.card_last4, p.error_message,
	p.created_at, p.updated_at, p.succeeded_at, p.failed_at`

const paymentFrom = ` FROM payments p JOIN orders o ON o.id = p.order_id`

func scanPayment(row pgx.Row, p *model.Payment) error {
	var chargeID, method, cardBrand, cardLast4, errorMessage *string
	err := row.Scan(
		&p.ID, &p.OrderID, &p.OrderNumber, &p.IntentID, &chargeID,
		&p.Amount, &p.Currency, &p.Status,
		&method, &cardBrand, &cardLast4, &errorMessage,
		&p.CreatedAt, &p.UpdatedAt, &p.SucceededAt, &p.FailedAt,
	)
	if err != nil {
		return err
	}
	for dst, src := range map[*string]*string{
		&p.ChargeID: chargeID, &p.Method: method, &p.CardBrand: cardBrand,
		&p.CardLast4: cardLast4, &p.ErrorMessage: errorMessage,
	} {
		if src != nil {
			*dst = *src
		}
	}
	return nil
}

func (r *pgPaymentRepo) Create(ctx context.Context, payment *model.Payment) error {
	payment.ID = uuid.New()
	err := r.pool.QueryRow(ctx,
		`INSERT INTO payments (id, order_id, intent_id, amount, currency, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		 RETURNING created_at, updated_at`,
		payment.ID, payment.OrderID, payment.IntentID, payment.Amount,
		payment.Currency, payment.Status,
	).Scan(&payment.CreatedAt, &payment.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create payment: %w", err)
	}
	return nil
}

func (r *pgPaymentRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Payment, error) {
	return r.getByClause(ctx, "p.id = $1", id)
}

func (r *pgPaymentRepo) GetByIntentID(ctx context.Context, intentID string) (*model.Payment, error) {
	return r.getByClause(ctx, "p.intent_id = $1", intentID)
}

func (r *pgPaymentRepo) getByClause(ctx context.Context, clause string, arg any) (*model.Payment, error) {
	p := &model.Payment{}
	err := scanPayment(r.pool.QueryRow(ctx,
		`SELECT `+paymentColumns+paymentFrom+` WHERE `+clause, arg), p)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get payment: %w", err)
	}
	return p, nil
}

func (r *pgPaymentRepo) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]model.Payment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+paymentColumns+paymentFrom+` WHERE p.order_id = $1 ORDER BY p.created_at`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	var payments []model.Payment
	for rows.Next() {
		var p model.Payment
		if err := scanPayment(rows, &p); err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func (r *pgPaymentRepo) MarkSucceeded(ctx context.Context, paymentID uuid.UUID, chargeID, method, cardBrand, cardLast4 string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var orderID uuid.UUID
	err = tx.QueryRow(ctx,
		`UPDATE payments SET status = 'succeeded', charge_id = $2, payment_method = $3,
			card_brand = $4, card_last4 = $5,
			succeeded_at = COALESCE(succeeded_at, NOW()), updated_at = NOW()
		 WHERE id = $1 AND status = 'pending'
		 RETURNING order_id`,
		paymentID, chargeID, method, cardBrand, cardLast4,
	).Scan(&orderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrStaleStatus
		}
		return fmt.Errorf("mark payment succeeded: %w", err)
	}

	// Advance the order exactly once: paid_at is preserved on re-entry and a
	// pending order starts processing.
	_, err = tx.Exec(ctx,
		`UPDATE orders SET payment_status = 'paid',
			paid_at = COALESCE(paid_at, NOW()),
			status = CASE WHEN status = 'pending' THEN 'processing' ELSE status END,
			updated_at = NOW()
		 WHERE id = $1 AND payment_status = 'pending'`,
		orderID,
	)
	if err != nil {
		return fmt.Errorf("mark order paid: %w", err)
	}

	return tx.Commit(ctx)
}

func (r *pgPaymentRepo) MarkFailed(ctx context.Context, paymentID uuid.UUID, errorMessage string) error {
	ct, err := r.pool.Exec(ctx,
		`UPDATE payments SET status = 'failed', error_message = $2,
			failed_at = COALESCE(failed_at, NOW()), updated_at = NOW()
		 WHERE id = $1 AND status = 'pending'`,
		paymentID, errorMessage,
	)
	if err != nil {
		return fmt.Errorf("mark payment failed: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrStaleStatus
	}
	return nil
}

func (r *pgPaymentRepo) MarkRefunded(ctx context.Context, paymentID uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var orderID uuid.UUID
	err = tx.QueryRow(ctx,
		`UPDATE payments SET status = 'refunded', updated_at = NOW()
		 WHERE id = $1 AND status = 'succeeded'
		 RETURNING order_id`,
		paymentID,
	).Scan(&orderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrStaleStatus
		}
		return fmt.Errorf("mark payment refunded: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE orders SET payment_status = 'refunded',
			status = CASE WHEN status NOT IN ('cancelled', 'refunded') THEN 'refunded' ELSE status END,
			updated_at = NOW()
		 WHERE id = $1 AND payment_status = 'paid'`,
		orderID,
	)
	if err != nil {
		return fmt.Errorf("mark order refunded: %w", err)
	}

	return tx.Commit(ctx)
}
