package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stilldew/storefront-api/internal/model"
)

// ErrStaleStatus is returned when a guarded status update matched no row,
// i.e. the order moved concurrently or does not exist.
var ErrStaleStatus = errors.New("order status changed concurrently")

type OrderFilter struct {
	Status        model.OrderStatus
	PaymentStatus model.PaymentStatus
	Search        string
	Limit         int
	Offset        int
}

type OrderRepository interface {
	// Create persists the order, its item snapshots, and the stock decrements
	// for every line in one transaction. Any failure (including a single
	// line's ErrInsufficientStock) rolls the whole operation back. The order
	// number is assigned here, exactly once.
	Create(ctx context.Context, order *model.Order) error
	// Cancel restores each item's stock and marks the order cancelled in one
	// transaction. The status guard runs inside the transaction. A non-empty
	// reason is recorded on the order.
	Cancel(ctx context.Context, orderID uuid.UUID, reason string) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Order, error)
	GetByNumber(ctx context.Context, orderNumber string) (*model.Order, error)
	ListByUser(ctx context.Context, userID uuid.UUID, filter OrderFilter) ([]model.Order, int, error)
	List(ctx context.Context, filter OrderFilter) ([]model.Order, int, error)
	// UpdateStatus moves status from->to, stamping the entry timestamp for
	// the target state only if it was never stamped before.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to model.OrderStatus) error
	UpdateFulfillment(ctx context.Context, id uuid.UUID, from, to model.FulfillmentStatus) error
	UpdateTracking(ctx context.Context, id uuid.UUID, trackingNumber, trackingURL, shippingMethod string) error
	Stats(ctx context.Context) (*model.OrderStats, error)
}

type pgOrderRepo struct {
	pool     *pgxpool.Pool
	products ProductRepository
}

func NewOrderRepository(pool *pgxpool.Pool, products ProductRepository) OrderRepository {
	return &pgOrderRepo{pool: pool, products: products}
}

const orderNumberAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func generateOrderNumber(now time.Time) string {
	var b strings.Builder
	b.WriteString("ORD-")
	b.WriteString(now.UTC().Format("20060102"))
	b.WriteByte('-')
	for i := 0; i < 6; i++ {
		b.WriteByte(orderNumberAlphabet[rand.Intn(len(orderNumberAlphabet))])
	}
	return b.String()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (r *pgOrderRepo) Create(ctx context.Context, order *model.Order) error {
	// The unique index on order_number can collide with the random suffix;
	// retry the whole transaction with a fresh number.
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		order.OrderNumber = generateOrderNumber(time.Now())
		err = r.createOnce(ctx, order)
		if err == nil || !isUniqueViolation(err) {
			return err
		}
	}
	return fmt.Errorf("create order: %w", err)
}

func (r *pgOrderRepo) createOnce(ctx context.Context, order *model.Order) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Each line goes through the conditional decrement, so concurrent
	// checkouts of the last units cannot both succeed.
	for _, item := range order.Items {
		if item.ProductID == nil {
			return fmt.Errorf("order item %s has no product", item.ID)
		}
		if err := r.products.DecrementStock(ctx, tx, *item.ProductID, item.Quantity); err != nil {
			return err
		}
	}

	order.ID = uuid.New()
	shippingJSON, err := json.Marshal(order.ShippingAddress)
	if err != nil {
		return fmt.Errorf("marshal shipping address: %w", err)
	}
	var billingJSON []byte
	if order.BillingAddress != nil {
		if billingJSON, err = json.Marshal(order.BillingAddress); err != nil {
			return fmt.Errorf("marshal billing address: %w", err)
		}
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO orders (id, order_number, user_id,
			customer_email, customer_first_name, customer_last_name, customer_phone,
			subtotal, tax_amount, shipping_amount, discount_amount, total_amount,
			shipping_address, billing_address,
			status, payment_status, fulfillment_status, customer_notes,
			created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, NOW(), NOW())
		 RETURNING created_at, updated_at`,
		order.ID, order.OrderNumber, order.UserID,
		order.CustomerEmail, order.CustomerFirstName, order.CustomerLastName, order.CustomerPhone,
		order.Subtotal, order.TaxAmount, order.ShippingAmount, order.DiscountAmount, order.TotalAmount,
		shippingJSON, billingJSON,
		order.Status, order.PaymentStatus, order.FulfillmentStatus, order.CustomerNotes,
	).Scan(&order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for i := range order.Items {
		order.Items[i].ID = uuid.New()
		order.Items[i].OrderID = order.ID
		it := &order.Items[i]
		err = tx.QueryRow(ctx,
			`INSERT INTO order_items (id, order_id, product_id, product_name, product_sku,
				product_image, quantity, unit_price, total_price, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
			 RETURNING created_at`,
			it.ID, it.OrderID, it.ProductID, it.ProductName, it.ProductSKU,
			it.ProductImage, it.Quantity, it.UnitPrice, it.TotalPrice,
		).Scan(&it.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (r *pgOrderRepo) Cancel(ctx context.Context, orderID uuid.UUID, reason string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Guard inside the transaction so a concurrent ship/cancel cannot slip
	// between check and write.
	ct, err := tx.Exec(ctx,
		`UPDATE orders SET status = 'cancelled',
			cancel_reason = COALESCE(NULLIF($2, ''), cancel_reason),
			cancelled_at = COALESCE(cancelled_at, NOW()), updated_at = NOW()
		 WHERE id = $1 AND status IN ('pending', 'processing')`,
		orderID, reason,
	)
	if err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrStaleStatus
	}

	// Reverse the creation-time decrement for each snapshot line whose
	// product still exists.
	rows, err := tx.Query(ctx,
		`SELECT product_id, quantity FROM order_items
		 WHERE order_id = $1 AND product_id IS NOT NULL`, orderID)
	if err != nil {
		return fmt.Errorf("get order items: %w", err)
	}
	type restoreLine struct {
		productID uuid.UUID
		quantity  int
	}
	var lines []restoreLine
	for rows.Next() {
		var line restoreLine
		if err := rows.Scan(&line.productID, &line.quantity); err != nil {
			rows.Close()
			return fmt.Errorf("scan order item: %w", err)
		}
		lines = append(lines, line)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate order items: %w", err)
	}
	for _, line := range lines {
		if err := r.products.RestoreStock(ctx, tx, line.productID, line.quantity); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

const orderColumns = `id, order_number, user_id,
	customer_email, customer_first_name, customer_last_name, customer_phone,
	subtotal, tax_amount, shipping_amount, discount_amount, total_amount,
	shipping_address, billing_address,
	status, payment_status, fulfillment_status,
	shipping_method, tracking_number, tracking_url, customer_notes, cancel_reason,
	created_at, updated_at, paid_at, shipped_at, delivered_at, cancelled_at`

func scanOrder(row pgx.Row, o *model.Order) error {
	var shippingJSON []byte
	var billingJSON []byte
	var shippingMethod, trackingNumber, trackingURL, customerNotes, cancelReason *string
	err := row.Scan(
		&o.ID, &o.OrderNumber, &o.UserID,
		&o.CustomerEmail, &o.CustomerFirstName, &o.CustomerLastName, &o.CustomerPhone,
		&o.Subtotal, &o.TaxAmount, &o.ShippingAmount, &o.DiscountAmount, &o.TotalAmount,
		&shippingJSON, &billingJSON,
		&o.Status, &o.PaymentStatus, &o.FulfillmentStatus,
		&shippingMethod, &trackingNumber, &trackingURL, &customerNotes, &cancelReason,
		&o.CreatedAt, &o.UpdatedAt, &o.PaidAt, &o.ShippedAt, &o.DeliveredAt, &o.CancelledAt,
	)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(shippingJSON, &o.ShippingAddress); err != nil {
		return fmt.Errorf("unmarshal shipping address: %w", err)
	}
	if len(billingJSON) > 0 {
		o.BillingAddress = &model.Address{}
		if err := json.Unmarshal(billingJSON, o.BillingAddress); err != nil {
			return fmt.Errorf("unmarshal billing address: %w", err)
		}
	}
	if shippingMethod != nil {
		o.ShippingMethod = *shippingMethod
	}
	if trackingNumber != nil {
		o.TrackingNumber = *trackingNumber
	}
	if trackingURL != nil {
		o.TrackingURL = *trackingURL
	}
	if customerNotes != nil {
		o.CustomerNotes = *customerNotes
	}
	if cancelReason != nil {
		o.CancelReason = *cancelReason
	}
	return nil
}

func (r *pgOrderRepo) loadItems(ctx context.Context, orders []*model.Order) error {
	for _, o := range orders {
		rows, err := r.pool.Query(ctx,
			`SELECT id, order_id, product_id, product_name, product_sku, product_image,
				quantity, unit_price, total_price, created_at
			 FROM order_items WHERE order_id = $1 ORDER BY created_at`, o.ID)
		if err != nil {
			return fmt.Errorf("get order items: %w", err)
		}
		for rows.Next() {
			var item model.OrderItem
			if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.ProductName,
				&item.ProductSKU, &item.ProductImage, &item.Quantity,
				&item.UnitPrice, &item.TotalPrice, &item.CreatedAt); err != nil {
				rows.Close()
				return fmt.Errorf("scan order item: %w", err)
			}
			o.Items = append(o.Items, item)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate order items: %w", err)
		}
	}
	return nil
}

func (r *pgOrderRepo) getByClause(ctx context.Context, clause string, arg any) (*model.Order, error) {
	order := &model.Order{}
	err := scanOrder(r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE `+clause, arg), order)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	if err := r.loadItems(ctx, []*model.Order{order}); err != nil {
		return nil, err
	}
	return order, nil
}

func (r *pgOrderRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	return r.getByClause(ctx, "id = $1", id)
}

func (r *pgOrderRepo) GetByNumber(ctx context.Context, orderNumber string) (*model.Order, error) {
	return r.getByClause(ctx, "order_number = $1", orderNumber)
}

func (r *pgOrderRepo) ListByUser(ctx context.Context, userID uuid.UUID, filter OrderFilter) ([]model.Order, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM orders WHERE user_id = $1 AND ($2 = '' OR status = $2)`,
		userID, string(filter.Status),
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders
		 WHERE user_id = $1 AND ($2 = '' OR status = $2)
		 ORDER BY created_at DESC LIMIT $3 OFFSET $4`,
		userID, string(filter.Status), filter.Limit, filter.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	orders, err := collectOrders(rows)
	if err != nil {
		return nil, 0, err
	}

	refs := make([]*model.Order, len(orders))
	for i := range orders {
		refs[i] = &orders[i]
	}
	if err := r.loadItems(ctx, refs); err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

func (r *pgOrderRepo) List(ctx context.Context, filter OrderFilter) ([]model.Order, int, error) {
	where := `($1 = '' OR status = $1)
		AND ($2 = '' OR payment_status = $2)
		AND ($3 = '' OR order_number ILIKE '%' || $3 || '%' OR customer_email ILIKE '%' || $3 || '%')`

	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM orders WHERE `+where,
		string(filter.Status), string(filter.PaymentStatus), filter.Search,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE `+where+`
		 ORDER BY created_at DESC LIMIT $4 OFFSET $5`,
		string(filter.Status), string(filter.PaymentStatus), filter.Search,
		filter.Limit, filter.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	orders, err := collectOrders(rows)
	if err != nil {
		return nil, 0, err
	}

	refs := make([]*model.Order, len(orders))
	for i := range orders {
		refs[i] = &orders[i]
	}
	if err := r.loadItems(ctx, refs); err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

func collectOrders(rows pgx.Rows) ([]model.Order, error) {
	defer rows.Close()
	var orders []model.Order
	for rows.Next() {
		var o model.Order
		if err := scanOrder(rows, &o); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// stampColumn maps a target status to the timestamp stamped on first entry.
var stampColumn = map[model.OrderStatus]string{
	model.OrderStatusShipped:   "shipped_at",
	model.OrderStatusDelivered: "delivered_at",
	model.OrderStatusCancelled: "cancelled_at",
}

func (r *pgOrderRepo) UpdateStatus(ctx context.Context, id uuid.UUID, from, to model.OrderStatus) error {
	query := `UPDATE orders SET status = $3, updated_at = NOW()`
	if col, ok := stampColumn[to]; ok {
		// COALESCE keeps the original timestamp on re-entry.
		query += fmt.Sprintf(`, %s = COALESCE(%s, NOW())`, col, col)
	}
	query += ` WHERE id = $1 AND status = $2`

	ct, err := r.pool.Exec(ctx, query, id, from, to)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrStaleStatus
	}
	return nil
}

func (r *pgOrderRepo) UpdateFulfillment(ctx context.Context, id uuid.UUID, from, to model.FulfillmentStatus) error {
	ct, err := r.pool.Exec(ctx,
		`UPDATE orders SET fulfillment_status = $3, updated_at = NOW()
		 WHERE id = $1 AND fulfillment_status = $2`,
		id, from, to,
	)
	if err != nil {
		return fmt.Errorf("update fulfillment status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrStaleStatus
	}
	return nil
}

func (r *pgOrderRepo) UpdateTracking(ctx context.Context, id uuid.UUID, trackingNumber, trackingURL, shippingMethod string) error {
	ct, err := r.pool.Exec(ctx,
		`UPDATE orders SET tracking_number = $2,
			tracking_url = COALESCE(NULLIF($3, ''), tracking_url),
			shipping_method = COALESCE(NULLIF($4, ''), shipping_method),
			updated_at = NOW()
		 WHERE id = $1`,
		id, trackingNumber, trackingURL, shippingMethod,
	)
	if err != nil {
		return fmt.Errorf("update tracking: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *pgOrderRepo) Stats(ctx context.Context) (*model.OrderStats, error) {
	stats := &model.OrderStats{}
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*),
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'processing'),
			COUNT(*) FILTER (WHERE status = 'shipped'),
			COUNT(*) FILTER (WHERE created_at::date = NOW()::date),
			COALESCE(SUM(total_amount) FILTER (WHERE payment_status = 'paid'), 0)
		 FROM orders`,
	).Scan(&stats.TotalOrders, &stats.PendingOrders, &stats.ProcessingOrders,
		&stats.ShippedOrders, &stats.OrdersToday, &stats.PaidRevenue)
	if err != nil {
		return nil, fmt.Errorf("order stats: %w", err)
	}
	return stats, nil
}
