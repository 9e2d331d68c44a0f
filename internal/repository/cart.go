package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stilldew/storefront-api/internal/model"
)

type CartRepository interface {
	// FindByOwner resolves the owner's live (unexpired) cart, or nil.
	FindByOwner(ctx context.Context, owner model.CartOwner) (*model.Cart, error)
	GetOrCreate(ctx context.Context, owner model.CartOwner, ttl time.Duration) (*model.Cart, error)
	GetWithItems(ctx context.Context, cartID uuid.UUID) (*model.Cart, error)
	// AddItem upserts on (cart_id, product_id): an existing line has its
	// quantity incremented instead of a duplicate row being created.
	AddItem(ctx context.Context, item *model.CartItem) error
	GetItem(ctx context.Context, itemID uuid.UUID) (*model.CartItem, error)
	UpdateItemQuantity(ctx context.Context, itemID uuid.UUID, quantity int) error
	DeleteItem(ctx context.Context, itemID uuid.UUID) error
	Clear(ctx context.Context, cartID uuid.UUID) error
	// AttachToUser converts a guest cart to a user cart.
	AttachToUser(ctx context.Context, cartID, userID uuid.UUID) error
	Delete(ctx context.Context, cartID uuid.UUID) error
	DeleteExpired(ctx context.Context) (int64, error)
}

type pgCartRepo struct{ pool *pgxpool.Pool }

func NewCartRepository(pool *pgxpool.Pool) CartRepository {
	return &pgCartRepo{pool: pool}
}

const cartColumns = `id, user_id, session_id, created_at, updated_at, expires_at`

func scanCart(row pgx.Row, c *model.Cart) error {
	var sessionID *string
	err := row.Scan(&c.ID, &c.UserID, &sessionID, &c.CreatedAt, &c.UpdatedAt, &c.ExpiresAt)
	if err != nil {
		return err
	}
	if sessionID != nil {
		c.SessionID = *sessionID
	}
	return nil
}

func (r *pgCartRepo) ownerClause(owner model.CartOwner) (string, any) {
	if owner.UserID != nil {
		return "user_id = $1", *owner.UserID
	}
	return "session_id = $1", owner.SessionID
}

func (r *pgCartRepo) FindByOwner(ctx context.Context, owner model.CartOwner) (*model.Cart, error) {
	clause, arg := r.ownerClause(owner)
	cart := &model.Cart{}
	err := scanCart(r.pool.QueryRow(ctx,
		`SELECT `+cartColumns+` FROM carts WHERE `+clause+` AND expires_at > NOW()`, arg), cart)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find cart: %w", err)
	}
	return cart, nil
}

func (r *pgCartRepo) GetOrCreate(ctx context.Context, owner model.CartOwner, ttl time.Duration) (*model.Cart, error) {
	cart, err := r.FindByOwner(ctx, owner)
	if err != nil {
		return nil, err
	}
	if cart != nil {
		return cart, nil
	}

	cart = &model.Cart{ID: uuid.New(), UserID: owner.UserID, SessionID: owner.SessionID}
	var sessionID *string
	if owner.SessionID != "" {
		sessionID = &owner.SessionID
	}
	err = r.pool.QueryRow(ctx,
		`INSERT INTO carts (id, user_id, session_id, created_at, updated_at, expires_at)
		 VALUES ($1, $2, $3, NOW(), NOW(), NOW() + $4)
		 RETURNING created_at, updated_at, expires_at`,
		cart.ID, owner.UserID, sessionID, ttl,
	).Scan(&cart.CreatedAt, &cart.UpdatedAt, &cart.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("create cart: %w", err)
	}
	return cart, nil
}

func (r *pgCartRepo) GetWithItems(ctx context.Context, cartID uuid.UUID) (*model.Cart, error) {
	cart := &model.Cart{}
	err := scanCart(r.pool.QueryRow(ctx,
		`SELECT `+cartColumns+` FROM carts WHERE id = $1`, cartID), cart)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get cart: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, cart_id, product_id, quantity, unit_price, created_at, updated_at
		 FROM cart_items WHERE cart_id = $1 ORDER BY created_at`, cartID)
	if err != nil {
		return nil, fmt.Errorf("get cart items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item model.CartItem
		if err := rows.Scan(&item.ID, &item.CartID, &item.ProductID, &item.Quantity,
			&item.UnitPrice, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan cart item: %w", err)
		}
		cart.Items = append(cart.Items, item)
	}
	return cart, nil
}

func (r *pgCartRepo) AddItem(ctx context.Context, item *model.CartItem) error {
	item.ID = uuid.New()
	query := `INSERT INTO cart_items (id, cart_id, product_id, quantity, unit_price, created_at, updated_at)
			  VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
			  ON CONFLICT (cart_id, product_id)
			  DO UPDATE SET quantity = cart_items.quantity + $4, updated_at = NOW()
			  RETURNING id, quantity, unit_price, created_at, updated_at`
	err := r.pool.QueryRow(ctx, query,
		item.ID, item.CartID, item.ProductID, item.Quantity, item.UnitPrice,
	).Scan(&item.ID, &item.Quantity, &item.UnitPrice, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return fmt.Errorf("add cart item: %w", err)
	}
	return nil
}

func (r *pgCartRepo) GetItem(ctx context.Context, itemID uuid.UUID) (*model.CartItem, error) {
	item := &model.CartItem{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, cart_id, product_id, quantity, unit_price, created_at, updated_at
		 FROM cart_items WHERE id = $1`, itemID,
	).Scan(&item.ID, &item.CartID, &item.ProductID, &item.Quantity,
		&item.UnitPrice, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get cart item: %w", err)
	}
	return item, nil
}

func (r *pgCartRepo) UpdateItemQuantity(ctx context.Context, itemID uuid.UUID, quantity int) error {
	ct, err := r.pool.Exec(ctx,
		`UPDATE cart_items SET quantity = $2, updated_at = NOW() WHERE id = $1`,
		itemID, quantity,
	)
	if err != nil {
		return fmt.Errorf("update cart item: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *pgCartRepo) DeleteItem(ctx context.Context, itemID uuid.UUID) error {
	ct, err := r.pool.Exec(ctx, `DELETE FROM cart_items WHERE id = $1`, itemID)
	if err != nil {
		return fmt.Errorf("delete cart item: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// Clear is idempotent: clearing an empty or missing cart is a no-op.
func (r *pgCartRepo) Clear(ctx context.Context, cartID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cartID)
	if err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}

func (r *pgCartRepo) AttachToUser(ctx context.Context, cartID, userID uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE carts SET user_id = $2, session_id = NULL, updated_at = NOW() WHERE id = $1`,
		cartID, userID,
	)
	if err != nil {
		return fmt.Errorf("attach cart to user: %w", err)
	}
	return nil
}

func (r *pgCartRepo) Delete(ctx context.Context, cartID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM carts WHERE id = $1`, cartID)
	if err != nil {
		return fmt.Errorf("delete cart: %w", err)
	}
	return nil
}

func (r *pgCartRepo) DeleteExpired(ctx context.Context) (int64, error) {
	ct, err := r.pool.Exec(ctx, `DELETE FROM carts WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, fmt.Errorf("delete expired carts: %w", err)
	}
	return ct.RowsAffected(), nil
}
