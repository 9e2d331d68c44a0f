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

// ErrInsufficientStock is returned when a conditional stock decrement affects
// zero rows, i.e. the requested quantity is no longer available.
var ErrInsufficientStock = errors.New("insufficient stock")

type ProductFilter struct {
	Search     string
	Sort       string
	Order      string
	ActiveOnly bool
	Featured   bool
	Limit      int
	Offset     int
}

type ProductRepository interface {
	Create(ctx context.Context, product *model.Product) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Product, error)
	List(ctx context.Context, filter ProductFilter) ([]model.Product, int, error)
	Update(ctx context.Context, product *model.Product) error
	Delete(ctx context.Context, id uuid.UUID) error
	// DecrementStock atomically takes quantity units inside tx; it fails with
	// ErrInsufficientStock when current stock is below quantity. This is a
	// single conditional update, never a read followed by a write.
	DecrementStock(ctx context.Context, tx pgx.Tx, productID uuid.UUID, quantity int) error
	// RestoreStock reverses a decrement on cancellation.
	RestoreStock(ctx context.Context, tx pgx.Tx, productID uuid.UUID, quantity int) error
}

const productColumns = `id, name, slug, description, sku, price, compare_at_price, stock_quantity,
	low_stock_threshold, image_url, is_active, is_featured, created_at, updated_at`

type pgProductRepo struct{ pool *pgxpool.Pool }

func NewProductRepository(pool *pgxpool.Pool) ProductRepository {
	return &pgProductRepo{pool: pool}
}

func scanProduct(row pgx.Row, p *model.Product) error {
	return row.Scan(
		&p.ID, &p.Name, &p.Slug, &p.Description, &p.SKU, &p.Price, &p.CompareAtPrice,
		&p.Stock, &p.LowStockThreshold, &p.ImageURL, &p.IsActive, &p.IsFeatured,
		&p.CreatedAt, &p.UpdatedAt,
	)
}

func (r *pgProductRepo) Create(ctx context.Context, product *model.Product) error {
	product.ID = uuid.New()
	query := `INSERT INTO products (id, name, slug, description, sku, price, compare_at_price,
				stock_quantity, low_stock_threshold, image_url, is_active, is_featured, created_at, updated_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW())
			  RETURNING created_at, updated_at`
	err := r.pool.QueryRow(ctx, query,
		product.ID, product.Name, product.Slug, product.Description, product.SKU,
		product.Price, product.CompareAtPrice, product.Stock, product.LowStockThreshold,
		product.ImageURL, product.IsActive, product.IsFeatured,
	).Scan(&product.CreatedAt, &product.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create product: %w", err)
	}
	return nil
}

func (r *pgProductRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Product, error) {
	p := &model.Product{}
	err := scanProduct(r.pool.QueryRow(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = $1`, id), p)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get product: %w", err)
	}
	return p, nil
}

func (r *pgProductRepo) List(ctx context.Context, filter ProductFilter) ([]model.Product, int, error) {
	allowedSorts := map[string]bool{"name": true, "price": true, "created_at": true}
	if !allowedSorts[filter.Sort] {
		filter.Sort = "created_at"
	}
	if filter.Order != "asc" && filter.Order != "desc" {
		filter.Order = "desc"
	}

	where := `($1 = '' OR name ILIKE '%' || $1 || '%' OR description ILIKE '%' || $1 || '%')
		AND (NOT $2 OR is_active)
		AND (NOT $3 OR is_featured)`

	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM products WHERE `+where,
		filter.Search, filter.ActiveOnly, filter.Featured,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count products: %w", err)
	}

	query := fmt.Sprintf(`SELECT `+productColumns+` FROM products
		WHERE `+where+` ORDER BY %s %s LIMIT $4 OFFSET $5`, filter.Sort, filter.Order)

	rows, err := r.pool.Query(ctx, query,
		filter.Search, filter.ActiveOnly, filter.Featured, filter.Limit, filter.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var products []model.Product
	for rows.Next() {
		var p model.Product
		if err := scanProduct(rows, &p); err != nil {
			return nil, 0, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, p)
	}
	return products, total, nil
}

func (r *pgProductRepo) Update(ctx context.Context, product *model.Product) error {
	query := `UPDATE products SET name=$2, slug=$3, description=$4, sku=$5, price=$6,
				compare_at_price=$7, stock_quantity=$8, low_stock_threshold=$9, image_url=$10,
				is_active=$11, is_featured=$12, updated_at=NOW()
			  WHERE id=$1 RETURNING updated_at`
	err := r.pool.QueryRow(ctx, query,
		product.ID, product.Name, product.Slug, product.Description, product.SKU,
		product.Price, product.CompareAtPrice, product.Stock, product.LowStockThreshold,
		product.ImageURL, product.IsActive, product.IsFeatured,
	).Scan(&product.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("update product: %w", err)
	}
	return nil
}

func (r *pgProductRepo) Delete(ctx context.Context, id uuid.UUID) error {
	ct, err := r.pool.Exec(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *pgProductRepo) DecrementStock(ctx context.Context, tx pgx.Tx, productID uuid.UUID, quantity int) error {
	ct, err := tx.Exec(ctx,
		`UPDATE products SET stock_quantity = stock_quantity - $2, updated_at = NOW()
		 WHERE id = $1 AND stock_quantity >= $2`,
		productID, quantity,
	)
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("product %s: %w", productID, ErrInsufficientStock)
	}
	return nil
}

func (r *pgProductRepo) RestoreStock(ctx context.Context, tx pgx.Tx, productID uuid.UUID, quantity int) error {
	_, err := tx.Exec(ctx,
		`UPDATE products SET stock_quantity = stock_quantity + $2, updated_at = NOW() WHERE id = $1`,
		productID, quantity,
	)
	if err != nil {
		return fmt.Errorf("restore stock: %w", err)
	}
	return nil
}
