package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stilldew/storefront-api/internal/dto"
	"github.com/stilldew/storefront-api/internal/model"
	"github.com/stilldew/storefront-api/internal/repository"
)

type mockProductRepo struct {
	products map[uuid.UUID]*model.Product
}

func newMockProductRepo() *mockProductRepo {
	return &mockProductRepo{products: make(map[uuid.UUID]*model.Product)}
}

func (m *mockProductRepo) Create(_ context.Context, product *model.Product) error {
	product.ID = uuid.New()
	m.products[product.ID] = product
	return nil
}

func (m *mockProductRepo) GetByID(_ context.Context, id uuid.UUID) (*model.Product, error) {
	p, ok := m.products[id]
	if !ok {
		return nil, nil
	}
	clone := *p
	return &clone, nil
}

func (m *mockProductRepo) List(_ context.Context, filter repository.ProductFilter) ([]model.Product, int, error) {
	var products []model.Product
	for _, p := range m.products {
		if filter.ActiveOnly && !p.IsActive {
			continue
		}
		products = append(products, *p)
	}
	return products, len(products), nil
}

func (m *mockProductRepo) Update(_ context.Context, product *model.Product) error {
	if _, ok := m.products[product.ID]; ok {
		clone := *product
		m.products[product.ID] = &clone
	}
	return nil
}

func (m *mockProductRepo) Delete(_ context.Context, id uuid.UUID) error {
	delete(m.products, id)
	return nil
}

func (m *mockProductRepo) DecrementStock(_ context.Context, _ pgx.Tx, productID uuid.UUID, quantity int) error {
	p, ok := m.products[productID]
	if !ok || p.Stock < quantity {
		return repository.ErrInsufficientStock
	}
	p.Stock -= quantity
	return nil
}

func (m *mockProductRepo) RestoreStock(_ context.Context, _ pgx.Tx, productID uuid.UUID, quantity int) error {
	if p, ok := m.products[productID]; ok {
		p.Stock += quantity
	}
	return nil
}

func TestProductService_Create(t *testing.T) {
	repo := newMockProductRepo()
	svc := NewProductService(repo, nil)

	resp, err := svc.Create(context.Background(), dto.CreateProductRequest{
		Name:  "Walnut Desk Organizer",
		Slug:  "walnut-desk-organizer",
		SKU:   "WDO-001",
		Price: decimal.NewFromFloat(34.50),
		Stock: 12,
	})
	require.NoError(t, err)
	assert.True(t, resp.IsActive)
	assert.True(t, resp.InStock)
	assert.Len(t, repo.products, 1)
}

func TestProductService_Create_ZeroPriceRejected(t *testing.T) {
	repo := newMockProductRepo()
	svc := NewProductService(repo, nil)

	_, err := svc.Create(context.Background(), dto.CreateProductRequest{
		Name: "Freebie", Slug: "freebie", Price: decimal.Zero, Stock: 1,
	})
	assert.ErrorIs(t, err, ErrInvalidPrice)
	assert.Empty(t, repo.products)
}

func TestProductService_GetByID_NotFound(t *testing.T) {
	svc := NewProductService(newMockProductRepo(), nil)
	_, err := svc.GetByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrProductNotFound)
}

func TestProductService_Update_PartialFields(t *testing.T) {
	repo := newMockProductRepo()
	pid := uuid.New()
	repo.products[pid] = &model.Product{
		ID: pid, Name: "Old Name", Slug: "old-name",
		Price: decimal.NewFromInt(10), Stock: 5, IsActive: true,
	}
	svc := NewProductService(repo, nil)

	newPrice := decimal.NewFromFloat(12.50)
	resp, err := svc.Update(context.Background(), pid, dto.UpdateProductRequest{Price: &newPrice})
	require.NoError(t, err)
	assert.True(t, resp.Price.Equal(newPrice))
	// Untouched fields survive the partial update.
	assert.Equal(t, "Old Name", resp.Name)
	assert.Equal(t, 5, resp.Stock)
}

func TestProductService_Update_ZeroPriceRejected(t *testing.T) {
	repo := newMockProductRepo()
	pid := uuid.New()
	repo.products[pid] = &model.Product{
		ID: pid, Name: "Priced", Slug: "priced",
		Price: decimal.NewFromInt(10), Stock: 5, IsActive: true,
	}
	svc := NewProductService(repo, nil)

	zero := decimal.Zero
	_, err := svc.Update(context.Background(), pid, dto.UpdateProductRequest{Price: &zero})
	assert.ErrorIs(t, err, ErrInvalidPrice)
	// The stored price is untouched.
	assert.True(t, repo.products[pid].Price.Equal(decimal.NewFromInt(10)))
}

func TestProductService_Update_NotFound(t *testing.T) {
	svc := NewProductService(newMockProductRepo(), nil)
	_, err := svc.Update(context.Background(), uuid.New(), dto.UpdateProductRequest{})
	assert.ErrorIs(t, err, ErrProductNotFound)
}

func TestProductService_List_HidesInactiveFromPublic(t *testing.T) {
	repo := newMockProductRepo()
	active := uuid.New()
	hidden := uuid.New()
	repo.products[active] = &model.Product{ID: active, Name: "Visible", IsActive: true}
	repo.products[hidden] = &model.Product{ID: hidden, Name: "Hidden", IsActive: false}
	svc := NewProductService(repo, nil)

	public, err := svc.List(context.Background(), dto.ListProductsRequest{Page: 1, Limit: 20}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, public.Total)

	admin, err := svc.List(context.Background(), dto.ListProductsRequest{Page: 1, Limit: 20}, true)
	require.NoError(t, err)
	assert.Equal(t, 2, admin.Total)
}

func TestProductService_LowStockFlag(t *testing.T) {
	repo := newMockProductRepo()
	pid := uuid.New()
	repo.products[pid] = &model.Product{ID: pid, Stock: 2, LowStockThreshold: 5, IsActive: true}
	svc := NewProductService(repo, nil)

	resp, err := svc.GetByID(context.Background(), pid)
	require.NoError(t, err)
	assert.True(t, resp.LowStock)
	assert.True(t, resp.InStock)
}
