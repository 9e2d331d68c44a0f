package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stilldew/storefront-api/internal/model"
	"github.com/stilldew/storefront-api/internal/pricing"
	"github.com/stilldew/storefront-api/internal/repository"
)

type mockCartRepo struct {
	carts map[uuid.UUID]*model.Cart
	items map[uuid.UUID]*model.CartItem
}

func newMockCartRepo() *mockCartRepo {
	return &mockCartRepo{carts: make(map[uuid.UUID]*model.Cart), items: make(map[uuid.UUID]*model.CartItem)}
}

func ownerMatches(c *model.Cart, owner model.CartOwner) bool {
	if owner.UserID != nil {
		return c.UserID != nil && *c.UserID == *owner.UserID
	}
	return c.SessionID == owner.SessionID
}

func (m *mockCartRepo) FindByOwner(_ context.Context, owner model.CartOwner) (*model.Cart, error) {
	for _, c := range m.carts {
		if ownerMatches(c, owner) {
			return c, nil
		}
	}
	return nil, nil
}

func (m *mockCartRepo) GetOrCreate(ctx context.Context, owner model.CartOwner, ttl time.Duration) (*model.Cart, error) {
	if cart, _ := m.FindByOwner(ctx, owner); cart != nil {
		return cart, nil
	}
	cart := &model.Cart{ID: uuid.New(), UserID: owner.UserID, SessionID: owner.SessionID, ExpiresAt: time.Now().Add(ttl)}
	m.carts[cart.ID] = cart
	return cart, nil
}

func (m *mockCartRepo) GetWithItems(_ context.Context, cartID uuid.UUID) (*model.Cart, error) {
	cart, ok := m.carts[cartID]
	if !ok {
		return nil, nil
	}
	cart.Items = nil
	for _, item := range m.items {
		if item.CartID == cartID {
			cart.Items = append(cart.Items, *item)
		}
	}
	return cart, nil
}

func (m *mockCartRepo) AddItem(_ context.Context, item *model.CartItem) error {
	for _, existing := range m.items {
		if existing.CartID == item.CartID && existing.ProductID == item.ProductID {
			existing.Quantity += item.Quantity
			*item = *existing
			return nil
		}
	}
	item.ID = uuid.New()
	m.items[item.ID] = item
	return nil
}

func (m *mockCartRepo) GetItem(_ context.Context, itemID uuid.UUID) (*model.CartItem, error) {
	item, ok := m.items[itemID]
	if !ok {
		return nil, nil
	}
	return item, nil
}

func (m *mockCartRepo) UpdateItemQuantity(_ context.Context, itemID uuid.UUID, quantity int) error {
	if item, ok := m.items[itemID]; ok {
		item.Quantity = quantity
	}
	return nil
}

func (m *mockCartRepo) DeleteItem(_ context.Context, itemID uuid.UUID) error {
	delete(m.items, itemID)
	return nil
}

func (m *mockCartRepo) Clear(_ context.Context, cartID uuid.UUID) error {
	for id, item := range m.items {
		if item.CartID == cartID {
			delete(m.items, id)
		}
	}
	return nil
}

func (m *mockCartRepo) AttachToUser(_ context.Context, cartID, userID uuid.UUID) error {
	if cart, ok := m.carts[cartID]; ok {
		cart.UserID = &userID
		cart.SessionID = ""
	}
	return nil
}

func (m *mockCartRepo) Delete(_ context.Context, cartID uuid.UUID) error {
	delete(m.carts, cartID)
	for id, item := range m.items {
		if item.CartID == cartID {
			delete(m.items, id)
		}
	}
	return nil
}

func (m *mockCartRepo) DeleteExpired(_ context.Context) (int64, error) { return 0, nil }

func testPolicy() pricing.Policy {
	return pricing.Policy{
		TaxRate:               decimal.NewFromFloat(0.10),
		FreeShippingThreshold: decimal.NewFromInt(50),
		ShippingFee:           decimal.NewFromFloat(5.99),
	}
}

func newCartService(cartRepo *mockCartRepo, productRepo *mockProductRepo) *CartService {
	return NewCartService(cartRepo, productRepo, testPolicy(), 30*24*time.Hour)
}

func guestOwner() model.CartOwner {
	return model.CartOwner{SessionID: uuid.NewString()}
}

func TestCartService_AddItem(t *testing.T) {
	cartRepo := newMockCartRepo()
	productRepo := newMockProductRepo()
	pid := uuid.New()
	productRepo.products[pid] = &model.Product{ID: pid, Price: decimal.NewFromFloat(9.99), Stock: 100, IsActive: true}

	svc := newCartService(cartRepo, productRepo)
	cart, totals, err := svc.AddItem(context.Background(), guestOwner(), pid, 2)
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, 2, cart.Items[0].Quantity)
	assert.True(t, totals.Subtotal.Equal(decimal.NewFromFloat(19.98)), totals.Subtotal.String())
}

func TestCartService_AddItem_SameProductCollapses(t *testing.T) {
	cartRepo := newMockCartRepo()
	productRepo := newMockProductRepo()
	pid := uuid.New()
	productRepo.products[pid] = &model.Product{ID: pid, Price: decimal.NewFromInt(5), Stock: 100, IsActive: true}

	svc := newCartService(cartRepo, productRepo)
	owner := guestOwner()
	_, _, err := svc.AddItem(context.Background(), owner, pid, 2)
	require.NoError(t, err)
	cart, _, err := svc.AddItem(context.Background(), owner, pid, 3)
	require.NoError(t, err)

	require.Len(t, cart.Items, 1)
	assert.Equal(t, 5, cart.Items[0].Quantity)
}

func TestCartService_AddItem_ProductNotFound(t *testing.T) {
	svc := newCartService(newMockCartRepo(), newMockProductRepo())
	_, _, err := svc.AddItem(context.Background(), guestOwner(), uuid.New(), 2)
	assert.ErrorIs(t, err, ErrProductNotFound)
}

func TestCartService_AddItem_InactiveProduct(t *testing.T) {
	productRepo := newMockProductRepo()
	pid := uuid.New()
	productRepo.products[pid] = &model.Product{ID: pid, Stock: 10, IsActive: false}

	svc := newCartService(newMockCartRepo(), productRepo)
	_, _, err := svc.AddItem(context.Background(), guestOwner(), pid, 1)
	assert.ErrorIs(t, err, ErrProductUnavailable)
}

func TestCartService_AddItem_InsufficientStock(t *testing.T) {
	productRepo := newMockProductRepo()
	pid := uuid.New()
	productRepo.products[pid] = &model.Product{ID: pid, Stock: 3, IsActive: true}

	svc := newCartService(newMockCartRepo(), productRepo)
	owner := guestOwner()
	_, _, err := svc.AddItem(context.Background(), owner, pid, 2)
	require.NoError(t, err)
	// The second add would push the line past available stock.
	_, _, err = svc.AddItem(context.Background(), owner, pid, 2)
	assert.ErrorIs(t, err, repository.ErrInsufficientStock)
}

func TestCartService_UpdateItem_InsufficientStock(t *testing.T) {
	cartRepo := newMockCartRepo()
	productRepo := newMockProductRepo()
	pid := uuid.New()
	productRepo.products[pid] = &model.Product{ID: pid, Stock: 3, IsActive: true}

	svc := newCartService(cartRepo, productRepo)
	owner := guestOwner()
	cart, _, err := svc.AddItem(context.Background(), owner, pid, 1)
	require.NoError(t, err)

	_, _, err = svc.UpdateItem(context.Background(), owner, cart.Items[0].ID, 10)
	assert.ErrorIs(t, err, repository.ErrInsufficientStock)
}

func TestCartService_RemoveItem_WrongOwner(t *testing.T) {
	cartRepo := newMockCartRepo()
	productRepo := newMockProductRepo()
	pid := uuid.New()
	productRepo.products[pid] = &model.Product{ID: pid, Stock: 10, IsActive: true}

	svc := newCartService(cartRepo, productRepo)
	cart, _, err := svc.AddItem(context.Background(), guestOwner(), pid, 1)
	require.NoError(t, err)

	// A different session owns a different (implicitly created) cart.
	_, _, err = svc.RemoveItem(context.Background(), guestOwner(), cart.Items[0].ID)
	assert.ErrorIs(t, err, ErrCartItemNotFound)
}

func TestCartService_Clear_MissingCartIsNoop(t *testing.T) {
	svc := newCartService(newMockCartRepo(), newMockProductRepo())
	assert.NoError(t, svc.Clear(context.Background(), guestOwner()))
}

func TestCartService_Totals_FreeShippingOverThreshold(t *testing.T) {
	cartRepo := newMockCartRepo()
	productRepo := newMockProductRepo()
	pid := uuid.New()
	productRepo.products[pid] = &model.Product{ID: pid, Price: decimal.NewFromInt(25), Stock: 10, IsActive: true}

	svc := newCartService(cartRepo, productRepo)
	_, totals, err := svc.AddItem(context.Background(), guestOwner(), pid, 2)
	require.NoError(t, err)
	assert.True(t, totals.Shipping.IsZero(), totals.Shipping.String())
}

func TestCartService_Merge_SumsAndCapsAtStock(t *testing.T) {
	cartRepo := newMockCartRepo()
	productRepo := newMockProductRepo()
	pid := uuid.New()
	productRepo.products[pid] = &model.Product{ID: pid, Price: decimal.NewFromInt(10), Stock: 5, IsActive: true}

	svc := newCartService(cartRepo, productRepo)
	userID := uuid.New()
	sessionID := uuid.NewString()

	_, _, err := svc.AddItem(context.Background(), model.CartOwner{SessionID: sessionID}, pid, 4)
	require.NoError(t, err)
	_, _, err = svc.AddItem(context.Background(), model.CartOwner{UserID: &userID}, pid, 3)
	require.NoError(t, err)

	merged, err := svc.Merge(context.Background(), userID, sessionID)
	require.NoError(t, err)

	// 3 + 4 exceeds the 5 in stock; the merged line caps instead of failing.
	require.Len(t, merged.Items, 1)
	assert.Equal(t, 5, merged.Items[0].Quantity)

	guest, err := cartRepo.FindByOwner(context.Background(), model.CartOwner{SessionID: sessionID})
	require.NoError(t, err)
	assert.Nil(t, guest)
}

func TestCartService_Merge_NoUserCartAdoptsGuestCart(t *testing.T) {
	cartRepo := newMockCartRepo()
	productRepo := newMockProductRepo()
	pid := uuid.New()
	productRepo.products[pid] = &model.Product{ID: pid, Price: decimal.NewFromInt(10), Stock: 5, IsActive: true}

	svc := newCartService(cartRepo, productRepo)
	userID := uuid.New()
	sessionID := uuid.NewString()

	_, _, err := svc.AddItem(context.Background(), model.CartOwner{SessionID: sessionID}, pid, 2)
	require.NoError(t, err)

	merged, err := svc.Merge(context.Background(), userID, sessionID)
	require.NoError(t, err)
	require.NotNil(t, merged.UserID)
	assert.Equal(t, userID, *merged.UserID)
	require.Len(t, merged.Items, 1)
	assert.Equal(t, 2, merged.Items[0].Quantity)
}
