package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stilldew/storefront-api/internal/model"
	"github.com/stilldew/storefront-api/internal/pricing"
	"github.com/stilldew/storefront-api/internal/repository"
)

var (
	ErrCartItemNotFound   = errors.New("cart item not found")
	ErrWrongCart          = errors.New("item does not belong to this cart")
	ErrProductUnavailable = errors.New("product is not available")
	ErrInvalidQuantity    = errors.New("quantity must be at least 1")
	ErrInvalidCartOwner   = errors.New("either user id or session id is required")
)

type CartService struct {
	cartRepo    repository.CartRepository
	productRepo repository.ProductRepository
	policy      pricing.Policy
	ttl         time.Duration
}

func NewCartService(cartRepo repository.CartRepository, productRepo repository.ProductRepository, policy pricing.Policy, ttl time.Duration) *CartService {
	return &CartService{cartRepo: cartRepo, productRepo: productRepo, policy: policy, ttl: ttl}
}

// Totals recomputes cart totals from line snapshots on every call. They are
// never cached on the cart itself.
func (s *CartService) Totals(cart *model.Cart) (pricing.Totals, error) {
	if cart == nil || len(cart.Items) == 0 {
		return pricing.Totals{}, nil
	}
	items := make([]pricing.LineItem, 0, len(cart.Items))
	for _, it := range cart.Items {
		items = append(items, pricing.LineItem{UnitPrice: it.UnitPrice, Quantity: it.Quantity})
	}
	return pricing.Compute(items, decimal.Zero, s.policy)
}

func (s *CartService) Get(ctx context.Context, owner model.CartOwner) (*model.Cart, pricing.Totals, error) {
	if !owner.Valid() {
		return nil, pricing.Totals{}, ErrInvalidCartOwner
	}
	cart, err := s.cartRepo.GetOrCreate(ctx, owner, s.ttl)
	if err != nil {
		return nil, pricing.Totals{}, fmt.Errorf("get or create cart: %w", err)
	}
	cart, err = s.cartRepo.GetWithItems(ctx, cart.ID)
	if err != nil {
		return nil, pricing.Totals{}, fmt.Errorf("get cart items: %w", err)
	}
	totals, err := s.Totals(cart)
	if err != nil {
		return nil, pricing.Totals{}, fmt.Errorf("compute totals: %w", err)
	}
	return cart, totals, nil
}

func (s *CartService) AddItem(ctx context.Context, owner model.CartOwner, productID uuid.UUID, quantity int) (*model.Cart, pricing.Totals, error) {
	if !owner.Valid() {
		return nil, pricing.Totals{}, ErrInvalidCartOwner
	}
	if quantity < 1 {
		return nil, pricing.Totals{}, ErrInvalidQuantity
	}

	product, err := s.productRepo.GetByID(ctx, productID)
	if err != nil {
		return nil, pricing.Totals{}, fmt.Errorf("get product: %w", err)
	}
	if product == nil {
		return nil, pricing.Totals{}, ErrProductNotFound
	}
	if !product.IsActive {
		return nil, pricing.Totals{}, ErrProductUnavailable
	}

	cart, err := s.cartRepo.GetOrCreate(ctx, owner, s.ttl)
	if err != nil {
		return nil, pricing.Totals{}, fmt.Errorf("get or create cart: %w", err)
	}

	// Re-validate against the existing line: adding the same product again
	// increments that line, so the stock check covers the summed quantity.
	withItems, err := s.cartRepo.GetWithItems(ctx, cart.ID)
	if err != nil {
		return nil, pricing.Totals{}, fmt.Errorf("get cart items: %w", err)
	}
	requested := quantity
	for _, it := range withItems.Items {
		if it.ProductID == productID {
			requested += it.Quantity
			break
		}
	}
	if product.Stock < requested {
		return nil, pricing.Totals{}, repository.ErrInsufficientStock
	}

	if err := s.cartRepo.AddItem(ctx, &model.CartItem{
		CartID:    cart.ID,
		ProductID: productID,
		Quantity:  quantity,
		UnitPrice: product.Price,
	}); err != nil {
		return nil, pricing.Totals{}, fmt.Errorf("add cart item: %w", err)
	}

	return s.reload(ctx, cart.ID)
}

func (s *CartService) UpdateItem(ctx context.Context, owner model.CartOwner, itemID uuid.UUID, quantity int) (*model.Cart, pricing.Totals, error) {
	if quantity < 1 {
		return nil, pricing.Totals{}, ErrInvalidQuantity
	}

	cart, item, err := s.ownedItem(ctx, owner, itemID)
	if err != nil {
		return nil, pricing.Totals{}, err
	}

	product, err := s.productRepo.GetByID(ctx, item.ProductID)
	if err != nil {
		return nil, pricing.Totals{}, fmt.Errorf("get product: %w", err)
	}
	if product == nil || !product.IsActive {
		return nil, pricing.Totals{}, ErrProductUnavailable
	}
	if product.Stock < quantity {
		return nil, pricing.Totals{}, repository.ErrInsufficientStock
	}

	if err := s.cartRepo.UpdateItemQuantity(ctx, itemID, quantity); err != nil {
		return nil, pricing.Totals{}, fmt.Errorf("update cart item: %w", err)
	}
	return s.reload(ctx, cart.ID)
}

func (s *CartService) RemoveItem(ctx context.Context, owner model.CartOwner, itemID uuid.UUID) (*model.Cart, pricing.Totals, error) {
	cart, _, err := s.ownedItem(ctx, owner, itemID)
	if err != nil {
		return nil, pricing.Totals{}, err
	}
	if err := s.cartRepo.DeleteItem(ctx, itemID); err != nil {
		return nil, pricing.Totals{}, fmt.Errorf("delete cart item: %w", err)
	}
	return s.reload(ctx, cart.ID)
}

// Clear empties the owner's cart. Clearing a missing or already-empty cart is
// a successful no-op.
func (s *CartService) Clear(ctx context.Context, owner model.CartOwner) error {
	if !owner.Valid() {
		return ErrInvalidCartOwner
	}
	cart, err := s.cartRepo.FindByOwner(ctx, owner)
	if err != nil {
		return fmt.Errorf("find cart: %w", err)
	}
	if cart == nil {
		return nil
	}
	if err := s.cartRepo.Clear(ctx, cart.ID); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}

// Merge folds a guest session cart into the user's cart on login. Overlapping
// product quantities sum, capped at current stock; excess is dropped rather
// than failing the merge. The guest cart is consumed on success.
func (s *CartService) Merge(ctx context.Context, userID uuid.UUID, sessionID string) (*model.Cart, error) {
	if sessionID == "" {
		return nil, ErrInvalidCartOwner
	}

	guest, err := s.cartRepo.FindByOwner(ctx, model.CartOwner{SessionID: sessionID})
	if err != nil {
		return nil, fmt.Errorf("find guest cart: %w", err)
	}
	userOwner := model.CartOwner{UserID: &userID}
	if guest == nil {
		return s.cartRepo.GetOrCreate(ctx, userOwner, s.ttl)
	}

	userCart, err := s.cartRepo.FindByOwner(ctx, userOwner)
	if err != nil {
		return nil, fmt.Errorf("find user cart: %w", err)
	}
	if userCart == nil {
		if err := s.cartRepo.AttachToUser(ctx, guest.ID, userID); err != nil {
			return nil, fmt.Errorf("attach guest cart: %w", err)
		}
		return s.cartRepo.GetWithItems(ctx, guest.ID)
	}

	guest, err = s.cartRepo.GetWithItems(ctx, guest.ID)
	if err != nil {
		return nil, fmt.Errorf("get guest cart items: %w", err)
	}
	userCart, err = s.cartRepo.GetWithItems(ctx, userCart.ID)
	if err != nil {
		return nil, fmt.Errorf("get user cart items: %w", err)
	}

	existing := make(map[uuid.UUID]model.CartItem, len(userCart.Items))
	for _, it := range userCart.Items {
		existing[it.ProductID] = it
	}

	for _, guestItem := range guest.Items {
		product, err := s.productRepo.GetByID(ctx, guestItem.ProductID)
		if err != nil {
			return nil, fmt.Errorf("get product: %w", err)
		}
		if product == nil || !product.IsActive || product.Stock == 0 {
			continue
		}

		if userItem, ok := existing[guestItem.ProductID]; ok {
			merged := userItem.Quantity + guestItem.Quantity
			if merged > product.Stock {
				merged = product.Stock
			}
			if merged != userItem.Quantity {
				if err := s.cartRepo.UpdateItemQuantity(ctx, userItem.ID, merged); err != nil {
					return nil, fmt.Errorf("merge cart item: %w", err)
				}
			}
			continue
		}

		quantity := guestItem.Quantity
		if quantity > product.Stock {
			quantity = product.Stock
		}
		if err := s.cartRepo.AddItem(ctx, &model.CartItem{
			CartID:    userCart.ID,
			ProductID: guestItem.ProductID,
			Quantity:  quantity,
			UnitPrice: guestItem.UnitPrice,
		}); err != nil {
			return nil, fmt.Errorf("move cart item: %w", err)
		}
	}

	if err := s.cartRepo.Delete(ctx, guest.ID); err != nil {
		return nil, fmt.Errorf("delete guest cart: %w", err)
	}
	return s.cartRepo.GetWithItems(ctx, userCart.ID)
}

func (s *CartService) ownedItem(ctx context.Context, owner model.CartOwner, itemID uuid.UUID) (*model.Cart, *model.CartItem, error) {
	if !owner.Valid() {
		return nil, nil, ErrInvalidCartOwner
	}
	cart, err := s.cartRepo.FindByOwner(ctx, owner)
	if err != nil {
		return nil, nil, fmt.Errorf("find cart: %w", err)
	}
	if cart == nil {
		return nil, nil, ErrCartItemNotFound
	}
	item, err := s.cartRepo.GetItem(ctx, itemID)
	if err != nil {
		return nil, nil, fmt.Errorf("get cart item: %w", err)
	}
	if item == nil {
		return nil, nil, ErrCartItemNotFound
	}
	if item.CartID != cart.ID {
		return nil, nil, ErrWrongCart
	}
	return cart, item, nil
}

func (s *CartService) reload(ctx context.Context, cartID uuid.UUID) (*model.Cart, pricing.Totals, error) {
	cart, err := s.cartRepo.GetWithItems(ctx, cartID)
	if err != nil {
		return nil, pricing.Totals{}, fmt.Errorf("reload cart: %w", err)
	}
	totals, err := s.Totals(cart)
	if err != nil {
		return nil, pricing.Totals{}, fmt.Errorf("compute totals: %w", err)
	}
	return cart, totals, nil
}
