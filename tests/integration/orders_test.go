package integration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/anhtran/teashop/internal/auth"
	"github.com/anhtran/teashop/internal/database"
	"github.com/anhtran/teashop/internal/models"
	"github.com/anhtran/teashop/internal/pricing"
	"github.com/anhtran/teashop/internal/store"
)

func TestCheckoutRepricesCart(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	hash, err := auth.HashPassword("pw", 4)
	if err != nil {
		t.Fatalf("Hash password: %v", err)
	}
	user, err := store.CreateUser(ctx, db, "an@example.com", "An", hash, false)
	if err != nil {
		t.Fatalf("Create user: %v", err)
	}

	milkTea, err := store.CreateProduct(ctx, db, &models.Product{
		SKU:      "MT-001",
		Name:     "Trà sữa trân châu",
		Category: models.CategoryMilkTea,
		Sizes: []models.SizePrice{
			{Label: "M", Price: decimal.NewFromInt(35000)},
			{Label: "L", Price: decimal.NewFromInt(42000)},
		},
	})
	if err != nil {
		t.Fatalf("Create product: %v", err)
	}

	pearlPrice := decimal.NewFromInt(5000)
	pearl, err := store.CreateProduct(ctx, db, &models.Product{
		SKU:      "TP-001",
		Name:     "Trân châu đen",
		Category: models.CategoryTopping,
		Price:    &pearlPrice,
	})
	if err != nil {
		t.Fatalf("Create topping: %v", err)
	}

	cart, err := store.GetOrCreateCart(ctx, db, user.ID)
	if err != nil {
		t.Fatalf("Get or create cart: %v", err)
	}

	_, err = store.AddCartItem(ctx, db, cart.ID, &models.CartItem{
		ProductID:  milkTea.ID,
		SizeLabel:  "M",
		ToppingIDs: []int64{pearl.ID},
		SugarLevel: "70%",
		IceLevel:   "50%",
		Quantity:   2,
	})
	if err != nil {
		t.Fatalf("Add cart item: %v", err)
	}

	// Checkout clock pinned to a Saturday: the weekend milk tea rule
	// overrides the 35000 size price with a flat 20000.
	saturday := time.Date(2025, 1, 11, 10, 0, 0, 0, time.UTC)
	engine := pricing.NewEngine(pricing.WithClock(func() time.Time { return saturday }))

	order, err := store.Checkout(ctx, db, engine, user.ID)
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	// Unit price 20000 + 5000 topping, quantity 2.
	if !order.TotalAmount.Equal(decimal.NewFromInt(50000)) {
		t.Errorf("Expected total 50000, got %s", order.TotalAmount)
	}

	full, err := store.GetOrder(ctx, db, order.ID)
	if err != nil {
		t.Fatalf("Get order: %v", err)
	}
	if len(full.Items) != 1 {
		t.Fatalf("Expected 1 order item, got %d", len(full.Items))
	}

	item := full.Items[0]
	if !item.Pricing.OriginalBasePrice.Equal(decimal.NewFromInt(35000)) {
		t.Errorf("Expected original base 35000, got %s", item.Pricing.OriginalBasePrice)
	}
	if !item.Pricing.FinalBasePrice.Equal(decimal.NewFromInt(20000)) {
		t.Errorf("Expected final base 20000, got %s", item.Pricing.FinalBasePrice)
	}
	if !item.Pricing.ToppingTotal.Equal(decimal.NewFromInt(5000)) {
		t.Errorf("Expected topping total 5000, got %s", item.Pricing.ToppingTotal)
	}
	if !item.Pricing.FinalPrice.Equal(decimal.NewFromInt(25000)) {
		t.Errorf("Expected final price 25000, got %s", item.Pricing.FinalPrice)
	}
	if !item.Pricing.IsDiscounted {
		t.Error("Expected the weekend rule to mark the item discounted")
	}
	if item.SugarLevel != "70%" || item.IceLevel != "50%" {
		t.Errorf("Expected sugar/ice labels to persist, got %q/%q", item.SugarLevel, item.IceLevel)
	}

	// The cart is emptied by checkout.
	emptied, err := store.GetCart(ctx, db, user.ID)
	if err != nil {
		t.Fatalf("Get cart: %v", err)
	}
	if len(emptied.Items) != 0 {
		t.Errorf("Expected empty cart after checkout, got %d items", len(emptied.Items))
	}

	// A second checkout has nothing to buy.
	if _, err := store.Checkout(ctx, db, engine, user.ID); err == nil {
		t.Error("Expected checkout of an empty cart to fail")
	}
}

func TestCheckoutQuietHourKeepsBasePrice(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	hash, err := auth.HashPassword("pw", 4)
	if err != nil {
		t.Fatalf("Hash password: %v", err)
	}
	user, err := store.CreateUser(ctx, db, "binh@example.com", "Bình", hash, false)
	if err != nil {
		t.Fatalf("Create user: %v", err)
	}

	milkTea, err := store.CreateProduct(ctx, db, &models.Product{
		SKU:      "MT-002",
		Name:     "Trà sữa matcha",
		Category: models.CategoryMilkTea,
		Sizes: []models.SizePrice{
			{Label: "M", Price: decimal.NewFromInt(35000)},
		},
	})
	if err != nil {
		t.Fatalf("Create product: %v", err)
	}

	cart, err := store.GetOrCreateCart(ctx, db, user.ID)
	if err != nil {
		t.Fatalf("Get or create cart: %v", err)
	}
	if _, err := store.AddCartItem(ctx, db, cart.ID, &models.CartItem{
		ProductID: milkTea.ID,
		SizeLabel: "M",
		Quantity:  1,
	}); err != nil {
		t.Fatalf("Add cart item: %v", err)
	}

	// Wednesday noon: no promotion fires.
	wednesday := time.Date(2025, 1, 8, 12, 0, 0, 0, time.UTC)
	engine := pricing.NewEngine(pricing.WithClock(func() time.Time { return wednesday }))

	order, err := store.Checkout(ctx, db, engine, user.ID)
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if !order.TotalAmount.Equal(decimal.NewFromInt(35000)) {
		t.Errorf("Expected total 35000, got %s", order.TotalAmount)
	}

	full, err := store.GetOrder(ctx, db, order.ID)
	if err != nil {
		t.Fatalf("Get order: %v", err)
	}
	if full.Items[0].Pricing.IsDiscounted {
		t.Error("Expected no discount at Wednesday noon")
	}
}

func TestCheckoutRejectsUnavailableProduct(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	hash, err := auth.HashPassword("pw", 4)
	if err != nil {
		t.Fatalf("Hash password: %v", err)
	}
	user, err := store.CreateUser(ctx, db, "chi@example.com", "Chi", hash, false)
	if err != nil {
		t.Fatalf("Create user: %v", err)
	}

	blended, err := store.CreateProduct(ctx, db, &models.Product{
		SKU:      "BL-001",
		Name:     "Matcha đá xay",
		Category: models.CategoryBlended,
		Sizes: []models.SizePrice{
			{Label: "M", Price: decimal.NewFromInt(45000)},
		},
	})
	if err != nil {
		t.Fatalf("Create product: %v", err)
	}

	cart, err := store.GetOrCreateCart(ctx, db, user.ID)
	if err != nil {
		t.Fatalf("Get or create cart: %v", err)
	}
	if _, err := store.AddCartItem(ctx, db, cart.ID, &models.CartItem{
		ProductID: blended.ID,
		SizeLabel: "M",
		Quantity:  1,
	}); err != nil {
		t.Fatalf("Add cart item: %v", err)
	}

	// The product sells out between add-to-cart and checkout.
	if err := store.SetProductAvailability(ctx, db, blended.ID, false, blended.Version); err != nil {
		t.Fatalf("Set product availability: %v", err)
	}

	engine := pricing.NewEngine()
	_, err = store.Checkout(ctx, db, engine, user.ID)
	if !errors.Is(err, database.ErrProductUnavailable) {
		t.Fatalf("Expected ErrProductUnavailable, got %v", err)
	}

	// The cart survives the failed checkout so the customer can fix it.
	kept, err := store.GetCart(ctx, db, user.ID)
	if err != nil {
		t.Fatalf("Get cart: %v", err)
	}
	if len(kept.Items) != 1 {
		t.Errorf("Expected the cart to keep its item, got %d items", len(kept.Items))
	}

	// Restocking makes the same cart good again.
	if err := store.SetProductAvailability(ctx, db, blended.ID, true, blended.Version+1); err != nil {
		t.Fatalf("Restore product availability: %v", err)
	}
	order, err := store.Checkout(ctx, db, engine, user.ID)
	if err != nil {
		t.Fatalf("Checkout after restock: %v", err)
	}
	if !order.TotalAmount.Equal(decimal.NewFromInt(45000)) {
		t.Errorf("Expected total 45000, got %s", order.TotalAmount)
	}
}

func TestOrderHistoryCursorPagination(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	hash, err := auth.HashPassword("pw", 4)
	if err != nil {
		t.Fatalf("Hash password: %v", err)
	}
	user, err := store.CreateUser(ctx, db, "an@example.com", "An", hash, false)
	if err != nil {
		t.Fatalf("Create user: %v", err)
	}

	juice, err := store.CreateProduct(ctx, db, &models.Product{
		SKU:      "JC-001",
		Name:     "Nước ép cam",
		Category: models.CategoryJuice,
		Sizes: []models.SizePrice{
			{Label: "M", Price: decimal.NewFromInt(30000)},
		},
	})
	if err != nil {
		t.Fatalf("Create product: %v", err)
	}

	engine := pricing.NewEngine()
	for i := 0; i < 5; i++ {
		cart, err := store.GetOrCreateCart(ctx, db, user.ID)
		if err != nil {
			t.Fatalf("Get or create cart: %v", err)
		}
		if _, err := store.AddCartItem(ctx, db, cart.ID, &models.CartItem{
			ProductID: juice.ID,
			SizeLabel: "M",
			Quantity:  1,
		}); err != nil {
			t.Fatalf("Add cart item: %v", err)
		}
		if _, err := store.Checkout(ctx, db, engine, user.ID); err != nil {
			t.Fatalf("Checkout %d: %v", i+1, err)
		}
	}

	page, err := store.ListOrdersCursor(ctx, db, user.ID, "", 2)
	if err != nil {
		t.Fatalf("List orders: %v", err)
	}
	if !page.HasMore {
		t.Error("Expected more pages")
	}
	if page.NextCursor == "" {
		t.Fatal("Expected a next cursor")
	}

	seen := 2
	cursor := page.NextCursor
	for cursor != "" {
		page, err = store.ListOrdersCursor(ctx, db, user.ID, cursor, 2)
		if err != nil {
			t.Fatalf("List orders (cursor): %v", err)
		}
		items, ok := page.Items.([]models.Order)
		if !ok {
			t.Fatalf("Unexpected items type %T", page.Items)
		}
		seen += len(items)
		cursor = page.NextCursor
	}
	if seen != 5 {
		t.Errorf("Expected to page through 5 orders, saw %d", seen)
	}
}
