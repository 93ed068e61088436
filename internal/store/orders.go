package store

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/anhtran/teashop/internal/database"
	"github.com/anhtran/teashop/internal/models"
	"github.com/anhtran/teashop/internal/pricing"
)

func generateOrderNumber() string {
	return "ORD-" + uuid.NewString()
}

// Checkout converts the user's cart into an order inside one serializable
// transaction. Every line is re-priced with the engine's checkout-time
// clock: whatever was quoted at add-to-cart time is provisional, since a
// promotion window may have opened or closed since then. Lines referencing
// a product or topping taken off sale fail the whole checkout with
// ErrProductUnavailable.
func Checkout(ctx context.Context, db *sql.DB, engine *pricing.Engine, userID int64) (*models.Order, error) {
	var order *models.Order

	err := database.WithRetry(ctx, db, database.TxOptions{
		IsolationLevel: sql.LevelSerializable,
		MaxRetries:     3,
	}, func(tx *sql.Tx) error {
		var cartID int64
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM carts WHERE user_id = $1`, userID).Scan(&cartID)
		if err != nil {
			if err == sql.ErrNoRows {
				return database.ErrCartNotFound
			}
			return fmt.Errorf("find cart: %w", err)
		}

		items, err := lockCartItems(ctx, tx, cartID)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return database.ErrEmptyCart
		}

		// Resolve every product and topping referenced by the cart.
		idSet := map[int64]struct{}{}
		for _, item := range items {
			idSet[item.ProductID] = struct{}{}
			for _, tid := range item.ToppingIDs {
				idSet[tid] = struct{}{}
			}
		}
		ids := make([]int64, 0, len(idSet))
		for id := range idSet {
			ids = append(ids, id)
		}
		products, err := getProductsTx(ctx, tx, ids)
		if err != nil {
			return err
		}

		totalAmount := decimal.Zero
		type pricedLine struct {
			item      models.CartItem
			breakdown models.PriceBreakdown
			lineTotal decimal.Decimal
		}
		var lines []pricedLine

		for _, item := range items {
			product, ok := products[item.ProductID]
			if !ok {
				return database.ErrProductNotFound
			}
			if !product.Available {
				return fmt.Errorf("%q: %w", product.Name, database.ErrProductUnavailable)
			}
			toppings := make([]*models.Product, 0, len(item.ToppingIDs))
			for _, tid := range item.ToppingIDs {
				t, ok := products[tid]
				if !ok {
					return database.ErrProductsNotFound
				}
				if !t.Available {
					return fmt.Errorf("%q: %w", t.Name, database.ErrProductUnavailable)
				}
				toppings = append(toppings, t)
			}

			breakdown := engine.Quote(product, pricing.Selection{
				SizeLabel:  item.SizeLabel,
				Toppings:   toppings,
				SugarLevel: item.SugarLevel,
				IceLevel:   item.IceLevel,
				Quantity:   item.Quantity,
			})

			lineTotal := breakdown.FinalPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
			totalAmount = totalAmount.Add(lineTotal)
			lines = append(lines, pricedLine{item: item, breakdown: breakdown, lineTotal: lineTotal})
		}

		orderNumber := generateOrderNumber()
		var orderID int64
		err = tx.QueryRowContext(ctx,
			`INSERT INTO orders (user_id, order_number, status, total_amount, created_at, updated_at, version)
			 VALUES ($1, $2, $3, $4, NOW(), NOW(), 1)
			 RETURNING id`,
			userID, orderNumber, models.OrderStatusPending, totalAmount).Scan(&orderID)
		if err != nil {
			return fmt.Errorf("create order: %w", err)
		}

		for _, line := range lines {
			_, err = tx.ExecContext(ctx,
				`INSERT INTO order_items
				   (order_id, product_id, size_label, topping_ids, sugar_level, ice_level, quantity,
				    original_base_price, final_base_price, topping_total, final_price, is_discounted,
				    line_total, created_at)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW())`,
				orderID, line.item.ProductID, line.item.SizeLabel, pq.Array(line.item.ToppingIDs),
				line.item.SugarLevel, line.item.IceLevel, line.item.Quantity,
				line.breakdown.OriginalBasePrice, line.breakdown.FinalBasePrice,
				line.breakdown.ToppingTotal, line.breakdown.FinalPrice, line.breakdown.IsDiscounted,
				line.lineTotal)
			if err != nil {
				return fmt.Errorf("create order item: %w", err)
			}
		}

		if err := clearCart(ctx, tx, cartID); err != nil {
			return err
		}

		order = &models.Order{ID: orderID}
		err = tx.QueryRowContext(ctx,
			`SELECT order_number, user_id, status, total_amount, created_at, updated_at, version
			 FROM orders WHERE id = $1`,
			orderID).Scan(
			&order.OrderNumber,
			&order.UserID,
			&order.Status,
			&order.TotalAmount,
			&order.CreatedAt,
			&order.UpdatedAt,
			&order.Version,
		)
		if err != nil {
			return fmt.Errorf("fetch created order: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return order, nil
}

func lockCartItems(ctx context.Context, tx *sql.Tx, cartID int64) ([]models.CartItem, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT id, cart_id, product_id, size_label, topping_ids, sugar_level, ice_level, quantity, created_at
		 FROM cart_items
		 WHERE cart_id = $1
		 ORDER BY id
		 FOR UPDATE`,
		cartID)
	if err != nil {
		return nil, fmt.Errorf("lock cart items: %w", err)
	}
	defer rows.Close()

	var items []models.CartItem
	for rows.Next() {
		var item models.CartItem
		err := rows.Scan(
			&item.ID,
			&item.CartID,
			&item.ProductID,
			&item.SizeLabel,
			pq.Array(&item.ToppingIDs),
			&item.SugarLevel,
			&item.IceLevel,
			&item.Quantity,
			&item.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan cart item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

func getProductsTx(ctx context.Context, tx *sql.Tx, ids []int64) (map[int64]*models.Product, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT id, sku, name, category, price, available, created_at, updated_at, version
		 FROM products
		 WHERE id = ANY($1)`,
		pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("get products: %w", err)
	}
	defer rows.Close()

	result := make(map[int64]*models.Product, len(ids))
	for rows.Next() {
		product := &models.Product{}
		var flat sql.NullString
		err := rows.Scan(
			&product.ID,
			&product.SKU,
			&product.Name,
			&product.Category,
			&flat,
			&product.Available,
			&product.CreatedAt,
			&product.UpdatedAt,
			&product.Version,
		)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		if err := applyFlatPrice(product, flat); err != nil {
			return nil, err
		}
		result[product.ID] = product
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	for _, id := range ids {
		if _, ok := result[id]; !ok {
			return nil, database.ErrProductsNotFound
		}
	}

	for _, product := range result {
		if err := loadSizesTx(ctx, tx, product); err != nil {
			return nil, err
		}
	}

	return result, nil
}

func loadSizesTx(ctx context.Context, tx *sql.Tx, p *models.Product) error {
	rows, err := tx.QueryContext(ctx,
		`SELECT label, price
		 FROM product_sizes
		 WHERE product_id = $1
		 ORDER BY position`,
		p.ID)
	if err != nil {
		return fmt.Errorf("load sizes: %w", err)
	}
	defer rows.Close()

	var sizes []models.SizePrice
	for rows.Next() {
		var sp models.SizePrice
		if err := rows.Scan(&sp.Label, &sp.Price); err != nil {
			return fmt.Errorf("scan size: %w", err)
		}
		sizes = append(sizes, sp)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows error: %w", err)
	}

	p.Sizes = sizes
	return nil
}

func GetOrder(ctx context.Context, db *sql.DB, id int64) (*models.Order, error) {
	order := &models.Order{}

	query := `
		SELECT id, user_id, order_number, status, total_amount, created_at, updated_at, version
		FROM orders
		WHERE id = $1`

	err := db.QueryRowContext(ctx, query, id).Scan(
		&order.ID,
		&order.UserID,
		&order.OrderNumber,
		&order.Status,
		&order.TotalAmount,
		&order.CreatedAt,
		&order.UpdatedAt,
		&order.Version,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	itemsQuery := `
		SELECT id, order_id, product_id, size_label, topping_ids, sugar_level, ice_level, quantity,
		       original_base_price, final_base_price, topping_total, final_price, is_discounted,
		       line_total, created_at
		FROM order_items
		WHERE order_id = $1
		ORDER BY id`

	rows, err := db.QueryContext(ctx, itemsQuery, id)
	if err != nil {
		return nil, fmt.Errorf("get order items: %w", err)
	}
	defer rows.Close()

	var items []models.OrderItem
	for rows.Next() {
		var item models.OrderItem
		err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.SizeLabel,
			pq.Array(&item.ToppingIDs),
			&item.SugarLevel,
			&item.IceLevel,
			&item.Quantity,
			&item.Pricing.OriginalBasePrice,
			&item.Pricing.FinalBasePrice,
			&item.Pricing.ToppingTotal,
			&item.Pricing.FinalPrice,
			&item.Pricing.IsDiscounted,
			&item.LineTotal,
			&item.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	order.Items = items

	return order, nil
}

// orderCursor is the keyset position for order history paging. It rides in
// the API as an opaque base64 token; (created_at, id) matches the composite
// sort key of the history query.
type orderCursor struct {
	CreatedAt time.Time `json:"created_at"`
	ID        int64     `json:"id"`
}

func encodeOrderCursor(cursor orderCursor) string {
	data, err := json.Marshal(cursor)
	if err != nil {
		return ""
	}
	return base64.URLEncoding.EncodeToString(data)
}

// decodeOrderCursor parses a client-supplied cursor token. An empty token
// means the first page, which starts just past any possible row.
func decodeOrderCursor(encoded string) (orderCursor, error) {
	var cursor orderCursor
	if encoded == "" {
		return orderCursor{
			CreatedAt: time.Now(),
			ID:        math.MaxInt64,
		}, nil
	}

	data, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return cursor, err
	}

	err = json.Unmarshal(data, &cursor)
	return cursor, err
}

// ListOrdersCursor pages through a user's order history newest-first using
// a keyset cursor.
func ListOrdersCursor(ctx context.Context, db *sql.DB, userID int64, cursor string, limit int) (*CursorPage, error) {
	cursorData, err := decodeOrderCursor(cursor)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}

	query := `
		SELECT id, order_number, status, total_amount, created_at, updated_at, version
		FROM orders
		WHERE user_id = $1
		  AND (created_at, id) < ($2, $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4`

	rows, err := db.QueryContext(ctx, query, userID, cursorData.CreatedAt, cursorData.ID, limit+1)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		var order models.Order
		err := rows.Scan(
			&order.ID,
			&order.OrderNumber,
			&order.Status,
			&order.TotalAmount,
			&order.CreatedAt,
			&order.UpdatedAt,
			&order.Version,
		)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	hasMore := len(orders) > limit
	if hasMore {
		orders = orders[:limit]
	}

	var nextCursor string
	if hasMore && len(orders) > 0 {
		lastOrder := orders[len(orders)-1]
		nextCursor = encodeOrderCursor(orderCursor{
			CreatedAt: lastOrder.CreatedAt,
			ID:        lastOrder.ID,
		})
	}

	return &CursorPage{
		Items:      orders,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}
