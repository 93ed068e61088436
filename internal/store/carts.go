package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/anhtran/teashop/internal/database"
	"github.com/anhtran/teashop/internal/models"
)

// GetOrCreateCart returns the user's open cart, creating one on first use.
func GetOrCreateCart(ctx context.Context, db *sql.DB, userID int64) (*models.Cart, error) {
	cart := &models.Cart{}

	err := db.QueryRowContext(ctx,
		`INSERT INTO carts (user_id, created_at, updated_at)
		 VALUES ($1, NOW(), NOW())
		 ON CONFLICT (user_id) DO UPDATE SET updated_at = NOW()
		 RETURNING id, user_id, created_at, updated_at`,
		userID).Scan(
		&cart.ID,
		&cart.UserID,
		&cart.CreatedAt,
		&cart.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("get or create cart: %w", err)
	}

	return cart, nil
}

// AddCartItem appends one line to the cart. The size, sugar, and ice labels
// are stored as given; toppings are stored as an id array and resolved at
// quoting time.
func AddCartItem(ctx context.Context, db *sql.DB, cartID int64, item *models.CartItem) (*models.CartItem, error) {
	if item.Quantity < 1 {
		item.Quantity = 1
	}

	created := &models.CartItem{
		CartID:     cartID,
		ProductID:  item.ProductID,
		SizeLabel:  item.SizeLabel,
		ToppingIDs: item.ToppingIDs,
		SugarLevel: item.SugarLevel,
		IceLevel:   item.IceLevel,
		Quantity:   item.Quantity,
	}

	err := db.QueryRowContext(ctx,
		`INSERT INTO cart_items (cart_id, product_id, size_label, topping_ids, sugar_level, ice_level, quantity, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		 RETURNING id, created_at`,
		cartID, item.ProductID, item.SizeLabel, pq.Array(item.ToppingIDs),
		item.SugarLevel, item.IceLevel, item.Quantity).Scan(
		&created.ID,
		&created.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("add cart item: %w", err)
	}

	return created, nil
}

// GetCart loads the cart with its items.
func GetCart(ctx context.Context, db *sql.DB, userID int64) (*models.Cart, error) {
	cart := &models.Cart{}

	err := db.QueryRowContext(ctx,
		`SELECT id, user_id, created_at, updated_at FROM carts WHERE user_id = $1`,
		userID).Scan(
		&cart.ID,
		&cart.UserID,
		&cart.CreatedAt,
		&cart.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrCartNotFound
		}
		return nil, fmt.Errorf("get cart: %w", err)
	}

	items, err := listCartItems(ctx, db, cart.ID)
	if err != nil {
		return nil, err
	}
	cart.Items = items

	return cart, nil
}

func listCartItems(ctx context.Context, db *sql.DB, cartID int64) ([]models.CartItem, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, cart_id, product_id, size_label, topping_ids, sugar_level, ice_level, quantity, created_at
		 FROM cart_items
		 WHERE cart_id = $1
		 ORDER BY id`,
		cartID)
	if err != nil {
		return nil, fmt.Errorf("list cart items: %w", err)
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

func RemoveCartItem(ctx context.Context, db *sql.DB, cartID, itemID int64) error {
	result, err := db.ExecContext(ctx,
		`DELETE FROM cart_items WHERE id = $1 AND cart_id = $2`, itemID, cartID)
	if err != nil {
		return fmt.Errorf("remove cart item: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return database.ErrCartNotFound
	}
	return nil
}

func clearCart(ctx context.Context, tx *sql.Tx, cartID int64) error {
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM cart_items WHERE cart_id = $1`, cartID); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}
