package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/anhtran/teashop/internal/database"
	"github.com/anhtran/teashop/internal/models"
)

// CreateProduct inserts a product with its size-price list. Toppings carry a
// flat price and no sizes; everything else carries at least one size entry.
func CreateProduct(ctx context.Context, db *sql.DB, p *models.Product) (*models.Product, error) {
	created := &models.Product{
		SKU:      p.SKU,
		Name:     p.Name,
		Category: p.Category,
		Price:    p.Price,
		Sizes:    p.Sizes,
	}

	err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		var flat interface{}
		if p.Price != nil {
			flat = *p.Price
		}

		err := tx.QueryRowContext(ctx,
			`INSERT INTO products (sku, name, category, price, available, created_at, updated_at, version)
			 VALUES ($1, $2, $3, $4, TRUE, NOW(), NOW(), 1)
			 RETURNING id, available, created_at, updated_at, version`,
			p.SKU, p.Name, p.Category, flat).Scan(
			&created.ID,
			&created.Available,
			&created.CreatedAt,
			&created.UpdatedAt,
			&created.Version,
		)
		if err != nil {
			return fmt.Errorf("create product: %w", err)
		}

		for i, sp := range p.Sizes {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO product_sizes (product_id, label, price, position)
				 VALUES ($1, $2, $3, $4)`,
				created.ID, sp.Label, sp.Price, i)
			if err != nil {
				return fmt.Errorf("create product size %q: %w", sp.Label, err)
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return created, nil
}

func GetProduct(ctx context.Context, db *sql.DB, id int64) (*models.Product, error) {
	product := &models.Product{}
	var flat sql.NullString

	query := `
		SELECT id, sku, name, category, price, available, created_at, updated_at, version
		FROM products
		WHERE id = $1`

	err := db.QueryRowContext(ctx, query, id).Scan(
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
		if err == sql.ErrNoRows {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}

	if err := applyFlatPrice(product, flat); err != nil {
		return nil, err
	}

	if err := loadSizes(ctx, db, product); err != nil {
		return nil, err
	}

	return product, nil
}

// GetProducts loads several products at once, sizes included. Used to
// resolve topping selections before quoting. Returns ErrProductsNotFound if
// any requested id is missing.
func GetProducts(ctx context.Context, db *sql.DB, ids []int64) (map[int64]*models.Product, error) {
	if len(ids) == 0 {
		return map[int64]*models.Product{}, nil
	}

	rows, err := db.QueryContext(ctx,
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
		if err := loadSizes(ctx, db, product); err != nil {
			return nil, err
		}
	}

	return result, nil
}

func ListProducts(ctx context.Context, db *sql.DB, category string, page, pageSize int) (*OffsetPage, error) {
	var total int64
	var err error
	if category != "" {
		err = db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM products WHERE category = $1`, category).Scan(&total)
	} else {
		err = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products`).Scan(&total)
	}
	if err != nil {
		return nil, fmt.Errorf("count products: %w", err)
	}

	offset := (page - 1) * pageSize
	var rows *sql.Rows
	if category != "" {
		rows, err = db.QueryContext(ctx,
			`SELECT id, sku, name, category, price, available, created_at, updated_at, version
			 FROM products
			 WHERE category = $1
			 ORDER BY created_at DESC
			 LIMIT $2 OFFSET $3`,
			category, pageSize, offset)
	} else {
		rows, err = db.QueryContext(ctx,
			`SELECT id, sku, name, category, price, available, created_at, updated_at, version
			 FROM products
			 ORDER BY created_at DESC
			 LIMIT $1 OFFSET $2`,
			pageSize, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var products []models.Product
	for rows.Next() {
		var product models.Product
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
		if err := applyFlatPrice(&product, flat); err != nil {
			return nil, err
		}
		products = append(products, product)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	for i := range products {
		if err := loadSizes(ctx, db, &products[i]); err != nil {
			return nil, err
		}
	}

	totalPages := int(total) / pageSize
	if int(total)%pageSize > 0 {
		totalPages++
	}

	return &OffsetPage{
		Items:      products,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	}, nil
}

// SetProductAvailability flips a product on or off the menu with an
// optimistic version check.
func SetProductAvailability(ctx context.Context, db *sql.DB, productID int64, available bool, version int) error {
	result, err := db.ExecContext(ctx,
		`UPDATE products
		 SET available = $1, version = version + 1, updated_at = NOW()
		 WHERE id = $2 AND version = $3`,
		available, productID, version)
	if err != nil {
		return fmt.Errorf("update availability: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return database.ErrOptimisticLockFailed
	}

	return nil
}

func applyFlatPrice(p *models.Product, flat sql.NullString) error {
	if !flat.Valid {
		return nil
	}
	d, err := decimal.NewFromString(flat.String)
	if err != nil {
		return fmt.Errorf("parse flat price: %w", err)
	}
	p.Price = &d
	return nil
}

func loadSizes(ctx context.Context, db *sql.DB, p *models.Product) error {
	rows, err := db.QueryContext(ctx,
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
