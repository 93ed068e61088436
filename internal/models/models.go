package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product categories. Toppings are priced with a single flat price;
// every other category carries an ordered size-price list.
const (
	CategoryMilkTea  = "milk_tea"
	CategoryFruitTea = "fruit_tea"
	CategoryBlended  = "blended"
	CategoryTopping  = "topping"
	CategoryCoffee   = "coffee"
	CategoryJuice    = "juice"
)

type SizePrice struct {
	Label string          `json:"label"`
	Price decimal.Decimal `json:"price"`
}

type Product struct {
	ID        int64            `json:"id"`
	SKU       string           `json:"sku"`
	Name      string           `json:"name"`
	Category  string           `json:"category"`
	Price     *decimal.Decimal `json:"price,omitempty"`
	Sizes     []SizePrice      `json:"sizes,omitempty"`
	Available bool             `json:"available"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
	Version   int              `json:"version"`
}

func (p *Product) IsTopping() bool {
	return p.Category == CategoryTopping
}

// PriceBreakdown is computed by the pricing engine at add-to-cart time and
// again at checkout time; the checkout-time result is what gets persisted
// into the order line.
type PriceBreakdown struct {
	OriginalBasePrice decimal.Decimal `json:"original_base_price"`
	FinalBasePrice    decimal.Decimal `json:"final_base_price"`
	ToppingTotal      decimal.Decimal `json:"topping_total"`
	FinalPrice        decimal.Decimal `json:"final_price"`
	IsDiscounted      bool            `json:"is_discounted"`
}

type Cart struct {
	ID        int64      `json:"id"`
	UserID    int64      `json:"user_id"`
	Items     []CartItem `json:"items,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

type CartItem struct {
	ID         int64     `json:"id"`
	CartID     int64     `json:"cart_id"`
	ProductID  int64     `json:"product_id"`
	SizeLabel  string    `json:"size_label,omitempty"`
	ToppingIDs []int64   `json:"topping_ids,omitempty"`
	SugarLevel string    `json:"sugar_level,omitempty"`
	IceLevel   string    `json:"ice_level,omitempty"`
	Quantity   int       `json:"quantity"`
	CreatedAt  time.Time `json:"created_at"`
}

type Order struct {
	ID          int64           `json:"id"`
	UserID      int64           `json:"user_id"`
	OrderNumber string          `json:"order_number"`
	Status      string          `json:"status"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	Version     int             `json:"version"`
	Items       []OrderItem     `json:"items,omitempty"`
}

type OrderItem struct {
	ID         int64           `json:"id"`
	OrderID    int64           `json:"order_id"`
	ProductID  int64           `json:"product_id"`
	SizeLabel  string          `json:"size_label,omitempty"`
	ToppingIDs []int64         `json:"topping_ids,omitempty"`
	SugarLevel string          `json:"sugar_level,omitempty"`
	IceLevel   string          `json:"ice_level,omitempty"`
	Quantity   int             `json:"quantity"`
	Pricing    PriceBreakdown  `json:"pricing"`
	LineTotal  decimal.Decimal `json:"line_total"`
	CreatedAt  time.Time       `json:"created_at"`
}

const (
	OrderStatusPending   = "pending"
	OrderStatusConfirmed = "confirmed"
	OrderStatusShipped   = "shipped"
	OrderStatusDelivered = "delivered"
	OrderStatusCancelled = "cancelled"
)

// Lock reasons for a user account.
const (
	LockReasonFailedLogin = "failed_login"
	LockReasonAdminAction = "admin_action"
	LockReasonSecurity    = "security"
)

type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	IsAdmin      bool      `json:"is_admin"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Version      int       `json:"version"`

	// Lockout state, mutated only by the auth flow and admin lock/unlock.
	// Locked with LockReasonFailedLogin implies LockUntil = LockedAt plus
	// the lock duration; an admin-imposed lock carries no LockUntil and
	// never expires on its own.
	LoginAttempts int        `json:"login_attempts"`
	Locked        bool       `json:"locked"`
	LockedReason  string     `json:"locked_reason,omitempty"`
	LockUntil     *time.Time `json:"lock_until,omitempty"`
	LockedAt      *time.Time `json:"locked_at,omitempty"`
	LockedBy      *int64     `json:"locked_by,omitempty"`
}
