package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/anhtran/teashop/internal/auth"
	"github.com/anhtran/teashop/internal/config"
	"github.com/anhtran/teashop/internal/database"
	"github.com/anhtran/teashop/internal/models"
	"github.com/anhtran/teashop/internal/pricing"
	"github.com/anhtran/teashop/internal/ratelimit"
	"github.com/anhtran/teashop/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Load config: %v", err)
	}

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		log.Fatalf("Connect to database: %v", err)
	}
	defer db.Close()

	log.Printf("Connected to database successfully")

	var limiter ratelimit.Store
	if cfg.RateLimit.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RateLimit.RedisURL)
		if err != nil {
			log.Fatalf("Parse redis URL: %v", err)
		}
		limiter = ratelimit.NewRedisStore(redis.NewClient(opts), cfg.RateLimit.MaxAttempts, cfg.RateLimit.Window)
		log.Printf("Login rate limiter backed by redis")
	} else {
		limiter = ratelimit.NewMemoryStore(cfg.RateLimit.MaxAttempts, cfg.RateLimit.Window)
	}

	engine := pricing.NewEngine()
	guard := auth.NewGuard(cfg.Auth.LockoutThreshold, cfg.Auth.LockoutDuration)
	sessions := auth.NewSessionManager(cfg.Auth.JWTSecret, cfg.Auth.SessionTTL)
	authenticator := auth.NewAuthenticator(&store.AccountDB{DB: db}, limiter, guard, sessions)

	app := &application{
		db:            db,
		cfg:           cfg,
		engine:        engine,
		sessions:      sessions,
		authenticator: authenticator,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/register", app.handleRegister)
	mux.HandleFunc("/login", app.handleLogin)
	mux.HandleFunc("/products", app.handleProducts)
	mux.HandleFunc("/products/", app.handleProductByID)
	mux.HandleFunc("/cart", app.requireUser(app.handleCart))
	mux.HandleFunc("/cart/items/", app.requireUser(app.handleCartItem))
	mux.HandleFunc("/checkout", app.requireUser(app.handleCheckout))
	mux.HandleFunc("/orders", app.requireUser(app.handleOrders))
	mux.HandleFunc("/orders/", app.requireUser(app.handleOrderByID))
	mux.HandleFunc("/admin/users/", app.requireAdmin(app.handleAdminUser))

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	log.Printf("Server starting on port %s", cfg.Server.Port)
	if err := server.ListenAndServe(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

type application struct {
	db            *sql.DB
	cfg           *config.Config
	engine        *pricing.Engine
	sessions      *auth.SessionManager
	authenticator *auth.Authenticator
}

type contextKey string

const claimsKey contextKey = "session_claims"

func (app *application) requireUser(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := app.sessionClaims(r)
		if !ok {
			respondError(w, http.StatusUnauthorized, "Authentication required")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
	}
}

func (app *application) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := app.sessionClaims(r)
		if !ok {
			respondError(w, http.StatusUnauthorized, "Authentication required")
			return
		}
		if !claims.IsAdmin {
			respondError(w, http.StatusForbidden, "Admin access required")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
	}
}

func (app *application) sessionClaims(r *http.Request) (*auth.SessionClaims, bool) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return nil, false
	}
	claims, err := app.sessions.Verify(strings.TrimPrefix(header, "Bearer "))
	if err != nil {
		return nil, false
	}
	return claims, true
}

func sessionUserID(r *http.Request) int64 {
	claims, _ := r.Context().Value(claimsKey).(*auth.SessionClaims)
	if claims == nil {
		return 0
	}
	id, _ := claims.UserID()
	return id
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (app *application) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req struct {
		Email    string `json:"email"`
		Name     string `json:"name"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	hash, err := auth.HashPassword(req.Password, app.cfg.Auth.BcryptCost)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	user, err := store.CreateUser(r.Context(), app.db, req.Email, req.Name, hash, false)
	if err != nil {
		if errors.Is(err, database.ErrDuplicateEmail) {
			respondError(w, http.StatusConflict, "Email already registered")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusCreated, user)
}

func (app *application) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := app.authenticator.Login(r.Context(), clientIP(r), req.Email, req.Password)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	switch result.Status {
	case auth.LoginRateLimited:
		w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfterSec))
		respondJSON(w, http.StatusTooManyRequests, map[string]interface{}{
			"error":           result.Message,
			"retry_after_sec": result.RetryAfterSec,
		})
	case auth.LoginDenied:
		body := map[string]interface{}{"error": result.Message}
		if result.AttemptsLeft > 0 {
			body["attempts_left"] = result.AttemptsLeft
		}
		respondJSON(w, http.StatusUnauthorized, body)
	case auth.LoginLockedOut:
		respondJSON(w, http.StatusForbidden, map[string]string{"error": result.Message})
	case auth.LoginOK:
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"token": result.Token,
			"user":  result.User,
		})
	}
}

func (app *application) handleProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	switch r.Method {
	case http.MethodPost:
		claims, ok := app.sessionClaims(r)
		if !ok || !claims.IsAdmin {
			respondError(w, http.StatusForbidden, "Admin access required")
			return
		}

		var req struct {
			SKU      string  `json:"sku"`
			Name     string  `json:"name"`
			Category string  `json:"category"`
			Price    *string `json:"price,omitempty"`
			Sizes    []struct {
				Label string `json:"label"`
				Price string `json:"price"`
			} `json:"sizes,omitempty"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		product := &models.Product{
			SKU:      req.SKU,
			Name:     req.Name,
			Category: req.Category,
		}
		if req.Price != nil {
			price, err := decimal.NewFromString(*req.Price)
			if err != nil {
				respondError(w, http.StatusBadRequest, "Invalid price")
				return
			}
			product.Price = &price
		}
		for _, sp := range req.Sizes {
			price, err := decimal.NewFromString(sp.Price)
			if err != nil {
				respondError(w, http.StatusBadRequest, "Invalid size price")
				return
			}
			product.Sizes = append(product.Sizes, models.SizePrice{Label: sp.Label, Price: price})
		}

		created, err := store.CreateProduct(ctx, app.db, product)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respondJSON(w, http.StatusCreated, created)

	case http.MethodGet:
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		if page < 1 {
			page = 1
		}
		pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
		if pageSize < 1 || pageSize > 100 {
			pageSize = 20
		}
		category := r.URL.Query().Get("category")

		result, err := store.ListProducts(ctx, app.db, category, page, pageSize)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, result)

	default:
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (app *application) handleProductByID(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.URL.Path[len("/products/"):], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid product ID")
		return
	}

	product, err := store.GetProduct(r.Context(), app.db, id)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}

	// Quoted at request time for menu display; the checkout quote is the
	// authoritative one.
	quote := app.engine.Quote(product, pricing.Selection{})

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"product": product,
		"quote":   quote,
	})
}

func (app *application) handleCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := sessionUserID(r)

	switch r.Method {
	case http.MethodPost:
		var req struct {
			ProductID  int64   `json:"product_id"`
			SizeLabel  string  `json:"size_label"`
			ToppingIDs []int64 `json:"topping_ids"`
			SugarLevel string  `json:"sugar_level"`
			IceLevel   string  `json:"ice_level"`
			Quantity   int     `json:"quantity"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		ids := append([]int64{req.ProductID}, req.ToppingIDs...)
		products, err := store.GetProducts(ctx, app.db, ids)
		if err != nil {
			if errors.Is(err, database.ErrProductsNotFound) {
				respondError(w, http.StatusNotFound, "Product or topping not found")
				return
			}
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}

		cart, err := store.GetOrCreateCart(ctx, app.db, userID)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}

		item, err := store.AddCartItem(ctx, app.db, cart.ID, &models.CartItem{
			ProductID:  req.ProductID,
			SizeLabel:  req.SizeLabel,
			ToppingIDs: req.ToppingIDs,
			SugarLevel: req.SugarLevel,
			IceLevel:   req.IceLevel,
			Quantity:   req.Quantity,
		})
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}

		// Provisional quote for display; re-priced at checkout.
		toppings := make([]*models.Product, 0, len(req.ToppingIDs))
		for _, tid := range req.ToppingIDs {
			toppings = append(toppings, products[tid])
		}
		quote := app.engine.Quote(products[req.ProductID], pricing.Selection{
			SizeLabel: req.SizeLabel,
			Toppings:  toppings,
			Quantity:  req.Quantity,
		})

		respondJSON(w, http.StatusCreated, map[string]interface{}{
			"item":  item,
			"quote": quote,
		})

	case http.MethodGet:
		cart, err := store.GetCart(ctx, app.db, userID)
		if err != nil {
			if errors.Is(err, database.ErrCartNotFound) {
				respondJSON(w, http.StatusOK, &models.Cart{UserID: userID})
				return
			}
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, cart)

	default:
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (app *application) handleCartItem(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	itemID, err := strconv.ParseInt(r.URL.Path[len("/cart/items/"):], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid cart item ID")
		return
	}

	cart, err := store.GetOrCreateCart(r.Context(), app.db, sessionUserID(r))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := store.RemoveCartItem(r.Context(), app.db, cart.ID, itemID); err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (app *application) handleCheckout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	order, err := store.Checkout(r.Context(), app.db, app.engine, sessionUserID(r))
	if err != nil {
		switch {
		case errors.Is(err, database.ErrCartNotFound),
			errors.Is(err, database.ErrEmptyCart),
			errors.Is(err, database.ErrProductUnavailable):
			respondError(w, http.StatusBadRequest, err.Error())
		default:
			respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	respondJSON(w, http.StatusCreated, order)
}

func (app *application) handleOrders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 100 {
		limit = 20
	}

	result, err := store.ListOrdersCursor(r.Context(), app.db, sessionUserID(r), r.URL.Query().Get("cursor"), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, result)
}

func (app *application) handleOrderByID(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.URL.Path[len("/orders/"):], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid order ID")
		return
	}

	order, err := store.GetOrder(r.Context(), app.db, id)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}

	if order.UserID != sessionUserID(r) {
		claims, _ := r.Context().Value(claimsKey).(*auth.SessionClaims)
		if claims == nil || !claims.IsAdmin {
			respondError(w, http.StatusForbidden, "Not your order")
			return
		}
	}

	respondJSON(w, http.StatusOK, order)
}

// handleAdminUser serves POST /admin/users/{id}/lock and
// POST /admin/users/{id}/unlock.
func (app *application) handleAdminUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	rest := r.URL.Path[len("/admin/users/"):]
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 {
		respondError(w, http.StatusNotFound, "Not found")
		return
	}

	userID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	claims, _ := r.Context().Value(claimsKey).(*auth.SessionClaims)
	adminID, _ := claims.UserID()

	switch parts[1] {
	case "lock":
		var req struct {
			Reason string `json:"reason"`
		}
		// An empty body is fine, the lock reason defaults server-side.
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		if err := store.SetAdminLock(r.Context(), app.db, userID, adminID, req.Reason); err != nil {
			if errors.Is(err, database.ErrUserNotFound) {
				respondError(w, http.StatusNotFound, err.Error())
				return
			}
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "locked"})

	case "unlock":
		if err := store.ClearLock(r.Context(), app.db, userID); err != nil {
			if errors.Is(err, database.ErrUserNotFound) {
				respondError(w, http.StatusNotFound, err.Error())
				return
			}
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "unlocked"})

	default:
		respondError(w, http.StatusNotFound, "Not found")
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
