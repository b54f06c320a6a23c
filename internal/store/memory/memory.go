package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"boutiquepos/backend/internal/domain"
	"boutiquepos/backend/internal/store"
	"boutiquepos/backend/internal/xid"
)

type Store struct {
	mu               sync.RWMutex
	products         map[string]domain.Product
	customersByPhone map[string]domain.Customer
	salesByID        map[string]*domain.Sale
	salesByIdem      map[string]*domain.Sale
	expensesByID     map[string]domain.Expense
	usersByUsername  map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_OWNER_PASSWORD and SEED_STAFF_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning printed to stdout. These credentials are never used in production
// (the backend uses PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	ownerPwd := envOr("SEED_OWNER_PASSWORD", "owner123")
	staffPwd := envOr("SEED_STAFF_PASSWORD", "staff123")
	if os.Getenv("SEED_OWNER_PASSWORD") == "" || os.Getenv("SEED_STAFF_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_OWNER_PASSWORD and SEED_STAFF_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"owner", ownerPwd, domain.RoleOwner},
		{"staff", staffPwd, domain.RoleStaff},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func New() *Store {
	return &Store{
		products:         make(map[string]domain.Product),
		customersByPhone: make(map[string]domain.Customer),
		salesByID:        make(map[string]*domain.Sale),
		salesByIdem:      make(map[string]*domain.Sale),
		expensesByID:     make(map[string]domain.Expense),
		usersByUsername:  make(map[string]domain.UserAccount),
	}
}

// NewSeeded builds a store preloaded with the demo boutique catalog and the
// dev user accounts.
func NewSeeded() *Store {
	products := []domain.Product{
		{ID: "prod-dress-01", Name: "فستان سهرة", Category: "dresses", Color: "أسود", Size: "M", CostPrice: 45000, SellingPrice: 75000, Stock: 8},
		{ID: "prod-dress-02", Name: "فستان صيفي", Category: "dresses", Color: "أزرق", Size: "L", CostPrice: 25000, SellingPrice: 40000, Stock: 12},
		{ID: "prod-abaya-01", Name: "عباية مطرزة", Category: "abayas", Color: "أسود", Size: "L", CostPrice: 35000, SellingPrice: 60000, Stock: 10},
		{ID: "prod-blouse-01", Name: "بلوزة حرير", Category: "tops", Color: "أبيض", Size: "S", CostPrice: 15000, SellingPrice: 28000, Stock: 15},
		{ID: "prod-skirt-01", Name: "تنورة طويلة", Category: "skirts", Color: "بيج", Size: "M", CostPrice: 18000, SellingPrice: 32000, Stock: 9},
		{ID: "prod-scarf-01", Name: "وشاح قطني", Category: "accessories", Color: "وردي", Size: "ONE", CostPrice: 5000, SellingPrice: 12000, Stock: 30},
		{ID: "prod-jacket-01", Name: "جاكيت شتوي", Category: "outerwear", Color: "رمادي", Size: "L", CostPrice: 55000, SellingPrice: 95000, Stock: 5},
		{ID: "prod-set-01", Name: "طقم رياضي", Category: "sets", Color: "أخضر", Size: "M", CostPrice: 22000, SellingPrice: 38000, Stock: 14},
	}

	s := New()
	for _, p := range products {
		s.products[p.ID] = p
	}
	s.usersByUsername = seedUsers()
	return s
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, p)
	}

	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Category == b.Category {
			return cmpString(a.Name, b.Name)
		}
		return cmpString(a.Category, b.Category)
	})

	return products, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyProduct := product
	return &copyProduct, nil
}

func (s *Store) GetProductsByIDs(_ context.Context, ids []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			result[id] = p
		}
	}
	return result, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.Name == "" || product.SellingPrice < 1 || product.CostPrice < 0 || product.Stock < 0 {
		return nil, store.ErrInvalidInput
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	if _, exists := s.products[product.ID]; exists {
		return nil, store.ErrInvalidInput
	}

	s.products[product.ID] = product
	created := product
	return &created, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.ID == "" || product.Name == "" || product.SellingPrice < 1 {
		return nil, store.ErrInvalidInput
	}
	if _, exists := s.products[product.ID]; !exists {
		return nil, store.ErrNotFound
	}

	s.products[product.ID] = product
	updated := product
	return &updated, nil
}

func (s *Store) DeleteProduct(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.products[id]; !exists {
		return store.ErrNotFound
	}
	delete(s.products, id)
	return nil
}

// AdjustProductStock applies a signed delta in place. Stock may go negative
// for transient states (amend before restock); callers log when it does.
func (s *Store) AdjustProductStock(_ context.Context, id string, delta int) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, exists := s.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	product.Stock += delta
	s.products[id] = product
	copyProduct := product
	return &copyProduct, nil
}

func (s *Store) ListCustomers(_ context.Context) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customers := make([]domain.Customer, 0, len(s.customersByPhone))
	for _, c := range s.customersByPhone {
		customers = append(customers, c)
	}
	slices.SortFunc(customers, func(a, b domain.Customer) int {
		if a.LastPurchase.Equal(b.LastPurchase) {
			return cmpString(a.Phone, b.Phone)
		}
		if a.LastPurchase.After(b.LastPurchase) {
			return -1
		}
		return 1
	})
	return customers, nil
}

func (s *Store) FindCustomerByPhone(_ context.Context, phone string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, exists := s.customersByPhone[phone]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyCustomer := customer
	return &copyCustomer, nil
}

func (s *Store) InsertCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if customer.Phone == "" || customer.Name == "" {
		return nil, store.ErrInvalidInput
	}
	if _, exists := s.customersByPhone[customer.Phone]; exists {
		return nil, store.ErrInvalidInput
	}
	if customer.ID == "" {
		customer.ID = xid.New("cust")
	}

	s.customersByPhone[customer.Phone] = customer
	created := customer
	return &created, nil
}

func (s *Store) UpdateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if customer.Phone == "" {
		return nil, store.ErrInvalidInput
	}
	existing, exists := s.customersByPhone[customer.Phone]
	if !exists {
		return nil, store.ErrNotFound
	}
	if customer.ID == "" {
		customer.ID = existing.ID
	}
	s.customersByPhone[customer.Phone] = customer
	updated := customer
	return &updated, nil
}

func (s *Store) AddCustomerSpend(_ context.Context, phone string, amount int64, at time.Time) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	customer, exists := s.customersByPhone[phone]
	if !exists {
		return nil, store.ErrNotFound
	}
	customer.TotalSpent += amount
	if at.After(customer.LastPurchase) {
		customer.LastPurchase = at
	}
	s.customersByPhone[phone] = customer
	copyCustomer := customer
	return &copyCustomer, nil
}

func (s *Store) ListSales(_ context.Context) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.Sale, 0, len(s.salesByID))
	for _, sale := range s.salesByID {
		sales = append(sales, *cloneSale(sale))
	}
	slices.SortFunc(sales, func(a, b domain.Sale) int {
		if a.Date.Equal(b.Date) {
			return cmpString(b.ID, a.ID)
		}
		if a.Date.After(b.Date) {
			return -1
		}
		return 1
	})
	return sales, nil
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.salesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return cloneSale(sale), nil
}

func (s *Store) FindSaleByIdempotencyKey(_ context.Context, key string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.salesByIdem[key]
	if !exists {
		return nil, store.ErrNotFound
	}
	return cloneSale(sale), nil
}

func (s *Store) InsertSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(sale.Items) == 0 {
		return nil, store.ErrInvalidInput
	}
	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.Date.IsZero() {
		sale.Date = time.Now().UTC()
	}
	if sale.IdempotencyKey != "" {
		if existing, ok := s.salesByIdem[sale.IdempotencyKey]; ok {
			return cloneSale(existing), nil
		}
	}

	saved := cloneSale(&sale)
	s.salesByID[sale.ID] = saved
	if sale.IdempotencyKey != "" {
		s.salesByIdem[sale.IdempotencyKey] = saved
	}
	return cloneSale(saved), nil
}

func (s *Store) UpdateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.salesByID[sale.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if len(sale.Items) == 0 {
		return nil, store.ErrInvalidInput
	}
	// Idempotency key and date are immutable once written.
	sale.IdempotencyKey = existing.IdempotencyKey
	sale.Date = existing.Date

	saved := cloneSale(&sale)
	s.salesByID[sale.ID] = saved
	if saved.IdempotencyKey != "" {
		s.salesByIdem[saved.IdempotencyKey] = saved
	}
	return cloneSale(saved), nil
}

func (s *Store) MarkSaleReturned(_ context.Context, id string, reason string) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, exists := s.salesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	if sale.IsReturned {
		return nil, store.ErrInvalidInput
	}
	sale.IsReturned = true
	sale.ReturnReason = reason
	return cloneSale(sale), nil
}

func (s *Store) ListExpenses(_ context.Context) ([]domain.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	expenses := make([]domain.Expense, 0, len(s.expensesByID))
	for _, e := range s.expensesByID {
		expenses = append(expenses, e)
	}
	slices.SortFunc(expenses, func(a, b domain.Expense) int {
		if a.Date.Equal(b.Date) {
			return cmpString(b.ID, a.ID)
		}
		if a.Date.After(b.Date) {
			return -1
		}
		return 1
	})
	return expenses, nil
}

func (s *Store) InsertExpense(_ context.Context, expense domain.Expense) (*domain.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(expense.Description) == "" || expense.Amount < 1 {
		return nil, store.ErrInvalidInput
	}
	if expense.ID == "" {
		expense.ID = xid.New("exp")
	}
	if expense.Date.IsZero() {
		expense.Date = time.Now().UTC()
	}
	s.expensesByID[expense.ID] = expense
	created := expense
	return &created, nil
}

func (s *Store) DeleteExpense(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.expensesByID[id]; !exists {
		return store.ErrNotFound
	}
	delete(s.expensesByID, id)
	return nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrInvalidInput
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleStaff
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) GetUser(_ context.Context, username string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, exists := s.usersByUsername[strings.ToLower(strings.TrimSpace(username))]
	if !exists {
		return nil, store.ErrNotFound
	}
	clone := user
	return &clone, nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func cloneSale(src *domain.Sale) *domain.Sale {
	if src == nil {
		return nil
	}
	dup := *src
	items := make([]domain.SaleItem, len(src.Items))
	copy(items, src.Items)
	dup.Items = items
	return &dup
}
