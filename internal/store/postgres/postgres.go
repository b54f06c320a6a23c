package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"boutiquepos/backend/internal/domain"
	"boutiquepos/backend/internal/store"
	"boutiquepos/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db}
	if err := s.bootstrap(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// bootstrap creates the schema on first run. Every statement is idempotent so
// a restart against an existing database is a no-op.
func (s *Store) bootstrap(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS products (
			id            TEXT PRIMARY KEY,
			name          TEXT NOT NULL,
			category      TEXT NOT NULL DEFAULT '',
			color         TEXT NOT NULL DEFAULT '',
			size          TEXT NOT NULL DEFAULT '',
			cost_price    BIGINT NOT NULL DEFAULT 0,
			selling_price BIGINT NOT NULL,
			stock         INT NOT NULL DEFAULT 0,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS customers (
			id            TEXT NOT NULL,
			name          TEXT NOT NULL,
			phone         TEXT PRIMARY KEY,
			address       TEXT NOT NULL DEFAULT '',
			total_spent   BIGINT NOT NULL DEFAULT 0,
			last_purchase TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS sales (
			id                TEXT PRIMARY KEY,
			sale_date         TIMESTAMPTZ NOT NULL DEFAULT now(),
			customer_name     TEXT NOT NULL DEFAULT '',
			customer_phone    TEXT NOT NULL DEFAULT '',
			delivery_duration TEXT NOT NULL DEFAULT '',
			items             JSONB NOT NULL,
			total_amount      BIGINT NOT NULL DEFAULT 0,
			is_returned       BOOLEAN NOT NULL DEFAULT false,
			return_reason     TEXT,
			idempotency_key   TEXT UNIQUE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sales_date ON sales (sale_date DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_sales_customer_phone ON sales (customer_phone)`,
		`CREATE TABLE IF NOT EXISTS expenses (
			id           TEXT PRIMARY KEY,
			description  TEXT NOT NULL,
			amount       BIGINT NOT NULL,
			category     TEXT NOT NULL DEFAULT '',
			expense_date TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			username   TEXT PRIMARY KEY,
			password   TEXT NOT NULL,
			role       TEXT NOT NULL DEFAULT 'staff',
			active     BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, category, color, size, cost_price, selling_price, stock
		FROM products
		ORDER BY category, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.Color, &p.Size, &p.CostPrice, &p.SellingPrice, &p.Stock); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	var p domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, category, color, size, cost_price, selling_price, stock
		FROM products
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Category, &p.Color, &p.Size, &p.CostPrice, &p.SellingPrice, &p.Stock)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, category, color, size, cost_price, selling_price, stock
		FROM products
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.Color, &p.Size, &p.CostPrice, &p.SellingPrice, &p.Stock); err != nil {
			return nil, err
		}
		result[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.Name == "" || product.SellingPrice < 1 || product.CostPrice < 0 || product.Stock < 0 {
		return nil, store.ErrInvalidInput
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, category, color, size, cost_price, selling_price, stock, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,now(),now())
	`, product.ID, product.Name, product.Category, product.Color, product.Size, product.CostPrice, product.SellingPrice, product.Stock)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || product.Name == "" || product.SellingPrice < 1 {
		return nil, store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET name = $2, category = $3, color = $4, size = $5, cost_price = $6, selling_price = $7, stock = $8, updated_at = now()
		WHERE id = $1
	`, product.ID, product.Name, product.Category, product.Color, product.Size, product.CostPrice, product.SellingPrice, product.Stock)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	updated := product
	return &updated, nil
}

func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// AdjustProductStock applies a signed delta in a single statement so that
// concurrent sale, amend and return flows never lose an update.
func (s *Store) AdjustProductStock(ctx context.Context, id string, delta int) (*domain.Product, error) {
	var p domain.Product
	err := s.db.QueryRowContext(ctx, `
		UPDATE products
		SET stock = stock + $2, updated_at = now()
		WHERE id = $1
		RETURNING id, name, category, color, size, cost_price, selling_price, stock
	`, id, delta).Scan(&p.ID, &p.Name, &p.Category, &p.Color, &p.Size, &p.CostPrice, &p.SellingPrice, &p.Stock)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, phone, address, total_spent, last_purchase
		FROM customers
		ORDER BY last_purchase DESC, phone
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, 64)
	for rows.Next() {
		var c domain.Customer
		if err := rows.Scan(&c.ID, &c.Name, &c.Phone, &c.Address, &c.TotalSpent, &c.LastPurchase); err != nil {
			return nil, err
		}
		c.LastPurchase = c.LastPurchase.UTC()
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return customers, nil
}

func (s *Store) FindCustomerByPhone(ctx context.Context, phone string) (*domain.Customer, error) {
	var c domain.Customer
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, phone, address, total_spent, last_purchase
		FROM customers
		WHERE phone = $1
	`, phone).Scan(&c.ID, &c.Name, &c.Phone, &c.Address, &c.TotalSpent, &c.LastPurchase)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	c.LastPurchase = c.LastPurchase.UTC()
	return &c, nil
}

func (s *Store) InsertCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.Phone == "" || customer.Name == "" {
		return nil, store.ErrInvalidInput
	}
	if customer.ID == "" {
		customer.ID = xid.New("cust")
	}
	if customer.LastPurchase.IsZero() {
		customer.LastPurchase = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, name, phone, address, total_spent, last_purchase)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, customer.ID, customer.Name, customer.Phone, customer.Address, customer.TotalSpent, customer.LastPurchase)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, err
	}

	created := customer
	return &created, nil
}

func (s *Store) UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.Phone == "" {
		return nil, store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE customers
		SET name = $2, address = $3, total_spent = $4, last_purchase = $5
		WHERE phone = $1
	`, customer.Phone, customer.Name, customer.Address, customer.TotalSpent, customer.LastPurchase)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	updated := customer
	return &updated, nil
}

// AddCustomerSpend increments the running total atomically and advances
// last_purchase only when the sale timestamp is newer.
func (s *Store) AddCustomerSpend(ctx context.Context, phone string, amount int64, at time.Time) (*domain.Customer, error) {
	var c domain.Customer
	err := s.db.QueryRowContext(ctx, `
		UPDATE customers
		SET total_spent = total_spent + $2,
			last_purchase = GREATEST(last_purchase, $3)
		WHERE phone = $1
		RETURNING id, name, phone, address, total_spent, last_purchase
	`, phone, amount, at).Scan(&c.ID, &c.Name, &c.Phone, &c.Address, &c.TotalSpent, &c.LastPurchase)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	c.LastPurchase = c.LastPurchase.UTC()
	return &c, nil
}

func (s *Store) ListSales(ctx context.Context) ([]domain.Sale, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sale_date, customer_name, customer_phone, delivery_duration,
			items, total_amount, is_returned, return_reason, idempotency_key
		FROM sales
		ORDER BY sale_date DESC, id DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, 256)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, *sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sales, nil
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	return s.findSale(ctx, "id", id)
}

func (s *Store) FindSaleByIdempotencyKey(ctx context.Context, key string) (*domain.Sale, error) {
	return s.findSale(ctx, "idempotency_key", key)
}

func (s *Store) findSale(ctx context.Context, column string, value string) (*domain.Sale, error) {
	if column != "id" && column != "idempotency_key" {
		return nil, store.ErrInvalidInput
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT id, sale_date, customer_name, customer_phone, delivery_duration,
			items, total_amount, is_returned, return_reason, idempotency_key
		FROM sales
		WHERE `+column+` = $1
	`, value)
	sale, err := scanSale(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return sale, nil
}

func (s *Store) InsertSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if len(sale.Items) == 0 {
		return nil, store.ErrInvalidInput
	}
	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.Date.IsZero() {
		sale.Date = time.Now().UTC()
	}

	itemsJSON, err := json.Marshal(sale.Items)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sales (
			id, sale_date, customer_name, customer_phone, delivery_duration,
			items, total_amount, is_returned, return_reason, idempotency_key
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, sale.ID, sale.Date, sale.CustomerName, sale.CustomerPhone, sale.DeliveryDuration,
		itemsJSON, sale.TotalAmount, sale.IsReturned, nullIfEmpty(sale.ReturnReason), nullIfEmpty(sale.IdempotencyKey))
	if err != nil {
		if isUniqueViolation(err) && sale.IdempotencyKey != "" {
			existing, lookupErr := s.FindSaleByIdempotencyKey(ctx, sale.IdempotencyKey)
			if lookupErr == nil {
				return existing, nil
			}
		}
		return nil, err
	}

	created := sale
	return &created, nil
}

func (s *Store) UpdateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.ID == "" || len(sale.Items) == 0 {
		return nil, store.ErrInvalidInput
	}

	itemsJSON, err := json.Marshal(sale.Items)
	if err != nil {
		return nil, err
	}

	// sale_date and idempotency_key are immutable once written.
	row := s.db.QueryRowContext(ctx, `
		UPDATE sales
		SET customer_name = $2, customer_phone = $3, delivery_duration = $4,
			items = $5, total_amount = $6, is_returned = $7, return_reason = $8
		WHERE id = $1
		RETURNING id, sale_date, customer_name, customer_phone, delivery_duration,
			items, total_amount, is_returned, return_reason, idempotency_key
	`, sale.ID, sale.CustomerName, sale.CustomerPhone, sale.DeliveryDuration,
		itemsJSON, sale.TotalAmount, sale.IsReturned, nullIfEmpty(sale.ReturnReason))
	updated, err := scanSale(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return updated, nil
}

func (s *Store) MarkSaleReturned(ctx context.Context, id string, reason string) (*domain.Sale, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE sales
		SET is_returned = true, return_reason = $2
		WHERE id = $1 AND is_returned = false
		RETURNING id, sale_date, customer_name, customer_phone, delivery_duration,
			items, total_amount, is_returned, return_reason, idempotency_key
	`, id, nullIfEmpty(reason))
	sale, err := scanSale(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Missing and already-returned both match zero rows; disambiguate.
			if _, getErr := s.GetSale(ctx, id); getErr == nil {
				return nil, store.ErrInvalidInput
			}
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return sale, nil
}

func (s *Store) ListExpenses(ctx context.Context) ([]domain.Expense, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, description, amount, category, expense_date
		FROM expenses
		ORDER BY expense_date DESC, id DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	expenses := make([]domain.Expense, 0, 128)
	for rows.Next() {
		var e domain.Expense
		if err := rows.Scan(&e.ID, &e.Description, &e.Amount, &e.Category, &e.Date); err != nil {
			return nil, err
		}
		e.Date = e.Date.UTC()
		expenses = append(expenses, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return expenses, nil
}

func (s *Store) InsertExpense(ctx context.Context, expense domain.Expense) (*domain.Expense, error) {
	if strings.TrimSpace(expense.Description) == "" || expense.Amount < 1 {
		return nil, store.ErrInvalidInput
	}
	if expense.ID == "" {
		expense.ID = xid.New("exp")
	}
	if expense.Date.IsZero() {
		expense.Date = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO expenses (id, description, amount, category, expense_date)
		VALUES ($1,$2,$3,$4,$5)
	`, expense.ID, expense.Description, expense.Amount, expense.Category, expense.Date)
	if err != nil {
		return nil, err
	}

	created := expense
	return &created, nil
}

func (s *Store) DeleteExpense(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM expenses WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if user.Role == "" {
		user.Role = domain.RoleStaff
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,true,$4)
	`, username, user.Password, user.Role, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidInput
		}
		return err
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, username string) (*domain.UserAccount, error) {
	var u domain.UserAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
		WHERE username = $1
	`, strings.ToLower(strings.TrimSpace(username))).Scan(&u.Username, &u.Password, &u.Role, &u.Active, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return &u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 8)
	for rows.Next() {
		var u domain.UserAccount
		if err := rows.Scan(&u.Username, &u.Password, &u.Role, &u.Active, &u.CreatedAt); err != nil {
			return nil, err
		}
		u.CreatedAt = u.CreatedAt.UTC()
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password = $2 WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSale(row rowScanner) (*domain.Sale, error) {
	var sale domain.Sale
	var itemsRaw []byte
	var returnReason sql.NullString
	var idemKey sql.NullString
	err := row.Scan(
		&sale.ID,
		&sale.Date,
		&sale.CustomerName,
		&sale.CustomerPhone,
		&sale.DeliveryDuration,
		&itemsRaw,
		&sale.TotalAmount,
		&sale.IsReturned,
		&returnReason,
		&idemKey,
	)
	if err != nil {
		return nil, err
	}
	sale.Date = sale.Date.UTC()
	if returnReason.Valid {
		sale.ReturnReason = returnReason.String
	}
	if idemKey.Valid {
		sale.IdempotencyKey = idemKey.String
	}
	if len(itemsRaw) > 0 {
		if err := json.Unmarshal(itemsRaw, &sale.Items); err != nil {
			return nil, err
		}
	}
	return &sale, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
