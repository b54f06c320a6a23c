package store

import (
	"context"
	"errors"
	"time"

	"boutiquepos/backend/internal/domain"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
)

type Repository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	DeleteProduct(ctx context.Context, id string) error
	AdjustProductStock(ctx context.Context, id string, delta int) (*domain.Product, error)
	ListCustomers(ctx context.Context) ([]domain.Customer, error)
	FindCustomerByPhone(ctx context.Context, phone string) (*domain.Customer, error)
	InsertCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	AddCustomerSpend(ctx context.Context, phone string, amount int64, at time.Time) (*domain.Customer, error)
	ListSales(ctx context.Context) ([]domain.Sale, error)
	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	FindSaleByIdempotencyKey(ctx context.Context, key string) (*domain.Sale, error)
	InsertSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	UpdateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	MarkSaleReturned(ctx context.Context, id string, reason string) (*domain.Sale, error)
	ListExpenses(ctx context.Context) ([]domain.Expense, error)
	InsertExpense(ctx context.Context, expense domain.Expense) (*domain.Expense, error)
	DeleteExpense(ctx context.Context, id string) error
	CreateUser(ctx context.Context, user domain.UserAccount) error
	GetUser(ctx context.Context, username string) (*domain.UserAccount, error)
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
