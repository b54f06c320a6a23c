package domain

import "time"

// Amounts are whole Iraqi dinars; the currency has no practical subunit,
// so money is carried as int64 throughout.

type Product struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Category     string `json:"category"`
	Color        string `json:"color"`
	Size         string `json:"size"`
	CostPrice    int64  `json:"cost_price"`
	SellingPrice int64  `json:"selling_price"`
	Stock        int    `json:"stock"`
}

type ProductCreateRequest struct {
	Name         string `json:"name"`
	Category     string `json:"category"`
	Color        string `json:"color"`
	Size         string `json:"size"`
	CostPrice    int64  `json:"cost_price"`
	SellingPrice int64  `json:"selling_price"`
	Stock        int    `json:"stock"`
}

type ProductUpdateRequest struct {
	Name         *string `json:"name,omitempty"`
	Category     *string `json:"category,omitempty"`
	Color        *string `json:"color,omitempty"`
	Size         *string `json:"size,omitempty"`
	CostPrice    *int64  `json:"cost_price,omitempty"`
	SellingPrice *int64  `json:"selling_price,omitempty"`
	Stock        *int    `json:"stock,omitempty"`
}

type Customer struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Phone        string    `json:"phone"`
	Address      string    `json:"address"`
	TotalSpent   int64     `json:"total_spent"`
	LastPurchase time.Time `json:"last_purchase"`
}

// SaleItem is a denormalized snapshot of the product at sale time. Amend and
// return flows operate on this copy; live catalog pricing never leaks back in.
type SaleItem struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Color       string `json:"color"`
	Size        string `json:"size"`
	Quantity    int    `json:"quantity"`
	Price       int64  `json:"price"`
	Total       int64  `json:"total"`
}

type Sale struct {
	ID               string     `json:"id"`
	Date             time.Time  `json:"date"`
	CustomerName     string     `json:"customer_name"`
	CustomerPhone    string     `json:"customer_phone"`
	DeliveryDuration string     `json:"delivery_duration"`
	Items            []SaleItem `json:"items"`
	TotalAmount      int64      `json:"total_amount"`
	IsReturned       bool       `json:"is_returned"`
	ReturnReason     string     `json:"return_reason,omitempty"`
	IdempotencyKey   string     `json:"idempotency_key,omitempty"`
}

type Expense struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	Amount      int64     `json:"amount"`
	Category    string    `json:"category"`
	Date        time.Time `json:"date"`
}

type ExpenseCreateRequest struct {
	Description string `json:"description"`
	Amount      int64  `json:"amount"`
	Category    string `json:"category"`
	Date        string `json:"date,omitempty"`
}

type CartLine struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type CompleteSaleRequest struct {
	IdempotencyKey   string     `json:"idempotency_key"`
	CustomerName     string     `json:"customer_name"`
	CustomerPhone    string     `json:"customer_phone"`
	CustomerAddress  string     `json:"customer_address"`
	DeliveryDuration string     `json:"delivery_duration"`
	Items            []CartLine `json:"items"`
}

type AmendSaleRequest struct {
	CustomerName     string     `json:"customer_name"`
	CustomerPhone    string     `json:"customer_phone"`
	DeliveryDuration string     `json:"delivery_duration"`
	Items            []SaleItem `json:"items"`
}

type ReturnSaleRequest struct {
	Reason string `json:"reason"`
}

type SaleResponse struct {
	Sale      Sale `json:"sale"`
	Duplicate bool `json:"duplicate"`
}

type RangeMetrics struct {
	Revenue      int64 `json:"revenue"`
	InvoiceCount int   `json:"invoice_count"`
	COGS         int64 `json:"cogs"`
	ExpenseTotal int64 `json:"expense_total"`
	Profit       int64 `json:"profit"`
}

type DashboardStats struct {
	TodaySales     int64 `json:"today_sales"`
	NetProfit      int64 `json:"net_profit"`
	TotalExpenses  int64 `json:"total_expenses"`
	InventoryValue int64 `json:"inventory_value"`
}

// MetricDelta compares a current metric against the prior period. HasPrior is
// false when the prior value is zero, in which case ChangePct carries no
// meaning and clients should show "no prior data".
type MetricDelta struct {
	Current   int64   `json:"current"`
	Previous  int64   `json:"previous"`
	ChangePct float64 `json:"change_pct"`
	HasPrior  bool    `json:"has_prior"`
}

type PeriodComparison struct {
	Label    string      `json:"label"`
	Revenue  MetricDelta `json:"revenue"`
	Invoices MetricDelta `json:"invoices"`
	Profit   MetricDelta `json:"profit"`
}

type PeriodReport struct {
	Day   PeriodComparison `json:"day"`
	Week  PeriodComparison `json:"week"`
	Month PeriodComparison `json:"month"`
}

type KPIReport struct {
	GrossMarginPct   float64 `json:"gross_margin_pct"`
	AvgSaleValue     float64 `json:"avg_sale_value"`
	ReturnOnSpendPct float64 `json:"return_on_spend_pct"`
	ExpenseRatioPct  float64 `json:"expense_ratio_pct"`
}

type TopSeller struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	UnitsSold int    `json:"units_sold"`
}

type FollowUpCandidate struct {
	SaleID           string    `json:"sale_id"`
	CustomerName     string    `json:"customer_name"`
	CustomerPhone    string    `json:"customer_phone"`
	DeliveryDuration string    `json:"delivery_duration"`
	DeliveryDue      time.Time `json:"delivery_due"`
	TotalAmount      int64     `json:"total_amount"`
}

type DashboardReport struct {
	Stats      DashboardStats      `json:"stats"`
	Periods    PeriodReport        `json:"periods"`
	KPIs       KPIReport           `json:"kpis"`
	TopSellers []TopSeller         `json:"top_sellers"`
	FollowUps  []FollowUpCandidate `json:"follow_ups"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type StaffCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type StaffUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is the persistence model for auth credentials. Password holds
// a bcrypt hash, never plaintext.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

const (
	RoleOwner = "owner"
	RoleStaff = "staff"
)

// Delivery windows use the Arabic labels the shop prints on its invoices.
const (
	Delivery24Hours = "24 ساعة"
	Delivery48Hours = "48 ساعة"
	Delivery3Days   = "3 ايام"
	Delivery4Days   = "4 ايام"
	Delivery5Days   = "5 ايام"
)

// DeliveryHours maps each delivery label to its hour count. Legacy rows with
// an unrecognized label fall back to DefaultDeliveryHours in analytics;
// mutating operations reject unknown labels outright.
var DeliveryHours = map[string]int{
	Delivery24Hours: 24,
	Delivery48Hours: 48,
	Delivery3Days:   72,
	Delivery4Days:   96,
	Delivery5Days:   120,
}

const DefaultDeliveryHours = 48

// ValidDeliveryDuration reports whether label is one of the closed set of
// delivery windows accepted on new and amended sales.
func ValidDeliveryDuration(label string) bool {
	_, ok := DeliveryHours[label]
	return ok
}

// PhoneDigits is the required length of a normalized customer phone number
// (Iraqi mobile format, e.g. 07700000000).
const PhoneDigits = 11
