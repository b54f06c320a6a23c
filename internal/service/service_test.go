package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"boutiquepos/backend/internal/cache"
	"boutiquepos/backend/internal/domain"
	"boutiquepos/backend/internal/store"
	"boutiquepos/backend/internal/store/memory"
)

func newTestService(t *testing.T) (*Service, store.Repository) {
	t.Helper()
	repo := memory.New()

	products := []domain.Product{
		{ID: "prod-dress", Name: "فستان سهرة", Category: "dresses", Color: "أسود", Size: "M", CostPrice: 45000, SellingPrice: 75000, Stock: 10},
		{ID: "prod-scarf", Name: "وشاح قطني", Category: "accessories", Color: "وردي", Size: "ONE", CostPrice: 5000, SellingPrice: 12000, Stock: 20},
	}
	for _, p := range products {
		if _, err := repo.CreateProduct(context.Background(), p); err != nil {
			t.Fatalf("seed product %s: %v", p.ID, err)
		}
	}

	return New(repo, cache.NoopReportCache{}, time.Second, time.UTC), repo
}

func ownerContext() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "owner", Role: domain.RoleOwner})
}

func TestCompleteSaleDecrementsStockAndCreditsCustomer(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	resp, err := svc.CompleteSale(ctx, domain.CompleteSaleRequest{
		IdempotencyKey:   "idem-first",
		CustomerName:     "زهراء",
		CustomerPhone:    "07701234567",
		DeliveryDuration: domain.Delivery24Hours,
		Items: []domain.CartLine{
			{ProductID: "prod-dress", Quantity: 2},
		},
	})
	if err != nil {
		t.Fatalf("complete sale failed: %v", err)
	}
	if resp.Duplicate {
		t.Fatalf("first sale must not be flagged duplicate")
	}
	if resp.Sale.TotalAmount != 150000 {
		t.Fatalf("expected total 150000, got %d", resp.Sale.TotalAmount)
	}
	if len(resp.Sale.Items) != 1 || resp.Sale.Items[0].Price != 75000 {
		t.Fatalf("expected snapshot price 75000, got %+v", resp.Sale.Items)
	}

	product, err := repo.GetProduct(ctx, "prod-dress")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if product.Stock != 8 {
		t.Fatalf("expected stock 8 after sale, got %d", product.Stock)
	}

	customer, err := repo.FindCustomerByPhone(ctx, "07701234567")
	if err != nil {
		t.Fatalf("find customer: %v", err)
	}
	if customer.TotalSpent != 150000 {
		t.Fatalf("expected customer spend 150000, got %d", customer.TotalSpent)
	}
}

func TestCompleteSaleDuplicateIdempotencyKey(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	req := domain.CompleteSaleRequest{
		IdempotencyKey:   "idem-retry",
		CustomerName:     "نور",
		CustomerPhone:    "07809876543",
		DeliveryDuration: domain.Delivery48Hours,
		Items: []domain.CartLine{
			{ProductID: "prod-scarf", Quantity: 1},
		},
	}

	first, err := svc.CompleteSale(ctx, req)
	if err != nil {
		t.Fatalf("first sale failed: %v", err)
	}
	second, err := svc.CompleteSale(ctx, req)
	if err != nil {
		t.Fatalf("duplicate sale failed: %v", err)
	}
	if !second.Duplicate {
		t.Fatalf("expected duplicate flag on replayed key")
	}
	if second.Sale.ID != first.Sale.ID {
		t.Fatalf("expected the stored sale to be returned, got %s vs %s", second.Sale.ID, first.Sale.ID)
	}

	sales, err := repo.ListSales(ctx)
	if err != nil {
		t.Fatalf("list sales: %v", err)
	}
	if len(sales) != 1 {
		t.Fatalf("expected exactly one sale, got %d", len(sales))
	}

	product, _ := repo.GetProduct(ctx, "prod-scarf")
	if product.Stock != 19 {
		t.Fatalf("stock must be deducted once, got %d", product.Stock)
	}
}

func TestCompleteSaleNormalizesArabicIndicPhone(t *testing.T) {
	svc, repo := newTestService(t)

	resp, err := svc.CompleteSale(context.Background(), domain.CompleteSaleRequest{
		CustomerName:     "مريم",
		CustomerPhone:    "٠٧٧٠ ١٢٣-٤٥٦٧",
		DeliveryDuration: domain.Delivery3Days,
		Items: []domain.CartLine{
			{ProductID: "prod-scarf", Quantity: 1},
		},
	})
	if err != nil {
		t.Fatalf("complete sale failed: %v", err)
	}
	if resp.Sale.CustomerPhone != "07701234567" {
		t.Fatalf("expected normalized phone 07701234567, got %s", resp.Sale.CustomerPhone)
	}
	if _, err := repo.FindCustomerByPhone(context.Background(), "07701234567"); err != nil {
		t.Fatalf("customer not stored under normalized phone: %v", err)
	}
}

func TestCompleteSaleRejectsBadInput(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  domain.CompleteSaleRequest
	}{
		{"unknown delivery label", domain.CompleteSaleRequest{
			CustomerName: "سارة", CustomerPhone: "07701112233", DeliveryDuration: "غدا",
			Items: []domain.CartLine{{ProductID: "prod-dress", Quantity: 1}},
		}},
		{"short phone", domain.CompleteSaleRequest{
			CustomerName: "سارة", CustomerPhone: "0770123", DeliveryDuration: domain.Delivery24Hours,
			Items: []domain.CartLine{{ProductID: "prod-dress", Quantity: 1}},
		}},
		{"empty cart", domain.CompleteSaleRequest{
			CustomerName: "سارة", CustomerPhone: "07701112233", DeliveryDuration: domain.Delivery24Hours,
		}},
		{"unknown product", domain.CompleteSaleRequest{
			CustomerName: "سارة", CustomerPhone: "07701112233", DeliveryDuration: domain.Delivery24Hours,
			Items: []domain.CartLine{{ProductID: "prod-missing", Quantity: 1}},
		}},
		{"zero quantity line in mixed cart", domain.CompleteSaleRequest{
			CustomerName: "سارة", CustomerPhone: "07701112233", DeliveryDuration: domain.Delivery24Hours,
			Items: []domain.CartLine{
				{ProductID: "prod-dress", Quantity: 1},
				{ProductID: "prod-scarf", Quantity: 0},
			},
		}},
		{"missing product id line", domain.CompleteSaleRequest{
			CustomerName: "سارة", CustomerPhone: "07701112233", DeliveryDuration: domain.Delivery24Hours,
			Items: []domain.CartLine{
				{ProductID: "", Quantity: 2},
			},
		}},
	}

	for _, tc := range cases {
		if _, err := svc.CompleteSale(ctx, tc.req); !errors.Is(err, store.ErrInvalidInput) {
			t.Fatalf("%s: expected ErrInvalidInput, got %v", tc.name, err)
		}
	}

	// A rejected cart leaves stock untouched.
	product, err := repo.GetProduct(ctx, "prod-dress")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if product.Stock != 10 {
		t.Fatalf("expected stock 10 after rejected carts, got %d", product.Stock)
	}
}

func TestAmendSaleMovesStockByDelta(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	resp, err := svc.CompleteSale(ctx, domain.CompleteSaleRequest{
		CustomerName:     "هدى",
		CustomerPhone:    "07712345678",
		DeliveryDuration: domain.Delivery24Hours,
		Items: []domain.CartLine{
			{ProductID: "prod-dress", Quantity: 2},
		},
	})
	if err != nil {
		t.Fatalf("complete sale failed: %v", err)
	}

	amended, err := svc.AmendSale(ctx, resp.Sale.ID, domain.AmendSaleRequest{
		Items: []domain.SaleItem{
			{ProductID: "prod-dress", ProductName: "فستان سهرة", Quantity: 3, Price: 75000},
		},
	})
	if err != nil {
		t.Fatalf("amend sale failed: %v", err)
	}
	if amended.TotalAmount != 225000 {
		t.Fatalf("expected amended total 225000, got %d", amended.TotalAmount)
	}
	if amended.IdempotencyKey != resp.Sale.IdempotencyKey {
		t.Fatalf("idempotency key must survive amendment")
	}

	product, _ := repo.GetProduct(ctx, "prod-dress")
	if product.Stock != 7 {
		t.Fatalf("expected stock 7 after amend (10-2-1), got %d", product.Stock)
	}

	customer, _ := repo.FindCustomerByPhone(ctx, "07712345678")
	if customer.TotalSpent != 225000 {
		t.Fatalf("expected spend 225000 after amend, got %d", customer.TotalSpent)
	}
}

func TestAmendSaleSwapsProducts(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	resp, err := svc.CompleteSale(ctx, domain.CompleteSaleRequest{
		CustomerName:     "ليلى",
		CustomerPhone:    "07723456789",
		DeliveryDuration: domain.Delivery48Hours,
		Items: []domain.CartLine{
			{ProductID: "prod-dress", Quantity: 1},
		},
	})
	if err != nil {
		t.Fatalf("complete sale failed: %v", err)
	}

	_, err = svc.AmendSale(ctx, resp.Sale.ID, domain.AmendSaleRequest{
		Items: []domain.SaleItem{
			{ProductID: "prod-scarf", ProductName: "وشاح قطني", Quantity: 2, Price: 12000},
		},
	})
	if err != nil {
		t.Fatalf("amend sale failed: %v", err)
	}

	dress, _ := repo.GetProduct(ctx, "prod-dress")
	if dress.Stock != 10 {
		t.Fatalf("expected dress restocked to 10, got %d", dress.Stock)
	}
	scarf, _ := repo.GetProduct(ctx, "prod-scarf")
	if scarf.Stock != 18 {
		t.Fatalf("expected scarf stock 18, got %d", scarf.Stock)
	}
}

func TestReturnSaleRestocksWithoutReversingSpend(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	resp, err := svc.CompleteSale(ctx, domain.CompleteSaleRequest{
		CustomerName:     "رقية",
		CustomerPhone:    "07734567890",
		DeliveryDuration: domain.Delivery24Hours,
		Items: []domain.CartLine{
			{ProductID: "prod-dress", Quantity: 2},
		},
	})
	if err != nil {
		t.Fatalf("complete sale failed: %v", err)
	}

	returned, err := svc.ReturnSale(ctx, resp.Sale.ID, domain.ReturnSaleRequest{Reason: "مقاس غير مناسب"})
	if err != nil {
		t.Fatalf("return sale failed: %v", err)
	}
	if !returned.IsReturned || returned.ReturnReason != "مقاس غير مناسب" {
		t.Fatalf("expected returned sale with reason, got %+v", returned)
	}

	product, _ := repo.GetProduct(ctx, "prod-dress")
	if product.Stock != 10 {
		t.Fatalf("expected stock restored to 10, got %d", product.Stock)
	}

	customer, _ := repo.FindCustomerByPhone(ctx, "07734567890")
	if customer.TotalSpent != 150000 {
		t.Fatalf("lifetime spend must not be reversed on return, got %d", customer.TotalSpent)
	}

	if _, err := svc.ReturnSale(ctx, resp.Sale.ID, domain.ReturnSaleRequest{}); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput on double return, got %v", err)
	}
}

func TestAmendReturnedSaleRejected(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	resp, err := svc.CompleteSale(ctx, domain.CompleteSaleRequest{
		CustomerName:     "شهد",
		CustomerPhone:    "07745678901",
		DeliveryDuration: domain.Delivery5Days,
		Items: []domain.CartLine{
			{ProductID: "prod-scarf", Quantity: 1},
		},
	})
	if err != nil {
		t.Fatalf("complete sale failed: %v", err)
	}
	if _, err := svc.ReturnSale(ctx, resp.Sale.ID, domain.ReturnSaleRequest{}); err != nil {
		t.Fatalf("return failed: %v", err)
	}

	_, err = svc.AmendSale(ctx, resp.Sale.ID, domain.AmendSaleRequest{
		Items: []domain.SaleItem{
			{ProductID: "prod-scarf", Quantity: 2, Price: 12000},
		},
	})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput amending returned sale, got %v", err)
	}
}

func TestProductMutationsRequireOwner(t *testing.T) {
	svc, _ := newTestService(t)
	staffCtx := WithActor(context.Background(), domain.Actor{Username: "staff", Role: domain.RoleStaff})

	if _, err := svc.CreateProduct(staffCtx, domain.ProductCreateRequest{Name: "حذاء", SellingPrice: 20000}); err == nil {
		t.Fatalf("expected staff product create to be rejected")
	}
	if err := svc.DeleteProduct(staffCtx, "prod-dress"); err == nil {
		t.Fatalf("expected staff product delete to be rejected")
	}

	created, err := svc.CreateProduct(ownerContext(), domain.ProductCreateRequest{
		Name: "حقيبة يد", Category: "accessories", CostPrice: 9000, SellingPrice: 18000, Stock: 6,
	})
	if err != nil {
		t.Fatalf("owner product create failed: %v", err)
	}
	if created.ID == "" {
		t.Fatalf("expected generated product id")
	}
}

func TestDashboardReflectsLedger(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.CompleteSale(ctx, domain.CompleteSaleRequest{
		CustomerName:     "دعاء",
		CustomerPhone:    "07756789012",
		DeliveryDuration: domain.Delivery24Hours,
		Items: []domain.CartLine{
			{ProductID: "prod-dress", Quantity: 1},
		},
	}); err != nil {
		t.Fatalf("complete sale failed: %v", err)
	}
	if _, err := svc.AddExpense(ctx, domain.ExpenseCreateRequest{
		Description: "إيجار المحل", Amount: 25000, Category: "rent",
	}); err != nil {
		t.Fatalf("add expense failed: %v", err)
	}

	report, err := svc.Dashboard(ctx)
	if err != nil {
		t.Fatalf("dashboard failed: %v", err)
	}
	if report.Stats.TodaySales != 75000 {
		t.Fatalf("expected today sales 75000, got %d", report.Stats.TodaySales)
	}
	// profit = 75000 revenue - 45000 recorded cost - 25000 expenses
	if report.Stats.NetProfit != 5000 {
		t.Fatalf("expected net profit 5000, got %d", report.Stats.NetProfit)
	}
	if len(report.TopSellers) == 0 || report.TopSellers[0].ProductID != "prod-dress" {
		t.Fatalf("expected prod-dress as top seller, got %+v", report.TopSellers)
	}
	if len(report.FollowUps) != 0 {
		t.Fatalf("expected no due follow-ups yet, got %+v", report.FollowUps)
	}
}

func TestRangeReportRejectsInvertedRange(t *testing.T) {
	svc, _ := newTestService(t)

	now := time.Now()
	if _, err := svc.RangeReport(context.Background(), now, now.AddDate(0, 0, -1)); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for inverted range, got %v", err)
	}
}

func TestRangeReportUsesShopTimezone(t *testing.T) {
	repo := memory.New()
	loc := time.FixedZone("UTC+3", 3*60*60)
	svc := New(repo, cache.NoopReportCache{}, time.Second, loc)
	ctx := context.Background()

	// 22:00 UTC on March 10 is already March 11 at the shop.
	if _, err := repo.InsertSale(ctx, domain.Sale{
		ID:               "sale-late-night",
		Date:             time.Date(2026, 3, 10, 22, 0, 0, 0, time.UTC),
		CustomerName:     "هدى",
		CustomerPhone:    "07701234567",
		DeliveryDuration: domain.Delivery24Hours,
		Items:            []domain.SaleItem{{ProductID: "prod-dress", ProductName: "فستان", Quantity: 1, Price: 75000, Total: 75000}},
		TotalAmount:      75000,
	}); err != nil {
		t.Fatalf("insert sale: %v", err)
	}

	day11 := time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)
	report, err := svc.RangeReport(ctx, day11, day11)
	if err != nil {
		t.Fatalf("range report: %v", err)
	}
	if report.Revenue != 75000 {
		t.Fatalf("expected sale on the shop's March 11, got revenue %d", report.Revenue)
	}

	day10 := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	report, err = svc.RangeReport(ctx, day10, day10)
	if err != nil {
		t.Fatalf("range report: %v", err)
	}
	if report.Revenue != 0 {
		t.Fatalf("expected no revenue on the shop's March 10, got %d", report.Revenue)
	}
}

func TestNormalizePhone(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"07701234567", "07701234567", true},
		{"٠٧٧٠١٢٣٤٥٦٧", "07701234567", true},
		{"0770 123-4567", "07701234567", true},
		{"0770123456", "", false},
		{"077012345678", "", false},
		{"07701x34567", "", false},
	}
	for _, tc := range cases {
		got, err := NormalizePhone(tc.in)
		if tc.ok && (err != nil || got != tc.want) {
			t.Fatalf("NormalizePhone(%q) = %q, %v; want %q", tc.in, got, err, tc.want)
		}
		if !tc.ok && err == nil {
			t.Fatalf("NormalizePhone(%q) expected error", tc.in)
		}
	}
}
