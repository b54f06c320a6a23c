package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"boutiquepos/backend/internal/analytics"
	"boutiquepos/backend/internal/cache"
	"boutiquepos/backend/internal/domain"
	"boutiquepos/backend/internal/store"
	"boutiquepos/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

const dashboardCacheKey = "pos:report:dashboard"

type Service struct {
	repo      store.Repository
	reports   cache.ReportCache
	reportTTL time.Duration
	location  *time.Location
}

func New(repo store.Repository, reports cache.ReportCache, reportTTL time.Duration, location *time.Location) *Service {
	if reports == nil {
		reports = cache.NoopReportCache{}
	}
	if reportTTL <= 0 {
		reportTTL = 30 * time.Second
	}
	if location == nil {
		location = time.UTC
	}

	return &Service{
		repo:      repo,
		reports:   reports,
		reportTTL: reportTTL,
		location:  location,
	}
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleOwner {
		return domain.Product{}, fmt.Errorf("owner role required")
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)

	if req.Name == "" {
		return domain.Product{}, store.ErrInvalidInput
	}
	if req.SellingPrice < 1 || req.CostPrice < 0 || req.Stock < 0 {
		return domain.Product{}, store.ErrInvalidInput
	}

	product := domain.Product{
		ID:           xid.New("prod"),
		Name:         req.Name,
		Category:     req.Category,
		Color:        strings.TrimSpace(req.Color),
		Size:         strings.TrimSpace(req.Size),
		CostPrice:    req.CostPrice,
		SellingPrice: req.SellingPrice,
		Stock:        req.Stock,
	}

	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}

	s.invalidateReports(ctx)
	log.Printf("[service] product created id=%s name=%s by=%s", created.ID, created.Name, actor.Username)
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleOwner {
		return domain.Product{}, fmt.Errorf("owner role required")
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Product{}, store.ErrInvalidInput
	}

	existing, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, store.ErrInvalidInput
		}
		updated.Name = name
	}
	if req.Category != nil {
		updated.Category = strings.TrimSpace(*req.Category)
	}
	if req.Color != nil {
		updated.Color = strings.TrimSpace(*req.Color)
	}
	if req.Size != nil {
		updated.Size = strings.TrimSpace(*req.Size)
	}
	if req.CostPrice != nil {
		if *req.CostPrice < 0 {
			return domain.Product{}, store.ErrInvalidInput
		}
		updated.CostPrice = *req.CostPrice
	}
	if req.SellingPrice != nil {
		if *req.SellingPrice < 1 {
			return domain.Product{}, store.ErrInvalidInput
		}
		updated.SellingPrice = *req.SellingPrice
	}
	if req.Stock != nil {
		if *req.Stock < 0 {
			return domain.Product{}, store.ErrInvalidInput
		}
		updated.Stock = *req.Stock
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}

	s.invalidateReports(ctx)
	log.Printf("[service] product updated id=%s by=%s", saved.ID, actor.Username)
	return *saved, nil
}

func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleOwner {
		return fmt.Errorf("owner role required")
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return store.ErrInvalidInput
	}
	if err := s.repo.DeleteProduct(ctx, id); err != nil {
		return err
	}

	s.invalidateReports(ctx)
	log.Printf("[service] product deleted id=%s by=%s", id, actor.Username)
	return nil
}

func (s *Service) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	return s.repo.ListCustomers(ctx)
}

func (s *Service) ListSales(ctx context.Context) ([]domain.Sale, error) {
	return s.repo.ListSales(ctx)
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.Sale, error) {
	sale, err := s.repo.GetSale(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

// CompleteSale runs the checkout ledger flow: dedup on the idempotency key,
// write the sale with denormalized item snapshots, decrement stock per line,
// then upsert the customer and add the sale total to their running spend.
// Stock and customer writes happen after the ledger write; the sale row is
// the source of truth and the aggregates converge on it.
func (s *Service) CompleteSale(ctx context.Context, req domain.CompleteSaleRequest) (domain.SaleResponse, error) {
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = xid.New("idem")
	}
	req.CustomerName = strings.TrimSpace(req.CustomerName)
	if req.CustomerName == "" {
		return domain.SaleResponse{}, store.ErrInvalidInput
	}

	phone, err := NormalizePhone(req.CustomerPhone)
	if err != nil {
		return domain.SaleResponse{}, err
	}
	if !domain.ValidDeliveryDuration(req.DeliveryDuration) {
		return domain.SaleResponse{}, store.ErrInvalidInput
	}

	lines, err := normalizeCartLines(req.Items)
	if err != nil {
		return domain.SaleResponse{}, err
	}
	if len(lines) == 0 {
		return domain.SaleResponse{}, store.ErrInvalidInput
	}

	if existing, err := s.repo.FindSaleByIdempotencyKey(ctx, req.IdempotencyKey); err == nil {
		return domain.SaleResponse{Sale: *existing, Duplicate: true}, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return domain.SaleResponse{}, err
	}

	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ProductID)
	}
	products, err := s.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		return domain.SaleResponse{}, err
	}

	items := make([]domain.SaleItem, 0, len(lines))
	total := int64(0)
	for _, line := range lines {
		product, exists := products[line.ProductID]
		if !exists {
			return domain.SaleResponse{}, store.ErrInvalidInput
		}
		lineTotal := product.SellingPrice * int64(line.Quantity)
		items = append(items, domain.SaleItem{
			ProductID:   product.ID,
			ProductName: product.Name,
			Color:       product.Color,
			Size:        product.Size,
			Quantity:    line.Quantity,
			Price:       product.SellingPrice,
			Total:       lineTotal,
		})
		total += lineTotal
	}

	now := time.Now().UTC()
	sale := domain.Sale{
		ID:               xid.New("sale"),
		Date:             now,
		CustomerName:     req.CustomerName,
		CustomerPhone:    phone,
		DeliveryDuration: req.DeliveryDuration,
		Items:            items,
		TotalAmount:      total,
		IdempotencyKey:   req.IdempotencyKey,
	}

	saved, err := s.repo.InsertSale(ctx, sale)
	if err != nil {
		return domain.SaleResponse{}, err
	}
	// InsertSale resolves a concurrent duplicate key to the stored row.
	if saved.ID != sale.ID {
		return domain.SaleResponse{Sale: *saved, Duplicate: true}, nil
	}

	for _, item := range saved.Items {
		p, err := s.repo.AdjustProductStock(ctx, item.ProductID, -item.Quantity)
		if err != nil {
			log.Printf("[service] WARN: stock decrement failed sale=%s product=%s: %v", saved.ID, item.ProductID, err)
			continue
		}
		if p.Stock < 0 {
			log.Printf("[service] WARN: product %s stock went negative (%d) after sale %s", p.ID, p.Stock, saved.ID)
		}
	}

	if err := s.creditCustomer(ctx, req.CustomerName, phone, strings.TrimSpace(req.CustomerAddress), total, now); err != nil {
		log.Printf("[service] WARN: customer credit failed sale=%s phone=%s: %v", saved.ID, phone, err)
	}

	s.invalidateReports(ctx)
	return domain.SaleResponse{Sale: *saved}, nil
}

func (s *Service) creditCustomer(ctx context.Context, name string, phone string, address string, amount int64, at time.Time) error {
	existing, err := s.repo.FindCustomerByPhone(ctx, phone)
	switch {
	case err == nil:
		// Returning customer: keep their contact details current.
		if existing.Name != name || (address != "" && existing.Address != address) {
			updated := *existing
			updated.Name = name
			if address != "" {
				updated.Address = address
			}
			if _, err := s.repo.UpdateCustomer(ctx, updated); err != nil {
				log.Printf("[service] WARN: customer refresh failed phone=%s: %v", phone, err)
			}
		}
	case errors.Is(err, store.ErrNotFound):
		_, err := s.repo.InsertCustomer(ctx, domain.Customer{
			ID:      xid.New("cust"),
			Name:    name,
			Phone:   phone,
			Address: address,
		})
		if err != nil && !errors.Is(err, store.ErrInvalidInput) {
			return err
		}
	default:
		return err
	}

	_, err = s.repo.AddCustomerSpend(ctx, phone, amount, at)
	return err
}

// AmendSale replaces the line items of an existing sale. It works entirely
// against the sale's stored snapshots: stock moves by the per-product
// difference between old and new quantities, and the customer's spend moves
// by the difference between old and new totals. Live catalog prices are
// never consulted.
func (s *Service) AmendSale(ctx context.Context, id string, req domain.AmendSaleRequest) (domain.Sale, error) {
	existing, err := s.repo.GetSale(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Sale{}, err
	}
	if existing.IsReturned {
		return domain.Sale{}, store.ErrInvalidInput
	}

	req.CustomerName = strings.TrimSpace(req.CustomerName)
	if req.CustomerName == "" {
		req.CustomerName = existing.CustomerName
	}
	phone := existing.CustomerPhone
	if strings.TrimSpace(req.CustomerPhone) != "" {
		phone, err = NormalizePhone(req.CustomerPhone)
		if err != nil {
			return domain.Sale{}, err
		}
	}
	duration := existing.DeliveryDuration
	if req.DeliveryDuration != "" {
		if !domain.ValidDeliveryDuration(req.DeliveryDuration) {
			return domain.Sale{}, store.ErrInvalidInput
		}
		duration = req.DeliveryDuration
	}

	if len(req.Items) == 0 {
		return domain.Sale{}, store.ErrInvalidInput
	}
	newItems := make([]domain.SaleItem, 0, len(req.Items))
	newTotal := int64(0)
	for _, item := range req.Items {
		if item.ProductID == "" || item.Quantity < 1 || item.Price < 1 {
			return domain.Sale{}, store.ErrInvalidInput
		}
		item.Total = item.Price * int64(item.Quantity)
		newItems = append(newItems, item)
		newTotal += item.Total
	}

	// Per-product quantity delta: positive restocks, negative deducts.
	deltas := make(map[string]int)
	for _, item := range existing.Items {
		deltas[item.ProductID] += item.Quantity
	}
	for _, item := range newItems {
		deltas[item.ProductID] -= item.Quantity
	}

	amended := *existing
	amended.CustomerName = req.CustomerName
	amended.CustomerPhone = phone
	amended.DeliveryDuration = duration
	amended.Items = newItems
	amended.TotalAmount = newTotal

	saved, err := s.repo.UpdateSale(ctx, amended)
	if err != nil {
		return domain.Sale{}, err
	}

	for productID, delta := range deltas {
		if delta == 0 {
			continue
		}
		p, err := s.repo.AdjustProductStock(ctx, productID, delta)
		if err != nil {
			log.Printf("[service] WARN: stock adjust failed sale=%s product=%s delta=%d: %v", saved.ID, productID, delta, err)
			continue
		}
		if p.Stock < 0 {
			log.Printf("[service] WARN: product %s stock went negative (%d) after amend of sale %s", p.ID, p.Stock, saved.ID)
		}
	}

	if spendDelta := newTotal - existing.TotalAmount; spendDelta != 0 {
		if _, err := s.repo.AddCustomerSpend(ctx, phone, spendDelta, saved.Date); err != nil {
			log.Printf("[service] WARN: spend adjust failed sale=%s phone=%s: %v", saved.ID, phone, err)
		}
	}

	s.invalidateReports(ctx)
	return *saved, nil
}

// ReturnSale marks a sale returned and restocks every line. The customer's
// lifetime spend is deliberately left untouched; it records what the
// customer has paid over time, not current revenue.
func (s *Service) ReturnSale(ctx context.Context, id string, req domain.ReturnSaleRequest) (domain.Sale, error) {
	sale, err := s.repo.MarkSaleReturned(ctx, strings.TrimSpace(id), strings.TrimSpace(req.Reason))
	if err != nil {
		return domain.Sale{}, err
	}

	for _, item := range sale.Items {
		if _, err := s.repo.AdjustProductStock(ctx, item.ProductID, item.Quantity); err != nil {
			// Product may have been deleted since the sale; the return still stands.
			log.Printf("[service] WARN: restock failed sale=%s product=%s: %v", sale.ID, item.ProductID, err)
		}
	}

	s.invalidateReports(ctx)
	log.Printf("[service] sale returned id=%s reason=%q", sale.ID, sale.ReturnReason)
	return *sale, nil
}

func (s *Service) ListExpenses(ctx context.Context) ([]domain.Expense, error) {
	return s.repo.ListExpenses(ctx)
}

func (s *Service) AddExpense(ctx context.Context, req domain.ExpenseCreateRequest) (domain.Expense, error) {
	req.Description = strings.TrimSpace(req.Description)
	if req.Description == "" || req.Amount < 1 {
		return domain.Expense{}, store.ErrInvalidInput
	}

	at := time.Now().UTC()
	if req.Date != "" {
		parsed, err := parseDate(req.Date)
		if err != nil {
			return domain.Expense{}, store.ErrInvalidInput
		}
		at = parsed
	}

	expense := domain.Expense{
		ID:          xid.New("exp"),
		Description: req.Description,
		Amount:      req.Amount,
		Category:    strings.TrimSpace(req.Category),
		Date:        at,
	}
	created, err := s.repo.InsertExpense(ctx, expense)
	if err != nil {
		return domain.Expense{}, err
	}

	s.invalidateReports(ctx)
	return *created, nil
}

func (s *Service) DeleteExpense(ctx context.Context, id string) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleOwner {
		return fmt.Errorf("owner role required")
	}

	if err := s.repo.DeleteExpense(ctx, strings.TrimSpace(id)); err != nil {
		return err
	}
	s.invalidateReports(ctx)
	return nil
}

// Dashboard builds the full reporting payload from a single ledger snapshot
// and caches it briefly; any mutation invalidates the cache.
func (s *Service) Dashboard(ctx context.Context) (domain.DashboardReport, error) {
	if cached, ok, err := s.reports.Get(ctx, dashboardCacheKey); err == nil && ok {
		return *cached, nil
	}

	snap, err := s.snapshot(ctx)
	if err != nil {
		return domain.DashboardReport{}, err
	}

	now := time.Now().In(s.location)
	report := domain.DashboardReport{
		Stats:      analytics.DashboardStats(snap, now),
		Periods:    analytics.PeriodReport(snap, now),
		KPIs:       analytics.KPIs(snap),
		TopSellers: analytics.TopSellers(snap, 5),
		FollowUps:  analytics.FollowUpCandidates(snap, now),
	}

	if err := s.reports.Set(ctx, dashboardCacheKey, &report, s.reportTTL); err != nil {
		log.Printf("[service] WARN: dashboard cache set failed: %v", err)
	}
	return report, nil
}

// RangeReport aggregates metrics over whole days; from == to covers a single
// day. Query dates usually arrive date-only in UTC, so they are re-anchored
// to the shop's timezone before day boundaries are drawn.
func (s *Service) RangeReport(ctx context.Context, from time.Time, to time.Time) (domain.RangeMetrics, error) {
	from = time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, s.location)
	to = time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, s.location)
	if from.After(to) {
		return domain.RangeMetrics{}, store.ErrInvalidInput
	}
	snap, err := s.snapshot(ctx)
	if err != nil {
		return domain.RangeMetrics{}, err
	}
	return analytics.RangeMetrics(snap, from, to), nil
}

func (s *Service) TopSellers(ctx context.Context, limit int) ([]domain.TopSeller, error) {
	snap, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return analytics.TopSellers(snap, limit), nil
}

func (s *Service) FollowUps(ctx context.Context) ([]domain.FollowUpCandidate, error) {
	snap, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return analytics.FollowUpCandidates(snap, time.Now().In(s.location)), nil
}

func (s *Service) snapshot(ctx context.Context) (analytics.Snapshot, error) {
	sales, err := s.repo.ListSales(ctx)
	if err != nil {
		return analytics.Snapshot{}, err
	}
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return analytics.Snapshot{}, err
	}
	expenses, err := s.repo.ListExpenses(ctx)
	if err != nil {
		return analytics.Snapshot{}, err
	}
	return analytics.Snapshot{Sales: sales, Products: products, Expenses: expenses}, nil
}

func (s *Service) invalidateReports(ctx context.Context) {
	if err := s.reports.Invalidate(ctx, dashboardCacheKey); err != nil {
		log.Printf("[service] WARN: report cache invalidation failed: %v", err)
	}
}

// NormalizePhone folds Arabic-Indic digits to ASCII, strips separators and
// requires exactly eleven digits (Iraqi mobile format).
func NormalizePhone(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= '٠' && r <= '٩': // Arabic-Indic ٠..٩
			b.WriteRune('0' + (r - '٠'))
		case r >= '۰' && r <= '۹': // Extended Arabic-Indic ۰..۹
			b.WriteRune('0' + (r - '۰'))
		case r == ' ' || r == '-' || r == '\t':
			// separators dropped
		default:
			return "", store.ErrInvalidInput
		}
	}
	phone := b.String()
	if len(phone) != domain.PhoneDigits {
		return "", store.ErrInvalidInput
	}
	return phone, nil
}

// normalizeCartLines merges repeated product lines, preserving first-seen
// order. A line with no product id or a quantity below one fails the whole
// cart rather than being dropped.
func normalizeCartLines(lines []domain.CartLine) ([]domain.CartLine, error) {
	aggregated := make(map[string]int, len(lines))
	order := make([]string, 0, len(lines))
	for _, line := range lines {
		if line.ProductID == "" || line.Quantity < 1 {
			return nil, store.ErrInvalidInput
		}
		if _, seen := aggregated[line.ProductID]; !seen {
			order = append(order, line.ProductID)
		}
		aggregated[line.ProductID] += line.Quantity
	}

	result := make([]domain.CartLine, 0, len(aggregated))
	for _, id := range order {
		result = append(result, domain.CartLine{ProductID: id, Quantity: aggregated[id]})
	}
	return result, nil
}

func parseDate(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
