package analytics

import (
	"math"
	"sort"
	"time"

	"boutiquepos/backend/internal/domain"
)

// Snapshot is an immutable view of the ledger taken at one instant. Every
// report function works from a snapshot so that concurrent writes cannot make
// a single report internally inconsistent.
type Snapshot struct {
	Sales    []domain.Sale
	Products []domain.Product
	Expenses []domain.Expense
}

// costOf resolves the unit cost for a sale line. When the product has been
// deleted from the catalog, cost is estimated at 60% of the sale price. A
// live product always contributes its recorded cost, zero included.
func costOf(item domain.SaleItem, products map[string]domain.Product) int64 {
	if p, ok := products[item.ProductID]; ok {
		return p.CostPrice
	}
	return int64(math.Round(float64(item.Price) * 0.6))
}

func productIndex(products []domain.Product) map[string]domain.Product {
	index := make(map[string]domain.Product, len(products))
	for _, p := range products {
		index[p.ID] = p
	}
	return index
}

func inRange(t time.Time, from time.Time, to time.Time) bool {
	return !t.Before(from) && t.Before(to)
}

// RangeMetrics aggregates revenue, invoice count, cost of goods and expenses
// over whole calendar days: the range is normalized to midnight of from
// through the last instant of to, so from == to covers one full day.
// Returned sales contribute nothing to any figure.
func RangeMetrics(snap Snapshot, from time.Time, to time.Time) domain.RangeMetrics {
	from = startOfDay(from)
	to = startOfDay(to).AddDate(0, 0, 1)
	products := productIndex(snap.Products)

	var m domain.RangeMetrics
	for _, sale := range snap.Sales {
		if sale.IsReturned || !inRange(sale.Date, from, to) {
			continue
		}
		m.Revenue += sale.TotalAmount
		m.InvoiceCount++
		for _, item := range sale.Items {
			m.COGS += costOf(item, products) * int64(item.Quantity)
		}
	}
	for _, expense := range snap.Expenses {
		if !inRange(expense.Date, from, to) {
			continue
		}
		m.ExpenseTotal += expense.Amount
	}
	m.Profit = m.Revenue - m.COGS - m.ExpenseTotal
	return m
}

// lifetimeMetrics aggregates the whole ledger with no date scoping, so
// future-dated expenses and sales count too.
func lifetimeMetrics(snap Snapshot) domain.RangeMetrics {
	products := productIndex(snap.Products)

	var m domain.RangeMetrics
	for _, sale := range snap.Sales {
		if sale.IsReturned {
			continue
		}
		m.Revenue += sale.TotalAmount
		m.InvoiceCount++
		for _, item := range sale.Items {
			m.COGS += costOf(item, products) * int64(item.Quantity)
		}
	}
	for _, expense := range snap.Expenses {
		m.ExpenseTotal += expense.Amount
	}
	m.Profit = m.Revenue - m.COGS - m.ExpenseTotal
	return m
}

// DashboardStats covers the four headline tiles: today's revenue, all-time
// net profit, all-time expenses and current inventory value at cost.
func DashboardStats(snap Snapshot, now time.Time) domain.DashboardStats {
	dayStart := startOfDay(now)
	today := RangeMetrics(snap, dayStart, dayStart)
	allTime := lifetimeMetrics(snap)

	var inventoryValue int64
	for _, p := range snap.Products {
		inventoryValue += p.CostPrice * int64(p.Stock)
	}

	return domain.DashboardStats{
		TodaySales:     today.Revenue,
		NetProfit:      allTime.Profit,
		TotalExpenses:  allTime.ExpenseTotal,
		InventoryValue: inventoryValue,
	}
}

func delta(current int64, previous int64) domain.MetricDelta {
	d := domain.MetricDelta{Current: current, Previous: previous}
	if previous == 0 {
		return d
	}
	d.HasPrior = true
	d.ChangePct = round2(float64(current-previous) / float64(previous) * 100)
	return d
}

func comparePeriods(snap Snapshot, label string, curFrom, curTo, prevFrom, prevTo time.Time) domain.PeriodComparison {
	cur := RangeMetrics(snap, curFrom, curTo)
	prev := RangeMetrics(snap, prevFrom, prevTo)
	return domain.PeriodComparison{
		Label:    label,
		Revenue:  delta(cur.Revenue, prev.Revenue),
		Invoices: delta(int64(cur.InvoiceCount), int64(prev.InvoiceCount)),
		Profit:   delta(cur.Profit, prev.Profit),
	}
}

// PeriodReport compares today against yesterday, the trailing seven days
// against the seven before them, and the current calendar month against the
// previous one. Boundaries follow the location carried by now.
func PeriodReport(snap Snapshot, now time.Time) domain.PeriodReport {
	dayStart := startOfDay(now)
	weekStart := dayStart.AddDate(0, 0, -6)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())

	return domain.PeriodReport{
		Day: comparePeriods(snap, "day",
			dayStart, dayStart,
			dayStart.AddDate(0, 0, -1), dayStart.AddDate(0, 0, -1)),
		Week: comparePeriods(snap, "week",
			weekStart, dayStart,
			weekStart.AddDate(0, 0, -7), weekStart.AddDate(0, 0, -1)),
		Month: comparePeriods(snap, "month",
			monthStart, monthStart.AddDate(0, 1, -1),
			monthStart.AddDate(0, -1, 0), monthStart.AddDate(0, 0, -1)),
	}
}

// KPIs derives whole-history ratio metrics over completed sales. Ratios
// whose denominator is zero are reported as zero. Return on spend relates
// net profit to total money out (cost of goods plus expenses).
func KPIs(snap Snapshot) domain.KPIReport {
	all := lifetimeMetrics(snap)

	var report domain.KPIReport
	if all.Revenue > 0 {
		report.GrossMarginPct = round2(float64(all.Revenue-all.COGS) / float64(all.Revenue) * 100)
		report.ExpenseRatioPct = round2(float64(all.ExpenseTotal) / float64(all.Revenue) * 100)
	}
	if all.InvoiceCount > 0 {
		report.AvgSaleValue = round2(float64(all.Revenue) / float64(all.InvoiceCount))
	}
	if spent := all.COGS + all.ExpenseTotal; spent > 0 {
		report.ReturnOnSpendPct = round2(float64(all.Profit) / float64(spent) * 100)
	}
	return report
}

// TopSellers ranks products by units sold across every sale, returned ones
// included: a returned dress was still a dress that sold. Ties break by
// product id so the ranking is stable regardless of input order.
func TopSellers(snap Snapshot, limit int) []domain.TopSeller {
	if limit < 1 {
		limit = 5
	}

	units := make(map[string]int)
	names := make(map[string]string)
	for _, sale := range snap.Sales {
		for _, item := range sale.Items {
			units[item.ProductID] += item.Quantity
			if names[item.ProductID] == "" {
				names[item.ProductID] = item.ProductName
			}
		}
	}

	sellers := make([]domain.TopSeller, 0, len(units))
	for id, sold := range units {
		sellers = append(sellers, domain.TopSeller{ProductID: id, Name: names[id], UnitsSold: sold})
	}
	sort.Slice(sellers, func(i, j int) bool {
		if sellers[i].UnitsSold == sellers[j].UnitsSold {
			return sellers[i].ProductID < sellers[j].ProductID
		}
		return sellers[i].UnitsSold > sellers[j].UnitsSold
	})
	if len(sellers) > limit {
		sellers = sellers[:limit]
	}
	return sellers
}

const (
	followUpLimit  = 5
	followUpWindow = 7 * 24 * time.Hour
)

// FollowUpCandidates lists sales whose delivery window has elapsed without a
// return. Sales more than a week past their window are considered stale and
// skipped. Legacy rows with an unrecognized delivery label fall back to a
// 48 hour window. At most five candidates are returned, in ledger order.
func FollowUpCandidates(snap Snapshot, now time.Time) []domain.FollowUpCandidate {
	candidates := make([]domain.FollowUpCandidate, 0, followUpLimit)
	for _, sale := range snap.Sales {
		if sale.IsReturned {
			continue
		}
		hours, ok := domain.DeliveryHours[sale.DeliveryDuration]
		if !ok {
			hours = domain.DefaultDeliveryHours
		}
		due := sale.Date.Add(time.Duration(hours) * time.Hour)
		if due.After(now) || !now.Before(due.Add(followUpWindow)) {
			continue
		}
		candidates = append(candidates, domain.FollowUpCandidate{
			SaleID:           sale.ID,
			CustomerName:     sale.CustomerName,
			CustomerPhone:    sale.CustomerPhone,
			DeliveryDuration: sale.DeliveryDuration,
			DeliveryDue:      due,
			TotalAmount:      sale.TotalAmount,
		})
		if len(candidates) == followUpLimit {
			break
		}
	}
	return candidates
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func round2(val float64) float64 {
	return math.Round(val*100) / 100
}
