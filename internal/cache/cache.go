package cache

import (
	"context"
	"time"

	"boutiquepos/backend/internal/domain"
)

type ReportCache interface {
	Get(ctx context.Context, key string) (*domain.DashboardReport, bool, error)
	Set(ctx context.Context, key string, value *domain.DashboardReport, ttl time.Duration) error
	Invalidate(ctx context.Context, keys ...string) error
}

type NoopReportCache struct{}

func (NoopReportCache) Get(_ context.Context, _ string) (*domain.DashboardReport, bool, error) {
	return nil, false, nil
}

func (NoopReportCache) Set(_ context.Context, _ string, _ *domain.DashboardReport, _ time.Duration) error {
	return nil
}

func (NoopReportCache) Invalidate(_ context.Context, _ ...string) error {
	return nil
}
