package service

import (
	"context"

	"github.com/Dhoini/Billing-microservice/internal/metrics"
	"github.com/Dhoini/Billing-microservice/internal/repository"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
)

// CounterService сверяет материализованные счетчики с фактическими строками
type CounterService struct {
	counters repository.CounterRepository
	metrics  metrics.BillingMetrics
	log      *logger.Logger
}

// NewCounterService создает сервис пересчета
func NewCounterService(counters repository.CounterRepository, m metrics.BillingMetrics, log *logger.Logger) *CounterService {
	return &CounterService{counters: counters, metrics: m, log: log}
}

// Recalculate перезаписывает расходящиеся счетчики и возвращает исправления
func (s *CounterService) Recalculate(ctx context.Context) ([]repository.CountDrift, error) {
	drifts, err := s.counters.Recalculate(ctx)
	if err != nil {
		return nil, err
	}

	perResource := map[string]int{}
	for _, d := range drifts {
		perResource[d.Resource]++
	}
	for resource, n := range perResource {
		s.metrics.AddCounterDrift(resource, n)
	}

	s.log.Infow("Counter recalculation finished", "corrected", len(drifts))
	return drifts, nil
}
