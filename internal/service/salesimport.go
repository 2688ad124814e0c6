package service

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/conciliation-system/internal/cache"
	"github.com/mmeshcher/conciliation-system/internal/model"
)

// StartSalesImport запускает фоновый импорт продаж из внешней ленты.
func (s *Service) StartSalesImport(ctx context.Context) {
	if s.feed == nil {
		return
	}

	go func() {
		ticker := time.NewTicker(s.importInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.processSalesBatch(ctx)
			}
		}
	}()
}

func (s *Service) processSalesBatch(ctx context.Context) {
	since, err := s.store.LatestSaleDate(ctx, s.feedCompany)
	if err != nil {
		s.logger.Warn("read latest sale date failed", zap.Error(err))
		return
	}

	feed, statusCode, retryAfter, err := s.feed.GetSales(ctx, since)
	if err != nil {
		s.logger.Warn("sales feed request failed", zap.Error(err))
		return
	}

	if statusCode == http.StatusTooManyRequests {
		if retryAfter > 0 {
			timer := time.NewTimer(retryAfter)
			select {
			case <-ctx.Done():
				timer.Stop()
			case <-timer.C:
			}
		}
		return
	}

	if len(feed) == 0 {
		return
	}

	sales := make([]model.Sale, 0, len(feed))
	for _, f := range feed {
		sale, err := f.ToSale()
		if err != nil {
			s.logger.Warn("skip malformed sale", zap.Error(err), zap.String("order_number", f.OrderNumber))
			continue
		}
		sales = append(sales, sale)
	}

	inserted, err := s.store.InsertSales(ctx, s.feedCompany, sales)
	if err != nil {
		s.logger.Error("insert imported sales failed", zap.Error(err))
		return
	}

	if inserted > 0 {
		s.invalidate(ctx, s.feedCompany, cache.TagUnreconciledSales)
		s.logger.Info("sales imported", zap.Int64("inserted", inserted), zap.Int("received", len(feed)))
	}
}
