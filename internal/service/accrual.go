package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/envopro/envopro-system/internal/model"
	"github.com/envopro/envopro-system/internal/repository"
)

// RunDailyAccrual выполняет начисление ежедневной прибыли за календарные сутки
// (UTC), в которые попадает asOf. Запуск идемпотентен относительно суток:
// повторный вызов в те же сутки не приводит к повторной выплате — сначала за
// счёт предварительной выборки уже выплаченных пользователей, затем за счёт
// уникального индекса журнала при применении.
//
// Порядок гарантий при сбоях: ошибки чтения прерывают запуск до каких-либо
// изменений; запись журнала и изменение балансов применяются одной
// транзакцией, поэтому выплата без записи в журнале (и наоборот) невозможна.
func (s *Service) RunDailyAccrual(ctx context.Context, asOf time.Time) (*model.AccrualSummary, error) {
	asOf = asOf.UTC()
	dayStart := asOf.Truncate(24 * time.Hour)
	dayEnd := dayStart.Add(24 * time.Hour)

	profiles, err := s.repo.GetActiveProfiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch active profiles: %w", err)
	}

	paid, err := s.repo.GetDailyPaidUserIDs(ctx, dayStart, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("fetch paid users: %w", err)
	}

	var (
		payouts []repository.AccrualPayout
		expired []uuid.UUID
	)

	for _, p := range profiles {
		if _, ok := paid[p.ID]; ok {
			continue
		}

		rule, ok := s.rules.Lookup(p.SelectedPlan)
		if !ok {
			// Нарушение целостности данных: профиль ссылается на неизвестный план.
			s.logger.Warn("profile references unknown plan, skipping",
				zap.String("userID", p.ID.String()),
				zap.String("plan", p.SelectedPlan))
			continue
		}

		// Профили без plan_start_date получают выплату без проверки срока.
		if p.PlanStartDate != nil {
			daysSinceStart := int(asOf.Sub(p.PlanStartDate.UTC()) / (24 * time.Hour))
			if daysSinceStart >= rule.ValidityDays {
				expired = append(expired, p.ID)
				continue
			}
		}

		payouts = append(payouts, repository.AccrualPayout{
			UserID:      p.ID,
			Amount:      rule.DailyReturn,
			Description: fmt.Sprintf("Daily earnings for %s", rule.Name),
			CreatedAt:   asOf,
		})
	}

	paidCount, err := s.repo.ApplyAccrual(ctx, payouts, expired)
	if err != nil {
		return nil, fmt.Errorf("apply accrual: %w", err)
	}

	if skipped := len(payouts) - paidCount; skipped > 0 {
		// Конкурирующий запуск успел выплатить часть пользователей между
		// предварительной выборкой и применением.
		s.logger.Info("payouts skipped by ledger uniqueness",
			zap.Int("skipped", skipped))
	}

	summary := &model.AccrualSummary{
		Processed:      paidCount,
		Expired:        len(expired),
		TotalUpdates:   paidCount + len(expired),
		HistoryEntries: paidCount,
	}

	s.logger.Info("daily accrual completed",
		zap.Time("day", dayStart),
		zap.Int("processed", summary.Processed),
		zap.Int("expired", summary.Expired))

	return summary, nil
}

// StartDailyAccrualScheduler выполняет начисление каждые календарные сутки в
// полночь UTC и блокируется до отмены контекста. Повторный запуск в те же
// сутки безопасен по контракту идемпотентности.
func (s *Service) StartDailyAccrualScheduler(ctx context.Context) {
	for {
		now := time.Now().UTC()
		next := now.Truncate(24 * time.Hour).Add(24 * time.Hour)

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if _, err := s.RunDailyAccrual(ctx, time.Now()); err != nil {
			s.logger.Error("scheduled accrual failed", zap.Error(err))
		}
	}
}
