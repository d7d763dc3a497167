package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/envopro/envopro-system/internal/model"
	"github.com/envopro/envopro-system/internal/plan"
)

func activeProfile(planID string, startedDaysAgo int, asOf time.Time) model.Profile {
	start := asOf.Add(-time.Duration(startedDaysAgo) * 24 * time.Hour)
	return model.Profile{
		ID:            uuid.New(),
		Status:        model.ProfileStatusActive,
		SelectedPlan:  planID,
		PlanStartDate: &start,
		Balance:       500 * 100,
	}
}

func TestRunDailyAccrual_PaysActiveProfile(t *testing.T) {
	asOf := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	repo := newStubRepo()
	p := activeProfile("1", 10, asOf)
	repo.activeProfiles = []model.Profile{p}

	svc := NewService(repo, plan.Default(), nil)

	summary, err := svc.RunDailyAccrual(context.Background(), asOf)
	if err != nil {
		t.Fatalf("RunDailyAccrual error: %v", err)
	}

	if summary.Processed != 1 || summary.Expired != 0 {
		t.Fatalf("summary = %+v, want processed=1 expired=0", summary)
	}
	if len(repo.appliedPayouts) != 1 {
		t.Fatalf("staged payouts = %d, want 1", len(repo.appliedPayouts))
	}

	payout := repo.appliedPayouts[0]
	if payout.UserID != p.ID {
		t.Fatalf("payout user = %v, want %v", payout.UserID, p.ID)
	}
	if payout.Amount != 120*100 {
		t.Fatalf("payout amount = %d, want %d", payout.Amount, 120*100)
	}
	if !payout.CreatedAt.Equal(asOf) {
		t.Fatalf("payout created_at = %v, want %v", payout.CreatedAt, asOf)
	}
}

func TestRunDailyAccrual_ExpiresProfilePastValidity(t *testing.T) {
	// Таблица планов внедряется при создании сервиса, поэтому срок плана "2"
	// задаётся прямо в тесте.
	rules := plan.Rules{
		"2": {Name: "Advanced Plan", DailyReturn: 260 * 100, ValidityDays: 60},
	}

	asOf := time.Date(2025, 6, 15, 0, 30, 0, 0, time.UTC)
	repo := newStubRepo()
	p := activeProfile("2", 61, asOf)
	repo.activeProfiles = []model.Profile{p}

	svc := NewService(repo, rules, nil)

	summary, err := svc.RunDailyAccrual(context.Background(), asOf)
	if err != nil {
		t.Fatalf("RunDailyAccrual error: %v", err)
	}

	if summary.Processed != 0 || summary.Expired != 1 {
		t.Fatalf("summary = %+v, want processed=0 expired=1", summary)
	}
	if len(repo.appliedPayouts) != 0 {
		t.Fatalf("expired profile must not be paid, staged %d payouts", len(repo.appliedPayouts))
	}
	if len(repo.appliedExpired) != 1 || repo.appliedExpired[0] != p.ID {
		t.Fatalf("expired ids = %v, want [%v]", repo.appliedExpired, p.ID)
	}
}

func TestRunDailyAccrual_ExpiryBoundary(t *testing.T) {
	rules := plan.Rules{
		"1": {Name: "Starter Plan", DailyReturn: 120 * 100, ValidityDays: 30},
	}

	asOf := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	repo := newStubRepo()
	// Ровно validityDays суток с начала плана — план истёк.
	repo.activeProfiles = []model.Profile{activeProfile("1", 30, asOf)}

	svc := NewService(repo, rules, nil)

	summary, err := svc.RunDailyAccrual(context.Background(), asOf)
	if err != nil {
		t.Fatalf("RunDailyAccrual error: %v", err)
	}
	if summary.Expired != 1 || summary.Processed != 0 {
		t.Fatalf("summary = %+v, want expired=1 processed=0", summary)
	}
}

func TestRunDailyAccrual_AlreadyPaidToday(t *testing.T) {
	asOf := time.Date(2025, 6, 15, 23, 0, 0, 0, time.UTC)
	repo := newStubRepo()
	p := activeProfile("1", 10, asOf)
	repo.activeProfiles = []model.Profile{p}
	repo.paidIDs = map[uuid.UUID]struct{}{p.ID: {}}

	svc := NewService(repo, plan.Default(), nil)

	summary, err := svc.RunDailyAccrual(context.Background(), asOf)
	if err != nil {
		t.Fatalf("RunDailyAccrual error: %v", err)
	}

	if summary.Processed != 0 || summary.HistoryEntries != 0 {
		t.Fatalf("summary = %+v, want no payouts on rerun", summary)
	}
	if len(repo.appliedPayouts) != 0 {
		t.Fatalf("rerun staged %d payouts, want 0", len(repo.appliedPayouts))
	}
}

func TestRunDailyAccrual_UnknownPlanSkipped(t *testing.T) {
	asOf := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	repo := newStubRepo()
	broken := activeProfile("42", 10, asOf)
	healthy := activeProfile("1", 10, asOf)
	repo.activeProfiles = []model.Profile{broken, healthy}

	svc := NewService(repo, plan.Default(), nil)

	summary, err := svc.RunDailyAccrual(context.Background(), asOf)
	if err != nil {
		t.Fatalf("run must continue past unknown plan, got %v", err)
	}

	if summary.Processed != 1 {
		t.Fatalf("processed = %d, want 1", summary.Processed)
	}
	for _, p := range repo.appliedPayouts {
		if p.UserID == broken.ID {
			t.Fatalf("profile with unknown plan must not be paid")
		}
	}
	for _, id := range repo.appliedExpired {
		if id == broken.ID {
			t.Fatalf("profile with unknown plan must not be expired")
		}
	}
}

func TestRunDailyAccrual_NoStartDateStillPaid(t *testing.T) {
	asOf := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	repo := newStubRepo()
	p := model.Profile{
		ID:           uuid.New(),
		Status:       model.ProfileStatusActive,
		SelectedPlan: "1",
	}
	repo.activeProfiles = []model.Profile{p}

	svc := NewService(repo, plan.Default(), nil)

	summary, err := svc.RunDailyAccrual(context.Background(), asOf)
	if err != nil {
		t.Fatalf("RunDailyAccrual error: %v", err)
	}
	if summary.Processed != 1 || summary.Expired != 0 {
		t.Fatalf("summary = %+v, want processed=1 expired=0", summary)
	}
}

func TestRunDailyAccrual_FetchFailureAbortsRun(t *testing.T) {
	repo := newStubRepo()
	repo.activeErr = errors.New("store unavailable")

	svc := NewService(repo, plan.Default(), nil)

	_, err := svc.RunDailyAccrual(context.Background(), time.Now())
	if err == nil {
		t.Fatalf("expected error on fetch failure")
	}
	if repo.applyCalled {
		t.Fatalf("no mutation must be attempted after fetch failure")
	}
}

func TestRunDailyAccrual_ExclusionFetchFailureAbortsRun(t *testing.T) {
	repo := newStubRepo()
	repo.activeProfiles = []model.Profile{activeProfile("1", 5, time.Now())}
	repo.paidErr = errors.New("ledger unavailable")

	svc := NewService(repo, plan.Default(), nil)

	_, err := svc.RunDailyAccrual(context.Background(), time.Now())
	if err == nil {
		t.Fatalf("expected error on exclusion set fetch failure")
	}
	if repo.applyCalled {
		t.Fatalf("no mutation must be attempted after fetch failure")
	}
}

func TestRunDailyAccrual_ConstraintSkipsReflectedInSummary(t *testing.T) {
	asOf := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	repo := newStubRepo()
	repo.activeProfiles = []model.Profile{
		activeProfile("1", 5, asOf),
		activeProfile("1", 6, asOf),
	}
	// Конкурирующий запуск успел выплатить одному из двоих.
	repo.applyPaidCount = 1

	svc := NewService(repo, plan.Default(), nil)

	summary, err := svc.RunDailyAccrual(context.Background(), asOf)
	if err != nil {
		t.Fatalf("RunDailyAccrual error: %v", err)
	}
	if summary.Processed != 1 || summary.HistoryEntries != 1 {
		t.Fatalf("summary = %+v, want processed=1", summary)
	}
}

func TestStartDailyAccrualScheduler_StopsOnContextCancel(t *testing.T) {
	svc := NewService(newStubRepo(), plan.Default(), nil)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		svc.StartDailyAccrualScheduler(ctx)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop after context cancel")
	}
}
