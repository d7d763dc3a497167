package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/envopro/envopro-system/internal/model"
	"github.com/envopro/envopro-system/internal/plan"
	"github.com/envopro/envopro-system/internal/repository"
)

type stubRepo struct {
	profiles map[uuid.UUID]*model.Profile
	byName   map[string]*model.Profile

	activeProfiles []model.Profile
	activeErr      error

	paidIDs map[uuid.UUID]struct{}
	paidErr error

	applyCalled    bool
	appliedPayouts []repository.AccrualPayout
	appliedExpired []uuid.UUID
	applyPaidCount int
	applyErr       error

	createdProfileID uuid.UUID
	createProfileErr error

	createdInvestment *model.Investment
	createInvErr      error

	approveInv        *model.Investment
	approveReferredBy *uuid.UUID
	approveErr        error

	creditCalled   bool
	creditReferrer uuid.UUID
	creditBonus    int64
	creditErr      error

	method    *model.WithdrawalMethod
	methodErr error

	approvedWithdrawals int
	referralCount       int

	createdWithdrawal *struct {
		userID   uuid.UUID
		amount   int64
		methodID int64
	}
	createWithdrawalErr error

	referralRecords []repository.ReferralRecord
}

func (s *stubRepo) Close() error { return nil }

func (s *stubRepo) CreateProfile(ctx context.Context, username string, passwordHash []byte, selectedPlan string, referredBy *uuid.UUID) (uuid.UUID, error) {
	return s.createdProfileID, s.createProfileErr
}

func (s *stubRepo) GetProfileByUsername(ctx context.Context, username string) (*model.Profile, error) {
	if p, ok := s.byName[username]; ok {
		return p, nil
	}
	return nil, repository.ErrUserNotFound
}

func (s *stubRepo) GetProfile(ctx context.Context, id uuid.UUID) (*model.Profile, error) {
	if p, ok := s.profiles[id]; ok {
		return p, nil
	}
	return nil, repository.ErrUserNotFound
}

func (s *stubRepo) ListProfiles(ctx context.Context) ([]model.Profile, error) { return nil, nil }

func (s *stubRepo) UpdateProfileStatus(ctx context.Context, id uuid.UUID, status model.ProfileStatus) error {
	return nil
}

func (s *stubRepo) AdjustProfile(ctx context.Context, id uuid.UUID, balance, dailyEarnings, referralEarnings int64) error {
	return nil
}

func (s *stubRepo) GetActiveProfiles(ctx context.Context) ([]model.Profile, error) {
	return s.activeProfiles, s.activeErr
}

func (s *stubRepo) GetDailyPaidUserIDs(ctx context.Context, from, to time.Time) (map[uuid.UUID]struct{}, error) {
	if s.paidErr != nil {
		return nil, s.paidErr
	}
	if s.paidIDs == nil {
		return map[uuid.UUID]struct{}{}, nil
	}
	return s.paidIDs, nil
}

func (s *stubRepo) ApplyAccrual(ctx context.Context, payouts []repository.AccrualPayout, expired []uuid.UUID) (int, error) {
	s.applyCalled = true
	s.appliedPayouts = payouts
	s.appliedExpired = expired
	if s.applyErr != nil {
		return 0, s.applyErr
	}
	if s.applyPaidCount < 0 {
		return len(payouts), nil
	}
	return s.applyPaidCount, nil
}

func (s *stubRepo) GetEarningsByUser(ctx context.Context, userID uuid.UUID, limit int) ([]model.EarningsEntry, error) {
	return nil, nil
}

func (s *stubRepo) CreateInvestment(ctx context.Context, inv model.Investment) error {
	s.createdInvestment = &inv
	return s.createInvErr
}

func (s *stubRepo) GetPendingInvestments(ctx context.Context) ([]repository.PendingInvestment, error) {
	return nil, nil
}

func (s *stubRepo) ApproveInvestment(ctx context.Context, investmentID int64, approvedAt time.Time) (*model.Investment, *uuid.UUID, error) {
	return s.approveInv, s.approveReferredBy, s.approveErr
}

func (s *stubRepo) RejectInvestment(ctx context.Context, investmentID int64) error { return nil }

func (s *stubRepo) CreditReferralBonus(ctx context.Context, referrerID, referredID uuid.UUID, bonus int64, description string) error {
	s.creditCalled = true
	s.creditReferrer = referrerID
	s.creditBonus = bonus
	return s.creditErr
}

func (s *stubRepo) SaveWithdrawalMethod(ctx context.Context, m model.WithdrawalMethod) (int64, error) {
	return 1, nil
}

func (s *stubRepo) GetWithdrawalMethod(ctx context.Context, userID uuid.UUID) (*model.WithdrawalMethod, error) {
	if s.methodErr != nil {
		return nil, s.methodErr
	}
	if s.method == nil {
		return nil, repository.ErrMethodNotFound
	}
	return s.method, nil
}

func (s *stubRepo) CreateWithdrawal(ctx context.Context, userID uuid.UUID, amount int64, methodID int64) error {
	if s.createWithdrawalErr != nil {
		return s.createWithdrawalErr
	}
	s.createdWithdrawal = &struct {
		userID   uuid.UUID
		amount   int64
		methodID int64
	}{userID, amount, methodID}
	return nil
}

func (s *stubRepo) GetWithdrawalsByUser(ctx context.Context, userID uuid.UUID) ([]model.Withdrawal, error) {
	return nil, nil
}

func (s *stubRepo) CountApprovedWithdrawals(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.approvedWithdrawals, nil
}

func (s *stubRepo) CountReferrals(ctx context.Context, referrerID uuid.UUID) (int, error) {
	return s.referralCount, nil
}

func (s *stubRepo) GetPendingWithdrawals(ctx context.Context) ([]repository.PendingWithdrawal, error) {
	return nil, nil
}

func (s *stubRepo) ApproveWithdrawal(ctx context.Context, withdrawalID int64) error { return nil }
func (s *stubRepo) RejectWithdrawal(ctx context.Context, withdrawalID int64) error  { return nil }

func (s *stubRepo) GetReferralRecords(ctx context.Context) ([]repository.ReferralRecord, error) {
	return s.referralRecords, nil
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		profiles:       map[uuid.UUID]*model.Profile{},
		byName:         map[string]*model.Profile{},
		applyPaidCount: -1,
	}
}

func TestHashPasswordDeterministic(t *testing.T) {
	a := hashPassword("user", "pass")
	b := hashPassword("user", "pass")
	c := hashPassword("user", "other")

	if string(a) != string(b) {
		t.Fatalf("hashPassword must be deterministic, got %x and %x", a, b)
	}
	if string(a) == string(c) {
		t.Fatalf("different passwords must produce different hashes")
	}
}

func TestRegisterProfile_InvalidUsername(t *testing.T) {
	svc := NewService(newStubRepo(), plan.Default(), nil)

	_, err := svc.RegisterProfile(context.Background(), "Bad Name", "pass", "", "0")
	if !errors.Is(err, ErrInvalidUsername) {
		t.Fatalf("expected ErrInvalidUsername, got %v", err)
	}
}

func TestRegisterProfile_BrokenReferralLinkIgnored(t *testing.T) {
	repo := newStubRepo()
	repo.createdProfileID = uuid.New()
	svc := NewService(repo, plan.Default(), nil)

	id, err := svc.RegisterProfile(context.Background(), "newuser", "pass", "ghost", "0")
	if err != nil {
		t.Fatalf("RegisterProfile error: %v", err)
	}
	if id != repo.createdProfileID {
		t.Fatalf("unexpected profile id: %v", id)
	}
}

func TestAuthenticateProfile_InvalidCredentials(t *testing.T) {
	repo := newStubRepo()
	repo.byName["user"] = &model.Profile{
		ID:           uuid.New(),
		Username:     "user",
		PasswordHash: hashPassword("user", "correct"),
	}
	svc := NewService(repo, plan.Default(), nil)

	_, err := svc.AuthenticateProfile(context.Background(), "user", "wrong")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestSubmitInvestment_AmountMustMatchPlanPrice(t *testing.T) {
	svc := NewService(newStubRepo(), plan.Default(), nil)
	userID := uuid.New()

	err := svc.SubmitInvestment(context.Background(), userID, "1", 5000, "Ali Khan", "03001234567", "")
	if !errors.Is(err, ErrAmountMismatch) {
		t.Fatalf("expected ErrAmountMismatch, got %v", err)
	}
}

func TestSubmitInvestment_StoresPaisa(t *testing.T) {
	repo := newStubRepo()
	svc := NewService(repo, plan.Default(), nil)
	userID := uuid.New()

	err := svc.SubmitInvestment(context.Background(), userID, "1", 6000, "Ali Khan", "03001234567", "https://proofs/x.png")
	if err != nil {
		t.Fatalf("SubmitInvestment error: %v", err)
	}
	if repo.createdInvestment == nil {
		t.Fatalf("investment was not created")
	}
	if repo.createdInvestment.Amount != 6000*100 {
		t.Fatalf("amount = %d, want %d", repo.createdInvestment.Amount, 6000*100)
	}
}

func TestApproveInvestment_CreditsReferrer(t *testing.T) {
	referrerID := uuid.New()
	repo := newStubRepo()
	repo.approveInv = &model.Investment{ID: 1, UserID: uuid.New(), PlanID: "1", Amount: 600000}
	repo.approveReferredBy = &referrerID
	svc := NewService(repo, plan.Default(), nil)

	if err := svc.ApproveInvestment(context.Background(), 1); err != nil {
		t.Fatalf("ApproveInvestment error: %v", err)
	}
	if !repo.creditCalled {
		t.Fatalf("referral bonus was not credited")
	}
	if repo.creditReferrer != referrerID {
		t.Fatalf("bonus credited to %v, want %v", repo.creditReferrer, referrerID)
	}
	if repo.creditBonus != plan.ReferralBonus {
		t.Fatalf("bonus = %d, want %d", repo.creditBonus, plan.ReferralBonus)
	}
}

func TestApproveInvestment_ReferralFailureDoesNotBlock(t *testing.T) {
	referrerID := uuid.New()
	repo := newStubRepo()
	repo.approveInv = &model.Investment{ID: 1, UserID: uuid.New()}
	repo.approveReferredBy = &referrerID
	repo.creditErr = errors.New("referrer gone")
	svc := NewService(repo, plan.Default(), nil)

	if err := svc.ApproveInvestment(context.Background(), 1); err != nil {
		t.Fatalf("approval must not fail on referral bonus error, got %v", err)
	}
}

func withdrawalFixture(planID string, balance int64) (*stubRepo, uuid.UUID) {
	repo := newStubRepo()
	userID := uuid.New()
	repo.profiles[userID] = &model.Profile{
		ID:           userID,
		Status:       model.ProfileStatusActive,
		SelectedPlan: planID,
		Balance:      balance,
	}
	repo.method = &model.WithdrawalMethod{ID: 7, UserID: userID, Method: "easypaisa", AccountNumber: "03001234567", HolderName: "Ali Khan"}
	return repo, userID
}

func TestRequestWithdrawal_Success(t *testing.T) {
	repo, userID := withdrawalFixture("1", 2000*100)
	svc := NewService(repo, plan.Default(), nil)

	if err := svc.RequestWithdrawal(context.Background(), userID, 800); err != nil {
		t.Fatalf("RequestWithdrawal error: %v", err)
	}
	if repo.createdWithdrawal == nil {
		t.Fatalf("withdrawal was not created")
	}
	if repo.createdWithdrawal.amount != 800*100 {
		t.Fatalf("amount = %d, want %d", repo.createdWithdrawal.amount, 800*100)
	}
	if repo.createdWithdrawal.methodID != 7 {
		t.Fatalf("methodID = %d, want 7", repo.createdWithdrawal.methodID)
	}
}

func TestRequestWithdrawal_AmountOutOfRange(t *testing.T) {
	repo, userID := withdrawalFixture("1", 5000*100)
	svc := NewService(repo, plan.Default(), nil)

	// Лимиты плана "1": 600–1600 PKR.
	if err := svc.RequestWithdrawal(context.Background(), userID, 500); !errors.Is(err, ErrAmountOutOfRange) {
		t.Fatalf("below min: expected ErrAmountOutOfRange, got %v", err)
	}
	if err := svc.RequestWithdrawal(context.Background(), userID, 1700); !errors.Is(err, ErrAmountOutOfRange) {
		t.Fatalf("above max: expected ErrAmountOutOfRange, got %v", err)
	}
}

func TestRequestWithdrawal_ReferralGate(t *testing.T) {
	repo, userID := withdrawalFixture("1", 5000*100)
	repo.approvedWithdrawals = 2 // свободные выводы плана "1" исчерпаны
	repo.referralCount = 1
	svc := NewService(repo, plan.Default(), nil)

	err := svc.RequestWithdrawal(context.Background(), userID, 800)
	if !errors.Is(err, ErrReferralsRequired) {
		t.Fatalf("expected ErrReferralsRequired, got %v", err)
	}

	repo.referralCount = 2
	if err := svc.RequestWithdrawal(context.Background(), userID, 800); err != nil {
		t.Fatalf("withdrawal with enough referrals failed: %v", err)
	}
}

func TestRequestWithdrawal_FreePlanSkipsReferralGate(t *testing.T) {
	repo, userID := withdrawalFixture("0", 5000*100)
	repo.approvedWithdrawals = 10
	repo.referralCount = 0
	svc := NewService(repo, plan.Default(), nil)

	if err := svc.RequestWithdrawal(context.Background(), userID, 200); err != nil {
		t.Fatalf("free plan withdrawal failed: %v", err)
	}
}

func TestRequestWithdrawal_NoMethod(t *testing.T) {
	repo, userID := withdrawalFixture("1", 5000*100)
	repo.method = nil
	svc := NewService(repo, plan.Default(), nil)

	err := svc.RequestWithdrawal(context.Background(), userID, 800)
	if !errors.Is(err, repository.ErrMethodNotFound) {
		t.Fatalf("expected ErrMethodNotFound, got %v", err)
	}
}

func TestGetReferralReport_Stats(t *testing.T) {
	top := uuid.New()
	other := uuid.New()
	repo := newStubRepo()
	repo.referralRecords = []repository.ReferralRecord{
		{ID: 1, ReferrerID: top, ReferrerUsername: "top_referrer", BonusAmount: 60000},
		{ID: 2, ReferrerID: top, ReferrerUsername: "top_referrer", BonusAmount: 60000},
		{ID: 3, ReferrerID: other, ReferrerUsername: "other", BonusAmount: 60000},
	}
	svc := NewService(repo, plan.Default(), nil)

	report, err := svc.GetReferralReport(context.Background())
	if err != nil {
		t.Fatalf("GetReferralReport error: %v", err)
	}
	if report.Stats.TotalReferrals != 3 {
		t.Fatalf("total referrals = %d, want 3", report.Stats.TotalReferrals)
	}
	if report.Stats.TotalBonusesPaid != 180000 {
		t.Fatalf("total bonuses = %d, want 180000", report.Stats.TotalBonusesPaid)
	}
	if report.Stats.TopReferrer != "top_referrer" {
		t.Fatalf("top referrer = %q, want top_referrer", report.Stats.TopReferrer)
	}
}
