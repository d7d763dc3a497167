// Package service реализует бизнес-логику платформы Envo-Pro.
package service

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/envopro/envopro-system/internal/model"
	"github.com/envopro/envopro-system/internal/plan"
	"github.com/envopro/envopro-system/internal/repository"
	"github.com/envopro/envopro-system/internal/validation"
)

var (
	// ErrInvalidCredentials возвращается при неверной паре имя пользователя/пароль.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidUsername возвращается при недопустимом имени пользователя.
	ErrInvalidUsername = errors.New("invalid username")
	// ErrInvalidAccountNumber возвращается при недопустимом номере счёта.
	ErrInvalidAccountNumber = errors.New("invalid account number")
	// ErrUnknownPlan возвращается при ссылке на несуществующий план.
	ErrUnknownPlan = errors.New("unknown plan")
	// ErrAmountMismatch возвращается, если сумма инвестиции не равна цене плана.
	ErrAmountMismatch = errors.New("amount does not match plan price")
	// ErrAmountOutOfRange возвращается, если сумма вывода вне лимитов плана.
	ErrAmountOutOfRange = errors.New("withdrawal amount out of plan range")
	// ErrReferralsRequired возвращается, когда для дальнейших выводов нужны рефералы.
	ErrReferralsRequired = errors.New("referrals required to continue withdrawing")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateProfile(ctx context.Context, username string, passwordHash []byte, selectedPlan string, referredBy *uuid.UUID) (uuid.UUID, error)
	GetProfileByUsername(ctx context.Context, username string) (*model.Profile, error)
	GetProfile(ctx context.Context, id uuid.UUID) (*model.Profile, error)
	ListProfiles(ctx context.Context) ([]model.Profile, error)
	UpdateProfileStatus(ctx context.Context, id uuid.UUID, status model.ProfileStatus) error
	AdjustProfile(ctx context.Context, id uuid.UUID, balance, dailyEarnings, referralEarnings int64) error

	GetActiveProfiles(ctx context.Context) ([]model.Profile, error)
	GetDailyPaidUserIDs(ctx context.Context, from, to time.Time) (map[uuid.UUID]struct{}, error)
	ApplyAccrual(ctx context.Context, payouts []repository.AccrualPayout, expired []uuid.UUID) (int, error)
	GetEarningsByUser(ctx context.Context, userID uuid.UUID, limit int) ([]model.EarningsEntry, error)

	CreateInvestment(ctx context.Context, inv model.Investment) error
	GetPendingInvestments(ctx context.Context) ([]repository.PendingInvestment, error)
	ApproveInvestment(ctx context.Context, investmentID int64, approvedAt time.Time) (*model.Investment, *uuid.UUID, error)
	RejectInvestment(ctx context.Context, investmentID int64) error
	CreditReferralBonus(ctx context.Context, referrerID, referredID uuid.UUID, bonus int64, description string) error

	SaveWithdrawalMethod(ctx context.Context, m model.WithdrawalMethod) (int64, error)
	GetWithdrawalMethod(ctx context.Context, userID uuid.UUID) (*model.WithdrawalMethod, error)
	CreateWithdrawal(ctx context.Context, userID uuid.UUID, amount int64, methodID int64) error
	GetWithdrawalsByUser(ctx context.Context, userID uuid.UUID) ([]model.Withdrawal, error)
	CountApprovedWithdrawals(ctx context.Context, userID uuid.UUID) (int, error)
	CountReferrals(ctx context.Context, referrerID uuid.UUID) (int, error)
	GetPendingWithdrawals(ctx context.Context) ([]repository.PendingWithdrawal, error)
	ApproveWithdrawal(ctx context.Context, withdrawalID int64) error
	RejectWithdrawal(ctx context.Context, withdrawalID int64) error

	GetReferralRecords(ctx context.Context) ([]repository.ReferralRecord, error)
}

// Service содержит бизнес-логику платформы Envo-Pro.
type Service struct {
	repo   Repository
	rules  plan.Rules
	logger *zap.Logger
}

// NewService создаёт новый сервис с указанным репозиторием и таблицей планов.
func NewService(repo Repository, rules plan.Rules, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:   repo,
		rules:  rules,
		logger: logger,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegisterProfile регистрирует нового инвестора. referrerUsername может быть пустым.
func (s *Service) RegisterProfile(ctx context.Context, username, password, referrerUsername, selectedPlan string) (uuid.UUID, error) {
	if !validation.IsValidUsername(username) {
		return uuid.Nil, ErrInvalidUsername
	}

	if _, ok := s.rules.Lookup(selectedPlan); !ok {
		return uuid.Nil, ErrUnknownPlan
	}

	var referredBy *uuid.UUID
	if referrerUsername != "" {
		referrer, err := s.repo.GetProfileByUsername(ctx, referrerUsername)
		if err != nil {
			if errors.Is(err, repository.ErrUserNotFound) {
				// Битая реферальная ссылка не должна блокировать регистрацию.
				s.logger.Warn("referrer not found, registering without referral",
					zap.String("referrer", referrerUsername))
			} else {
				return uuid.Nil, err
			}
		} else {
			referredBy = &referrer.ID
		}
	}

	hashed := hashPassword(username, password)
	id, err := s.repo.CreateProfile(ctx, username, hashed, selectedPlan, referredBy)
	if err != nil {
		return uuid.Nil, err
	}

	return id, nil
}

// AuthenticateProfile проверяет имя пользователя и пароль и возвращает профиль.
func (s *Service) AuthenticateProfile(ctx context.Context, username, password string) (*model.Profile, error) {
	p, err := s.repo.GetProfileByUsername(ctx, username)
	if err != nil {
		return nil, err
	}

	hashed := hashPassword(username, password)
	if subtle.ConstantTimeCompare(hashed, p.PasswordHash) != 1 {
		return nil, ErrInvalidCredentials
	}

	return p, nil
}

func hashPassword(username, password string) []byte {
	sum := sha256.Sum256([]byte(username + ":" + password))
	return sum[:]
}

// GetProfile возвращает профиль по идентификатору.
func (s *Service) GetProfile(ctx context.Context, id uuid.UUID) (*model.Profile, error) {
	return s.repo.GetProfile(ctx, id)
}

// GetEarningsByUser возвращает последние записи журнала начислений пользователя.
func (s *Service) GetEarningsByUser(ctx context.Context, userID uuid.UUID) ([]model.EarningsEntry, error) {
	return s.repo.GetEarningsByUser(ctx, userID, 100)
}

// SubmitInvestment принимает заявку на инвестицию. Сумма задаётся в PKR и
// должна совпадать с ценой выбранного плана.
func (s *Service) SubmitInvestment(ctx context.Context, userID uuid.UUID, planID string, amount float64, holderName, accountNumber, proofURL string) error {
	rule, ok := s.rules.Lookup(planID)
	if !ok {
		return ErrUnknownPlan
	}

	amountPaisa := int64(amount * 100)
	if amountPaisa != rule.Price {
		return ErrAmountMismatch
	}

	if !validation.IsValidAccountNumber(accountNumber) {
		return ErrInvalidAccountNumber
	}
	if holderName == "" {
		return fmt.Errorf("holder name is required")
	}

	return s.repo.CreateInvestment(ctx, model.Investment{
		UserID:        userID,
		PlanID:        planID,
		Amount:        amountPaisa,
		ProofURL:      proofURL,
		HolderName:    holderName,
		AccountNumber: accountNumber,
	})
}

// GetPendingInvestments возвращает необработанные заявки на инвестиции.
func (s *Service) GetPendingInvestments(ctx context.Context) ([]repository.PendingInvestment, error) {
	return s.repo.GetPendingInvestments(ctx)
}

// ApproveInvestment одобряет заявку: профиль активируется, отсчёт плана
// начинается с момента одобрения. Реферальный бонус начисляется отдельной
// операцией: его сбой логируется и не блокирует одобрение.
func (s *Service) ApproveInvestment(ctx context.Context, investmentID int64) error {
	inv, referredBy, err := s.repo.ApproveInvestment(ctx, investmentID, time.Now().UTC())
	if err != nil {
		return err
	}

	if referredBy != nil {
		err := s.repo.CreditReferralBonus(ctx, *referredBy, inv.UserID, plan.ReferralBonus, "Referral bonus")
		if err != nil {
			s.logger.Error("referral bonus failed",
				zap.String("referrerID", referredBy.String()),
				zap.String("referredID", inv.UserID.String()),
				zap.Error(err))
		}
	}

	return nil
}

// RejectInvestment отклоняет заявку на инвестицию.
func (s *Service) RejectInvestment(ctx context.Context, investmentID int64) error {
	return s.repo.RejectInvestment(ctx, investmentID)
}

// SaveWithdrawalMethod сохраняет платёжный метод пользователя.
func (s *Service) SaveWithdrawalMethod(ctx context.Context, m model.WithdrawalMethod) (int64, error) {
	if m.Method == "" || m.HolderName == "" {
		return 0, fmt.Errorf("method and holder name are required")
	}
	if !validation.IsValidAccountNumber(m.AccountNumber) {
		return 0, ErrInvalidAccountNumber
	}
	return s.repo.SaveWithdrawalMethod(ctx, m)
}

// GetWithdrawalMethod возвращает платёжный метод пользователя.
func (s *Service) GetWithdrawalMethod(ctx context.Context, userID uuid.UUID) (*model.WithdrawalMethod, error) {
	return s.repo.GetWithdrawalMethod(ctx, userID)
}

// RequestWithdrawal создаёт заявку на вывод средств. Сумма задаётся в PKR.
func (s *Service) RequestWithdrawal(ctx context.Context, userID uuid.UUID, amount float64) error {
	amountPaisa := int64(amount * 100)
	if amountPaisa <= 0 {
		return fmt.Errorf("withdrawal amount must be positive")
	}

	p, err := s.repo.GetProfile(ctx, userID)
	if err != nil {
		return err
	}

	rule, ok := s.rules.Lookup(p.SelectedPlan)
	if !ok {
		return ErrUnknownPlan
	}

	if amountPaisa < rule.MinWithdrawal || amountPaisa > rule.MaxWithdrawal {
		return ErrAmountOutOfRange
	}

	// Платные планы после исчерпания свободных выводов требуют рефералов.
	if rule.RequiredReferrals > 0 {
		approved, err := s.repo.CountApprovedWithdrawals(ctx, userID)
		if err != nil {
			return err
		}
		if approved >= rule.FreeWithdrawals {
			refs, err := s.repo.CountReferrals(ctx, userID)
			if err != nil {
				return err
			}
			if refs < rule.RequiredReferrals {
				return ErrReferralsRequired
			}
		}
	}

	method, err := s.repo.GetWithdrawalMethod(ctx, userID)
	if err != nil {
		return err
	}

	return s.repo.CreateWithdrawal(ctx, userID, amountPaisa, method.ID)
}

// GetWithdrawalsByUser возвращает историю заявок пользователя на вывод.
func (s *Service) GetWithdrawalsByUser(ctx context.Context, userID uuid.UUID) ([]model.Withdrawal, error) {
	return s.repo.GetWithdrawalsByUser(ctx, userID)
}

// GetPendingWithdrawals возвращает необработанные заявки на вывод.
func (s *Service) GetPendingWithdrawals(ctx context.Context) ([]repository.PendingWithdrawal, error) {
	return s.repo.GetPendingWithdrawals(ctx)
}

// ApproveWithdrawal одобряет заявку на вывод.
func (s *Service) ApproveWithdrawal(ctx context.Context, withdrawalID int64) error {
	return s.repo.ApproveWithdrawal(ctx, withdrawalID)
}

// RejectWithdrawal отклоняет заявку на вывод с возвратом суммы на баланс.
func (s *Service) RejectWithdrawal(ctx context.Context, withdrawalID int64) error {
	return s.repo.RejectWithdrawal(ctx, withdrawalID)
}

// ListProfiles возвращает все профили для админки.
func (s *Service) ListProfiles(ctx context.Context) ([]model.Profile, error) {
	return s.repo.ListProfiles(ctx)
}

// SetProfileBlocked блокирует или разблокирует профиль.
func (s *Service) SetProfileBlocked(ctx context.Context, id uuid.UUID, blocked bool) error {
	status := model.ProfileStatusActive
	if blocked {
		status = model.ProfileStatusBlocked
	}
	return s.repo.UpdateProfileStatus(ctx, id, status)
}

// AdjustProfile устанавливает денежные счётчики профиля. Значения в PKR.
func (s *Service) AdjustProfile(ctx context.Context, id uuid.UUID, balance, dailyEarnings, referralEarnings float64) error {
	if balance < 0 || dailyEarnings < 0 || referralEarnings < 0 {
		return fmt.Errorf("adjusted values must be non-negative")
	}
	return s.repo.AdjustProfile(ctx, id,
		int64(balance*100), int64(dailyEarnings*100), int64(referralEarnings*100))
}

// CountReferrals возвращает число приглашённых пользователем рефералов.
func (s *Service) CountReferrals(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.repo.CountReferrals(ctx, userID)
}

// ReferralStats — сводные показатели реферальной программы.
type ReferralStats struct {
	TotalReferrals   int
	TotalBonusesPaid int64
	TopReferrer      string
}

// ReferralReport — сводка и история реферальных выплат.
type ReferralReport struct {
	Stats   ReferralStats
	History []repository.ReferralRecord
}

// GetReferralReport возвращает сводку по реферальной программе.
func (s *Service) GetReferralReport(ctx context.Context) (*ReferralReport, error) {
	records, err := s.repo.GetReferralRecords(ctx)
	if err != nil {
		return nil, err
	}

	report := &ReferralReport{History: records}
	report.Stats.TotalReferrals = len(records)

	counts := make(map[uuid.UUID]int)
	names := make(map[uuid.UUID]string)
	for _, rec := range records {
		report.Stats.TotalBonusesPaid += rec.BonusAmount
		counts[rec.ReferrerID]++
		names[rec.ReferrerID] = rec.ReferrerUsername
	}

	maxCount := 0
	for id, count := range counts {
		if count > maxCount {
			maxCount = count
			report.Stats.TopReferrer = names[id]
		}
	}

	return report, nil
}
