// Package model содержит доменные сущности платформы Envo-Pro.
package model

import (
	"time"

	"github.com/google/uuid"
)

// ProfileStatus описывает статус учётной записи инвестора.
type ProfileStatus string

const (
	ProfileStatusPendingInvestment ProfileStatus = "pending_investment"
	ProfileStatusPendingApproval   ProfileStatus = "pending_approval"
	ProfileStatusActive            ProfileStatus = "active"
	ProfileStatusInactive          ProfileStatus = "inactive"
	ProfileStatusRejected          ProfileStatus = "rejected"
	ProfileStatusBlocked           ProfileStatus = "blocked"
)

// Profile представляет учётную запись инвестора.
// Денежные поля хранятся в пайсах (1 PKR = 100 пайс).
type Profile struct {
	ID               uuid.UUID
	Username         string
	PasswordHash     []byte
	Status           ProfileStatus
	SelectedPlan     string
	PlanStartDate    *time.Time
	Balance          int64
	DailyEarnings    int64
	ReferralEarnings int64
	TotalInvestment  int64
	ReferredBy       *uuid.UUID
	IsAdmin          bool
	CreatedAt        time.Time
}

// EntryType описывает тип записи в журнале начислений.
type EntryType string

const (
	EntryTypeDailyEarnings EntryType = "daily_earnings"
	EntryTypeReferralBonus EntryType = "referral_bonus"
)

// EarningsEntry — неизменяемая запись журнала о единичном начислении.
type EarningsEntry struct {
	ID          int64
	UserID      uuid.UUID
	Amount      int64
	Type        EntryType
	Description string
	CreatedAt   time.Time
}

// InvestmentStatus описывает статус заявки на инвестицию.
type InvestmentStatus string

const (
	InvestmentStatusPending  InvestmentStatus = "pending"
	InvestmentStatusApproved InvestmentStatus = "approved"
	InvestmentStatusRejected InvestmentStatus = "rejected"
)

// Investment описывает заявку на инвестицию с данными платежа.
type Investment struct {
	ID            int64
	UserID        uuid.UUID
	PlanID        string
	Amount        int64
	Status        InvestmentStatus
	ProofURL      string
	HolderName    string
	AccountNumber string
	SubmittedAt   time.Time
}

// WithdrawalStatus описывает статус заявки на вывод средств.
type WithdrawalStatus string

const (
	WithdrawalStatusProcessing WithdrawalStatus = "processing"
	WithdrawalStatusApproved   WithdrawalStatus = "approved"
	WithdrawalStatusRejected   WithdrawalStatus = "rejected"
)

// Withdrawal описывает заявку на вывод средств.
type Withdrawal struct {
	ID          int64
	UserID      uuid.UUID
	Amount      int64
	Status      WithdrawalStatus
	MethodID    int64
	RequestedAt time.Time
}

// WithdrawalMethod — платёжные реквизиты пользователя для вывода средств.
type WithdrawalMethod struct {
	ID            int64
	UserID        uuid.UUID
	Method        string
	AccountNumber string
	HolderName    string
}

// Referral — факт выплаты реферального бонуса.
type Referral struct {
	ID          int64
	ReferrerID  uuid.UUID
	ReferredID  uuid.UUID
	BonusAmount int64
	CreatedAt   time.Time
}

// AccrualSummary — итог одного запуска начисления ежедневной прибыли.
type AccrualSummary struct {
	Processed      int
	Expired        int
	TotalUpdates   int
	HistoryEntries int
}
