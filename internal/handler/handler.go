// Package handler содержит HTTP-обработчики API платформы Envo-Pro.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/envopro/envopro-system/internal/middleware"
	"github.com/envopro/envopro-system/internal/model"
	"github.com/envopro/envopro-system/internal/repository"
	"github.com/envopro/envopro-system/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterProfile(ctx context.Context, username, password, referrerUsername, selectedPlan string) (uuid.UUID, error)
	AuthenticateProfile(ctx context.Context, username, password string) (*model.Profile, error)
	GetProfile(ctx context.Context, id uuid.UUID) (*model.Profile, error)
	GetEarningsByUser(ctx context.Context, userID uuid.UUID) ([]model.EarningsEntry, error)
	SubmitInvestment(ctx context.Context, userID uuid.UUID, planID string, amount float64, holderName, accountNumber, proofURL string) error
	SaveWithdrawalMethod(ctx context.Context, m model.WithdrawalMethod) (int64, error)
	GetWithdrawalMethod(ctx context.Context, userID uuid.UUID) (*model.WithdrawalMethod, error)
	RequestWithdrawal(ctx context.Context, userID uuid.UUID, amount float64) error
	GetWithdrawalsByUser(ctx context.Context, userID uuid.UUID) ([]model.Withdrawal, error)
	CountReferrals(ctx context.Context, userID uuid.UUID) (int, error)

	GetPendingInvestments(ctx context.Context) ([]repository.PendingInvestment, error)
	ApproveInvestment(ctx context.Context, investmentID int64) error
	RejectInvestment(ctx context.Context, investmentID int64) error
	GetPendingWithdrawals(ctx context.Context) ([]repository.PendingWithdrawal, error)
	ApproveWithdrawal(ctx context.Context, withdrawalID int64) error
	RejectWithdrawal(ctx context.Context, withdrawalID int64) error
	ListProfiles(ctx context.Context) ([]model.Profile, error)
	SetProfileBlocked(ctx context.Context, id uuid.UUID, blocked bool) error
	AdjustProfile(ctx context.Context, id uuid.UUID, balance, dailyEarnings, referralEarnings float64) error
	GetReferralReport(ctx context.Context) (*service.ReferralReport, error)

	RunDailyAccrual(ctx context.Context, asOf time.Time) (*model.AccrualSummary, error)
}

// Handler реализует HTTP-обработчики API платформы Envo-Pro.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	cronSecret     string
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, cronSecret string) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		cronSecret:     cronSecret,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// pkr переводит сумму из пайс в PKR для ответов API.
func pkr(paisa int64) float64 {
	return float64(paisa) / 100
}

type registerRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	ReferredBy string `json:"referred_by,omitempty"`
	Plan       string `json:"plan,omitempty"`
}

// Register обрабатывает регистрацию нового инвестора.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Username == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if req.Plan == "" {
		req.Plan = "0"
	}

	userID, err := h.service.RegisterProfile(r.Context(), req.Username, req.Password, req.ReferredBy, req.Plan)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrUserExists):
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
		case errors.Is(err, service.ErrInvalidUsername), errors.Is(err, service.ErrUnknownPlan):
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		default:
			h.logger.Error("register profile error", zap.Error(err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID)
	w.WriteHeader(http.StatusOK)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login выполняет аутентификацию инвестора и установку cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Username == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	p, err := h.service.AuthenticateProfile(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) || errors.Is(err, service.ErrInvalidCredentials) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.logger.Error("login error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.SetAuthCookie(w, p.ID)
	w.WriteHeader(http.StatusOK)
}

type profileResponse struct {
	ID               string  `json:"id"`
	Username         string  `json:"username"`
	Status           string  `json:"status"`
	SelectedPlan     string  `json:"selected_plan"`
	PlanStartDate    *string `json:"plan_start_date,omitempty"`
	Balance          float64 `json:"balance"`
	DailyEarnings    float64 `json:"daily_earnings"`
	ReferralEarnings float64 `json:"referral_earnings"`
	TotalInvestment  float64 `json:"total_investment"`
}

// GetProfile возвращает профиль текущего пользователя.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	p, err := h.service.GetProfile(r.Context(), userID)
	if err != nil {
		h.logger.Error("get profile error", zap.Error(err), zap.String("userID", userID.String()))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := profileResponse{
		ID:               p.ID.String(),
		Username:         p.Username,
		Status:           string(p.Status),
		SelectedPlan:     p.SelectedPlan,
		Balance:          pkr(p.Balance),
		DailyEarnings:    pkr(p.DailyEarnings),
		ReferralEarnings: pkr(p.ReferralEarnings),
		TotalInvestment:  pkr(p.TotalInvestment),
	}
	if p.PlanStartDate != nil {
		s := p.PlanStartDate.Format(time.RFC3339)
		resp.PlanStartDate = &s
	}

	writeJSON(w, http.StatusOK, resp)
}

type earningsEntryResponse struct {
	Amount      float64 `json:"amount"`
	Type        string  `json:"type"`
	Description string  `json:"description"`
	CreatedAt   string  `json:"created_at"`
}

// GetEarnings возвращает историю начислений текущего пользователя.
func (h *Handler) GetEarnings(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	entries, err := h.service.GetEarningsByUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("get earnings error", zap.Error(err), zap.String("userID", userID.String()))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(entries) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]earningsEntryResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, earningsEntryResponse{
			Amount:      pkr(e.Amount),
			Type:        string(e.Type),
			Description: e.Description,
			CreatedAt:   e.CreatedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

type investmentRequest struct {
	PlanID        string  `json:"plan_id"`
	Amount        float64 `json:"amount"`
	HolderName    string  `json:"holder_name"`
	AccountNumber string  `json:"account_number"`
	ProofURL      string  `json:"proof_url"`
}

// SubmitInvestment принимает заявку на инвестицию от текущего пользователя.
func (h *Handler) SubmitInvestment(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req investmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	err := h.service.SubmitInvestment(r.Context(), userID, req.PlanID, req.Amount, req.HolderName, req.AccountNumber, req.ProofURL)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUnknownPlan),
			errors.Is(err, service.ErrAmountMismatch),
			errors.Is(err, service.ErrInvalidAccountNumber):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			h.logger.Error("submit investment error", zap.Error(err), zap.String("userID", userID.String()))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

type withdrawalMethodRequest struct {
	Method        string `json:"method"`
	AccountNumber string `json:"account_number"`
	HolderName    string `json:"holder_name"`
}

// SaveWithdrawalMethod сохраняет платёжный метод текущего пользователя.
func (h *Handler) SaveWithdrawalMethod(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req withdrawalMethodRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	_, err := h.service.SaveWithdrawalMethod(r.Context(), model.WithdrawalMethod{
		UserID:        userID,
		Method:        req.Method,
		AccountNumber: req.AccountNumber,
		HolderName:    req.HolderName,
	})
	if err != nil {
		if errors.Is(err, service.ErrInvalidAccountNumber) {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		h.logger.Error("save withdrawal method error", zap.Error(err), zap.String("userID", userID.String()))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

type withdrawalMethodResponse struct {
	Method        string `json:"method"`
	AccountNumber string `json:"account_number"`
	HolderName    string `json:"holder_name"`
}

// GetWithdrawalMethod возвращает платёжный метод текущего пользователя.
func (h *Handler) GetWithdrawalMethod(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	m, err := h.service.GetWithdrawalMethod(r.Context(), userID)
	if err != nil {
		if errors.Is(err, repository.ErrMethodNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("get withdrawal method error", zap.Error(err), zap.String("userID", userID.String()))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, withdrawalMethodResponse{
		Method:        m.Method,
		AccountNumber: m.AccountNumber,
		HolderName:    m.HolderName,
	})
}

type withdrawRequest struct {
	Amount float64 `json:"amount"`
}

// Withdraw создаёт заявку на вывод средств текущего пользователя.
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req withdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Amount <= 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	err := h.service.RequestWithdrawal(r.Context(), userID, req.Amount)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrInsufficientBalance):
			http.Error(w, http.StatusText(http.StatusPaymentRequired), http.StatusPaymentRequired)
		case errors.Is(err, repository.ErrWithdrawalPending):
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
		case errors.Is(err, service.ErrAmountOutOfRange):
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		case errors.Is(err, service.ErrReferralsRequired):
			http.Error(w, err.Error(), http.StatusForbidden)
		case errors.Is(err, repository.ErrMethodNotFound):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			h.logger.Error("withdraw error", zap.Error(err), zap.String("userID", userID.String()))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	w.WriteHeader(http.StatusOK)
}

type withdrawalResponse struct {
	ID          int64   `json:"id"`
	Amount      float64 `json:"amount"`
	Status      string  `json:"status"`
	RequestedAt string  `json:"requested_at"`
}

// GetWithdrawals возвращает историю заявок текущего пользователя на вывод.
func (h *Handler) GetWithdrawals(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	withdrawals, err := h.service.GetWithdrawalsByUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("get withdrawals error", zap.Error(err), zap.String("userID", userID.String()))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(withdrawals) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]withdrawalResponse, 0, len(withdrawals))
	for _, wd := range withdrawals {
		resp = append(resp, withdrawalResponse{
			ID:          wd.ID,
			Amount:      pkr(wd.Amount),
			Status:      string(wd.Status),
			RequestedAt: wd.RequestedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

type userReferralsResponse struct {
	Count            int     `json:"count"`
	ReferralEarnings float64 `json:"referral_earnings"`
}

// GetReferrals возвращает реферальную сводку текущего пользователя.
func (h *Handler) GetReferrals(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	p, err := h.service.GetProfile(r.Context(), userID)
	if err != nil {
		h.logger.Error("get profile error", zap.Error(err), zap.String("userID", userID.String()))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	count, err := h.service.CountReferrals(r.Context(), userID)
	if err != nil {
		h.logger.Error("count referrals error", zap.Error(err), zap.String("userID", userID.String()))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, userReferralsResponse{
		Count:            count,
		ReferralEarnings: pkr(p.ReferralEarnings),
	})
}
