package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/envopro/envopro-system/internal/middleware"
	"github.com/envopro/envopro-system/internal/repository"
)

// AdminOnly пропускает запрос дальше только для профилей с правами администратора.
func (h *Handler) AdminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := middleware.GetUserIDFromContext(r.Context())
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		p, err := h.service.GetProfile(r.Context(), userID)
		if err != nil {
			h.logger.Error("admin check error", zap.Error(err), zap.String("userID", userID.String()))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		if !p.IsAdmin {
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}

type pendingInvestmentResponse struct {
	ID            int64   `json:"id"`
	Username      string  `json:"username"`
	PlanID        string  `json:"plan_id"`
	Amount        float64 `json:"amount"`
	HolderName    string  `json:"holder_name"`
	AccountNumber string  `json:"account_number"`
	ProofURL      string  `json:"proof_url"`
	SubmittedAt   string  `json:"submitted_at"`
}

// GetPendingInvestments возвращает заявки на инвестиции, ожидающие решения.
func (h *Handler) GetPendingInvestments(w http.ResponseWriter, r *http.Request) {
	investments, err := h.service.GetPendingInvestments(r.Context())
	if err != nil {
		h.logger.Error("get pending investments error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(investments) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]pendingInvestmentResponse, 0, len(investments))
	for _, pi := range investments {
		resp = append(resp, pendingInvestmentResponse{
			ID:            pi.Investment.ID,
			Username:      pi.Username,
			PlanID:        pi.Investment.PlanID,
			Amount:        pkr(pi.Investment.Amount),
			HolderName:    pi.Investment.HolderName,
			AccountNumber: pi.Investment.AccountNumber,
			ProofURL:      pi.Investment.ProofURL,
			SubmittedAt:   pi.Investment.SubmittedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// DecideInvestment одобряет или отклоняет заявку на инвестицию.
func (h *Handler) DecideInvestment(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req struct {
		Action string `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	switch req.Action {
	case "approve":
		err = h.service.ApproveInvestment(r.Context(), id)
	case "reject":
		err = h.service.RejectInvestment(r.Context(), id)
	default:
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err != nil {
		if errors.Is(err, repository.ErrInvestmentNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("decide investment error", zap.Error(err), zap.Int64("investmentID", id))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

type pendingWithdrawalResponse struct {
	ID            int64   `json:"id"`
	Username      string  `json:"username"`
	Amount        float64 `json:"amount"`
	Method        string  `json:"method"`
	AccountNumber string  `json:"account_number"`
	HolderName    string  `json:"holder_name"`
	RequestedAt   string  `json:"requested_at"`
}

// GetPendingWithdrawals возвращает заявки на вывод, ожидающие решения.
func (h *Handler) GetPendingWithdrawals(w http.ResponseWriter, r *http.Request) {
	withdrawals, err := h.service.GetPendingWithdrawals(r.Context())
	if err != nil {
		h.logger.Error("get pending withdrawals error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(withdrawals) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]pendingWithdrawalResponse, 0, len(withdrawals))
	for _, pw := range withdrawals {
		resp = append(resp, pendingWithdrawalResponse{
			ID:            pw.Withdrawal.ID,
			Username:      pw.Username,
			Amount:        pkr(pw.Withdrawal.Amount),
			Method:        pw.Method.Method,
			AccountNumber: pw.Method.AccountNumber,
			HolderName:    pw.Method.HolderName,
			RequestedAt:   pw.Withdrawal.RequestedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// DecideWithdrawal одобряет или отклоняет заявку на вывод средств.
func (h *Handler) DecideWithdrawal(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req struct {
		Action string `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	switch req.Action {
	case "approve":
		err = h.service.ApproveWithdrawal(r.Context(), id)
	case "reject":
		err = h.service.RejectWithdrawal(r.Context(), id)
	default:
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err != nil {
		if errors.Is(err, repository.ErrWithdrawalNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("decide withdrawal error", zap.Error(err), zap.Int64("withdrawalID", id))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

type adminUserResponse struct {
	ID               string  `json:"id"`
	Username         string  `json:"username"`
	Status           string  `json:"status"`
	SelectedPlan     string  `json:"selected_plan"`
	Balance          float64 `json:"balance"`
	DailyEarnings    float64 `json:"daily_earnings"`
	ReferralEarnings float64 `json:"referral_earnings"`
	TotalInvestment  float64 `json:"total_investment"`
	IsAdmin          bool    `json:"is_admin"`
	CreatedAt        string  `json:"created_at"`
}

// ListUsers возвращает все профили платформы для панели администратора.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.service.ListProfiles(r.Context())
	if err != nil {
		h.logger.Error("list users error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := make([]adminUserResponse, 0, len(profiles))
	for _, p := range profiles {
		resp = append(resp, adminUserResponse{
			ID:               p.ID.String(),
			Username:         p.Username,
			Status:           string(p.Status),
			SelectedPlan:     p.SelectedPlan,
			Balance:          pkr(p.Balance),
			DailyEarnings:    pkr(p.DailyEarnings),
			ReferralEarnings: pkr(p.ReferralEarnings),
			TotalInvestment:  pkr(p.TotalInvestment),
			IsAdmin:          p.IsAdmin,
			CreatedAt:        p.CreatedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// BlockUser блокирует или разблокирует профиль.
func (h *Handler) BlockUser(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req struct {
		Blocked bool `json:"blocked"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.SetProfileBlocked(r.Context(), id, req.Blocked); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("block user error", zap.Error(err), zap.String("userID", id.String()))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

type adjustUserRequest struct {
	Balance          float64 `json:"balance"`
	DailyEarnings    float64 `json:"daily_earnings"`
	ReferralEarnings float64 `json:"referral_earnings"`
}

// AdjustUser выставляет денежные поля профиля вручную.
func (h *Handler) AdjustUser(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req adjustUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Balance < 0 || req.DailyEarnings < 0 || req.ReferralEarnings < 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.AdjustProfile(r.Context(), id, req.Balance, req.DailyEarnings, req.ReferralEarnings); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("adjust user error", zap.Error(err), zap.String("userID", id.String()))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

type referralRecordResponse struct {
	Referrer  string  `json:"referrer"`
	Referred  string  `json:"referred"`
	Bonus     float64 `json:"bonus"`
	CreatedAt string  `json:"created_at"`
}

type referralReportResponse struct {
	TotalReferrals   int                      `json:"total_referrals"`
	TotalBonusesPaid float64                  `json:"total_bonuses_paid"`
	TopReferrer      string                   `json:"top_referrer,omitempty"`
	History          []referralRecordResponse `json:"history"`
}

// GetReferralReport возвращает сводный реферальный отчёт по платформе.
func (h *Handler) GetReferralReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.GetReferralReport(r.Context())
	if err != nil {
		h.logger.Error("referral report error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := referralReportResponse{
		TotalReferrals:   report.Stats.TotalReferrals,
		TotalBonusesPaid: pkr(report.Stats.TotalBonusesPaid),
		TopReferrer:      report.Stats.TopReferrer,
		History:          make([]referralRecordResponse, 0, len(report.History)),
	}
	for _, rec := range report.History {
		resp.History = append(resp.History, referralRecordResponse{
			Referrer:  rec.ReferrerUsername,
			Referred:  rec.ReferredUsername,
			Bonus:     pkr(rec.BonusAmount),
			CreatedAt: rec.CreatedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}
