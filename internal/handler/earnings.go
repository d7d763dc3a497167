package handler

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

type accrualErrorResponse struct {
	Error string `json:"error"`
}

type accrualSuccessResponse struct {
	Message        string `json:"message"`
	Processed      int    `json:"processed"`
	Expired        int    `json:"expired"`
	TotalUpdates   int    `json:"totalUpdates"`
	HistoryEntries int    `json:"historyEntries"`
}

// checkCronSecret проверяет bearer-токен планировщика в заголовке Authorization.
func (h *Handler) checkCronSecret(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	return ok && token == h.cronSecret
}

// TriggerDailyEarnings запускает ежедневное начисление по запросу планировщика.
// Повторный запуск в течение того же календарного дня UTC безопасен.
func (h *Handler) TriggerDailyEarnings(w http.ResponseWriter, r *http.Request) {
	if !h.checkCronSecret(r) {
		writeJSON(w, http.StatusUnauthorized, accrualErrorResponse{Error: "Unauthorized"})
		return
	}

	summary, err := h.service.RunDailyAccrual(r.Context(), time.Now().UTC())
	if err != nil {
		h.logger.Error("daily accrual error", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, accrualErrorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, accrualSuccessResponse{
		Message: fmt.Sprintf("Daily earnings process completed successfully! Processed: %d, Expired: %d",
			summary.Processed, summary.Expired),
		Processed:      summary.Processed,
		Expired:        summary.Expired,
		TotalUpdates:   summary.TotalUpdates,
		HistoryEntries: summary.HistoryEntries,
	})
}

type livenessResponse struct {
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// DailyEarningsStatus отвечает на проверку живости эндпоинта начислений.
func (h *Handler) DailyEarningsStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, livenessResponse{
		Message:   "Daily earnings endpoint is active",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
