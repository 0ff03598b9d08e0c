package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopsaga/internal/domain"
)

const (
	codeValidation           = "VALIDATION_ERROR"
	codeUnauthorized         = "UNAUTHORIZED"
	codeForbidden            = "NOT_ORDER_OWNER"
	codeNotFound             = "NOT_FOUND"
	codeNotSellable          = "NOT_SELLABLE"
	codeSoldOut              = "SOLD_OUT"
	codeStockDecrementFailed = "STOCK_DECREMENT_FAILED"
	codeStateConflict        = "STATE_CONFLICT"
	codeUnavailable          = "SERVICE_UNAVAILABLE"
	codeInternal             = "INTERNAL"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type errorEnvelope struct {
	Error apiError `json:"error"`
}

type errorMapping struct {
	target error
	status int
	code   string
}

// Порядок важен: первая совпавшая ошибка определяет ответ.
var errorMappings = []errorMapping{
	{domain.ErrInvalidQuantity, http.StatusBadRequest, codeValidation},
	{domain.ErrItemsRequired, http.StatusBadRequest, codeValidation},
	{domain.ErrNotOrderOwner, http.StatusForbidden, codeForbidden},
	{domain.ErrVariantNotFound, http.StatusNotFound, codeNotFound},
	{domain.ErrOrderNotFound, http.StatusNotFound, codeNotFound},
	{domain.ErrPaymentNotFound, http.StatusNotFound, codeNotFound},
	{domain.ErrNotSellable, http.StatusConflict, codeNotSellable},
	{domain.ErrSoldOut, http.StatusConflict, codeSoldOut},
	{domain.ErrStockDecrementFailed, http.StatusConflict, codeStockDecrementFailed},
	{domain.ErrOrderNotCancelable, http.StatusConflict, codeStateConflict},
	{domain.ErrOrderNotReturnable, http.StatusConflict, codeStateConflict},
	{domain.ErrReturnWindowClosed, http.StatusConflict, codeStateConflict},
	{domain.ErrInvalidTransition, http.StatusConflict, codeStateConflict},
	{domain.ErrPaymentStateInvalid, http.StatusConflict, codeStateConflict},
	{domain.ErrOrderVersionConflict, http.StatusConflict, codeStateConflict},
	{domain.ErrCompensationSkipped, http.StatusConflict, codeStateConflict},
	{domain.ErrCircuitOpen, http.StatusServiceUnavailable, codeUnavailable},
	{domain.ErrReservationUnavailable, http.StatusServiceUnavailable, codeUnavailable},
	{domain.ErrLockNotAcquired, http.StatusServiceUnavailable, codeUnavailable},
	{context.DeadlineExceeded, http.StatusServiceUnavailable, codeUnavailable},
}

func statusFor(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, codeInternal
}

func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.WithError(err).WithFields(log.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Error("unexpected error")
		message = "internal error"
	}
	writeProblem(w, status, code, message, nil)
}

func writeProblem(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, errorEnvelope{Error: apiError{Code: code, Message: message, Details: details}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
