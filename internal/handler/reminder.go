package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/segyhp/reminder-engine/internal/domain"
	customError "github.com/segyhp/reminder-engine/pkg/errors"
	"github.com/segyhp/reminder-engine/pkg/response"
)

type ReminderHandler struct {
	service   ReminderService
	validator *validator.Validate
}

func NewReminderHandler(service ReminderService) *ReminderHandler {
	return &ReminderHandler{
		service:   service,
		validator: validator.New(),
	}
}

// RunScan triggers one full automatic scan synchronously.
// POST /api/v1/reminders
func (h *ReminderHandler) RunScan(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.RunScan(r.Context())
	if err != nil {
		writeBusinessError(w, err)
		return
	}

	response.Success(w, domain.ScanResponse{
		RemindersSent: summary.RemindersSent,
		LoansChecked:  summary.LoansChecked,
		LastCheck:     summary.RanAt,
	})
}

// TriggerManual dispatches one reminder for one loan on demand.
// POST /api/v1/reminders/manual
func (h *ReminderHandler) TriggerManual(w http.ResponseWriter, r *http.Request) {
	var req domain.ManualTriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body", err)
		return
	}

	if err := h.validator.Struct(&req); err != nil {
		response.BadRequest(w, "Validation failed", err)
		return
	}

	result, err := h.service.TriggerManual(r.Context(), req.LoanID, req.ReminderType)
	if err != nil {
		writeBusinessError(w, err)
		return
	}

	response.Success(w, result)
}

// Status reports the most recent automatic run, or lastRun=null when
// none has completed yet.
// GET /api/v1/reminders/status
func (h *ReminderHandler) Status(w http.ResponseWriter, r *http.Request) {
	lastRun, err := h.service.LastRun(r.Context())
	if err != nil {
		writeBusinessError(w, err)
		return
	}

	response.Success(w, domain.StatusResponse{LastRun: lastRun})
}

// writeBusinessError maps the error taxonomy onto HTTP statuses.
func writeBusinessError(w http.ResponseWriter, err error) {
	switch customError.CodeOf(err) {
	case customError.ErrCodeLoanNotFound:
		response.NotFound(w, err.Error())
	case customError.ErrCodeInvalidReminderType:
		response.BadRequest(w, "Invalid reminder type", err)
	case customError.ErrCodeClaimConflict:
		response.Error(w, http.StatusConflict, "Reminder dispatch already in progress", err)
	default:
		response.InternalServerError(w, "Reminder operation failed", err)
	}
}

// AuthMiddleware guards the scan endpoint with a static bearer token
// for the scheduler daemon's internal call. An empty configured token
// disables the check.
func AuthMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
				response.Unauthorized(w, "Missing or invalid token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
