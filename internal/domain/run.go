package domain

import "time"

// RunSummary is the outcome of one automatic scan, as reported by
// GET /reminders/status and returned by POST /reminders.
type RunSummary struct {
	RunID         string    `json:"runId"`
	LoansChecked  int       `json:"checkedLoans"`
	RemindersSent int       `json:"remindersSent"`
	RanAt         time.Time `json:"ranAt"`
}

// DispatchOutcome counts recipients handled by one fan-out.
type DispatchOutcome struct {
	Attempted int `json:"attempted"`
	Sent      int `json:"sent"`
	Skipped   int `json:"skipped"`
}

// ManualResult is the outcome of an operator-initiated trigger.
type ManualResult struct {
	LoanID      string           `json:"loanId"`
	ReminderKey string           `json:"reminderKey"`
	AlreadySent bool             `json:"alreadySent"`
	Outcome     *DispatchOutcome `json:"outcome,omitempty"`
}

// DTOs for the reminder endpoints.

type ManualTriggerRequest struct {
	LoanID       string `json:"loanId" validate:"required"`
	ReminderType string `json:"reminderType" validate:"required"`
}

type ScanResponse struct {
	RemindersSent int       `json:"remindersSent"`
	LoansChecked  int       `json:"loansChecked"`
	LastCheck     time.Time `json:"lastCheck"`
}

type StatusResponse struct {
	LastRun *RunSummary `json:"lastRun"`
}
