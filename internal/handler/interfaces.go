package handler

import (
	"context"

	"github.com/segyhp/reminder-engine/internal/domain"
)

// ReminderService is the surface the reminder handlers depend on.
type ReminderService interface {
	RunScan(ctx context.Context) (*domain.RunSummary, error)
	TriggerManual(ctx context.Context, loanID, reminderType string) (*domain.ManualResult, error)
	LastRun(ctx context.Context) (*domain.RunSummary, error)
}
