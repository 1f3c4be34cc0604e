package mocks

import (
	"context"

	"github.com/segyhp/reminder-engine/internal/domain"
	"github.com/stretchr/testify/mock"
)

type MockReminderService struct {
	mock.Mock
}

func (m *MockReminderService) RunScan(ctx context.Context) (*domain.RunSummary, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.RunSummary), args.Error(1)
}

func (m *MockReminderService) TriggerManual(ctx context.Context, loanID, reminderType string) (*domain.ManualResult, error) {
	args := m.Called(ctx, loanID, reminderType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ManualResult), args.Error(1)
}

func (m *MockReminderService) LastRun(ctx context.Context) (*domain.RunSummary, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.RunSummary), args.Error(1)
}
