package repository

import (
	"context"
	"errors"

	"github.com/segyhp/reminder-engine/internal/domain"
)

// ErrVersionConflict is returned by CompareAndSwapReminderStatus when
// another caller committed a newer reminder_status first.
var ErrVersionConflict = errors.New("reminder status version conflict")

// LoanRepository defines the interface for loan data operations
type LoanRepository interface {
	// ListEligible retrieves loans still BORROWED with a resolvable due date
	ListEligible(ctx context.Context) ([]*domain.Loan, error)

	// GetByLoanID retrieves a loan by its loan ID
	GetByLoanID(ctx context.Context, loanID string) (*domain.Loan, error)

	// CompareAndSwapReminderStatus writes the loan's reminder ledger iff
	// the version token still matches; ErrVersionConflict otherwise
	CompareAndSwapReminderStatus(ctx context.Context, loanID string, version int64, status domain.ReminderStatus) error
}

// DirectoryRepository defines the interface for the entity/company
// email directory lookups
type DirectoryRepository interface {
	// GetEntitas retrieves one entitas record with its role emails
	GetEntitas(ctx context.Context, code string) (*domain.Entitas, error)

	// GetCompanies retrieves company records for the given codes
	GetCompanies(ctx context.Context, codes []string) ([]*domain.Company, error)
}
