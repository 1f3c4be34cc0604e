package repository

import (
	"context"
	"time"

	"github.com/segyhp/reminder-engine/internal/domain"

	"github.com/jmoiron/sqlx"
)

type loanRepository struct {
	db *sqlx.DB
}

func NewLoanRepository(db *sqlx.DB) LoanRepository {
	return &loanRepository{db: db}
}

const loanColumns = `
	id, loan_id, borrower_name, borrower_email, entitas_id, companies,
	return_date, effective_return_date, warehouse_status, returned_at, returned_by,
	reminder_status, reminder_version, created_at, updated_at
`

func (r *loanRepository) ListEligible(ctx context.Context) ([]*domain.Loan, error) {
	query := `
		SELECT ` + loanColumns + `
		FROM loans
		WHERE warehouse_status = $1
		  AND returned_at IS NULL
		  AND COALESCE(returned_by, '') = ''
		  AND COALESCE(effective_return_date, return_date) IS NOT NULL
		ORDER BY loan_id
	`

	var loans []*domain.Loan
	err := r.db.SelectContext(ctx, &loans, query, domain.WarehouseStatusBorrowed)
	if err != nil {
		return nil, err
	}

	return loans, nil
}

func (r *loanRepository) GetByLoanID(ctx context.Context, loanID string) (*domain.Loan, error) {
	query := `
		SELECT ` + loanColumns + `
		FROM loans
		WHERE loan_id = $1
	`

	var loan domain.Loan
	err := r.db.GetContext(ctx, &loan, query, loanID)
	if err != nil {
		return nil, err
	}

	return &loan, nil
}

func (r *loanRepository) CompareAndSwapReminderStatus(ctx context.Context, loanID string, version int64, status domain.ReminderStatus) error {
	query := `
		UPDATE loans
		SET reminder_status = $3, reminder_version = reminder_version + 1, updated_at = $4
		WHERE loan_id = $1 AND reminder_version = $2
	`

	result, err := r.db.ExecContext(ctx, query, loanID, version, status, time.Now())
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrVersionConflict
	}

	return nil
}
