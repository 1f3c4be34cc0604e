// Package rules holds the pure reminder rule evaluator. It has no side
// effects and never touches the ledger; callers filter eligibility and
// handle idempotence.
package rules

import (
	"time"

	"github.com/segyhp/reminder-engine/internal/domain"
	"github.com/segyhp/reminder-engine/pkg/utils"
)

// Evaluate returns the reminder key due for the loan on the given day,
// if any. At most one key fires per call: the fixed pre-due offsets
// (7, 3, 1, 0 days before due) and the overdue ladder (1..30 days
// past due, recomputed fresh each day) are mutually exclusive.
func Evaluate(loan *domain.Loan, today time.Time) (string, bool) {
	due := loan.DueDate()
	if due == nil {
		return "", false
	}

	offset := utils.DaysUntil(*due, today)

	switch offset {
	case 7, 3, 1, 0:
		return domain.BeforeDueKey(loan.LoanID, offset), true
	}

	if offset < 0 {
		days := utils.ClampOverdueDays(-offset, domain.MaxOverdueDays)
		return domain.OverdueKey(loan.LoanID, days), true
	}

	return "", false
}
