package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const (
	WarehouseStatusBorrowed = "BORROWED"
	WarehouseStatusReturned = "RETURNED"
	WarehouseStatusLost     = "LOST"
)

// Loan represents an asset loan. Most fields are owned by the loan
// workflow and are read-only here; this core owns ReminderStatus and
// ReminderVersion only.
type Loan struct {
	ID                  uuid.UUID      `json:"id" db:"id"`
	LoanID              string         `json:"loan_id" db:"loan_id"`
	BorrowerName        string         `json:"borrower_name" db:"borrower_name"`
	BorrowerEmail       string         `json:"borrower_email" db:"borrower_email"`
	EntitasID           string         `json:"entitas_id" db:"entitas_id"`
	Companies           pq.StringArray `json:"companies" db:"companies"`
	ReturnDate          *time.Time     `json:"return_date" db:"return_date"`
	EffectiveReturnDate *time.Time     `json:"effective_return_date" db:"effective_return_date"`
	WarehouseStatus     string         `json:"warehouse_status" db:"warehouse_status"`
	ReturnedAt          *time.Time     `json:"returned_at" db:"returned_at"`
	ReturnedBy          *string        `json:"returned_by" db:"returned_by"`
	ReminderStatus      ReminderStatus `json:"reminder_status" db:"reminder_status"`
	ReminderVersion     int64          `json:"reminder_version" db:"reminder_version"`
	CreatedAt           time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at" db:"updated_at"`
}

// DueDate returns the effective return date when an extension is
// active, falling back to the original return date.
func (l *Loan) DueDate() *time.Time {
	if l.EffectiveReturnDate != nil {
		return l.EffectiveReturnDate
	}
	return l.ReturnDate
}

// IsReturned reports whether the asset is back in the warehouse.
// Legacy records carry returned_at/returned_by without the status
// transition, so both signals are checked.
func (l *Loan) IsReturned() bool {
	if l.WarehouseStatus == WarehouseStatusReturned {
		return true
	}
	if l.ReturnedAt != nil {
		return true
	}
	return l.ReturnedBy != nil && *l.ReturnedBy != ""
}

// IsEligible reports whether the loan qualifies for reminder
// evaluation: still borrowed and with a resolvable due date.
func (l *Loan) IsEligible() bool {
	return l.WarehouseStatus == WarehouseStatusBorrowed && !l.IsReturned() && l.DueDate() != nil
}
