package utils

import (
	"math"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// StartOfDay truncates a time to midnight in its own location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// DaysUntil computes the signed day offset from today to the due date.
// The due date is converted into today's location before truncation so
// both fall on the same calendar; a UTC-stored due date truncated in
// its own zone against a local today would be off by one. The result
// is positive before the due date, zero on it, negative once overdue.
func DaysUntil(due, today time.Time) int {
	d0 := StartOfDay(due.In(today.Location()))
	t0 := StartOfDay(today)
	// Ceil keeps DST-shortened days from rounding down to the wrong offset.
	return int(math.Ceil(d0.Sub(t0).Hours() / 24))
}

// ClampOverdueDays folds an overdue count into the 1..max ladder.
func ClampOverdueDays(days, max int) int {
	if days < 1 {
		return 1
	}
	if days > max {
		return max
	}
	return days
}

// IsValidEmail reports whether the address is syntactically valid.
func IsValidEmail(email string) bool {
	if email == "" {
		return false
	}
	return validate.Var(email, "email") == nil
}
