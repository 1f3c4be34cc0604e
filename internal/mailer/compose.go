package mailer

import (
	"fmt"
	"time"

	"github.com/segyhp/reminder-engine/internal/domain"
)

// Compose builds the subject and body for one reminder. The recipient
// address is filled in by the dispatcher per recipient.
func Compose(loan *domain.Loan, offset int) *Message {
	due := loan.DueDate()
	dueText := "-"
	if due != nil {
		dueText = due.Format("02 Jan 2006")
	}

	var subject, headline string
	switch {
	case offset > 0:
		subject = fmt.Sprintf("[Asset Loan] Return reminder: %s due in %d day(s)", loan.LoanID, offset)
		headline = fmt.Sprintf("The asset loan %s is due for return in %d day(s), on %s.", loan.LoanID, offset, dueText)
	case offset == 0:
		subject = fmt.Sprintf("[Asset Loan] Return reminder: %s due today", loan.LoanID)
		headline = fmt.Sprintf("The asset loan %s is due for return today, %s.", loan.LoanID, dueText)
	default:
		subject = fmt.Sprintf("[Asset Loan] OVERDUE: %s is %d day(s) past due", loan.LoanID, -offset)
		headline = fmt.Sprintf("The asset loan %s was due on %s and is now %d day(s) overdue.", loan.LoanID, dueText, -offset)
	}

	html := fmt.Sprintf(`<html><body>
<p>%s</p>
<table>
<tr><td>Loan</td><td>%s</td></tr>
<tr><td>Borrower</td><td>%s</td></tr>
<tr><td>Return date</td><td>%s</td></tr>
</table>
<p>Generated at %s. Please do not reply to this email.</p>
</body></html>`,
		headline, loan.LoanID, loan.BorrowerName, dueText,
		time.Now().Format(time.RFC1123))

	return &Message{Subject: subject, HTML: html}
}
