package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/segyhp/reminder-engine/internal/config"
	"github.com/segyhp/reminder-engine/internal/domain"
	"github.com/segyhp/reminder-engine/internal/mailer"
	"github.com/segyhp/reminder-engine/internal/repository"
	"github.com/segyhp/reminder-engine/internal/rules"
	customError "github.com/segyhp/reminder-engine/pkg/errors"
	"github.com/segyhp/reminder-engine/pkg/utils"

	"github.com/sirupsen/logrus"
)

// claimTTL bounds how long a dispatch claim blocks other callers. A
// claim older than this is treated as abandoned (crashed worker) and
// can be taken over.
const claimTTL = 5 * time.Minute

type ReminderService struct {
	loanRepo repository.LoanRepository
	dirRepo  repository.DirectoryRepository
	mailer   mailer.Mailer
	status   StatusStore
	config   *config.Config
	log      *logrus.Entry
	now      func() time.Time
}

func NewReminderService(
	loanRepo repository.LoanRepository,
	dirRepo repository.DirectoryRepository,
	m mailer.Mailer,
	status StatusStore,
	config *config.Config,
) *ReminderService {
	return &ReminderService{
		loanRepo: loanRepo,
		dirRepo:  dirRepo,
		mailer:   m,
		status:   status,
		config:   config,
		log:      logrus.WithField("component", "reminder_service"),
		now:      time.Now,
	}
}

// sendResult is the internal outcome of one claim-and-dispatch.
type sendResult struct {
	alreadySent bool
	completed   bool
	outcome     *domain.DispatchOutcome
}

// RunScan is the automatic full-scan entry point: every eligible loan
// is evaluated against today's date and each due reminder is
// dispatched. The resulting summary is persisted for the status
// endpoint and returned to the caller.
func (s *ReminderService) RunScan(ctx context.Context) (*domain.RunSummary, error) {
	loans, err := s.loanRepo.ListEligible(ctx)
	if err != nil {
		return nil, customError.WrapDatabaseError(err)
	}

	summary := &domain.RunSummary{
		RunID: uuid.NewString(),
		RanAt: s.now(),
	}

	// Offsets are calendar math: "today" must be taken in the one
	// configured timezone, not whatever zone the host clock carries.
	today := s.now().In(s.config.Scheduler.GetTimezone())

	for _, loan := range loans {
		if !loan.IsEligible() {
			continue
		}
		summary.LoansChecked++

		key, due := rules.Evaluate(loan, today)
		if !due {
			continue
		}

		result, err := s.sendWithClaim(ctx, loan.LoanID, key)
		if err != nil {
			// One loan's failure never aborts the scan.
			s.log.WithError(err).WithFields(logrus.Fields{
				"loan_id":      loan.LoanID,
				"reminder_key": key,
			}).Warn("reminder dispatch failed")
			continue
		}
		if result.completed {
			summary.RemindersSent++
		}
	}

	if err := s.status.SaveLastRun(ctx, summary); err != nil {
		s.log.WithError(err).Warn("failed to persist run summary")
	}

	s.log.WithFields(logrus.Fields{
		"run_id":         summary.RunID,
		"loans_checked":  summary.LoansChecked,
		"reminders_sent": summary.RemindersSent,
	}).Info("reminder scan completed")

	return summary, nil
}

// TriggerManual dispatches one reminder chosen by an operator. An
// already fully-sent key is reported as AlreadySent without touching
// the transport; an unparseable type is rejected before any ledger
// access.
func (s *ReminderService) TriggerManual(ctx context.Context, loanID, reminderType string) (*domain.ManualResult, error) {
	offset, err := domain.ParseReminderType(reminderType)
	if err != nil {
		return nil, customError.WrapInvalidReminderType(reminderType, err)
	}

	key := domain.KeyForOffset(loanID, offset)

	result, err := s.sendWithClaim(ctx, loanID, key)
	if err != nil {
		return nil, err
	}

	return &domain.ManualResult{
		LoanID:      loanID,
		ReminderKey: key,
		AlreadySent: result.alreadySent,
		Outcome:     result.outcome,
	}, nil
}

// LastRun returns the most recent automatic run summary, or nil when
// no run has completed yet.
func (s *ReminderService) LastRun(ctx context.Context) (*domain.RunSummary, error) {
	return s.status.LastRun(ctx)
}

// sendWithClaim is the ledger discipline shared by both trigger paths:
// read the loan fresh, short-circuit on an already-sent key, claim the
// record through the reminder_version CAS so the daemon and a manual
// trigger can never both dispatch, fan out, then commit the results.
func (s *ReminderService) sendWithClaim(ctx context.Context, loanID, key string) (*sendResult, error) {
	loan, err := s.loanRepo.GetByLoanID(ctx, loanID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, customError.WrapLoanNotFound(loanID)
		}
		return nil, customError.WrapDatabaseError(err)
	}

	existing := loan.ReminderStatus[key]
	if existing != nil && existing.Sent {
		return &sendResult{alreadySent: true}, nil
	}
	if existing != nil && existing.ClaimedAt != nil && s.now().Sub(*existing.ClaimedAt) < claimTTL {
		return nil, customError.WrapClaimConflict(loanID, key)
	}

	var record *domain.ReminderRecord
	if existing != nil {
		record = existing.Clone()
	} else {
		record = domain.NewReminderRecord(key)
	}
	claimedAt := s.now()
	record.ClaimedAt = &claimedAt

	status := make(domain.ReminderStatus, len(loan.ReminderStatus)+1)
	for k, v := range loan.ReminderStatus {
		status[k] = v
	}
	status[key] = record

	if err := s.loanRepo.CompareAndSwapReminderStatus(ctx, loanID, loan.ReminderVersion, status); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			// The other trigger path won the claim; its result will be
			// visible to the next IsSent check.
			return nil, customError.WrapClaimConflict(loanID, key)
		}
		return nil, customError.WrapDatabaseError(err)
	}
	claimVersion := loan.ReminderVersion + 1

	outcome, resolved := s.fanOut(ctx, loan, key, record)

	completed := false
	if resolved && record.AllResolvedSent() {
		record.MarkSent(s.now())
		completed = true
	} else {
		record.ClaimedAt = nil
	}

	if err := s.loanRepo.CompareAndSwapReminderStatus(ctx, loanID, claimVersion, status); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			return s.recommit(ctx, loanID, key, record, resolved, &outcome)
		}
		return nil, customError.WrapDatabaseError(err)
	}

	return &sendResult{completed: completed, outcome: &outcome}, nil
}

// recommit reconciles a dispatch whose result write lost the version
// race. Reachable only when a run outlives the claim TTL and its claim
// is taken over mid-flight. The sent markers from this dispatch are
// merged into the latest record so recipients already emailed here are
// never re-sent, then the commit is retried once at the new version.
func (s *ReminderService) recommit(ctx context.Context, loanID, key string, record *domain.ReminderRecord, resolved bool, outcome *domain.DispatchOutcome) (*sendResult, error) {
	loan, err := s.loanRepo.GetByLoanID(ctx, loanID)
	if err != nil {
		return nil, customError.WrapDatabaseError(err)
	}

	merged := record
	if latest := loan.ReminderStatus[key]; latest != nil {
		merged = latest.Clone()
		merged.MergeSentFrom(record)
	}

	completed := merged.Sent
	if !completed {
		if resolved && merged.AllResolvedSent() {
			merged.MarkSent(s.now())
			completed = true
		} else {
			merged.ClaimedAt = nil
		}
	}

	status := make(domain.ReminderStatus, len(loan.ReminderStatus)+1)
	for k, v := range loan.ReminderStatus {
		status[k] = v
	}
	status[key] = merged

	if err := s.loanRepo.CompareAndSwapReminderStatus(ctx, loanID, loan.ReminderVersion, status); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			return nil, customError.WrapClaimConflict(loanID, key)
		}
		return nil, customError.WrapDatabaseError(err)
	}

	return &sendResult{completed: completed, outcome: outcome}, nil
}

// fanOut attempts every recipient of the reminder: the borrower, the
// borrower's entitas roles, and each company's roles. Recipients
// already marked sent are never re-sent; one recipient's transport
// failure never aborts the batch. The second return value reports
// whether every recipient group could be resolved: a directory outage
// leaves the affected roles without slots, and the record must not
// flip to sent until a cycle sees the full recipient set.
func (s *ReminderService) fanOut(ctx context.Context, loan *domain.Loan, key string, record *domain.ReminderRecord) (domain.DispatchOutcome, bool) {
	var outcome domain.DispatchOutcome
	resolved := true

	offset, err := domain.OffsetFromKey(loan.LoanID, key)
	if err != nil {
		// Callers only pass canonical keys; treat a bad one as offset 0
		// rather than dropping the dispatch.
		s.log.WithError(err).WithField("reminder_key", key).Warn("unparseable reminder key")
	}
	template := mailer.Compose(loan, offset)

	s.sendTo(ctx, record.BorrowerStatus(), loan.BorrowerEmail, template, &outcome)

	if loan.EntitasID != "" {
		entitas, err := s.dirRepo.GetEntitas(ctx, loan.EntitasID)
		if err != nil {
			// A missing directory entry is just unresolvable recipients;
			// an outage means the roles could not be attempted at all.
			if !errors.Is(err, sql.ErrNoRows) {
				resolved = false
				s.log.WithError(err).WithField("entitas_id", loan.EntitasID).Warn("entitas lookup failed")
			}
		} else {
			for _, role := range domain.EntitasRoles {
				email := entitas.Emails[role]
				if email == "" {
					continue
				}
				s.sendTo(ctx, record.EntitasStatus(entitas.Code, role), email, template, &outcome)
			}
		}
	}

	if len(loan.Companies) > 0 {
		companies, err := s.dirRepo.GetCompanies(ctx, loan.Companies)
		if err != nil {
			resolved = false
			s.log.WithError(err).Warn("company lookup failed")
		}
		for _, company := range companies {
			for _, role := range domain.CompanyRoles {
				email := company.Emails[role]
				if email == "" {
					continue
				}
				s.sendTo(ctx, record.CompanyStatus(company.Code, role), email, template, &outcome)
			}
		}
	}

	return outcome, resolved
}

// sendTo delivers to a single recipient slot. Missing or invalid
// addresses are skipped (counted, not errors) and left unsent so a
// directory fix gets picked up by a later cycle.
func (s *ReminderService) sendTo(ctx context.Context, slot *domain.RecipientStatus, email string, template *mailer.Message, outcome *domain.DispatchOutcome) {
	if slot.Sent {
		return
	}

	if !utils.IsValidEmail(email) {
		outcome.Skipped++
		return
	}

	outcome.Attempted++

	msg := &mailer.Message{
		To:      email,
		Subject: template.Subject,
		HTML:    template.HTML,
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		// Resolved but failed: keep the address on the slot so the
		// record cannot flip to sent until this recipient succeeds.
		slot.Email = email
		s.log.WithError(err).WithField("to", email).Warn("email send failed")
		return
	}

	sentAt := s.now()
	slot.Sent = true
	slot.SentAt = &sentAt
	slot.Email = email
	outcome.Sent++
}
