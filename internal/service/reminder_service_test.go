package service

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/segyhp/reminder-engine/internal/config"
	"github.com/segyhp/reminder-engine/internal/domain"
	"github.com/segyhp/reminder-engine/internal/mailer"
	"github.com/segyhp/reminder-engine/internal/repository"
	customError "github.com/segyhp/reminder-engine/pkg/errors"
	"github.com/segyhp/reminder-engine/tests/mocks"
)

// fakeLoanStore is an in-memory LoanRepository with real
// compare-and-swap semantics, so the claim discipline is exercised
// rather than stubbed.
type fakeLoanStore struct {
	mu    sync.Mutex
	loans map[string]*domain.Loan
}

func newFakeLoanStore(loans ...*domain.Loan) *fakeLoanStore {
	f := &fakeLoanStore{loans: make(map[string]*domain.Loan)}
	for _, l := range loans {
		if l.ReminderStatus == nil {
			l.ReminderStatus = domain.ReminderStatus{}
		}
		f.loans[l.LoanID] = l
	}
	return f
}

func (f *fakeLoanStore) ListEligible(ctx context.Context) ([]*domain.Loan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Loan
	for _, l := range f.loans {
		if l.IsEligible() {
			cp := *l
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LoanID < out[j].LoanID })
	return out, nil
}

func (f *fakeLoanStore) GetByLoanID(ctx context.Context, loanID string) (*domain.Loan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.loans[loanID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *l
	return &cp, nil
}

func (f *fakeLoanStore) CompareAndSwapReminderStatus(ctx context.Context, loanID string, version int64, status domain.ReminderStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.loans[loanID]
	if !ok {
		return sql.ErrNoRows
	}
	if l.ReminderVersion != version {
		return repository.ErrVersionConflict
	}
	l.ReminderStatus = status
	l.ReminderVersion++
	return nil
}

// scriptedMailer records every send and fails addresses on demand.
type scriptedMailer struct {
	mu       sync.Mutex
	sent     []string
	failWith map[string]error
}

func (m *scriptedMailer) Send(ctx context.Context, msg *mailer.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failWith[msg.To]; err != nil {
		return err
	}
	m.sent = append(m.sent, msg.To)
	return nil
}

func (m *scriptedMailer) sentTo() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sent...)
}

var testToday = time.Date(2024, time.March, 15, 9, 0, 0, 0, time.UTC)

func borrowedLoan(loanID string, due time.Time) *domain.Loan {
	return &domain.Loan{
		LoanID:          loanID,
		BorrowerName:    "Budi",
		BorrowerEmail:   "budi@example.com",
		EntitasID:       "ENT1",
		Companies:       []string{"C1"},
		ReturnDate:      &due,
		WarehouseStatus: domain.WarehouseStatusBorrowed,
		ReminderStatus:  domain.ReminderStatus{},
	}
}

func newTestService(store *fakeLoanStore, dirRepo *mocks.MockDirectoryRepository, mail *scriptedMailer, status *mocks.MockStatusStore) *ReminderService {
	return &ReminderService{
		loanRepo: store,
		dirRepo:  dirRepo,
		mailer:   mail,
		status:   status,
		config:   &config.Config{},
		log:      logrus.WithField("component", "test"),
		now:      func() time.Time { return testToday },
	}
}

func defaultDirectory() *mocks.MockDirectoryRepository {
	dirRepo := &mocks.MockDirectoryRepository{}
	dirRepo.On("GetEntitas", mock.Anything, "ENT1").Return(&domain.Entitas{
		Code:   "ENT1",
		Name:   "Finance Division",
		Emails: domain.RoleEmails{domain.RoleHead: "head.ent1@example.com"},
	}, nil)
	dirRepo.On("GetCompanies", mock.Anything, []string{"C1"}).Return([]*domain.Company{
		{
			Code:   "C1",
			Name:   "PT Contoh",
			Emails: domain.RoleEmails{domain.RoleWarehouse: "warehouse.c1@example.com"},
		},
	}, nil)
	return dirRepo
}

func TestRunScan_FullFanOutScenario(t *testing.T) {
	due := testToday.AddDate(0, 0, 7)
	store := newFakeLoanStore(borrowedLoan("L1", due))
	mail := &scriptedMailer{}
	statusStore := &mocks.MockStatusStore{}
	statusStore.On("SaveLastRun", mock.Anything, mock.MatchedBy(func(s *domain.RunSummary) bool {
		return s.LoansChecked == 1 && s.RemindersSent == 1
	})).Return(nil)

	svc := newTestService(store, defaultDirectory(), mail, statusStore)

	summary, err := svc.RunScan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.LoansChecked)
	assert.Equal(t, 1, summary.RemindersSent)

	assert.ElementsMatch(t, []string{
		"budi@example.com",
		"head.ent1@example.com",
		"warehouse.c1@example.com",
	}, mail.sentTo())

	rec := store.loans["L1"].ReminderStatus["L1_reminder_7_days"]
	require.NotNil(t, rec)
	assert.True(t, rec.Sent)
	assert.NotNil(t, rec.SentAt)
	assert.Nil(t, rec.ClaimedAt)
	assert.True(t, rec.Notifications.Borrower.Sent)
	assert.True(t, rec.Notifications.Entitas["ENT1"][domain.RoleHead].Sent)
	assert.True(t, rec.Notifications.Companies["C1"][domain.RoleWarehouse].Sent)

	statusStore.AssertExpectations(t)
}

func TestRunScan_ExcludesReturnedLoans(t *testing.T) {
	due := testToday.AddDate(0, 0, -3) // would be overdue if eligible
	returned := borrowedLoan("L2", due)
	returned.WarehouseStatus = domain.WarehouseStatusReturned

	legacyReturnedAt := testToday.AddDate(0, 0, -1)
	legacy := borrowedLoan("L3", due)
	legacy.ReturnedAt = &legacyReturnedAt

	store := newFakeLoanStore(returned, legacy)
	mail := &scriptedMailer{}
	statusStore := &mocks.MockStatusStore{}
	statusStore.On("SaveLastRun", mock.Anything, mock.Anything).Return(nil)

	svc := newTestService(store, defaultDirectory(), mail, statusStore)

	summary, err := svc.RunScan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.LoansChecked)
	assert.Equal(t, 0, summary.RemindersSent)
	assert.Empty(t, mail.sentTo())
}

func TestRunScan_NoReminderDue(t *testing.T) {
	due := testToday.AddDate(0, 0, 10)
	store := newFakeLoanStore(borrowedLoan("L1", due))
	mail := &scriptedMailer{}
	statusStore := &mocks.MockStatusStore{}
	statusStore.On("SaveLastRun", mock.Anything, mock.Anything).Return(nil)

	svc := newTestService(store, defaultDirectory(), mail, statusStore)

	summary, err := svc.RunScan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.LoansChecked)
	assert.Equal(t, 0, summary.RemindersSent)
	assert.Empty(t, mail.sentTo())
}

func TestTriggerManual_DispatchAndIdempotentRepeat(t *testing.T) {
	due := testToday.AddDate(0, 0, 10) // not naturally due; operator forces it
	store := newFakeLoanStore(borrowedLoan("L1", due))
	mail := &scriptedMailer{}

	svc := newTestService(store, defaultDirectory(), mail, &mocks.MockStatusStore{})

	result, err := svc.TriggerManual(context.Background(), "L1", "3_days")
	require.NoError(t, err)
	assert.False(t, result.AlreadySent)
	assert.Equal(t, "L1_reminder_3_days", result.ReminderKey)
	require.NotNil(t, result.Outcome)
	assert.Equal(t, 3, result.Outcome.Sent)

	firstSends := len(mail.sentTo())

	// Repeat: fully sent key is an explicit non-error no-op.
	result, err = svc.TriggerManual(context.Background(), "L1", "3_days")
	require.NoError(t, err)
	assert.True(t, result.AlreadySent)
	assert.Len(t, mail.sentTo(), firstSends)
}

func TestTriggerManual_PartialFailureRetriesOnlyFailed(t *testing.T) {
	due := testToday.AddDate(0, 0, 3)
	store := newFakeLoanStore(borrowedLoan("L1", due))
	mail := &scriptedMailer{failWith: map[string]error{
		"budi@example.com": assert.AnError,
	}}

	svc := newTestService(store, defaultDirectory(), mail, &mocks.MockStatusStore{})

	result, err := svc.TriggerManual(context.Background(), "L1", "3_days")
	require.NoError(t, err)
	assert.False(t, result.AlreadySent)
	assert.Equal(t, 3, result.Outcome.Attempted)
	assert.Equal(t, 2, result.Outcome.Sent)

	rec := store.loans["L1"].ReminderStatus["L1_reminder_3_days"]
	require.NotNil(t, rec)
	assert.False(t, rec.Sent, "partial fan-out must not flip the record")
	assert.False(t, rec.Notifications.Borrower.Sent)
	assert.Equal(t, "budi@example.com", rec.Notifications.Borrower.Email)
	assert.True(t, rec.Notifications.Entitas["ENT1"][domain.RoleHead].Sent)

	// The transport recovers; only the borrower gets the retry.
	mail.failWith = nil
	result, err = svc.TriggerManual(context.Background(), "L1", "3_days")
	require.NoError(t, err)
	assert.False(t, result.AlreadySent)
	assert.Equal(t, 1, result.Outcome.Attempted)
	assert.Equal(t, 1, result.Outcome.Sent)

	rec = store.loans["L1"].ReminderStatus["L1_reminder_3_days"]
	assert.True(t, rec.Sent)

	sent := mail.sentTo()
	borrowerSends := 0
	for _, to := range sent {
		if to == "budi@example.com" {
			borrowerSends++
		}
	}
	assert.Equal(t, 1, borrowerSends)
}

func TestTriggerManual_InvalidType(t *testing.T) {
	store := newFakeLoanStore()
	svc := newTestService(store, defaultDirectory(), &scriptedMailer{}, &mocks.MockStatusStore{})

	_, err := svc.TriggerManual(context.Background(), "L1", "someday")
	require.Error(t, err)
	assert.Equal(t, customError.ErrCodeInvalidReminderType, customError.CodeOf(err))
}

func TestTriggerManual_LoanNotFound(t *testing.T) {
	store := newFakeLoanStore()
	svc := newTestService(store, defaultDirectory(), &scriptedMailer{}, &mocks.MockStatusStore{})

	_, err := svc.TriggerManual(context.Background(), "MISSING", "3_days")
	require.Error(t, err)
	assert.Equal(t, customError.ErrCodeLoanNotFound, customError.CodeOf(err))
}

func TestSendWithClaim_ActiveClaimBlocksSecondCaller(t *testing.T) {
	due := testToday.AddDate(0, 0, 3)
	loan := borrowedLoan("L1", due)
	rec := domain.NewReminderRecord("L1_reminder_3_days")
	claimedAt := testToday.Add(-time.Minute)
	rec.ClaimedAt = &claimedAt
	loan.ReminderStatus["L1_reminder_3_days"] = rec

	store := newFakeLoanStore(loan)
	mail := &scriptedMailer{}
	svc := newTestService(store, defaultDirectory(), mail, &mocks.MockStatusStore{})

	_, err := svc.TriggerManual(context.Background(), "L1", "3_days")
	require.Error(t, err)
	assert.Equal(t, customError.ErrCodeClaimConflict, customError.CodeOf(err))
	assert.Empty(t, mail.sentTo())
}

func TestSendWithClaim_StaleClaimIsTakenOver(t *testing.T) {
	due := testToday.AddDate(0, 0, 3)
	loan := borrowedLoan("L1", due)
	rec := domain.NewReminderRecord("L1_reminder_3_days")
	claimedAt := testToday.Add(-time.Hour) // well past the claim TTL
	rec.ClaimedAt = &claimedAt
	loan.ReminderStatus["L1_reminder_3_days"] = rec

	store := newFakeLoanStore(loan)
	mail := &scriptedMailer{}
	svc := newTestService(store, defaultDirectory(), mail, &mocks.MockStatusStore{})

	result, err := svc.TriggerManual(context.Background(), "L1", "3_days")
	require.NoError(t, err)
	assert.False(t, result.AlreadySent)
	assert.Equal(t, 3, result.Outcome.Sent)
}

func TestSendWithClaim_VersionConflictReportsInProgress(t *testing.T) {
	due := testToday.AddDate(0, 0, 3)
	store := newFakeLoanStore(borrowedLoan("L1", due))

	// Another caller bumps the version between this caller's read and
	// its claim write.
	racing := &racingLoanStore{fakeLoanStore: store}

	mail := &scriptedMailer{}
	svc := newTestService(store, defaultDirectory(), mail, &mocks.MockStatusStore{})
	svc.loanRepo = racing

	_, err := svc.TriggerManual(context.Background(), "L1", "3_days")
	require.Error(t, err)
	assert.Equal(t, customError.ErrCodeClaimConflict, customError.CodeOf(err))
	assert.Empty(t, mail.sentTo())
}

// racingLoanStore bumps the stored version right after every read,
// simulating a concurrent committer.
type racingLoanStore struct {
	*fakeLoanStore
}

func (r *racingLoanStore) GetByLoanID(ctx context.Context, loanID string) (*domain.Loan, error) {
	loan, err := r.fakeLoanStore.GetByLoanID(ctx, loanID)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.loans[loanID].ReminderVersion++
	r.mu.Unlock()
	return loan, nil
}

func TestFanOut_SkipsInvalidEmailsWithoutBlocking(t *testing.T) {
	due := testToday.AddDate(0, 0, 7)
	loan := borrowedLoan("L1", due)
	loan.BorrowerEmail = "not-an-email"

	store := newFakeLoanStore(loan)
	mail := &scriptedMailer{}
	statusStore := &mocks.MockStatusStore{}
	statusStore.On("SaveLastRun", mock.Anything, mock.Anything).Return(nil)

	svc := newTestService(store, defaultDirectory(), mail, statusStore)

	summary, err := svc.RunScan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.RemindersSent)

	rec := store.loans["L1"].ReminderStatus["L1_reminder_7_days"]
	require.NotNil(t, rec)
	assert.True(t, rec.Sent, "unresolved borrower must not block the record")
	assert.False(t, rec.Notifications.Borrower.Sent)
	assert.Empty(t, rec.Notifications.Borrower.Email)
	assert.NotContains(t, mail.sentTo(), "not-an-email")
}

func TestFanOut_DirectoryOutageDoesNotFlipRecord(t *testing.T) {
	due := testToday.AddDate(0, 0, 3)
	store := newFakeLoanStore(borrowedLoan("L1", due))
	mail := &scriptedMailer{}

	// The directory is down for the first dispatch and back for the
	// second.
	dirRepo := &mocks.MockDirectoryRepository{}
	dirRepo.On("GetEntitas", mock.Anything, "ENT1").Return(nil, assert.AnError).Once()
	dirRepo.On("GetCompanies", mock.Anything, []string{"C1"}).Return(nil, assert.AnError).Once()
	dirRepo.On("GetEntitas", mock.Anything, "ENT1").Return(&domain.Entitas{
		Code:   "ENT1",
		Emails: domain.RoleEmails{domain.RoleHead: "head.ent1@example.com"},
	}, nil)
	dirRepo.On("GetCompanies", mock.Anything, []string{"C1"}).Return([]*domain.Company{
		{Code: "C1", Emails: domain.RoleEmails{domain.RoleWarehouse: "warehouse.c1@example.com"}},
	}, nil)

	svc := newTestService(store, dirRepo, mail, &mocks.MockStatusStore{})

	result, err := svc.TriggerManual(context.Background(), "L1", "3_days")
	require.NoError(t, err)
	assert.False(t, result.AlreadySent)
	assert.Equal(t, 1, result.Outcome.Sent, "only the borrower is reachable during the outage")

	rec := store.loans["L1"].ReminderStatus["L1_reminder_3_days"]
	require.NotNil(t, rec)
	assert.False(t, rec.Sent, "unresolved recipient groups must keep the record open")
	assert.True(t, rec.Notifications.Borrower.Sent)

	// The directory recovers: the next cycle reaches the remaining
	// stakeholders without re-sending to the borrower.
	result, err = svc.TriggerManual(context.Background(), "L1", "3_days")
	require.NoError(t, err)
	assert.False(t, result.AlreadySent)
	assert.Equal(t, 2, result.Outcome.Sent)

	rec = store.loans["L1"].ReminderStatus["L1_reminder_3_days"]
	assert.True(t, rec.Sent)
	assert.ElementsMatch(t, []string{
		"budi@example.com",
		"head.ent1@example.com",
		"warehouse.c1@example.com",
	}, mail.sentTo())
}

// commitConflictStore lets the claim write through, then interleaves a
// foreign commit so the result write hits a version conflict.
type commitConflictStore struct {
	*fakeLoanStore
	casCalls int
}

func (c *commitConflictStore) CompareAndSwapReminderStatus(ctx context.Context, loanID string, version int64, status domain.ReminderStatus) error {
	c.casCalls++
	if c.casCalls == 2 {
		c.mu.Lock()
		c.loans[loanID].ReminderVersion++
		c.mu.Unlock()
	}
	return c.fakeLoanStore.CompareAndSwapReminderStatus(ctx, loanID, version, status)
}

func TestSendWithClaim_CommitConflictMergesResults(t *testing.T) {
	due := testToday.AddDate(0, 0, 3)
	store := newFakeLoanStore(borrowedLoan("L1", due))
	mail := &scriptedMailer{}

	svc := newTestService(store, defaultDirectory(), mail, &mocks.MockStatusStore{})
	svc.loanRepo = &commitConflictStore{fakeLoanStore: store}

	result, err := svc.TriggerManual(context.Background(), "L1", "3_days")
	require.NoError(t, err)
	assert.False(t, result.AlreadySent)
	assert.Equal(t, 3, result.Outcome.Sent)

	rec := store.loans["L1"].ReminderStatus["L1_reminder_3_days"]
	require.NotNil(t, rec)
	assert.True(t, rec.Sent, "merged commit must carry this dispatch's deliveries")
	assert.True(t, rec.Notifications.Borrower.Sent)

	// The deliveries survived the conflicting write: a repeat is a
	// no-op with no extra sends.
	sends := len(mail.sentTo())
	result, err = svc.TriggerManual(context.Background(), "L1", "3_days")
	require.NoError(t, err)
	assert.True(t, result.AlreadySent)
	assert.Len(t, mail.sentTo(), sends)
}

func TestRunScan_DatabaseError(t *testing.T) {
	loanRepo := &mocks.MockLoanRepository{}
	loanRepo.On("ListEligible", mock.Anything).Return(nil, assert.AnError)

	svc := newTestService(newFakeLoanStore(), defaultDirectory(), &scriptedMailer{}, &mocks.MockStatusStore{})
	svc.loanRepo = loanRepo

	_, err := svc.RunScan(context.Background())
	require.Error(t, err)
	assert.Equal(t, customError.ErrCodeDatabaseError, customError.CodeOf(err))
	loanRepo.AssertExpectations(t)
}

func TestTriggerManual_OverdueSubjectLine(t *testing.T) {
	due := testToday.AddDate(0, 0, -4)
	store := newFakeLoanStore(borrowedLoan("L1", due))

	mail := &mocks.MockMailer{}
	mail.On("Send", mock.Anything, mock.MatchedBy(func(msg *mailer.Message) bool {
		return msg.Subject == "[Asset Loan] OVERDUE: L1 is 4 day(s) past due"
	})).Return(nil)

	svc := newTestService(store, defaultDirectory(), &scriptedMailer{}, &mocks.MockStatusStore{})
	svc.mailer = mail

	result, err := svc.TriggerManual(context.Background(), "L1", "after_4_days")
	require.NoError(t, err)
	assert.Equal(t, 3, result.Outcome.Sent)
	mail.AssertExpectations(t)
}

func TestLastRun_PassesThrough(t *testing.T) {
	statusStore := &mocks.MockStatusStore{}
	expected := &domain.RunSummary{RunID: "r1", LoansChecked: 4, RemindersSent: 2, RanAt: testToday}
	statusStore.On("LastRun", mock.Anything).Return(expected, nil)

	svc := newTestService(newFakeLoanStore(), defaultDirectory(), &scriptedMailer{}, statusStore)

	got, err := svc.LastRun(context.Background())
	require.NoError(t, err)
	assert.Equal(t, expected, got)
}
