package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Reminder offsets are expressed as signed day counts relative to the
// due date: positive = days before due, negative = days overdue.
const (
	MaxOverdueDays = 30

	RecordSchemaVersion = 2
)

// BeforeDueOffsets are the only pre-due offsets that fire.
var BeforeDueOffsets = []int{7, 3, 1, 0}

var (
	afterTypeRe = regexp.MustCompile(`^after_([0-9]+)_days$`)
	keyTailRe   = regexp.MustCompile(`^(reminder|after)_([0-9]+)_days?$`)
)

// BeforeDueKey builds the canonical key for a pre-due reminder,
// e.g. "LOAN123_reminder_3_days".
func BeforeDueKey(loanID string, offset int) string {
	return fmt.Sprintf("%s_reminder_%d_days", loanID, offset)
}

// OverdueKey builds the canonical key for an overdue reminder,
// e.g. "LOAN123_after_5_days".
func OverdueKey(loanID string, days int) string {
	return fmt.Sprintf("%s_after_%d_days", loanID, days)
}

// KeyForOffset maps a signed offset to its canonical key. Overdue
// offsets are clamped to the 1..MaxOverdueDays ladder.
func KeyForOffset(loanID string, offset int) string {
	if offset >= 0 {
		return BeforeDueKey(loanID, offset)
	}
	days := -offset
	if days > MaxOverdueDays {
		days = MaxOverdueDays
	}
	return OverdueKey(loanID, days)
}

// ParseReminderType converts an operator-supplied reminder type into a
// signed offset. Accepted forms: "7_days", "3_days", "1_day" (or
// "1_days"), "0_days", and "after_N_days" with 1 <= N <= MaxOverdueDays.
func ParseReminderType(s string) (int, error) {
	switch s {
	case "7_days":
		return 7, nil
	case "3_days":
		return 3, nil
	case "1_day", "1_days":
		return 1, nil
	case "0_days":
		return 0, nil
	}
	if m := afterTypeRe.FindStringSubmatch(s); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 || n > MaxOverdueDays {
			return 0, fmt.Errorf("overdue days out of range in reminder type %q", s)
		}
		return -n, nil
	}
	return 0, fmt.Errorf("unrecognized reminder type %q", s)
}

// OffsetFromKey recovers the signed offset from a canonical key for
// the given loan. Used when the dispatcher only holds the key.
func OffsetFromKey(loanID, key string) (int, error) {
	prefix := loanID + "_"
	if len(key) <= len(prefix) || key[:len(prefix)] != prefix {
		return 0, fmt.Errorf("reminder key %q does not belong to loan %s", key, loanID)
	}
	m := keyTailRe.FindStringSubmatch(key[len(prefix):])
	if m == nil {
		return 0, fmt.Errorf("malformed reminder key %q", key)
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return 0, fmt.Errorf("malformed reminder key %q", key)
	}
	if m[1] == "after" {
		return -n, nil
	}
	return n, nil
}

// RecipientStatus tracks one recipient's delivery outcome for one
// reminder key. Sent is only ever set together with a non-empty Email.
type RecipientStatus struct {
	Sent   bool       `json:"sent"`
	SentAt *time.Time `json:"sentAt,omitempty"`
	Email  string     `json:"email"`
}

// NotificationStatus groups recipient outcomes by origin: the borrower,
// the borrower's entitas roles, and each company's roles.
type NotificationStatus struct {
	Borrower  *RecipientStatus                       `json:"borrower,omitempty"`
	Entitas   map[string]map[string]*RecipientStatus `json:"entitas,omitempty"`
	Companies map[string]map[string]*RecipientStatus `json:"companies,omitempty"`
}

// ReminderRecord is the per-key ledger entry persisted inside the
// loan's reminder_status JSONB column.
type ReminderRecord struct {
	SchemaVersion int                `json:"schemaVersion"`
	Sent          bool               `json:"sent"`
	SentAt        *time.Time         `json:"sentAt,omitempty"`
	Type          string             `json:"type"`
	ClaimedAt     *time.Time         `json:"claimedAt,omitempty"`
	Notifications NotificationStatus `json:"notifications"`
}

// NewReminderRecord creates an empty ledger entry for a key.
func NewReminderRecord(key string) *ReminderRecord {
	return &ReminderRecord{
		SchemaVersion: RecordSchemaVersion,
		Type:          key,
	}
}

// MarkSent flips the record to sent. The flag is monotonic: once set
// it is never cleared, and the original SentAt is preserved.
func (r *ReminderRecord) MarkSent(now time.Time) {
	if r.Sent {
		return
	}
	r.Sent = true
	r.SentAt = &now
	r.ClaimedAt = nil
}

// EntitasStatus returns the recipient slot for an entitas role,
// creating intermediate maps as needed.
func (r *ReminderRecord) EntitasStatus(code, role string) *RecipientStatus {
	if r.Notifications.Entitas == nil {
		r.Notifications.Entitas = make(map[string]map[string]*RecipientStatus)
	}
	if r.Notifications.Entitas[code] == nil {
		r.Notifications.Entitas[code] = make(map[string]*RecipientStatus)
	}
	if r.Notifications.Entitas[code][role] == nil {
		r.Notifications.Entitas[code][role] = &RecipientStatus{}
	}
	return r.Notifications.Entitas[code][role]
}

// CompanyStatus returns the recipient slot for a company role,
// creating intermediate maps as needed.
func (r *ReminderRecord) CompanyStatus(code, role string) *RecipientStatus {
	if r.Notifications.Companies == nil {
		r.Notifications.Companies = make(map[string]map[string]*RecipientStatus)
	}
	if r.Notifications.Companies[code] == nil {
		r.Notifications.Companies[code] = make(map[string]*RecipientStatus)
	}
	if r.Notifications.Companies[code][role] == nil {
		r.Notifications.Companies[code][role] = &RecipientStatus{}
	}
	return r.Notifications.Companies[code][role]
}

// BorrowerStatus returns the borrower's recipient slot, creating it if
// absent.
func (r *ReminderRecord) BorrowerStatus() *RecipientStatus {
	if r.Notifications.Borrower == nil {
		r.Notifications.Borrower = &RecipientStatus{}
	}
	return r.Notifications.Borrower
}

// eachRecipient visits every recipient slot currently on the record.
func (r *ReminderRecord) eachRecipient(fn func(*RecipientStatus)) {
	if r.Notifications.Borrower != nil {
		fn(r.Notifications.Borrower)
	}
	for _, roles := range r.Notifications.Entitas {
		for _, rs := range roles {
			fn(rs)
		}
	}
	for _, roles := range r.Notifications.Companies {
		for _, rs := range roles {
			fn(rs)
		}
	}
}

// AllResolvedSent reports whether every recipient that resolved to a
// non-empty email has been sent, and at least one send happened.
// Unresolved recipients (empty email) do not block the flip; they stay
// unsent until the directory data is corrected.
func (r *ReminderRecord) AllResolvedSent() bool {
	sent := 0
	pending := 0
	r.eachRecipient(func(rs *RecipientStatus) {
		if rs.Email == "" {
			return
		}
		if rs.Sent {
			sent++
		} else {
			pending++
		}
	})
	return pending == 0 && sent > 0
}

// MergeSentFrom copies every sent recipient marker from other into r.
// Used to reconcile two dispatch results for the same key without
// losing either side's deliveries.
func (r *ReminderRecord) MergeSentFrom(other *ReminderRecord) {
	if b := other.Notifications.Borrower; b != nil && b.Sent {
		mergeSlot(r.BorrowerStatus(), b)
	}
	for code, roles := range other.Notifications.Entitas {
		for role, rs := range roles {
			if rs.Sent {
				mergeSlot(r.EntitasStatus(code, role), rs)
			}
		}
	}
	for code, roles := range other.Notifications.Companies {
		for role, rs := range roles {
			if rs.Sent {
				mergeSlot(r.CompanyStatus(code, role), rs)
			}
		}
	}
}

func mergeSlot(dst, src *RecipientStatus) {
	if dst.Sent {
		return
	}
	dst.Sent = true
	dst.SentAt = src.SentAt
	dst.Email = src.Email
}

// Clone returns a deep copy so a dispatch can mutate its working
// record without aliasing the loaded loan.
func (r *ReminderRecord) Clone() *ReminderRecord {
	cp := *r
	cp.Notifications = NotificationStatus{}
	if r.Notifications.Borrower != nil {
		b := *r.Notifications.Borrower
		cp.Notifications.Borrower = &b
	}
	cp.Notifications.Entitas = cloneGroup(r.Notifications.Entitas)
	cp.Notifications.Companies = cloneGroup(r.Notifications.Companies)
	return &cp
}

func cloneGroup(src map[string]map[string]*RecipientStatus) map[string]map[string]*RecipientStatus {
	if src == nil {
		return nil
	}
	dst := make(map[string]map[string]*RecipientStatus, len(src))
	for code, roles := range src {
		dst[code] = make(map[string]*RecipientStatus, len(roles))
		for role, rs := range roles {
			c := *rs
			dst[code][role] = &c
		}
	}
	return dst
}

// ReminderStatus is the full per-loan ledger, keyed by reminder key.
// It serializes to/from the reminder_status JSONB column.
type ReminderStatus map[string]*ReminderRecord

// Value implements driver.Valuer for JSONB persistence.
func (s ReminderStatus) Value() (driver.Value, error) {
	if s == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(s)
}

// Scan implements sql.Scanner. Records written by earlier releases
// (schemaVersion 0) are migrated in place so the rest of the code only
// ever sees the current shape.
func (s *ReminderStatus) Scan(src interface{}) error {
	if src == nil {
		*s = ReminderStatus{}
		return nil
	}
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported reminder_status source type %T", src)
	}
	if len(raw) == 0 {
		*s = ReminderStatus{}
		return nil
	}
	decoded := ReminderStatus{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("decode reminder_status: %w", err)
	}
	for key, rec := range decoded {
		migrateRecord(key, rec)
	}
	*s = decoded
	return nil
}

// migrateRecord normalizes a legacy record once at load time. Version 0
// records predate the schemaVersion tag and may lack the type field.
func migrateRecord(key string, rec *ReminderRecord) {
	if rec == nil {
		return
	}
	if rec.SchemaVersion >= RecordSchemaVersion {
		return
	}
	if rec.Type == "" {
		rec.Type = key
	}
	// A legacy record marked sent without a timestamp keeps its flag
	// (monotonicity) but gains no fabricated SentAt.
	rec.SchemaVersion = RecordSchemaVersion
}
